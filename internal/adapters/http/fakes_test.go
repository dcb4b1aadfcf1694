package httpadapter

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/kirillkom/papertrellis/internal/config"
	"github.com/kirillkom/papertrellis/internal/core/domain"
)

type uploaderFake struct {
	err      error
	filename string
	body     []byte
}

func (f *uploaderFake) Upload(_ context.Context, filename string, body io.Reader) (*domain.Document, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	f.filename = filename
	f.body = raw
	if f.err != nil {
		return nil, f.err
	}
	now := time.Now().UTC()
	return &domain.Document{
		ID:               "doc-1",
		Source:           domain.SourceUpload,
		OriginalFilename: filename,
		Status:           domain.StatusRouted,
		Stage:            domain.StageMoved,
		DestinationPath:  "/library/Invoices/" + filename,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

type documentsFake struct {
	docs      []domain.Document
	err       error
	lastLimit int
}

func (f *documentsFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.docs {
		if f.docs[i].ID == id {
			return &f.docs[i], nil
		}
	}
	return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", errors.New(id))
}

func (f *documentsFake) ListRecent(_ context.Context, limit int) ([]domain.Document, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.docs, nil
}

type templatesFake struct {
	items   map[string]domain.Template
	err     error
	created *domain.Template
	deleted string
	tested  struct{ id, text, filename string }
}

func (f *templatesFake) List(context.Context) ([]domain.Template, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.Template, 0, len(f.items))
	for _, tpl := range f.items {
		out = append(out, tpl)
	}
	return out, nil
}

func (f *templatesFake) Get(_ context.Context, id string) (*domain.Template, error) {
	tpl, ok := f.items[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrTemplateNotFound, "get template", errors.New(id))
	}
	return &tpl, nil
}

func (f *templatesFake) Create(_ context.Context, tpl domain.Template) (*domain.Template, error) {
	if f.err != nil {
		return nil, f.err
	}
	tpl.ID = "tpl-new"
	f.created = &tpl
	return &tpl, nil
}

func (f *templatesFake) Update(_ context.Context, id string, tpl domain.Template) (*domain.Template, error) {
	if _, ok := f.items[id]; !ok {
		return nil, domain.WrapError(domain.ErrTemplateNotFound, "update template", errors.New(id))
	}
	tpl.ID = id
	f.items[id] = tpl
	return &tpl, nil
}

func (f *templatesFake) Delete(_ context.Context, id string) error {
	if _, ok := f.items[id]; !ok {
		return domain.WrapError(domain.ErrTemplateNotFound, "delete template", errors.New(id))
	}
	f.deleted = id
	delete(f.items, id)
	return nil
}

func (f *templatesFake) Test(ctx context.Context, id, text, filename string) (*domain.TemplateTestResult, error) {
	if _, err := f.Get(ctx, id); err != nil {
		return nil, err
	}
	f.tested.id, f.tested.text, f.tested.filename = id, text, filename
	return &domain.TemplateTestResult{
		TemplateID:  id,
		Matched:     true,
		Patterns:    []domain.PatternHit{{Pattern: "(?i)invoice", Matched: true}},
		Fields:      map[string]string{"company": "Acme"},
		Destination: "Invoices/Acme/" + filename,
	}, nil
}

type libraryFake struct {
	folders   []domain.LibraryFolder
	files     []domain.StoredFile
	lastDepth int
	lastArea  domain.FileArea
	lastLimit int
}

func (f *libraryFake) ListFiles(_ context.Context, area domain.FileArea, maxDepth, limit int) ([]domain.StoredFile, bool, error) {
	f.lastArea, f.lastDepth, f.lastLimit = area, maxDepth, limit
	if area != domain.AreaLibrary && area != domain.AreaFailed {
		return nil, false, domain.WrapError(domain.ErrInvalidInput, "list files", errors.New("unknown area"))
	}
	return f.files, len(f.files) >= limit, nil
}

func (f *libraryFake) ListFolders(_ context.Context, maxDepth int) ([]domain.LibraryFolder, error) {
	f.lastDepth = maxDepth
	return f.folders, nil
}

type exporterFake struct {
	exported int
}

func (f *exporterFake) ExportDocuments(_ context.Context, docs []domain.Document, w io.Writer) error {
	f.exported = len(docs)
	_, err := w.Write([]byte("PK-fake-workbook"))
	return err
}

type healthFake struct {
	err error
}

func (f healthFake) Ping(context.Context) error { return f.err }

type testDeps struct {
	uploader  *uploaderFake
	documents *documentsFake
	templates *templatesFake
	library   *libraryFake
	exporter  *exporterFake
}

func newTestDeps() testDeps {
	return testDeps{
		uploader: &uploaderFake{},
		documents: &documentsFake{docs: []domain.Document{
			{ID: "doc-1", Status: domain.StatusRouted, OriginalFilename: "a.pdf"},
			{ID: "doc-2", Status: domain.StatusFailed, FailureKind: domain.FailureNoTemplateMatch},
		}},
		templates: &templatesFake{items: map[string]domain.Template{
			"tpl-1": {ID: "tpl-1", Name: "Invoice", Enabled: true, MatchMode: domain.MatchAny},
		}},
		library: &libraryFake{
			folders: []domain.LibraryFolder{{Path: "Invoices", Depth: 1}},
			files:   []domain.StoredFile{{Path: "Invoices/Acme_4521.pdf", Size: 1024}},
		},
		exporter: &exporterFake{},
	}
}

func newTestHandlerWith(cfg config.Config, deps testDeps, health HealthChecker) http.Handler {
	return NewRouter(cfg, Dependencies{
		Uploader:  deps.uploader,
		Documents: deps.documents,
		Templates: deps.templates,
		Library:   deps.library,
		Exporter:  deps.exporter,
		Health:    health,
	}).Handler()
}

func newTestHandler(cfg config.Config) http.Handler {
	return newTestHandlerWith(cfg, newTestDeps(), healthFake{})
}

package usecase

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/kirillkom/papertrellis/internal/core/domain"
)

type templateStoreFake struct {
	mu        sync.Mutex
	templates []domain.Template
	listErr   error
	createErr error
}

func (f *templateStoreFake) ListEnabled(ctx context.Context) ([]domain.Template, error) {
	all, err := f.List(ctx)
	if err != nil {
		return nil, err
	}
	enabled := make([]domain.Template, 0, len(all))
	for _, tpl := range all {
		if tpl.Enabled {
			enabled = append(enabled, tpl)
		}
	}
	return OrderTemplates(enabled), nil
}

func (f *templateStoreFake) List(context.Context) ([]domain.Template, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]domain.Template, len(f.templates))
	copy(out, f.templates)
	return out, nil
}

func (f *templateStoreFake) GetByID(_ context.Context, id string) (*domain.Template, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tpl := range f.templates {
		if tpl.ID == id {
			found := tpl
			return &found, nil
		}
	}
	return nil, domain.ErrTemplateNotFound
}

func (f *templateStoreFake) Create(_ context.Context, tpl *domain.Template) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.templates = append(f.templates, *tpl)
	return nil
}

func (f *templateStoreFake) Update(_ context.Context, tpl *domain.Template) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.templates {
		if f.templates[i].ID == tpl.ID {
			f.templates[i] = *tpl
			return nil
		}
	}
	return domain.ErrTemplateNotFound
}

func (f *templateStoreFake) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.templates {
		if f.templates[i].ID == id {
			f.templates = append(f.templates[:i], f.templates[i+1:]...)
			return nil
		}
	}
	return domain.ErrTemplateNotFound
}

type recordStoreFake struct {
	mu        sync.Mutex
	pending   []domain.Document
	outcomes  []domain.Document
	createErr error
	saveErr   error
}

func (f *recordStoreFake) CreatePending(_ context.Context, doc *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.pending = append(f.pending, *doc)
	return nil
}

func (f *recordStoreFake) SaveOutcome(_ context.Context, doc *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.outcomes = append(f.outcomes, *doc)
	return nil
}

func (f *recordStoreFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, doc := range f.outcomes {
		if doc.ID == id {
			found := doc
			return &found, nil
		}
	}
	return nil, domain.ErrDocumentNotFound
}

func (f *recordStoreFake) ListRecent(context.Context, int) ([]domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Document(nil), f.outcomes...), nil
}

func (f *recordStoreFake) Ping(context.Context) error { return nil }

type extractorFake struct {
	byName map[string]domain.Extraction
	result domain.Extraction
	err    error
	block  bool
}

func (f *extractorFake) Extract(ctx context.Context, path string) (domain.Extraction, error) {
	if f.block {
		<-ctx.Done()
		return domain.Extraction{}, domain.WrapError(domain.ErrExtraction, "ocr", ctx.Err())
	}
	if f.err != nil {
		return domain.Extraction{}, f.err
	}
	if ex, ok := f.byName[filepath.Base(path)]; ok {
		return ex, nil
	}
	return f.result, nil
}

type publisherFake struct {
	mu   sync.Mutex
	docs []domain.Document
}

func (f *publisherFake) PublishOutcome(_ context.Context, doc *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, *doc)
	return nil
}

package ports

import (
	"context"
	"io"

	"github.com/kirillkom/papertrellis/internal/core/domain"
)

// TemplateStore persists routing templates.
type TemplateStore interface {
	// ListEnabled returns enabled templates ordered by priority, then creation.
	ListEnabled(ctx context.Context) ([]domain.Template, error)
	List(ctx context.Context) ([]domain.Template, error)
	GetByID(ctx context.Context, id string) (*domain.Template, error)
	Create(ctx context.Context, tpl *domain.Template) error
	Update(ctx context.Context, tpl *domain.Template) error
	Delete(ctx context.Context, id string) error
}

// DocumentRecordStore persists routing decisions.
type DocumentRecordStore interface {
	CreatePending(ctx context.Context, doc *domain.Document) error
	SaveOutcome(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	ListRecent(ctx context.Context, limit int) ([]domain.Document, error)
	Ping(ctx context.Context) error
}

// TextExtractor turns a PDF or image file into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, path string) (domain.Extraction, error)
}

// FilePlacer moves src to root/relDir/filename without overwriting anything
// and returns the absolute path it ended up at.
type FilePlacer interface {
	Place(ctx context.Context, src, root, relDir, filename string) (string, error)
}

// UploadStorage stages uploaded bodies on disk before routing.
type UploadStorage interface {
	Save(ctx context.Context, filename string, body io.Reader) (string, error)
}

// LibraryLister browses the library and failed trees, read-only.
type LibraryLister interface {
	ListFolders(ctx context.Context, maxDepth int) ([]domain.LibraryFolder, error)
	ListFiles(ctx context.Context, area domain.FileArea, maxDepth, limit int) ([]domain.StoredFile, bool, error)
}

// OutcomePublisher announces terminal routing decisions.
type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, doc *domain.Document) error
}

// DocumentExporter renders routing history into a downloadable report.
type DocumentExporter interface {
	ExportDocuments(ctx context.Context, docs []domain.Document, w io.Writer) error
}

package ports

import (
	"context"
	"io"

	"github.com/kirillkom/papertrellis/internal/core/domain"
)

// RouteRequest names one file to be routed. IngestRoot is the directory the
// file was discovered under; it is empty for uploads.
type RouteRequest struct {
	Path             string
	Source           domain.DocumentSource
	IngestRoot       string
	OriginalFilename string
}

// DocumentRouter runs one routing decision. Scanner, watcher and the upload
// handler all go through it.
type DocumentRouter interface {
	Route(ctx context.Context, req RouteRequest) (*domain.Document, error)
}

// DocumentUploader is the inbound contract for HTTP uploads.
type DocumentUploader interface {
	Upload(ctx context.Context, filename string, body io.Reader) (*domain.Document, error)
}

// DocumentReader is the inbound read model for routing history.
type DocumentReader interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	ListRecent(ctx context.Context, limit int) ([]domain.Document, error)
}

// TemplateService manages routing templates.
type TemplateService interface {
	List(ctx context.Context) ([]domain.Template, error)
	Get(ctx context.Context, id string) (*domain.Template, error)
	Create(ctx context.Context, tpl domain.Template) (*domain.Template, error)
	Update(ctx context.Context, id string, tpl domain.Template) (*domain.Template, error)
	Delete(ctx context.Context, id string) error
	Test(ctx context.Context, id, text, filename string) (*domain.TemplateTestResult, error)
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/kirillkom/papertrellis/internal/core/domain"
	"github.com/kirillkom/papertrellis/internal/core/ports"
)

// UploadDocumentUseCase stages an uploaded body and routes it synchronously.
type UploadDocumentUseCase struct {
	storage ports.UploadStorage
	router  ports.DocumentRouter
	logger  *slog.Logger
}

func NewUploadDocumentUseCase(storage ports.UploadStorage, router ports.DocumentRouter, logger *slog.Logger) *UploadDocumentUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &UploadDocumentUseCase{
		storage: storage,
		router:  router,
		logger:  logger,
	}
}

func (uc *UploadDocumentUseCase) Upload(ctx context.Context, filename string, body io.Reader) (*domain.Document, error) {
	original := filepath.Base(strings.ReplaceAll(strings.TrimSpace(filename), `\`, "/"))
	if original == "" || original == "." || original == "/" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload document", errors.New("filename is required"))
	}

	stagingKey := fmt.Sprintf("%s_%s", uuid.NewString(), sanitizeFilename(original))
	staged, err := uc.storage.Save(ctx, stagingKey, body)
	if err != nil {
		return nil, fmt.Errorf("stage upload: %w", err)
	}

	doc, err := uc.router.Route(ctx, ports.RouteRequest{
		Path:             staged,
		Source:           domain.SourceUpload,
		OriginalFilename: original,
	})
	if err != nil {
		if rmErr := os.Remove(staged); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			uc.logger.Warn("remove staged upload failed", "path", staged, "error", rmErr)
		}
		return nil, fmt.Errorf("route upload: %w", err)
	}
	return doc, nil
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" {
		return "document.bin"
	}
	return base
}

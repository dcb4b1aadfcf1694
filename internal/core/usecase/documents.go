package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/papertrellis/internal/core/domain"
	"github.com/kirillkom/papertrellis/internal/core/ports"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 1000
)

// DocumentQueryUseCase serves the routing history read model.
type DocumentQueryUseCase struct {
	records ports.DocumentRecordStore
}

func NewDocumentQueryUseCase(records ports.DocumentRecordStore) *DocumentQueryUseCase {
	return &DocumentQueryUseCase{records: records}
}

func (uc *DocumentQueryUseCase) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get document", errors.New("id is required"))
	}
	doc, err := uc.records.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// ListRecent returns the newest records first. limit is clamped to
// [1, MaxHistoryLimit]; zero or negative selects DefaultHistoryLimit.
func (uc *DocumentQueryUseCase) ListRecent(ctx context.Context, limit int) ([]domain.Document, error) {
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}
	docs, err := uc.records.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

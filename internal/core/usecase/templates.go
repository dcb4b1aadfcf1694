package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/papertrellis/internal/core/domain"
	"github.com/kirillkom/papertrellis/internal/core/ports"
)

const defaultTestFilename = "document.pdf"

type TemplateUseCase struct {
	store  ports.TemplateStore
	logger *slog.Logger
}

func NewTemplateUseCase(store ports.TemplateStore, logger *slog.Logger) *TemplateUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &TemplateUseCase{store: store, logger: logger}
}

func (uc *TemplateUseCase) List(ctx context.Context) ([]domain.Template, error) {
	templates, err := uc.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return OrderTemplates(templates), nil
}

func (uc *TemplateUseCase) Get(ctx context.Context, id string) (*domain.Template, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get template", errors.New("id is required"))
	}
	tpl, err := uc.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return tpl, nil
}

func (uc *TemplateUseCase) Create(ctx context.Context, tpl domain.Template) (*domain.Template, error) {
	tpl.Normalize()
	if err := tpl.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	tpl.ID = uuid.NewString()
	tpl.CreatedAt = now
	tpl.UpdatedAt = now
	if err := uc.store.Create(ctx, &tpl); err != nil {
		return nil, fmt.Errorf("create template: %w", err)
	}
	uc.logger.Info("template created", "template_id", tpl.ID, "name", tpl.Name, "priority", tpl.Priority)
	return &tpl, nil
}

// Update replaces every editable field. ID and CreatedAt are kept so the
// template's place among equal priorities does not change.
func (uc *TemplateUseCase) Update(ctx context.Context, id string, tpl domain.Template) (*domain.Template, error) {
	existing, err := uc.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	tpl.Normalize()
	if err := tpl.Validate(); err != nil {
		return nil, err
	}
	tpl.ID = existing.ID
	tpl.CreatedAt = existing.CreatedAt
	tpl.UpdatedAt = time.Now().UTC()
	if err := uc.store.Update(ctx, &tpl); err != nil {
		return nil, fmt.Errorf("update template: %w", err)
	}
	uc.logger.Info("template updated", "template_id", tpl.ID, "enabled", tpl.Enabled)
	return &tpl, nil
}

func (uc *TemplateUseCase) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "delete template", errors.New("id is required"))
	}
	if err := uc.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	uc.logger.Info("template deleted", "template_id", id)
	return nil
}

// Test evaluates one template against text without touching any file. The
// template is evaluated even when disabled.
func (uc *TemplateUseCase) Test(ctx context.Context, id, text, filename string) (*domain.TemplateTestResult, error) {
	tpl, err := uc.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	filename = strings.TrimSpace(filename)
	if filename == "" {
		filename = defaultTestFilename
	}
	report := EvaluateTemplate(*tpl, text)
	result := &domain.TemplateTestResult{
		TemplateID: tpl.ID,
		Matched:    report.Matched,
		Patterns:   report.Hits,
		Fields:     ExtractFields(*tpl, text),
	}

	ext := filepath.Ext(filename)
	dest, err := RenderDestination(*tpl, RenderVars{
		OriginalName: strings.TrimSuffix(filepath.Base(filename), ext),
		Extension:    ext,
		Fields:       result.Fields,
	})
	if err != nil {
		result.RenderError = err.Error()
	} else {
		result.Destination = dest.RelPath()
	}
	return result, nil
}

// SeedIfEmpty creates seeds when the store holds no templates at all.
func (uc *TemplateUseCase) SeedIfEmpty(ctx context.Context, seeds []domain.Template) (int, error) {
	existing, err := uc.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list templates: %w", err)
	}
	if len(existing) > 0 || len(seeds) == 0 {
		return 0, nil
	}

	created := 0
	for _, seed := range seeds {
		if _, err := uc.Create(ctx, seed); err != nil {
			return created, fmt.Errorf("seed template %q: %w", seed.Name, err)
		}
		created++
	}
	return created, nil
}

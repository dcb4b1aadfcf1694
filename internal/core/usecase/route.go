package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/papertrellis/internal/core/domain"
	"github.com/kirillkom/papertrellis/internal/core/ports"
)

type RouteConfig struct {
	LibraryRoot           string
	FailedRoot            string
	PreserveIngestSubdirs bool
	// DecisionTimeout bounds extraction through placement. A decision that
	// runs out of time is failed, not retried. Zero means no deadline.
	DecisionTimeout time.Duration
}

type RouteDocumentUseCase struct {
	templates ports.TemplateStore
	records   ports.DocumentRecordStore
	extractor ports.TextExtractor
	placer    ports.FilePlacer
	publisher ports.OutcomePublisher
	claims    *Claims
	cfg       RouteConfig
	logger    *slog.Logger
}

func NewRouteDocumentUseCase(
	templates ports.TemplateStore,
	records ports.DocumentRecordStore,
	extractor ports.TextExtractor,
	placer ports.FilePlacer,
	publisher ports.OutcomePublisher,
	claims *Claims,
	cfg RouteConfig,
	logger *slog.Logger,
) *RouteDocumentUseCase {
	if claims == nil {
		claims = NewClaims()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RouteDocumentUseCase{
		templates: templates,
		records:   records,
		extractor: extractor,
		placer:    placer,
		publisher: publisher,
		claims:    claims,
		cfg:       cfg,
		logger:    logger,
	}
}

// Route runs one routing decision for req.Path. Routing failures, including
// an exceeded decision deadline, are recorded on the returned document and
// the file is moved to the failed area. The error is non-nil only when the
// file was left untouched: claim conflict, unreachable stores, or ctx
// cancellation.
func (uc *RouteDocumentUseCase) Route(ctx context.Context, req ports.RouteRequest) (*domain.Document, error) {
	const op = "route document"

	if strings.TrimSpace(req.Path) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, op, errors.New("path is required"))
	}
	release, err := uc.claims.TryClaim(req.Path)
	if err != nil {
		return nil, err
	}
	defer release()

	info, err := os.Stat(req.Path)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, op, fmt.Errorf("stat source: %w", err))
	}
	if !info.Mode().IsRegular() {
		return nil, domain.WrapError(domain.ErrInvalidInput, op, fmt.Errorf("%s is not a regular file", req.Path))
	}

	snapshot, err := uc.templates.ListEnabled(ctx)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, op, fmt.Errorf("load templates: %w", err))
	}

	doc := uc.newDocument(req)
	if err := uc.records.CreatePending(ctx, doc); err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, op, fmt.Errorf("create pending record: %w", err))
	}

	started := time.Now()
	decideCtx, cancel := uc.decisionContext(ctx)
	routeErr := uc.decide(decideCtx, doc, req, snapshot)
	deadlineErr := decideCtx.Err()
	cancel()
	if routeErr != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return doc, domain.WrapError(domain.ErrTemporary, op, fmt.Errorf("%w: %w", ctx.Err(), routeErr))
		}
		if errors.Is(deadlineErr, context.DeadlineExceeded) {
			routeErr = fmt.Errorf("decision deadline exceeded after %s: %w", time.Since(started).Round(time.Millisecond), routeErr)
		}
		uc.fail(context.WithoutCancel(ctx), doc, req, routeErr)
	}

	if err := uc.records.SaveOutcome(context.WithoutCancel(ctx), doc); err != nil {
		uc.logger.Error("save routing outcome failed",
			"document_id", doc.ID,
			"status", doc.Status,
			"destination", doc.DestinationPath,
			"error", err,
		)
	}
	uc.publish(ctx, doc)

	uc.logger.Info("routing decision finished",
		"document_id", doc.ID,
		"path", req.Path,
		"status", doc.Status,
		"stage", doc.Stage,
		"template", doc.MatchedTemplateName,
		"failure_kind", doc.FailureKind,
		"destination", doc.DestinationPath,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return doc, nil
}

func (uc *RouteDocumentUseCase) decisionContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if uc.cfg.DecisionTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, uc.cfg.DecisionTimeout)
}

func (uc *RouteDocumentUseCase) newDocument(req ports.RouteRequest) *domain.Document {
	now := time.Now().UTC()
	source := req.Source
	if source == "" {
		source = domain.SourceIngest
	}
	original := strings.TrimSpace(req.OriginalFilename)
	if original == "" {
		original = filepath.Base(req.Path)
	}
	return &domain.Document{
		ID:               uuid.NewString(),
		Source:           source,
		SourcePath:       req.Path,
		OriginalFilename: original,
		Status:           domain.StatusPending,
		Stage:            domain.StageReceived,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// decide walks the stages in order; the first error stops the walk.
func (uc *RouteDocumentUseCase) decide(ctx context.Context, doc *domain.Document, req ports.RouteRequest, snapshot []domain.Template) error {
	extraction, err := uc.extractor.Extract(ctx, req.Path)
	if err != nil {
		return fmt.Errorf("extract text: %w", err)
	}
	doc.ExtractedText = extraction.Text
	doc.ExtractionMethod = extraction.Method
	doc.Pages = extraction.Pages
	doc.Advance(domain.StageExtracted)

	tpl, ok := MatchTemplate(extraction.Text, snapshot)
	if !ok {
		return domain.WrapError(domain.ErrNoTemplateMatch, "match template",
			fmt.Errorf("none of %d enabled templates matched (method=%s)", len(snapshot), extraction.Method))
	}
	doc.MatchedTemplateID = tpl.ID
	doc.MatchedTemplateName = tpl.Name
	doc.Advance(domain.StageMatched)

	doc.Fields = ExtractFields(*tpl, extraction.Text)
	doc.Advance(domain.StageFielded)

	ext := filepath.Ext(doc.OriginalFilename)
	dest, err := RenderDestination(*tpl, RenderVars{
		OriginalName: strings.TrimSuffix(doc.OriginalFilename, ext),
		Extension:    ext,
		Fields:       doc.Fields,
	})
	if err != nil {
		return err
	}
	doc.Advance(domain.StageRendered)

	relDir := dest.Dir
	if sub := uc.ingestSubdir(req); sub != "" {
		relDir = path.Join(relDir, sub)
	}
	placed, err := uc.placer.Place(ctx, req.Path, uc.cfg.LibraryRoot, filepath.FromSlash(relDir), dest.Filename)
	if err != nil {
		return err
	}
	doc.MarkRouted(placed)
	return nil
}

// fail moves the untouched source into the failed area, mirroring its ingest
// sub-directory. If that move fails too the file stays where it is.
func (uc *RouteDocumentUseCase) fail(ctx context.Context, doc *domain.Document, req ports.RouteRequest, routeErr error) {
	kind := domain.FailureKindOf(routeErr)
	reason := routeErr.Error()

	name := sanitizeSegment(doc.OriginalFilename)
	if name == "" || name == "." || name == ".." {
		name = filepath.Base(req.Path)
	}
	placed, moveErr := uc.placer.Place(ctx, req.Path, uc.cfg.FailedRoot, filepath.FromSlash(uc.ingestSubdir(req)), name)
	if moveErr != nil {
		reason = fmt.Sprintf("%s; failed-area move: %v", reason, moveErr)
		uc.logger.Error("failed-area move failed, leaving file in place",
			"document_id", doc.ID,
			"path", req.Path,
			"error", moveErr,
		)
		placed = ""
	}
	doc.MarkFailed(kind, reason, placed)
}

func (uc *RouteDocumentUseCase) ingestSubdir(req ports.RouteRequest) string {
	if !uc.cfg.PreserveIngestSubdirs || req.Source != domain.SourceIngest || req.IngestRoot == "" {
		return ""
	}
	return IngestSubdir(req.IngestRoot, req.Path)
}

// IngestSubdir returns the slash-separated parent directory of file relative
// to root, or "" when file sits directly in root or outside it.
func IngestSubdir(root, file string) string {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return ""
	}
	absFile, err := filepath.Abs(file)
	if err != nil {
		return ""
	}
	rel, err := filepath.Rel(absRoot, filepath.Dir(absFile))
	if err != nil || rel == "." || !filepath.IsLocal(rel) {
		return ""
	}
	return filepath.ToSlash(rel)
}

func (uc *RouteDocumentUseCase) publish(ctx context.Context, doc *domain.Document) {
	if uc.publisher == nil {
		return
	}
	if err := uc.publisher.PublishOutcome(context.WithoutCancel(ctx), doc); err != nil {
		uc.logger.Warn("publish routing outcome failed", "document_id", doc.ID, "error", err)
	}
}

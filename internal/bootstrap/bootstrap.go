package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/kirillkom/papertrellis/internal/adapters/ingest"
	"github.com/kirillkom/papertrellis/internal/config"
	"github.com/kirillkom/papertrellis/internal/core/ports"
	"github.com/kirillkom/papertrellis/internal/core/usecase"
	"github.com/kirillkom/papertrellis/internal/infrastructure/export/xlsx"
	"github.com/kirillkom/papertrellis/internal/infrastructure/extractor/ocr"
	"github.com/kirillkom/papertrellis/internal/infrastructure/extractor/pdftext"
	"github.com/kirillkom/papertrellis/internal/infrastructure/extractor/textextract"
	"github.com/kirillkom/papertrellis/internal/infrastructure/queue/nats"
	"github.com/kirillkom/papertrellis/internal/infrastructure/repository/sqlstore"
	"github.com/kirillkom/papertrellis/internal/infrastructure/resilience"
	"github.com/kirillkom/papertrellis/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/papertrellis/internal/infrastructure/templateseed"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Store     *sqlstore.Store
	Claims    *usecase.Claims
	Router    *usecase.RouteDocumentUseCase
	Uploader  *usecase.UploadDocumentUseCase
	Documents *usecase.DocumentQueryUseCase
	Templates *usecase.TemplateUseCase
	Library   *localfs.Lister
	Exporter  *xlsx.Exporter

	closeFns []func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: cfg, Logger: logger}

	for _, dir := range []string{cfg.IngestDir, cfg.LibraryDir, cfg.FailedDir, cfg.TmpDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir %s: %w", dir, err)
		}
	}

	db, dialect, err := sqlstore.OpenDB(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	app.onClose(func() { _ = db.Close() })

	storeExecutor := resilience.NewExecutor(storeResilience(cfg), logger.With("component", "store"))
	app.Store = sqlstore.New(db, dialect, storeExecutor)
	if err := app.Store.EnsureSchema(ctx); err != nil {
		app.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	records := sqlstore.NewDocumentRepository(app.Store)
	templateStore := sqlstore.NewTemplateRepository(app.Store)

	extractor, err := app.newExtractor(cfg, logger)
	if err != nil {
		app.Close()
		return nil, err
	}

	storage, err := localfs.New(filepath.Join(cfg.TmpDir, "uploads"))
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init upload staging: %w", err)
	}

	publisher, err := app.newPublisher(cfg, logger)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Templates = usecase.NewTemplateUseCase(templateStore, logger.With("component", "templates"))
	seeds, err := templateseed.Load(cfg.TemplatesFile)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("load template seeds: %w", err)
	}
	seeded, err := app.Templates.SeedIfEmpty(ctx, seeds)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("seed templates: %w", err)
	}
	if seeded > 0 {
		logger.Info("templates seeded", "count", seeded, "file", cfg.TemplatesFile)
	}

	app.Claims = usecase.NewClaims()
	app.Router = usecase.NewRouteDocumentUseCase(
		templateStore,
		records,
		extractor,
		storage,
		publisher,
		app.Claims,
		usecase.RouteConfig{
			LibraryRoot:           cfg.LibraryDir,
			FailedRoot:            cfg.FailedDir,
			PreserveIngestSubdirs: cfg.PreserveIngestSubdirs,
			DecisionTimeout:       cfg.DecisionTimeout(),
		},
		logger.With("component", "router"),
	)
	app.Uploader = usecase.NewUploadDocumentUseCase(storage, app.Router, logger.With("component", "upload"))
	app.Documents = usecase.NewDocumentQueryUseCase(records)
	app.Library = localfs.NewLister(cfg.LibraryDir, cfg.FailedDir)
	app.Exporter = xlsx.NewExporter(logger.With("component", "export"))

	logger.Info("bootstrap complete",
		"dialect", string(dialect),
		"ocr_engine", cfg.OCREngine,
		"nats_enabled", publisher != nil,
		"ingest_dir", cfg.IngestDir,
		"library_dir", cfg.LibraryDir,
		"failed_dir", cfg.FailedDir,
	)
	return app, nil
}

func (a *App) newExtractor(cfg config.Config, logger *slog.Logger) (*textextract.Extractor, error) {
	runner := ocr.NewExecRunner(logger.With("component", "ocr"))
	tessCfg := ocr.TesseractConfig{
		Binary:      cfg.TesseractBin,
		Lang:        cfg.OCRLang,
		TessdataDir: cfg.TessdataDir,
	}

	var engine ocr.Engine
	switch cfg.OCREngine {
	case config.OCREngineGosseract:
		g, err := ocr.NewGosseract(tessCfg)
		if err != nil {
			return nil, fmt.Errorf("init gosseract: %w", err)
		}
		a.onClose(func() { _ = g.Close() })
		engine = g
	default:
		engine = ocr.NewTesseract(tessCfg, runner)
	}

	rasterizer := ocr.NewRasterizer(ocr.RasterizerConfig{Binary: cfg.PDFToPPMBin, DPI: cfg.OCRDPI}, runner)
	return textextract.New(textextract.Config{
		TmpDir:           filepath.Join(cfg.TmpDir, "ocr"),
		MinEmbeddedChars: cfg.PDFTextMinChars,
		OCRConcurrency:   cfg.OCRConcurrency,
	}, pdftext.NewReader(), rasterizer, engine, logger.With("component", "extractor")), nil
}

// newPublisher returns nil when NATS_URL is unset.
func (a *App) newPublisher(cfg config.Config, logger *slog.Logger) (ports.OutcomePublisher, error) {
	if cfg.NATSURL == "" {
		return nil, nil
	}
	publisher, err := nats.NewPublisher(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: resilience.NewExecutor(resilience.PublishDefaults(), logger.With("component", "nats")),
		Logger:             logger.With("component", "nats"),
	})
	if err != nil {
		return nil, fmt.Errorf("init nats publisher: %w", err)
	}
	a.onClose(publisher.Close)
	return publisher, nil
}

// Ingest is the worker-side event source: a bounded pool fed by the
// periodic scanner and, optionally, the fsnotify watcher.
type Ingest struct {
	Pool    *ingest.Pool
	Scanner *ingest.Scanner
	Watcher *ingest.Watcher
}

func (a *App) NewIngest(recorder ingest.Recorder) *Ingest {
	cfg := a.Config
	pool := ingest.NewPool(a.Router, ingest.PoolConfig{
		Service:    "worker",
		IngestRoot: cfg.IngestDir,
		Workers:    cfg.WorkerCount,
		QueueSize:  cfg.WorkerQueueSize,
	}, recorder, a.Logger.With("component", "pool"))

	scanner := ingest.NewScanner(ingest.ScannerConfig{
		Root:     cfg.IngestDir,
		Interval: cfg.ScanInterval(),
		Settle:   cfg.ScanSettle(),
		Exclude:  []string{cfg.LibraryDir, cfg.FailedDir, cfg.TmpDir},
	}, pool, a.Claims, a.Logger.With("component", "scanner"))
	pool.OnLeftInPlace(scanner.Remember)

	in := &Ingest{Pool: pool, Scanner: scanner}
	if cfg.WatchEnabled {
		in.Watcher = ingest.NewWatcher(cfg.IngestDir, scanner, a.Logger.With("component", "watcher"))
	}
	return in
}

func storeResilience(cfg config.Config) resilience.Config {
	return resilience.Config{
		Retry: resilience.RetryPolicy{
			MaxAttempts:    cfg.StoreRetryMaxAttempts,
			InitialBackoff: time.Duration(cfg.StoreRetryInitialBackoffMS) * time.Millisecond,
			MaxBackoff:     time.Duration(cfg.StoreRetryMaxBackoffMS) * time.Millisecond,
			Multiplier:     cfg.StoreRetryMultiplier,
		},
		Breaker: resilience.BreakerPolicy{
			Enabled:          cfg.StoreBreakerEnabled,
			MinRequests:      uint32(max(cfg.StoreBreakerMinRequests, 0)),
			FailureRatio:     cfg.StoreBreakerFailureRatio,
			OpenTimeout:      time.Duration(cfg.StoreBreakerOpenTimeoutMS) * time.Millisecond,
			HalfOpenMaxCalls: uint32(max(cfg.StoreBreakerHalfOpenMaxCalls, 0)),
		},
	}
}

func (a *App) onClose(fn func()) {
	a.closeFns = append(a.closeFns, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
	a.closeFns = nil
}

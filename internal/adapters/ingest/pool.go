package ingest

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/papertrellis/internal/core/domain"
	"github.com/kirillkom/papertrellis/internal/core/ports"
)

// Recorder receives pool metrics. *metrics.WorkerMetrics implements it.
type Recorder interface {
	StartDocument()
	FinishDocument(service string, duration time.Duration, doc *domain.Document, err error)
	ObserveQueueLag(service string, lag time.Duration)
	SetQueueDepth(depth int)
	RecordDrop(service, reason string)
}

type PoolConfig struct {
	Service    string
	IngestRoot string
	Workers    int
	QueueSize  int
}

type job struct {
	path     string
	queuedAt time.Time
}

// Pool runs routing decisions on a fixed number of workers. A path is held
// in the pool from Submit until its decision finishes, so duplicate submits
// are dropped.
type Pool struct {
	router   ports.DocumentRouter
	cfg      PoolConfig
	recorder Recorder
	logger   *slog.Logger

	queue chan job

	mu        sync.Mutex
	tracked   map[string]struct{}
	leftAlone func(path string)
}

func NewPool(router ports.DocumentRouter, cfg PoolConfig, recorder Recorder, logger *slog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Service == "" {
		cfg.Service = "worker"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		router:   router,
		cfg:      cfg,
		recorder: recorder,
		logger:   logger,
		queue:    make(chan job, cfg.QueueSize),
		tracked:  make(map[string]struct{}),
	}
}

// OnLeftInPlace registers fn to be called with paths that still exist after
// a finished decision, so discovery can stop offering them.
func (p *Pool) OnLeftInPlace(fn func(path string)) {
	p.mu.Lock()
	p.leftAlone = fn
	p.mu.Unlock()
}

// Submit queues path without blocking. It reports false when path is
// already tracked or the queue is full.
func (p *Pool) Submit(path string) bool {
	key := poolKey(path)

	p.mu.Lock()
	if _, dup := p.tracked[key]; dup {
		p.mu.Unlock()
		p.drop("duplicate")
		return false
	}
	select {
	case p.queue <- job{path: path, queuedAt: time.Now()}:
		p.tracked[key] = struct{}{}
		p.mu.Unlock()
	default:
		p.mu.Unlock()
		p.drop("queue_full")
		p.logger.Warn("ingest queue full, file left for next scan", "path", path, "queue_size", p.cfg.QueueSize)
		return false
	}
	p.depth()
	return true
}

// Tracked reports whether path is queued or being routed.
func (p *Pool) Tracked(path string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.tracked[poolKey(path)]
	return ok
}

// Run starts the workers and blocks until ctx is done. Queued files are
// abandoned on shutdown and picked up again by the next scan.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case j := <-p.queue:
					p.depth()
					p.handle(gctx, worker, j)
				}
			}
		})
	}
	p.logger.Info("ingest workers started", "workers", p.cfg.Workers, "queue_size", p.cfg.QueueSize)
	return g.Wait()
}

func (p *Pool) handle(ctx context.Context, worker int, j job) {
	defer p.untrack(j.path)

	if p.recorder != nil {
		p.recorder.ObserveQueueLag(p.cfg.Service, time.Since(j.queuedAt))
		p.recorder.StartDocument()
	}

	started := time.Now()
	doc, err := p.router.Route(ctx, ports.RouteRequest{
		Path:       j.path,
		Source:     domain.SourceIngest,
		IngestRoot: p.cfg.IngestRoot,
	})
	if p.recorder != nil {
		p.recorder.FinishDocument(p.cfg.Service, time.Since(started), doc, err)
	}

	switch {
	case err == nil:
		if _, statErr := os.Stat(j.path); statErr == nil {
			p.notifyLeftInPlace(j.path)
		}
	case domain.IsKind(err, domain.ErrClaimConflict):
		p.logger.Debug("file already being routed", "worker", worker, "path", j.path)
	case domain.IsKind(err, domain.ErrTemporary), errors.Is(err, context.Canceled):
		p.logger.Warn("routing deferred, file left in ingest", "worker", worker, "path", j.path, "error", err)
	default:
		p.logger.Warn("routing rejected", "worker", worker, "path", j.path, "error", err)
	}
}

func (p *Pool) notifyLeftInPlace(path string) {
	p.mu.Lock()
	fn := p.leftAlone
	p.mu.Unlock()
	if fn != nil {
		fn(path)
	}
}

func (p *Pool) untrack(path string) {
	p.mu.Lock()
	delete(p.tracked, poolKey(path))
	p.mu.Unlock()
}

func (p *Pool) drop(reason string) {
	if p.recorder != nil {
		p.recorder.RecordDrop(p.cfg.Service, reason)
	}
}

func (p *Pool) depth() {
	if p.recorder != nil {
		p.recorder.SetQueueDepth(len(p.queue))
	}
}

func poolKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

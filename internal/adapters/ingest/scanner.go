package ingest

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Submitter accepts discovered files. *Pool implements it.
type Submitter interface {
	Submit(path string) bool
	Tracked(path string) bool
}

// ClaimChecker reports files with a decision in flight. *usecase.Claims
// implements it.
type ClaimChecker interface {
	Held(path string) bool
}

type ScannerConfig struct {
	Root     string
	Interval time.Duration
	Settle   time.Duration
	// Exclude lists directories never descended into, such as a library
	// root nested under ingest.
	Exclude []string
}

type stamp struct {
	size    int64
	modTime time.Time
}

// Scanner walks the ingest root on a ticker and submits settled files.
type Scanner struct {
	cfg    ScannerConfig
	sink   Submitter
	claims ClaimChecker
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	skip map[string]stamp
}

func NewScanner(cfg ScannerConfig, sink Submitter, claims ClaimChecker, logger *slog.Logger) *Scanner {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Settle < 0 {
		cfg.Settle = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	excluded := make([]string, 0, len(cfg.Exclude))
	for _, dir := range cfg.Exclude {
		if abs, err := filepath.Abs(dir); err == nil {
			excluded = append(excluded, abs)
		}
	}
	cfg.Exclude = excluded
	return &Scanner{
		cfg:    cfg,
		sink:   sink,
		claims: claims,
		logger: logger,
		now:    time.Now,
		skip:   make(map[string]stamp),
	}
}

// Run scans once immediately and then on every tick until ctx is done.
func (s *Scanner) Run(ctx context.Context) error {
	if err := os.MkdirAll(s.cfg.Root, 0o755); err != nil {
		return err
	}
	s.logger.Info("ingest scanner started", "root", s.cfg.Root, "interval", s.cfg.Interval.String(), "settle", s.cfg.Settle.String())

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		if n, err := s.ScanOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("ingest scan failed", "root", s.cfg.Root, "error", err)
		} else if n > 0 {
			s.logger.Info("ingest scan queued files", "root", s.cfg.Root, "queued", n)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// ScanOnce walks the ingest root and returns how many files were queued.
func (s *Scanner) ScanOnce(ctx context.Context) (int, error) {
	queued := 0
	err := filepath.WalkDir(s.cfg.Root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) {
				return nil
			}
			s.logger.Warn("ingest walk error", "path", path, "error", walkErr)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != s.cfg.Root && (hidden(d.Name()) || s.excluded(path)) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || hidden(d.Name()) || partial(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if s.Consider(path, info) {
			queued++
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return queued, nil
	}
	return queued, err
}

// Consider submits path when it is settled and not already in flight.
func (s *Scanner) Consider(path string, info fs.FileInfo) bool {
	if info == nil {
		var err error
		if info, err = os.Stat(path); err != nil || !info.Mode().IsRegular() {
			return false
		}
	}
	if s.claims != nil && s.claims.Held(path) {
		return false
	}
	if s.sink.Tracked(path) {
		return false
	}
	st := stamp{size: info.Size(), modTime: info.ModTime()}
	if s.skipped(path, st) {
		return false
	}
	if s.now().Sub(st.modTime) < s.cfg.Settle {
		return false
	}
	return s.sink.Submit(path)
}

// Settle reports the configured settle window.
func (s *Scanner) Settle() time.Duration {
	return s.cfg.Settle
}

// Remember stops offering path until its size or modification time changes.
func (s *Scanner) Remember(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	key := poolKey(path)
	s.mu.Lock()
	s.skip[key] = stamp{size: info.Size(), modTime: info.ModTime()}
	s.mu.Unlock()
	s.logger.Warn("file left in ingest after routing, skipping until it changes", "path", path)
}

func (s *Scanner) skipped(path string, st stamp) bool {
	key := poolKey(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.skip[key]
	if !ok {
		return false
	}
	if prev.size == st.size && prev.modTime.Equal(st.modTime) {
		return true
	}
	delete(s.skip, key)
	return false
}

func (s *Scanner) excluded(dir string) bool {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	for _, ex := range s.cfg.Exclude {
		if abs == ex {
			return true
		}
	}
	return false
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// partial matches names browsers and copy tools use while a transfer runs.
func partial(name string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range []string{".part", ".partial", ".crdownload", ".tmp", "~"} {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

const (
	OCREngineTesseract = "tesseract"
	OCREngineGosseract = "gosseract"
)

type Config struct {
	APIPort           string
	WorkerMetricsPort string
	LogLevel          string

	DataDir    string
	IngestDir  string
	LibraryDir string
	FailedDir  string
	TmpDir     string

	DatabaseDSN   string
	TemplatesFile string

	ScanEnabled         bool
	ScanIntervalSeconds int
	ScanSettleMS        int
	WatchEnabled        bool

	WorkerCount            int
	WorkerQueueSize        int
	DecisionTimeoutSeconds int

	OCREngine       string
	OCRLang         string
	OCRConcurrency  int
	OCRDPI          int
	TesseractBin    string
	PDFToPPMBin     string
	TessdataDir     string
	PDFTextMinChars int

	PreserveIngestSubdirs bool

	NATSURL     string
	NATSSubject string

	APIRateLimitRPS   float64
	APIRateLimitBurst int
	APIMaxInFlight    int
	UploadMaxBytes    int64

	StoreRetryMaxAttempts        int
	StoreRetryInitialBackoffMS   int
	StoreRetryMaxBackoffMS       int
	StoreRetryMultiplier         float64
	StoreBreakerEnabled          bool
	StoreBreakerMinRequests      int
	StoreBreakerFailureRatio     float64
	StoreBreakerOpenTimeoutMS    int
	StoreBreakerHalfOpenMaxCalls int
}

func Load() Config {
	dataDir := mustEnv("DATA_DIR", "./data")
	return Config{
		APIPort:           mustEnv("API_PORT", "8080"),
		WorkerMetricsPort: mustEnv("WORKER_METRICS_PORT", "9090"),
		LogLevel:          mustEnv("LOG_LEVEL", "info"),

		DataDir:    dataDir,
		IngestDir:  mustEnv("INGEST_DIR", filepath.Join(dataDir, "ingest")),
		LibraryDir: mustEnv("LIBRARY_DIR", filepath.Join(dataDir, "library")),
		FailedDir:  mustEnv("FAILED_DIR", filepath.Join(dataDir, "failed")),
		TmpDir:     mustEnv("TMP_DIR", filepath.Join(dataDir, "tmp")),

		DatabaseDSN:   mustEnv("DATABASE_DSN", "sqlite://"+filepath.ToSlash(filepath.Join(dataDir, "config", "papertrellis.db"))),
		TemplatesFile: mustEnv("TEMPLATES_FILE", ""),

		ScanEnabled:         mustEnvBool("SCAN_ENABLED", true),
		ScanIntervalSeconds: mustEnvInt("SCAN_INTERVAL_SECONDS", 15),
		ScanSettleMS:        mustEnvInt("SCAN_SETTLE_MS", 2000),
		WatchEnabled:        mustEnvBool("WATCH_ENABLED", false),

		WorkerCount:            mustEnvInt("WORKER_COUNT", 2),
		WorkerQueueSize:        mustEnvInt("WORKER_QUEUE_SIZE", 256),
		DecisionTimeoutSeconds: mustEnvInt("DECISION_TIMEOUT_SECONDS", 300),

		OCREngine:       strings.ToLower(mustEnv("OCR_ENGINE", OCREngineTesseract)),
		OCRLang:         mustEnv("OCR_LANG", "eng"),
		OCRConcurrency:  mustEnvInt("OCR_CONCURRENCY", runtime.NumCPU()),
		OCRDPI:          mustEnvInt("OCR_DPI", 200),
		TesseractBin:    mustEnv("TESSERACT_BIN", "tesseract"),
		PDFToPPMBin:     mustEnv("PDFTOPPM_BIN", "pdftoppm"),
		TessdataDir:     mustEnv("TESSDATA_DIR", ""),
		PDFTextMinChars: mustEnvInt("PDF_TEXT_MIN_CHARS", 25),

		PreserveIngestSubdirs: mustEnvBool("PRESERVE_INGEST_SUBDIRS", true),

		NATSURL:     mustEnv("NATS_URL", ""),
		NATSSubject: mustEnv("NATS_SUBJECT", "documents.routed"),

		APIRateLimitRPS:   mustEnvFloat("API_RATE_LIMIT_RPS", 5),
		APIRateLimitBurst: mustEnvInt("API_RATE_LIMIT_BURST", 10),
		APIMaxInFlight:    mustEnvInt("API_MAX_INFLIGHT", 4),
		UploadMaxBytes:    int64(mustEnvInt("UPLOAD_MAX_BYTES", 50<<20)),

		StoreRetryMaxAttempts:        mustEnvInt("STORE_RETRY_MAX_ATTEMPTS", 3),
		StoreRetryInitialBackoffMS:   mustEnvInt("STORE_RETRY_INITIAL_BACKOFF_MS", 100),
		StoreRetryMaxBackoffMS:       mustEnvInt("STORE_RETRY_MAX_BACKOFF_MS", 1000),
		StoreRetryMultiplier:         mustEnvFloat("STORE_RETRY_MULTIPLIER", 2),
		StoreBreakerEnabled:          mustEnvBool("STORE_BREAKER_ENABLED", true),
		StoreBreakerMinRequests:      mustEnvInt("STORE_BREAKER_MIN_REQUESTS", 5),
		StoreBreakerFailureRatio:     mustEnvFloat("STORE_BREAKER_FAILURE_RATIO", 0.6),
		StoreBreakerOpenTimeoutMS:    mustEnvInt("STORE_BREAKER_OPEN_TIMEOUT_MS", 15000),
		StoreBreakerHalfOpenMaxCalls: mustEnvInt("STORE_BREAKER_HALF_OPEN_MAX_CALLS", 1),
	}
}

func (c Config) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalSeconds) * time.Second
}

func (c Config) ScanSettle() time.Duration {
	return time.Duration(c.ScanSettleMS) * time.Millisecond
}

func (c Config) DecisionTimeout() time.Duration {
	return time.Duration(c.DecisionTimeoutSeconds) * time.Second
}

// Validate rejects settings that would make routing unsafe or spin.
func (c Config) Validate() error {
	var errs []error
	if c.ScanIntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("SCAN_INTERVAL_SECONDS must be positive, got %d", c.ScanIntervalSeconds))
	}
	if c.ScanSettleMS < 0 {
		errs = append(errs, fmt.Errorf("SCAN_SETTLE_MS must not be negative, got %d", c.ScanSettleMS))
	}
	if c.WorkerCount <= 0 {
		errs = append(errs, fmt.Errorf("WORKER_COUNT must be positive, got %d", c.WorkerCount))
	}
	if c.WorkerQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("WORKER_QUEUE_SIZE must be positive, got %d", c.WorkerQueueSize))
	}
	if c.OCRConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("OCR_CONCURRENCY must be positive, got %d", c.OCRConcurrency))
	}
	if c.OCRDPI <= 0 {
		errs = append(errs, fmt.Errorf("OCR_DPI must be positive, got %d", c.OCRDPI))
	}
	if c.OCREngine != OCREngineTesseract && c.OCREngine != OCREngineGosseract {
		errs = append(errs, fmt.Errorf("OCR_ENGINE must be %q or %q, got %q", OCREngineTesseract, OCREngineGosseract, c.OCREngine))
	}
	if c.UploadMaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("UPLOAD_MAX_BYTES must be positive, got %d", c.UploadMaxBytes))
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		errs = append(errs, errors.New("DATABASE_DSN is required"))
	}

	roots := []struct{ name, path string }{
		{"INGEST_DIR", c.IngestDir},
		{"LIBRARY_DIR", c.LibraryDir},
		{"FAILED_DIR", c.FailedDir},
	}
	for i, a := range roots {
		if strings.TrimSpace(a.path) == "" {
			errs = append(errs, fmt.Errorf("%s is required", a.name))
			continue
		}
		for _, b := range roots[i+1:] {
			if strings.TrimSpace(b.path) == "" {
				continue
			}
			if overlaps(a.path, b.path) {
				errs = append(errs, fmt.Errorf("%s (%s) and %s (%s) must not overlap", a.name, a.path, b.name, b.path))
			}
		}
	}
	return errors.Join(errs...)
}

// overlaps reports whether a and b are the same directory or one contains the other.
func overlaps(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	if absA == absB {
		return true
	}
	for _, pair := range [][2]string{{absA, absB}, {absB, absA}} {
		rel, err := filepath.Rel(pair[0], pair[1])
		if err == nil && filepath.IsLocal(rel) {
			return true
		}
	}
	return false
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func mustEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

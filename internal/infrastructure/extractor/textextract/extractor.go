// Package textextract turns PDF and image files into text, using the
// embedded PDF text layer when it is good enough and OCR otherwise.
package textextract

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/image/webp"
	"golang.org/x/sync/semaphore"

	"github.com/kirillkom/papertrellis/internal/core/domain"
	"github.com/kirillkom/papertrellis/internal/infrastructure/extractor/ocr"
)

const (
	DefaultMinEmbeddedChars = 25
	ocrPageSeparator        = "\n\f\n"
)

type Config struct {
	// TmpDir holds per-document scratch directories.
	TmpDir string
	// MinEmbeddedChars is the trimmed rune count at which embedded PDF text
	// is used instead of OCR.
	MinEmbeddedChars int
	// OCRConcurrency bounds documents being OCRed at once.
	OCRConcurrency int
}

// PDFTextReader returns the embedded text of each PDF page.
type PDFTextReader interface {
	PageTexts(ctx context.Context, path string) ([]string, error)
}

// PageRasterizer renders PDF pages into image files under outDir.
type PageRasterizer interface {
	RenderPages(ctx context.Context, pdfPath, outDir string) ([]string, error)
}

type Extractor struct {
	cfg        Config
	pdf        PDFTextReader
	rasterizer PageRasterizer
	engine     ocr.Engine
	sem        *semaphore.Weighted
	logger     *slog.Logger
}

func New(cfg Config, pdf PDFTextReader, rasterizer PageRasterizer, engine ocr.Engine, logger *slog.Logger) *Extractor {
	if cfg.TmpDir == "" {
		cfg.TmpDir = os.TempDir()
	}
	if cfg.MinEmbeddedChars <= 0 {
		cfg.MinEmbeddedChars = DefaultMinEmbeddedChars
	}
	if cfg.OCRConcurrency <= 0 {
		cfg.OCRConcurrency = runtime.NumCPU()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		cfg:        cfg,
		pdf:        pdf,
		rasterizer: rasterizer,
		engine:     engine,
		sem:        semaphore.NewWeighted(int64(cfg.OCRConcurrency)),
		logger:     logger,
	}
}

func (e *Extractor) Extract(ctx context.Context, path string) (domain.Extraction, error) {
	start := time.Now()
	format, err := DetectFile(path)
	if err != nil {
		return domain.Extraction{}, err
	}

	var result domain.Extraction
	switch {
	case format == PDF:
		result, err = e.extractPDF(ctx, path)
	case format.IsImage():
		result, err = e.extractImage(ctx, path, format)
	default:
		return domain.Extraction{}, domain.WrapError(domain.ErrUnsupportedFormat, "extract text", fmt.Errorf("format %s", format))
	}
	if err != nil {
		return domain.Extraction{}, err
	}

	e.logger.Debug("text extracted",
		"path", path,
		"format", format.String(),
		"method", result.Method,
		"pages", result.Pages,
		"chars", utf8.RuneCountInString(result.Text),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

func (e *Extractor) extractPDF(ctx context.Context, path string) (domain.Extraction, error) {
	pages, err := e.pdf.PageTexts(ctx, path)
	if err == nil {
		text := ocr.Normalize(strings.Join(pages, "\n"))
		if utf8.RuneCountInString(strings.TrimSpace(text)) >= e.cfg.MinEmbeddedChars {
			return domain.Extraction{Text: text, Method: domain.MethodEmbedded, Pages: len(pages)}, nil
		}
	} else {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.Extraction{}, domain.WrapError(domain.ErrExtraction, "read embedded text", ctxErr)
		}
		e.logger.Info("embedded pdf text unavailable, falling back to ocr", "path", path, "error", err)
	}

	var result domain.Extraction
	err = e.withScratch(ctx, func(dir string) error {
		images, err := e.rasterizer.RenderPages(ctx, path, dir)
		if err != nil {
			return err
		}
		texts := make([]string, 0, len(images))
		for _, img := range images {
			text, err := e.engine.Recognize(ctx, img)
			if err != nil {
				return fmt.Errorf("page %d: %w", len(texts)+1, err)
			}
			texts = append(texts, ocr.Normalize(text))
		}
		result = domain.Extraction{
			Text:   strings.Join(texts, ocrPageSeparator),
			Method: domain.MethodOCR,
			Pages:  len(images),
		}
		return nil
	})
	if err != nil {
		return domain.Extraction{}, domain.WrapError(domain.ErrExtraction, "ocr pdf", err)
	}
	return result, nil
}

func (e *Extractor) extractImage(ctx context.Context, path string, format Format) (domain.Extraction, error) {
	var result domain.Extraction
	err := e.withScratch(ctx, func(dir string) error {
		input := path
		if format == WEBP {
			converted, err := webpToPNG(path, dir)
			if err != nil {
				return err
			}
			input = converted
		}
		text, err := e.engine.Recognize(ctx, input)
		if err != nil {
			return err
		}
		result = domain.Extraction{Text: ocr.Normalize(text), Method: domain.MethodOCR, Pages: 1}
		return nil
	})
	if err != nil {
		return domain.Extraction{}, domain.WrapError(domain.ErrExtraction, "ocr image", err)
	}
	return result, nil
}

// withScratch holds an OCR slot and a scratch directory for the duration of fn.
func (e *Extractor) withScratch(ctx context.Context, fn func(dir string) error) error {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("wait for ocr slot: %w", err)
	}
	defer e.sem.Release(1)

	if err := os.MkdirAll(e.cfg.TmpDir, 0o755); err != nil {
		return fmt.Errorf("create tmp dir: %w", err)
	}
	dir, err := os.MkdirTemp(e.cfg.TmpDir, "ocr-*")
	if err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			e.logger.Warn("remove scratch dir failed", "dir", dir, "error", err)
		}
	}()
	return fn(dir)
}

func webpToPNG(path, dir string) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open webp: %w", err)
	}
	defer in.Close()

	img, err := webp.Decode(in)
	if err != nil {
		return "", fmt.Errorf("decode webp: %w", err)
	}
	return writePNG(img, filepath.Join(dir, "image.png"))
}

func writePNG(img image.Image, path string) (string, error) {
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create png: %w", err)
	}
	if err := png.Encode(out, img); err != nil {
		_ = out.Close()
		return "", fmt.Errorf("encode png: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close png: %w", err)
	}
	return path, nil
}

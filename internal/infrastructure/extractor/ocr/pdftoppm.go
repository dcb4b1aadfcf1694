package ocr

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

type RasterizerConfig struct {
	Binary string
	DPI    int
}

// Rasterizer renders PDF pages to PNG files with pdftoppm.
type Rasterizer struct {
	cfg    RasterizerConfig
	runner Runner
}

func NewRasterizer(cfg RasterizerConfig, runner Runner) *Rasterizer {
	if cfg.Binary == "" {
		cfg.Binary = "pdftoppm"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 200
	}
	if runner == nil {
		runner = NewExecRunner(nil)
	}
	return &Rasterizer{cfg: cfg, runner: runner}
}

// RenderPages writes outDir/page-N.png for every page and returns the files
// in page order.
func (r *Rasterizer) RenderPages(ctx context.Context, pdfPath, outDir string) ([]string, error) {
	prefix := filepath.Join(outDir, "page")
	_, errb, err := r.runner.Run(ctx, r.cfg.Binary, "-r", strconv.Itoa(r.cfg.DPI), "-png", pdfPath, prefix)
	if err != nil {
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, strings.TrimSpace(truncate(string(errb), 512)))
	}

	matches, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, fmt.Errorf("list rendered pages: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("pdftoppm produced no images")
	}
	// pdftoppm zero-pads to the page count width, but sort numerically anyway.
	sort.Slice(matches, func(i, j int) bool {
		return pageNumber(matches[i], prefix) < pageNumber(matches[j], prefix)
	})
	return matches, nil
}

func pageNumber(path, prefix string) int {
	raw := strings.TrimSuffix(strings.TrimPrefix(path, prefix+"-"), ".png")
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}

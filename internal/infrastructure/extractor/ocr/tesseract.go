// Package ocr drives the external page rasterizer and OCR engines.
package ocr

import (
	"context"
	"fmt"
	"strings"
)

// Engine recognizes the text of one image file.
type Engine interface {
	Recognize(ctx context.Context, imagePath string) (string, error)
}

type TesseractConfig struct {
	Binary      string
	Lang        string
	TessdataDir string
}

// Tesseract shells out to the tesseract CLI.
type Tesseract struct {
	cfg    TesseractConfig
	runner Runner
}

func NewTesseract(cfg TesseractConfig, runner Runner) *Tesseract {
	if cfg.Binary == "" {
		cfg.Binary = "tesseract"
	}
	if cfg.Lang == "" {
		cfg.Lang = "eng"
	}
	if runner == nil {
		runner = NewExecRunner(nil)
	}
	return &Tesseract{cfg: cfg, runner: runner}
}

// Recognize runs `tesseract <image> stdout -l <lang> [--tessdata-dir dir]`.
func (t *Tesseract) Recognize(ctx context.Context, imagePath string) (string, error) {
	args := []string{imagePath, "stdout", "-l", t.cfg.Lang}
	if t.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", t.cfg.TessdataDir)
	}

	out, errb, err := t.runner.Run(ctx, t.cfg.Binary, args...)
	if err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, strings.TrimSpace(truncate(string(errb), 512)))
	}
	return reBoxNoise.ReplaceAllString(string(out), ""), nil
}

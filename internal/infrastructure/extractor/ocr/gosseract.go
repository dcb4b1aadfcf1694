//go:build gosseract

package ocr

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/otiai10/gosseract/v2"
)

// GosseractEnabled reports whether the in-process engine was compiled in.
const GosseractEnabled = true

// Gosseract runs Tesseract in-process through cgo. The client is not safe
// for concurrent use; Recognize calls are serialized.
type Gosseract struct {
	mu     sync.Mutex
	client *gosseract.Client
}

func NewGosseract(cfg TesseractConfig) (*Gosseract, error) {
	client := gosseract.NewClient()
	lang := cfg.Lang
	if lang == "" {
		lang = "eng"
	}
	if err := client.SetLanguage(lang); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("set ocr language: %w", err)
	}
	if cfg.TessdataDir != "" {
		client.TessdataPrefix = cfg.TessdataDir
	}
	return &Gosseract{client: client}, nil
}

func (g *Gosseract) Recognize(ctx context.Context, imagePath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.client.SetImageFromBytes(data); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	text, err := g.client.Text()
	if err != nil {
		return "", fmt.Errorf("gosseract: %w", err)
	}
	return text, nil
}

func (g *Gosseract) Close() error {
	return g.client.Close()
}

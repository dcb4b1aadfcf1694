//go:build !gosseract

package ocr

import (
	"context"
	"errors"
)

const GosseractEnabled = false

// ErrGosseractNotEnabled is returned when the binary was built without the
// gosseract tag. Rebuild with -tags gosseract to use the in-process engine.
var ErrGosseractNotEnabled = errors.New("gosseract engine not enabled; rebuild with -tags gosseract")

type Gosseract struct{}

func NewGosseract(TesseractConfig) (*Gosseract, error) {
	return nil, ErrGosseractNotEnabled
}

func (g *Gosseract) Recognize(context.Context, string) (string, error) {
	return "", ErrGosseractNotEnabled
}

func (g *Gosseract) Close() error {
	return nil
}

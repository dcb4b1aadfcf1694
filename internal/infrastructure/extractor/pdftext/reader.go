// Package pdftext reads the embedded text layer of PDF files.
package pdftext

import (
	"context"
	"fmt"

	"github.com/ledongthuc/pdf"
)

type Reader struct{}

func NewReader() *Reader {
	return &Reader{}
}

// PageTexts returns the plain text of every page in order. Pages without a
// text layer come back as empty strings.
func (r *Reader) PageTexts(ctx context.Context, path string) (pages []string, err error) {
	// The parser panics on some malformed files.
	defer func() {
		if rec := recover(); rec != nil {
			pages = nil
			err = fmt.Errorf("parse pdf %s: %v", path, rec)
		}
	}()

	f, doc, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	total := doc.NumPage()
	pages = make([]string, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := doc.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("read page %d: %w", i, err)
		}
		pages = append(pages, text)
	}
	return pages, nil
}

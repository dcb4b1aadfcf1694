package textextract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/kirillkom/papertrellis/internal/core/domain"
)

type pdfReaderFake struct {
	pages []string
	err   error
}

func (f *pdfReaderFake) PageTexts(context.Context, string) ([]string, error) {
	return f.pages, f.err
}

type rasterizerFake struct {
	pages  int
	err    error
	outDir string
}

func (f *rasterizerFake) RenderPages(_ context.Context, _ string, outDir string) ([]string, error) {
	f.outDir = outDir
	if f.err != nil {
		return nil, f.err
	}
	out := make([]string, 0, f.pages)
	for i := 1; i <= f.pages; i++ {
		path := filepath.Join(outDir, "page-"+strconv.Itoa(i)+".png")
		if err := os.WriteFile(path, []byte("png"), 0o644); err != nil {
			return nil, err
		}
		out = append(out, path)
	}
	return out, nil
}

type engineFake struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *engineFake) Recognize(_ context.Context, imagePath string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, imagePath)
	if f.err != nil {
		return "", f.err
	}
	return "ocr text of " + filepath.Base(imagePath) + "  \r\n", nil
}

func writeSource(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func newExtractor(t *testing.T, pdf *pdfReaderFake, raster *rasterizerFake, engine *engineFake) (*Extractor, string) {
	t.Helper()
	tmp := filepath.Join(t.TempDir(), "tmp")
	return New(Config{TmpDir: tmp, MinEmbeddedChars: 25, OCRConcurrency: 2}, pdf, raster, engine, nil), tmp
}

func assertScratchRemoved(t *testing.T, tmp string) {
	t.Helper()
	entries, err := os.ReadDir(tmp)
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("read tmp: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected scratch dirs removed, found %d entries", len(entries))
	}
}

func TestExtractPDFUsesEmbeddedTextAboveThreshold(t *testing.T) {
	pdf := &pdfReaderFake{pages: []string{"INVOICE Acme Corp", "Total Due: 100.00 EUR"}}
	engine := &engineFake{}
	e, _ := newExtractor(t, pdf, &rasterizerFake{pages: 1}, engine)

	got, err := e.Extract(context.Background(), writeSource(t, "scan.pdf", []byte("%PDF-1.7")))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got.Method != domain.MethodEmbedded || got.Pages != 2 {
		t.Fatalf("expected embedded/2 pages, got %s/%d", got.Method, got.Pages)
	}
	if got.Text != "INVOICE Acme Corp\nTotal Due: 100.00 EUR" {
		t.Fatalf("unexpected text %q", got.Text)
	}
	if len(engine.calls) != 0 {
		t.Fatalf("ocr must not run, got %d calls", len(engine.calls))
	}
}

func TestExtractPDFThresholdCountsRunes(t *testing.T) {
	cases := []struct {
		text string
		want domain.ExtractionMethod
	}{
		{text: strings.Repeat("é", 25), want: domain.MethodEmbedded},
		{text: "   " + strings.Repeat("é", 24) + "   ", want: domain.MethodOCR},
	}
	for _, tc := range cases {
		e, _ := newExtractor(t, &pdfReaderFake{pages: []string{tc.text}}, &rasterizerFake{pages: 1}, &engineFake{})
		got, err := e.Extract(context.Background(), writeSource(t, "a.pdf", []byte("%PDF")))
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		if got.Method != tc.want {
			t.Fatalf("text of %d runes: expected %s, got %s", len([]rune(strings.TrimSpace(tc.text))), tc.want, got.Method)
		}
	}
}

func TestExtractPDFFallsBackToOCRInPageOrder(t *testing.T) {
	raster := &rasterizerFake{pages: 3}
	engine := &engineFake{}
	e, tmp := newExtractor(t, &pdfReaderFake{pages: []string{"", " "}}, raster, engine)

	got, err := e.Extract(context.Background(), writeSource(t, "scan.pdf", []byte("%PDF")))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got.Method != domain.MethodOCR || got.Pages != 3 {
		t.Fatalf("expected ocr/3, got %s/%d", got.Method, got.Pages)
	}
	want := "ocr text of page-1.png\n\f\nocr text of page-2.png\n\f\nocr text of page-3.png"
	if got.Text != want {
		t.Fatalf("unexpected text %q", got.Text)
	}
	if !strings.HasPrefix(raster.outDir, tmp) {
		t.Fatalf("expected scratch under %s, got %s", tmp, raster.outDir)
	}
	assertScratchRemoved(t, tmp)
}

func TestExtractPDFReaderErrorFallsBackToOCR(t *testing.T) {
	e, _ := newExtractor(t, &pdfReaderFake{err: errors.New("malformed xref")}, &rasterizerFake{pages: 1}, &engineFake{})

	got, err := e.Extract(context.Background(), writeSource(t, "scan.pdf", []byte("%PDF")))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got.Method != domain.MethodOCR {
		t.Fatalf("expected ocr, got %s", got.Method)
	}
}

func TestExtractOCRFailureIsExtractionError(t *testing.T) {
	e, tmp := newExtractor(t, &pdfReaderFake{}, &rasterizerFake{err: errors.New("pdftoppm: exit status 1")}, &engineFake{})

	_, err := e.Extract(context.Background(), writeSource(t, "scan.pdf", []byte("%PDF")))
	if !domain.IsKind(err, domain.ErrExtraction) {
		t.Fatalf("expected extraction error, got %v", err)
	}
	assertScratchRemoved(t, tmp)

	e, tmp = newExtractor(t, &pdfReaderFake{}, &rasterizerFake{pages: 2}, &engineFake{err: errors.New("tesseract crashed")})
	_, err = e.Extract(context.Background(), writeSource(t, "scan.pdf", []byte("%PDF")))
	if !domain.IsKind(err, domain.ErrExtraction) {
		t.Fatalf("expected extraction error, got %v", err)
	}
	assertScratchRemoved(t, tmp)
}

func TestExtractImageAlwaysOCR(t *testing.T) {
	engine := &engineFake{}
	e, _ := newExtractor(t, &pdfReaderFake{}, &rasterizerFake{}, engine)
	src := writeSource(t, "photo.JPG", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0})

	got, err := e.Extract(context.Background(), src)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got.Method != domain.MethodOCR || got.Pages != 1 {
		t.Fatalf("expected ocr/1, got %s/%d", got.Method, got.Pages)
	}
	if len(engine.calls) != 1 || engine.calls[0] != src {
		t.Fatalf("expected one ocr call on the source, got %v", engine.calls)
	}
	if got.Text != "ocr text of photo.JPG" {
		t.Fatalf("expected normalized text, got %q", got.Text)
	}
}

func TestExtractUndecodableWebPIsExtractionError(t *testing.T) {
	engine := &engineFake{}
	e, _ := newExtractor(t, &pdfReaderFake{}, &rasterizerFake{}, engine)
	src := writeSource(t, "photo.webp", []byte("RIFF\x10\x00\x00\x00WEBPVP8 garbage"))

	_, err := e.Extract(context.Background(), src)
	if !domain.IsKind(err, domain.ErrExtraction) {
		t.Fatalf("expected extraction error, got %v", err)
	}
	if len(engine.calls) != 0 {
		t.Fatalf("ocr must not run on an undecodable image")
	}
}

func TestExtractUnsupportedFormat(t *testing.T) {
	e, _ := newExtractor(t, &pdfReaderFake{}, &rasterizerFake{}, &engineFake{})

	_, err := e.Extract(context.Background(), writeSource(t, "notes.docx", []byte("PK\x03\x04")))
	if !domain.IsKind(err, domain.ErrUnsupportedFormat) {
		t.Fatalf("expected unsupported format, got %v", err)
	}
}

func TestDetectFilePrefersMagicOverExtension(t *testing.T) {
	format, err := DetectFile(writeSource(t, "upload.bin", []byte("%PDF-1.4")))
	if err != nil || format != PDF {
		t.Fatalf("expected pdf from magic, got %s, %v", format, err)
	}
	format, err = DetectFile(writeSource(t, "scan.tiff", []byte("??")))
	if err != nil || format != TIFF {
		t.Fatalf("expected tiff from extension, got %s, %v", format, err)
	}
}

// bmpHeader is a 14-byte file header followed by a BITMAPINFOHEADER size.
const bmpHeader = "BM\x46\x00\x00\x00\x00\x00\x00\x00\x36\x00\x00\x00\x28\x00\x00\x00"

func TestDetectFromMagic(t *testing.T) {
	cases := map[string]Format{
		"%PDF-1.7":              PDF,
		"\x89PNG\r\n\x1a\nxxxx": PNG,
		"\xff\xd8\xff\xe1":      JPEG,
		"II*\x00xxxx":           TIFF,
		"MM\x00*xxxx":           TIFF,
		bmpHeader:               BMP,
		"BMxxxx":                Unknown,
		"RIFF\x00\x00\x00\x00WEBPVP8 ": WEBP,
		"RIFF\x00\x00\x00\x00WAVE":     Unknown,
		"hello":                 Unknown,
	}
	for head, want := range cases {
		if got := DetectFromMagic([]byte(head)); got != want {
			t.Fatalf("DetectFromMagic(%q) = %s, want %s", head, got, want)
		}
	}
}

func TestDetectFileTextStartingWithBMIsUnsupported(t *testing.T) {
	_, err := DetectFile(writeSource(t, "notes.txt", []byte("BMW 320i service invoice, total 420.00")))
	if !domain.IsKind(err, domain.ErrUnsupportedFormat) {
		t.Fatalf("expected unsupported format, got %v", err)
	}

	format, err := DetectFile(writeSource(t, "scan.bmp", []byte("BMW")))
	if err != nil || format != BMP {
		t.Fatalf("expected bmp from extension, got %s, %v", format, err)
	}
}

package textextract

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kirillkom/papertrellis/internal/core/domain"
)

// Format is a supported source format.
type Format int

const (
	Unknown Format = iota
	PDF
	PNG
	JPEG
	TIFF
	BMP
	WEBP
)

func (f Format) String() string {
	switch f {
	case PDF:
		return "pdf"
	case PNG:
		return "png"
	case JPEG:
		return "jpeg"
	case TIFF:
		return "tiff"
	case BMP:
		return "bmp"
	case WEBP:
		return "webp"
	default:
		return "unknown"
	}
}

// IsImage reports whether f is OCRed directly.
func (f Format) IsImage() bool {
	return f != Unknown && f != PDF
}

// SupportedExtensions lists the extensions accepted by DetectFromExtension.
var SupportedExtensions = []string{".pdf", ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp", ".webp"}

// DetectFromExtension maps a file name to a format by extension alone.
func DetectFromExtension(name string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return PDF
	case ".png":
		return PNG
	case ".jpg", ".jpeg":
		return JPEG
	case ".tif", ".tiff":
		return TIFF
	case ".bmp":
		return BMP
	case ".webp":
		return WEBP
	default:
		return Unknown
	}
}

// DetectFromMagic inspects the leading bytes of a file.
func DetectFromMagic(head []byte) Format {
	switch {
	case bytes.HasPrefix(head, []byte("%PDF")):
		return PDF
	case bytes.HasPrefix(head, []byte("\x89PNG\r\n\x1a\n")):
		return PNG
	case bytes.HasPrefix(head, []byte{0xFF, 0xD8, 0xFF}):
		return JPEG
	case bytes.HasPrefix(head, []byte("II*\x00")), bytes.HasPrefix(head, []byte("MM\x00*")):
		return TIFF
	case isBMPHeader(head):
		return BMP
	case len(head) >= 12 && bytes.Equal(head[0:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WEBP")):
		return WEBP
	default:
		return Unknown
	}
}

// sniffLen covers the BMP file header plus the DIB header size field.
const sniffLen = 18

// isBMPHeader checks more than the "BM" tag, which plain text can start
// with: the reserved words must be zero and the DIB header size known.
func isBMPHeader(head []byte) bool {
	if len(head) < sniffLen || !bytes.HasPrefix(head, []byte("BM")) {
		return false
	}
	if binary.LittleEndian.Uint32(head[6:10]) != 0 {
		return false
	}
	switch binary.LittleEndian.Uint32(head[14:18]) {
	case 12, 40, 52, 56, 64, 108, 124:
		return true
	default:
		return false
	}
}

// DetectFile sniffs path, falling back to its extension when the content is
// not recognized.
func DetectFile(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return Unknown, domain.WrapError(domain.ErrExtraction, "detect format", err)
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return Unknown, domain.WrapError(domain.ErrExtraction, "detect format", err)
	}

	if format := DetectFromMagic(head[:n]); format != Unknown {
		return format, nil
	}
	if format := DetectFromExtension(path); format != Unknown {
		return format, nil
	}
	return Unknown, domain.WrapError(domain.ErrUnsupportedFormat, "detect format",
		fmt.Errorf("%s is not one of %s", filepath.Base(path), strings.Join(SupportedExtensions, ", ")))
}

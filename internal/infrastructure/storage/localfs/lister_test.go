package localfs

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kirillkom/papertrellis/internal/core/domain"
)

func TestListFilesLibraryAndFailed(t *testing.T) {
	library, failed := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(library, "Invoices", "Acme", "a.pdf"), []byte("pdf"))
	writeFile(t, filepath.Join(library, "bank.pdf"), []byte("bank"))
	writeFile(t, filepath.Join(library, "deep", "1", "2", "3", "4", "x.pdf"), []byte("x"))
	writeFile(t, filepath.Join(library, ".cache", "hidden.pdf"), []byte("h"))
	writeFile(t, filepath.Join(failed, "batch", "unreadable.pdf"), []byte("broken"))
	lister := NewLister(library, failed)

	files, truncated, err := lister.ListFiles(context.Background(), domain.AreaLibrary, 4, 0)
	if err != nil {
		t.Fatalf("ListFiles(library) error = %v", err)
	}
	if truncated {
		t.Fatalf("library listing should not be truncated")
	}
	got := make([]string, 0, len(files))
	for _, f := range files {
		got = append(got, f.Path)
	}
	if strings.Join(got, ",") != "bank.pdf,Invoices/Acme/a.pdf" {
		t.Fatalf("unexpected library files %v", got)
	}
	if files[0].Size != 4 || files[0].ModifiedAt.IsZero() {
		t.Fatalf("unexpected metadata %+v", files[0])
	}

	files, _, err = lister.ListFiles(context.Background(), domain.AreaFailed, 0, 0)
	if err != nil {
		t.Fatalf("ListFiles(failed) error = %v", err)
	}
	if len(files) != 1 || files[0].Path != "batch/unreadable.pdf" {
		t.Fatalf("unexpected failed files %+v", files)
	}
}

func TestListFilesLimitReportsTruncation(t *testing.T) {
	library := t.TempDir()
	for _, name := range []string{"c.pdf", "a.pdf", "b.pdf"} {
		writeFile(t, filepath.Join(library, name), []byte("x"))
	}

	files, truncated, err := NewLister(library, "").ListFiles(context.Background(), domain.AreaLibrary, 1, 2)
	if err != nil {
		t.Fatalf("ListFiles() error = %v", err)
	}
	if !truncated || len(files) != 2 || files[0].Path != "a.pdf" || files[1].Path != "b.pdf" {
		t.Fatalf("unexpected listing %+v truncated=%v", files, truncated)
	}
}

func TestListFilesUnknownAreaIsInvalidInput(t *testing.T) {
	_, _, err := NewLister(t.TempDir(), t.TempDir()).ListFiles(context.Background(), domain.FileArea("tmp"), 1, 1)
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestListFilesMissingRootIsEmpty(t *testing.T) {
	files, truncated, err := NewLister("", filepath.Join(t.TempDir(), "absent")).ListFiles(context.Background(), domain.AreaFailed, 1, 1)
	if err != nil || truncated || len(files) != 0 {
		t.Fatalf("expected empty listing, got %v %v %v", files, truncated, err)
	}
}

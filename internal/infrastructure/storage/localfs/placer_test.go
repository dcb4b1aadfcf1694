package localfs

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/kirillkom/papertrellis/internal/core/domain"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func newStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "uploads"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestPlaceMovesFileIntoNewDirectory(t *testing.T) {
	s := newStorage(t)
	ingest := t.TempDir()
	library := t.TempDir()
	src := filepath.Join(ingest, "scan.pdf")
	writeFile(t, src, []byte("%PDF-1.4 original"))

	placed, err := s.Place(context.Background(), src, library, filepath.Join("Invoices", "Acme"), "acme.pdf")
	if err != nil {
		t.Fatalf("Place() error = %v", err)
	}
	want := filepath.Join(library, "Invoices", "Acme", "acme.pdf")
	if placed != want {
		t.Fatalf("expected %s, got %s", want, placed)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("expected source to be gone, stat err = %v", err)
	}
	got, err := os.ReadFile(placed)
	if err != nil {
		t.Fatalf("read placed: %v", err)
	}
	if string(got) != "%PDF-1.4 original" {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestPlaceNeverOverwritesExistingFile(t *testing.T) {
	s := newStorage(t)
	ingest := t.TempDir()
	library := t.TempDir()
	existing := filepath.Join(library, "name.pdf")
	writeFile(t, existing, []byte("pre-existing"))

	src := filepath.Join(ingest, "incoming.pdf")
	writeFile(t, src, []byte("incoming"))

	placed, err := s.Place(context.Background(), src, library, "", "name.pdf")
	if err != nil {
		t.Fatalf("Place() error = %v", err)
	}
	if filepath.Base(placed) != "name_1.pdf" {
		t.Fatalf("expected name_1.pdf, got %s", placed)
	}

	old, _ := os.ReadFile(existing)
	if string(old) != "pre-existing" {
		t.Fatalf("existing file was modified: %q", old)
	}
	moved, _ := os.ReadFile(placed)
	if string(moved) != "incoming" {
		t.Fatalf("moved file altered: %q", moved)
	}
}

func TestPlaceSkipsSeveralTakenNames(t *testing.T) {
	s := newStorage(t)
	library := t.TempDir()
	writeFile(t, filepath.Join(library, "a.pdf"), []byte("0"))
	writeFile(t, filepath.Join(library, "a_1.pdf"), []byte("1"))
	writeFile(t, filepath.Join(library, "a_2.pdf"), []byte("2"))

	src := filepath.Join(t.TempDir(), "a.pdf")
	writeFile(t, src, []byte("new"))

	placed, err := s.Place(context.Background(), src, library, "", "a.pdf")
	if err != nil {
		t.Fatalf("Place() error = %v", err)
	}
	if filepath.Base(placed) != "a_3.pdf" {
		t.Fatalf("expected a_3.pdf, got %s", placed)
	}
}

func TestPlaceConcurrentSameNameProducesDistinctFiles(t *testing.T) {
	s := newStorage(t)
	ingest := t.TempDir()
	library := t.TempDir()

	const n = 8
	sources := make([]string, n)
	for i := range sources {
		sources[i] = filepath.Join(ingest, "drop"+strconv.Itoa(i)+".pdf")
		writeFile(t, sources[i], []byte("payload-"+strconv.Itoa(i)))
	}

	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	for i := range sources {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.Place(context.Background(), sources[i], library, "Reports", "report.pdf")
		}(i)
	}
	wg.Wait()

	names := make([]string, 0, n)
	for i, err := range errs {
		if err != nil {
			t.Fatalf("Place(%d) error = %v", i, err)
		}
		got, err := os.ReadFile(results[i])
		if err != nil {
			t.Fatalf("read %s: %v", results[i], err)
		}
		if !bytes.Equal(got, []byte("payload-"+strconv.Itoa(i))) {
			t.Fatalf("file %s has content %q", results[i], got)
		}
		names = append(names, filepath.Base(results[i]))
	}
	sort.Strings(names)

	want := []string{"report.pdf"}
	for i := 1; i < n; i++ {
		want = append(want, "report_"+strconv.Itoa(i)+".pdf")
	}
	sort.Strings(want)
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected names %v, got %v", want, names)
		}
	}
}

func TestPlaceRejectsEscapingDirectory(t *testing.T) {
	s := newStorage(t)
	src := filepath.Join(t.TempDir(), "x.pdf")
	writeFile(t, src, []byte("x"))

	_, err := s.Place(context.Background(), src, t.TempDir(), filepath.Join("..", "outside"), "x.pdf")
	if !domain.IsKind(err, domain.ErrMove) {
		t.Fatalf("expected move error, got %v", err)
	}
	if _, statErr := os.Stat(src); statErr != nil {
		t.Fatalf("source must stay in place: %v", statErr)
	}
}

func TestPlaceMissingSourceLeavesNoPlaceholder(t *testing.T) {
	s := newStorage(t)
	library := t.TempDir()

	_, err := s.Place(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"), library, "", "missing.pdf")
	if !domain.IsKind(err, domain.ErrMove) {
		t.Fatalf("expected move error, got %v", err)
	}
	entries, _ := os.ReadDir(library)
	if len(entries) != 0 {
		t.Fatalf("expected empty library, got %d entries", len(entries))
	}
}

func TestPlaceCanceledContext(t *testing.T) {
	s := newStorage(t)
	src := filepath.Join(t.TempDir(), "x.pdf")
	writeFile(t, src, []byte("x"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Place(ctx, src, t.TempDir(), "", "x.pdf"); !domain.IsKind(err, domain.ErrMove) {
		t.Fatalf("expected move error, got %v", err)
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("source must stay in place: %v", err)
	}
}

func TestCopyAcrossRemovesSource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.pdf")
	writeFile(t, src, []byte("cross-device"))
	reserved, err := reserve(filepath.Join(dir, "dst"), "src.pdf")
	if err == nil {
		t.Fatalf("expected reserve in missing dir to fail, got %s", reserved)
	}

	if err := os.MkdirAll(filepath.Join(dir, "dst"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	reserved, err = reserve(filepath.Join(dir, "dst"), "src.pdf")
	if err != nil {
		t.Fatalf("reserve() error = %v", err)
	}
	info, _ := os.Stat(src)
	if err := copyAcross(src, reserved, info); err != nil {
		t.Fatalf("copyAcross() error = %v", err)
	}
	got, _ := os.ReadFile(reserved)
	if string(got) != "cross-device" {
		t.Fatalf("unexpected copy %q", got)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("expected source removed, stat err = %v", err)
	}
}

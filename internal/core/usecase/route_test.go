package usecase

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/papertrellis/internal/core/domain"
	"github.com/kirillkom/papertrellis/internal/core/ports"
	"github.com/kirillkom/papertrellis/internal/infrastructure/storage/localfs"
)

type routeFixture struct {
	ingest    string
	library   string
	failed    string
	templates *templateStoreFake
	records   *recordStoreFake
	extractor *extractorFake
	publisher *publisherFake
	claims    *Claims
	uc        *RouteDocumentUseCase
}

func newRouteFixture(t *testing.T) *routeFixture {
	t.Helper()
	root := t.TempDir()
	storage, err := localfs.New(filepath.Join(root, "tmp"))
	if err != nil {
		t.Fatalf("localfs.New() error = %v", err)
	}

	tpl := invoiceTemplate()
	tpl.CreatedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	f := &routeFixture{
		ingest:    filepath.Join(root, "ingest"),
		library:   filepath.Join(root, "library"),
		failed:    filepath.Join(root, "failed"),
		templates: &templateStoreFake{templates: []domain.Template{tpl}},
		records:   &recordStoreFake{},
		extractor: &extractorFake{result: domain.Extraction{
			Text:   "INVOICE\nAcme Corp\nInvoice #4521\nDate: 2024-03-01\nTotal Due: 100.00",
			Method: domain.MethodEmbedded,
			Pages:  1,
		}},
		publisher: &publisherFake{},
		claims:    NewClaims(),
	}
	f.uc = NewRouteDocumentUseCase(f.templates, f.records, f.extractor, storage, f.publisher, f.claims, RouteConfig{
		LibraryRoot:           f.library,
		FailedRoot:            f.failed,
		PreserveIngestSubdirs: true,
	}, nil)
	return f
}

func (f *routeFixture) drop(t *testing.T, rel string, data []byte) string {
	t.Helper()
	path := filepath.Join(f.ingest, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func (f *routeFixture) request(path string) ports.RouteRequest {
	return ports.RouteRequest{Path: path, Source: domain.SourceIngest, IngestRoot: f.ingest}
}

func TestRouteInvoiceToLibrary(t *testing.T) {
	f := newRouteFixture(t)
	src := f.drop(t, "scan.pdf", []byte("%PDF-1.7 invoice"))

	doc, err := f.uc.Route(context.Background(), f.request(src))
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if doc.Status != domain.StatusRouted || doc.Stage != domain.StageMoved {
		t.Fatalf("expected routed/moved, got %s/%s", doc.Status, doc.Stage)
	}
	want := filepath.Join(f.library, "Invoices", "Acme Corp", "2024", "Acme Corp_4521.pdf")
	if doc.DestinationPath != want {
		t.Fatalf("expected %s, got %s", want, doc.DestinationPath)
	}
	if doc.MatchedTemplateID != "tpl-invoice" || doc.Fields["invoice_number"] != "4521" {
		t.Fatalf("unexpected match data: %+v", doc)
	}
	if doc.ExtractionMethod != domain.MethodEmbedded {
		t.Fatalf("expected embedded method, got %s", doc.ExtractionMethod)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("expected source moved away, stat err = %v", err)
	}
	if len(f.records.pending) != 1 || f.records.pending[0].Status != domain.StatusPending {
		t.Fatalf("expected one pending record before the move, got %+v", f.records.pending)
	}
	if len(f.records.outcomes) != 1 || f.records.outcomes[0].Status != domain.StatusRouted {
		t.Fatalf("expected routed outcome, got %+v", f.records.outcomes)
	}
	if len(f.publisher.docs) != 1 {
		t.Fatalf("expected one published outcome, got %d", len(f.publisher.docs))
	}
	if f.claims.Len() != 0 {
		t.Fatalf("expected claim released")
	}
}

func TestRoutePreservesIngestSubdir(t *testing.T) {
	f := newRouteFixture(t)
	src := f.drop(t, "batch-7/scan.pdf", []byte("%PDF"))

	doc, err := f.uc.Route(context.Background(), f.request(src))
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	want := filepath.Join(f.library, "Invoices", "Acme Corp", "2024", "batch-7", "Acme Corp_4521.pdf")
	if doc.DestinationPath != want {
		t.Fatalf("expected %s, got %s", want, doc.DestinationPath)
	}
}

func TestRouteNoTemplateMatchKeepsBytes(t *testing.T) {
	f := newRouteFixture(t)
	f.extractor.result = domain.Extraction{Text: "holiday postcard", Method: domain.MethodOCR, Pages: 1}
	original := []byte("\x89PNG\r\n\x1a\n original image bytes")
	src := f.drop(t, "inbox/card.png", original)

	doc, err := f.uc.Route(context.Background(), f.request(src))
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if doc.Status != domain.StatusFailed || doc.FailureKind != domain.FailureNoTemplateMatch {
		t.Fatalf("expected failed/no_template_match, got %s/%s", doc.Status, doc.FailureKind)
	}
	want := filepath.Join(f.failed, "inbox", "card.png")
	if doc.DestinationPath != want {
		t.Fatalf("expected %s, got %s", want, doc.DestinationPath)
	}
	got, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read failed copy: %v", err)
	}
	if !bytes.Equal(got, original) {
		t.Fatalf("failed-area file differs from source")
	}
	if doc.MatchedTemplateID != "" {
		t.Fatalf("expected no matched template, got %s", doc.MatchedTemplateID)
	}
}

func TestRouteRenderErrorGoesToFailed(t *testing.T) {
	f := newRouteFixture(t)
	f.extractor.result = domain.Extraction{Text: "INVOICE Total Due Acme Corp", Method: domain.MethodEmbedded}
	src := f.drop(t, "scan.pdf", []byte("%PDF"))

	doc, err := f.uc.Route(context.Background(), f.request(src))
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if doc.FailureKind != domain.FailureRender {
		t.Fatalf("expected render_error, got %s (%s)", doc.FailureKind, doc.FailureReason)
	}
	if doc.MatchedTemplateID != "tpl-invoice" {
		t.Fatalf("expected matched template recorded, got %q", doc.MatchedTemplateID)
	}
	if _, err := os.Stat(filepath.Join(f.failed, "scan.pdf")); err != nil {
		t.Fatalf("expected file in failed area: %v", err)
	}
}

func TestRouteUnsupportedFormat(t *testing.T) {
	f := newRouteFixture(t)
	f.extractor.err = domain.WrapError(domain.ErrUnsupportedFormat, "detect format", errors.New(".docx"))
	src := f.drop(t, "notes.docx", []byte("PK"))

	doc, err := f.uc.Route(context.Background(), f.request(src))
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if doc.FailureKind != domain.FailureUnsupportedFormat || doc.Stage != domain.StageFailed {
		t.Fatalf("unexpected outcome %s/%s", doc.FailureKind, doc.Stage)
	}
}

func TestRouteClaimConflictLeavesFileAlone(t *testing.T) {
	f := newRouteFixture(t)
	src := f.drop(t, "scan.pdf", []byte("%PDF"))

	release, err := f.claims.TryClaim(src)
	if err != nil {
		t.Fatalf("TryClaim() error = %v", err)
	}
	defer release()

	doc, err := f.uc.Route(context.Background(), f.request(src))
	if !domain.IsKind(err, domain.ErrClaimConflict) {
		t.Fatalf("expected claim conflict, got doc=%+v err=%v", doc, err)
	}
	if len(f.records.pending) != 0 {
		t.Fatalf("claim conflict must not persist anything")
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("source must stay in place: %v", err)
	}
}

func TestRouteUnreachableStoreLeavesFileInIngest(t *testing.T) {
	f := newRouteFixture(t)
	f.records.createErr = domain.WrapError(domain.ErrTemporary, "create pending", errors.New("connection refused"))
	src := f.drop(t, "scan.pdf", []byte("%PDF"))

	_, err := f.uc.Route(context.Background(), f.request(src))
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("source must stay in ingest: %v", err)
	}
	if f.claims.Held(src) {
		t.Fatalf("claim must be released after a temporary failure")
	}
}

func TestRouteTemplateStoreErrorIsTemporary(t *testing.T) {
	f := newRouteFixture(t)
	f.templates.listErr = errors.New("db gone")
	src := f.drop(t, "scan.pdf", []byte("%PDF"))

	if _, err := f.uc.Route(context.Background(), f.request(src)); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	if len(f.records.pending) != 0 {
		t.Fatalf("expected no pending record")
	}
}

func TestRouteFailedAreaUnavailableLeavesFileInPlace(t *testing.T) {
	f := newRouteFixture(t)
	f.extractor.result = domain.Extraction{Text: "nothing", Method: domain.MethodOCR}
	if err := os.MkdirAll(filepath.Dir(f.failed), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(f.failed, []byte("not a dir"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	src := f.drop(t, "sub/scan.pdf", []byte("%PDF"))

	doc, err := f.uc.Route(context.Background(), f.request(src))
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if doc.Status != domain.StatusFailed || doc.DestinationPath != "" {
		t.Fatalf("expected failed without destination, got %s %q", doc.Status, doc.DestinationPath)
	}
	if !strings.Contains(doc.FailureReason, "failed-area move") {
		t.Fatalf("expected both errors in reason, got %q", doc.FailureReason)
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("source must stay in place: %v", err)
	}
}

func TestRouteCanceledDuringExtractionIsTemporary(t *testing.T) {
	f := newRouteFixture(t)
	f.extractor.block = true
	src := f.drop(t, "scan.pdf", []byte("%PDF"))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := f.uc.Route(ctx, f.request(src))
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("source must stay in ingest: %v", err)
	}
	if len(f.records.outcomes) != 0 {
		t.Fatalf("expected no outcome, got %+v", f.records.outcomes)
	}
}

func TestRouteDecisionDeadlineFailsDocument(t *testing.T) {
	f := newRouteFixture(t)
	f.extractor.block = true
	f.uc.cfg.DecisionTimeout = 20 * time.Millisecond
	src := f.drop(t, "slow/scan.pdf", []byte("%PDF"))

	doc, err := f.uc.Route(context.Background(), f.request(src))
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if doc.Status != domain.StatusFailed || doc.FailureKind != domain.FailureExtraction {
		t.Fatalf("expected failed/extraction_error, got %s/%s", doc.Status, doc.FailureKind)
	}
	if !strings.Contains(doc.FailureReason, "decision deadline exceeded") {
		t.Fatalf("expected deadline in failure reason, got %q", doc.FailureReason)
	}
	want := filepath.Join(f.failed, "slow", "scan.pdf")
	if doc.DestinationPath != want {
		t.Fatalf("expected %s, got %s", want, doc.DestinationPath)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("source must leave ingest, stat err = %v", err)
	}
	if len(f.records.outcomes) != 1 || len(f.publisher.docs) != 1 {
		t.Fatalf("expected one outcome and one event, got %d/%d", len(f.records.outcomes), len(f.publisher.docs))
	}
}

func TestRouteCallerDeadlineIsNotRetried(t *testing.T) {
	f := newRouteFixture(t)
	f.extractor.block = true
	src := f.drop(t, "scan.pdf", []byte("%PDF"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	doc, err := f.uc.Route(ctx, f.request(src))
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if doc.Status != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", doc.Status)
	}
	if _, err := os.Stat(filepath.Join(f.failed, "scan.pdf")); err != nil {
		t.Fatalf("expected file in failed area: %v", err)
	}
	if len(f.records.pending) != 1 {
		t.Fatalf("expected a single pending record, got %d", len(f.records.pending))
	}
}

func TestRouteConcurrentDropsSameDestination(t *testing.T) {
	f := newRouteFixture(t)
	tpl := domain.Template{
		ID:                 "tpl-report",
		Name:               "Reports",
		Enabled:            true,
		MatchMode:          domain.MatchAny,
		MatchPatterns:      []string{"quarterly report"},
		OutputPathTemplate: "Reports",
		FilenameTemplate:   "report",
	}
	f.templates.templates = []domain.Template{tpl}
	f.extractor.result = domain.Extraction{Text: "Quarterly Report", Method: domain.MethodEmbedded}

	a := f.drop(t, "a/q1.pdf", []byte("first"))
	b := f.drop(t, "b/q1.pdf", []byte("second"))
	f.uc.cfg.PreserveIngestSubdirs = false

	var wg sync.WaitGroup
	docs := make([]*domain.Document, 2)
	errs := make([]error, 2)
	for i, src := range []string{a, b} {
		wg.Add(1)
		go func(i int, src string) {
			defer wg.Done()
			docs[i], errs[i] = f.uc.Route(context.Background(), f.request(src))
		}(i, src)
	}
	wg.Wait()

	names := make([]string, 0, 2)
	contents := make([]string, 0, 2)
	for i := range docs {
		if errs[i] != nil {
			t.Fatalf("Route(%d) error = %v", i, errs[i])
		}
		if docs[i].Status != domain.StatusRouted {
			t.Fatalf("Route(%d) status = %s (%s)", i, docs[i].Status, docs[i].FailureReason)
		}
		names = append(names, filepath.Base(docs[i].DestinationPath))
		raw, err := os.ReadFile(docs[i].DestinationPath)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		contents = append(contents, string(raw))
	}
	sort.Strings(names)
	sort.Strings(contents)
	if names[0] != "report.pdf" || names[1] != "report_1.pdf" {
		t.Fatalf("expected report.pdf and report_1.pdf, got %v", names)
	}
	if contents[0] != "first" || contents[1] != "second" {
		t.Fatalf("expected both payloads intact, got %v", contents)
	}
}

func TestRouteUploadUsesOriginalFilename(t *testing.T) {
	f := newRouteFixture(t)
	f.extractor.result = domain.Extraction{Text: "unrelated", Method: domain.MethodOCR}
	staged := f.drop(t, "0f3c_scan_final.pdf", []byte("%PDF"))

	doc, err := f.uc.Route(context.Background(), ports.RouteRequest{
		Path:             staged,
		Source:           domain.SourceUpload,
		OriginalFilename: "scan final.pdf",
	})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if doc.Source != domain.SourceUpload || doc.OriginalFilename != "scan final.pdf" {
		t.Fatalf("unexpected document %+v", doc)
	}
	if doc.DestinationPath != filepath.Join(f.failed, "scan final.pdf") {
		t.Fatalf("unexpected failed destination %s", doc.DestinationPath)
	}
}

func TestIngestSubdir(t *testing.T) {
	root := filepath.Join(t.TempDir(), "ingest")
	cases := map[string]string{
		filepath.Join(root, "a.pdf"):           "",
		filepath.Join(root, "x", "y", "a.pdf"): "x/y",
		filepath.Join(root, "..", "a.pdf"):     "",
	}
	for file, want := range cases {
		if got := IngestSubdir(root, file); got != want {
			t.Fatalf("IngestSubdir(%s) = %q, want %q", file, got, want)
		}
	}
}

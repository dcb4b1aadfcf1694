package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/papertrellis/internal/config"
	"github.com/kirillkom/papertrellis/internal/core/domain"
	"github.com/kirillkom/papertrellis/internal/core/ports"
	"github.com/kirillkom/papertrellis/internal/core/usecase"
	"github.com/kirillkom/papertrellis/internal/observability/metrics"
)

const (
	defaultService     = "api"
	maxJSONBodyBytes   = 1 << 20
	overloadWait       = 250 * time.Millisecond
	exportFilename     = "routing-history.xlsx"
	defaultFolderDepth = 4
	defaultFileLimit   = 500
	maxFileLimit       = 5000
)

// HealthChecker reports whether the record store is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Dependencies struct {
	Service   string
	Uploader  ports.DocumentUploader
	Documents ports.DocumentReader
	Templates ports.TemplateService
	Library   ports.LibraryLister
	Exporter  ports.DocumentExporter
	Health    HealthChecker
	Metrics   *metrics.HTTPServerMetrics
	Logger    *slog.Logger
}

type Router struct {
	cfg  config.Config
	deps Dependencies
}

func NewRouter(cfg config.Config, deps Dependencies) *Router {
	if deps.Service == "" {
		deps.Service = defaultService
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Router{cfg: cfg, deps: deps}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.deps.Metrics != nil {
		mux.Handle("GET /metrics", rt.deps.Metrics.Handler())
	}

	mux.HandleFunc("POST /v1/documents", rt.uploadDocument)
	mux.HandleFunc("GET /v1/documents", rt.listDocuments)
	mux.HandleFunc("GET /v1/documents/export.xlsx", rt.exportDocuments)
	mux.HandleFunc("GET /v1/documents/{id}", rt.getDocument)
	mux.HandleFunc("GET /v1/library/folders", rt.listFolders)
	mux.HandleFunc("GET /v1/library/files", rt.listFiles)

	mux.HandleFunc("GET /v1/templates", rt.listTemplates)
	mux.HandleFunc("POST /v1/templates", rt.createTemplate)
	mux.HandleFunc("GET /v1/templates/{id}", rt.getTemplate)
	mux.HandleFunc("PUT /v1/templates/{id}", rt.updateTemplate)
	mux.HandleFunc("DELETE /v1/templates/{id}", rt.deleteTemplate)
	mux.HandleFunc("POST /v1/templates/{id}/test", rt.testTemplate)

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, overloadWait)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	if rt.deps.Metrics != nil {
		handler = rt.deps.Metrics.Middleware(rt.deps.Service, handler)
	}
	handler = accessLogMiddleware(handler, rt.deps.Logger)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, r *http.Request) {
	if rt.deps.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := rt.deps.Health.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if rt.cfg.UploadMaxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, rt.cfg.UploadMaxBytes)
	}

	reader, err := r.MultipartReader()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart body is required"})
		return
	}

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
			return
		}
		if err != nil {
			rt.writeError(w, r, fmt.Errorf("read multipart: %w", err))
			return
		}
		if part.FormName() != "file" {
			_ = part.Close()
			continue
		}

		body := &countingReader{r: part}
		doc, err := rt.deps.Uploader.Upload(r.Context(), part.FileName(), body)
		_ = part.Close()
		if rt.deps.Metrics != nil {
			rt.deps.Metrics.RecordUpload(rt.deps.Service, body.n, doc)
		}
		if err != nil {
			rt.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, doc)
		return
	}
}

func (rt *Router) listDocuments(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", usecase.DefaultHistoryLimit)
	if !ok {
		return
	}
	docs, err := rt.deps.Documents.ListRecent(r.Context(), limit)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := rt.deps.Documents.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) exportDocuments(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", usecase.MaxHistoryLimit)
	if !ok {
		return
	}
	docs, err := rt.deps.Documents.ListRecent(r.Context(), limit)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := rt.deps.Exporter.ExportDocuments(r.Context(), docs, &buf); err != nil {
		rt.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportFilename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (rt *Router) listFolders(w http.ResponseWriter, r *http.Request) {
	depth, ok := queryInt(w, r, "depth", defaultFolderDepth)
	if !ok {
		return
	}
	folders, err := rt.deps.Library.ListFolders(r.Context(), depth)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"folders": folders})
}

func (rt *Router) listFiles(w http.ResponseWriter, r *http.Request) {
	depth, ok := queryInt(w, r, "depth", defaultFolderDepth)
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit", defaultFileLimit)
	if !ok {
		return
	}
	area := domain.FileArea(strings.TrimSpace(r.URL.Query().Get("area")))
	if area == "" {
		area = domain.AreaLibrary
	}
	files, truncated, err := rt.deps.Library.ListFiles(r.Context(), area, depth, min(limit, maxFileLimit))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"area": area, "files": files, "truncated": truncated})
}

func (rt *Router) listTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := rt.deps.Templates.List(r.Context())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": templates})
}

func (rt *Router) createTemplate(w http.ResponseWriter, r *http.Request) {
	var tpl domain.Template
	if !decodeJSON(w, r, &tpl) {
		return
	}
	created, err := rt.deps.Templates.Create(r.Context(), tpl)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (rt *Router) getTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := rt.deps.Templates.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (rt *Router) updateTemplate(w http.ResponseWriter, r *http.Request) {
	var tpl domain.Template
	if !decodeJSON(w, r, &tpl) {
		return
	}
	updated, err := rt.deps.Templates.Update(r.Context(), r.PathValue("id"), tpl)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (rt *Router) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := rt.deps.Templates.Delete(r.Context(), r.PathValue("id")); err != nil {
		rt.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) testTemplate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text     string `json:"text"`
		Filename string `json:"filename"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
		return
	}

	result, err := rt.deps.Templates.Test(r.Context(), r.PathValue("id"), req.Text, req.Filename)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if rt.deps.Metrics != nil {
		rt.deps.Metrics.RecordTemplateTest(rt.deps.Service, result.Matched)
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		loggerFromRequest(r, rt.deps.Logger).Error("request failed",
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return false
	}
	return true
}

func queryInt(w http.ResponseWriter, r *http.Request, key string, fallback int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("%s must be a non-negative integer", key)})
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

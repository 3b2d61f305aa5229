package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"web-content-analyzer/internal/crawler"
	"web-content-analyzer/internal/guard"
	"web-content-analyzer/internal/ioformats"
	"web-content-analyzer/internal/models"
	"web-content-analyzer/internal/pipeline"
	"web-content-analyzer/internal/sanitizer"
	"web-content-analyzer/pkg/logger"
)

const (
	maxJSONBody   = 1 << 20
	maxUploadBody = 32 << 20
)

// service is satisfied by *pipeline.Service.
type service interface {
	Extract(ctx context.Context, rawURL string) (*models.Document, error)
	Analyze(ctx context.Context, rawURL string) (*models.Report, error)
	AnalyzeBatch(ctx context.Context, urls []string, concurrency int) []models.BatchItem
}

type server struct {
	svc          service
	sanitizer    *sanitizer.Sanitizer
	metrics      http.Handler
	log          *logger.Logger
	timeout      time.Duration
	// batchTimeout bounds a whole batch or upload and must stay below the
	// server's WriteTimeout.
	batchTimeout time.Duration
	concurrency  int
	maxURLs      int
}

type urlReq struct {
	URL string `json:"url"`
}

type batchReq struct {
	URLs []string `json:"urls"`
}

type sanitizeReq struct {
	HTML   string `json:"html"`
	Format string `json:"format,omitempty"`
}

type sanitizeResp struct {
	HTML     string `json:"html"`
	Markdown string `json:"markdown,omitempty"`
}

type errorResp struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logRequest(s.log))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", s.metrics)

	r.Post("/extract", s.handleExtract)
	r.Post("/analyze", s.handleAnalyze)
	r.Post("/analyze/batch", s.handleBatch)
	r.Post("/analyze/upload", s.handleUpload)
	r.Post("/export/csv", s.handleExportCSV)
	r.Post("/export/pdf", s.handleExportPDF)
	r.Post("/sanitize", s.handleSanitize)
	return r
}

// POST /extract  { "url": "https://..." }
func (s *server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req urlReq
	if !decode(w, r, &req) || !requireURL(w, req.URL) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	doc, err := s.svc.Extract(ctx, req.URL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// POST /analyze  { "url": "https://..." }
func (s *server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req urlReq
	if !decode(w, r, &req) || !requireURL(w, req.URL) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	report, err := s.svc.Analyze(ctx, req.URL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// POST /analyze/batch  { "urls": ["https://...", "..."] }
func (s *server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchReq
	if !decode(w, r, &req) {
		return
	}
	if !s.checkBatchSize(w, len(req.URLs)) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.batchTimeout)
	defer cancel()

	writeJSON(w, http.StatusOK, s.svc.AnalyzeBatch(ctx, req.URLs, s.concurrency))
}

// POST /analyze/upload (multipart file=...) -> NDJSON
func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "file part 'file' required"})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "read upload: " + err.Error()})
		return
	}
	urls, err := ioformats.ParseURLs(data, hdr.Filename)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	if !s.checkBatchSize(w, len(urls)) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.batchTimeout)
	defer cancel()

	items := s.svc.AnalyzeBatch(ctx, urls, s.concurrency)
	w.Header().Set("Content-Type", "application/x-ndjson")
	if err := ioformats.WriteNDJSON(w, items); err != nil {
		s.log.Errorf("write ndjson: %v", err)
	}
}

// POST /export/csv  a report or a list of reports
func (s *server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	reports, ok := decodeReports(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := ioformats.WriteReportCSV(&buf, reports); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeAttachment(w, "text/csv; charset=utf-8", "report.csv", buf.Bytes())
}

// POST /export/pdf  a single report
func (s *server) handleExportPDF(w http.ResponseWriter, r *http.Request) {
	reports, ok := decodeReports(w, r)
	if !ok {
		return
	}
	if len(reports) != 1 || reports[0] == nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "exactly one report required"})
		return
	}

	var buf bytes.Buffer
	if err := ioformats.WriteReportPDF(&buf, reports[0]); err != nil {
		s.log.Errorf("render pdf: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResp{Error: "failed to generate pdf"})
		return
	}
	writeAttachment(w, "application/pdf", "analysis_report.pdf", buf.Bytes())
}

// decodeReports accepts a single report object or a JSON array of them.
func decodeReports(w http.ResponseWriter, r *http.Request) ([]*models.Report, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "read body: " + err.Error()})
		return nil, false
	}
	var reports []*models.Report
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &reports)
	} else {
		var one models.Report
		err = json.Unmarshal(trimmed, &one)
		reports = []*models.Report{&one}
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "invalid payload"})
		return nil, false
	}
	return reports, true
}

func writeAttachment(w http.ResponseWriter, contentType, filename string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// POST /sanitize  { "html": "...", "format": "markdown" }
func (s *server) handleSanitize(w http.ResponseWriter, r *http.Request) {
	var req sanitizeReq
	if !decode(w, r, &req) {
		return
	}
	resp := sanitizeResp{HTML: s.sanitizer.Sanitize(req.HTML)}
	switch req.Format {
	case "", "html":
	case "markdown":
		md, err := s.sanitizer.Markdown(req.HTML)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResp{Error: err.Error()})
			return
		}
		resp.Markdown = md
	default:
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "format must be html or markdown"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) checkBatchSize(w http.ResponseWriter, n int) bool {
	switch {
	case n == 0:
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "no urls given"})
		return false
	case n > s.maxURLs:
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "too many urls in one batch"})
		return false
	}
	return true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "invalid payload"})
		return false
	}
	return true
}

func requireURL(w http.ResponseWriter, u string) bool {
	if u == "" {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "url is required", Reason: string(guard.ReasonInvalidURL)})
		return false
	}
	return true
}

// statusFor maps pipeline errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		rejected *guard.RejectionError
		invalid  *crawler.InvalidContentError
	)
	switch {
	case errors.As(err, &rejected):
		if rejected.Reason == guard.ReasonInvalidURL {
			return http.StatusBadRequest
		}
		return http.StatusForbidden
	case errors.As(err, &invalid):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, models.ErrContentTooShort):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrAnalysisFailed), errors.Is(err, crawler.ErrFetchFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	resp := errorResp{Error: err.Error()}
	var rejected *guard.RejectionError
	if errors.As(err, &rejected) {
		resp.Reason = string(rejected.Reason)
	}
	writeJSON(w, statusFor(err), resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func logRequest(l *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			l.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

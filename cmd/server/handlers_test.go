package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"web-content-analyzer/internal/analysis"
	"web-content-analyzer/internal/crawler"
	"web-content-analyzer/internal/guard"
	"web-content-analyzer/internal/ioformats"
	"web-content-analyzer/internal/metrics"
	"web-content-analyzer/internal/models"
	"web-content-analyzer/internal/pipeline"
	"web-content-analyzer/internal/sanitizer"
	"web-content-analyzer/pkg/logger"
)

type stubService struct {
	errs map[string]error
	// batchDeadline records the deadline seen by the last AnalyzeBatch call.
	batchDeadline time.Time
	hadDeadline   bool
}

func (s *stubService) Extract(_ context.Context, rawURL string) (*models.Document, error) {
	if err := s.errs[rawURL]; err != nil {
		return nil, err
	}
	title := "Title for " + rawURL
	return &models.Document{Title: &title, ContentType: models.ContentTypeGeneric, KeyPhrases: []string{}}, nil
}

func (s *stubService) Analyze(ctx context.Context, rawURL string) (*models.Report, error) {
	doc, err := s.Extract(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return &models.Report{ID: "id-" + rawURL, URL: rawURL, ContentAnalysis: *doc}, nil
}

func (s *stubService) AnalyzeBatch(ctx context.Context, urls []string, _ int) []models.BatchItem {
	s.batchDeadline, s.hadDeadline = ctx.Deadline()
	out := make([]models.BatchItem, len(urls))
	for i, u := range urls {
		out[i].URL = u
		if r, err := s.Analyze(ctx, u); err != nil {
			out[i].Error = err.Error()
		} else {
			out[i].Result = r
		}
	}
	return out
}

func testServer(t *testing.T, errs map[string]error) http.Handler {
	t.Helper()
	return testServerWith(t, &stubService{errs: errs})
}

func testServerWith(t *testing.T, svc *stubService) http.Handler {
	t.Helper()
	s := &server{
		svc:          svc,
		sanitizer:    sanitizer.New(),
		metrics:      metrics.New().Handler(),
		log:          logger.Discard(),
		timeout:      5 * time.Second,
		batchTimeout: 10 * time.Second,
		concurrency:  2,
		maxURLs:      3,
	}
	return s.routes()
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	testServer(t, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	testServer(t, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestExtractEndpoint(t *testing.T) {
	rec := post(t, testServer(t, nil), "/extract", `{"url":"https://a.example/"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "Title for https://a.example/", doc["title"])
	assert.Contains(t, doc, "meta_description")
	assert.Contains(t, doc, "document_outline")
}

func TestAnalyzeEndpoint(t *testing.T) {
	rec := post(t, testServer(t, nil), "/analyze", `{"url":"https://a.example/"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var r models.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &r))
	assert.Equal(t, "https://a.example/", r.URL)
}

func TestBadPayloads(t *testing.T) {
	h := testServer(t, nil)
	assert.Equal(t, http.StatusBadRequest, post(t, h, "/analyze", `{`).Code)
	assert.Equal(t, http.StatusBadRequest, post(t, h, "/analyze", `{"url":""}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(t, h, "/analyze/batch", `{"urls":[]}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(t, h, "/analyze/batch", `{"urls":["a","b","c","d"]}`).Code)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/analyze", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	errs := map[string]error{
		"bad":     guard.Verdict{Reason: guard.ReasonInvalidURL}.Err(),
		"private": guard.Verdict{Reason: guard.ReasonPrivateIP}.Err(),
		"pdf":     &crawler.InvalidContentError{ContentType: "application/pdf", Err: crawler.ErrNotHTML},
		"huge":    &crawler.InvalidContentError{Length: 1 << 30, Err: crawler.ErrTooLarge},
		"short":   &models.ContentTooShortError{Chars: 3, Words: 1},
		"down":    &crawler.FetchError{URL: "down", Attempts: 3, Err: errors.New("refused")},
		"llm":     fmt.Errorf("%w: %w", pipeline.ErrAnalysisFailed, errors.New("quota")),
		"slow":    context.DeadlineExceeded,
		"boom":    errors.New("boom"),
	}
	want := map[string]int{
		"bad":     http.StatusBadRequest,
		"private": http.StatusForbidden,
		"pdf":     http.StatusUnsupportedMediaType,
		"huge":    http.StatusUnsupportedMediaType,
		"short":   http.StatusUnprocessableEntity,
		"down":    http.StatusBadGateway,
		"llm":     http.StatusBadGateway,
		"slow":    http.StatusGatewayTimeout,
		"boom":    http.StatusInternalServerError,
	}
	h := testServer(t, errs)
	for name, code := range want {
		t.Run(name, func(t *testing.T) {
			rec := post(t, h, "/analyze", `{"url":"`+name+`"}`)
			assert.Equal(t, code, rec.Code)

			var resp errorResp
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}

	rec := post(t, h, "/extract", `{"url":"private"}`)
	var resp errorResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "private-ip", resp.Reason)
}

func TestBatchEndpoint(t *testing.T) {
	errs := map[string]error{"https://b.example/": guard.Verdict{Reason: guard.ReasonBlacklisted}.Err()}
	rec := post(t, testServer(t, errs), "/analyze/batch", `{"urls":["https://a.example/","https://b.example/"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var items []models.BatchItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 2)
	assert.NotNil(t, items[0].Result)
	assert.Contains(t, items[1].Error, "blacklisted")
}

func TestUploadEndpoint(t *testing.T) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "urls.csv")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("url\nhttps://a.example/\nhttps://b.example/\n"))
	require.NoError(t, mw.Close())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/analyze/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	testServer(t, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	assert.Len(t, lines, 2)
}

func TestBatchIsBounded(t *testing.T) {
	svc := &stubService{}
	start := time.Now()
	rec := post(t, testServerWith(t, svc), "/analyze/batch", `{"urls":["https://a.example/"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	require.True(t, svc.hadDeadline)
	assert.WithinDuration(t, start.Add(10*time.Second), svc.batchDeadline, 2*time.Second)
}

func TestUploadIsBounded(t *testing.T) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "urls.ndjson")
	require.NoError(t, err)
	_, _ = fw.Write([]byte(`{"url":"https://a.example/"}` + "\n"))
	require.NoError(t, mw.Close())

	svc := &stubService{}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/analyze/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	testServerWith(t, svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, svc.hadDeadline)
}

func TestAnalysisErrorDoesNotLeakKey(t *testing.T) {
	closed := httptest.NewServer(http.NotFoundHandler())
	baseURL := closed.URL
	closed.Close()

	a, err := analysis.NewGemini(analysis.Config{APIKey: "SECRET-KEY-123", BaseURL: baseURL})
	require.NoError(t, err)
	_, callErr := a.Analyze(context.Background(), "text")
	require.Error(t, callErr)

	errs := map[string]error{"https://a.example/": fmt.Errorf("%w: %w", pipeline.ErrAnalysisFailed, callErr)}
	h := testServer(t, errs)

	rec := post(t, h, "/analyze", `{"url":"https://a.example/"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NotContains(t, rec.Body.String(), "SECRET-KEY-123")

	rec = post(t, h, "/analyze/batch", `{"urls":["https://a.example/"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "SECRET-KEY-123")
}

func TestUploadRequiresFile(t *testing.T) {
	rec := post(t, testServer(t, nil), "/analyze/upload", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportCSV(t *testing.T) {
	h := testServer(t, nil)
	one := `{"id":"r1","url":"https://a.example/","content_analysis":{"key_phrases":["a","b"]}}`

	for _, body := range []string{one, "[" + one + "," + one + "]"} {
		rec := post(t, h, "/export/csv", body)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")

		rows, err := csv.NewReader(rec.Body).ReadAll()
		require.NoError(t, err)
		assert.Equal(t, ioformats.ReportHeader, rows[0])
		assert.Equal(t, "r1", rows[1][0])
	}

	assert.Equal(t, http.StatusBadRequest, post(t, h, "/export/csv", `nope`).Code)
}

func TestExportPDF(t *testing.T) {
	h := testServer(t, nil)
	one := `{"id":"r1","url":"https://a.example/","ai_summary":{"summary":"s","key_points":["k"],` +
		`"sentiment_analysis":{"sentiment":"Neutral","tone":"Calm"},"seo_analysis":{"recommendations":[],"target_keywords":[]}}}`

	rec := post(t, h, "/export/pdf", one)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "analysis_report.pdf")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "%PDF-"))

	assert.Equal(t, http.StatusBadRequest, post(t, h, "/export/pdf", "["+one+","+one+"]").Code)
	assert.Equal(t, http.StatusBadRequest, post(t, h, "/export/pdf", `nope`).Code)
}

func TestSanitizeEndpoint(t *testing.T) {
	rec := post(t, testServer(t, nil), "/sanitize", `{"html":"<p>hi<script>x()</script></p><a href=\"javascript:x()\">l</a>"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp sanitizeResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.HTML, "<p>hi</p>")
	assert.NotContains(t, resp.HTML, "script")
	assert.NotContains(t, resp.HTML, "javascript")
	assert.Empty(t, resp.Markdown)
}

func TestSanitizeEndpointMarkdown(t *testing.T) {
	h := testServer(t, nil)
	rec := post(t, h, "/sanitize", `{"html":"<p><b>hi</b></p>","format":"markdown"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp sanitizeResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "**hi**", resp.Markdown)

	assert.Equal(t, http.StatusBadRequest, post(t, h, "/sanitize", `{"html":"x","format":"pdf"}`).Code)
}

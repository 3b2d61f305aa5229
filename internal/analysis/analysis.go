// Package analysis sends extracted page text to a generative language model
// and decodes its structured report.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"web-content-analyzer/internal/models"
)

const (
	DefaultBaseURL  = "https://generativelanguage.googleapis.com/v1beta/models"
	DefaultModel    = "gemini-1.5-flash-latest"
	DefaultMaxChars = 15000
)

var (
	ErrMalformedResponse = errors.New("analysis response is malformed")
	ErrNoAPIKey          = errors.New("analysis api key is not set")
)

// Analyzer turns page text into a structured analysis.
type Analyzer interface {
	Analyze(ctx context.Context, content string) (*models.Analysis, error)
}

// StatusError is returned when the API answers with a non-200 status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("analysis api returned status %d: %s", e.Code, e.Body)
}

type Config struct {
	APIKey   string        `yaml:"api_key"`
	Model    string        `yaml:"model"`
	BaseURL  string        `yaml:"base_url"`
	MaxChars int           `yaml:"max_chars"`
	Timeout  time.Duration `yaml:"timeout"`
}

type GeminiAnalyzer struct {
	apiKey     string
	model      string
	baseURL    string
	maxChars   int
	httpClient *http.Client
}

func NewGemini(cfg Config) (*GeminiAnalyzer, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultMaxChars
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &GeminiAnalyzer{
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		maxChars: cfg.MaxChars,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   cfg.Timeout,
		},
	}, nil
}

const promptTemplate = `Analyze the following website content and generate a comprehensive, multi-faceted report.
The report MUST be a single, valid JSON object with the exact following structure:
{
  "summary": "A concise summary of the content, written in an engaging style.",
  "key_points": ["The three to five most important key points as strings."],
  "sentiment_analysis": {
    "sentiment": "The overall sentiment (Positive, Neutral, or Negative).",
    "tone": "The primary tone of the content (e.g., Professional, Casual, Promotional, Technical)."
  },
  "topic_identification": ["The main topics or themes as strings."],
  "seo_analysis": {
    "recommendations": ["Two or three actionable SEO recommendations based on the text."],
    "target_keywords": ["Three to five likely target keywords for this page."]
  },
  "readability": {
    "score_description": "A brief description of the readability level.",
    "accessibility_notes": ["One or two notes for improving content accessibility."]
  },
  "competitive_positioning": "A brief analysis of the competitive position or unique selling proposition based on the text."
}

Website Content to Analyze:
---
%s
---

Provide ONLY the raw JSON object in your response. Do not include markdown formatting.`

// Prompt builds the request text for content, truncated to maxChars runes.
func Prompt(content string, maxChars int) string {
	return fmt.Sprintf(promptTemplate, Truncate(content, maxChars))
}

// Truncate keeps at most n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (g *GeminiAnalyzer) Analyze(ctx context.Context, text string) (*models.Analysis, error) {
	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: Prompt(text, g.maxChars)}}}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s:generateContent", g.baseURL, g.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// The key stays out of the URL so transport errors cannot echo it.
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call analysis api: %w", redactURL(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	var apiResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("%w: decode envelope: %v", ErrMalformedResponse, err)
	}
	if len(apiResp.Candidates) == 0 || len(apiResp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("%w: no candidates", ErrMalformedResponse)
	}

	return ParseAnalysis(apiResp.Candidates[0].Content.Parts[0].Text)
}

// requiredFields lists every key the prompt asks for. Nested objects name
// their own required keys; a nil entry means a scalar or list.
var requiredFields = map[string][]string{
	"summary":                 nil,
	"key_points":              nil,
	"sentiment_analysis":      {"sentiment", "tone"},
	"topic_identification":    nil,
	"seo_analysis":            {"recommendations", "target_keywords"},
	"readability":             {"score_description", "accessibility_notes"},
	"competitive_positioning": nil,
}

// ParseAnalysis decodes the model's answer, tolerating a markdown code fence.
// Every field of the report must be present and non-null.
func ParseAnalysis(raw string) (*models.Analysis, error) {
	data := []byte(stripMarkdownCodeBlock(raw))

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if err := checkRequired(fields); err != nil {
		return nil, err
	}

	var a models.Analysis
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if strings.TrimSpace(a.Summary) == "" {
		return nil, fmt.Errorf("%w: missing summary", ErrMalformedResponse)
	}
	return &a, nil
}

func checkRequired(fields map[string]json.RawMessage) error {
	for key, nested := range requiredFields {
		val, ok := fields[key]
		if !ok || isNull(val) {
			return fmt.Errorf("%w: missing %s", ErrMalformedResponse, key)
		}
		if nested == nil {
			continue
		}
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(val, &inner); err != nil {
			return fmt.Errorf("%w: %s is not an object", ErrMalformedResponse, key)
		}
		for _, sub := range nested {
			if v, ok := inner[sub]; !ok || isNull(v) {
				return fmt.Errorf("%w: missing %s.%s", ErrMalformedResponse, key, sub)
			}
		}
	}
	return nil
}

func isNull(v json.RawMessage) bool {
	return len(bytes.TrimSpace(v)) == 0 || string(bytes.TrimSpace(v)) == "null"
}

// redactURL drops the query string from a *url.Error so a misconfigured
// base URL carrying credentials never reaches callers or logs.
func redactURL(err error) error {
	var uerr *url.Error
	if !errors.As(err, &uerr) {
		return err
	}
	u, perr := url.Parse(uerr.URL)
	if perr != nil {
		return &url.Error{Op: uerr.Op, URL: "<redacted>", Err: uerr.Err}
	}
	u.RawQuery = ""
	u.User = nil
	return &url.Error{Op: uerr.Op, URL: u.String(), Err: uerr.Err}
}

func stripMarkdownCodeBlock(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")

	return strings.TrimSpace(text)
}

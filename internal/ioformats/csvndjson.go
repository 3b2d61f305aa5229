package ioformats

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"web-content-analyzer/internal/models"
)

// ListSeparator joins list-valued fields inside a single CSV cell.
const ListSeparator = "; "

// ReadURLs reads URLs from a CSV (expects header with "url") or NDJSON file.
// If ext cannot be determined, tries CSV first then NDJSON.
func ReadURLs(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseURLs(data, path)
}

// ParseURLs is ReadURLs for content already in memory; name only selects the
// format by its extension.
func ParseURLs(data []byte, name string) ([]string, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return readCSV(bytes.NewReader(data))
	case ".ndjson", ".jsonl":
		return readNDJSON(bytes.NewReader(data))
	default:
		// try csv then ndjson
		if urls, err := readCSV(bytes.NewReader(data)); err == nil && len(urls) > 0 {
			return urls, nil
		}
		return readNDJSON(bytes.NewReader(data))
	}
}

func readCSV(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.New("empty csv")
	}
	// find "url" column
	col := -1
	for i, h := range rows[0] {
		if strings.EqualFold(strings.TrimSpace(h), "url") {
			col = i
			break
		}
	}
	if col == -1 {
		return nil, errors.New("csv must contain a 'url' header column")
	}
	var out []string
	for _, row := range rows[1:] {
		if col < len(row) {
			u := strings.TrimSpace(row[col])
			if u != "" {
				out = append(out, u)
			}
		}
	}
	return out, nil
}

func readNDJSON(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		// allow raw string or {"url": "..."}
		if strings.HasPrefix(line, "{") {
			var obj struct {
				URL string `json:"url"`
			}
			if err := json.Unmarshal([]byte(line), &obj); err == nil && obj.URL != "" {
				out = append(out, obj.URL)
				continue
			}
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.New("no urls found in ndjson")
	}
	return out, nil
}

// WriteNDJSON writes items as one JSON document per line.
func WriteNDJSON[T any](w io.Writer, items []T) error {
	enc := json.NewEncoder(w)
	for _, it := range items {
		if err := enc.Encode(it); err != nil {
			return err
		}
	}
	return nil
}

// ReportHeader is the first row written by WriteReportCSV.
var ReportHeader = []string{
	"id", "url", "final_url", "generated_at", "fetch_ms",
	"title", "meta_description", "detected_language", "content_type",
	"key_phrases", "document_outline", "topics", "word_count",
	"summary", "key_points", "sentiment", "tone", "target_keywords",
}

// WriteReportCSV writes a header row and one row per report.
func WriteReportCSV(w io.Writer, reports []*models.Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ReportHeader); err != nil {
		return err
	}
	for _, r := range reports {
		if r == nil {
			continue
		}
		if err := cw.Write(reportRow(r)); err != nil {
			return fmt.Errorf("write report %s: %w", r.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func reportRow(r *models.Report) []string {
	doc := r.ContentAnalysis
	outline := make([]string, 0, len(doc.DocumentOutline))
	for _, h := range doc.DocumentOutline {
		outline = append(outline, "h"+strconv.Itoa(h.Level)+": "+h.Text)
	}

	row := []string{
		r.ID, r.URL, r.FinalURL, r.GeneratedAt.UTC().Format(time.RFC3339), strconv.FormatInt(r.FetchMs, 10),
		deref(doc.Title), deref(doc.MetaDescription), doc.DetectedLanguage, doc.ContentType,
		strings.Join(doc.KeyPhrases, ListSeparator),
		strings.Join(outline, ListSeparator),
		strings.Join(r.Topics, ListSeparator),
		strconv.Itoa(len(strings.Fields(doc.MainContentText))),
	}
	if a := r.AISummary; a != nil {
		row = append(row,
			a.Summary,
			strings.Join(a.KeyPoints, ListSeparator),
			a.SentimentAnalysis.Sentiment,
			a.SentimentAnalysis.Tone,
			strings.Join(a.SEOAnalysis.TargetKeywords, ListSeparator),
		)
	} else {
		row = append(row, "", "", "", "", "")
	}
	return row
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Content type labels produced by the classifier.
const (
	ContentTypeGeneric = "Generic Page"
	ContentTypeArticle = "Article/Blog Post"
	ContentTypeProduct = "Product/E-commerce Page"
)

// LanguageUnknown is reported when no language could be identified.
const LanguageUnknown = "unknown"

// Minimum substance a document needs before it is worth analysing.
const (
	MinContentChars = 50
	MinContentWords = 10
)

// ErrContentTooShort is wrapped by ContentTooShortError.
var ErrContentTooShort = errors.New("extracted content is too short for analysis")

type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// Document is the normalized view of one HTML page.
type Document struct {
	Title            *string   `json:"title"`
	MetaDescription  *string   `json:"meta_description"`
	DetectedLanguage string    `json:"detected_language"`
	ContentType      string    `json:"content_type"`
	KeyPhrases       []string  `json:"key_phrases"`
	DocumentOutline  []Heading `json:"document_outline"`
	MainContentText  string    `json:"main_content_text"`
}

// ContentTooShortError reports a main text below MinContentChars or MinContentWords.
type ContentTooShortError struct {
	Chars int
	Words int
}

func (e *ContentTooShortError) Error() string {
	return fmt.Sprintf("%v: %d characters, %d words (need at least %d characters and %d words)",
		ErrContentTooShort, e.Chars, e.Words, MinContentChars, MinContentWords)
}

func (e *ContentTooShortError) Unwrap() error { return ErrContentTooShort }

// Validate enforces the minimum-substance rule on the main content text.
func (d Document) Validate() error {
	for _, h := range d.DocumentOutline {
		if h.Level < 1 || h.Level > 6 {
			return fmt.Errorf("invalid heading level %d", h.Level)
		}
	}
	chars := utf8.RuneCountInString(d.MainContentText)
	words := len(strings.Fields(d.MainContentText))
	if chars < MinContentChars || words < MinContentWords {
		return &ContentTooShortError{Chars: chars, Words: words}
	}
	return nil
}

type SentimentAnalysis struct {
	Sentiment string `json:"sentiment"`
	Tone      string `json:"tone"`
}

type SEOAnalysis struct {
	Recommendations []string `json:"recommendations"`
	TargetKeywords  []string `json:"target_keywords"`
}

type Readability struct {
	ScoreDescription   string   `json:"score_description"`
	AccessibilityNotes []string `json:"accessibility_notes"`
}

// Analysis is the structured answer of the text-analysis model.
type Analysis struct {
	Summary                string            `json:"summary"`
	KeyPoints              []string          `json:"key_points"`
	SentimentAnalysis      SentimentAnalysis `json:"sentiment_analysis"`
	TopicIdentification    []string          `json:"topic_identification"`
	SEOAnalysis            SEOAnalysis       `json:"seo_analysis"`
	Readability            Readability       `json:"readability"`
	CompetitivePositioning string            `json:"competitive_positioning"`
}

// PageDetails holds reader-mode metadata; every field is best-effort.
type PageDetails struct {
	Byline   string `json:"byline,omitempty"`
	Excerpt  string `json:"excerpt,omitempty"`
	SiteName string `json:"site_name,omitempty"`
}

type Report struct {
	ID              string       `json:"id"`
	URL             string       `json:"url"`
	FinalURL        string       `json:"final_url,omitempty"`
	GeneratedAt     time.Time    `json:"generated_at"`
	FetchMs         int64        `json:"fetch_ms"`
	ContentAnalysis Document     `json:"content_analysis"`
	AISummary       *Analysis    `json:"ai_summary,omitempty"`
	Topics          []string     `json:"topics"`
	PageDetails     *PageDetails `json:"page_details,omitempty"`
}

// BatchItem is one line of batch output; exactly one of Result and Error is set.
type BatchItem struct {
	URL    string  `json:"url"`
	Result *Report `json:"result,omitempty"`
	Error  string  `json:"error,omitempty"`
}

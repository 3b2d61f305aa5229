// Package sanitizer strips untrusted HTML down to a small set of formatting
// tags so it can be shown back to a browser.
package sanitizer

import (
	"fmt"
	"io"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/microcosm-cc/bluemonday"
)

// AllowedElements is the tag allowlist; anything else is stripped and its
// text kept, except script and style whose contents are dropped.
var AllowedElements = []string{
	"p", "br", "b", "i", "em", "strong",
	"h1", "h2", "h3", "h4",
	"ul", "ol", "li",
	"a", "span", "div",
}

type Sanitizer struct {
	policy *bluemonday.Policy
	md     *converter.Converter
}

func New() *Sanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements(AllowedElements...)

	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https")
	p.RequireParseableURLs(true)
	p.AllowRelativeURLs(false)

	p.AllowAttrs("title").Globally()
	return &Sanitizer{
		policy: p,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
	}
}

// Sanitize returns the cleaned HTML. Safe for concurrent use.
func (s *Sanitizer) Sanitize(dirty string) string {
	return s.policy.Sanitize(dirty)
}

func (s *Sanitizer) SanitizeReader(r io.Reader) string {
	return s.policy.SanitizeReader(r).String()
}

// Markdown sanitizes dirty and renders what is left as CommonMark.
func (s *Sanitizer) Markdown(dirty string) (string, error) {
	out, err := s.md.ConvertString(s.Sanitize(dirty))
	if err != nil {
		return "", fmt.Errorf("convert to markdown: %w", err)
	}
	return strings.TrimSpace(out), nil
}

package parser

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/abadojack/whatlanggo"
	"golang.org/x/net/html"

	"web-content-analyzer/internal/classifier"
	"web-content-analyzer/internal/models"
)

// languageSample bounds how much cleaned text the language identifier sees.
const languageSample = 500

// boilerplate is stripped from the main content root before text extraction.
const boilerplate = "nav, header, footer, aside, script, style"

type Parser struct {
	classifier *classifier.Classifier
}

func New() *Parser { return &Parser{classifier: classifier.New()} }

func NewWithClassifier(c *classifier.Classifier) *Parser { return &Parser{classifier: c} }

// Extract builds the normalized document for an HTML page. The result is not
// validated; callers decide whether the main text is substantial enough.
func (p *Parser) Extract(r io.Reader) (models.Document, error) {
	root, err := html.ParseWithOptions(r, html.ParseOptionEnableScripting(false))
	if err != nil {
		return models.Document{}, fmt.Errorf("parse html: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)

	text := CleanText(mainText(doc))
	return models.Document{
		Title:            title(doc),
		MetaDescription:  metaContent(doc, "description"),
		DetectedLanguage: DetectLanguage(text),
		ContentType:      p.classifier.Classify(doc),
		KeyPhrases:       keyPhrases(doc),
		DocumentOutline:  outline(doc),
		MainContentText:  text,
	}, nil
}

func title(doc *goquery.Document) *string {
	sel := doc.Find("title").First()
	if sel.Length() == 0 {
		return nil
	}
	t := strings.TrimSpace(sel.Text())
	if t == "" {
		return nil
	}
	return &t
}

func metaContent(doc *goquery.Document, name string) *string {
	sel := doc.Find(`meta[name="` + name + `"]`).First()
	if sel.Length() == 0 {
		return nil
	}
	c := strings.TrimSpace(sel.AttrOr("content", ""))
	return &c
}

// outline lists headings level by level: every h1 in document order, then
// every h2, and so on.
func outline(doc *goquery.Document) []models.Heading {
	out := []models.Heading{}
	for level := 1; level <= 6; level++ {
		doc.Find("h" + strconv.Itoa(level)).Each(func(_ int, s *goquery.Selection) {
			if t := strings.TrimSpace(s.Text()); t != "" {
				out = append(out, models.Heading{Level: level, Text: t})
			}
		})
	}
	return out
}

func keyPhrases(doc *goquery.Document) []string {
	set := map[string]struct{}{}
	add := func(s string) {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			set[s] = struct{}{}
		}
	}
	doc.Find("strong, b, em, i").Each(func(_ int, s *goquery.Selection) {
		add(s.Text())
	})
	if kw := metaContent(doc, "keywords"); kw != nil {
		for _, k := range strings.Split(*kw, ",") {
			add(k)
		}
	}

	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// mainText picks <article>, then <main>, then <body>, strips boilerplate from
// a copy of it and joins the trimmed text nodes with spaces.
func mainText(doc *goquery.Document) string {
	var root *goquery.Selection
	for _, sel := range []string{"article", "main", "body"} {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			root = s
			break
		}
	}
	if root == nil {
		return ""
	}
	work := root.Clone()
	work.Find(boilerplate).Remove()

	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range work.Nodes {
		walk(n)
	}
	return strings.Join(parts, " ")
}

// CleanText normalizes extracted text:
//  1. whitespace runs become one space, or one newline when the run holds a line break; trim
//  2. non-printable runes are dropped
//  3. lines are trimmed and lines with fewer than four tokens are dropped
//  4. surviving lines are joined with newlines
func CleanText(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	inSpace, sawBreak := false, false
	flush := func() {
		if !inSpace {
			return
		}
		if sawBreak {
			b.WriteByte('\n')
		} else {
			b.WriteByte(' ')
		}
		inSpace, sawBreak = false, false
	}
	for _, r := range raw {
		if unicode.IsSpace(r) {
			inSpace = true
			sawBreak = sawBreak || isLineBreak(r)
			continue
		}
		if !unicode.IsPrint(r) {
			continue
		}
		flush()
		b.WriteRune(r)
	}
	collapsed := strings.TrimSpace(b.String())

	var kept []string
	for _, line := range strings.Split(collapsed, "\n") {
		line = strings.TrimSpace(line)
		if len(strings.Fields(line)) > 3 {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func isLineBreak(r rune) bool {
	switch r {
	case '\n', '\r', '\v', '\f', 0x85, 0x2028, 0x2029:
		return true
	}
	return false
}

// DetectLanguage returns the ISO 639-1 code for the first 500 runes of text,
// or "unknown" when nothing can be identified.
func DetectLanguage(text string) string {
	if strings.TrimSpace(text) == "" {
		return models.LanguageUnknown
	}
	if rs := []rune(text); len(rs) > languageSample {
		text = string(rs[:languageSample])
	}
	info := whatlanggo.Detect(text)
	if info.Lang < 0 {
		return models.LanguageUnknown
	}
	if code := info.Lang.Iso6391(); code != "" {
		return code
	}
	if code := info.Lang.Iso6393(); code != "" {
		return code
	}
	return models.LanguageUnknown
}

package classifier

import (
	"encoding/json"
	"sort"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"web-content-analyzer/internal/models"
)

// Rule assigns Label when Match holds. Rules are tried in order and the
// first match is final.
type Rule struct {
	Label string
	Match func(doc *goquery.Document) bool
}

type Classifier struct {
	rules    []Rule
	fallback string
}

// New returns the default rule list: structured product data beats an
// <article> element, anything else is a generic page.
func New() *Classifier {
	return &Classifier{
		rules: []Rule{
			{Label: models.ContentTypeProduct, Match: hasProductData},
			{Label: models.ContentTypeArticle, Match: hasArticle},
		},
		fallback: models.ContentTypeGeneric,
	}
}

func NewWithRules(fallback string, rules ...Rule) *Classifier {
	return &Classifier{rules: rules, fallback: fallback}
}

func (c *Classifier) Classify(doc *goquery.Document) string {
	for _, r := range c.rules {
		if r.Match(doc) {
			return r.Label
		}
	}
	return c.fallback
}

func hasArticle(doc *goquery.Document) bool {
	return doc.Find("article").Length() > 0
}

var productTypes = map[string]struct{}{
	"Product":  {},
	"Offer":    {},
	"ItemPage": {},
}

// hasProductData looks for a JSON-LD block whose top-level @type is a
// product type. Blocks that fail to parse are skipped.
func hasProductData(doc *goquery.Document) bool {
	found := false
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return true
		}
		var data map[string]any
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return true
		}
		found = declaresProduct(data["@type"])
		return !found
	})
	return found
}

func declaresProduct(v any) bool {
	switch t := v.(type) {
	case string:
		_, ok := productTypes[t]
		return ok
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok {
				if _, ok := productTypes[s]; ok {
					return true
				}
			}
		}
	}
	return false
}

// simple stopword list (extend as needed)
var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "of": {}, "to": {}, "in": {}, "a": {}, "for": {}, "is": {}, "on": {}, "with": {}, "as": {},
	"by": {}, "at": {}, "from": {}, "that": {}, "this": {}, "it": {}, "an": {}, "be": {}, "or": {}, "are": {}, "was": {},
	"will": {}, "has": {}, "have": {}, "had": {}, "but": {}, "not": {}, "your": {}, "you": {}, "we": {}, "our": {},
	"can": {}, "its": {}, "they": {}, "their": {}, "more": {}, "than": {}, "also": {}, "into": {}, "about": {},
}

// TopTopics returns top N keywords by normalized frequency, ignoring stopwords and short tokens.
func TopTopics(text string, n int) []string {
	freq := map[string]int{}
	token := func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsNumber(r) }
	words := strings.FieldsFunc(strings.ToLower(text), token)

	for _, w := range words {
		if len([]rune(w)) < 3 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		freq[w]++
	}

	type kv struct {
		K string
		V int
	}
	list := make([]kv, 0, len(freq))
	for k, v := range freq {
		list = append(list, kv{k, v})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].V == list[j].V {
			return list[i].K < list[j].K
		}
		return list[i].V > list[j].V
	})
	if n > len(list) {
		n = len(list)
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, list[i].K)
	}
	return out
}

package parser

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"web-content-analyzer/internal/classifier"
	"web-content-analyzer/internal/models"
)

const sampleHTML = `<!doctype html><html lang="en"><head>
<title> Test Page </title>
<meta name="description" content=" A short description ">
<meta name="keywords" content="Go, Networking ,go,, Services">
</head><body>
<header><p>Site header with enough words to survive the filter</p></header>
<nav>Home About Contact Pricing Blog Careers</nav>
<main>
<h2>Subtitle</h2>
<h1>Hello</h1>
<h3>   </h3>
<p>Go is a <strong>great language</strong> for building <em>network services</em> that scale.</p>
<p>It compiles quickly and ships as a <b>single binary</b>, which keeps deployment simple.</p>
<script>var tracking = "this text must never appear in the output";</script>
<aside>Related links you might also enjoy reading today</aside>
</main>
<footer>Copyright notice with several words in it too</footer>
</body></html>`

func extract(t *testing.T, src string) models.Document {
	t.Helper()
	doc, err := New().Extract(strings.NewReader(src))
	require.NoError(t, err)
	return doc
}

func TestExtract(t *testing.T) {
	doc := extract(t, sampleHTML)

	require.NotNil(t, doc.Title)
	assert.Equal(t, "Test Page", *doc.Title)
	require.NotNil(t, doc.MetaDescription)
	assert.Equal(t, "A short description", *doc.MetaDescription)
	assert.Equal(t, models.ContentTypeGeneric, doc.ContentType)
	assert.NotEmpty(t, doc.DetectedLanguage)

	assert.Equal(t, []models.Heading{{Level: 1, Text: "Hello"}, {Level: 2, Text: "Subtitle"}}, doc.DocumentOutline)
	assert.Equal(t, []string{"go", "great language", "network services", "networking", "services", "single binary"}, doc.KeyPhrases)

	text := doc.MainContentText
	assert.Contains(t, text, "Go is a great language for building network services that scale.")
	assert.Contains(t, text, "single binary")
	for _, banned := range []string{"tracking", "Related links", "Copyright", "Site header", "Pricing"} {
		assert.NotContains(t, text, banned)
	}
	assert.NoError(t, doc.Validate())
}

func TestOutlineIsLevelMajor(t *testing.T) {
	doc := extract(t, `<h2>B</h2><h1>A</h1>`)
	assert.Equal(t, []models.Heading{{Level: 1, Text: "A"}, {Level: 2, Text: "B"}}, doc.DocumentOutline)

	doc = extract(t, `<h3>c1</h3><h1>a1</h1><h3>c2</h3><h2>b1</h2><h1>a2</h1><h6>f</h6>`)
	assert.Equal(t, []models.Heading{
		{Level: 1, Text: "a1"}, {Level: 1, Text: "a2"},
		{Level: 2, Text: "b1"},
		{Level: 3, Text: "c1"}, {Level: 3, Text: "c2"},
		{Level: 6, Text: "f"},
	}, doc.DocumentOutline)
}

func TestArticleScenario(t *testing.T) {
	src := `<html><head><meta name="keywords" content="Foo, Bar"></head><body>
<article><h1>Title</h1><p>Ten or more words of real sentence content here for testing purposes now.</p></article>
</body></html>`
	doc := extract(t, src)

	assert.Equal(t, models.ContentTypeArticle, doc.ContentType)
	assert.Contains(t, doc.KeyPhrases, "foo")
	assert.Contains(t, doc.KeyPhrases, "bar")
	assert.Equal(t, []models.Heading{{Level: 1, Text: "Title"}}, doc.DocumentOutline)
	assert.NotEmpty(t, doc.MainContentText)
	assert.Nil(t, doc.Title)
	assert.Nil(t, doc.MetaDescription)
	assert.NoError(t, doc.Validate())
}

func TestMainContentPrefersArticleThenMain(t *testing.T) {
	src := `<body><main><p>Main area text that should lose to the article element</p></main>
<article><p>Article body text that wins the selection over main content</p></article></body>`
	doc := extract(t, src)
	assert.Equal(t, "Article body text that wins the selection over main content", doc.MainContentText)

	src = `<body><div><p>Body level text outside of the main element here</p></div>
<main><p>Main area text that should win over the body fallback</p></main></body>`
	doc = extract(t, src)
	assert.Equal(t, "Main area text that should win over the body fallback", doc.MainContentText)
}

func TestExtractDoesNotMutateSourceForClassification(t *testing.T) {
	// the JSON-LD block sits inside the article; stripping scripts from the
	// main content copy must not hide it from the classifier
	src := `<article><script type="application/ld+json">{"@type":"Product"}</script>
<p>A product description with many words for the main text body.</p></article>`
	doc := extract(t, src)
	assert.Equal(t, models.ContentTypeProduct, doc.ContentType)
	assert.NotContains(t, doc.MainContentText, "@type")
}

func TestExtractWithCustomClassifier(t *testing.T) {
	p := NewWithClassifier(classifier.NewWithRules("other"))
	doc, err := p.Extract(strings.NewReader(`<article><p>Some article text that would normally be classified.</p></article>`))
	require.NoError(t, err)
	assert.Equal(t, "other", doc.ContentType)
}

func TestExtractIsDeterministic(t *testing.T) {
	a, err := json.Marshal(extract(t, sampleHTML))
	require.NoError(t, err)
	b, err := json.Marshal(extract(t, sampleHTML))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestNestedTextKeepsInnerSpaces(t *testing.T) {
	doc := extract(t, `<html><body><h1>Hello <b>World</b></h1><p><strong>very <em>bold</em> claim</strong></p></body></html>`)
	require.Len(t, doc.DocumentOutline, 1)
	assert.Equal(t, "Hello World", doc.DocumentOutline[0].Text)
	assert.Contains(t, doc.KeyPhrases, "very bold claim")
	assert.Contains(t, doc.KeyPhrases, "world")
}

func TestEmptyDocument(t *testing.T) {
	doc := extract(t, ``)
	assert.Equal(t, models.LanguageUnknown, doc.DetectedLanguage)
	assert.Empty(t, doc.MainContentText)
	assert.NotNil(t, doc.KeyPhrases)
	assert.NotNil(t, doc.DocumentOutline)

	var tooShort *models.ContentTooShortError
	assert.ErrorAs(t, doc.Validate(), &tooShort)
}

func TestNoscriptIsParsedAsMarkup(t *testing.T) {
	doc := extract(t, `<body><noscript><img src="pixel.gif"></noscript>
<p>Visible paragraph text with more than enough words in it.</p></body>`)
	assert.NotContains(t, doc.MainContentText, "pixel.gif")
}

func TestCleanTextDropsShortLines(t *testing.T) {
	raw := "This first line has plenty of words in it\nok short one\n  Another line that carries enough words  \nfin"
	assert.Equal(t, "This first line has plenty of words in it\nAnother line that carries enough words", CleanText(raw))
}

func TestCleanTextCollapsesWhitespace(t *testing.T) {
	raw := "  one\t\ttwo   three four  \r\n\n\n five six seven eight nine ten "
	assert.Equal(t, "one two three four\nfive six seven eight nine ten", CleanText(raw))
	assert.Equal(t, "alpha beta gamma delta", CleanText("alpha\u00a0\u00a0beta gamma\tdelta"))
}

func TestCleanTextDropsNonPrintable(t *testing.T) {
	assert.Equal(t, "alpha beta gamma delta", CleanText("alpha\x00 beta\x07 gamma\u200b delta"))
}

func TestCleanTextHardWrappedParagraph(t *testing.T) {
	// Each wrapped line is judged on its own, so a short middle fragment goes.
	raw := "The quick brown fox jumps\nover the\nlazy dog sleeps soundly today"
	assert.Equal(t, "The quick brown fox jumps\nlazy dog sleeps soundly today", CleanText(raw))
}

func TestCleanTextWholeShortText(t *testing.T) {
	assert.Equal(t, "", CleanText("just three words"))
	assert.Equal(t, "", CleanText(""))
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, models.LanguageUnknown, DetectLanguage(""))
	assert.Equal(t, models.LanguageUnknown, DetectLanguage("   "))
	french := strings.Repeat("Bonjour tout le monde, ceci est un texte écrit en français pour vérifier que la langue est bien reconnue par le programme. ", 5)
	assert.Equal(t, "fr", DetectLanguage(french))
	long := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 50)
	assert.Equal(t, "en", DetectLanguage(long))
}

package ioformats

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-pdf/fpdf"

	"web-content-analyzer/internal/models"
)

// ReportTitle heads every rendered PDF report.
const ReportTitle = "Web Content Analysis Report"

// Sentiment bar scale: the bar spans 0..10 and each label maps to a fixed score.
var sentimentScores = map[string]float64{
	"positive": 8.5,
	"neutral":  5.0,
	"negative": 2.0,
}

type rgb struct{ r, g, b int }

var (
	barBackground = rgb{245, 245, 245}
	barPositive   = rgb{34, 139, 34}
	barNegative   = rgb{220, 20, 60}
	barMixed      = rgb{255, 215, 0}
)

const (
	chartWidth  = 150.0
	chartHeight = 8.0
	bodyLine    = 6.0
)

// WriteReportPDF renders one report as an A4 PDF document.
func WriteReportPDF(w io.Writer, r *models.Report) error {
	return writeReportPDF(w, r, true)
}

func writeReportPDF(w io.Writer, r *models.Report, compress bool) error {
	if r == nil {
		return errors.New("nil report")
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(compress)
	pdf.SetTitle(ReportTitle, true)
	pdf.SetCreator("wca", true)
	if !r.GeneratedAt.IsZero() {
		pdf.SetCreationDate(r.GeneratedAt)
	}
	pdf.AddPage()

	doc := &pdfDoc{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}
	doc.title(ReportTitle)
	pdf.SetFont("Arial", "I", 11)
	pdf.CellFormat(0, 10, doc.tr("URL Analyzed: "+r.URL), "", 1, "C", false, 0, "")
	pdf.Ln(10)

	a := r.AISummary
	if a == nil {
		doc.section("1. Executive Summary")
		doc.body("No text analysis is available for this page.")
		if len(r.Topics) > 0 {
			doc.section("Topics")
			doc.body(strings.Join(r.Topics, ", "))
		}
		return finish(pdf, w)
	}

	doc.section("1. Executive Summary")
	doc.body(a.Summary)

	doc.section("2. Key Points")
	doc.bullets(a.KeyPoints)

	doc.section("3. Sentiment & Tone")
	doc.body(fmt.Sprintf("The overall sentiment of the content is %s with a primarily %s tone.",
		a.SentimentAnalysis.Sentiment, a.SentimentAnalysis.Tone))
	doc.sentimentChart(a.SentimentAnalysis.Sentiment)

	doc.section("4. SEO Recommendations")
	doc.bullets(a.SEOAnalysis.Recommendations)
	doc.section("Identified Target Keywords")
	doc.body(strings.Join(a.SEOAnalysis.TargetKeywords, ", "))

	doc.section("5. Competitive Positioning")
	doc.body(a.CompetitivePositioning)

	return finish(pdf, w)
}

func finish(pdf *fpdf.Fpdf, w io.Writer) error {
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	return nil
}

type pdfDoc struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
}

func (d *pdfDoc) title(text string) {
	d.pdf.SetFont("Arial", "B", 18)
	d.pdf.CellFormat(0, 10, d.tr(text), "", 1, "C", false, 0, "")
	d.pdf.Ln(5)
}

func (d *pdfDoc) section(header string) {
	d.pdf.SetFont("Arial", "B", 14)
	d.pdf.CellFormat(0, 10, d.tr(header), "", 1, "L", false, 0, "")
	d.pdf.Ln(2)
}

func (d *pdfDoc) body(text string) {
	d.pdf.SetFont("Arial", "", 11)
	d.pdf.MultiCell(0, bodyLine, d.tr(text), "", "L", false)
	d.pdf.Ln(5)
}

func (d *pdfDoc) bullets(points []string) {
	d.pdf.SetFont("Arial", "", 11)
	for _, p := range points {
		d.pdf.MultiCell(0, bodyLine, d.tr("  •  "+p), "", "L", false)
	}
	d.pdf.Ln(5)
}

// sentimentChart draws a horizontal bar on a 0..10 scale.
func (d *pdfDoc) sentimentChart(sentiment string) {
	label := strings.ToLower(strings.TrimSpace(sentiment))
	score := sentimentScore(label)

	d.pdf.SetFont("Arial", "", 10)
	d.pdf.CellFormat(0, bodyLine, d.tr("Sentiment Analysis: "+capitalize(label)), "", 1, "L", false, 0, "")

	x, y := d.pdf.GetXY()
	fill(d.pdf, barBackground)
	d.pdf.Rect(x, y, chartWidth, chartHeight, "F")
	fill(d.pdf, sentimentColor(score))
	d.pdf.Rect(x, y, chartWidth*score/10, chartHeight, "F")

	d.pdf.SetFont("Arial", "", 8)
	for tick := 0; tick <= 10; tick += 2 {
		d.pdf.SetXY(x+chartWidth*float64(tick)/10-2, y+chartHeight+1)
		d.pdf.CellFormat(4, 4, fmt.Sprint(tick), "", 0, "C", false, 0, "")
	}
	d.pdf.SetXY(x, y+chartHeight+6)
	d.pdf.Ln(5)
}

func sentimentScore(label string) float64 {
	if s, ok := sentimentScores[label]; ok {
		return s
	}
	return sentimentScores["neutral"]
}

func sentimentColor(score float64) rgb {
	switch {
	case score > 6:
		return barPositive
	case score < 4:
		return barNegative
	default:
		return barMixed
	}
}

func fill(pdf *fpdf.Fpdf, c rgb) {
	pdf.SetFillColor(c.r, c.g, c.b)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

//go:build integration

package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"web-content-analyzer/internal/config"
	"web-content-analyzer/internal/guard"
	"web-content-analyzer/internal/metrics"
	"web-content-analyzer/internal/models"
	"web-content-analyzer/internal/pipeline"
)

func livePipeline(t *testing.T) *pipeline.Service {
	t.Helper()
	cfg := config.Defaults()
	svc, err := pipeline.Build(cfg, metrics.New(), nil)
	if err != nil {
		t.Fatalf("build pipeline: %v", err)
	}
	return svc
}

func TestAmazonProductPage(t *testing.T) {
	// Amazon toaster product page (subject to change / blocking)
	url := "https://www.amazon.com/Cuisinart-CPT-122-Compact-2-Slice-Toaster/dp/B009GQ034C"

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	report, err := livePipeline(t).Analyze(ctx, url)
	if err != nil {
		t.Skipf("skipping: fetch failed due to network/robots/captcha: %v", err)
		return
	}

	if got := report.ContentAnalysis.ContentType; got != models.ContentTypeProduct {
		t.Errorf("expected %q, got %q", models.ContentTypeProduct, got)
	}
	if len(report.Topics) == 0 {
		t.Errorf("expected non-empty topics")
	}
}

func TestWikipediaArticle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	doc, err := livePipeline(t).Extract(ctx, "https://en.wikipedia.org/wiki/Go_(programming_language)")
	if err != nil {
		t.Skipf("skipping: %v", err)
		return
	}
	if doc.DetectedLanguage != "en" {
		t.Errorf("expected en, got %s", doc.DetectedLanguage)
	}
	if len(doc.DocumentOutline) == 0 || doc.DocumentOutline[0].Level != 1 {
		t.Errorf("expected an outline starting with h1, got %v", doc.DocumentOutline)
	}
}

func TestBlacklistedGovernmentHost(t *testing.T) {
	_, err := livePipeline(t).Extract(context.Background(), "https://www.usa.gov/")
	var rej *guard.RejectionError
	if !errors.As(err, &rej) || rej.Reason != guard.ReasonBlacklisted {
		t.Fatalf("expected blacklisted rejection, got %v", err)
	}
}

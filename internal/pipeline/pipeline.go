// Package pipeline runs one page through the guard, the fetcher, the
// structure extractor and, when configured, the text analyzer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"web-content-analyzer/internal/analysis"
	"web-content-analyzer/internal/classifier"
	"web-content-analyzer/internal/config"
	"web-content-analyzer/internal/crawler"
	"web-content-analyzer/internal/guard"
	"web-content-analyzer/internal/metrics"
	"web-content-analyzer/internal/models"
	"web-content-analyzer/internal/parser"
	"web-content-analyzer/pkg/logger"
)

// DefaultTopics is how many local topics a report carries.
const DefaultTopics = 15

var ErrAnalysisFailed = errors.New("content analysis failed")

// Guard is satisfied by *guard.Guard.
type Guard interface {
	Evaluate(ctx context.Context, rawURL string) guard.Verdict
}

// Fetcher is satisfied by *crawler.HTTPClient.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*crawler.FetchResult, error)
}

type Service struct {
	guard    Guard
	fetcher  Fetcher
	parser   *parser.Parser
	analyzer analysis.Analyzer
	metrics  *metrics.Metrics
	log      *logger.Logger
	tracer   trace.Tracer
	topics   int
	now      func() time.Time
}

type Option func(*Service)

// WithAnalyzer enables the AI section of reports.
func WithAnalyzer(a analysis.Analyzer) Option { return func(s *Service) { s.analyzer = a } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

func WithLogger(l *logger.Logger) Option { return func(s *Service) { s.log = l } }

func WithParser(p *parser.Parser) Option { return func(s *Service) { s.parser = p } }

func WithTopics(n int) Option { return func(s *Service) { s.topics = n } }

func New(g Guard, f Fetcher, opts ...Option) *Service {
	s := &Service{
		guard:   g,
		fetcher: f,
		parser:  parser.New(),
		log:     logger.Discard(),
		tracer:  otel.Tracer("web-content-analyzer/pipeline"),
		topics:  DefaultTopics,
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Build wires the production components from cfg. Redirect targets are
// re-checked by the same guard and fetch attempts feed m.
func Build(cfg config.Config, m *metrics.Metrics, l *logger.Logger) (*Service, error) {
	if l == nil {
		l = logger.Discard()
	}
	g, err := guard.New(cfg.Guard, nil)
	if err != nil {
		return nil, fmt.Errorf("build guard: %w", err)
	}
	client := crawler.NewHTTPClient(cfg.Fetch, RedirectPolicy(g, m), l.With("component", "fetcher"))
	client.OnAttempt = m.FetchAttempt

	opts := []Option{WithMetrics(m), WithLogger(l)}
	if cfg.Analysis.APIKey != "" {
		a, err := analysis.NewGemini(cfg.Analysis)
		if err != nil {
			return nil, fmt.Errorf("build analyzer: %w", err)
		}
		opts = append(opts, WithAnalyzer(a))
	} else {
		l.Warn("no analysis api key configured, reports will not carry an ai summary")
	}
	return New(g, client, opts...), nil
}

// RedirectPolicy vets redirect targets with g, counting its verdicts.
func RedirectPolicy(g Guard, m *metrics.Metrics) crawler.RedirectPolicy {
	return func(ctx context.Context, target string) error {
		v := g.Evaluate(ctx, target)
		m.GuardVerdict(string(v.Reason))
		return v.Err()
	}
}

// HasAnalyzer reports whether reports will carry an AI summary.
func (s *Service) HasAnalyzer() bool { return s.analyzer != nil }

// Extract fetches rawURL and returns its validated normalized document.
func (s *Service) Extract(ctx context.Context, rawURL string) (*models.Document, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.Extract", trace.WithAttributes(attribute.String("url", rawURL)))
	defer span.End()

	_, doc, err := s.extract(ctx, rawURL)
	s.finish(span, "extract", rawURL, err)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// Analyze builds the full report for rawURL.
func (s *Service) Analyze(ctx context.Context, rawURL string) (*models.Report, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.Analyze", trace.WithAttributes(attribute.String("url", rawURL)))
	defer span.End()

	report, err := s.analyze(ctx, rawURL)
	s.finish(span, "analyze", rawURL, err)
	return report, err
}

func (s *Service) analyze(ctx context.Context, rawURL string) (*models.Report, error) {
	res, doc, err := s.extract(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	report := &models.Report{
		ID:              uuid.NewString(),
		URL:             rawURL,
		FinalURL:        res.FinalURL,
		GeneratedAt:     s.now().UTC(),
		FetchMs:         res.Elapsed.Milliseconds(),
		ContentAnalysis: doc,
		Topics:          classifier.TopTopics(doc.MainContentText, s.topics),
		PageDetails:     pageDetails(res),
	}

	if s.analyzer != nil {
		start := time.Now()
		actx, span := s.tracer.Start(ctx, "analysis.Analyze")
		a, err := s.analyzer.Analyze(actx, doc.MainContentText)
		span.End()
		s.metrics.Stage("analysis", start)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAnalysisFailed, err)
		}
		report.AISummary = a
	}
	return report, nil
}

func (s *Service) extract(ctx context.Context, rawURL string) (*crawler.FetchResult, models.Document, error) {
	start := time.Now()
	_, span := s.tracer.Start(ctx, "guard.Evaluate")
	v := s.guard.Evaluate(ctx, rawURL)
	span.SetAttributes(attribute.Bool("allowed", v.Allowed), attribute.String("reason", string(v.Reason)))
	span.End()
	s.metrics.GuardVerdict(string(v.Reason))
	s.metrics.Stage("guard", start)
	if err := v.Err(); err != nil {
		return nil, models.Document{}, err
	}

	start = time.Now()
	fctx, span := s.tracer.Start(ctx, "crawler.Fetch")
	res, err := s.fetcher.Fetch(fctx, rawURL)
	if res != nil {
		span.SetAttributes(attribute.Int("attempts", res.Attempts), attribute.Int("bytes", len(res.Body)))
	}
	span.End()
	s.metrics.Stage("fetch", start)
	if err != nil {
		return nil, models.Document{}, err
	}

	start = time.Now()
	_, span = s.tracer.Start(ctx, "parser.Extract")
	doc, err := s.parser.Extract(strings.NewReader(res.HTML))
	span.End()
	s.metrics.Stage("parse", start)
	if err != nil {
		return nil, models.Document{}, err
	}
	if err := doc.Validate(); err != nil {
		return nil, models.Document{}, err
	}
	return res, doc, nil
}

// pageDetails runs a reader-mode pass over the page. Failures only cost the
// optional details.
func pageDetails(res *crawler.FetchResult) *models.PageDetails {
	pageURL, _ := url.Parse(res.FinalURL)
	article, err := readability.FromReader(strings.NewReader(res.HTML), pageURL)
	if err != nil {
		return nil
	}
	d := &models.PageDetails{
		Byline:   strings.TrimSpace(article.Byline),
		Excerpt:  strings.TrimSpace(article.Excerpt),
		SiteName: strings.TrimSpace(article.SiteName),
	}
	if *d == (models.PageDetails{}) {
		return nil
	}
	return d
}

func (s *Service) finish(span trace.Span, op, rawURL string, err error) {
	outcome := Outcome(err)
	s.metrics.Result(op, outcome)
	if err == nil {
		s.log.Info("page processed", "op", op, "url", rawURL)
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, outcome)
	s.log.Warn("page failed", "op", op, "url", rawURL, "outcome", outcome, "error", err)
}

// Outcome labels err for metrics and logs.
func Outcome(err error) string {
	var (
		rejected *guard.RejectionError
		invalid  *crawler.InvalidContentError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &rejected):
		return "rejected"
	case errors.As(err, &invalid):
		return "invalid_content"
	case errors.Is(err, models.ErrContentTooShort):
		return "too_short"
	case errors.Is(err, ErrAnalysisFailed):
		return "analysis_failed"
	case errors.Is(err, crawler.ErrFetchFailed):
		return "fetch_failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

// AnalyzeBatch analyzes urls independently with at most concurrency in
// flight. Item i of the result belongs to urls[i]; one failure never stops
// the others.
func (s *Service) AnalyzeBatch(ctx context.Context, urls []string, concurrency int) []models.BatchItem {
	return s.AnalyzeBatchPaced(ctx, urls, concurrency, nil)
}

// AnalyzeBatchPaced is AnalyzeBatch with starts spaced out by limiter.
func (s *Service) AnalyzeBatchPaced(ctx context.Context, urls []string, concurrency int, limiter *rate.Limiter) []models.BatchItem {
	if concurrency < 1 {
		concurrency = 1
	}
	items := make([]models.BatchItem, len(urls))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, u := range urls {
		items[i].URL = u
		if strings.TrimSpace(u) == "" {
			items[i].Error = "empty url"
			continue
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				items[i].Error = err.Error()
				continue
			}
		}
		g.Go(func() error {
			report, err := s.Analyze(ctx, u)
			if err != nil {
				items[i].Error = err.Error()
				return nil
			}
			items[i].Result = report
			return nil
		})
	}
	_ = g.Wait()
	return items
}

package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/html/charset"

	"web-content-analyzer/pkg/logger"
)

// DefaultMaxBytes is the largest payload accepted from a server (5 MiB).
const DefaultMaxBytes int64 = 5 * 1024 * 1024

const maxRedirects = 5

// DefaultUserAgents is the pool a random user agent is drawn from per request.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.114 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64; rv:89.0) Gecko/20100101 Firefox/89.0",
}

var (
	ErrFetchFailed = errors.New("fetch failed")
	ErrNotHTML     = errors.New("response is not an HTML document")
	ErrTooLarge    = errors.New("response exceeds the size limit")

	errRedirectBlocked = errors.New("redirect blocked")
)

// FetchError is returned once every attempt has failed.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%v: %s after %d attempts: %v", ErrFetchFailed, e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() []error { return []error{ErrFetchFailed, e.Err} }

// InvalidContentError rejects a response on its headers or size. It is never retried.
type InvalidContentError struct {
	ContentType string
	Length      int64
	Err         error
}

func (e *InvalidContentError) Error() string {
	if errors.Is(e.Err, ErrTooLarge) {
		return fmt.Sprintf("%v (%d bytes)", e.Err, e.Length)
	}
	return fmt.Sprintf("%v: Content-Type %q", e.Err, e.ContentType)
}

func (e *InvalidContentError) Unwrap() error { return e.Err }

// statusError marks a non-2xx answer; it is retried like a transport error.
type statusError struct{ code int }

func (e statusError) Error() string {
	return fmt.Sprintf("http status %d", e.code)
}

type Config struct {
	Timeout      time.Duration `yaml:"timeout"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	MaxAttempts  int           `yaml:"max_attempts"`
	AttemptDelay time.Duration `yaml:"attempt_delay"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	MaxBytes     int64         `yaml:"max_bytes"`
	UserAgents   []string      `yaml:"user_agents"`
}

func DefaultConfig() Config {
	return Config{
		Timeout:      15 * time.Second,
		DialTimeout:  5 * time.Second,
		MaxAttempts:  3,
		AttemptDelay: time.Second,
		RetryDelay:   2 * time.Second,
		MaxBytes:     DefaultMaxBytes,
		UserAgents:   DefaultUserAgents,
	}
}

type FetchResult struct {
	Body        []byte
	HTML        string
	ContentType string
	StatusCode  int
	FinalURL    string
	Attempts    int
	Elapsed     time.Duration
}

// RedirectPolicy vets every redirect target before it is followed.
type RedirectPolicy func(ctx context.Context, target string) error

type HTTPClient struct {
	client *http.Client
	cfg    Config
	log    *logger.Logger
	// OnAttempt, when set, is told the outcome of every attempt.
	OnAttempt func(outcome string, d time.Duration)
}

// Attempt outcomes passed to OnAttempt.
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeStatus      = "bad_status"
	OutcomeInvalidType = "invalid_content"
)

func NewHTTPClient(cfg Config, redirect RedirectPolicy, l *logger.Logger) *HTTPClient {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = def.MaxBytes
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = def.UserAgents
	}
	if l == nil {
		l = logger.Discard()
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &HTTPClient{
		client: &http.Client{
			Transport: otelhttp.NewTransport(transport),
			Timeout:   cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				if redirect != nil {
					if err := redirect(req.Context(), req.URL.String()); err != nil {
						return fmt.Errorf("%w to %s: %w", errRedirectBlocked, req.URL, err)
					}
				}
				return nil
			},
		},
		cfg: cfg,
		log: l,
	}
}

// Fetch retrieves rawURL, retrying transport failures and non-2xx answers up
// to MaxAttempts times. Content rejections are returned immediately.
func (h *HTTPClient) Fetch(ctx context.Context, rawURL string) (*FetchResult, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid url %q", rawURL)
	}

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= h.cfg.MaxAttempts; attempt++ {
		if err := sleep(ctx, h.cfg.AttemptDelay); err != nil {
			return nil, err
		}
		attemptStart := time.Now()
		res, err := h.fetchOnce(ctx, u.String())
		if err == nil {
			h.observe(OutcomeOK, attemptStart)
			res.Attempts = attempt
			res.Elapsed = time.Since(start)
			return res, nil
		}

		var invalid *InvalidContentError
		if errors.As(err, &invalid) {
			h.observe(OutcomeInvalidType, attemptStart)
			return nil, err
		}
		var se statusError
		if errors.As(err, &se) {
			h.observe(OutcomeStatus, attemptStart)
		} else {
			h.observe(OutcomeError, attemptStart)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &FetchError{URL: rawURL, Attempts: attempt, Err: ctxErr}
		}
		// a blocked redirect will not change on retry
		if errors.Is(err, errRedirectBlocked) {
			return nil, fmt.Errorf("%s: %w", rawURL, err)
		}

		lastErr = err
		h.log.Warn("fetch attempt failed", "url", rawURL, "attempt", attempt, "error", err)
		if attempt == h.cfg.MaxAttempts {
			break
		}
		if err := sleep(ctx, h.cfg.RetryDelay); err != nil {
			return nil, err
		}
	}
	return nil, &FetchError{URL: rawURL, Attempts: h.cfg.MaxAttempts, Err: lastErr}
}

func (h *HTTPClient) fetchOnce(ctx context.Context, target string) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("User-Agent", h.userAgent())

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError{code: resp.StatusCode}
	}

	// headers only; the body is left unread on rejection
	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(contentType), "text/html") {
		return nil, &InvalidContentError{ContentType: contentType, Err: ErrNotHTML}
	}
	if resp.ContentLength > h.cfg.MaxBytes {
		return nil, &InvalidContentError{ContentType: contentType, Length: resp.ContentLength, Err: ErrTooLarge}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, h.cfg.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > h.cfg.MaxBytes {
		return nil, &InvalidContentError{ContentType: contentType, Length: int64(len(body)), Err: ErrTooLarge}
	}

	return &FetchResult{
		Body:        body,
		HTML:        Decode(body, contentType),
		ContentType: contentType,
		StatusCode:  resp.StatusCode,
		FinalURL:    resp.Request.URL.String(),
	}, nil
}

// Decode turns body into valid UTF-8. A non-UTF-8 charset declared in
// contentType is honoured; otherwise invalid sequences become U+FFFD.
func Decode(body []byte, contentType string) string {
	if _, params, err := mime.ParseMediaType(contentType); err == nil {
		label := strings.ToLower(strings.TrimSpace(params["charset"]))
		if label != "" && label != "utf-8" && label != "utf8" {
			if enc, _ := charset.Lookup(label); enc != nil {
				if out, err := io.ReadAll(enc.NewDecoder().Reader(bytes.NewReader(body))); err == nil {
					return strings.ToValidUTF8(string(out), "\uFFFD")
				}
			}
		}
	}
	return strings.ToValidUTF8(string(body), "\uFFFD")
}

func (h *HTTPClient) userAgent() string {
	return h.cfg.UserAgents[rand.IntN(len(h.cfg.UserAgents))]
}

func (h *HTTPClient) observe(outcome string, since time.Time) {
	if h.OnAttempt != nil {
		h.OnAttempt(outcome, time.Since(since))
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

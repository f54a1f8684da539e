// Package scraper retrieves listing pages over HTTP with bounded, linearly
// backed-off retries.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/aluiziolira/go-scrape-products/config"
	"github.com/gocolly/colly/v2"
)

const (
	ctxStart  = "start"
	ctxBody   = "body"
	ctxStatus = "status"
)

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option customises a Fetcher.
type Option func(*Fetcher)

// WithLogger sets the logger used for attempt, retry and failure lines.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithMetrics replaces the Fetcher's metrics bundle.
func WithMetrics(m *Metrics) Option {
	return func(f *Fetcher) {
		f.Metrics = m
	}
}

// WithTransport swaps the underlying round tripper. Response decoding is
// still applied on top of it.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Fetcher) {
		if rt != nil {
			f.transport = rt
		}
	}
}

// WithSleep overrides how backoff and throttle delays are waited out.
func WithSleep(fn SleepFunc) Option {
	return func(f *Fetcher) {
		if fn != nil {
			f.sleep = fn
		}
	}
}

// Fetcher wraps a synchronous colly collector and the retry loop around it.
type Fetcher struct {
	cfg       *config.Config
	collector *colly.Collector
	transport http.RoundTripper
	headers   http.Header
	logger    *slog.Logger
	sleep     SleepFunc
	Metrics   *Metrics
}

// NewFetcher builds a fetcher configured from cfg.
func NewFetcher(cfg *config.Config, opts ...Option) (*Fetcher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.MaxRetries <= 0 {
		return nil, fmt.Errorf("max retries must be positive")
	}

	f := &Fetcher{
		cfg:    cfg,
		logger: slog.Default(),
		sleep:  sleepContext,
		transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   cfg.Timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
		Metrics: NewMetrics(),
	}
	for _, opt := range opts {
		opt(f)
	}

	f.headers = http.Header{}
	f.headers.Set("User-Agent", cfg.UserAgent)
	setIfNotEmpty(f.headers, "Accept-Language", cfg.AcceptLanguage)
	setIfNotEmpty(f.headers, "Accept-Encoding", cfg.AcceptEncoding)
	setIfNotEmpty(f.headers, "Accept", cfg.Accept)

	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(cfg.MaxBodySize),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.WithTransport(&decodingTransport{base: f.transport})
	f.collector = collector
	f.configureHandlers()

	return f, nil
}

// Fetch issues a GET for target and returns the response body. Every
// attempt that ends in a transport error, timeout or non-2xx status is
// retried until MaxRetries attempts have been made; the wait before attempt
// n+1 is n*RetryBackoff. A successful fetch is followed by the throttle
// delay. When all attempts fail the returned error is *ErrRetriesExhausted.
func (f *Fetcher) Fetch(ctx context.Context, target string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	maxAttempts := f.cfg.MaxRetries
	attempts := 0
	var last error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			last = err
			break
		}

		attempts = attempt
		f.logger.Info("fetching url",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxAttempts),
			slog.String("url", target),
		)

		body, err := f.attempt(target)
		if err == nil {
			f.Metrics.IncRequest("success")
			f.logger.Debug("fetch succeeded",
				slog.String("url", target),
				slog.Int("attempt", attempt),
				slog.Int("bytes", len(body)),
			)
			if err := f.sleep(ctx, f.cfg.Delay); err != nil {
				f.logger.Debug("throttle delay interrupted", slog.Any("error", err))
			}
			return body, nil
		}

		last = err
		category := errorTypeLabel(err)
		f.Metrics.IncRequest("failure")
		f.Metrics.IncError(category)
		f.logger.Error("request error",
			slog.String("url", target),
			slog.Int("attempt", attempt),
			slog.String("category", category),
			slog.Any("error", err),
		)

		if attempt < maxAttempts {
			wait := f.backoff(attempt)
			f.Metrics.IncRetries()
			f.logger.Info("retrying", slog.Duration("wait", wait), slog.Int("next_attempt", attempt+1))
			if err := f.sleep(ctx, wait); err != nil {
				last = err
				break
			}
		}
	}

	f.logger.Error("failed to fetch url",
		slog.String("url", target),
		slog.Int("attempts", attempts),
		slog.Any("error", last),
	)
	return "", &ErrRetriesExhausted{URL: target, Attempts: attempts, Last: last}
}

func (f *Fetcher) attempt(target string) (string, error) {
	reqCtx := colly.NewContext()
	if err := f.collector.Request(http.MethodGet, target, nil, reqCtx, f.headers.Clone()); err != nil {
		status, _ := reqCtx.GetAny(ctxStatus).(int)
		return "", classifyError(err, status)
	}
	status, _ := reqCtx.GetAny(ctxStatus).(int)
	if status < 200 || status > 299 {
		return "", classifyError(nil, status)
	}
	body, ok := reqCtx.GetAny(ctxBody).(string)
	if !ok {
		return "", fmt.Errorf("no response body for %s", target)
	}
	if f.cfg.MaxBodySize > 0 && len(body) >= f.cfg.MaxBodySize {
		f.logger.Warn("response body reached size limit and may be truncated",
			slog.String("url", target),
			slog.Int("limit_bytes", f.cfg.MaxBodySize),
		)
	}
	return body, nil
}

// backoff is linear: attempt 1 waits one unit, attempt 2 two units, and so on.
func (f *Fetcher) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	return time.Duration(attempt) * f.cfg.RetryBackoff
}

func (f *Fetcher) configureHandlers() {
	f.collector.OnRequest(func(r *colly.Request) {
		r.Ctx.Put(ctxStart, time.Now())
	})

	f.collector.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(ctxStatus, r.StatusCode)
		r.Ctx.Put(ctxBody, string(r.Body))
		f.observe(r.Ctx)
	})

	f.collector.OnError(func(r *colly.Response, err error) {
		if r == nil || r.Ctx == nil {
			return
		}
		r.Ctx.Put(ctxStatus, r.StatusCode)
		f.observe(r.Ctx)
	})
}

func (f *Fetcher) observe(ctx *colly.Context) {
	if start, ok := ctx.GetAny(ctxStart).(time.Time); ok {
		f.Metrics.ObserveDuration(time.Since(start))
	}
}

func setIfNotEmpty(h http.Header, key, value string) {
	if value != "" {
		h.Set(key, value)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

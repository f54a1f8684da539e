// Package pipeline runs the fetch, extract and persist stages of a scrape
// and writes the resulting records to disk.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-products/config"
	"github.com/aluiziolira/go-scrape-products/models"
	"github.com/aluiziolira/go-scrape-products/scraper"
)

// Fetcher retrieves the HTML of a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Extractor turns HTML into product records.
type Extractor interface {
	Extract(html string) *models.ExtractResult
}

// Saver persists records and reports the files it wrote.
type Saver interface {
	Save(format string, records []*models.ProductRecord, stem string) ([]string, error)
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics records extraction counts on m.
func WithMetrics(m *scraper.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithClock sets the clock used for auto-generated filenames and report times.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// Pipeline coordinates one scrape: fetch, extract, persist, report. Any
// stage that comes back empty ends the run; nothing is retried across stages.
type Pipeline struct {
	cfg       *config.Config
	fetcher   Fetcher
	extractor Extractor
	saver     Saver
	logger    *slog.Logger
	metrics   *scraper.Metrics
	now       func() time.Time
}

// NewPipeline wires the three stages together.
func NewPipeline(cfg *config.Config, fetcher Fetcher, extractor Extractor, saver Saver, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:       cfg,
		fetcher:   fetcher,
		extractor: extractor,
		saver:     saver,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Scrape searches for query and saves the products found. An empty
// filename produces a timestamped name under the configured output
// directory. Failures are logged and reflected in the report, never
// returned as errors.
func (p *Pipeline) Scrape(ctx context.Context, query, format, filename string) *models.ScrapeReport {
	report := &models.ScrapeReport{
		Query:     query,
		Format:    p.resolveFormat(format),
		Stage:     models.StageFetch,
		StartTime: p.now(),
	}
	defer func() {
		report.EndTime = p.now()
	}()

	p.logger.Info("starting scrape", slog.String("query", query))

	target, err := BuildSearchURL(p.cfg.BaseURL, query)
	if err != nil {
		p.logger.Error("failed to build search url", slog.Any("error", err))
		report.Outcome = models.OutcomeFetchFailed
		report.Err = err
		return report
	}
	report.URL = target

	html, err := p.fetcher.Fetch(ctx, target)
	if err != nil || html == "" {
		if err == nil {
			err = errors.New("empty response body")
		}
		var exhausted *scraper.ErrRetriesExhausted
		if errors.As(err, &exhausted) {
			report.Attempts = exhausted.Attempts
		}
		p.logger.Error("failed to fetch html content", slog.Any("error", err))
		report.Outcome = models.OutcomeFetchFailed
		report.Err = err
		return report
	}

	report.Stage = models.StageExtract
	result := p.extractor.Extract(html)
	report.Containers = result.Containers
	report.Extracted = result.Extracted()
	report.Skipped = result.SkippedCount()
	report.SkipReasons = result.Skipped
	p.metrics.AddExtraction(result.Containers, result.Extracted(), result.SkippedCount())

	if result.Extracted() == 0 {
		p.logger.Warn("no products found",
			slog.Int("containers", result.Containers),
			slog.Int("skipped", result.SkippedCount()),
		)
		report.Outcome = models.OutcomeNoProducts
		return report
	}

	report.Stage = models.StagePersist
	if filename == "" {
		filename = filepath.Join(p.cfg.OutputDir, AutoFileStem(p.cfg.OutputPrefix, query, p.now()))
	}

	files, err := p.saver.Save(report.Format, result.Records, filename)
	if err != nil {
		report.Outcome = models.OutcomeSaveFailed
		report.Err = err
		return report
	}
	report.OutputFiles = files

	report.Stage = models.StageReport
	report.Outcome = models.OutcomeSaved
	p.logger.Info("scraping completed",
		slog.Int("products", result.Extracted()),
		slog.Int("skipped", result.SkippedCount()),
		slog.String("files", strings.Join(files, ",")),
	)
	return report
}

func (p *Pipeline) resolveFormat(format string) string {
	format = strings.ToLower(strings.TrimSpace(format))
	switch format {
	case FormatCSV, FormatJSON, FormatDual:
		return format
	case "":
		return FormatCSV
	default:
		p.logger.Warn("unknown output format, using csv", slog.String("format", format))
		return FormatCSV
	}
}

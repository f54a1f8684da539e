package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-products/config"
	"github.com/aluiziolira/go-scrape-products/models"
	"github.com/aluiziolira/go-scrape-products/parser"
	"github.com/aluiziolira/go-scrape-products/scraper"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var runClock = time.Date(2025, 11, 4, 13, 9, 13, 0, time.UTC)

type stubFetcher struct {
	html  string
	err   error
	calls []string
}

func (f *stubFetcher) Fetch(_ context.Context, url string) (string, error) {
	f.calls = append(f.calls, url)
	return f.html, f.err
}

type stubExtractor struct {
	result *models.ExtractResult
	calls  int
}

func (e *stubExtractor) Extract(string) *models.ExtractResult {
	e.calls++
	return e.result
}

type recordingSaver struct {
	calls   int
	format  string
	stem    string
	records []*models.ProductRecord
	err     error
}

func (s *recordingSaver) Save(format string, records []*models.ProductRecord, stem string) ([]string, error) {
	s.calls++
	s.format = format
	s.stem = stem
	s.records = records
	if s.err != nil {
		return nil, s.err
	}
	return OutputPaths(format, stem), nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStubPipeline(cfg *config.Config, f Fetcher, e Extractor, s Saver) *Pipeline {
	return NewPipeline(cfg, f, e, s,
		WithLogger(discardLogger()),
		WithClock(func() time.Time { return runClock }),
		WithMetrics(scraper.NewMetrics()),
	)
}

func oneRecord() *models.ExtractResult {
	return &models.ExtractResult{
		Records:    []*models.ProductRecord{{Name: "A", Price: "1", Rating: "2", Link: "N/A", ScrapedAt: runClock}},
		Containers: 1,
	}
}

func TestScrapeStopsAfterFetchFailure(t *testing.T) {
	cfg := config.DefaultConfig()
	fetcher := &stubFetcher{err: &scraper.ErrRetriesExhausted{URL: "x", Attempts: 3, Last: errors.New("boom")}}
	extractor := &stubExtractor{result: oneRecord()}
	saver := &recordingSaver{}

	report := newStubPipeline(cfg, fetcher, extractor, saver).Scrape(context.Background(), "laptops", "csv", "")

	assert.Equal(t, models.OutcomeFetchFailed, report.Outcome)
	assert.Equal(t, models.StageFetch, report.Stage)
	assert.Equal(t, 3, report.Attempts)
	assert.Error(t, report.Err)
	assert.Zero(t, extractor.calls)
	assert.Zero(t, saver.calls)
}

func TestScrapeStopsWhenNoProducts(t *testing.T) {
	cfg := config.DefaultConfig()
	fetcher := &stubFetcher{html: "<html></html>"}
	extractor := &stubExtractor{result: &models.ExtractResult{
		Containers: 2,
		Skipped:    []models.SkippedContainer{{Index: 1, Reason: "bad"}, {Index: 2, Reason: "bad"}},
	}}
	saver := &recordingSaver{}

	report := newStubPipeline(cfg, fetcher, extractor, saver).Scrape(context.Background(), "laptops", "json", "")

	assert.Equal(t, models.OutcomeNoProducts, report.Outcome)
	assert.Equal(t, 2, report.Skipped)
	assert.Len(t, report.SkipReasons, 2)
	assert.Equal(t, 1, extractor.calls)
	assert.Zero(t, saver.calls)
}

func TestScrapeBuildsURLAndAutoFilename(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.OutputDir = "out"
	fetcher := &stubFetcher{html: "<html></html>"}
	saver := &recordingSaver{}

	report := newStubPipeline(cfg, fetcher, &stubExtractor{result: oneRecord()}, saver).
		Scrape(context.Background(), "gaming laptops", "", "")

	require.Equal(t, []string{"https://www.flipkart.com/search?q=gaming+laptops"}, fetcher.calls)
	assert.Equal(t, models.OutcomeSaved, report.Outcome)
	assert.Equal(t, models.StageReport, report.Stage)
	assert.Equal(t, FormatCSV, saver.format)
	assert.Equal(t, filepath.Join("out", "flipkart_gaming_laptops_20251104_130913"), saver.stem)
	assert.Equal(t, []string{filepath.Join("out", "flipkart_gaming_laptops_20251104_130913.csv")}, report.OutputFiles)
	assert.Len(t, saver.records, 1)
}

func TestScrapeFormatDispatch(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{format: "json", want: FormatJSON},
		{format: "JSON", want: FormatJSON},
		{format: "dual", want: FormatDual},
		{format: "csv", want: FormatCSV},
		{format: "xml", want: FormatCSV},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			saver := &recordingSaver{}
			report := newStubPipeline(config.DefaultConfig(), &stubFetcher{html: "<p></p>"}, &stubExtractor{result: oneRecord()}, saver).
				Scrape(context.Background(), "q", tt.format, "explicit")
			assert.Equal(t, tt.want, saver.format)
			assert.Equal(t, "explicit", saver.stem)
			assert.Equal(t, tt.want, report.Format)
		})
	}
}

func TestScrapeSaveFailureIsSoft(t *testing.T) {
	saver := &recordingSaver{err: errors.New("disk full")}
	report := newStubPipeline(config.DefaultConfig(), &stubFetcher{html: "<p></p>"}, &stubExtractor{result: oneRecord()}, saver).
		Scrape(context.Background(), "q", "csv", "x")

	assert.Equal(t, models.OutcomeSaveFailed, report.Outcome)
	assert.Equal(t, models.StagePersist, report.Stage)
	assert.EqualError(t, report.Err, "disk full")
}

func TestScrapeEndToEnd(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BaseURL = "http://shop.test/search"
	cfg.SiteURL = "http://shop.test"
	cfg.OutputDir = t.TempDir()

	page := `<html><body>
<div class="tUxRFH"><a class="CGtC98" href="/one"><div class="KzDlHZ">One</div><div class="XQDdHH">4.1</div><div class="Nx9bqj _4b5DiR">₹100</div></a></div>
<div class="tUxRFH"><a class="CGtC98" href="/two"><div class="KzDlHZ">Two</div><div class="Nx9bqj _4b5DiR">₹200</div></a></div>
<div class="tUxRFH"><a class="CGtC98" href="/three"><div class="KzDlHZ">Three</div><div class="XQDdHH">3.7</div><div class="Nx9bqj _4b5DiR">₹300</div></a></div>
</body></html>`

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "http://shop.test/search?q=usb+hub",
		httpmock.NewStringResponder(http.StatusOK, page))

	metrics := scraper.NewMetrics()
	fetcher, err := scraper.NewFetcher(cfg,
		scraper.WithTransport(transport),
		scraper.WithLogger(discardLogger()),
		scraper.WithMetrics(metrics),
		scraper.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)
	require.NoError(t, err)

	extractor, err := parser.NewExtractor(cfg.Selectors, cfg.SiteURL,
		parser.WithLogger(discardLogger()),
		parser.WithClock(func() time.Time { return runClock }),
	)
	require.NoError(t, err)

	p := NewPipeline(cfg, fetcher, extractor, NewPersister(discardLogger(), metrics),
		WithLogger(discardLogger()),
		WithMetrics(metrics),
		WithClock(func() time.Time { return runClock }),
	)

	report := p.Scrape(context.Background(), "usb hub", "json", "")
	require.Equal(t, models.OutcomeSaved, report.Outcome, "err: %v", report.Err)
	require.Len(t, report.OutputFiles, 1)
	assert.Equal(t, 3, report.Extracted)

	raw, err := os.ReadFile(report.OutputFiles[0])
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"Rating": "N/A"`)
	assert.Contains(t, string(raw), `"Link": "http://shop.test/two"`)
	assert.Contains(t, string(raw), "₹200")
}

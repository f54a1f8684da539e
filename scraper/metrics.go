package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for one scraper instance.
type Metrics struct {
	Registry          *prometheus.Registry
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   prometheus.Histogram
	RetriesTotal      prometheus.Counter
	ErrorsTotal       *prometheus.CounterVec
	ContainersTotal   prometheus.Counter
	ItemsScrapedTotal prometheus.Counter
	SkippedTotal      prometheus.Counter
	RecordsSavedTotal *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_requests_total",
			Help: "Total HTTP requests issued by the scraper.",
		},
		[]string{"outcome"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_request_duration_seconds",
			Help:    "HTTP request latency for scraper requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_retries_total",
			Help: "Total number of retry attempts scheduled.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Total number of scraper errors by type.",
		},
		[]string{"error_type"},
	)
	containers := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_containers_total",
			Help: "Total number of product containers found in fetched pages.",
		},
	)
	itemsScraped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_items_scraped_total",
			Help: "Total number of product records extracted.",
		},
	)
	skipped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_containers_skipped_total",
			Help: "Total number of containers dropped because extraction failed.",
		},
	)
	saved := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_records_saved_total",
			Help: "Total number of records written to disk by format.",
		},
		[]string{"format"},
	)

	registry.MustRegister(requests, requestDuration, retries, errorsTotal, containers, itemsScraped, skipped, saved)

	return &Metrics{
		Registry:          registry,
		RequestsTotal:     requests,
		RequestDuration:   requestDuration,
		RetriesTotal:      retries,
		ErrorsTotal:       errorsTotal,
		ContainersTotal:   containers,
		ItemsScrapedTotal: itemsScraped,
		SkippedTotal:      skipped,
		RecordsSavedTotal: saved,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// AddExtraction records the counts from one parsed page.
func (m *Metrics) AddExtraction(containers, extracted, skipped int) {
	if m == nil {
		return
	}
	m.ContainersTotal.Add(float64(containers))
	m.ItemsScrapedTotal.Add(float64(extracted))
	m.SkippedTotal.Add(float64(skipped))
}

// AddSaved records how many records were written in format.
func (m *Metrics) AddSaved(format string, n int) {
	if m == nil {
		return
	}
	m.RecordsSavedTotal.WithLabelValues(format).Add(float64(n))
}

// WriteTextfile dumps the registry in the node exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.Registry)
}

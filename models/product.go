// Package models defines data structures for the scraper.
package models

import "time"

// NotAvailable is the placeholder stored for any field whose markup is missing.
const NotAvailable = "N/A"

// ProductRecord represents one product card extracted from a listing page.
type ProductRecord struct {
	Name      string    `csv:"Name" json:"Name"`
	Price     string    `csv:"Price" json:"Price"`
	Rating    string    `csv:"Rating" json:"Rating"`
	Link      string    `csv:"Link" json:"Link"`
	ScrapedAt time.Time `csv:"Scraped_At" json:"Scraped_At"`
}

// SkippedContainer records why a product container produced no record.
type SkippedContainer struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// ExtractResult is the outcome of parsing one page.
type ExtractResult struct {
	Records    []*ProductRecord
	Containers int
	Skipped    []SkippedContainer
}

// Extracted returns the number of records produced.
func (r *ExtractResult) Extracted() int {
	if r == nil {
		return 0
	}
	return len(r.Records)
}

// SkippedCount returns the number of containers dropped during extraction.
func (r *ExtractResult) SkippedCount() int {
	if r == nil {
		return 0
	}
	return len(r.Skipped)
}

// Stage names a step of the scrape pipeline.
type Stage string

const (
	StageFetch   Stage = "fetch"
	StageExtract Stage = "extract"
	StagePersist Stage = "persist"
	StageReport  Stage = "report"
)

// Outcome summarises how a scrape run ended.
type Outcome string

const (
	OutcomeSaved       Outcome = "saved"
	OutcomeFetchFailed Outcome = "fetch_failed"
	OutcomeNoProducts  Outcome = "no_products"
	OutcomeSaveFailed  Outcome = "save_failed"
)

// ScrapeReport holds the overall result of a scrape run.
type ScrapeReport struct {
	Query       string
	URL         string
	Format      string
	Stage       Stage
	Outcome     Outcome
	Attempts    int
	Containers  int
	Extracted   int
	Skipped     int
	SkipReasons []SkippedContainer
	OutputFiles []string
	Err         error
	StartTime   time.Time
	EndTime     time.Time
}

// Duration returns the wall time of the run.
func (r *ScrapeReport) Duration() time.Duration {
	if r == nil || r.EndTime.IsZero() {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

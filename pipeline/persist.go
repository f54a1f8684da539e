package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/aluiziolira/go-scrape-products/models"
	"github.com/aluiziolira/go-scrape-products/scraper"
)

// ErrNoRecords is returned by Save when there is nothing to write. No file
// is created or truncated in that case.
var ErrNoRecords = errors.New("pipeline: no records to save")

// Output formats accepted by Save.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatDual = "dual"
)

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(records []*models.ProductRecord) error
	Close() error
	Validate() error
}

// Persister writes extracted records to disk.
type Persister struct {
	logger  *slog.Logger
	metrics *scraper.Metrics
}

// NewPersister returns a persister logging to logger; metrics may be nil.
func NewPersister(logger *slog.Logger, metrics *scraper.Metrics) *Persister {
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{logger: logger, metrics: metrics}
}

// Save writes records in format to the file(s) derived from stem and
// returns the paths written. Failures are logged and returned; they never
// panic or exit.
func (p *Persister) Save(format string, records []*models.ProductRecord, stem string) ([]string, error) {
	if len(records) == 0 {
		p.logger.Warn("no products to save")
		return nil, ErrNoRecords
	}

	paths := OutputPaths(format, stem)
	writer, err := createWriter(format, paths)
	if err != nil {
		p.logger.Error("error creating output", slog.String("format", format), slog.Any("error", err))
		return nil, err
	}

	if err := writer.Write(records); err != nil {
		writer.Close()
		p.logger.Error("error writing output", slog.String("format", format), slog.Any("error", err))
		return nil, err
	}
	if err := writer.Close(); err != nil {
		p.logger.Error("error closing output", slog.String("format", format), slog.Any("error", err))
		return nil, err
	}
	if err := writer.Validate(); err != nil {
		p.logger.Error("output validation failed", slog.String("format", format), slog.Any("error", err))
		return nil, err
	}

	p.metrics.AddSaved(format, len(records))
	p.logger.Info("successfully saved products",
		slog.Int("count", len(records)),
		slog.String("files", strings.Join(paths, ",")),
	)
	return paths, nil
}

// OutputPaths maps a file stem to the concrete paths for format. A stem that
// already carries the format's extension is used as is.
func OutputPaths(format, stem string) []string {
	switch format {
	case FormatJSON:
		return []string{withExt(stem, ".json")}
	case FormatDual:
		base := strings.TrimSuffix(strings.TrimSuffix(stem, ".csv"), ".json")
		return []string{base + ".csv", base + ".json"}
	default:
		return []string{withExt(stem, ".csv")}
	}
}

func withExt(stem, ext string) string {
	if strings.EqualFold(filepath.Ext(stem), ext) {
		return stem
	}
	return stem + ext
}

func createWriter(format string, paths []string) (OutputWriter, error) {
	switch format {
	case FormatJSON:
		return NewJSONWriter(paths[0])
	case FormatCSV:
		return NewCSVWriter(paths[0])
	case FormatDual:
		return NewDualWriter(paths[0], paths[1])
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

package pipeline

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-products/models"
	"github.com/aluiziolira/go-scrape-products/scraper"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var scrapedAt = time.Date(2025, 11, 4, 13, 9, 13, 0, time.UTC)

func sampleRecords() []*models.ProductRecord {
	return []*models.ProductRecord{
		{Name: "HP Victus 15", Price: "₹57,990", Rating: "4.3", Link: "https://www.flipkart.com/hp/p/1?a=1&b=2", ScrapedAt: scrapedAt},
		{Name: `Lenovo "Yoga", 14"`, Price: "₹41,490", Rating: models.NotAvailable, Link: "https://www.flipkart.com/lenovo/p/2", ScrapedAt: scrapedAt},
		{Name: "Café <Pro>", Price: "N/A", Rating: "3.9", Link: models.NotAvailable, ScrapedAt: scrapedAt},
	}
}

func quietPersister() *Persister {
	return NewPersister(slog.New(slog.NewTextHandler(io.Discard, nil)), scraper.NewMetrics())
}

func TestCSVWriterWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "products.csv")

	writer, err := NewCSVWriter(path)
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}
	if err := writer.Write(sampleRecords()); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close csv: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if !strings.HasPrefix(string(raw), "Name,Price,Rating,Link,Scraped_At\r\n") {
		t.Fatalf("unexpected header line: %q", strings.SplitN(string(raw), "\n", 2)[0])
	}
	if strings.Count(string(raw), "\r\n") != 4 {
		t.Fatalf("expected 4 CRLF-terminated lines, got %q", raw)
	}
}

func TestCSVRoundTrip(t *testing.T) {
	dir := t.TempDir()
	input := sampleRecords()

	paths, err := quietPersister().Save(FormatCSV, input, filepath.Join(dir, "out"))
	if err != nil {
		t.Fatalf("save csv: %v", err)
	}
	if len(paths) != 1 || paths[0] != filepath.Join(dir, "out.csv") {
		t.Fatalf("paths = %v", paths)
	}

	f, err := os.Open(paths[0])
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != len(input)+1 {
		t.Fatalf("rows=%d, want %d", len(rows), len(input)+1)
	}
	for i, rec := range input {
		row := rows[i+1]
		want := []string{rec.Name, rec.Price, rec.Rating, rec.Link, rec.ScrapedAt.Format(time.RFC3339Nano)}
		for j := range want {
			if row[j] != want[j] {
				t.Fatalf("row %d col %d = %q, want %q", i, j, row[j], want[j])
			}
		}
	}
}

func TestJSONRoundTrip(t *testing.T) {
	dir := t.TempDir()
	input := sampleRecords()

	paths, err := quietPersister().Save(FormatJSON, input, filepath.Join(dir, "out.json"))
	if err != nil {
		t.Fatalf("save json: %v", err)
	}
	if len(paths) != 1 || paths[0] != filepath.Join(dir, "out.json") {
		t.Fatalf("paths = %v", paths)
	}

	raw, err := os.ReadFile(paths[0])
	if err != nil {
		t.Fatalf("read json: %v", err)
	}

	var decoded []*models.ProductRecord
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(decoded) != len(input) {
		t.Fatalf("records=%d, want %d", len(decoded), len(input))
	}
	for i := range input {
		got, want := decoded[i], input[i]
		if got.Name != want.Name || got.Price != want.Price || got.Rating != want.Rating || got.Link != want.Link || !got.ScrapedAt.Equal(want.ScrapedAt) {
			t.Fatalf("record %d = %+v, want %+v", i, got, want)
		}
	}
}

func TestJSONLayout(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")

	writer, err := NewJSONWriter(path)
	if err != nil {
		t.Fatalf("create json writer: %v", err)
	}
	if err := writer.Write(sampleRecords()[2:]); err != nil {
		t.Fatalf("write json: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close json: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read json: %v", err)
	}

	want := "[\n" +
		"  {\n" +
		"    \"Name\": \"Café <Pro>\",\n" +
		"    \"Price\": \"N/A\",\n" +
		"    \"Rating\": \"3.9\",\n" +
		"    \"Link\": \"N/A\",\n" +
		"    \"Scraped_At\": \"2025-11-04T13:09:13Z\"\n" +
		"  }\n" +
		"]\n"
	if string(raw) != want {
		t.Fatalf("json layout mismatch:\n%s\nwant:\n%s", raw, want)
	}
}

func TestSaveEmptyIsNoOp(t *testing.T) {
	for _, format := range []string{FormatCSV, FormatJSON, FormatDual} {
		t.Run(format, func(t *testing.T) {
			dir := t.TempDir()
			existing := filepath.Join(dir, "keep.csv")
			if err := os.WriteFile(existing, []byte("previous run"), 0o644); err != nil {
				t.Fatalf("seed file: %v", err)
			}

			_, err := quietPersister().Save(format, nil, filepath.Join(dir, "keep"))
			if !errors.Is(err, ErrNoRecords) {
				t.Fatalf("expected ErrNoRecords, got %v", err)
			}

			raw, err := os.ReadFile(existing)
			if err != nil || string(raw) != "previous run" {
				t.Fatalf("existing file touched: %q, %v", raw, err)
			}
			if _, err := os.Stat(filepath.Join(dir, "keep.json")); !os.IsNotExist(err) {
				t.Fatalf("json file should not exist, stat err = %v", err)
			}
		})
	}
}

func TestSaveReportsIOFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	_, err := quietPersister().Save(FormatCSV, sampleRecords(), filepath.Join(blocker, "out"))
	if err == nil {
		t.Fatalf("expected error writing below a regular file")
	}
}

func TestDualWriterWrite(t *testing.T) {
	dir := t.TempDir()
	metrics := scraper.NewMetrics()
	p := NewPersister(slog.New(slog.NewTextHandler(io.Discard, nil)), metrics)

	paths, err := p.Save(FormatDual, sampleRecords(), filepath.Join(dir, "products.csv"))
	if err != nil {
		t.Fatalf("save dual: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("paths = %v, want 2", paths)
	}

	for _, path := range []string{filepath.Join(dir, "products.csv"), filepath.Join(dir, "products.json")} {
		if info, err := os.Stat(path); err != nil || info.Size() == 0 {
			t.Fatalf("%s missing or empty", path)
		}
	}
	if got := testutil.ToFloat64(metrics.RecordsSavedTotal.WithLabelValues(FormatDual)); got != 3 {
		t.Fatalf("saved metric = %v, want 3", got)
	}
}

func TestOutputPaths(t *testing.T) {
	tests := []struct {
		format string
		stem   string
		want   []string
	}{
		{format: FormatCSV, stem: "out", want: []string{"out.csv"}},
		{format: FormatCSV, stem: "out.csv", want: []string{"out.csv"}},
		{format: FormatJSON, stem: "dir/out", want: []string{"dir/out.json"}},
		{format: FormatDual, stem: "out.json", want: []string{"out.csv", "out.json"}},
	}

	for _, tt := range tests {
		got := OutputPaths(tt.format, tt.stem)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") {
			t.Errorf("OutputPaths(%q, %q) = %v, want %v", tt.format, tt.stem, got, tt.want)
		}
	}
}

func TestDualTimestampsAgree(t *testing.T) {
	dir := t.TempDir()
	rec := &models.ProductRecord{
		Name: "Acer Aspire 7", Price: "₹49,990", Rating: "4.2", Link: "https://www.flipkart.com/acer/p/3",
		ScrapedAt: time.Date(2025, 11, 4, 13, 9, 13, 250_000_000, time.UTC),
	}

	if _, err := quietPersister().Save(FormatDual, []*models.ProductRecord{rec}, filepath.Join(dir, "ts")); err != nil {
		t.Fatalf("save dual: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "ts.csv"))
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "ts.json"))
	if err != nil {
		t.Fatalf("read json: %v", err)
	}
	var decoded []map[string]string
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode json: %v", err)
	}

	if rows[1][4] != decoded[0]["Scraped_At"] {
		t.Fatalf("csv Scraped_At %q != json Scraped_At %q", rows[1][4], decoded[0]["Scraped_At"])
	}
}

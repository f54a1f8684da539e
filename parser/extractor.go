package parser

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/aluiziolira/go-scrape-products/config"
	"github.com/aluiziolira/go-scrape-products/models"
)

// ExtractorOption customises an Extractor.
type ExtractorOption func(*Extractor)

// WithLogger sets the extractor's logger.
func WithLogger(logger *slog.Logger) ExtractorOption {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock sets the source of ScrapedAt timestamps.
func WithClock(now func() time.Time) ExtractorOption {
	return func(e *Extractor) {
		if now != nil {
			e.now = now
		}
	}
}

// Extractor pulls product cards out of a listing page using fixed selectors.
type Extractor struct {
	container cascadia.Selector
	name      cascadia.Selector
	price     cascadia.Selector
	rating    cascadia.Selector
	link      cascadia.Selector

	base   *url.URL
	logger *slog.Logger
	now    func() time.Time
}

// NewExtractor compiles selectors once; links are resolved against siteURL.
func NewExtractor(selectors config.Selectors, siteURL string, opts ...ExtractorOption) (*Extractor, error) {
	e := &Extractor{
		logger: slog.Default(),
		now:    time.Now,
	}

	var err error
	for _, s := range []struct {
		name     string
		selector string
		dst      *cascadia.Selector
	}{
		{"container", selectors.Container, &e.container},
		{"name", selectors.Name, &e.name},
		{"price", selectors.Price, &e.price},
		{"rating", selectors.Rating, &e.rating},
		{"link", selectors.Link, &e.link},
	} {
		if *s.dst, err = compile(s.name, s.selector); err != nil {
			return nil, err
		}
	}

	if siteURL != "" {
		if e.base, err = url.Parse(siteURL); err != nil {
			return nil, fmt.Errorf("parse site url: %w", err)
		}
	}

	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Extract returns one record per matching container in document order.
// Containers that fail are listed in Skipped instead of Records; a page
// without containers yields an empty result.
func (e *Extractor) Extract(html string) *models.ExtractResult {
	result := &models.ExtractResult{Records: []*models.ProductRecord{}}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		e.logger.Error("parse html", slog.Any("error", err))
		return result
	}

	containers := doc.FindMatcher(e.container)
	result.Containers = containers.Length()
	e.logger.Info("found product containers", slog.Int("count", result.Containers))

	containers.Each(func(i int, s *goquery.Selection) {
		idx := i + 1
		record, err := e.extractContainer(s)
		if err != nil {
			result.Skipped = append(result.Skipped, models.SkippedContainer{Index: idx, Reason: err.Error()})
			e.logger.Error("error extracting product",
				slog.Int("index", idx),
				slog.Any("error", err),
			)
			return
		}
		result.Records = append(result.Records, record)
		e.logger.Debug("extracted product", slog.Int("index", idx), slog.String("name", record.Name))
	})

	return result
}

func (e *Extractor) extractContainer(s *goquery.Selection) (record *models.ProductRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			record = nil
			err = fmt.Errorf("panic while reading container: %v", r)
		}
	}()

	name := findText(s, e.name)
	price := findText(s, e.price)
	rating := findText(s, e.rating)

	link := absent()
	if href := findAttr(s, e.link, "href"); href.ok {
		resolved, err := ResolveLink(e.base, href.value)
		if err != nil {
			return nil, err
		}
		link = present(resolved)
	}

	return &models.ProductRecord{
		Name:      name.OrNA(),
		Price:     price.OrNA(),
		Rating:    rating.OrNA(),
		Link:      link.OrNA(),
		ScrapedAt: e.now().Truncate(time.Second),
	}, nil
}

package config

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
	"github.com/spf13/viper"
)

// Selectors locate one product card and its fields in the listing markup.
type Selectors struct {
	Container string `mapstructure:"container"`
	Name      string `mapstructure:"name"`
	Price     string `mapstructure:"price"`
	Rating    string `mapstructure:"rating"`
	Link      string `mapstructure:"link"`
}

// Config holds scraper configuration.
type Config struct {
	BaseURL      string
	SiteURL      string // links are resolved against this
	Query        string
	OutputFormat string // csv, json, or dual
	OutputFile   string // stem; empty means auto-named
	OutputDir    string
	OutputPrefix string

	Delay        time.Duration
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	MaxBodySize  int // bytes; 0 disables the limit

	UserAgent      string
	AcceptLanguage string
	AcceptEncoding string
	Accept         string

	Selectors Selectors

	Verbose     bool
	Quiet       bool
	LogFile     string
	MetricsFile string
}

// DefaultConfig returns defaults for the Flipkart search page.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:        "https://www.flipkart.com/search",
		SiteURL:        "https://www.flipkart.com",
		Query:          "laptops",
		OutputFormat:   "csv",
		OutputFile:     "",
		OutputDir:      ".",
		OutputPrefix:   "flipkart",
		Delay:          2 * time.Second,
		Timeout:        10 * time.Second,
		MaxRetries:     3,
		RetryBackoff:   2 * time.Second,
		MaxBodySize:    10 << 20,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
		AcceptLanguage: "en-US,en;q=0.9",
		AcceptEncoding: "gzip, deflate, br",
		Accept:         "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,image/apng,*/*;q=0.8",
		Selectors: Selectors{
			Container: "div.tUxRFH",
			Name:      "div.KzDlHZ",
			Price:     "div.Nx9bqj._4b5DiR",
			Rating:    "div.XQDdHH",
			Link:      "a.CGtC98",
		},
		LogFile: "scraper.log",
	}
}

// Load overlays values set in v (flags, SCRAPER_* environment, config file)
// on top of DefaultConfig. Durations accept Go syntax ("500ms", "1m") or a
// bare number of seconds ("2").
func Load(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	if v == nil {
		return cfg, nil
	}

	setString := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	var durationErr error
	setDuration := func(key string, dst *time.Duration) {
		if !v.IsSet(key) || durationErr != nil {
			return
		}
		d, err := ParseSeconds(v.GetString(key))
		if err != nil {
			durationErr = fmt.Errorf("invalid %s: %w", key, err)
			return
		}
		*dst = d
	}

	setString("base_url", &cfg.BaseURL)
	setString("site_url", &cfg.SiteURL)
	setString("query", &cfg.Query)
	setString("format", &cfg.OutputFormat)
	setString("output", &cfg.OutputFile)
	setString("output_dir", &cfg.OutputDir)
	setString("prefix", &cfg.OutputPrefix)
	setString("user_agent", &cfg.UserAgent)
	setString("accept_language", &cfg.AcceptLanguage)
	setString("accept_encoding", &cfg.AcceptEncoding)
	setString("accept", &cfg.Accept)
	setString("log_file", &cfg.LogFile)
	setString("metrics_file", &cfg.MetricsFile)
	setString("selectors.container", &cfg.Selectors.Container)
	setString("selectors.name", &cfg.Selectors.Name)
	setString("selectors.price", &cfg.Selectors.Price)
	setString("selectors.rating", &cfg.Selectors.Rating)
	setString("selectors.link", &cfg.Selectors.Link)

	setDuration("delay", &cfg.Delay)
	setDuration("timeout", &cfg.Timeout)
	setDuration("retry_backoff", &cfg.RetryBackoff)

	if durationErr != nil {
		return nil, durationErr
	}

	if v.IsSet("max_body_size") {
		cfg.MaxBodySize = v.GetInt("max_body_size")
	}
	if v.IsSet("retries") {
		cfg.MaxRetries = v.GetInt("retries")
	}
	if v.IsSet("verbose") {
		cfg.Verbose = v.GetBool("verbose")
	}
	if v.IsSet("quiet") {
		cfg.Quiet = v.GetBool("quiet")
	}

	cfg.OutputFormat = strings.ToLower(strings.TrimSpace(cfg.OutputFormat))
	return cfg, nil
}

// ParseSeconds reads a duration, treating a bare number as seconds.
func ParseSeconds(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		if math.IsNaN(secs) || math.IsInf(secs, 0) {
			return 0, fmt.Errorf("invalid duration %q", raw)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(raw)
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if err := validateURL("base URL", c.BaseURL); err != nil {
		return err
	}
	if err := validateURL("site URL", c.SiteURL); err != nil {
		return err
	}
	if strings.TrimSpace(c.Query) == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.OutputPrefix == "" && c.OutputFile == "" {
		return fmt.Errorf("output prefix cannot be empty when no output file is given")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max retries must be positive")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.MaxBodySize < 0 {
		return fmt.Errorf("max body size cannot be negative")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.Verbose && c.Quiet {
		return fmt.Errorf("verbose and quiet are mutually exclusive")
	}
	if c.Quiet && c.LogFile == "" {
		return fmt.Errorf("quiet requires a log file")
	}
	return c.Selectors.Validate()
}

// Validate checks every selector is present and compiles.
func (s Selectors) Validate() error {
	fields := []struct {
		name  string
		value string
	}{
		{"container", s.Container},
		{"name", s.Name},
		{"price", s.Price},
		{"rating", s.Rating},
		{"link", s.Link},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%s selector cannot be empty", f.name)
		}
		if _, err := cascadia.Compile(f.value); err != nil {
			return fmt.Errorf("invalid %s selector %q: %w", f.name, f.value, err)
		}
	}
	return nil
}

func validateURL(label, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s cannot be empty", label)
	}
	parsedURL, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", label, err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("%s must include a host", label)
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aluiziolira/go-scrape-products/config"
	"github.com/aluiziolira/go-scrape-products/logging"
	"github.com/aluiziolira/go-scrape-products/models"
	"github.com/aluiziolira/go-scrape-products/parser"
	"github.com/aluiziolira/go-scrape-products/pipeline"
	"github.com/aluiziolira/go-scrape-products/scraper"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// runScrape is swapped in tests.
var runScrape = run

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	v := viper.New()
	var configFile string

	cmd := &cobra.Command{
		Use:          "scraper",
		Short:        "Scrape product cards from a search results page into CSV or JSON",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if configFile != "" {
				v.SetConfigFile(configFile)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("read config file: %w", err)
				}
			}
			cfg, err := config.Load(v)
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runScrape(cmd.Context(), cfg, stdout, cmd.ErrOrStderr())
		},
	}

	defaults := config.DefaultConfig()
	flags := cmd.Flags()
	flags.StringP("query", "q", defaults.Query, "Search query for products")
	flags.StringP("format", "f", defaults.OutputFormat, "Output format: csv, json, or dual")
	flags.StringP("output", "o", "", "Output filename without extension (default: timestamped)")
	flags.StringP("delay", "d", defaults.Delay.String(), "Delay after each successful request, in seconds or with a unit (2, 500ms)")
	flags.IntP("retries", "r", defaults.MaxRetries, "Maximum fetch attempts")
	flags.String("retry-backoff", defaults.RetryBackoff.String(), "Backoff unit; attempt n waits n times this")
	flags.String("timeout", defaults.Timeout.String(), "Request timeout, in seconds or with a unit")
	flags.String("base-url", defaults.BaseURL, "Search endpoint")
	flags.String("site-url", defaults.SiteURL, "Base URL product links are resolved against")
	flags.String("output-dir", defaults.OutputDir, "Directory for auto-named output files")
	flags.String("log-file", defaults.LogFile, "Append logs to this file (empty disables)")
	flags.Bool("quiet", false, "Log to the log file only")
	flags.BoolP("verbose", "v", false, "Enable verbose logging")
	flags.String("metrics-file", "", "Write Prometheus metrics to this textfile after the run")
	flags.StringVar(&configFile, "config", "", "Optional config file (yaml, toml or json)")

	for key, flag := range map[string]string{
		"query":         "query",
		"format":        "format",
		"output":        "output",
		"delay":         "delay",
		"retries":       "retries",
		"retry_backoff": "retry-backoff",
		"timeout":       "timeout",
		"base_url":      "base-url",
		"site_url":      "site-url",
		"output_dir":    "output-dir",
		"log_file":      "log-file",
		"quiet":         "quiet",
		"verbose":       "verbose",
		"metrics_file":  "metrics-file",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", flag, err))
		}
	}

	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	return cmd
}

func run(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	var console io.Writer = stderr
	if cfg.Quiet {
		console = nil
	}
	logger, closer, err := logging.New(logging.Options{
		Verbose:  cfg.Verbose,
		Console:  console,
		FilePath: cfg.LogFile,
	})
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer closer.Close()

	metrics := scraper.NewMetrics()
	fetcher, err := scraper.NewFetcher(cfg,
		scraper.WithLogger(logger),
		scraper.WithMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("initialising fetcher: %w", err)
	}
	extractor, err := parser.NewExtractor(cfg.Selectors, cfg.SiteURL, parser.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("initialising extractor: %w", err)
	}

	p := pipeline.NewPipeline(cfg, fetcher, extractor, pipeline.NewPersister(logger, metrics),
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(metrics),
	)
	report := p.Scrape(ctx, cfg.Query, cfg.OutputFormat, cfg.OutputFile)

	if err := metrics.WriteTextfile(cfg.MetricsFile); err != nil {
		logger.Error("write metrics textfile", "path", cfg.MetricsFile, "error", err)
	}

	printSummary(stdout, report)
	return nil
}

func printSummary(w io.Writer, report *models.ScrapeReport) {
	separator := "--------------------------------------------------"
	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintf(w, "Scrape %s\n", report.Outcome)
	fmt.Fprintf(w, "  Query:         %s\n", report.Query)
	fmt.Fprintf(w, "  URL:           %s\n", report.URL)
	fmt.Fprintf(w, "  Containers:    %d\n", report.Containers)
	fmt.Fprintf(w, "  Extracted:     %d\n", report.Extracted)
	fmt.Fprintf(w, "  Skipped:       %d\n", report.Skipped)
	for _, s := range report.SkipReasons {
		fmt.Fprintf(w, "    #%d: %s\n", s.Index, s.Reason)
	}
	if report.Err != nil {
		fmt.Fprintf(w, "  Error:         %v\n", report.Err)
	}
	if len(report.OutputFiles) > 0 {
		fmt.Fprintf(w, "  Output file:   %s\n", strings.Join(report.OutputFiles, ", "))
	}
	fmt.Fprintf(w, "  Duration:      %v\n", report.Duration())
	fmt.Fprintln(w, separator)
}

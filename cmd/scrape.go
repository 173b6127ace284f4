package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/hn-fanout-scraper/internal/config"
	"github.com/JakeFAU/hn-fanout-scraper/internal/logging"
	"github.com/JakeFAU/hn-fanout-scraper/internal/scraper"
)

type scrapeOptions struct {
	multithreaded bool
	workers       int
	pages         int
}

// newScrapeCmd creates the 'scrape' subcommand. Without --multithreaded the
// run uses a single worker.
func newScrapeCmd() *cobra.Command {
	opts := &scrapeOptions{}
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Scrape the configured page range and print a summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScrape(cmd, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.multithreaded, "multithreaded", false, "run scrape.workers workers instead of one")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "override scrape.workers (implies --multithreaded)")
	cmd.Flags().IntVar(&opts.pages, "pages", 0, "override scrape.pages")
	return cmd
}

func runScrape(cmd *cobra.Command, opts *scrapeOptions) error {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("read config flag: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("pages") {
		if opts.pages < 0 {
			return fmt.Errorf("--pages must be >= 0, got %d", opts.pages)
		}
		cfg.Scrape.Pages = opts.pages
	}
	if flags.Changed("workers") {
		if opts.workers < 1 {
			return fmt.Errorf("--workers must be >= 1, got %d", opts.workers)
		}
		cfg.Scrape.Workers = opts.workers
		opts.multithreaded = true
	}

	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	runner, err := newRunner(cfg, logger)
	if err != nil {
		return fmt.Errorf("init application: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 10*time.Second)
		defer cancel()
		if cerr := runner.Close(closeCtx); cerr != nil {
			logger.Warn("shutdown incomplete", zap.Error(cerr))
		}
	}()

	workers := 1
	if opts.multithreaded {
		workers = cfg.Scrape.Workers
	}
	out := cmd.OutOrStdout()
	if workers > 1 {
		fmt.Fprintf(out, "Using %d workers...\n", workers)
	} else {
		fmt.Fprintln(out, "Using a single worker...")
	}

	summary, err := runner.Run(cmd.Context(), workers)
	switch {
	case errors.Is(err, scraper.ErrRunCanceled):
		fmt.Fprintln(out, "Interrupted; partial results discarded.")
		return nil
	case err != nil:
		return err
	}
	printSummary(out, summary)
	return nil
}

func printSummary(w io.Writer, s scraper.RunSummary) {
	fmt.Fprintf(w, "Run %s finished with %d worker(s)\n", s.RunID, s.Workers)
	fmt.Fprintf(w, "Pages consumed: %d\n", s.TotalPages)
	fmt.Fprintf(w, "Records: %d\n", s.TotalRecords)
	fmt.Fprintf(w, "Errors: %d\n", s.TotalErrors)
	fmt.Fprintf(w, "Elapsed: %.2fs\n", s.Elapsed.Seconds())
	fmt.Fprintf(w, "Throughput: %.1f records/s\n", s.Throughput())
}

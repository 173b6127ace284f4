// Package cmd defines the CLI for the scraper executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/hn-fanout-scraper/internal/app"
	"github.com/JakeFAU/hn-fanout-scraper/internal/config"
	"github.com/JakeFAU/hn-fanout-scraper/internal/scraper"
)

// Runner is the part of the application a command drives. Tests swap in a
// fake through newRunner.
type Runner interface {
	Run(ctx context.Context, workers int) (scraper.RunSummary, error)
	Close(ctx context.Context) error
}

// newRunner is the application factory.
var newRunner = func(cfg config.Config, logger *zap.Logger) (Runner, error) {
	return app.New(cfg, nil, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scraper",
		Short: "Fan-out scraper for paginated listings with per-record detail pages.",
		Long: `scraper drains a fixed range of listing pages with a pool of workers.
Each worker fetches a page, extracts its records, fetches every record's
detail page concurrently, and publishes the page only after all detail
fetches have finished.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().String("config", "", "config file (yaml, json or toml)")
	cmd.AddCommand(newScrapeCmd())
	return cmd
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the run.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

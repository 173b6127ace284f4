// Package app builds the long-lived services a scrape run needs from
// configuration and holds them until Close.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/hn-fanout-scraper/internal/api"
	"github.com/JakeFAU/hn-fanout-scraper/internal/clock/system"
	"github.com/JakeFAU/hn-fanout-scraper/internal/config"
	"github.com/JakeFAU/hn-fanout-scraper/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/hn-fanout-scraper/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/hn-fanout-scraper/internal/fetcher/headless"
	"github.com/JakeFAU/hn-fanout-scraper/internal/fetcher/ratelimit"
	"github.com/JakeFAU/hn-fanout-scraper/internal/fetcher/retry"
	"github.com/JakeFAU/hn-fanout-scraper/internal/parser/hackernews"
	"github.com/JakeFAU/hn-fanout-scraper/internal/progress"
	"github.com/JakeFAU/hn-fanout-scraper/internal/progress/sinks"
	redisqueue "github.com/JakeFAU/hn-fanout-scraper/internal/queue/redis"
	"github.com/JakeFAU/hn-fanout-scraper/internal/scraper"
	sinkmemory "github.com/JakeFAU/hn-fanout-scraper/internal/sink/memory"
	"github.com/JakeFAU/hn-fanout-scraper/internal/worker"
)

// App holds every service shared by a run: fetcher, parser, result sink,
// progress hub, metrics registry and the optional Redis client.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	registry   *prometheus.Registry
	hub        *progress.Hub
	sink       *sinkmemory.Sink
	dispatcher *dispatcher.Dispatcher
	server     *api.Server

	closers   []func(ctx context.Context) error
	closeOnce sync.Once
}

// New wires the services described by cfg. fetcher may be nil, in which case
// the backend named by fetcher.kind is built; tests pass their own.
func New(cfg config.Config, fetcher scraper.Fetcher, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		sink:     sinkmemory.New(),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	promSink, err := sinks.NewPrometheusSink(a.registry)
	if err != nil {
		return nil, fmt.Errorf("init prometheus sink: %w", err)
	}
	a.hub = progress.NewHub(progress.Config{
		BufferSize:     cfg.Progress.BufferSize,
		MaxBatchEvents: cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   cfg.MaxBatchWait(),
		SinkTimeout:    cfg.SinkTimeout(),
		Logger:         logger.Named("progress"),
	}, sinks.NewLogSink(logger.Named("events")), promSink)
	a.closers = append(a.closers, a.hub.Close)

	if fetcher == nil {
		fetcher, err = a.buildFetcher()
		if err != nil {
			_ = a.Close(context.Background())
			return nil, err
		}
	}
	if cfg.HTTP.RatePerSecond > 0 {
		fetcher = ratelimit.New(fetcher, ratelimit.Config{
			DefaultRPS:   cfg.HTTP.RatePerSecond,
			DefaultBurst: cfg.HTTP.Burst,
		})
	}
	if cfg.HTTP.MaxAttempts > 1 {
		fetcher = retry.New(fetcher, retry.Config{
			MaxAttempts:    cfg.HTTP.MaxAttempts,
			BaseDelay:      msToDuration(cfg.HTTP.BackoffInitialMs),
			MaxDelay:       msToDuration(cfg.HTTP.BackoffMaxMs),
			AttemptTimeout: cfg.FetchTimeout(),
		}, logger.Named("retry"))
	}

	queues, err := a.buildQueueFactory()
	if err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}

	a.dispatcher, err = dispatcher.New(dispatcher.Deps{
		Fetcher: fetcher,
		Parser:  hackernews.New(),
		Sink:    a.sink,
		Clock:   system.New(),
		Events:  a.hub,
		Queues:  queues,
		Logger:  logger.Named("dispatcher"),
	}, worker.Config{
		DetailURLTemplate: cfg.Scrape.DetailURLTemplate,
		FetchTimeout:      cfg.FetchBudget(),
		MaxFanOut:         cfg.Scrape.MaxFanOut,
	})
	if err != nil {
		_ = a.Close(context.Background())
		return nil, fmt.Errorf("init dispatcher: %w", err)
	}

	if cfg.Metrics.Addr != "" {
		a.server, err = api.NewServer(api.Options{
			Registry: a.registry,
			Records:  a.sink,
			Logger:   logger.Named("api"),
		})
		if err != nil {
			_ = a.Close(context.Background())
			return nil, fmt.Errorf("init metrics server: %w", err)
		}
	}
	return a, nil
}

func (a *App) buildFetcher() (scraper.Fetcher, error) {
	headers := http.Header{"Accept": {"text/html"}}
	switch a.cfg.Fetcher.Kind {
	case config.FetcherHeadless:
		f, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         a.cfg.HTTP.UserAgent,
			NavigationTimeout: a.cfg.NavTimeout(),
			Headers:           headers,
		})
		if err != nil {
			return nil, fmt.Errorf("init headless fetcher: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error {
			f.Close()
			return nil
		})
		a.logger.Info("using headless fetcher", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
		return f, nil
	default:
		return collyfetcher.New(collyfetcher.Config{
			UserAgent: a.cfg.HTTP.UserAgent,
			Timeout:   a.cfg.FetchTimeout(),
			Headers:   headers,
		}), nil
	}
}

func (a *App) buildQueueFactory() (dispatcher.QueueFactory, error) {
	if a.cfg.Queue.Backend != config.QueueRedis {
		return dispatcher.MemoryQueue, nil
	}
	client, err := redisqueue.NewClient(redisqueue.Config{
		Addr:      a.cfg.Queue.RedisAddr,
		Password:  a.cfg.Queue.RedisPassword,
		DB:        a.cfg.Queue.RedisDB,
		KeyPrefix: a.cfg.Queue.KeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("init redis client: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return closeRedis(client) })
	a.logger.Info("using redis page queue", zap.String("addr", a.cfg.Queue.RedisAddr))

	prefix := a.cfg.Queue.KeyPrefix
	return func(ctx context.Context, runID string, urls []string) (scraper.PageQueue, error) {
		return redisqueue.NewQueue(ctx, client, redisqueue.Key(prefix, runID), urls)
	}, nil
}

// Run scrapes the configured page range with workers workers. The metrics
// server, when enabled, lives exactly as long as the run.
func (a *App) Run(ctx context.Context, workers int) (scraper.RunSummary, error) {
	urls, err := scraper.PageURLs(a.cfg.Scrape.PageURLTemplate, a.cfg.Scrape.FirstPage, a.cfg.Scrape.Pages)
	if err != nil {
		return scraper.RunSummary{}, err
	}

	if a.server != nil {
		srvCtx, stop := context.WithCancel(ctx)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.server.Serve(srvCtx, a.cfg.Metrics.Addr); err != nil {
				a.logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			stop()
			wg.Wait()
		}()
	}

	summary, err := a.dispatcher.Run(ctx, workers, urls)
	if err != nil {
		return scraper.RunSummary{}, fmt.Errorf("scrape: %w", err)
	}
	return summary, nil
}

// Records returns a copy of everything published so far.
func (a *App) Records() []scraper.Record {
	return a.sink.Records()
}

// Registry exposes the metrics registry.
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// Close releases services in reverse construction order and flushes the
// progress hub. It is safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	a.closeOnce.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](ctx); err != nil {
				errs = append(errs, err)
			}
		}
		_ = a.logger.Sync()
	})
	return errors.Join(errs...)
}

func closeRedis(client *redis.Client) error {
	if err := client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

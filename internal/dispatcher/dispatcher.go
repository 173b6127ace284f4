// Package dispatcher is the pool driver: it seeds one page queue, launches
// the workers that drain it, and merges what they report.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/hn-fanout-scraper/internal/clock/system"
	idgen "github.com/JakeFAU/hn-fanout-scraper/internal/id/uuid"
	"github.com/JakeFAU/hn-fanout-scraper/internal/progress"
	"github.com/JakeFAU/hn-fanout-scraper/internal/queue/memory"
	"github.com/JakeFAU/hn-fanout-scraper/internal/scraper"
	"github.com/JakeFAU/hn-fanout-scraper/internal/worker"
)

// QueueFactory builds the single queue a run's workers share.
type QueueFactory func(ctx context.Context, runID string, urls []string) (scraper.PageQueue, error)

// MemoryQueue is the default QueueFactory.
func MemoryQueue(_ context.Context, _ string, urls []string) (scraper.PageQueue, error) {
	return memory.NewQueue(urls), nil
}

// RunIDGenerator mints the id that tags one run's events, logs and queue key.
type RunIDGenerator interface {
	NewRawID() (uuid.UUID, error)
}

type closer interface {
	Close(ctx context.Context) error
}

// Deps bundles the collaborators handed to every worker.
type Deps struct {
	Fetcher scraper.Fetcher
	Parser  scraper.Parser
	Sink    scraper.ResultSink
	Clock   scraper.Clock
	Events  progress.Emitter
	Queues  QueueFactory
	IDs     RunIDGenerator
	Logger  *zap.Logger
}

// Dispatcher runs scrapes with a pool of workers.
type Dispatcher struct {
	deps Deps
	cfg  worker.Config
}

// New creates a Dispatcher. Fetcher, Parser and Sink are required.
func New(deps Deps, cfg worker.Config) (*Dispatcher, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("fetcher is required")
	case deps.Parser == nil:
		return nil, errors.New("parser is required")
	case deps.Sink == nil:
		return nil, errors.New("sink is required")
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Events == nil {
		deps.Events = progress.Discard{}
	}
	if deps.Queues == nil {
		deps.Queues = MemoryQueue
	}
	if deps.IDs == nil {
		deps.IDs = idgen.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Dispatcher{deps: deps, cfg: cfg}, nil
}

// Run drains urls with workerCount concurrent workers and blocks until all of
// them have terminated.
//
// Per-page and per-record failures only show up in the summary's error count.
// If ctx ends first the worker outcomes are discarded and ErrRunCanceled is
// returned with a zero summary.
func (d *Dispatcher) Run(ctx context.Context, workerCount int, urls []string) (scraper.RunSummary, error) {
	if workerCount < 1 {
		return scraper.RunSummary{}, fmt.Errorf("worker count must be >= 1, got %d", workerCount)
	}
	id, err := d.deps.IDs.NewRawID()
	if err != nil {
		return scraper.RunSummary{}, fmt.Errorf("generate run id: %w", err)
	}
	logger := d.deps.Logger.With(zap.String("run_id", id.String()))

	queue, err := d.deps.Queues(ctx, id.String(), urls)
	if err != nil {
		return scraper.RunSummary{}, fmt.Errorf("build page queue: %w", err)
	}
	if c, ok := queue.(closer); ok {
		defer func() {
			// The run context may already be gone; cleanup still has to reach the backend.
			if err := c.Close(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("page queue close failed", zap.Error(err))
			}
		}()
	}

	run := worker.RunContext{ID: id, Events: d.deps.Events}
	start := d.deps.Clock.Now()
	d.emit(run, progress.Event{Stage: progress.StageRunStart, Pages: int64(len(urls))})
	logger.Info("run started", zap.Int("workers", workerCount), zap.Int("pages", len(urls)))

	outcomes := make([]scraper.WorkerOutcome, workerCount)
	var wg sync.WaitGroup
	for i := range workerCount {
		w := worker.New(
			i,
			queue,
			d.deps.Sink,
			d.deps.Fetcher,
			d.deps.Parser,
			d.deps.Clock,
			run,
			d.cfg,
			logger.Named("worker").With(zap.Int("worker", i)),
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = w.Run(ctx)
		}()
	}
	wg.Wait()

	elapsed := d.deps.Clock.Now().Sub(start)
	if ctx.Err() != nil {
		d.emit(run, progress.Event{Stage: progress.StageRunCanceled, Dur: elapsed})
		logger.Warn("run canceled; worker outcomes discarded", zap.Duration("elapsed", elapsed))
		return scraper.RunSummary{}, fmt.Errorf("%w: %w", scraper.ErrRunCanceled, ctx.Err())
	}

	var total scraper.WorkerOutcome
	for _, o := range outcomes {
		total = total.Add(o)
	}
	summary := scraper.RunSummary{
		RunID:        id.String(),
		Workers:      workerCount,
		Elapsed:      elapsed,
		TotalPages:   total.PagesConsumed,
		TotalRecords: total.RecordsProduced,
		TotalErrors:  total.Errors,
	}
	d.emit(run, progress.Event{
		Stage:   progress.StageRunDone,
		Records: int64(summary.TotalRecords),
		Errors:  int64(summary.TotalErrors),
		Dur:     elapsed,
	})
	logger.Info("run finished",
		zap.Int("pages", summary.TotalPages),
		zap.Int("pages_claimed", total.PagesClaimed),
		zap.Int("records", summary.TotalRecords),
		zap.Int("errors", summary.TotalErrors),
		zap.Duration("elapsed", elapsed),
	)
	return summary, nil
}

func (d *Dispatcher) emit(run worker.RunContext, evt progress.Event) {
	evt.RunID = progress.UUIDToBytes(run.ID)
	evt.TS = d.deps.Clock.Now().UTC()
	run.Events.Emit(evt)
}

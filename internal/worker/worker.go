// Package worker implements the claim, fetch, parse, fan-out, join, publish
// loop that drains a page queue.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/hn-fanout-scraper/internal/clock/system"
	"github.com/JakeFAU/hn-fanout-scraper/internal/progress"
	"github.com/JakeFAU/hn-fanout-scraper/internal/scraper"
	"github.com/JakeFAU/hn-fanout-scraper/internal/taskgroup"
)

const defaultFetchTimeout = 15 * time.Second

// Config controls Worker behavior.
type Config struct {
	// DetailURLTemplate turns a record id into its detail URL (one %s verb).
	DetailURLTemplate string
	// FetchTimeout bounds every page and detail fetch.
	FetchTimeout time.Duration
	// MaxFanOut caps concurrent detail fetches per page; <= 0 means one
	// goroutine per record.
	MaxFanOut int
}

// RunContext is the state a worker shares with the rest of one run.
type RunContext struct {
	ID     uuid.UUID
	Events progress.Emitter
}

// Worker drains a PageQueue until it is empty or a page yields nothing.
type Worker struct {
	index   int
	queue   scraper.PageQueue
	sink    scraper.ResultSink
	fetcher scraper.Fetcher
	parser  scraper.Parser
	clock   scraper.Clock
	run     RunContext
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Worker.
func New(
	index int,
	queue scraper.PageQueue,
	sink scraper.ResultSink,
	fetcher scraper.Fetcher,
	parser scraper.Parser,
	clock scraper.Clock,
	run RunContext,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if clock == nil {
		clock = system.New()
	}
	if run.Events == nil {
		run.Events = progress.Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		index:   index,
		queue:   queue,
		sink:    sink,
		fetcher: fetcher,
		parser:  parser,
		clock:   clock,
		run:     run,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run loops until the queue is drained, a page fetch fails, a page yields no
// records, or ctx ends, and returns what this worker accomplished.
//
// A failed or empty page ends this worker even if the queue still holds
// pages; the other workers keep draining it.
func (w *Worker) Run(ctx context.Context) scraper.WorkerOutcome {
	var outcome scraper.WorkerOutcome
	start := w.clock.Now()
	w.emit(progress.Event{Stage: progress.StageWorkerStart})
	defer func() {
		w.emit(progress.Event{
			Stage:   progress.StageWorkerDone,
			Records: int64(outcome.RecordsProduced),
			Errors:  int64(outcome.Errors),
			Dur:     w.clock.Now().Sub(start),
		})
		w.logger.Debug("worker terminated",
			zap.Int("pages_claimed", outcome.PagesClaimed),
			zap.Int("pages_consumed", outcome.PagesConsumed),
			zap.Int("records", outcome.RecordsProduced),
			zap.Int("errors", outcome.Errors),
		)
	}()

	for {
		if ctx.Err() != nil {
			return outcome
		}
		url, ok, err := w.queue.TryTake(ctx)
		if err != nil {
			if ctx.Err() == nil {
				outcome.Errors++
				w.logger.Error("queue take failed", zap.Error(err))
			}
			return outcome
		}
		if !ok {
			w.logger.Debug("queue drained")
			return outcome
		}
		outcome.PagesClaimed++
		if !w.processPage(ctx, url, &outcome) {
			return outcome
		}
	}
}

// processPage reports whether the worker should claim another page.
func (w *Worker) processPage(ctx context.Context, url string, outcome *scraper.WorkerOutcome) bool {
	body, dur, err := w.fetch(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		outcome.Errors++
		w.logger.Warn("page fetch failed; worker stopping", zap.String("url", url), zap.Error(err))
		w.emit(progress.Event{Stage: progress.StagePageError, URL: url, Dur: dur, Note: err.Error()})
		return false
	}

	records, err := w.parser.ParsePage(body)
	if err != nil {
		outcome.Errors++
		err = fmt.Errorf("%w: %s: %w", scraper.ErrParse, url, err)
		w.logger.Warn("page parse failed; worker stopping", zap.String("url", url), zap.Error(err))
		w.emit(progress.Event{Stage: progress.StagePageError, URL: url, Bytes: int64(len(body)), Dur: dur, Note: err.Error()})
		return false
	}
	if len(records) == 0 {
		w.logger.Info("page yielded no records; worker stopping", zap.String("url", url))
		w.emit(progress.Event{
			Stage: progress.StagePageEmpty,
			URL:   url,
			Bytes: int64(len(body)),
			Dur:   dur,
			Note:  scraper.ErrEmptyPage.Error(),
		})
		return false
	}

	enriched, failures := w.fanOut(ctx, records)
	if ctx.Err() != nil {
		return false
	}
	outcome.Errors += failures

	w.sink.Append(enriched...)
	outcome.PagesConsumed++
	outcome.RecordsProduced += len(enriched)
	w.logger.Debug("page published",
		zap.String("url", url),
		zap.Int("records", len(enriched)),
		zap.Int("detail_failures", failures),
	)
	w.emit(progress.Event{
		Stage:   progress.StagePageDone,
		URL:     url,
		Bytes:   int64(len(body)),
		Records: int64(len(enriched)),
		Errors:  int64(failures),
		Dur:     dur,
	})
	return true
}

// fanOut fetches every record's detail concurrently and returns once all of
// them have finished. Each task owns exactly one slot of the result, so
// parser order survives and no record is shared between tasks.
func (w *Worker) fanOut(ctx context.Context, records []scraper.Record) ([]scraper.Record, int) {
	out := make([]scraper.Record, len(records))
	group := taskgroup.New(ctx, w.cfg.MaxFanOut)
	for i, rec := range records {
		group.Go(func(ctx context.Context) error {
			detail, err := w.enrich(ctx, rec.ID)
			if err == nil {
				rec.Detail = detail
			}
			out[i] = rec
			return err
		})
	}
	errs := group.Wait()
	for _, err := range errs {
		if ctx.Err() == nil {
			w.logger.Warn("detail failed; record kept without detail", zap.Error(err))
		}
	}
	return out, len(errs)
}

func (w *Worker) enrich(ctx context.Context, id string) (map[string]string, error) {
	url := scraper.DetailURL(w.cfg.DetailURLTemplate, id)
	body, dur, err := w.fetch(ctx, url)
	if err != nil {
		w.emit(progress.Event{Stage: progress.StageDetailError, URL: url, Dur: dur, Note: err.Error()})
		return nil, err
	}
	detail, err := w.parser.ParseDetail(body)
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", scraper.ErrParse, url, err)
		w.emit(progress.Event{Stage: progress.StageDetailError, URL: url, Bytes: int64(len(body)), Dur: dur, Note: err.Error()})
		return nil, err
	}
	if detail == nil {
		detail = map[string]string{}
	}
	w.emit(progress.Event{Stage: progress.StageDetailDone, URL: url, Bytes: int64(len(body)), Dur: dur})
	return detail, nil
}

// fetch performs one attempt bounded by the configured timeout.
func (w *Worker) fetch(ctx context.Context, url string) ([]byte, time.Duration, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, w.cfg.FetchTimeout)
	defer cancel()

	start := w.clock.Now()
	body, err := w.fetcher.Fetch(fetchCtx, url)
	dur := w.clock.Now().Sub(start)
	if err != nil {
		return nil, dur, fmt.Errorf("%w: %s: %w", scraper.ErrFetch, url, err)
	}
	return body, dur, nil
}

func (w *Worker) emit(evt progress.Event) {
	evt.RunID = progress.UUIDToBytes(w.run.ID)
	evt.TS = w.clock.Now().UTC()
	evt.Worker = w.index
	w.run.Events.Emit(evt)
}

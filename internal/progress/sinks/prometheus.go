package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/hn-fanout-scraper/internal/progress"
)

// PrometheusSink exports scrape progress via Prometheus. It owns every
// collector it registers.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	workersRunning prometheus.Gauge

	pages         *prometheus.CounterVec
	pageBytes     prometheus.Counter
	records       prometheus.Counter
	details       *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_runs_started_total",
			Help: "Total scrape runs started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_runs_completed_total",
			Help: "Total scrape runs finished, partitioned by result.",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scraper_run_duration_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"result"}),
		workersRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scraper_workers_running",
			Help: "Workers currently claiming or processing pages.",
		}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_pages_total",
			Help: "Listing pages processed, partitioned by result.",
		}, []string{"result"}),
		pageBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_page_bytes_total",
			Help: "Bytes downloaded for listing pages.",
		}),
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_records_published_total",
			Help: "Records appended to the result sink.",
		}),
		details: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_details_total",
			Help: "Detail fetches, partitioned by result.",
		}, []string{"result"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scraper_fetch_duration_seconds",
			Help:    "Fetch latency partitioned by resource kind.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"kind"}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runDuration,
		s.workersRunning,
		s.pages,
		s.pageBytes,
		s.records,
		s.details,
		s.fetchDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
	case progress.StageRunDone:
		s.observeRun(evt, "success")
	case progress.StageRunCanceled:
		s.observeRun(evt, "canceled")
	case progress.StageWorkerStart:
		s.workersRunning.Inc()
	case progress.StageWorkerDone:
		s.workersRunning.Dec()
	case progress.StagePageDone:
		s.pages.WithLabelValues("ok").Inc()
		s.records.Add(float64(evt.Records))
		s.observePageFetch(evt)
	case progress.StagePageEmpty:
		s.pages.WithLabelValues("empty").Inc()
		s.observePageFetch(evt)
	case progress.StagePageError:
		s.pages.WithLabelValues("error").Inc()
	case progress.StageDetailDone:
		s.details.WithLabelValues("ok").Inc()
		s.observeFetch("detail", evt)
	case progress.StageDetailError:
		s.details.WithLabelValues("error").Inc()
	}
}

func (s *PrometheusSink) observeRun(evt progress.Event, result string) {
	s.runsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) observePageFetch(evt progress.Event) {
	if evt.Bytes > 0 {
		s.pageBytes.Add(float64(evt.Bytes))
	}
	s.observeFetch("page", evt)
}

func (s *PrometheusSink) observeFetch(kind string, evt progress.Event) {
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(kind).Observe(evt.Dur.Seconds())
	}
}

// Close implements progress.Sink; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

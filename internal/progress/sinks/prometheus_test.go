package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/hn-fanout-scraper/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms follow the event stream.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart},
		{RunID: runID, TS: now, Stage: progress.StageWorkerStart, Worker: 0},
		{RunID: runID, TS: now, Stage: progress.StageWorkerStart, Worker: 1},
		{
			RunID:   runID,
			TS:      now,
			Stage:   progress.StagePageDone,
			URL:     "https://example.com/news?p=1",
			Bytes:   2048,
			Records: 30,
			Dur:     150 * time.Millisecond,
		},
		{RunID: runID, TS: now, Stage: progress.StageDetailDone, URL: "https://example.com/item?id=1", Dur: 80 * time.Millisecond},
		{RunID: runID, TS: now, Stage: progress.StageDetailError, URL: "https://example.com/item?id=2"},
		{RunID: runID, TS: now, Stage: progress.StagePageEmpty, URL: "https://example.com/news?p=2"},
		{RunID: runID, TS: now, Stage: progress.StageWorkerDone, Worker: 0},
		{RunID: runID, TS: now, Stage: progress.StageRunDone, Dur: 3 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("canceled")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.workersRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.pages.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.pages.WithLabelValues("empty")))
	require.InDelta(t, 2048.0, testutil.ToFloat64(sink.pageBytes), 1e-9)
	require.InDelta(t, 30.0, testutil.ToFloat64(sink.records), 1e-9)
	require.Equal(t, 1.0, testutil.ToFloat64(sink.details.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.details.WithLabelValues("error")))
	require.Equal(t, 2, testutil.CollectAndCount(sink.fetchDuration, "scraper_fetch_duration_seconds"))
	require.Equal(t, 1, testutil.CollectAndCount(sink.runDuration, "scraper_run_duration_seconds"))
	require.NoError(t, sink.Close(context.Background()))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.ErrorContains(t, err, "register progress collector")
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/hn-fanout-scraper/internal/progress"
	"github.com/JakeFAU/hn-fanout-scraper/internal/queue/memory"
	"github.com/JakeFAU/hn-fanout-scraper/internal/scraper"
	sinkmemory "github.com/JakeFAU/hn-fanout-scraper/internal/sink/memory"
)

const detailTemplate = "detail:%s"

func TestWorker_ScenarioEmptySecondPageStops(t *testing.T) {
	t.Parallel()

	parser := newFakeParser()
	parser.pages["P1"] = []string{"A", "B"}
	parser.pages["P2"] = nil
	fetcher := newFakeFetcher()
	sink := sinkmemory.New()
	queue := newRecordingQueue("P1", "P2")

	outcome := newTestWorker(queue, sink, fetcher, parser, Config{}).Run(context.Background())

	require.Equal(t, scraper.WorkerOutcome{PagesClaimed: 2, PagesConsumed: 1, RecordsProduced: 2}, outcome)
	require.Equal(t, []string{"P1", "P2"}, queue.Taken())
	records := sink.Records()
	require.Equal(t, []string{"A", "B"}, recordIDs(records))
	for _, r := range records {
		require.True(t, r.Enriched(), "record %s should carry detail", r.ID)
		require.Equal(t, "detail:"+r.ID, r.Detail["source"])
		require.Equal(t, r.ID, r.Fields["title"])
	}
}

func TestWorker_ScenarioDetailTimeoutKeepsRecord(t *testing.T) {
	t.Parallel()

	parser := newFakeParser()
	parser.pages["P1"] = []string{"A", "B"}
	parser.pages["P2"] = nil
	fetcher := newFakeFetcher()
	fetcher.hang["detail:B"] = true
	sink := sinkmemory.New()

	outcome := newTestWorker(newRecordingQueue("P1", "P2"), sink, fetcher, parser, Config{
		FetchTimeout: 30 * time.Millisecond,
	}).Run(context.Background())

	require.Equal(t, 1, outcome.Errors)
	require.Equal(t, 2, outcome.RecordsProduced)
	records := sink.Records()
	require.Equal(t, []string{"A", "B"}, recordIDs(records))
	require.True(t, records[0].Enriched())
	require.False(t, records[1].Enriched())
	require.Equal(t, "B", records[1].Fields["title"])
}

func TestWorker_PageFetchFailureStopsWorker(t *testing.T) {
	t.Parallel()

	parser := newFakeParser()
	parser.pages["P2"] = []string{"C"}
	fetcher := newFakeFetcher()
	fetcher.fail["P1"] = errors.New("503 service unavailable")
	sink := sinkmemory.New()
	queue := newRecordingQueue("P1", "P2")

	outcome := newTestWorker(queue, sink, fetcher, parser, Config{}).Run(context.Background())

	// The failed page ends this worker even though P2 is still queued.
	require.Equal(t, scraper.WorkerOutcome{PagesClaimed: 1, Errors: 1}, outcome)
	require.Equal(t, []string{"P1"}, queue.Taken())
	require.Zero(t, sink.Len())
}

func TestWorker_PageParseFailureStopsWorker(t *testing.T) {
	t.Parallel()

	parser := newFakeParser()
	parser.pageErr["P1"] = errors.New("malformed html")
	sink := sinkmemory.New()

	outcome := newTestWorker(newRecordingQueue("P1", "P2"), sink, newFakeFetcher(), parser, Config{}).
		Run(context.Background())

	require.Equal(t, scraper.WorkerOutcome{PagesClaimed: 1, Errors: 1}, outcome)
	require.Zero(t, sink.Len())
}

func TestWorker_DetailParseFailureKeepsRecord(t *testing.T) {
	t.Parallel()

	parser := newFakeParser()
	parser.pages["P1"] = []string{"A", "B", "C"}
	parser.detailErr["detail:C"] = errors.New("truncated")
	sink := sinkmemory.New()

	outcome := newTestWorker(newRecordingQueue("P1"), sink, newFakeFetcher(), parser, Config{}).
		Run(context.Background())

	require.Equal(t, scraper.WorkerOutcome{PagesClaimed: 1, PagesConsumed: 1, RecordsProduced: 3, Errors: 1}, outcome)
	records := sink.Records()
	require.Len(t, records, 3)
	require.False(t, records[2].Enriched())
}

func TestWorker_DrainsQueueAcrossPages(t *testing.T) {
	t.Parallel()

	parser := newFakeParser()
	parser.pages["P1"] = []string{"A", "B"}
	parser.pages["P2"] = []string{"C"}
	parser.pages["P3"] = []string{"D", "E", "F"}
	sink := sinkmemory.New()

	outcome := newTestWorker(newRecordingQueue("P1", "P2", "P3"), sink, newFakeFetcher(), parser, Config{}).
		Run(context.Background())

	require.Equal(t, scraper.WorkerOutcome{PagesClaimed: 3, PagesConsumed: 3, RecordsProduced: 6}, outcome)
	require.Equal(t, []string{"A", "B", "C", "D", "E", "F"}, recordIDs(sink.Records()))
}

func TestWorker_JoinBarrierBeforePublish(t *testing.T) {
	t.Parallel()

	parser := newFakeParser()
	parser.pages["P1"] = []string{"A", "B", "C", "D"}
	parser.pages["P2"] = []string{"E", "F"}
	fetcher := newFakeFetcher()
	for i, id := range []string{"A", "B", "C", "D", "E", "F"} {
		fetcher.delay["detail:"+id] = time.Duration(i%3) * 10 * time.Millisecond
	}
	sink := &barrierCheckingSink{fetcher: fetcher}

	outcome := newTestWorker(newRecordingQueue("P1", "P2"), sink, fetcher, parser, Config{}).
		Run(context.Background())

	require.Equal(t, 6, outcome.RecordsProduced)
	require.Empty(t, sink.violations())
}

func TestWorker_FanOutRunsConcurrently(t *testing.T) {
	t.Parallel()

	ids := []string{"A", "B", "C", "D", "E"}
	parser := newFakeParser()
	parser.pages["P1"] = ids
	fetcher := newFakeFetcher()
	// Every detail fetch waits until all of them are in flight; a serial
	// fan-out would time out on the first one.
	fetcher.rendezvous = len(ids)
	sink := sinkmemory.New()

	outcome := newTestWorker(newRecordingQueue("P1"), sink, fetcher, parser, Config{FetchTimeout: 2 * time.Second}).
		Run(context.Background())

	require.Zero(t, outcome.Errors)
	for _, r := range sink.Records() {
		require.True(t, r.Enriched())
	}
}

func TestWorker_MaxFanOutBoundsDetailConcurrency(t *testing.T) {
	t.Parallel()

	ids := make([]string, 12)
	for i := range ids {
		ids[i] = fmt.Sprintf("R%d", i)
	}
	parser := newFakeParser()
	parser.pages["P1"] = ids
	fetcher := newFakeFetcher()
	for _, id := range ids {
		fetcher.delay["detail:"+id] = 5 * time.Millisecond
	}

	outcome := newTestWorker(newRecordingQueue("P1"), sinkmemory.New(), fetcher, parser, Config{MaxFanOut: 3}).
		Run(context.Background())

	require.Equal(t, 12, outcome.RecordsProduced)
	require.LessOrEqual(t, fetcher.peakDetails.Load(), int32(3))
}

func TestWorker_CanceledContextClaimsNothing(t *testing.T) {
	t.Parallel()

	parser := newFakeParser()
	parser.pages["P1"] = []string{"A"}
	queue := newRecordingQueue("P1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := newTestWorker(queue, sinkmemory.New(), newFakeFetcher(), parser, Config{}).Run(ctx)

	require.Equal(t, scraper.WorkerOutcome{}, outcome)
	require.Empty(t, queue.Taken())
}

func TestWorker_CancelDuringFanOutSkipsPublish(t *testing.T) {
	t.Parallel()

	parser := newFakeParser()
	parser.pages["P1"] = []string{"A", "B"}
	fetcher := newFakeFetcher()
	fetcher.hang["detail:A"] = true
	fetcher.hang["detail:B"] = true
	sink := sinkmemory.New()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan scraper.WorkerOutcome, 1)
	go func() {
		done <- newTestWorker(newRecordingQueue("P1", "P2"), sink, fetcher, parser, Config{FetchTimeout: time.Minute}).Run(ctx)
	}()
	require.Eventually(t, func() bool { return fetcher.started.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case outcome := <-done:
		require.Zero(t, outcome.PagesConsumed)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
	require.Zero(t, sink.Len())
}

func TestWorker_QueueErrorStopsWorker(t *testing.T) {
	t.Parallel()

	queue := &erroringQueue{err: errors.New("redis down")}
	outcome := newTestWorker(queue, sinkmemory.New(), newFakeFetcher(), newFakeParser(), Config{}).
		Run(context.Background())
	require.Equal(t, scraper.WorkerOutcome{Errors: 1}, outcome)
}

func TestWorker_EmitsProgressEvents(t *testing.T) {
	t.Parallel()

	parser := newFakeParser()
	parser.pages["P1"] = []string{"A", "B"}
	parser.pages["P2"] = nil
	fetcher := newFakeFetcher()
	fetcher.fail["detail:B"] = errors.New("reset")
	events := &recordingEmitter{}
	runID := uuid.New()

	w := New(3, newRecordingQueue("P1", "P2"), sinkmemory.New(), fetcher, parser, nil,
		RunContext{ID: runID, Events: events}, Config{DetailURLTemplate: detailTemplate}, zap.NewNop())
	w.Run(context.Background())

	stages := events.Stages()
	require.Equal(t, progress.StageWorkerStart, stages[0])
	require.Equal(t, progress.StageWorkerDone, stages[len(stages)-1])
	require.Contains(t, stages, progress.StagePageDone)
	require.Contains(t, stages, progress.StagePageEmpty)
	require.Contains(t, stages, progress.StageDetailDone)
	require.Contains(t, stages, progress.StageDetailError)
	for _, evt := range events.All() {
		require.NoError(t, evt.Validate())
		require.Equal(t, runID, evt.RunUUID())
		require.Equal(t, 3, evt.Worker)
	}
	last := events.All()[len(stages)-1]
	require.EqualValues(t, 2, last.Records)
	require.EqualValues(t, 1, last.Errors)
}

func newTestWorker(
	queue scraper.PageQueue,
	sink scraper.ResultSink,
	fetcher scraper.Fetcher,
	parser scraper.Parser,
	cfg Config,
) *Worker {
	if cfg.DetailURLTemplate == "" {
		cfg.DetailURLTemplate = detailTemplate
	}
	return New(0, queue, sink, fetcher, parser, nil, RunContext{ID: uuid.New()}, cfg, zap.NewNop())
}

func recordIDs(records []scraper.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

// recordingQueue wraps the memory queue and remembers what it handed out.
type recordingQueue struct {
	inner *memory.Queue
	mu    sync.Mutex
	taken []string
}

func newRecordingQueue(urls ...string) *recordingQueue {
	return &recordingQueue{inner: memory.NewQueue(urls)}
}

func (q *recordingQueue) TryTake(ctx context.Context) (string, bool, error) {
	url, ok, err := q.inner.TryTake(ctx)
	if ok {
		q.mu.Lock()
		q.taken = append(q.taken, url)
		q.mu.Unlock()
	}
	return url, ok, err
}

func (q *recordingQueue) Taken() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.taken...)
}

type erroringQueue struct {
	err error
}

func (q *erroringQueue) TryTake(context.Context) (string, bool, error) {
	return "", false, q.err
}

// fakeFetcher echoes the URL back as the body.
type fakeFetcher struct {
	fail       map[string]error
	hang       map[string]bool
	delay      map[string]time.Duration
	rendezvous int

	started     atomic.Int32
	inFlight    atomic.Int32
	peakDetails atomic.Int32
	arrived     atomic.Int32

	mu        sync.Mutex
	completed map[string]bool
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		fail:      map[string]error{},
		hang:      map[string]bool{},
		delay:     map[string]time.Duration{},
		completed: map[string]bool{},
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.started.Add(1)
	isDetail := strings.HasPrefix(url, "detail:")
	if isDetail {
		n := f.inFlight.Add(1)
		defer f.inFlight.Add(-1)
		for {
			p := f.peakDetails.Load()
			if n <= p || f.peakDetails.CompareAndSwap(p, n) {
				break
			}
		}
	}
	defer func() {
		f.mu.Lock()
		f.completed[url] = true
		f.mu.Unlock()
	}()

	if f.hang[url] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if d := f.delay[url]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if isDetail && f.rendezvous > 0 {
		f.arrived.Add(1)
		for f.arrived.Load() < int32(f.rendezvous) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Millisecond):
			}
		}
	}
	if err := f.fail[url]; err != nil {
		return nil, err
	}
	return []byte(url), nil
}

func (f *fakeFetcher) isCompleted(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed[url]
}

// fakeParser maps page bodies to record ids.
type fakeParser struct {
	pages     map[string][]string
	pageErr   map[string]error
	detailErr map[string]error
}

func newFakeParser() *fakeParser {
	return &fakeParser{
		pages:     map[string][]string{},
		pageErr:   map[string]error{},
		detailErr: map[string]error{},
	}
}

func (p *fakeParser) ParsePage(body []byte) ([]scraper.Record, error) {
	key := string(body)
	if err := p.pageErr[key]; err != nil {
		return nil, err
	}
	var out []scraper.Record
	for _, id := range p.pages[key] {
		out = append(out, scraper.Record{ID: id, Fields: map[string]string{"title": id}})
	}
	return out, nil
}

func (p *fakeParser) ParseDetail(body []byte) (map[string]string, error) {
	key := string(body)
	if err := p.detailErr[key]; err != nil {
		return nil, err
	}
	return map[string]string{"source": key}, nil
}

// barrierCheckingSink flags any record published before its detail fetch finished.
type barrierCheckingSink struct {
	fetcher *fakeFetcher
	mu      sync.Mutex
	bad     []string
}

func (s *barrierCheckingSink) Append(records ...scraper.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		if !s.fetcher.isCompleted(fmt.Sprintf(detailTemplate, r.ID)) {
			s.bad = append(s.bad, r.ID)
		}
	}
}

func (s *barrierCheckingSink) violations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.bad...)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *recordingEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *recordingEmitter) All() []progress.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]progress.Event(nil), e.events...)
}

func (e *recordingEmitter) Stages() []progress.Stage {
	all := e.All()
	out := make([]progress.Stage, len(all))
	for i, evt := range all {
		out[i] = evt.Stage
	}
	return out
}

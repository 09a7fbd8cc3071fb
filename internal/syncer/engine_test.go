package syncer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobwatch-engine/internal/domain"
	"jobwatch-engine/internal/events"
	"jobwatch-engine/internal/fetch"
	"jobwatch-engine/internal/metrics"
	"jobwatch-engine/internal/notify"
	"jobwatch-engine/internal/seen"
	"jobwatch-engine/internal/store"
)

type fetchCall struct{ page, size int }

type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[int]fetch.Page
	errPage int
	calls   []fetchCall
	entered chan struct{}
	release chan struct{}
}

func (f *fakeFetcher) FetchPage(ctx context.Context, page, size int) (fetch.Page, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fetchCall{page, size})
	if page == f.errPage {
		return fetch.Page{}, &fetch.Error{Page: page, Status: 403, ContentType: "text/html", Snippet: "login"}
	}
	return f.pages[page], nil
}

type fakeDispatcher struct {
	mu       sync.Mutex
	batches  [][]domain.Listing
	failWith bool
	after    func()
}

func (d *fakeDispatcher) DispatchBatch(_ context.Context, ls []domain.Listing) notify.Report {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batches = append(d.batches, ls)
	if d.after != nil {
		d.after()
	}
	if d.failWith {
		return notify.Report{Messages: 1, Failed: 1, Fallbacks: 1}
	}
	return notify.Report{Messages: 1, Delivered: 1}
}

func (d *fakeDispatcher) notifiedIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var ids []string
	for _, b := range d.batches {
		for _, l := range b {
			ids = append(ids, l.ID)
		}
	}
	return ids
}

type fakeSink struct {
	writes [][]domain.Listing
}

func (s *fakeSink) Write(_ context.Context, ls []domain.Listing) error {
	s.writes = append(s.writes, ls)
	return nil
}

type failingStore struct{ seen.Store }

func (failingStore) Add(context.Context, []string) error { return errors.New("disk full") }

// cancelAfterFetch cancels the cycle context once the wrapped fetcher returns.
type cancelAfterFetch struct {
	PageFetcher
	cancel context.CancelFunc
}

func (c cancelAfterFetch) FetchPage(ctx context.Context, page, size int) (fetch.Page, error) {
	p, err := c.PageFetcher.FetchPage(ctx, page, size)
	c.cancel()
	return p, err
}

func listing(id, posted string) domain.Listing {
	return domain.Listing{ID: id, Title: "Job " + id, PostedDate: posted}
}

func intp(n int) *int { return &n }

var cutoff = time.Date(2025, 8, 10, 0, 0, 0, 0, time.UTC)

type harness struct {
	fetcher  *fakeFetcher
	disp     *fakeDispatcher
	sink     *fakeSink
	seenPath string
	store    seen.Store
	engine   *Engine
}

func newHarness(t *testing.T, pages map[int]fetch.Page, initialized bool) *harness {
	t.Helper()
	h := &harness{
		fetcher:  &fakeFetcher{pages: pages},
		disp:     &fakeDispatcher{},
		sink:     &fakeSink{},
		seenPath: filepath.Join(t.TempDir(), "seen_job_ids.json"),
	}
	h.store = seen.NewFileStore(h.seenPath)
	if initialized {
		require.NoError(t, h.store.Add(context.Background(), nil))
	}
	h.engine = New(Deps{
		Fetcher:  h.fetcher,
		Seen:     h.store,
		Notifier: h.disp,
		Export:   h.sink,
		Metrics:  metrics.New(),
	}, Options{PageSize: 20})
	return h
}

func (h *harness) seenIDs(t *testing.T) []string {
	t.Helper()
	snap, err := h.store.Load(context.Background())
	require.NoError(t, err)
	return snap.IDs.Sorted()
}

func onePage(ls ...domain.Listing) map[int]fetch.Page {
	return map[int]fetch.Page{1: {Listings: ls, Total: intp(len(ls)), PageSize: intp(20)}}
}

func TestCycleWithoutSeedMode(t *testing.T) {
	h := newHarness(t, onePage(listing("A", "Aug 12, 2025"), listing("B", "Aug 1, 2025")), true)

	res, err := h.engine.RunCycle(context.Background(), cutoff)
	require.NoError(t, err)

	assert.False(t, res.SeedMode)
	assert.Equal(t, 1, res.Notified)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, []string{"A"}, h.disp.notifiedIDs())
	assert.Equal(t, []string{"A"}, h.seenIDs(t))
	assert.Equal(t, "2025-08-10", res.Cutoff)
}

func TestCycleInSeedMode(t *testing.T) {
	h := newHarness(t, onePage(listing("A", "Aug 12, 2025"), listing("B", "Aug 1, 2025")), false)

	res, err := h.engine.RunCycle(context.Background(), cutoff)
	require.NoError(t, err)

	assert.True(t, res.SeedMode)
	assert.Equal(t, 1, res.Notified)
	assert.Equal(t, 1, res.Seeded)
	assert.Equal(t, []string{"A"}, h.disp.notifiedIDs())
	assert.Equal(t, []string{"A", "B"}, h.seenIDs(t))
}

func TestUnparseableDateNeverNotified(t *testing.T) {
	h := newHarness(t, onePage(listing("X", "not a date")), true)
	_, err := h.engine.RunCycle(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Empty(t, h.disp.notifiedIDs())
	assert.Empty(t, h.seenIDs(t))
}

func TestCycleStopsWhenTotalReached(t *testing.T) {
	var p1, p2 []domain.Listing
	for i := 0; i < 20; i++ {
		p1 = append(p1, listing(fmt.Sprintf("p1-%02d", i), "Aug 12, 2025"))
	}
	for i := 0; i < 5; i++ {
		p2 = append(p2, listing(fmt.Sprintf("p2-%02d", i), "Aug 12, 2025"))
	}
	h := newHarness(t, map[int]fetch.Page{
		1: {Listings: p1, Total: intp(25), PageSize: intp(20)},
		2: {Listings: p2, Total: intp(25), PageSize: intp(20)},
		3: {Listings: []domain.Listing{listing("never", "Aug 12, 2025")}},
	}, true)

	res, err := h.engine.RunCycle(context.Background(), cutoff)
	require.NoError(t, err)

	assert.Equal(t, []fetchCall{{1, 20}, {2, 20}}, h.fetcher.calls)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 25, res.Fetched)
	assert.Equal(t, 25, res.Notified)
	require.Len(t, h.sink.writes, 1)
	assert.Len(t, h.sink.writes[0], 25)
	assert.Equal(t, "p1-00", h.sink.writes[0][0].ID)
	assert.Equal(t, "p2-04", h.sink.writes[0][24].ID)
}

func TestCycleStopsOnEmptyPage(t *testing.T) {
	h := newHarness(t, map[int]fetch.Page{
		1: {Listings: []domain.Listing{listing("A", "Aug 12, 2025")}},
		2: {},
	}, true)

	_, err := h.engine.RunCycle(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Len(t, h.fetcher.calls, 2)
}

func TestCycleFollowsReportedPageSize(t *testing.T) {
	page := func(prefix string, total *int) fetch.Page {
		var ls []domain.Listing
		for i := 0; i < 20; i++ {
			ls = append(ls, listing(fmt.Sprintf("%s-%02d", prefix, i), "Aug 1, 2025"))
		}
		return fetch.Page{Listings: ls, Total: total, PageSize: intp(20)}
	}
	h := newHarness(t, map[int]fetch.Page{
		1: page("a", intp(40)),
		2: page("b", nil), // total omitted; the earlier one still applies
		3: page("c", intp(40)),
	}, true)
	h.engine.opts.PageSize = 10

	_, err := h.engine.RunCycle(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, []fetchCall{{1, 10}, {2, 20}}, h.fetcher.calls)
}

func TestFetchErrorLeavesStateUntouched(t *testing.T) {
	h := newHarness(t, map[int]fetch.Page{
		1: {Listings: []domain.Listing{listing("A", "Aug 12, 2025")}, Total: intp(40), PageSize: intp(20)},
	}, false)
	h.fetcher.errPage = 2

	_, err := h.engine.RunCycle(context.Background(), cutoff)
	require.Error(t, err)

	var fe *fetch.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 403, fe.Status)

	assert.Empty(t, h.disp.batches)
	assert.Empty(t, h.sink.writes)
	snap, err := h.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, seen.Absent, snap.Status, "seed mode must survive a failed first cycle")

	st := h.engine.Status()
	assert.False(t, st.Running)
	assert.Contains(t, st.LastError, "HTTP 403")
}

func TestTwoCyclesNotifyOnce(t *testing.T) {
	h := newHarness(t, onePage(listing("A", "Aug 12, 2025"), listing("B", "Aug 11, 2025"), listing("C", "Jul 1, 2025")), true)

	for i := 0; i < 2; i++ {
		_, err := h.engine.RunCycle(context.Background(), cutoff)
		require.NoError(t, err)
	}

	assert.ElementsMatch(t, []string{"A", "B"}, h.disp.notifiedIDs())
	assert.Len(t, h.disp.batches, 1, "second cycle has nothing new")
}

func TestSeenSetGrowsMonotonically(t *testing.T) {
	h := newHarness(t, onePage(listing("A", "Aug 12, 2025")), true)
	ctx := context.Background()
	require.NoError(t, h.store.Add(ctx, []string{"old-1", "old-2"}))
	before := h.seenIDs(t)

	_, err := h.engine.RunCycle(ctx, cutoff)
	require.NoError(t, err)

	after := h.seenIDs(t)
	assert.Subset(t, after, before)
	assert.Contains(t, after, "A")
}

func TestDuplicateAcrossPagesNotifiedOnce(t *testing.T) {
	h := newHarness(t, map[int]fetch.Page{
		1: {Listings: []domain.Listing{listing("A", "Aug 12, 2025")}, PageSize: intp(1)},
		2: {Listings: []domain.Listing{listing("A", "Aug 12, 2025")}, PageSize: intp(1)},
		3: {},
	}, true)

	res, err := h.engine.RunCycle(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Notified)
	assert.Equal(t, []string{"A"}, h.disp.notifiedIDs())
}

func TestDeliveryFailureStillPersistsSeen(t *testing.T) {
	h := newHarness(t, onePage(listing("A", "Aug 12, 2025")), true)
	h.disp.failWith = true

	res, err := h.engine.RunCycle(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Report.Failed)
	assert.Equal(t, []string{"A"}, h.seenIDs(t))
	assert.Len(t, h.sink.writes, 1)
}

func TestPersistFailureIsCycleError(t *testing.T) {
	h := newHarness(t, onePage(listing("A", "Aug 12, 2025")), true)
	h.engine.d.Seen = failingStore{h.store}

	_, err := h.engine.RunCycle(context.Background(), cutoff)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist seen set")
	assert.Equal(t, []string{"A"}, h.disp.notifiedIDs())
}

func TestCancelDuringDispatchStillPersistsSeen(t *testing.T) {
	db, err := store.OpenMigrated(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	defer db.Close()

	h := newHarness(t, onePage(listing("A", "Aug 12, 2025")), true)
	h.store = seen.NewSQLiteStore(db.Pool)
	require.NoError(t, h.store.Add(context.Background(), nil))
	h.engine.d.Seen = h.store

	for i := 0; i < 2; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		h.disp.after = cancel
		_, err := h.engine.RunCycle(ctx, cutoff)
		cancel()
		require.NoError(t, err, "cycle %d", i+1)
	}

	assert.Equal(t, []string{"A"}, h.disp.notifiedIDs())
	assert.Equal(t, []string{"A"}, h.seenIDs(t))
}

func TestCancelBeforeDispatchSendsNothing(t *testing.T) {
	h := newHarness(t, onePage(listing("A", "Aug 12, 2025")), true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.engine.d.Fetcher = cancelAfterFetch{PageFetcher: h.fetcher, cancel: cancel}

	_, err := h.engine.RunCycle(ctx, cutoff)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.disp.notifiedIDs())
	assert.Empty(t, h.seenIDs(t))
}

func TestConcurrentCycleRejected(t *testing.T) {
	h := newHarness(t, onePage(listing("A", "Aug 12, 2025")), true)
	h.fetcher.entered = make(chan struct{})
	h.fetcher.release = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.engine.RunCycle(context.Background(), cutoff)
		done <- err
	}()
	<-h.fetcher.entered
	assert.True(t, h.engine.Status().Running)

	_, err := h.engine.RunCycle(context.Background(), cutoff)
	require.ErrorIs(t, err, ErrCycleRunning)

	close(h.fetcher.release)
	require.NoError(t, <-done)
}

func TestRequestDelayBetweenPages(t *testing.T) {
	h := newHarness(t, map[int]fetch.Page{
		1: {Listings: []domain.Listing{listing("A", "Aug 1, 2025")}},
		2: {Listings: []domain.Listing{listing("B", "Aug 1, 2025")}},
		3: {},
	}, true)
	h.engine.opts.RequestDelay = 40 * time.Millisecond

	start := time.Now()
	_, err := h.engine.RunCycle(context.Background(), cutoff)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 75*time.Millisecond)
}

func TestCycleHistoryAndEvents(t *testing.T) {
	db, err := store.OpenMigrated(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	defer db.Close()

	hub := events.NewHub()
	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub)

	h := newHarness(t, onePage(listing("A", "Aug 12, 2025")), true)
	h.engine.d.History = store.CycleLog{DB: db.Pool}
	h.engine.d.Events = hub

	res, err := h.engine.RunCycle(context.Background(), cutoff)
	require.NoError(t, err)

	cycles, err := store.ListCycles(context.Background(), db.Pool, 10)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Equal(t, res.CycleID, cycles[0].ID)
	assert.Equal(t, "ok", cycles[0].Status)
	assert.Equal(t, 1, cycles[0].Notified)

	assert.Contains(t, <-sub, events.TypeCycleStarted)
	assert.Contains(t, <-sub, events.TypeCycleFinished)
}

package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/Schwaller/tradery/internal/logger"
	"github.com/Schwaller/tradery/internal/types"
	"github.com/Schwaller/tradery/pkg/errors"
)

// fakeBackend serves synthetic hourly candles and records every fetched span.
// A test can make spans fail or block fetches on a gate.
type fakeBackend struct {
	mu      sync.Mutex
	calls   []Span
	failAt  map[int64]error // keyed by span start ms
	gate    chan struct{}   // when set, Fetch blocks until closed
	entered chan struct{}   // signaled once per Fetch call, if set
	unknown bool            // ExpectedCount returns -1
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{failAt: make(map[int64]error)}
}

func (f *fakeBackend) Fetch(ctx context.Context, symbol, _ string, start, end time.Time) ([]types.Candle, error) {
	f.mu.Lock()
	f.calls = append(f.calls, Span{Start: start.UnixMilli(), End: end.UnixMilli()})
	failErr := f.failAt[start.UnixMilli()]
	gate := f.gate
	entered := f.entered
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if failErr != nil {
		return nil, failErr
	}

	var candles []types.Candle
	for t := start; t.Before(end); t = t.Add(time.Hour) {
		candles = append(candles, candleAt(t, float64(t.Unix())))
	}

	return candles, nil
}

func (f *fakeBackend) ExpectedCount(_ string, start, end time.Time) int {
	f.mu.Lock()
	unknown := f.unknown
	f.mu.Unlock()

	if unknown {
		return -1
	}

	return int(end.Sub(start) / time.Hour)
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.calls)
}

func (f *fakeBackend) callSpans() []Span {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Span, len(f.calls))
	copy(out, f.calls)

	return out
}

func (f *fakeBackend) failSpanAt(startMs int64, err error) {
	f.mu.Lock()
	f.failAt[startMs] = err
	f.mu.Unlock()
}

func (f *fakeBackend) clearFailures() {
	f.mu.Lock()
	f.failAt = make(map[int64]error)
	f.mu.Unlock()
}

// fakeStore holds extents keyed by exact span and records every save.
type fakeStore struct {
	mu      sync.Mutex
	extents map[Span][]types.Candle
	saved   []Span
}

func newFakeStore() *fakeStore {
	return &fakeStore{extents: make(map[Span][]types.Candle)}
}

func (f *fakeStore) LoadExtent(_ context.Context, _, _ string, start, end time.Time) ([]types.Candle, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	records, ok := f.extents[Span{Start: start.UnixMilli(), End: end.UnixMilli()}]

	return records, ok, nil
}

func (f *fakeStore) SaveExtent(_ context.Context, _, _ string, start, end time.Time, records []types.Candle) error {
	span := Span{Start: start.UnixMilli(), End: end.UnixMilli()}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.extents[span] = records
	f.saved = append(f.saved, span)

	return nil
}

func (f *fakeStore) savedSpans() []Span {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Span, len(f.saved))
	copy(out, f.saved)

	return out
}

type ManagerTestSuite struct {
	suite.Suite

	backend *fakeBackend
	manager *Manager[types.Candle]
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerTestSuite))
}

func (s *ManagerTestSuite) SetupTest() {
	s.backend = newFakeBackend()
	s.manager = s.newManager(s.backend, nil, Options{})
}

func (s *ManagerTestSuite) TearDownTest() {
	if s.manager != nil {
		s.manager.Stop()
	}
}

// newManager builds and starts a candle manager with a long grace period so
// background sweeps never interfere; eviction tests call sweep directly.
func (s *ManagerTestSuite) newManager(backend FetchBackend[types.Candle], store RecordStore[types.Candle], opts Options) *Manager[types.Candle] {
	if opts.GracePeriod == 0 {
		opts.GracePeriod = time.Hour
	}

	if opts.Workers == 0 {
		opts.Workers = 2
	}

	m := NewManager[types.Candle](
		types.DataKindCandles, backend, store, opts,
		logger.NewNopLogger(), NewEventLog(0), NewMetrics(nil),
	)
	m.Start(context.Background())

	return m
}

func (s *ManagerTestSuite) hour(n int) time.Time {
	return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(n) * time.Hour)
}

func (s *ManagerTestSuite) waitState(p *Page[types.Candle], want types.PageState) {
	s.Require().Eventually(func() bool {
		return p.State() == want
	}, 2*time.Second, 10*time.Millisecond, "page never reached %s, last state %s", want, p.State())
}

func (s *ManagerTestSuite) TestInitialLoadBecomesReady() {
	l := &recordingListener{}

	page, err := s.manager.Request("BTCUSDT", "1h", s.hour(0), s.hour(3), l, "chart-1")
	s.Require().NoError(err)

	s.waitState(page, types.PageStateReady)

	s.Equal(3, page.RecordCount())
	s.Equal(100, page.Progress())
	s.Equal(1, s.backend.callCount())

	start, end := page.Range()
	s.True(page.memCov.FullyCovered(start, end))
	s.True(s.manager.Coverage("BTCUSDT", "1h").FullyCovered(s.hour(0), s.hour(3)))

	states := l.states()
	s.Require().NotEmpty(states)
	s.Equal(types.PageStateLoading, states[0])
	s.Equal(types.PageStateReady, states[len(states)-1])
	s.Positive(l.dataCount())

	eventTypes := map[EventType]bool{}
	for _, ev := range s.manager.PageLog(page.Key()) {
		eventTypes[ev.Type] = true
	}

	s.True(eventTypes[EventPageCreated])
	s.True(eventTypes[EventLoadStarted])
	s.True(eventTypes[EventLoadCompleted])
}

func (s *ManagerTestSuite) TestRepeatRequestServedFromMemory() {
	page, err := s.manager.Request("BTCUSDT", "1h", s.hour(0), s.hour(2), nil, "chart-1")
	s.Require().NoError(err)
	s.waitState(page, types.PageStateReady)

	again, err := s.manager.Request("BTCUSDT", "1h", s.hour(0), s.hour(2), nil, "chart-2")
	s.Require().NoError(err)

	s.Same(page, again)
	s.Equal(types.PageStateReady, again.State())
	s.Equal(1, s.backend.callCount())
	s.Equal([]string{"chart-1", "chart-2"}, again.ConsumerLabels())
}

func (s *ManagerTestSuite) TestConcurrentRequestsCoalesce() {
	gate := make(chan struct{})
	entered := make(chan struct{}, 4)
	s.backend.gate = gate
	s.backend.entered = entered

	page1, err := s.manager.Request("BTCUSDT", "1h", s.hour(0), s.hour(2), nil, "chart-1")
	s.Require().NoError(err)

	<-entered // fetch is in flight

	page2, err := s.manager.Request("BTCUSDT", "1h", s.hour(0), s.hour(2), nil, "chart-2")
	s.Require().NoError(err)
	s.Same(page1, page2)

	close(gate)
	s.waitState(page1, types.PageStateReady)

	s.Equal(1, s.backend.callCount())
}

func (s *ManagerTestSuite) TestSupersetRequestGrowsPage() {
	gate := make(chan struct{})
	entered := make(chan struct{}, 4)
	s.backend.gate = gate
	s.backend.entered = entered

	page, err := s.manager.Request("BTCUSDT", "1h", s.hour(0), s.hour(2), nil, "chart-1")
	s.Require().NoError(err)

	<-entered

	// A wider overlapping request reuses and grows the page instead of
	// creating a sibling.
	wider, err := s.manager.Request("BTCUSDT", "1h", s.hour(0), s.hour(4), nil, "chart-2")
	s.Require().NoError(err)
	s.Same(page, wider)

	_, end := page.Range()
	s.Equal(s.hour(4), end)

	close(gate)

	s.Require().Eventually(func() bool {
		return page.State() == types.PageStateReady && page.RecordCount() == 4
	}, 2*time.Second, 10*time.Millisecond)

	// The fetched spans never overlap: the continuation covers only what the
	// first pass missed.
	total := int64(0)
	for _, span := range s.backend.callSpans() {
		total += span.End - span.Start
	}

	s.Equal(int64(4*time.Hour/time.Millisecond), total)
}

func (s *ManagerTestSuite) TestStoreReadThrough() {
	store := newFakeStore()
	store.extents[Span{Start: s.hour(0).UnixMilli(), End: s.hour(2).UnixMilli()}] = []types.Candle{
		candleAt(s.hour(0), 1),
		candleAt(s.hour(1), 2),
	}

	manager := s.newManager(s.backend, store, Options{})
	defer manager.Stop()

	page, err := manager.Request("BTCUSDT", "1h", s.hour(0), s.hour(2), nil, "chart-1")
	s.Require().NoError(err)
	s.waitState(page, types.PageStateReady)

	s.Equal(2, page.RecordCount())
	s.Zero(s.backend.callCount(), "store hit must not reach the network")
	s.Empty(store.savedSpans(), "store reads are not written back")
}

func (s *ManagerTestSuite) TestNetworkFetchPersistsToStore() {
	store := newFakeStore()
	manager := s.newManager(s.backend, store, Options{})
	defer manager.Stop()

	page, err := manager.Request("BTCUSDT", "1h", s.hour(0), s.hour(2), nil, "chart-1")
	s.Require().NoError(err)
	s.waitState(page, types.PageStateReady)

	saved := store.savedSpans()
	s.Require().Len(saved, 1)
	s.Equal(s.hour(0).UnixMilli(), saved[0].Start)
	s.Equal(s.hour(2).UnixMilli(), saved[0].End)
}

func (s *ManagerTestSuite) TestPartialFailureKeepsSuccesses() {
	// Cover the middle hour first so the next request plans two sub-ranges.
	page, err := s.manager.Request("BTCUSDT", "1h", s.hour(1), s.hour(2), nil, "warm")
	s.Require().NoError(err)
	s.waitState(page, types.PageStateReady)

	failErr := errors.New(errors.ErrCodeFetchTimeout, "exchange timeout")
	s.backend.failSpanAt(s.hour(2).UnixMilli(), failErr)

	wide, err := s.manager.Request("BTCUSDT", "1h", s.hour(0), s.hour(3), nil, "chart-1")
	s.Require().NoError(err)
	s.Same(page, wide)

	s.waitState(page, types.PageStateError)

	// The successful sub-range is merged and stays merged.
	s.Equal(2, page.RecordCount())

	pageErr, optErr := page.LastError().Take()
	s.Require().NoError(optErr)
	s.True(pageErr.Retryable)
	s.Require().Len(pageErr.Failed, 1)
	s.Equal(s.hour(2).UnixMilli(), pageErr.Failed[0].Start)
	s.Equal(s.hour(3).UnixMilli(), pageErr.Failed[0].End)
}

func (s *ManagerTestSuite) TestRetryFetchesOnlyFailedSpans() {
	page, err := s.manager.Request("BTCUSDT", "1h", s.hour(1), s.hour(2), nil, "warm")
	s.Require().NoError(err)
	s.waitState(page, types.PageStateReady)

	s.backend.failSpanAt(s.hour(2).UnixMilli(), errors.New(errors.ErrCodeFetchTimeout, "exchange timeout"))

	_, err = s.manager.Request("BTCUSDT", "1h", s.hour(0), s.hour(3), nil, "chart-1")
	s.Require().NoError(err)
	s.waitState(page, types.PageStateError)

	s.backend.clearFailures()

	// Re-requesting the same range retries only the failed sub-range.
	_, err = s.manager.Request("BTCUSDT", "1h", s.hour(0), s.hour(3), nil, "chart-1")
	s.Require().NoError(err)
	s.waitState(page, types.PageStateReady)

	s.Equal(3, page.RecordCount())

	fetchedAt := map[int64]int{}
	for _, span := range s.backend.callSpans() {
		fetchedAt[span.Start]++
	}

	s.Equal(1, fetchedAt[s.hour(0).UnixMilli()], "succeeded sub-range must not be refetched")
	s.Equal(2, fetchedAt[s.hour(2).UnixMilli()], "failed sub-range is fetched once per attempt")
}

func (s *ManagerTestSuite) TestEvictionAfterGrace() {
	grace := 50 * time.Millisecond
	manager := s.newManager(s.backend, nil, Options{GracePeriod: grace, SweepInterval: time.Hour})
	defer manager.Stop()

	var (
		hookMu sync.Mutex
		hooked []PageKey
	)

	manager.OnEvict(func(key PageKey) {
		hookMu.Lock()
		hooked = append(hooked, key)
		hookMu.Unlock()
	})

	page, err := manager.Request("BTCUSDT", "1h", s.hour(0), s.hour(2), nil, "chart-1")
	s.Require().NoError(err)
	s.waitState(page, types.PageStateReady)

	manager.Release(page, nil, "chart-1")

	// Still resident inside the grace period.
	manager.sweep(time.Now())
	_, resident := manager.Lookup(page.Key())
	s.True(resident)

	manager.sweep(time.Now().Add(2 * grace))

	_, resident = manager.Lookup(page.Key())
	s.False(resident)

	hookMu.Lock()
	s.Equal([]PageKey{page.Key()}, hooked)
	hookMu.Unlock()

	// The series coverage index survives the page.
	s.True(manager.Coverage("BTCUSDT", "1h").FullyCovered(s.hour(0), s.hour(2)))
}

func (s *ManagerTestSuite) TestRequestRacingEvictionGetsFreshPage() {
	grace := 50 * time.Millisecond
	manager := s.newManager(s.backend, nil, Options{GracePeriod: grace, SweepInterval: time.Hour})
	defer manager.Stop()

	page, err := manager.Request("BTCUSDT", "1h", s.hour(0), s.hour(2), nil, "chart-1")
	s.Require().NoError(err)
	s.waitState(page, types.PageStateReady)

	manager.Release(page, nil, "chart-1")

	// Interleave a request with the sweep the way Request runs internally: the
	// page pointer is resolved under the manager lock, the sweep evicts, and
	// only then does the registration land on the page.
	manager.mu.Lock()
	raced, created := manager.resolvePageLocked(page.Key())
	manager.mu.Unlock()

	s.Require().False(created)
	s.Require().Same(page, raced)

	manager.sweep(time.Now().Add(2 * grace))

	_, stillThere := manager.Lookup(page.Key())
	s.Require().False(stillThere)

	l := &recordingListener{}
	raced.register(l, "late")

	// The residency check catches the registration on the evicted page, so
	// Request rolls it back and resolves again instead of handing out an
	// orphaned handle that looks ready but holds no records.
	s.False(manager.resident(raced))
	raced.unregister(l, "late", time.Now())

	fresh, err := manager.Request("BTCUSDT", "1h", s.hour(0), s.hour(2), l, "late")
	s.Require().NoError(err)
	s.NotSame(page, fresh)

	s.waitState(fresh, types.PageStateReady)
	s.Equal(2, fresh.RecordCount())
	s.Equal(2, s.backend.callCount(), "the raced consumer triggers a recovery fetch")

	s.Empty(raced.ConsumerLabels(), "no consumer sticks to the evicted page")
}

func (s *ManagerTestSuite) TestRequestDuringGraceCancelsEviction() {
	grace := 50 * time.Millisecond
	manager := s.newManager(s.backend, nil, Options{GracePeriod: grace, SweepInterval: time.Hour})
	defer manager.Stop()

	page, err := manager.Request("BTCUSDT", "1h", s.hour(0), s.hour(2), nil, "chart-1")
	s.Require().NoError(err)
	s.waitState(page, types.PageStateReady)

	manager.Release(page, nil, "chart-1")

	// A new consumer arrives before the sweep; the grace clock resets.
	again, err := manager.Request("BTCUSDT", "1h", s.hour(0), s.hour(2), nil, "chart-2")
	s.Require().NoError(err)
	s.Same(page, again)

	manager.sweep(time.Now().Add(2 * grace))

	_, resident := manager.Lookup(page.Key())
	s.True(resident)
	s.Equal(1, s.backend.callCount(), "reuse within grace must not refetch")
}

func (s *ManagerTestSuite) TestReleaseIsIdempotent() {
	page, err := s.manager.Request("BTCUSDT", "1h", s.hour(0), s.hour(1), nil, "chart-1")
	s.Require().NoError(err)
	s.waitState(page, types.PageStateReady)

	s.manager.Release(page, nil, "chart-1")
	s.manager.Release(page, nil, "chart-1")
	s.manager.Release(page, nil, "never-registered")
	s.manager.Release(nil, nil, "chart-1")
}

func (s *ManagerTestSuite) TestRequestValidation() {
	_, err := s.manager.Request("", "1h", s.hour(0), s.hour(1), nil, "c")
	s.True(errors.HasCode(err, errors.ErrCodeInvalidParameter))

	_, err = s.manager.Request("BTCUSDT", "", s.hour(0), s.hour(1), nil, "c")
	s.True(errors.HasCode(err, errors.ErrCodeInvalidParameter))

	_, err = s.manager.Request("BTCUSDT", "1h", s.hour(1), s.hour(1), nil, "c")
	s.True(errors.HasCode(err, errors.ErrCodeInvalidRange))
}

func (s *ManagerTestSuite) TestStoppedManagerRejectsRequests() {
	manager := s.newManager(s.backend, nil, Options{})
	manager.Stop()

	_, err := manager.Request("BTCUSDT", "1h", s.hour(0), s.hour(1), nil, "c")
	s.True(errors.HasCode(err, errors.ErrCodeManagerStopped))
}

func (s *ManagerTestSuite) TestIndeterminateProgress() {
	s.backend.unknown = true

	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	s.backend.gate = gate
	s.backend.entered = entered

	page, err := s.manager.Request("BTCUSDT", "1h", s.hour(0), s.hour(2), nil, "chart-1")
	s.Require().NoError(err)

	<-entered
	s.Equal(-1, page.Progress())

	close(gate)
	s.waitState(page, types.PageStateReady)
	s.Equal(100, page.Progress())
}

func (s *ManagerTestSuite) TestSaturatedQueueDefersAndRecovers() {
	gate := make(chan struct{})
	entered := make(chan struct{}, 8)
	s.backend.gate = gate
	s.backend.entered = entered

	manager := s.newManager(s.backend, nil, Options{Workers: 1, QueueSize: 1, SweepInterval: time.Hour})
	defer manager.Stop()

	// First page occupies the single worker, second fills the queue, third is
	// deferred with a queue_full event.
	p1, err := manager.Request("BTCUSDT", "1h", s.hour(0), s.hour(1), nil, "c1")
	s.Require().NoError(err)
	<-entered

	p2, err := manager.Request("ETHUSDT", "1h", s.hour(0), s.hour(1), nil, "c2")
	s.Require().NoError(err)

	p3, err := manager.Request("SOLUSDT", "1h", s.hour(0), s.hour(1), nil, "c3")
	s.Require().NoError(err)

	deferred := false
	for _, ev := range manager.PageLog(p3.Key()) {
		if ev.Type == EventQueueFull {
			deferred = true
		}
	}

	s.True(deferred)

	close(gate)

	s.waitState(p1, types.PageStateReady)
	s.waitState(p2, types.PageStateReady)

	// The sweeper retries deferred fetches.
	s.Require().Eventually(func() bool {
		manager.sweep(time.Now())

		return p3.State() == types.PageStateReady
	}, 2*time.Second, 20*time.Millisecond)
}

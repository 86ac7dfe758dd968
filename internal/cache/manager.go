package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Schwaller/tradery/internal/logger"
	"github.com/Schwaller/tradery/internal/types"
	"github.com/Schwaller/tradery/pkg/errors"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"
)

// FetchBackend performs the external read for one data kind. Implementations
// live in pkg/marketdata; tests use hand-written fakes.
type FetchBackend[R types.Record] interface {
	// Fetch returns the records for [start, end) sorted ascending by time.
	Fetch(ctx context.Context, symbol, subKey string, start, end time.Time) ([]R, error)
	// ExpectedCount predicts how many records Fetch will return, for progress
	// reporting. Returns -1 when the count is unknowable.
	ExpectedCount(subKey string, start, end time.Time) int
}

// RecordStore is the optional local persistence layer consulted before the
// network backend. Extents saved here survive process restarts, which is why
// coverage knowledge outlives in-memory pages.
type RecordStore[R types.Record] interface {
	// LoadExtent returns the persisted records for [start, end) and true only
	// when the store holds the full extent.
	LoadExtent(ctx context.Context, symbol, subKey string, start, end time.Time) ([]R, bool, error)
	// SaveExtent persists a fetched extent.
	SaveExtent(ctx context.Context, symbol, subKey string, start, end time.Time, records []R) error
}

// Options tunes a page manager.
type Options struct {
	// Workers is the number of background fetch goroutines.
	Workers int
	// QueueSize bounds the fetch job queue.
	QueueSize int
	// GracePeriod is how long an unreferenced page survives before eviction.
	GracePeriod time.Duration
	// SweepInterval is the eviction sweep cadence. Defaults to GracePeriod/4.
	SweepInterval time.Duration
	// FetchTimeout bounds a single backend call.
	FetchTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}

	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}

	if o.GracePeriod <= 0 {
		o.GracePeriod = 30 * time.Second
	}

	if o.SweepInterval <= 0 {
		o.SweepInterval = o.GracePeriod / 4
	}

	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 30 * time.Second
	}

	return o
}

// Manager owns every page of one data kind: it implements request/release,
// coalesces concurrent loads, drives the background fetch workers, applies
// grace-period eviction and emits lifecycle events.
//
// Request and Release are cheap, non-blocking and safe from any goroutine.
// All I/O happens on the worker pool.
type Manager[R types.Record] struct {
	kind    types.DataKind
	backend FetchBackend[R]
	store   RecordStore[R]
	opts    Options
	log     *logger.Logger
	events  *EventLog
	metrics *Metrics

	mu         sync.Mutex
	pages      map[PageKey]*Page[R]
	coverage   map[string]*CoverageIndex
	evictHooks []func(PageKey)
	stopped    bool

	queue  chan *Page[R]
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a page manager for one data kind. The store may be nil;
// events and metrics are shared across managers.
func NewManager[R types.Record](
	kind types.DataKind,
	backend FetchBackend[R],
	store RecordStore[R],
	opts Options,
	log *logger.Logger,
	events *EventLog,
	metrics *Metrics,
) *Manager[R] {
	opts = opts.withDefaults()

	return &Manager[R]{
		kind:     kind,
		backend:  backend,
		store:    store,
		opts:     opts,
		log:      log,
		events:   events,
		metrics:  metrics,
		pages:    make(map[PageKey]*Page[R]),
		coverage: make(map[string]*CoverageIndex),
		queue:    make(chan *Page[R], opts.QueueSize),
	}
}

// Kind returns the data kind this manager serves.
func (m *Manager[R]) Kind() types.DataKind { return m.kind }

// Start launches the fetch workers and the eviction sweeper.
func (m *Manager[R]) Start(ctx context.Context) {
	m.ctx, m.cancel = context.WithCancel(ctx)

	for i := 0; i < m.opts.Workers; i++ {
		m.wg.Add(1)

		go m.worker()
	}

	m.wg.Add(1)

	go m.sweeper()

	m.log.Info("page manager started",
		zap.String("kind", string(m.kind)),
		zap.Int("workers", m.opts.Workers),
		zap.Duration("grace_period", m.opts.GracePeriod),
	)
}

// Stop shuts the workers down. In-flight fetches finish their current backend
// call and then exit.
func (m *Manager[R]) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
	}

	m.wg.Wait()
}

// OnEvict registers a hook called after a page is evicted. Used by the
// indicator manager to destroy derived pages with their source.
func (m *Manager[R]) OnEvict(hook func(PageKey)) {
	m.mu.Lock()
	m.evictHooks = append(m.evictHooks, hook)
	m.mu.Unlock()
}

// Request returns a page covering [start, end), creating one if needed, and
// registers the listener and consumer label on it. If the page's in-memory
// records do not cover the requested range, a fetch for exactly the missing
// sub-ranges is scheduled; concurrent requests attach to the in-flight fetch
// instead of spawning another. Data arrives asynchronously via the listener.
func (m *Manager[R]) Request(symbol, subKey string, start, end time.Time, l Listener, consumer string) (*Page[R], error) {
	if symbol == "" {
		return nil, errors.New(errors.ErrCodeInvalidParameter, "symbol is required")
	}

	if subKey == "" {
		return nil, errors.New(errors.ErrCodeInvalidParameter, "subKey is required")
	}

	if !end.After(start) {
		return nil, errors.Newf(errors.ErrCodeInvalidRange, "range start %s is not before end %s", start, end)
	}

	key := NewPageKey(m.kind, symbol, subKey, start, end)

	for {
		m.mu.Lock()

		if m.stopped {
			m.mu.Unlock()

			return nil, errors.New(errors.ErrCodeManagerStopped, "page manager is stopped")
		}

		page, created := m.resolvePageLocked(key)
		m.mu.Unlock()

		listenerAdded, _ := page.register(l, consumer)

		// The sweeper may have evicted the page between resolving it and
		// registering on it. A registration on an evicted page must not stick:
		// the page is orphaned from the map, so it would serve stale state and
		// never refetch. Detach and resolve again.
		if !m.resident(page) {
			page.unregister(l, consumer, time.Now())

			continue
		}

		if created {
			m.events.Append(page.key.String(), EventPageCreated, fmt.Sprintf("created for consumer %q", consumer))
			m.metrics.request(string(m.kind), "miss")
		} else {
			m.metrics.request(string(m.kind), "hit")
		}

		if listenerAdded {
			m.events.Append(page.key.String(), EventListenerAdded, fmt.Sprintf("consumer %q", consumer))
		}

		if len(page.memCov.QueryGaps(key.Start(), key.End())) > 0 {
			m.ensureFetch(page)
		}

		return page, nil
	}
}

// resident reports whether the page is still in the page map. Pages are keyed
// by their creation-time key, so pointer equality under the map key is exact.
func (m *Manager[R]) resident(p *Page[R]) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.pages[p.key] == p
}

// resolvePageLocked finds or creates the page serving a key. An existing page
// whose nominal range contains the request is reused as-is; one that merely
// overlaps is grown to the union of both ranges. Caller holds m.mu.
func (m *Manager[R]) resolvePageLocked(key PageKey) (*Page[R], bool) {
	if page, ok := m.pages[key]; ok {
		return page, false
	}

	series := key.Series()

	// Prefer a page that already contains the range over growing one.
	for _, page := range m.pages {
		if page.key.Series() != series {
			continue
		}

		page.mu.RLock()
		contains := page.startMs <= key.StartMs && page.endMs >= key.EndMs
		page.mu.RUnlock()

		if contains {
			return page, false
		}
	}

	for _, page := range m.pages {
		if page.key.Series() != series {
			continue
		}

		page.mu.Lock()

		if page.startMs < key.EndMs && page.endMs > key.StartMs {
			if key.StartMs < page.startMs {
				page.startMs = key.StartMs
			}

			if key.EndMs > page.endMs {
				page.endMs = key.EndMs
			}

			page.mu.Unlock()

			return page, false
		}

		page.mu.Unlock()
	}

	page := newPage[R](key)
	m.pages[key] = page
	m.metrics.setPages(string(m.kind), len(m.pages))

	if _, ok := m.coverage[series]; !ok {
		m.coverage[series] = NewCoverageIndex(m.kind.Bucket())
	}

	return page, true
}

// Release detaches a listener and consumer label from the page. Unknown pages
// and unregistered identities are no-ops, never errors; calling Release twice
// has the same effect as once. When the last consumer leaves, the eviction
// grace period starts (after any in-flight fetch completes).
func (m *Manager[R]) Release(p *Page[R], l Listener, consumer string) {
	if p == nil {
		return
	}

	removed, idle := p.unregister(l, consumer, time.Now())
	if removed {
		m.events.Append(p.key.String(), EventListenerRemoved, fmt.Sprintf("consumer %q", consumer))
	}

	if idle {
		m.events.Append(p.key.String(), EventPageReleased, "last consumer released, grace period started")
	}
}

// Lookup returns the page with the exact key, if resident.
func (m *Manager[R]) Lookup(key PageKey) (*Page[R], bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	page, ok := m.pages[key]

	return page, ok
}

// Observe attaches a listener without a consumer label, so the subscription
// never blocks eviction. Returns false if the page is not resident.
func (m *Manager[R]) Observe(key PageKey, l Listener) bool {
	page, ok := m.Lookup(key)
	if !ok {
		return false
	}

	page.register(l, "")

	return true
}

// Unobserve detaches a listener attached via Observe.
func (m *Manager[R]) Unobserve(key PageKey, l Listener) {
	page, ok := m.Lookup(key)
	if !ok {
		return
	}

	page.unregister(l, "", time.Now())
}

// Coverage returns the coverage index for a series, creating it if absent.
func (m *Manager[R]) Coverage(symbol, subKey string) *CoverageIndex {
	series := PageKey{Kind: m.kind, Symbol: symbol, SubKey: subKey}.Series()

	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.coverage[series]
	if !ok {
		idx = NewCoverageIndex(m.kind.Bucket())
		m.coverage[series] = idx
	}

	return idx
}

// PageLog returns the retained event history for a page key, oldest first.
func (m *Manager[R]) PageLog(key PageKey) []Event {
	return m.events.ForKey(key.String())
}

// ensureFetch schedules a fetch for the page unless one is already queued or
// running. This is the coalescing point: at most one fetch per page is ever in
// flight.
func (m *Manager[R]) ensureFetch(p *Page[R]) {
	p.mu.Lock()

	if p.fetchPending || p.fetchRunning {
		p.mu.Unlock()
		m.metrics.request(string(m.kind), "coalesced")

		return
	}

	p.fetchPending = true
	p.mu.Unlock()

	select {
	case m.queue <- p:
	default:
		// Queue saturated. Clear the flag so the sweeper retries; requests are
		// never blocked on a full queue.
		p.mu.Lock()
		p.fetchPending = false
		p.mu.Unlock()

		m.events.Append(p.key.String(), EventQueueFull, "fetch deferred, queue saturated")
		m.log.Warn("fetch queue saturated",
			zap.String("kind", string(m.kind)),
			zap.String("page", p.key.String()),
		)
	}
}

func (m *Manager[R]) worker() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case page := <-m.queue:
			m.runFetch(page)
		}
	}
}

// runFetch executes the fetch plan for a page: the missing sub-ranges of its
// nominal range, each tried against the local store before the network.
// Succeeded sub-ranges are merged immediately so partial progress survives a
// later failure.
func (m *Manager[R]) runFetch(p *Page[R]) {
	p.mu.Lock()
	p.fetchPending = false
	p.fetchRunning = true
	rangeStart := time.UnixMilli(p.startMs).UTC()
	rangeEnd := time.UnixMilli(p.endMs).UTC()
	p.mu.Unlock()

	switch p.State() {
	case types.PageStateEmpty, types.PageStateError:
		p.transition(types.PageStateLoading)
		m.events.Append(p.key.String(), EventLoadStarted, fmt.Sprintf("range %s - %s", rangeStart.Format(time.RFC3339), rangeEnd.Format(time.RFC3339)))
	case types.PageStateReady:
		p.transition(types.PageStateUpdating)
		m.events.Append(p.key.String(), EventUpdateStarted, fmt.Sprintf("range %s - %s", rangeStart.Format(time.RFC3339), rangeEnd.Format(time.RFC3339)))
	default:
		// Already loading: a continuation after the range grew mid-fetch.
	}

	plan := p.memCov.QueryGaps(rangeStart, rangeEnd)
	cov := m.Coverage(p.key.Symbol, p.key.SubKey)

	expectedTotal := 0
	indeterminate := false

	for _, span := range plan {
		n := m.backend.ExpectedCount(p.key.SubKey, time.UnixMilli(span.Start).UTC(), time.UnixMilli(span.End).UTC())
		if n < 0 {
			indeterminate = true
			break
		}

		expectedTotal += n
	}

	if indeterminate {
		p.setProgress(-1)
	} else {
		p.setProgress(0)
	}

	var (
		failed    []Span
		firstErr  error
		doneSoFar int
	)

	for _, span := range plan {
		spanStart := time.UnixMilli(span.Start).UTC()
		spanEnd := time.UnixMilli(span.End).UTC()

		records, source, err := m.fetchSpan(spanStart, spanEnd, p.key)
		if err != nil {
			failed = append(failed, span)

			if firstErr == nil {
				firstErr = err
			}

			m.metrics.fetch(string(m.kind), "failure")
			m.log.Warn("fetch sub-range failed",
				zap.String("page", p.key.String()),
				zap.Time("start", spanStart),
				zap.Time("end", spanEnd),
				zap.Error(err),
			)

			continue
		}

		p.mergeRecords(records, span)
		cov.Merge(spanStart, spanEnd, CoverageFull)
		m.metrics.fetch(string(m.kind), source)

		if m.store != nil && source == "network" {
			if err := m.store.SaveExtent(m.ctx, p.key.Symbol, p.key.SubKey, spanStart, spanEnd, records); err != nil {
				m.log.Warn("failed to persist extent",
					zap.String("page", p.key.String()),
					zap.Error(err),
				)
			}
		}

		if !indeterminate && expectedTotal > 0 {
			doneSoFar += m.backend.ExpectedCount(p.key.SubKey, spanStart, spanEnd)
			p.setProgress(doneSoFar * 100 / expectedTotal)
		}

		p.notifyData()
	}

	m.finishFetch(p, failed, firstErr)
}

// fetchSpan reads one sub-range: the local store first, then the network.
func (m *Manager[R]) fetchSpan(start, end time.Time, key PageKey) ([]R, string, error) {
	if m.store != nil {
		records, ok, err := m.store.LoadExtent(m.ctx, key.Symbol, key.SubKey, start, end)
		if err != nil {
			m.log.Warn("store read failed, falling back to network",
				zap.String("page", key.String()),
				zap.Error(err),
			)
		} else if ok {
			return records, "store", nil
		}
	}

	ctx, cancel := context.WithTimeout(m.ctx, m.opts.FetchTimeout)
	defer cancel()

	records, err := m.backend.Fetch(ctx, key.Symbol, key.SubKey, start, end)
	if err != nil {
		return nil, "", err
	}

	return records, "network", nil
}

// finishFetch settles the page after the plan ran: ERROR with the failed
// sub-ranges, a re-queue when the range grew mid-fetch, or READY.
func (m *Manager[R]) finishFetch(p *Page[R], failed []Span, firstErr error) {
	p.mu.Lock()
	p.fetchRunning = false

	if len(failed) > 0 {
		p.lastErr = optional.Some(PageError{
			Message:   firstErr.Error(),
			Retryable: errors.IsRetryable(firstErr),
			Failed:    failed,
		})
		m.startGraceLocked(p)
		p.mu.Unlock()

		p.transition(types.PageStateError)
		m.events.Append(p.key.String(), EventLoadFailed, fmt.Sprintf("%d sub-range(s) failed: %v", len(failed), firstErr))

		return
	}

	rangeStart := time.UnixMilli(p.startMs).UTC()
	rangeEnd := time.UnixMilli(p.endMs).UTC()

	if len(p.memCov.QueryGaps(rangeStart, rangeEnd)) > 0 {
		// The nominal range grew while we were fetching. Run one more pass so
		// a superseding request still resolves to a single fetch sequence.
		p.fetchPending = true
		p.mu.Unlock()

		select {
		case m.queue <- p:
		default:
			p.mu.Lock()
			p.fetchPending = false
			p.mu.Unlock()
			m.events.Append(p.key.String(), EventQueueFull, "continuation deferred, queue saturated")
		}

		return
	}

	p.progress = 100
	wasUpdating := p.state == types.PageStateUpdating
	m.startGraceLocked(p)
	p.mu.Unlock()

	p.transition(types.PageStateReady)

	if wasUpdating {
		m.events.Append(p.key.String(), EventUpdateCompleted, fmt.Sprintf("%d records", p.RecordCount()))
	} else {
		m.events.Append(p.key.String(), EventLoadCompleted, fmt.Sprintf("%d records", p.RecordCount()))
	}
}

// startGraceLocked starts the eviction grace clock if the page has no
// consumers. Caller holds p.mu.
func (m *Manager[R]) startGraceLocked(p *Page[R]) {
	if len(p.consumers) == 0 && p.releasedAt.IsZero() {
		p.releasedAt = time.Now()
	}
}

// sweeper periodically evicts pages whose grace period elapsed and re-queues
// fetches that were deferred on a saturated queue.
func (m *Manager[R]) sweeper() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sweep(time.Now())
		}
	}
}

func (m *Manager[R]) sweep(now time.Time) {
	var (
		evicted []PageKey
		retry   []*Page[R]
	)

	m.mu.Lock()

	for key, page := range m.pages {
		page.mu.Lock()

		idle := len(page.consumers) == 0 &&
			!page.state.Loading() &&
			!page.fetchPending && !page.fetchRunning &&
			!page.releasedAt.IsZero() &&
			now.Sub(page.releasedAt) >= m.opts.GracePeriod

		needsFetch := len(page.consumers) > 0 &&
			!page.fetchPending && !page.fetchRunning &&
			len(page.memCov.QueryGaps(time.UnixMilli(page.startMs), time.UnixMilli(page.endMs))) > 0

		if idle {
			page.records = nil
			delete(m.pages, key)
			evicted = append(evicted, key)
		} else if needsFetch {
			retry = append(retry, page)
		}

		page.mu.Unlock()
	}

	if len(evicted) > 0 {
		m.metrics.setPages(string(m.kind), len(m.pages))
	}

	hooks := make([]func(PageKey), len(m.evictHooks))
	copy(hooks, m.evictHooks)
	m.mu.Unlock()

	for _, key := range evicted {
		m.metrics.eviction(string(m.kind))
		m.events.Append(key.String(), EventPageEvicted, "grace period elapsed")
		m.log.Info("page evicted",
			zap.String("kind", string(m.kind)),
			zap.String("page", key.String()),
		)

		for _, hook := range hooks {
			hook(key)
		}
	}

	for _, page := range retry {
		m.ensureFetch(page)
	}
}

func (p *Page[R]) setProgress(v int) {
	p.mu.Lock()
	p.progress = v
	p.mu.Unlock()
}

package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/Schwaller/tradery/internal/types"
	"github.com/moznion/go-optional"
)

// PageError describes the last failed fetch on a page.
type PageError struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	// Failed holds the sub-ranges the fetch could not cover. Sub-ranges that
	// succeeded before the failure are already merged and stay merged.
	Failed []Span `json:"failed,omitempty"`
}

// Page is the unit of caching: an ordered, timestamp-deduplicated buffer of
// records for one (kind, symbol, subKey) over a nominal time range, plus
// lifecycle state, consumers and listeners.
//
// The page guards its own state with its own lock, so unrelated pages never
// contend. All mutation goes through the owning manager; consumers only read.
type Page[R types.Record] struct {
	key PageKey

	mu      sync.RWMutex
	startMs int64 // nominal range, grows when a superset request reuses the page
	endMs   int64
	state   types.PageState
	records []R
	// memCov tracks which sub-ranges of the nominal range the records actually
	// back. Distinct from the series coverage index: that one survives
	// eviction, this one describes what is in memory right now.
	memCov     *CoverageIndex
	consumers  map[string]struct{}
	listeners  map[Listener]struct{}
	progress   int
	lastErr    optional.Option[PageError]
	releasedAt time.Time
	// fetchPending is set from enqueue until a worker picks the page up;
	// fetchRunning while the worker executes. Together they uphold the
	// single-fetch-in-flight invariant.
	fetchPending bool
	fetchRunning bool

	notify *notifier
}

func newPage[R types.Record](key PageKey) *Page[R] {
	return &Page[R]{
		key:       key,
		startMs:   key.StartMs,
		endMs:     key.EndMs,
		state:     types.PageStateEmpty,
		memCov:    NewCoverageIndex(key.Kind.Bucket()),
		consumers: make(map[string]struct{}),
		listeners: make(map[Listener]struct{}),
		progress:  0,
		notify:    &notifier{},
	}
}

// Key returns the page's stable identity.
func (p *Page[R]) Key() PageKey { return p.key }

// State returns the current lifecycle state.
func (p *Page[R]) State() types.PageState {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.state
}

// Range returns the current nominal range. It starts as the key's range and
// grows when overlapping requests are folded into the page.
func (p *Page[R]) Range() (time.Time, time.Time) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return time.UnixMilli(p.startMs).UTC(), time.UnixMilli(p.endMs).UTC()
}

// Records returns a copy of the page's records, sorted ascending by time.
func (p *Page[R]) Records() []R {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]R, len(p.records))
	copy(out, p.records)

	return out
}

// RecordCount returns the number of cached records.
func (p *Page[R]) RecordCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.records)
}

// Progress returns the fetch progress: 0-100, or -1 when the expected record
// count is unknowable. Meaningful only while loading or updating.
func (p *Page[R]) Progress() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.progress
}

// LastError returns the last fetch failure, present only in the error state.
func (p *Page[R]) LastError() optional.Option[PageError] {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.lastErr
}

// CoverageSpans returns the sub-ranges of the nominal range currently backed
// by in-memory records.
func (p *Page[R]) CoverageSpans() []Span {
	p.mu.RLock()
	defer p.mu.RUnlock()

	intervals := p.memCov.Snapshot()

	spans := make([]Span, 0, len(intervals))
	for _, iv := range intervals {
		if iv.Level == CoverageFull {
			spans = append(spans, iv.Span)
		}
	}

	return spans
}

// ConsumerLabels returns the labels of the consumers holding the page.
func (p *Page[R]) ConsumerLabels() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	labels := make([]string, 0, len(p.consumers))
	for label := range p.consumers {
		labels = append(labels, label)
	}

	sort.Strings(labels)

	return labels
}

func (p *Page[R]) listenerCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.listeners)
}

// register attaches a listener and consumer label. Both are idempotent.
func (p *Page[R]) register(l Listener, consumer string) (listenerAdded, consumerAdded bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if l != nil {
		if _, ok := p.listeners[l]; !ok {
			p.listeners[l] = struct{}{}
			listenerAdded = true
		}
	}

	if consumer != "" {
		if _, ok := p.consumers[consumer]; !ok {
			p.consumers[consumer] = struct{}{}
			consumerAdded = true
		}
	}

	p.releasedAt = time.Time{}

	return listenerAdded, consumerAdded
}

// unregister removes a listener and consumer label. Unknown identities are
// no-ops. When the last consumer leaves and no fetch is in flight, the grace
// clock starts.
func (p *Page[R]) unregister(l Listener, consumer string, now time.Time) (removed bool, idle bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if l != nil {
		if _, ok := p.listeners[l]; ok {
			delete(p.listeners, l)
			removed = true
		}
	}

	if consumer != "" {
		if _, ok := p.consumers[consumer]; ok {
			delete(p.consumers, consumer)
			removed = true
		}
	}

	if len(p.consumers) == 0 && !p.state.Loading() && p.releasedAt.IsZero() {
		p.releasedAt = now
		idle = true
	}

	return removed, idle
}

// mergeRecords folds a sorted-or-not batch into the page, keeping the buffer
// sorted ascending and deduplicated by timestamp. The newest write wins on
// equal timestamps.
func (p *Page[R]) mergeRecords(batch []R, span Span) {
	if len(batch) == 0 {
		p.mu.Lock()
		p.memCov.Merge(time.UnixMilli(span.Start), time.UnixMilli(span.End), CoverageFull)
		p.mu.Unlock()

		return
	}

	sorted := make([]R, len(batch))
	copy(sorted, batch)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].RecordTime().Before(sorted[j].RecordTime())
	})

	p.mu.Lock()
	defer p.mu.Unlock()

	merged := make([]R, 0, len(p.records)+len(sorted))

	i, j := 0, 0
	for i < len(p.records) && j < len(sorted) {
		ti, tj := p.records[i].RecordTime(), sorted[j].RecordTime()

		switch {
		case ti.Before(tj):
			merged = append(merged, p.records[i])
			i++
		case tj.Before(ti):
			merged = appendDedup(merged, sorted[j])
			j++
		default:
			// Same timestamp: the incoming record replaces the cached one.
			merged = appendDedup(merged, sorted[j])
			i++
			j++
		}
	}

	merged = append(merged, p.records[i:]...)

	for ; j < len(sorted); j++ {
		merged = appendDedup(merged, sorted[j])
	}

	p.records = merged
	p.memCov.Merge(time.UnixMilli(span.Start), time.UnixMilli(span.End), CoverageFull)
}

// appendDedup appends r unless the tail already holds its timestamp, in which
// case r replaces the tail. Guards against duplicate timestamps inside one
// fetch batch.
func appendDedup[R types.Record](dst []R, r R) []R {
	if n := len(dst); n > 0 && dst[n-1].RecordTime().Equal(r.RecordTime()) {
		dst[n-1] = r
		return dst
	}

	return append(dst, r)
}

// transition moves the page to a new state and notifies listeners in order.
// Returns the previous state.
func (p *Page[R]) transition(newState types.PageState) types.PageState {
	p.mu.Lock()

	oldState := p.state
	p.state = newState

	if newState != types.PageStateError {
		p.lastErr = optional.None[PageError]()
	}

	listeners := p.listenerSnapshot()
	key := p.key
	p.mu.Unlock()

	if oldState == newState {
		return oldState
	}

	p.notify.dispatch(func() {
		for _, l := range listeners {
			l.OnStateChanged(key, oldState, newState)
		}
	})

	return oldState
}

// notifyData tells listeners new records were merged.
func (p *Page[R]) notifyData() {
	p.mu.RLock()
	listeners := p.listenerSnapshot()
	key := p.key
	p.mu.RUnlock()

	p.notify.dispatch(func() {
		for _, l := range listeners {
			l.OnDataChanged(key)
		}
	})
}

// listenerSnapshot copies the listener set. Caller holds p.mu.
func (p *Page[R]) listenerSnapshot() []Listener {
	out := make([]Listener, 0, len(p.listeners))
	for l := range p.listeners {
		out = append(out, l)
	}

	return out
}

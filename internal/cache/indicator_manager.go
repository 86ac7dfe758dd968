package cache

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Schwaller/tradery/internal/indicator"
	"github.com/Schwaller/tradery/internal/logger"
	"github.com/Schwaller/tradery/internal/types"
	"github.com/Schwaller/tradery/pkg/errors"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"
)

// IndicatorKey identifies a derived page: an indicator type plus parameters
// applied to one source candle page.
type IndicatorKey struct {
	Type   types.IndicatorType
	Params indicator.Params
	Source PageKey
}

// String renders the key for logs and the snapshot API.
func (k IndicatorKey) String() string {
	return fmt.Sprintf("indicator:%s(%s):%s", k.Type, k.Params, k.Source)
}

// PageKey renders the derived identity as the key delivered to listener
// callbacks: the indicator kind over the source range, with the indicator and
// its parameters folded into the sub-key. A listener watching several
// indicators over one source page, or the source page itself, can tell the
// notifications apart by key.
func (k IndicatorKey) PageKey() PageKey {
	return PageKey{
		Kind:    types.DataKindIndicator,
		Symbol:  k.Source.Symbol,
		SubKey:  fmt.Sprintf("%s(%s):%s", k.Type, k.Params, k.Source.SubKey),
		StartMs: k.Source.StartMs,
		EndMs:   k.Source.EndMs,
	}
}

// IndicatorPage is a derived page: a value array aligned 1:1 with its source
// page's records. Computation is local and synchronous once the source is
// ready, so the page never has a loading state of its own; it is empty
// (pending source), ready, or error.
type IndicatorPage struct {
	key IndicatorKey

	mu        sync.RWMutex
	state     types.PageState
	values    []float64
	stale     bool
	lastErr   optional.Option[PageError]
	consumers map[string]struct{}
	listeners map[Listener]struct{}
	notify    *notifier
}

func newIndicatorPage(key IndicatorKey) *IndicatorPage {
	return &IndicatorPage{
		key:       key,
		state:     types.PageStateEmpty,
		consumers: make(map[string]struct{}),
		listeners: make(map[Listener]struct{}),
		notify:    &notifier{},
	}
}

// Key returns the derived page's identity.
func (p *IndicatorPage) Key() IndicatorKey { return p.key }

// State returns empty (pending source), ready, or error.
func (p *IndicatorPage) State() types.PageState {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.state
}

// Values returns a copy of the computed series, aligned 1:1 with the source
// page's records at computation time.
func (p *IndicatorPage) Values() []float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]float64, len(p.values))
	copy(out, p.values)

	return out
}

// LastError returns the last computation failure, present only in the error
// state.
func (p *IndicatorPage) LastError() optional.Option[PageError] {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.lastErr
}

// IndicatorManager serves derived pages computed from candle pages. It
// observes source pages as a listener only, so it never blocks their
// eviction; when a source page is evicted its derived pages are destroyed
// with it.
type IndicatorManager struct {
	source   *Manager[types.Candle]
	registry *indicator.Registry
	log      *logger.Logger
	events   *EventLog

	mu       sync.Mutex
	pages    map[IndicatorKey]*IndicatorPage
	bySource map[PageKey][]*IndicatorPage
	watched  map[PageKey]struct{}
}

// NewIndicatorManager creates an indicator manager over the candle manager.
func NewIndicatorManager(
	source *Manager[types.Candle],
	registry *indicator.Registry,
	log *logger.Logger,
	events *EventLog,
) *IndicatorManager {
	im := &IndicatorManager{
		source:   source,
		registry: registry,
		log:      log,
		events:   events,
		pages:    make(map[IndicatorKey]*IndicatorPage),
		bySource: make(map[PageKey][]*IndicatorPage),
		watched:  make(map[PageKey]struct{}),
	}

	source.OnEvict(im.onSourceEvicted)

	return im
}

// Kind returns the derived data kind.
func (im *IndicatorManager) Kind() types.DataKind { return types.DataKindIndicator }

// Subscribe returns the derived page for (type, params, source), computing it
// synchronously when the source page is already ready and a fresh result is
// not cached. Otherwise the result is published via the listener once the
// source becomes ready.
func (im *IndicatorManager) Subscribe(
	typ types.IndicatorType,
	params indicator.Params,
	source PageKey,
	l Listener,
	consumer string,
) (*IndicatorPage, error) {
	if _, err := im.registry.Get(typ); err != nil {
		return nil, err
	}

	srcPage, ok := im.source.Lookup(source)
	if !ok {
		return nil, errors.Newf(errors.ErrCodeIndicatorSourceGone, "source page %s is not resident", source)
	}

	key := IndicatorKey{Type: typ, Params: params, Source: source}

	im.mu.Lock()

	page, exists := im.pages[key]
	if !exists {
		page = newIndicatorPage(key)
		im.pages[key] = page
		im.bySource[source] = append(im.bySource[source], page)
	}

	if _, watching := im.watched[source]; !watching {
		im.source.Observe(source, im)
		im.watched[source] = struct{}{}
	}

	im.mu.Unlock()

	if !exists {
		im.events.Append(key.String(), EventPageCreated, fmt.Sprintf("created for consumer %q", consumer))
	}

	page.mu.Lock()

	if l != nil {
		page.listeners[l] = struct{}{}
	}

	if consumer != "" {
		page.consumers[consumer] = struct{}{}
	}

	needsCompute := page.state != types.PageStateReady || page.stale
	page.mu.Unlock()

	if needsCompute && srcPage.State() == types.PageStateReady {
		im.compute(page, srcPage)
	}

	return page, nil
}

// Release detaches a listener and consumer from a derived page. Unknown keys
// and identities are no-ops. Derived pages are cheap, so they stay cached
// until their source page is evicted.
func (im *IndicatorManager) Release(key IndicatorKey, l Listener, consumer string) {
	im.mu.Lock()
	page, ok := im.pages[key]
	im.mu.Unlock()

	if !ok {
		return
	}

	page.mu.Lock()

	removed := false

	if l != nil {
		if _, registered := page.listeners[l]; registered {
			delete(page.listeners, l)

			removed = true
		}
	}

	if consumer != "" {
		if _, registered := page.consumers[consumer]; registered {
			delete(page.consumers, consumer)

			removed = true
		}
	}

	page.mu.Unlock()

	if removed {
		im.events.Append(key.String(), EventListenerRemoved, fmt.Sprintf("consumer %q", consumer))
	}
}

// OnStateChanged implements Listener for source pages. A source reaching
// ready - first load or update - recomputes every dependent exactly once.
func (im *IndicatorManager) OnStateChanged(source PageKey, _, newState types.PageState) {
	if newState != types.PageStateReady {
		return
	}

	srcPage, ok := im.source.Lookup(source)
	if !ok {
		return
	}

	im.mu.Lock()
	dependents := make([]*IndicatorPage, len(im.bySource[source]))
	copy(dependents, im.bySource[source])
	im.mu.Unlock()

	for _, page := range dependents {
		page.mu.Lock()
		page.stale = true
		page.mu.Unlock()

		im.compute(page, srcPage)
	}
}

// OnDataChanged implements Listener for source pages. Per-chunk merges during
// a load are deliberately ignored; dependents recompute once per ready
// transition, not once per fetch chunk.
func (im *IndicatorManager) OnDataChanged(PageKey) {}

// compute runs the indicator over the source records and publishes the result
// with exactly one data notification. A computation failure moves only this
// page to the error state; siblings and the source are untouched.
func (im *IndicatorManager) compute(page *IndicatorPage, srcPage *Page[types.Candle]) {
	series, err := im.registry.Get(page.key.Type)
	if err == nil {
		var values []float64

		values, err = series.Compute(srcPage.Records(), page.key.Params)
		if err == nil {
			im.publish(page, values)
			return
		}
	}

	page.mu.Lock()
	oldState := page.state
	page.state = types.PageStateError
	page.stale = false
	page.lastErr = optional.Some(PageError{Message: err.Error(), Retryable: false})
	listeners := indicatorListeners(page)
	page.mu.Unlock()

	im.events.Append(page.key.String(), EventIndicatorFailed, err.Error())
	im.log.Warn("indicator computation failed",
		zap.String("page", page.key.String()),
		zap.Error(err),
	)

	if oldState != types.PageStateError {
		key := page.key.PageKey()

		page.notify.dispatch(func() {
			for _, l := range listeners {
				l.OnStateChanged(key, oldState, types.PageStateError)
			}
		})
	}
}

func (im *IndicatorManager) publish(page *IndicatorPage, values []float64) {
	page.mu.Lock()
	oldState := page.state
	page.state = types.PageStateReady
	page.stale = false
	page.values = values
	page.lastErr = optional.None[PageError]()
	listeners := indicatorListeners(page)
	page.mu.Unlock()

	im.events.Append(page.key.String(), EventIndicatorReady, fmt.Sprintf("%d values", len(values)))

	key := page.key.PageKey()

	page.notify.dispatch(func() {
		for _, l := range listeners {
			if oldState != types.PageStateReady {
				l.OnStateChanged(key, oldState, types.PageStateReady)
			}

			l.OnDataChanged(key)
		}
	})
}

// onSourceEvicted destroys every derived page of an evicted source page.
func (im *IndicatorManager) onSourceEvicted(source PageKey) {
	im.mu.Lock()

	dependents := im.bySource[source]
	delete(im.bySource, source)
	delete(im.watched, source)

	for _, page := range dependents {
		delete(im.pages, page.key)
	}

	im.mu.Unlock()

	for _, page := range dependents {
		im.events.Append(page.key.String(), EventPageEvicted, "source page evicted")
	}
}

// PageLog returns the retained event history for a derived page key.
func (im *IndicatorManager) PageLog(key IndicatorKey) []Event {
	return im.events.ForKey(key.String())
}

// Snapshot returns the current projection of every derived page.
func (im *IndicatorManager) Snapshot() []PageInfo {
	im.mu.Lock()
	pages := make([]*IndicatorPage, 0, len(im.pages))

	for _, page := range im.pages {
		pages = append(pages, page)
	}
	im.mu.Unlock()

	infos := make([]PageInfo, 0, len(pages))

	for _, page := range pages {
		page.mu.RLock()

		info := PageInfo{
			Key:        page.key.String(),
			Kind:       types.DataKindIndicator,
			Symbol:     page.key.Source.Symbol,
			SubKey:     page.key.Source.SubKey,
			RangeStart: page.key.Source.Start(),
			RangeEnd:   page.key.Source.End(),
			State:      page.state,
			Consumers:  len(page.consumers),
			Listeners:  len(page.listeners),
			Records:    len(page.values),
		}

		if page.state == types.PageStateReady {
			info.Progress = 100
		}

		for label := range page.consumers {
			info.ConsumerLabels = append(info.ConsumerLabels, label)
		}

		if pageErr, err := page.lastErr.Take(); err == nil {
			info.Error = pageErr.Message
		}

		page.mu.RUnlock()

		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })

	return infos
}

func indicatorListeners(p *IndicatorPage) []Listener {
	out := make([]Listener, 0, len(p.listeners))
	for l := range p.listeners {
		out = append(out, l)
	}

	return out
}

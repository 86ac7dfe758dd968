package cache

import (
	"sync"

	"github.com/Schwaller/tradery/internal/types"
)

// Listener receives page lifecycle notifications. Callbacks run on an
// arbitrary goroutine owned by the cache; UI consumers must redispatch to
// their own thread. Callbacks must not panic; a panic here would take down the
// notification goroutine for the page.
//
// Listener identity is the interface value itself: registering the same value
// twice is a no-op, so consumers normally implement Listener on a pointer
// type.
type Listener interface {
	// OnStateChanged fires after every page state transition, in transition
	// order.
	OnStateChanged(key PageKey, oldState, newState types.PageState)
	// OnDataChanged fires after records are merged into the page.
	OnDataChanged(key PageKey)
}

// notifier serializes callback delivery for one page. Transitions are queued
// under the page lock and drained outside it, so delivery order matches
// transition order and a re-entrant callback (one that calls back into the
// manager) cannot deadlock.
type notifier struct {
	mu       sync.Mutex
	queue    []func()
	draining bool
}

func (n *notifier) dispatch(f func()) {
	n.mu.Lock()

	n.queue = append(n.queue, f)
	if n.draining {
		n.mu.Unlock()
		return
	}

	n.draining = true

	for len(n.queue) > 0 {
		next := n.queue[0]
		n.queue = n.queue[1:]

		n.mu.Unlock()
		next()
		n.mu.Lock()
	}

	n.draining = false
	n.mu.Unlock()
}

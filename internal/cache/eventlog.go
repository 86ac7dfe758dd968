package cache

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType classifies download-event-log entries.
type EventType string

const (
	EventPageCreated     EventType = "page_created"
	EventLoadStarted     EventType = "load_started"
	EventLoadCompleted   EventType = "load_completed"
	EventLoadFailed      EventType = "load_failed"
	EventUpdateStarted   EventType = "update_started"
	EventUpdateCompleted EventType = "update_completed"
	EventListenerAdded   EventType = "listener_added"
	EventListenerRemoved EventType = "listener_removed"
	EventPageReleased    EventType = "page_released"
	EventPageEvicted     EventType = "page_evicted"
	EventQueueFull       EventType = "queue_full"
	EventIndicatorReady  EventType = "indicator_computed"
	EventIndicatorFailed EventType = "indicator_failed"
)

// Event is one diagnostic record in a page's download history.
type Event struct {
	ID      string    `json:"id"`
	Time    time.Time `json:"time"`
	Key     string    `json:"key"`
	Type    EventType `json:"type"`
	Message string    `json:"message"`
}

// EventLog is an append-only, size-bounded event history per page key, plus a
// best-effort live feed for dashboards. It is purely diagnostic: appends never
// block and never fail; on overflow the oldest events for the key are dropped,
// and a slow live subscriber silently misses events.
type EventLog struct {
	mu     sync.Mutex
	perKey int
	byKey  map[string][]Event
	subs   map[chan Event]struct{}
	now    func() time.Time
}

// NewEventLog creates an event log keeping at most perKey events per page key.
func NewEventLog(perKey int) *EventLog {
	if perKey <= 0 {
		perKey = 256
	}

	return &EventLog{
		perKey: perKey,
		byKey:  make(map[string][]Event),
		subs:   make(map[chan Event]struct{}),
		now:    time.Now,
	}
}

// Append records an event for the key.
func (l *EventLog) Append(key string, typ EventType, message string) {
	ev := Event{
		ID:      uuid.New().String(),
		Time:    l.now(),
		Key:     key,
		Type:    typ,
		Message: message,
	}

	l.mu.Lock()

	events := append(l.byKey[key], ev)
	if len(events) > l.perKey {
		events = events[len(events)-l.perKey:]
	}

	l.byKey[key] = events

	for ch := range l.subs {
		select {
		case ch <- ev:
		default:
		}
	}

	l.mu.Unlock()
}

// ForKey returns the retained events for a page key in append (time) order.
// Unknown keys return nil.
func (l *EventLog) ForKey(key string) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := l.byKey[key]
	if len(events) == 0 {
		return nil
	}

	out := make([]Event, len(events))
	copy(out, events)

	return out
}

// Drop discards the history for a key. Called when a page is evicted and its
// key retired.
func (l *EventLog) Drop(key string) {
	l.mu.Lock()
	delete(l.byKey, key)
	l.mu.Unlock()
}

// Subscribe returns a live feed of appended events and a cancel function. The
// feed is lossy: events are dropped rather than blocking an appender.
func (l *EventLog) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)

	l.mu.Lock()
	l.subs[ch] = struct{}{}
	l.mu.Unlock()

	cancel := func() {
		l.mu.Lock()
		delete(l.subs, ch)
		l.mu.Unlock()
	}

	return ch, cancel
}

package main

import (
	"time"

	"github.com/Schwaller/tradery/internal/cache"
)

// SnapshotMsg carries a fresh page snapshot from the workbench server.
type SnapshotMsg struct {
	Pages []cache.PageInfo
}

// EventsMsg carries the event history for the selected page.
type EventsMsg struct {
	Key    string
	Events []cache.Event
}

// FetchErrorMsg indicates a failed poll against the workbench server.
type FetchErrorMsg struct {
	Err error
}

// TickMsg drives the periodic snapshot poll.
type TickMsg time.Time

package types

// PageState is the lifecycle state of a cached page.
type PageState string

const (
	// PageStateEmpty is the initial state before any fetch has been dispatched.
	PageStateEmpty PageState = "empty"
	// PageStateLoading means the first fetch for the page is in flight.
	PageStateLoading PageState = "loading"
	// PageStateReady means the page's records fully cover its nominal range.
	PageStateReady PageState = "ready"
	// PageStateUpdating means a gap-fill or range extension is in flight on an
	// already-ready page.
	PageStateUpdating PageState = "updating"
	// PageStateError means the last fetch failed or partially failed. A new
	// request for the page retries the failed sub-ranges.
	PageStateError PageState = "error"
)

// Loading reports whether a fetch is currently in flight for the page.
func (s PageState) Loading() bool {
	return s == PageStateLoading || s == PageStateUpdating
}

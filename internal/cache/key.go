package cache

import (
	"fmt"
	"time"

	"github.com/Schwaller/tradery/internal/types"
)

// PageKey identifies one cached page: a data kind, symbol and sub-key plus the
// requested time range rounded to the kind's coverage bucket. The key is the
// page's stable identity for the whole of its life; when a later request grows
// the page's nominal range the key keeps the creation-time range (see
// Page.Range for the current nominal range).
type PageKey struct {
	Kind    types.DataKind
	Symbol  string
	SubKey  string
	StartMs int64
	EndMs   int64
}

// NewPageKey builds a key for the requested range, rounding the start down and
// the end up to the kind's bucket so that requests with slightly different
// bounds resolve to the same page.
func NewPageKey(kind types.DataKind, symbol, subKey string, start, end time.Time) PageKey {
	bucket := kind.Bucket().Milliseconds()

	return PageKey{
		Kind:    kind,
		Symbol:  symbol,
		SubKey:  subKey,
		StartMs: alignDown(start.UnixMilli(), bucket),
		EndMs:   alignUp(end.UnixMilli(), bucket),
	}
}

// Series returns the coverage-index key shared by all pages of the same
// (kind, symbol, subKey) regardless of range.
func (k PageKey) Series() string {
	return fmt.Sprintf("%s:%s:%s", k.Kind, k.Symbol, k.SubKey)
}

// Start returns the rounded range start.
func (k PageKey) Start() time.Time { return time.UnixMilli(k.StartMs).UTC() }

// End returns the rounded range end (exclusive).
func (k PageKey) End() time.Time { return time.UnixMilli(k.EndMs).UTC() }

// String renders the key for logs, event records and the snapshot API.
func (k PageKey) String() string {
	return fmt.Sprintf("%s:%d-%d", k.Series(), k.StartMs, k.EndMs)
}

func alignDown(ms, bucket int64) int64 {
	if bucket <= 0 {
		return ms
	}

	if ms >= 0 {
		return ms - ms%bucket
	}

	return ms - ((ms % bucket)+bucket)%bucket
}

func alignUp(ms, bucket int64) int64 {
	down := alignDown(ms, bucket)
	if down == ms {
		return ms
	}

	return down + bucket
}

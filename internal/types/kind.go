package types

import "time"

// DataKind identifies one family of time-series market data served by the
// page cache. Each kind has its own page manager, fetch backend, and coverage
// bucket size.
type DataKind string

const (
	DataKindCandles      DataKind = "candles"
	DataKindFunding      DataKind = "funding"
	DataKindOpenInterest DataKind = "open_interest"
	DataKindAggTrades    DataKind = "agg_trades"
	DataKindPremiumIndex DataKind = "premium_index"
	DataKindIndicator    DataKind = "indicator"
)

// AllDataKinds lists every kind backed by an external fetch. Indicator pages
// are derived locally and have no fetch backend.
var AllDataKinds = []DataKind{
	DataKindCandles,
	DataKindFunding,
	DataKindOpenInterest,
	DataKindAggTrades,
	DataKindPremiumIndex,
}

// Bucket returns the coverage granularity for the kind. Coverage bookkeeping
// and request rounding happen on bucket boundaries: high-frequency kinds use
// hour buckets, slow-moving kinds use a coarser thirty-day bucket so the
// coverage index stays small.
func (k DataKind) Bucket() time.Duration {
	switch k {
	case DataKindFunding, DataKindOpenInterest:
		return 30 * 24 * time.Hour
	default:
		return time.Hour
	}
}

// Valid reports whether the kind is one of the known data kinds.
func (k DataKind) Valid() bool {
	switch k {
	case DataKindCandles, DataKindFunding, DataKindOpenInterest,
		DataKindAggTrades, DataKindPremiumIndex, DataKindIndicator:
		return true
	default:
		return false
	}
}

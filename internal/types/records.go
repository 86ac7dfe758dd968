package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Record is the common shape of all cached time-series entries. Pages keep
// their records sorted ascending by RecordTime and deduplicated by timestamp.
type Record interface {
	RecordTime() time.Time
}

// Candle is a single OHLCV bar.
type Candle struct {
	Time   time.Time `json:"time"`
	Symbol string    `json:"symbol"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

func (c Candle) RecordTime() time.Time { return c.Time }

// FundingRate is one periodic funding settlement for a perpetual contract.
// Rates are tiny fixed-point values, so they keep decimal precision.
type FundingRate struct {
	Time   time.Time       `json:"time"`
	Symbol string          `json:"symbol"`
	Rate   decimal.Decimal `json:"rate"`
}

func (f FundingRate) RecordTime() time.Time { return f.Time }

// OpenInterest is one open-interest observation: the total outstanding
// contracts on the exchange at a point in time, plus the notional value when
// the exchange provides it.
type OpenInterest struct {
	Time     time.Time `json:"time"`
	Symbol   string    `json:"symbol"`
	Value    float64   `json:"value"`
	ValueUSD float64   `json:"value_usd"`
}

func (o OpenInterest) RecordTime() time.Time { return o.Time }

// AggTrade is one aggregated trade: consecutive fills at the same price
// compressed into a single record by the exchange.
type AggTrade struct {
	Time         time.Time `json:"time"`
	Symbol       string    `json:"symbol"`
	Price        float64   `json:"price"`
	Quantity     float64   `json:"quantity"`
	IsBuyerMaker bool      `json:"is_buyer_maker"`
}

func (t AggTrade) RecordTime() time.Time { return t.Time }

// PremiumIndex is one premium-index bar: the spread of the perpetual mark
// price over the underlying index, sampled on a candle cadence.
type PremiumIndex struct {
	Time   time.Time       `json:"time"`
	Symbol string          `json:"symbol"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
}

func (p PremiumIndex) RecordTime() time.Time { return p.Time }

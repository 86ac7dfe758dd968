// Package marketdata implements the network fetch backends the page cache
// pulls from: Binance spot and futures endpoints plus Polygon aggregates.
// Each backend serves one data kind and returns records sorted ascending by
// time for a half-open [start, end) range.
package marketdata

import (
	"context"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/common"

	"github.com/Schwaller/tradery/pkg/errors"
)

// binancePageLimit is the per-request row cap shared by the kline-shaped
// Binance endpoints.
const binancePageLimit = 1000

// parseFloat converts an exchange decimal string, tolerating empty fields.
func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}

	v, _ := strconv.ParseFloat(s, 64)

	return v
}

// wrapFetchErr classifies a backend failure so the cache can distinguish
// retryable faults from permanent ones.
func wrapFetchErr(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return errors.Wrap(errors.ErrCodeFetchTimeout, "fetch deadline exceeded", err)
	}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -1003, -1015:
			return errors.Wrap(errors.ErrCodeFetchRateLimit, "rate limited by exchange", err)
		case -1121, -1100:
			return errors.Wrap(errors.ErrCodeFetchPermanent, "request rejected by exchange", err)
		}
	}

	return errors.Wrap(errors.ErrCodeFetchFailed, "fetch failed", err)
}

// barCount predicts how many fixed-cadence records fit in [start, end).
func barCount(start, end time.Time, step time.Duration) int {
	if step <= 0 || !end.After(start) {
		return 0
	}

	return int(end.Sub(start) / step)
}

package marketdata

import (
	"context"
	"time"

	polygon "github.com/polygon-io/client-go/rest"
	"github.com/polygon-io/client-go/rest/models"

	"github.com/Schwaller/tradery/internal/types"
	"github.com/Schwaller/tradery/pkg/errors"
)

// PolygonCandles fetches aggregate bars from Polygon. The page sub-key is the
// candle timeframe, mapped onto a Polygon multiplier and timespan.
type PolygonCandles struct {
	client *polygon.Client
}

// NewPolygonCandles creates a candle backend against the Polygon REST API.
func NewPolygonCandles(apiKey string) (*PolygonCandles, error) {
	if apiKey == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "polygon api key is required")
	}

	return &PolygonCandles{client: polygon.New(apiKey)}, nil
}

// Fetch streams aggregates through the list iterator; Polygon handles
// pagination internally.
func (p *PolygonCandles) Fetch(ctx context.Context, symbol, subKey string, start, end time.Time) ([]types.Candle, error) {
	multiplier, timespan, err := polygonInterval(types.Timeframe(subKey))
	if err != nil {
		return nil, err
	}

	//nolint:exhaustruct // third-party struct with many optional fields
	params := models.ListAggsParams{
		Ticker:     symbol,
		Multiplier: multiplier,
		Timespan:   timespan,
		From:       models.Millis(start),
		To:         models.Millis(end),
	}.WithLimit(50000)

	iter := p.client.ListAggs(ctx, params)

	var candles []types.Candle

	for iter.Next() {
		agg := iter.Item()

		barTime := time.Time(agg.Timestamp).UTC()
		if !barTime.Before(end) {
			// Polygon's To bound is inclusive; the range is half-open.
			continue
		}

		candles = append(candles, types.Candle{
			Time:   barTime,
			Symbol: symbol,
			Open:   agg.Open,
			High:   agg.High,
			Low:    agg.Low,
			Close:  agg.Close,
			Volume: agg.Volume,
		})
	}

	if iter.Err() != nil {
		return nil, wrapFetchErr(ctx, iter.Err())
	}

	return candles, nil
}

// ExpectedCount predicts the bar count from the timeframe cadence.
func (p *PolygonCandles) ExpectedCount(subKey string, start, end time.Time) int {
	tf := types.Timeframe(subKey)
	if !tf.Valid() {
		return -1
	}

	return barCount(start, end, tf.Duration())
}

// polygonInterval maps a candle timeframe onto Polygon's multiplier and
// timespan pair. Polygon has no second-level or multi-day aggregates.
func polygonInterval(tf types.Timeframe) (int, models.Timespan, error) {
	switch tf {
	case types.TimeframeOneMinute:
		return 1, models.Minute, nil
	case types.TimeframeThreeMinutes:
		return 3, models.Minute, nil
	case types.TimeframeFiveMinutes:
		return 5, models.Minute, nil
	case types.TimeframeFifteenMinutes:
		return 15, models.Minute, nil
	case types.TimeframeThirtyMinutes:
		return 30, models.Minute, nil
	case types.TimeframeOneHour:
		return 1, models.Hour, nil
	case types.TimeframeTwoHours:
		return 2, models.Hour, nil
	case types.TimeframeFourHours:
		return 4, models.Hour, nil
	case types.TimeframeSixHours:
		return 6, models.Hour, nil
	case types.TimeframeEightHours:
		return 8, models.Hour, nil
	case types.TimeframeTwelveHours:
		return 12, models.Hour, nil
	case types.TimeframeOneDay:
		return 1, models.Day, nil
	case types.TimeframeOneWeek:
		return 1, models.Week, nil
	default:
		return 0, "", errors.Newf(errors.ErrCodeInvalidTimeframe, "timeframe %q is not supported by polygon", tf)
	}
}

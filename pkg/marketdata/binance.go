package marketdata

import (
	"context"
	"time"

	binance "github.com/adshao/go-binance/v2"

	"github.com/Schwaller/tradery/internal/types"
	"github.com/Schwaller/tradery/pkg/errors"
)

// BinanceCandles fetches spot klines. The page sub-key is the candle
// timeframe, e.g. "1h".
type BinanceCandles struct {
	client *binance.Client
}

// NewBinanceCandles creates a candle backend against the Binance spot API.
// Credentials are optional; klines are a public endpoint.
func NewBinanceCandles(apiKey, secretKey string) *BinanceCandles {
	return &BinanceCandles{client: binance.NewClient(apiKey, secretKey)}
}

// Fetch pages through the klines endpoint, advancing past the last bar's
// close time on each request until the range is exhausted.
func (b *BinanceCandles) Fetch(ctx context.Context, symbol, subKey string, start, end time.Time) ([]types.Candle, error) {
	tf := types.Timeframe(subKey)
	if !tf.Valid() {
		return nil, errors.Newf(errors.ErrCodeInvalidTimeframe, "unsupported candle timeframe %q", subKey)
	}

	startMs := start.UnixMilli()
	// Binance treats endTime as inclusive; the range is half-open.
	endMs := end.UnixMilli() - 1

	var candles []types.Candle

	for startMs <= endMs {
		klines, err := b.client.NewKlinesService().
			Symbol(symbol).
			Interval(subKey).
			StartTime(startMs).
			EndTime(endMs).
			Limit(binancePageLimit).
			Do(ctx)
		if err != nil {
			return nil, wrapFetchErr(ctx, err)
		}

		for _, k := range klines {
			candles = append(candles, types.Candle{
				Time:   time.UnixMilli(k.OpenTime).UTC(),
				Symbol: symbol,
				Open:   parseFloat(k.Open),
				High:   parseFloat(k.High),
				Low:    parseFloat(k.Low),
				Close:  parseFloat(k.Close),
				Volume: parseFloat(k.Volume),
			})
		}

		if len(klines) < binancePageLimit {
			break
		}

		startMs = klines[len(klines)-1].CloseTime + 1
	}

	return candles, nil
}

// ExpectedCount predicts the bar count from the timeframe cadence.
func (b *BinanceCandles) ExpectedCount(subKey string, start, end time.Time) int {
	tf := types.Timeframe(subKey)
	if !tf.Valid() {
		return -1
	}

	return barCount(start, end, tf.Duration())
}

// BinanceAggTrades fetches aggregated spot trades. The endpoint caps a
// start/end query at a one hour window, so the range is walked in hour-sized
// chunks.
type BinanceAggTrades struct {
	client *binance.Client
}

// NewBinanceAggTrades creates an aggregated-trades backend against the
// Binance spot API.
func NewBinanceAggTrades(apiKey, secretKey string) *BinanceAggTrades {
	return &BinanceAggTrades{client: binance.NewClient(apiKey, secretKey)}
}

// Fetch walks the range in one hour windows, paging inside each window by
// advancing past the last trade's timestamp.
func (b *BinanceAggTrades) Fetch(ctx context.Context, symbol, _ string, start, end time.Time) ([]types.AggTrade, error) {
	var trades []types.AggTrade

	for windowStart := start; windowStart.Before(end); {
		windowEnd := windowStart.Add(time.Hour)
		if windowEnd.After(end) {
			windowEnd = end
		}

		cursor := windowStart.UnixMilli()
		windowEndMs := windowEnd.UnixMilli() - 1

		for cursor <= windowEndMs {
			batch, err := b.client.NewAggTradesService().
				Symbol(symbol).
				StartTime(cursor).
				EndTime(windowEndMs).
				Limit(binancePageLimit).
				Do(ctx)
			if err != nil {
				return nil, wrapFetchErr(ctx, err)
			}

			for _, t := range batch {
				trades = append(trades, types.AggTrade{
					Time:         time.UnixMilli(t.Timestamp).UTC(),
					Symbol:       symbol,
					Price:        parseFloat(t.Price),
					Quantity:     parseFloat(t.Quantity),
					IsBuyerMaker: t.IsBuyerMaker,
				})
			}

			if len(batch) < binancePageLimit {
				break
			}

			cursor = batch[len(batch)-1].Timestamp + 1
		}

		windowStart = windowEnd
	}

	return trades, nil
}

// ExpectedCount is unknowable for trades; progress stays indeterminate.
func (b *BinanceAggTrades) ExpectedCount(string, time.Time, time.Time) int {
	return -1
}

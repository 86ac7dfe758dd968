package marketdata

import (
	"context"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"github.com/Schwaller/tradery/internal/types"
	"github.com/Schwaller/tradery/pkg/errors"
)

// openInterestPeriod is the only sampling cadence the cache requests; the
// exchange offers finer ones but coverage buckets are sized for hourly data.
const openInterestPeriod = "1h"

// BinanceFundingRates fetches historical funding settlements from the Binance
// USD-M futures API.
type BinanceFundingRates struct {
	client *futures.Client
}

// NewBinanceFundingRates creates a funding-rate backend.
func NewBinanceFundingRates(apiKey, secretKey string) *BinanceFundingRates {
	return &BinanceFundingRates{client: futures.NewClient(apiKey, secretKey)}
}

// Fetch pages through funding settlements, advancing past the last settlement
// time on each request.
func (b *BinanceFundingRates) Fetch(ctx context.Context, symbol, _ string, start, end time.Time) ([]types.FundingRate, error) {
	startMs := start.UnixMilli()
	endMs := end.UnixMilli() - 1

	var rates []types.FundingRate

	for startMs <= endMs {
		batch, err := b.client.NewFundingRateService().
			Symbol(symbol).
			StartTime(startMs).
			EndTime(endMs).
			Limit(binancePageLimit).
			Do(ctx)
		if err != nil {
			return nil, wrapFetchErr(ctx, err)
		}

		for _, r := range batch {
			rate, err := decimal.NewFromString(r.FundingRate)
			if err != nil {
				return nil, errors.Wrapf(errors.ErrCodeFetchParse, err, "invalid funding rate %q", r.FundingRate)
			}

			rates = append(rates, types.FundingRate{
				Time:   time.UnixMilli(r.FundingTime).UTC(),
				Symbol: symbol,
				Rate:   rate,
			})
		}

		if len(batch) < binancePageLimit {
			break
		}

		startMs = batch[len(batch)-1].FundingTime + 1
	}

	return rates, nil
}

// ExpectedCount is unknowable; funding cadence varies per contract.
func (b *BinanceFundingRates) ExpectedCount(string, time.Time, time.Time) int {
	return -1
}

// BinanceOpenInterest fetches hourly open-interest statistics from the
// Binance USD-M futures API. The endpoint only retains about thirty days of
// history; older sub-ranges come back empty and are still marked covered.
type BinanceOpenInterest struct {
	client *futures.Client
}

// NewBinanceOpenInterest creates an open-interest backend.
func NewBinanceOpenInterest(apiKey, secretKey string) *BinanceOpenInterest {
	return &BinanceOpenInterest{client: futures.NewClient(apiKey, secretKey)}
}

// Fetch pages through hourly open-interest observations.
func (b *BinanceOpenInterest) Fetch(ctx context.Context, symbol, _ string, start, end time.Time) ([]types.OpenInterest, error) {
	const pageLimit = 500

	startMs := start.UnixMilli()
	endMs := end.UnixMilli() - 1

	var observations []types.OpenInterest

	for startMs <= endMs {
		batch, err := b.client.NewOpenInterestStatisticsService().
			Symbol(symbol).
			Period(openInterestPeriod).
			StartTime(startMs).
			EndTime(endMs).
			Limit(pageLimit).
			Do(ctx)
		if err != nil {
			return nil, wrapFetchErr(ctx, err)
		}

		for _, o := range batch {
			observations = append(observations, types.OpenInterest{
				Time:     time.UnixMilli(o.Timestamp).UTC(),
				Symbol:   symbol,
				Value:    parseFloat(o.SumOpenInterest),
				ValueUSD: parseFloat(o.SumOpenInterestValue),
			})
		}

		if len(batch) < pageLimit {
			break
		}

		startMs = batch[len(batch)-1].Timestamp + 1
	}

	return observations, nil
}

// ExpectedCount predicts one observation per hour.
func (b *BinanceOpenInterest) ExpectedCount(_ string, start, end time.Time) int {
	return barCount(start, end, time.Hour)
}

// BinancePremiumIndex fetches premium-index klines from the Binance USD-M
// futures API. The page sub-key is the bar timeframe.
type BinancePremiumIndex struct {
	client *futures.Client
}

// NewBinancePremiumIndex creates a premium-index backend.
func NewBinancePremiumIndex(apiKey, secretKey string) *BinancePremiumIndex {
	return &BinancePremiumIndex{client: futures.NewClient(apiKey, secretKey)}
}

// Fetch pages through premium-index bars the same way the candle backend
// walks klines.
func (b *BinancePremiumIndex) Fetch(ctx context.Context, symbol, subKey string, start, end time.Time) ([]types.PremiumIndex, error) {
	tf := types.Timeframe(subKey)
	if !tf.Valid() {
		return nil, errors.Newf(errors.ErrCodeInvalidTimeframe, "unsupported premium index timeframe %q", subKey)
	}

	startMs := start.UnixMilli()
	endMs := end.UnixMilli() - 1

	var bars []types.PremiumIndex

	for startMs <= endMs {
		klines, err := b.client.NewPremiumIndexKlinesService().
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
			bar, err := premiumIndexBar(symbol, k)
			if err != nil {
				return nil, err
			}

			bars = append(bars, bar)
		}

		if len(klines) < binancePageLimit {
			break
		}

		startMs = klines[len(klines)-1].CloseTime + 1
	}

	return bars, nil
}

// ExpectedCount predicts the bar count from the timeframe cadence.
func (b *BinancePremiumIndex) ExpectedCount(subKey string, start, end time.Time) int {
	tf := types.Timeframe(subKey)
	if !tf.Valid() {
		return -1
	}

	return barCount(start, end, tf.Duration())
}

func premiumIndexBar(symbol string, k *futures.Kline) (types.PremiumIndex, error) {
	open, err := decimal.NewFromString(k.Open)
	if err != nil {
		return types.PremiumIndex{}, errors.Wrapf(errors.ErrCodeFetchParse, err, "invalid premium index open %q", k.Open)
	}

	high, err := decimal.NewFromString(k.High)
	if err != nil {
		return types.PremiumIndex{}, errors.Wrapf(errors.ErrCodeFetchParse, err, "invalid premium index high %q", k.High)
	}

	low, err := decimal.NewFromString(k.Low)
	if err != nil {
		return types.PremiumIndex{}, errors.Wrapf(errors.ErrCodeFetchParse, err, "invalid premium index low %q", k.Low)
	}

	closePrice, err := decimal.NewFromString(k.Close)
	if err != nil {
		return types.PremiumIndex{}, errors.Wrapf(errors.ErrCodeFetchParse, err, "invalid premium index close %q", k.Close)
	}

	return types.PremiumIndex{
		Time:   time.UnixMilli(k.OpenTime).UTC(),
		Symbol: symbol,
		Open:   open,
		High:   high,
		Low:    low,
		Close:  closePrice,
	}, nil
}

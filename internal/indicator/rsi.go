package indicator

import (
	"math"

	"github.com/Schwaller/tradery/internal/types"
	"github.com/Schwaller/tradery/pkg/errors"
)

// RSI is Wilder's relative strength index over close prices.
type RSI struct{}

// NewRSI creates a new relative strength index indicator.
func NewRSI() *RSI {
	return &RSI{}
}

// Name implements Series.
func (r *RSI) Name() types.IndicatorType {
	return types.IndicatorTypeRSI
}

// Compute implements Series. The first period positions are NaN; gains and
// losses are smoothed with Wilder's method afterwards.
func (r *RSI) Compute(candles []types.Candle, params Params) ([]float64, error) {
	if params.Period <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "rsi period must be positive, got %d", params.Period)
	}

	values := make([]float64, len(candles))

	var avgGain, avgLoss float64

	for i := range candles {
		if i == 0 {
			values[i] = math.NaN()
			continue
		}

		change := candles[i].Close - candles[i-1].Close
		gain, loss := 0.0, 0.0

		if change > 0 {
			gain = change
		} else {
			loss = -change
		}

		if i <= params.Period {
			avgGain += gain
			avgLoss += loss

			if i < params.Period {
				values[i] = math.NaN()
				continue
			}

			avgGain /= float64(params.Period)
			avgLoss /= float64(params.Period)
		} else {
			avgGain = (avgGain*float64(params.Period-1) + gain) / float64(params.Period)
			avgLoss = (avgLoss*float64(params.Period-1) + loss) / float64(params.Period)
		}

		if avgLoss == 0 {
			values[i] = 100
			continue
		}

		rs := avgGain / avgLoss
		values[i] = 100 - 100/(1+rs)
	}

	return values, nil
}

package indicator

import (
	"math"

	"github.com/Schwaller/tradery/internal/types"
	"github.com/Schwaller/tradery/pkg/errors"
)

// EMA is an exponential moving average over close prices, seeded with the
// simple average of the first full window.
type EMA struct{}

// NewEMA creates a new exponential moving average indicator.
func NewEMA() *EMA {
	return &EMA{}
}

// Name implements Series.
func (e *EMA) Name() types.IndicatorType {
	return types.IndicatorTypeEMA
}

// Compute implements Series.
func (e *EMA) Compute(candles []types.Candle, params Params) ([]float64, error) {
	if params.Period <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "ema period must be positive, got %d", params.Period)
	}

	values := make([]float64, len(candles))
	multiplier := 2.0 / float64(params.Period+1)

	var seed float64

	for i, c := range candles {
		switch {
		case i < params.Period-1:
			seed += c.Close
			values[i] = math.NaN()
		case i == params.Period-1:
			seed += c.Close
			values[i] = seed / float64(params.Period)
		default:
			values[i] = (c.Close-values[i-1])*multiplier + values[i-1]
		}
	}

	return values, nil
}

package indicator

import (
	"math"

	"github.com/Schwaller/tradery/internal/types"
	"github.com/Schwaller/tradery/pkg/errors"
)

// MA is a simple moving average over close prices.
type MA struct{}

// NewMA creates a new simple moving average indicator.
func NewMA() *MA {
	return &MA{}
}

// Name implements Series.
func (m *MA) Name() types.IndicatorType {
	return types.IndicatorTypeMA
}

// Compute implements Series. Positions before the first full window are NaN.
func (m *MA) Compute(candles []types.Candle, params Params) ([]float64, error) {
	if params.Period <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "ma period must be positive, got %d", params.Period)
	}

	values := make([]float64, len(candles))

	var sum float64

	for i, c := range candles {
		sum += c.Close

		if i >= params.Period {
			sum -= candles[i-params.Period].Close
		}

		if i >= params.Period-1 {
			values[i] = sum / float64(params.Period)
		} else {
			values[i] = math.NaN()
		}
	}

	return values, nil
}

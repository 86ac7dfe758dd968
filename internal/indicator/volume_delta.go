package indicator

import (
	"github.com/Schwaller/tradery/internal/types"
)

// VolumeDelta is the signed volume per candle: positive on up-candles,
// negative on down-candles. It takes no parameters.
type VolumeDelta struct{}

// NewVolumeDelta creates a new volume delta indicator.
func NewVolumeDelta() *VolumeDelta {
	return &VolumeDelta{}
}

// Name implements Series.
func (v *VolumeDelta) Name() types.IndicatorType {
	return types.IndicatorTypeVolumeDelta
}

// Compute implements Series.
func (v *VolumeDelta) Compute(candles []types.Candle, _ Params) ([]float64, error) {
	values := make([]float64, len(candles))

	for i, c := range candles {
		if c.Close >= c.Open {
			values[i] = c.Volume
		} else {
			values[i] = -c.Volume
		}
	}

	return values, nil
}

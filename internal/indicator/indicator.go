// Package indicator provides pure, deterministic series computations over
// candle records. Each indicator returns one value per input candle, aligned
// 1:1 with the source; warm-up positions hold NaN.
package indicator

import (
	"fmt"

	"github.com/Schwaller/tradery/internal/types"
)

// Params holds indicator parameters. All built-in indicators are configured
// by a single lookback period; parameterless indicators ignore it.
type Params struct {
	Period int `json:"period"`
}

// String renders the params in canonical form, used as part of derived page
// keys.
func (p Params) String() string {
	return fmt.Sprintf("period=%d", p.Period)
}

// Series is a computable indicator. Compute must be pure: same candles and
// params always produce the same output, and the output length equals the
// input length.
type Series interface {
	// Name returns the indicator's registry name.
	Name() types.IndicatorType
	// Compute returns one value per candle.
	Compute(candles []types.Candle, params Params) ([]float64, error)
}

package types

import "time"

// Timeframe is the candle sub-resolution of a page key, e.g. "1h". Kinds
// without sub-resolution (funding, open interest) use SubKeyDefault.
type Timeframe string

const (
	TimeframeOneSecond      Timeframe = "1s"
	TimeframeOneMinute      Timeframe = "1m"
	TimeframeThreeMinutes   Timeframe = "3m"
	TimeframeFiveMinutes    Timeframe = "5m"
	TimeframeFifteenMinutes Timeframe = "15m"
	TimeframeThirtyMinutes  Timeframe = "30m"
	TimeframeOneHour        Timeframe = "1h"
	TimeframeTwoHours       Timeframe = "2h"
	TimeframeFourHours      Timeframe = "4h"
	TimeframeSixHours       Timeframe = "6h"
	TimeframeEightHours     Timeframe = "8h"
	TimeframeTwelveHours    Timeframe = "12h"
	TimeframeOneDay         Timeframe = "1d"
	TimeframeThreeDays      Timeframe = "3d"
	TimeframeOneWeek        Timeframe = "1w"
)

// SubKeyDefault is the sub-key literal for kinds without sub-resolution.
const SubKeyDefault = "default"

// Duration returns the bar duration of the timeframe, or zero for an unknown
// timeframe.
func (t Timeframe) Duration() time.Duration {
	switch t {
	case TimeframeOneSecond:
		return time.Second
	case TimeframeOneMinute:
		return time.Minute
	case TimeframeThreeMinutes:
		return 3 * time.Minute
	case TimeframeFiveMinutes:
		return 5 * time.Minute
	case TimeframeFifteenMinutes:
		return 15 * time.Minute
	case TimeframeThirtyMinutes:
		return 30 * time.Minute
	case TimeframeOneHour:
		return time.Hour
	case TimeframeTwoHours:
		return 2 * time.Hour
	case TimeframeFourHours:
		return 4 * time.Hour
	case TimeframeSixHours:
		return 6 * time.Hour
	case TimeframeEightHours:
		return 8 * time.Hour
	case TimeframeTwelveHours:
		return 12 * time.Hour
	case TimeframeOneDay:
		return 24 * time.Hour
	case TimeframeThreeDays:
		return 72 * time.Hour
	case TimeframeOneWeek:
		return 168 * time.Hour
	default:
		return 0
	}
}

// Valid reports whether the timeframe is a supported candle interval.
func (t Timeframe) Valid() bool {
	return t.Duration() > 0
}

package domain

// Timeframe candle aggregation interval.
type Timeframe string

const (
	TimeframeH1      Timeframe = "1h"
	TimeframeH4      Timeframe = "4h"
	TimeframeDaily   Timeframe = "1d"
	TimeframeWeekly  Timeframe = "1w"
	TimeframeMonthly Timeframe = "1M"
)

// Weight returns the relative significance of extrema found on this
// timeframe. Higher timeframes carry structurally heavier pivots.
func (t Timeframe) Weight() float64 {
	switch t {
	case TimeframeMonthly:
		return 1.0
	case TimeframeWeekly:
		return 0.9
	case TimeframeDaily:
		return 0.8
	case TimeframeH4:
		return 0.65
	case TimeframeH1:
		return 0.5
	default:
		return 0.5
	}
}

// CandlesPerDay returns how many candles of this timeframe cover one day.
// Timeframes of a day or longer map to 1, so day-based fetch sizing
// over-fetches history instead of starving the lookback window.
func (t Timeframe) CandlesPerDay() int {
	switch t {
	case TimeframeH1:
		return 24
	case TimeframeH4:
		return 6
	default:
		return 1
	}
}

// Title returns a human-readable representation.
func (t Timeframe) Title() string {
	switch t {
	case TimeframeMonthly:
		return "Monthly"
	case TimeframeWeekly:
		return "Weekly"
	case TimeframeDaily:
		return "Daily"
	case TimeframeH4:
		return "4H"
	case TimeframeH1:
		return "1H"
	default:
		return string(t)
	}
}

// Valid reports whether the timeframe is one of the supported intervals.
func (t Timeframe) Valid() bool {
	switch t {
	case TimeframeH1, TimeframeH4, TimeframeDaily, TimeframeWeekly, TimeframeMonthly:
		return true
	}
	return false
}

package domain

import "time"

// ZoneClassification bands a convergence zone by strength and line support.
type ZoneClassification string

const (
	ZoneWeak       ZoneClassification = "WEAK"
	ZoneModerate   ZoneClassification = "MODERATE"
	ZoneStrong     ZoneClassification = "STRONG"
	ZoneVeryStrong ZoneClassification = "VERY_STRONG"
)

// rank orders classifications for zone ranking.
func (c ZoneClassification) Rank() int {
	switch c {
	case ZoneVeryStrong:
		return 4
	case ZoneStrong:
		return 3
	case ZoneModerate:
		return 2
	default:
		return 1
	}
}

// ZoneMeta diagnostic attributes of a convergence zone.
type ZoneMeta struct {
	AvgLineStrength       float64
	TimeframeDiversity    int
	RecentTouches         int
	HistoricalRespectRate float64
	ZoneWidth             float64
}

// ConvergenceZone price band where the projected levels of several trendlines
// cluster. Contributing lines are referenced by id; the zone is immutable
// after analysis.
type ConvergenceZone struct {
	ID                  string
	PriceLevel          float64
	UpperBound          float64
	LowerBound          float64
	Strength            float64
	Classification      ZoneClassification
	ContributingLines   []string
	Timeframes          []Timeframe
	Confidence          float64
	LastTest            time.Time
	TestCount           int
	BreakoutProbability float64
	Meta                ZoneMeta
}

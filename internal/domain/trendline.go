package domain

import (
	"math"
	"time"
)

// LineType classifies a trendline by the pivot family it connects.
type LineType string

const (
	LineSupport    LineType = "SUPPORT"
	LineResistance LineType = "RESISTANCE"
)

// LineEquation is a fitted line in log-price space:
// log(price) = Slope*x + Intercept, where x is days since the epoch of the
// analyzed window (its first candle timestamp).
type LineEquation struct {
	Slope     float64
	Intercept float64
	// Epoch anchors x=0 for evaluation.
	Epoch time.Time
}

// PriceAt evaluates the fitted line at t and returns the price level.
func (e LineEquation) PriceAt(t time.Time) float64 {
	x := t.Sub(e.Epoch).Hours() / 24
	return math.Exp(e.Slope*x + e.Intercept)
}

// LineMeta auxiliary trendline attributes.
type LineMeta struct {
	AgeInDays float64
	RSquared  float64
	// SumTimeWeights is the total exponential-decay weight of the touches.
	SumTimeWeights float64
}

// TrendLine fitted line through two or more pivots of a consistent family.
// Touches are chronologically non-decreasing and owned by value; the line is
// immutable after generation.
type TrendLine struct {
	ID           string
	Type         LineType
	Timeframe    Timeframe
	Equation     LineEquation
	Touches      []PivotPoint
	Strength     float64
	TouchCount   int
	AvgDeviation float64
	// IsDynamic marks lines refit against a trailing viewport, as opposed to
	// static lines computed once per full analysis run.
	IsDynamic bool
	Meta      LineMeta
}

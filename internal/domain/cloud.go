package domain

import "time"

// CloudType tags a cloud point by the majority family of its source lines.
type CloudType string

const (
	CloudSupport    CloudType = "Support"
	CloudResistance CloudType = "Resistance"
)

// TrendCloudPoint one softmax-weighted price level inside a trend cloud.
type TrendCloudPoint struct {
	CloudID          string
	Type             CloudType
	Price            float64
	Weight           float64
	NormalizedWeight float64
	Density          float64
	TrendlineCount   int
	Confidence       float64
	PriceMin         float64
	PriceMax         float64
	MergedFrom       int
}

// CloudSummary aggregate statistics for one rolling-window cloud.
type CloudSummary struct {
	TotalWeight          float64
	TotalTrendlines      int
	ConvergenceZoneCount int
	PeakPrice            float64
	PeakWeight           float64
	PeakDensity          float64
	ConcentrationRatio   float64
	PriceMin             float64
	PriceMax             float64
	ConfidenceScore      float64
}

// TrendCloudData full forecast for one rolling-window step: a set of weighted
// forward price levels valid at TargetDate. The composite key
// (symbol, calculationDate, targetDate, timeframe) is unique in storage and
// recomputation upsert-replaces prior results.
type TrendCloudData struct {
	Symbol          string
	CalculationDate time.Time
	TargetDate      time.Time
	Timeframe       Timeframe
	LookbackDays    int
	Points          []TrendCloudPoint
	Summary         CloudSummary
}

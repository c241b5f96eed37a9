package domain

import "time"

// PivotType classifies a local extremum.
type PivotType string

const (
	PivotHigh PivotType = "HIGH"
	PivotLow  PivotType = "LOW"
)

// PivotMeta carries the detection context a pivot was found in.
type PivotMeta struct {
	// Lookback is the half-window used for the extremum test.
	Lookback int
	// PriceDeviation is the relative deviation of the pivot price from the
	// local mean price inside the lookback window.
	PriceDeviation float64
	// VolumeRatio is pivot volume over local average volume, capped at 3.
	VolumeRatio float64
	// CandleIndex is the index of the source candle in the analyzed slice.
	CandleIndex int
}

// PivotPoint local price extremum detected over a sliding window.
// Immutable after creation; lives only for the duration of one analysis call
// and is persisted, if at all, as a touch point inside a TrendLine.
type PivotPoint struct {
	ID            string
	Timestamp     time.Time
	Price         float64
	Type          PivotType
	Timeframe     Timeframe
	Strength      float64
	Volume        float64
	Confirmations int
	Meta          PivotMeta
}

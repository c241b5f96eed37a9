package domain

import "time"

// Candle single OHLCV candlestick for a symbol. Immutable once produced
// by a market data provider; the pipeline assumes candles are ordered
// ascending by timestamp with no duplicates but does not enforce it.
type Candle struct {
	Symbol    string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// TypicalPrice returns (high+low+close)/3.
func (c Candle) TypicalPrice() float64 {
	return (c.High + c.Low + c.Close) / 3
}

// Closes extracts close prices from a candle slice.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Volumes extracts volumes from a candle slice.
func Volumes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}

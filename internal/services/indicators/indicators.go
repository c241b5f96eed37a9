// Package indicators provides the derived market statistics the analysis
// pipeline feeds on: moving averages and true range via the cinar/indicator
// library, plus least-squares momentum and volume-surge measures.
package indicators

import (
	"fmt"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"
)

// EMA calculates the Exponential Moving Average for the given period.
func EMA(closes []float64, period int) ([]float64, error) {
	if len(closes) < period {
		return nil, fmt.Errorf("not enough data points: need %d, got %d", period, len(closes))
	}

	ema := trend.NewEmaWithPeriod[float64](period)

	inputChan := helper.SliceToChan(closes)
	outputChan := ema.Compute(inputChan)

	return helper.ChanToSlice(outputChan), nil
}

// ATR calculates the Average True Range for the given period.
func ATR(highs, lows, closes []float64, period int) ([]float64, error) {
	if len(closes) < period+1 {
		return nil, fmt.Errorf("not enough data points for ATR: need %d, got %d", period+1, len(closes))
	}
	if len(highs) != len(closes) || len(lows) != len(closes) {
		return nil, fmt.Errorf("highs, lows and closes must have equal length")
	}

	atr := volatility.NewAtrWithPeriod[float64](period)

	highChan := helper.SliceToChan(highs)
	lowChan := helper.SliceToChan(lows)
	closeChan := helper.SliceToChan(closes)

	outputChan := atr.Compute(highChan, lowChan, closeChan)

	return helper.ChanToSlice(outputChan), nil
}

// LastATR returns the most recent ATR value, or 0 when there is not enough
// data to compute one.
func LastATR(highs, lows, closes []float64, period int) float64 {
	values, err := ATR(highs, lows, closes, period)
	if err != nil || len(values) == 0 {
		return 0
	}
	return values[len(values)-1]
}

// Slope fits a least-squares line through values (x = 0..n-1) and returns
// its slope. Returns 0 for fewer than two points.
func Slope(values []float64) float64 {
	n := float64(len(values))
	if n < 2 {
		return 0
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// Momentum returns the least-squares slope of the last period closes
// normalized by their average price, so the result is a relative
// per-candle drift usable across price scales.
func Momentum(closes []float64, period int) float64 {
	if len(closes) < 2 {
		return 0
	}
	if period > 0 && len(closes) > period {
		closes = closes[len(closes)-period:]
	}

	var sum float64
	for _, c := range closes {
		sum += c
	}
	avg := sum / float64(len(closes))
	if avg == 0 {
		return 0
	}

	return Slope(closes) / avg
}

// VolumeSurge compares the average of the last 10 volumes against the 10
// before them and returns the ratio. Returns 1 when there is not enough
// history or the prior average is zero.
func VolumeSurge(volumes []float64) float64 {
	if len(volumes) < 20 {
		return 1
	}

	recent := volumes[len(volumes)-10:]
	prior := volumes[len(volumes)-20 : len(volumes)-10]

	var recentSum, priorSum float64
	for _, v := range recent {
		recentSum += v
	}
	for _, v := range prior {
		priorSum += v
	}
	if priorSum == 0 {
		return 1
	}

	return recentSum / priorSum
}

package trendline

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/trendcloud/internal/domain"
	"go.uber.org/zap"
)

var testEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func pivotAt(day int, price float64, typ domain.PivotType) domain.PivotPoint {
	return domain.PivotPoint{
		ID:        "p",
		Timestamp: testEpoch.AddDate(0, 0, day),
		Price:     price,
		Type:      typ,
		Timeframe: domain.TimeframeDaily,
		Strength:  0.5,
	}
}

func flatCandles(days int, price float64) []domain.Candle {
	candles := make([]domain.Candle, days)
	for i := range candles {
		candles[i] = domain.Candle{
			Timestamp: testEpoch.AddDate(0, 0, i),
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    1000,
		}
	}
	return candles
}

func TestGenerateFitsCollinearPivots(t *testing.T) {
	// Prices on an exact exponential trend: log-space fit must recover it.
	g := NewGenerator(zap.NewNop(), Config{})

	slope := 0.002 // per day in log space
	var pivots []domain.PivotPoint
	for _, day := range []int{0, 20, 40, 60, 80} {
		price := 100 * math.Exp(slope*float64(day))
		pivots = append(pivots, pivotAt(day, price, domain.PivotLow))
	}

	lines := g.Generate(pivots, flatCandles(90, 100), domain.TimeframeDaily)
	require.Len(t, lines, 1)

	line := lines[0]
	require.Equal(t, domain.LineSupport, line.Type)
	require.Equal(t, 5, line.TouchCount)
	require.InDelta(t, slope, line.Equation.Slope, 1e-9)
	require.InDelta(t, math.Log(100), line.Equation.Intercept, 1e-9)
	require.InDelta(t, 1.0, line.Meta.RSquared, 1e-9)
	require.Less(t, line.AvgDeviation, 1e-9)

	// Projection through the fitted equation reproduces the trend.
	at := testEpoch.AddDate(0, 0, 100)
	require.InDelta(t, 100*math.Exp(slope*100), line.Equation.PriceAt(at), 1e-6)
}

func TestGenerateResistanceByMajority(t *testing.T) {
	g := NewGenerator(zap.NewNop(), Config{})

	pivots := []domain.PivotPoint{
		pivotAt(0, 200, domain.PivotHigh),
		pivotAt(30, 200, domain.PivotHigh),
		pivotAt(60, 200, domain.PivotLow),
	}

	lines := g.Generate(pivots, flatCandles(70, 150), domain.TimeframeDaily)
	require.Len(t, lines, 1)
	require.Equal(t, domain.LineResistance, lines[0].Type)
}

func TestGenerateTooFewPivots(t *testing.T) {
	g := NewGenerator(zap.NewNop(), Config{})

	require.Nil(t, g.Generate(nil, flatCandles(10, 100), domain.TimeframeDaily))
	require.Nil(t, g.Generate([]domain.PivotPoint{pivotAt(0, 100, domain.PivotLow)}, flatCandles(10, 100), domain.TimeframeDaily))
	require.Nil(t, g.Generate([]domain.PivotPoint{pivotAt(0, 100, domain.PivotLow), pivotAt(1, 101, domain.PivotLow)}, nil, domain.TimeframeDaily))
}

func TestGenerateSkipsDegenerateSameDayPair(t *testing.T) {
	// Two pivots at the same timestamp have zero x spread; the fit is
	// degenerate and no line must come out of them.
	g := NewGenerator(zap.NewNop(), Config{})

	pivots := []domain.PivotPoint{
		pivotAt(10, 100, domain.PivotHigh),
		pivotAt(10, 150, domain.PivotLow),
	}

	lines := g.Generate(pivots, flatCandles(20, 120), domain.TimeframeDaily)
	require.Empty(t, lines)
}

func TestGenerateDeterministic(t *testing.T) {
	g := NewGenerator(zap.NewNop(), Config{})

	var pivots []domain.PivotPoint
	prices := []float64{100, 103, 99, 108, 101, 112, 104, 118}
	for i, p := range prices {
		typ := domain.PivotLow
		if i%2 == 1 {
			typ = domain.PivotHigh
		}
		pivots = append(pivots, pivotAt(i*12, p, typ))
	}
	candles := flatCandles(100, 105)

	first := g.Generate(pivots, candles, domain.TimeframeDaily)
	for run := 0; run < 3; run++ {
		again := g.Generate(pivots, candles, domain.TimeframeDaily)
		require.Len(t, again, len(first))
		for i := range first {
			require.Equal(t, first[i].Equation.Slope, again[i].Equation.Slope)
			require.Equal(t, first[i].Equation.Intercept, again[i].Equation.Intercept)
			require.Equal(t, first[i].TouchCount, again[i].TouchCount)
			require.Equal(t, first[i].Type, again[i].Type)
		}
	}
}

func TestGenerateStrengthBounds(t *testing.T) {
	g := NewGenerator(zap.NewNop(), Config{})

	var pivots []domain.PivotPoint
	for i := 0; i < 12; i++ {
		price := 100 + 40*math.Sin(float64(i))
		typ := domain.PivotLow
		if i%3 == 0 {
			typ = domain.PivotHigh
		}
		pivots = append(pivots, pivotAt(i*7, price, typ))
	}

	lines := g.Generate(pivots, flatCandles(100, 100), domain.TimeframeDaily)
	for _, l := range lines {
		require.GreaterOrEqual(t, l.Strength, 0.0)
		require.LessOrEqual(t, l.Strength, 1.0)
		require.GreaterOrEqual(t, l.TouchCount, 2)
		require.Len(t, l.Touches, l.TouchCount)
	}

	// Output is strength-descending.
	for i := 1; i < len(lines); i++ {
		require.LessOrEqual(t, lines[i].Strength, lines[i-1].Strength)
	}
}

func TestGenerateRespectsMaxLines(t *testing.T) {
	g := NewGenerator(zap.NewNop(), Config{MaxLines: 2})

	var pivots []domain.PivotPoint
	for i := 0; i < 10; i++ {
		pivots = append(pivots, pivotAt(i*5, 100+30*math.Sin(2.3*float64(i)), domain.PivotLow))
	}

	lines := g.Generate(pivots, flatCandles(60, 100), domain.TimeframeDaily)
	require.LessOrEqual(t, len(lines), 2)
}

func TestGenerateDynamicDropsOldPivots(t *testing.T) {
	g := NewGenerator(zap.NewNop(), Config{ViewportDays: 30})

	pivots := []domain.PivotPoint{
		pivotAt(0, 80, domain.PivotLow),  // outside the 30d viewport
		pivotAt(10, 85, domain.PivotLow), // outside
		pivotAt(75, 100, domain.PivotLow),
		pivotAt(85, 102, domain.PivotLow),
		pivotAt(95, 104, domain.PivotLow),
	}

	lines := g.GenerateDynamic(pivots, flatCandles(100, 100), domain.TimeframeDaily)
	require.Len(t, lines, 1)
	require.True(t, lines[0].IsDynamic)
	require.Equal(t, 3, lines[0].TouchCount)
	for _, touch := range lines[0].Touches {
		require.False(t, touch.Timestamp.Before(testEpoch.AddDate(0, 0, 69)))
	}
}

func TestTimeWeightDecay(t *testing.T) {
	g := NewGenerator(zap.NewNop(), Config{HalfLifeDays: 80, MinWeight: 0.1})

	require.InDelta(t, 1.0, g.timeWeight(0), 1e-12)
	require.InDelta(t, 0.5, g.timeWeight(80), 1e-12)
	require.InDelta(t, 0.25, g.timeWeight(160), 1e-12)
	// Floors at MinWeight for ancient pivots.
	require.Equal(t, 0.1, g.timeWeight(10000))
	// Future timestamps clamp to zero age.
	require.InDelta(t, 1.0, g.timeWeight(-5), 1e-12)
}

func TestStatistics(t *testing.T) {
	g := NewGenerator(zap.NewNop(), Config{})

	require.Equal(t, LineStatistics{}, g.Statistics(nil))

	lines := []domain.TrendLine{
		{Type: domain.LineSupport, Strength: 0.8, TouchCount: 4},
		{Type: domain.LineResistance, Strength: 0.4, TouchCount: 2},
		{Type: domain.LineSupport, Strength: 0.6, TouchCount: 3},
	}

	stats := g.Statistics(lines)
	require.Equal(t, 3, stats.Count)
	require.Equal(t, 2, stats.SupportCount)
	require.Equal(t, 1, stats.ResistanceCount)
	require.Equal(t, 0.4, stats.MinStrength)
	require.Equal(t, 0.8, stats.MaxStrength)
	require.InDelta(t, 0.6, stats.AvgStrength, 1e-12)
	require.InDelta(t, 3.0, stats.AvgTouches, 1e-12)
}

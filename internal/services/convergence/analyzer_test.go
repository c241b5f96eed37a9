package convergence

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/trendcloud/internal/domain"
	"go.uber.org/zap"
)

var testEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// flatLine projects to the same price at any time: slope zero, intercept
// ln(level).
func flatLine(id string, level float64, typ domain.LineType, tf domain.Timeframe, strength float64) domain.TrendLine {
	return domain.TrendLine{
		ID:        id,
		Type:      typ,
		Timeframe: tf,
		Equation: domain.LineEquation{
			Slope:     0,
			Intercept: math.Log(level),
			Epoch:     testEpoch,
		},
		Strength:   strength,
		TouchCount: 3,
		Meta:       domain.LineMeta{AgeInDays: 60, RSquared: 0.9},
	}
}

func trendCandles(days int, price float64) []domain.Candle {
	candles := make([]domain.Candle, days)
	for i := range candles {
		candles[i] = domain.Candle{
			Timestamp: testEpoch.AddDate(0, 0, i),
			Open:      price,
			High:      price * 1.002,
			Low:       price * 0.998,
			Close:     price,
			Volume:    1000,
		}
	}
	return candles
}

func TestIdentifyGroupsWithinThreshold(t *testing.T) {
	a := NewAnalyzer(zap.NewNop(), Config{PriceThreshold: 0.005, MinLines: 2, MaxZones: 15})

	lines := []domain.TrendLine{
		flatLine("a", 100.00, domain.LineSupport, domain.TimeframeDaily, 0.7),
		flatLine("b", 100.40, domain.LineSupport, domain.TimeframeDaily, 0.6),
		flatLine("c", 105.00, domain.LineResistance, domain.TimeframeDaily, 0.8),
	}

	zones := a.Identify(lines, trendCandles(60, 101))
	require.Len(t, zones, 1)

	z := zones[0]
	require.ElementsMatch(t, []string{"a", "b"}, z.ContributingLines)
	require.GreaterOrEqual(t, z.PriceLevel, 100.00)
	require.LessOrEqual(t, z.PriceLevel, 100.40)
	// Stronger line pulls the centroid towards its level.
	require.Less(t, z.PriceLevel, 100.20)
}

func TestIdentifyBoundsContainLevel(t *testing.T) {
	a := NewAnalyzer(zap.NewNop(), Config{})

	lines := []domain.TrendLine{
		flatLine("a", 99.8, domain.LineSupport, domain.TimeframeDaily, 0.5),
		flatLine("b", 100.2, domain.LineSupport, domain.TimeframeWeekly, 0.5),
	}

	zones := a.Identify(lines, trendCandles(60, 100))
	require.Len(t, zones, 1)

	z := zones[0]
	require.LessOrEqual(t, z.LowerBound, z.PriceLevel)
	require.GreaterOrEqual(t, z.UpperBound, z.PriceLevel)
	require.Greater(t, z.UpperBound, z.LowerBound)
	require.Equal(t, 2, z.Meta.TimeframeDiversity)
	require.ElementsMatch(t, []domain.Timeframe{domain.TimeframeDaily, domain.TimeframeWeekly}, z.Timeframes)
}

func TestIdentifyScoresClamped(t *testing.T) {
	a := NewAnalyzer(zap.NewNop(), Config{})

	lines := []domain.TrendLine{
		flatLine("a", 100, domain.LineSupport, domain.TimeframeMonthly, 1.0),
		flatLine("b", 100.1, domain.LineResistance, domain.TimeframeWeekly, 1.0),
		flatLine("c", 100.2, domain.LineSupport, domain.TimeframeDaily, 1.0),
		flatLine("d", 100.3, domain.LineResistance, domain.TimeframeH4, 1.0),
	}

	zones := a.Identify(lines, trendCandles(120, 100))
	require.Len(t, zones, 1)

	z := zones[0]
	require.GreaterOrEqual(t, z.Strength, 0.0)
	require.LessOrEqual(t, z.Strength, 1.0)
	require.GreaterOrEqual(t, z.Confidence, 0.0)
	require.LessOrEqual(t, z.Confidence, 1.0)
	require.GreaterOrEqual(t, z.BreakoutProbability, 0.0)
	require.LessOrEqual(t, z.BreakoutProbability, 1.0)
}

func TestIdentifyTooFewLines(t *testing.T) {
	a := NewAnalyzer(zap.NewNop(), Config{})

	candles := trendCandles(30, 100)
	require.Nil(t, a.Identify(nil, candles))
	require.Nil(t, a.Identify([]domain.TrendLine{flatLine("a", 100, domain.LineSupport, domain.TimeframeDaily, 0.5)}, candles))
	require.Nil(t, a.Identify([]domain.TrendLine{
		flatLine("a", 100, domain.LineSupport, domain.TimeframeDaily, 0.5),
		flatLine("b", 100.1, domain.LineSupport, domain.TimeframeDaily, 0.5),
	}, nil))
}

func TestIdentifySkipsDegenerateProjections(t *testing.T) {
	a := NewAnalyzer(zap.NewNop(), Config{})

	// A huge positive slope overflows exp to +Inf at projection time.
	broken := flatLine("x", 100, domain.LineSupport, domain.TimeframeDaily, 0.9)
	broken.Equation.Slope = 1e6

	lines := []domain.TrendLine{
		broken,
		flatLine("a", 100, domain.LineSupport, domain.TimeframeDaily, 0.5),
		flatLine("b", 100.2, domain.LineSupport, domain.TimeframeDaily, 0.5),
	}

	zones := a.Identify(lines, trendCandles(60, 100))
	require.Len(t, zones, 1)
	require.ElementsMatch(t, []string{"a", "b"}, zones[0].ContributingLines)
}

func TestIdentifyIsolatedLinesDropped(t *testing.T) {
	a := NewAnalyzer(zap.NewNop(), Config{PriceThreshold: 0.005, MinLines: 2})

	lines := []domain.TrendLine{
		flatLine("a", 80, domain.LineSupport, domain.TimeframeDaily, 0.5),
		flatLine("b", 100, domain.LineSupport, domain.TimeframeDaily, 0.5),
		flatLine("c", 120, domain.LineResistance, domain.TimeframeDaily, 0.5),
	}

	require.Empty(t, a.Identify(lines, trendCandles(60, 100)))
}

func TestIdentifyRespectsMaxZones(t *testing.T) {
	a := NewAnalyzer(zap.NewNop(), Config{MaxZones: 2})

	var lines []domain.TrendLine
	for i, level := range []float64{50, 50.1, 70, 70.1, 90, 90.1, 110, 110.1} {
		lines = append(lines, flatLine(string(rune('a'+i)), level, domain.LineSupport, domain.TimeframeDaily, 0.5))
	}

	zones := a.Identify(lines, trendCandles(60, 80))
	require.Len(t, zones, 2)
	// Output remains strength-descending after capping.
	require.GreaterOrEqual(t, zones[0].Strength, zones[1].Strength)
}

func TestScanHistoryCountsDistinctVisits(t *testing.T) {
	a := NewAnalyzer(zap.NewNop(), Config{})

	// Price dips into the zone twice with a clean bounce after each visit.
	prices := []float64{110, 110, 100, 100, 110, 111, 112, 113, 100, 110, 111, 112, 113, 114}
	candles := make([]domain.Candle, len(prices))
	for i, p := range prices {
		candles[i] = domain.Candle{
			Timestamp: testEpoch.AddDate(0, 0, i),
			Open:      p,
			High:      p + 0.2,
			Low:       p - 0.2,
			Close:     p,
			Volume:    1000,
		}
	}

	tests, respected, _, lastTest := a.scanHistory(candles, 100, 0.5)
	require.Equal(t, 2, tests)
	require.Equal(t, 2, respected)
	require.Equal(t, testEpoch.AddDate(0, 0, 8), lastTest)
}

func TestScanHistoryBreakdownNotRespected(t *testing.T) {
	a := NewAnalyzer(zap.NewNop(), Config{})

	// Price approaches 100 from above and falls straight through: the touch
	// is a test but never a respected one.
	prices := []float64{110, 110, 100, 95, 94, 93, 92, 91, 90}
	candles := make([]domain.Candle, len(prices))
	for i, p := range prices {
		candles[i] = domain.Candle{
			Timestamp: testEpoch.AddDate(0, 0, i),
			Open:      p,
			High:      p + 0.2,
			Low:       p - 0.2,
			Close:     p,
			Volume:    1000,
		}
	}

	tests, respected, _, _ := a.scanHistory(candles, 100, 0.5)
	require.Equal(t, 1, tests)
	require.Equal(t, 0, respected)
}

func TestScanHistoryRejectionFromBelowRespected(t *testing.T) {
	a := NewAnalyzer(zap.NewNop(), Config{})

	// Resistance tested from below and rejected back down counts; the later
	// break above the level does not.
	prices := []float64{90, 90, 100, 95, 94, 90, 90, 100, 105, 106, 107, 108, 109}
	candles := make([]domain.Candle, len(prices))
	for i, p := range prices {
		candles[i] = domain.Candle{
			Timestamp: testEpoch.AddDate(0, 0, i),
			Open:      p,
			High:      p + 0.2,
			Low:       p - 0.2,
			Close:     p,
			Volume:    1000,
		}
	}

	tests, respected, _, _ := a.scanHistory(candles, 100, 0.5)
	require.Equal(t, 2, tests)
	require.Equal(t, 1, respected)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		strength float64
		lines    int
		want     domain.ZoneClassification
	}{
		{0.85, 5, domain.ZoneVeryStrong},
		{0.85, 3, domain.ZoneStrong},
		{0.65, 3, domain.ZoneStrong},
		{0.65, 2, domain.ZoneModerate},
		{0.45, 2, domain.ZoneModerate},
		{0.45, 1, domain.ZoneWeak},
		{0.2, 4, domain.ZoneWeak},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, classify(tc.strength, tc.lines),
			"strength=%v lines=%d", tc.strength, tc.lines)
	}
}

func TestRankZones(t *testing.T) {
	a := NewAnalyzer(zap.NewNop(), Config{})

	zones := []domain.ConvergenceZone{
		{ID: "weak-strong-score", Classification: domain.ZoneWeak, Strength: 0.95},
		{ID: "moderate", Classification: domain.ZoneModerate, Strength: 0.45},
		{ID: "very-strong", Classification: domain.ZoneVeryStrong, Strength: 0.82},
		{ID: "strong-a", Classification: domain.ZoneStrong, Strength: 0.70, Confidence: 0.9, ContributingLines: []string{"1", "2"}},
		{ID: "strong-b", Classification: domain.ZoneStrong, Strength: 0.72, Confidence: 0.5, ContributingLines: []string{"1", "2", "3"}},
	}

	ranked := a.RankZones(zones)
	require.Len(t, ranked, 5)
	require.Equal(t, "very-strong", ranked[0].ID)
	// 0.70 vs 0.72 is inside the tie delta, so confidence decides.
	require.Equal(t, "strong-a", ranked[1].ID)
	require.Equal(t, "strong-b", ranked[2].ID)
	require.Equal(t, "moderate", ranked[3].ID)
	require.Equal(t, "weak-strong-score", ranked[4].ID)

	// Input order untouched.
	require.Equal(t, "weak-strong-score", zones[0].ID)
}

func TestZonesNearPrice(t *testing.T) {
	a := NewAnalyzer(zap.NewNop(), Config{})

	zones := []domain.ConvergenceZone{
		{ID: "far", PriceLevel: 150},
		{ID: "close", PriceLevel: 101},
		{ID: "closest", PriceLevel: 100.5},
	}

	near := a.ZonesNearPrice(zones, 100, 2)
	require.Len(t, near, 2)
	require.Equal(t, "closest", near[0].ID)
	require.Equal(t, "close", near[1].ID)

	require.Empty(t, a.ZonesNearPrice(zones, 100, 0.1))
}

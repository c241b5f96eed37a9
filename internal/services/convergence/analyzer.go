// Package convergence groups trendlines whose projected price levels cluster
// and scores the resulting bands as support/resistance zones.
package convergence

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/vadiminshakov/trendcloud/internal/domain"
	"github.com/vadiminshakov/trendcloud/internal/services/indicators"
	"go.uber.org/zap"
)

const (
	// historyTestBandFloor is the minimum relative band used when scanning
	// candles for historical tests of a zone.
	historyTestBandFloor = 0.01
	// bounceThreshold is the relative move that marks a test as respected.
	bounceThreshold = 0.01
	// bounceWindow is how many candles after a test a bounce may occur in.
	bounceWindow = 5
	// recentTouchWindow bounds the "recent touches" count.
	recentTouchWindow = 30 * 24 * time.Hour
	// rankTieDelta treats score differences below it as ties during ranking.
	rankTieDelta = 0.05
	// momentumPeriod is the candle count for the breakout momentum factor.
	momentumPeriod = 20
	// atrPeriod is used to floor zone width for very tight clusters.
	atrPeriod = 14
)

// Config tunes zone identification.
type Config struct {
	// PriceThreshold is the relative distance for two projected levels to
	// belong to the same zone (0.005 = 0.5%).
	PriceThreshold float64
	// MinLines is the minimum contributing lines per zone.
	MinLines int
	// MaxZones caps the output, strongest first.
	MaxZones int
}

// DefaultConfig returns analyzer defaults.
func DefaultConfig() Config {
	return Config{PriceThreshold: 0.005, MinLines: 2, MaxZones: 15}
}

// Analyzer identifies and scores convergence zones. Stateless apart from
// configuration.
type Analyzer struct {
	cfg    Config
	logger *zap.Logger
}

// NewAnalyzer creates an Analyzer; zero-value config fields use defaults.
func NewAnalyzer(logger *zap.Logger, cfg Config) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.PriceThreshold <= 0 {
		cfg.PriceThreshold = def.PriceThreshold
	}
	if cfg.MinLines <= 0 {
		cfg.MinLines = def.MinLines
	}
	if cfg.MaxZones <= 0 {
		cfg.MaxZones = def.MaxZones
	}
	return &Analyzer{cfg: cfg, logger: logger}
}

// Identify projects every line to the last candle's time, groups nearby
// levels by single linkage and scores each surviving group. Fewer than two
// lines yields an empty result.
func (a *Analyzer) Identify(lines []domain.TrendLine, candles []domain.Candle) []domain.ConvergenceZone {
	if len(lines) < 2 || len(candles) == 0 {
		a.logger.Debug("insufficient trendlines for convergence analysis",
			zap.Int("lines", len(lines)))
		return nil
	}

	now := candles[len(candles)-1].Timestamp

	type projected struct {
		line  domain.TrendLine
		level float64
	}

	var projections []projected
	for _, l := range lines {
		level := l.Equation.PriceAt(now)
		if math.IsNaN(level) || math.IsInf(level, 0) || level <= 0 {
			// Degenerate projection from a broken fit: skip the line.
			continue
		}
		projections = append(projections, projected{line: l, level: level})
	}
	if len(projections) < a.cfg.MinLines {
		return nil
	}

	sort.Slice(projections, func(i, j int) bool {
		return projections[i].level < projections[j].level
	})

	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
	}
	closes := domain.Closes(candles)
	volumes := domain.Volumes(candles)
	atr := indicators.LastATR(highs, lows, closes, atrPeriod)

	grouped := make([]bool, len(projections))
	var zones []domain.ConvergenceZone

	for i := range projections {
		if grouped[i] {
			continue
		}

		seed := projections[i]
		group := []projected{seed}
		grouped[i] = true

		for j := i + 1; j < len(projections); j++ {
			if grouped[j] {
				continue
			}
			if math.Abs(projections[j].level-seed.level)/seed.level <= a.cfg.PriceThreshold {
				group = append(group, projections[j])
				grouped[j] = true
			}
		}

		if len(group) < a.cfg.MinLines {
			continue
		}

		groupLines := make([]domain.TrendLine, len(group))
		levels := make([]float64, len(group))
		for k, g := range group {
			groupLines[k] = g.line
			levels[k] = g.level
		}

		zones = append(zones, a.buildZone(groupLines, levels, candles, closes, volumes, atr, now))
	}

	sort.Slice(zones, func(i, j int) bool {
		if zones[i].Strength != zones[j].Strength {
			return zones[i].Strength > zones[j].Strength
		}
		return zones[i].PriceLevel < zones[j].PriceLevel
	})

	if len(zones) > a.cfg.MaxZones {
		zones = zones[:a.cfg.MaxZones]
	}

	a.logger.Debug("convergence analysis complete",
		zap.Int("lines", len(lines)), zap.Int("zones", len(zones)))

	return zones
}

func (a *Analyzer) buildZone(lines []domain.TrendLine, levels []float64, candles []domain.Candle, closes, volumes []float64, atr float64, now time.Time) domain.ConvergenceZone {
	// Strength-weighted centroid of the projected levels.
	var weightSum, centroid float64
	for i, l := range lines {
		w := l.Strength
		if w <= 0 {
			w = 0.01
		}
		centroid += levels[i] * w
		weightSum += w
	}
	centroid /= weightSum

	lower, upper := levels[0], levels[0]
	for _, lv := range levels {
		lower = math.Min(lower, lv)
		upper = math.Max(upper, lv)
	}

	// Very tight clusters still occupy a band; floor the width with ATR so
	// downstream test scans have something to intersect.
	if minHalf := atr * 0.125; minHalf > 0 {
		if centroid-lower < minHalf {
			lower = centroid - minHalf
		}
		if upper-centroid < minHalf {
			upper = centroid + minHalf
		}
	}

	zoneWidth := upper - lower

	// Per-line contribution blends intrinsic strength with touch count,
	// age and fit accuracy, scaled by the line's timeframe weight.
	var base, sumLineStrength float64
	tfSet := make(map[domain.Timeframe]struct{})
	hasSupport, hasResistance := false, false
	lineIDs := make([]string, len(lines))
	for i, l := range lines {
		touchFactor := clamp01(float64(l.TouchCount) / 6)
		ageFactor := clamp01(l.Meta.AgeInDays / 180)
		accuracy := clamp01(1 - l.AvgDeviation/0.02)

		score := clamp01(0.4*l.Strength+0.2*touchFactor+0.2*ageFactor+0.2*accuracy) * l.Timeframe.Weight()
		base += score
		sumLineStrength += l.Strength

		tfSet[l.Timeframe] = struct{}{}
		if l.Type == domain.LineSupport {
			hasSupport = true
		} else {
			hasResistance = true
		}
		lineIDs[i] = l.ID
	}
	base /= float64(len(lines))

	tfBonus := math.Min(1+0.1*float64(len(tfSet)-1), 1.3)
	typeBonus := 1.0
	if hasSupport && hasResistance {
		typeBonus = 1.15
	}
	strength := clamp01(base * tfBonus * typeBonus)

	tests, respected, recent, lastTest := a.scanHistory(candles, centroid, zoneWidth)

	respectRate := 0.0
	if tests > 0 {
		respectRate = float64(respected) / float64(tests)
	}

	avgLineStrength := sumLineStrength / float64(len(lines))
	tightness := 1.0
	if centroid > 0 {
		tightness = clamp01(1 - zoneWidth/(0.02*centroid))
	}

	confidence := clamp01(0.3*avgLineStrength +
		0.25*respectRate +
		0.15*clamp01(float64(tests)/10) +
		0.15*tightness +
		0.15*clamp01(float64(len(lines))/5))

	var avgAge float64
	for _, l := range lines {
		avgAge += l.Meta.AgeInDays
	}
	avgAge /= float64(len(lines))

	momentum := indicators.Momentum(closes, momentumPeriod)
	surge := indicators.VolumeSurge(volumes)

	breakout := clamp01(0.4*(1-respectRate) +
		0.15*clamp01(float64(recent)/5) +
		0.15*clamp01(avgAge/365) +
		0.15*clamp01(math.Abs(momentum)*50) +
		0.15*clamp01(surge-1))

	var tfs []domain.Timeframe
	for tf := range tfSet {
		tfs = append(tfs, tf)
	}
	sort.Slice(tfs, func(i, j int) bool { return tfs[i] < tfs[j] })
	sort.Strings(lineIDs)

	return domain.ConvergenceZone{
		ID:                  uuid.NewString(),
		PriceLevel:          centroid,
		UpperBound:          upper,
		LowerBound:          lower,
		Strength:            strength,
		Classification:      classify(strength, len(lines)),
		ContributingLines:   lineIDs,
		Timeframes:          tfs,
		Confidence:          confidence,
		LastTest:            lastTest,
		TestCount:           tests,
		BreakoutProbability: breakout,
		Meta: domain.ZoneMeta{
			AvgLineStrength:       avgLineStrength,
			TimeframeDiversity:    len(tfSet),
			RecentTouches:         recent,
			HistoricalRespectRate: respectRate,
			ZoneWidth:             zoneWidth,
		},
	}
}

// scanHistory walks candles counting tests of the zone level, how many of
// them were respected and how many fall inside the recent-touch window.
// A test is respected only when price bounces at least 1% back towards the
// side it approached from within five candles; a move through the zone to
// the far side is a breakout, not a respected test.
func (a *Analyzer) scanHistory(candles []domain.Candle, level, zoneWidth float64) (tests, respected, recent int, lastTest time.Time) {
	band := math.Max(zoneWidth, historyTestBandFloor*level)
	now := candles[len(candles)-1].Timestamp

	inTouch := false
	for i, c := range candles {
		touching := c.Low <= level+band && c.High >= level-band
		if !touching {
			inTouch = false
			continue
		}
		if inTouch {
			// Still the same visit to the zone, not a new test.
			continue
		}
		inTouch = true
		tests++
		lastTest = c.Timestamp
		if now.Sub(c.Timestamp) <= recentTouchWindow {
			recent++
		}

		approachAbove := c.Close >= level
		if i > 0 {
			approachAbove = candles[i-1].Close >= level
		}

		for k := i + 1; k <= i+bounceWindow && k < len(candles); k++ {
			rel := (candles[k].Close - level) / level
			if approachAbove && rel >= bounceThreshold {
				respected++
				break
			}
			if !approachAbove && rel <= -bounceThreshold {
				respected++
				break
			}
		}
	}
	return tests, respected, recent, lastTest
}

func classify(strength float64, lineCount int) domain.ZoneClassification {
	switch {
	case strength >= 0.8 && lineCount >= 4:
		return domain.ZoneVeryStrong
	case strength >= 0.6 && lineCount >= 3:
		return domain.ZoneStrong
	case strength >= 0.4 && lineCount >= 2:
		return domain.ZoneModerate
	default:
		return domain.ZoneWeak
	}
}

// RankZones orders zones by importance: classification first, then strength,
// confidence and line count, each compared only when the previous key
// differs by at least 0.05.
func (a *Analyzer) RankZones(zones []domain.ConvergenceZone) []domain.ConvergenceZone {
	ranked := make([]domain.ConvergenceZone, len(zones))
	copy(ranked, zones)

	sort.SliceStable(ranked, func(i, j int) bool {
		zi, zj := ranked[i], ranked[j]
		if zi.Classification.Rank() != zj.Classification.Rank() {
			return zi.Classification.Rank() > zj.Classification.Rank()
		}
		if math.Abs(zi.Strength-zj.Strength) >= rankTieDelta {
			return zi.Strength > zj.Strength
		}
		if math.Abs(zi.Confidence-zj.Confidence) >= rankTieDelta {
			return zi.Confidence > zj.Confidence
		}
		return len(zi.ContributingLines) > len(zj.ContributingLines)
	})

	return ranked
}

// ZonesNearPrice returns zones whose level is within maxDistance of price,
// closest first.
func (a *Analyzer) ZonesNearPrice(zones []domain.ConvergenceZone, price, maxDistance float64) []domain.ConvergenceZone {
	var near []domain.ConvergenceZone
	for _, z := range zones {
		if math.Abs(z.PriceLevel-price) <= maxDistance {
			near = append(near, z)
		}
	}
	sort.Slice(near, func(i, j int) bool {
		return math.Abs(near[i].PriceLevel-price) < math.Abs(near[j].PriceLevel-price)
	})
	return near
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

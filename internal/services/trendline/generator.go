// Package trendline fits directional lines through detected pivots.
//
// Fitting runs in log-price space: a candidate line is seeded from a pivot
// pair, refit by weighted least squares, and iteratively absorbs further
// pivots lying within the touch tolerance of the fit until it stabilizes.
// Pivot weights decay exponentially with age so recent structure dominates.
package trendline

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/vadiminshakov/trendcloud/internal/domain"
	"go.uber.org/zap"
)

// Config tunes trendline generation.
type Config struct {
	// MaxLines caps the number of lines returned per run.
	MaxLines int
	// TouchTolerance is the relative price tolerance for a pivot to count
	// as a touch of a fitted line (0.02 = 2%).
	TouchTolerance float64
	// HalfLifeDays controls the exponential time decay of pivot weights.
	HalfLifeDays float64
	// MinWeight floors the decayed weight of very old pivots.
	MinWeight float64
	// WeightFactor amplifies summed touch weights in line strength.
	WeightFactor float64
	// ViewportDays is the trailing span dynamic lines are refit against.
	ViewportDays int
}

// DefaultConfig returns generation defaults matching the rolling pipeline.
func DefaultConfig() Config {
	return Config{
		MaxLines:       30,
		TouchTolerance: 0.02,
		HalfLifeDays:   80,
		MinWeight:      0.1,
		WeightFactor:   2.0,
		ViewportDays:   90,
	}
}

// LineStatistics summarizes a generated line set for API responses.
type LineStatistics struct {
	Count           int
	SupportCount    int
	ResistanceCount int
	MinStrength     float64
	AvgStrength     float64
	MaxStrength     float64
	AvgTouches      float64
}

// Generator fits trendlines. Stateless apart from configuration.
type Generator struct {
	cfg    Config
	logger *zap.Logger
}

// NewGenerator creates a Generator with the given config; zero-value fields
// fall back to defaults.
func NewGenerator(logger *zap.Logger, cfg Config) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.MaxLines <= 0 {
		cfg.MaxLines = def.MaxLines
	}
	if cfg.TouchTolerance <= 0 {
		cfg.TouchTolerance = def.TouchTolerance
	}
	if cfg.HalfLifeDays <= 0 {
		cfg.HalfLifeDays = def.HalfLifeDays
	}
	if cfg.MinWeight <= 0 {
		cfg.MinWeight = def.MinWeight
	}
	if cfg.WeightFactor <= 0 {
		cfg.WeightFactor = def.WeightFactor
	}
	if cfg.ViewportDays <= 0 {
		cfg.ViewportDays = def.ViewportDays
	}
	return &Generator{cfg: cfg, logger: logger}
}

// Generate fits static lines through the full pivot set. Output is sorted by
// strength descending and is deterministic for identical input.
func (g *Generator) Generate(pivots []domain.PivotPoint, candles []domain.Candle, tf domain.Timeframe) []domain.TrendLine {
	return g.generate(pivots, candles, tf, false)
}

// GenerateDynamic refits lines against the trailing viewport only and flags
// them dynamic. Used for live-chart overlays where recent structure matters
// more than the full window.
func (g *Generator) GenerateDynamic(pivots []domain.PivotPoint, candles []domain.Candle, tf domain.Timeframe) []domain.TrendLine {
	if len(candles) == 0 {
		return nil
	}
	cutoff := candles[len(candles)-1].Timestamp.AddDate(0, 0, -g.cfg.ViewportDays)

	var recent []domain.PivotPoint
	for _, p := range pivots {
		if !p.Timestamp.Before(cutoff) {
			recent = append(recent, p)
		}
	}

	firstIdx := 0
	for firstIdx < len(candles) && candles[firstIdx].Timestamp.Before(cutoff) {
		firstIdx++
	}

	return g.generate(recent, candles[firstIdx:], tf, true)
}

func (g *Generator) generate(pivots []domain.PivotPoint, candles []domain.Candle, tf domain.Timeframe, dynamic bool) []domain.TrendLine {
	if len(pivots) < 2 || len(candles) == 0 {
		g.logger.Debug("insufficient pivots for trendline generation", zap.Int("pivots", len(pivots)))
		return nil
	}

	epoch := candles[0].Timestamp
	now := candles[len(candles)-1].Timestamp
	logTol := math.Log1p(g.cfg.TouchTolerance)

	pts := make([]point, len(pivots))
	for i, p := range pivots {
		pts[i] = point{
			x:      p.Timestamp.Sub(epoch).Hours() / 24,
			y:      math.Log(p.Price),
			weight: g.timeWeight(now.Sub(p.Timestamp).Hours() / 24),
			pivot:  p,
		}
	}

	pairs := allPairs(pts)

	usedPairs := make(map[[2]int]struct{})
	var lines []domain.TrendLine

	for _, pr := range pairs {
		if _, ok := usedPairs[[2]int{pr.i, pr.j}]; ok {
			continue
		}

		members := g.refine(pr, pts, logTol)
		if len(members) < 2 {
			continue
		}

		fit, ok := fitWeighted(pts, members)
		if !ok {
			// Degenerate fit (zero spread or non-finite coefficients):
			// skip the candidate rather than propagate the anomaly.
			continue
		}

		line := g.buildLine(pts, members, fit, epoch, now, tf, dynamic, logTol)
		lines = append(lines, line)

		// Every pair inside this line is consumed so later seeds cannot
		// rediscover the same geometry.
		for a := 0; a < len(members); a++ {
			for b := a + 1; b < len(members); b++ {
				key := [2]int{members[a], members[b]}
				if key[0] > key[1] {
					key[0], key[1] = key[1], key[0]
				}
				usedPairs[key] = struct{}{}
			}
		}

		if len(lines) >= g.cfg.MaxLines {
			break
		}
	}

	sort.Slice(lines, func(i, j int) bool {
		if lines[i].Strength != lines[j].Strength {
			return lines[i].Strength > lines[j].Strength
		}
		return lines[i].Touches[0].Timestamp.Before(lines[j].Touches[0].Timestamp)
	})

	g.logger.Debug("trendline generation complete",
		zap.String("timeframe", tf.Title()),
		zap.Int("pivots", len(pivots)),
		zap.Int("lines", len(lines)),
		zap.Bool("dynamic", dynamic))

	return lines
}

// Statistics summarizes count and strength distribution of a line set.
func (g *Generator) Statistics(lines []domain.TrendLine) LineStatistics {
	stats := LineStatistics{Count: len(lines)}
	if len(lines) == 0 {
		return stats
	}

	stats.MinStrength = math.Inf(1)
	var sumStrength, sumTouches float64
	for _, l := range lines {
		if l.Type == domain.LineSupport {
			stats.SupportCount++
		} else {
			stats.ResistanceCount++
		}
		sumStrength += l.Strength
		sumTouches += float64(l.TouchCount)
		stats.MinStrength = math.Min(stats.MinStrength, l.Strength)
		stats.MaxStrength = math.Max(stats.MaxStrength, l.Strength)
	}
	stats.AvgStrength = sumStrength / float64(len(lines))
	stats.AvgTouches = sumTouches / float64(len(lines))
	return stats
}

type point struct {
	x      float64
	y      float64
	weight float64
	pivot  domain.PivotPoint
}

type pair struct {
	i, j int
	span float64
}

// allPairs enumerates pivot pairs ordered by time span descending so long
// structural lines are found before short local ones.
func allPairs(pts []point) []pair {
	var pairs []pair
	for i := 0; i < len(pts); i++ {
		for j := i + 1; j < len(pts); j++ {
			pairs = append(pairs, pair{i: i, j: j, span: math.Abs(pts[j].x - pts[i].x)})
		}
	}
	sort.Slice(pairs, func(a, b int) bool {
		if pairs[a].span != pairs[b].span {
			return pairs[a].span > pairs[b].span
		}
		if pairs[a].i != pairs[b].i {
			return pairs[a].i < pairs[b].i
		}
		return pairs[a].j < pairs[b].j
	})
	return pairs
}

func (g *Generator) timeWeight(daysAgo float64) float64 {
	if daysAgo < 0 {
		daysAgo = 0
	}
	decay := math.Exp(-daysAgo * math.Ln2 / g.cfg.HalfLifeDays)
	return math.Max(decay, g.cfg.MinWeight)
}

// refine grows the member set from a seed pair by repeatedly fitting and
// absorbing pivots within tolerance, until the set stabilizes.
func (g *Generator) refine(seed pair, pts []point, logTol float64) []int {
	members := []int{seed.i, seed.j}
	inSet := map[int]struct{}{seed.i: {}, seed.j: {}}

	const maxIterations = 100
	for iter := 0; iter < maxIterations; iter++ {
		fit, ok := fitWeighted(pts, members)
		if !ok {
			return nil
		}

		added := false
		for idx, p := range pts {
			if _, ok := inSet[idx]; ok {
				continue
			}
			predicted := fit.slope*p.x + fit.intercept
			if math.Abs(predicted-p.y) <= logTol {
				members = append(members, idx)
				inSet[idx] = struct{}{}
				added = true
			}
		}
		if !added {
			break
		}
	}

	sort.Ints(members)
	return members
}

type fitResult struct {
	slope     float64
	intercept float64
	rSquared  float64
}

// fitWeighted runs weighted least squares over the member points. Returns
// false when the fit is degenerate (all x equal, or non-finite output).
func fitWeighted(pts []point, members []int) (fitResult, bool) {
	var sw, swx, swy, swxy, swxx float64
	for _, idx := range members {
		p := pts[idx]
		sw += p.weight
		swx += p.weight * p.x
		swy += p.weight * p.y
		swxy += p.weight * p.x * p.y
		swxx += p.weight * p.x * p.x
	}
	if sw == 0 {
		return fitResult{}, false
	}

	denom := sw*swxx - swx*swx
	if denom == 0 {
		return fitResult{}, false
	}

	slope := (sw*swxy - swx*swy) / denom
	intercept := (swy - slope*swx) / sw
	if math.IsNaN(slope) || math.IsInf(slope, 0) || math.IsNaN(intercept) || math.IsInf(intercept, 0) {
		return fitResult{}, false
	}

	meanY := swy / sw
	var ssTot, ssRes float64
	for _, idx := range members {
		p := pts[idx]
		ssTot += p.weight * (p.y - meanY) * (p.y - meanY)
		residual := p.y - (slope*p.x + intercept)
		ssRes += p.weight * residual * residual
	}

	rSquared := 1.0
	if ssTot > 0 {
		rSquared = 1 - ssRes/ssTot
		if rSquared < 0 {
			rSquared = 0
		}
	}

	return fitResult{slope: slope, intercept: intercept, rSquared: rSquared}, true
}

func (g *Generator) buildLine(pts []point, members []int, fit fitResult, epoch, now time.Time, tf domain.Timeframe, dynamic bool, logTol float64) domain.TrendLine {
	touches := make([]domain.PivotPoint, 0, len(members))
	highs := 0
	var sumWeights, sumAbsDev float64
	for _, idx := range members {
		p := pts[idx]
		touches = append(touches, p.pivot)
		if p.pivot.Type == domain.PivotHigh {
			highs++
		}
		sumWeights += p.weight
		sumAbsDev += math.Abs(p.y - (fit.slope*p.x + fit.intercept))
	}

	sort.Slice(touches, func(i, j int) bool {
		return touches[i].Timestamp.Before(touches[j].Timestamp)
	})

	lineType := domain.LineSupport
	if highs*2 >= len(members) {
		lineType = domain.LineResistance
	}

	count := len(members)
	// avgDeviation stays in log space, which for small values reads as a
	// relative price deviation.
	avgDeviation := sumAbsDev / float64(count)
	avgWeight := sumWeights / float64(count)

	touchFactor := clamp01(float64(count) / 6)
	fitQuality := clamp01(1 - avgDeviation/logTol)
	strength := clamp01((0.4*touchFactor + 0.35*fitQuality + 0.25*fit.rSquared) * (0.5 + 0.5*avgWeight))

	return domain.TrendLine{
		ID:        uuid.NewString(),
		Type:      lineType,
		Timeframe: tf,
		Equation: domain.LineEquation{
			Slope:     fit.slope,
			Intercept: fit.intercept,
			Epoch:     epoch,
		},
		Touches:      touches,
		Strength:     strength,
		TouchCount:   count,
		AvgDeviation: avgDeviation,
		IsDynamic:    dynamic,
		Meta: domain.LineMeta{
			AgeInDays:      now.Sub(touches[0].Timestamp).Hours() / 24,
			RSquared:       fit.rSquared,
			SumTimeWeights: g.cfg.WeightFactor * sumWeights,
		},
	}
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

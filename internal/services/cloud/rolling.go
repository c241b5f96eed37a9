// Package cloud rolls the pivot/trendline/convergence pipeline across
// history and aggregates the per-window forward projections into
// softmax-weighted trend clouds.
package cloud

import (
	"context"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/trendcloud/internal/domain"
	"github.com/vadiminshakov/trendcloud/internal/services/convergence"
	"github.com/vadiminshakov/trendcloud/internal/services/pivot"
	"github.com/vadiminshakov/trendcloud/internal/services/trendline"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNoCandles is returned when a rolling run is started with no data at all.
var ErrNoCandles = errors.New("no candles supplied")

// projectionBand discards projections further than ±30% from the window's
// last close.
const projectionBand = 0.3

// Config tunes the rolling generator.
type Config struct {
	// LookbackDays is the trailing analysis window per step.
	LookbackDays int
	// HorizonDays is how far ahead zones are projected.
	HorizonDays int
	// IntervalDays is the step between calculation dates.
	IntervalDays int
	// MergeThreshold is the relative distance for merging prediction
	// clusters.
	MergeThreshold float64
	// Temperature is the softmax temperature over cluster strengths.
	Temperature float64
	// MaxClusters caps cloud points per window.
	MaxClusters int
	// MinWindowCandles skips windows with fewer candles.
	MinWindowCandles int
	// Workers bounds concurrent window evaluation.
	Workers int
}

// DefaultConfig returns the rolling defaults.
func DefaultConfig() Config {
	return Config{
		LookbackDays:     365,
		HorizonDays:      5,
		IntervalDays:     5,
		MergeThreshold:   0.01,
		Temperature:      2.0,
		MaxClusters:      5,
		MinWindowCandles: 50,
		Workers:          4,
	}
}

// WindowError records a failed or skipped window; the run continues past it.
type WindowError struct {
	CalculationDate time.Time
	Err             error
}

// Generator re-runs the analysis pipeline over a sliding historical window.
// Each window is independent, so evaluation is spread over a worker pool.
type Generator struct {
	cfg    Config
	pivots *pivot.Detector
	lines  *trendline.Generator
	zones  *convergence.Analyzer
	logger *zap.Logger
}

// NewGenerator wires a rolling generator from the three pipeline stages.
func NewGenerator(logger *zap.Logger, cfg Config, detector *pivot.Detector, lineGen *trendline.Generator, analyzer *convergence.Analyzer) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = def.LookbackDays
	}
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = def.HorizonDays
	}
	if cfg.IntervalDays <= 0 {
		cfg.IntervalDays = def.IntervalDays
	}
	if cfg.MergeThreshold <= 0 {
		cfg.MergeThreshold = def.MergeThreshold
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = def.Temperature
	}
	if cfg.MaxClusters <= 0 {
		cfg.MaxClusters = def.MaxClusters
	}
	if cfg.MinWindowCandles <= 0 {
		cfg.MinWindowCandles = def.MinWindowCandles
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	return &Generator{cfg: cfg, pivots: detector, lines: lineGen, zones: analyzer, logger: logger}
}

// CalculationDates enumerates the window steps for a range: start+k·interval
// for k ≥ 1 while the date is not after end. A 30-day range with a 5-day
// interval yields exactly 6 dates. intervalDays ≤ 0 falls back to config.
func (g *Generator) CalculationDates(start, end time.Time, intervalDays int) []time.Time {
	if intervalDays <= 0 {
		intervalDays = g.cfg.IntervalDays
	}
	var dates []time.Time
	for d := start.AddDate(0, 0, intervalDays); !d.After(end); d = d.AddDate(0, 0, intervalDays) {
		dates = append(dates, d)
	}
	return dates
}

// GenerateRolling runs the pipeline for every calculation date between start
// and end. Per-window failures are collected, never fatal; cancellation via
// ctx stops scheduling new windows and returns what finished. Results are
// ordered by calculation date.
func (g *Generator) GenerateRolling(ctx context.Context, symbol string, candles []domain.Candle, start, end time.Time, tf domain.Timeframe, intervalDays int) ([]domain.TrendCloudData, []WindowError, error) {
	if len(candles) == 0 {
		return nil, nil, ErrNoCandles
	}

	dates := g.CalculationDates(start, end, intervalDays)
	g.logger.Info("starting rolling trend cloud run",
		zap.String("symbol", symbol),
		zap.String("timeframe", tf.Title()),
		zap.Int("windows", len(dates)))

	var (
		mu         sync.Mutex
		results    []domain.TrendCloudData
		windowErrs []WindowError
	)

	grp := new(errgroup.Group)
	grp.SetLimit(g.cfg.Workers)

	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			break
		}
		calcDate := date
		grp.Go(func() error {
			data, err := g.analyzeWindow(symbol, candles, calcDate, tf)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				windowErrs = append(windowErrs, WindowError{CalculationDate: calcDate, Err: err})
				return nil
			}
			if data != nil {
				results = append(results, *data)
			}
			return nil
		})
	}

	_ = grp.Wait()

	sort.Slice(results, func(i, j int) bool {
		return results[i].CalculationDate.Before(results[j].CalculationDate)
	})
	sort.Slice(windowErrs, func(i, j int) bool {
		return windowErrs[i].CalculationDate.Before(windowErrs[j].CalculationDate)
	})

	g.logger.Info("rolling trend cloud run finished",
		zap.String("symbol", symbol),
		zap.Int("clouds", len(results)),
		zap.Int("window_errors", len(windowErrs)))

	return results, windowErrs, ctx.Err()
}

// analyzeWindow evaluates one calculation date. A nil, nil return means the
// window produced no signal worth a cloud; too little data is an error.
func (g *Generator) analyzeWindow(symbol string, candles []domain.Candle, calcDate time.Time, tf domain.Timeframe) (*domain.TrendCloudData, error) {
	windowStart := calcDate.AddDate(0, 0, -g.cfg.LookbackDays)

	lo := sort.Search(len(candles), func(i int) bool {
		return !candles[i].Timestamp.Before(windowStart)
	})
	hi := sort.Search(len(candles), func(i int) bool {
		return candles[i].Timestamp.After(calcDate)
	})
	window := candles[lo:hi]

	if len(window) < g.cfg.MinWindowCandles {
		return nil, errors.Errorf("window has %d candles, need at least %d", len(window), g.cfg.MinWindowCandles)
	}

	pivots := g.pivots.Detect(window, tf)
	if len(pivots) < 2 {
		return nil, nil
	}

	lines := g.lines.Generate(pivots, window, tf)
	if len(lines) == 0 {
		return nil, nil
	}

	zones := g.zones.Identify(lines, window)
	if len(zones) == 0 {
		return nil, nil
	}

	lineByID := make(map[string]domain.TrendLine, len(lines))
	for _, l := range lines {
		lineByID[l.ID] = l
	}

	targetDate := calcDate.AddDate(0, 0, g.cfg.HorizonDays)
	currentPrice := window[len(window)-1].Close

	preds := g.project(zones, lineByID, targetDate, currentPrice)
	if len(preds) == 0 {
		return nil, nil
	}

	clusters := mergeClusters(preds, g.cfg.MergeThreshold)

	sort.Slice(clusters, func(i, j int) bool {
		return clusters[i].totalWeight > clusters[j].totalWeight
	})
	if len(clusters) > g.cfg.MaxClusters {
		clusters = clusters[:g.cfg.MaxClusters]
	}

	strengths := make([]float64, len(clusters))
	for i, c := range clusters {
		strengths[i] = c.totalWeight
	}
	weights := softmaxWeights(strengths, g.cfg.Temperature)
	for i := range clusters {
		clusters[i].softmaxWeight = weights[i]
	}

	sort.Slice(clusters, func(i, j int) bool {
		if clusters[i].softmaxWeight != clusters[j].softmaxWeight {
			return clusters[i].softmaxWeight > clusters[j].softmaxWeight
		}
		return clusters[i].center < clusters[j].center
	})

	data := g.buildCloud(symbol, calcDate, targetDate, tf, clusters, len(zones))
	return &data, nil
}

// project turns every zone into a forward prediction at targetDate, using
// the mean projected level of the zone's contributing lines. Projections
// outside the sanity band around the current price are dropped.
func (g *Generator) project(zones []domain.ConvergenceZone, lineByID map[string]domain.TrendLine, targetDate time.Time, currentPrice float64) []prediction {
	var preds []prediction
	for _, z := range zones {
		var sum float64
		support, resistance := 0, 0
		n := 0
		for _, id := range z.ContributingLines {
			l, ok := lineByID[id]
			if !ok {
				continue
			}
			level := l.Equation.PriceAt(targetDate)
			if math.IsNaN(level) || math.IsInf(level, 0) || level <= 0 {
				continue
			}
			sum += level
			n++
			if l.Type == domain.LineSupport {
				support++
			} else {
				resistance++
			}
		}
		if n == 0 {
			continue
		}

		price := sum / float64(n)
		if currentPrice > 0 {
			rel := math.Abs(price-currentPrice) / currentPrice
			if rel > projectionBand {
				continue
			}
		}

		weight := z.Strength * (0.5 + 0.5*z.Confidence) * float64(n)
		preds = append(preds, prediction{
			price:           price,
			weight:          weight,
			trendlineCount:  n,
			supportLines:    support,
			resistanceLines: resistance,
		})
	}
	return preds
}

func (g *Generator) buildCloud(symbol string, calcDate, targetDate time.Time, tf domain.Timeframe, clusters []cluster, zoneCount int) domain.TrendCloudData {
	points := make([]domain.TrendCloudPoint, len(clusters))

	var totalWeight float64
	totalTrendlines := 0
	peakIdx := 0
	supportRank, resistanceRank := 0, 0

	for i, c := range clusters {
		totalWeight += c.totalWeight
		totalTrendlines += c.trendlineCount
		if c.totalWeight > clusters[peakIdx].totalWeight {
			peakIdx = i
		}

		typ := c.cloudType()
		var id string
		if typ == domain.CloudSupport {
			id = "S" + strconv.Itoa(supportRank)
			supportRank++
		} else {
			id = "R" + strconv.Itoa(resistanceRank)
			resistanceRank++
		}

		width := c.priceMax - c.priceMin
		density := c.totalWeight / math.Max(width, 0.001*c.center)

		points[i] = domain.TrendCloudPoint{
			CloudID:          id,
			Type:             typ,
			Price:            c.center,
			Weight:           c.totalWeight,
			NormalizedWeight: c.softmaxWeight,
			Density:          density,
			TrendlineCount:   c.trendlineCount,
			Confidence:       c.softmaxWeight,
			PriceMin:         c.priceMin,
			PriceMax:         c.priceMax,
			MergedFrom:       c.mergedFrom,
		}
	}

	summary := domain.CloudSummary{
		TotalWeight:          totalWeight,
		TotalTrendlines:      totalTrendlines,
		ConvergenceZoneCount: zoneCount,
	}
	if len(points) > 0 {
		peak := points[peakIdx]
		summary.PeakPrice = peak.Price
		summary.PeakWeight = peak.Weight
		summary.PeakDensity = peak.Density
		if totalWeight > 0 {
			summary.ConcentrationRatio = peak.Weight / totalWeight
		}

		summary.PriceMin = points[0].PriceMin
		summary.PriceMax = points[0].PriceMax
		maxSoftmax := 0.0
		for _, p := range points {
			summary.PriceMin = math.Min(summary.PriceMin, p.PriceMin)
			summary.PriceMax = math.Max(summary.PriceMax, p.PriceMax)
			maxSoftmax = math.Max(maxSoftmax, p.NormalizedWeight)
		}
		// The window's signal confidence is how sharply the softmax
		// concentrates on its strongest cluster.
		summary.ConfidenceScore = maxSoftmax
	}

	return domain.TrendCloudData{
		Symbol:          symbol,
		CalculationDate: calcDate,
		TargetDate:      targetDate,
		Timeframe:       tf,
		LookbackDays:    g.cfg.LookbackDays,
		Points:          points,
		Summary:         summary,
	}
}

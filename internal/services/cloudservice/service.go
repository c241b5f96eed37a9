// Package cloudservice orchestrates rolling trend cloud computation: it
// decides between cached and fresh results, runs the generator and persists
// each cloud independently, collecting save errors without aborting the run.
package cloudservice

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/trendcloud/internal/domain"
	"github.com/vadiminshakov/trendcloud/internal/services/cloud"
	"github.com/vadiminshakov/trendcloud/internal/services/indicators"
	"github.com/vadiminshakov/trendcloud/internal/services/market"
	"go.uber.org/zap"
)

// ErrNoSymbol is returned when a request carries no symbol.
var ErrNoSymbol = errors.New("symbol is required")

// CloudStore is the persistence surface the service needs.
type CloudStore interface {
	Save(ctx context.Context, cloud domain.TrendCloudData) (string, error)
	Query(ctx context.Context, symbol string, start, end time.Time, tf domain.Timeframe) ([]domain.TrendCloudData, error)
	Exists(ctx context.Context, symbol string, start, end time.Time, tf domain.Timeframe) (bool, error)
}

// CloudGenerator produces clouds for one symbol/timeframe over a range.
type CloudGenerator interface {
	GenerateRolling(ctx context.Context, symbol string, candles []domain.Candle, start, end time.Time, tf domain.Timeframe, intervalDays int) ([]domain.TrendCloudData, []cloud.WindowError, error)
}

// Request describes one orchestration run.
type Request struct {
	Symbol       string
	Timeframes   []domain.Timeframe
	Start        time.Time
	End          time.Time
	IntervalDays int
	// Force recomputes even when stored results exist for the range.
	Force bool
	// CandleLimit bounds the provider fetch; 0 uses a range-derived default.
	CandleLimit int
}

// CloudStats aggregates the computed clouds of one timeframe.
type CloudStats struct {
	WindowsSucceeded int
	WindowsFailed    int
	SupportPoints    int
	ResistancePoints int
	// MergeRate is the average number of raw predictions absorbed per
	// cloud point; 1 means no merging happened.
	MergeRate float64
}

// TimeframeResult is the outcome for one timeframe of a run.
type TimeframeResult struct {
	Timeframe    domain.Timeframe
	Clouds       []domain.TrendCloudData
	FromCache    bool
	Saved        int
	SaveFailures int
	WindowErrors []cloud.WindowError
	Stats        CloudStats
}

// TrendDirection qualitative direction of recent price action.
type TrendDirection string

const (
	TrendBullish TrendDirection = "bullish"
	TrendBearish TrendDirection = "bearish"
	TrendNeutral TrendDirection = "neutral"
)

// MarketSummary headline market context attached to a run result.
type MarketSummary struct {
	LastPrice float64
	EMA20     float64
	EMA50     float64
	Trend     TrendDirection
}

// Result is the full outcome of a run.
type Result struct {
	Symbol     string
	Timeframes []TimeframeResult
	Summary    *MarketSummary
}

// Service wires provider, generator and store.
type Service struct {
	provider market.KlineProvider
	gen      CloudGenerator
	store    CloudStore
	logger   *zap.Logger
}

// NewService creates the orchestration service.
func NewService(logger *zap.Logger, provider market.KlineProvider, gen CloudGenerator, store CloudStore) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{provider: provider, gen: gen, store: store, logger: logger}
}

// Run executes the request: per timeframe it either returns stored clouds
// (unless forced) or computes fresh ones and saves them one by one. A failed
// save never aborts the run; it is counted and reported.
//
// Result.Summary is derived from freshly fetched candles. When every
// timeframe is served from the store no candles are fetched, so Summary
// stays nil on fully cached runs.
func (s *Service) Run(ctx context.Context, req Request) (Result, error) {
	if req.Symbol == "" {
		return Result{}, ErrNoSymbol
	}
	if len(req.Timeframes) == 0 {
		req.Timeframes = []domain.Timeframe{domain.TimeframeDaily}
	}

	result := Result{Symbol: req.Symbol}

	for _, tf := range req.Timeframes {
		if !tf.Valid() {
			return Result{}, errors.Errorf("unsupported timeframe: %s", tf)
		}

		tfResult, candles, err := s.runTimeframe(ctx, req, tf)
		if err != nil {
			return Result{}, err
		}
		result.Timeframes = append(result.Timeframes, tfResult)

		if result.Summary == nil && len(candles) > 0 {
			result.Summary = buildMarketSummary(candles)
		}
	}

	return result, nil
}

func (s *Service) runTimeframe(ctx context.Context, req Request, tf domain.Timeframe) (TimeframeResult, []domain.Candle, error) {
	tfResult := TimeframeResult{Timeframe: tf}

	if !req.Force {
		exists, err := s.store.Exists(ctx, req.Symbol, req.Start, req.End, tf)
		if err != nil {
			return tfResult, nil, errors.Wrap(err, "failed to check stored clouds")
		}
		if exists {
			clouds, err := s.store.Query(ctx, req.Symbol, req.Start, req.End, tf)
			if err != nil {
				return tfResult, nil, errors.Wrap(err, "failed to load stored clouds")
			}
			s.logger.Info("returning stored trend clouds",
				zap.String("symbol", req.Symbol),
				zap.String("timeframe", tf.Title()),
				zap.Int("clouds", len(clouds)))
			tfResult.Clouds = clouds
			tfResult.FromCache = true
			return tfResult, nil, nil
		}
	}

	limit := req.CandleLimit
	if limit <= 0 {
		// Enough candles to cover the range plus a full lookback window,
		// scaled from days to this timeframe's candle count.
		days := int(req.End.Sub(req.Start).Hours()/24) + cloud.DefaultConfig().LookbackDays + 10
		limit = days * tf.CandlesPerDay()
	}

	candles, err := s.provider.GetCandles(ctx, req.Symbol, tf, limit)
	if err != nil {
		return tfResult, nil, errors.Wrap(err, "failed to fetch candles")
	}

	clouds, windowErrs, err := s.gen.GenerateRolling(ctx, req.Symbol, candles, req.Start, req.End, tf, req.IntervalDays)
	if err != nil && !errors.Is(err, context.Canceled) {
		return tfResult, nil, errors.Wrap(err, "rolling generation failed")
	}
	tfResult.WindowErrors = windowErrs

	for _, c := range clouds {
		if _, saveErr := s.store.Save(ctx, c); saveErr != nil {
			tfResult.SaveFailures++
			s.logger.Error("failed to save trend cloud",
				zap.String("symbol", c.Symbol),
				zap.Time("calculation_date", c.CalculationDate),
				zap.Error(saveErr))
			continue
		}
		tfResult.Saved++
	}

	s.logger.Info("trend cloud run complete",
		zap.String("symbol", req.Symbol),
		zap.String("timeframe", tf.Title()),
		zap.Int("clouds", len(clouds)),
		zap.Int("saved", tfResult.Saved),
		zap.Int("save_failures", tfResult.SaveFailures),
		zap.Int("window_errors", len(windowErrs)))

	tfResult.Clouds = clouds
	tfResult.Stats = buildCloudStats(clouds, windowErrs)
	return tfResult, candles, nil
}

// buildCloudStats summarizes a computed cloud set.
func buildCloudStats(clouds []domain.TrendCloudData, windowErrs []cloud.WindowError) CloudStats {
	stats := CloudStats{
		WindowsSucceeded: len(clouds),
		WindowsFailed:    len(windowErrs),
	}

	points, merged := 0, 0
	for _, c := range clouds {
		for _, p := range c.Points {
			if p.Type == domain.CloudSupport {
				stats.SupportPoints++
			} else {
				stats.ResistancePoints++
			}
			points++
			merged += p.MergedFrom
		}
	}
	if points > 0 {
		stats.MergeRate = float64(merged) / float64(points)
	}
	return stats
}

// buildMarketSummary derives headline context from the candle series.
func buildMarketSummary(candles []domain.Candle) *MarketSummary {
	closes := domain.Closes(candles)
	last := closes[len(closes)-1]

	summary := &MarketSummary{LastPrice: last, Trend: TrendNeutral}

	ema20, err20 := indicators.EMA(closes, 20)
	ema50, err50 := indicators.EMA(closes, 50)
	if err20 != nil || err50 != nil || len(ema20) == 0 || len(ema50) == 0 {
		return summary
	}

	summary.EMA20 = ema20[len(ema20)-1]
	summary.EMA50 = ema50[len(ema50)-1]

	switch {
	case last > summary.EMA20 && summary.EMA20 > summary.EMA50:
		summary.Trend = TrendBullish
	case last < summary.EMA20 && summary.EMA20 < summary.EMA50:
		summary.Trend = TrendBearish
	}
	return summary
}

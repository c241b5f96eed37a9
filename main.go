package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/adshao/go-binance/v2"
	bybit "github.com/hirokisan/bybit/v2"
	"github.com/vadiminshakov/trendcloud/config"
	"github.com/vadiminshakov/trendcloud/internal/services/cloud"
	"github.com/vadiminshakov/trendcloud/internal/services/cloudservice"
	"github.com/vadiminshakov/trendcloud/internal/services/convergence"
	"github.com/vadiminshakov/trendcloud/internal/services/market"
	"github.com/vadiminshakov/trendcloud/internal/services/pivot"
	"github.com/vadiminshakov/trendcloud/internal/services/trendline"
	"github.com/vadiminshakov/trendcloud/internal/storage/clouds"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Get()
	if err != nil {
		logger.Fatal("failed to get configuration", zap.Error(err))
	}

	store, err := clouds.New(clouds.Config{DSN: cfg.DatabaseDSN, MaxConns: 10, MaxIdle: 5})
	if err != nil {
		logger.Fatal("failed to open trend cloud store", zap.Error(err))
	}
	defer store.Close()

	var provider market.KlineProvider
	switch cfg.Exchange {
	case "bybit":
		provider = market.NewBybitKlineProvider(bybit.NewClient())
	default:
		provider = market.NewBinanceKlineProvider(binance.NewClient("", ""))
	}
	cached := market.NewCachingProvider(provider)

	detector := pivot.NewDetector(logger, cfg.Pivots)
	lineGen := trendline.NewGenerator(logger, trendline.DefaultConfig())
	analyzer := convergence.NewAnalyzer(logger, convergence.DefaultConfig())
	generator := cloud.NewGenerator(logger, cfg.Rolling, detector, lineGen, analyzer)

	service := cloudservice.NewService(logger, cached, generator, store)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	result, err := service.Run(ctx, cloudservice.Request{
		Symbol:       cfg.Symbol,
		Timeframes:   cfg.Timeframes,
		Start:        cfg.Start,
		End:          cfg.End,
		IntervalDays: cfg.IntervalDays,
		Force:        cfg.Force,
	})
	if err != nil {
		logger.Fatal("trend cloud run failed", zap.Error(err))
	}

	for _, tf := range result.Timeframes {
		logger.Info("timeframe result",
			zap.String("symbol", result.Symbol),
			zap.String("timeframe", tf.Timeframe.Title()),
			zap.Int("clouds", len(tf.Clouds)),
			zap.Bool("from_cache", tf.FromCache),
			zap.Int("saved", tf.Saved),
			zap.Int("save_failures", tf.SaveFailures),
			zap.Int("window_errors", len(tf.WindowErrors)),
			zap.Int("support_points", tf.Stats.SupportPoints),
			zap.Int("resistance_points", tf.Stats.ResistancePoints),
			zap.Float64("merge_rate", tf.Stats.MergeRate))
	}
	if result.Summary != nil {
		logger.Info("market summary",
			zap.Float64("last_price", result.Summary.LastPrice),
			zap.Float64("ema20", result.Summary.EMA20),
			zap.Float64("ema50", result.Summary.EMA50),
			zap.String("trend", string(result.Summary.Trend)))
	}
}

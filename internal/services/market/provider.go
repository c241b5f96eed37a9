// Package market supplies historical candles to the analysis pipeline.
// Providers return candles ordered ascending by timestamp; the pipeline
// relies on that ordering but does not verify it.
package market

import (
	"context"
	"sync"

	"github.com/vadiminshakov/trendcloud/internal/domain"
)

// KlineProvider fetches historical OHLCV candles for a symbol.
type KlineProvider interface {
	GetCandles(ctx context.Context, symbol string, tf domain.Timeframe, limit int) ([]domain.Candle, error)
}

// CachingProvider memoizes another provider per (symbol, timeframe, limit).
// Rolling runs re-read the same series for every timeframe pass; caching
// keeps that to one upstream fetch.
type CachingProvider struct {
	upstream KlineProvider

	mu    sync.RWMutex
	cache map[cacheKey][]domain.Candle
}

type cacheKey struct {
	symbol string
	tf     domain.Timeframe
	limit  int
}

// NewCachingProvider wraps upstream with an in-memory cache.
func NewCachingProvider(upstream KlineProvider) *CachingProvider {
	return &CachingProvider{
		upstream: upstream,
		cache:    make(map[cacheKey][]domain.Candle),
	}
}

// GetCandles returns cached candles or fetches them once from upstream.
func (p *CachingProvider) GetCandles(ctx context.Context, symbol string, tf domain.Timeframe, limit int) ([]domain.Candle, error) {
	key := cacheKey{symbol: symbol, tf: tf, limit: limit}

	p.mu.RLock()
	cached, ok := p.cache[key]
	p.mu.RUnlock()
	if ok {
		return cached, nil
	}

	candles, err := p.upstream.GetCandles(ctx, symbol, tf, limit)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cache[key] = candles
	p.mu.Unlock()

	return candles, nil
}

// Invalidate drops all cached series for a symbol.
func (p *CachingProvider) Invalidate(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key := range p.cache {
		if key.symbol == symbol {
			delete(p.cache, key)
		}
	}
}

package market

import (
	"context"
	"fmt"
	"time"

	bybit "github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/trendcloud/internal/domain"
)

// BybitKlineProvider implements KlineProvider for Bybit.
type BybitKlineProvider struct {
	client *bybit.Client
}

// NewBybitKlineProvider creates a new Bybit kline provider.
func NewBybitKlineProvider(client *bybit.Client) *BybitKlineProvider {
	return &BybitKlineProvider{client: client}
}

// GetCandles fetches kline data from Bybit, paging through the API's
// per-request cap as needed.
func (p *BybitKlineProvider) GetCandles(ctx context.Context, symbol string, tf domain.Timeframe, limit int) ([]domain.Candle, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}

	interval, err := convertIntervalToBybit(tf)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid timeframe: %s", tf)
	}

	const maxPerRequest = 200

	var allKlines []bybit.V5GetKlineItem
	remaining := limit

	// Bybit returns the latest candles of the requested bound, newest-first.
	// endCursor walks backwards so each page fetches strictly older candles
	// than the previous one.
	var endCursor *int64

	for remaining > 0 {
		batchSize := remaining
		if batchSize > maxPerRequest {
			batchSize = maxPerRequest
		}

		param := bybit.V5GetKlineParam{
			Category: bybit.CategoryV5Spot,
			Symbol:   bybit.SymbolV5(symbol),
			Interval: bybit.Interval(interval),
			Limit:    &batchSize,
			End:      endCursor,
		}

		result, err := p.client.V5().Market().GetKline(param)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to fetch klines from Bybit for %s", symbol)
		}
		if result == nil {
			return nil, errors.Errorf("empty result from Bybit API for %s", symbol)
		}

		klines := result.Result.List
		if len(klines) == 0 {
			if len(allKlines) == 0 {
				return nil, errors.Errorf("no kline data returned from Bybit for %s", symbol)
			}
			break
		}

		allKlines = append(allKlines, klines...)

		// fewer results than requested means we've reached the end
		if len(klines) < batchSize {
			break
		}

		remaining -= len(klines)

		// the list is newest-first, so its last entry is the oldest; the
		// next page must end just before it (end bound is inclusive)
		oldest, err := parseTimestamp(klines[len(klines)-1].StartTime)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse oldest kline start time")
		}
		next := oldest.UnixMilli() - 1
		endCursor = &next

		// avoid rate limiting by small delay between requests
		if remaining > 0 {
			time.Sleep(100 * time.Millisecond)
		}
	}

	candles := make([]domain.Candle, len(allKlines))
	for i, k := range allKlines {
		ts, err := parseTimestamp(k.StartTime)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse start time at index %d", i)
		}
		open, err := decimal.NewFromString(k.Open)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse open price at index %d", i)
		}
		high, err := decimal.NewFromString(k.High)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse high price at index %d", i)
		}
		low, err := decimal.NewFromString(k.Low)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse low price at index %d", i)
		}
		close, err := decimal.NewFromString(k.Close)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse close price at index %d", i)
		}
		volume, err := decimal.NewFromString(k.Volume)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse volume at index %d", i)
		}

		candles[i] = domain.Candle{
			Symbol:    symbol,
			Timestamp: ts,
			Open:      open.InexactFloat64(),
			High:      high.InexactFloat64(),
			Low:       low.InexactFloat64(),
			Close:     close.InexactFloat64(),
			Volume:    volume.InexactFloat64(),
		}
	}

	// Bybit returns newest-first; the pipeline wants ascending order.
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}

	return candles, nil
}

// convertIntervalToBybit maps a timeframe to Bybit's kline interval codes
// ("60", "240", "D", "W", "M").
func convertIntervalToBybit(tf domain.Timeframe) (string, error) {
	switch tf {
	case domain.TimeframeH1:
		return "60", nil
	case domain.TimeframeH4:
		return "240", nil
	case domain.TimeframeDaily:
		return "D", nil
	case domain.TimeframeWeekly:
		return "W", nil
	case domain.TimeframeMonthly:
		return "M", nil
	default:
		return "", fmt.Errorf("unsupported timeframe: %s", tf)
	}
}

// parseTimestamp converts a Bybit millisecond timestamp string to time.Time.
func parseTimestamp(ts string) (time.Time, error) {
	if ts == "" {
		return time.Time{}, errors.New("empty timestamp")
	}

	var msec int64
	if _, err := fmt.Sscanf(ts, "%d", &msec); err != nil {
		return time.Time{}, errors.Wrapf(err, "failed to parse timestamp: %s", ts)
	}

	return time.UnixMilli(msec), nil
}

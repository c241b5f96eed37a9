// Package pivot detects structurally significant local price extrema in a
// candle sequence and scores them for downstream trendline fitting.
package pivot

import (
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/vadiminshakov/trendcloud/internal/domain"
	"go.uber.org/zap"
)

const (
	// minCandles is the minimum input length for detection to run at all.
	minCandles = 5
	// isolationBand is the relative price band in which competing extrema
	// weaken a pivot.
	isolationBand = 0.005
	// maxVolumeRatio caps the volume factor so a single blowout print does
	// not dominate scoring.
	maxVolumeRatio = 3.0
)

// Config tunes detection for one timeframe.
type Config struct {
	// Lookback is the half-window w: a candle is a pivot only if it is the
	// strict extremum of [i-w, i+w].
	Lookback int
	// MinStrength drops pivots scored below this threshold.
	MinStrength float64
	// VolumeWeight scales the volume-ratio contribution to strength.
	VolumeWeight float64
	// MinSeparation drops same-type pivots this close (in candle indices)
	// to a stronger one.
	MinSeparation int
}

// DefaultConfig returns the detection defaults for a timeframe.
func DefaultConfig(tf domain.Timeframe) Config {
	switch tf {
	case domain.TimeframeMonthly:
		return Config{Lookback: 3, MinStrength: 0.4, VolumeWeight: 0.3, MinSeparation: 3}
	case domain.TimeframeWeekly:
		return Config{Lookback: 4, MinStrength: 0.4, VolumeWeight: 0.3, MinSeparation: 4}
	case domain.TimeframeDaily:
		return Config{Lookback: 5, MinStrength: 0.35, VolumeWeight: 0.25, MinSeparation: 7}
	case domain.TimeframeH4:
		return Config{Lookback: 4, MinStrength: 0.3, VolumeWeight: 0.2, MinSeparation: 5}
	default:
		return Config{Lookback: 3, MinStrength: 0.3, VolumeWeight: 0.2, MinSeparation: 5}
	}
}

// Detector finds and scores pivots. It holds configuration only; Detect is a
// pure function of its inputs.
type Detector struct {
	overrides map[domain.Timeframe]Config
	logger    *zap.Logger
}

// NewDetector creates a Detector. Overrides replace the per-timeframe
// defaults for the timeframes present in the map; pass nil to keep defaults.
func NewDetector(logger *zap.Logger, overrides map[domain.Timeframe]Config) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{overrides: overrides, logger: logger}
}

// ConfigFor resolves the effective configuration for a timeframe.
func (d *Detector) ConfigFor(tf domain.Timeframe) Config {
	if cfg, ok := d.overrides[tf]; ok {
		return cfg
	}
	return DefaultConfig(tf)
}

// Detect finds local extrema in candles, scores them, enforces minimum
// separation and returns the survivors ascending by timestamp. Fewer than
// five candles is not an error: the result is simply empty.
func (d *Detector) Detect(candles []domain.Candle, tf domain.Timeframe) []domain.PivotPoint {
	if len(candles) < minCandles {
		d.logger.Debug("insufficient candles for pivot detection",
			zap.Int("candles", len(candles)), zap.String("timeframe", tf.Title()))
		return nil
	}

	cfg := d.ConfigFor(tf)
	w := cfg.Lookback
	if w < 1 {
		w = 1
	}
	if len(candles) < 2*w+1 {
		d.logger.Debug("window does not fit candle count",
			zap.Int("candles", len(candles)), zap.Int("lookback", w))
		return nil
	}

	var candidates []domain.PivotPoint
	for i := w; i < len(candles)-w; i++ {
		if isStrictHigh(candles, i, w) {
			candidates = append(candidates, d.score(candles, i, w, domain.PivotHigh, tf, cfg))
		}
		if isStrictLow(candles, i, w) {
			candidates = append(candidates, d.score(candles, i, w, domain.PivotLow, tf, cfg))
		}
	}

	filtered := candidates[:0]
	for _, p := range candidates {
		if p.Strength >= cfg.MinStrength {
			filtered = append(filtered, p)
		}
	}

	survivors := enforceSeparation(filtered, cfg.MinSeparation)

	sort.Slice(survivors, func(i, j int) bool {
		return survivors[i].Timestamp.Before(survivors[j].Timestamp)
	})

	d.logger.Debug("pivot detection complete",
		zap.String("timeframe", tf.Title()),
		zap.Int("candidates", len(candidates)),
		zap.Int("pivots", len(survivors)))

	return survivors
}

// Validate rechecks each pivot against the source candle at its recorded
// index and splits the input into still-valid and rejected pivots. A
// mismatch indicates the candle slice was mutated after detection.
func (d *Detector) Validate(pivots []domain.PivotPoint, candles []domain.Candle) (valid, rejected []domain.PivotPoint) {
	for _, p := range pivots {
		idx := p.Meta.CandleIndex
		if idx < 0 || idx >= len(candles) {
			rejected = append(rejected, p)
			continue
		}

		c := candles[idx]
		want := c.High
		if p.Type == domain.PivotLow {
			want = c.Low
		}

		if !c.Timestamp.Equal(p.Timestamp) || p.Price != want {
			rejected = append(rejected, p)
			continue
		}
		valid = append(valid, p)
	}

	if len(rejected) > 0 {
		d.logger.Warn("rejected pivots failing source-candle validation",
			zap.Int("rejected", len(rejected)), zap.Int("valid", len(valid)))
	}
	return valid, rejected
}

func isStrictHigh(candles []domain.Candle, i, w int) bool {
	for j := i - w; j <= i+w; j++ {
		if j == i {
			continue
		}
		if candles[j].High >= candles[i].High {
			return false
		}
	}
	return true
}

func isStrictLow(candles []domain.Candle, i, w int) bool {
	for j := i - w; j <= i+w; j++ {
		if j == i {
			continue
		}
		if candles[j].Low <= candles[i].Low {
			return false
		}
	}
	return true
}

func (d *Detector) score(candles []domain.Candle, i, w int, typ domain.PivotType, tf domain.Timeframe, cfg Config) domain.PivotPoint {
	c := candles[i]
	price := c.High
	if typ == domain.PivotLow {
		price = c.Low
	}

	var meanPrice, meanVolume float64
	n := 0
	for j := i - w; j <= i+w; j++ {
		meanPrice += candles[j].Close
		meanVolume += candles[j].Volume
		n++
	}
	meanPrice /= float64(n)
	meanVolume /= float64(n)

	deviation := 0.0
	if meanPrice > 0 {
		deviation = math.Abs(price-meanPrice) / meanPrice
	}
	// 5% deviation from the local mean saturates the primary factor.
	deviationFactor := clamp01(deviation / 0.05)

	volumeRatio := 0.0
	if meanVolume > 0 {
		volumeRatio = math.Min(c.Volume/meanVolume, maxVolumeRatio)
	}
	volumeFactor := clamp01(volumeRatio / maxVolumeRatio)

	recency := clamp01(float64(i) / float64(len(candles)-1))

	// Competing extrema of the same family inside the isolation band make
	// the pivot less structurally distinct.
	competitors := 0
	for j := i - w; j <= i+w; j++ {
		if j == i {
			continue
		}
		other := candles[j].High
		if typ == domain.PivotLow {
			other = candles[j].Low
		}
		if price != 0 && math.Abs(other-price)/price <= isolationBand {
			competitors++
		}
	}
	isolation := clamp01(1 - 0.2*float64(competitors))

	strength := 0.45*deviationFactor + cfg.VolumeWeight*volumeFactor + 0.15*recency + 0.15*isolation
	strength = clamp01(clamp01(strength) * tf.Weight())

	return domain.PivotPoint{
		ID:            uuid.NewString(),
		Timestamp:     c.Timestamp,
		Price:         price,
		Type:          typ,
		Timeframe:     tf,
		Strength:      strength,
		Volume:        c.Volume,
		Confirmations: 2 * w,
		Meta: domain.PivotMeta{
			Lookback:       w,
			PriceDeviation: deviation,
			VolumeRatio:    volumeRatio,
			CandleIndex:    i,
		},
	}
}

// enforceSeparation keeps the strongest pivot of each same-type group closer
// together than minSeparation indices. Processing is strongest-first with a
// deterministic earlier-index tie-break.
func enforceSeparation(pivots []domain.PivotPoint, minSeparation int) []domain.PivotPoint {
	if minSeparation <= 0 || len(pivots) < 2 {
		return pivots
	}

	order := make([]domain.PivotPoint, len(pivots))
	copy(order, pivots)
	sort.Slice(order, func(i, j int) bool {
		if order[i].Strength != order[j].Strength {
			return order[i].Strength > order[j].Strength
		}
		return order[i].Meta.CandleIndex < order[j].Meta.CandleIndex
	})

	var kept []domain.PivotPoint
	for _, p := range order {
		blocked := false
		for _, k := range kept {
			if k.Type == p.Type && abs(k.Meta.CandleIndex-p.Meta.CandleIndex) < minSeparation {
				blocked = true
				break
			}
		}
		if !blocked {
			kept = append(kept, p)
		}
	}
	return kept
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
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

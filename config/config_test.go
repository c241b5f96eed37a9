package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/trendcloud/internal/domain"
)

func TestParseRange(t *testing.T) {
	start, end, err := parseRange("2024-01-01", "2024-06-30")
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), start)
	require.Equal(t, time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC), end)

	_, _, err = parseRange("", "2024-06-30")
	require.Error(t, err)

	_, _, err = parseRange("2024-06-30", "2024-01-01")
	require.Error(t, err)

	_, _, err = parseRange("01.01.2024", "2024-06-30")
	require.Error(t, err)
}

func TestParseTimeframes(t *testing.T) {
	tfs, err := parseTimeframes([]string{"1d", " 1w", "1M "})
	require.NoError(t, err)
	require.Equal(t, []domain.Timeframe{domain.TimeframeDaily, domain.TimeframeWeekly, domain.TimeframeMonthly}, tfs)

	_, err = parseTimeframes([]string{"15m"})
	require.Error(t, err)

	_, err = parseTimeframes([]string{"", " "})
	require.Error(t, err)
}

func TestGetYaml(t *testing.T) {
	raw := `
symbol: BTCUSDT
timeframes:
  - 1d
  - 1w
start: 2024-01-01
end: 2024-06-30
interval_days: 10
force: true
exchange: bybit
rolling:
  lookback_days: 200
  temperature: 1.5
pivots:
  1d:
    lookback: 7
    min_strength: 0.5
`
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	cfg, err := getYaml(path)
	require.NoError(t, err)

	require.Equal(t, "BTCUSDT", cfg.Symbol)
	require.Equal(t, []domain.Timeframe{domain.TimeframeDaily, domain.TimeframeWeekly}, cfg.Timeframes)
	require.Equal(t, 10, cfg.IntervalDays)
	require.True(t, cfg.Force)
	require.Equal(t, "bybit", cfg.Exchange)

	require.Equal(t, 200, cfg.Rolling.LookbackDays)
	require.Equal(t, 1.5, cfg.Rolling.Temperature)
	require.Equal(t, 10, cfg.Rolling.IntervalDays)
	// Unset rolling fields keep defaults.
	require.Equal(t, 5, cfg.Rolling.HorizonDays)
	require.Equal(t, 50, cfg.Rolling.MinWindowCandles)

	daily, ok := cfg.Pivots[domain.TimeframeDaily]
	require.True(t, ok)
	require.Equal(t, 7, daily.Lookback)
	require.Equal(t, 0.5, daily.MinStrength)
	// Fields absent from yaml fall back to the per-timeframe defaults.
	require.Equal(t, 7, daily.MinSeparation)
}

func TestGetYamlRejectsBadInput(t *testing.T) {
	write := func(raw string) string {
		path := filepath.Join(t.TempDir(), "config.yml")
		require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))
		return path
	}

	_, err := getYaml(write("timeframes: [1d]\nstart: 2024-01-01\nend: 2024-06-30\n"))
	require.Error(t, err) // no symbol

	_, err = getYaml(write("symbol: BTCUSDT\ntimeframes: [3m]\nstart: 2024-01-01\nend: 2024-06-30\n"))
	require.Error(t, err) // bad timeframe

	_, err = getYaml(write("symbol: BTCUSDT\ntimeframes: [1d]\nstart: 2024-06-30\nend: 2024-01-01\n"))
	require.Error(t, err) // inverted range

	_, err = getYaml(write("symbol: BTCUSDT\ntimeframes: [1d]\nstart: 2024-01-01\nend: 2024-06-30\npivots:\n  3m:\n    lookback: 5\n"))
	require.Error(t, err) // bad pivot timeframe

	_, err = getYaml(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
}

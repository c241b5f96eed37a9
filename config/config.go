package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/vadiminshakov/trendcloud/internal/domain"
	"github.com/vadiminshakov/trendcloud/internal/services/cloud"
	"github.com/vadiminshakov/trendcloud/internal/services/pivot"
	"gopkg.in/yaml.v3"
)

const dateLayout = "2006-01-02"

// Config is the resolved runtime configuration.
type Config struct {
	Symbol       string
	Timeframes   []domain.Timeframe
	Start        time.Time
	End          time.Time
	IntervalDays int
	Force        bool
	Exchange     string

	Rolling cloud.Config
	Pivots  map[domain.Timeframe]pivot.Config

	DatabaseDSN string
}

type configTmp struct {
	Symbol       string   `yaml:"symbol"`
	Timeframes   []string `yaml:"timeframes"`
	Start        string   `yaml:"start"`
	End          string   `yaml:"end"`
	IntervalDays int      `yaml:"interval_days,omitempty"`
	Force        bool     `yaml:"force,omitempty"`
	Exchange     string   `yaml:"exchange,omitempty"`

	Rolling struct {
		LookbackDays     int     `yaml:"lookback_days,omitempty"`
		HorizonDays      int     `yaml:"horizon_days,omitempty"`
		MergeThreshold   float64 `yaml:"merge_threshold,omitempty"`
		Temperature      float64 `yaml:"temperature,omitempty"`
		MaxClusters      int     `yaml:"max_clusters,omitempty"`
		MinWindowCandles int     `yaml:"min_window_candles,omitempty"`
		Workers          int     `yaml:"workers,omitempty"`
	} `yaml:"rolling,omitempty"`

	Pivots map[string]struct {
		Lookback      int     `yaml:"lookback,omitempty"`
		MinStrength   float64 `yaml:"min_strength,omitempty"`
		VolumeWeight  float64 `yaml:"volume_weight,omitempty"`
		MinSeparation int     `yaml:"min_separation,omitempty"`
	} `yaml:"pivots,omitempty"`
}

// Get resolves configuration from a yaml file when -config is given,
// otherwise from CLI flags. DB credentials always come from the
// environment (a .env file is honored when present).
func Get() (Config, error) {
	configPath := flag.String("config", "", "path to yaml config")
	symbol := flag.String("symbol", "", "symbol to analyze, e.g. BTCUSDT")
	timeframes := flag.String("timeframes", "1d", "comma-separated timeframes (1h,4h,1d,1w,1M)")
	start := flag.String("start", "", "range start, YYYY-MM-DD")
	end := flag.String("end", "", "range end, YYYY-MM-DD")
	intervalDays := flag.Int("interval-days", 5, "days between rolling windows")
	force := flag.Bool("force", false, "recompute even when stored results exist")
	exchange := flag.String("exchange", "binance", "candle source: binance or bybit")
	flag.Parse()

	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	var cfg Config
	var err error
	if *configPath != "" {
		cfg, err = getYaml(*configPath)
	} else {
		cfg, err = fromFlags(*symbol, *timeframes, *start, *end, *intervalDays, *force, *exchange)
	}
	if err != nil {
		return Config{}, err
	}

	cfg.DatabaseDSN = os.Getenv("DATABASE_DSN")
	if cfg.DatabaseDSN == "" {
		return Config{}, fmt.Errorf("DATABASE_DSN env is not set")
	}

	return cfg, nil
}

func fromFlags(symbol, timeframes, start, end string, intervalDays int, force bool, exchange string) (Config, error) {
	if symbol == "" {
		return Config{}, fmt.Errorf("symbol is required")
	}

	startT, endT, err := parseRange(start, end)
	if err != nil {
		return Config{}, err
	}

	tfs, err := parseTimeframes(strings.Split(timeframes, ","))
	if err != nil {
		return Config{}, err
	}

	rolling := cloud.DefaultConfig()
	rolling.IntervalDays = intervalDays

	return Config{
		Symbol:       symbol,
		Timeframes:   tfs,
		Start:        startT,
		End:          endT,
		IntervalDays: intervalDays,
		Force:        force,
		Exchange:     exchange,
		Rolling:      rolling,
	}, nil
}

func getYaml(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var tmp configTmp
	if err := yaml.Unmarshal(data, &tmp); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if tmp.Symbol == "" {
		return Config{}, fmt.Errorf("symbol is required")
	}

	startT, endT, err := parseRange(tmp.Start, tmp.End)
	if err != nil {
		return Config{}, err
	}

	tfs, err := parseTimeframes(tmp.Timeframes)
	if err != nil {
		return Config{}, err
	}

	rolling := cloud.DefaultConfig()
	if tmp.Rolling.LookbackDays > 0 {
		rolling.LookbackDays = tmp.Rolling.LookbackDays
	}
	if tmp.Rolling.HorizonDays > 0 {
		rolling.HorizonDays = tmp.Rolling.HorizonDays
	}
	if tmp.Rolling.MergeThreshold > 0 {
		rolling.MergeThreshold = tmp.Rolling.MergeThreshold
	}
	if tmp.Rolling.Temperature > 0 {
		rolling.Temperature = tmp.Rolling.Temperature
	}
	if tmp.Rolling.MaxClusters > 0 {
		rolling.MaxClusters = tmp.Rolling.MaxClusters
	}
	if tmp.Rolling.MinWindowCandles > 0 {
		rolling.MinWindowCandles = tmp.Rolling.MinWindowCandles
	}
	if tmp.Rolling.Workers > 0 {
		rolling.Workers = tmp.Rolling.Workers
	}
	if tmp.IntervalDays > 0 {
		rolling.IntervalDays = tmp.IntervalDays
	}

	var pivots map[domain.Timeframe]pivot.Config
	if len(tmp.Pivots) > 0 {
		pivots = make(map[domain.Timeframe]pivot.Config, len(tmp.Pivots))
		for tfStr, pc := range tmp.Pivots {
			tf := domain.Timeframe(tfStr)
			if !tf.Valid() {
				return Config{}, fmt.Errorf("unsupported pivot timeframe: %s", tfStr)
			}
			base := pivot.DefaultConfig(tf)
			if pc.Lookback > 0 {
				base.Lookback = pc.Lookback
			}
			if pc.MinStrength > 0 {
				base.MinStrength = pc.MinStrength
			}
			if pc.VolumeWeight > 0 {
				base.VolumeWeight = pc.VolumeWeight
			}
			if pc.MinSeparation > 0 {
				base.MinSeparation = pc.MinSeparation
			}
			pivots[tf] = base
		}
	}

	exchange := tmp.Exchange
	if exchange == "" {
		exchange = "binance"
	}

	return Config{
		Symbol:       tmp.Symbol,
		Timeframes:   tfs,
		Start:        startT,
		End:          endT,
		IntervalDays: rolling.IntervalDays,
		Force:        tmp.Force,
		Exchange:     exchange,
		Rolling:      rolling,
		Pivots:       pivots,
	}, nil
}

func parseRange(start, end string) (time.Time, time.Time, error) {
	if start == "" || end == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("start and end dates are required")
	}
	startT, err := time.Parse(dateLayout, start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start date %q: %w", start, err)
	}
	endT, err := time.Parse(dateLayout, end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end date %q: %w", end, err)
	}
	if endT.Before(startT) {
		return time.Time{}, time.Time{}, fmt.Errorf("end date is before start date")
	}
	return startT, endT, nil
}

func parseTimeframes(raw []string) ([]domain.Timeframe, error) {
	var tfs []domain.Timeframe
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		tf := domain.Timeframe(s)
		if !tf.Valid() {
			return nil, fmt.Errorf("unsupported timeframe: %s", s)
		}
		tfs = append(tfs, tf)
	}
	if len(tfs) == 0 {
		return nil, fmt.Errorf("at least one timeframe is required")
	}
	return tfs, nil
}

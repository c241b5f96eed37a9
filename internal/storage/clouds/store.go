// Package clouds persists trend cloud results in PostgreSQL. A cloud is
// unique per (symbol, calculation_date, target_date, timeframe); saving
// replaces any prior result for that key atomically.
package clouds

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/trendcloud/internal/domain"
)

// Config configures the postgres connection.
type Config struct {
	DSN      string
	MaxConns int
	MaxIdle  int
}

// Store is a sqlx-backed trend cloud store.
type Store struct {
	db *sqlx.DB
}

// New opens a pooled connection and ensures the schema exists.
func New(cfg Config) (*Store, error) {
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open postgres connection")
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping postgres")
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, errors.Wrap(err, "failed to create schema")
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection (used by tests).
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS trend_clouds (
	id               TEXT PRIMARY KEY,
	symbol           TEXT NOT NULL,
	calculation_date TIMESTAMPTZ NOT NULL,
	target_date      TIMESTAMPTZ NOT NULL,
	timeframe        TEXT NOT NULL,
	lookback_days    INTEGER NOT NULL,
	total_weight     DOUBLE PRECISION NOT NULL,
	total_trendlines INTEGER NOT NULL,
	zone_count       INTEGER NOT NULL,
	peak_price       DOUBLE PRECISION NOT NULL,
	peak_weight      DOUBLE PRECISION NOT NULL,
	peak_density     DOUBLE PRECISION NOT NULL,
	concentration    DOUBLE PRECISION NOT NULL,
	price_min        DOUBLE PRECISION NOT NULL,
	price_max        DOUBLE PRECISION NOT NULL,
	confidence       DOUBLE PRECISION NOT NULL,
	UNIQUE (symbol, calculation_date, target_date, timeframe)
);

CREATE TABLE IF NOT EXISTS trend_cloud_points (
	cloud_id          TEXT NOT NULL REFERENCES trend_clouds(id) ON DELETE CASCADE,
	point_id          TEXT NOT NULL,
	point_type        TEXT NOT NULL,
	price             DOUBLE PRECISION NOT NULL,
	weight            DOUBLE PRECISION NOT NULL,
	normalized_weight DOUBLE PRECISION NOT NULL,
	density           DOUBLE PRECISION NOT NULL,
	trendline_count   INTEGER NOT NULL,
	confidence        DOUBLE PRECISION NOT NULL,
	price_min         DOUBLE PRECISION NOT NULL,
	price_max         DOUBLE PRECISION NOT NULL,
	merged_from       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trend_clouds_symbol_date
	ON trend_clouds (symbol, calculation_date);
`

type cloudRow struct {
	ID              string    `db:"id"`
	Symbol          string    `db:"symbol"`
	CalculationDate time.Time `db:"calculation_date"`
	TargetDate      time.Time `db:"target_date"`
	Timeframe       string    `db:"timeframe"`
	LookbackDays    int       `db:"lookback_days"`
	TotalWeight     float64   `db:"total_weight"`
	TotalTrendlines int       `db:"total_trendlines"`
	ZoneCount       int       `db:"zone_count"`
	PeakPrice       float64   `db:"peak_price"`
	PeakWeight      float64   `db:"peak_weight"`
	PeakDensity     float64   `db:"peak_density"`
	Concentration   float64   `db:"concentration"`
	PriceMin        float64   `db:"price_min"`
	PriceMax        float64   `db:"price_max"`
	Confidence      float64   `db:"confidence"`
}

type pointRow struct {
	CloudID          string  `db:"cloud_id"`
	PointID          string  `db:"point_id"`
	PointType        string  `db:"point_type"`
	Price            float64 `db:"price"`
	Weight           float64 `db:"weight"`
	NormalizedWeight float64 `db:"normalized_weight"`
	Density          float64 `db:"density"`
	TrendlineCount   int     `db:"trendline_count"`
	Confidence       float64 `db:"confidence"`
	PriceMin         float64 `db:"price_min"`
	PriceMax         float64 `db:"price_max"`
	MergedFrom       int     `db:"merged_from"`
}

// Save stores a cloud, replacing any prior result for its composite key.
// The delete and inserts run in one transaction so readers never observe a
// half-written cloud. Returns the stored row id.
func (s *Store) Save(ctx context.Context, cloud domain.TrendCloudData) (string, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM trend_clouds
		 WHERE symbol = $1 AND calculation_date = $2 AND target_date = $3 AND timeframe = $4`,
		cloud.Symbol, cloud.CalculationDate, cloud.TargetDate, string(cloud.Timeframe))
	if err != nil {
		return "", errors.Wrap(err, "failed to delete prior cloud")
	}

	id := uuid.NewString()
	row := cloudRow{
		ID:              id,
		Symbol:          cloud.Symbol,
		CalculationDate: cloud.CalculationDate,
		TargetDate:      cloud.TargetDate,
		Timeframe:       string(cloud.Timeframe),
		LookbackDays:    cloud.LookbackDays,
		TotalWeight:     cloud.Summary.TotalWeight,
		TotalTrendlines: cloud.Summary.TotalTrendlines,
		ZoneCount:       cloud.Summary.ConvergenceZoneCount,
		PeakPrice:       cloud.Summary.PeakPrice,
		PeakWeight:      cloud.Summary.PeakWeight,
		PeakDensity:     cloud.Summary.PeakDensity,
		Concentration:   cloud.Summary.ConcentrationRatio,
		PriceMin:        cloud.Summary.PriceMin,
		PriceMax:        cloud.Summary.PriceMax,
		Confidence:      cloud.Summary.ConfidenceScore,
	}

	_, err = tx.NamedExecContext(ctx,
		`INSERT INTO trend_clouds
		 (id, symbol, calculation_date, target_date, timeframe, lookback_days,
		  total_weight, total_trendlines, zone_count, peak_price, peak_weight,
		  peak_density, concentration, price_min, price_max, confidence)
		 VALUES
		 (:id, :symbol, :calculation_date, :target_date, :timeframe, :lookback_days,
		  :total_weight, :total_trendlines, :zone_count, :peak_price, :peak_weight,
		  :peak_density, :concentration, :price_min, :price_max, :confidence)`,
		row)
	if err != nil {
		return "", errors.Wrap(err, "failed to insert cloud")
	}

	for _, p := range cloud.Points {
		pr := pointRow{
			CloudID:          id,
			PointID:          p.CloudID,
			PointType:        string(p.Type),
			Price:            p.Price,
			Weight:           p.Weight,
			NormalizedWeight: p.NormalizedWeight,
			Density:          p.Density,
			TrendlineCount:   p.TrendlineCount,
			Confidence:       p.Confidence,
			PriceMin:         p.PriceMin,
			PriceMax:         p.PriceMax,
			MergedFrom:       p.MergedFrom,
		}
		_, err = tx.NamedExecContext(ctx,
			`INSERT INTO trend_cloud_points
			 (cloud_id, point_id, point_type, price, weight, normalized_weight,
			  density, trendline_count, confidence, price_min, price_max, merged_from)
			 VALUES
			 (:cloud_id, :point_id, :point_type, :price, :weight, :normalized_weight,
			  :density, :trendline_count, :confidence, :price_min, :price_max, :merged_from)`,
			pr)
		if err != nil {
			return "", errors.Wrap(err, "failed to insert cloud point")
		}
	}

	if err := tx.Commit(); err != nil {
		return "", errors.Wrap(err, "failed to commit cloud")
	}
	return id, nil
}

// Query returns clouds for a symbol whose calculation date falls in
// [start, end], oldest first. Pass an empty timeframe to match all.
func (s *Store) Query(ctx context.Context, symbol string, start, end time.Time, tf domain.Timeframe) ([]domain.TrendCloudData, error) {
	query := `SELECT * FROM trend_clouds
		 WHERE symbol = $1 AND calculation_date >= $2 AND calculation_date <= $3`
	args := []interface{}{symbol, start, end}
	if tf != "" {
		query += ` AND timeframe = $4`
		args = append(args, string(tf))
	}
	query += ` ORDER BY calculation_date`

	var rows []cloudRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to query clouds")
	}

	clouds := make([]domain.TrendCloudData, 0, len(rows))
	for _, row := range rows {
		var points []pointRow
		err := s.db.SelectContext(ctx, &points,
			`SELECT * FROM trend_cloud_points WHERE cloud_id = $1 ORDER BY normalized_weight DESC`,
			row.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to query points for cloud %s", row.ID)
		}
		clouds = append(clouds, toDomain(row, points))
	}

	return clouds, nil
}

// Exists reports whether any cloud matches the symbol, range and optional
// timeframe.
func (s *Store) Exists(ctx context.Context, symbol string, start, end time.Time, tf domain.Timeframe) (bool, error) {
	query := `SELECT EXISTS (
		 SELECT 1 FROM trend_clouds
		 WHERE symbol = $1 AND calculation_date >= $2 AND calculation_date <= $3`
	args := []interface{}{symbol, start, end}
	if tf != "" {
		query += ` AND timeframe = $4`
		args = append(args, string(tf))
	}
	query += `)`

	var exists bool
	if err := s.db.GetContext(ctx, &exists, query, args...); err != nil {
		return false, errors.Wrap(err, "failed to check cloud existence")
	}
	return exists, nil
}

// Stats summarizes the store contents, optionally for one symbol.
type Stats struct {
	TotalClouds int
	TotalPoints int
	DateFrom    time.Time
	DateTo      time.Time
	Symbols     []string
}

// Stats computes aggregate counts and date range. symbol may be empty.
func (s *Store) Stats(ctx context.Context, symbol string) (Stats, error) {
	var stats Stats

	where := ""
	var args []interface{}
	if symbol != "" {
		where = ` WHERE symbol = $1`
		args = append(args, symbol)
	}

	row := struct {
		Clouds int          `db:"clouds"`
		From   sql.NullTime `db:"date_from"`
		To     sql.NullTime `db:"date_to"`
	}{}
	err := s.db.GetContext(ctx, &row,
		`SELECT COUNT(*) AS clouds,
		        MIN(calculation_date) AS date_from,
		        MAX(calculation_date) AS date_to
		 FROM trend_clouds`+where, args...)
	if err != nil {
		return stats, errors.Wrap(err, "failed to aggregate clouds")
	}
	stats.TotalClouds = row.Clouds
	if row.From.Valid {
		stats.DateFrom = row.From.Time
	}
	if row.To.Valid {
		stats.DateTo = row.To.Time
	}

	pointsQuery := `SELECT COUNT(*) FROM trend_cloud_points p
		 JOIN trend_clouds c ON c.id = p.cloud_id` + where
	if err := s.db.GetContext(ctx, &stats.TotalPoints, pointsQuery, args...); err != nil {
		return stats, errors.Wrap(err, "failed to count points")
	}

	symbolsQuery := `SELECT DISTINCT symbol FROM trend_clouds` + where + ` ORDER BY symbol`
	if err := s.db.SelectContext(ctx, &stats.Symbols, symbolsQuery, args...); err != nil {
		return stats, errors.Wrap(err, "failed to list symbols")
	}

	return stats, nil
}

// ClearAll truncates the store.
func (s *Store) ClearAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `TRUNCATE trend_cloud_points, trend_clouds`); err != nil {
		return errors.Wrap(err, "failed to clear clouds")
	}
	return nil
}

func toDomain(row cloudRow, points []pointRow) domain.TrendCloudData {
	cloud := domain.TrendCloudData{
		Symbol:          row.Symbol,
		CalculationDate: row.CalculationDate,
		TargetDate:      row.TargetDate,
		Timeframe:       domain.Timeframe(row.Timeframe),
		LookbackDays:    row.LookbackDays,
		Summary: domain.CloudSummary{
			TotalWeight:          row.TotalWeight,
			TotalTrendlines:      row.TotalTrendlines,
			ConvergenceZoneCount: row.ZoneCount,
			PeakPrice:            row.PeakPrice,
			PeakWeight:           row.PeakWeight,
			PeakDensity:          row.PeakDensity,
			ConcentrationRatio:   row.Concentration,
			PriceMin:             row.PriceMin,
			PriceMax:             row.PriceMax,
			ConfidenceScore:      row.Confidence,
		},
	}
	for _, p := range points {
		cloud.Points = append(cloud.Points, domain.TrendCloudPoint{
			CloudID:          p.PointID,
			Type:             domain.CloudType(p.PointType),
			Price:            p.Price,
			Weight:           p.Weight,
			NormalizedWeight: p.NormalizedWeight,
			Density:          p.Density,
			TrendlineCount:   p.TrendlineCount,
			Confidence:       p.Confidence,
			PriceMin:         p.PriceMin,
			PriceMax:         p.PriceMax,
			MergedFrom:       p.MergedFrom,
		})
	}
	return cloud
}

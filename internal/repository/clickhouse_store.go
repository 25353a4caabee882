package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"VegeCast/internal/domain/models"
	pkgch "VegeCast/pkg/clickhouse"
	applogger "VegeCast/pkg/logger"
)

// CHAggregateStore implements AggregateReader backed by the ClickHouse
// tables the ingestion pipeline maintains.
type CHAggregateStore struct {
	db *sql.DB
	l  *applogger.Logger
}

func NewCHAggregateStore(ch *pkgch.Client) *CHAggregateStore {
	return &CHAggregateStore{db: ch.DB()}
}

// SetLogger injects a structured logger.
func (s *CHAggregateStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CHAggregateStore) Weather(ctx context.Context, region string, p models.Period) (models.WeatherRow, bool, error) {
	const q = `
        SELECT max_temp, mean_temp, min_temp, sum_precipitation, sunshine_duration, ave_humidity
        FROM compute_weather
        WHERE region = ? AND year = ? AND month = ? AND half = ?
        LIMIT 1
    `
	var row models.WeatherRow
	var maxT, meanT, minT, precip, sunshine, humidity sql.NullFloat64
	err := s.db.QueryRowContext(ctx, q, region, p.Year, p.Month, p.Half).
		Scan(&maxT, &meanT, &minT, &precip, &sunshine, &humidity)
	if err == sql.ErrNoRows {
		return models.WeatherRow{}, false, nil
	}
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse weather query error",
				applogger.String("region", region),
				applogger.String("period", p.String()),
				applogger.Error(err),
			)
		}
		return models.WeatherRow{}, false, fmt.Errorf("get weather: %w", err)
	}

	row.Region = region
	row.Year, row.Month, row.Half = p.Year, p.Month, p.Half
	row.MaxTemp = nullable(maxT)
	row.MeanTemp = nullable(meanT)
	row.MinTemp = nullable(minT)
	row.SumPrecipitation = nullable(precip)
	row.SunshineDuration = nullable(sunshine)
	row.AveHumidity = nullable(humidity)
	return row, true, nil
}

func (s *CHAggregateStore) Market(ctx context.Context, vegetable, region string, p models.Period) (models.MarketRow, bool, error) {
	const q = `
        SELECT average_price, source_price, vol, trend,
               prev_price, prev_vol, years_price, years_vol
        FROM compute_market
        WHERE vegetable = ? AND region = ? AND year = ? AND month = ? AND half = ?
        LIMIT 1
    `
	var (
		row                          models.MarketRow
		avg, src, vol                sql.NullFloat64
		trend                        sql.NullString
		prevP, prevV, yearsP, yearsV sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, q, vegetable, region, p.Year, p.Month, p.Half).
		Scan(&avg, &src, &vol, &trend, &prevP, &prevV, &yearsP, &yearsV)
	if err == sql.ErrNoRows {
		return models.MarketRow{}, false, nil
	}
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse market query error",
				applogger.String("vegetable", vegetable),
				applogger.String("region", region),
				applogger.String("period", p.String()),
				applogger.Error(err),
			)
		}
		return models.MarketRow{}, false, fmt.Errorf("get market: %w", err)
	}

	row.Vegetable, row.Region = vegetable, region
	row.Year, row.Month, row.Half = p.Year, p.Month, p.Half
	row.AveragePrice = nullable(avg)
	row.SourcePrice = nullable(src)
	row.Volume = nullable(vol)
	row.Trend = trend.String
	row.PrevPrice = nullable(prevP)
	row.PrevVolume = nullable(prevV)
	row.YearsPrice = nullable(yearsP)
	row.YearsVolume = nullable(yearsV)
	return row, true, nil
}

func (s *CHAggregateStore) PriceHistory(ctx context.Context, vegetable, region string, month, fromYear, toYear int) ([]models.PricePoint, error) {
	start := time.Now()
	const q = `
        SELECT year, half, source_price
        FROM compute_market
        WHERE vegetable = ? AND region = ? AND month = ? AND year >= ? AND year <= ?
        ORDER BY year ASC, half ASC
    `
	rows, err := s.db.QueryContext(ctx, q, vegetable, region, month, fromYear, toYear)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse price_history query error",
				applogger.String("vegetable", vegetable),
				applogger.Int("month", month),
				applogger.Error(err),
			)
		}
		return nil, fmt.Errorf("get price history: %w", err)
	}
	defer rows.Close()

	out := make([]models.PricePoint, 0, 16)
	for rows.Next() {
		var (
			pt  models.PricePoint
			src sql.NullFloat64
		)
		if err := rows.Scan(&pt.Year, &pt.Half, &src); err != nil {
			return nil, fmt.Errorf("scan price point: %w", err)
		}
		pt.SourcePrice = nullable(src)
		out = append(out, pt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	if s.l != nil {
		s.l.Debug("clickhouse price_history ok",
			applogger.String("vegetable", vegetable),
			applogger.Int("month", month),
			applogger.Int("rows", len(out)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return out, nil
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// AggregateSchemaStatements returns the idempotent DDL for the aggregate
// tables, used by local setups where the ingestion pipeline has not
// created them yet.
func AggregateSchemaStatements() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS compute_weather (
            region String,
            year Int32,
            month Int32,
            half String,
            max_temp Nullable(Float64),
            mean_temp Nullable(Float64),
            min_temp Nullable(Float64),
            sum_precipitation Nullable(Float64),
            sunshine_duration Nullable(Float64),
            ave_humidity Nullable(Float64)
        ) ENGINE = ReplacingMergeTree
        ORDER BY (region, year, month, half)`,
		`CREATE TABLE IF NOT EXISTS compute_market (
            vegetable String,
            region String,
            year Int32,
            month Int32,
            half String,
            average_price Nullable(Float64),
            source_price Nullable(Float64),
            vol Nullable(Float64),
            trend String DEFAULT '',
            prev_price Nullable(Float64),
            prev_vol Nullable(Float64),
            years_price Nullable(Float64),
            years_vol Nullable(Float64)
        ) ENGINE = ReplacingMergeTree
        ORDER BY (vegetable, region, year, month, half)`,
	}
}

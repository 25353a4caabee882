package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"VegeCast/internal/domain/models"
	applogger "VegeCast/pkg/logger"
	pkgpg "VegeCast/pkg/postgres"
)

// PGReportStore implements ReportStore on Postgres. The unique key
// (version, year, month, half) makes every write an idempotent upsert.
type PGReportStore struct {
	db *sqlx.DB
	l  *applogger.Logger
}

func NewPGReportStore(pg *pkgpg.Client) *PGReportStore {
	return &PGReportStore{db: pg.DB()}
}

// SetLogger injects a structured logger.
func (s *PGReportStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *PGReportStore) Upsert(ctx context.Context, r models.PredictionReport) (bool, error) {
	var created bool
	err := s.db.GetContext(ctx, &created, `
        INSERT INTO prediction_reports
            (model_version_id, target_year, target_month, target_half,
             predict_price, min_price, max_price)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (model_version_id, target_year, target_month, target_half)
        DO UPDATE SET
            predict_price = EXCLUDED.predict_price,
            min_price = EXCLUDED.min_price,
            max_price = EXCLUDED.max_price,
            updated_at = now()
        RETURNING (xmax = 0) AS created`,
		r.ModelVersionID, r.TargetYear, r.TargetMonth, r.TargetHalf,
		r.PredictPrice, r.MinPrice, r.MaxPrice)
	if err != nil {
		return false, &models.PersistenceError{Op: "upsert_report", Err: err}
	}
	if s.l != nil {
		s.l.Debug("prediction report upserted",
			applogger.Int64("version_id", r.ModelVersionID),
			applogger.String("period", r.Period().String()),
			applogger.Bool("created", created))
	}
	return created, nil
}

func (s *PGReportStore) Get(ctx context.Context, versionID int64, p models.Period) (models.PredictionReport, bool, error) {
	var r models.PredictionReport
	err := s.db.GetContext(ctx, &r, `
        SELECT id, model_version_id, target_year, target_month, target_half,
               predict_price, min_price, max_price, created_at, updated_at
        FROM prediction_reports
        WHERE model_version_id = $1 AND target_year = $2 AND target_month = $3 AND target_half = $4`,
		versionID, p.Year, p.Month, p.Half)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PredictionReport{}, false, nil
	}
	if err != nil {
		return models.PredictionReport{}, false, &models.PersistenceError{Op: "get_report", Err: err}
	}
	return r, true, nil
}

func (s *PGReportStore) ListLatest(ctx context.Context, kindID *int64, limit int) ([]models.PredictionReport, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		out []models.PredictionReport
		err error
	)
	if kindID != nil {
		err = s.db.SelectContext(ctx, &out, `
            SELECT r.id, r.model_version_id, r.target_year, r.target_month, r.target_half,
                   r.predict_price, r.min_price, r.max_price, r.created_at, r.updated_at
            FROM prediction_reports r
            JOIN model_versions mv ON mv.id = r.model_version_id
            WHERE mv.model_kind_id = $1
            ORDER BY r.updated_at DESC, r.id DESC
            LIMIT $2`,
			*kindID, limit)
	} else {
		err = s.db.SelectContext(ctx, &out, `
            SELECT id, model_version_id, target_year, target_month, target_half,
                   predict_price, min_price, max_price, created_at, updated_at
            FROM prediction_reports
            ORDER BY updated_at DESC, id DESC
            LIMIT $1`,
			limit)
	}
	if err != nil {
		return nil, &models.PersistenceError{Op: "list_reports", Err: err}
	}
	return out, nil
}

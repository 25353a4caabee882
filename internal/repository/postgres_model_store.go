package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"VegeCast/internal/domain/models"
	domrepo "VegeCast/internal/domain/repository"
	applogger "VegeCast/pkg/logger"
	pkgpg "VegeCast/pkg/postgres"
)

// PGModelStore implements ModelStore on Postgres. All multi-row writes
// run in a transaction so the one-active-version rule can never be
// observed violated.
type PGModelStore struct {
	db *sqlx.DB
	l  *applogger.Logger
}

func NewPGModelStore(pg *pkgpg.Client) *PGModelStore {
	return &PGModelStore{db: pg.DB()}
}

// SetLogger injects a structured logger.
func (s *PGModelStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *PGModelStore) KindByName(ctx context.Context, tagName string) (models.ModelKind, bool, error) {
	var k models.ModelKind
	err := s.db.GetContext(ctx, &k,
		`SELECT id, tag_name, vegetable, created_at, updated_at FROM model_kinds WHERE tag_name = $1`, tagName)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ModelKind{}, false, nil
	}
	if err != nil {
		return models.ModelKind{}, false, &models.PersistenceError{Op: "kind_by_name", Err: err}
	}
	return k, true, nil
}

func (s *PGModelStore) KindByID(ctx context.Context, id int64) (models.ModelKind, bool, error) {
	var k models.ModelKind
	err := s.db.GetContext(ctx, &k,
		`SELECT id, tag_name, vegetable, created_at, updated_at FROM model_kinds WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ModelKind{}, false, nil
	}
	if err != nil {
		return models.ModelKind{}, false, &models.PersistenceError{Op: "kind_by_id", Err: err}
	}
	return k, true, nil
}

func (s *PGModelStore) GetOrCreateKind(ctx context.Context, tagName, vegetable string) (models.ModelKind, error) {
	var k models.ModelKind
	err := s.db.GetContext(ctx, &k, `
        INSERT INTO model_kinds (tag_name, vegetable)
        VALUES ($1, $2)
        ON CONFLICT (tag_name) DO UPDATE SET updated_at = now()
        RETURNING id, tag_name, vegetable, created_at, updated_at`,
		tagName, vegetable)
	if err != nil {
		return models.ModelKind{}, &models.PersistenceError{Op: "get_or_create_kind", Err: err}
	}
	return k, nil
}

func (s *PGModelStore) VariablesByIDs(ctx context.Context, ids []int64) ([]models.Variable, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(
		`SELECT id, name, previous_term FROM variables WHERE id IN (?) ORDER BY id`, ids)
	if err != nil {
		return nil, &models.PersistenceError{Op: "variables_by_ids", Err: err}
	}
	var out []models.Variable
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(query), args...); err != nil {
		return nil, &models.PersistenceError{Op: "variables_by_ids", Err: err}
	}
	return out, nil
}

func (s *PGModelStore) GetOrCreateVariable(ctx context.Context, name string, previousTerm int) (models.Variable, error) {
	var v models.Variable
	err := s.db.GetContext(ctx, &v, `
        INSERT INTO variables (name, previous_term)
        VALUES ($1, $2)
        ON CONFLICT (name, previous_term) DO UPDATE SET name = EXCLUDED.name
        RETURNING id, name, previous_term`,
		name, previousTerm)
	if err != nil {
		return models.Variable{}, &models.PersistenceError{Op: "get_or_create_variable", Err: err}
	}
	return v, nil
}

func (s *PGModelStore) FeatureSetVariables(ctx context.Context, kindID int64, targetMonth int) ([]models.Variable, error) {
	var out []models.Variable
	err := s.db.SelectContext(ctx, &out, `
        SELECT v.id, v.name, v.previous_term
        FROM feature_sets fs
        JOIN variables v ON v.id = fs.variable_id
        WHERE fs.model_kind_id = $1 AND fs.target_month = $2
        ORDER BY fs.id`,
		kindID, targetMonth)
	if err != nil {
		return nil, &models.PersistenceError{Op: "feature_set_variables", Err: err}
	}
	return out, nil
}

func (s *PGModelStore) ReplaceFeatureSet(ctx context.Context, kindID int64, targetMonth int, variableIDs []int64) error {
	return s.inTx(ctx, "replace_feature_set", func(tx *sqlx.Tx) error {
		return replaceFeatureSetTx(ctx, tx, kindID, targetMonth, variableIDs)
	})
}

func replaceFeatureSetTx(ctx context.Context, tx *sqlx.Tx, kindID int64, targetMonth int, variableIDs []int64) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM feature_sets WHERE model_kind_id = $1 AND target_month = $2`,
		kindID, targetMonth); err != nil {
		return fmt.Errorf("clear feature set: %w", err)
	}
	for _, id := range variableIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO feature_sets (model_kind_id, target_month, variable_id) VALUES ($1, $2, $3)`,
			kindID, targetMonth, id); err != nil {
			return fmt.Errorf("insert feature set row: %w", err)
		}
	}
	return nil
}

func (s *PGModelStore) SaveFittedModel(ctx context.Context, kindID int64, targetMonth int, fm domrepo.FittedModel) (int64, error) {
	var versionID int64
	err := s.inTx(ctx, "save_fitted_model", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `
            UPDATE model_versions SET is_active = false, updated_at = now()
            WHERE model_kind_id = $1 AND target_month = $2 AND is_active`,
			kindID, targetMonth); err != nil {
			return fmt.Errorf("deactivate versions: %w", err)
		}

		if err := tx.GetContext(ctx, &versionID, `
            INSERT INTO model_versions (model_kind_id, target_month, is_active)
            VALUES ($1, $2, true)
            RETURNING id`,
			kindID, targetMonth); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}

		// The feature set follows the fitted variables exactly, so the
		// next fit without an explicit list reproduces this model.
		variableIDs := make([]int64, 0, len(fm.Coefficients))
		for _, c := range fm.Coefficients {
			if c.IsSegment {
				continue
			}
			variableIDs = append(variableIDs, c.Variable.ID)
		}
		if err := replaceFeatureSetTx(ctx, tx, kindID, targetMonth, variableIDs); err != nil {
			return err
		}

		return insertFitTx(ctx, tx, versionID, fm)
	})
	if err != nil {
		return 0, err
	}
	if s.l != nil {
		s.l.Debug("fitted model saved",
			applogger.Int64("kind_id", kindID),
			applogger.Int("month", targetMonth),
			applogger.Int64("version_id", versionID))
	}
	return versionID, nil
}

func (s *PGModelStore) RefitVersion(ctx context.Context, versionID int64, fm domrepo.FittedModel) error {
	return s.inTx(ctx, "refit_version", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE model_versions SET updated_at = now() WHERE id = $1`, versionID)
		if err != nil {
			return fmt.Errorf("touch version: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return models.NewNotFound("モデルバージョン", fmt.Sprintf("%d", versionID))
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM coefficients WHERE model_version_id = $1`, versionID); err != nil {
			return fmt.Errorf("clear coefficients: %w", err)
		}
		return insertFitTx(ctx, tx, versionID, fm)
	})
}

// insertFitTx stores the evaluation and coefficients of one fit under an
// existing version.
func insertFitTx(ctx context.Context, tx *sqlx.Tx, versionID int64, fm domrepo.FittedModel) error {
	if _, err := tx.ExecContext(ctx, `
        INSERT INTO evaluations
            (model_version_id, multi_r, r2, adjusted_r2, f_signif, std_error,
             rmse, reg_ss, reg_ms, res_ss, res_ms, total_ss)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		versionID, fm.Evaluation.MultiR, fm.Evaluation.R2, fm.Evaluation.AdjustedR2,
		fm.Evaluation.FSignificance, fm.Evaluation.StdError, fm.Evaluation.RMSE,
		fm.Evaluation.RegSS, fm.Evaluation.RegMS, fm.Evaluation.ResSS,
		fm.Evaluation.ResMS, fm.Evaluation.TotalSS); err != nil {
		return fmt.Errorf("insert evaluation: %w", err)
	}

	for _, c := range fm.Coefficients {
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO coefficients
                (model_version_id, variable_id, coef, t_value, p_value, std_error, is_segment)
            VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			versionID, c.Variable.ID, c.Coef, c.TValue, c.PValue, c.StdError, c.IsSegment); err != nil {
			return fmt.Errorf("insert coefficient: %w", err)
		}
	}
	return nil
}

func (s *PGModelStore) ActiveVersions(ctx context.Context) ([]models.ModelVersion, error) {
	var out []models.ModelVersion
	err := s.db.SelectContext(ctx, &out, `
        SELECT id, model_kind_id, target_month, is_active, created_at, updated_at
        FROM model_versions
        WHERE is_active
        ORDER BY model_kind_id, target_month`)
	if err != nil {
		return nil, &models.PersistenceError{Op: "active_versions", Err: err}
	}
	return out, nil
}

func (s *PGModelStore) ActiveVersion(ctx context.Context, kindID int64, targetMonth int) (models.ModelVersion, bool, error) {
	var v models.ModelVersion
	err := s.db.GetContext(ctx, &v, `
        SELECT id, model_kind_id, target_month, is_active, created_at, updated_at
        FROM model_versions
        WHERE model_kind_id = $1 AND target_month = $2 AND is_active`,
		kindID, targetMonth)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ModelVersion{}, false, nil
	}
	if err != nil {
		return models.ModelVersion{}, false, &models.PersistenceError{Op: "active_version", Err: err}
	}
	return v, true, nil
}

func (s *PGModelStore) Coefficients(ctx context.Context, versionID int64) ([]models.Coefficient, error) {
	rows, err := s.db.QueryxContext(ctx, `
        SELECT c.id, c.model_version_id, c.variable_id, c.coef, c.t_value,
               c.p_value, c.std_error, c.is_segment,
               v.id AS v_id, v.name AS v_name, v.previous_term AS v_previous_term
        FROM coefficients c
        JOIN variables v ON v.id = c.variable_id
        WHERE c.model_version_id = $1
        ORDER BY c.id`,
		versionID)
	if err != nil {
		return nil, &models.PersistenceError{Op: "coefficients", Err: err}
	}
	defer rows.Close()

	var out []models.Coefficient
	for rows.Next() {
		var c models.Coefficient
		if err := rows.Scan(&c.ID, &c.ModelVersionID, &c.VariableID, &c.Coef,
			&c.TValue, &c.PValue, &c.StdError, &c.IsSegment,
			&c.Variable.ID, &c.Variable.Name, &c.Variable.PreviousTerm); err != nil {
			return nil, &models.PersistenceError{Op: "coefficients", Err: err}
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.PersistenceError{Op: "coefficients", Err: err}
	}
	return out, nil
}

func (s *PGModelStore) LatestEvaluation(ctx context.Context, versionID int64) (models.Evaluation, bool, error) {
	var ev models.Evaluation
	err := s.db.GetContext(ctx, &ev, `
        SELECT id, model_version_id, multi_r, r2, adjusted_r2, f_signif, std_error,
               rmse, reg_ss, reg_ms, res_ss, res_ms, total_ss, created_at
        FROM evaluations
        WHERE model_version_id = $1
        ORDER BY created_at DESC, id DESC
        LIMIT 1`,
		versionID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Evaluation{}, false, nil
	}
	if err != nil {
		return models.Evaluation{}, false, &models.PersistenceError{Op: "latest_evaluation", Err: err}
	}
	return ev, true, nil
}

func (s *PGModelStore) ResetForecastData(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
        TRUNCATE prediction_reports, coefficients, evaluations, feature_sets,
                 model_versions, variables, model_kinds
        RESTART IDENTITY CASCADE`)
	if err != nil {
		return &models.PersistenceError{Op: "reset_forecast_data", Err: err}
	}
	return nil
}

func (s *PGModelStore) inTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return &models.PersistenceError{Op: op, Err: err}
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		// Typed domain errors pass through untouched.
		var nf *models.NotFoundError
		if errors.As(err, &nf) {
			return err
		}
		return &models.PersistenceError{Op: op, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &models.PersistenceError{Op: op, Err: err}
	}
	return nil
}

// ModelSchemaStatements returns the idempotent DDL of the model registry.
func ModelSchemaStatements() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS model_kinds (
            id BIGSERIAL PRIMARY KEY,
            tag_name TEXT NOT NULL UNIQUE,
            vegetable TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
		`CREATE TABLE IF NOT EXISTS variables (
            id BIGSERIAL PRIMARY KEY,
            name TEXT NOT NULL,
            previous_term INT NOT NULL,
            UNIQUE (name, previous_term)
        )`,
		`CREATE TABLE IF NOT EXISTS feature_sets (
            id BIGSERIAL PRIMARY KEY,
            model_kind_id BIGINT NOT NULL REFERENCES model_kinds(id) ON DELETE CASCADE,
            target_month INT NOT NULL,
            variable_id BIGINT NOT NULL REFERENCES variables(id) ON DELETE CASCADE,
            UNIQUE (model_kind_id, target_month, variable_id)
        )`,
		`CREATE TABLE IF NOT EXISTS model_versions (
            id BIGSERIAL PRIMARY KEY,
            model_kind_id BIGINT NOT NULL REFERENCES model_kinds(id) ON DELETE CASCADE,
            target_month INT NOT NULL,
            is_active BOOLEAN NOT NULL DEFAULT false,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
		`CREATE UNIQUE INDEX IF NOT EXISTS model_versions_one_active
            ON model_versions (model_kind_id, target_month) WHERE is_active`,
		`CREATE TABLE IF NOT EXISTS coefficients (
            id BIGSERIAL PRIMARY KEY,
            model_version_id BIGINT NOT NULL REFERENCES model_versions(id) ON DELETE CASCADE,
            variable_id BIGINT NOT NULL REFERENCES variables(id),
            coef DOUBLE PRECISION NOT NULL,
            t_value DOUBLE PRECISION NOT NULL,
            p_value DOUBLE PRECISION NOT NULL,
            std_error DOUBLE PRECISION NOT NULL,
            is_segment BOOLEAN NOT NULL DEFAULT false
        )`,
		`CREATE TABLE IF NOT EXISTS evaluations (
            id BIGSERIAL PRIMARY KEY,
            model_version_id BIGINT NOT NULL REFERENCES model_versions(id) ON DELETE CASCADE,
            multi_r DOUBLE PRECISION NOT NULL,
            r2 DOUBLE PRECISION NOT NULL,
            adjusted_r2 DOUBLE PRECISION NOT NULL,
            f_signif DOUBLE PRECISION NOT NULL,
            std_error DOUBLE PRECISION NOT NULL,
            rmse DOUBLE PRECISION NOT NULL,
            reg_ss DOUBLE PRECISION NOT NULL,
            reg_ms DOUBLE PRECISION NOT NULL,
            res_ss DOUBLE PRECISION NOT NULL,
            res_ms DOUBLE PRECISION NOT NULL,
            total_ss DOUBLE PRECISION NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
		`CREATE TABLE IF NOT EXISTS prediction_reports (
            id BIGSERIAL PRIMARY KEY,
            model_version_id BIGINT NOT NULL REFERENCES model_versions(id) ON DELETE CASCADE,
            target_year INT NOT NULL,
            target_month INT NOT NULL,
            target_half TEXT NOT NULL,
            predict_price DOUBLE PRECISION NOT NULL,
            min_price DOUBLE PRECISION NOT NULL,
            max_price DOUBLE PRECISION NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            UNIQUE (model_version_id, target_year, target_month, target_half)
        )`,
	}
}

package repository

import (
	"context"

	"VegeCast/internal/domain/models"
)

// AggregateReader reads the half-month aggregated analytics rows produced
// by the ingestion pipeline. Absence of a row is not an error: lookups
// return ok=false.
type AggregateReader interface {
	Weather(ctx context.Context, region string, p models.Period) (models.WeatherRow, bool, error)
	Market(ctx context.Context, vegetable, region string, p models.Period) (models.MarketRow, bool, error)
	// PriceHistory returns the ground-truth price points of a vegetable for
	// one calendar month, ordered by year then half, fromYear..toYear
	// inclusive.
	PriceHistory(ctx context.Context, vegetable, region string, month, fromYear, toYear int) ([]models.PricePoint, error)
}

// FittedCoefficient is one parameter of a freshly fitted model, carried
// with its variable identity into persistence.
type FittedCoefficient struct {
	Variable  models.Variable
	Coef      float64
	TValue    float64
	PValue    float64
	StdError  float64
	IsSegment bool
}

// FittedModel bundles everything SaveFittedModel persists for one fit.
type FittedModel struct {
	Coefficients []FittedCoefficient
	Evaluation   models.Evaluation
}

// ModelStore persists the model registry. SaveFittedModel and
// RefitVersion are transactional: either everything they describe is
// applied or nothing is.
type ModelStore interface {
	KindByName(ctx context.Context, tagName string) (models.ModelKind, bool, error)
	KindByID(ctx context.Context, id int64) (models.ModelKind, bool, error)
	GetOrCreateKind(ctx context.Context, tagName, vegetable string) (models.ModelKind, error)

	VariablesByIDs(ctx context.Context, ids []int64) ([]models.Variable, error)
	GetOrCreateVariable(ctx context.Context, name string, previousTerm int) (models.Variable, error)

	// FeatureSetVariables lists the variables registered for (kind, month),
	// empty when no feature set exists.
	FeatureSetVariables(ctx context.Context, kindID int64, targetMonth int) ([]models.Variable, error)
	// ReplaceFeatureSet deletes and recreates the feature set rows for
	// (kind, month). Used by seeding; SaveFittedModel does the same inside
	// its own transaction.
	ReplaceFeatureSet(ctx context.Context, kindID int64, targetMonth int, variableIDs []int64) error

	// SaveFittedModel atomically deactivates the previous active version
	// for (kind, month), creates a new active version, replaces the
	// feature set with exactly the fitted variables, and stores the
	// evaluation and coefficients. Returns the new version id.
	SaveFittedModel(ctx context.Context, kindID int64, targetMonth int, fm FittedModel) (int64, error)
	// RefitVersion replaces the coefficients and evaluation of an existing
	// version in place, keeping its id and active flag. Idempotent refresh,
	// not a new lineage.
	RefitVersion(ctx context.Context, versionID int64, fm FittedModel) error

	ActiveVersions(ctx context.Context) ([]models.ModelVersion, error)
	ActiveVersion(ctx context.Context, kindID int64, targetMonth int) (models.ModelVersion, bool, error)
	Coefficients(ctx context.Context, versionID int64) ([]models.Coefficient, error)
	LatestEvaluation(ctx context.Context, versionID int64) (models.Evaluation, bool, error)

	// ResetForecastData wipes feature sets, variables and kinds. Seed-time
	// only.
	ResetForecastData(ctx context.Context) error
}

// ReportStore persists forecast outputs, one row per
// (model version, target period).
type ReportStore interface {
	// Upsert inserts or updates the report for its key and reports whether
	// a new row was created.
	Upsert(ctx context.Context, r models.PredictionReport) (bool, error)
	Get(ctx context.Context, versionID int64, p models.Period) (models.PredictionReport, bool, error)
	// ListLatest returns the most recent reports, newest first, optionally
	// restricted to one model kind.
	ListLatest(ctx context.Context, kindID *int64, limit int) ([]models.PredictionReport, error)
}

// Metrics records operational counters for the forecast pipeline.
type Metrics interface {
	RecordFit(model string, success bool)
	RecordReport(created bool)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordPrediction(model string, price float64)
}

package usecase

import (
	"context"
	"time"

	"VegeCast/internal/domain/models"
	"VegeCast/internal/services/regression"
	applogger "VegeCast/pkg/logger"
)

// fallbackTerms is the secondary resolution offset: exactly one year of
// half-month periods.
const fallbackTerms = 24

// defaultIntervalRatio widens the prediction interval by ±5% when the
// version carries no usable RMSE.
const defaultIntervalRatio = 0.05

// RolloverParams describes one observed-period update driving the
// forecast rollover.
type RolloverParams struct {
	Year           int
	Month          int
	Half           string
	LookAheadYears int
	RefitModels    bool
	AllowBackfill  bool
}

// UpdatePredictionsForPeriod recomputes forecasts for every active model
// version after new data for the given period has landed. Only periods
// strictly after the updated one are touched unless AllowBackfill is set.
// Returns the number of reports created or updated; per-target failures
// are logged and skipped, never fatal.
func (f *Forecaster) UpdatePredictionsForPeriod(ctx context.Context, params RolloverParams) (int, error) {
	start := f.now()
	n, err := f.updatePredictions(ctx, params)
	f.metrics.RecordLatency("rollover", time.Since(start).Seconds())
	if err != nil {
		f.metrics.RecordError("rollover")
	}
	return n, err
}

func (f *Forecaster) updatePredictions(ctx context.Context, params RolloverParams) (int, error) {
	if params.Month < 1 || params.Month > 12 {
		return 0, models.NewValidation("対象月は1～12の値にしてください: %d", params.Month)
	}
	if !models.ValidHalf(params.Half) {
		return 0, models.NewValidation("前半・後半のいずれかを指定してください: %q", params.Half)
	}
	lookAhead := params.LookAheadYears
	if lookAhead < 0 {
		return 0, models.NewValidation("先読み年数は0以上にしてください: %d", lookAhead)
	}

	updated := models.Period{Year: params.Year, Month: params.Month, Half: params.Half}
	updatedIdx := updated.Index()

	versions, err := f.store.ActiveVersions(ctx)
	if err != nil {
		return 0, err
	}
	if len(versions) == 0 {
		f.logger.Info("rollover found no active model versions",
			applogger.String("period", updated.String()))
		return 0, nil
	}

	if params.RefitModels {
		f.refitActive(ctx, versions)
	}

	count := 0
	for _, v := range versions {
		kind, ok, err := f.store.KindByID(ctx, v.ModelKindID)
		if err != nil {
			return count, err
		}
		if !ok {
			f.logger.Warn("active version references missing model kind",
				applogger.Int64("version_id", v.ID),
				applogger.Int64("kind_id", v.ModelKindID))
			continue
		}

		coefs, err := f.store.Coefficients(ctx, v.ID)
		if err != nil {
			return count, err
		}
		if len(coefs) == 0 {
			// A version without coefficients cannot predict; skip, don't fail.
			f.logger.Warn("skipping version without coefficients",
				applogger.String("model", kind.TagName),
				applogger.Int64("version_id", v.ID))
			continue
		}
		rmse := f.versionRMSE(ctx, v.ID)

		for offset := 0; offset <= lookAhead; offset++ {
			for _, half := range []string{models.HalfFirst, models.HalfSecond} {
				target := models.Period{Year: params.Year + offset, Month: v.TargetMonth, Half: half}
				if !params.AllowBackfill && target.Index() <= updatedIdx {
					continue
				}
				created, err := f.storePrediction(ctx, kind, v.ID, coefs, rmse, target)
				if err != nil {
					f.logger.Warn("forecast target skipped",
						applogger.String("model", kind.TagName),
						applogger.String("period", target.String()),
						applogger.Error(err))
					f.metrics.RecordError("predict")
					continue
				}
				if created >= 0 {
					count++
				}
			}
		}
	}

	f.logger.Info("forecast rollover finished",
		applogger.String("period", updated.String()),
		applogger.Int("versions", len(versions)),
		applogger.Int("reports", count))
	return count, nil
}

// refitActive re-estimates every active version in place from the current
// data. Failures are logged per version and never abort the rollover.
func (f *Forecaster) refitActive(ctx context.Context, versions []models.ModelVersion) {
	toYear := f.now().Year()
	for _, v := range versions {
		kind, ok, err := f.store.KindByID(ctx, v.ModelKindID)
		if err != nil || !ok {
			f.logger.Warn("refit skipped: model kind unavailable",
				applogger.Int64("version_id", v.ID), applogger.Error(err))
			continue
		}
		variables, err := f.store.FeatureSetVariables(ctx, kind.ID, v.TargetMonth)
		if err != nil || len(variables) == 0 {
			f.logger.Warn("refit skipped: no feature set",
				applogger.String("model", kind.TagName),
				applogger.Int("month", v.TargetMonth), applogger.Error(err))
			continue
		}
		ds, err := f.matrix.Build(ctx, kind, v.TargetMonth, toYear, variables)
		if err != nil {
			f.logger.Warn("refit skipped: dataset build failed",
				applogger.String("model", kind.TagName),
				applogger.Int("month", v.TargetMonth), applogger.Error(err))
			continue
		}
		res, err := regression.Fit(ds.X, ds.Y)
		if err != nil {
			f.logger.Warn("refit skipped: regression failed",
				applogger.String("model", kind.TagName),
				applogger.Int("month", v.TargetMonth), applogger.Error(err))
			continue
		}
		fm, err := f.buildFittedModel(ctx, ds, res)
		if err != nil {
			f.logger.Warn("refit skipped: coefficient mapping failed",
				applogger.String("model", kind.TagName), applogger.Error(err))
			continue
		}
		if err := f.store.RefitVersion(ctx, v.ID, fm); err != nil {
			f.logger.Warn("refit persistence failed",
				applogger.String("model", kind.TagName),
				applogger.Int64("version_id", v.ID), applogger.Error(err))
			continue
		}
		f.metrics.RecordFit(kind.TagName, true)
		f.logger.Info("active version refitted",
			applogger.String("model", kind.TagName),
			applogger.Int64("version_id", v.ID),
			applogger.Float64("r2", res.R2))
	}
}

// versionRMSE returns the latest evaluation's RMSE, or 0 when the
// version has no evaluation or a non-positive RMSE.
func (f *Forecaster) versionRMSE(ctx context.Context, versionID int64) float64 {
	ev, ok, err := f.store.LatestEvaluation(ctx, versionID)
	if err != nil {
		f.logger.Warn("evaluation lookup failed",
			applogger.Int64("version_id", versionID), applogger.Error(err))
		return 0
	}
	if !ok || ev.RMSE <= 0 {
		return 0
	}
	return ev.RMSE
}

// predictAndStore computes and persists the forecast of one version for
// one target period, loading the version's coefficients itself. Used by
// the post-fit refresh; the rollover loop loads coefficients once per
// version instead.
func (f *Forecaster) predictAndStore(ctx context.Context, kind models.ModelKind, versionID int64, target models.Period) (bool, error) {
	coefs, err := f.store.Coefficients(ctx, versionID)
	if err != nil {
		return false, err
	}
	if len(coefs) == 0 {
		return false, models.NewNotFound("係数", kind.TagName)
	}
	created, err := f.storePrediction(ctx, kind, versionID, coefs, f.versionRMSE(ctx, versionID), target)
	return created == 1, err
}

// storePrediction evaluates the linear model at target and upserts the
// report. Returns 1 when a row was created, 0 when updated, -1 with a
// nil error never happens; errors carry the skip reason.
func (f *Forecaster) storePrediction(ctx context.Context, kind models.ModelKind, versionID int64, coefs []models.Coefficient, rmse float64, target models.Period) (int, error) {
	price, err := f.predict(ctx, kind, coefs, target)
	if err != nil {
		return -1, err
	}

	minPrice, maxPrice := interval(price, rmse)
	created, err := f.reports.Upsert(ctx, models.PredictionReport{
		ModelVersionID: versionID,
		TargetYear:     target.Year,
		TargetMonth:    target.Month,
		TargetHalf:     target.Half,
		PredictPrice:   price,
		MinPrice:       minPrice,
		MaxPrice:       maxPrice,
	})
	if err != nil {
		return -1, err
	}
	f.metrics.RecordReport(created)
	f.metrics.RecordPrediction(kind.TagName, price)
	f.logger.Debug("forecast stored",
		applogger.String("model", kind.TagName),
		applogger.String("period", target.String()),
		applogger.Float64("price", price),
		applogger.Bool("created", created))
	if created {
		return 1, nil
	}
	return 0, nil
}

// predict evaluates the stored coefficients at the target period. Each
// non-constant term resolves through the feature resolver; when that
// yields nothing, the same variable is retried exactly one year earlier.
// Variables missing on both paths contribute nothing. Fails only when no
// explanatory variable resolved at all.
func (f *Forecaster) predict(ctx context.Context, kind models.ModelKind, coefs []models.Coefficient, target models.Period) (float64, error) {
	var price float64
	resolved := 0
	for _, c := range coefs {
		if c.IsSegment || c.Variable.Name == models.ConstVariableName {
			price += c.Coef
			continue
		}
		val, ok, err := f.matrix.ResolveFeature(ctx, kind.Vegetable, c.Variable, target)
		if err != nil {
			return 0, err
		}
		if !ok {
			val, ok, err = f.matrix.ResolveFeature(ctx, kind.Vegetable, c.Variable, target.Minus(fallbackTerms))
			if err != nil {
				return 0, err
			}
		}
		if !ok {
			f.logger.Debug("feature unresolved for forecast",
				applogger.String("model", kind.TagName),
				applogger.String("variable", c.Variable.Name),
				applogger.Int("previous_term", c.Variable.PreviousTerm),
				applogger.String("period", target.String()))
			continue
		}
		price += c.Coef * val
		resolved++
	}
	if resolved == 0 {
		return 0, models.NewInsufficientData(
			"モデル「%s」の説明変数が%sの予測に使用できません", kind.TagName, target.String())
	}
	return price, nil
}

// interval returns the prediction band: ±RMSE when the model has one,
// otherwise ±5% of the predicted price.
func interval(price, rmse float64) (float64, float64) {
	if rmse > 0 {
		return price - rmse, price + rmse
	}
	delta := price * defaultIntervalRatio
	if delta < 0 {
		delta = -delta
	}
	return price - delta, price + delta
}

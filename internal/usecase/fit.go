package usecase

import (
	"context"
	"time"

	"VegeCast/internal/domain/models"
	domrepo "VegeCast/internal/domain/repository"
	"VegeCast/internal/services/regression"
	applogger "VegeCast/pkg/logger"
)

// Forecaster owns the fit-and-persist and prediction-rollover flows.
// All invocations run synchronously to completion; the relational store's
// transactions are the only shared-state protection required.
type Forecaster struct {
	store   domrepo.ModelStore
	reports domrepo.ReportStore
	matrix  *MatrixBuilder
	metrics domrepo.Metrics
	logger  *applogger.Logger
	now     func() time.Time
}

func NewForecaster(
	store domrepo.ModelStore,
	reports domrepo.ReportStore,
	matrix *MatrixBuilder,
	metrics domrepo.Metrics,
	logger *applogger.Logger,
) *Forecaster {
	return &Forecaster{
		store:   store,
		reports: reports,
		matrix:  matrix,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock overrides the time source.
func (f *Forecaster) SetClock(now func() time.Time) { f.now = now }

// FitAndPersist builds the dataset for (modelName, targetMonth), fits OLS
// and atomically persists the new model version. When variableIDs is
// empty the registered feature set is used. Returns the new version id.
func (f *Forecaster) FitAndPersist(ctx context.Context, modelName string, targetMonth int, variableIDs []int64) (int64, error) {
	start := f.now()
	id, err := f.fitAndPersist(ctx, modelName, targetMonth, variableIDs)
	f.metrics.RecordLatency("fit_and_persist", time.Since(start).Seconds())
	f.metrics.RecordFit(modelName, err == nil)
	if err != nil {
		f.metrics.RecordError("fit")
	}
	return id, err
}

func (f *Forecaster) fitAndPersist(ctx context.Context, modelName string, targetMonth int, variableIDs []int64) (int64, error) {
	if targetMonth < 1 || targetMonth > 12 {
		return 0, models.NewValidation("対象月は1～12の値にしてください: %d", targetMonth)
	}

	kind, ok, err := f.store.KindByName(ctx, modelName)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, models.NewNotFound("モデル種類", modelName)
	}

	variables, err := f.resolveVariableList(ctx, kind, targetMonth, variableIDs)
	if err != nil {
		return 0, err
	}

	ds, err := f.matrix.Build(ctx, kind, targetMonth, f.now().Year(), variables)
	if err != nil {
		return 0, err
	}

	n := len(ds.Y)
	p := len(ds.Variables) + 1
	if n < p+f.matrix.cfg.MinObsMargin {
		return 0, &models.InsufficientObservationsError{N: n, P: p, Margin: f.matrix.cfg.MinObsMargin}
	}

	res, err := regression.Fit(ds.X, ds.Y)
	if err != nil {
		return 0, models.NewInsufficientData(
			"モデル「%s」（%d月）の回帰計算に失敗しました: %v", modelName, targetMonth, err)
	}

	fm, err := f.buildFittedModel(ctx, ds, res)
	if err != nil {
		return 0, err
	}

	versionID, err := f.store.SaveFittedModel(ctx, kind.ID, targetMonth, fm)
	if err != nil {
		return 0, err
	}
	f.logger.Info("model version persisted",
		applogger.String("model", modelName),
		applogger.Int("month", targetMonth),
		applogger.Int64("version_id", versionID),
		applogger.Int("n", n),
		applogger.Int("p", len(ds.Variables)+1),
		applogger.Float64("r2", res.R2),
		applogger.Float64("rmse", res.RMSE),
	)

	// Convenience refresh of the current-period forecast. Outside the
	// persistence transaction; a failure here never fails the fit.
	f.refreshCurrentPeriod(ctx, kind, targetMonth, versionID)

	return versionID, nil
}

func (f *Forecaster) resolveVariableList(ctx context.Context, kind models.ModelKind, targetMonth int, variableIDs []int64) ([]models.Variable, error) {
	if len(variableIDs) > 0 {
		variables, err := f.store.VariablesByIDs(ctx, variableIDs)
		if err != nil {
			return nil, err
		}
		if len(variables) == 0 {
			return nil, models.NewValidation("選択された変数が見つかりません")
		}
		return variables, nil
	}
	variables, err := f.store.FeatureSetVariables(ctx, kind.ID, targetMonth)
	if err != nil {
		return nil, err
	}
	if len(variables) == 0 {
		return nil, models.NewValidation(
			"モデル「%s」（%d月）の特徴量セットが未設定です。特徴量を設定してからモデルを実行してください", kind.TagName, targetMonth)
	}
	return variables, nil
}

// buildFittedModel maps a regression result onto persistable coefficients,
// attaching the intercept to the reserved zero-lag const variable.
func (f *Forecaster) buildFittedModel(ctx context.Context, ds *Dataset, res *regression.Result) (domrepo.FittedModel, error) {
	constVar, err := f.store.GetOrCreateVariable(ctx, models.ConstVariableName, 0)
	if err != nil {
		return domrepo.FittedModel{}, err
	}

	coefs := make([]domrepo.FittedCoefficient, 0, len(res.Params))
	coefs = append(coefs, domrepo.FittedCoefficient{
		Variable:  constVar,
		Coef:      res.Params[0],
		TValue:    res.TValues[0],
		PValue:    res.PValues[0],
		StdError:  res.StdErrors[0],
		IsSegment: true,
	})
	for i, v := range ds.Variables {
		coefs = append(coefs, domrepo.FittedCoefficient{
			Variable: v,
			Coef:     res.Params[i+1],
			TValue:   res.TValues[i+1],
			PValue:   res.PValues[i+1],
			StdError: res.StdErrors[i+1],
		})
	}

	return domrepo.FittedModel{
		Coefficients: coefs,
		Evaluation: models.Evaluation{
			MultiR:        res.MultiR,
			R2:            res.R2,
			AdjustedR2:    res.AdjustedR2,
			FSignificance: res.FPValue,
			StdError:      res.StdError,
			RMSE:          res.RMSE,
			RegSS:         res.RegSS,
			RegMS:         res.RegMS,
			ResSS:         res.ResSS,
			ResMS:         res.ResMS,
			TotalSS:       res.TotalSS,
		},
	}, nil
}

func (f *Forecaster) refreshCurrentPeriod(ctx context.Context, kind models.ModelKind, targetMonth int, versionID int64) {
	now := f.now()
	target := models.Period{
		Year:  now.Year(),
		Month: targetMonth,
		Half:  models.HalfFromDay(now.Day()),
	}
	if _, err := f.predictAndStore(ctx, kind, versionID, target); err != nil {
		f.logger.Warn("post-fit forecast refresh failed",
			applogger.String("model", kind.TagName),
			applogger.String("period", target.String()),
			applogger.Error(err),
		)
	}
}

// RunForecastAnalysis fits every (model, month) combination and captures
// each outcome independently; one failing target never aborts the batch.
func (f *Forecaster) RunForecastAnalysis(ctx context.Context, modelNames []string, targetMonths []int) map[string]map[int]models.FitResult {
	results := make(map[string]map[int]models.FitResult, len(modelNames))
	for _, name := range modelNames {
		results[name] = make(map[int]models.FitResult, len(targetMonths))
		for _, month := range targetMonths {
			versionID, err := f.FitAndPersist(ctx, name, month, nil)
			if err != nil {
				f.logger.Warn("model fit failed",
					applogger.String("model", name),
					applogger.Int("month", month),
					applogger.Error(err),
				)
				results[name][month] = models.FitResult{Success: false, Error: err.Error()}
				continue
			}
			id := versionID
			results[name][month] = models.FitResult{Success: true, ModelVersionID: &id}
		}
	}
	return results
}

package usecase

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"VegeCast/internal/domain/models"
)

// newTestForecaster wires a Forecaster over the in-memory fakes with a
// fixed clock of 2024-07-10 (first half).
func newTestForecaster(reader *fakeReader, store *fakeModelStore, reports *fakeReportStore) (*Forecaster, *fakeMetrics) {
	metrics := &fakeMetrics{}
	matrix := NewMatrixBuilder(reader, testResolverConfig(), testLogger())
	f := NewForecaster(store, reports, matrix, metrics, testLogger())
	f.SetClock(func() time.Time { return time.Date(2024, 7, 10, 0, 0, 0, 0, time.UTC) })
	return f, metrics
}

// seedFitData builds an exactly linear month-5 dataset: feature averages
// come out as 20, 21, 22 and prices follow y = -300 + 20x.
func seedFitData(reader *fakeReader) {
	seedMonthlyWeather(reader, 5, 2015, 2024, false)
	reader.putPrice("キャベツ", "Hiroshima", 5, models.PricePoint{Year: 2021, Half: models.HalfFirst, SourcePrice: fp(100)})
	reader.putPrice("キャベツ", "Hiroshima", 5, models.PricePoint{Year: 2022, Half: models.HalfFirst, SourcePrice: fp(120)})
	reader.putPrice("キャベツ", "Hiroshima", 5, models.PricePoint{Year: 2023, Half: models.HalfFirst, SourcePrice: fp(140)})
}

func seedCabbageKind(t *testing.T, store *fakeModelStore) (models.ModelKind, models.Variable) {
	t.Helper()
	ctx := context.Background()
	kind, err := store.GetOrCreateKind(ctx, "cabbage_standard", "キャベツ")
	if err != nil {
		t.Fatalf("seed kind: %v", err)
	}
	v, err := store.GetOrCreateVariable(ctx, "mean_temp", 0)
	if err != nil {
		t.Fatalf("seed variable: %v", err)
	}
	if err := store.ReplaceFeatureSet(ctx, kind.ID, 5, []int64{v.ID}); err != nil {
		t.Fatalf("seed feature set: %v", err)
	}
	return kind, v
}

func TestFitAndPersistCreatesActiveVersion(t *testing.T) {
	reader := newFakeReader()
	seedFitData(reader)
	store := newFakeModelStore()
	reports := newFakeReportStore()
	kind, v := seedCabbageKind(t, store)
	f, metrics := newTestForecaster(reader, store, reports)

	versionID, err := f.FitAndPersist(context.Background(), "cabbage_standard", 5, nil)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}

	ver, ok, err := store.ActiveVersion(context.Background(), kind.ID, 5)
	if err != nil || !ok {
		t.Fatalf("active version lookup: ok=%v err=%v", ok, err)
	}
	if ver.ID != versionID {
		t.Fatalf("active version = %d, want %d", ver.ID, versionID)
	}

	coefs, err := store.Coefficients(context.Background(), versionID)
	if err != nil {
		t.Fatalf("coefficients: %v", err)
	}
	if len(coefs) != 2 {
		t.Fatalf("coefficient count = %d, want 2", len(coefs))
	}
	if !coefs[0].IsSegment || coefs[0].Variable.Name != models.ConstVariableName {
		t.Fatalf("first coefficient must be the constant term, got %+v", coefs[0])
	}
	if math.Abs(coefs[0].Coef-(-300)) > 1e-6 {
		t.Fatalf("intercept = %v, want -300", coefs[0].Coef)
	}
	if coefs[1].Variable.Name != "mean_temp" || math.Abs(coefs[1].Coef-20) > 1e-6 {
		t.Fatalf("slope coefficient = %+v, want mean_temp 20", coefs[1])
	}

	// The feature set is rewritten from the fitted variables; the constant
	// term stays out of it.
	fsVars, err := store.FeatureSetVariables(context.Background(), kind.ID, 5)
	if err != nil {
		t.Fatalf("feature set: %v", err)
	}
	if len(fsVars) != 1 || fsVars[0].ID != v.ID {
		t.Fatalf("feature set after fit = %v, want only %v", fsVars, v)
	}

	ev, ok, err := store.LatestEvaluation(context.Background(), versionID)
	if err != nil || !ok {
		t.Fatalf("evaluation: ok=%v err=%v", ok, err)
	}
	if math.Abs(ev.R2-1) > 1e-9 {
		t.Fatalf("R2 = %v, want 1 for exact line", ev.R2)
	}

	// Fitting refreshes the current-period forecast as a side effect:
	// 2024-07 clock, target month 5, first half, price = -300 + 20*23.
	rep, ok, err := reports.Get(context.Background(), versionID, models.Period{Year: 2024, Month: 5, Half: models.HalfFirst})
	if err != nil || !ok {
		t.Fatalf("post-fit report: ok=%v err=%v", ok, err)
	}
	if math.Abs(rep.PredictPrice-160) > 1e-6 {
		t.Fatalf("refreshed price = %v, want 160", rep.PredictPrice)
	}
	if metrics.fits != 1 {
		t.Fatalf("fit metric = %d, want 1", metrics.fits)
	}
}

// seedTwoVariableFitData builds a month-5 dataset over two weather
// series: mean_temp is linear in the year and sum_precipitation is its
// square, so the averaged columns stay linearly independent. Prices
// follow y = 10 + 2*mean_temp - 3*sum_precipitation exactly.
func seedTwoVariableFitData(reader *fakeReader) {
	for y := 2015; y <= 2024; y++ {
		for _, half := range []string{models.HalfFirst, models.HalfSecond} {
			a := float64(y - 2000)
			reader.putWeather("Hiroshima", models.Period{Year: y, Month: 5, Half: half},
				models.WeatherRow{MeanTemp: fp(a), SumPrecipitation: fp(a * a)})
		}
	}
	// The 3-year feature averages make these integers: e.g. for 2021 the
	// precipitation column is (19^2+20^2+21^2)/3 = 1202/3 and the price is
	// 10 + 2*20 - 1202 = -1152.
	prices := map[int]float64{2021: -1152, 2022: -1273, 2023: -1400}
	for y, price := range prices {
		for _, half := range []string{models.HalfFirst, models.HalfSecond} {
			reader.putPrice("キャベツ", "Hiroshima", 5, models.PricePoint{Year: y, Half: half, SourcePrice: fp(price)})
		}
	}
}

func TestFitAndPersistTwoVariables(t *testing.T) {
	reader := newFakeReader()
	seedTwoVariableFitData(reader)
	store := newFakeModelStore()
	reports := newFakeReportStore()
	kind, v1 := seedCabbageKind(t, store)
	v2, err := store.GetOrCreateVariable(context.Background(), "sum_precipitation", 0)
	if err != nil {
		t.Fatalf("seed variable: %v", err)
	}
	if err := store.ReplaceFeatureSet(context.Background(), kind.ID, 5, []int64{v1.ID, v2.ID}); err != nil {
		t.Fatalf("seed feature set: %v", err)
	}
	f, _ := newTestForecaster(reader, store, reports)

	versionID, err := f.FitAndPersist(context.Background(), "cabbage_standard", 5, nil)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}

	coefs, err := store.Coefficients(context.Background(), versionID)
	if err != nil {
		t.Fatalf("coefficients: %v", err)
	}
	if len(coefs) != 3 {
		t.Fatalf("coefficient count = %d, want constant plus two slopes", len(coefs))
	}
	if !coefs[0].IsSegment || coefs[0].Variable.Name != models.ConstVariableName {
		t.Fatalf("first coefficient must be the constant term, got %+v", coefs[0])
	}
	if math.Abs(coefs[0].Coef-10) > 1e-6 {
		t.Fatalf("intercept = %v, want 10", coefs[0].Coef)
	}
	if coefs[1].Variable.Name != "mean_temp" || math.Abs(coefs[1].Coef-2) > 1e-6 {
		t.Fatalf("mean_temp coefficient = %+v, want 2", coefs[1])
	}
	if coefs[2].Variable.Name != "sum_precipitation" || math.Abs(coefs[2].Coef-(-3)) > 1e-6 {
		t.Fatalf("sum_precipitation coefficient = %+v, want -3", coefs[2])
	}

	// Both regressors survive into the rewritten feature set.
	fsVars, err := store.FeatureSetVariables(context.Background(), kind.ID, 5)
	if err != nil {
		t.Fatalf("feature set: %v", err)
	}
	if len(fsVars) != 2 || fsVars[0].ID != v1.ID || fsVars[1].ID != v2.ID {
		t.Fatalf("feature set after fit = %v, want both variables", fsVars)
	}

	ev, ok, err := store.LatestEvaluation(context.Background(), versionID)
	if err != nil || !ok {
		t.Fatalf("evaluation: ok=%v err=%v", ok, err)
	}
	if math.Abs(ev.R2-1) > 1e-9 {
		t.Fatalf("R2 = %v, want 1 for exact plane", ev.R2)
	}
}

func TestFitAndPersistReplacesActiveVersion(t *testing.T) {
	reader := newFakeReader()
	seedFitData(reader)
	store := newFakeModelStore()
	reports := newFakeReportStore()
	kind, _ := seedCabbageKind(t, store)
	f, _ := newTestForecaster(reader, store, reports)

	first, err := f.FitAndPersist(context.Background(), "cabbage_standard", 5, nil)
	if err != nil {
		t.Fatalf("first fit: %v", err)
	}
	second, err := f.FitAndPersist(context.Background(), "cabbage_standard", 5, nil)
	if err != nil {
		t.Fatalf("second fit: %v", err)
	}
	if second == first {
		t.Fatalf("refit must create a new version id")
	}

	actives, err := store.ActiveVersions(context.Background())
	if err != nil {
		t.Fatalf("active versions: %v", err)
	}
	if len(actives) != 1 {
		t.Fatalf("active version count = %d, want exactly one per (kind, month)", len(actives))
	}
	if actives[0].ID != second || actives[0].ModelKindID != kind.ID {
		t.Fatalf("active version = %+v, want id %d", actives[0], second)
	}
}

func TestFitUnknownModel(t *testing.T) {
	f, _ := newTestForecaster(newFakeReader(), newFakeModelStore(), newFakeReportStore())

	_, err := f.FitAndPersist(context.Background(), "no_such_model", 5, nil)
	var nfErr *models.NotFoundError
	if !errors.As(err, &nfErr) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestFitInvalidMonth(t *testing.T) {
	f, _ := newTestForecaster(newFakeReader(), newFakeModelStore(), newFakeReportStore())

	_, err := f.FitAndPersist(context.Background(), "cabbage_standard", 13, nil)
	var valErr *models.ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestFitWithoutFeatureSet(t *testing.T) {
	store := newFakeModelStore()
	if _, err := store.GetOrCreateKind(context.Background(), "cabbage_standard", "キャベツ"); err != nil {
		t.Fatalf("seed kind: %v", err)
	}
	f, _ := newTestForecaster(newFakeReader(), store, newFakeReportStore())

	_, err := f.FitAndPersist(context.Background(), "cabbage_standard", 5, nil)
	var valErr *models.ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestFitUnknownExplicitVariables(t *testing.T) {
	store := newFakeModelStore()
	if _, err := store.GetOrCreateKind(context.Background(), "cabbage_standard", "キャベツ"); err != nil {
		t.Fatalf("seed kind: %v", err)
	}
	f, _ := newTestForecaster(newFakeReader(), store, newFakeReportStore())

	_, err := f.FitAndPersist(context.Background(), "cabbage_standard", 5, []int64{999})
	var valErr *models.ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestRunForecastAnalysisCapturesPerTargetOutcomes(t *testing.T) {
	reader := newFakeReader()
	seedFitData(reader)
	store := newFakeModelStore()
	seedCabbageKind(t, store)
	f, _ := newTestForecaster(reader, store, newFakeReportStore())

	results := f.RunForecastAnalysis(context.Background(), []string{"cabbage_standard", "no_such_model"}, []int{5})

	good := results["cabbage_standard"][5]
	if !good.Success || good.ModelVersionID == nil {
		t.Fatalf("expected successful fit, got %+v", good)
	}
	bad := results["no_such_model"][5]
	if bad.Success || bad.Error == "" {
		t.Fatalf("failed target must carry its error, got %+v", bad)
	}
}

package usecase

import (
	"context"
	"errors"
	"math"
	"testing"

	"VegeCast/internal/domain/models"
	domrepo "VegeCast/internal/domain/repository"
)

// seedActiveVersion registers a kind with one persisted active version:
// price = 50 + 2 * mean_temp, evaluated at the given RMSE.
func seedActiveVersion(t *testing.T, store *fakeModelStore, tagName string, rmse float64) (models.ModelKind, int64) {
	t.Helper()
	ctx := context.Background()
	kind, err := store.GetOrCreateKind(ctx, tagName, "キャベツ")
	if err != nil {
		t.Fatalf("seed kind: %v", err)
	}
	constVar, err := store.GetOrCreateVariable(ctx, models.ConstVariableName, 0)
	if err != nil {
		t.Fatalf("seed const: %v", err)
	}
	meanTemp, err := store.GetOrCreateVariable(ctx, "mean_temp", 0)
	if err != nil {
		t.Fatalf("seed variable: %v", err)
	}
	versionID, err := store.SaveFittedModel(ctx, kind.ID, 5, domrepo.FittedModel{
		Coefficients: []domrepo.FittedCoefficient{
			{Variable: constVar, Coef: 50, IsSegment: true},
			{Variable: meanTemp, Coef: 2},
		},
		Evaluation: models.Evaluation{RMSE: rmse},
	})
	if err != nil {
		t.Fatalf("seed version: %v", err)
	}
	return kind, versionID
}

// seedPredictionWeather writes mean_temp = 10 for month 5, both halves,
// for every year in [from, to]; the seeded model then predicts 70.
func seedPredictionWeather(reader *fakeReader, from, to int) {
	for y := from; y <= to; y++ {
		reader.putWeather("Hiroshima", models.Period{Year: y, Month: 5, Half: models.HalfFirst}, models.WeatherRow{MeanTemp: fp(10)})
		reader.putWeather("Hiroshima", models.Period{Year: y, Month: 5, Half: models.HalfSecond}, models.WeatherRow{MeanTemp: fp(10)})
	}
}

func TestRolloverWritesOnlyFuturePeriods(t *testing.T) {
	reader := newFakeReader()
	seedPredictionWeather(reader, 2023, 2025)
	store := newFakeModelStore()
	reports := newFakeReportStore()
	_, versionID := seedActiveVersion(t, store, "cabbage_standard", 0)
	f, _ := newTestForecaster(reader, store, reports)

	count, err := f.UpdatePredictionsForPeriod(context.Background(), RolloverParams{
		Year: 2025, Month: 5, Half: models.HalfFirst,
	})
	if err != nil {
		t.Fatalf("rollover: %v", err)
	}
	if count != 1 {
		t.Fatalf("report count = %d, want 1 (only the second half is in the future)", count)
	}

	if _, ok, _ := reports.Get(context.Background(), versionID, models.Period{Year: 2025, Month: 5, Half: models.HalfFirst}); ok {
		t.Fatalf("the updated period itself must not be rewritten")
	}
	rep, ok, err := reports.Get(context.Background(), versionID, models.Period{Year: 2025, Month: 5, Half: models.HalfSecond})
	if err != nil || !ok {
		t.Fatalf("future report missing: ok=%v err=%v", ok, err)
	}
	if math.Abs(rep.PredictPrice-70) > 1e-9 {
		t.Fatalf("predicted price = %v, want 70", rep.PredictPrice)
	}
}

func TestRolloverBackfillRewritesThePast(t *testing.T) {
	reader := newFakeReader()
	seedPredictionWeather(reader, 2023, 2025)
	store := newFakeModelStore()
	reports := newFakeReportStore()
	_, versionID := seedActiveVersion(t, store, "cabbage_standard", 0)
	f, _ := newTestForecaster(reader, store, reports)

	count, err := f.UpdatePredictionsForPeriod(context.Background(), RolloverParams{
		Year: 2025, Month: 5, Half: models.HalfFirst, AllowBackfill: true,
	})
	if err != nil {
		t.Fatalf("rollover: %v", err)
	}
	if count != 2 {
		t.Fatalf("report count = %d, want both halves with backfill", count)
	}
	if _, ok, _ := reports.Get(context.Background(), versionID, models.Period{Year: 2025, Month: 5, Half: models.HalfFirst}); !ok {
		t.Fatalf("backfill must rewrite the updated period")
	}
}

func TestRolloverLookAheadCoversFollowingYears(t *testing.T) {
	reader := newFakeReader()
	seedPredictionWeather(reader, 2023, 2025)
	store := newFakeModelStore()
	reports := newFakeReportStore()
	_, versionID := seedActiveVersion(t, store, "cabbage_standard", 0)
	f, _ := newTestForecaster(reader, store, reports)

	count, err := f.UpdatePredictionsForPeriod(context.Background(), RolloverParams{
		Year: 2025, Month: 5, Half: models.HalfFirst, LookAheadYears: 1,
	})
	if err != nil {
		t.Fatalf("rollover: %v", err)
	}
	// 2025 second half plus both halves of 2026.
	if count != 3 {
		t.Fatalf("report count = %d, want 3", count)
	}
	for _, p := range []models.Period{
		{Year: 2025, Month: 5, Half: models.HalfSecond},
		{Year: 2026, Month: 5, Half: models.HalfFirst},
		{Year: 2026, Month: 5, Half: models.HalfSecond},
	} {
		if _, ok, _ := reports.Get(context.Background(), versionID, p); !ok {
			t.Fatalf("missing report for %v", p)
		}
	}
}

func TestRolloverIsIdempotent(t *testing.T) {
	reader := newFakeReader()
	seedPredictionWeather(reader, 2023, 2025)
	store := newFakeModelStore()
	reports := newFakeReportStore()
	seedActiveVersion(t, store, "cabbage_standard", 0)
	f, _ := newTestForecaster(reader, store, reports)

	params := RolloverParams{Year: 2025, Month: 5, Half: models.HalfFirst, AllowBackfill: true}
	if _, err := f.UpdatePredictionsForPeriod(context.Background(), params); err != nil {
		t.Fatalf("first rollover: %v", err)
	}
	count, err := f.UpdatePredictionsForPeriod(context.Background(), params)
	if err != nil {
		t.Fatalf("second rollover: %v", err)
	}
	if count != 2 {
		t.Fatalf("second run count = %d, want 2 (updates still count)", count)
	}
	if reports.creates != 2 || reports.updates != 2 {
		t.Fatalf("creates/updates = %d/%d, want 2/2 (rerun updates in place)", reports.creates, reports.updates)
	}
	if len(reports.reports) != 2 {
		t.Fatalf("stored reports = %d, want no duplicates", len(reports.reports))
	}
}

func TestRolloverPredictionInterval(t *testing.T) {
	reader := newFakeReader()
	seedPredictionWeather(reader, 2023, 2025)
	store := newFakeModelStore()
	reports := newFakeReportStore()
	_, withRMSE := seedActiveVersion(t, store, "cabbage_standard", 5)
	_, withoutRMSE := seedActiveVersion(t, store, "lettuce_standard", 0)
	f, _ := newTestForecaster(reader, store, reports)

	if _, err := f.UpdatePredictionsForPeriod(context.Background(), RolloverParams{
		Year: 2025, Month: 5, Half: models.HalfFirst,
	}); err != nil {
		t.Fatalf("rollover: %v", err)
	}

	target := models.Period{Year: 2025, Month: 5, Half: models.HalfSecond}
	rep, ok, _ := reports.Get(context.Background(), withRMSE, target)
	if !ok {
		t.Fatalf("report with RMSE missing")
	}
	if rep.MinPrice != 65 || rep.MaxPrice != 75 {
		t.Fatalf("band = [%v, %v], want price ± RMSE = [65, 75]", rep.MinPrice, rep.MaxPrice)
	}

	rep, ok, _ = reports.Get(context.Background(), withoutRMSE, target)
	if !ok {
		t.Fatalf("report without RMSE missing")
	}
	if math.Abs(rep.MinPrice-66.5) > 1e-9 || math.Abs(rep.MaxPrice-73.5) > 1e-9 {
		t.Fatalf("band = [%v, %v], want ±5%% = [66.5, 73.5]", rep.MinPrice, rep.MaxPrice)
	}
}

func TestRolloverSkipsVersionWithoutCoefficients(t *testing.T) {
	store := newFakeModelStore()
	kind, err := store.GetOrCreateKind(context.Background(), "cabbage_standard", "キャベツ")
	if err != nil {
		t.Fatalf("seed kind: %v", err)
	}
	store.versions = append(store.versions, models.ModelVersion{
		ID: 99, ModelKindID: kind.ID, TargetMonth: 5, IsActive: true,
	})
	reports := newFakeReportStore()
	f, _ := newTestForecaster(newFakeReader(), store, reports)

	count, err := f.UpdatePredictionsForPeriod(context.Background(), RolloverParams{
		Year: 2025, Month: 5, Half: models.HalfFirst,
	})
	if err != nil {
		t.Fatalf("rollover: %v", err)
	}
	if count != 0 || len(reports.reports) != 0 {
		t.Fatalf("coefficient-less version must be skipped, got count=%d reports=%d", count, len(reports.reports))
	}
}

func TestRolloverFallsBackOneYear(t *testing.T) {
	reader := newFakeReader()
	// The only observation sits in 2019: unreachable from the 2025 target
	// window but inside the window of the one-year-earlier fallback.
	reader.putWeather("Hiroshima", models.Period{Year: 2019, Month: 5, Half: models.HalfSecond}, models.WeatherRow{MeanTemp: fp(8)})
	store := newFakeModelStore()
	reports := newFakeReportStore()
	_, versionID := seedActiveVersion(t, store, "cabbage_standard", 0)
	f, _ := newTestForecaster(reader, store, reports)

	count, err := f.UpdatePredictionsForPeriod(context.Background(), RolloverParams{
		Year: 2025, Month: 5, Half: models.HalfFirst,
	})
	if err != nil {
		t.Fatalf("rollover: %v", err)
	}
	if count != 1 {
		t.Fatalf("report count = %d, want 1", count)
	}
	rep, ok, _ := reports.Get(context.Background(), versionID, models.Period{Year: 2025, Month: 5, Half: models.HalfSecond})
	if !ok {
		t.Fatalf("fallback report missing")
	}
	if math.Abs(rep.PredictPrice-66) > 1e-9 {
		t.Fatalf("fallback price = %v, want 50 + 2*8 = 66", rep.PredictPrice)
	}
}

func TestRolloverSkipsUnresolvableTargets(t *testing.T) {
	store := newFakeModelStore()
	reports := newFakeReportStore()
	seedActiveVersion(t, store, "cabbage_standard", 0)
	f, metrics := newTestForecaster(newFakeReader(), store, reports)

	count, err := f.UpdatePredictionsForPeriod(context.Background(), RolloverParams{
		Year: 2025, Month: 5, Half: models.HalfFirst,
	})
	if err != nil {
		t.Fatalf("rollover must not fail on unresolved targets: %v", err)
	}
	if count != 0 || len(reports.reports) != 0 {
		t.Fatalf("unresolved target wrote a report: count=%d", count)
	}
	if metrics.errors == 0 {
		t.Fatalf("skipped prediction must be recorded as an error metric")
	}
}

func TestRolloverValidation(t *testing.T) {
	f, _ := newTestForecaster(newFakeReader(), newFakeModelStore(), newFakeReportStore())

	cases := []RolloverParams{
		{Year: 2025, Month: 0, Half: models.HalfFirst},
		{Year: 2025, Month: 5, Half: "middle"},
		{Year: 2025, Month: 5, Half: models.HalfFirst, LookAheadYears: -1},
	}
	for i, params := range cases {
		_, err := f.UpdatePredictionsForPeriod(context.Background(), params)
		var valErr *models.ValidationError
		if !errors.As(err, &valErr) {
			t.Fatalf("case %d: expected ValidationError, got %v", i, err)
		}
	}
}

func TestRolloverWithoutActiveVersions(t *testing.T) {
	f, _ := newTestForecaster(newFakeReader(), newFakeModelStore(), newFakeReportStore())

	count, err := f.UpdatePredictionsForPeriod(context.Background(), RolloverParams{
		Year: 2025, Month: 5, Half: models.HalfFirst,
	})
	if err != nil || count != 0 {
		t.Fatalf("empty registry: count=%d err=%v", count, err)
	}
}

func TestRolloverRefitsActiveVersions(t *testing.T) {
	reader := newFakeReader()
	seedFitData(reader)
	store := newFakeModelStore()
	reports := newFakeReportStore()
	ctx := context.Background()

	// Stale version: a wildly wrong intercept that a refit must correct.
	kind, err := store.GetOrCreateKind(ctx, "cabbage_standard", "キャベツ")
	if err != nil {
		t.Fatalf("seed kind: %v", err)
	}
	constVar, err := store.GetOrCreateVariable(ctx, models.ConstVariableName, 0)
	if err != nil {
		t.Fatalf("seed const: %v", err)
	}
	meanTemp, err := store.GetOrCreateVariable(ctx, "mean_temp", 0)
	if err != nil {
		t.Fatalf("seed variable: %v", err)
	}
	versionID, err := store.SaveFittedModel(ctx, kind.ID, 5, domrepo.FittedModel{
		Coefficients: []domrepo.FittedCoefficient{
			{Variable: constVar, Coef: 999, IsSegment: true},
			{Variable: meanTemp, Coef: 0},
		},
	})
	if err != nil {
		t.Fatalf("seed version: %v", err)
	}

	f, _ := newTestForecaster(reader, store, reports)
	count, err := f.UpdatePredictionsForPeriod(ctx, RolloverParams{
		Year: 2024, Month: 5, Half: models.HalfFirst, RefitModels: true, AllowBackfill: true,
	})
	if err != nil {
		t.Fatalf("rollover: %v", err)
	}
	if count != 1 {
		t.Fatalf("report count = %d, want 1 (second half has no data)", count)
	}

	coefs, err := store.Coefficients(ctx, versionID)
	if err != nil {
		t.Fatalf("coefficients: %v", err)
	}
	if len(coefs) != 2 {
		t.Fatalf("coefficient count = %d, want 2", len(coefs))
	}
	if math.Abs(coefs[0].Coef-(-300)) > 1e-6 || math.Abs(coefs[1].Coef-20) > 1e-6 {
		t.Fatalf("refit coefficients = %v/%v, want -300/20", coefs[0].Coef, coefs[1].Coef)
	}

	rep, ok, _ := reports.Get(ctx, versionID, models.Period{Year: 2024, Month: 5, Half: models.HalfFirst})
	if !ok {
		t.Fatalf("refit report missing")
	}
	if math.Abs(rep.PredictPrice-160) > 1e-6 {
		t.Fatalf("post-refit price = %v, want 160", rep.PredictPrice)
	}
}

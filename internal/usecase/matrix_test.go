package usecase

import (
	"context"
	"errors"
	"math"
	"testing"

	"VegeCast/internal/domain/models"
)

func testResolverConfig() ResolverConfig {
	return ResolverConfig{
		Region:           "Hiroshima",
		EpochYear:        2021,
		HistoricalYears:  3,
		MinRequiredYears: 2,
		MaxLookbackYears: 6,
		BaseStartYear:    2015,
		MinObsMargin:     1,
	}
}

func newTestBuilder(reader *fakeReader) *MatrixBuilder {
	return NewMatrixBuilder(reader, testResolverConfig(), testLogger())
}

func TestResolveFeatureWeatherAveraging(t *testing.T) {
	reader := newFakeReader()
	// Lagged period is 2024-04 前半; window covers 2022..2024. The 2024 row
	// exists but carries no mean_temp, so only two years contribute.
	reader.putWeather("Hiroshima", models.Period{Year: 2022, Month: 4, Half: models.HalfFirst}, models.WeatherRow{MeanTemp: fp(10)})
	reader.putWeather("Hiroshima", models.Period{Year: 2023, Month: 4, Half: models.HalfFirst}, models.WeatherRow{MeanTemp: fp(20)})
	reader.putWeather("Hiroshima", models.Period{Year: 2024, Month: 4, Half: models.HalfFirst}, models.WeatherRow{})

	b := newTestBuilder(reader)
	v := models.Variable{Name: "mean_temp", PreviousTerm: 2}
	got, ok, err := b.ResolveFeature(context.Background(), "キャベツ", v, models.Period{Year: 2024, Month: 5, Half: models.HalfFirst})
	if err != nil || !ok {
		t.Fatalf("resolve: ok=%v err=%v", ok, err)
	}
	if got != 15 {
		t.Fatalf("averaged value = %v, want 15", got)
	}
}

func TestResolveFeatureWindowExtension(t *testing.T) {
	reader := newFakeReader()
	// Primary window 2022..2024 holds a single year, below MinRequiredYears.
	// The window extends back to 2019 and picks up the older observation.
	reader.putWeather("Hiroshima", models.Period{Year: 2024, Month: 4, Half: models.HalfFirst}, models.WeatherRow{MeanTemp: fp(30)})
	reader.putWeather("Hiroshima", models.Period{Year: 2019, Month: 4, Half: models.HalfFirst}, models.WeatherRow{MeanTemp: fp(10)})

	b := newTestBuilder(reader)
	v := models.Variable{Name: "mean_temp", PreviousTerm: 2}
	got, ok, err := b.ResolveFeature(context.Background(), "キャベツ", v, models.Period{Year: 2024, Month: 5, Half: models.HalfFirst})
	if err != nil || !ok {
		t.Fatalf("resolve: ok=%v err=%v", ok, err)
	}
	if got != 20 {
		t.Fatalf("extended average = %v, want 20", got)
	}
}

func TestResolveFeatureMarketFixedHalf(t *testing.T) {
	reader := newFakeReader()
	// Market lags always read the first half regardless of the lagged half.
	reader.putMarket("キャベツ", "Hiroshima", models.Period{Year: 2023, Month: 4, Half: models.HalfFirst}, models.MarketRow{YearsPrice: fp(100)})
	reader.putMarket("キャベツ", "Hiroshima", models.Period{Year: 2024, Month: 4, Half: models.HalfFirst}, models.MarketRow{YearsPrice: fp(200)})
	reader.putMarket("キャベツ", "Hiroshima", models.Period{Year: 2024, Month: 4, Half: models.HalfSecond}, models.MarketRow{YearsPrice: fp(999)})

	b := newTestBuilder(reader)
	v := models.Variable{Name: "years_price", PreviousTerm: 3}
	got, ok, err := b.ResolveFeature(context.Background(), "キャベツ", v, models.Period{Year: 2024, Month: 5, Half: models.HalfSecond})
	if err != nil || !ok {
		t.Fatalf("resolve: ok=%v err=%v", ok, err)
	}
	if got != 150 {
		t.Fatalf("market average = %v, want 150 (second-half row must be ignored)", got)
	}
}

func TestResolveFeatureUnknownVariable(t *testing.T) {
	b := newTestBuilder(newFakeReader())
	v := models.Variable{Name: "moon_phase", PreviousTerm: 1}
	_, ok, err := b.ResolveFeature(context.Background(), "キャベツ", v, models.Period{Year: 2024, Month: 5, Half: models.HalfFirst})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("unknown variable must not resolve")
	}
}

// seedMonthlyWeather writes a first-half mean_temp of (year-2000) for month
// for every year in [from, to], both halves when bothHalves is set.
func seedMonthlyWeather(reader *fakeReader, month, from, to int, bothHalves bool) {
	for y := from; y <= to; y++ {
		reader.putWeather("Hiroshima", models.Period{Year: y, Month: month, Half: models.HalfFirst},
			models.WeatherRow{MeanTemp: fp(float64(y - 2000))})
		if bothHalves {
			reader.putWeather("Hiroshima", models.Period{Year: y, Month: month, Half: models.HalfSecond},
				models.WeatherRow{MeanTemp: fp(float64(y - 2000))})
		}
	}
}

func TestBuildCompleteCase(t *testing.T) {
	reader := newFakeReader()
	seedMonthlyWeather(reader, 5, 2015, 2024, false)
	reader.putPrice("キャベツ", "Hiroshima", 5, models.PricePoint{Year: 2021, Half: models.HalfFirst, SourcePrice: fp(100)})
	reader.putPrice("キャベツ", "Hiroshima", 5, models.PricePoint{Year: 2022, Half: models.HalfFirst, SourcePrice: fp(120)})
	reader.putPrice("キャベツ", "Hiroshima", 5, models.PricePoint{Year: 2023, Half: models.HalfFirst, SourcePrice: fp(140)})
	// No second-half weather exists, so this row is incomplete.
	reader.putPrice("キャベツ", "Hiroshima", 5, models.PricePoint{Year: 2023, Half: models.HalfSecond, SourcePrice: fp(150)})
	// Ground truth missing: dropped before feature resolution.
	reader.putPrice("キャベツ", "Hiroshima", 5, models.PricePoint{Year: 2024, Half: models.HalfFirst})

	b := newTestBuilder(reader)
	kind := models.ModelKind{ID: 1, TagName: "cabbage_standard", Vegetable: "キャベツ"}
	vars := []models.Variable{{ID: 10, Name: "mean_temp", PreviousTerm: 0}}

	ds, err := b.Build(context.Background(), kind, 5, 2024, vars)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(ds.X) != 3 || len(ds.Y) != 3 || len(ds.Rows) != 3 {
		t.Fatalf("rows = %d/%d/%d, want 3 complete cases", len(ds.X), len(ds.Y), len(ds.Rows))
	}
	wantY := []float64{100, 120, 140}
	wantX := []float64{20, 21, 22} // 3-year mean_temp averages per reference year
	for i := range wantY {
		if ds.Y[i] != wantY[i] {
			t.Fatalf("Y[%d] = %v, want %v", i, ds.Y[i], wantY[i])
		}
		if math.Abs(ds.X[i][0]-wantX[i]) > 1e-9 {
			t.Fatalf("X[%d][0] = %v, want %v", i, ds.X[i][0], wantX[i])
		}
	}
	if len(ds.Variables) != 1 || ds.Variables[0].Name != "mean_temp" {
		t.Fatalf("variables = %v", ds.Variables)
	}
}

func TestBuildPrunesLowestVarianceColumn(t *testing.T) {
	reader := newFakeReader()
	seedMonthlyWeather(reader, 5, 2015, 2024, false)
	// max_temp is constant across years: the zero-variance column.
	for y := 2015; y <= 2024; y++ {
		row := reader.weather[weatherKey("Hiroshima", models.Period{Year: y, Month: 5, Half: models.HalfFirst})]
		row.MaxTemp = fp(25)
		reader.weather[weatherKey("Hiroshima", models.Period{Year: y, Month: 5, Half: models.HalfFirst})] = row
	}
	reader.putPrice("キャベツ", "Hiroshima", 5, models.PricePoint{Year: 2021, Half: models.HalfFirst, SourcePrice: fp(100)})
	reader.putPrice("キャベツ", "Hiroshima", 5, models.PricePoint{Year: 2022, Half: models.HalfFirst, SourcePrice: fp(120)})
	reader.putPrice("キャベツ", "Hiroshima", 5, models.PricePoint{Year: 2023, Half: models.HalfFirst, SourcePrice: fp(140)})

	b := newTestBuilder(reader)
	kind := models.ModelKind{ID: 1, TagName: "cabbage_standard", Vegetable: "キャベツ"}
	vars := []models.Variable{
		{ID: 10, Name: "max_temp", PreviousTerm: 0},
		{ID: 11, Name: "mean_temp", PreviousTerm: 0},
	}

	// n=3 cannot support two regressors plus intercept with margin 1.
	ds, err := b.Build(context.Background(), kind, 5, 2024, vars)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(ds.Variables) != 1 || ds.Variables[0].Name != "mean_temp" {
		t.Fatalf("pruning kept %v, want only mean_temp", ds.Variables)
	}
	for i, row := range ds.X {
		if len(row) != 1 {
			t.Fatalf("X[%d] has %d columns after pruning, want 1", i, len(row))
		}
	}
}

func TestBuildInfeasible(t *testing.T) {
	reader := newFakeReader()
	seedMonthlyWeather(reader, 5, 2015, 2024, false)
	reader.putPrice("キャベツ", "Hiroshima", 5, models.PricePoint{Year: 2021, Half: models.HalfFirst, SourcePrice: fp(100)})

	b := newTestBuilder(reader)
	kind := models.ModelKind{ID: 1, TagName: "cabbage_standard", Vegetable: "キャベツ"}
	vars := []models.Variable{{ID: 10, Name: "mean_temp", PreviousTerm: 0}}

	_, err := b.Build(context.Background(), kind, 5, 2024, vars)
	var insufErr *models.InsufficientObservationsError
	if !errors.As(err, &insufErr) {
		t.Fatalf("expected InsufficientObservationsError, got %v", err)
	}
}

func TestBuildNoPriceHistory(t *testing.T) {
	b := newTestBuilder(newFakeReader())
	kind := models.ModelKind{ID: 1, TagName: "cabbage_standard", Vegetable: "キャベツ"}
	vars := []models.Variable{{ID: 10, Name: "mean_temp", PreviousTerm: 0}}

	_, err := b.Build(context.Background(), kind, 5, 2024, vars)
	var insufErr *models.InsufficientObservationsError
	if !errors.As(err, &insufErr) {
		t.Fatalf("expected InsufficientObservationsError, got %v", err)
	}
}

func TestBuildNoVariables(t *testing.T) {
	b := newTestBuilder(newFakeReader())
	kind := models.ModelKind{ID: 1, TagName: "cabbage_standard", Vegetable: "キャベツ"}

	_, err := b.Build(context.Background(), kind, 5, 2024, nil)
	var valErr *models.ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

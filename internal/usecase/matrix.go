package usecase

import (
	"context"
	"sort"

	"VegeCast/internal/domain/models"
	domrepo "VegeCast/internal/domain/repository"
	"VegeCast/internal/services/regression"
	applogger "VegeCast/pkg/logger"
)

// ResolverConfig carries the feature-resolution and feasibility knobs.
type ResolverConfig struct {
	Region           string
	EpochYear        int // first year of the ground-truth price series
	HistoricalYears  int // lookback window for multi-year averaging
	MinRequiredYears int // minimum non-missing years before extending the window
	MaxLookbackYears int // hard cap on the extended window
	BaseStartYear    int // earliest year any window may reach
	MinObsMargin     int // feasibility gate: n >= p + margin
}

// DefaultResolverConfig mirrors the production defaults.
func DefaultResolverConfig(region string) ResolverConfig {
	return ResolverConfig{
		Region:           region,
		EpochYear:        2021,
		HistoricalYears:  5,
		MinRequiredYears: 2,
		MaxLookbackYears: 10,
		BaseStartYear:    2015,
		MinObsMargin:     1,
	}
}

// featureSource is the tagged variant of supported variable sources. A
// variable resolves through exactly one of these, looked up by name.
type featureSource int

const (
	sourceUnknown featureSource = iota
	sourceWeather               // half-month weather measurement, lag-shifted
	sourceMarket                // lagged market measurement, fixed first half
)

func sourceFor(name string) featureSource {
	switch {
	case models.IsWeatherVariable(name):
		return sourceWeather
	case models.IsMarketVariable(name):
		return sourceMarket
	default:
		return sourceUnknown
	}
}

// MatrixBuilder resolves lagged features against the aggregated store and
// assembles the (X, y) dataset for one (model kind, target month).
type MatrixBuilder struct {
	reader domrepo.AggregateReader
	cfg    ResolverConfig
	logger *applogger.Logger
}

func NewMatrixBuilder(reader domrepo.AggregateReader, cfg ResolverConfig, logger *applogger.Logger) *MatrixBuilder {
	return &MatrixBuilder{reader: reader, cfg: cfg, logger: logger}
}

// Dataset is the aligned regression input for one fit. Rows are keyed by
// (price year, price half); Variables matches the X columns after
// complete-case filtering and variance pruning.
type Dataset struct {
	X         [][]float64
	Y         []float64
	Variables []models.Variable
	Rows      []models.Period
}

// ResolveFeature returns the value of one variable relative to a
// reference period: the variable's lag is applied, then the value is
// averaged over the historical window of years sharing the lagged
// (month, half). ok=false when no data exists even after extending the
// window.
func (b *MatrixBuilder) ResolveFeature(ctx context.Context, vegetable string, v models.Variable, ref models.Period) (float64, bool, error) {
	lagged := ref.Minus(v.PreviousTerm)

	switch sourceFor(v.Name) {
	case sourceWeather:
		return b.averageOverYears(ctx, lagged, func(ctx context.Context, p models.Period) (float64, bool, error) {
			row, ok, err := b.reader.Weather(ctx, b.cfg.Region, p)
			if err != nil || !ok {
				return 0, false, err
			}
			val, ok := row.Value(v.Name)
			return val, ok, nil
		})
	case sourceMarket:
		// Market lags are keyed on the vegetable at a fixed half.
		lagged.Half = models.HalfFirst
		return b.averageOverYears(ctx, lagged, func(ctx context.Context, p models.Period) (float64, bool, error) {
			row, ok, err := b.reader.Market(ctx, vegetable, b.cfg.Region, p)
			if err != nil || !ok {
				return 0, false, err
			}
			val, ok := row.Value(v.Name)
			return val, ok, nil
		})
	default:
		return 0, false, nil
	}
}

type periodLookup func(ctx context.Context, p models.Period) (float64, bool, error)

// averageOverYears averages the lookup over the last HistoricalYears
// years ending at target.Year, same month and half. When fewer than
// MinRequiredYears values are found the window is extended back to
// BaseStartYear or MaxLookbackYears years, whichever is closer.
func (b *MatrixBuilder) averageOverYears(ctx context.Context, target models.Period, lookup periodLookup) (float64, bool, error) {
	startYear := target.Year - b.cfg.HistoricalYears + 1

	sum, count, err := b.sumYears(ctx, startYear, target, lookup)
	if err != nil {
		return 0, false, err
	}
	if count < b.cfg.MinRequiredYears {
		extStart := target.Year - b.cfg.MaxLookbackYears + 1
		if b.cfg.BaseStartYear > extStart {
			extStart = b.cfg.BaseStartYear
		}
		if extStart < startYear {
			extSum, extCount, err := b.sumYears(ctx, extStart, models.Period{
				Year: startYear - 1, Month: target.Month, Half: target.Half,
			}, lookup)
			if err != nil {
				return 0, false, err
			}
			sum += extSum
			count += extCount
		}
	}
	if count == 0 {
		return 0, false, nil
	}
	return sum / float64(count), true, nil
}

func (b *MatrixBuilder) sumYears(ctx context.Context, startYear int, target models.Period, lookup periodLookup) (float64, int, error) {
	var sum float64
	var count int
	for y := startYear; y <= target.Year; y++ {
		val, ok, err := lookup(ctx, models.Period{Year: y, Month: target.Month, Half: target.Half})
		if err != nil {
			return 0, 0, err
		}
		if ok {
			sum += val
			count++
		}
	}
	return sum, count, nil
}

// Build assembles the complete-case (X, y) dataset for the given kind,
// target month and variable list, spanning the price history from the
// epoch year through toYear. Columns are pruned by ascending variance
// when the observation count cannot support them.
func (b *MatrixBuilder) Build(ctx context.Context, kind models.ModelKind, targetMonth, toYear int, variables []models.Variable) (*Dataset, error) {
	if len(variables) == 0 {
		return nil, models.NewValidation("モデル「%s」（%d月）の特徴量セットが未設定です", kind.TagName, targetMonth)
	}

	history, err := b.reader.PriceHistory(ctx, kind.Vegetable, b.cfg.Region, targetMonth, b.cfg.EpochYear, toYear)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, models.NewInsufficientData(
			"モデル「%s」（%d月）の価格データが見つかりません（%d年以降）", kind.TagName, targetMonth, b.cfg.EpochYear)
	}

	ds := &Dataset{Variables: append([]models.Variable(nil), variables...)}
	dropped := 0
	for _, pt := range history {
		if pt.SourcePrice == nil {
			dropped++
			continue
		}
		ref := models.Period{Year: pt.Year, Month: targetMonth, Half: pt.Half}
		row := make([]float64, len(variables))
		complete := true
		for i, v := range variables {
			val, ok, err := b.ResolveFeature(ctx, kind.Vegetable, v, ref)
			if err != nil {
				return nil, err
			}
			if !ok {
				complete = false
				break
			}
			row[i] = val
		}
		// Complete-case policy: a row missing any feature is excluded.
		if !complete {
			dropped++
			continue
		}
		ds.X = append(ds.X, row)
		ds.Y = append(ds.Y, *pt.SourcePrice)
		ds.Rows = append(ds.Rows, ref)
	}
	if len(ds.X) == 0 {
		return nil, models.NewInsufficientData(
			"モデル「%s」（%d月）の説明変数データが取得できませんでした", kind.TagName, targetMonth)
	}
	if dropped > 0 && b.logger != nil {
		b.logger.Debug("matrix rows dropped as incomplete",
			applogger.String("model", kind.TagName),
			applogger.Int("month", targetMonth),
			applogger.Int("dropped", dropped),
			applogger.Int("kept", len(ds.X)),
		)
	}

	if err := b.prune(ds, kind.TagName, targetMonth); err != nil {
		return nil, err
	}
	return ds, nil
}

// prune drops the lowest-variance columns until n >= p + margin, where p
// counts the intercept. Fails when even an intercept-only model is
// infeasible.
func (b *MatrixBuilder) prune(ds *Dataset, model string, month int) error {
	n := len(ds.X)
	margin := b.cfg.MinObsMargin

	for len(ds.Variables) > 0 && n < len(ds.Variables)+1+margin {
		cols := make([]int, len(ds.Variables))
		for i := range cols {
			cols[i] = i
		}
		variances := make([]float64, len(ds.Variables))
		for c := range ds.Variables {
			col := make([]float64, n)
			for r := 0; r < n; r++ {
				col[r] = ds.X[r][c]
			}
			variances[c] = regression.Variance(col)
		}
		sort.SliceStable(cols, func(i, j int) bool { return variances[cols[i]] < variances[cols[j]] })
		drop := cols[0]

		if b.logger != nil {
			b.logger.Warn("pruning low-variance feature",
				applogger.String("model", model),
				applogger.Int("month", month),
				applogger.String("variable", ds.Variables[drop].Name),
				applogger.Int("previous_term", ds.Variables[drop].PreviousTerm),
			)
		}
		ds.Variables = append(ds.Variables[:drop], ds.Variables[drop+1:]...)
		for r := range ds.X {
			ds.X[r] = append(ds.X[r][:drop], ds.X[r][drop+1:]...)
		}
	}

	if n < 1+margin || len(ds.Variables) == 0 {
		return &models.InsufficientObservationsError{N: n, P: len(ds.Variables) + 1, Margin: margin}
	}
	return nil
}

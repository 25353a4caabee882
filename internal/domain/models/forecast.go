package models

import "time"

// ModelKind is a named forecasting configuration bound to one vegetable,
// e.g. a planting-season variant of cabbage.
type ModelKind struct {
	ID        int64     `db:"id"`
	TagName   string    `db:"tag_name"`
	Vegetable string    `db:"vegetable"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Variable is an explanatory factor sampled PreviousTerm half-month
// periods before the target period. (Name, PreviousTerm) is the identity;
// the same variable is shared by feature sets of different models.
type Variable struct {
	ID           int64  `db:"id"`
	Name         string `db:"name"`
	PreviousTerm int    `db:"previous_term"`
}

// ConstVariableName is the reserved zero-lag variable the intercept
// coefficient is attached to.
const ConstVariableName = "const"

// FeatureSet binds one variable to a (model kind, target month) model.
type FeatureSet struct {
	ID          int64 `db:"id"`
	ModelKindID int64 `db:"model_kind_id"`
	TargetMonth int   `db:"target_month"`
	VariableID  int64 `db:"variable_id"`
	Variable    Variable
}

// ModelVersion is one fitted model instance for (kind, target month).
// At most one version is active per (kind, month) at any time.
type ModelVersion struct {
	ID          int64     `db:"id"`
	ModelKindID int64     `db:"model_kind_id"`
	TargetMonth int       `db:"target_month"`
	IsActive    bool      `db:"is_active"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Coefficient is one fitted regression parameter of a model version.
// IsSegment marks the constant term.
type Coefficient struct {
	ID             int64   `db:"id"`
	ModelVersionID int64   `db:"model_version_id"`
	VariableID     int64   `db:"variable_id"`
	Coef           float64 `db:"coef"`
	TValue         float64 `db:"t_value"`
	PValue         float64 `db:"p_value"`
	StdError       float64 `db:"std_error"`
	IsSegment      bool    `db:"is_segment"`
	Variable       Variable
}

// Evaluation holds the fit statistics of one model version.
type Evaluation struct {
	ID             int64     `db:"id"`
	ModelVersionID int64     `db:"model_version_id"`
	MultiR         float64   `db:"multi_r"`
	R2             float64   `db:"r2"`
	AdjustedR2     float64   `db:"adjusted_r2"`
	FSignificance  float64   `db:"f_signif"`
	StdError       float64   `db:"std_error"`
	RMSE           float64   `db:"rmse"`
	RegSS          float64   `db:"reg_ss"`
	RegMS          float64   `db:"reg_ms"`
	ResSS          float64   `db:"res_ss"`
	ResMS          float64   `db:"res_ms"`
	TotalSS        float64   `db:"total_ss"`
	CreatedAt      time.Time `db:"created_at"`
}

// PredictionReport is the persisted forecast output for one
// (model version, target period), upserted never duplicated.
type PredictionReport struct {
	ID             int64     `db:"id"`
	ModelVersionID int64     `db:"model_version_id"`
	TargetYear     int       `db:"target_year"`
	TargetMonth    int       `db:"target_month"`
	TargetHalf     string    `db:"target_half"`
	PredictPrice   float64   `db:"predict_price"`
	MinPrice       float64   `db:"min_price"`
	MaxPrice       float64   `db:"max_price"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// Period returns the report's target period.
func (r PredictionReport) Period() Period {
	return Period{Year: r.TargetYear, Month: r.TargetMonth, Half: r.TargetHalf}
}

// WeatherRow is one aggregated half-month weather record. Pointers are
// nil for measurements missing in the source data.
type WeatherRow struct {
	Region           string
	Year             int
	Month            int
	Half             string
	MaxTemp          *float64
	MeanTemp         *float64
	MinTemp          *float64
	SumPrecipitation *float64
	SunshineDuration *float64
	AveHumidity      *float64
}

// Value returns the named measurement, ok=false when the column is
// unknown or the measurement is missing.
func (w WeatherRow) Value(name string) (float64, bool) {
	var p *float64
	switch name {
	case "max_temp":
		p = w.MaxTemp
	case "mean_temp":
		p = w.MeanTemp
	case "min_temp":
		p = w.MinTemp
	case "sum_precipitation":
		p = w.SumPrecipitation
	case "sunshine_duration":
		p = w.SunshineDuration
	case "ave_humidity":
		p = w.AveHumidity
	default:
		return 0, false
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// WeatherVariableNames lists the measurements a weather variable may
// reference.
var WeatherVariableNames = []string{
	"max_temp", "mean_temp", "min_temp",
	"sum_precipitation", "sunshine_duration", "ave_humidity",
}

// IsWeatherVariable reports whether name is a weather measurement.
func IsWeatherVariable(name string) bool {
	for _, n := range WeatherVariableNames {
		if n == name {
			return true
		}
	}
	return false
}

// MarketRow is one aggregated half-month market record for a vegetable.
type MarketRow struct {
	Vegetable    string
	Region       string
	Year         int
	Month        int
	Half         string
	AveragePrice *float64
	SourcePrice  *float64
	Volume       *float64
	Trend        string
	PrevPrice    *float64
	PrevVolume   *float64
	YearsPrice   *float64
	YearsVolume  *float64
}

// Value returns the named market measurement, ok=false when missing.
func (m MarketRow) Value(name string) (float64, bool) {
	var p *float64
	switch name {
	case "average_price":
		p = m.AveragePrice
	case "source_price":
		p = m.SourcePrice
	case "volume":
		p = m.Volume
	case "prev_price":
		p = m.PrevPrice
	case "prev_volume":
		p = m.PrevVolume
	case "years_price":
		p = m.YearsPrice
	case "years_volume":
		p = m.YearsVolume
	default:
		return 0, false
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// MarketVariableNames lists the lagged market measurements usable as
// model features.
var MarketVariableNames = []string{
	"prev_price", "prev_volume", "years_price", "years_volume",
}

// IsMarketVariable reports whether name is a lagged market measurement.
func IsMarketVariable(name string) bool {
	for _, n := range MarketVariableNames {
		if n == name {
			return true
		}
	}
	return false
}

// PricePoint is one ground-truth price observation, the y series of the
// regression. SourcePrice is the regression target.
type PricePoint struct {
	Year        int
	Half        string
	SourcePrice *float64
}

// FitResult describes the outcome of one (model, month) fit inside a
// batch run. Error is a display-ready message, empty on success.
type FitResult struct {
	Success        bool   `json:"success"`
	ModelVersionID *int64 `json:"model_version_id"`
	Error          string `json:"error,omitempty"`
}

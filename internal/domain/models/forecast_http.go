package models

// HTTP request payloads for the forecast API. Binding, defaults and
// validation run through pkg/http.ReadAndValidateRequest.

// RunModelRequest runs fit-and-persist for a single (model, month).
type RunModelRequest struct {
	ModelName   string `json:"model_name" validate:"required"`
	TargetMonth int    `json:"target_month" validate:"required,gte=1,lte=12"`
	// VariableIDs overrides the registered feature set when present.
	VariableIDs []int64 `json:"variable_ids" validate:"omitempty,min=1"`
}

// RunBatchRequest runs every (model, month) combination of the two lists.
type RunBatchRequest struct {
	ModelNames   []string `json:"model_names" validate:"required,min=1"`
	TargetMonths []int    `json:"target_months" validate:"required,min=1,dive,gte=1,lte=12"`
}

// PeriodUpdateRequest notifies that raw data for one half-month period
// has been ingested and triggers the prediction rollover.
type PeriodUpdateRequest struct {
	Year  int    `json:"year" validate:"required,gte=2000"`
	Month int    `json:"month" validate:"required,gte=1,lte=12"`
	Half  string `json:"half" validate:"required,oneof=前半 後半"`
	// LookAheadYears falls back to the configured forecast default when
	// omitted.
	LookAheadYears int   `json:"look_ahead_years" validate:"omitempty,gte=1,lte=5"`
	RefitModels    *bool `json:"refit_models"`
	// AllowBackfill is the explicit historical-feedback mode: it permits
	// writing reports at or before the notified period. Never the default.
	AllowBackfill bool `json:"allow_backfill"`
}

// ReportsRequest filters the report listing.
type ReportsRequest struct {
	ModelName string `query:"model_name" json:"model_name"`
	Limit     int    `query:"limit" json:"limit" default:"50" validate:"gte=1,lte=500"`
}

// PeriodUpdateResponse summarizes one rollover run.
type PeriodUpdateResponse struct {
	UpdatedYear    int    `json:"updated_year"`
	UpdatedMonth   int    `json:"updated_month"`
	UpdatedHalf    string `json:"updated_half"`
	ReportsWritten int    `json:"reports_written"`
}

// ActiveModelInfo is the read-side view of one active model version.
type ActiveModelInfo struct {
	ModelName    string            `json:"model_name"`
	Vegetable    string            `json:"vegetable"`
	TargetMonth  int               `json:"target_month"`
	VersionID    int64             `json:"version_id"`
	Evaluation   *Evaluation       `json:"evaluation,omitempty"`
	Coefficients []CoefficientInfo `json:"coefficients,omitempty"`
}

// CoefficientInfo is a display-ready coefficient row. Display combines
// the Japanese variable label and the lag, e.g. "平均気温 (2カ月前)".
type CoefficientInfo struct {
	Variable  string  `json:"variable"`
	Display   string  `json:"display"`
	Coef      float64 `json:"coef"`
	TValue    float64 `json:"t_value"`
	PValue    float64 `json:"p_value"`
	StdError  float64 `json:"std_error"`
	IsSegment bool    `json:"is_segment"`
}

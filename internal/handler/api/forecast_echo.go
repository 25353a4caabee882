package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	models "VegeCast/internal/domain/models"
	domrepo "VegeCast/internal/domain/repository"
	"VegeCast/internal/service/cache"
	"VegeCast/internal/usecase"
	xhttp "VegeCast/pkg/http"
	xlogger "VegeCast/pkg/logger"

	"github.com/labstack/echo/v4"
)

// ForecastEchoHandler exposes the forecast pipeline over HTTP: the
// ingestion webhook, manual fit triggers and the report read side.
type ForecastEchoHandler struct {
	logger       *xlogger.Logger
	forecaster   *usecase.Forecaster
	store        domrepo.ModelStore
	reports      domrepo.ReportStore
	cache        cache.BytesCache
	cacheTTL     time.Duration
	webhookToken string
	lookAhead    int
}

func NewForecastEchoHandler(
	logger *xlogger.Logger,
	forecaster *usecase.Forecaster,
	store domrepo.ModelStore,
	reports domrepo.ReportStore,
	bc cache.BytesCache,
	cacheTTL time.Duration,
	webhookToken string,
	lookAhead int,
) *ForecastEchoHandler {
	return &ForecastEchoHandler{
		logger:       logger,
		forecaster:   forecaster,
		store:        store,
		reports:      reports,
		cache:        bc,
		cacheTTL:     cacheTTL,
		webhookToken: webhookToken,
		lookAhead:    lookAhead,
	}
}

func (h *ForecastEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/webhook/period-update", h.PeriodUpdate)

	g := e.Group("/api")
	g.POST("/models/run", h.RunModel)
	g.POST("/models/run-batch", h.RunBatch)
	g.GET("/models/active", h.ActiveModels)
	g.GET("/reports", h.Reports)
}

// PeriodUpdate is the ingestion webhook: new raw data for one half-month
// period has landed, roll the forecasts forward.
func (h *ForecastEchoHandler) PeriodUpdate(c echo.Context) error {
	if h.webhookToken != "" {
		token := c.Request().Header.Get("X-Webhook-Token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.webhookToken)) != 1 {
			return xhttp.AppErrorResponse(c, xhttp.UnauthorizedError("invalid webhook token"))
		}
	}

	req := &models.PeriodUpdateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	refit := true
	if req.RefitModels != nil {
		refit = *req.RefitModels
	}
	lookAhead := req.LookAheadYears
	if lookAhead == 0 {
		lookAhead = h.lookAhead
	}
	written, err := h.forecaster.UpdatePredictionsForPeriod(c.Request().Context(), usecase.RolloverParams{
		Year:           req.Year,
		Month:          req.Month,
		Half:           req.Half,
		LookAheadYears: lookAhead,
		RefitModels:    refit,
		AllowBackfill:  req.AllowBackfill,
	})
	if err != nil {
		h.logger.Error("period update failed", xlogger.Error(err))
		return h.domainErrorResponse(c, err)
	}

	return xhttp.SuccessResponse(c, models.PeriodUpdateResponse{
		UpdatedYear:    req.Year,
		UpdatedMonth:   req.Month,
		UpdatedHalf:    req.Half,
		ReportsWritten: written,
	})
}

// RunModel fits one (model, month) target.
func (h *ForecastEchoHandler) RunModel(c echo.Context) error {
	req := &models.RunModelRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	versionID, err := h.forecaster.FitAndPersist(c.Request().Context(), req.ModelName, req.TargetMonth, req.VariableIDs)
	if err != nil {
		h.logger.Error("model run failed",
			xlogger.String("model", req.ModelName),
			xlogger.Int("month", req.TargetMonth),
			xlogger.Error(err))
		return h.domainErrorResponse(c, err)
	}

	return xhttp.CreatedResponse(c, map[string]interface{}{
		"model_name":       req.ModelName,
		"target_month":     req.TargetMonth,
		"model_version_id": versionID,
	})
}

// RunBatch fits every (model, month) combination; partial failure is
// reported per target, the batch itself always returns 200.
func (h *ForecastEchoHandler) RunBatch(c echo.Context) error {
	req := &models.RunBatchRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	results := h.forecaster.RunForecastAnalysis(c.Request().Context(), req.ModelNames, req.TargetMonths)
	return xhttp.SuccessResponse(c, results)
}

// ActiveModels lists every active version with its evaluation and
// display-ready coefficients.
func (h *ForecastEchoHandler) ActiveModels(c echo.Context) error {
	ctx := c.Request().Context()
	versions, err := h.store.ActiveVersions(ctx)
	if err != nil {
		h.logger.Error("active versions lookup failed", xlogger.Error(err))
		return h.domainErrorResponse(c, err)
	}

	out := make([]models.ActiveModelInfo, 0, len(versions))
	for _, v := range versions {
		kind, ok, err := h.store.KindByID(ctx, v.ModelKindID)
		if err != nil {
			return h.domainErrorResponse(c, err)
		}
		if !ok {
			continue
		}
		info := models.ActiveModelInfo{
			ModelName:   kind.TagName,
			Vegetable:   kind.Vegetable,
			TargetMonth: v.TargetMonth,
			VersionID:   v.ID,
		}
		if ev, ok, err := h.store.LatestEvaluation(ctx, v.ID); err == nil && ok {
			e := ev
			info.Evaluation = &e
		}
		coefs, err := h.store.Coefficients(ctx, v.ID)
		if err != nil {
			return h.domainErrorResponse(c, err)
		}
		for _, cf := range coefs {
			info.Coefficients = append(info.Coefficients, models.CoefficientInfo{
				Variable:  cf.Variable.Name,
				Display:   models.FormatVariable(cf.Variable),
				Coef:      cf.Coef,
				TValue:    cf.TValue,
				PValue:    cf.PValue,
				StdError:  cf.StdError,
				IsSegment: cf.IsSegment,
			})
		}
		out = append(out, info)
	}
	return xhttp.ListResponse(c, out, int64(len(out)))
}

// Reports lists the latest prediction reports, optionally for one model.
// Responses are cached briefly; the rollover cadence is half-monthly so
// short staleness is harmless.
func (h *ForecastEchoHandler) Reports(c echo.Context) error {
	req := &models.ReportsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()

	cacheKey := fmt.Sprintf("reports:%s:%d", req.ModelName, req.Limit)
	if h.cache != nil {
		if b, ok, err := h.cache.GetBytes(cacheKey); err == nil && ok {
			var cached []models.PredictionReport
			if json.Unmarshal(b, &cached) == nil {
				return xhttp.ListResponse(c, cached, int64(len(cached)))
			}
		}
	}

	var kindID *int64
	if req.ModelName != "" {
		kind, ok, err := h.store.KindByName(ctx, req.ModelName)
		if err != nil {
			return h.domainErrorResponse(c, err)
		}
		if !ok {
			return h.domainErrorResponse(c, models.NewNotFound("モデル種類", req.ModelName))
		}
		kindID = &kind.ID
	}

	rows, err := h.reports.ListLatest(ctx, kindID, req.Limit)
	if err != nil {
		h.logger.Error("report listing failed", xlogger.Error(err))
		return h.domainErrorResponse(c, err)
	}

	if h.cache != nil {
		if b, err := json.Marshal(rows); err == nil {
			_ = h.cache.SetBytes(cacheKey, b, h.cacheTTL)
		}
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

// domainErrorResponse maps typed domain errors onto the HTTP envelope.
func (h *ForecastEchoHandler) domainErrorResponse(c echo.Context, err error) error {
	var (
		nf  *models.NotFoundError
		ve  *models.ValidationError
		ie  *models.InsufficientObservationsError
		pe  *models.PersistenceError
		app *xhttp.AppError
	)
	switch {
	case errors.As(err, &app):
		return xhttp.AppErrorResponse(c, app)
	case errors.As(err, &nf):
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError(nf.Error()))
	case errors.As(err, &ve):
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(ve.Error()))
	case errors.As(err, &ie):
		return xhttp.AppErrorResponse(c, xhttp.UnprocessableEntityError(ie.Error()))
	case errors.As(err, &pe):
		return xhttp.AppErrorResponse(c, xhttp.InternalError("保存処理に失敗しました").WithError(pe))
	default:
		return xhttp.AppErrorResponse(c, xhttp.InternalError("予期しないエラーが発生しました").WithError(err))
	}
}

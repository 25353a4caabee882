package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"VegeCast/internal/domain/models"
	pkgkafka "VegeCast/pkg/kafka"
	applogger "VegeCast/pkg/logger"
)

// PeriodIngestEvent is the message the ingestion pipeline publishes when
// raw data for one half-month period has been aggregated.
type PeriodIngestEvent struct {
	Year           int    `json:"year"`
	Month          int    `json:"month"`
	Half           string `json:"half"`
	LookAheadYears int    `json:"look_ahead_years"`
	RefitModels    *bool  `json:"refit_models"`
	AllowBackfill  bool   `json:"allow_backfill"`
}

// ForecastUpdatedEvent summarizes one finished rollover for downstream
// consumers (dashboards, notification fanout).
type ForecastUpdatedEvent struct {
	Year           int       `json:"year"`
	Month          int       `json:"month"`
	Half           string    `json:"half"`
	ReportsWritten int       `json:"reports_written"`
	FinishedAt     time.Time `json:"finished_at"`
}

// IngestEventHandler consumes period-ingest events and drives the
// forecast rollover, mirroring the webhook path message-for-message.
type IngestEventHandler struct {
	topic        string
	publishTopic string
	lookAhead    int
	forecaster   *Forecaster
	producer     *pkgkafka.Producer
	logger       *applogger.Logger
}

func NewIngestEventHandler(
	topic, publishTopic string,
	lookAhead int,
	forecaster *Forecaster,
	producer *pkgkafka.Producer,
	logger *applogger.Logger,
) *IngestEventHandler {
	return &IngestEventHandler{
		topic:        topic,
		publishTopic: publishTopic,
		lookAhead:    lookAhead,
		forecaster:   forecaster,
		producer:     producer,
		logger:       logger,
	}
}

// Topic returns the topic this handler consumes.
func (h *IngestEventHandler) Topic() string { return h.topic }

// Handle processes one period-ingest event. Malformed payloads and
// validation failures are logged and dropped so a poison message never
// loops; everything else is returned for the consumer's retry policy.
func (h *IngestEventHandler) Handle(ctx context.Context, data []byte) error {
	var ev PeriodIngestEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		h.logger.Error("dropping malformed ingest event", applogger.Error(err))
		return nil
	}
	if ev.LookAheadYears == 0 {
		ev.LookAheadYears = h.lookAhead
	}
	refit := true
	if ev.RefitModels != nil {
		refit = *ev.RefitModels
	}

	written, err := h.forecaster.UpdatePredictionsForPeriod(ctx, RolloverParams{
		Year:           ev.Year,
		Month:          ev.Month,
		Half:           ev.Half,
		LookAheadYears: ev.LookAheadYears,
		RefitModels:    refit,
		AllowBackfill:  ev.AllowBackfill,
	})
	if err != nil {
		var ve *models.ValidationError
		if errors.As(err, &ve) {
			h.logger.Error("dropping invalid ingest event",
				applogger.Int("year", ev.Year),
				applogger.Int("month", ev.Month),
				applogger.String("half", ev.Half),
				applogger.Error(err))
			return nil
		}
		return fmt.Errorf("rollover for %d/%d %s: %w", ev.Year, ev.Month, ev.Half, err)
	}

	h.logger.Info("ingest event processed",
		applogger.Int("year", ev.Year),
		applogger.Int("month", ev.Month),
		applogger.String("half", ev.Half),
		applogger.Int("reports", written))

	h.publishSummary(ctx, ev, written)
	return nil
}

// publishSummary emits the forecast-updated event. Best effort: the
// rollover already committed, a publish failure only costs the fanout.
func (h *IngestEventHandler) publishSummary(ctx context.Context, ev PeriodIngestEvent, written int) {
	if h.producer == nil || h.publishTopic == "" {
		return
	}
	key := []byte(fmt.Sprintf("%d-%d-%s", ev.Year, ev.Month, ev.Half))
	out := ForecastUpdatedEvent{
		Year:           ev.Year,
		Month:          ev.Month,
		Half:           ev.Half,
		ReportsWritten: written,
		FinishedAt:     time.Now().UTC(),
	}
	if err := h.producer.Publish(ctx, h.publishTopic, key, out); err != nil {
		h.logger.Warn("forecast-updated publish failed",
			applogger.String("topic", h.publishTopic),
			applogger.Error(err))
	}
}

package usecase

import (
	"context"
	"testing"

	"VegeCast/internal/domain/models"
)

func newTestIngestHandler(reader *fakeReader, store *fakeModelStore, reports *fakeReportStore, lookAhead int) *IngestEventHandler {
	f, _ := newTestForecaster(reader, store, reports)
	return NewIngestEventHandler("vegecast.ingest.period", "", lookAhead, f, nil, testLogger())
}

func TestIngestHandlerDropsMalformedPayload(t *testing.T) {
	h := newTestIngestHandler(newFakeReader(), newFakeModelStore(), newFakeReportStore(), 1)

	if err := h.Handle(context.Background(), []byte("{not json")); err != nil {
		t.Fatalf("malformed payload must be dropped, not retried: %v", err)
	}
}

func TestIngestHandlerDropsInvalidEvent(t *testing.T) {
	h := newTestIngestHandler(newFakeReader(), newFakeModelStore(), newFakeReportStore(), 1)

	if err := h.Handle(context.Background(), []byte(`{"year":2025,"month":13,"half":"前半"}`)); err != nil {
		t.Fatalf("invalid event must be dropped, not retried: %v", err)
	}
}

func TestIngestHandlerRunsRollover(t *testing.T) {
	reader := newFakeReader()
	seedPredictionWeather(reader, 2023, 2025)
	store := newFakeModelStore()
	reports := newFakeReportStore()
	_, versionID := seedActiveVersion(t, store, "cabbage_standard", 0)
	h := newTestIngestHandler(reader, store, reports, 1)

	payload := []byte(`{"year":2025,"month":5,"half":"前半","look_ahead_years":1,"refit_models":false}`)
	if err := h.Handle(context.Background(), payload); err != nil {
		t.Fatalf("handle: %v", err)
	}

	// 2025 second half plus both halves of 2026.
	if len(reports.reports) != 3 {
		t.Fatalf("reports written = %d, want 3", len(reports.reports))
	}
	if _, ok, _ := reports.Get(context.Background(), versionID, models.Period{Year: 2026, Month: 5, Half: models.HalfSecond}); !ok {
		t.Fatalf("look-ahead report missing")
	}
}

func TestIngestHandlerAppliesConfiguredLookAhead(t *testing.T) {
	reader := newFakeReader()
	seedPredictionWeather(reader, 2023, 2025)
	store := newFakeModelStore()
	reports := newFakeReportStore()
	_, versionID := seedActiveVersion(t, store, "cabbage_standard", 0)
	h := newTestIngestHandler(reader, store, reports, 1)

	// No look_ahead_years in the payload: the configured default takes
	// over. Zero would mean rest-of-year only, a single report.
	payload := []byte(`{"year":2025,"month":5,"half":"前半","refit_models":false}`)
	if err := h.Handle(context.Background(), payload); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(reports.reports) != 3 {
		t.Fatalf("reports written = %d, want 3 with the default look-ahead", len(reports.reports))
	}
	if _, ok, _ := reports.Get(context.Background(), versionID, models.Period{Year: 2026, Month: 5, Half: models.HalfSecond}); !ok {
		t.Fatalf("default look-ahead report missing")
	}
}

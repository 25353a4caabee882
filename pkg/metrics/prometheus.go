package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	fitsTotal    *prometheus.CounterVec
	reportsTotal *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	lastPredict  *prometheus.GaugeVec
	latency      *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		fitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vegecast_model_fits_total",
				Help: "Total number of model fit attempts",
			},
			[]string{"model", "result"},
		),
		reportsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vegecast_prediction_reports_total",
				Help: "Total number of prediction report writes",
			},
			[]string{"outcome"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vegecast_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPredict: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vegecast_last_predicted_price",
				Help: "Last predicted price per model",
			},
			[]string{"model"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vegecast_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordFit records one fit attempt for a model.
func (r *Recorder) RecordFit(model string, success bool) {
	result := "ok"
	if !success {
		result = "error"
	}
	r.fitsTotal.WithLabelValues(model, result).Inc()
}

// RecordReport records one report upsert outcome.
func (r *Recorder) RecordReport(created bool) {
	outcome := "updated"
	if created {
		outcome = "created"
	}
	r.reportsTotal.WithLabelValues(outcome).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordPrediction records the latest predicted price of a model.
func (r *Recorder) RecordPrediction(model string, price float64) {
	r.lastPredict.WithLabelValues(model).Set(price)
}

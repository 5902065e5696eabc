package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Instrument names and label sets are a contract with dashboards and alert
// rules; do not rename without coordinating a scrape-side migration.

var (
	// Prediction path
	PredictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ml_predictions_total",
			Help: "Total number of prediction requests by outcome",
		},
		[]string{"model_name", "model_version", "status"},
	)

	PredictionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ml_prediction_duration_seconds",
			Help:    "End-to-end prediction latency in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 0.75, 1.0, 2.5, 5.0, 7.5, 10.0},
		},
		[]string{"model_name", "model_version"},
	)

	// Model lifecycle
	ModelLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ml_model_loads_total",
			Help: "Total number of model load attempts by outcome",
		},
		[]string{"model_name", "model_version", "status"},
	)

	ModelLoadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ml_model_load_duration_seconds",
			Help:    "Model load duration in seconds, fetch through publish",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model_name", "model_version"},
	)

	CurrentModelVersion = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ml_current_model_version",
			Help: "Currently published model version per model name",
		},
		[]string{"model_name"},
	)

	// Feature cache (Tier 1)
	FeatureCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ml_feature_cache_hits_total",
			Help: "Feature rows served from the Tier-1 cache",
		},
	)

	FeatureCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ml_feature_cache_misses_total",
			Help: "Feature lookups that fell through to the durable tier",
		},
	)

	// Prediction cache
	PredictionCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ml_prediction_cache_hits_total",
			Help: "Predictions served from the fingerprint cache",
		},
	)

	PredictionCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ml_prediction_cache_misses_total",
			Help: "Prediction cache lookups that missed",
		},
	)

	// Admission queue
	RequestQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ml_request_queue_depth",
			Help: "Requests currently admitted and executing",
		},
	)
)

// Telemetry statuses for PredictionsTotal. Fixed taxonomy; label cardinality
// stays bounded.
const (
	StatusSuccess           = "success"
	StatusCacheHit          = "cache_hit"
	StatusValidationError   = "validation_error"
	StatusModelNotReady     = "model_not_ready"
	StatusFeatureStoreError = "feature_store_error"
	StatusPredictorError    = "predictor_error"
	StatusTimeout           = "timeout"
)

// RecordPrediction counts one completed request and observes its latency.
func RecordPrediction(modelName, modelVersion, status string, seconds float64) {
	PredictionsTotal.WithLabelValues(modelName, modelVersion, status).Inc()
	PredictionDuration.WithLabelValues(modelName, modelVersion).Observe(seconds)
}

// RecordModelLoad counts one load attempt and, on success, observes its
// duration and moves the current-version gauge.
func RecordModelLoad(modelName, modelVersion string, success bool, seconds float64) {
	status := "success"
	if !success {
		status = "failure"
	}
	ModelLoadsTotal.WithLabelValues(modelName, modelVersion, status).Inc()
	if success {
		ModelLoadDuration.WithLabelValues(modelName, modelVersion).Observe(seconds)
		if v, err := strconv.ParseFloat(modelVersion, 64); err == nil {
			CurrentModelVersion.WithLabelValues(modelName).Set(v)
		}
	}
}

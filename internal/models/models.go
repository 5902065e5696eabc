package models

import "time"

// PredictionRequest is the body of POST /predict.
type PredictionRequest struct {
	ModelName           string                 `json:"model_name" binding:"required"`
	ModelVersion        string                 `json:"model_version,omitempty"` // "latest", exact numeric id, or empty
	EntityID            string                 `json:"entity_id,omitempty"`
	FeatureGroup        string                 `json:"feature_group,omitempty"`
	Features            map[string]interface{} `json:"features"`
	ReturnProbabilities bool                   `json:"return_probabilities,omitempty"`
	RequestID           string                 `json:"request_id,omitempty"`
}

// PredictionResponse is returned for a single prediction.
type PredictionResponse struct {
	Prediction    float64   `json:"prediction"`
	Probabilities []float64 `json:"probabilities,omitempty"`
	ModelName     string    `json:"model_name"`
	ModelVersion  string    `json:"model_version"`
	LatencyMS     float64   `json:"latency_ms"`
	CacheHit      bool      `json:"cache_hit"`
	RequestID     string    `json:"request_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// BatchPredictionRequest is the body of POST /predict/batch. All instances run
// against the same model.
type BatchPredictionRequest struct {
	ModelName           string                   `json:"model_name" binding:"required"`
	ModelVersion        string                   `json:"model_version,omitempty"`
	Instances           []map[string]interface{} `json:"instances" binding:"required"`
	ReturnProbabilities bool                     `json:"return_probabilities,omitempty"`
}

// BatchResult is one slot of a batch response: either a prediction or an error,
// at the same index as its instance.
type BatchResult struct {
	*PredictionResponse
	Error *BatchError `json:"error,omitempty"`
}

// BatchError carries a per-instance failure without failing the batch.
type BatchError struct {
	Kind    string `json:"kind"` // validation_error, model_not_ready, ...
	Message string `json:"message"`
}

// BatchPredictionResponse is returned for POST /predict/batch. Results preserve
// instance order.
type BatchPredictionResponse struct {
	Results        []BatchResult `json:"results"`
	BatchSize      int           `json:"batch_size"`
	TotalLatencyMS float64       `json:"total_latency_ms"`
	AvgLatencyMS   float64       `json:"avg_latency_ms"`
}

// ModelSummary is one row of GET /models.
type ModelSummary struct {
	Name     string    `json:"name"`
	Version  string    `json:"version"`
	Stage    string    `json:"stage"` // staging, production, archived, none
	LoadedAt time.Time `json:"loaded_at"`
}

// FeatureKey identifies a row in the feature store.
type FeatureKey struct {
	EntityID string `json:"entity_id"`
	Group    string `json:"group"`
}

// FeatureRow is one entity's feature values at a point in time. Version is
// monotonically increasing per key; higher versions supersede lower ones.
type FeatureRow struct {
	Key       FeatureKey             `json:"key"`
	Values    map[string]interface{} `json:"values"`
	Version   uint64                 `json:"version"`
	FetchedAt time.Time              `json:"fetched_at"`
}

// PredictionEvent is the audit record published for every completed prediction.
type PredictionEvent struct {
	RequestID    string    `json:"request_id"`
	ModelName    string    `json:"model_name"`
	ModelVersion string    `json:"model_version"`
	Status       string    `json:"status"` // success, cache_hit, validation_error, ...
	LatencyMS    float64   `json:"latency_ms"`
	CacheHit     bool      `json:"cache_hit"`
	Timestamp    time.Time `json:"timestamp"`
}

// ModelUpdateStatus is the poller's view of one tracked model.
type ModelUpdateStatus struct {
	Name           string `json:"name"`
	CurrentVersion string `json:"current_version,omitempty"`
	DesiredVersion string `json:"desired_version,omitempty"`
	LastError      string `json:"last_error,omitempty"`
}

// UpdatesStatus is the body of GET /models/updates/status.
type UpdatesStatus struct {
	LastCheck time.Time           `json:"last_check"`
	Models    []ModelUpdateStatus `json:"models"`
}

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/platformbuilds/inference-core/internal/api/middleware"
	"github.com/platformbuilds/inference-core/internal/config"
	"github.com/platformbuilds/inference-core/internal/events"
	"github.com/platformbuilds/inference-core/internal/inference"
	"github.com/platformbuilds/inference-core/internal/registry"
	"github.com/platformbuilds/inference-core/pkg/logger"
)

// stubRegistry serves a fixed set of versions and artifacts.
type stubRegistry struct {
	mu        sync.Mutex
	versions  map[string][]registry.ModelVersion
	aliases   map[string]map[string]string
	artifacts map[string]*registry.ArtifactBundle
}

func newStubRegistry() *stubRegistry {
	return &stubRegistry{
		versions:  make(map[string][]registry.ModelVersion),
		aliases:   make(map[string]map[string]string),
		artifacts: make(map[string]*registry.ArtifactBundle),
	}
}

func (s *stubRegistry) add(name, version, stage string, bundle *registry.ArtifactBundle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[name] = append(s.versions[name], registry.ModelVersion{Version: version, Stage: stage})
	s.artifacts[name+"/"+version] = bundle
}

func (s *stubRegistry) ListVersions(_ context.Context, name string) ([]registry.ModelVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vs, ok := s.versions[name]
	if !ok {
		return nil, fmt.Errorf("%w: model %s", registry.ErrNotFound, name)
	}
	return append([]registry.ModelVersion(nil), vs...), nil
}

func (s *stubRegistry) ResolveAlias(_ context.Context, name, alias string) (*registry.ModelVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.aliases[name][alias]
	if !ok {
		return nil, fmt.Errorf("%w: alias %s for %s", registry.ErrNotFound, alias, name)
	}
	return &registry.ModelVersion{Version: v, Stage: registry.StageProduction}, nil
}

func (s *stubRegistry) FetchArtifact(_ context.Context, name, version string) (*registry.ArtifactBundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bundle, ok := s.artifacts[name+"/"+version]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", registry.ErrNotFound, name, version)
	}
	return bundle, nil
}

// fraudBundle is a nine-feature logistic model matching the canonical
// fraud_detector request shape.
func fraudBundle(t *testing.T, version string) *registry.ArtifactBundle {
	t.Helper()

	schema, err := json.Marshal(map[string]interface{}{
		"fields": []map[string]interface{}{
			{"name": "amount", "dtype": "f64", "required": true},
			{"name": "hour_of_day", "dtype": "i64", "required": true},
			{"name": "is_weekend", "dtype": "bool", "required": true},
			{"name": "transaction_count_24h", "dtype": "i64", "required": true},
			{"name": "avg_amount_30d", "dtype": "f64", "required": true},
			{"name": "risk_score", "dtype": "f64", "required": true},
			{"name": "merchant_category_encoded", "dtype": "i64", "required": true},
			{"name": "payment_method_encoded", "dtype": "i64", "required": true},
			{"name": "day_of_week", "dtype": "i64", "required": true},
		},
	})
	require.NoError(t, err)

	artifact, err := json.Marshal(map[string]interface{}{
		"format_version": 1,
		"model_type":     "linear",
		"n_features":     9,
		"params": map[string]interface{}{
			"coefficients": []float64{0.004, 0.02, 0.3, 0.05, -0.001, 2.0, 0.001, 0.01, 0.02},
			"intercept":    -1.2,
			"link":         "logistic",
		},
	})
	require.NoError(t, err)

	return &registry.ArtifactBundle{
		ModelName: "fraud_detector",
		Version:   version,
		Artifact:  artifact,
		Schema:    schema,
	}
}

const fraudRequestBody = `{
  "model_name": "fraud_detector",
  "features": {
    "amount": 150.0,
    "hour_of_day": 23,
    "is_weekend": 1,
    "transaction_count_24h": 5,
    "avg_amount_30d": 231.04,
    "risk_score": 0.3,
    "merchant_category_encoded": 73,
    "payment_method_encoded": 4,
    "day_of_week": 6
  },
  "return_probabilities": true
}`

// testStack is the wired prediction path with one loaded fraud_detector.
type testStack struct {
	registry *stubRegistry
	manager  *inference.Manager
	cache    *inference.PredictionCache
	pipeline *inference.Pipeline
	hub      *events.Hub
}

func newTestStack(t *testing.T, fg inference.FeatureGetter) *testStack {
	t.Helper()
	log := logger.NewNop()

	reg := newStubRegistry()
	reg.add("fraud_detector", "1", registry.StageProduction, fraudBundle(t, "1"))

	cache := inference.NewPredictionCache(128, time.Minute)
	manager := inference.NewManager(reg, inference.NewLoader(log), cache, time.Minute, log)
	t.Cleanup(manager.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := manager.SubmitLoad("fraud_detector", "1").Wait(ctx)
	require.NoError(t, err)

	hub := events.NewHub()
	recorder := events.NewRecorder(config.EventsConfig{}, config.RedisConfig{}, hub, log)
	pipeline := inference.NewPipeline(manager, fg, cache, recorder, 0, log)

	return &testStack{registry: reg, manager: manager, cache: cache, pipeline: pipeline, hub: hub}
}

func mustWait(t *testing.T, stack *testStack, name, version string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := stack.manager.SubmitLoad(name, version).Wait(ctx)
	require.NoError(t, err)
}

// predictRouter mounts the prediction handlers the way the server does.
func predictRouter(h *PredictHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID())
	r.POST("/predict", h.Predict)
	r.POST("/predict/batch", h.PredictBatch)
	return r
}

func postJSON(r http.Handler, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/platformbuilds/inference-core/internal/models"
	"github.com/platformbuilds/inference-core/internal/registry"
	"github.com/platformbuilds/inference-core/pkg/logger"
)

// fakeRegistry is an in-memory registry.Client with failure injection and
// call accounting.
type fakeRegistry struct {
	mu         sync.Mutex
	versions   map[string][]registry.ModelVersion
	aliases    map[string]map[string]string
	artifacts  map[nameVersion]*registry.ArtifactBundle
	fetchCalls map[nameVersion]int
	fetchDelay time.Duration
	failFetch  map[nameVersion]error
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		versions:   make(map[string][]registry.ModelVersion),
		aliases:    make(map[string]map[string]string),
		artifacts:  make(map[nameVersion]*registry.ArtifactBundle),
		fetchCalls: make(map[nameVersion]int),
		failFetch:  make(map[nameVersion]error),
	}
}

func (f *fakeRegistry) addModel(name, version, stage string, bundle *registry.ArtifactBundle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.versions[name] = append(f.versions[name], registry.ModelVersion{Version: version, Stage: stage})
	if bundle != nil {
		f.artifacts[nameVersion{name, version}] = bundle
	}
}

func (f *fakeRegistry) setAlias(name, alias, version string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.aliases[name] == nil {
		f.aliases[name] = make(map[string]string)
	}
	f.aliases[name][alias] = version
}

func (f *fakeRegistry) ListVersions(_ context.Context, name string) ([]registry.ModelVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	vs, ok := f.versions[name]
	if !ok {
		return nil, fmt.Errorf("%w: model %s", registry.ErrNotFound, name)
	}
	return append([]registry.ModelVersion(nil), vs...), nil
}

func (f *fakeRegistry) ResolveAlias(_ context.Context, name, alias string) (*registry.ModelVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	version, ok := f.aliases[name][alias]
	if !ok {
		return nil, fmt.Errorf("%w: alias %s for %s", registry.ErrNotFound, alias, name)
	}
	for _, v := range f.versions[name] {
		if v.Version == version {
			out := v
			return &out, nil
		}
	}
	return &registry.ModelVersion{Version: version, Stage: registry.StageNone}, nil
}

func (f *fakeRegistry) FetchArtifact(ctx context.Context, name, version string) (*registry.ArtifactBundle, error) {
	f.mu.Lock()
	key := nameVersion{name, version}
	f.fetchCalls[key]++
	delay := f.fetchDelay
	failErr := f.failFetch[key]
	bundle, ok := f.artifacts[key]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failErr != nil {
		return nil, failErr
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", registry.ErrNotFound, name, version)
	}
	return bundle, nil
}

func (f *fakeRegistry) fetches(name, version string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls[nameVersion{name, version}]
}

// simpleSchema builds n required f64 fields named f0..f(n-1).
func simpleSchema(t *testing.T, n int) []byte {
	t.Helper()
	fields := make([]map[string]interface{}, n)
	for i := 0; i < n; i++ {
		fields[i] = map[string]interface{}{
			"name": fmt.Sprintf("f%d", i), "dtype": "f64", "required": true,
		}
	}
	raw, err := json.Marshal(map[string]interface{}{"fields": fields})
	require.NoError(t, err)
	return raw
}

func linearArtifact(t *testing.T, coefficients []float64, intercept float64, link string) []byte {
	t.Helper()
	params := map[string]interface{}{"coefficients": coefficients, "intercept": intercept}
	if link != "" {
		params["link"] = link
	}
	raw, err := json.Marshal(map[string]interface{}{
		"format_version": 1,
		"model_type":     ModelTypeLinear,
		"n_features":     len(coefficients),
		"params":         params,
	})
	require.NoError(t, err)
	return raw
}

func linearBundle(t *testing.T, name, version string, coefficients []float64) *registry.ArtifactBundle {
	t.Helper()
	return &registry.ArtifactBundle{
		ModelName: name,
		Version:   version,
		Artifact:  linearArtifact(t, coefficients, 0, ""),
		Schema:    simpleSchema(t, len(coefficients)),
	}
}

func newTestManager(t *testing.T, reg registry.Client) *Manager {
	t.Helper()
	cache := NewPredictionCache(64, time.Minute)
	m := NewManager(reg, NewLoader(logger.NewNop()), cache, 60*time.Second, logger.NewNop())
	t.Cleanup(m.Close)
	return m
}

func mustLoad(t *testing.T, m *Manager, name, version string) *ModelHandle {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h, err := m.SubmitLoad(name, version).Wait(ctx)
	require.NoError(t, err)
	require.NotNil(t, h)
	return h
}

func fraudResponse(version string) *models.PredictionResponse {
	return &models.PredictionResponse{
		Prediction:   1,
		ModelName:    "fraud_detector",
		ModelVersion: version,
		Timestamp:    time.Now().UTC(),
	}
}

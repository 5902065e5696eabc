package inference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platformbuilds/inference-core/internal/events"
	"github.com/platformbuilds/inference-core/internal/features"
	"github.com/platformbuilds/inference-core/internal/metrics"
	"github.com/platformbuilds/inference-core/internal/models"
	"github.com/platformbuilds/inference-core/pkg/logger"
)

// FeatureGetter is the slice of the feature store the pipeline needs for
// supplementary lookups.
type FeatureGetter interface {
	Get(ctx context.Context, key models.FeatureKey) (*models.FeatureRow, error)
}

// Pipeline is the request path: validate, resolve a handle, consult the
// prediction cache, assemble the feature vector, invoke the predictor, and
// record telemetry. Every call pins exactly one ModelHandle.
type Pipeline struct {
	manager  *Manager
	features FeatureGetter
	cache    *PredictionCache
	recorder *events.Recorder
	logger   logger.Logger

	// cacheMaxLatency is the admission ceiling: responses that took longer
	// are not cached, so one slow outlier cannot pin a stale latency.
	cacheMaxLatency time.Duration
}

func NewPipeline(manager *Manager, fg FeatureGetter, cache *PredictionCache, recorder *events.Recorder, cacheMaxLatency time.Duration, log logger.Logger) *Pipeline {
	return &Pipeline{
		manager:         manager,
		features:        fg,
		cache:           cache,
		recorder:        recorder,
		logger:          log,
		cacheMaxLatency: cacheMaxLatency,
	}
}

// Predict executes one prediction end to end.
func (p *Pipeline) Predict(ctx context.Context, req *models.PredictionRequest) (*models.PredictionResponse, error) {
	start := time.Now()

	if req.ModelName == "" {
		p.record(req, "none", metrics.StatusValidationError, start)
		return nil, &models.ValidationError{Field: "model_name", Message: "must not be empty"}
	}
	if req.Features == nil {
		p.record(req, "none", metrics.StatusValidationError, start)
		return nil, &models.ValidationError{Field: "features", Message: "must be an object"}
	}

	handle := p.resolveHandle(req.ModelName, req.ModelVersion)
	if handle == nil {
		p.record(req, "none", metrics.StatusModelNotReady, start)
		return nil, &models.ModelNotReadyError{Name: req.ModelName, Version: req.ModelVersion}
	}

	return p.run(ctx, start, handle, req)
}

// resolveHandle picks the handle the request pins: the current one for
// "latest" or empty, otherwise the exact version, which may still be
// draining after a swap.
func (p *Pipeline) resolveHandle(name, version string) *ModelHandle {
	if version == "" || version == "latest" {
		return p.manager.Current(name)
	}
	return p.manager.Handle(name, version)
}

func (p *Pipeline) run(ctx context.Context, start time.Time, handle *ModelHandle, req *models.PredictionRequest) (resp *models.PredictionResponse, err error) {
	status := metrics.StatusSuccess
	defer func() {
		p.record(req, handle.Version, status, start)
	}()

	normalized, unresolved, err := features.NormalizeRequest(handle.Schema, req.Features)
	if err != nil {
		status = metrics.StatusValidationError
		return nil, err
	}

	fp := Fingerprint(handle.Name, handle.Version, normalized)
	if p.cache != nil {
		if cached, ok := p.cache.Get(fp); ok {
			status = metrics.StatusCacheHit
			return p.serveCached(cached, req, start), nil
		}
	}

	// Supplementary features are fetched only when the request names an
	// entity and schema fields are still unresolved. A store failure here is
	// fatal only if the vector cannot be assembled without it.
	var storeErr error
	if len(unresolved) > 0 && req.EntityID != "" && p.features != nil {
		row, ferr := p.fetchSupplementary(ctx, handle, req)
		switch {
		case ferr == nil:
			unresolved = features.MergeRow(handle.Schema, normalized, unresolved, row)
		case errors.Is(ferr, features.ErrNotFound):
		default:
			storeErr = ferr
		}
		if ctx.Err() != nil {
			status = metrics.StatusTimeout
			return nil, fmt.Errorf("prediction deadline exceeded: %w", ctx.Err())
		}
	}

	vector, err := features.BuildVector(handle.Schema, normalized)
	if err != nil {
		if storeErr != nil {
			status = metrics.StatusFeatureStoreError
			return nil, storeErr
		}
		status = metrics.StatusValidationError
		return nil, err
	}

	if ctx.Err() != nil {
		status = metrics.StatusTimeout
		return nil, fmt.Errorf("prediction deadline exceeded: %w", ctx.Err())
	}

	prediction, err := handle.Predictor.Predict(vector)
	if err != nil {
		status = metrics.StatusPredictorError
		return nil, &models.PredictorError{Name: handle.Name, Version: handle.Version, Err: err}
	}

	// Probabilities are computed whenever the model supports them so the
	// cached entry can serve both request forms.
	var probabilities []float64
	if handle.Predictor.SupportsProba() {
		probabilities, err = handle.Predictor.PredictProba(vector)
		if err != nil {
			status = metrics.StatusPredictorError
			return nil, &models.PredictorError{Name: handle.Name, Version: handle.Version, Err: err}
		}
	}

	elapsed := time.Since(start)
	resp = &models.PredictionResponse{
		Prediction:    prediction,
		Probabilities: probabilities,
		ModelName:     handle.Name,
		ModelVersion:  handle.Version,
		LatencyMS:     durationMS(elapsed),
		CacheHit:      false,
		RequestID:     req.RequestID,
		Timestamp:     time.Now().UTC(),
	}

	if p.cache != nil && (p.cacheMaxLatency <= 0 || elapsed < p.cacheMaxLatency) {
		cached := *resp
		cached.RequestID = ""
		p.cache.Put(fp, handle.Name, &cached)
	}

	if !req.ReturnProbabilities {
		resp.Probabilities = nil
	}
	return resp, nil
}

func (p *Pipeline) fetchSupplementary(ctx context.Context, handle *ModelHandle, req *models.PredictionRequest) (*models.FeatureRow, error) {
	key := models.FeatureKey{EntityID: req.EntityID, Group: req.FeatureGroup}
	if key.Group == "" {
		key.Group = handle.Name
	}
	return p.features.Get(ctx, key)
}

func (p *Pipeline) serveCached(cached *models.PredictionResponse, req *models.PredictionRequest, start time.Time) *models.PredictionResponse {
	cached.CacheHit = true
	cached.LatencyMS = durationMS(time.Since(start))
	cached.RequestID = req.RequestID
	cached.Timestamp = time.Now().UTC()
	if !req.ReturnProbabilities {
		cached.Probabilities = nil
	}
	return cached
}

// PredictBatch runs every instance against one pinned handle with a bounded
// worker pool. Results keep instance order; a failing instance fills its
// slot with an error instead of aborting the batch.
func (p *Pipeline) PredictBatch(ctx context.Context, req *models.BatchPredictionRequest, maxConcurrency int) (*models.BatchPredictionResponse, error) {
	start := time.Now()

	if len(req.Instances) == 0 {
		return nil, &models.ValidationError{Field: "instances", Message: "must not be empty"}
	}
	handle := p.resolveHandle(req.ModelName, req.ModelVersion)
	if handle == nil {
		return nil, &models.ModelNotReadyError{Name: req.ModelName, Version: req.ModelVersion}
	}
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}

	results := make([]models.BatchResult, len(req.Instances))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)
	for i := range req.Instances {
		i := i
		g.Go(func() error {
			single := &models.PredictionRequest{
				ModelName:           req.ModelName,
				ModelVersion:        handle.Version,
				Features:            req.Instances[i],
				ReturnProbabilities: req.ReturnProbabilities,
			}
			resp, err := p.Predict(gctx, single)
			if err != nil {
				results[i] = models.BatchResult{Error: batchError(err)}
				return nil
			}
			results[i] = models.BatchResult{PredictionResponse: resp}
			return nil
		})
	}
	g.Wait()

	total := durationMS(time.Since(start))
	return &models.BatchPredictionResponse{
		Results:        results,
		BatchSize:      len(results),
		TotalLatencyMS: total,
		AvgLatencyMS:   total / float64(len(results)),
	}, nil
}

// batchError maps a pipeline error onto the telemetry taxonomy for one batch
// slot.
func batchError(err error) *models.BatchError {
	kind := metrics.StatusPredictorError
	var verr *models.ValidationError
	var nrerr *models.ModelNotReadyError
	var fserr *models.FeatureStoreError
	switch {
	case errors.As(err, &verr):
		kind = metrics.StatusValidationError
	case errors.As(err, &nrerr):
		kind = metrics.StatusModelNotReady
	case errors.As(err, &fserr):
		kind = metrics.StatusFeatureStoreError
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		kind = metrics.StatusTimeout
	}
	return &models.BatchError{Kind: kind, Message: err.Error()}
}

func (p *Pipeline) record(req *models.PredictionRequest, version, status string, start time.Time) {
	elapsed := time.Since(start)
	name := req.ModelName
	if name == "" {
		name = "none"
	}
	metrics.RecordPrediction(name, version, status, elapsed.Seconds())
	p.recorder.Publish(models.PredictionEvent{
		RequestID:    req.RequestID,
		ModelName:    name,
		ModelVersion: version,
		Status:       status,
		LatencyMS:    durationMS(elapsed),
		CacheHit:     status == metrics.StatusCacheHit,
		Timestamp:    time.Now().UTC(),
	})
}

func durationMS(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

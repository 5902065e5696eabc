package features

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/platformbuilds/inference-core/internal/metrics"
	"github.com/platformbuilds/inference-core/internal/models"
	"github.com/platformbuilds/inference-core/pkg/cache"
	"github.com/platformbuilds/inference-core/pkg/logger"
)

// ErrNotFound marks a feature key absent from both tiers.
var ErrNotFound = errors.New("features: row not found")

// TabularStore is the durable tier. Implementations query by primary key and
// assign monotonically increasing versions on write.
type TabularStore interface {
	GetRows(ctx context.Context, keys []models.FeatureKey) (map[models.FeatureKey]*models.FeatureRow, error)
	PutRow(ctx context.Context, key models.FeatureKey, values map[string]interface{}) (uint64, error)
	HealthCheck(ctx context.Context) error
}

// BatchResult is one slot of a GetBatch response. Row is nil when neither
// tier knows the key.
type BatchResult struct {
	Key models.FeatureKey
	Row *models.FeatureRow
}

// Store is the two-tier read-through feature client: a fast volatile KV tier
// in front of the durable tabular tier. Reads populate Tier 1; writes go
// through Tier 2 first.
type Store struct {
	kv      cache.KV
	tabular TabularStore
	ttl     time.Duration
	logger  logger.Logger
}

func NewStore(kv cache.KV, tabular TabularStore, ttl time.Duration, log logger.Logger) *Store {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{kv: kv, tabular: tabular, ttl: ttl, logger: log}
}

func cacheKey(key models.FeatureKey) string {
	return fmt.Sprintf("features:%s:%s", key.Group, key.EntityID)
}

// Get reads one row: Tier 1 first, then Tier 2 with a Tier 1 backfill.
func (s *Store) Get(ctx context.Context, key models.FeatureKey) (*models.FeatureRow, error) {
	if row := s.cacheGet(ctx, key); row != nil {
		metrics.FeatureCacheHits.Inc()
		return row, nil
	}
	metrics.FeatureCacheMisses.Inc()

	rows, err := s.getRowsWithRetry(ctx, []models.FeatureKey{key})
	if err != nil {
		return nil, err
	}
	row, ok := rows[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, key.Group, key.EntityID)
	}
	s.backfill(ctx, row)
	return row, nil
}

// GetBatch reads many rows in two round-trips at most: one Tier 1 MGET, one
// Tier 2 query for the miss set. The response has exactly one slot per input
// key in input order; duplicate keys share the same row.
func (s *Store) GetBatch(ctx context.Context, keys []models.FeatureKey) ([]BatchResult, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	// Coalesce duplicates for the lookups while remembering input order.
	distinct := make([]models.FeatureKey, 0, len(keys))
	seen := make(map[models.FeatureKey]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		distinct = append(distinct, k)
	}

	cacheKeys := make([]string, len(distinct))
	for i, k := range distinct {
		cacheKeys[i] = cacheKey(k)
	}

	found := make(map[models.FeatureKey]*models.FeatureRow, len(distinct))
	var misses []models.FeatureKey

	values, err := s.kv.MGet(ctx, cacheKeys)
	if err != nil {
		s.logger.Warn("tier-1 batch read failed, falling through to tier 2", "keys", len(distinct), "error", err)
		misses = distinct
		metrics.FeatureCacheMisses.Add(float64(len(distinct)))
	} else {
		for i, raw := range values {
			if raw == nil {
				misses = append(misses, distinct[i])
				continue
			}
			var row models.FeatureRow
			if err := json.Unmarshal(raw, &row); err != nil {
				s.logger.Warn("tier-1 entry corrupt, refetching", "key", cacheKeys[i], "error", err)
				misses = append(misses, distinct[i])
				continue
			}
			found[distinct[i]] = &row
		}
		metrics.FeatureCacheHits.Add(float64(len(found)))
		metrics.FeatureCacheMisses.Add(float64(len(misses)))
	}

	if len(misses) > 0 {
		rows, err := s.getRowsWithRetry(ctx, misses)
		if err != nil {
			return nil, err
		}
		for k, row := range rows {
			found[k] = row
			s.backfill(ctx, row)
		}
	}

	results := make([]BatchResult, len(keys))
	for i, k := range keys {
		results[i] = BatchResult{Key: k, Row: found[k]}
	}
	return results, nil
}

// Put writes through: Tier 2 first for the authoritative version, then Tier 1.
// A Tier 1 failure after a durable write is degraded service, not an error.
func (s *Store) Put(ctx context.Context, key models.FeatureKey, values map[string]interface{}) (*models.FeatureRow, error) {
	version, err := s.putRowWithRetry(ctx, key, values)
	if err != nil {
		return nil, err
	}
	row := &models.FeatureRow{
		Key:       key,
		Values:    values,
		Version:   version,
		FetchedAt: time.Now().UTC(),
	}
	if err := s.kv.Set(ctx, cacheKey(key), row, s.ttl); err != nil {
		s.logger.Warn("tier-1 populate after write failed", "key", cacheKey(key), "error", err)
	}
	return row, nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return s.tabular.HealthCheck(ctx)
}

func (s *Store) cacheGet(ctx context.Context, key models.FeatureKey) *models.FeatureRow {
	raw, err := s.kv.Get(ctx, cacheKey(key))
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("tier-1 read failed, falling through to tier 2", "key", cacheKey(key), "error", err)
		}
		return nil
	}
	var row models.FeatureRow
	if err := json.Unmarshal(raw, &row); err != nil {
		s.logger.Warn("tier-1 entry corrupt, refetching", "key", cacheKey(key), "error", err)
		return nil
	}
	return &row
}

// backfill populates Tier 1 with a row read from Tier 2. If Tier 1 already
// holds a higher version, the newer entry stays.
func (s *Store) backfill(ctx context.Context, row *models.FeatureRow) {
	if existing := s.cacheGetQuiet(ctx, row.Key); existing != nil && existing.Version > row.Version {
		return
	}
	if err := s.kv.Set(ctx, cacheKey(row.Key), row, s.ttl); err != nil {
		s.logger.Warn("tier-1 backfill failed", "key", cacheKey(row.Key), "error", err)
	}
}

func (s *Store) cacheGetQuiet(ctx context.Context, key models.FeatureKey) *models.FeatureRow {
	raw, err := s.kv.Get(ctx, cacheKey(key))
	if err != nil {
		return nil
	}
	var row models.FeatureRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil
	}
	return &row
}

// getRowsWithRetry queries Tier 2, retrying once inline on transient failure.
func (s *Store) getRowsWithRetry(ctx context.Context, keys []models.FeatureKey) (map[models.FeatureKey]*models.FeatureRow, error) {
	rows, err := s.tabular.GetRows(ctx, keys)
	if err == nil {
		return rows, nil
	}
	if ctx.Err() != nil {
		return nil, &models.FeatureStoreError{Op: "get_batch", Err: err}
	}
	s.logger.Warn("tier-2 read failed, retrying once", "keys", len(keys), "error", err)
	rows, err = s.tabular.GetRows(ctx, keys)
	if err != nil {
		return nil, &models.FeatureStoreError{Op: "get_batch", Err: err}
	}
	return rows, nil
}

func (s *Store) putRowWithRetry(ctx context.Context, key models.FeatureKey, values map[string]interface{}) (uint64, error) {
	version, err := s.tabular.PutRow(ctx, key, values)
	if err == nil {
		return version, nil
	}
	if ctx.Err() != nil {
		return 0, &models.FeatureStoreError{Op: "put", Err: err}
	}
	s.logger.Warn("tier-2 write failed, retrying once", "key", cacheKey(key), "error", err)
	version, err = s.tabular.PutRow(ctx, key, values)
	if err != nil {
		return 0, &models.FeatureStoreError{Op: "put", Err: err}
	}
	return version, nil
}

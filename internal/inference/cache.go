package inference

import (
	"container/list"
	"sync"
	"time"

	"github.com/platformbuilds/inference-core/internal/metrics"
	"github.com/platformbuilds/inference-core/internal/models"
)

type predCacheEntry struct {
	key        string
	modelName  string
	response   *models.PredictionResponse
	insertedAt time.Time
}

// PredictionCache is the bounded TTL+LRU cache keyed by request fingerprint.
// Entries are immutable once inserted; lookups hand out copies. Reads share
// an RLock and take the exclusive lock only for the recency bump, so readers
// never serialize behind each other on the hot path.
type PredictionCache struct {
	mu       sync.RWMutex
	capacity int
	ttl      time.Duration
	ll       *list.List
	items    map[string]*list.Element
	byModel  map[string]map[string]struct{}
}

func NewPredictionCache(capacity int, ttl time.Duration) *PredictionCache {
	if capacity < 1 {
		capacity = 1
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PredictionCache{
		capacity: capacity,
		ttl:      ttl,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
		byModel:  make(map[string]map[string]struct{}),
	}
}

// Get returns a copy of the cached response, or false on miss or expiry.
func (c *PredictionCache) Get(key string) (*models.PredictionResponse, bool) {
	c.mu.RLock()
	elem, ok := c.items[key]
	if !ok {
		c.mu.RUnlock()
		metrics.PredictionCacheMisses.Inc()
		return nil, false
	}
	entry := elem.Value.(*predCacheEntry)
	expired := time.Since(entry.insertedAt) >= c.ttl
	var resp *models.PredictionResponse
	if !expired {
		resp = cloneResponse(entry.response)
	}
	c.mu.RUnlock()

	if expired {
		c.mu.Lock()
		// Re-check: another writer may have replaced the entry meanwhile.
		if elem, ok := c.items[key]; ok && time.Since(elem.Value.(*predCacheEntry).insertedAt) >= c.ttl {
			c.removeLocked(elem)
		}
		c.mu.Unlock()
		metrics.PredictionCacheMisses.Inc()
		return nil, false
	}

	c.mu.Lock()
	if elem, ok := c.items[key]; ok {
		c.ll.MoveToFront(elem)
	}
	c.mu.Unlock()
	metrics.PredictionCacheHits.Inc()
	return resp, true
}

// Put inserts an immutable copy of the response under the fingerprint key.
func (c *PredictionCache) Put(key, modelName string, resp *models.PredictionResponse) {
	entry := &predCacheEntry{
		key:        key,
		modelName:  modelName,
		response:   cloneResponse(resp),
		insertedAt: time.Now(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		elem.Value = entry
		c.ll.MoveToFront(elem)
		return
	}
	elem := c.ll.PushFront(entry)
	c.items[key] = elem
	keys, ok := c.byModel[modelName]
	if !ok {
		keys = make(map[string]struct{})
		c.byModel[modelName] = keys
	}
	keys[key] = struct{}{}

	for c.ll.Len() > c.capacity {
		c.removeLocked(c.ll.Back())
	}
}

// InvalidateModel drops every entry whose fingerprint belongs to the model.
// Called after a successful swap publishes the new handle.
func (c *PredictionCache) InvalidateModel(modelName string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys, ok := c.byModel[modelName]
	if !ok {
		return 0
	}
	n := 0
	for key := range keys {
		if elem, ok := c.items[key]; ok {
			c.removeLocked(elem)
			n++
		}
	}
	return n
}

// Purge empties the cache.
func (c *PredictionCache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.ll.Len()
	c.ll.Init()
	c.items = make(map[string]*list.Element)
	c.byModel = make(map[string]map[string]struct{})
	return n
}

func (c *PredictionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ll.Len()
}

func (c *PredictionCache) removeLocked(elem *list.Element) {
	if elem == nil {
		return
	}
	entry := elem.Value.(*predCacheEntry)
	c.ll.Remove(elem)
	delete(c.items, entry.key)
	if keys, ok := c.byModel[entry.modelName]; ok {
		delete(keys, entry.key)
		if len(keys) == 0 {
			delete(c.byModel, entry.modelName)
		}
	}
}

func cloneResponse(resp *models.PredictionResponse) *models.PredictionResponse {
	out := *resp
	if resp.Probabilities != nil {
		out.Probabilities = append([]float64(nil), resp.Probabilities...)
	}
	return &out
}

package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/platformbuilds/inference-core/pkg/logger"
)

// memoryKV is a bounded in-process KV with TTL and LRU eviction. It satisfies
// the same contract as the Redis tier so the server can run degraded when the
// external cache is unreachable; data is process-local and lost on restart.
type memoryKV struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
	capacity int
	ttl      time.Duration
	logger   logger.Logger
}

type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// NewMemory builds the in-process fallback tier.
func NewMemory(capacity int, defaultTTL time.Duration, log logger.Logger) KV {
	if capacity < 1 {
		capacity = 1
	}
	log.Warn("external cache unavailable; using bounded in-process cache",
		"capacity", capacity, "ttl", defaultTTL.String())
	return &memoryKV{
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		capacity: capacity,
		ttl:      defaultTTL,
		logger:   log,
	}
}

func (m *memoryKV) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCacheMiss, key)
	}
	entry := el.Value.(*memoryEntry)
	if time.Now().After(entry.expiresAt) {
		m.order.Remove(el)
		delete(m.entries, key)
		return nil, fmt.Errorf("%w: %s", ErrCacheMiss, key)
	}
	m.order.MoveToFront(el)
	return entry.value, nil
}

func (m *memoryKV) MGet(ctx context.Context, keys []string) ([][]byte, error) {
	out := make([][]byte, len(keys))
	for i, key := range keys {
		if b, err := m.Get(ctx, key); err == nil {
			out[i] = b
		}
	}
	return out, nil
}

func (m *memoryKV) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	var data []byte
	switch x := value.(type) {
	case []byte:
		data = x
	case string:
		data = []byte(x)
	default:
		j, err := json.Marshal(x)
		if err != nil {
			return fmt.Errorf("marshal value for key %s: %w", key, err)
		}
		data = j
	}
	if ttl <= 0 {
		ttl = m.ttl
	}
	expiresAt := time.Now().Add(ttl)

	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.entries[key]; ok {
		entry := el.Value.(*memoryEntry)
		entry.value = data
		entry.expiresAt = expiresAt
		m.order.MoveToFront(el)
		return nil
	}

	el := m.order.PushFront(&memoryEntry{key: key, value: data, expiresAt: expiresAt})
	m.entries[key] = el

	if m.order.Len() > m.capacity {
		oldest := m.order.Back()
		if oldest != nil {
			m.order.Remove(oldest)
			delete(m.entries, oldest.Value.(*memoryEntry).key)
		}
	}
	return nil
}

func (m *memoryKV) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.entries[key]; ok {
		m.order.Remove(el)
		delete(m.entries, key)
	}
	return nil
}

// HealthCheck reports the degraded mode so readiness probes can surface it.
func (m *memoryKV) HealthCheck(ctx context.Context) error {
	return fmt.Errorf("in-process cache in use (external cache not connected)")
}

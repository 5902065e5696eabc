package events

import (
	"sync"

	"github.com/platformbuilds/inference-core/internal/models"
)

// Subscriber receives prediction events over a buffered channel. A subscriber
// that stops draining loses events rather than stalling the publisher.
type Subscriber struct {
	C         chan models.PredictionEvent
	modelName string // empty subscribes to all models
}

// Hub fans prediction events out to in-process subscribers, one per open
// websocket. Broadcast never blocks.
type Hub struct {
	mu   sync.RWMutex
	subs map[*Subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscriber]struct{})}
}

func (h *Hub) Subscribe(modelName string, buffer int) *Subscriber {
	if buffer < 1 {
		buffer = 16
	}
	sub := &Subscriber{
		C:         make(chan models.PredictionEvent, buffer),
		modelName: modelName,
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.C)
	}
	h.mu.Unlock()
}

func (h *Hub) Broadcast(ev models.PredictionEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.modelName != "" && sub.modelName != ev.ModelName {
			continue
		}
		select {
		case sub.C <- ev:
		default:
			// Slow subscriber; drop rather than block the prediction path.
		}
	}
}

func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

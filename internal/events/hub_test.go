package events

import (
	"testing"
	"time"

	"github.com/platformbuilds/inference-core/internal/models"
)

func event(model, requestID string) models.PredictionEvent {
	return models.PredictionEvent{
		RequestID:    requestID,
		ModelName:    model,
		ModelVersion: "1",
		Status:       "success",
		Timestamp:    time.Now().UTC(),
	}
}

func mustReceive(t *testing.T, sub *Subscriber) models.PredictionEvent {
	t.Helper()
	select {
	case ev := <-sub.C:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return models.PredictionEvent{}
	}
}

func TestHub_BroadcastReachesAllSubscribers(t *testing.T) {
	h := NewHub()
	a := h.Subscribe("", 4)
	b := h.Subscribe("", 4)
	defer h.Unsubscribe(a)
	defer h.Unsubscribe(b)

	if got := h.SubscriberCount(); got != 2 {
		t.Fatalf("SubscriberCount = %d, want 2", got)
	}

	h.Broadcast(event("fraud_detector", "req-1"))

	if ev := mustReceive(t, a); ev.RequestID != "req-1" {
		t.Fatalf("subscriber a got %q", ev.RequestID)
	}
	if ev := mustReceive(t, b); ev.RequestID != "req-1" {
		t.Fatalf("subscriber b got %q", ev.RequestID)
	}
}

func TestHub_ModelFilterSelectsEvents(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("fraud_detector", 4)
	defer h.Unsubscribe(sub)

	h.Broadcast(event("churn_predictor", "other"))
	h.Broadcast(event("fraud_detector", "mine"))

	if ev := mustReceive(t, sub); ev.RequestID != "mine" {
		t.Fatalf("filtered subscriber got %q", ev.RequestID)
	}
	if n := len(sub.C); n != 0 {
		t.Fatalf("unexpected buffered events: %d", n)
	}
}

func TestHub_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("", 1)
	defer h.Unsubscribe(sub)

	// Nobody drains: only the first event fits, the rest are dropped and
	// Broadcast returns immediately every time.
	h.Broadcast(event("fraud_detector", "req-1"))
	h.Broadcast(event("fraud_detector", "req-2"))
	h.Broadcast(event("fraud_detector", "req-3"))

	if n := len(sub.C); n != 1 {
		t.Fatalf("buffered events = %d, want 1", n)
	}
	if ev := mustReceive(t, sub); ev.RequestID != "req-1" {
		t.Fatalf("kept event = %q, want req-1", ev.RequestID)
	}
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("", 4)

	h.Unsubscribe(sub)
	h.Unsubscribe(sub) // idempotent

	if _, open := <-sub.C; open {
		t.Fatal("channel still open after Unsubscribe")
	}
	if got := h.SubscriberCount(); got != 0 {
		t.Fatalf("SubscriberCount = %d, want 0", got)
	}

	// Broadcasting with no subscribers is a no-op.
	h.Broadcast(event("fraud_detector", "req-9"))
}

func TestHub_SubscribeClampsBuffer(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("", 0)
	defer h.Unsubscribe(sub)

	if got := cap(sub.C); got != 16 {
		t.Fatalf("default buffer = %d, want 16", got)
	}
}

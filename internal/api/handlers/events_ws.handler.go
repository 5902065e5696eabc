package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/platformbuilds/inference-core/internal/events"
	"github.com/platformbuilds/inference-core/pkg/logger"
)

const wsSubscriberBuffer = 256

type EventsHandler struct {
	hub    *events.Hub
	logger logger.Logger
}

func NewEventsHandler(hub *events.Hub, log logger.Logger) *EventsHandler {
	return &EventsHandler{hub: hub, logger: log}
}

// GET /ws/predictions (upgrades to WS)
// query params: model (optional; empty streams every model)
func (h *EventsHandler) StreamPredictions(c *gin.Context) {
	modelFilter := c.Query("model")

	// If this isn't a proper WebSocket upgrade, return a helpful error
	if !websocket.IsWebSocketUpgrade(c.Request) {
		c.JSON(http.StatusUpgradeRequired, gin.H{
			"status":  "error",
			"error":   "WebSocket upgrade required",
			"example": "wscat -c ws://localhost:8080/ws/predictions?model=fraud_detector",
		})
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4 << 10,
		WriteBufferSize: 32 << 10,
		CheckOrigin:     func(*http.Request) bool { return true }, // TODO: restrict origins in prod
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	sub := h.hub.Subscribe(modelFilter, wsSubscriberBuffer)
	defer h.hub.Unsubscribe(sub)

	h.logger.Info("prediction stream connected",
		"model_filter", modelFilter, "subscribers", h.hub.SubscriberCount())

	type msg struct {
		Type string      `json:"type"` // event|heartbeat
		Data interface{} `json:"data"`
	}

	// reader (no-op: just to detect close)
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg{Type: "event", Data: ev}); err != nil {
				return
			}
		case <-heartbeat.C:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			_ = conn.WriteJSON(msg{Type: "heartbeat", Data: map[string]any{"ts": time.Now().UnixMilli()}})
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/platformbuilds/inference-core/internal/inference"
	"github.com/platformbuilds/inference-core/pkg/logger"
)

type HealthHandler struct {
	manager           *inference.Manager
	preloadConfigured bool
	logger            logger.Logger
}

func NewHealthHandler(manager *inference.Manager, preloadConfigured bool, log logger.Logger) *HealthHandler {
	return &HealthHandler{
		manager:           manager,
		preloadConfigured: preloadConfigured,
		logger:            log,
	}
}

// HealthCheck handles GET /health. Liveness only: the process is up.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "inference-core",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ReadinessCheck handles GET /ready. The server is ready once at least one
// model is published; a deliberately empty preload counts as ready so a
// lazy-loading deployment can join the pool.
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	loaded := h.manager.LoadedCount()
	ready := loaded > 0 || !h.preloadConfigured

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not_ready"
	}

	c.JSON(status, gin.H{
		"status":        state,
		"models_loaded": loaded,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	})
}

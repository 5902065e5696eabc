package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/platformbuilds/inference-core/internal/inference"
	"github.com/platformbuilds/inference-core/pkg/logger"
)

// ModelsHandler exposes the serving set and the reload/update admin surface.
type ModelsHandler struct {
	manager *inference.Manager
	poller  *inference.Poller
	logger  logger.Logger
}

func NewModelsHandler(manager *inference.Manager, poller *inference.Poller, log logger.Logger) *ModelsHandler {
	return &ModelsHandler{
		manager: manager,
		poller:  poller,
		logger:  log,
	}
}

// ListModels handles GET /models.
func (h *ModelsHandler) ListModels(c *gin.Context) {
	summaries := h.manager.Models()
	c.JSON(http.StatusOK, gin.H{
		"models": summaries,
		"count":  len(summaries),
	})
}

// Reload handles POST /models/reload. The intent is enqueued and the call
// returns immediately; an empty or absent name reconciles every tracked model.
func (h *ModelsHandler) Reload(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"status":  "error",
				"error":   "invalid request format",
				"details": err.Error(),
			})
			return
		}
	}

	h.poller.SubmitReload(req.Name)
	h.logger.Info("reload intent accepted", "model", req.Name)

	body := gin.H{"status": "accepted"}
	if req.Name != "" {
		body["model"] = req.Name
	}
	c.JSON(http.StatusAccepted, body)
}

// UpdatesStatus handles GET /models/updates/status.
func (h *ModelsHandler) UpdatesStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.poller.Status())
}

// CheckUpdates handles POST /models/updates/check: one immediate registry
// poll, coalesced with any tick already in flight.
func (h *ModelsHandler) CheckUpdates(c *gin.Context) {
	h.poller.SubmitReload("")
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/platformbuilds/inference-core/internal/inference"
	"github.com/platformbuilds/inference-core/pkg/logger"
)

type CacheHandler struct {
	cache  *inference.PredictionCache
	logger logger.Logger
}

func NewCacheHandler(cache *inference.PredictionCache, log logger.Logger) *CacheHandler {
	return &CacheHandler{cache: cache, logger: log}
}

// PurgePredictions handles DELETE /cache/predictions. Used after backfills or
// schema corrections when cached outputs are known to be stale.
func (h *CacheHandler) PurgePredictions(c *gin.Context) {
	cleared := h.cache.Purge()
	h.logger.Info("prediction cache purged", "cleared", cleared)
	c.JSON(http.StatusOK, gin.H{"cleared": cleared})
}

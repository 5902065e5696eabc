package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/platformbuilds/inference-core/internal/api/middleware"
	"github.com/platformbuilds/inference-core/internal/inference"
	"github.com/platformbuilds/inference-core/internal/models"
	"github.com/platformbuilds/inference-core/pkg/logger"
)

// batchConcurrency bounds parallel instance evaluation inside one batch call.
const batchConcurrency = 8

type PredictHandler struct {
	pipeline     *inference.Pipeline
	maxInstances int
	logger       logger.Logger
}

func NewPredictHandler(pipeline *inference.Pipeline, maxInstances int, log logger.Logger) *PredictHandler {
	if maxInstances < 1 {
		maxInstances = 1000
	}
	return &PredictHandler{
		pipeline:     pipeline,
		maxInstances: maxInstances,
		logger:       log,
	}
}

// Predict handles POST /predict.
func (h *PredictHandler) Predict(c *gin.Context) {
	var req models.PredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"error":   "invalid request format",
			"details": err.Error(),
		})
		return
	}
	if req.RequestID == "" {
		req.RequestID = c.GetString(middleware.RequestIDKey)
	}

	resp, err := h.pipeline.Predict(c.Request.Context(), &req)
	if err != nil {
		h.renderError(c, err)
		return
	}

	if resp.CacheHit {
		c.Header("X-Cache", "HIT")
	} else {
		c.Header("X-Cache", "MISS")
	}
	c.JSON(http.StatusOK, resp)
}

// PredictBatch handles POST /predict/batch. Per-instance failures land in the
// response body at the failing index; only batch-level problems get a non-200.
func (h *PredictHandler) PredictBatch(c *gin.Context) {
	var req models.BatchPredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"error":   "invalid request format",
			"details": err.Error(),
		})
		return
	}
	if len(req.Instances) > h.maxInstances {
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"error":  fmt.Sprintf("batch of %d instances exceeds the limit of %d", len(req.Instances), h.maxInstances),
		})
		return
	}

	resp, err := h.pipeline.PredictBatch(c.Request.Context(), &req, batchConcurrency)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// renderError maps the pipeline's error taxonomy onto HTTP statuses. Nothing
// below this layer carries a status code.
func (h *PredictHandler) renderError(c *gin.Context, err error) {
	var validationErr *models.ValidationError
	var notReadyErr *models.ModelNotReadyError
	var featureErr *models.FeatureStoreError
	var predictorErr *models.PredictorError

	switch {
	case errors.As(err, &validationErr):
		body := gin.H{"status": "error", "error": validationErr.Error()}
		if validationErr.Field != "" {
			body["field"] = validationErr.Field
		}
		c.JSON(http.StatusBadRequest, body)
	case errors.As(err, &notReadyErr):
		c.Header("Retry-After", "5")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "error",
			"error":  notReadyErr.Error(),
		})
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		c.JSON(http.StatusGatewayTimeout, gin.H{
			"status": "error",
			"error":  "prediction timed out",
		})
	case errors.As(err, &featureErr):
		h.logger.Error("feature store failure", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"status": "error",
			"error":  "feature store unavailable",
		})
	case errors.As(err, &predictorErr):
		h.logger.Error("predictor failure", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"status": "error",
			"error":  "inference failed",
		})
	default:
		h.logger.Error("prediction failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"status": "error",
			"error":  "prediction failed",
		})
	}
}

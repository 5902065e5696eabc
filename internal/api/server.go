package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/platformbuilds/inference-core/internal/api/handlers"
	"github.com/platformbuilds/inference-core/internal/api/middleware"
	"github.com/platformbuilds/inference-core/internal/config"
	"github.com/platformbuilds/inference-core/internal/events"
	"github.com/platformbuilds/inference-core/internal/inference"
	"github.com/platformbuilds/inference-core/pkg/logger"
)

// Server wires the prediction pipeline, model lifecycle, and event fan-out
// into the HTTP surface.
type Server struct {
	config    *config.Config
	logger    logger.Logger
	pipeline  *inference.Pipeline
	manager   *inference.Manager
	poller    *inference.Poller
	predCache *inference.PredictionCache
	hub       *events.Hub

	router     *gin.Engine
	httpServer *http.Server
}

func NewServer(
	cfg *config.Config,
	log logger.Logger,
	pipeline *inference.Pipeline,
	manager *inference.Manager,
	poller *inference.Poller,
	predCache *inference.PredictionCache,
	hub *events.Hub,
) *Server {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config:    cfg,
		logger:    log,
		pipeline:  pipeline,
		manager:   manager,
		poller:    poller,
		predCache: predCache,
		hub:       hub,
		router:    gin.New(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.router.Use(gin.Recovery())

	// CORS for browser dashboards
	s.router.Use(middleware.CORSMiddleware())

	// Request ids for log/event correlation
	s.router.Use(middleware.RequestID())

	// Request logging
	s.router.Use(middleware.RequestLogger(s.logger))

	// Prometheus scrape endpoint
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (s *Server) setupRoutes() {
	healthHandler := handlers.NewHealthHandler(s.manager, len(s.config.Models.Preload) > 0, s.logger)
	s.router.GET("/health", healthHandler.HealthCheck)
	s.router.GET("/ready", healthHandler.ReadinessCheck)

	// Prediction surface. Admission control and the per-request deadline
	// apply here only; probes and admin calls must stay responsive when the
	// queue is saturated.
	predictHandler := handlers.NewPredictHandler(s.pipeline, s.config.Server.BatchMaxInstances, s.logger)
	predict := s.router.Group("/")
	predict.Use(middleware.Admission(s.config.Server.RequestQueueCapacity))
	predict.Use(middleware.RequestTimeout(s.config.Server.RequestTimeout()))
	{
		predict.POST("/predict", predictHandler.Predict)
		predict.POST("/predict/batch", predictHandler.PredictBatch)
	}

	modelsHandler := handlers.NewModelsHandler(s.manager, s.poller, s.logger)
	s.router.GET("/models", modelsHandler.ListModels)
	s.router.POST("/models/reload", modelsHandler.Reload)
	s.router.GET("/models/updates/status", modelsHandler.UpdatesStatus)
	s.router.POST("/models/updates/check", modelsHandler.CheckUpdates)

	cacheHandler := handlers.NewCacheHandler(s.predCache, s.logger)
	s.router.DELETE("/cache/predictions", cacheHandler.PurgePredictions)

	eventsHandler := handlers.NewEventsHandler(s.hub, s.logger)
	s.router.GET("/ws/predictions", eventsHandler.StreamPredictions)
}

// Start serves until ctx is cancelled, then drains in-flight requests within
// the configured shutdown deadline.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("inference server listening", "addr", s.config.ListenAddr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutting down inference server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownDeadline())
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Handler exposes the router for tests and embedders.
func (s *Server) Handler() http.Handler {
	return s.router
}

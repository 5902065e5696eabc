package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/platformbuilds/inference-core/internal/api"
	"github.com/platformbuilds/inference-core/internal/config"
	"github.com/platformbuilds/inference-core/internal/events"
	"github.com/platformbuilds/inference-core/internal/features"
	"github.com/platformbuilds/inference-core/internal/inference"
	"github.com/platformbuilds/inference-core/internal/registry"
	"github.com/platformbuilds/inference-core/pkg/cache"
	"github.com/platformbuilds/inference-core/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logg := logger.New(cfg.LogLevel, cfg.Environment)
	logg.Info("Starting inference-core",
		"environment", cfg.Environment, "listen_addr", cfg.ListenAddr)

	// Tier-1 feature cache: Redis when reachable, otherwise a bounded
	// in-process cache so the server still starts.
	kv, err := cache.NewRedis(
		cfg.FeatureStore.Redis.Addr,
		cfg.FeatureStore.Redis.Password,
		cfg.FeatureStore.Redis.DB,
		cfg.FeatureStore.CacheTTL(),
		logg,
	)
	if err != nil {
		logg.Warn("Redis unavailable, using in-process feature cache",
			"addr", cfg.FeatureStore.Redis.Addr, "error", err)
		kv = cache.NewMemory(cfg.FeatureStore.CacheCapacity, cfg.FeatureStore.CacheTTL(), logg)
	}

	// Tier-2 durable feature store. Optional: without it the server serves
	// requests that carry all their features inline.
	var featureStore *features.Store
	if cfg.FeatureStore.Postgres.DSN != "" {
		db, err := features.Connect(cfg.FeatureStore.Postgres)
		if err != nil {
			logg.Error("PostgreSQL unavailable, supplementary features disabled", "error", err)
		} else {
			tabular := features.NewPostgresStore(db, cfg.FeatureStore.Postgres.QueryTimeout(), logg)
			featureStore = features.NewStore(kv, tabular, cfg.FeatureStore.CacheTTL(), logg)
			logg.Info("Feature store initialized")
		}
	} else {
		logg.Warn("feature_store.postgres.dsn not set, supplementary features disabled")
	}

	// Model registry client and lifecycle
	registryClient := registry.NewHTTPClient(cfg.Registry, logg)
	predictionCache := inference.NewPredictionCache(cfg.PredictionCache.Capacity, cfg.PredictionCache.TTL())
	manager := inference.NewManager(
		registryClient,
		inference.NewLoader(logg),
		predictionCache,
		cfg.Models.DrainWindow(),
		logg,
	)

	// Prediction event fan-out: in-process hub for websocket subscribers,
	// Redis streams for external consumers when enabled.
	hub := events.NewHub()
	recorder := events.NewRecorder(cfg.Events, cfg.FeatureStore.Redis, hub, logg)

	// A nil *features.Store must not reach the pipeline wrapped in a non-nil
	// interface.
	var featureGetter inference.FeatureGetter
	if featureStore != nil {
		featureGetter = featureStore
	}
	pipeline := inference.NewPipeline(
		manager,
		featureGetter,
		predictionCache,
		recorder,
		time.Duration(cfg.PredictionCache.MaxLatencyMS)*time.Millisecond,
		logg,
	)

	// Preload configured models before reporting ready
	entries, err := cfg.Models.ParsePreload()
	if err != nil {
		log.Fatalf("Invalid models.preload: %v", err)
	}
	poller := inference.NewPoller(registryClient, manager, cfg.Poller.Interval(), cfg.Poller.JitterFraction, logg)
	for _, e := range entries {
		poller.Track(e.Name)
	}
	if len(entries) > 0 {
		preloadCtx, cancelPreload := context.WithTimeout(context.Background(), cfg.Models.PreloadTimeout())
		manager.Preload(preloadCtx, entries)
		cancelPreload()
		logg.Info("Preload finished", "requested", len(entries), "loaded", manager.LoadedCount())
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logg.Info("Shutdown signal received")
		cancel()
	}()

	poller.Start(ctx)

	// Start server
	apiServer := api.NewServer(cfg, logg, pipeline, manager, poller, predictionCache, hub)
	if err := apiServer.Start(ctx); err != nil {
		logg.Fatal("Server failed", "error", err)
	}

	// Drain in dependency order: no new loads, then retire handles, then
	// flush buffered events.
	poller.Stop()
	manager.Close()
	recorder.Close()
	logg.Info("inference-core shutdown complete")
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/platformbuilds/inference-core/internal/models"
)

// Load loads configuration with priority order:
// 1. Environment variables
// 2. Configuration file (config.yaml)
// 3. Default values
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/inference-core/")
	v.AddConfigPath("./configs/")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("INFERENCE")

	setDefaults(v)

	// Config file is optional; env vars and defaults are enough to boot.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	overrideWithEnvVars(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("poller.interval_seconds", 60)
	v.SetDefault("poller.jitter_fraction", 0.1)

	v.SetDefault("models.preload", []string{})
	v.SetDefault("models.preload_timeout_seconds", 120)
	v.SetDefault("models.drain_window_seconds", 30)

	v.SetDefault("prediction_cache.capacity", 10000)
	v.SetDefault("prediction_cache.ttl_seconds", 300)
	v.SetDefault("prediction_cache.max_latency_ms", 1000)

	v.SetDefault("feature_store.cache_capacity", 100000)
	v.SetDefault("feature_store.cache_ttl_seconds", 3600)
	v.SetDefault("feature_store.redis.addr", "localhost:6379")
	v.SetDefault("feature_store.redis.db", 0)
	v.SetDefault("feature_store.postgres.max_open_conns", 10)
	v.SetDefault("feature_store.postgres.max_idle_conns", 5)
	v.SetDefault("feature_store.postgres.conn_max_lifetime_minutes", 30)
	v.SetDefault("feature_store.postgres.query_timeout_ms", 1000)

	v.SetDefault("registry.endpoints", []string{"http://localhost:5000"})
	v.SetDefault("registry.timeout_ms", 10000)
	v.SetDefault("registry.rate_limit_rps", 10.0)

	v.SetDefault("server.request_timeout_ms", 2000)
	v.SetDefault("server.request_queue_capacity", 1024)
	v.SetDefault("server.shutdown_deadline_seconds", 30)
	v.SetDefault("server.batch_max_instances", 1000)

	v.SetDefault("events.enabled", false)
	v.SetDefault("events.stream_max_len", 10000)
}

// overrideWithEnvVars handles the short-form environment variables used in
// container deployments, on top of viper's INFERENCE_* automatic mapping.
func overrideWithEnvVars(v *viper.Viper) {
	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		v.Set("listen_addr", addr)
	}

	if env := os.Getenv("ENVIRONMENT"); env != "" {
		v.Set("environment", env)
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		v.Set("log_level", logLevel)
	}

	if endpoints := os.Getenv("REGISTRY_ENDPOINTS"); endpoints != "" {
		parts := strings.Split(endpoints, ",")
		for i, p := range parts {
			parts[i] = strings.TrimSpace(p)
		}
		v.Set("registry.endpoints", parts)
	}

	if preload := os.Getenv("PRELOAD_MODELS"); preload != "" {
		parts := strings.Split(preload, ",")
		for i, p := range parts {
			parts[i] = strings.TrimSpace(p)
		}
		v.Set("models.preload", parts)
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		v.Set("feature_store.redis.addr", addr)
	}

	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		v.Set("feature_store.redis.password", pw)
	}

	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		v.Set("feature_store.postgres.dsn", dsn)
	}

	if interval := os.Getenv("POLL_INTERVAL_SECONDS"); interval != "" {
		if n, err := strconv.Atoi(interval); err == nil {
			v.Set("poller.interval_seconds", n)
		}
	}

	if enabled := os.Getenv("EVENTS_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			v.Set("events.enabled", b)
		}
	}
}

func validateConfig(config *Config) error {
	if config.ListenAddr == "" {
		return &models.ConfigError{Field: "listen_addr", Message: "must not be empty"}
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, config.LogLevel) {
		return &models.ConfigError{Field: "log_level", Message: fmt.Sprintf("invalid level %q", config.LogLevel)}
	}

	validEnvironments := []string{"development", "staging", "production", "test"}
	if !contains(validEnvironments, config.Environment) {
		return &models.ConfigError{Field: "environment", Message: fmt.Sprintf("invalid environment %q", config.Environment)}
	}

	if config.Poller.IntervalSeconds < 5 {
		return &models.ConfigError{Field: "poller.interval_seconds", Message: "must be at least 5"}
	}

	if config.Poller.JitterFraction < 0 || config.Poller.JitterFraction > 0.5 {
		return &models.ConfigError{Field: "poller.jitter_fraction", Message: "must be in [0, 0.5]"}
	}

	if config.PredictionCache.Capacity < 1 {
		return &models.ConfigError{Field: "prediction_cache.capacity", Message: "must be positive"}
	}

	if config.PredictionCache.TTLSeconds < 1 {
		return &models.ConfigError{Field: "prediction_cache.ttl_seconds", Message: "must be at least 1"}
	}

	if config.FeatureStore.CacheCapacity < 1 {
		return &models.ConfigError{Field: "feature_store.cache_capacity", Message: "must be positive"}
	}

	if config.FeatureStore.CacheTTLSeconds < 1 {
		return &models.ConfigError{Field: "feature_store.cache_ttl_seconds", Message: "must be at least 1"}
	}

	if len(config.Registry.Endpoints) == 0 {
		return &models.ConfigError{Field: "registry.endpoints", Message: "at least one endpoint is required"}
	}

	if config.Models.DrainWindowSeconds < 0 {
		return &models.ConfigError{Field: "models.drain_window_seconds", Message: "must not be negative"}
	}

	if config.Server.RequestTimeoutMS < 1 {
		return &models.ConfigError{Field: "server.request_timeout_ms", Message: "must be positive"}
	}

	if config.Server.RequestQueueCapacity < 1 {
		return &models.ConfigError{Field: "server.request_queue_capacity", Message: "must be positive"}
	}

	if config.Server.BatchMaxInstances < 1 {
		return &models.ConfigError{Field: "server.batch_max_instances", Message: "must be positive"}
	}

	if _, err := config.Models.ParsePreload(); err != nil {
		return &models.ConfigError{Field: "models.preload", Message: err.Error()}
	}

	return nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

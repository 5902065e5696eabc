package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	ListenAddr  string `mapstructure:"listen_addr" yaml:"listen_addr"`
	Environment string `mapstructure:"environment" yaml:"environment"`
	LogLevel    string `mapstructure:"log_level" yaml:"log_level"`

	Poller          PollerConfig          `mapstructure:"poller" yaml:"poller"`
	Models          ModelsConfig          `mapstructure:"models" yaml:"models"`
	PredictionCache PredictionCacheConfig `mapstructure:"prediction_cache" yaml:"prediction_cache"`
	FeatureStore    FeatureStoreConfig    `mapstructure:"feature_store" yaml:"feature_store"`
	Registry        RegistryConfig        `mapstructure:"registry" yaml:"registry"`
	Server          ServerConfig          `mapstructure:"server" yaml:"server"`
	Events          EventsConfig          `mapstructure:"events" yaml:"events"`
}

// PollerConfig drives the registry reconciliation loop.
type PollerConfig struct {
	IntervalSeconds int     `mapstructure:"interval_seconds" yaml:"interval_seconds"`
	JitterFraction  float64 `mapstructure:"jitter_fraction" yaml:"jitter_fraction"`
}

func (p PollerConfig) Interval() time.Duration {
	return time.Duration(p.IntervalSeconds) * time.Second
}

// ModelsConfig covers preload and handle retirement.
type ModelsConfig struct {
	// Preload entries take the form "name:version" or "name:alias",
	// e.g. "fraud_detector:production".
	Preload               []string `mapstructure:"preload" yaml:"preload"`
	PreloadTimeoutSeconds int      `mapstructure:"preload_timeout_seconds" yaml:"preload_timeout_seconds"`
	DrainWindowSeconds    int      `mapstructure:"drain_window_seconds" yaml:"drain_window_seconds"`
}

func (m ModelsConfig) PreloadTimeout() time.Duration {
	return time.Duration(m.PreloadTimeoutSeconds) * time.Second
}

func (m ModelsConfig) DrainWindow() time.Duration {
	return time.Duration(m.DrainWindowSeconds) * time.Second
}

// PreloadEntry is one parsed "name:ref" preload item. Ref is either a numeric
// version id or an alias.
type PreloadEntry struct {
	Name string
	Ref  string
}

// ParsePreload splits and validates the preload list.
func (m ModelsConfig) ParsePreload() ([]PreloadEntry, error) {
	entries := make([]PreloadEntry, 0, len(m.Preload))
	for _, raw := range m.Preload {
		name, ref, ok := strings.Cut(strings.TrimSpace(raw), ":")
		if !ok || name == "" || ref == "" {
			return nil, fmt.Errorf("preload entry %q is not name:version-or-alias", raw)
		}
		entries = append(entries, PreloadEntry{Name: name, Ref: ref})
	}
	return entries, nil
}

type PredictionCacheConfig struct {
	Capacity     int `mapstructure:"capacity" yaml:"capacity"`
	TTLSeconds   int `mapstructure:"ttl_seconds" yaml:"ttl_seconds"`
	MaxLatencyMS int `mapstructure:"max_latency_ms" yaml:"max_latency_ms"`
}

func (p PredictionCacheConfig) TTL() time.Duration {
	return time.Duration(p.TTLSeconds) * time.Second
}

type FeatureStoreConfig struct {
	CacheCapacity   int            `mapstructure:"cache_capacity" yaml:"cache_capacity"`
	CacheTTLSeconds int            `mapstructure:"cache_ttl_seconds" yaml:"cache_ttl_seconds"`
	Redis           RedisConfig    `mapstructure:"redis" yaml:"redis"`
	Postgres        PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

func (f FeatureStoreConfig) CacheTTL() time.Duration {
	return time.Duration(f.CacheTTLSeconds) * time.Second
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

type PostgresConfig struct {
	DSN                    string `mapstructure:"dsn" yaml:"dsn"`
	MaxOpenConns           int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `mapstructure:"conn_max_lifetime_minutes" yaml:"conn_max_lifetime_minutes"`
	QueryTimeoutMS         int    `mapstructure:"query_timeout_ms" yaml:"query_timeout_ms"`
}

func (p PostgresConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(p.ConnMaxLifetimeMinutes) * time.Minute
}

func (p PostgresConfig) QueryTimeout() time.Duration {
	return time.Duration(p.QueryTimeoutMS) * time.Millisecond
}

type RegistryConfig struct {
	Endpoints    []string `mapstructure:"endpoints" yaml:"endpoints"`
	Username     string   `mapstructure:"username" yaml:"username"`
	Password     string   `mapstructure:"password" yaml:"password"`
	TimeoutMS    int      `mapstructure:"timeout_ms" yaml:"timeout_ms"`
	RateLimitRPS float64  `mapstructure:"rate_limit_rps" yaml:"rate_limit_rps"`
}

func (r RegistryConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutMS) * time.Millisecond
}

type ServerConfig struct {
	RequestTimeoutMS        int `mapstructure:"request_timeout_ms" yaml:"request_timeout_ms"`
	RequestQueueCapacity    int `mapstructure:"request_queue_capacity" yaml:"request_queue_capacity"`
	ShutdownDeadlineSeconds int `mapstructure:"shutdown_deadline_seconds" yaml:"shutdown_deadline_seconds"`
	BatchMaxInstances       int `mapstructure:"batch_max_instances" yaml:"batch_max_instances"`
}

func (s ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutMS) * time.Millisecond
}

func (s ServerConfig) ShutdownDeadline() time.Duration {
	return time.Duration(s.ShutdownDeadlineSeconds) * time.Second
}

type EventsConfig struct {
	Enabled      bool  `mapstructure:"enabled" yaml:"enabled"`
	StreamMaxLen int64 `mapstructure:"stream_max_len" yaml:"stream_max_len"`
}

// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration.
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"ragproxy"`

	// Shared secret for service-to-service tokens.
	ServiceSecret string `env:"SERVICE_AUTH_SECRET" envDefault:"dev-secret-change-me"`
	// Lifetime of issued service tokens.
	TokenTTL time.Duration `env:"SERVICE_TOKEN_TTL" envDefault:"5m"`

	QueryEngineURL       string `env:"QUERY_ENGINE_URL" envDefault:"http://localhost:8001"`
	CollectionsEngineURL string `env:"COLLECTIONS_ENGINE_URL" envDefault:"http://localhost:8002"`
	IngestionEngineURL   string `env:"INGESTION_ENGINE_URL" envDefault:"http://localhost:8003"`
	VectorStoreURL       string `env:"VECTOR_STORE_URL" envDefault:"http://localhost:6333"`

	// RedisAddr enables the distributed cache tier and the ingestion queue.
	// Empty means local-only caching and no background ingestion jobs.
	RedisAddr string `env:"REDIS_ADDR"`

	// DocsRoot is the default directory scanned for source documents.
	DocsRoot string `env:"DOCS_ROOT" envDefault:"./docs"`

	// UpstreamTimeout bounds every outbound call through the breaker.
	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"30s"`

	Cache   CacheConfig   `envPrefix:"CACHE_"`
	Breaker BreakerConfig `envPrefix:"BREAKER_"`

	// StatusTTL is the reconciliation snapshot cache lifetime. Kept short so
	// dashboard polling never triggers back-to-back full vector scans.
	StatusTTL time.Duration `env:"STATUS_CACHE_TTL" envDefault:"30s"`
}

// CacheConfig configures the multi-tier response cache. The two TTLs are
// deliberately separate values: the local tier expires in-process with
// millisecond granularity, the Redis tier stores a seconds-granularity
// expiration on the wire (SET EX). Callers must not treat them as one knob.
type CacheConfig struct {
	LocalCapacity int           `env:"LOCAL_CAPACITY" envDefault:"500"`
	LocalTTL      time.Duration `env:"LOCAL_TTL" envDefault:"5m"`
	RedisTTL      time.Duration `env:"REDIS_TTL" envDefault:"10m"`
}

// BreakerConfig configures the per-upstream circuit breakers.
type BreakerConfig struct {
	// FailureThreshold is the window failure percentage that opens the breaker.
	FailureThreshold float64       `env:"FAILURE_THRESHOLD" envDefault:"50"`
	MinVolume        int           `env:"MIN_VOLUME" envDefault:"10"`
	Window           time.Duration `env:"WINDOW" envDefault:"10s"`
	Buckets          int           `env:"BUCKETS" envDefault:"10"`
	ResetInterval    time.Duration `env:"RESET_INTERVAL" envDefault:"30s"`
	CallTimeout      time.Duration `env:"CALL_TIMEOUT" envDefault:"8s"`
}

// Load reads configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Cache.LocalCapacity <= 0 {
		return fmt.Errorf("CACHE_LOCAL_CAPACITY must be positive, got %d", c.Cache.LocalCapacity)
	}
	if c.Breaker.Buckets <= 0 {
		return fmt.Errorf("BREAKER_BUCKETS must be positive, got %d", c.Breaker.Buckets)
	}
	if c.Breaker.FailureThreshold <= 0 || c.Breaker.FailureThreshold > 100 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be in (0,100], got %v", c.Breaker.FailureThreshold)
	}
	return nil
}

// HasRedis reports whether the distributed tier and job queue are configured.
func (c Config) HasRedis() bool {
	return c.RedisAddr != ""
}

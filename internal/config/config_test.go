package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, "ragproxy", cfg.ServiceName)
	require.Equal(t, 5*time.Minute, cfg.TokenTTL)
	require.Equal(t, "http://localhost:8001", cfg.QueryEngineURL)
	require.Equal(t, "http://localhost:6333", cfg.VectorStoreURL)
	require.False(t, cfg.HasRedis())

	require.Equal(t, 500, cfg.Cache.LocalCapacity)
	require.Equal(t, 5*time.Minute, cfg.Cache.LocalTTL)
	require.Equal(t, 10*time.Minute, cfg.Cache.RedisTTL)

	require.Equal(t, float64(50), cfg.Breaker.FailureThreshold)
	require.Equal(t, 10, cfg.Breaker.MinVolume)
	require.Equal(t, 30*time.Second, cfg.Breaker.ResetInterval)
	require.Equal(t, 8*time.Second, cfg.Breaker.CallTimeout)

	require.Equal(t, 30*time.Second, cfg.StatusTTL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("CACHE_LOCAL_TTL", "90s")
	t.Setenv("CACHE_REDIS_TTL", "20m")
	t.Setenv("BREAKER_FAILURE_THRESHOLD", "25")
	t.Setenv("STATUS_CACHE_TTL", "10s")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "9090", cfg.Port)
	require.True(t, cfg.HasRedis())
	require.Equal(t, 90*time.Second, cfg.Cache.LocalTTL)
	require.Equal(t, 20*time.Minute, cfg.Cache.RedisTTL)
	require.Equal(t, float64(25), cfg.Breaker.FailureThreshold)
	require.Equal(t, 10*time.Second, cfg.StatusTTL)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("CACHE_LOCAL_CAPACITY", "0")
	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "CACHE_LOCAL_CAPACITY")

	t.Setenv("CACHE_LOCAL_CAPACITY", "100")
	t.Setenv("BREAKER_FAILURE_THRESHOLD", "150")
	_, err = Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "BREAKER_FAILURE_THRESHOLD")
}

package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, 30*time.Second, cfg.AppRequestTimeout)
	assert.Equal(t, 60, cfg.RateLimitRequests)
	assert.Equal(t, time.Minute, cfg.RateLimitWindow)
	assert.Equal(t, 10*time.Minute, cfg.ConversionCacheTTL)
	assert.Equal(t, "*/30 * * * *", cfg.RetireSweepSchedule)
	assert.False(t, cfg.LedgerAllowNegative)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("APP_ADDR", ":9090")
	t.Setenv("CONVERSION_CACHE_TTL", "30s")
	t.Setenv("RATE_LIMIT_REQUESTS", "5")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.AppAddr)
	assert.Equal(t, 30*time.Second, cfg.ConversionCacheTTL)
	assert.Equal(t, 5, cfg.RateLimitRequests)
	assert.True(t, cfg.IsProduction())
}

func TestIsProductionNilSafe(t *testing.T) {
	var cfg *Config
	assert.False(t, cfg.IsProduction())
}

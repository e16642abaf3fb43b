package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/credits?sslmode=disable")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 100, cfg.Credits.DailyAllowance)
	assert.Equal(t, "UTC", cfg.Credits.ResetTimezone)
	assert.Equal(t, 50, cfg.Credits.HistoryDefaultLimit)
	assert.Equal(t, 200, cfg.Credits.HistoryMaxLimit)
	assert.Equal(t, 60, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, 5*time.Minute, cfg.Cache.CostConfigCacheTTL)
	assert.Empty(t, cfg.Redis.Address)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/credits?sslmode=disable")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("CREDITS_DAILY_ALLOWANCE", "250")
	t.Setenv("CREDITS_RESET_TIMEZONE", "America/New_York")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "0")
	t.Setenv("REDIS_ADDRESS", "localhost:6379")
	t.Setenv("CACHE_COST_CONFIG_TTL", "30s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.HTTPPort)
	assert.Equal(t, 250, cfg.Credits.DailyAllowance)
	assert.Equal(t, "America/New_York", cfg.Credits.ResetTimezone)
	assert.Equal(t, 0, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, "localhost:6379", cfg.Redis.Address)
	assert.Equal(t, 30*time.Second, cfg.Cache.CostConfigCacheTTL)
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/credits?sslmode=disable")
	t.Setenv("CREDITS_DAILY_ALLOWANCE", "lots")
	t.Setenv("DB_CONN_MAX_LIFETIME", "forever")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.Credits.DailyAllowance)
	assert.Equal(t, 5*time.Minute, cfg.Database.ConnMaxLifetime)
}

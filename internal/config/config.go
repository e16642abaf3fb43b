package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds configuration for the credit service.
type Config struct {
	HTTPPort       string
	AdminJWTSecret []byte
	Database       DatabaseConfig
	Cache          CacheConfig
	Redis          RedisConfig
	Credits        CreditsConfig
	RateLimit      RateLimitConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// CacheConfig holds cost-catalog cache settings
type CacheConfig struct {
	CostConfigCacheSize int
	CostConfigCacheTTL  time.Duration
}

// RedisConfig holds Redis connection settings. An empty address disables
// Redis and the rate limiter falls back to a no-op.
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// CreditsConfig holds credit ledger settings
type CreditsConfig struct {
	DailyAllowance      int
	ResetTimezone       string
	HistoryDefaultLimit int
	HistoryMaxLimit     int
}

// RateLimitConfig holds per-user rate limit settings for billable routes
type RateLimitConfig struct {
	RequestsPerMinute int
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg := &Config{
		HTTPPort:       getEnvString("HTTP_PORT", "8080"),
		AdminJWTSecret: []byte(getEnvString("ADMIN_JWT_SECRET", "supersecretkey")),
		Database: DatabaseConfig{
			URL:             dbURL,
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
		},
		Cache: CacheConfig{
			CostConfigCacheSize: getEnvInt("CACHE_COST_CONFIG_SIZE", 500),
			CostConfigCacheTTL:  getEnvDuration("CACHE_COST_CONFIG_TTL", 5*time.Minute),
		},
		Redis: RedisConfig{
			Address:      getEnvString("REDIS_ADDRESS", ""),
			Password:     getEnvString("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Credits: CreditsConfig{
			DailyAllowance:      getEnvInt("CREDITS_DAILY_ALLOWANCE", 100),
			ResetTimezone:       getEnvString("CREDITS_RESET_TIMEZONE", "UTC"),
			HistoryDefaultLimit: getEnvInt("CREDITS_HISTORY_DEFAULT_LIMIT", 50),
			HistoryMaxLimit:     getEnvInt("CREDITS_HISTORY_MAX_LIMIT", 200),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		},
	}

	return cfg, nil
}

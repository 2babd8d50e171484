package history

import (
	"os"
	"strconv"
	"time"
)

// RedisConfig holds connection settings for the Redis history store.
type RedisConfig struct {
	URL      string        // full redis:// URL, takes precedence over Addr
	Addr     string        // Redis address, default "localhost:6379"
	Password string        // Redis password, default ""
	DB       int           // Redis database number, default 0
	Prefix   string        // key prefix, default "event:"
	Timeout  time.Duration // per-operation timeout, default 500ms
	enabled  bool
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
// The store stays disabled until an address or URL is configured.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:    "localhost:6379",
		Prefix:  "event:",
		Timeout: 500 * time.Millisecond,
	}
}

// RedisConfigFromEnv loads Redis configuration from environment variables.
// Setting REDIS_URL or REDIS_ADDR enables the store.
func RedisConfigFromEnv() *RedisConfig {
	cfg := DefaultRedisConfig()

	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.URL = url
		cfg.enabled = true
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
		cfg.enabled = true
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Password = pw
	}
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		if db, err := strconv.Atoi(dbStr); err == nil {
			cfg.DB = db
		}
	}
	if prefix := os.Getenv("REDIS_KEY_PREFIX"); prefix != "" {
		cfg.Prefix = prefix
	}
	if ms := os.Getenv("REDIS_TIMEOUT_MS"); ms != "" {
		if n, err := strconv.Atoi(ms); err == nil && n > 0 {
			cfg.Timeout = time.Duration(n) * time.Millisecond
		}
	}
	return cfg
}

// Enabled reports whether a Redis endpoint was configured.
func (c *RedisConfig) Enabled() bool {
	return c.enabled
}

// Enable marks the config as configured regardless of environment.
func (c *RedisConfig) Enable() *RedisConfig {
	c.enabled = true
	return c
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ChatConfig holds relay server configuration.
type ChatConfig struct {
	Port            string        `json:"port"`
	HistorySize     int           `json:"history_size"`
	RateLimitMax    int           `json:"rate_limit_max"`
	RateLimitWindow time.Duration `json:"rate_limit_window"`
	RateLimitSweep  time.Duration `json:"rate_limit_sweep"`
	RoomIdleTTL     time.Duration `json:"room_idle_ttl"`
	RoomSweep       time.Duration `json:"room_sweep"`
	BlockedWords    []string      `json:"blocked_words"`
	AllowedOrigins  []string      `json:"allowed_origins"`
	MaxFrameBytes   int64         `json:"max_frame_bytes"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	PingInterval    time.Duration `json:"ping_interval"`
	ConnectRate     float64       `json:"connect_rate_per_second"`
	ConnectBurst    int           `json:"connect_burst"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	LogLevel        string        `json:"log_level"`
	LogFormat       string        `json:"log_format"`
}

// DefaultConfig returns the default relay configuration.
func DefaultConfig() *ChatConfig {
	return &ChatConfig{
		Port:            "3001",
		HistorySize:     100,
		RateLimitMax:    15,
		RateLimitWindow: time.Minute,
		RateLimitSweep:  5 * time.Minute,
		RoomIdleTTL:     0,
		RoomSweep:       time.Minute,
		BlockedWords:    []string{"spam", "scam"},
		AllowedOrigins:  []string{"*"},
		MaxFrameBytes:   4096,
		WriteTimeout:    10 * time.Second,
		PingInterval:    30 * time.Second,
		ConnectRate:     5,
		ConnectBurst:    20,
		ShutdownTimeout: 15 * time.Second,
		LogLevel:        "info",
		LogFormat:       "json",
	}
}

// FromEnv loads configuration from environment variables.
// Missing or unparsable values keep their defaults.
func FromEnv() *ChatConfig {
	cfg := DefaultConfig()

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = strings.TrimPrefix(port, ":")
	}
	cfg.HistorySize = envInt("HISTORY_SIZE", cfg.HistorySize)
	cfg.RateLimitMax = envInt("RATE_LIMIT_MAX", cfg.RateLimitMax)
	cfg.RateLimitWindow = envMillis("RATE_LIMIT_WINDOW_MS", cfg.RateLimitWindow)
	cfg.RateLimitSweep = envMillis("RATE_LIMIT_SWEEP_MS", cfg.RateLimitSweep)
	cfg.RoomSweep = envMillis("ROOM_SWEEP_MS", cfg.RoomSweep)
	cfg.WriteTimeout = envSeconds("WRITE_TIMEOUT_SECONDS", cfg.WriteTimeout)
	cfg.PingInterval = envSeconds("PING_INTERVAL_SECONDS", cfg.PingInterval)
	cfg.ShutdownTimeout = envSeconds("SHUTDOWN_TIMEOUT_SECONDS", cfg.ShutdownTimeout)
	cfg.ConnectBurst = envInt("CONNECT_BURST", cfg.ConnectBurst)

	// Zero is meaningful here: it turns room reaping off.
	if v := os.Getenv("ROOM_IDLE_TTL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			cfg.RoomIdleTTL = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("MAX_FRAME_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxFrameBytes = n
		}
	}
	if v := os.Getenv("CONNECT_RATE_PER_SECOND"); v != "" {
		if r, err := strconv.ParseFloat(v, 64); err == nil && r > 0 {
			cfg.ConnectRate = r
		}
	}
	if v, ok := os.LookupEnv("BLOCKED_WORDS"); ok {
		cfg.BlockedWords = splitList(v)
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}
	return cfg
}

// Addr returns the listen address for the configured port.
func (c *ChatConfig) Addr() string {
	return ":" + c.Port
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envMillis(key string, def time.Duration) time.Duration {
	return time.Duration(envInt(key, int(def/time.Millisecond))) * time.Millisecond
}

func envSeconds(key string, def time.Duration) time.Duration {
	return time.Duration(envInt(key, int(def/time.Second))) * time.Second
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

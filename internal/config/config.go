// Package config handles dispatcher configuration from environment variables.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all dispatcher configuration.
type Config struct {
	// Server
	ListenAddr string

	// Queue
	RedisURL string

	// Identity: scopes every queue channel. Generated when empty.
	SockethubID string

	// Platforms this dispatcher instance loads (allow-list). The dispatcher
	// platform itself is always implicitly allowed.
	Platforms []string

	// Optional platform catalog file (verbs and schemas).
	CatalogPath string

	// Liveness
	ListenerIntervalTime  time.Duration // time between liveness scans
	ListenerIntervalCount int           // maximum scans before readiness resolves

	// Logging level (debug, info, warn, error)
	LogLevel string
}

// DefaultConfig returns a config with default values.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:            ":10550",
		RedisURL:              "redis://localhost:6379",
		ListenerIntervalTime:  time.Second,
		ListenerIntervalCount: 10,
		LogLevel:              "info",
	}
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()

	cfg.ListenAddr = getEnv("SOCKETHUB_LISTEN", cfg.ListenAddr)
	cfg.RedisURL = getEnv("SOCKETHUB_REDIS_URL", cfg.RedisURL)
	cfg.SockethubID = os.Getenv("SOCKETHUB_ID")
	cfg.CatalogPath = os.Getenv("SOCKETHUB_CATALOG")
	cfg.Platforms = parseList("SOCKETHUB_PLATFORMS")
	cfg.ListenerIntervalTime = parseDuration("SOCKETHUB_LISTENER_INTERVAL_TIME", cfg.ListenerIntervalTime)
	cfg.ListenerIntervalCount = parseInt("SOCKETHUB_LISTENER_INTERVAL_COUNT", cfg.ListenerIntervalCount)
	cfg.LogLevel = getEnv("SOCKETHUB_LOG_LEVEL", cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen address is required")
	}
	if c.RedisURL == "" {
		return errors.New("redis url is required")
	}
	if c.ListenerIntervalTime < 10*time.Millisecond {
		return errors.New("listener interval must be at least 10ms")
	}
	if c.ListenerIntervalCount < 1 {
		return errors.New("listener interval count must be at least 1")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func parseDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		// Bare numbers are milliseconds.
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	list := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			list = append(list, trimmed)
		}
	}
	return list
}

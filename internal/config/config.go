// Package config loads agent settings from the environment and an optional
// .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Common errors.
var (
	ErrMissingURL   = errors.New("DOCSYNC_URL is required")
	ErrInvalidValue = errors.New("invalid configuration value")
)

// Backend selects where the document set is persisted.
type Backend string

const (
	BackendFile   Backend = "file"
	BackendRedis  Backend = "redis"
	BackendMemory Backend = "memory"
)

// Config holds agent settings.
type Config struct {
	URL string

	StateBackend Backend
	StatePath    string
	RedisAddr    string
	RedisDB      int
	RedisKey     string

	ActorID        string
	ReconnectDelay time.Duration

	LogLevel string
	LogDev   bool

	// HTTPAddr is where the control API listens. Empty disables it.
	HTTPAddr string
}

// Load reads .env files (./.env when none are named) into the environment
// without replacing variables that are already set, then builds the config.
// Non-empty overrides, typically command-line flags, win over both.
func Load(overrides map[string]string, files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && len(files) > 0 {
		return nil, fmt.Errorf("load env: %w", err)
	}

	return FromLookup(func(key string) string {
		if v := overrides[key]; v != "" {
			return v
		}

		return os.Getenv(key)
	})
}

// FromLookup builds a config from a key lookup such as os.Getenv.
func FromLookup(lookup func(string) string) (*Config, error) {
	env := env{lookup: lookup}

	cfg := &Config{
		URL: env.get("DOCSYNC_URL", ""),

		StateBackend: Backend(env.get("DOCSYNC_STATE_BACKEND", string(BackendFile))),
		StatePath:    env.get("DOCSYNC_STATE_PATH", "docsync-state.json"),
		RedisAddr:    env.get("DOCSYNC_REDIS_ADDR", "localhost:6379"),
		RedisDB:      env.getInt("DOCSYNC_REDIS_DB", 0),
		RedisKey:     env.get("DOCSYNC_REDIS_KEY", "docsync:state"),

		ActorID:        env.get("DOCSYNC_ACTOR_ID", ""),
		ReconnectDelay: env.getDuration("DOCSYNC_RECONNECT_DELAY", 2*time.Second),

		LogLevel: env.get("DOCSYNC_LOG_LEVEL", "info"),
		LogDev:   env.getBool("DOCSYNC_LOG_DEV", false),

		HTTPAddr: env.get("DOCSYNC_HTTP_ADDR", "127.0.0.1:8089"),
	}

	if env.err != nil {
		return nil, env.err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the settings are usable together.
func (c *Config) Validate() error {
	if c.URL == "" {
		return ErrMissingURL
	}

	switch c.StateBackend {
	case BackendFile:
		if c.StatePath == "" {
			return fmt.Errorf("%w: DOCSYNC_STATE_PATH is empty", ErrInvalidValue)
		}
	case BackendRedis:
		if c.RedisAddr == "" || c.RedisKey == "" {
			return fmt.Errorf("%w: redis backend needs DOCSYNC_REDIS_ADDR and DOCSYNC_REDIS_KEY", ErrInvalidValue)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("%w: DOCSYNC_STATE_BACKEND %q", ErrInvalidValue, c.StateBackend)
	}

	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("%w: DOCSYNC_RECONNECT_DELAY must be positive", ErrInvalidValue)
	}

	return nil
}

// env reads typed values and keeps the first parse error.
type env struct {
	lookup func(string) string
	err    error
}

func (e *env) get(key, defaultValue string) string {
	if value := e.lookup(key); value != "" {
		return value
	}

	return defaultValue
}

func (e *env) getInt(key string, defaultValue int) int {
	value := e.lookup(key)
	if value == "" {
		return defaultValue
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		e.fail(key, value)

		return defaultValue
	}

	return n
}

func (e *env) getBool(key string, defaultValue bool) bool {
	value := e.lookup(key)
	if value == "" {
		return defaultValue
	}

	b, err := strconv.ParseBool(value)
	if err != nil {
		e.fail(key, value)

		return defaultValue
	}

	return b
}

func (e *env) getDuration(key string, defaultValue time.Duration) time.Duration {
	value := e.lookup(key)
	if value == "" {
		return defaultValue
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		e.fail(key, value)

		return defaultValue
	}

	return d
}

func (e *env) fail(key, value string) {
	if e.err == nil {
		e.err = fmt.Errorf("%w: %s=%q", ErrInvalidValue, key, value)
	}
}

// Package config loads per-binary runtime settings from environment
// variables: a flat Config struct, a Validate method, and envOr-style
// helpers with documented defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pushrelay/dispatcher/internal/dispatcher"
	"github.com/pushrelay/dispatcher/internal/provider/fcm"
	"github.com/pushrelay/dispatcher/internal/provider/wns"
)

// Config holds settings shared by both the ingest API and dispatcher
// binaries.
type Config struct {
	Environment string
	LogLevel    string

	HTTPAddr    string
	DatabaseURL string
	RedisURL    string // "" disables the Redis accelerator entirely
	SentryDSN   string // "" disables incident alerting

	Dispatcher dispatcher.Config
	WNS        wns.Config
	FCM        fcm.Config

	SweeperRedisURL string
}

// Load reads Config from the environment. DATABASE_URL is required;
// everything else has a documented default.
func Load() Config {
	return Config{
		Environment: envOr("ENVIRONMENT", "development"),
		LogLevel:    envOr("LOG_LEVEL", "info"),

		HTTPAddr:    envOr("HTTP_ADDR", ":8080"),
		DatabaseURL: envRequired("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		SentryDSN:   os.Getenv("SENTRY_DSN"),

		Dispatcher: dispatcher.LoadConfig(),

		WNS: wns.Config{
			ClientID:     os.Getenv("WNS_CLIENT_ID"),
			ClientSecret: os.Getenv("WNS_CLIENT_SECRET"),
			TenantID:     os.Getenv("WNS_TENANT_ID"),
			Timeout:      envDuration("WNS_TIMEOUT_S", 30*time.Second),
		},
		FCM: fcm.Config{
			ProjectID: os.Getenv("FCM_PROJECT_ID"),
			ServerKey: os.Getenv("FCM_SERVER_KEY"),
			Timeout:   envDuration("FCM_TIMEOUT_S", 30*time.Second),
		},

		SweeperRedisURL: envOr("SWEEPER_REDIS_URL", os.Getenv("REDIS_URL")),
	}
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

// IsDevelopment reports whether the binary is running in development mode.
func (c Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envRequired(key string) string {
	v := os.Getenv(key)
	if v == "" {
		fmt.Printf("WARNING: %s is not set. This is required in production.\n", key)
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}

package dispatcher

import (
	"os"
	"strconv"
	"time"

	"github.com/pushrelay/dispatcher/internal/retry"
)

// Config holds dispatcher loop tuning.
type Config struct {
	BatchSize      int
	PollInterval   time.Duration
	MaxConcurrency int
	RetryPolicy    retry.Policy
}

// DefaultConfig returns the stock tuning: batches of 10 every 5 seconds,
// at most 10 in-flight dispatches.
func DefaultConfig() Config {
	return Config{
		BatchSize:      10,
		PollInterval:   5 * time.Second,
		MaxConcurrency: 10,
		RetryPolicy:    retry.DefaultPolicy(),
	}
}

// LoadConfig loads dispatcher configuration from environment variables.
func LoadConfig() Config {
	cfg := DefaultConfig()

	if v := getEnvInt("DISPATCHER_BATCH_SIZE", 0); v > 0 {
		cfg.BatchSize = v
	}
	if v := getEnvInt("DISPATCHER_POLL_INTERVAL_S", 0); v > 0 {
		cfg.PollInterval = time.Duration(v) * time.Second
	}
	if v := getEnvInt("DISPATCHER_MAX_CONCURRENCY", 0); v > 0 {
		cfg.MaxConcurrency = v
	}

	base := getEnvInt("RETRY_BASE_DELAY_S", 5)
	max := getEnvInt("RETRY_MAX_DELAY_S", 300)
	jitter := getEnvFloat("RETRY_JITTER_FACTOR", 0.3)
	cfg.RetryPolicy = retry.NewPolicy(base, max, jitter)

	return cfg
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// Package cache provides a thin Redis accelerator shared by both
// binaries: an idempotency-key dedupe cell fronting ingest (see
// internal/idempotency) and a shared OAuth bearer-token cell for the WNS
// provider (see internal/provider/wns). Postgres is always the source of
// truth; every operation here is safe to lose on a cache miss.
package cache

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pushrelay/dispatcher/internal/telemetry"
)

// Config holds Redis connection configuration.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

// ConfigFromEnv loads Redis configuration from environment variables.
func ConfigFromEnv() *Config {
	port, _ := strconv.Atoi(envOrDefault("REDIS_PORT", "6379"))
	db, _ := strconv.Atoi(envOrDefault("REDIS_DB", "0"))
	poolSize, _ := strconv.Atoi(envOrDefault("REDIS_POOL_SIZE", "10"))

	return &Config{
		Host:     envOrDefault("REDIS_HOST", "localhost"),
		Port:     port,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		PoolSize: poolSize,
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// ClientInterface is the subset of redis.Cmdable this package uses, kept
// narrow so tests can supply a mock without implementing the full client.
type ClientInterface interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Service wraps a Redis client with logging and graceful-miss semantics.
type Service struct {
	client ClientInterface
	config *Config
}

// New connects to Redis and instruments the client with OpenTelemetry
// tracing and metrics. Returns an error rather than a fatal exit so callers
// can degrade gracefully (the cache is an accelerator, not a dependency).
func New(config *Config) (*Service, error) {
	if config == nil {
		config = ConfigFromEnv()
	}

	ctx := telemetry.WithCorrelationID(context.Background(), telemetry.NewCorrelationID())
	logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"operation": "redis_connect",
		"host":      config.Host,
		"port":      config.Port,
	})

	client := redis.NewClient(&redis.Options{
		Addr:       fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password:   config.Password,
		DB:         config.DB,
		PoolSize:   config.PoolSize,
		MaxRetries: 3,
	})

	if err := telemetry.InstrumentRedisClient(client); err != nil {
		logger.WithField("error", err.Error()).Warn("failed to instrument redis client")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.WithField("error", err.Error()).Error("failed to connect to redis")
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	logger.Info("redis connected")
	return &Service{client: client, config: config}, nil
}

// Set stores a raw string value with a TTL.
func (s *Service) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

// SetNX stores a value only if the key does not already exist, returning
// true when the set happened. Used for idempotency-key dedupe and for the
// single-writer WNS token refresh.
func (s *Service) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

// Get retrieves a string value, returning ErrMiss if the key is absent.
func (s *Service) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrMiss
	}
	if err != nil {
		return "", fmt.Errorf("get key %s: %w", key, err)
	}
	return val, nil
}

// Delete removes a key.
func (s *Service) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// HealthCheck reports whether Redis is reachable.
func (s *Service) HealthCheck(ctx context.Context) bool {
	return s.client.Ping(ctx).Err() == nil
}

// Close releases the underlying connection pool.
func (s *Service) Close() error {
	return s.client.Close()
}

// ErrMiss is returned by Get when the key is absent.
var ErrMiss = fmt.Errorf("cache: key not found")

// Command api runs the ingest and status HTTP surface: a pure
// writer/reader of the outbox, never touching a push provider directly.
package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/pushrelay/dispatcher/internal/alerting"
	"github.com/pushrelay/dispatcher/internal/cache"
	"github.com/pushrelay/dispatcher/internal/config"
	"github.com/pushrelay/dispatcher/internal/httpapi"
	"github.com/pushrelay/dispatcher/internal/idempotency"
	"github.com/pushrelay/dispatcher/internal/outbox"
	"github.com/pushrelay/dispatcher/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	if err := telemetry.InitGlobalLogger(&telemetry.LogConfig{
		Level:  telemetry.LogLevel(cfg.LogLevel),
		Format: "json",
		Output: "stdout",
	}); err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	logger := telemetry.GetGlobalLogger()

	if err := cfg.Validate(); err != nil {
		logger.Fatalf("configuration error: %v", err)
	}

	otelShutdown, err := telemetry.InitializeOpenTelemetry(context.Background(), telemetry.LoadConfigFromEnv("ingest-api"))
	if err != nil {
		logger.Warnf("OpenTelemetry initialization failed: %v", err)
		otelShutdown = func() {}
	}
	defer otelShutdown()

	if err := alerting.Init(alerting.Config{
		DSN:         cfg.SentryDSN,
		Environment: cfg.Environment,
		Release:     "pushrelay-api@0.1.0",
	}); err != nil {
		logger.Warnf("alerting initialization failed: %v", err)
	}
	defer alerting.Flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := telemetry.InstrumentDatabase("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("failed to open db: %v", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	defer func() {
		if err := db.Close(); err != nil {
			logger.Printf("failed to close db: %v", err)
		}
	}()

	waitForDB(db, logger)

	var idemChecker *idempotency.Checker
	if cfg.RedisURL != "" {
		redisCache, err := cache.New(cache.ConfigFromEnv())
		if err != nil {
			logger.Warnf("Redis connection failed, idempotency cache disabled: %v", err)
			idemChecker = idempotency.New(nil)
		} else {
			defer func() { _ = redisCache.Close() }()
			idemChecker = idempotency.New(redisCache)
		}
	} else {
		idemChecker = idempotency.New(nil)
	}

	store := outbox.NewPostgresStore(db)
	app := httpapi.New(store, idemChecker)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Printf("http listening on %s", cfg.HTTPAddr)
		if err := app.Listen(cfg.HTTPAddr); err != nil {
			if groupCtx.Err() != nil {
				return nil
			}
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Printf("HTTP shutdown error: %v", err)
		}
		logger.Println("graceful shutdown completed")
		return nil
	})

	if err := group.Wait(); err != nil {
		logger.Printf("server error: %v", err)
		os.Exit(1)
	}
}

func waitForDB(db *sql.DB, logger *telemetry.Logger) {
	const maxRetries = 30
	for i := 0; i < maxRetries; i++ {
		if err := db.Ping(); err == nil {
			logger.Println("database connection established")
			return
		}
		if i == maxRetries-1 {
			logger.Fatalf("failed to connect to database after %d retries", maxRetries)
		}
		logger.Printf("waiting for database... (%d/%d)", i+1, maxRetries)
		time.Sleep(1 * time.Second)
	}
}

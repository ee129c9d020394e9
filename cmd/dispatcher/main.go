// Command dispatcher runs the background dispatch loop and the
// stuck-Processing/DLQ-health sweeper.
package main

import (
	"context"
	"database/sql"
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
	"github.com/pushrelay/dispatcher/internal/dispatcher"
	"github.com/pushrelay/dispatcher/internal/outbox"
	"github.com/pushrelay/dispatcher/internal/provider"
	"github.com/pushrelay/dispatcher/internal/provider/fake"
	"github.com/pushrelay/dispatcher/internal/provider/fcm"
	"github.com/pushrelay/dispatcher/internal/provider/slack"
	"github.com/pushrelay/dispatcher/internal/provider/wns"
	"github.com/pushrelay/dispatcher/internal/sweeper"
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
		panic(err)
	}
	logger := telemetry.GetGlobalLogger()

	if err := cfg.Validate(); err != nil {
		logger.Fatalf("configuration error: %v", err)
	}

	otelShutdown, err := telemetry.InitializeOpenTelemetry(context.Background(), telemetry.LoadConfigFromEnv("dispatcher"))
	if err != nil {
		logger.Warnf("OpenTelemetry initialization failed: %v", err)
		otelShutdown = func() {}
	}
	defer otelShutdown()

	if err := alerting.Init(alerting.Config{
		DSN:         cfg.SentryDSN,
		Environment: cfg.Environment,
		Release:     "pushrelay-dispatcher@0.1.0",
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
	defer func() {
		if err := db.Close(); err != nil {
			logger.Printf("failed to close db: %v", err)
		}
	}()
	waitForDB(db, logger)

	var redisCache *cache.Service
	if cfg.RedisURL != "" {
		redisCache, err = cache.New(cache.ConfigFromEnv())
		if err != nil {
			logger.Warnf("Redis connection failed, WNS token sharing disabled: %v", err)
			redisCache = nil
		}
	}

	registry, err := provider.NewRegistry(buildProviders(cfg, redisCache)...)
	if err != nil {
		logger.Fatalf("failed to build provider registry: %v", err)
	}
	logger.Printf("registered providers: %v", registry.Platforms())

	store := outbox.NewPostgresStore(db)
	disp := dispatcher.New(store, registry, cfg.Dispatcher)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return disp.Run(groupCtx)
	})

	if cfg.SweeperRedisURL != "" {
		sweeperCfg := sweeper.DefaultConfig()
		sweeperCfg.RedisURL = cfg.SweeperRedisURL

		sched, err := sweeper.NewScheduler(sweeperCfg)
		if err != nil {
			logger.Warnf("sweeper scheduler disabled: %v", err)
		} else {
			worker, err := sweeper.NewWorker(sweeperCfg, store)
			if err != nil {
				logger.Warnf("sweeper worker disabled: %v", err)
			} else {
				group.Go(func() error {
					go func() {
						<-groupCtx.Done()
						sched.Shutdown()
						worker.Shutdown()
					}()
					return sched.Run()
				})
				group.Go(func() error {
					return worker.Run()
				})
			}
		}
	} else {
		logger.Println("sweeper disabled: no Redis URL configured")
	}

	if err := group.Wait(); err != nil && groupCtx.Err() == nil {
		logger.Printf("dispatcher error: %v", err)
		os.Exit(1)
	}
	logger.Println("graceful shutdown completed")
}

func buildProviders(cfg config.Config, redisCache *cache.Service) []provider.Provider {
	providers := []provider.Provider{fake.New("Fake")}

	if cfg.FCM.ProjectID != "" && cfg.FCM.ServerKey != "" {
		providers = append(providers, fcm.New(cfg.FCM))
	}
	if cfg.WNS.ClientID != "" && cfg.WNS.ClientSecret != "" {
		providers = append(providers, wns.New(cfg.WNS, redisCache))
	}
	providers = append(providers, slack.New())

	return providers
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

// Package sweeper runs the stuck-Processing reclaimer and the periodic
// DLQ-health check as asynq scheduled tasks. The claim/dispatch path
// itself never goes through asynq; the queue backing these cron tasks is
// pure bookkeeping.
package sweeper

import (
	"context"
	"time"

	"github.com/hibiken/asynq"

	"github.com/pushrelay/dispatcher/internal/alerting"
	"github.com/pushrelay/dispatcher/internal/outbox"
	"github.com/pushrelay/dispatcher/internal/telemetry"
)

// captureIncident forwards a DLQ breach to the alerting backend; a
// variable so tests can intercept it.
var captureIncident = alerting.CaptureIncident

// Task type identifiers.
const (
	TypeReclaimStuck = "outbox:reclaim_stuck"
	TypeDLQHealth    = "outbox:dlq_health"
)

// Config holds sweeper tuning.
type Config struct {
	RedisURL         string
	ReclaimCron      string        // default "*/5 * * * *"
	DLQHealthCron    string        // default "*/1 * * * *"
	StaleAfter       time.Duration // how long a row may sit in Processing before being reclaimed
	DLQWarnThreshold int
	DLQCritThreshold int
	DLQStaleAgeWarn  time.Duration
}

// DefaultConfig returns sensible sweeper defaults.
func DefaultConfig() Config {
	return Config{
		ReclaimCron:      "*/5 * * * *",
		DLQHealthCron:    "*/1 * * * *",
		StaleAfter:       10 * time.Minute,
		DLQWarnThreshold: 50,
		DLQCritThreshold: 500,
		DLQStaleAgeWarn:  24 * time.Hour,
	}
}

// Scheduler registers the sweeper's cron tasks against a dedicated Redis
// instance used purely for asynq bookkeeping (never the outbox's source
// of truth).
type Scheduler struct {
	scheduler *asynq.Scheduler
}

// NewScheduler builds the cron registrations for the reclaim and
// DLQ-health tasks.
func NewScheduler(cfg Config) (*Scheduler, error) {
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, err
	}

	s := asynq.NewScheduler(redisOpt, nil)

	if _, err := s.Register(cfg.ReclaimCron, asynq.NewTask(TypeReclaimStuck, nil)); err != nil {
		return nil, err
	}
	if _, err := s.Register(cfg.DLQHealthCron, asynq.NewTask(TypeDLQHealth, nil)); err != nil {
		return nil, err
	}

	return &Scheduler{scheduler: s}, nil
}

// Run starts the scheduler. Blocks until Shutdown is called.
func (s *Scheduler) Run() error {
	return s.scheduler.Run()
}

// Shutdown gracefully stops the scheduler.
func (s *Scheduler) Shutdown() {
	s.scheduler.Shutdown()
}

// Worker runs the asynq server that executes scheduled sweeper tasks.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewWorker builds a Worker wired to handle TypeReclaimStuck and
// TypeDLQHealth against store.
func NewWorker(cfg Config, store outbox.Store) (*Worker, error) {
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, err
	}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 2,
		Queues:      map[string]int{"default": 1},
	})

	mux := asynq.NewServeMux()
	h := &handler{store: store, cfg: cfg}
	mux.HandleFunc(TypeReclaimStuck, h.reclaimStuck)
	mux.HandleFunc(TypeDLQHealth, h.checkDLQHealth)

	return &Worker{server: server, mux: mux}, nil
}

// Run starts the worker server. Blocks until shutdown.
func (w *Worker) Run() error {
	return w.server.Run(w.mux)
}

// Shutdown gracefully stops the worker.
func (w *Worker) Shutdown() {
	w.server.Shutdown()
}

type handler struct {
	store outbox.Store
	cfg   Config
}

// reclaimStuck resets rows left in Processing by an abandoned dispatch
// (DB errors or a crashed worker) back to Pending once they've been
// stuck past cfg.StaleAfter, so they become claimable again.
func (h *handler) reclaimStuck(ctx context.Context, _ *asynq.Task) error {
	logger := telemetry.GetContextualLogger(ctx).WithField("component", "sweeper")

	n, err := h.store.ReclaimStuck(ctx, h.cfg.StaleAfter, time.Now().UTC())
	if err != nil {
		logger.WithField("error", err.Error()).Error("failed to reclaim stuck rows")
		return err
	}
	if n > 0 {
		logger.WithField("reclaimed", n).Warn("reclaimed stuck Processing rows")
	}
	return nil
}

// checkDLQHealth watches the DLQ against the configured thresholds.
// Warnings and stale-age findings go to the structured logger; a
// critical-size breach additionally pages through the alerting backend.
func (h *handler) checkDLQHealth(ctx context.Context, _ *asynq.Task) error {
	logger := telemetry.GetContextualLogger(ctx).WithField("component", "sweeper")

	stats, err := h.store.DLQStats(ctx)
	if err != nil {
		logger.WithField("error", err.Error()).Error("failed to compute DLQ stats")
		return err
	}

	fields := map[string]interface{}{
		"dlq_total":       stats.Total,
		"dlq_by_platform": stats.ByPlatform,
	}

	switch {
	case stats.Total >= h.cfg.DLQCritThreshold:
		logger.WithFields(fields).Error("DLQ size crossed critical threshold")
		captureIncident("notification DLQ crossed critical threshold",
			map[string]string{"component": "sweeper"},
			map[string]interface{}{
				"dlq_total":          stats.Total,
				"dlq_by_platform":    stats.ByPlatform,
				"critical_threshold": h.cfg.DLQCritThreshold,
			})
	case stats.Total >= h.cfg.DLQWarnThreshold:
		logger.WithFields(fields).Warn("DLQ size crossed warning threshold")
	}

	if stats.OldestUpdatedUTC != nil && time.Since(*stats.OldestUpdatedUTC) >= h.cfg.DLQStaleAgeWarn {
		logger.WithFields(fields).WithField("oldest_updated_utc", stats.OldestUpdatedUTC).
			Warn("DLQ holds items older than the staleness threshold")
	}

	return nil
}

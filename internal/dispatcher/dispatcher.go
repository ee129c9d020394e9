// Package dispatcher implements the background dispatch loop: it claims
// eligible outbox rows, routes them to a provider, interprets the result,
// and persists the outcome. It is the only component that calls
// Provider.Send; all cross-component coupling goes through the outbox
// store, never an in-process queue.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/pushrelay/dispatcher/internal/outbox"
	"github.com/pushrelay/dispatcher/internal/provider"
	"github.com/pushrelay/dispatcher/internal/telemetry"
)

var tracer = otel.Tracer("github.com/pushrelay/dispatcher/dispatcher")

// ProviderTimeout is the outer deadline for a single provider call.
// Exceeding it surfaces as a NetworkError from the provider's transport.
const ProviderTimeout = 30 * time.Second

// Dispatcher runs the polling dispatch loop.
type Dispatcher struct {
	store    outbox.Store
	registry *provider.Registry
	cfg      Config
	metrics  *metrics
	sem      chan struct{}
}

// New creates a Dispatcher.
func New(store outbox.Store, registry *provider.Registry, cfg Config) *Dispatcher {
	return &Dispatcher{
		store:    store,
		registry: registry,
		cfg:      cfg,
		metrics:  newMetrics(),
		sem:      make(chan struct{}, cfg.MaxConcurrency),
	}
}

// Run executes the poll loop until ctx is cancelled. The cycle observes
// cancellation between per-row scheduling steps; already-started
// dispatches finish their current transaction but no new backend call
// starts after cancel.
func (d *Dispatcher) Run(ctx context.Context) error {
	logger := telemetry.GetContextualLogger(ctx).WithField("component", "dispatcher")
	logger.Info("dispatcher loop starting")

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("dispatcher loop stopping")
			return ctx.Err()
		case <-ticker.C:
			d.cycle(ctx)
		}
	}
}

// cycle runs exactly one poll cycle: claim Pending rows, schedule their
// dispatch, then claim Failed rows and schedule those, then wait for all
// scheduled dispatches to complete. Pending before Failed, always.
func (d *Dispatcher) cycle(ctx context.Context) {
	now := time.Now().UTC()
	logger := telemetry.GetContextualLogger(ctx).WithField("component", "dispatcher")

	ctx, span := tracer.Start(ctx, "dispatcher.cycle")
	defer span.End()

	var wg sync.WaitGroup

	pending, err := d.store.ClaimPending(ctx, d.cfg.BatchSize, now)
	if err != nil {
		logger.WithField("error", err.Error()).Error("failed to claim pending rows")
	}
	for _, m := range pending {
		if ctx.Err() != nil {
			break
		}
		d.scheduleDispatch(ctx, &wg, m)
	}

	failed, err := d.store.ClaimFailed(ctx, d.cfg.BatchSize, now)
	if err != nil {
		logger.WithField("error", err.Error()).Error("failed to claim failed rows")
	}
	for _, m := range failed {
		if ctx.Err() != nil {
			break
		}
		d.scheduleDispatch(ctx, &wg, m)
	}

	wg.Wait()
}

// scheduleDispatch acquires a semaphore slot and runs dispatch(row) in its
// own goroutine, bounding in-flight dispatches to cfg.MaxConcurrency.
func (d *Dispatcher) scheduleDispatch(ctx context.Context, wg *sync.WaitGroup, m *outbox.Message) {
	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() { <-d.sem }()
		d.dispatch(ctx, m)
	}()
}

// dispatch drives a single claimed row to its next state. The row is
// already Processing (the claim transaction did that atomically); this
// function only needs to resolve the provider, send, and persist the
// outcome.
func (d *Dispatcher) dispatch(ctx context.Context, m *outbox.Message) {
	logger := telemetry.GetContextualLogger(ctx).
		WithField("component", "dispatcher").
		WithNotification(m.ID, m.TargetPlatform)

	p, ok := d.registry.Lookup(m.TargetPlatform)
	if !ok {
		d.deadLetter(ctx, m, "no provider registered for platform", provider.CategoryPlatformNotSupported, logger)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, ProviderTimeout)
	defer cancel()

	sendCtx, sendSpan := tracer.Start(sendCtx, "dispatcher.provider_send", trace.WithAttributes(platformAttr(m.TargetPlatform)))
	start := time.Now()
	result := p.Send(sendCtx, m.DeviceToken, m.Title, m.Body, map[string]string(m.Data))
	elapsed := time.Since(start)
	sendSpan.End()
	d.metrics.recordProviderLatency(ctx, m.TargetPlatform, elapsed.Seconds())

	if sendCtx.Err() != nil {
		// A cancelled or timed-out provider call is never trusted as
		// delivered, even if the provider claims success. Exceeding
		// ProviderTimeout is a retryable NetworkError; a cancellation of
		// the cycle is a retryable Unknown failure.
		if ctx.Err() == nil {
			result = provider.Fail("provider call exceeded deadline", "TIMEOUT", provider.CategoryNetworkError)
		} else {
			result = provider.Fail("dispatch cancelled during provider call", "CANCELLED", provider.CategoryUnknown)
		}
	}

	d.recordAttempt(ctx, m, result, elapsed, logger)

	if result.Success {
		d.markSent(ctx, m, logger)
		return
	}

	d.handleFailure(ctx, m, result, logger)
}

// recordAttempt appends to the audit trail. Best effort only: a write
// failure is logged and the dispatch outcome proceeds regardless.
func (d *Dispatcher) recordAttempt(ctx context.Context, m *outbox.Message, result provider.Result, elapsed time.Duration, logger *telemetry.ContextualLogger) {
	a := &outbox.Attempt{
		NotificationID: m.ID,
		AttemptNumber:  m.RetryCount + 1,
		Success:        result.Success,
		DurationMs:     elapsed.Milliseconds(),
		AttemptedAt:    time.Now().UTC(),
	}
	if !result.Success {
		msg := result.Message
		cat := result.Category
		a.ErrorMessage = &msg
		a.ErrorCategory = &cat
	}
	if err := d.store.RecordAttempt(ctx, a); err != nil {
		logger.WithField("error", err.Error()).Warn("failed to record dispatch attempt")
	}
}

func (d *Dispatcher) markSent(ctx context.Context, m *outbox.Message, logger *telemetry.ContextualLogger) {
	if err := d.store.MarkSent(ctx, m.ID); err != nil {
		logger.WithField("error", err.Error()).Error("failed to mark sent")
		return
	}
	d.metrics.recordSent(ctx, m.TargetPlatform)
	logger.Info("notification sent")
}

// handleFailure routes a failed send: non-retryable failures dead-letter
// immediately; retryable failures dead-letter only once the retry budget
// would be exceeded, otherwise they go to Failed with next_attempt_utc
// computed from the retry policy.
func (d *Dispatcher) handleFailure(ctx context.Context, m *outbox.Message, result provider.Result, logger *telemetry.ContextualLogger) {
	logger = logger.WithFields(map[string]interface{}{
		"error_category": string(result.Category),
		"error_message":  result.Message,
	})

	if !result.Retryable {
		d.deadLetter(ctx, m, result.Message, result.Category, logger)
		return
	}

	if m.RetryCount+1 >= m.MaxRetries {
		d.deadLetter(ctx, m, result.Message, result.Category, logger)
		return
	}

	// The first retry waits Delay(0), the second Delay(1), and so on: the
	// completed-attempt count before the increment picks the backoff step.
	delay := d.cfg.RetryPolicy.Delay(m.RetryCount)
	nextAttempt := time.Now().UTC().Add(delay)

	if err := d.store.MarkFailed(ctx, m.ID, result.Message, result.Category, nextAttempt); err != nil {
		logger.WithField("error", err.Error()).Error("failed to mark failed")
		return
	}
	d.metrics.recordFailed(ctx, m.TargetPlatform, string(result.Category))
	logger.WithField("next_attempt_utc", nextAttempt).Warn("notification scheduled for retry")
}

func (d *Dispatcher) deadLetter(ctx context.Context, m *outbox.Message, reason string, category provider.FailureCategory, logger *telemetry.ContextualLogger) {
	if err := d.store.MarkDeadLettered(ctx, m.ID, reason, category); err != nil {
		logger.WithField("error", err.Error()).Error("failed to mark dead lettered")
		return
	}
	d.metrics.recordDeadLettered(ctx, m.TargetPlatform, string(category))
	logger.Warn("notification dead lettered")
}

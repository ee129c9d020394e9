// Package alerting forwards operator-grade incidents to Sentry: DLQ
// threshold breaches from the sweeper and unexpected process-level
// errors. Routine dispatch failures never go through here; they are
// state-machine outcomes, not incidents.
package alerting

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

// Config holds the Sentry client settings.
type Config struct {
	DSN         string
	Environment string
	Release     string
}

var enabled bool

// Init initializes the Sentry client. An empty DSN disables alerting
// entirely and is not an error; every Capture call degrades to a no-op.
func Init(cfg Config) error {
	if cfg.DSN == "" {
		enabled = false
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			sanitizeEvent(event)
			return event
		},
	})
	if err != nil {
		return fmt.Errorf("alerting: sentry init: %w", err)
	}

	enabled = true
	return nil
}

// Enabled reports whether a DSN was configured.
func Enabled() bool {
	return enabled
}

// Flush drains buffered events before shutdown.
func Flush(timeout time.Duration) {
	if !enabled {
		return
	}
	sentry.Flush(timeout)
}

// CaptureError reports an unexpected error with tags and extras.
func CaptureError(err error, tags map[string]string, extras map[string]interface{}) {
	if !enabled || err == nil {
		return
	}

	hub := sentry.CurrentHub().Clone()
	applyScope(hub.Scope(), tags, extras)
	hub.CaptureException(err)
}

// CaptureIncident reports a threshold-style incident that has no Go
// error behind it, at error severity.
func CaptureIncident(message string, tags map[string]string, extras map[string]interface{}) {
	if !enabled {
		return
	}

	hub := sentry.CurrentHub().Clone()
	scope := hub.Scope()
	scope.SetLevel(sentry.LevelError)
	applyScope(scope, tags, extras)
	hub.CaptureMessage(message)
}

func applyScope(scope *sentry.Scope, tags map[string]string, extras map[string]interface{}) {
	for k, v := range tags {
		scope.SetTag(k, v)
	}
	for k, v := range extras {
		scope.SetExtra(k, v)
	}
}

// sanitizeEvent strips credential-bearing headers before an event leaves
// the process.
func sanitizeEvent(event *sentry.Event) {
	if event.Request != nil {
		delete(event.Request.Headers, "Authorization")
		delete(event.Request.Headers, "Cookie")
	}
}

// Package fake provides a no-external-I/O push provider used in tests and
// local development to exercise the dispatcher's retry and dead-letter
// paths without a real backend.
package fake

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/pushrelay/dispatcher/internal/provider"
	"github.com/pushrelay/dispatcher/internal/telemetry"
)

// FailureRate is the probability that a Send call fails with
// CategoryServiceUnavailable, so the dispatcher's retry loop has
// something to exercise. Which calls fail is chosen at random.
const FailureRate = 0.05

// Provider is a push.Provider that never performs network I/O. It logs
// every call and fails a fixed fraction of the time.
type Provider struct {
	platform string
}

// New creates a Fake provider. platform defaults to "Fake" if empty.
func New(platform string) *Provider {
	if platform == "" {
		platform = "Fake"
	}
	return &Provider{platform: platform}
}

// Platform returns the platform name this provider is registered under.
func (p *Provider) Platform() string {
	return p.platform
}

// Send logs the attempt and fails a random FailureRate share of calls.
// math/rand/v2's package-level source is safe for concurrent use.
func (p *Provider) Send(ctx context.Context, token, title, body string, data map[string]string) provider.Result {
	logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"operation": "fake_send",
		"provider":  p.platform,
		"token":     maskToken(token),
	})

	if rand.Float64() < FailureRate {
		logger.Warn("fake provider simulating transient failure")
		return provider.Fail("simulated transient failure", "FAKE_503", provider.CategoryServiceUnavailable)
	}

	logger.WithField("title", title).Debug("fake provider accepted notification")
	return provider.Ok()
}

func maskToken(token string) string {
	if len(token) <= 4 {
		return "***"
	}
	return fmt.Sprintf("%s***", token[:4])
}

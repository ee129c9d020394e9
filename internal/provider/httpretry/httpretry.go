// Package httpretry provides a small bounded retry wrapper for the raw
// HTTP transport hiccups that happen below a provider's own failure
// classification (DNS blips, reset connections). This is the one place a
// provider is allowed its own retry loop; it must stay bounded and short,
// because the outbox dispatch loop is the sole source of cross-attempt
// backoff. Providers call this around the single HTTP round trip, not
// around their whole Send.
package httpretry

import (
	"context"
	"net/http"
	"time"
)

const (
	// MaxAttempts bounds the transport-level retry so it never compounds
	// with the dispatcher's own backoff loop.
	MaxAttempts = 3
	baseDelay   = 100 * time.Millisecond
)

// Do executes a request built by newReq with up to MaxAttempts tries,
// retrying only on transport errors (client.Do returning a non-nil
// error), never on a received HTTP response, classification of which
// belongs to the caller. newReq is called once per attempt so a request
// body can be rebuilt (http.Request bodies are single-use). Each retry
// backs off by baseDelay*attempt.
func Do(ctx context.Context, client *http.Client, newReq func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	var lastErr error
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		req, err := newReq(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if attempt == MaxAttempts || ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(baseDelay * time.Duration(attempt)):
		}
	}
	return nil, lastErr
}

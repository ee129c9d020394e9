// Package idempotency implements the Redis-backed fast path in front of the
// outbox's idempotency-key uniqueness check.
//
// It is a pure accelerator: Postgres's UNIQUE constraint on
// idempotency_key is always the source of truth. A cache hit
// lets the ingest endpoint answer a duplicate with a point read against
// the outbox store instead of attempting an Insert; a
// miss or a Redis outage just falls through to the database, which still
// enforces uniqueness via Insert's ErrConflict. The cache is populated only
// after a successful Insert, never before, so a false "seen" never
// precedes an actual write.
package idempotency

import (
	"context"
	"time"

	"github.com/pushrelay/dispatcher/internal/cache"
)

// TTL bounds how long a key is remembered in the fast path. It does not
// need to outlive the realistic retry window a caller might use when
// resubmitting after a timeout; once it expires the check simply falls
// through to Postgres.
const TTL = 24 * time.Hour

const keyPrefix = "idem:"

// Checker fronts the outbox idempotency check with a Redis SETNX cell.
type Checker struct {
	cache *cache.Service
}

// New builds a Checker. cache may be nil, in which case Seen always
// reports a miss and Remember is a no-op; the caller degrades to DB-only
// idempotency enforcement.
func New(c *cache.Service) *Checker {
	return &Checker{cache: c}
}

// Seen reports whether idempotencyKey was recently remembered. A false
// result is never authoritative on its own: callers MUST still perform the
// DB lookup/insert and treat ErrConflict as the ground truth.
func (c *Checker) Seen(ctx context.Context, idempotencyKey string) bool {
	if c.cache == nil {
		return false
	}
	_, err := c.cache.Get(ctx, keyPrefix+idempotencyKey)
	return err == nil
}

// Remember records idempotencyKey after a successful insert so subsequent
// duplicate submissions can short-circuit to a point read instead of a
// failing Insert. Failures are swallowed: losing this cache entry only
// costs a rejected Insert on the next duplicate, never correctness.
func (c *Checker) Remember(ctx context.Context, idempotencyKey string) {
	if c.cache == nil {
		return
	}
	_, _ = c.cache.SetNX(ctx, keyPrefix+idempotencyKey, "1", TTL)
}

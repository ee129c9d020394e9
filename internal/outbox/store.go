package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pushrelay/dispatcher/internal/provider"
)

// ErrConflict is returned by Insert when idempotency_key collides with an
// existing row. The key is globally unique: one key, one row, ever.
var ErrConflict = errors.New("outbox: idempotency key conflict")

// ErrNotFound is returned by point reads and transition operations when no
// row matches.
var ErrNotFound = errors.New("outbox: message not found")

// IsConflict reports whether err is ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsNotFound reports whether err is ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// Store is the outbox contract. Every mutation is a single-transaction
// operation so the state machine invariants (terminal states never
// transition again, next_attempt_utc set iff Failed, retry_count never
// exceeds max_retries outside DeadLettered) hold even under concurrent
// dispatcher workers.
type Store interface {
	// Insert appends a new row. Returns ErrConflict if idempotency_key
	// collides with an existing row.
	Insert(ctx context.Context, m *Message) error

	// GetByID performs a point read by id.
	GetByID(ctx context.Context, id uuid.UUID) (*Message, error)

	// GetByIdempotencyKey performs a point read by idempotency_key.
	GetByIdempotencyKey(ctx context.Context, key string) (*Message, error)

	// ClaimPending atomically selects up to limit Pending rows eligible
	// now (scheduled_for <= now or nil), ordered by created_at ascending,
	// and transitions each to Processing in the same transaction.
	ClaimPending(ctx context.Context, limit int, now time.Time) ([]*Message, error)

	// ClaimFailed atomically selects up to limit Failed rows eligible for
	// retry (retry_count < max_retries AND next_attempt_utc <= now or
	// nil), ordered by next_attempt_utc ascending, and transitions each
	// to Processing in the same transaction.
	ClaimFailed(ctx context.Context, limit int, now time.Time) ([]*Message, error)

	// MarkSent transitions a Processing row to Sent.
	MarkSent(ctx context.Context, id uuid.UUID) error

	// MarkFailed transitions a Processing row to Failed, incrementing
	// retry_count and recording the caller-computed next_attempt_utc.
	MarkFailed(ctx context.Context, id uuid.UUID, errMessage string, category provider.FailureCategory, nextAttempt time.Time) error

	// MarkDeadLettered transitions a row (Pending, Processing, or Failed)
	// to the terminal DeadLettered state, counting the attempt that
	// produced the terminal failure.
	MarkDeadLettered(ctx context.Context, id uuid.UUID, reason string, category provider.FailureCategory) error

	// RecordAttempt appends one per-attempt audit row. Best effort: a
	// failure here must not be treated as a dispatch failure.
	RecordAttempt(ctx context.Context, a *Attempt) error

	// ListAttempts returns a notification's audit trail, oldest first.
	ListAttempts(ctx context.Context, notificationID uuid.UUID) ([]*Attempt, error)

	// ListDeadLettered returns up to limit DeadLettered rows, most
	// recently updated first, optionally filtered to one platform.
	ListDeadLettered(ctx context.Context, platform string, limit, offset int) ([]*Message, error)

	// DLQStats summarizes the current dead-letter queue for operator
	// triage.
	DLQStats(ctx context.Context) (*DLQStatsResult, error)

	// Replay resets a DeadLettered row back to Pending with retry_count
	// reset to zero, so the dispatcher will re-attempt it on the next
	// cycle. Returns ErrNotFound if id doesn't exist or isn't
	// DeadLettered.
	Replay(ctx context.Context, id uuid.UUID) error

	// ReclaimStuck resets Processing rows whose last_attempt_utc is older
	// than staleAfter back to Pending. Returns the number of rows
	// reclaimed. A row sits in Processing that long when a worker died
	// between the claim commit and the outcome write, or when that write
	// failed.
	ReclaimStuck(ctx context.Context, staleAfter time.Duration, now time.Time) (int64, error)
}

// Attempt is one row of the per-attempt audit trail. The notification's
// own last_error/last_error_category fields only keep the most recent
// outcome; the audit trail keeps them all.
type Attempt struct {
	ID             uuid.UUID
	NotificationID uuid.UUID
	AttemptNumber  int
	Success        bool
	ErrorMessage   *string
	ErrorCategory  *provider.FailureCategory
	DurationMs     int64
	AttemptedAt    time.Time
}

// DLQStatsResult summarizes the dead-letter queue.
type DLQStatsResult struct {
	Total            int
	ByPlatform       map[string]int
	OldestUpdatedUTC *time.Time
}

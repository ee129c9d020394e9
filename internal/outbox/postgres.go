package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/pushrelay/dispatcher/internal/provider"
)

// PostgresStore implements Store against a single `notifications` table
// plus a `dispatch_attempts` audit table. The claim queries use
// SELECT ... FOR UPDATE SKIP LOCKED inside the same transaction as the
// Processing write, so a row is handed to at most one worker per attempt
// even with several dispatcher instances sharing the database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

const messageColumns = `
	id, idempotency_key, target_platform, device_token, title, body, data, tags,
	priority, status, retry_count, max_retries, created_at, updated_at,
	scheduled_for, sent_at, last_attempt_utc, next_attempt_utc,
	last_error, last_error_category
`

// Insert appends a new row.
func (s *PostgresStore) Insert(ctx context.Context, m *Message) error {
	dataJSON, err := MarshalDataJSON(m.Data)
	if err != nil {
		return fmt.Errorf("outbox: marshal data: %w", err)
	}

	query := `
		INSERT INTO notifications (
			id, idempotency_key, target_platform, device_token, title, body, data, tags,
			priority, status, retry_count, max_retries, created_at, updated_at, scheduled_for
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)
	`
	_, err = s.db.ExecContext(ctx, query,
		m.ID, m.IdempotencyKey, m.TargetPlatform, m.DeviceToken, m.Title, m.Body,
		dataJSON, m.Tags, string(m.Priority), string(m.Status), m.RetryCount, m.MaxRetries,
		m.CreatedAt, m.UpdatedAt, m.ScheduledFor,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("outbox: insert: %w", err)
	}
	return nil
}

// GetByID performs a point read by id.
func (s *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM notifications WHERE id = $1`, id)
	return scanMessage(row)
}

// GetByIdempotencyKey performs a point read by idempotency_key.
func (s *PostgresStore) GetByIdempotencyKey(ctx context.Context, key string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM notifications WHERE idempotency_key = $1`, key)
	return scanMessage(row)
}

// ClaimPending selects and claims eligible Pending rows.
func (s *PostgresStore) ClaimPending(ctx context.Context, limit int, now time.Time) ([]*Message, error) {
	const query = `
		SELECT ` + messageColumns + `
		FROM notifications
		WHERE status = 'Pending' AND (scheduled_for IS NULL OR scheduled_for <= $1)
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`
	return s.claim(ctx, query, now, limit)
}

// ClaimFailed selects and claims eligible Failed rows.
func (s *PostgresStore) ClaimFailed(ctx context.Context, limit int, now time.Time) ([]*Message, error) {
	const query = `
		SELECT ` + messageColumns + `
		FROM notifications
		WHERE status = 'Failed' AND retry_count < max_retries
		  AND (next_attempt_utc IS NULL OR next_attempt_utc <= $1)
		ORDER BY next_attempt_utc ASC NULLS LAST, updated_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`
	return s.claim(ctx, query, now, limit)
}

// claim runs the SELECT ... FOR UPDATE SKIP LOCKED query and the
// Processing write inside one transaction. A competing dispatcher's claim
// skips locked rows instead of blocking on them.
func (s *PostgresStore) claim(ctx context.Context, query string, now time.Time, limit int) ([]*Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("outbox: begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: claim select: %w", err)
	}
	claimed, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	if len(claimed) == 0 {
		return nil, tx.Commit()
	}

	ids := make([]uuid.UUID, len(claimed))
	for i, m := range claimed {
		ids[i] = m.ID
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE notifications
		SET status = 'Processing', last_attempt_utc = $1, updated_at = $1
		WHERE id = ANY($2)
	`, now, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("outbox: claim update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("outbox: commit claim tx: %w", err)
	}

	for _, m := range claimed {
		m.Status = StatusProcessing
		m.LastAttemptUTC = &now
		m.UpdatedAt = now
	}
	return claimed, nil
}

// MarkSent transitions a row to the terminal Sent state.
func (s *PostgresStore) MarkSent(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	return s.exec(ctx, `
		UPDATE notifications
		SET status = 'Sent', sent_at = $2, updated_at = $2, last_error = NULL, last_error_category = NULL
		WHERE id = $1
	`, id, now)
}

// MarkFailed transitions a row to Failed, incrementing retry_count and
// recording the provided next_attempt_utc.
func (s *PostgresStore) MarkFailed(ctx context.Context, id uuid.UUID, errMessage string, category provider.FailureCategory, nextAttempt time.Time) error {
	now := time.Now().UTC()
	return s.exec(ctx, `
		UPDATE notifications
		SET status = 'Failed',
		    retry_count = retry_count + 1,
		    next_attempt_utc = $2,
		    last_error = $3,
		    last_error_category = $4,
		    updated_at = $5
		WHERE id = $1
	`, id, nextAttempt, truncateError(errMessage), string(category), now)
}

// MarkDeadLettered transitions a row to the terminal DeadLettered state,
// counting the attempt that produced the terminal failure.
func (s *PostgresStore) MarkDeadLettered(ctx context.Context, id uuid.UUID, reason string, category provider.FailureCategory) error {
	now := time.Now().UTC()
	return s.exec(ctx, `
		UPDATE notifications
		SET status = 'DeadLettered',
		    retry_count = retry_count + 1,
		    last_error = $2,
		    last_error_category = $3,
		    updated_at = $4
		WHERE id = $1
	`, id, truncateError(reason), string(category), now)
}

// RecordAttempt appends one row to the dispatch_attempts audit table.
// Failures here never affect the notification's own state machine; the
// audit trail is best effort.
func (s *PostgresStore) RecordAttempt(ctx context.Context, a *Attempt) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	var category *string
	if a.ErrorCategory != nil {
		c := string(*a.ErrorCategory)
		category = &c
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dispatch_attempts (
			id, notification_id, attempt_number, success,
			error_message, error_category, duration_ms, attempted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.ID, a.NotificationID, a.AttemptNumber, a.Success,
		a.ErrorMessage, category, a.DurationMs, a.AttemptedAt)
	if err != nil {
		return fmt.Errorf("outbox: record attempt: %w", err)
	}
	return nil
}

// ListAttempts returns the audit trail for one notification, oldest first.
func (s *PostgresStore) ListAttempts(ctx context.Context, notificationID uuid.UUID) ([]*Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, notification_id, attempt_number, success,
		       error_message, error_category, duration_ms, attempted_at
		FROM dispatch_attempts
		WHERE notification_id = $1
		ORDER BY attempt_number ASC
	`, notificationID)
	if err != nil {
		return nil, fmt.Errorf("outbox: list attempts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Attempt
	for rows.Next() {
		var a Attempt
		var category sql.NullString
		if err := rows.Scan(&a.ID, &a.NotificationID, &a.AttemptNumber, &a.Success,
			&a.ErrorMessage, &category, &a.DurationMs, &a.AttemptedAt); err != nil {
			return nil, fmt.Errorf("outbox: scan attempt: %w", err)
		}
		if category.Valid {
			c := provider.FailureCategory(category.String)
			a.ErrorCategory = &c
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: attempts iteration: %w", err)
	}
	return out, nil
}

// ListDeadLettered returns DeadLettered rows, optionally filtered to one
// platform, newest-updated first.
func (s *PostgresStore) ListDeadLettered(ctx context.Context, platform string, limit, offset int) ([]*Message, error) {
	var rows *sql.Rows
	var err error
	if platform == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+messageColumns+`
			FROM notifications
			WHERE status = 'DeadLettered'
			ORDER BY updated_at DESC
			LIMIT $1 OFFSET $2
		`, limit, offset)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+messageColumns+`
			FROM notifications
			WHERE status = 'DeadLettered' AND target_platform = $1
			ORDER BY updated_at DESC
			LIMIT $2 OFFSET $3
		`, platform, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("outbox: list dead lettered: %w", err)
	}
	return scanMessages(rows)
}

// DLQStats summarizes the dead-letter queue for operator triage.
func (s *PostgresStore) DLQStats(ctx context.Context) (*DLQStatsResult, error) {
	result := &DLQStatsResult{ByPlatform: make(map[string]int)}

	rows, err := s.db.QueryContext(ctx, `
		SELECT target_platform, COUNT(*)
		FROM notifications
		WHERE status = 'DeadLettered'
		GROUP BY target_platform
	`)
	if err != nil {
		return nil, fmt.Errorf("outbox: dlq stats by platform: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var platform string
		var count int
		if err := rows.Scan(&platform, &count); err != nil {
			return nil, fmt.Errorf("outbox: dlq stats scan: %w", err)
		}
		result.ByPlatform[platform] = count
		result.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: dlq stats rows: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT MIN(updated_at) FROM notifications WHERE status = 'DeadLettered'
	`)
	var oldest sql.NullTime
	if err := row.Scan(&oldest); err != nil {
		return nil, fmt.Errorf("outbox: dlq stats oldest: %w", err)
	}
	if oldest.Valid {
		result.OldestUpdatedUTC = &oldest.Time
	}
	return result, nil
}

// Replay resets a DeadLettered row back to Pending with retry_count=0, so
// it is claimable by the next ClaimPending cycle.
func (s *PostgresStore) Replay(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = 'Pending',
		    retry_count = 0,
		    next_attempt_utc = NULL,
		    last_error = NULL,
		    last_error_category = NULL,
		    updated_at = $2
		WHERE id = $1 AND status = 'DeadLettered'
	`, id, now)
	if err != nil {
		return fmt.Errorf("outbox: replay: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("outbox: replay rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ReclaimStuck resets Processing rows whose last_attempt_utc predates
// now.Add(-staleAfter) back to Pending, for the stuck-Processing sweeper.
// A row ends up stuck here if a dispatcher process died mid-dispatch
// after committing the claim transaction, or if the outcome write after
// the provider call failed.
func (s *PostgresStore) ReclaimStuck(ctx context.Context, staleAfter time.Duration, now time.Time) (int64, error) {
	cutoff := now.Add(-staleAfter)
	result, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = 'Pending', updated_at = $2
		WHERE status = 'Processing' AND last_attempt_utc < $1
	`, cutoff, now)
	if err != nil {
		return 0, fmt.Errorf("outbox: reclaim stuck: %w", err)
	}
	return result.RowsAffected()
}

func (s *PostgresStore) exec(ctx context.Context, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("outbox: exec: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("outbox: rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// maxErrorLen bounds last_error so a misbehaving backend can't grow a row
// unboundedly.
const maxErrorLen = 4096

func truncateError(s string) string {
	if len(s) <= maxErrorLen {
		return s
	}
	return s[:maxErrorLen]
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var priority, status string
	var dataJSON []byte
	var lastErrorCategory sql.NullString

	err := row.Scan(
		&m.ID, &m.IdempotencyKey, &m.TargetPlatform, &m.DeviceToken, &m.Title, &m.Body,
		&dataJSON, &m.Tags, &priority, &status, &m.RetryCount, &m.MaxRetries,
		&m.CreatedAt, &m.UpdatedAt, &m.ScheduledFor, &m.SentAt, &m.LastAttemptUTC, &m.NextAttemptUTC,
		&m.LastError, &lastErrorCategory,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("outbox: scan: %w", err)
	}

	m.Priority = Priority(priority)
	m.Status = Status(status)
	if data, err := UnmarshalDataJSON(dataJSON); err == nil {
		m.Data = data
	}
	if lastErrorCategory.Valid {
		cat := provider.FailureCategory(lastErrorCategory.String)
		m.LastErrorCategory = &cat
	}
	return &m, nil
}

func scanMessages(rows *sql.Rows) ([]*Message, error) {
	defer func() { _ = rows.Close() }()
	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: rows iteration: %w", err)
	}
	return out, nil
}

// isUniqueViolation checks for PostgreSQL error code 23505 (unique
// constraint violation), the idempotency_key collision case.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

package outbox

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushrelay/dispatcher/internal/provider"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return NewPostgresStore(db), mock, func() { _ = db.Close() }
}

func sampleRow(id uuid.UUID, status Status) *sqlmock.Rows {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return sqlmock.NewRows([]string{
		"id", "idempotency_key", "target_platform", "device_token", "title", "body", "data", "tags",
		"priority", "status", "retry_count", "max_retries", "created_at", "updated_at",
		"scheduled_for", "sent_at", "last_attempt_utc", "next_attempt_utc",
		"last_error", "last_error_category",
	}).AddRow(
		id, "key-1", "Fake", "token-1", "hello", "world", []byte(`{"k":"v"}`), "",
		"Normal", string(status), 0, 5, now, now,
		nil, nil, nil, nil,
		nil, nil,
	)
}

func TestPostgresStore_Insert_Success(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	m := NewMessage("key-1", "Fake", "token-1", "hello", "world", nil, "", PriorityNormal, 5, nil)

	mock.ExpectExec(`INSERT INTO notifications`).
		WithArgs(m.ID, m.IdempotencyKey, m.TargetPlatform, m.DeviceToken, m.Title, m.Body,
			sqlmock.AnyArg(), m.Tags, "Normal", "Pending", 0, 5, m.CreatedAt, m.UpdatedAt, m.ScheduledFor).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.Insert(context.Background(), m)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Insert_Conflict(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	m := NewMessage("dup-key", "Fake", "token-1", "hello", "world", nil, "", PriorityNormal, 5, nil)

	mock.ExpectExec(`INSERT INTO notifications`).
		WillReturnError(&pq.Error{Code: "23505"})

	err := store.Insert(context.Background(), m)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestPostgresStore_GetByID_NotFound(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	id := uuid.New()
	mock.ExpectQuery(`SELECT (.|\n)+ FROM notifications WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{}))

	_, err := store.GetByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_GetByID_Found(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	id := uuid.New()
	mock.ExpectQuery(`SELECT (.|\n)+ FROM notifications WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(sampleRow(id, StatusPending))

	m, err := store.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, m.ID)
	assert.Equal(t, StatusPending, m.Status)
	assert.Equal(t, Data{"k": "v"}, m.Data)
}

func TestPostgresStore_ClaimPending_MarksProcessing(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	id := uuid.New()
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.|\n)+ FROM notifications\s+WHERE status = 'Pending'`).
		WithArgs(now, 10).
		WillReturnRows(sampleRow(id, StatusPending))
	mock.ExpectExec(`UPDATE notifications\s+SET status = 'Processing'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rows, err := store.ClaimPending(context.Background(), 10, now)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, StatusProcessing, rows[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimPending_Empty(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.|\n)+ FROM notifications\s+WHERE status = 'Pending'`).
		WithArgs(now, 10).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "idempotency_key", "target_platform", "device_token", "title", "body", "data", "tags",
			"priority", "status", "retry_count", "max_retries", "created_at", "updated_at",
			"scheduled_for", "sent_at", "last_attempt_utc", "next_attempt_utc",
			"last_error", "last_error_category",
		}))
	mock.ExpectCommit()

	rows, err := store.ClaimPending(context.Background(), 10, now)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestPostgresStore_MarkSent(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	id := uuid.New()
	mock.ExpectExec(`UPDATE notifications\s+SET status = 'Sent'`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.MarkSent(context.Background(), id)
	require.NoError(t, err)
}

func TestPostgresStore_MarkSent_NotFound(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	id := uuid.New()
	mock.ExpectExec(`UPDATE notifications\s+SET status = 'Sent'`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.MarkSent(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_MarkFailed(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	id := uuid.New()
	next := time.Now().Add(10 * time.Second)

	mock.ExpectExec(`UPDATE notifications\s+SET status = 'Failed'`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.MarkFailed(context.Background(), id, "boom", provider.CategoryServiceUnavailable, next)
	require.NoError(t, err)
}

func TestPostgresStore_MarkDeadLettered(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	id := uuid.New()
	mock.ExpectExec(`UPDATE notifications\s+SET status = 'DeadLettered'`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.MarkDeadLettered(context.Background(), id, "no such platform", provider.CategoryPlatformNotSupported)
	require.NoError(t, err)
}

func TestPostgresStore_RecordAttempt_AssignsID(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	a := &Attempt{
		NotificationID: uuid.New(),
		AttemptNumber:  1,
		Success:        true,
		DurationMs:     42,
		AttemptedAt:    time.Now().UTC(),
	}

	mock.ExpectExec(`INSERT INTO dispatch_attempts`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.RecordAttempt(context.Background(), a)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, a.ID)
}

func TestPostgresStore_ListAttempts(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	notifID := uuid.New()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT (.|\n)+ FROM dispatch_attempts`).
		WithArgs(notifID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "notification_id", "attempt_number", "success",
			"error_message", "error_category", "duration_ms", "attempted_at",
		}).
			AddRow(uuid.New(), notifID, 1, false, "boom", "ServiceUnavailable", int64(100), now).
			AddRow(uuid.New(), notifID, 2, true, nil, nil, int64(80), now))

	attempts, err := store.ListAttempts(context.Background(), notifID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.False(t, attempts[0].Success)
	require.NotNil(t, attempts[0].ErrorCategory)
	assert.Equal(t, provider.CategoryServiceUnavailable, *attempts[0].ErrorCategory)
	assert.True(t, attempts[1].Success)
	assert.Nil(t, attempts[1].ErrorCategory)
}

func TestPostgresStore_ListDeadLettered(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	id := uuid.New()
	mock.ExpectQuery(`SELECT (.|\n)+ FROM notifications\s+WHERE status = 'DeadLettered' AND target_platform = \$1`).
		WithArgs("Fake", 10, 0).
		WillReturnRows(sampleRow(id, StatusDeadLettered))

	rows, err := store.ListDeadLettered(context.Background(), "Fake", 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, StatusDeadLettered, rows[0].Status)
}

func TestPostgresStore_DLQStats(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	mock.ExpectQuery(`SELECT target_platform, COUNT\(\*\)`).
		WillReturnRows(sqlmock.NewRows([]string{"target_platform", "count"}).
			AddRow("Fake", 3).AddRow("WNS", 1))

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT MIN\(updated_at\)`).
		WillReturnRows(sqlmock.NewRows([]string{"min"}).AddRow(now))

	stats, err := store.DLQStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 3, stats.ByPlatform["Fake"])
	require.NotNil(t, stats.OldestUpdatedUTC)
}

func TestPostgresStore_Replay_Success(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	id := uuid.New()
	mock.ExpectExec(`UPDATE notifications\s+SET status = 'Pending'`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Replay(context.Background(), id)
	require.NoError(t, err)
}

func TestPostgresStore_Replay_NotFound(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	id := uuid.New()
	mock.ExpectExec(`UPDATE notifications\s+SET status = 'Pending'`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Replay(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_ReclaimStuck(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	now := time.Now().UTC()
	mock.ExpectExec(`UPDATE notifications\s+SET status = 'Pending', updated_at = \$2\s+WHERE status = 'Processing'`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := store.ReclaimStuck(context.Background(), 10*time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestTruncateError(t *testing.T) {
	long := make([]byte, maxErrorLen+100)
	for i := range long {
		long[i] = 'x'
	}
	got := truncateError(string(long))
	assert.Len(t, got, maxErrorLen)
}

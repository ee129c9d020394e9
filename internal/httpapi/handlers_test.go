package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushrelay/dispatcher/internal/outbox"
	"github.com/pushrelay/dispatcher/internal/provider"
)

// fakeStore is a minimal in-memory outbox.Store test double for exercising
// the HTTP handlers in isolation from Postgres.
type fakeStore struct {
	mu       sync.Mutex
	rows     map[uuid.UUID]*outbox.Message
	attempts []*outbox.Attempt
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[uuid.UUID]*outbox.Message)}
}

func (s *fakeStore) Insert(ctx context.Context, m *outbox.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.IdempotencyKey == m.IdempotencyKey {
			return outbox.ErrConflict
		}
	}
	s.rows[m.ID] = m
	return nil
}

func (s *fakeStore) GetByID(ctx context.Context, id uuid.UUID) (*outbox.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[id]
	if !ok {
		return nil, outbox.ErrNotFound
	}
	return m, nil
}

func (s *fakeStore) GetByIdempotencyKey(ctx context.Context, key string) (*outbox.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.rows {
		if m.IdempotencyKey == key {
			return m, nil
		}
	}
	return nil, outbox.ErrNotFound
}

func (s *fakeStore) ClaimPending(ctx context.Context, limit int, now time.Time) ([]*outbox.Message, error) {
	return nil, nil
}

func (s *fakeStore) ClaimFailed(ctx context.Context, limit int, now time.Time) ([]*outbox.Message, error) {
	return nil, nil
}

func (s *fakeStore) MarkSent(ctx context.Context, id uuid.UUID) error { return nil }

func (s *fakeStore) MarkFailed(ctx context.Context, id uuid.UUID, errMessage string, category provider.FailureCategory, nextAttempt time.Time) error {
	return nil
}

func (s *fakeStore) MarkDeadLettered(ctx context.Context, id uuid.UUID, reason string, category provider.FailureCategory) error {
	return nil
}

func (s *fakeStore) RecordAttempt(ctx context.Context, a *outbox.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, a)
	return nil
}

func (s *fakeStore) ListAttempts(ctx context.Context, notificationID uuid.UUID) ([]*outbox.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*outbox.Attempt
	for _, a := range s.attempts {
		if a.NotificationID == notificationID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeStore) ListDeadLettered(ctx context.Context, platform string, limit, offset int) ([]*outbox.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*outbox.Message
	for _, m := range s.rows {
		if m.Status == outbox.StatusDeadLettered {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeStore) DLQStats(ctx context.Context) (*outbox.DLQStatsResult, error) {
	return &outbox.DLQStatsResult{ByPlatform: map[string]int{}}, nil
}

func (s *fakeStore) Replay(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[id]
	if !ok || m.Status != outbox.StatusDeadLettered {
		return outbox.ErrNotFound
	}
	m.Status = outbox.StatusPending
	return nil
}

func (s *fakeStore) ReclaimStuck(ctx context.Context, staleAfter time.Duration, now time.Time) (int64, error) {
	return 0, nil
}

func doJSON(t *testing.T, app interface {
	Test(*http.Request, ...int) (*http.Response, error)
}, method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var parsed map[string]interface{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &parsed)
	}
	return resp, parsed
}

func TestIngest_Success(t *testing.T) {
	store := newFakeStore()
	app := New(store, nil)

	resp, body := doJSON(t, app, http.MethodPost, "/notifications", ingestRequest{
		TargetPlatform: "Fake",
		DeviceToken:    "tok",
		Title:          "hi",
	})

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "Pending", body["status"])
	assert.NotEmpty(t, body["id"])
}

func TestIngest_MissingRequiredField_Returns400(t *testing.T) {
	store := newFakeStore()
	app := New(store, nil)

	resp, _ := doJSON(t, app, http.MethodPost, "/notifications", ingestRequest{
		DeviceToken: "tok",
		Title:       "hi",
	})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIngest_DuplicateIdempotencyKey_Returns409(t *testing.T) {
	store := newFakeStore()
	app := New(store, nil)

	req := ingestRequest{
		IdempotencyKey: "dup-1",
		TargetPlatform: "Fake",
		DeviceToken:    "tok",
		Title:          "hi",
	}

	resp1, _ := doJSON(t, app, http.MethodPost, "/notifications", req)
	assert.Equal(t, http.StatusAccepted, resp1.StatusCode)

	resp2, body2 := doJSON(t, app, http.MethodPost, "/notifications", req)
	assert.Equal(t, http.StatusConflict, resp2.StatusCode)
	assert.NotEmpty(t, body2["id"])
}

func TestStatus_NotFound_Returns404(t *testing.T) {
	store := newFakeStore()
	app := New(store, nil)

	resp, _ := doJSON(t, app, http.MethodGet, "/notifications/"+uuid.New().String(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatus_Found(t *testing.T) {
	store := newFakeStore()
	app := New(store, nil)

	m := outbox.NewMessage("k1", "Fake", "tok", "hi", "there", nil, "", outbox.PriorityNormal, 5, nil)
	require.NoError(t, store.Insert(context.Background(), m))

	resp, body := doJSON(t, app, http.MethodGet, "/notifications/"+m.ID.String(), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Pending", body["status"])
}

func TestHealth(t *testing.T) {
	store := newFakeStore()
	app := New(store, nil)

	resp, body := doJSON(t, app, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Healthy", body["status"])
}

func TestAttempts_ReturnsAuditTrail(t *testing.T) {
	store := newFakeStore()
	app := New(store, nil)

	m := outbox.NewMessage("k3", "Fake", "tok", "hi", "there", nil, "", outbox.PriorityNormal, 5, nil)
	require.NoError(t, store.Insert(context.Background(), m))

	errMsg := "service down"
	cat := provider.CategoryServiceUnavailable
	require.NoError(t, store.RecordAttempt(context.Background(), &outbox.Attempt{
		NotificationID: m.ID,
		AttemptNumber:  1,
		Success:        false,
		ErrorMessage:   &errMsg,
		ErrorCategory:  &cat,
		AttemptedAt:    time.Now().UTC(),
	}))

	req := httptest.NewRequest(http.MethodGet, "/notifications/"+m.ID.String()+"/attempts", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var attempts []map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &attempts))
	require.Len(t, attempts, 1)
	assert.Equal(t, false, attempts[0]["success"])
	assert.Equal(t, "ServiceUnavailable", attempts[0]["errorCategory"])
}

func TestAttempts_UnknownNotification_Returns404(t *testing.T) {
	store := newFakeStore()
	app := New(store, nil)

	resp, _ := doJSON(t, app, http.MethodGet, "/notifications/"+uuid.New().String()+"/attempts", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReplayDLQ_Success(t *testing.T) {
	store := newFakeStore()
	app := New(store, nil)

	m := outbox.NewMessage("k2", "Fake", "tok", "hi", "there", nil, "", outbox.PriorityNormal, 5, nil)
	m.Status = outbox.StatusDeadLettered
	store.rows[m.ID] = m

	resp, body := doJSON(t, app, http.MethodPost, "/notifications/dlq/"+m.ID.String()+"/replay", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Pending", body["status"])
}

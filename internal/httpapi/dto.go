package httpapi

import (
	"strings"
	"time"

	"github.com/pushrelay/dispatcher/internal/outbox"
)

// ingestRequest is the ingest JSON body. Field names are part of the
// public contract; do not rename the tags.
type ingestRequest struct {
	IdempotencyKey string            `json:"idempotencyKey"`
	TargetPlatform string            `json:"targetPlatform"`
	DeviceToken    string            `json:"deviceToken"`
	Title          string            `json:"title"`
	Body           string            `json:"body"`
	Data           map[string]string `json:"data"`
	Tags           []string          `json:"tags"`
	Priority       string            `json:"priority"`
	ScheduledFor   *time.Time        `json:"scheduledFor"`
}

// ingestResponse is the 202/409 body.
type ingestResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// healthResponse is the `/health` body.
type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// dlqStatsResponse is the DLQ stats body.
type dlqStatsResponse struct {
	Total            int            `json:"total"`
	ByPlatform       map[string]int `json:"byPlatform"`
	OldestUpdatedUTC *time.Time     `json:"oldestUpdatedUtc,omitempty"`
}

// attemptResponse is one row of the audit trail body.
type attemptResponse struct {
	AttemptNumber int       `json:"attemptNumber"`
	Success       bool      `json:"success"`
	ErrorMessage  *string   `json:"errorMessage,omitempty"`
	ErrorCategory *string   `json:"errorCategory,omitempty"`
	DurationMs    int64     `json:"durationMs"`
	AttemptedAt   time.Time `json:"attemptedAt"`
}

func toAttemptResponse(a *outbox.Attempt) attemptResponse {
	resp := attemptResponse{
		AttemptNumber: a.AttemptNumber,
		Success:       a.Success,
		ErrorMessage:  a.ErrorMessage,
		DurationMs:    a.DurationMs,
		AttemptedAt:   a.AttemptedAt,
	}
	if a.ErrorCategory != nil {
		c := string(*a.ErrorCategory)
		resp.ErrorCategory = &c
	}
	return resp
}

func joinTags(tags []string) string {
	return strings.Join(tags, ",")
}

func toMessage(req ingestRequest, idempotencyKey string) *outbox.Message {
	priority := outbox.Priority(req.Priority)
	if priority == "" {
		priority = outbox.PriorityNormal
	}
	return outbox.NewMessage(
		idempotencyKey,
		req.TargetPlatform,
		req.DeviceToken,
		req.Title,
		req.Body,
		outbox.Data(req.Data),
		joinTags(req.Tags),
		priority,
		outbox.DefaultMaxRetries,
		req.ScheduledFor,
	)
}

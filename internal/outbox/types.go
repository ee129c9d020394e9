// Package outbox implements the durable notification table and its state
// machine: the single source of truth shared by the ingest endpoint and
// the dispatcher. No in-process queue sits between them; every
// coordination point is a row in this store.
package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/pushrelay/dispatcher/internal/provider"
)

// Status is the lifecycle state of a Message. Pending and Failed rows are
// claimable; Processing rows belong to exactly one worker; Sent and
// DeadLettered are terminal.
type Status string

const (
	StatusPending      Status = "Pending"
	StatusProcessing   Status = "Processing"
	StatusSent         Status = "Sent"
	StatusFailed       Status = "Failed"
	StatusDeadLettered Status = "DeadLettered"
)

// Priority is an advisory delivery priority.
type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityNormal Priority = "Normal"
	PriorityHigh   Priority = "High"
)

// Data is the opaque string->string mapping carried with a notification,
// persisted as a JSON object.
type Data map[string]string

// Message is the notification aggregate. JSON tags follow the status
// endpoint's response shape; the ingest request shape lives in httpapi.
type Message struct {
	ID                uuid.UUID                 `json:"id"`
	IdempotencyKey    string                    `json:"idempotencyKey"`
	TargetPlatform    string                    `json:"targetPlatform"`
	DeviceToken       string                    `json:"-"`
	Title             string                    `json:"-"`
	Body              string                    `json:"-"`
	Data              Data                      `json:"-"`
	Tags              string                    `json:"-"`
	Priority          Priority                  `json:"-"`
	Status            Status                    `json:"status"`
	RetryCount        int                       `json:"retryCount"`
	MaxRetries        int                       `json:"-"`
	CreatedAt         time.Time                 `json:"createdAt"`
	UpdatedAt         time.Time                 `json:"-"`
	ScheduledFor      *time.Time                `json:"-"`
	SentAt            *time.Time                `json:"sentAt,omitempty"`
	LastAttemptUTC    *time.Time                `json:"-"`
	NextAttemptUTC    *time.Time                `json:"-"`
	LastError         *string                   `json:"errorMessage,omitempty"`
	LastErrorCategory *provider.FailureCategory `json:"-"`
}

// Field-length limits, enforced at ingest and mirrored by the column
// widths in the migrations.
const (
	MaxIdempotencyKeyLen = 256
	MaxPlatformLen       = 50
	MaxDeviceTokenLen    = 1024
	MaxTitleLen          = 512
	MaxBodyLen           = 4096
	MaxTagsLen           = 1024
)

// DefaultMaxRetries is the default retry budget for a new row.
const DefaultMaxRetries = 5

// MarshalDataJSON serializes Data for persistence (nil -> NULL).
func MarshalDataJSON(d Data) ([]byte, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(d)
}

// UnmarshalDataJSON deserializes a persisted JSON object into Data.
func UnmarshalDataJSON(raw []byte) (Data, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var d Data
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	return d, nil
}

// NewMessage builds a new Pending row with server-assigned defaults. The
// caller is responsible for idempotency-key generation when the request
// omitted one.
func NewMessage(idempotencyKey, platform, deviceToken, title, body string, data Data, tags string, priority Priority, maxRetries int, scheduledFor *time.Time) *Message {
	now := time.Now().UTC()
	if priority == "" {
		priority = PriorityNormal
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Message{
		ID:             uuid.New(),
		IdempotencyKey: idempotencyKey,
		TargetPlatform: platform,
		DeviceToken:    deviceToken,
		Title:          title,
		Body:           body,
		Data:           data,
		Tags:           tags,
		Priority:       priority,
		Status:         StatusPending,
		RetryCount:     0,
		MaxRetries:     maxRetries,
		CreatedAt:      now,
		UpdatedAt:      now,
		ScheduledFor:   scheduledFor,
	}
}

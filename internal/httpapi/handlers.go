// Package httpapi implements the ingest, status, health, and DLQ admin
// HTTP surface on top of fiber. Ingest and the admin replay route are the
// only writers here; everything else is read-only.
package httpapi

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/pushrelay/dispatcher/internal/apperror"
	"github.com/pushrelay/dispatcher/internal/idempotency"
	"github.com/pushrelay/dispatcher/internal/outbox"
	"github.com/pushrelay/dispatcher/internal/telemetry"
)

// Handler wires the outbox store and idempotency accelerator into the
// HTTP surface. It never calls a provider: accepting a notification and
// delivering it are decoupled through the outbox alone.
type Handler struct {
	store   outbox.Store
	idem    *idempotency.Checker
	limiter *platformLimiter
}

// NewHandler builds a Handler. idem may be nil (degrades to DB-only
// idempotency enforcement).
func NewHandler(store outbox.Store, idem *idempotency.Checker) *Handler {
	return &Handler{
		store:   store,
		idem:    idem,
		limiter: newPlatformLimiter(50, time.Second),
	}
}

// Ingest implements POST /notifications: validate, enforce idempotency,
// insert a Pending row.
func (h *Handler) Ingest(c *fiber.Ctx) error {
	ctx := c.UserContext()
	logger := telemetry.GetContextualLogger(ctx).WithField("component", "httpapi")

	var req ingestRequest
	if err := c.BodyParser(&req); err != nil {
		return writeAppError(c, apperror.NewValidationError("body", "request body is not valid JSON"))
	}

	if !h.limiter.allow(req.TargetPlatform) {
		return writeAppError(c, apperror.NewRateLimitError(50, "1s"))
	}

	if appErr := validateIngest(req); appErr != nil {
		return writeAppError(c, appErr)
	}

	idempotencyKey := req.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = uuid.New().String()
	}

	if h.idem != nil && h.idem.Seen(ctx, idempotencyKey) {
		if existing, err := h.store.GetByIdempotencyKey(ctx, idempotencyKey); err == nil {
			return writeConflict(c, existing)
		}
		// Cache said "seen" but the DB disagrees (expired or evicted
		// entry); fall through to the authoritative Insert path below.
	}

	msg := toMessage(req, idempotencyKey)
	if err := h.store.Insert(ctx, msg); err != nil {
		if outbox.IsConflict(err) {
			existing, getErr := h.store.GetByIdempotencyKey(ctx, idempotencyKey)
			if getErr != nil {
				return writeAppError(c, apperror.NewDatabaseError("get_by_idempotency_key", getErr))
			}
			return writeConflict(c, existing)
		}
		logger.WithField("error", err.Error()).Error("failed to insert notification")
		return writeAppError(c, apperror.NewDatabaseError("insert", err))
	}

	if h.idem != nil {
		h.idem.Remember(ctx, idempotencyKey)
	}

	return c.Status(fiber.StatusAccepted).JSON(ingestResponse{
		ID:      msg.ID.String(),
		Status:  string(msg.Status),
		Message: "notification accepted",
	})
}

func writeConflict(c *fiber.Ctx, existing *outbox.Message) error {
	return c.Status(fiber.StatusConflict).JSON(ingestResponse{
		ID:      existing.ID.String(),
		Status:  string(existing.Status),
		Message: "idempotency key already used",
	})
}

// Status implements GET /notifications/{id}. The response shape is
// produced directly from outbox.Message's JSON tags.
func (h *Handler) Status(c *fiber.Ctx) error {
	ctx := c.UserContext()

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return writeAppError(c, apperror.NewValidationError("id", "id is not a valid UUID"))
	}

	msg, err := h.store.GetByID(ctx, id)
	if err != nil {
		if outbox.IsNotFound(err) {
			return writeAppError(c, apperror.NewNotFoundError("notification"))
		}
		return writeAppError(c, apperror.NewDatabaseError("get_by_id", err))
	}

	return c.JSON(msg)
}

// Attempts implements GET /notifications/{id}/attempts: the per-attempt
// audit trail for operator triage, oldest first.
func (h *Handler) Attempts(c *fiber.Ctx) error {
	ctx := c.UserContext()

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return writeAppError(c, apperror.NewValidationError("id", "id is not a valid UUID"))
	}

	if _, err := h.store.GetByID(ctx, id); err != nil {
		if outbox.IsNotFound(err) {
			return writeAppError(c, apperror.NewNotFoundError("notification"))
		}
		return writeAppError(c, apperror.NewDatabaseError("get_by_id", err))
	}

	attempts, err := h.store.ListAttempts(ctx, id)
	if err != nil {
		return writeAppError(c, apperror.NewDatabaseError("list_attempts", err))
	}

	out := make([]attemptResponse, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, toAttemptResponse(a))
	}
	return c.JSON(out)
}

// Health implements GET /health.
func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(healthResponse{
		Status:    "Healthy",
		Timestamp: time.Now().UTC(),
	})
}

// ListDLQ implements GET /notifications/dlq, optionally filtered by
// ?platform=.
func (h *Handler) ListDLQ(c *fiber.Ctx) error {
	ctx := c.UserContext()

	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)
	platform := c.Query("platform")

	rows, err := h.store.ListDeadLettered(ctx, platform, limit, offset)
	if err != nil {
		return writeAppError(c, apperror.NewDatabaseError("list_dead_lettered", err))
	}
	return c.JSON(rows)
}

// DLQStats implements GET /notifications/dlq/stats.
func (h *Handler) DLQStats(c *fiber.Ctx) error {
	ctx := c.UserContext()

	stats, err := h.store.DLQStats(ctx)
	if err != nil {
		return writeAppError(c, apperror.NewDatabaseError("dlq_stats", err))
	}
	return c.JSON(dlqStatsResponse{
		Total:            stats.Total,
		ByPlatform:       stats.ByPlatform,
		OldestUpdatedUTC: stats.OldestUpdatedUTC,
	})
}

// ReplayDLQ implements POST /notifications/dlq/{id}/replay, the operator
// path for manually requeueing a dead-lettered notification.
func (h *Handler) ReplayDLQ(c *fiber.Ctx) error {
	ctx := c.UserContext()

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return writeAppError(c, apperror.NewValidationError("id", "id is not a valid UUID"))
	}

	if err := h.store.Replay(ctx, id); err != nil {
		if outbox.IsNotFound(err) {
			return writeAppError(c, apperror.NewNotFoundError("dead-lettered notification"))
		}
		return writeAppError(c, apperror.NewDatabaseError("replay", err))
	}

	return c.JSON(ingestResponse{
		ID:      id.String(),
		Status:  string(outbox.StatusPending),
		Message: "notification requeued for dispatch",
	})
}

func writeAppError(c *fiber.Ctx, appErr *apperror.AppError) error {
	return c.Status(appErr.HTTPStatus).JSON(appErr)
}

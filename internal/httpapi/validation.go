package httpapi

import (
	"github.com/pushrelay/dispatcher/internal/apperror"
	"github.com/pushrelay/dispatcher/internal/outbox"
)

// validateIngest enforces the required-field and field-length rules,
// returning the first violation found.
func validateIngest(req ingestRequest) *apperror.AppError {
	switch {
	case req.TargetPlatform == "":
		return apperror.NewValidationError("targetPlatform", "targetPlatform is required")
	case req.DeviceToken == "":
		return apperror.NewValidationError("deviceToken", "deviceToken is required")
	case req.Title == "":
		return apperror.NewValidationError("title", "title is required")
	}

	switch {
	case len(req.IdempotencyKey) > outbox.MaxIdempotencyKeyLen:
		return apperror.NewValidationError("idempotencyKey", "idempotencyKey exceeds maximum length")
	case len(req.TargetPlatform) > outbox.MaxPlatformLen:
		return apperror.NewValidationError("targetPlatform", "targetPlatform exceeds maximum length")
	case len(req.DeviceToken) > outbox.MaxDeviceTokenLen:
		return apperror.NewValidationError("deviceToken", "deviceToken exceeds maximum length")
	case len(req.Title) > outbox.MaxTitleLen:
		return apperror.NewValidationError("title", "title exceeds maximum length")
	case len(req.Body) > outbox.MaxBodyLen:
		return apperror.NewValidationError("body", "body exceeds maximum length")
	case len(joinTags(req.Tags)) > outbox.MaxTagsLen:
		return apperror.NewValidationError("tags", "tags exceed maximum combined length")
	}

	switch outbox.Priority(req.Priority) {
	case "", outbox.PriorityLow, outbox.PriorityNormal, outbox.PriorityHigh:
	default:
		return apperror.NewValidationError("priority", "priority must be one of Low, Normal, High")
	}

	return nil
}

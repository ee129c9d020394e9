package httpapi

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushrelay/dispatcher/internal/outbox"
)

func validRequest() ingestRequest {
	return ingestRequest{
		TargetPlatform: "Fake",
		DeviceToken:    "tok",
		Title:          "hi",
	}
}

func TestValidateIngest_Valid(t *testing.T) {
	assert.Nil(t, validateIngest(validRequest()))
}

func TestValidateIngest_RequiredFields(t *testing.T) {
	req := validRequest()
	req.TargetPlatform = ""
	require.NotNil(t, validateIngest(req))

	req = validRequest()
	req.DeviceToken = ""
	require.NotNil(t, validateIngest(req))

	req = validRequest()
	req.Title = ""
	require.NotNil(t, validateIngest(req))
}

func TestValidateIngest_LengthLimits(t *testing.T) {
	req := validRequest()
	req.IdempotencyKey = strings.Repeat("k", outbox.MaxIdempotencyKeyLen+1)
	require.NotNil(t, validateIngest(req))

	req = validRequest()
	req.Title = strings.Repeat("t", outbox.MaxTitleLen+1)
	require.NotNil(t, validateIngest(req))

	req = validRequest()
	req.Body = strings.Repeat("b", outbox.MaxBodyLen+1)
	require.NotNil(t, validateIngest(req))

	// At the limit is still fine.
	req = validRequest()
	req.Title = strings.Repeat("t", outbox.MaxTitleLen)
	assert.Nil(t, validateIngest(req))
}

func TestValidateIngest_Priority(t *testing.T) {
	for _, p := range []string{"", "Low", "Normal", "High"} {
		req := validRequest()
		req.Priority = p
		assert.Nil(t, validateIngest(req), "priority %q", p)
	}

	req := validRequest()
	req.Priority = "Urgent"
	require.NotNil(t, validateIngest(req))
}

package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFailureCategory_Retryable(t *testing.T) {
	retryable := []FailureCategory{
		CategoryNetworkError,
		CategoryServiceUnavailable,
		CategoryRateLimited,
		CategoryUnknown,
	}
	terminal := []FailureCategory{
		CategoryInvalidToken,
		CategoryInvalidPayload,
		CategoryUnauthorized,
		CategoryPlatformNotSupported,
	}

	for _, c := range retryable {
		assert.True(t, c.Retryable(), "category %s", c)
	}
	for _, c := range terminal {
		assert.False(t, c.Retryable(), "category %s", c)
	}
}

func TestMapHTTPStatus(t *testing.T) {
	tests := []struct {
		status   int
		expected FailureCategory
	}{
		{400, CategoryInvalidPayload},
		{401, CategoryUnauthorized},
		{404, CategoryInvalidToken},
		{429, CategoryRateLimited},
		{500, CategoryServiceUnavailable},
		{503, CategoryServiceUnavailable},
		{418, CategoryUnknown},
		{502, CategoryUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, MapHTTPStatus(tt.status), "status %d", tt.status)
	}
}

func TestFail_DerivesRetryableFromCategory(t *testing.T) {
	r := Fail("service down", "503", CategoryServiceUnavailable)
	assert.False(t, r.Success)
	assert.True(t, r.Retryable)

	r = Fail("bad token", "404", CategoryInvalidToken)
	assert.False(t, r.Retryable)
}

func TestOk(t *testing.T) {
	r := Ok()
	assert.True(t, r.Success)
	assert.Empty(t, r.Message)
}

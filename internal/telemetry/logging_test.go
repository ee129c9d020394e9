package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCapturedLogger(t *testing.T) (*Logger, *bytes.Buffer) {
	t.Helper()
	logger, err := NewLogger(&LogConfig{Level: DebugLevel, Format: "json"})
	require.NoError(t, err)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	return logger, &buf
}

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestWithContext_CarriesCorrelationID(t *testing.T) {
	logger, buf := newCapturedLogger(t)

	ctx := WithCorrelationID(context.Background(), "corr-1")
	logger.WithContext(ctx).Info("hello")

	entry := lastLine(t, buf)
	assert.Equal(t, "corr-1", entry[FieldCorrelationID])
	assert.Equal(t, "hello", entry["msg"])
}

func TestWithContext_NoCorrelationID(t *testing.T) {
	logger, buf := newCapturedLogger(t)

	logger.WithContext(context.Background()).Info("plain")

	entry := lastLine(t, buf)
	_, present := entry[FieldCorrelationID]
	assert.False(t, present)
}

func TestWithNotification_StampsDispatchFields(t *testing.T) {
	logger, buf := newCapturedLogger(t)

	id := uuid.New()
	logger.WithContext(context.Background()).
		WithNotification(id, "WNS").
		WithField("component", "dispatcher").
		Warn("retrying")

	entry := lastLine(t, buf)
	assert.Equal(t, id.String(), entry[FieldNotificationID])
	assert.Equal(t, "WNS", entry[FieldPlatform])
	assert.Equal(t, "dispatcher", entry["component"])
}

func TestWithCorrelationID_MintsWhenEmpty(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "")
	assert.NotEmpty(t, GetCorrelationID(ctx))
}

func TestNewLogger_UnknownLevelFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger(&LogConfig{Level: "chatty", Format: "json"})
	require.NoError(t, err)

	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.Debug("should be suppressed")
	assert.Zero(t, buf.Len())
}

func TestNewLogger_FileOutputRequiresRotationBudget(t *testing.T) {
	_, err := NewLogger(&LogConfig{Level: InfoLevel, Format: "json", Output: "/tmp/pushrelay-test.log"})
	assert.Error(t, err)
}

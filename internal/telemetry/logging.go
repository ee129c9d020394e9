package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel selects the minimum severity that gets emitted.
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

// Shared field keys. Every component logs the dispatch context under the
// same names so one query over the log pipeline follows a notification
// from ingest through its final state.
const (
	FieldCorrelationID  = "correlation_id"
	FieldTraceID        = "trace_id"
	FieldSpanID         = "span_id"
	FieldNotificationID = "notification_id"
	FieldPlatform       = "platform"
)

// LogConfig holds the logging configuration for one binary.
type LogConfig struct {
	Level  LogLevel
	Format string // "json" or "text"
	Output string // "stdout", "stderr", or a file path (rotated)

	// Rotation settings, used only when Output is a file path.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DefaultLogConfig returns the configuration both binaries start from
// when nothing else is set: info-level JSON on stdout.
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Level:      InfoLevel,
		Format:     "json",
		Output:     "stdout",
		MaxSizeMB:  100,
		MaxBackups: 3,
		MaxAgeDays: 28,
	}
}

var logrusLevels = map[LogLevel]logrus.Level{
	DebugLevel: logrus.DebugLevel,
	InfoLevel:  logrus.InfoLevel,
	WarnLevel:  logrus.WarnLevel,
	ErrorLevel: logrus.ErrorLevel,
}

// Logger is the service-wide structured logger.
type Logger struct {
	*logrus.Logger
}

// NewLogger builds a Logger from config. File outputs always rotate; a
// dispatcher left running for months must not fill a disk with its own
// poll chatter.
func NewLogger(config *LogConfig) (*Logger, error) {
	if config == nil {
		config = DefaultLogConfig()
	}

	logger := logrus.New()

	level, ok := logrusLevels[config.Level]
	if !ok {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if config.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	}

	output, err := openOutput(config)
	if err != nil {
		return nil, err
	}
	logger.SetOutput(output)

	return &Logger{Logger: logger}, nil
}

func openOutput(config *LogConfig) (io.Writer, error) {
	switch config.Output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	default:
		if config.MaxSizeMB <= 0 {
			return nil, fmt.Errorf("log file %q requires a positive MaxSizeMB", config.Output)
		}
		return &lumberjack.Logger{
			Filename:   config.Output,
			MaxSize:    config.MaxSizeMB,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAgeDays,
			Compress:   true,
		}, nil
	}
}

// ContextualLogger is a logrus entry pre-loaded with the correlation and
// trace identifiers found in a context. Chaining methods keep the type so
// call sites can keep adding fields.
type ContextualLogger struct {
	*logrus.Entry
}

// WithContext derives a ContextualLogger carrying whatever correlation
// and trace identifiers ctx holds.
func (l *Logger) WithContext(ctx context.Context) *ContextualLogger {
	fields := logrus.Fields{}

	if id := GetCorrelationID(ctx); id != "" {
		fields[FieldCorrelationID] = id
	}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields[FieldTraceID] = sc.TraceID().String()
		fields[FieldSpanID] = sc.SpanID().String()
	}

	return &ContextualLogger{Entry: l.Logger.WithFields(fields)}
}

// WithField adds a single field.
func (cl *ContextualLogger) WithField(key string, value interface{}) *ContextualLogger {
	return &ContextualLogger{Entry: cl.Entry.WithField(key, value)}
}

// WithFields adds several fields at once.
func (cl *ContextualLogger) WithFields(fields map[string]interface{}) *ContextualLogger {
	return &ContextualLogger{Entry: cl.Entry.WithFields(logrus.Fields(fields))}
}

// WithNotification stamps the entry with the dispatch identifiers every
// per-row log line carries.
func (cl *ContextualLogger) WithNotification(id uuid.UUID, platform string) *ContextualLogger {
	return cl.WithFields(map[string]interface{}{
		FieldNotificationID: id.String(),
		FieldPlatform:       platform,
	})
}

type correlationIDKey struct{}

// WithCorrelationID returns a context carrying the given correlation ID,
// minting one when the caller has none.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	if correlationID == "" {
		correlationID = NewCorrelationID()
	}
	return context.WithValue(ctx, correlationIDKey{}, correlationID)
}

// GetCorrelationID returns the context's correlation ID, or "".
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return id
	}
	return ""
}

// NewCorrelationID mints a fresh correlation ID.
func NewCorrelationID() string {
	return uuid.NewString()
}

var globalLogger *Logger

// InitGlobalLogger installs the process-wide logger. Called once from
// main before anything else logs.
func InitGlobalLogger(config *LogConfig) error {
	logger, err := NewLogger(config)
	if err != nil {
		return err
	}
	globalLogger = logger
	return nil
}

// GetGlobalLogger returns the process-wide logger, falling back to the
// default configuration when main never installed one (tests mostly).
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		logger, _ := NewLogger(DefaultLogConfig())
		globalLogger = logger
	}
	return globalLogger
}

// GetContextualLogger returns the global logger bound to ctx's
// correlation and trace identifiers.
func GetContextualLogger(ctx context.Context) *ContextualLogger {
	return GetGlobalLogger().WithContext(ctx)
}

package httpapi

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/pushrelay/dispatcher/internal/telemetry"
)

const instrumentationName = "github.com/pushrelay/dispatcher/httpapi"

// observability instruments every request: a correlation ID on the
// request context, a span per request, and request count/duration
// metrics. Handlers pull the contextual logger from c.UserContext(), so
// every log line they emit carries the same correlation and trace IDs.
func observability() fiber.Handler {
	tracer := otel.Tracer(instrumentationName)
	meter := otel.Meter(instrumentationName)

	requestsTotal, _ := meter.Int64Counter("http_requests_total",
		metric.WithDescription("HTTP requests served"))
	requestDuration, _ := meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("s"))

	return func(c *fiber.Ctx) error {
		correlationID := c.Get("X-Correlation-ID")
		if correlationID == "" {
			correlationID = telemetry.NewCorrelationID()
		}

		ctx := telemetry.WithCorrelationID(c.UserContext(), correlationID)
		ctx, span := tracer.Start(ctx, c.Method()+" "+c.Path(),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Method()),
				attribute.String("http.target", c.Path()),
			),
		)
		defer span.End()

		c.SetUserContext(ctx)
		c.Set("X-Correlation-ID", correlationID)

		start := time.Now()
		err := c.Next()
		elapsed := time.Since(start)

		status := c.Response().StatusCode()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= 500 {
			span.SetStatus(codes.Error, "server error")
		}

		attrs := metric.WithAttributes(
			attribute.String("method", c.Method()),
			attribute.String("path", c.Path()),
			attribute.Int("status", status),
		)
		requestsTotal.Add(ctx, 1, attrs)
		requestDuration.Record(ctx, elapsed.Seconds(), attrs)

		return err
	}
}

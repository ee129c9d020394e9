package dispatcher

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func platformAttr(platform string) attribute.KeyValue {
	return attribute.String("platform", platform)
}

func categoryAttr(category string) attribute.KeyValue {
	return attribute.String("failure_category", category)
}

// metrics wraps the OTel instruments the dispatcher emits: outcome
// counters keyed by platform and failure category, plus a provider
// latency histogram.
type metrics struct {
	sentTotal         metric.Int64Counter
	failedTotal       metric.Int64Counter
	deadLetteredTotal metric.Int64Counter
	providerLatency   metric.Float64Histogram
}

func newMetrics() *metrics {
	meter := otel.Meter("github.com/pushrelay/dispatcher/dispatcher")

	sentTotal, _ := meter.Int64Counter("dispatch_sent_total",
		metric.WithDescription("notifications transitioned to Sent"))
	failedTotal, _ := meter.Int64Counter("dispatch_failed_total",
		metric.WithDescription("notifications transitioned to Failed (scheduled for retry)"))
	deadLetteredTotal, _ := meter.Int64Counter("dispatch_deadlettered_total",
		metric.WithDescription("notifications transitioned to DeadLettered"))
	providerLatency, _ := meter.Float64Histogram("dispatch_provider_latency_seconds",
		metric.WithDescription("provider Send call latency"),
		metric.WithUnit("s"))

	return &metrics{
		sentTotal:         sentTotal,
		failedTotal:       failedTotal,
		deadLetteredTotal: deadLetteredTotal,
		providerLatency:   providerLatency,
	}
}

func (m *metrics) recordSent(ctx context.Context, platform string) {
	m.sentTotal.Add(ctx, 1, metric.WithAttributes(platformAttr(platform)))
}

func (m *metrics) recordFailed(ctx context.Context, platform string, category string) {
	m.failedTotal.Add(ctx, 1, metric.WithAttributes(platformAttr(platform), categoryAttr(category)))
}

func (m *metrics) recordDeadLettered(ctx context.Context, platform string, category string) {
	m.deadLetteredTotal.Add(ctx, 1, metric.WithAttributes(platformAttr(platform), categoryAttr(category)))
}

func (m *metrics) recordProviderLatency(ctx context.Context, platform string, seconds float64) {
	m.providerLatency.Record(ctx, seconds, metric.WithAttributes(platformAttr(platform)))
}

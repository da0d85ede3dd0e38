// ABOUTME: OpenTelemetry instruments for the conversation router
// ABOUTME: One span per exchange plus counters by intent and for collaborator failures

package conversation

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/2389/trio-gateway/internal/conversation"

type telemetry struct {
	tracer    trace.Tracer
	exchanges metric.Int64Counter
	failures  metric.Int64Counter
	latency   metric.Float64Histogram
}

func newTelemetry(logger *slog.Logger) *telemetry {
	meter := otel.Meter(instrumentationName)
	t := &telemetry{tracer: otel.Tracer(instrumentationName)}

	var err error
	if t.exchanges, err = meter.Int64Counter("conversation.exchanges",
		metric.WithDescription("Messages processed by the router, by intent")); err != nil {
		logger.Warn("failed to create exchanges counter", "error", err)
	}
	if t.failures, err = meter.Int64Counter("conversation.collaborator_failures",
		metric.WithDescription("Generation calls that failed after the fallback retry")); err != nil {
		logger.Warn("failed to create failures counter", "error", err)
	}
	if t.latency, err = meter.Float64Histogram("conversation.exchange_duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Time to produce an assistant reply")); err != nil {
		logger.Warn("failed to create latency histogram", "error", err)
	}
	return t
}

func (t *telemetry) start(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "conversation.process",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
}

func (t *telemetry) recordExchange(ctx context.Context, intent Intent, failed bool, ms float64) {
	attrs := metric.WithAttributes(
		attribute.String("intent", string(intent)),
		attribute.Bool("failed", failed),
	)
	if t.exchanges != nil {
		t.exchanges.Add(ctx, 1, attrs)
	}
	if t.latency != nil {
		t.latency.Record(ctx, ms, attrs)
	}
}

func (t *telemetry) recordFailure(ctx context.Context, intent Intent) {
	if t.failures != nil {
		t.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("intent", string(intent))))
	}
}

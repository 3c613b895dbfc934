package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Outcome is the terminal state of one governed request.
type Outcome string

// Governor outcomes.
const (
	OutcomeAllowed       Outcome = "allowed"
	OutcomeFiltered      Outcome = "filtered"
	OutcomeRedacted      Outcome = "redacted"
	OutcomeEmptyInput    Outcome = "empty_input"
	OutcomeTooLong       Outcome = "too_long"
	OutcomeRateLimited   Outcome = "rate_limited"
	OutcomeProviderError Outcome = "provider_error"
)

var (
	metricsOnce           sync.Once
	metricsInitErr        error
	requestCounter        metric.Int64Counter
	rateLimitedCounter    metric.Int64Counter
	filteredCounter       metric.Int64Counter
	providerErrorCounter  metric.Int64Counter
	providerLatencyMillis metric.Float64Histogram
)

// GovernorMetrics captures the fields needed to record one governed request.
type GovernorMetrics struct {
	Outcome Outcome
	// ProviderKind classifies provider failures; empty otherwise.
	ProviderKind string
	// ProviderDuration is zero when the provider was not called.
	ProviderDuration time.Duration
}

// RecordGovernorMetrics emits counters and histograms for a governed request.
func RecordGovernorMetrics(ctx context.Context, m GovernorMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("governor.outcome", string(m.Outcome)),
	}

	requestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if m.ProviderDuration > 0 {
		providerLatencyMillis.Record(ctx, float64(m.ProviderDuration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}

	switch m.Outcome {
	case OutcomeRateLimited:
		rateLimitedCounter.Add(ctx, 1)
	case OutcomeFiltered:
		filteredCounter.Add(ctx, 1)
	case OutcomeProviderError:
		providerErrorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider.error_kind", m.ProviderKind),
		))
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("companion.governor")

		requestCounter, metricsInitErr = meter.Int64Counter(
			"companion.governor.requests_total",
			metric.WithDescription("Governed requests partitioned by outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		rateLimitedCounter, metricsInitErr = meter.Int64Counter(
			"companion.governor.rate_limited_total",
			metric.WithDescription("Requests rejected by the sliding rate window"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		filteredCounter, metricsInitErr = meter.Int64Counter(
			"companion.governor.filtered_total",
			metric.WithDescription("Responses replaced by the refusal message"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		providerErrorCounter, metricsInitErr = meter.Int64Counter(
			"companion.provider.errors_total",
			metric.WithDescription("Upstream provider failures by kind"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		providerLatencyMillis, metricsInitErr = meter.Float64Histogram(
			"companion.provider.duration_ms",
			metric.WithDescription("Observed upstream provider latency"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}

// RecordGovernorDecision annotates span with the outcome of a governed request
// and adds a security event when the response was withheld. Nothing about the
// message or reply content is attached.
func RecordGovernorDecision(span trace.Span, outcome Outcome, findings int) {
	if span == nil || !span.IsRecording() {
		return
	}

	span.SetAttributes(attribute.String("governor.outcome", string(outcome)))

	if outcome == OutcomeFiltered {
		span.AddEvent("security.event", trace.WithAttributes(
			attribute.Bool("security.blocked", true),
			attribute.String("security.block_reason", "denylist"),
			attribute.Int("security.findings.count", findings),
		))
	}
}

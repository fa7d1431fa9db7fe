package telemetry

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "atomws.engine"

var (
	metricsOnce       sync.Once
	metricsInitErr    error
	hopCounter        metric.Int64Counter
	hopFailureCounter metric.Int64Counter
	hopLatency        metric.Float64Histogram
	jobCounter        metric.Int64Counter
	jobTimeoutCounter metric.Int64Counter
)

// HopMetrics describes one atom execution.
type HopMetrics struct {
	AtomType string
	AtomID   string
	// Advance is the routing decision taken ("stop", "next", "into").
	Advance  string
	Duration time.Duration
	Failed   bool
}

// RecordHopMetrics emits counters and the latency histogram for a hop.
func RecordHopMetrics(ctx context.Context, m HopMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("atom.type", m.AtomType),
		attribute.String("atom.id", m.AtomID),
		attribute.String("atom.advance", m.Advance),
	)

	hopCounter.Add(ctx, 1, attrs)
	if m.Duration > 0 {
		hopLatency.Record(ctx, float64(m.Duration)/float64(time.Millisecond), attrs)
	}
	if m.Failed {
		hopFailureCounter.Add(ctx, 1, attrs)
	}
}

// JobMetrics describes a released job.
type JobMetrics struct {
	Status   int
	TimedOut bool
}

// RecordJobMetrics counts a released job by status class.
func RecordJobMetrics(ctx context.Context, m JobMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("http.status_class", statusClass(m.Status)))
	jobCounter.Add(ctx, 1, attrs)
	if m.TimedOut {
		jobTimeoutCounter.Add(ctx, 1)
	}
}

func statusClass(status int) string {
	if status < 100 || status > 999 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter(meterName)

		hopCounter, metricsInitErr = meter.Int64Counter(
			"atomws.hop.executions_total",
			metric.WithDescription("Atom executions partitioned by routing decision"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		hopFailureCounter, metricsInitErr = meter.Int64Counter(
			"atomws.hop.failures_total",
			metric.WithDescription("Atom executions that raised a routing failure"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		hopLatency, metricsInitErr = meter.Float64Histogram(
			"atomws.hop.duration_ms",
			metric.WithDescription("Observed atom execution latency"),
			metric.WithUnit("ms"),
		)
		if metricsInitErr != nil {
			return
		}

		jobCounter, metricsInitErr = meter.Int64Counter(
			"atomws.job.released_total",
			metric.WithDescription("Released jobs partitioned by status class"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		jobTimeoutCounter, metricsInitErr = meter.Int64Counter(
			"atomws.job.timed_out_total",
			metric.WithDescription("Jobs released because their deadline fired"),
			metric.WithUnit("{count}"),
		)
	})

	return metricsInitErr
}

package task

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/phrazzld/avmerge/internal/task"

type runnerMetrics struct {
	submitted metric.Int64Counter
	rejected  metric.Int64Counter
	finished  metric.Int64Counter
	duration  metric.Float64Histogram
}

// newRunnerMetrics registers instruments on the global meter provider, which
// is a no-op until telemetry is set up.
func newRunnerMetrics() (*runnerMetrics, error) {
	meter := otel.Meter(instrumentationName)

	submitted, err := meter.Int64Counter("avmerge.tasks.submitted",
		metric.WithDescription("Tasks accepted for processing"),
		metric.WithUnit("{task}"))
	if err != nil {
		return nil, err
	}
	rejected, err := meter.Int64Counter("avmerge.tasks.rejected",
		metric.WithDescription("Submissions refused because the queue was full or closed"),
		metric.WithUnit("{task}"))
	if err != nil {
		return nil, err
	}
	finished, err := meter.Int64Counter("avmerge.tasks.finished",
		metric.WithDescription("Tasks that reached a terminal status"),
		metric.WithUnit("{task}"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("avmerge.task.duration",
		metric.WithDescription("Time from processing start to terminal status"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &runnerMetrics{
		submitted: submitted,
		rejected:  rejected,
		finished:  finished,
		duration:  duration,
	}, nil
}

func (m *runnerMetrics) recordSubmitted(ctx context.Context, mode string) {
	m.submitted.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}

func (m *runnerMetrics) recordRejected(ctx context.Context, mode string) {
	m.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}

func (m *runnerMetrics) recordFinished(ctx context.Context, mode, status string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("status", status))
	m.finished.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}

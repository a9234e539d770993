package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// JobMetrics holds the orchestrator instruments. Instruments are created from
// the global meter provider, so they are no-ops until Init installs one.
type JobMetrics struct {
	started   otelmetric.Int64Counter
	finished  otelmetric.Int64Counter
	coalesced otelmetric.Int64Counter
	duration  otelmetric.Float64Histogram
}

// NewJobMetrics creates the job instruments.
func NewJobMetrics() (*JobMetrics, error) {
	meter := otel.Meter(instrumentationName)

	started, err := meter.Int64Counter("trendmind_jobs_started_total",
		otelmetric.WithDescription("Jobs moved to running"))
	if err != nil {
		return nil, err
	}
	finished, err := meter.Int64Counter("trendmind_jobs_finished_total",
		otelmetric.WithDescription("Jobs reaching a terminal status"))
	if err != nil {
		return nil, err
	}
	coalesced, err := meter.Int64Counter("trendmind_jobs_coalesced_total",
		otelmetric.WithDescription("Triggers dropped because a job of the same kind was in flight"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("trendmind_job_duration_seconds",
		otelmetric.WithDescription("Job run time"),
		otelmetric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &JobMetrics{started: started, finished: finished, coalesced: coalesced, duration: duration}, nil
}

// Started records a job start.
func (m *JobMetrics) Started(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.started.Add(ctx, 1, otelmetric.WithAttributes(KindAttr(kind)))
}

// Finished records a terminal status and the run time.
func (m *JobMetrics) Finished(ctx context.Context, kind, status string, took time.Duration) {
	if m == nil {
		return
	}
	attrs := otelmetric.WithAttributes(KindAttr(kind), attribute.String("job.status", status))
	m.finished.Add(ctx, 1, attrs)
	m.duration.Record(ctx, took.Seconds(), attrs)
}

// Coalesced records a dropped trigger.
func (m *JobMetrics) Coalesced(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.coalesced.Add(ctx, 1, otelmetric.WithAttributes(KindAttr(kind)))
}

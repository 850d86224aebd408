package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/kilnworks/kiln/ext"
	"github.com/kilnworks/kiln/id"
	"github.com/kilnworks/kiln/task"
)

// meterName is the instrumentation scope name for lifecycle counters.
const meterName = "github.com/kilnworks/kiln/observability"

// Compile-time interface checks.
var (
	_ ext.Extension     = (*MetricsExtension)(nil)
	_ ext.TaskEnqueued  = (*MetricsExtension)(nil)
	_ ext.TaskCompleted = (*MetricsExtension)(nil)
	_ ext.TaskFailed    = (*MetricsExtension)(nil)
	_ ext.TaskRetrying  = (*MetricsExtension)(nil)
	_ ext.PeriodicFired = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle counters via OpenTelemetry.
// Register it as an engine extension to automatically track enqueue rates,
// completion counts, terminal failures, retries, and periodic fires.
//
// These are coarse engine-level counters; for per-execution latency
// histograms see middleware.Metrics.
type MetricsExtension struct {
	TaskEnqueued  metric.Int64Counter
	TaskCompleted metric.Int64Counter
	TaskFailed    metric.Int64Counter
	TaskRetried   metric.Int64Counter
	PeriodicFired metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider. If no provider is configured the counters are noops.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter. Use a sdkmetric.MeterProvider meter in tests.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	// On error the OTel API returns noop instruments, so the extension
	// degrades gracefully.
	enqueued, _ := meter.Int64Counter("kiln.task.enqueued",
		metric.WithDescription("Total tasks enqueued"),
		metric.WithUnit("{task}"),
	)
	completed, _ := meter.Int64Counter("kiln.task.completed",
		metric.WithDescription("Total tasks completed successfully"),
		metric.WithUnit("{task}"),
	)
	failed, _ := meter.Int64Counter("kiln.task.failed",
		metric.WithDescription("Total tasks failed terminally"),
		metric.WithUnit("{task}"),
	)
	retried, _ := meter.Int64Counter("kiln.task.retried",
		metric.WithDescription("Total task retry attempts scheduled"),
		metric.WithUnit("{retry}"),
	)
	fired, _ := meter.Int64Counter("kiln.periodic.fired",
		metric.WithDescription("Total periodic entry firings"),
		metric.WithUnit("{firing}"),
	)

	return &MetricsExtension{
		TaskEnqueued:  enqueued,
		TaskCompleted: completed,
		TaskFailed:    failed,
		TaskRetried:   retried,
		PeriodicFired: fired,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnTaskEnqueued implements ext.TaskEnqueued.
func (m *MetricsExtension) OnTaskEnqueued(ctx context.Context, _ *task.Task) error {
	m.TaskEnqueued.Add(ctx, 1)
	return nil
}

// OnTaskCompleted implements ext.TaskCompleted.
func (m *MetricsExtension) OnTaskCompleted(ctx context.Context, _ *task.Task, _ time.Duration) error {
	m.TaskCompleted.Add(ctx, 1)
	return nil
}

// OnTaskFailed implements ext.TaskFailed.
func (m *MetricsExtension) OnTaskFailed(ctx context.Context, _ *task.Task, _ error) error {
	m.TaskFailed.Add(ctx, 1)
	return nil
}

// OnTaskRetrying implements ext.TaskRetrying.
func (m *MetricsExtension) OnTaskRetrying(ctx context.Context, _ *task.Task, _ int, _ time.Time) error {
	m.TaskRetried.Add(ctx, 1)
	return nil
}

// OnPeriodicFired implements ext.PeriodicFired.
func (m *MetricsExtension) OnPeriodicFired(ctx context.Context, _ string, _ id.TaskID) error {
	m.PeriodicFired.Add(ctx, 1)
	return nil
}

// Package observability provides an OpenTelemetry-based lifecycle metrics
// extension for kiln. The MetricsExtension implements lifecycle hooks to
// record system-wide counters for task enqueue, completion, failure, retry,
// and periodic-fire events.
//
// For per-execution tracing and latency metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability

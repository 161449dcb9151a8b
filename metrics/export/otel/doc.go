// Package otel binds engine counters and the latency histogram to an
// OpenTelemetry meter.
//
// [NewOTelExporter] registers an Int64ObservableCounter per counter and an
// Int64ObservableGauge per histogram bucket. A single callback reads
// MetricsSnapshot on each collection. Callers own the MeterProvider.
package otel

// Package otel publishes engine counters as OpenTelemetry observable
// instruments and can push them on a fixed interval through a MeterProvider
// whose exporter writes one structured log record per collection.
package otel

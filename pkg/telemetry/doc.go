// Package telemetry wires OpenTelemetry tracing and meters plus the Prometheus
// registry for the companion service.
//
// It centralises trace provider setup, records governor outcomes and provider
// latency as OpenTelemetry instruments, annotates spans with admission and
// filtering decisions, and exposes HTTP request metrics in Prometheus format.
package telemetry

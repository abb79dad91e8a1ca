// Package observability provides structured logging, Prometheus metrics,
// health probes, OpenTelemetry tracing setup and graceful shutdown for the
// stacks service.
//
// The consistency-warning counter deserves a note: when a best-effort
// remote delete fails after the local transaction has committed, the
// managers report it here instead of failing the request. Operators watch
// stacks_consistency_warnings_total to find orphaned remote resources that
// need out-of-band cleanup.
package observability

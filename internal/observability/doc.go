// Package observability provides structured logging and metrics for the
// RAG gateway.
//
// This package implements:
//   - zap logger construction from configuration
//   - Prometheus collectors for the query pipeline
//
// A nil *Metrics is valid and records nothing, so services can be
// constructed without instrumentation in tests.
package observability

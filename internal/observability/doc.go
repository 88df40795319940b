// Package observability provides structured logging and Prometheus metrics
// for the model control plane.
//
// Loggers are plain *zap.Logger values built from configuration; request-scoped
// fields are attached by FromContext. Metrics are exposed through the Metrics
// interface so components can be tested with NopMetrics.
package observability

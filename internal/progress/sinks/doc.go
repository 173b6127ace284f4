// Package sinks contains progress.Sink implementations for logging and
// Prometheus metrics.
package sinks

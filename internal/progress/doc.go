// Package progress provides the event primitives, non-blocking hub, and emitter
// interface that the pool driver and its workers use to report a scrape run.
// The hub batches events on a background goroutine and fans them out to
// pluggable sinks such as structured logs or Prometheus collectors.
package progress

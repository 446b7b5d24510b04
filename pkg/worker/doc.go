// Package worker provides a generic, thread-safe worker pool for concurrent
// task processing.
//
// The pool manages a fixed number of goroutines that drain a bounded queue.
// Submit is non-blocking and reports ErrQueueFull as a backpressure signal.
// RunBatch submits a set of items with blocking sends and waits for every
// item in the set to complete, which gives pipeline stages a per-batch
// completion barrier before they move to the next unit of work.
//
// Statistics are always tracked with atomic counters. Prometheus metrics are
// opt-in via WithMetricsRegistry and expose queue depth, utilization,
// submitted/processed/failed/dropped totals, and a processing duration
// histogram labeled by status.
//
// Worker count is fixed at construction. There is no per-item timeout or
// priority ordering; implement those in the processor function if needed.
package worker

// Package orchestrator runs bulk compliance audits as background tasks.
//
// # Lifecycle
//
// A task moves through
//
//	pending → running → completed | failed
//
// Submit registers the task in pending and returns its id at once. A
// discovery step then resolves candidate product URLs (SubmitURLs supplies
// them directly), sets Total and moves the task to running. Discovery that
// errors, panics or finds nothing aborts the task into failed with a
// TaskAbort message. Once workers have run, the task always ends completed:
// per-product failures are counted, never escalated.
//
// # Concurrency
//
// Each task audits its products on a fixed pool of Config.Workers
// goroutines. Workers report through a single short critical section that
// increments a counter and appends a result or an error message, so
// Completed+Failed never exceeds Total and equals it once the task is
// terminal. The error list is capped at Config.ErrorDisplayCap entries; the
// Failed counter is not.
//
// Every product audit runs under Config.ProductTimeout. A timeout is a
// product failure. Cancel stops new audits from starting but leaves
// in-flight ones running; products that never started are counted as
// failed and the snapshot is marked Cancelled.
//
// # Observation
//
// Status and List return copies and never block on workers. Task events
// are published as JSON on <prefix>.<task_id>.{started,progress,completed,failed}
// when a NATS connection is configured, and Metrics exposes Prometheus
// counters for tasks and products.
package orchestrator

// Package workers implements the worker pool for background runs.
//
// The worker pool manages a fixed number of goroutines that:
//   - Take queued tasks (asynchronously submitted runs)
//   - Run them with a context cancelled on shutdown
//   - Survive panicking tasks
//
// The health monitor tracks worker status, logs it and reports it to
// metrics and to the gRPC health service.
package workers

// Package orchestrator runs stored job documents for the service.
//
// The manager:
//   - Validates documents before storing or running them
//   - Loads a fresh Maestro per run, so results never leak between runs
//   - Tracks active runs for listing and cancellation
//   - Queues background runs on the worker pool
//
// The validator checks document structure, catalog references and
// depends_on references, including static dependency cycles.
package orchestrator

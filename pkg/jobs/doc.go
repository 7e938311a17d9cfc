// Package jobs implements the executable units run by the orchestrator.
//
// Four variants satisfy the Job interface:
//   - CallableJob: an in-process Func called on the calling goroutine
//   - AsyncCallableJob: an AsyncFunc driven on a private Scheduler
//   - ScriptJob: an external script (subprocess) or a registered module
//   - JobPool: members sharing a parallel group, run concurrently or in order
//
// Every variant caches its result after the first successful Execute. Later
// calls return the cached value and emit a Warning instead of running again.
//
// Arguments may hold DependsOn and Resource markers. They are resolved at
// execution time, right before the body runs:
//
//	job, err := jobs.New(jobs.TypeCallable, "add", add,
//	    jobs.WithArgs(jobs.DependsOn{Name: "five"}),
//	    jobs.WithKwargs(map[string]any{"b": jobs.DependsOn{Name: "four"}}))
//
// String references ("pkg.Func", "./scripts/cleanup.sh") are resolved through
// a Resolver. Catalog is the in-memory implementation.
package jobs

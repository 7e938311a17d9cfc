package maestro

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aescanero/maestro/pkg/jobs"
	"github.com/aescanero/maestro/pkg/ports"
)

type chainKey struct{}

// withChain records name as being resolved on ctx
func withChain(ctx context.Context, name string) context.Context {
	chain := dependencyChain(ctx)
	return context.WithValue(ctx, chainKey{}, append(slices.Clip(chain), name))
}

func dependencyChain(ctx context.Context) []string {
	chain, _ := ctx.Value(chainKey{}).([]string)
	return chain
}

// Execute runs every execution unit in order and returns their results.
// The first failing unit aborts the run.
func (m *Maestro) Execute(ctx context.Context) ([]any, error) {
	units := m.registry.Units()
	start := time.Now()

	m.logger.Info("starting run",
		zap.Int("jobs", m.registry.Len()),
		zap.Int("units", len(units)))
	m.publish(ctx, ports.TopicRuns, ports.EventRunStarted, "", map[string]any{
		"jobs":  m.registry.Len(),
		"units": len(units),
	})

	results := make([]any, 0, len(units))
	for _, unit := range units {
		if err := ctx.Err(); err != nil {
			return nil, m.failRun(ctx, start, err)
		}

		unitCtx := ctx
		if _, isPool := unit.(*jobs.JobPool); !isPool {
			unitCtx = withChain(ctx, unit.Name())
		}
		result, err := m.executeJob(unitCtx, unit)
		if err != nil {
			return nil, m.failRun(ctx, start, err)
		}
		results = append(results, result)
	}

	duration := time.Since(start)
	m.metrics.RecordRun("completed", duration)
	m.publish(ctx, ports.TopicRuns, ports.EventRunCompleted, "", map[string]any{
		"duration_ms": duration.Milliseconds(),
	})
	m.logger.Info("run completed", zap.Duration("duration", duration))

	return results, nil
}

func (m *Maestro) failRun(ctx context.Context, start time.Time, err error) error {
	duration := time.Since(start)
	m.metrics.RecordRun("failed", duration)
	m.publish(ctx, ports.TopicRuns, ports.EventRunFailed, "", map[string]any{
		"error":       err.Error(),
		"duration_ms": duration.Milliseconds(),
	})
	m.logger.Error("run failed", zap.Error(err), zap.Duration("duration", duration))
	return err
}

// Resolve returns the result of the named job, executing it first when it
// has not completed. It implements jobs.DependencyResolver.
//
// A member of a grouped pool never records completion itself. Its result
// is kept per orchestrator instead, so the body runs once whether the pool
// or a dependent gets to it first.
func (m *Maestro) Resolve(ctx context.Context, name string) (any, error) {
	chain := dependencyChain(ctx)
	if slices.Contains(chain, name) {
		return nil, cycleError(chain, name)
	}

	job, err := m.registry.Lookup(name)
	if err != nil {
		return nil, err
	}

	member := m.isPoolMember(job)
	if member {
		if result, ok := m.memberResult(job); ok {
			return result, nil
		}
	} else if job.IsCompleted() {
		return job.Result(), nil
	}

	var requestedBy string
	if len(chain) > 0 {
		requestedBy = chain[len(chain)-1]
	}
	m.logger.Debug("executing dependency early",
		zap.String("job", name),
		zap.String("requested_by", requestedBy))
	m.metrics.IncDependencyTriggered()
	m.publish(ctx, ports.TopicJobs, ports.EventDependencyTriggered, name, map[string]any{
		"requested_by": requestedBy,
	})

	if member {
		return jobs.RunMember(ctx, m.env, job)
	}
	return m.executeJob(withChain(ctx, name), job)
}

func cycleError(chain []string, name string) error {
	return fmt.Errorf("%w: %s -> %s", ErrDependencyCycle, strings.Join(chain, " -> "), name)
}

// memberRun holds the outcome of one pool member body
type memberRun struct {
	mu     sync.Mutex
	done   bool
	result any
}

// isPoolMember reports whether job only runs inside a grouped pool
func (m *Maestro) isPoolMember(job jobs.Job) bool {
	return !slices.Contains(m.registry.Units(), job)
}

func (m *Maestro) memberState(job jobs.Job) *memberRun {
	m.membersMu.Lock()
	defer m.membersMu.Unlock()
	r, ok := m.members[job]
	if !ok {
		r = &memberRun{}
		m.members[job] = r
	}
	return r
}

func (m *Maestro) memberResult(job jobs.Job) (any, bool) {
	r := m.memberState(job)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.done
}

// RunMember runs a pool member body at most once per orchestrator. It
// implements jobs.MemberRunner.
func (m *Maestro) RunMember(ctx context.Context, job jobs.Job, run func(ctx context.Context) (any, error)) (any, error) {
	name := job.Name()
	if chain := dependencyChain(ctx); slices.Contains(chain, name) {
		return nil, cycleError(chain, name)
	}

	r := m.memberState(job)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return r.result, nil
	}

	result, err := run(withChain(ctx, name))
	if err != nil {
		return nil, err
	}
	r.done, r.result = true, result
	return result, nil
}

func (m *Maestro) executeJob(ctx context.Context, job jobs.Job) (any, error) {
	if job.IsCompleted() {
		// cached result; Execute emits the re-run warning
		return job.Execute(ctx, m.env)
	}

	jobType := string(job.Type())
	start := time.Now()
	m.publish(ctx, ports.TopicJobs, ports.EventJobStarted, job.Name(), map[string]any{
		"type": jobType,
	})

	result, err := job.Execute(ctx, m.env)
	duration := time.Since(start)
	if err != nil {
		m.metrics.RecordJob(jobType, "failed", duration)
		m.publish(ctx, ports.TopicJobs, ports.EventJobFailed, job.Name(), map[string]any{
			"type":  jobType,
			"error": err.Error(),
		})
		m.logger.Error("job failed",
			zap.String("job", job.Name()),
			zap.String("type", jobType),
			zap.Error(err))
		return nil, err
	}

	m.metrics.RecordJob(jobType, "completed", duration)
	m.publish(ctx, ports.TopicJobs, ports.EventJobCompleted, job.Name(), map[string]any{
		"type":        jobType,
		"duration_ms": duration.Milliseconds(),
	})
	m.logger.Debug("job completed",
		zap.String("job", job.Name()),
		zap.Duration("duration", duration))

	return result, nil
}

func (m *Maestro) onWarning(w jobs.Warning) {
	m.logger.Warn(w.Message, zap.String("job", w.Job))

	jobType := string(jobs.TypePool)
	if job, err := m.registry.Lookup(w.Job); err == nil {
		jobType = string(job.Type())
	}
	m.metrics.IncRerunWarnings(jobType)
	m.publish(context.Background(), ports.TopicJobs, ports.EventJobRerun, w.Job, map[string]any{
		"message": w.Message,
	})

	if m.warnings != nil {
		m.warnings(w)
	}
}

// publish is best effort; a failing bus never fails the run
func (m *Maestro) publish(ctx context.Context, topic string, typ ports.EventType, job string, data map[string]any) {
	if m.events == nil {
		return
	}
	event := ports.Event{
		ID:        uuid.New().String(),
		Type:      typ,
		RunID:     m.runID,
		Job:       job,
		Timestamp: time.Now(),
		Data:      data,
	}
	if err := m.events.Publish(ctx, topic, event); err != nil {
		m.logger.Warn("failed to publish event",
			zap.String("type", string(typ)),
			zap.Error(err))
	}
}

type nopMetrics struct{}

func (nopMetrics) RecordRun(string, time.Duration)         {}
func (nopMetrics) RecordJob(string, string, time.Duration) {}
func (nopMetrics) IncRerunWarnings(string)                 {}
func (nopMetrics) IncDependencyTriggered()                 {}
func (nopMetrics) SetActiveRuns(int)                       {}

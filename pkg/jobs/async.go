package jobs

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// AsyncCallableJob drives an AsyncFunc on a private Scheduler. Execute
// blocks until the function and every subtask it spawned have returned.
type AsyncCallableJob struct {
	common
	fn  AsyncFunc
	ref string
}

func newAsyncCallableJob(name string, executable any, o Options) (*AsyncCallableJob, error) {
	var fn AsyncFunc
	switch e := executable.(type) {
	case string:
		if o.Resolver == nil {
			return nil, fmt.Errorf("%w: cannot import '%s'", ErrNoResolver, e)
		}
		f, err := o.Resolver.ResolveAsync(e)
		if err != nil {
			return nil, &TypeError{Job: name, Want: TypeAsyncCallable, Got: e, Err: err}
		}
		fn = f
	default:
		f, ok := asAsync(executable)
		if !ok {
			err := ErrUnsupportedExecutable
			if _, isSync := asFunc(executable); isSync {
				err = ErrNotAsync
			}
			return nil, &TypeError{Job: name, Want: TypeAsyncCallable, Got: fmt.Sprintf("%T", executable), Err: err}
		}
		fn = f
	}

	return &AsyncCallableJob{
		common: newCommon(name, o),
		fn:     fn,
		ref:    executableRef(executable),
	}, nil
}

// NewAsyncCallableJob creates an async job. A synchronous Func is rejected
// with a *TypeError wrapping ErrNotAsync.
func NewAsyncCallableJob(name string, executable any, opts ...Option) (*AsyncCallableJob, error) {
	if name == "" {
		name = DefaultName(executable)
	}
	if name == "" {
		return nil, ErrEmptyName
	}
	return newAsyncCallableJob(name, executable, NewOptions(opts...))
}

// Type returns TypeAsyncCallable
func (j *AsyncCallableJob) Type() Type {
	return TypeAsyncCallable
}

// Execute runs the function once
func (j *AsyncCallableJob) Execute(ctx context.Context, env *Env) (any, error) {
	return j.once(env, j.name, func() (any, error) {
		return j.run(ctx, env)
	})
}

func (j *AsyncCallableJob) run(ctx context.Context, env *Env) (any, error) {
	return invoke(ctx, env, j.args, j.kwargs, func(in Input) (any, error) {
		s := NewScheduler(ctx)
		result, err := j.fn(s.Context(), s, in)
		if err != nil {
			s.cancel()
		}
		if werr := s.Wait(); err == nil && werr != nil {
			return nil, werr
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	})
}

// Definition describes the job for serialization
func (j *AsyncCallableJob) Definition() Definition {
	return j.definition(TypeAsyncCallable, j.ref)
}

// Scheduler runs the subtasks of one async job. The first failing subtask
// cancels the scheduler context.
type Scheduler struct {
	g      *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler bound to ctx
func NewScheduler(ctx context.Context) *Scheduler {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	return &Scheduler{g: g, ctx: gctx, cancel: cancel}
}

// Context is cancelled when a subtask fails or the job returns
func (s *Scheduler) Context() context.Context {
	return s.ctx
}

// Go starts fn as a subtask
func (s *Scheduler) Go(fn func(ctx context.Context) (any, error)) *Task {
	t := &Task{done: make(chan struct{})}
	s.g.Go(func() error {
		defer close(t.done)
		t.value, t.err = fn(s.ctx)
		return t.err
	})
	return t
}

// Wait blocks until every subtask has returned
func (s *Scheduler) Wait() error {
	err := s.g.Wait()
	s.cancel()
	return err
}

// Task is the handle of a running subtask
type Task struct {
	done  chan struct{}
	value any
	err   error
}

// Done is closed when the subtask returns
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Result blocks until the subtask returns
func (t *Task) Result() (any, error) {
	<-t.done
	return t.value, t.err
}

// Await is Result with cancellation
func (t *Task) Await(ctx context.Context) (any, error) {
	select {
	case <-t.done:
		return t.value, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Gather awaits tasks in order and returns their values
func Gather(ctx context.Context, tasks ...*Task) ([]any, error) {
	values := make([]any, len(tasks))
	for i, t := range tasks {
		v, err := t.Await(ctx)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

package jobs

import (
	"context"
	"fmt"
)

// CallableJob runs a Func on the calling goroutine
type CallableJob struct {
	common
	fn  Func
	ref string
}

func newCallableJob(name string, executable any, o Options) (*CallableJob, error) {
	var fn Func
	switch e := executable.(type) {
	case string:
		if o.Resolver == nil {
			return nil, fmt.Errorf("%w: cannot import '%s'", ErrNoResolver, e)
		}
		f, err := o.Resolver.ResolveFunc(e)
		if err != nil {
			return nil, err
		}
		fn = f
	default:
		f, ok := asFunc(executable)
		if !ok {
			return nil, &TypeError{Job: name, Want: TypeCallable, Got: fmt.Sprintf("%T", executable), Err: ErrUnsupportedExecutable}
		}
		fn = f
	}

	return &CallableJob{
		common: newCommon(name, o),
		fn:     fn,
		ref:    executableRef(executable),
	}, nil
}

// NewCallableJob creates a callable job from a Func or a catalog reference
func NewCallableJob(name string, executable any, opts ...Option) (*CallableJob, error) {
	if name == "" {
		name = DefaultName(executable)
	}
	if name == "" {
		return nil, ErrEmptyName
	}
	return newCallableJob(name, executable, NewOptions(opts...))
}

// Type returns TypeCallable
func (j *CallableJob) Type() Type {
	return TypeCallable
}

// Execute runs the function once
func (j *CallableJob) Execute(ctx context.Context, env *Env) (any, error) {
	return j.once(env, j.name, func() (any, error) {
		return j.run(ctx, env)
	})
}

func (j *CallableJob) run(ctx context.Context, env *Env) (any, error) {
	return invoke(ctx, env, j.args, j.kwargs, func(in Input) (any, error) {
		return j.fn(ctx, in)
	})
}

// Definition describes the job for serialization
func (j *CallableJob) Definition() Definition {
	return j.definition(TypeCallable, j.ref)
}

// TypeError reports an executable that does not fit the requested variant
type TypeError struct {
	Job  string
	Want Type
	Got  string
	Err  error
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("job %s: %v (want %s, got %s)", e.Job, e.Err, e.Want, e.Got)
}

func (e *TypeError) Unwrap() error {
	return e.Err
}

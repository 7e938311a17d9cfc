package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Type identifies a job variant
type Type string

const (
	TypeCallable      Type = "callable"
	TypeAsyncCallable Type = "async_callable"
	TypeScript        Type = "script"
	TypePool          Type = "pool"
)

// Job errors
var (
	ErrUnknownType           = errors.New("unknown job type")
	ErrEmptyName             = errors.New("job name is required")
	ErrUnsupportedExecutable = errors.New("unsupported executable")
	ErrNoResolver            = errors.New("no dependency resolver available")
)

// ParseType validates a job type tag
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypeCallable, TypeAsyncCallable, TypeScript, TypePool:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q (must be callable, async_callable, script or pool)", ErrUnknownType, s)
	}
}

// Job is the capability set shared by every executable unit.
type Job interface {
	// Name is unique within a registry.
	Name() string

	// Type reports the variant tag.
	Type() Type

	// ParallelGroup is the group key, or "" when the job is not grouped.
	ParallelGroup() string

	// Result is nil until the first successful Execute.
	Result() any

	// IsCompleted reports whether Execute has succeeded once.
	IsCompleted() bool

	// Execute runs the job once and caches the result. Later calls return
	// the cached result and emit a Warning through env.
	Execute(ctx context.Context, env *Env) (any, error)

	// Definition describes the job for serialization.
	Definition() Definition
}

// DependencyResolver returns the result of the named job, executing it
// first if it has not completed yet.
type DependencyResolver interface {
	Resolve(ctx context.Context, name string) (any, error)
}

// Warning is a non-fatal signal emitted during execution.
type Warning struct {
	Job     string
	Message string
}

func (w Warning) String() string {
	return w.Message
}

// WarningHandler receives warnings. It must not block.
type WarningHandler func(Warning)

// Env carries the collaborators a job needs while executing. A nil Env is
// valid: dependency markers then fail with ErrNoResolver and warnings are
// logged through the global zap logger.
type Env struct {
	Deps      DependencyResolver
	OnWarning WarningHandler
	Logger    *zap.Logger
	// Members, when set, runs pool members. A pool member's body then runs
	// at most once even when it is also resolved as a dependency.
	Members MemberRunner
}

// MemberRunner runs a pool member's body. run executes the body without
// touching the member's completion state.
type MemberRunner interface {
	RunMember(ctx context.Context, job Job, run func(ctx context.Context) (any, error)) (any, error)
}

func (e *Env) logger() *zap.Logger {
	if e == nil || e.Logger == nil {
		return zap.L()
	}
	return e.Logger
}

func (e *Env) warn(w Warning) {
	if e != nil && e.OnWarning != nil {
		e.OnWarning(w)
		return
	}
	e.logger().Warn(w.Message, zap.String("job", w.Job))
}

func (e *Env) resolve(ctx context.Context, name string) (any, error) {
	if e == nil || e.Deps == nil {
		return nil, fmt.Errorf("%w: depends on '%s'", ErrNoResolver, name)
	}
	return e.Deps.Resolve(ctx, name)
}

// runner runs the job body without touching completion state. Pools use it
// so that members stay addressable only through the pool.
type runner interface {
	run(ctx context.Context, env *Env) (any, error)
}

// state implements the idempotent execution contract.
type state struct {
	exec sync.Mutex // held for the whole execution

	mu        sync.RWMutex
	completed bool
	result    any
}

// Result returns the cached result
func (s *state) Result() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result
}

// IsCompleted reports whether the job has run successfully
func (s *state) IsCompleted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.completed
}

func (s *state) once(env *Env, name string, fn func() (any, error)) (any, error) {
	s.exec.Lock()
	defer s.exec.Unlock()

	if s.IsCompleted() {
		env.warn(Warning{
			Job:     name,
			Message: fmt.Sprintf("'%s' was called but the job has already been completed.", name),
		})
		return s.Result(), nil
	}

	result, err := fn()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.result = result
	s.completed = true
	s.mu.Unlock()

	return result, nil
}

// common holds the fields shared by leaf jobs
type common struct {
	state

	name   string
	group  string
	args   []any
	kwargs map[string]any
}

func newCommon(name string, o Options) common {
	c := common{
		name:  name,
		group: o.ParallelGroup,
	}
	if len(o.Args) > 0 {
		c.args = append([]any(nil), o.Args...)
	}
	if len(o.Kwargs) > 0 {
		c.kwargs = make(map[string]any, len(o.Kwargs))
		for k, v := range o.Kwargs {
			c.kwargs[k] = v
		}
	}
	return c
}

// Name returns the job name
func (c *common) Name() string {
	return c.name
}

// ParallelGroup returns the group key
func (c *common) ParallelGroup() string {
	return c.group
}

// Args returns a copy of the positional arguments, markers included
func (c *common) Args() []any {
	return append([]any(nil), c.args...)
}

// Kwargs returns a copy of the named arguments, markers included
func (c *common) Kwargs() map[string]any {
	out := make(map[string]any, len(c.kwargs))
	for k, v := range c.kwargs {
		out[k] = v
	}
	return out
}

func (c *common) definition(typ Type, executable string) Definition {
	return Definition{
		Name:          c.name,
		Type:          typ,
		Executable:    executable,
		Args:          c.Args(),
		Kwargs:        c.kwargs,
		ParallelGroup: c.group,
	}
}

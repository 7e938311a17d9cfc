package jobs

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// PoolMode selects how a pool runs its members
type PoolMode string

const (
	// ModeConcurrent runs members at the same time and collects results in
	// submission order.
	ModeConcurrent PoolMode = "concurrent"
	// ModeAsSubmitted runs members one after another.
	ModeAsSubmitted PoolMode = "as_submitted"
)

// Pool errors
var (
	ErrEmptyPool       = errors.New("pool requires at least one member")
	ErrGroupMismatch   = errors.New("pool members must share one parallel group")
	ErrDuplicateMember = errors.New("duplicate pool member")
	ErrInvalidMode     = errors.New("invalid pool mode")
)

// ParsePoolMode validates a mode string. Empty means ModeConcurrent.
func ParsePoolMode(s string) (PoolMode, error) {
	switch m := PoolMode(s); m {
	case "":
		return ModeConcurrent, nil
	case ModeConcurrent, ModeAsSubmitted:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// JobPool groups jobs that share a parallel group. The pool is the
// executable unit; members run without recording their own completion.
type JobPool struct {
	state

	name       string
	members    []Job
	mode       PoolMode
	maxWorkers int
}

// NewPool creates a pool. Every member must carry the same non-empty
// parallel group, which becomes the pool name.
func NewPool(members ...Job) (*JobPool, error) {
	if len(members) == 0 {
		return nil, ErrEmptyPool
	}
	key := members[0].ParallelGroup()
	if key == "" {
		return nil, fmt.Errorf("%w: %s has no parallel group", ErrGroupMismatch, members[0].Name())
	}
	seen := make(map[string]struct{}, len(members))
	for _, m := range members {
		if m.ParallelGroup() != key {
			return nil, fmt.Errorf("%w: %s is in %q, want %q", ErrGroupMismatch, m.Name(), m.ParallelGroup(), key)
		}
		if _, dup := seen[m.Name()]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateMember, m.Name())
		}
		seen[m.Name()] = struct{}{}
	}

	return &JobPool{
		name:    key,
		members: append([]Job(nil), members...),
		mode:    ModeConcurrent,
	}, nil
}

// Name returns the group key
func (p *JobPool) Name() string {
	return p.name
}

// Type returns TypePool
func (p *JobPool) Type() Type {
	return TypePool
}

// ParallelGroup returns the group key
func (p *JobPool) ParallelGroup() string {
	return p.name
}

// Members returns the members in submission order
func (p *JobPool) Members() []Job {
	return append([]Job(nil), p.members...)
}

// Mode returns the default execution mode
func (p *JobPool) Mode() PoolMode {
	return p.mode
}

// SetMode changes the default execution mode
func (p *JobPool) SetMode(mode PoolMode) error {
	m, err := ParsePoolMode(string(mode))
	if err != nil {
		return err
	}
	p.mode = m
	return nil
}

// SetMaxWorkers bounds concurrent members. Zero means unbounded.
func (p *JobPool) SetMaxWorkers(n int) {
	if n < 0 {
		n = 0
	}
	p.maxWorkers = n
}

// Execute runs the pool once in its default mode
func (p *JobPool) Execute(ctx context.Context, env *Env) (any, error) {
	return p.ExecuteMode(ctx, env, p.mode)
}

// ExecuteMode runs the pool once in the given mode. The result is a []any
// holding member results in submission order.
func (p *JobPool) ExecuteMode(ctx context.Context, env *Env, mode PoolMode) (any, error) {
	mode, err := ParsePoolMode(string(mode))
	if err != nil {
		return nil, err
	}
	return p.once(env, p.name, func() (any, error) {
		if mode == ModeAsSubmitted {
			return p.runInOrder(ctx, env)
		}
		return p.runConcurrently(ctx, env)
	})
}

func (p *JobPool) runInOrder(ctx context.Context, env *Env) (any, error) {
	results := make([]any, 0, len(p.members))
	for _, m := range p.members {
		v, err := runMember(ctx, env, m)
		if err != nil {
			return nil, err
		}
		results = append(results, v)
	}
	return results, nil
}

// runConcurrently waits for every member before surfacing the first error
func (p *JobPool) runConcurrently(ctx context.Context, env *Env) (any, error) {
	results := make([]any, len(p.members))
	g, gctx := errgroup.WithContext(ctx)
	if p.maxWorkers > 0 {
		g.SetLimit(p.maxWorkers)
	}
	for i, m := range p.members {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &PanicError{Job: m.Name(), Value: r}
				}
			}()
			v, err := runMember(gctx, env, m)
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func runMember(ctx context.Context, env *Env, m Job) (any, error) {
	run := func(ctx context.Context) (any, error) {
		if r, ok := m.(runner); ok {
			return r.run(ctx, env)
		}
		return m.Execute(ctx, env)
	}
	if env != nil && env.Members != nil {
		return env.Members.RunMember(ctx, m, run)
	}
	return run(ctx)
}

// RunMember runs a pool member on its own, the way its pool would
func RunMember(ctx context.Context, env *Env, m Job) (any, error) {
	return runMember(ctx, env, m)
}

// Definition describes the pool and its members
func (p *JobPool) Definition() Definition {
	def := Definition{
		Name:          p.name,
		Type:          TypePool,
		ParallelGroup: p.name,
		Mode:          p.mode,
		MaxWorkers:    p.maxWorkers,
		Members:       make([]Definition, 0, len(p.members)),
	}
	for _, m := range p.members {
		def.Members = append(def.Members, m.Definition())
	}
	return def
}

// Equal reports whether both pools have the same name and the same member
// jobs in the same order.
func (p *JobPool) Equal(other *JobPool) bool {
	if p == other {
		return true
	}
	if p == nil || other == nil || p.name != other.name || len(p.members) != len(other.members) {
		return false
	}
	for i := range p.members {
		if p.members[i] != other.members[i] {
			return false
		}
	}
	return true
}

// PanicError wraps a panic raised by a pool member
type PanicError struct {
	Job   string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("job %s panicked: %v", e.Job, e.Value)
}

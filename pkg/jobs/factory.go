package jobs

import (
	"errors"
	"fmt"
)

// Definition is the serializable form of a job. Executable holds a catalog
// reference or a script path. Args and Kwargs carry markers in their JSON
// shape.
type Definition struct {
	Name          string         `json:"name"`
	Type          Type           `json:"job_type"`
	Executable    string         `json:"executable,omitempty"`
	Args          []any          `json:"args,omitempty"`
	Kwargs        map[string]any `json:"kwargs,omitempty"`
	ParallelGroup string         `json:"parallel_group,omitempty"`
	Mode          PoolMode       `json:"mode,omitempty"`
	MaxWorkers    int            `json:"max_workers,omitempty"`
	Members       []Definition   `json:"members,omitempty"`
}

// Options collects construction settings
type Options struct {
	Name          string
	Type          Type
	Args          []any
	Kwargs        map[string]any
	ParallelGroup string
	Resolver      Resolver
	ScriptRunner  *ScriptRunner
}

// Option configures job construction
type Option func(*Options)

// NewOptions applies opts in order
func NewOptions(opts ...Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithName sets the job name
func WithName(name string) Option {
	return func(o *Options) { o.Name = name }
}

// WithType sets the variant. Required when the executable is a string.
func WithType(t Type) Option {
	return func(o *Options) { o.Type = t }
}

// WithArgs sets positional arguments. Values may be markers.
func WithArgs(args ...any) Option {
	return func(o *Options) { o.Args = args }
}

// WithKwargs sets named arguments. Values may be markers.
func WithKwargs(kwargs map[string]any) Option {
	return func(o *Options) { o.Kwargs = kwargs }
}

// WithParallelGroup sets the group key
func WithParallelGroup(group string) Option {
	return func(o *Options) { o.ParallelGroup = group }
}

// WithResolver sets the resolver used for string references
func WithResolver(r Resolver) Option {
	return func(o *Options) { o.Resolver = r }
}

// WithScriptRunner overrides the subprocess runner of script jobs
func WithScriptRunner(r *ScriptRunner) Option {
	return func(o *Options) { o.ScriptRunner = r }
}

// ErrMissingType is returned when a string executable has no job type
var ErrMissingType = errors.New("parameter 'job_type' is required when registering a job by string path")

// New builds a job of the given variant. An empty typ is inferred from the
// executable's Go type; string executables need an explicit type. An empty
// name falls back to the declared function name or the string reference.
func New(typ Type, name string, executable any, opts ...Option) (Job, error) {
	o := NewOptions(opts...)
	if typ == "" {
		typ = o.Type
	}
	if name == "" {
		name = o.Name
	}
	if typ == "" {
		inferred, err := InferType(executable)
		if err != nil {
			return nil, err
		}
		typ = inferred
	}
	if name == "" {
		name = DefaultName(executable)
	}
	if name == "" {
		return nil, ErrEmptyName
	}

	switch typ {
	case TypeCallable:
		return newCallableJob(name, executable, o)
	case TypeAsyncCallable:
		return newAsyncCallableJob(name, executable, o)
	case TypeScript:
		return newScriptJob(name, executable, o)
	case TypePool:
		return nil, fmt.Errorf("%w: pools are built with NewPool", ErrUnsupportedExecutable)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
}

// InferType derives the variant from a function value
func InferType(executable any) (Type, error) {
	if _, ok := executable.(string); ok {
		return "", fmt.Errorf("%w (got executable='%s')", ErrMissingType, executable)
	}
	if _, ok := asFunc(executable); ok {
		return TypeCallable, nil
	}
	if _, ok := asAsync(executable); ok {
		return TypeAsyncCallable, nil
	}
	if _, ok := asModule(executable); ok {
		return TypeScript, nil
	}
	return "", fmt.Errorf("%w: %T", ErrUnsupportedExecutable, executable)
}

// DefaultName returns the name a job gets when none is given
func DefaultName(executable any) string {
	if s, ok := executable.(string); ok {
		return s
	}
	return ShortName(FuncName(executable))
}

// FromDefinition rebuilds a job from its serialized form. Marker shapes in
// args and kwargs are decoded back into DependsOn and Resource values.
func FromDefinition(def Definition, opts ...Option) (Job, error) {
	o := NewOptions(opts...)

	if def.Type == TypePool {
		members := make([]Job, 0, len(def.Members))
		for _, md := range def.Members {
			m, err := FromDefinition(md, opts...)
			if err != nil {
				return nil, fmt.Errorf("failed to load pool member %s: %w", md.Name, err)
			}
			members = append(members, m)
		}
		pool, err := NewPool(members...)
		if err != nil {
			return nil, err
		}
		if def.Mode != "" {
			if err := pool.SetMode(def.Mode); err != nil {
				return nil, err
			}
		}
		pool.SetMaxWorkers(def.MaxWorkers)
		return pool, nil
	}

	if _, err := ParseType(string(def.Type)); err != nil {
		return nil, err
	}

	args := make([]any, len(def.Args))
	for i, a := range def.Args {
		v, err := DecodeValue(a, o.Resolver)
		if err != nil {
			return nil, fmt.Errorf("failed to decode argument %d of %s: %w", i, def.Name, err)
		}
		args[i] = v
	}
	var kwargs map[string]any
	if len(def.Kwargs) > 0 {
		kwargs = make(map[string]any, len(def.Kwargs))
		for k, kv := range def.Kwargs {
			v, err := DecodeValue(kv, o.Resolver)
			if err != nil {
				return nil, fmt.Errorf("failed to decode argument %s of %s: %w", k, def.Name, err)
			}
			kwargs[k] = v
		}
	}

	opts = append(opts,
		WithArgs(args...),
		WithKwargs(kwargs),
		WithParallelGroup(def.ParallelGroup),
	)
	return New(def.Type, def.Name, def.Executable, opts...)
}

func executableRef(executable any) string {
	if s, ok := executable.(string); ok {
		return s
	}
	return FuncName(executable)
}

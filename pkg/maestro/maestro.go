// Package maestro registers jobs, resolves their dependencies and runs them
// in a single pass.
//
// A Maestro owns one registry. Jobs run in registration order, except that
// a job referenced through a DependsOn marker runs as soon as a dependent
// needs it. Adjacent jobs sharing a parallel group run together as a pool.
//
//	m, _ := maestro.New(maestro.WithLogger(logger))
//	m.Add(five)
//	m.Add(four)
//	m.Add(add, jobs.WithKwargs(map[string]any{
//	    "a": jobs.DependsOn{Name: "five"},
//	    "b": jobs.DependsOn{Name: "four"},
//	}))
//	results, err := m.Execute(ctx) // [5 4 9]
package maestro

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aescanero/maestro/pkg/jobs"
	"github.com/aescanero/maestro/pkg/ports"
	"github.com/aescanero/maestro/pkg/registry"
)

// Maestro is the orchestrator facade
type Maestro struct {
	registry *registry.Registry
	catalog  *jobs.Catalog
	runner   *jobs.ScriptRunner
	events   ports.EventBus
	metrics  ports.MetricsCollector
	logger   *zap.Logger
	runID    string
	warnings jobs.WarningHandler
	env      *jobs.Env

	membersMu sync.Mutex
	members   map[jobs.Job]*memberRun
}

type settings struct {
	logger     *zap.Logger
	catalog    *jobs.Catalog
	runner     *jobs.ScriptRunner
	events     ports.EventBus
	metrics    ports.MetricsCollector
	runID      string
	warnings   jobs.WarningHandler
	poolMode   jobs.PoolMode
	maxWorkers int
}

// Option configures a Maestro
type Option func(*settings)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithCatalog sets the resolver for string references
func WithCatalog(c *jobs.Catalog) Option {
	return func(s *settings) { s.catalog = c }
}

// WithScriptRunner sets the runner used by script jobs
func WithScriptRunner(r *jobs.ScriptRunner) Option {
	return func(s *settings) { s.runner = r }
}

// WithEventBus publishes lifecycle events to bus
func WithEventBus(bus ports.EventBus) Option {
	return func(s *settings) { s.events = bus }
}

// WithMetrics records metrics through m
func WithMetrics(m ports.MetricsCollector) Option {
	return func(s *settings) { s.metrics = m }
}

// WithRunID sets the identifier attached to events
func WithRunID(id string) Option {
	return func(s *settings) { s.runID = id }
}

// WithWarningHandler receives re-run warnings in addition to the log
func WithWarningHandler(h jobs.WarningHandler) Option {
	return func(s *settings) { s.warnings = h }
}

// WithPoolMode sets the mode of pools built from grouped jobs
func WithPoolMode(mode jobs.PoolMode) Option {
	return func(s *settings) { s.poolMode = mode }
}

// WithMaxWorkers bounds concurrent members of grouped pools
func WithMaxWorkers(n int) Option {
	return func(s *settings) { s.maxWorkers = n }
}

// New creates an empty orchestrator
func New(opts ...Option) (*Maestro, error) {
	s := settings{}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.catalog == nil {
		s.catalog = jobs.NewCatalog()
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	if s.runID == "" {
		s.runID = uuid.New().String()
	}

	reg, _ := registry.New()
	if err := reg.SetPoolDefaults(s.poolMode, s.maxWorkers); err != nil {
		return nil, &ConfigError{Op: "new", Err: err}
	}

	m := &Maestro{
		registry: reg,
		catalog:  s.catalog,
		runner:   s.runner,
		events:   s.events,
		metrics:  s.metrics,
		logger:   s.logger.With(zap.String("run_id", s.runID)),
		runID:    s.runID,
		warnings: s.warnings,
		members:  make(map[jobs.Job]*memberRun),
	}
	m.env = &jobs.Env{
		Deps:      m,
		OnWarning: m.onWarning,
		Logger:    m.logger,
		Members:   m,
	}
	return m, nil
}

// RunID returns the identifier attached to events
func (m *Maestro) RunID() string {
	return m.runID
}

// Registry exposes the underlying registry
func (m *Maestro) Registry() *registry.Registry {
	return m.registry
}

// Catalog returns the resolver used for string references
func (m *Maestro) Catalog() *jobs.Catalog {
	return m.catalog
}

// Add builds a job from executable and registers it. A function value gets
// its variant from its signature and its name from its declaration; a
// string reference needs jobs.WithType. Declared functions are also added
// to the catalog so that a serialized document loads back with it.
func (m *Maestro) Add(executable any, opts ...jobs.Option) (jobs.Job, error) {
	o := jobs.NewOptions(opts...)
	if s, ok := executable.(string); ok && o.Type == "" {
		return nil, &ConfigError{Op: "add", Err: fmt.Errorf("%w (got executable='%s')", jobs.ErrMissingType, s)}
	}

	opts = append([]jobs.Option{
		jobs.WithResolver(m.catalog),
		jobs.WithScriptRunner(m.runner),
	}, opts...)
	job, err := jobs.New(o.Type, o.Name, executable, opts...)
	if err != nil {
		return nil, err
	}
	if err := m.AddJob(job); err != nil {
		return nil, err
	}
	if ref := jobs.FuncName(executable); ref != "" && !jobs.IsClosure(ref) {
		_ = m.catalog.Register(executable)
	}
	return job, nil
}

// MustAdd is like Add but panics on error
func (m *Maestro) MustAdd(executable any, opts ...jobs.Option) jobs.Job {
	job, err := m.Add(executable, opts...)
	if err != nil {
		panic(err)
	}
	return job
}

// AddJob registers an already built job or pool
func (m *Maestro) AddJob(job jobs.Job) error {
	if err := m.registry.Append(job); err != nil {
		return err
	}
	m.logger.Debug("job registered",
		zap.String("job", job.Name()),
		zap.String("type", string(job.Type())),
		zap.String("parallel_group", job.ParallelGroup()))
	return nil
}

// Wrap registers fn as a callable job and returns fn unchanged, so a
// package-level function can be declared and registered in one statement.
func Wrap(m *Maestro, fn jobs.Func, opts ...jobs.Option) jobs.Func {
	m.MustAdd(fn, append(opts, jobs.WithType(jobs.TypeCallable))...)
	return fn
}

package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aescanero/maestro/internal/application/workers"
	"github.com/aescanero/maestro/pkg/jobs"
	"github.com/aescanero/maestro/pkg/maestro"
	"github.com/aescanero/maestro/pkg/ports"
)

// Run errors
var (
	ErrRunNotFound  = errors.New("run not found")
	ErrRunExists    = errors.New("run already exists")
	ErrRunFinished  = errors.New("run already finished")
	ErrNoDispatcher = errors.New("background runs are not enabled")
	ErrRunTimeout   = errors.New("run timeout")
)

// RunStatus is the lifecycle state of a run
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether the run has finished
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// RunInfo describes a tracked run
type RunInfo struct {
	ID         string    `json:"run_id"`
	Definition string    `json:"definition,omitempty"`
	Status     RunStatus `json:"status"`
	QueuedAt   time.Time `json:"queued_at"`
	StartedAt  time.Time `json:"started_at,omitempty"`
}

// RunResult is the outcome of a finished run
type RunResult struct {
	ID          string        `json:"run_id"`
	Definition  string        `json:"definition,omitempty"`
	Status      RunStatus     `json:"status"`
	Results     []any         `json:"results,omitempty"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration_ns"`
}

// Dispatcher queues work for background execution
type Dispatcher interface {
	Submit(ctx context.Context, task workers.Task) error
}

// Settings holds run defaults
type Settings struct {
	RunTimeout   time.Duration
	PoolMode     jobs.PoolMode
	MaxWorkers   int
	ScriptRunner *jobs.ScriptRunner
}

// Manager stores job documents and runs them
type Manager struct {
	store      ports.DefinitionStore
	catalog    *jobs.Catalog
	eventBus   ports.EventBus
	metrics    ports.MetricsCollector
	validator  *Validator
	logger     *zap.Logger
	settings   Settings
	dispatcher Dispatcher

	// Track active runs
	runs sync.Map // map[string]*run
}

// run holds state for a single tracked run
type run struct {
	mu        sync.RWMutex
	info      RunInfo
	ctx       context.Context
	cancel    context.CancelFunc
	cancelled bool
}

func (r *run) snapshot() RunInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.info
}

// NewManager creates a new orchestrator manager. eventBus and metrics may
// be nil.
func NewManager(
	store ports.DefinitionStore,
	catalog *jobs.Catalog,
	eventBus ports.EventBus,
	metrics ports.MetricsCollector,
	validator *Validator,
	logger *zap.Logger,
	settings Settings,
) *Manager {
	if catalog == nil {
		catalog = jobs.NewCatalog()
	}
	if validator == nil {
		validator = NewValidator(catalog)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:     store,
		catalog:   catalog,
		eventBus:  eventBus,
		metrics:   metrics,
		validator: validator,
		logger:    logger,
		settings:  settings,
	}
}

// SetDispatcher enables background runs through d
func (m *Manager) SetDispatcher(d Dispatcher) {
	m.dispatcher = d
}

// SaveDefinition validates doc and stores it under name
func (m *Manager) SaveDefinition(ctx context.Context, name string, doc *maestro.Document) error {
	if name == "" {
		return fmt.Errorf("%w: definition name is required", ErrInvalidDocument)
	}
	if err := m.validator.Validate(doc); err != nil {
		m.logger.Warn("definition validation failed",
			zap.String("definition", name),
			zap.Error(err))
		return err
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode definition: %w", err)
	}
	if err := m.store.Save(ctx, name, data); err != nil {
		return fmt.Errorf("failed to save definition: %w", err)
	}

	m.logger.Info("definition saved",
		zap.String("definition", name),
		zap.Int("jobs", len(doc.Jobs)))
	return nil
}

// GetDefinition loads the document stored under name
func (m *Manager) GetDefinition(ctx context.Context, name string) (*maestro.Document, error) {
	data, err := m.store.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	return maestro.DecodeDocument(bytes.NewReader(data))
}

// ListDefinitions returns stored definition names
func (m *Manager) ListDefinitions(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// DeleteDefinition removes a stored definition
func (m *Manager) DeleteDefinition(ctx context.Context, name string) error {
	if err := m.store.Delete(ctx, name); err != nil {
		return err
	}
	m.logger.Info("definition deleted", zap.String("definition", name))
	return nil
}

// Run executes the stored definition and waits for it. An empty runID is
// replaced by a generated one.
func (m *Manager) Run(ctx context.Context, name, runID string) (*RunResult, error) {
	doc, err := m.GetDefinition(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := m.validator.Validate(doc); err != nil {
		return nil, err
	}

	r, err := m.track(ctx, runID, name)
	if err != nil {
		return nil, err
	}
	return m.execute(r, doc)
}

// RunDocument validates and executes doc without storing it
func (m *Manager) RunDocument(ctx context.Context, runID string, doc *maestro.Document) (*RunResult, error) {
	if err := m.validator.Validate(doc); err != nil {
		return nil, err
	}

	r, err := m.track(ctx, runID, "")
	if err != nil {
		return nil, err
	}
	return m.execute(r, doc)
}

// Submit queues the stored definition for a background run and returns
// the run ID. Results are reported through run events.
func (m *Manager) Submit(ctx context.Context, name string) (string, error) {
	if m.dispatcher == nil {
		return "", ErrNoDispatcher
	}
	doc, err := m.GetDefinition(ctx, name)
	if err != nil {
		return "", err
	}
	if err := m.validator.Validate(doc); err != nil {
		return "", err
	}

	// The run outlives the submitting request
	r, err := m.track(context.Background(), "", name)
	if err != nil {
		return "", err
	}
	runID := r.info.ID

	task := workers.Task{
		ID:   runID,
		Name: name,
		Run: func(workerCtx context.Context) {
			stop := context.AfterFunc(workerCtx, r.cancel)
			defer stop()
			_, _ = m.execute(r, doc)
		},
	}
	if err := m.dispatcher.Submit(ctx, task); err != nil {
		m.untrack(runID)
		r.cancel()
		return "", fmt.Errorf("failed to queue run: %w", err)
	}

	m.logger.Info("run queued",
		zap.String("run_id", runID),
		zap.String("definition", name))
	return runID, nil
}

// track registers a queued run
func (m *Manager) track(parent context.Context, runID, name string) (*run, error) {
	if runID == "" {
		runID = uuid.New().String()
	}
	ctx, cancel := context.WithCancel(parent)
	r := &run{
		info: RunInfo{
			ID:         runID,
			Definition: name,
			Status:     RunStatusQueued,
			QueuedAt:   time.Now(),
		},
		ctx:    ctx,
		cancel: cancel,
	}
	if _, loaded := m.runs.LoadOrStore(runID, r); loaded {
		cancel()
		return nil, fmt.Errorf("%w: %s", ErrRunExists, runID)
	}
	m.reportActive()
	return r, nil
}

func (m *Manager) untrack(runID string) {
	m.runs.Delete(runID)
	m.reportActive()
}

// execute runs doc under r's context and stops tracking it afterwards
func (m *Manager) execute(r *run, doc *maestro.Document) (*RunResult, error) {
	defer m.untrack(r.info.ID)
	defer r.cancel()

	r.mu.Lock()
	if r.cancelled {
		r.mu.Unlock()
		now := time.Now()
		return &RunResult{
			ID:          r.info.ID,
			Definition:  r.info.Definition,
			Status:      RunStatusCancelled,
			Error:       context.Canceled.Error(),
			StartedAt:   now,
			CompletedAt: now,
		}, context.Canceled
	}
	r.info.Status = RunStatusRunning
	r.info.StartedAt = time.Now()
	info := r.info
	r.mu.Unlock()

	ctx := r.ctx
	if m.settings.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, m.settings.RunTimeout, ErrRunTimeout)
		defer cancel()
	}

	logger := m.logger.With(zap.String("run_id", info.ID), zap.String("definition", info.Definition))
	result := &RunResult{
		ID:         info.ID,
		Definition: info.Definition,
		StartedAt:  info.StartedAt,
	}

	mo, err := maestro.FromDocument(doc, m.options(info.ID, logger)...)
	if err == nil {
		result.Results, err = mo.Execute(ctx)
	}

	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)

	r.mu.Lock()
	switch {
	case err == nil:
		result.Status = RunStatusCompleted
	case r.cancelled:
		result.Status = RunStatusCancelled
	default:
		result.Status = RunStatusFailed
		if errors.Is(context.Cause(ctx), ErrRunTimeout) {
			err = fmt.Errorf("%w after %s: %w", ErrRunTimeout, m.settings.RunTimeout, err)
		}
	}
	r.info.Status = result.Status
	r.mu.Unlock()

	if err != nil {
		result.Error = err.Error()
		logger.Warn("run finished with error",
			zap.String("status", string(result.Status)),
			zap.Error(err))
		return result, err
	}

	logger.Info("run finished",
		zap.Int("units", len(result.Results)),
		zap.Duration("duration", result.Duration))
	return result, nil
}

func (m *Manager) options(runID string, logger *zap.Logger) []maestro.Option {
	opts := []maestro.Option{
		maestro.WithRunID(runID),
		maestro.WithLogger(logger),
		maestro.WithCatalog(m.catalog),
		maestro.WithPoolMode(m.settings.PoolMode),
		maestro.WithMaxWorkers(m.settings.MaxWorkers),
	}
	if m.settings.ScriptRunner != nil {
		opts = append(opts, maestro.WithScriptRunner(m.settings.ScriptRunner))
	}
	if m.eventBus != nil {
		opts = append(opts, maestro.WithEventBus(m.eventBus))
	}
	if m.metrics != nil {
		opts = append(opts, maestro.WithMetrics(m.metrics))
	}
	return opts
}

// GetRun returns a tracked run
func (m *Manager) GetRun(runID string) (RunInfo, error) {
	val, ok := m.runs.Load(runID)
	if !ok {
		return RunInfo{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return val.(*run).snapshot(), nil
}

// ActiveRuns lists tracked runs, oldest first
func (m *Manager) ActiveRuns() []RunInfo {
	var out []RunInfo
	m.runs.Range(func(_, value any) bool {
		out = append(out, value.(*run).snapshot())
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].QueuedAt.Before(out[j].QueuedAt)
	})
	return out
}

// CancelRun cancels a queued or running run
func (m *Manager) CancelRun(runID string) error {
	// Get run context
	val, ok := m.runs.Load(runID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	r := val.(*run)
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check if already terminal state
	if r.info.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrRunFinished, r.info.Status)
	}

	r.cancelled = true
	r.cancel()

	m.logger.Info("run cancelled", zap.String("run_id", runID))
	return nil
}

func (m *Manager) reportActive() {
	if m.metrics == nil {
		return
	}
	n := 0
	m.runs.Range(func(_, _ any) bool {
		n++
		return true
	})
	m.metrics.SetActiveRuns(n)
}

// Shutdown cancels every tracked run
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down orchestrator manager")

	// Cancel all active runs
	m.runs.Range(func(key, value any) bool {
		r := value.(*run)
		r.mu.Lock()
		r.cancelled = true
		r.cancel()
		r.mu.Unlock()
		return true
	})

	m.logger.Info("orchestrator manager shut down complete")
	return nil
}

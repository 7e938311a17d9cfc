package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pool errors
var (
	ErrPoolClosed     = errors.New("worker pool is shut down")
	ErrPoolNotStarted = errors.New("worker pool is not started")
)

// Task is a unit of work picked up by a worker
type Task struct {
	ID   string
	Name string
	Run  func(ctx context.Context)
}

// StatusRecorder receives worker counts from the health monitor
type StatusRecorder interface {
	RecordWorkerPoolStatus(idle, busy, stopped int)
}

// Pool manages a fixed number of worker goroutines fed from a queue
type Pool struct {
	size    int
	queue   chan Task
	logger  *zap.Logger
	health  *HealthMonitor
	workers []*worker

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// worker represents a single worker goroutine
type worker struct {
	id      string
	pool    *Pool
	status  WorkerStatus
	current string
	mu      sync.RWMutex
	lastJob time.Time
}

// WorkerStatus represents worker status
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusStopped WorkerStatus = "stopped"
)

// NewPool creates a new worker pool. queueSize bounds tasks waiting for a
// worker; Submit blocks while the queue is full.
func NewPool(size, queueSize int, recorder StatusRecorder, logger *zap.Logger, healthCheckInterval time.Duration) *Pool {
	if size < 1 {
		size = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		size:    size,
		queue:   make(chan Task, queueSize),
		logger:  logger,
		workers: make([]*worker, size),
		ctx:     ctx,
		cancel:  cancel,
	}

	pool.health = NewHealthMonitor(pool, recorder, healthCheckInterval, logger)

	return pool
}

// Health returns the pool's health monitor
func (p *Pool) Health() *HealthMonitor {
	return p.health
}

// Start starts the worker pool
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	if p.ctx.Err() != nil {
		return ErrPoolClosed
	}

	p.logger.Info("starting worker pool", zap.Int("size", p.size))

	// Create and start workers
	for i := 0; i < p.size; i++ {
		w := &worker{
			id:      fmt.Sprintf("worker-%d", i),
			pool:    p,
			status:  WorkerStatusIdle,
			lastJob: time.Now(),
		}
		p.workers[i] = w

		p.wg.Add(1)
		go w.run(p.ctx)
	}
	p.started = true

	// Start health monitor
	p.health.Start()

	p.logger.Info("worker pool started", zap.Int("workers", p.size))
	return nil
}

// Submit queues task for the next idle worker
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return ErrPoolNotStarted
	}
	if p.ctx.Err() != nil {
		return ErrPoolClosed
	}

	select {
	case p.queue <- task:
		p.logger.Debug("task queued",
			zap.String("task_id", task.ID),
			zap.String("name", task.Name))
		return nil
	case <-p.ctx.Done():
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of queued tasks
func (p *Pool) Pending() int {
	return len(p.queue)
}

// Shutdown stops the workers. Running tasks see their context cancelled;
// queued tasks are dropped.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.logger.Info("shutting down worker pool")

	// Stop health monitor
	p.health.Stop()

	// Cancel context to signal workers to stop
	p.cancel()

	// Wait for all workers to finish with timeout
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if dropped := len(p.queue); dropped > 0 {
			p.logger.Warn("dropping queued tasks", zap.Int("count", dropped))
		}
		p.logger.Info("worker pool shut down complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout")
	}
}

// GetStatus returns the status of all workers
func (p *Pool) GetStatus() map[string]WorkerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	status := make(map[string]WorkerStatus)
	for _, w := range p.workers {
		if w == nil {
			continue
		}
		w.mu.RLock()
		status[w.id] = w.status
		w.mu.RUnlock()
	}
	return status
}

// run is the main worker loop
func (w *worker) run(ctx context.Context) {
	defer w.pool.wg.Done()

	w.pool.logger.Debug("worker started", zap.String("worker_id", w.id))

	for {
		select {
		case <-ctx.Done():
			w.setStatus(WorkerStatusStopped, "")
			w.pool.logger.Debug("worker stopped", zap.String("worker_id", w.id))
			return
		case task := <-w.pool.queue:
			w.handle(ctx, task)
		}
	}
}

// handle runs one task, keeping the worker alive if it panics
func (w *worker) handle(ctx context.Context, task Task) {
	w.setStatus(WorkerStatusBusy, task.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	w.pool.logger.Info("executing task",
		zap.String("worker_id", w.id),
		zap.String("task_id", task.ID),
		zap.String("name", task.Name))

	startTime := time.Now()
	defer func() {
		if r := recover(); r != nil {
			w.pool.logger.Error("task panicked",
				zap.String("worker_id", w.id),
				zap.String("task_id", task.ID),
				zap.Any("panic", r))
		}
	}()

	task.Run(ctx)

	w.pool.logger.Info("task finished",
		zap.String("worker_id", w.id),
		zap.String("task_id", task.ID),
		zap.Duration("duration", time.Since(startTime)))
}

func (w *worker) setStatus(status WorkerStatus, current string) {
	w.mu.Lock()
	w.status = status
	w.current = current
	if status == WorkerStatusBusy {
		w.lastJob = time.Now()
	}
	w.mu.Unlock()
}

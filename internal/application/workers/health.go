package workers

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthMonitor monitors worker health
type HealthMonitor struct {
	pool     *Pool
	recorder StatusRecorder
	interval time.Duration
	logger   *zap.Logger

	mu       sync.RWMutex
	running  bool
	stopCh   chan struct{}
	onChange func(healthy bool)
	last     *bool
}

// HealthStatus represents the health status of the worker pool
type HealthStatus struct {
	TotalWorkers   int       `json:"total_workers"`
	IdleWorkers    int       `json:"idle_workers"`
	BusyWorkers    int       `json:"busy_workers"`
	StoppedWorkers int       `json:"stopped_workers"`
	PendingTasks   int       `json:"pending_tasks"`
	Healthy        bool      `json:"healthy"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewHealthMonitor creates a new health monitor. recorder may be nil.
func NewHealthMonitor(pool *Pool, recorder StatusRecorder, interval time.Duration, logger *zap.Logger) *HealthMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HealthMonitor{
		pool:     pool,
		recorder: recorder,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// OnChange registers fn to be called whenever the healthy flag flips, and
// once on the first check
func (h *HealthMonitor) OnChange(fn func(healthy bool)) {
	h.mu.Lock()
	h.onChange = fn
	h.mu.Unlock()
}

// Start starts the health monitor
func (h *HealthMonitor) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.run()
}

// Stop stops the health monitor
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.stopCh)
}

// run is the main health monitoring loop
func (h *HealthMonitor) run() {
	h.checkHealth()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.checkHealth()
		}
	}
}

// checkHealth checks worker health and logs status
func (h *HealthMonitor) checkHealth() {
	status := h.GetStatus()

	h.logger.Debug("worker pool health check",
		zap.Int("total", status.TotalWorkers),
		zap.Int("idle", status.IdleWorkers),
		zap.Int("busy", status.BusyWorkers),
		zap.Int("stopped", status.StoppedWorkers),
		zap.Int("pending", status.PendingTasks),
		zap.Bool("healthy", status.Healthy))

	if h.recorder != nil {
		h.recorder.RecordWorkerPoolStatus(
			status.IdleWorkers,
			status.BusyWorkers,
			status.StoppedWorkers,
		)
	}

	// Warn if pool is unhealthy
	if !status.Healthy {
		h.logger.Warn("worker pool is unhealthy",
			zap.Int("stopped", status.StoppedWorkers),
			zap.Int("total", status.TotalWorkers))
	}

	// Warn if all workers are busy
	if status.TotalWorkers > 0 && status.BusyWorkers == status.TotalWorkers {
		h.logger.Warn("all workers are busy - consider scaling up",
			zap.Int("total", status.TotalWorkers),
			zap.Int("pending", status.PendingTasks))
	}

	h.mu.Lock()
	changed := h.last == nil || *h.last != status.Healthy
	healthy := status.Healthy
	h.last = &healthy
	fn := h.onChange
	h.mu.Unlock()

	if changed && fn != nil {
		fn(healthy)
	}
}

// GetStatus returns the current health status
func (h *HealthMonitor) GetStatus() *HealthStatus {
	workerStatuses := h.pool.GetStatus()

	var idle, busy, stopped int
	for _, status := range workerStatuses {
		switch status {
		case WorkerStatusIdle:
			idle++
		case WorkerStatusBusy:
			busy++
		case WorkerStatusStopped:
			stopped++
		}
	}

	total := len(workerStatuses)
	healthy := total > 0 && stopped == 0

	return &HealthStatus{
		TotalWorkers:   total,
		IdleWorkers:    idle,
		BusyWorkers:    busy,
		StoppedWorkers: stopped,
		PendingTasks:   h.pool.Pending(),
		Healthy:        healthy,
		Timestamp:      time.Now(),
	}
}

// IsHealthy returns true if the worker pool is healthy
func (h *HealthMonitor) IsHealthy() bool {
	status := h.GetStatus()
	return status.Healthy
}

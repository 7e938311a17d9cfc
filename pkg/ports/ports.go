// Package ports defines the interfaces between the orchestrator and its
// infrastructure adapters.
package ports

import (
	"context"
	"errors"
	"time"
)

// Topics used by the orchestrator
const (
	TopicRuns = "maestro.runs"
	TopicJobs = "maestro.jobs"
)

// EventType identifies a lifecycle event
type EventType string

const (
	EventRunStarted          EventType = "run.started"
	EventRunCompleted        EventType = "run.completed"
	EventRunFailed           EventType = "run.failed"
	EventJobStarted          EventType = "job.started"
	EventJobCompleted        EventType = "job.completed"
	EventJobFailed           EventType = "job.failed"
	EventJobRerun            EventType = "job.rerun"
	EventDependencyTriggered EventType = "job.dependency_triggered"
)

// Event is a lifecycle notification
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	RunID     string         `json:"run_id"`
	Job       string         `json:"job,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventHandler handles a delivered event
type EventHandler func(ctx context.Context, event Event) error

// EventBus publishes lifecycle events. Subscriptions end when the
// subscription context is cancelled.
type EventBus interface {
	Publish(ctx context.Context, topic string, event Event) error
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Unsubscribe(ctx context.Context, topic string) error
	Close() error
}

// ErrDefinitionNotFound is returned by stores for unknown names
var ErrDefinitionNotFound = errors.New("definition not found")

// DefinitionStore persists serialized job documents by name
type DefinitionStore interface {
	Save(ctx context.Context, name string, document []byte) error
	Load(ctx context.Context, name string) ([]byte, error)
	Delete(ctx context.Context, name string) error
	Exists(ctx context.Context, name string) (bool, error)
	List(ctx context.Context) ([]string, error)
}

// MetricsCollector records orchestrator metrics
type MetricsCollector interface {
	RecordRun(status string, duration time.Duration)
	RecordJob(jobType, status string, duration time.Duration)
	IncRerunWarnings(jobType string)
	IncDependencyTriggered()
	SetActiveRuns(n int)
}

// Package taskqueue decouples the HTTP facade from workflow execution: the
// facade enqueues small tasks and returns immediately, and worker goroutines
// dequeue and run them against the engine.
package taskqueue

import (
	"context"
	"time"

	"github.com/lendr/loanflow/pkg/api"
)

// TaskType identifies what the worker should do with a task.
type TaskType string

const (
	TaskTypeStartWorkflow TaskType = "start-workflow"
	TaskTypeSignal        TaskType = "signal"
)

// Task is a unit of work for a worker. InstanceID is set for both types: the
// facade assigns the workflow id up front so it can hand it to the caller
// before the application has started executing.
type Task struct {
	ID   string
	Type TaskType

	InstanceID string

	// SignalName is set for signal tasks.
	SignalName api.Signal

	// Payload is the workflow input for start-workflow tasks and the
	// signal payload for signal tasks.
	Payload any

	EnqueuedAt time.Time

	// NotBefore is the earliest time this task becomes eligible for
	// processing. Zero means immediately.
	NotBefore time.Time

	Attempts int
}

// Queue is an async task queue.
type Queue interface {
	// Enqueue adds a task to the queue.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue removes and returns the next eligible task, blocking until
	// one is available or the context is cancelled.
	Dequeue(ctx context.Context) (*Task, error)

	// Len returns the approximate number of tasks queued.
	Len() int
}

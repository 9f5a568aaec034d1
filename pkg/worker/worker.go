package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lendr/loanflow/internal/taskqueue"
	"github.com/lendr/loanflow/pkg/api"
)

// Worker pulls tasks from a Queue and executes them against an Engine.
// Multiple workers can safely share one queue.
type Worker struct {
	engine api.Engine
	queue  taskqueue.Queue
	logger *slog.Logger
}

// New creates a Worker. A nil logger falls back to slog.Default().
func New(engine api.Engine, queue taskqueue.Queue, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		engine: engine,
		queue:  queue,
		logger: logger,
	}
}

// EnqueueStart enqueues a task that starts a loan workflow under the given
// instance id. It does not run the workflow itself; that is done by
// ProcessOne. The id is assigned here when empty, so callers can hand it out
// before execution begins.
func (w *Worker) EnqueueStart(ctx context.Context, instanceID string, input any) (string, error) {
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	t := taskqueue.Task{
		ID:         uuid.NewString(),
		Type:       taskqueue.TaskTypeStartWorkflow,
		InstanceID: instanceID,
		Payload:    input,
		EnqueuedAt: time.Now(),
	}
	if err := w.queue.Enqueue(ctx, t); err != nil {
		return "", err
	}
	return instanceID, nil
}

// EnqueueSignal enqueues a task that delivers a signal to an instance.
func (w *Worker) EnqueueSignal(ctx context.Context, instanceID string, sig api.Signal, payload any) error {
	t := taskqueue.Task{
		ID:         uuid.NewString(),
		Type:       taskqueue.TaskTypeSignal,
		InstanceID: instanceID,
		SignalName: sig,
		Payload:    payload,
		EnqueuedAt: time.Now(),
	}
	return w.queue.Enqueue(ctx, t)
}

// ProcessOne pulls a single task from the queue and processes it. It returns
// (true, err) when a task was handled, where err reports how the handler
// fared, and (false, err) when nothing was obtained before ctx was cancelled.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	switch task.Type {
	case taskqueue.TaskTypeStartWorkflow:
		_, runErr := w.engine.Start(ctx, task.InstanceID, task.Payload)
		return true, runErr

	case taskqueue.TaskTypeSignal:
		_, sigErr := w.engine.Signal(ctx, task.InstanceID, task.SignalName, task.Payload)
		return true, sigErr

	default:
		return true, fmt.Errorf("unknown task type %q", task.Type)
	}
}

// dequeueErrorBackoff spaces out retries when the queue backend itself is
// failing, so Run does not spin logging the same error.
const dequeueErrorBackoff = time.Second

// Run processes tasks until ctx is cancelled. Handler errors are logged and
// do not stop the loop: a failed workflow is recorded on the instance itself,
// and a duplicate or late signal is not the worker's problem.
func (w *Worker) Run(ctx context.Context) {
	for {
		processed, err := w.ProcessOne(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			w.logger.Error("task processing failed", slog.Any("error", err))
		}
		if !processed {
			wait := time.Duration(0)
			if err != nil {
				wait = dequeueErrorBackoff
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}
}

package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the workflow engine for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay workflow execution.
type Observer interface {
	// OnWorkflowStart is called once when an instance is created, before
	// the first activity is invoked.
	OnWorkflowStart(ctx context.Context, inst *WorkflowInstance)

	// OnWorkflowCompleted is called when an instance reaches Disbursed.
	OnWorkflowCompleted(ctx context.Context, inst *WorkflowInstance)

	// OnWorkflowFailed is called when an instance transitions to FAILED.
	OnWorkflowFailed(ctx context.Context, inst *WorkflowInstance, err error)

	// OnWorkflowWaiting is called when an instance suspends on a signal.
	OnWorkflowWaiting(ctx context.Context, inst *WorkflowInstance, sig Signal)

	// OnSignal is called when a signal is first recorded for an instance.
	// Duplicate deliveries do not trigger it.
	OnSignal(ctx context.Context, inst *WorkflowInstance, sig Signal)

	// OnActivityStart is called before invoking an activity.
	OnActivityStart(ctx context.Context, inst *WorkflowInstance, activity string)

	// OnActivityCompleted is called after an activity resolves, for both
	// successes and failures (err != nil). Retries inside the invoker are
	// not reported individually.
	OnActivityCompleted(ctx context.Context, inst *WorkflowInstance, activity string, err error, duration time.Duration)

	// OnEventPublished is called after a milestone event has been
	// journalled and delivered to the external sink.
	OnEventPublished(ctx context.Context, inst *WorkflowInstance, stage Stage)

	// OnEventDropped is called when delivery to the external sink failed
	// after retries. The owning transition is not affected.
	OnEventDropped(ctx context.Context, inst *WorkflowInstance, stage Stage, err error)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnWorkflowStart(ctx context.Context, inst *WorkflowInstance)             {}
func (NoopObserver) OnWorkflowCompleted(ctx context.Context, inst *WorkflowInstance)         {}
func (NoopObserver) OnWorkflowFailed(ctx context.Context, inst *WorkflowInstance, err error) {}
func (NoopObserver) OnWorkflowWaiting(ctx context.Context, inst *WorkflowInstance, sig Signal) {
}
func (NoopObserver) OnSignal(ctx context.Context, inst *WorkflowInstance, sig Signal) {}
func (NoopObserver) OnActivityStart(ctx context.Context, inst *WorkflowInstance, activity string) {
}
func (NoopObserver) OnActivityCompleted(ctx context.Context, inst *WorkflowInstance, activity string, err error, d time.Duration) {
}
func (NoopObserver) OnEventPublished(ctx context.Context, inst *WorkflowInstance, stage Stage) {}
func (NoopObserver) OnEventDropped(ctx context.Context, inst *WorkflowInstance, stage Stage, err error) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnWorkflowStart(ctx context.Context, inst *WorkflowInstance) {
	for _, o := range c.observers {
		o.OnWorkflowStart(ctx, inst)
	}
}

func (c *CompositeObserver) OnWorkflowCompleted(ctx context.Context, inst *WorkflowInstance) {
	for _, o := range c.observers {
		o.OnWorkflowCompleted(ctx, inst)
	}
}

func (c *CompositeObserver) OnWorkflowFailed(ctx context.Context, inst *WorkflowInstance, err error) {
	for _, o := range c.observers {
		o.OnWorkflowFailed(ctx, inst, err)
	}
}

func (c *CompositeObserver) OnWorkflowWaiting(ctx context.Context, inst *WorkflowInstance, sig Signal) {
	for _, o := range c.observers {
		o.OnWorkflowWaiting(ctx, inst, sig)
	}
}

func (c *CompositeObserver) OnSignal(ctx context.Context, inst *WorkflowInstance, sig Signal) {
	for _, o := range c.observers {
		o.OnSignal(ctx, inst, sig)
	}
}

func (c *CompositeObserver) OnActivityStart(ctx context.Context, inst *WorkflowInstance, activity string) {
	for _, o := range c.observers {
		o.OnActivityStart(ctx, inst, activity)
	}
}

func (c *CompositeObserver) OnActivityCompleted(ctx context.Context, inst *WorkflowInstance, activity string, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnActivityCompleted(ctx, inst, activity, err, d)
	}
}

func (c *CompositeObserver) OnEventPublished(ctx context.Context, inst *WorkflowInstance, stage Stage) {
	for _, o := range c.observers {
		o.OnEventPublished(ctx, inst, stage)
	}
}

func (c *CompositeObserver) OnEventDropped(ctx context.Context, inst *WorkflowInstance, stage Stage, err error) {
	for _, o := range c.observers {
		o.OnEventDropped(ctx, inst, stage, err)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs workflow / activity
// lifecycle events using the provided slog.Logger. If logger is nil,
// slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnWorkflowStart(ctx context.Context, inst *WorkflowInstance) {
	o.Logger.InfoContext(ctx, "workflow_start",
		slog.String("instance_id", inst.ID),
	)
}

func (o *LoggingObserver) OnWorkflowCompleted(ctx context.Context, inst *WorkflowInstance) {
	o.Logger.InfoContext(ctx, "workflow_completed",
		slog.String("instance_id", inst.ID),
	)
}

func (o *LoggingObserver) OnWorkflowFailed(ctx context.Context, inst *WorkflowInstance, err error) {
	o.Logger.ErrorContext(ctx, "workflow_failed",
		slog.String("instance_id", inst.ID),
		slog.String("step", string(inst.Step)),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnWorkflowWaiting(ctx context.Context, inst *WorkflowInstance, sig Signal) {
	o.Logger.InfoContext(ctx, "workflow_waiting",
		slog.String("instance_id", inst.ID),
		slog.String("step", string(inst.Step)),
		slog.String("signal", string(sig)),
	)
}

func (o *LoggingObserver) OnSignal(ctx context.Context, inst *WorkflowInstance, sig Signal) {
	o.Logger.InfoContext(ctx, "signal_received",
		slog.String("instance_id", inst.ID),
		slog.String("signal", string(sig)),
	)
}

func (o *LoggingObserver) OnActivityStart(ctx context.Context, inst *WorkflowInstance, activity string) {
	o.Logger.DebugContext(ctx, "activity_start",
		slog.String("instance_id", inst.ID),
		slog.String("activity", activity),
	)
}

func (o *LoggingObserver) OnActivityCompleted(ctx context.Context, inst *WorkflowInstance, activity string, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "activity_completed",
		slog.String("instance_id", inst.ID),
		slog.String("activity", activity),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnEventPublished(ctx context.Context, inst *WorkflowInstance, stage Stage) {
	o.Logger.DebugContext(ctx, "event_published",
		slog.String("instance_id", inst.ID),
		slog.String("stage", string(stage)),
	)
}

func (o *LoggingObserver) OnEventDropped(ctx context.Context, inst *WorkflowInstance, stage Stage, err error) {
	o.Logger.WarnContext(ctx, "event_dropped",
		slog.String("instance_id", inst.ID),
		slog.String("stage", string(stage)),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters and aggregate activity durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	workflowsStarted      atomic.Int64
	workflowsCompleted    atomic.Int64
	workflowsFailed       atomic.Int64
	signalsReceived       atomic.Int64
	activitiesCompleted   atomic.Int64
	eventsDropped         atomic.Int64
	totalActivityDuration atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	WorkflowsStarted   int64
	WorkflowsCompleted int64
	WorkflowsFailed    int64
	InFlightWorkflows  int64

	SignalsReceived     int64
	ActivitiesCompleted int64
	EventsDropped       int64
	AvgActivityDuration time.Duration
}

func (m *BasicMetrics) OnWorkflowStart(ctx context.Context, inst *WorkflowInstance) {
	m.workflowsStarted.Add(1)
}

func (m *BasicMetrics) OnWorkflowCompleted(ctx context.Context, inst *WorkflowInstance) {
	m.workflowsCompleted.Add(1)
}

func (m *BasicMetrics) OnWorkflowFailed(ctx context.Context, inst *WorkflowInstance, err error) {
	m.workflowsFailed.Add(1)
}

func (m *BasicMetrics) OnSignal(ctx context.Context, inst *WorkflowInstance, sig Signal) {
	m.signalsReceived.Add(1)
}

func (m *BasicMetrics) OnActivityCompleted(ctx context.Context, inst *WorkflowInstance, activity string, err error, d time.Duration) {
	// Only count successful activities for average duration.
	if err == nil {
		m.activitiesCompleted.Add(1)
		m.totalActivityDuration.Add(d.Nanoseconds())
	}
}

func (m *BasicMetrics) OnEventDropped(ctx context.Context, inst *WorkflowInstance, stage Stage, err error) {
	m.eventsDropped.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.workflowsStarted.Load()
	completed := m.workflowsCompleted.Load()
	failed := m.workflowsFailed.Load()
	activities := m.activitiesCompleted.Load()
	totalNs := m.totalActivityDuration.Load()

	var avg time.Duration
	if activities > 0 {
		avg = time.Duration(totalNs / activities)
	}

	return BasicMetricsSnapshot{
		WorkflowsStarted:    started,
		WorkflowsCompleted:  completed,
		WorkflowsFailed:     failed,
		InFlightWorkflows:   started - completed - failed,
		SignalsReceived:     m.signalsReceived.Load(),
		ActivitiesCompleted: activities,
		EventsDropped:       m.eventsDropped.Load(),
		AvgActivityDuration: avg,
	}
}

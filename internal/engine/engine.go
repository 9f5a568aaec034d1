// Package engine drives loan workflow instances through an explicit,
// persisted step machine.
//
// Every transition is written through a compare-and-swap on the instance's
// version, so a crashed process can be restarted and resume from the last
// persisted step without re-running completed activities. The engine assumes
// a single process owns the store between Recover and shutdown; within that
// process any number of goroutines may call Start and Signal concurrently.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lendr/loanflow/internal/invoker"
	"github.com/lendr/loanflow/internal/persistence"
	"github.com/lendr/loanflow/pkg/api"
	"github.com/lendr/loanflow/pkg/loan"
)

// DefaultRetryPolicy is used when Config.Retry is left zero.
var DefaultRetryPolicy = api.RetryPolicy{
	MaxAttempts:       5,
	InitialBackoff:    time.Second,
	BackoffMultiplier: 2.0,
	MaxBackoff:        30 * time.Second,
}

// Config configures a workflow engine.
type Config struct {
	Persistence   persistence.Persistence
	Collaborators loan.Collaborators

	// AttemptTimeout bounds a single activity attempt. Zero means
	// invoker.DefaultAttemptTimeout.
	AttemptTimeout time.Duration

	// Retry governs activity retries. Zero means DefaultRetryPolicy.
	Retry api.RetryPolicy

	Observer api.Observer
	Logger   *slog.Logger
}

type engineImpl struct {
	instances persistence.InstanceStore
	events    persistence.EventStore
	collab    loan.Collaborators
	invoker   *invoker.Invoker
	publisher *publisher
	observer  api.Observer
	logger    *slog.Logger
}

// New builds an Engine from cfg.
func New(cfg Config) (api.Engine, error) {
	if cfg.Persistence.Instances == nil || cfg.Persistence.Events == nil {
		return nil, errors.New("engine: persistence stores are required")
	}
	if cfg.Collaborators.Eligibility == nil ||
		cfg.Collaborators.Offers == nil ||
		cfg.Collaborators.Agreements == nil ||
		cfg.Collaborators.Accounts == nil ||
		cfg.Collaborators.Payments == nil {
		return nil, errors.New("engine: all five loan collaborators are required")
	}

	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy
	}
	timeout := cfg.AttemptTimeout
	if timeout == 0 {
		timeout = invoker.DefaultAttemptTimeout
	}
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	inv := invoker.New(timeout, retry)
	return &engineImpl{
		instances: cfg.Persistence.Instances,
		events:    cfg.Persistence.Events,
		collab:    cfg.Collaborators,
		invoker:   inv,
		publisher: newPublisher(inv, cfg.Collaborators.Events),
		observer:  obs,
		logger:    logger,
	}, nil
}

func (e *engineImpl) Start(ctx context.Context, id string, input any) (*api.WorkflowInstance, error) {
	if _, ok := input.(loan.Application); !ok {
		return nil, fmt.Errorf("engine: expected loan.Application input, got %T", input)
	}
	if id == "" {
		id = uuid.NewString()
	}

	now := time.Now().UTC()
	inst := &api.WorkflowInstance{
		ID:        id,
		Step:      api.StepStarted,
		Status:    api.StatusRunning,
		Input:     input,
		Outputs:   map[api.Step]any{},
		Signals:   map[api.Signal]time.Time{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.instances.CreateInstance(ctx, inst); err != nil {
		return nil, err
	}
	e.observer.OnWorkflowStart(ctx, inst)

	return e.drive(ctx, inst)
}

func (e *engineImpl) Get(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	return e.instances.GetInstance(ctx, id)
}

func (e *engineImpl) List(ctx context.Context, opts api.ListOptions) ([]*api.WorkflowInstance, error) {
	return e.instances.ListInstances(ctx, opts)
}

func (e *engineImpl) Events(ctx context.Context, id string) ([]api.Event, error) {
	if _, err := e.instances.GetInstance(ctx, id); err != nil {
		return nil, err
	}
	return e.events.ListEvents(ctx, id)
}

// Signal records sig for the instance and, if the instance is parked on that
// signal, resumes it. Duplicate deliveries return the current instance state
// without any side effect. The payload is accepted for auditability only; the
// loan process keys every decision off the signal name.
func (e *engineImpl) Signal(ctx context.Context, id string, sig api.Signal, payload any) (*api.WorkflowInstance, error) {
	switch sig {
	case api.SignalDocumentsVerified, api.SignalOfferAccepted, api.SignalDisbursementTriggered:
	default:
		return nil, fmt.Errorf("engine: unknown signal %q", sig)
	}

	for {
		inst, err := e.instances.GetInstance(ctx, id)
		if err != nil {
			return nil, err
		}
		if inst.Status.Terminal() {
			return nil, fmt.Errorf("instance %s is %s: %w", id, inst.Status, api.ErrInstanceFinished)
		}
		if inst.SignalSeen(sig) {
			return inst, nil
		}

		if inst.Signals == nil {
			inst.Signals = map[api.Signal]time.Time{}
		}
		inst.Signals[sig] = time.Now().UTC()

		// Only the writer that flips WAITING_ON_SIGNAL back to RUNNING
		// takes over as the instance's driver. If the instance is still
		// being driven elsewhere, the signal is recorded and the gate
		// will observe it when the driver reaches the wait step.
		resume := inst.Status == api.StatusWaitingOnSignal && stepTable[inst.Step].signal == sig
		if resume {
			inst.Status = api.StatusRunning
		}
		inst.UpdatedAt = time.Now().UTC()

		err = e.instances.CompareAndSwap(ctx, inst, inst.Version)
		if errors.Is(err, api.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}

		e.observer.OnSignal(ctx, inst, sig)
		if resume {
			return e.drive(ctx, inst)
		}
		return inst, nil
	}
}

// Recover re-drives every instance left RUNNING or WAITING_ON_ACTIVITY by a
// previous process, plus any instance that crashed between recording a gate
// signal and passing through the gate: those persist as WAITING_ON_SIGNAL
// with the gating signal already in the signal set, and redelivery would be
// absorbed as a duplicate. It returns the number of instances picked up; the
// drives themselves run in background goroutines.
func (e *engineImpl) Recover(ctx context.Context) (int, error) {
	count := 0
	for _, status := range []api.Status{api.StatusRunning, api.StatusWaitingOnActivity, api.StatusWaitingOnSignal} {
		list, err := e.instances.ListInstances(ctx, api.ListOptions{Status: status})
		if err != nil {
			return count, err
		}
		for _, inst := range list {
			if status == api.StatusWaitingOnSignal && !inst.SignalSeen(stepTable[inst.Step].signal) {
				// Genuinely parked; only a signal moves it.
				continue
			}
			count++
			go func(inst *api.WorkflowInstance) {
				if _, err := e.drive(ctx, inst); err != nil {
					e.logger.Error("recovered instance did not finish cleanly",
						slog.String("instance_id", inst.ID),
						slog.Any("error", err))
				}
			}(inst)
		}
	}
	return count, nil
}

// drive advances inst until it parks on a signal, finishes, or fails.
func (e *engineImpl) drive(ctx context.Context, inst *api.WorkflowInstance) (*api.WorkflowInstance, error) {
	for {
		def, ok := stepTable[inst.Step]
		if !ok {
			return inst, fmt.Errorf("instance %s: no transition defined for step %s", inst.ID, inst.Step)
		}

		switch def.kind {
		case kindTerminal:
			if inst.Status != api.StatusCompleted {
				inst.Status = api.StatusCompleted
				if err := e.swap(ctx, inst); err != nil {
					return inst, err
				}
				e.observer.OnWorkflowCompleted(ctx, inst)
			}
			return inst, nil

		case kindAdvance:
			inst.Step = def.next
			inst.Status = api.StatusRunning
			if err := e.swap(ctx, inst); err != nil {
				return inst, err
			}
			e.publish(ctx, inst, def)

		case kindWait:
			// Parking races with the arrival of the very signal we are
			// about to wait for; swap merges fresh signal recordings, so
			// re-check the gate after it succeeds and undo the park when
			// the signal slipped in.
			if !inst.SignalSeen(def.signal) {
				inst.Status = api.StatusWaitingOnSignal
				if err := e.swap(ctx, inst); err != nil {
					return inst, err
				}
				if !inst.SignalSeen(def.signal) {
					e.observer.OnWorkflowWaiting(ctx, inst, def.signal)
					return inst, nil
				}
			}

			if def.run != nil {
				out, failed, err := e.runActivity(ctx, inst, def)
				if err != nil {
					return inst, err
				}
				if failed {
					return inst, errors.New(inst.Err)
				}
				inst.Outputs[def.next] = out
			}
			inst.Step = def.next
			inst.Status = api.StatusRunning
			if err := e.swap(ctx, inst); err != nil {
				return inst, err
			}
			e.publish(ctx, inst, def)

		case kindActivity:
			out, failed, err := e.runActivity(ctx, inst, def)
			if err != nil {
				return inst, err
			}
			if failed {
				return inst, errors.New(inst.Err)
			}
			inst.Outputs[def.next] = out
			inst.Step = def.next
			inst.Status = api.StatusRunning
			if err := e.swap(ctx, inst); err != nil {
				return inst, err
			}
			e.publish(ctx, inst, def)
		}
	}
}

// runActivity marks the instance WAITING_ON_ACTIVITY, invokes the activity
// through the retrying invoker, and handles the failure paths. It returns
// failed=true when the instance has been moved to FAILED, and a non-nil error
// only for infrastructure problems (store errors, context cancellation) that
// leave the instance in a recoverable state.
func (e *engineImpl) runActivity(ctx context.Context, inst *api.WorkflowInstance, def stepDef) (out any, failed bool, err error) {
	if inst.Status != api.StatusWaitingOnActivity {
		inst.Status = api.StatusWaitingOnActivity
		if err := e.swap(ctx, inst); err != nil {
			return nil, false, err
		}
	}

	e.observer.OnActivityStart(ctx, inst, def.activity)
	began := time.Now()
	out, invokeErr := e.invoker.Invoke(ctx, def.activity, func(c context.Context) (any, error) {
		return def.run(c, e, inst)
	})
	e.observer.OnActivityCompleted(ctx, inst, def.activity, invokeErr, time.Since(began))

	if invokeErr == nil {
		return out, false, nil
	}

	// A cancelled parent context is a shutdown, not a business failure:
	// leave the instance WAITING_ON_ACTIVITY so a restart re-drives it.
	if ctx.Err() != nil {
		return nil, false, invokeErr
	}

	inst.Status = api.StatusFailed
	inst.Err = fmt.Sprintf("%s: %v", def.activity, invokeErr)
	if swapErr := e.swap(ctx, inst); swapErr != nil {
		return nil, false, swapErr
	}
	e.observer.OnWorkflowFailed(ctx, inst, invokeErr)
	return nil, true, nil
}

// swap persists the transition held in inst, retrying across version
// conflicts. Once a driver holds an instance the only other writer is a
// signal delivery, which touches nothing but the signal set, so a conflict is
// resolved by folding the fresh signal recordings into inst and re-applying
// the same transition.
func (e *engineImpl) swap(ctx context.Context, inst *api.WorkflowInstance) error {
	inst.UpdatedAt = time.Now().UTC()
	for {
		err := e.instances.CompareAndSwap(ctx, inst, inst.Version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, api.ErrConflict) {
			return err
		}
		fresh, getErr := e.instances.GetInstance(ctx, inst.ID)
		if getErr != nil {
			return getErr
		}
		inst.Signals = fresh.Signals
		inst.Version = fresh.Version
	}
}

// publish journals the transition's milestone (if any) and forwards it to the
// external sink. Neither the journal write nor the sink delivery may block a
// transition that has already been persisted, so failures are reported to the
// observer and logged, never returned.
func (e *engineImpl) publish(ctx context.Context, inst *api.WorkflowInstance, def stepDef) {
	if def.stage == "" {
		return
	}
	var payload any
	if def.stagePayload != nil {
		payload = def.stagePayload(inst)
	}

	ev := &api.Event{
		WorkflowID: inst.ID,
		Stage:      def.stage,
		Payload:    payload,
		At:         time.Now().UTC(),
	}
	if err := e.events.AppendEvent(ctx, ev); err != nil {
		e.logger.Error("milestone journal append failed",
			slog.String("instance_id", inst.ID),
			slog.String("stage", string(def.stage)),
			slog.Any("error", err))
	}

	if err := e.publisher.Publish(ctx, inst.ID, def.stage, payload); err != nil {
		e.observer.OnEventDropped(ctx, inst, def.stage, err)
		return
	}
	e.observer.OnEventPublished(ctx, inst, def.stage)
}

package api

import (
	"context"
	"time"
)

// Status represents the lifecycle state of a workflow instance.
type Status string

const (
	StatusRunning           Status = "RUNNING"
	StatusWaitingOnActivity Status = "WAITING_ON_ACTIVITY"
	StatusWaitingOnSignal   Status = "WAITING_ON_SIGNAL"
	StatusCompleted         Status = "COMPLETED"
	StatusFailed            Status = "FAILED"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Step names a state of the loan fulfilment saga. Steps only ever advance
// in the order listed below; a waiting step is left when its signal has
// been recorded.
type Step string

const (
	StepStarted                 Step = "Started"
	StepEligibilityChecked      Step = "EligibilityChecked"
	StepOfferGenerated          Step = "OfferGenerated"
	StepOfferPublished          Step = "OfferPublished"
	StepAwaitingDocuments       Step = "AwaitingDocuments"
	StepDocumentsVerified       Step = "DocumentsVerified"
	StepAwaitingOfferAcceptance Step = "AwaitingOfferAcceptance"
	StepOfferAccepted           Step = "OfferAccepted"
	StepAgreementCreated        Step = "AgreementCreated"
	StepAccountCreated          Step = "AccountCreated"
	StepAwaitingDisbursement    Step = "AwaitingDisbursement"
	StepDisbursed               Step = "Disbursed"
)

// Signal is an externally delivered notification that unblocks a waiting
// instance.
type Signal string

const (
	SignalDocumentsVerified     Signal = "documents-verified"
	SignalOfferAccepted         Signal = "offer-accepted"
	SignalDisbursementTriggered Signal = "disbursement-triggered"
)

// WorkflowInstance is the persisted record of one saga execution.
//
// All mutation goes through the store's compare-and-swap on Version, so a
// loaded copy is a consistent snapshot and concurrent writers cannot
// interleave updates.
type WorkflowInstance struct {
	ID     string
	Step   Step
	Status Status

	// Input is the immutable application snapshot provided at start.
	Input any

	// Outputs maps a completed step to the opaque result its activity
	// produced. The orchestrator never interprets these values.
	Outputs map[Step]any

	// Signals records when each signal was first delivered. Presence of a
	// key is the flag; redelivery never updates the timestamp.
	Signals map[Signal]time.Time

	// Err holds the terminal failure message for StatusFailed instances.
	Err string

	// Version increments on every persisted update.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SignalSeen reports whether the named signal has been recorded.
func (w *WorkflowInstance) SignalSeen(sig Signal) bool {
	_, ok := w.Signals[sig]
	return ok
}

// Clone returns a deep-enough copy for handing across goroutines; the
// opaque payloads themselves are treated as immutable.
func (w *WorkflowInstance) Clone() *WorkflowInstance {
	c := *w
	c.Outputs = make(map[Step]any, len(w.Outputs))
	for k, v := range w.Outputs {
		c.Outputs[k] = v
	}
	c.Signals = make(map[Signal]time.Time, len(w.Signals))
	for k, v := range w.Signals {
		c.Signals[k] = v
	}
	return &c
}

// ListOptions controls how instances are listed.
// Zero values mean "no filter" for that field.
type ListOptions struct {
	// Status, if non-empty, limits results to instances with the given status.
	Status Status

	// Step, if non-empty, limits results to instances at the given step.
	Step Step
}

// RetryPolicy controls how an activity is retried when it fails with a
// retryable error. MaxAttempts includes the first attempt:
//
//	MaxAttempts = 1 => no retries (just the initial call)
//	MaxAttempts = 3 => initial call + up to 2 retries
type RetryPolicy struct {
	MaxAttempts int

	// InitialBackoff is the delay before the first retry. If zero,
	// retries happen immediately.
	InitialBackoff time.Duration

	// BackoffMultiplier grows the delay each attempt; values <= 0
	// default to 2.0.
	BackoffMultiplier float64

	// MaxBackoff caps the delay; <= 0 means no cap.
	MaxBackoff time.Duration
}

// Engine drives loan fulfilment workflow instances.
type Engine interface {
	// Start creates a new instance with the given id and application input
	// and executes it until it completes, fails, or suspends on a signal.
	// The input must be a loan.Application.
	Start(ctx context.Context, id string, input any) (*WorkflowInstance, error)

	// Get looks up a workflow instance by id.
	Get(ctx context.Context, id string) (*WorkflowInstance, error)

	// List returns instances matching the given options.
	List(ctx context.Context, opts ListOptions) ([]*WorkflowInstance, error)

	// Signal records a named signal for an instance and, if the instance
	// is suspended waiting on that signal, resumes it. Redelivering an
	// already-recorded signal is accepted and has no effect.
	//
	// Returns ErrInstanceNotFound for unknown ids and ErrInstanceFinished
	// for completed or failed instances.
	Signal(ctx context.Context, id string, sig Signal, payload any) (*WorkflowInstance, error)

	// Events returns the milestone events published for an instance, in
	// sequence order.
	Events(ctx context.Context, id string) ([]Event, error)

	// Recover re-drives instances left RUNNING or WAITING_ON_ACTIVITY by
	// a previous process, resuming each from its last persisted step, and
	// instances parked on a signal whose signal has already been
	// recorded. It returns the number of instances picked up. Call it on
	// startup before accepting new work.
	Recover(ctx context.Context) (int, error)
}

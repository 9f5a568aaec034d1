package persistence

import (
	"context"

	"github.com/lendr/loanflow/pkg/api"
)

// InstanceStore persists workflow instances.
//
// All mutation after creation goes through CompareAndSwap: an update only
// applies when the caller's snapshot version matches the stored row, so of
// two racing writers (an activity completion and a signal delivery, say)
// exactly one wins and the other retries against the refreshed state.
type InstanceStore interface {
	// CreateInstance stores a new instance at version 1.
	// Returns api.ErrInstanceExists if the id is already taken.
	CreateInstance(ctx context.Context, inst *api.WorkflowInstance) error

	// GetInstance returns the instance with the given id, or
	// api.ErrInstanceNotFound.
	GetInstance(ctx context.Context, id string) (*api.WorkflowInstance, error)

	// ListInstances returns instances matching the filter.
	ListInstances(ctx context.Context, opts api.ListOptions) ([]*api.WorkflowInstance, error)

	// CompareAndSwap persists inst if the stored version still equals
	// expectedVersion, bumping inst.Version to expectedVersion+1 on
	// success. Returns api.ErrConflict when another writer got there
	// first, api.ErrInstanceNotFound when the id is unknown.
	CompareAndSwap(ctx context.Context, inst *api.WorkflowInstance, expectedVersion int64) error
}

// EventStore is the append-only milestone journal.
type EventStore interface {
	// AppendEvent journals ev, assigning it the next per-instance
	// sequence number (starting at 1) and filling ev.Seq.
	AppendEvent(ctx context.Context, ev *api.Event) error

	// ListEvents returns an instance's events in sequence order.
	ListEvents(ctx context.Context, workflowID string) ([]api.Event, error)
}

// Persistence bundles the store interfaces so the engine can depend on a
// single abstraction.
type Persistence struct {
	Instances InstanceStore
	Events    EventStore
}

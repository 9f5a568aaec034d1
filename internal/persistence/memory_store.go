package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/lendr/loanflow/pkg/api"
)

// InMemoryStore is a goroutine-safe InstanceStore and EventStore backed by
// maps. State does not survive a restart; it is intended for tests and
// local development.
type InMemoryStore struct {
	mu        sync.RWMutex
	instances map[string]*api.WorkflowInstance
	events    map[string][]api.Event
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		instances: make(map[string]*api.WorkflowInstance),
		events:    make(map[string][]api.Event),
	}
}

// Ensure InMemoryStore implements the interfaces.
var _ InstanceStore = (*InMemoryStore)(nil)

var _ EventStore = (*InMemoryStore)(nil)

func (s *InMemoryStore) CreateInstance(ctx context.Context, inst *api.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[inst.ID]; ok {
		return api.ErrInstanceExists
	}

	inst.Version = 1
	s.instances[inst.ID] = inst.Clone()
	return nil
}

func (s *InMemoryStore) GetInstance(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[id]
	if !ok {
		return nil, api.ErrInstanceNotFound
	}

	return inst.Clone(), nil
}

func (s *InMemoryStore) ListInstances(ctx context.Context, opts api.ListOptions) ([]*api.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.WorkflowInstance
	for _, inst := range s.instances {
		if opts.Status != "" && inst.Status != opts.Status {
			continue
		}
		if opts.Step != "" && inst.Step != opts.Step {
			continue
		}
		result = append(result, inst.Clone())
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *InMemoryStore) CompareAndSwap(ctx context.Context, inst *api.WorkflowInstance, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.instances[inst.ID]
	if !ok {
		return api.ErrInstanceNotFound
	}
	if stored.Version != expectedVersion {
		return api.ErrConflict
	}

	inst.Version = expectedVersion + 1
	s.instances[inst.ID] = inst.Clone()
	return nil
}

func (s *InMemoryStore) AppendEvent(ctx context.Context, ev *api.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev.Seq = int64(len(s.events[ev.WorkflowID])) + 1
	s.events[ev.WorkflowID] = append(s.events[ev.WorkflowID], *ev)
	return nil
}

func (s *InMemoryStore) ListEvents(ctx context.Context, workflowID string) ([]api.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evs := s.events[workflowID]
	out := make([]api.Event, len(evs))
	copy(out, evs)
	return out, nil
}

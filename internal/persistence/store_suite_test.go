package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lendr/loanflow/pkg/api"
	"github.com/lendr/loanflow/pkg/loan"
)

// storeFactory returns fresh (or freshly namespaced) stores for one subtest.
type storeFactory func(t *testing.T) (InstanceStore, EventStore)

func sampleInstance(id string) *api.WorkflowInstance {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &api.WorkflowInstance{
		ID:     id,
		Step:   api.StepOfferGenerated,
		Status: api.StatusRunning,
		Input: loan.Application{
			ApplicantName:   "Jane Doe",
			SSN:             "123-45-6789",
			RequestedAmount: 50000,
		},
		Outputs: map[api.Step]any{
			api.StepEligibilityChecked: loan.EligibilityResult{Eligible: true, Reference: "ELIG-1", MaxAmount: 90000},
			api.StepOfferGenerated:     loan.Offer{OfferID: "OFR-1", Amount: 50000},
		},
		Signals: map[api.Signal]time.Time{
			api.SignalDocumentsVerified: now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// runStoreSuite exercises the InstanceStore and EventStore contracts that the
// engine depends on. Every backend must pass it unchanged.
func runStoreSuite(t *testing.T, factory storeFactory) {
	ctx := context.Background()

	t.Run("CreateAndGetRoundTrip", func(t *testing.T) {
		instances, _ := factory(t)
		id := uuid.NewString()

		orig := sampleInstance(id)
		require.NoError(t, instances.CreateInstance(ctx, orig))
		assert.Equal(t, int64(1), orig.Version)

		got, err := instances.GetInstance(ctx, id)
		require.NoError(t, err)

		assert.Equal(t, orig.Step, got.Step)
		assert.Equal(t, orig.Status, got.Status)
		assert.Equal(t, int64(1), got.Version)

		app, ok := got.Input.(loan.Application)
		require.True(t, ok, "input round-trips as loan.Application, got %T", got.Input)
		assert.Equal(t, "Jane Doe", app.ApplicantName)
		assert.Equal(t, 50000.0, app.RequestedAmount)

		offer, ok := got.Outputs[api.StepOfferGenerated].(loan.Offer)
		require.True(t, ok, "offer output round-trips, got %T", got.Outputs[api.StepOfferGenerated])
		assert.Equal(t, "OFR-1", offer.OfferID)

		_, seen := got.Signals[api.SignalDocumentsVerified]
		assert.True(t, seen, "signal set round-trips")
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		instances, _ := factory(t)
		id := uuid.NewString()

		require.NoError(t, instances.CreateInstance(ctx, sampleInstance(id)))
		err := instances.CreateInstance(ctx, sampleInstance(id))
		assert.ErrorIs(t, err, api.ErrInstanceExists)
	})

	t.Run("GetMissing", func(t *testing.T) {
		instances, _ := factory(t)
		_, err := instances.GetInstance(ctx, uuid.NewString())
		assert.ErrorIs(t, err, api.ErrInstanceNotFound)
	})

	t.Run("CompareAndSwap", func(t *testing.T) {
		instances, _ := factory(t)
		id := uuid.NewString()

		inst := sampleInstance(id)
		require.NoError(t, instances.CreateInstance(ctx, inst))

		inst.Status = api.StatusWaitingOnSignal
		inst.Step = api.StepAwaitingDocuments
		require.NoError(t, instances.CompareAndSwap(ctx, inst, 1))
		assert.Equal(t, int64(2), inst.Version)

		got, err := instances.GetInstance(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, api.StatusWaitingOnSignal, got.Status)
		assert.Equal(t, api.StepAwaitingDocuments, got.Step)
		assert.Equal(t, int64(2), got.Version)

		// A writer holding the old snapshot loses.
		stale := sampleInstance(id)
		err = instances.CompareAndSwap(ctx, stale, 1)
		assert.ErrorIs(t, err, api.ErrConflict)

		// Unknown ids are reported as such, not as conflicts.
		missing := sampleInstance(uuid.NewString())
		err = instances.CompareAndSwap(ctx, missing, 1)
		assert.ErrorIs(t, err, api.ErrInstanceNotFound)
	})

	t.Run("ListByStatus", func(t *testing.T) {
		instances, _ := factory(t)

		running := sampleInstance(uuid.NewString())
		waiting := sampleInstance(uuid.NewString())
		waiting.Status = api.StatusWaitingOnSignal
		require.NoError(t, instances.CreateInstance(ctx, running))
		require.NoError(t, instances.CreateInstance(ctx, waiting))

		list, err := instances.ListInstances(ctx, api.ListOptions{Status: api.StatusRunning})
		require.NoError(t, err)

		ids := map[string]bool{}
		for _, inst := range list {
			assert.Equal(t, api.StatusRunning, inst.Status)
			ids[inst.ID] = true
		}
		assert.True(t, ids[running.ID], "running instance listed")
		assert.False(t, ids[waiting.ID], "waiting instance filtered out")
	})

	t.Run("EventSequence", func(t *testing.T) {
		_, events := factory(t)
		a, b := uuid.NewString(), uuid.NewString()

		stages := []api.Stage{api.StageOfferPrepared, api.StageDocumentsVerified, api.StageOfferAccepted}
		for _, stage := range stages {
			ev := &api.Event{WorkflowID: a, Stage: stage, At: time.Now().UTC()}
			require.NoError(t, events.AppendEvent(ctx, ev))
		}
		// A second instance gets its own sequence.
		other := &api.Event{WorkflowID: b, Stage: api.StageOfferPrepared, At: time.Now().UTC()}
		require.NoError(t, events.AppendEvent(ctx, other))
		assert.Equal(t, int64(1), other.Seq)

		got, err := events.ListEvents(ctx, a)
		require.NoError(t, err)
		require.Len(t, got, len(stages))
		for i, ev := range got {
			assert.Equal(t, int64(i+1), ev.Seq)
			assert.Equal(t, stages[i], ev.Stage)
		}
	})

	t.Run("EventPayloadRoundTrip", func(t *testing.T) {
		_, events := factory(t)
		id := uuid.NewString()

		ev := &api.Event{
			WorkflowID: id,
			Stage:      api.StageAccountCreated,
			Payload:    loan.Account{AccountID: "LA-7", AgreementID: "AGR-7"},
			At:         time.Now().UTC(),
		}
		require.NoError(t, events.AppendEvent(ctx, ev))

		got, err := events.ListEvents(ctx, id)
		require.NoError(t, err)
		require.Len(t, got, 1)

		acc, ok := got[0].Payload.(loan.Account)
		require.True(t, ok, "payload round-trips as loan.Account, got %T", got[0].Payload)
		assert.Equal(t, "LA-7", acc.AccountID)
	})
}

package engine

import (
	"context"
	"testing"
	"time"

	"github.com/lendr/loanflow/internal/persistence"
	"github.com/lendr/loanflow/pkg/api"
	"github.com/lendr/loanflow/pkg/loan"
)

// seedInstance writes an instance directly to the store, simulating state
// left behind by a process that died mid-flight.
func seedInstance(t *testing.T, store *persistence.InMemoryStore, inst *api.WorkflowInstance) {
	t.Helper()
	if inst.Outputs == nil {
		inst.Outputs = map[api.Step]any{}
	}
	if inst.Signals == nil {
		inst.Signals = map[api.Signal]time.Time{}
	}
	if err := store.CreateInstance(context.Background(), inst); err != nil {
		t.Fatalf("seed instance: %v", err)
	}
}

// waitForStep polls until the instance reaches the wanted step or the
// deadline passes. Recover drives instances in background goroutines.
func waitForStep(t *testing.T, eng api.Engine, id string, step api.Step) *api.WorkflowInstance {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		inst, err := eng.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if inst.Step == step {
			return inst
		}
		time.Sleep(5 * time.Millisecond)
	}
	inst, _ := eng.Get(context.Background(), id)
	t.Fatalf("instance %s never reached %v (at %v/%v)", id, step, inst.Step, inst.Status)
	return nil
}

func TestRecoverResumesInterruptedActivity(t *testing.T) {
	f := newFakeServices()
	eng, store := newTestEngine(t, f)

	// Died while the eligibility call was in flight. The step was never
	// recorded as complete, so the activity runs again on recovery.
	seedInstance(t, store, &api.WorkflowInstance{
		ID:     "rec-activity",
		Step:   api.StepStarted,
		Status: api.StatusWaitingOnActivity,
		Input:  testApplication(),
	})

	n, err := eng.Recover(context.Background())
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 recovered instance, got %d", n)
	}

	inst := waitForStep(t, eng, "rec-activity", api.StepAwaitingDocuments)
	if inst.Status != api.StatusWaitingOnSignal {
		t.Fatalf("expected WAITING_ON_SIGNAL, got %v", inst.Status)
	}
	if f.count("eligibility") != 1 || f.count("offer") != 1 {
		t.Fatalf("expected eligibility and offer each called once")
	}
}

func TestRecoverDoesNotRerunCompletedSteps(t *testing.T) {
	f := newFakeServices()
	eng, store := newTestEngine(t, f)

	// Died between persisting the offer and advancing further. Both remote
	// results are already recorded and must not be recomputed.
	seedInstance(t, store, &api.WorkflowInstance{
		ID:     "rec-advance",
		Step:   api.StepOfferGenerated,
		Status: api.StatusRunning,
		Input:  testApplication(),
		Outputs: map[api.Step]any{
			api.StepEligibilityChecked: loan.EligibilityResult{Eligible: true, Reference: "ELIG-R"},
			api.StepOfferGenerated:     loan.Offer{OfferID: "OFR-R", Amount: 50000},
		},
	})

	if _, err := eng.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	waitForStep(t, eng, "rec-advance", api.StepAwaitingDocuments)
	if f.count("eligibility") != 0 {
		t.Fatalf("eligibility re-executed on recovery")
	}
	if f.count("offer") != 0 {
		t.Fatalf("offer re-executed on recovery")
	}

	// The recovered instance is an ordinary one from here on.
	mustSignal(t, eng, "rec-advance", api.SignalDocumentsVerified)
	mustSignal(t, eng, "rec-advance", api.SignalOfferAccepted)
	inst := mustSignal(t, eng, "rec-advance", api.SignalDisbursementTriggered)
	if inst.Status != api.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %v", inst.Status)
	}
}

func TestRecoverSkipsParkedAndFinishedInstances(t *testing.T) {
	f := newFakeServices()
	eng, store := newTestEngine(t, f)

	seedInstance(t, store, &api.WorkflowInstance{
		ID:     "parked",
		Step:   api.StepAwaitingDocuments,
		Status: api.StatusWaitingOnSignal,
		Input:  testApplication(),
	})
	seedInstance(t, store, &api.WorkflowInstance{
		ID:     "finished",
		Step:   api.StepDisbursed,
		Status: api.StatusCompleted,
		Input:  testApplication(),
	})

	n, err := eng.Recover(context.Background())
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no recovered instances, got %d", n)
	}
	if f.count("eligibility") != 0 {
		t.Fatalf("no activity should run for parked or finished instances")
	}
}

func TestRecoverHonorsSignalsRecordedBeforeCrash(t *testing.T) {
	f := newFakeServices()
	eng, store := newTestEngine(t, f)

	// The documents signal arrived, the resume began, and the process died
	// before the wait step was crossed.
	seedInstance(t, store, &api.WorkflowInstance{
		ID:     "rec-signal",
		Step:   api.StepAwaitingDocuments,
		Status: api.StatusRunning,
		Input:  testApplication(),
		Outputs: map[api.Step]any{
			api.StepEligibilityChecked: loan.EligibilityResult{Eligible: true},
			api.StepOfferGenerated:     loan.Offer{OfferID: "OFR-S", Amount: 50000},
		},
		Signals: map[api.Signal]time.Time{
			api.SignalDocumentsVerified: time.Now(),
		},
	})

	if _, err := eng.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	inst := waitForStep(t, eng, "rec-signal", api.StepAwaitingOfferAcceptance)
	if inst.Status != api.StatusWaitingOnSignal {
		t.Fatalf("expected WAITING_ON_SIGNAL, got %v", inst.Status)
	}
}

func TestRecoverResumesParkedInstanceWithGateSignalRecorded(t *testing.T) {
	f := newFakeServices()
	eng, store := newTestEngine(t, f)

	// A signal delivery raced the park: the park write absorbed the fresh
	// signal, so the persisted state is WAITING_ON_SIGNAL with the gating
	// signal already in the set, and the process died before the in-memory
	// driver crossed the gate. Redelivery is a duplicate and a no-op, so
	// only recovery can move this instance.
	seedInstance(t, store, &api.WorkflowInstance{
		ID:     "rec-parked-seen",
		Step:   api.StepAwaitingDocuments,
		Status: api.StatusWaitingOnSignal,
		Input:  testApplication(),
		Outputs: map[api.Step]any{
			api.StepEligibilityChecked: loan.EligibilityResult{Eligible: true},
			api.StepOfferGenerated:     loan.Offer{OfferID: "OFR-P", Amount: 50000},
		},
		Signals: map[api.Signal]time.Time{
			api.SignalDocumentsVerified: time.Now(),
		},
	})

	n, err := eng.Recover(context.Background())
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 recovered instance, got %d", n)
	}

	inst := waitForStep(t, eng, "rec-parked-seen", api.StepAwaitingOfferAcceptance)
	if inst.Status != api.StatusWaitingOnSignal {
		t.Fatalf("expected WAITING_ON_SIGNAL, got %v", inst.Status)
	}
}

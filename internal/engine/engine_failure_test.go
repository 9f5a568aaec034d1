package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/lendr/loanflow/pkg/api"
	"github.com/lendr/loanflow/pkg/loan"
)

func TestIneligibleApplicantFailsWithoutRetry(t *testing.T) {
	f := newFakeServices()
	f.eligibility = func(req loan.EligibilityRequest) (*loan.EligibilityResult, error) {
		return &loan.EligibilityResult{ApplicantID: req.ApplicantID, Eligible: false}, nil
	}
	eng, _ := newTestEngine(t, f)
	ctx := context.Background()

	inst, err := eng.Start(ctx, "rejected", testApplication())
	if err == nil {
		t.Fatalf("expected Start to report the failure")
	}
	if inst.Status != api.StatusFailed {
		t.Fatalf("expected FAILED, got %v", inst.Status)
	}
	if inst.Step != api.StepStarted {
		t.Fatalf("expected step unchanged at %v, got %v", api.StepStarted, inst.Step)
	}
	// A business rejection is permanent; the invoker must not retry it.
	if got := f.count("eligibility"); got != 1 {
		t.Fatalf("expected one eligibility call, got %d", got)
	}
	if f.count("offer") != 0 {
		t.Fatalf("offer service must not be called for an ineligible applicant")
	}
}

func TestFatalCollaboratorErrorFailsImmediately(t *testing.T) {
	f := newFakeServices()
	f.offer = func(req loan.OfferRequest) (*loan.Offer, error) {
		return nil, api.NewFatal(errors.New("malformed offer request"))
	}
	eng, _ := newTestEngine(t, f)

	inst, err := eng.Start(context.Background(), "fatal", testApplication())
	if err == nil {
		t.Fatalf("expected Start to report the failure")
	}
	if inst.Status != api.StatusFailed {
		t.Fatalf("expected FAILED, got %v", inst.Status)
	}
	if got := f.count("offer"); got != 1 {
		t.Fatalf("expected one offer call, got %d", got)
	}
}

func TestTransientFailureRetriesThenSucceeds(t *testing.T) {
	f := newFakeServices()
	var attempts int
	f.offer = func(req loan.OfferRequest) (*loan.Offer, error) {
		attempts++
		if attempts < 3 {
			return nil, api.NewRetryable(errors.New("offer service unavailable"))
		}
		return &loan.Offer{OfferID: "OFR-R", ApplicantID: req.ApplicantID, Amount: req.Amount}, nil
	}
	eng, _ := newTestEngine(t, f)
	ctx := context.Background()

	inst, err := eng.Start(ctx, "flaky", testApplication())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if inst.Step != api.StepAwaitingDocuments {
		t.Fatalf("expected instance parked at %v, got %v", api.StepAwaitingDocuments, inst.Step)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 offer attempts, got %d", attempts)
	}

	// Retries happen inside one logical step: exactly one OfferPrepared
	// milestone regardless of attempt count.
	events, err := eng.Events(ctx, "flaky")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	var prepared int
	for _, ev := range events {
		if ev.Stage == api.StageOfferPrepared {
			prepared++
		}
	}
	if prepared != 1 {
		t.Fatalf("expected one OfferPrepared event, got %d", prepared)
	}
}

func TestRetriesExhaustedFailsInstance(t *testing.T) {
	f := newFakeServices()
	f.eligibility = func(req loan.EligibilityRequest) (*loan.EligibilityResult, error) {
		return nil, api.NewRetryable(errors.New("connection refused"))
	}
	eng, _ := newTestEngine(t, f)

	inst, err := eng.Start(context.Background(), "down", testApplication())
	if err == nil {
		t.Fatalf("expected Start to report the failure")
	}
	if inst.Status != api.StatusFailed {
		t.Fatalf("expected FAILED, got %v", inst.Status)
	}
	if got := f.count("eligibility"); got != fastRetry.MaxAttempts {
		t.Fatalf("expected %d eligibility attempts, got %d", fastRetry.MaxAttempts, got)
	}
}

func TestFailedDisbursementPreservesAccountOutput(t *testing.T) {
	f := newFakeServices()
	f.payment = func(req loan.DisbursementRequest) (*loan.Payment, error) {
		return nil, api.NewRetryable(errors.New("payment rail down"))
	}
	eng, _ := newTestEngine(t, f)
	ctx := context.Background()

	if _, err := eng.Start(ctx, "stuck", testApplication()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	mustSignal(t, eng, "stuck", api.SignalDocumentsVerified)
	mustSignal(t, eng, "stuck", api.SignalOfferAccepted)

	inst, err := eng.Signal(ctx, "stuck", api.SignalDisbursementTriggered, nil)
	if err == nil {
		t.Fatalf("expected the disbursement failure to surface")
	}
	if inst.Status != api.StatusFailed {
		t.Fatalf("expected FAILED, got %v", inst.Status)
	}
	// The account was created; the failure must not roll the step back past
	// it.
	if inst.Step != api.StepAwaitingDisbursement {
		t.Fatalf("expected step %v, got %v", api.StepAwaitingDisbursement, inst.Step)
	}
	if _, ok := inst.Outputs[api.StepAccountCreated].(loan.Account); !ok {
		t.Fatalf("expected account output preserved")
	}
	if _, ok := inst.Outputs[api.StepDisbursed]; ok {
		t.Fatalf("no payment output may be recorded for a failed disbursement")
	}

	// No LoanDisbursed milestone either.
	events, err := eng.Events(ctx, "stuck")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	for _, ev := range events {
		if ev.Stage == api.StageLoanDisbursed {
			t.Fatalf("LoanDisbursed milestone emitted for a failed disbursement")
		}
	}
}

func TestSinkFailureDoesNotBlockWorkflow(t *testing.T) {
	f := newFakeServices()
	f.publish = func(workflowID, stage string, payload any) error {
		return api.NewFatal(errors.New("sink rejected event"))
	}
	eng, _ := newTestEngine(t, f)
	ctx := context.Background()

	if _, err := eng.Start(ctx, "quiet", testApplication()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	mustSignal(t, eng, "quiet", api.SignalDocumentsVerified)
	mustSignal(t, eng, "quiet", api.SignalOfferAccepted)
	inst := mustSignal(t, eng, "quiet", api.SignalDisbursementTriggered)

	if inst.Status != api.StatusCompleted {
		t.Fatalf("expected COMPLETED despite sink failures, got %v", inst.Status)
	}

	// The journal is the durable record and must be intact.
	events, err := eng.Events(ctx, "quiet")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != len(milestoneOrder) {
		t.Fatalf("expected %d journalled events, got %d", len(milestoneOrder), len(events))
	}
}

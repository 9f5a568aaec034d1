package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lendr/loanflow/internal/persistence"
	"github.com/lendr/loanflow/pkg/api"
	"github.com/lendr/loanflow/pkg/loan"
)

// fakeServices implements every collaborator interface with canned happy-path
// responses. Individual calls can be overridden per test, and all invocations
// are counted.
type fakeServices struct {
	mu        sync.Mutex
	calls     map[string]int
	published []publishedEvent

	eligibility func(req loan.EligibilityRequest) (*loan.EligibilityResult, error)
	offer       func(req loan.OfferRequest) (*loan.Offer, error)
	agreement   func(req loan.AgreementRequest) (*loan.Agreement, error)
	account     func(req loan.AccountRequest) (*loan.Account, error)
	payment     func(req loan.DisbursementRequest) (*loan.Payment, error)
	publish     func(workflowID, stage string, payload any) error
}

type publishedEvent struct {
	workflowID string
	stage      string
}

func newFakeServices() *fakeServices {
	return &fakeServices{calls: map[string]int{}}
}

func (f *fakeServices) bump(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
}

func (f *fakeServices) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeServices) publishedStages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.published))
	for _, p := range f.published {
		out = append(out, p.stage)
	}
	return out
}

func (f *fakeServices) CheckEligibility(ctx context.Context, req loan.EligibilityRequest) (*loan.EligibilityResult, error) {
	f.bump("eligibility")
	if f.eligibility != nil {
		return f.eligibility(req)
	}
	return &loan.EligibilityResult{
		ApplicantID: req.ApplicantID,
		Eligible:    true,
		MaxAmount:   100000,
		Reference:   "ELIG-123",
		Assessment:  &loan.EligibilityAssessment{CreditScore: 735, CreditGrade: "A", DebtToIncomeRatio: 0.21},
	}, nil
}

func (f *fakeServices) GenerateOffer(ctx context.Context, req loan.OfferRequest) (*loan.Offer, error) {
	f.bump("offer")
	if f.offer != nil {
		return f.offer(req)
	}
	return &loan.Offer{
		OfferID:     "OFR-1",
		ApplicantID: req.ApplicantID,
		Amount:      req.Amount,
		Terms:       loan.Terms{TermMonths: req.Preferences.PreferredTermMonths, MonthlyPayment: 2210.50},
		Pricing:     loan.PricingStructure{InterestRate: 5.9, APR: 6.1, RateType: req.Preferences.RateType},
		Status:      "Active",
	}, nil
}

func (f *fakeServices) CreateAgreement(ctx context.Context, req loan.AgreementRequest) (*loan.Agreement, error) {
	f.bump("agreement")
	if f.agreement != nil {
		return f.agreement(req)
	}
	return &loan.Agreement{AgreementID: "AGR-1", OfferID: req.OfferID}, nil
}

func (f *fakeServices) CreateAccount(ctx context.Context, req loan.AccountRequest) (*loan.Account, error) {
	f.bump("account")
	if f.account != nil {
		return f.account(req)
	}
	return &loan.Account{AccountID: "LA-1", AgreementID: req.AgreementID}, nil
}

func (f *fakeServices) ExecuteDisbursement(ctx context.Context, req loan.DisbursementRequest) (*loan.Payment, error) {
	f.bump("payment")
	if f.payment != nil {
		return f.payment(req)
	}
	return &loan.Payment{PaymentID: "PAY-1", Reference: "PO-1", Status: "Completed"}, nil
}

func (f *fakeServices) PublishEvent(ctx context.Context, workflowID string, stage string, payload any) error {
	f.bump("publish")
	if f.publish != nil {
		if err := f.publish(workflowID, stage, payload); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedEvent{workflowID: workflowID, stage: stage})
	return nil
}

func (f *fakeServices) collaborators() loan.Collaborators {
	return loan.Collaborators{
		Eligibility: f,
		Offers:      f,
		Agreements:  f,
		Accounts:    f,
		Payments:    f,
		Events:      f,
	}
}

// fastRetry keeps test failures quick: three attempts with millisecond
// backoffs.
var fastRetry = api.RetryPolicy{
	MaxAttempts:       3,
	InitialBackoff:    time.Millisecond,
	BackoffMultiplier: 2.0,
	MaxBackoff:        5 * time.Millisecond,
}

func newTestEngine(t *testing.T, f *fakeServices) (api.Engine, *persistence.InMemoryStore) {
	t.Helper()
	store := persistence.NewInMemoryStore()
	eng, err := New(Config{
		Persistence:   persistence.Persistence{Instances: store, Events: store},
		Collaborators: f.collaborators(),
		Retry:         fastRetry,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return eng, store
}

func testApplication() loan.Application {
	return loan.Application{
		ApplicantName:       "Jane Doe",
		SSN:                 "123-45-6789",
		Email:               "jane@example.com",
		AnnualIncome:        95000,
		EmploymentStatus:    "Employed",
		RequestedAmount:     50000,
		LoanPurpose:         "debt-consolidation",
		PreferredTermMonths: 24,
	}
}

var milestoneOrder = []api.Stage{
	api.StageOfferPrepared,
	api.StageDocumentsVerified,
	api.StageOfferAccepted,
	api.StageAgreementCreated,
	api.StageAccountCreated,
	api.StageLoanDisbursed,
}

func TestFullLoanWorkflow(t *testing.T) {
	f := newFakeServices()
	eng, _ := newTestEngine(t, f)
	ctx := context.Background()

	inst, err := eng.Start(ctx, "loan-1", testApplication())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if inst.Status != api.StatusWaitingOnSignal {
		t.Fatalf("expected WAITING_ON_SIGNAL after Start, got %v", inst.Status)
	}
	if inst.Step != api.StepAwaitingDocuments {
		t.Fatalf("expected step %v, got %v", api.StepAwaitingDocuments, inst.Step)
	}

	// The offer must pass the applicant's request through unchanged.
	offer, ok := inst.Outputs[api.StepOfferGenerated].(loan.Offer)
	if !ok {
		t.Fatalf("expected an offer output, got %T", inst.Outputs[api.StepOfferGenerated])
	}
	if offer.Amount != 50000 {
		t.Fatalf("expected offer amount 50000, got %v", offer.Amount)
	}
	if offer.Terms.TermMonths != 24 {
		t.Fatalf("expected offer term 24 months, got %v", offer.Terms.TermMonths)
	}

	inst, err = eng.Signal(ctx, "loan-1", api.SignalDocumentsVerified, nil)
	if err != nil {
		t.Fatalf("Signal documents-verified: %v", err)
	}
	if inst.Step != api.StepAwaitingOfferAcceptance {
		t.Fatalf("expected step %v, got %v", api.StepAwaitingOfferAcceptance, inst.Step)
	}

	inst, err = eng.Signal(ctx, "loan-1", api.SignalOfferAccepted, nil)
	if err != nil {
		t.Fatalf("Signal offer-accepted: %v", err)
	}
	if inst.Step != api.StepAwaitingDisbursement {
		t.Fatalf("expected step %v, got %v", api.StepAwaitingDisbursement, inst.Step)
	}
	if _, ok := inst.Outputs[api.StepAgreementCreated].(loan.Agreement); !ok {
		t.Fatalf("expected an agreement output")
	}
	if _, ok := inst.Outputs[api.StepAccountCreated].(loan.Account); !ok {
		t.Fatalf("expected an account output")
	}

	inst, err = eng.Signal(ctx, "loan-1", api.SignalDisbursementTriggered, nil)
	if err != nil {
		t.Fatalf("Signal disbursement-triggered: %v", err)
	}
	if inst.Status != api.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %v", inst.Status)
	}
	if inst.Step != api.StepDisbursed {
		t.Fatalf("expected step %v, got %v", api.StepDisbursed, inst.Step)
	}
	if _, ok := inst.Outputs[api.StepDisbursed].(loan.Payment); !ok {
		t.Fatalf("expected a payment output")
	}

	for _, svc := range []string{"eligibility", "offer", "agreement", "account", "payment"} {
		if got := f.count(svc); got != 1 {
			t.Fatalf("expected exactly one %s call, got %d", svc, got)
		}
	}

	events, err := eng.Events(ctx, "loan-1")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != len(milestoneOrder) {
		t.Fatalf("expected %d events, got %d", len(milestoneOrder), len(events))
	}
	for i, ev := range events {
		if ev.Seq != int64(i+1) {
			t.Fatalf("event %d: expected seq %d, got %d", i, i+1, ev.Seq)
		}
		if ev.Stage != milestoneOrder[i] {
			t.Fatalf("event %d: expected stage %v, got %v", i, milestoneOrder[i], ev.Stage)
		}
	}

	stages := f.publishedStages()
	if len(stages) != len(milestoneOrder) {
		t.Fatalf("expected %d published events, got %d", len(milestoneOrder), len(stages))
	}
}

func TestDisbursementRequestUsesAccountAndOffer(t *testing.T) {
	f := newFakeServices()
	var got loan.DisbursementRequest
	f.payment = func(req loan.DisbursementRequest) (*loan.Payment, error) {
		got = req
		return &loan.Payment{PaymentID: "PAY-9", Status: "Completed"}, nil
	}
	eng, _ := newTestEngine(t, f)
	ctx := context.Background()

	if _, err := eng.Start(ctx, "loan-disb", testApplication()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	mustSignal(t, eng, "loan-disb", api.SignalDocumentsVerified)
	mustSignal(t, eng, "loan-disb", api.SignalOfferAccepted)
	mustSignal(t, eng, "loan-disb", api.SignalDisbursementTriggered)

	if got.SourceAccount != defaultSourceAccount {
		t.Fatalf("expected source account %q, got %q", defaultSourceAccount, got.SourceAccount)
	}
	if got.DestinationAccount != "LA-1" {
		t.Fatalf("expected destination account LA-1, got %q", got.DestinationAccount)
	}
	if got.Amount != 50000 {
		t.Fatalf("expected disbursement amount 50000, got %v", got.Amount)
	}
}

func TestStartRejectsDuplicateID(t *testing.T) {
	f := newFakeServices()
	eng, _ := newTestEngine(t, f)
	ctx := context.Background()

	if _, err := eng.Start(ctx, "dup", testApplication()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	_, err := eng.Start(ctx, "dup", testApplication())
	if !errors.Is(err, api.ErrInstanceExists) {
		t.Fatalf("expected ErrInstanceExists, got %v", err)
	}
}

func TestStartRejectsNonApplicationInput(t *testing.T) {
	f := newFakeServices()
	eng, _ := newTestEngine(t, f)

	if _, err := eng.Start(context.Background(), "bad-input", 42); err == nil {
		t.Fatalf("expected error for non-Application input")
	}
}

func mustSignal(t *testing.T, eng api.Engine, id string, sig api.Signal) *api.WorkflowInstance {
	t.Helper()
	inst, err := eng.Signal(context.Background(), id, sig, nil)
	if err != nil {
		t.Fatalf("Signal %s: %v", sig, err)
	}
	return inst
}

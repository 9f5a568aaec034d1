package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/lendr/loanflow/pkg/api"
	"github.com/lendr/loanflow/pkg/loan"
)

// defaultSourceAccount funds every disbursement.
const defaultSourceAccount = "BANK_SRC"

type stepKind int

const (
	// kindActivity invokes a remote collaborator and stores its output.
	kindActivity stepKind = iota
	// kindAdvance moves to the next step without any remote call.
	kindAdvance
	// kindWait gates on a recorded signal; the instance suspends until
	// the signal arrives. A wait step may carry an activity that runs
	// once the gate opens.
	kindWait
	// kindTerminal ends the saga.
	kindTerminal
)

type activityFunc func(ctx context.Context, e *engineImpl, inst *api.WorkflowInstance) (any, error)

// stepDef describes the single outgoing transition of a step. Activity
// outputs are stored under the destination step's name, so the persisted
// record always reads "this step has been reached and this is what produced
// it".
type stepDef struct {
	kind     stepKind
	next     api.Step
	signal   api.Signal
	activity string
	run      activityFunc

	// stage, if set, is the user-visible milestone published after the
	// transition persists. stagePayload picks the opaque payload to
	// attach; nil means the event carries no payload.
	stage        api.Stage
	stagePayload func(inst *api.WorkflowInstance) any
}

var stepTable = map[api.Step]stepDef{
	api.StepStarted: {
		kind:     kindActivity,
		next:     api.StepEligibilityChecked,
		activity: "check-eligibility",
		run:      checkEligibility,
	},
	api.StepEligibilityChecked: {
		kind:     kindActivity,
		next:     api.StepOfferGenerated,
		activity: "generate-offer",
		run:      generateOffer,
	},
	api.StepOfferGenerated: {
		kind:         kindAdvance,
		next:         api.StepOfferPublished,
		stage:        api.StageOfferPrepared,
		stagePayload: outputOf(api.StepOfferGenerated),
	},
	api.StepOfferPublished: {
		kind: kindAdvance,
		next: api.StepAwaitingDocuments,
	},
	api.StepAwaitingDocuments: {
		kind:   kindWait,
		next:   api.StepDocumentsVerified,
		signal: api.SignalDocumentsVerified,
		stage:  api.StageDocumentsVerified,
	},
	api.StepDocumentsVerified: {
		kind: kindAdvance,
		next: api.StepAwaitingOfferAcceptance,
	},
	api.StepAwaitingOfferAcceptance: {
		kind:   kindWait,
		next:   api.StepOfferAccepted,
		signal: api.SignalOfferAccepted,
		stage:  api.StageOfferAccepted,
	},
	api.StepOfferAccepted: {
		kind:         kindActivity,
		next:         api.StepAgreementCreated,
		activity:     "create-agreement",
		run:          createAgreement,
		stage:        api.StageAgreementCreated,
		stagePayload: outputOf(api.StepAgreementCreated),
	},
	api.StepAgreementCreated: {
		kind:         kindActivity,
		next:         api.StepAccountCreated,
		activity:     "create-account",
		run:          createAccount,
		stage:        api.StageAccountCreated,
		stagePayload: outputOf(api.StepAccountCreated),
	},
	api.StepAccountCreated: {
		kind: kindAdvance,
		next: api.StepAwaitingDisbursement,
	},
	api.StepAwaitingDisbursement: {
		kind:         kindWait,
		next:         api.StepDisbursed,
		signal:       api.SignalDisbursementTriggered,
		activity:     "execute-disbursement",
		run:          executeDisbursement,
		stage:        api.StageLoanDisbursed,
		stagePayload: outputOf(api.StepAccountCreated),
	},
	api.StepDisbursed: {
		kind: kindTerminal,
	},
}

func outputOf(step api.Step) func(inst *api.WorkflowInstance) any {
	return func(inst *api.WorkflowInstance) any {
		return inst.Outputs[step]
	}
}

func applicationOf(inst *api.WorkflowInstance) (loan.Application, error) {
	app, ok := inst.Input.(loan.Application)
	if !ok {
		return loan.Application{}, fmt.Errorf("instance %s: expected loan.Application input, got %T", inst.ID, inst.Input)
	}
	return app, nil
}

func checkEligibility(ctx context.Context, e *engineImpl, inst *api.WorkflowInstance) (any, error) {
	app, err := applicationOf(inst)
	if err != nil {
		return nil, api.NewFatal(err)
	}

	res, err := e.collab.Eligibility.CheckEligibility(ctx, loan.EligibilityRequest{
		ApplicantID:     app.ApplicantID(),
		RequestedAmount: app.RequestedAmount,
		ApplicantProfile: loan.ApplicantProfile{
			AnnualIncome:     app.AnnualIncome,
			EmploymentStatus: app.EmploymentStatus,
		},
	})
	if err != nil {
		return nil, err
	}
	if !res.Eligible {
		return nil, api.NewFatal(errors.New("applicant not eligible for the requested loan"))
	}
	return *res, nil
}

func generateOffer(ctx context.Context, e *engineImpl, inst *api.WorkflowInstance) (any, error) {
	app, err := applicationOf(inst)
	if err != nil {
		return nil, api.NewFatal(err)
	}
	elig, ok := inst.Outputs[api.StepEligibilityChecked].(loan.EligibilityResult)
	if !ok {
		return nil, api.NewFatal(fmt.Errorf("instance %s: missing eligibility result", inst.ID))
	}

	productType := app.ProductType
	if productType == "" {
		productType = "Personal Loan"
	}

	// The offer service expects the assessment inline; fall back to the
	// upstream defaults when the eligibility service omitted it.
	creditScore, creditGrade := 720.0, "B"
	if elig.Assessment != nil {
		creditScore = elig.Assessment.CreditScore
		creditGrade = elig.Assessment.CreditGrade
	}

	offer, err := e.collab.Offers.GenerateOffer(ctx, loan.OfferRequest{
		ApplicantID: app.ApplicantID(),
		Amount:      app.RequestedAmount,
		Preferences: loan.OfferPrefs{
			PreferredTermMonths: app.PreferredTermMonths,
			MaxMonthlyPayment:   app.MaxMonthlyPayment,
			LoanPurpose:         app.LoanPurpose,
			ProductType:         productType,
			AutoPayEnrollment:   app.AutoPayEnrollment,
			RateType:            "Fixed",
		},
		EligibilityData: loan.EligibilityData{
			EligibilityReference: elig.Reference,
			CreditScore:          creditScore,
			CreditGrade:          creditGrade,
			MaxEligibleAmount:    elig.MaxAmount,
		},
	})
	if err != nil {
		return nil, err
	}
	return *offer, nil
}

func createAgreement(ctx context.Context, e *engineImpl, inst *api.WorkflowInstance) (any, error) {
	offer, ok := inst.Outputs[api.StepOfferGenerated].(loan.Offer)
	if !ok {
		return nil, api.NewFatal(fmt.Errorf("instance %s: missing offer", inst.ID))
	}

	agr, err := e.collab.Agreements.CreateAgreement(ctx, loan.AgreementRequest{OfferID: offer.OfferID})
	if err != nil {
		return nil, err
	}
	return *agr, nil
}

func createAccount(ctx context.Context, e *engineImpl, inst *api.WorkflowInstance) (any, error) {
	agr, ok := inst.Outputs[api.StepAgreementCreated].(loan.Agreement)
	if !ok {
		return nil, api.NewFatal(fmt.Errorf("instance %s: missing agreement", inst.ID))
	}

	acc, err := e.collab.Accounts.CreateAccount(ctx, loan.AccountRequest{AgreementID: agr.AgreementID})
	if err != nil {
		return nil, err
	}
	return *acc, nil
}

func executeDisbursement(ctx context.Context, e *engineImpl, inst *api.WorkflowInstance) (any, error) {
	acc, ok := inst.Outputs[api.StepAccountCreated].(loan.Account)
	if !ok {
		return nil, api.NewFatal(fmt.Errorf("instance %s: missing loan account", inst.ID))
	}
	offer, ok := inst.Outputs[api.StepOfferGenerated].(loan.Offer)
	if !ok {
		return nil, api.NewFatal(fmt.Errorf("instance %s: missing offer", inst.ID))
	}

	pay, err := e.collab.Payments.ExecuteDisbursement(ctx, loan.DisbursementRequest{
		SourceAccount:      defaultSourceAccount,
		DestinationAccount: acc.AccountID,
		Amount:             offer.Amount,
	})
	if err != nil {
		return nil, err
	}
	return *pay, nil
}

package loan

import "context"

// EligibilityService assesses whether an applicant qualifies and for how much.
type EligibilityService interface {
	CheckEligibility(ctx context.Context, req EligibilityRequest) (*EligibilityResult, error)
}

// OfferService prices a loan offer from an eligibility outcome and the
// applicant's preferences.
type OfferService interface {
	GenerateOffer(ctx context.Context, req OfferRequest) (*Offer, error)
}

// AgreementService records the sales product agreement for an accepted offer.
type AgreementService interface {
	CreateAgreement(ctx context.Context, req AgreementRequest) (*Agreement, error)
}

// AccountService opens the consumer loan account.
type AccountService interface {
	CreateAccount(ctx context.Context, req AccountRequest) (*Account, error)
}

// PaymentService executes the fund disbursement.
type PaymentService interface {
	ExecuteDisbursement(ctx context.Context, req DisbursementRequest) (*Payment, error)
}

// EventSink receives milestone notifications for real-time observers.
type EventSink interface {
	PublishEvent(ctx context.Context, workflowID string, stage string, payload any) error
}

// Collaborators bundles every external service the orchestrator calls.
type Collaborators struct {
	Eligibility EligibilityService
	Offers      OfferService
	Agreements  AgreementService
	Accounts    AccountService
	Payments    PaymentService
	Events      EventSink
}

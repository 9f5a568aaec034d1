// Package loan holds the domain payloads exchanged with the external loan
// collaborator services, the collaborator contracts themselves, and HTTP
// clients for them.
//
// The orchestrator treats every value produced by a collaborator as opaque:
// results are stored and forwarded verbatim, never recomputed.
package loan

import (
	"encoding/gob"
	"time"
)

func init() {
	gob.Register(Application{})
	gob.Register(EligibilityResult{})
	gob.Register(Offer{})
	gob.Register(Agreement{})
	gob.Register(Account{})
	gob.Register(Payment{})

	// Signal payloads arrive at the facade as decoded JSON objects and are
	// carried through the task queue as-is.
	gob.Register(map[string]any{})
}

// Application is the immutable snapshot of one loan application as
// submitted by the applicant.
type Application struct {
	ApplicantName string `json:"applicantName"`
	SSN           string `json:"ssn"`
	Email         string `json:"email"`
	PhoneNumber   string `json:"phoneNumber"`

	AnnualIncome     float64 `json:"annualIncome"`
	EmploymentStatus string  `json:"employmentStatus"`

	RequestedAmount float64 `json:"requestedAmount"`
	LoanPurpose     string  `json:"loanPurpose"`

	PreferredTermMonths int      `json:"preferredTermMonths"`
	MaxMonthlyPayment   *float64 `json:"maxMonthlyPayment,omitempty"`
	ProductType         string   `json:"productType,omitempty"`
	AutoPayEnrollment   bool     `json:"autoPayEnrollment"`
}

// ApplicantID returns the unique applicant identifier. The upstream
// services key applicants by SSN.
func (a Application) ApplicantID() string { return a.SSN }

// EligibilityRequest is the payload sent to the eligibility service.
type EligibilityRequest struct {
	ApplicantID      string           `json:"applicantId"`
	RequestedAmount  float64          `json:"requestedAmount"`
	ApplicantProfile ApplicantProfile `json:"applicantProfile"`
}

type ApplicantProfile struct {
	AnnualIncome     float64 `json:"annualIncome"`
	EmploymentStatus string  `json:"employmentStatus"`
}

// EligibilityResult is the eligibility service's assessment.
type EligibilityResult struct {
	ApplicantID string                 `json:"applicantId"`
	Eligible    bool                   `json:"eligible"`
	MaxAmount   float64                `json:"maxAmount"`
	Reference   string                 `json:"eligibilityReference"`
	Assessment  *EligibilityAssessment `json:"assessment,omitempty"`
}

type EligibilityAssessment struct {
	CreditScore       float64 `json:"creditScore"`
	CreditGrade       string  `json:"creditGrade"`
	DebtToIncomeRatio float64 `json:"debtToIncomeRatio"`
}

// OfferRequest composes the applicant's request, preferences and the
// eligibility outcome for the customer offer service.
type OfferRequest struct {
	ApplicantID     string          `json:"applicantId"`
	Amount          float64         `json:"amount"`
	Preferences     OfferPrefs      `json:"preferences"`
	EligibilityData EligibilityData `json:"eligibilityData"`
}

type OfferPrefs struct {
	PreferredTermMonths int      `json:"preferredTermMonths"`
	MaxMonthlyPayment   *float64 `json:"maxMonthlyPayment,omitempty"`
	LoanPurpose         string   `json:"loanPurpose"`
	ProductType         string   `json:"productType"`
	AutoPayEnrollment   bool     `json:"autoPayEnrollment"`
	RateType            string   `json:"rateType"`
}

type EligibilityData struct {
	EligibilityReference string  `json:"eligibilityReference"`
	CreditScore          float64 `json:"creditScore"`
	CreditGrade          string  `json:"creditGrade"`
	MaxEligibleAmount    float64 `json:"maxEligibleAmount"`
}

// Offer is the priced loan offer produced by the customer offer service.
type Offer struct {
	OfferID     string           `json:"offerId"`
	ApplicantID string           `json:"applicantId"`
	Amount      float64          `json:"amount"`
	Terms       Terms            `json:"terms"`
	Pricing     PricingStructure `json:"pricing"`
	Conditions  OfferConditions  `json:"conditions"`

	OfferDate      time.Time `json:"offerDate"`
	ExpirationDate time.Time `json:"expirationDate"`
	Status         string    `json:"status"`
}

type Terms struct {
	TermMonths         int       `json:"termMonths"`
	MonthlyPayment     float64   `json:"monthlyPayment"`
	FirstPaymentDate   time.Time `json:"firstPaymentDate"`
	TotalOfPayments    float64   `json:"totalOfPayments"`
	RepaymentFrequency string    `json:"repaymentFrequency"`
}

type PricingStructure struct {
	InterestRate float64 `json:"interestRate"`
	APR          float64 `json:"apr"`
	RateType     string  `json:"rateType"`
	Fees         []Fee   `json:"fees,omitempty"`
}

type Fee struct {
	FeeType     string  `json:"feeType"`
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
	Frequency   string  `json:"frequency"`
}

type OfferConditions struct {
	RequiredDocuments          []string `json:"requiredDocuments,omitempty"`
	Stipulations               []string `json:"stipulations,omitempty"`
	IncomeVerificationRequired bool     `json:"incomeVerificationRequired"`
	CollateralRequired         bool     `json:"collateralRequired"`
}

// AgreementRequest asks the sales agreement service to record an agreement
// for an accepted offer.
type AgreementRequest struct {
	OfferID string `json:"offerId"`
}

type Agreement struct {
	AgreementID string    `json:"agreementId"`
	OfferID     string    `json:"offerId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// AccountRequest asks the consumer loan service to open the loan account.
type AccountRequest struct {
	AgreementID string `json:"agreementId"`
}

type Account struct {
	AccountID   string        `json:"loanAccountId"`
	AgreementID string        `json:"agreementId"`
	Schedule    *LoanSchedule `json:"schedule,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
}

type LoanSchedule struct {
	MonthlyPayment   float64 `json:"monthlyPayment"`
	PaymentDay       int     `json:"paymentDay"`
	PaymentFrequency string  `json:"paymentFrequency"`
}

// DisbursementRequest asks the payment order service to move funds into
// the new loan account.
type DisbursementRequest struct {
	SourceAccount      string  `json:"sourceAccount"`
	DestinationAccount string  `json:"destinationAccount"`
	Amount             float64 `json:"amount"`
}

// Payment is the payment order service's confirmation.
type Payment struct {
	PaymentID  string             `json:"paymentId"`
	Reference  string             `json:"paymentOrderReference"`
	Status     string             `json:"status"`
	Settlement *SettlementDetails `json:"settlement,omitempty"`
	CreatedAt  time.Time          `json:"createdAt"`
}

type SettlementDetails struct {
	SettlementMethod string    `json:"settlementMethod"`
	SettlementDate   time.Time `json:"settlementDate"`
	SettlementAmount float64   `json:"settlementAmount"`
	ClearingRef      string    `json:"clearingSystemReference"`
}

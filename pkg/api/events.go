package api

import "time"

// Stage identifies a user-visible milestone of the loan journey. Stages are
// published to the external event sink and journalled per instance.
type Stage string

const (
	StageOfferPrepared     Stage = "OfferPrepared"
	StageDocumentsVerified Stage = "DocumentsVerified"
	StageOfferAccepted     Stage = "OfferAccepted"
	StageAgreementCreated  Stage = "AgreementCreated"
	StageAccountCreated    Stage = "AccountCreated"
	StageLoanDisbursed     Stage = "LoanDisbursed"
)

// Event is one journalled milestone for a workflow instance.
//
// Seq is assigned by the event store and is strictly increasing per
// instance, matching the order of step transitions. Payload is the opaque
// value produced by the step that triggered the event; the orchestrator
// never inspects it.
type Event struct {
	WorkflowID string
	Seq        int64
	Stage      Stage
	Payload    any
	At         time.Time
}

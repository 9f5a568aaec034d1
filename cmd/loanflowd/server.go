package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/lendr/loanflow"
	"github.com/lendr/loanflow/pkg/api"
	"github.com/lendr/loanflow/pkg/loan"
	"github.com/lendr/loanflow/pkg/worker"
)

// applicationRequest mirrors the shape the front end submits: a nested
// applicant profile plus loan preferences. The facade flattens it into the
// workflow input.
type applicationRequest struct {
	ApplicantProfile struct {
		FullName     string `json:"fullName"`
		SSN          string `json:"ssn"`
		Email        string `json:"email"`
		PrimaryPhone string `json:"primaryPhone"`
		Employment   struct {
			AnnualIncome     float64 `json:"annualIncome"`
			EmploymentStatus string  `json:"employmentStatus"`
		} `json:"employment"`
	} `json:"applicantProfile"`
	RequestedAmount float64 `json:"requestedAmount"`
	LoanPreferences struct {
		LoanPurpose         string   `json:"loanPurpose"`
		PreferredTermMonths int      `json:"preferredTermMonths"`
		MaxMonthlyPayment   *float64 `json:"maxMonthlyPayment"`
		ProductType         string   `json:"productType"`
		AutoPayEnrollment   bool     `json:"autoPayEnrollment"`
	} `json:"loanPreferences"`
}

func (r applicationRequest) toApplication() loan.Application {
	return loan.Application{
		ApplicantName:       r.ApplicantProfile.FullName,
		SSN:                 r.ApplicantProfile.SSN,
		Email:               r.ApplicantProfile.Email,
		PhoneNumber:         r.ApplicantProfile.PrimaryPhone,
		AnnualIncome:        r.ApplicantProfile.Employment.AnnualIncome,
		EmploymentStatus:    r.ApplicantProfile.Employment.EmploymentStatus,
		RequestedAmount:     r.RequestedAmount,
		LoanPurpose:         r.LoanPreferences.LoanPurpose,
		PreferredTermMonths: r.LoanPreferences.PreferredTermMonths,
		MaxMonthlyPayment:   r.LoanPreferences.MaxMonthlyPayment,
		ProductType:         r.LoanPreferences.ProductType,
		AutoPayEnrollment:   r.LoanPreferences.AutoPayEnrollment,
	}
}

type server struct {
	engine  loanflow.Engine
	worker  *worker.Worker
	metrics *loanflow.BasicMetrics
	logger  *slog.Logger
}

func newServer(eng loanflow.Engine, w *worker.Worker, metrics *loanflow.BasicMetrics, logger *slog.Logger) http.Handler {
	s := &server{engine: eng, worker: w, metrics: metrics, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/loan-applications", s.handleCreate)
	mux.HandleFunc("GET /api/loan-applications", s.handleList)
	mux.HandleFunc("GET /api/loan-applications/{id}", s.handleGet)
	mux.HandleFunc("GET /api/loan-applications/{id}/events", s.handleEvents)
	mux.HandleFunc("POST /api/loan-applications/{id}/verify-documents", s.signalHandler(api.SignalDocumentsVerified))
	mux.HandleFunc("POST /api/loan-applications/{id}/accept-offer", s.signalHandler(api.SignalOfferAccepted))
	mux.HandleFunc("POST /api/loan-applications/{id}/trigger-disbursement", s.signalHandler(api.SignalDisbursementTriggered))
	mux.HandleFunc("GET /internal/metrics", s.handleMetrics)
	return mux
}

// handleCreate accepts a loan application, assigns it a workflow id, and
// enqueues it for execution. The workflow has not started when the response
// is written; callers poll GET /api/loan-applications/{id} for progress.
func (s *server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req applicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	app := req.toApplication()
	switch {
	case app.ApplicantName == "":
		http.Error(w, "applicantProfile.fullName is required", http.StatusBadRequest)
		return
	case app.SSN == "":
		http.Error(w, "applicantProfile.ssn is required", http.StatusBadRequest)
		return
	case app.RequestedAmount <= 0:
		http.Error(w, "requestedAmount must be positive", http.StatusBadRequest)
		return
	}

	id, err := s.worker.EnqueueStart(r.Context(), "", app)
	if err != nil {
		s.logger.Error("enqueue application failed", slog.Any("error", err))
		http.Error(w, "failed to accept application", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"applicationId": id,
	})
}

// signalHandler returns a handler that delivers the given signal to the
// workflow named in the path. The body, if any, is carried as the signal
// payload for auditability.
func (s *server) signalHandler(sig api.Signal) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		inst, err := s.engine.Get(r.Context(), id)
		if err != nil {
			if errors.Is(err, api.ErrInstanceNotFound) {
				http.Error(w, "no such loan application", http.StatusNotFound)
				return
			}
			s.logger.Error("lookup failed", slog.String("id", id), slog.Any("error", err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if inst.Status.Terminal() {
			// Finished instances no longer accept decisions; to the caller
			// they are indistinguishable from unknown ids.
			http.Error(w, "no such loan application", http.StatusNotFound)
			return
		}

		// The body, when present, rides along as the signal payload. An empty
		// or absent body means no payload at all, not an empty object.
		var decoded map[string]any
		_ = json.NewDecoder(r.Body).Decode(&decoded)
		var payload any
		if len(decoded) > 0 {
			payload = decoded
		}

		if err := s.worker.EnqueueSignal(r.Context(), id, sig, payload); err != nil {
			s.logger.Error("enqueue signal failed",
				slog.String("id", id),
				slog.String("signal", string(sig)),
				slog.Any("error", err))
			http.Error(w, "failed to enqueue signal", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]any{
			"applicationId": id,
			"signal":        string(sig),
		})
	}
}

// instanceView is the read-model shape for a workflow instance.
type instanceView struct {
	ApplicationID string          `json:"applicationId"`
	Status        loanflow.Status `json:"status"`
	Step          loanflow.Step   `json:"step"`
	Applicant     string          `json:"applicant,omitempty"`
	Offer         any             `json:"offer,omitempty"`
	Error         string          `json:"error,omitempty"`
	SignalsSeen   []string        `json:"signalsSeen,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

func viewOf(inst *loanflow.WorkflowInstance) instanceView {
	v := instanceView{
		ApplicationID: inst.ID,
		Status:        inst.Status,
		Step:          inst.Step,
		Error:         inst.Err,
		CreatedAt:     inst.CreatedAt,
		UpdatedAt:     inst.UpdatedAt,
	}
	if app, ok := inst.Input.(loan.Application); ok {
		v.Applicant = app.ApplicantName
	}
	if offer, ok := inst.Outputs[api.StepOfferGenerated]; ok {
		v.Offer = offer
	}
	for sig := range inst.Signals {
		v.SignalsSeen = append(v.SignalsSeen, string(sig))
	}
	return v
}

func (s *server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	inst, err := s.engine.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, api.ErrInstanceNotFound) {
			http.Error(w, "no such loan application", http.StatusNotFound)
			return
		}
		s.logger.Error("lookup failed", slog.String("id", id), slog.Any("error", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(inst))
}

func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	opts := loanflow.ListOptions{}
	if q := r.URL.Query().Get("status"); q != "" {
		opts.Status = loanflow.Status(q)
	}

	instances, err := s.engine.List(r.Context(), opts)
	if err != nil {
		s.logger.Error("list failed", slog.Any("error", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	out := make([]instanceView, 0, len(instances))
	for _, inst := range instances {
		out = append(out, viewOf(inst))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	events, err := s.engine.Events(r.Context(), id)
	if err != nil {
		if errors.Is(err, api.ErrInstanceNotFound) {
			http.Error(w, "no such loan application", http.StatusNotFound)
			return
		}
		s.logger.Error("events lookup failed", slog.String("id", id), slog.Any("error", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	type eventView struct {
		Seq     int64     `json:"seq"`
		Stage   string    `json:"stage"`
		Payload any       `json:"payload,omitempty"`
		At      time.Time `json:"at"`
	}
	out := make([]eventView, 0, len(events))
	for _, ev := range events {
		out = append(out, eventView{
			Seq:     ev.Seq,
			Stage:   string(ev.Stage),
			Payload: ev.Payload,
			At:      ev.At,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

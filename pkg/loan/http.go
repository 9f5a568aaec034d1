package loan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lendr/loanflow/pkg/api"
)

// HTTPClientConfig configures the HTTP collaborator clients. Base URLs
// default to the docker-compose service names used in deployment.
type HTTPClientConfig struct {
	EligibilityURL string
	OfferURL       string
	AgreementURL   string
	AccountURL     string
	PaymentURL     string
	EventSinkURL   string

	// Client, if nil, defaults to http.DefaultClient. Per-attempt
	// deadlines are applied by the activity invoker via context, not here.
	Client *http.Client
}

// NewHTTPCollaborators builds a Collaborators set that talks JSON over HTTP
// to the five domain services and the event sink.
func NewHTTPCollaborators(cfg HTTPClientConfig) Collaborators {
	c := cfg.Client
	if c == nil {
		c = http.DefaultClient
	}
	return Collaborators{
		Eligibility: &httpEligibility{base: cfg.EligibilityURL, client: c},
		Offers:      &httpOffers{base: cfg.OfferURL, client: c},
		Agreements:  &httpAgreements{base: cfg.AgreementURL, client: c},
		Accounts:    &httpAccounts{base: cfg.AccountURL, client: c},
		Payments:    &httpPayments{base: cfg.PaymentURL, client: c},
		Events:      &httpEventSink{base: cfg.EventSinkURL, client: c},
	}
}

// postJSON performs one POST with a JSON body and decodes the JSON response
// into out (out may be nil to discard the body).
//
// Error classification follows the activity retry contract: transport
// errors and 5xx responses are retryable, 4xx responses are fatal.
func postJSON(ctx context.Context, client *http.Client, base, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return api.NewFatal(fmt.Errorf("encode %s request: %w", path, err))
	}

	url := strings.TrimRight(base, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return api.NewFatal(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return api.NewRetryable(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return api.NewRetryable(fmt.Errorf("POST %s: %s", url, resp.Status))
	case resp.StatusCode >= 400:
		return api.NewFatal(fmt.Errorf("POST %s: %s", url, resp.Status))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		// A well-formed 2xx with an undecodable body will not improve on
		// retry; the collaborator is misbehaving.
		return api.NewFatal(fmt.Errorf("decode %s response: %w", url, err))
	}
	return nil
}

type httpEligibility struct {
	base   string
	client *http.Client
}

func (s *httpEligibility) CheckEligibility(ctx context.Context, req EligibilityRequest) (*EligibilityResult, error) {
	var res EligibilityResult
	if err := postJSON(ctx, s.client, s.base, "/eligibility-assessments", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

type httpOffers struct {
	base   string
	client *http.Client
}

func (s *httpOffers) GenerateOffer(ctx context.Context, req OfferRequest) (*Offer, error) {
	var offer Offer
	if err := postJSON(ctx, s.client, s.base, "/customer-offers", req, &offer); err != nil {
		return nil, err
	}
	return &offer, nil
}

type httpAgreements struct {
	base   string
	client *http.Client
}

func (s *httpAgreements) CreateAgreement(ctx context.Context, req AgreementRequest) (*Agreement, error) {
	var agr Agreement
	if err := postJSON(ctx, s.client, s.base, "/sales-product-agreements", req, &agr); err != nil {
		return nil, err
	}
	return &agr, nil
}

type httpAccounts struct {
	base   string
	client *http.Client
}

func (s *httpAccounts) CreateAccount(ctx context.Context, req AccountRequest) (*Account, error) {
	var acc Account
	if err := postJSON(ctx, s.client, s.base, "/consumer-loans", req, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

type httpPayments struct {
	base   string
	client *http.Client
}

func (s *httpPayments) ExecuteDisbursement(ctx context.Context, req DisbursementRequest) (*Payment, error) {
	var pay Payment
	if err := postJSON(ctx, s.client, s.base, "/payment-orders", req, &pay); err != nil {
		return nil, err
	}
	return &pay, nil
}

type httpEventSink struct {
	base   string
	client *http.Client
}

type sinkEvent struct {
	Stage string `json:"stage"`
	Data  any    `json:"data,omitempty"`
}

func (s *httpEventSink) PublishEvent(ctx context.Context, workflowID string, stage string, payload any) error {
	return postJSON(ctx, s.client, s.base, "/internal/notify/"+workflowID, sinkEvent{Stage: stage, Data: payload}, nil)
}

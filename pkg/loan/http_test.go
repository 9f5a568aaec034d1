package loan

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lendr/loanflow/pkg/api"
)

func TestCheckEligibilityRoundTrip(t *testing.T) {
	var gotPath string
	var gotBody EligibilityRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(EligibilityResult{
			ApplicantID: gotBody.ApplicantID,
			Eligible:    true,
			MaxAmount:   80000,
			Reference:   "ELIG-77",
		})
	}))
	defer srv.Close()

	collab := NewHTTPCollaborators(HTTPClientConfig{EligibilityURL: srv.URL})
	res, err := collab.Eligibility.CheckEligibility(context.Background(), EligibilityRequest{
		ApplicantID:     "123-45-6789",
		RequestedAmount: 50000,
	})
	require.NoError(t, err)

	assert.Equal(t, "/eligibility-assessments", gotPath)
	assert.Equal(t, "123-45-6789", gotBody.ApplicantID)
	assert.True(t, res.Eligible)
	assert.Equal(t, "ELIG-77", res.Reference)
}

func TestServerErrorsAreRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	collab := NewHTTPCollaborators(HTTPClientConfig{OfferURL: srv.URL})
	_, err := collab.Offers.GenerateOffer(context.Background(), OfferRequest{})
	require.Error(t, err)
	assert.True(t, api.IsRetryable(err))
	assert.False(t, api.IsFatal(err))
}

func TestClientErrorsAreFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such offer", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	collab := NewHTTPCollaborators(HTTPClientConfig{AgreementURL: srv.URL})
	_, err := collab.Agreements.CreateAgreement(context.Background(), AgreementRequest{OfferID: "OFR-X"})
	require.Error(t, err)
	assert.True(t, api.IsFatal(err))
}

func TestTransportErrorsAreRetryable(t *testing.T) {
	// Point the client at a closed server.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	collab := NewHTTPCollaborators(HTTPClientConfig{AccountURL: srv.URL})
	_, err := collab.Accounts.CreateAccount(context.Background(), AccountRequest{AgreementID: "AGR-X"})
	require.Error(t, err)
	assert.True(t, api.IsRetryable(err))
}

func TestUndecodableSuccessBodyIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	collab := NewHTTPCollaborators(HTTPClientConfig{PaymentURL: srv.URL})
	_, err := collab.Payments.ExecuteDisbursement(context.Background(), DisbursementRequest{})
	require.Error(t, err)
	assert.True(t, api.IsFatal(err))
}

func TestPublishEventTargetsWorkflowRoute(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	collab := NewHTTPCollaborators(HTTPClientConfig{EventSinkURL: srv.URL})
	err := collab.Events.PublishEvent(context.Background(), "wf-42", "OfferPrepared", map[string]any{"offerId": "OFR-1"})
	require.NoError(t, err)

	assert.Equal(t, "/internal/notify/wf-42", gotPath)
	assert.Equal(t, "OfferPrepared", gotBody["stage"])
}

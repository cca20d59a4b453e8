package verification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSourceFetchTrial(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/verifications/v42", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(trialPayload{
			State:               "VERIFICATION_FAILED",
			TrialsSoFar:         3,
			LastRejectionReason: "face not visible",
		})
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, "tok", nil)
	trial, err := src.FetchTrial(context.Background(), "v42")
	require.NoError(t, err)

	assert.Equal(t, TrialVerificationFailed, trial.State)
	assert.Equal(t, 3, trial.TrialsSoFar)
	assert.Equal(t, "face not visible", trial.LastRejectionReason)
}

func TestHTTPSourceServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, "", nil)
	_, err := src.FetchTrial(context.Background(), "v1")
	assert.ErrorIs(t, err, ErrSource)
}

func TestHTTPSourceUnknownState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(trialPayload{State: "SOMETHING_NEW"})
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, "", nil)
	_, err := src.FetchTrial(context.Background(), "v1")
	assert.ErrorIs(t, err, ErrSource)
}

func TestParseTrialStateRoundTrip(t *testing.T) {
	states := []TrialState{
		TrialProcessingMedia,
		TrialVerificationInProgress,
		TrialVerificationFailed,
		TrialReadyForUse,
		TrialProcessingFailed,
	}
	for _, s := range states {
		parsed, err := parseTrialState(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
}

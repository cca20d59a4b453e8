package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrSource is returned for network or server failures reaching the
// verification status endpoint. The poller treats these as transient.
var ErrSource = errors.New("verification status request failed")

const defaultSourceTimeout = 10 * time.Second

// HTTPSource fetches trial snapshots from the backend status endpoint.
type HTTPSource struct {
	baseURL   string
	authToken string
	httpc     *http.Client
}

// NewHTTPSource creates a status source. httpc may be nil.
func NewHTTPSource(baseURL, authToken string, httpc *http.Client) *HTTPSource {
	if httpc == nil {
		httpc = &http.Client{Timeout: defaultSourceTimeout}
	}
	return &HTTPSource{baseURL: baseURL, authToken: authToken, httpc: httpc}
}

// trialPayload is the wire form of a trial snapshot.
type trialPayload struct {
	State               string `json:"state"`
	TrialsSoFar         int    `json:"trialsSoFar"`
	LastRejectionReason string `json:"lastRejectionReason,omitempty"`
}

// FetchTrial implements Source.
func (s *HTTPSource) FetchTrial(ctx context.Context, verificationID string) (*Trial, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.baseURL+"/v1/verifications/"+verificationID, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSource, err)
	}
	if s.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.authToken)
	}

	resp, err := s.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSource, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrSource, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrSource, resp.StatusCode)
	}

	var payload trialPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrSource, err)
	}

	state, err := parseTrialState(payload.State)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSource, err)
	}

	return &Trial{
		State:               state,
		TrialsSoFar:         payload.TrialsSoFar,
		LastRejectionReason: payload.LastRejectionReason,
	}, nil
}

func parseTrialState(s string) (TrialState, error) {
	switch s {
	case "PROCESSING_MEDIA":
		return TrialProcessingMedia, nil
	case "VERIFICATION_IN_PROGRESS":
		return TrialVerificationInProgress, nil
	case "VERIFICATION_FAILED":
		return TrialVerificationFailed, nil
	case "READY_FOR_USE":
		return TrialReadyForUse, nil
	case "PROCESSING_FAILED":
		return TrialProcessingFailed, nil
	default:
		return 0, fmt.Errorf("unknown trial state %q", s)
	}
}

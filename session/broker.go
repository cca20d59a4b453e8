package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Sentinel errors for errors.Is() checks.
var (
	// ErrBackend is returned for network or server failures talking to the
	// room broker. These are retryable by the caller.
	ErrBackend = errors.New("room broker request failed")

	// ErrMissingPeerKey marks a bootstrap that completed without learning
	// the peer's public key. The room is usable but encryption is degraded
	// until a key arrives.
	ErrMissingPeerKey = errors.New("peer public key missing from broker response")
)

// APIError represents an HTTP error response from the room broker.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("broker error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("broker error %d", e.StatusCode)
}

// CreateRoomRequest is the payload submitted to the room-creation endpoint.
type CreateRoomRequest struct {
	TargetPeerID   string `json:"targetPeerId"`
	RegistrationID uint32 `json:"registrationId"`
	PublicKey      []byte `json:"publicKey"`
}

// CreateRoomResponse is the broker's answer. TargetPublicKey may be absent
// when the peer has not published a key yet.
type CreateRoomResponse struct {
	RoomID          string `json:"roomId"`
	TargetPublicKey []byte `json:"targetPublicKey,omitempty"`
	AlreadyExists   bool   `json:"alreadyExists,omitempty"`
}

// RoomCreator is the broker surface the bootstrap protocol depends on.
type RoomCreator interface {
	CreateRoom(ctx context.Context, req CreateRoomRequest) (*CreateRoomResponse, error)
}

const defaultBrokerTimeout = 15 * time.Second

// BrokerClient talks HTTP+JSON to the backend room broker.
type BrokerClient struct {
	baseURL   string
	authToken string
	httpc     *http.Client
}

// NewBrokerClient creates a broker client. httpc may be nil, in which case a
// client with a sane timeout is used.
func NewBrokerClient(baseURL, authToken string, httpc *http.Client) *BrokerClient {
	if httpc == nil {
		httpc = &http.Client{Timeout: defaultBrokerTimeout}
	}
	return &BrokerClient{baseURL: baseURL, authToken: authToken, httpc: httpc}
}

// CreateRoom calls the room-creation endpoint. Network and server failures
// are wrapped in ErrBackend so callers can classify them as retryable.
func (c *BrokerClient) CreateRoom(ctx context.Context, req CreateRoomRequest) (*CreateRoomResponse, error) {
	body, err := json.Marshal(&req)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrBackend, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/rooms", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrBackend, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errBody struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &errBody) == nil {
			apiErr.Message = errBody.Message
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, apiErr)
	}

	var out CreateRoomResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrBackend, err)
	}
	if out.RoomID == "" {
		return nil, fmt.Errorf("%w: response missing roomId", ErrBackend)
	}

	logrus.WithFields(logrus.Fields{
		"function":       "CreateRoom",
		"room_id":        out.RoomID,
		"already_exists": out.AlreadyExists,
		"peer_key_known": len(out.TargetPublicKey) > 0,
	}).Debug("Room broker call completed")

	return &out, nil
}

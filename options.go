package chatcore

import (
	"errors"
	"net/http"
	"time"

	"github.com/sable-im/chatcore/identity"
	"github.com/sable-im/chatcore/ratelimit"
	"github.com/sable-im/chatcore/transport"
	"github.com/sable-im/chatcore/verification"
)

// Options contains configuration for creating a Client.
type Options struct {
	// DataDir is the directory for the encrypted key vault and device id.
	DataDir string
	// MasterPassword protects the key vault. Wiped during New.
	MasterPassword []byte
	// UserID identifies the authenticated user session.
	UserID string
	// BrokerURL is the base URL of the backend API (room creation and
	// verification status endpoints).
	BrokerURL string
	// TransportURL is the realtime transport endpoint.
	TransportURL string
	// AuthToken is the bearer token for backend calls. Optional.
	AuthToken string

	// PreviewWindow and PreviewMaxMessages configure the notification spam
	// limiter. Zero values use the package defaults.
	PreviewWindow      time.Duration
	PreviewMaxMessages int

	// VerificationInterval is the verification poll interval.
	VerificationInterval time.Duration

	// ReconnectBase and ReconnectMax bound the transport backoff.
	ReconnectBase time.Duration
	ReconnectMax  time.Duration

	// PlatformDeviceID supplies a platform identifier for the device id
	// helper. Optional.
	PlatformDeviceID identity.PlatformIDSource

	// HTTPClient overrides the HTTP client for backend calls. Optional.
	HTTPClient *http.Client
	// Dialer overrides the transport dialer. Optional, used by tests.
	Dialer transport.Dialer
}

// NewOptions returns options populated with defaults. DataDir,
// MasterPassword, UserID, BrokerURL and TransportURL must still be set.
func NewOptions() *Options {
	return &Options{
		PreviewWindow:        ratelimit.DefaultWindow,
		PreviewMaxMessages:   ratelimit.DefaultMaxMessages,
		VerificationInterval: verification.DefaultInterval,
	}
}

func (o *Options) validate() error {
	if o == nil {
		return errors.New("options are required")
	}
	if o.DataDir == "" {
		return errors.New("data dir is required")
	}
	if len(o.MasterPassword) == 0 {
		return errors.New("master password is required")
	}
	if o.UserID == "" {
		return errors.New("user id is required")
	}
	if o.BrokerURL == "" {
		return errors.New("broker url is required")
	}
	if o.TransportURL == "" {
		return errors.New("transport url is required")
	}
	return nil
}

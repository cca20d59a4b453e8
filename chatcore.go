// Package chatcore implements the client-side secure-messaging core of a
// social application: per-conversation encrypted session bootstrap between
// two users, identity exchange through a backend broker, a live
// bidirectional transport for message delivery, and reconciliation of an
// asynchronous content-verification pipeline via polling.
//
// Example:
//
//	opts := chatcore.NewOptions()
//	opts.DataDir = "/home/me/.chatcore"
//	opts.MasterPassword = []byte("passphrase")
//	opts.UserID = "alice"
//	opts.BrokerURL = "https://api.example.com"
//	opts.TransportURL = "wss://rt.example.com/v1/stream"
//
//	client, err := chatcore.New(opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Kill()
//
//	client.OnMessage(func(msg *transport.MessageEvent, showPreview bool) {
//	    if showPreview {
//	        fmt.Printf("message in %s from %s\n", msg.RoomID, msg.SenderID)
//	    }
//	})
//
//	room, err := client.StartConversation(ctx, "bob")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := client.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	_ = room
package chatcore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/sable-im/chatcore/identity"
	"github.com/sable-im/chatcore/peerstore"
	"github.com/sable-im/chatcore/ratelimit"
	"github.com/sable-im/chatcore/session"
	"github.com/sable-im/chatcore/transport"
	"github.com/sable-im/chatcore/verification"
)

// ErrKilled is returned by operations on a client after Kill.
var ErrKilled = errors.New("client has been killed")

// MessageHandler receives delivered messages. showPreview is the rate
// limiter's verdict on surfacing a notification preview for this message.
type MessageHandler func(msg *transport.MessageEvent, showPreview bool)

// ConnectionHandler receives transport lifecycle events (connect,
// disconnect, error).
type ConnectionHandler func(event transport.Event, err error)

// Client wires the secure-messaging core together. One Client is created
// per authenticated user session and torn down with the owning screen
// context via Kill; it is passed explicitly to the components that need it,
// never held as ambient global state.
type Client struct {
	opts *Options

	identity *identity.Store
	device   *identity.DeviceID
	peers    *peerstore.Store
	broker   *session.BrokerClient
	boot     *session.Bootstrap
	sessions *session.SessionManager
	limiter  *ratelimit.Limiter
	poller   *verification.Poller

	mu        sync.Mutex
	killed    bool
	transport *transport.Manager
	onMessage MessageHandler
	onConn    ConnectionHandler
}

// New creates a client from options. It performs no I/O beyond opening the
// local key vault; identity generation happens lazily on first use.
func New(opts *Options) (*Client, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	ids, err := identity.NewStore(opts.DataDir, opts.MasterPassword)
	if err != nil {
		return nil, err
	}

	peers := peerstore.New()
	broker := session.NewBrokerClient(opts.BrokerURL, opts.AuthToken, opts.HTTPClient)

	c := &Client{
		opts:     opts,
		identity: ids,
		device:   identity.NewDeviceID(opts.DataDir, opts.PlatformDeviceID),
		peers:    peers,
		broker:   broker,
		boot:     session.NewBootstrap(ids, broker, peers),
		sessions: session.NewSessionManager(),
		limiter:  ratelimit.New(opts.PreviewWindow, opts.PreviewMaxMessages),
		poller: verification.NewPoller(
			verification.NewHTTPSource(opts.BrokerURL, opts.AuthToken, opts.HTTPClient),
			opts.VerificationInterval,
		),
	}

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"user_id":  opts.UserID,
	}).Debug("Chat core client created")

	return c, nil
}

// PublicKey returns the local identity public key.
func (c *Client) PublicKey(ctx context.Context) ([32]byte, error) {
	return c.identity.PublicKey(ctx)
}

// RegistrationID returns the local registration identifier.
func (c *Client) RegistrationID(ctx context.Context) (uint32, error) {
	return c.identity.RegistrationID(ctx)
}

// DeviceID returns the stable device identifier.
func (c *Client) DeviceID(ctx context.Context) (string, error) {
	return c.device.Get(ctx)
}

// StartConversation bootstraps a conversation room with the target peer and
// returns the handle used to address the transport and navigate the UI.
func (c *Client) StartConversation(ctx context.Context, peerID string) (*session.RoomHandle, error) {
	c.mu.Lock()
	if c.killed {
		c.mu.Unlock()
		return nil, ErrKilled
	}
	c.mu.Unlock()

	return c.boot.CreateRoom(ctx, peerID)
}

// NewPeerHandshake creates a pairwise session handshake with a peer whose
// key was learned during bootstrap. The caller carries the handshake
// messages over the transport; the completed session should be stored via
// Sessions().
func (c *Client) NewPeerHandshake(ctx context.Context, peerID string, initiator bool) (*session.Handshake, error) {
	id, err := c.identity.GetOrCreate(ctx)
	if err != nil {
		return nil, err
	}

	var peerKey [32]byte
	if initiator {
		key, ok := c.boot.PeerKey(peerID)
		if !ok {
			return nil, fmt.Errorf("%w: peer %q", session.ErrMissingPeerKey, peerID)
		}
		peerKey = key
	}

	return session.NewHandshake(initiator, id.KeyPair, peerKey)
}

// Sessions exposes the established pairwise session cache.
func (c *Client) Sessions() *session.SessionManager {
	return c.sessions
}

// OnMessage sets the handler invoked for every delivered message. Must be
// called before Connect.
func (c *Client) OnMessage(h MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = h
}

// OnConnection sets the handler for transport lifecycle events. Must be
// called before Connect.
func (c *Client) OnConnection(h ConnectionHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConn = h
}

// Connect resolves the local identity and starts the realtime transport.
// Safe to call again while connected; that is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	id, err := c.identity.GetOrCreate(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.killed {
		c.mu.Unlock()
		return ErrKilled
	}
	if c.transport == nil {
		mgr, err := transport.NewManager(transport.Config{
			Endpoint:      c.opts.TransportURL,
			UserID:        c.opts.UserID,
			KeyHandle:     hex.EncodeToString(id.KeyPair.Public[:]),
			Dialer:        c.opts.Dialer,
			ReconnectBase: c.opts.ReconnectBase,
			ReconnectMax:  c.opts.ReconnectMax,
		})
		if err != nil {
			c.mu.Unlock()
			return err
		}
		c.wireTransport(mgr)
		c.transport = mgr
	}
	mgr := c.transport
	c.mu.Unlock()

	return mgr.Connect(ctx)
}

// wireTransport registers the client's internal handlers. Caller holds c.mu.
func (c *Client) wireTransport(mgr *transport.Manager) {
	mgr.On(transport.EventMessage, func(event transport.Event, payload interface{}) {
		msg, ok := payload.(*transport.MessageEvent)
		if !ok {
			return
		}
		show := c.limiter.CanShowPreview(msg.SenderID)
		c.limiter.RecordMessage(msg.SenderID)

		c.mu.Lock()
		h := c.onMessage
		c.mu.Unlock()
		if h != nil {
			h(msg, show)
		}
	})

	for _, ev := range []transport.Event{transport.EventConnect, transport.EventDisconnect, transport.EventError} {
		ev := ev
		mgr.On(ev, func(event transport.Event, payload interface{}) {
			c.mu.Lock()
			h := c.onConn
			c.mu.Unlock()
			if h == nil {
				return
			}
			err, _ := payload.(error)
			h(event, err)
		})
	}
}

// ConnectionState returns the transport state, StateDisconnected before the
// first Connect.
func (c *Client) ConnectionState() transport.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport == nil {
		return transport.StateDisconnected
	}
	return c.transport.State()
}

// Send delivers a payload to a room over the live transport.
func (c *Client) Send(ctx context.Context, roomID string, payload []byte) error {
	c.mu.Lock()
	mgr := c.transport
	c.mu.Unlock()
	if mgr == nil {
		return transport.ErrNotConnected
	}
	return mgr.Send(ctx, roomID, payload)
}

// Verification exposes the polling state machine so callers can set status,
// alert and prompt callbacks before watching an id.
func (c *Client) Verification() *verification.Poller {
	return c.poller
}

// WatchVerification starts polling the given verification id.
func (c *Client) WatchVerification(ctx context.Context, verificationID string) error {
	c.mu.Lock()
	if c.killed {
		c.mu.Unlock()
		return ErrKilled
	}
	c.mu.Unlock()
	return c.poller.Start(ctx, verificationID)
}

// Kill tears the client down: the transport is disconnected and its
// handlers dropped, verification polling stops and pending results are
// discarded. Durable identity and learned peer keys are left untouched.
func (c *Client) Kill() {
	c.mu.Lock()
	if c.killed {
		c.mu.Unlock()
		return
	}
	c.killed = true
	mgr := c.transport
	c.transport = nil
	c.mu.Unlock()

	if mgr != nil {
		mgr.Disconnect()
	}
	c.poller.Stop()
	c.identity.Close()

	logrus.WithFields(logrus.Fields{
		"function": "Kill",
		"user_id":  c.opts.UserID,
	}).Info("Chat core client torn down")
}

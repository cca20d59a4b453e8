package transport

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sable-im/chatcore/limits"
	"github.com/sable-im/chatcore/timeutil"
)

// State is the connection lifecycle state of a Manager.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

var (
	// ErrClosed is returned when operations are attempted after Disconnect.
	// Explicit disconnect is terminal; create a new Manager to reconnect.
	ErrClosed = errors.New("transport has been closed")

	// ErrNotConnected is returned by Send while no connection is live.
	ErrNotConnected = errors.New("transport not connected")
)

const (
	defaultReconnectBase = 500 * time.Millisecond
	defaultReconnectMax  = 30 * time.Second
	defaultDialTimeout   = 10 * time.Second
)

// Config parameterizes a Manager for one authenticated user session.
type Config struct {
	// Endpoint is the backend transport URL.
	Endpoint string
	// UserID identifies the authenticated session.
	UserID string
	// KeyHandle is the public-key handle presented during the transport
	// handshake. Never the private key.
	KeyHandle string

	// Dialer defaults to WebSocketDialer.
	Dialer Dialer

	ReconnectBase time.Duration
	ReconnectMax  time.Duration
	DialTimeout   time.Duration
}

// Manager owns one persistent connection and its reconnect lifecycle.
// A new Connect request while already Connecting or Connected is a no-op,
// so two connection attempts are never in flight at once.
type Manager struct {
	cfg      Config
	endpoint string
	registry *handlerRegistry
	clock    timeutil.TimeProvider

	mu     sync.Mutex
	state  State
	closed bool
	conn   Conn
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a Manager for the given session. It does not connect.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("transport endpoint is required")
	}
	if cfg.UserID == "" {
		return nil, errors.New("user id is required")
	}
	if cfg.Dialer == nil {
		cfg.Dialer = WebSocketDialer{}
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = defaultReconnectBase
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = defaultReconnectMax
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}

	endpoint, err := authEndpoint(cfg.Endpoint, cfg.UserID, cfg.KeyHandle)
	if err != nil {
		return nil, err
	}

	return &Manager{
		cfg:      cfg,
		endpoint: endpoint,
		registry: newHandlerRegistry(),
		clock:    timeutil.DefaultTimeProvider{},
	}, nil
}

// SetTimeProvider replaces the clock used to stamp incoming messages.
func (m *Manager) SetTimeProvider(tp timeutil.TimeProvider) {
	if tp == nil {
		tp = timeutil.DefaultTimeProvider{}
	}
	m.clock = tp
}

// On registers a handler for an event. The returned id deregisters it.
func (m *Manager) On(event Event, h Handler) HandlerID {
	return m.registry.add(event, h)
}

// Off removes a previously registered handler.
func (m *Manager) Off(event Event, id HandlerID) {
	m.registry.remove(event, id)
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect starts the connection lifecycle. It returns immediately; the
// handshake and any reconnects happen on a background goroutine. Calling
// Connect while already Connecting, Connected or Reconnecting is a no-op.
func (m *Manager) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.state != StateDisconnected {
		return nil
	}

	m.state = StateConnecting
	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	logrus.WithFields(logrus.Fields{
		"function": "Connect",
		"user_id":  m.cfg.UserID,
	}).Info("Transport connecting")

	go m.run(runCtx, m.done)
	return nil
}

// Disconnect tears the transport down. It cancels any pending reconnect,
// closes the live connection, waits for the lifecycle goroutine to exit and
// deregisters every handler. The Manager is unusable afterwards.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cancel := m.cancel
	conn := m.conn
	done := m.done
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if done != nil {
		<-done
	}

	m.mu.Lock()
	m.state = StateDisconnected
	m.conn = nil
	m.mu.Unlock()

	m.registry.emit(EventDisconnect, nil)
	m.registry.clear()

	logrus.WithFields(logrus.Fields{
		"function": "Disconnect",
		"user_id":  m.cfg.UserID,
	}).Info("Transport closed")
	return nil
}

// Send delivers a message payload to a room over the live connection.
func (m *Manager) Send(ctx context.Context, roomID string, payload []byte) error {
	if err := limits.ValidateMessagePayload(payload); err != nil {
		return err
	}

	m.mu.Lock()
	conn := m.conn
	state := m.state
	m.mu.Unlock()

	if conn == nil || state != StateConnected {
		return ErrNotConnected
	}

	frame := wireFrame{
		Type:     frameTypeMessage,
		SenderID: m.cfg.UserID,
		RoomID:   roomID,
		Payload:  payload,
		TS:       m.clock.Now().UnixMilli(),
	}
	data, err := json.Marshal(&frame)
	if err != nil {
		return err
	}
	return conn.WriteMessage(ctx, data)
}

// run is the single connection lifecycle goroutine. It dials, pumps reads,
// and on failure backs off and retries until the context is canceled.
func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	attempt := 0
	for {
		dialCtx, cancelDial := context.WithTimeout(ctx, m.cfg.DialTimeout)
		conn, err := m.cfg.Dialer.Dial(dialCtx, m.endpoint)
		cancelDial()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.registry.emit(EventError, err)
			m.setState(StateReconnecting)

			delay := m.backoffDelay(attempt)
			attempt++
			logrus.WithFields(logrus.Fields{
				"function": "run",
				"user_id":  m.cfg.UserID,
				"attempt":  attempt,
				"delay":    delay,
				"error":    err.Error(),
			}).Warn("Transport dial failed, backing off")

			if !sleepCtx(ctx, delay) {
				return
			}
			continue
		}

		attempt = 0
		m.setConn(conn)
		m.setState(StateConnected)
		m.registry.emit(EventConnect, nil)

		readErr := m.readLoop(ctx, conn)
		conn.Close()
		m.setConn(nil)

		if ctx.Err() != nil {
			return
		}

		// Connection dropped underneath us: surface it and re-enter the
		// retry path without the caller re-invoking Connect.
		m.registry.emit(EventDisconnect, readErr)
		m.setState(StateReconnecting)

		delay := m.backoffDelay(attempt)
		attempt++
		logrus.WithFields(logrus.Fields{
			"function": "run",
			"user_id":  m.cfg.UserID,
			"delay":    delay,
		}).Info("Transport connection lost, reconnecting")

		if !sleepCtx(ctx, delay) {
			return
		}
	}
}

// readLoop pumps frames from the connection until it fails or ctx ends.
func (m *Manager) readLoop(ctx context.Context, conn Conn) error {
	for {
		data, err := conn.ReadMessage(ctx)
		if err != nil {
			return err
		}
		m.dispatch(data)
	}
}

// dispatch decodes one frame and emits the corresponding event. Malformed
// or oversized frames are dropped, never fatal to the connection.
func (m *Manager) dispatch(data []byte) {
	if err := limits.ValidateTransportFrame(data); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "dispatch",
			"frame_size": len(data),
		}).Warn("Dropping invalid transport frame")
		return
	}

	var frame wireFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "dispatch",
			"error":    err.Error(),
		}).Warn("Dropping undecodable transport frame")
		return
	}

	switch frame.Type {
	case frameTypeMessage:
		if err := limits.ValidateMessagePayload(frame.Payload); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "dispatch",
				"room_id":  frame.RoomID,
				"error":    err.Error(),
			}).Warn("Dropping message with invalid payload")
			return
		}
		received := m.clock.Now()
		if frame.TS > 0 {
			received = time.UnixMilli(frame.TS)
		}
		m.registry.emit(EventMessage, &MessageEvent{
			SenderID:   frame.SenderID,
			RoomID:     frame.RoomID,
			Payload:    frame.Payload,
			ReceivedAt: received,
		})
	case frameTypePresence:
		m.registry.emit(EventPresence, &PresenceEvent{
			PeerID: frame.PeerID,
			RoomID: frame.RoomID,
			Online: frame.Online,
		})
	default:
		logrus.WithFields(logrus.Fields{
			"function":   "dispatch",
			"frame_type": frame.Type,
		}).Debug("Ignoring unknown frame type")
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if !m.closed {
		m.state = s
	}
	m.mu.Unlock()
}

func (m *Manager) setConn(c Conn) {
	m.mu.Lock()
	m.conn = c
	m.mu.Unlock()
}

// backoffDelay computes the exponential reconnect delay with jitter.
func (m *Manager) backoffDelay(attempt int) time.Duration {
	if attempt > 6 {
		attempt = 6
	}
	d := m.cfg.ReconnectBase << uint(attempt)
	if d > m.cfg.ReconnectMax {
		d = m.cfg.ReconnectMax
	}
	// Up to 25% jitter so a fleet of clients does not reconnect in lockstep.
	return d + time.Duration(rand.Int63n(int64(d)/4+1))
}

// sleepCtx waits for d, returning false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

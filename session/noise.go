package session

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/flynn/noise"

	"github.com/sable-im/chatcore/identity"
)

// Handshake manages a Noise-IK handshake with a peer whose public key was
// learned during bootstrap. The initiator must know the peer's static key;
// the responder learns the initiator's key from the first message.
type Handshake struct {
	initiator bool
	peerKey   [32]byte
	state     *noise.HandshakeState
	completed bool
}

// PairwiseSession is an established encrypted session with one peer.
// Ongoing message encryption for a room uses this session.
type PairwiseSession struct {
	sendCipher *noise.CipherState
	recvCipher *noise.CipherState

	PeerKey     [32]byte
	Established time.Time
	LastUsed    time.Time
}

// NewHandshake creates a Noise-IK handshake using the local static identity
// key. peerKey is required for the initiator and ignored for the responder.
func NewHandshake(initiator bool, static *identity.KeyPair, peerKey [32]byte) (*Handshake, error) {
	if static == nil {
		return nil, errors.New("local static key pair is required")
	}

	cs := noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

	cfg := noise.Config{
		CipherSuite: cs,
		Random:      rand.Reader,
		Pattern:     noise.HandshakeIK,
		Initiator:   initiator,
		StaticKeypair: noise.DHKey{
			Private: static.Private[:],
			Public:  static.Public[:],
		},
	}
	if initiator {
		cfg.PeerStatic = peerKey[:]
	}

	hs, err := noise.NewHandshakeState(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create handshake state: %w", err)
	}

	return &Handshake{
		initiator: initiator,
		peerKey:   peerKey,
		state:     hs,
	}, nil
}

// WriteMessage produces the next handshake message to send, with an optional
// payload. When the handshake completes, the established session is returned.
func (h *Handshake) WriteMessage(payload []byte) ([]byte, *PairwiseSession, error) {
	if h.completed {
		return nil, nil, errors.New("handshake already completed")
	}

	message, cs1, cs2, err := h.state.WriteMessage(nil, payload)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to write handshake message: %w", err)
	}

	if cs1 != nil && cs2 != nil {
		h.completed = true
		return message, h.newSession(cs1, cs2), nil
	}
	return message, nil, nil
}

// ReadMessage consumes a received handshake message and returns its payload.
// When the handshake completes, the established session is returned.
func (h *Handshake) ReadMessage(message []byte) ([]byte, *PairwiseSession, error) {
	if h.completed {
		return nil, nil, errors.New("handshake already completed")
	}

	payload, cs1, cs2, err := h.state.ReadMessage(nil, message)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read handshake message: %w", err)
	}

	if cs1 != nil && cs2 != nil {
		h.completed = true
		return payload, h.newSession(cs1, cs2), nil
	}
	return payload, nil, nil
}

// Completed reports whether the handshake has finished.
func (h *Handshake) Completed() bool {
	return h.completed
}

// newSession assigns cipher directions. cs1 always carries
// initiator-to-responder traffic, cs2 the reverse.
func (h *Handshake) newSession(cs1, cs2 *noise.CipherState) *PairwiseSession {
	now := time.Now()
	s := &PairwiseSession{
		Established: now,
		LastUsed:    now,
	}
	if h.initiator {
		s.sendCipher, s.recvCipher = cs1, cs2
		s.PeerKey = h.peerKey
	} else {
		s.sendCipher, s.recvCipher = cs2, cs1
		copy(s.PeerKey[:], h.state.PeerStatic())
	}
	return s
}

// Encrypt encrypts a message for the peer.
func (s *PairwiseSession) Encrypt(plaintext []byte) ([]byte, error) {
	if s.sendCipher == nil {
		return nil, errors.New("session not established")
	}

	ciphertext, err := s.sendCipher.Encrypt(nil, nil, plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt message: %w", err)
	}

	s.LastUsed = time.Now()
	return ciphertext, nil
}

// Decrypt decrypts a message from the peer.
func (s *PairwiseSession) Decrypt(ciphertext []byte) ([]byte, error) {
	if s.recvCipher == nil {
		return nil, errors.New("session not established")
	}

	plaintext, err := s.recvCipher.Decrypt(nil, nil, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt message: %w", err)
	}

	s.LastUsed = time.Now()
	return plaintext, nil
}

// sessionMaxIdle is how long an unused session is kept before cleanup.
const sessionMaxIdle = 48 * time.Hour

// SessionManager caches established pairwise sessions per peer id.
type SessionManager struct {
	sessions map[string]*PairwiseSession
	mu       sync.RWMutex
}

// NewSessionManager creates an empty session cache.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*PairwiseSession),
	}
}

// Add stores the session for a peer, replacing any previous one.
func (sm *SessionManager) Add(peerID string, session *PairwiseSession) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.sessions[peerID] = session
}

// Get retrieves the session for a peer.
func (sm *SessionManager) Get(peerID string) (*PairwiseSession, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	session, exists := sm.sessions[peerID]
	return session, exists
}

// Remove drops the session for a peer.
func (sm *SessionManager) Remove(peerID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.sessions, peerID)
}

// CleanupExpired removes sessions idle longer than sessionMaxIdle.
func (sm *SessionManager) CleanupExpired() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := time.Now()
	for peerID, session := range sm.sessions {
		if now.Sub(session.LastUsed) > sessionMaxIdle {
			delete(sm.sessions, peerID)
		}
	}
}

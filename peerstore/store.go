// Package peerstore caches the most recently learned public key of each
// remote peer. The cache is consulted during session establishment only; it
// is not an ownership relation, entries are weak references by peer id.
package peerstore

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sable-im/chatcore/timeutil"
)

// PeerKey is a remote peer's public key and when it was learned.
type PeerKey struct {
	PeerID    string
	PublicKey [32]byte
	LearnedAt time.Time
}

// Store holds one PeerKey per peer with last-write-wins semantics. Safe for
// concurrent use; two conversations bootstrapping at once never observe a
// torn entry.
type Store struct {
	mu    sync.RWMutex
	keys  map[string]PeerKey
	clock timeutil.TimeProvider
}

// New creates an empty peer key store.
func New() *Store {
	return &Store{
		keys:  make(map[string]PeerKey),
		clock: timeutil.DefaultTimeProvider{},
	}
}

// SetTimeProvider replaces the clock, for deterministic tests.
func (s *Store) SetTimeProvider(tp timeutil.TimeProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tp == nil {
		tp = timeutil.DefaultTimeProvider{}
	}
	s.clock = tp
}

// Put stores or overwrites the public key for a peer.
func (s *Store) Put(peerID string, publicKey [32]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.keys[peerID] = PeerKey{
		PeerID:    peerID,
		PublicKey: publicKey,
		LearnedAt: s.clock.Now(),
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Put",
		"peer_id":    peerID,
		"public_key": publicKey[:8],
	}).Debug("Stored peer public key")
}

// Get returns the cached key for a peer, if any.
func (s *Store) Get(peerID string) (PeerKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.keys[peerID]
	return key, ok
}

// Forget removes the cached key for a peer.
func (s *Store) Forget(peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, peerID)
}

// Len returns the number of cached peers.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

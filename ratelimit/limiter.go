// Package ratelimit suppresses notification-preview spam with a per-sender
// sliding time window over recent message timestamps.
package ratelimit

import (
	"sync"
	"time"

	"github.com/sable-im/chatcore/timeutil"
)

const (
	// DefaultWindow is the sliding window over which messages are counted.
	DefaultWindow = 3000 * time.Millisecond
	// DefaultMaxMessages is the number of messages allowed per window.
	DefaultMaxMessages = 5
)

// Limiter decides whether an incoming message should surface a preview.
// Unknown senders are always allowed: the limiter fails open so messages are
// never silently dropped.
type Limiter struct {
	window      time.Duration
	maxMessages int

	mu      sync.Mutex
	history map[string][]time.Time
	clock   timeutil.TimeProvider
}

// New creates a limiter. Non-positive arguments fall back to the defaults.
func New(window time.Duration, maxMessages int) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &Limiter{
		window:      window,
		maxMessages: maxMessages,
		history:     make(map[string][]time.Time),
		clock:       timeutil.DefaultTimeProvider{},
	}
}

// SetTimeProvider replaces the clock, for deterministic tests.
func (l *Limiter) SetTimeProvider(tp timeutil.TimeProvider) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if tp == nil {
		tp = timeutil.DefaultTimeProvider{}
	}
	l.clock = tp
}

// CanShowPreview reports whether a preview for senderID may be shown now.
// Expired timestamps for the sender are pruned before counting.
func (l *Limiter) CanShowPreview(senderID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.prune(senderID, l.clock.Now())
	return len(recent) < l.maxMessages
}

// RecordMessage notes a received message from senderID.
func (l *Limiter) RecordMessage(senderID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.history[senderID] = append(l.prune(senderID, now), now)
}

// TrackedSenders returns how many senders currently hold history. Senders
// whose window has emptied are no longer tracked.
func (l *Limiter) TrackedSenders() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.history)
}

// prune drops timestamps older than the window for senderID and returns the
// surviving slice. The map entry is removed entirely once empty so idle
// senders retain no memory. Caller holds l.mu.
func (l *Limiter) prune(senderID string, now time.Time) []time.Time {
	recent := l.history[senderID]
	cutoff := now.Add(-l.window)

	kept := recent[:0]
	for _, ts := range recent {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) == 0 {
		delete(l.history, senderID)
		return nil
	}
	l.history[senderID] = kept
	return kept
}

package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(window time.Duration, max int) (*Limiter, *fakeClock) {
	l := New(window, max)
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	l.SetTimeProvider(clock)
	return l, clock
}

func TestUnknownSenderIsAllowed(t *testing.T) {
	l, _ := newTestLimiter(3*time.Second, 5)
	assert.True(t, l.CanShowPreview("stranger"), "unknown senders must fail open")
}

func TestWindowBlocksAfterMaxMessages(t *testing.T) {
	l, clock := newTestLimiter(3*time.Second, 5)

	// Five messages from u1 within one second.
	for i := 0; i < 5; i++ {
		assert.True(t, l.CanShowPreview("u1"), "message %d should be allowed", i+1)
		l.RecordMessage("u1")
		clock.advance(200 * time.Millisecond)
	}

	// The sixth check is blocked.
	assert.False(t, l.CanShowPreview("u1"))

	// Still blocked just before the oldest timestamp leaves the window.
	clock.advance(1900 * time.Millisecond) // 2.9s since the first message
	assert.False(t, l.CanShowPreview("u1"))

	// Once >=3s have passed since the oldest of the five, allowed again.
	clock.advance(200 * time.Millisecond)
	assert.True(t, l.CanShowPreview("u1"))
}

func TestSendersAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(3*time.Second, 2)

	l.RecordMessage("u1")
	l.RecordMessage("u1")

	assert.False(t, l.CanShowPreview("u1"))
	assert.True(t, l.CanShowPreview("u2"))
}

func TestIdleSendersRetainNoMemory(t *testing.T) {
	l, clock := newTestLimiter(3*time.Second, 5)

	l.RecordMessage("u1")
	l.RecordMessage("u2")
	assert.Equal(t, 2, l.TrackedSenders())

	clock.advance(4 * time.Second)

	// Reads prune as well as writes.
	assert.True(t, l.CanShowPreview("u1"))
	assert.True(t, l.CanShowPreview("u2"))
	assert.Equal(t, 0, l.TrackedSenders(), "emptied windows must drop their entries")
}

func TestActiveSenderStaysBounded(t *testing.T) {
	l, clock := newTestLimiter(time.Second, 3)

	// A sender hammering for a long time must not accumulate unbounded
	// history: each record prunes first.
	for i := 0; i < 1000; i++ {
		l.RecordMessage("chatty")
		clock.advance(10 * time.Millisecond)
	}

	l.mu.Lock()
	n := len(l.history["chatty"])
	l.mu.Unlock()
	assert.LessOrEqual(t, n, 101, "history for an active sender must stay within one window")
}

func TestDefaultsApplied(t *testing.T) {
	l := New(0, 0)
	assert.Equal(t, DefaultWindow, l.window)
	assert.Equal(t, DefaultMaxMessages, l.maxMessages)
}

func TestConcurrentUse(t *testing.T) {
	l, _ := newTestLimiter(time.Second, 5)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				l.CanShowPreview("u1")
				l.RecordMessage("u1")
			}
		}()
	}
	wg.Wait()
}

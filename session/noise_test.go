package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sable-im/chatcore/identity"
)

// runHandshake performs a full IK exchange between two in-memory peers and
// returns both established sessions.
func runHandshake(t *testing.T) (initiator, responder *PairwiseSession) {
	t.Helper()

	aliceKP, err := identity.GenerateKeyPair()
	require.NoError(t, err)
	bobKP, err := identity.GenerateKeyPair()
	require.NoError(t, err)

	alice, err := NewHandshake(true, aliceKP, bobKP.Public)
	require.NoError(t, err)
	bob, err := NewHandshake(false, bobKP, [32]byte{})
	require.NoError(t, err)

	msg1, sess, err := alice.WriteMessage([]byte("hello"))
	require.NoError(t, err)
	require.Nil(t, sess, "initiator must not complete on first message")

	payload, sess, err := bob.ReadMessage(msg1)
	require.NoError(t, err)
	require.Nil(t, sess)
	assert.Equal(t, []byte("hello"), payload)

	msg2, bobSession, err := bob.WriteMessage(nil)
	require.NoError(t, err)
	require.NotNil(t, bobSession, "responder completes on second message")

	_, aliceSession, err := alice.ReadMessage(msg2)
	require.NoError(t, err)
	require.NotNil(t, aliceSession, "initiator completes on reading second message")

	assert.True(t, alice.Completed())
	assert.True(t, bob.Completed())
	assert.Equal(t, bobKP.Public, aliceSession.PeerKey)
	assert.Equal(t, aliceKP.Public, bobSession.PeerKey)

	return aliceSession, bobSession
}

func TestHandshakeEstablishesWorkingSession(t *testing.T) {
	alice, bob := runHandshake(t)

	ct, err := alice.Encrypt([]byte("first message"))
	require.NoError(t, err)
	pt, err := bob.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, []byte("first message"), pt)

	// And the reverse direction.
	ct, err = bob.Encrypt([]byte("reply"))
	require.NoError(t, err)
	pt, err = alice.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, []byte("reply"), pt)
}

func TestHandshakeRejectsReuse(t *testing.T) {
	aliceKP, err := identity.GenerateKeyPair()
	require.NoError(t, err)
	bobKP, err := identity.GenerateKeyPair()
	require.NoError(t, err)

	alice, err := NewHandshake(true, aliceKP, bobKP.Public)
	require.NoError(t, err)
	bob, err := NewHandshake(false, bobKP, [32]byte{})
	require.NoError(t, err)

	msg1, _, err := alice.WriteMessage(nil)
	require.NoError(t, err)
	_, _, err = bob.ReadMessage(msg1)
	require.NoError(t, err)
	msg2, _, err := bob.WriteMessage(nil)
	require.NoError(t, err)
	_, _, err = alice.ReadMessage(msg2)
	require.NoError(t, err)

	_, _, err = alice.WriteMessage(nil)
	assert.Error(t, err, "completed handshake must reject further messages")
}

func TestHandshakeRequiresStaticKey(t *testing.T) {
	_, err := NewHandshake(true, nil, [32]byte{})
	assert.Error(t, err)
}

func TestTamperedCiphertextFailsDecrypt(t *testing.T) {
	alice, bob := runHandshake(t)

	ct, err := alice.Encrypt([]byte("secret"))
	require.NoError(t, err)
	ct[0] ^= 0xFF

	_, err = bob.Decrypt(ct)
	assert.Error(t, err)
}

func TestSessionManager(t *testing.T) {
	sm := NewSessionManager()
	alice, _ := runHandshake(t)

	sm.Add("alice", alice)

	got, ok := sm.Get("alice")
	assert.True(t, ok)
	assert.Equal(t, alice, got)

	_, ok = sm.Get("nobody")
	assert.False(t, ok)

	sm.Remove("alice")
	_, ok = sm.Get("alice")
	assert.False(t, ok)
}

func TestSessionManagerCleanupExpired(t *testing.T) {
	sm := NewSessionManager()
	alice, bob := runHandshake(t)

	alice.LastUsed = alice.LastUsed.Add(-sessionMaxIdle - 1)
	sm.Add("stale", alice)
	sm.Add("fresh", bob)

	sm.CleanupExpired()

	_, ok := sm.Get("stale")
	assert.False(t, ok)
	_, ok = sm.Get("fresh")
	assert.True(t, ok)
}

// Package session implements the conversation bootstrap protocol: resolving
// the local identity, creating or resolving a room through the backend
// broker, learning the peer's public key, and establishing a pairwise
// encrypted session over it.
package session

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/sable-im/chatcore/identity"
	"github.com/sable-im/chatcore/peerstore"
)

// IdentitySource resolves the local device identity. Satisfied by
// *identity.Store.
type IdentitySource interface {
	GetOrCreate(ctx context.Context) (*identity.Identity, error)
}

// RoomHandle is the client's read reference to a conversation room.
type RoomHandle struct {
	RoomID string
	PeerID string
	// PeerKeyKnown is false when the broker response carried no key for the
	// target. The room is usable for metadata; message encryption is
	// degraded until a key arrives.
	PeerKeyKnown  bool
	AlreadyExists bool
}

// Bootstrap orchestrates room creation between the identity store, the room
// broker, and the peer key cache.
type Bootstrap struct {
	ids    IdentitySource
	broker RoomCreator
	peers  *peerstore.Store
}

// NewBootstrap wires the bootstrap protocol.
func NewBootstrap(ids IdentitySource, broker RoomCreator, peers *peerstore.Store) *Bootstrap {
	return &Bootstrap{ids: ids, broker: broker, peers: peers}
}

// CreateRoom runs the bootstrap handshake with targetPeerID. Steps are
// strictly ordered: identity resolution, then the broker call, then peer key
// storage, and only then is the handle returned. An identity failure is
// fatal and no room is created; a broker failure is surfaced for the caller
// to retry; a missing peer key is non-fatal.
func (b *Bootstrap) CreateRoom(ctx context.Context, targetPeerID string) (*RoomHandle, error) {
	if targetPeerID == "" {
		return nil, fmt.Errorf("target peer id cannot be empty")
	}

	id, err := b.ids.GetOrCreate(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve local identity: %w", err)
	}

	resp, err := b.broker.CreateRoom(ctx, CreateRoomRequest{
		TargetPeerID:   targetPeerID,
		RegistrationID: id.RegistrationID,
		PublicKey:      id.KeyPair.Public[:],
	})
	if err != nil {
		return nil, err
	}

	handle := &RoomHandle{
		RoomID:        resp.RoomID,
		PeerID:        targetPeerID,
		AlreadyExists: resp.AlreadyExists,
	}

	switch len(resp.TargetPublicKey) {
	case 32:
		var peerKey [32]byte
		copy(peerKey[:], resp.TargetPublicKey)
		b.peers.Put(targetPeerID, peerKey)
		handle.PeerKeyKnown = true
	case 0:
		logrus.WithFields(logrus.Fields{
			"function": "CreateRoom",
			"peer_id":  targetPeerID,
			"room_id":  resp.RoomID,
		}).Warn("Broker response carried no peer key, encryption degraded")
	default:
		logrus.WithFields(logrus.Fields{
			"function": "CreateRoom",
			"peer_id":  targetPeerID,
			"key_size": len(resp.TargetPublicKey),
		}).Warn("Broker returned malformed peer key, ignoring")
	}

	logrus.WithFields(logrus.Fields{
		"function":       "CreateRoom",
		"room_id":        handle.RoomID,
		"peer_id":        targetPeerID,
		"already_exists": handle.AlreadyExists,
		"peer_key_known": handle.PeerKeyKnown,
	}).Info("Conversation room resolved")

	return handle, nil
}

// PeerKey returns the cached public key for a peer, if known.
func (b *Bootstrap) PeerKey(peerID string) ([32]byte, bool) {
	key, ok := b.peers.Get(peerID)
	if !ok {
		return [32]byte{}, false
	}
	return key.PublicKey, true
}

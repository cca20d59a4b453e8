package identity

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/sirupsen/logrus"
)

const identityFile = "identity.enc"

// ErrPersistence indicates the durable store could not be read or written.
// A bootstrap attempt that hits this error must be treated as failed; no
// partial identity is ever returned alongside it.
var ErrPersistence = errors.New("identity persistence failure")

// Identity is the device's cryptographic identity.
type Identity struct {
	KeyPair        *KeyPair
	RegistrationID uint32
	// Cached is false only for the call that generated and persisted the
	// identity; every later call observes true.
	Cached bool
}

// persistedIdentity is the JSON form written to the vault.
type persistedIdentity struct {
	PublicKey      []byte `json:"public_key"`
	PrivateKey     []byte `json:"private_key"`
	RegistrationID uint32 `json:"registration_id"`
}

// Store owns the device identity. All access goes through GetOrCreate so
// that exactly one identity is ever generated per installation.
type Store struct {
	vault *Vault

	mu     sync.Mutex
	cached *Identity
}

// NewStore opens (or initializes) the identity store rooted at dataDir.
// masterPassword is consumed by the vault and wiped.
func NewStore(dataDir string, masterPassword []byte) (*Store, error) {
	vault, err := NewVault(dataDir, masterPassword)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return &Store{vault: vault}, nil
}

// GetOrCreate returns the persisted identity, generating and persisting a
// new one on first use. Concurrent callers are serialized; all observe the
// same identity, and only the generating call reports Cached=false.
func (s *Store) GetOrCreate(ctx context.Context) (*Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil {
		return &Identity{
			KeyPair:        s.cached.KeyPair,
			RegistrationID: s.cached.RegistrationID,
			Cached:         true,
		}, nil
	}

	id, err := s.load()
	if err == nil {
		s.cached = id
		logrus.WithFields(logrus.Fields{
			"function":        "GetOrCreate",
			"public_key":      id.KeyPair.Public[:8],
			"registration_id": id.RegistrationID,
		}).Debug("Loaded persisted identity")
		return &Identity{
			KeyPair:        id.KeyPair,
			RegistrationID: id.RegistrationID,
			Cached:         true,
		}, nil
	}
	if !errors.Is(err, errNoIdentity) {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	id, err = s.generate()
	if err != nil {
		return nil, err
	}
	s.cached = id

	logrus.WithFields(logrus.Fields{
		"function":        "GetOrCreate",
		"public_key":      id.KeyPair.Public[:8],
		"registration_id": id.RegistrationID,
	}).Info("Generated new device identity")

	return &Identity{
		KeyPair:        id.KeyPair,
		RegistrationID: id.RegistrationID,
		Cached:         false,
	}, nil
}

// errNoIdentity marks the absence of a persisted identity, distinct from a
// persistence failure.
var errNoIdentity = errors.New("no persisted identity")

// load reads the identity from the vault. Returns errNoIdentity when the
// vault holds no identity yet.
func (s *Store) load() (*Identity, error) {
	data, err := s.vault.Read(identityFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errNoIdentity
		}
		return nil, err
	}

	var rec persistedIdentity
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("corrupt identity record: %w", err)
	}
	ZeroBytes(data)

	if len(rec.PublicKey) != 32 || len(rec.PrivateKey) != 32 {
		return nil, fmt.Errorf("corrupt identity record: bad key sizes %d/%d", len(rec.PublicKey), len(rec.PrivateKey))
	}

	kp := &KeyPair{}
	copy(kp.Public[:], rec.PublicKey)
	copy(kp.Private[:], rec.PrivateKey)
	ZeroBytes(rec.PrivateKey)

	return &Identity{KeyPair: kp, RegistrationID: rec.RegistrationID}, nil
}

// generate creates and persists a fresh identity. Caller holds s.mu.
func (s *Store) generate() (*Identity, error) {
	kp, err := GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}

	regID, err := generateRegistrationID()
	if err != nil {
		return nil, fmt.Errorf("registration id generation failed: %w", err)
	}

	rec := persistedIdentity{
		PublicKey:      kp.Public[:],
		PrivateKey:     kp.Private[:],
		RegistrationID: regID,
	}
	data, err := json.Marshal(&rec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	if err := s.vault.Write(identityFile, data); err != nil {
		ZeroBytes(data)
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	ZeroBytes(data)
	ZeroBytes(rec.PrivateKey)

	return &Identity{KeyPair: kp, RegistrationID: regID}, nil
}

// Reset discards the persisted identity. The next GetOrCreate generates a
// fresh key pair and registration id. This is the explicit device-identity
// reset; nothing else ever mutates a stored identity.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.vault.Delete(identityFile); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	s.cached = nil

	logrus.WithFields(logrus.Fields{
		"function": "Reset",
	}).Warn("Device identity reset")
	return nil
}

// PublicKey returns just the public half of the identity, for callers that
// must never see private key material.
func (s *Store) PublicKey(ctx context.Context) ([32]byte, error) {
	id, err := s.GetOrCreate(ctx)
	if err != nil {
		return [32]byte{}, err
	}
	return id.KeyPair.Public, nil
}

// RegistrationID returns the numeric registration identifier.
func (s *Store) RegistrationID(ctx context.Context) (uint32, error) {
	id, err := s.GetOrCreate(ctx)
	if err != nil {
		return 0, err
	}
	return id.RegistrationID, nil
}

// Close wipes the vault encryption key. Durable identity data is untouched.
func (s *Store) Close() error {
	return s.vault.Close()
}

// generateRegistrationID produces a random non-zero uint32.
func generateRegistrationID() (uint32, error) {
	var buf [4]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, err
		}
		id := binary.BigEndian.Uint32(buf[:])
		if id != 0 {
			return id, nil
		}
	}
}

package identity

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const deviceIDFile = "device_id"

// PlatformIDSource supplies a platform-provided stable identifier, when one
// exists. Returning ok=false falls back to a random unique value.
type PlatformIDSource func() (id string, ok bool)

// DeviceID lazily generates and persists a stable device identifier. The id
// is not secret, so it is stored as a plain file next to the vault. It is
// immutable for the lifetime of the installation unless explicitly reset.
type DeviceID struct {
	dataDir  string
	platform PlatformIDSource

	mu     sync.Mutex
	cached string
}

// NewDeviceID creates the device-id helper. platform may be nil.
func NewDeviceID(dataDir string, platform PlatformIDSource) *DeviceID {
	return &DeviceID{dataDir: dataDir, platform: platform}
}

// Get returns the device id, generating and persisting it on first use.
func (d *DeviceID) Get(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cached != "" {
		return d.cached, nil
	}

	path := filepath.Join(d.dataDir, deviceIDFile)
	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			d.cached = id
			return id, nil
		}
	} else if !errorsIsNotExist(err) {
		return "", fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	id, fromPlatform := "", false
	if d.platform != nil {
		id, fromPlatform = d.platform()
	}
	if !fromPlatform || id == "" {
		id = uuid.NewString()
	}

	if err := d.persist(path, id); err != nil {
		return "", err
	}
	d.cached = id

	logrus.WithFields(logrus.Fields{
		"function":      "Get",
		"device_id":     id,
		"from_platform": fromPlatform,
	}).Info("Device id created")

	return id, nil
}

// Reset removes the persisted device id so the next Get generates a new one.
func (d *DeviceID) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	path := filepath.Join(d.dataDir, deviceIDFile)
	if err := os.Remove(path); err != nil && !errorsIsNotExist(err) {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	d.cached = ""
	return nil
}

func (d *DeviceID) persist(path, id string) error {
	if err := os.MkdirAll(d.dataDir, 0o700); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(id), 0o600); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

func errorsIsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

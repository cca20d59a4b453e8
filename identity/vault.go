package identity

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"
)

// Vault wraps file storage with AES-GCM encryption at rest. Identity
// material is protected even if the filesystem is compromised.
type Vault struct {
	encryptionKey [32]byte
	dataDir       string
	saltFile      string
}

const (
	// pbkdf2Iterations is the number of iterations for key derivation.
	pbkdf2Iterations = 100000
	// vaultVersion is the current on-disk encryption format version.
	vaultVersion = 1
	// saltSize is the size of the salt for PBKDF2.
	saltSize = 32
)

// NewVault creates a vault rooted at dataDir. masterPassword should be a
// user-provided passphrase or derived from the platform keyring; it is
// wiped before NewVault returns.
func NewVault(dataDir string, masterPassword []byte) (*Vault, error) {
	if len(masterPassword) == 0 {
		return nil, fmt.Errorf("master password cannot be empty")
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	v := &Vault{
		dataDir:  dataDir,
		saltFile: filepath.Join(dataDir, ".salt"),
	}

	salt, err := v.loadOrGenerateSalt()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize salt: %w", err)
	}

	derivedKey := pbkdf2.Key(masterPassword, salt, pbkdf2Iterations, 32, sha256.New)
	copy(v.encryptionKey[:], derivedKey)

	ZeroBytes(derivedKey)
	ZeroBytes(masterPassword)

	return v, nil
}

// loadOrGenerateSalt loads existing salt or generates a new one.
func (v *Vault) loadOrGenerateSalt() ([]byte, error) {
	salt := make([]byte, saltSize)

	data, err := os.ReadFile(v.saltFile)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read salt file: %w", err)
		}

		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}

		if err := os.WriteFile(v.saltFile, salt, 0o600); err != nil {
			return nil, fmt.Errorf("failed to save salt: %w", err)
		}

		return salt, nil
	}

	if len(data) != saltSize {
		return nil, fmt.Errorf("invalid salt file size: got %d, want %d", len(data), saltSize)
	}

	copy(salt, data)
	return salt, nil
}

// Write encrypts and writes data to a file inside the vault.
// Format: [version:2][nonce:12][ciphertext+tag:N]
func (v *Vault) Write(filename string, plaintext []byte) error {
	block, err := aes.NewCipher(v.encryptionKey[:])
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("failed to create GCM: %w", err)
	}

	// Unique nonce per encryption, critical for GCM security.
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	output := make([]byte, 2+len(nonce)+len(ciphertext))
	binary.BigEndian.PutUint16(output[0:2], vaultVersion)
	copy(output[2:2+len(nonce)], nonce)
	copy(output[2+len(nonce):], ciphertext)

	// Atomic write using temporary file + rename.
	tmpFile := filepath.Join(v.dataDir, filename+".tmp")
	finalFile := filepath.Join(v.dataDir, filename)

	if err := os.WriteFile(tmpFile, output, 0o600); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}

	if err := os.Rename(tmpFile, finalFile); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}

// Read reads and decrypts data from a file inside the vault.
// Returns an error wrapping os.ErrNotExist if the file is absent.
func (v *Vault) Read(filename string) ([]byte, error) {
	filePath := filepath.Join(v.dataDir, filename)
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	// Minimum size: version + nonce + tag.
	if len(data) < 2+12+16 {
		return nil, fmt.Errorf("file too short: %d bytes (minimum 30 bytes)", len(data))
	}

	version := binary.BigEndian.Uint16(data[0:2])
	if version != vaultVersion {
		return nil, fmt.Errorf("unsupported encryption version: %d (expected %d)", version, vaultVersion)
	}

	block, err := aes.NewCipher(v.encryptionKey[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < 2+nonceSize {
		return nil, fmt.Errorf("file too short for nonce: %d bytes", len(data))
	}

	nonce := data[2 : 2+nonceSize]
	ciphertext := data[2+nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed (wrong password or corrupted data): %w", err)
	}

	return plaintext, nil
}

// Delete securely deletes a vault file, overwriting it with zeros first
// (best effort; copy-on-write filesystems may retain old blocks).
func (v *Vault) Delete(filename string) error {
	filePath := filepath.Join(v.dataDir, filename)

	info, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // Already deleted
		}
		return fmt.Errorf("failed to stat file: %w", err)
	}

	zeros := make([]byte, info.Size())
	if err := os.WriteFile(filePath, zeros, 0o600); err != nil {
		return os.Remove(filePath)
	}

	return os.Remove(filePath)
}

// Close securely wipes the encryption key from memory.
// After calling Close, the Vault should not be used.
func (v *Vault) Close() error {
	ZeroBytes(v.encryptionKey[:])
	return nil
}

// ZeroBytes overwrites a byte slice with zeros.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

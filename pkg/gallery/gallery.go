// Package gallery stores registered face descriptors on disk, encrypted
// at rest with NaCl secretbox under a machine-derived key. The gallery is
// the source of known identities loaded at the start of an attendance
// session; biometric vectors never reach the SQLite database.
package gallery

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/secureattend/secureattend/pkg/logging"
	"github.com/secureattend/secureattend/pkg/recognition"
)

const (
	// NonceSize is the size of the nonce used for encryption.
	NonceSize = 24
	// KeySize is the size of the encryption key.
	KeySize = 32
)

// RegisteredFace holds the descriptors and identity of one registered
// user.
type RegisteredFace struct {
	UserID             string                   `json:"user_id"`
	Name               string                   `json:"name"`
	RegistrationNumber string                   `json:"registration_number"`
	Descriptors        []recognition.Descriptor `json:"descriptors"`
	EnrolledAt         time.Time                `json:"enrolled_at"`
}

// ErrNotRegistered is returned when no gallery entry exists for a user.
var ErrNotRegistered = errors.New("user not registered")

// ErrAlreadyRegistered is returned when a gallery entry already exists.
var ErrAlreadyRegistered = errors.New("user already registered")

// ErrEncryption is returned when encryption or decryption fails.
var ErrEncryption = errors.New("encryption error")

// Gallery is a file-backed store of registered faces.
type Gallery struct {
	dataDir           string
	encryptionEnabled bool
	encryptionKey     [KeySize]byte
}

// Open creates a Gallery rooted at dataDir.
func Open(dataDir string, encryptionEnabled bool) (*Gallery, error) {
	g := &Gallery{
		dataDir:           dataDir,
		encryptionEnabled: encryptionEnabled,
	}

	if encryptionEnabled {
		key, err := deriveKey()
		if err != nil {
			return nil, fmt.Errorf("failed to derive encryption key: %w", err)
		}
		g.encryptionKey = key
	}

	usersDir := filepath.Join(dataDir, "users")
	if err := os.MkdirAll(usersDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create users directory: %w", err)
	}

	return g, nil
}

// deriveKey derives an encryption key from machine-specific information,
// tying the encrypted gallery to this machine.
func deriveKey() ([KeySize]byte, error) {
	var key [KeySize]byte
	var identity strings.Builder

	if machineID, err := os.ReadFile("/etc/machine-id"); err == nil {
		identity.Write(machineID)
	}
	if hostname, err := os.Hostname(); err == nil {
		identity.WriteString(hostname)
	}
	identity.WriteString(fmt.Sprintf("%d", os.Getuid()))
	identity.WriteString("secureattend-v1-salt")

	hash := sha256.Sum256([]byte(identity.String()))
	copy(key[:], hash[:])
	return key, nil
}

func (g *Gallery) entryPath(userID string) string {
	filename := userID + ".json"
	if g.encryptionEnabled {
		filename = userID + ".enc"
	}
	return filepath.Join(g.dataDir, "users", filename)
}

// Register creates a new gallery entry for a user.
func (g *Gallery) Register(entry RegisteredFace) error {
	if g.Exists(entry.UserID) {
		return ErrAlreadyRegistered
	}
	if entry.EnrolledAt.IsZero() {
		entry.EnrolledAt = time.Now()
	}
	return g.save(entry)
}

// AddDescriptors appends more descriptors to an existing entry.
func (g *Gallery) AddDescriptors(userID string, descriptors ...recognition.Descriptor) error {
	entry, err := g.Load(userID)
	if err != nil {
		return err
	}
	entry.Descriptors = append(entry.Descriptors, descriptors...)
	return g.save(*entry)
}

func (g *Gallery) save(entry RegisteredFace) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal gallery entry: %w", err)
	}

	if g.encryptionEnabled {
		data, err = g.encrypt(data)
		if err != nil {
			return fmt.Errorf("failed to encrypt gallery entry: %w", err)
		}
	}

	if err := os.WriteFile(g.entryPath(entry.UserID), data, 0600); err != nil {
		return fmt.Errorf("failed to write gallery entry: %w", err)
	}

	logging.Component("gallery").Debugf("Saved gallery entry for %s (%d descriptors)",
		entry.UserID, len(entry.Descriptors))
	return nil
}

// Load reads one user's gallery entry.
func (g *Gallery) Load(userID string) (*RegisteredFace, error) {
	data, err := os.ReadFile(g.entryPath(userID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotRegistered
		}
		return nil, fmt.Errorf("failed to read gallery entry: %w", err)
	}

	if g.encryptionEnabled {
		data, err = g.decrypt(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt gallery entry: %w", err)
		}
	}

	var entry RegisteredFace
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal gallery entry: %w", err)
	}
	return &entry, nil
}

// Delete removes a user's gallery entry.
func (g *Gallery) Delete(userID string) error {
	if err := os.Remove(g.entryPath(userID)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotRegistered
		}
		return fmt.Errorf("failed to delete gallery entry: %w", err)
	}
	logging.Component("gallery").Infof("Deleted gallery entry for %s", userID)
	return nil
}

// Exists reports whether the user has a gallery entry.
func (g *Gallery) Exists(userID string) bool {
	_, err := os.Stat(g.entryPath(userID))
	return err == nil
}

// List returns all registered user ids.
func (g *Gallery) List() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(g.dataDir, "users"))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list gallery: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".json"):
			ids = append(ids, strings.TrimSuffix(name, ".json"))
		case strings.HasSuffix(name, ".enc"):
			ids = append(ids, strings.TrimSuffix(name, ".enc"))
		}
	}
	return ids, nil
}

// LoadAll loads every registered face, used to build the session's known
// identity set.
func (g *Gallery) LoadAll() ([]RegisteredFace, error) {
	ids, err := g.List()
	if err != nil {
		return nil, err
	}

	faces := make([]RegisteredFace, 0, len(ids))
	for _, id := range ids {
		entry, err := g.Load(id)
		if err != nil {
			logging.Component("gallery").Warnf("Skipping unreadable entry %s: %v", id, err)
			continue
		}
		faces = append(faces, *entry)
	}
	return faces, nil
}

func (g *Gallery) encrypt(plaintext []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &g.encryptionKey), nil
}

func (g *Gallery) decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize {
		return nil, ErrEncryption
	}

	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, &g.encryptionKey)
	if !ok {
		return nil, ErrEncryption
	}
	return plaintext, nil
}

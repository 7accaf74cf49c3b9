// Package keyring provides secure credential storage for the tunnel
// client. It uses the system keyring when available, falling back to an
// encrypted local file when not.
package keyring

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	zkeyring "github.com/zalando/go-keyring"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/skobel/tunnelclient/common"
)

// serviceName is the identifier used in the system keyring.
const serviceName = "tunnelclient"

var _ common.CredentialStore = (*Store)(nil)

// Store is a credential store implementing common.CredentialStore.
// It prefers the system keyring and transparently falls back to an
// encrypted local file when the keyring service is unavailable.
type Store struct {
	mu        sync.Mutex
	useLocal  bool
	localPath string
	aead      func() ([]byte, error)
	local     map[string]string
}

// New creates a credential store, probing the system keyring once to
// decide which backend to use.
func New() (*Store, error) {
	s := &Store{aead: machineKey}

	probe := serviceName + "-probe"
	if err := zkeyring.Set(serviceName, probe, "probe"); err == nil {
		zkeyring.Delete(serviceName, probe)
		return s, nil
	}

	if err := s.initLocal(); err != nil {
		return nil, err
	}
	return s, nil
}

// initLocal switches to the encrypted-file backend.
func (s *Store) initLocal() error {
	configDir, err := common.GetConfigDir()
	if err != nil {
		return err
	}
	s.useLocal = true
	s.localPath = filepath.Join(configDir, common.CredentialsFileName)
	s.local = make(map[string]string)
	s.loadLocal()
	return nil
}

// machineKey derives the local-file encryption key from machine identity.
func machineKey() ([]byte, error) {
	hostname, _ := os.Hostname()
	machineID := "default-machine-id"
	if data, err := os.ReadFile("/etc/machine-id"); err == nil {
		machineID = strings.TrimSpace(string(data))
	}
	keyData := fmt.Sprintf("%s-%s-%s-%d", serviceName, hostname, machineID, os.Getuid())
	hash := sha256.Sum256([]byte(keyData))
	return hash[:], nil
}

// Store saves a password for a remote profile.
func (s *Store) Store(profileID, password string) error {
	if profileID == "" {
		return errors.New("profile ID cannot be empty")
	}
	if password == "" {
		return errors.New("password cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.useLocal {
		if err := zkeyring.Set(serviceName, profileID, password); err == nil {
			return nil
		}
		// Keyring went away; fall back for this and future calls.
		if err := s.initLocal(); err != nil {
			return common.WrapError(err, common.ErrCredentialStorage.Error())
		}
	}

	s.local[profileID] = password
	return s.saveLocal()
}

// Get retrieves a password for a remote profile.
func (s *Store) Get(profileID string) (string, error) {
	if profileID == "" {
		return "", errors.New("profile ID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.useLocal {
		password, exists := s.local[profileID]
		if !exists {
			return "", common.ErrCredentialsNotFound
		}
		return password, nil
	}

	password, err := zkeyring.Get(serviceName, profileID)
	if err != nil {
		if errors.Is(err, zkeyring.ErrNotFound) {
			return "", common.ErrCredentialsNotFound
		}
		return "", common.WrapError(err, "keyring access failed")
	}
	return password, nil
}

// Delete removes a password for a remote profile.
func (s *Store) Delete(profileID string) error {
	if profileID == "" {
		return errors.New("profile ID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.useLocal {
		delete(s.local, profileID)
		return s.saveLocal()
	}

	zkeyring.Delete(serviceName, profileID)
	return nil
}

// loadLocal reads the encrypted credentials file, ignoring a missing or
// undecryptable file (treated as empty).
func (s *Store) loadLocal() {
	data, err := os.ReadFile(s.localPath)
	if err != nil {
		return
	}
	plaintext, err := s.decrypt(data)
	if err != nil {
		common.LogWarn("keyring: could not decrypt local credentials: %v", err)
		return
	}
	json.Unmarshal(plaintext, &s.local)
}

// saveLocal writes the encrypted credentials file.
func (s *Store) saveLocal() error {
	data, err := json.Marshal(s.local)
	if err != nil {
		return err
	}
	encrypted, err := s.encrypt(data)
	if err != nil {
		return common.WrapError(err, common.ErrCredentialStorage.Error())
	}
	if err := os.WriteFile(s.localPath, encrypted, 0600); err != nil {
		return common.WrapError(err, common.ErrCredentialStorage.Error())
	}
	return nil
}

func (s *Store) encrypt(plaintext []byte) ([]byte, error) {
	key, err := s.aead()
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	ciphertext := aead.Seal(nonce, nonce, plaintext, nil)
	return []byte(base64.StdEncoding.EncodeToString(ciphertext)), nil
}

func (s *Store) decrypt(data []byte) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, err
	}

	key, err := s.aead()
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < aead.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	return aead.Open(nil, nonce, ciphertext, nil)
}

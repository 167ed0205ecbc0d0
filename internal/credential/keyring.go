// Package credential stores secrets in the OS keyring.
package credential

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/99designs/keyring"
)

const serviceName = "mailtriage"

// ErrMissing is returned by Resolve when no source holds the secret.
var ErrMissing = errors.New("secret not configured")

// Store is a keyring-backed secret store.
type Store struct {
	open func() (keyring.Keyring, error)
}

// New returns a store on the platform keyring. Secrets fall back to an
// encrypted file under fileDir when no system backend is available.
func New(fileDir string) *Store {
	return &Store{open: func() (keyring.Keyring, error) {
		ring, err := keyring.Open(keyring.Config{
			ServiceName: serviceName,
			AllowedBackends: []keyring.BackendType{
				keyring.KeychainBackend,
				keyring.SecretServiceBackend,
				keyring.WinCredBackend,
				keyring.PassBackend,
				keyring.FileBackend,
			},
			FileDir:                  fileDir,
			FilePasswordFunc:         keyring.FixedStringPrompt("mailtriage-file-key"),
			KeychainTrustApplication: true,
		})
		if err != nil {
			return nil, fmt.Errorf("opening keyring: %w", err)
		}
		return ring, nil
	}}
}

// NewWithKeyring wraps an already opened keyring.
func NewWithKeyring(ring keyring.Keyring) *Store {
	return &Store{open: func() (keyring.Keyring, error) { return ring, nil }}
}

// Get retrieves a secret by key.
func (s *Store) Get(key string) (string, error) {
	ring, err := s.open()
	if err != nil {
		return "", err
	}
	item, err := ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores a secret by key.
func (s *Store) Set(key, value string) error {
	ring, err := s.open()
	if err != nil {
		return err
	}
	if err := ring.Set(keyring.Item{Key: key, Data: []byte(value)}); err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Delete removes a secret by key.
func (s *Store) Delete(key string) error {
	ring, err := s.open()
	if err != nil {
		return err
	}
	if err := ring.Remove(key); err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}

// Resolve returns value if set, then the environment variable envName,
// then the keyring entry key.
func (s *Store) Resolve(value, envName, key string) (string, error) {
	if v := strings.TrimSpace(value); v != "" {
		return v, nil
	}
	if envName != "" {
		if v := strings.TrimSpace(os.Getenv(envName)); v != "" {
			return v, nil
		}
	}
	if key != "" && s != nil {
		v, err := s.Get(key)
		if err == nil && v != "" {
			return v, nil
		}
		if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
			return "", err
		}
	}
	return "", fmt.Errorf("%s: %w", key, ErrMissing)
}

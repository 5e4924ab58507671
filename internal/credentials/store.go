// Package credentials keeps the remote service API key and access token.
package credentials

import (
	"fmt"
	"sync"

	"linksync/internal/config"
	"linksync/internal/linksync"
)

// Store holds the site's API key and the access token derived from it.
type Store interface {
	// Setup prepares the backing storage. It is called once by config init.
	Setup() error
	IsConfigured() bool

	// APIKey returns the stored key, or linksync.ErrNoCredentials.
	APIKey() (string, error)
	SetAPIKey(key string) error

	// AccessToken returns the stored token, or "" when none is held.
	AccessToken() (string, error)
	SetAccessToken(token string) error
}

// record is the plaintext form of the stored credentials.
type record struct {
	APIKey      string `toml:"api_key"`
	AccessToken string `toml:"access_token"`
}

// NewStoreFromConfig creates a Store based on the configuration type.
func NewStoreFromConfig(cfg config.CredentialsConfig) (Store, error) {
	switch cfg.Type {
	case "age", "":
		if cfg.IdentityPath == "" || cfg.StorePath == "" {
			return nil, fmt.Errorf("identity_path and store_path required for age credentials")
		}
		return NewAgeStore(cfg.IdentityPath, cfg.StorePath), nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown credentials type: %q", cfg.Type)
	}
}

// MemoryStore keeps credentials in memory. Used in tests and for type=memory.
type MemoryStore struct {
	mu  sync.Mutex
	rec record
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Setup() error       { return nil }
func (s *MemoryStore) IsConfigured() bool { return true }

func (s *MemoryStore) APIKey() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec.APIKey == "" {
		return "", linksync.ErrNoCredentials
	}
	return s.rec.APIKey, nil
}

func (s *MemoryStore) SetAPIKey(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.APIKey = key
	return nil
}

func (s *MemoryStore) AccessToken() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.AccessToken, nil
}

func (s *MemoryStore) SetAccessToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.AccessToken = token
	return nil
}

// WithAPIKey returns a Store that reports key as the API key and delegates
// everything else to s. An empty key returns s unchanged.
func WithAPIKey(s Store, key string) Store {
	if key == "" {
		return s
	}
	return &keyOverride{Store: s, key: key}
}

type keyOverride struct {
	Store
	key string
}

func (o *keyOverride) APIKey() (string, error) { return o.key, nil }

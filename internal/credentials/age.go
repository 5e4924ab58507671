package credentials

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"filippo.io/age"
	"github.com/BurntSushi/toml"

	"linksync/internal/linksync"
)

// AgeStore keeps the credentials as an age-encrypted TOML file. The X25519
// identity that decrypts it lives next to it with mode 0600.
type AgeStore struct {
	identityPath string
	storePath    string

	mu sync.Mutex
}

var _ Store = (*AgeStore)(nil)

// NewAgeStore creates an AgeStore over the given identity and store files.
func NewAgeStore(identityPath, storePath string) *AgeStore {
	return &AgeStore{
		identityPath: identityPath,
		storePath:    storePath,
	}
}

// Setup generates a new X25519 identity. It refuses to replace an existing one,
// since that would make the stored credentials unreadable.
func (s *AgeStore) Setup() error {
	if _, err := os.Stat(s.identityPath); err == nil {
		return fmt.Errorf("identity already exists at %s", s.identityPath)
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating identity: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.identityPath), 0700); err != nil {
		return fmt.Errorf("creating identity directory: %w", err)
	}

	content := fmt.Sprintf("# public key: %s\n%s\n", identity.Recipient(), identity)
	if err := os.WriteFile(s.identityPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing identity: %w", err)
	}
	return nil
}

// IsConfigured returns true if the identity file exists.
func (s *AgeStore) IsConfigured() bool {
	_, err := os.Stat(s.identityPath)
	return err == nil
}

func (s *AgeStore) APIKey() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load()
	if err != nil {
		return "", err
	}
	if rec.APIKey == "" {
		return "", linksync.ErrNoCredentials
	}
	return rec.APIKey, nil
}

func (s *AgeStore) SetAPIKey(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load()
	if err != nil {
		return err
	}
	rec.APIKey = key
	return s.save(rec)
}

func (s *AgeStore) AccessToken() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load()
	if err != nil {
		return "", err
	}
	return rec.AccessToken, nil
}

func (s *AgeStore) SetAccessToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load()
	if err != nil {
		return err
	}
	rec.AccessToken = token
	return s.save(rec)
}

// load decrypts the store file. A missing file is an empty record.
func (s *AgeStore) load() (record, error) {
	data, err := os.ReadFile(s.storePath)
	if errors.Is(err, os.ErrNotExist) {
		return record{}, nil
	}
	if err != nil {
		return record{}, fmt.Errorf("reading credentials: %w", err)
	}

	identity, err := s.loadIdentity()
	if err != nil {
		return record{}, err
	}

	r, err := age.Decrypt(bytes.NewReader(data), identity)
	if err != nil {
		return record{}, fmt.Errorf("decrypting credentials: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return record{}, fmt.Errorf("reading decrypted credentials: %w", err)
	}

	var rec record
	if _, err := toml.Decode(string(plain), &rec); err != nil {
		return record{}, fmt.Errorf("decoding credentials: %w", err)
	}
	return rec, nil
}

// save encrypts rec to the identity's recipient and replaces the store file.
func (s *AgeStore) save(rec record) error {
	identity, err := s.loadIdentity()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, identity.Recipient())
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if err := toml.NewEncoder(w).Encode(rec); err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.storePath), 0700); err != nil {
		return fmt.Errorf("creating credentials directory: %w", err)
	}
	tmp := s.storePath + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing credentials: %w", err)
	}
	if err := os.Rename(tmp, s.storePath); err != nil {
		return fmt.Errorf("replacing credentials: %w", err)
	}
	return nil
}

func (s *AgeStore) loadIdentity() (*age.X25519Identity, error) {
	data, err := os.ReadFile(s.identityPath)
	if err != nil {
		return nil, fmt.Errorf("reading identity: %w", err)
	}

	identities, err := age.ParseIdentities(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing identity: %w", err)
	}
	for _, id := range identities {
		if x, ok := id.(*age.X25519Identity); ok {
			return x, nil
		}
	}
	return nil, fmt.Errorf("no X25519 identity found in %s", s.identityPath)
}

package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"brokerlink/internal/domain"
)

// record is the on-disk layout. EncryptedSecret stays exactly as the venue
// returned it; only live-session derivation ever decrypts it.
type record struct {
	AccessToken     string    `json:"access_token"`
	EncryptedSecret []byte    `json:"encrypted_secret"`
	StoredAt        time.Time `json:"stored_at"`
}

// FileStore is a file-backed domain.TokenStore.
type FileStore struct {
	path       string
	passphrase string
	lifetime   time.Duration // assumed access-token lifetime
	margin     time.Duration // re-handshake this long before lifetime ends

	mu sync.Mutex
}

// Option tunes a FileStore.
type Option func(*FileStore)

// WithPassphrase seals the record at rest.
func WithPassphrase(pass string) Option {
	return func(s *FileStore) { s.passphrase = pass }
}

// WithLifetime overrides the assumed access-token lifetime and the margin
// before its end at which NearExpiry starts reporting true.
func WithLifetime(lifetime, margin time.Duration) Option {
	return func(s *FileStore) { s.lifetime, s.margin = lifetime, margin }
}

// NewFileStore returns a store persisting to path.
func NewFileStore(path string, opts ...Option) *FileStore {
	s := &FileStore{
		path:     path,
		lifetime: 90 * 24 * time.Hour,
		margin:   7 * 24 * time.Hour,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Load returns the stored token; a missing file is not an error.
func (s *FileStore) Load() (domain.AccessToken, time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return domain.AccessToken{}, time.Time{}, false, nil
	}
	if err != nil {
		return domain.AccessToken{}, time.Time{}, false, err
	}
	if s.passphrase != "" {
		raw, err = openSealed(s.passphrase, raw)
		if err != nil {
			return domain.AccessToken{}, time.Time{}, false, fmt.Errorf("opening token store: %w", err)
		}
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.AccessToken{}, time.Time{}, false, fmt.Errorf("decoding token store: %w", err)
	}
	tok := domain.AccessToken{Token: rec.AccessToken, EncryptedSecret: rec.EncryptedSecret}
	return tok, rec.StoredAt, true, nil
}

// Save atomically replaces the record. The write happens into a temp file
// in the same directory followed by a rename, so readers and crashes only
// ever observe the old or the new record, never a partial one.
func (s *FileStore) Save(tok domain.AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.MarshalIndent(record{
		AccessToken:     tok.Token,
		EncryptedSecret: tok.EncryptedSecret,
		StoredAt:        time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return err
	}
	if s.passphrase != "" {
		raw, err = seal(s.passphrase, raw)
		if err != nil {
			return fmt.Errorf("sealing token store: %w", err)
		}
	}
	return writeFileAtomic(s.path, raw, 0o600)
}

// NearExpiry reports whether the stored token is old enough that the next
// authentication should run the full handshake instead of reusing it.
func (s *FileStore) NearExpiry(now time.Time) bool {
	_, storedAt, ok, err := s.Load()
	if err != nil || !ok {
		return true
	}
	return now.After(storedAt.Add(s.lifetime - s.margin))
}

// writeFileAtomic writes b via a temp file, then atomically replaces path.
func writeFileAtomic(path string, b []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()

	// Best-effort cleanup if anything fails before rename.
	defer func() { _ = os.Remove(tmp) }()

	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Chmod(mode); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

var _ domain.TokenStore = (*FileStore)(nil)

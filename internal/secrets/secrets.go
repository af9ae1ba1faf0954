// Package secrets persists per-provider credentials in the system keyring.
// Tokens never touch the database or config files.
package secrets

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/Diablofan/taiga/internal/library"
)

const service = "taiga"

// ErrNotFound indicates no credentials are stored for the provider.
var ErrNotFound = errors.New("credentials not found")

// Record is the persisted token state for one provider.
type Record struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Store is the credential-store collaborator.
type Store interface {
	Save(provider library.ProviderID, rec Record) error
	Load(provider library.ProviderID) (Record, error)
	Delete(provider library.ProviderID) error
}

// Keyring stores records in the OS keyring.
type Keyring struct{}

// NewKeyring creates a keyring-backed store.
func NewKeyring() *Keyring { return &Keyring{} }

// Save persists the record for a provider.
func (k *Keyring) Save(provider library.ProviderID, rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := keyring.Set(service, string(provider), string(b)); err != nil {
		return fmt.Errorf("store credentials for %s: %w", provider, err)
	}
	return nil
}

// Load retrieves the record for a provider.
// Returns ErrNotFound if nothing is stored.
func (k *Keyring) Load(provider library.ProviderID) (Record, error) {
	raw, err := keyring.Get(service, string(provider))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("load credentials for %s: %w", provider, err)
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return Record{}, fmt.Errorf("decode credentials for %s: %w", provider, err)
	}
	return rec, nil
}

// Delete removes the record for a provider. Idempotent.
func (k *Keyring) Delete(provider library.ProviderID) error {
	err := keyring.Delete(service, string(provider))
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("delete credentials for %s: %w", provider, err)
	}
	return nil
}

// Memory is an in-process store for tests and headless environments.
type Memory struct {
	mu      sync.Mutex
	records map[library.ProviderID]Record
}

// NewMemory creates an in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[library.ProviderID]Record)}
}

// Save stores the record.
func (m *Memory) Save(provider library.ProviderID, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[provider] = rec
	return nil
}

// Load retrieves the record, or ErrNotFound.
func (m *Memory) Load(provider library.ProviderID) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[provider]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// Delete removes the record. Idempotent.
func (m *Memory) Delete(provider library.ProviderID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, provider)
	return nil
}

// Package roomkey owns the room key of one chat session and the cipher
// derived from it.
package roomkey

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"roomchat/internal/cryptographic/encryption"
	"roomchat/internal/model"
	"roomchat/internal/service/sessionstore"
	"sync"
)

// DefaultSlot is the storage name the key is persisted under.
const DefaultSlot = "ENCRYPTION_KEY"

var (
	ErrRandomUnavailable  = errors.New("roomkey: secure random source unavailable")
	ErrStorageUnavailable = errors.New("roomkey: session storage unavailable")
	ErrNoKey              = errors.New("roomkey: no key installed")
)

type (
	// Manager is safe for concurrent use. The key and its derived cipher are
	// guarded by one lock so readers never see a cipher built from another key.
	Manager struct {
		store sessionstore.Store
		slot  string
		rand  io.Reader

		mu      sync.RWMutex
		key     model.RoomKey
		hasKey  bool
		derived cipher.AEAD
	}

	Option func(*Manager)
)

// WithSlot overrides the storage name.
func WithSlot(slot string) Option {
	return func(m *Manager) { m.slot = slot }
}

// WithRandom overrides the random source used for new keys.
func WithRandom(r io.Reader) Option {
	return func(m *Manager) { m.rand = r }
}

func NewManager(store sessionstore.Store, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		slot:  DefaultSlot,
		rand:  rand.Reader,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DeriveCipherKey maps a room key to the AES-256 key fed to the cipher:
// SHA-256 over the key's hex text. Every room member must use this.
func DeriveCipherKey(k model.RoomKey) [32]byte {
	return sha256.Sum256([]byte(k.String()))
}

// GetOrCreateKey returns the session key, loading it from storage or
// generating and persisting a fresh one.
func (m *Manager) GetOrCreateKey(ctx context.Context) (model.RoomKey, error) {
	return m.loadKey(ctx, true)
}

// loadKey returns the key held in memory or storage. Without one it either
// generates and persists a key or fails with ErrNoKey.
func (m *Manager) loadKey(ctx context.Context, create bool) (model.RoomKey, error) {
	m.mu.RLock()
	if m.hasKey {
		k := m.key
		m.mu.RUnlock()
		return k, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasKey {
		return m.key, nil
	}

	stored, err := m.store.Get(ctx, m.slot)
	switch {
	case err == nil:
		k, err := model.ParseRoomKey(stored)
		if err == nil {
			m.setLocked(k)
			return k, nil
		}
		// unreadable value, replace it below
	case !errors.Is(err, sessionstore.ErrNotFound):
		return model.RoomKey{}, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	if !create {
		return model.RoomKey{}, ErrNoKey
	}

	var k model.RoomKey
	if _, err := io.ReadFull(m.rand, k[:]); err != nil {
		return model.RoomKey{}, fmt.Errorf("%w: %w", ErrRandomUnavailable, err)
	}
	if err := m.store.Set(ctx, m.slot, k.String()); err != nil {
		return model.RoomKey{}, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	m.setLocked(k)
	return k, nil
}

// InstallKey replaces the session key, typically with one recovered from a
// shared link. The derived cipher is dropped in the same critical section.
func (m *Manager) InstallKey(ctx context.Context, k model.RoomKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Set(ctx, m.slot, k.String()); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	m.setLocked(k)
	return nil
}

// Clear forgets the key at session end.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Delete(ctx, m.slot); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	m.key = model.RoomKey{}
	m.hasKey = false
	m.derived = nil
	return nil
}

// HasKey reports whether a key is installed in memory.
func (m *Manager) HasKey() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasKey
}

// AEAD returns the cipher for the current key, deriving it on first use.
// When no key is installed yet one is created as in GetOrCreateKey.
func (m *Manager) AEAD(ctx context.Context) (cipher.AEAD, error) {
	return m.aead(ctx, true)
}

// InstalledAEAD is AEAD for inbound traffic: it never creates key material
// and returns ErrNoKey when neither memory nor storage holds a key.
func (m *Manager) InstalledAEAD(ctx context.Context) (cipher.AEAD, error) {
	return m.aead(ctx, false)
}

func (m *Manager) aead(ctx context.Context, create bool) (cipher.AEAD, error) {
	m.mu.RLock()
	if m.derived != nil {
		aead := m.derived
		m.mu.RUnlock()
		return aead, nil
	}
	m.mu.RUnlock()

	if _, err := m.loadKey(ctx, create); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.derived != nil {
		return m.derived, nil
	}
	if !m.hasKey {
		// cleared between the two locks
		return nil, ErrNoKey
	}
	dk := DeriveCipherKey(m.key)
	aead, err := encryption.NewAESGCM(dk[:])
	if err != nil {
		return nil, err
	}
	m.derived = aead
	return aead, nil
}

func (m *Manager) setLocked(k model.RoomKey) {
	m.key = k
	m.hasKey = true
	m.derived = nil
}

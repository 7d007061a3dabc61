package config

import "sync"

// MemStore is an in-memory Store for tests that never writes to disk.
type MemStore struct {
	mu       sync.Mutex
	settings *Settings
}

// NewMemStore returns a new in-memory store with nil settings (defaults to DefaultSettings on Load).
func NewMemStore() *MemStore {
	return &MemStore{}
}

// Load returns a copy of the stored settings, or DefaultSettings if none has been saved yet.
func (m *MemStore) Load() (*Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settings == nil {
		def := DefaultSettings()
		return &def, nil
	}
	cp := m.settings.DeepCopy()
	return &cp, nil
}

// Save stores a normalized deep copy of the given settings in memory.
func (m *MemStore) Save(s *Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := s.DeepCopy()
	normalize(&cp)
	m.settings = &cp
	return nil
}

// Path returns ":memory:" to indicate this is an in-memory store.
func (m *MemStore) Path() string { return ":memory:" }

// Flush is a no-op for in-memory stores.
func (m *MemStore) Flush() error { return nil }

// Ensure MemStore implements config.Store
var _ Store = (*MemStore)(nil)

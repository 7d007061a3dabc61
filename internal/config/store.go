// Package config loads and saves the acquisition settings.
package config

// Store is the interface for persisting settings.
type Store interface {
	// Load loads the current settings. Returns DefaultSettings if no file exists.
	Load() (*Settings, error)

	// Save persists the settings. Implementations may debounce rapid saves.
	Save(s *Settings) error

	// Path returns the file path used by this store.
	Path() string

	// Flush forces an immediate write of any pending settings.
	Flush() error
}

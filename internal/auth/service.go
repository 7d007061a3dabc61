// Package auth guards the acquisition-triggering API routes with access
// keys listed in a YAML file next to the settings. Without keys the API is
// open, which is the usual setup on an isolated measurement LAN.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// KeysFileName is the key file looked up in the service directory.
const KeysFileName = "keys.yaml"

// Key is one access key, e.g. for a data logger or an operator.
type Key struct {
	Name string `yaml:"name"`
	Key  string `yaml:"key"`
}

// Service holds the access keys and reloads them when the file changes.
type Service struct {
	mu      sync.RWMutex
	dir     string
	keys    []Key
	watcher *fsnotify.Watcher
}

// NewService creates a key service watching dir for KeysFileName.
func NewService(dir string) (*Service, error) {
	s := &Service{dir: dir}

	// a missing file means open mode
	if err := s.Reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("auth: could not create fsnotify watcher", "err", err)
		return s, nil
	}
	s.watcher = watcher
	if err := watcher.Add(dir); err != nil {
		slog.Warn("auth: could not watch key directory", "dir", dir, "err", err)
	}

	go s.watchLoop(s.path())
	return s, nil
}

func (s *Service) path() string {
	return filepath.Join(s.dir, KeysFileName)
}

// Reload re-reads the key file. Keys with an empty value are ignored.
func (s *Service) Reload() error {
	data, err := os.ReadFile(s.path())
	if errors.Is(err, os.ErrNotExist) {
		s.set(nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("auth: read keys: %w", err)
	}
	var file struct {
		Keys []Key `yaml:"keys"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("auth: parse %s: %w", s.path(), err)
	}
	keys := file.Keys[:0]
	for _, k := range file.Keys {
		if k.Key == "" {
			slog.Warn("auth: ignoring empty key", "name", k.Name)
			continue
		}
		keys = append(keys, k)
	}
	s.set(keys)
	slog.Debug("auth: reloaded keys", "count", len(keys))
	return nil
}

func (s *Service) set(keys []Key) {
	s.mu.Lock()
	s.keys = keys
	s.mu.Unlock()
}

// IsOpenMode returns true if no key is configured.
func (s *Service) IsOpenMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys) == 0
}

// Verify returns the name of the key matching key.
func (s *Service) Verify(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(k.Key)) == 1 {
			return k.Name, true
		}
	}
	return "", false
}

// Close stops the file watcher.
func (s *Service) Close() {
	if s.watcher != nil {
		s.watcher.Close()
	}
}

func (s *Service) watchLoop(keysPath string) {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Name != keysPath {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) {
				if err := s.Reload(); err != nil {
					slog.Warn("auth: failed to reload keys", "err", err)
				}
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("auth: watcher error", "err", err)
		}
	}
}

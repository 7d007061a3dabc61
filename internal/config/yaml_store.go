package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const debounceDelay = 500 * time.Millisecond

// YAMLStore is an atomic YAML file store with debounced writes.
type YAMLStore struct {
	mu      sync.Mutex
	path    string
	timer   *time.Timer
	pending *Settings
}

// NewYAMLStore creates a store backed by the file at path.
func NewYAMLStore(path string) *YAMLStore {
	return &YAMLStore{path: path}
}

// Path returns the file path used by this store.
func (s *YAMLStore) Path() string { return s.path }

// Load reads the settings from disk. Returns DefaultSettings on ENOENT or parse errors.
func (s *YAMLStore) Load() (*Settings, error) {
	st, err := s.read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			def := DefaultSettings()
			return &def, nil
		}
		var perr *parseError
		if errors.As(err, &perr) {
			slog.Warn("config: corrupt settings file, using defaults", "path", s.path, "err", err)
			def := DefaultSettings()
			return &def, nil
		}
		return nil, err
	}
	return st, nil
}

type parseError struct{ err error }

func (e *parseError) Error() string { return e.err.Error() }
func (e *parseError) Unwrap() error { return e.err }

func (s *YAMLStore) read() (*Settings, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var st Settings
	if err := yaml.Unmarshal(data, &st); err != nil {
		return nil, &parseError{fmt.Errorf("config: parse %s: %w", s.path, err)}
	}
	normalize(&st)
	return &st, nil
}

// Save schedules a debounced write of the settings to disk.
// The actual write happens after 500ms of no further Save calls.
func (s *YAMLStore) Save(st *Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := st.DeepCopy()
	s.pending = &cp

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(debounceDelay, func() {
		s.mu.Lock()
		p := s.pending
		s.mu.Unlock()
		if p != nil {
			if err := s.writeAtomic(p); err != nil {
				slog.Error("config: failed to write settings", "path", s.path, "err", err)
			}
		}
	})
	return nil
}

// Flush forces an immediate write of any pending settings.
func (s *YAMLStore) Flush() error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	p := s.pending
	s.pending = nil
	s.mu.Unlock()
	if p == nil {
		return nil
	}
	return s.writeAtomic(p)
}

func (s *YAMLStore) writeAtomic(st *Settings) error {
	data, err := yaml.Marshal(st)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}

	// Write to temp file, then rename (atomic on Linux)
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}

// Watch reports the settings each time the file is written or replaced,
// until ctx is done. Unparsable intermediate versions are skipped. The
// channel holds at most one pending update; older ones are dropped.
func (s *YAMLStore) Watch(ctx context.Context) (<-chan *Settings, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: watch: %w", err)
	}
	// the directory is watched so that atomic renames are seen
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("config: watch %s: %w", filepath.Dir(s.path), err)
	}

	out := make(chan *Settings, 1)
	go func() {
		defer close(out)
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(s.path) ||
					!(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
					continue
				}
				st, err := s.read()
				if err != nil {
					slog.Warn("config: reload failed", "path", s.path, "err", err)
					continue
				}
				slog.Info("config: settings reloaded", "path", s.path)
				select {
				case <-out:
				default:
				}
				out <- st
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("config: watcher error", "err", err)
			}
		}
	}()
	return out, nil
}

package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

type (
	// The Store type holds the authoritative copy of the Settings record. All
	// mutations are full read-modify-write cycles behind a mutex.
	Store struct {
		mu     sync.Mutex
		path   string
		logger *slog.Logger
	}
)

// NewStore returns a Store persisting to the given path.
func NewStore(path string, logger *slog.Logger) *Store {
	return &Store{path: path, logger: logger}
}

// Load returns the last successfully written Settings record. A missing file
// yields the defaults. A corrupt file is treated as no prior settings, the
// defaults are returned and the corruption is logged.
func (s *Store) Load() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.load()
}

func (s *Store) load() Settings {
	settings := Default()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return settings
	}

	if err != nil {
		s.logger.With("error", err, "path", s.path).Error("failed to read settings, using defaults")
		return Default()
	}

	// Unmarshalling over the defaults means absent keys keep their default
	// value and unknown keys are dropped.
	if err = json.Unmarshal(data, &settings); err != nil {
		s.logger.With("error", err, "path", s.path).Error("settings document is corrupt, using defaults")
		return Default()
	}

	return settings
}

// Update applies fn to the current settings, validates the result and persists
// it atomically. Returns the persisted record. The settings on disk are left
// untouched when validation or the write fails.
func (s *Store) Update(fn func(*Settings)) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings := s.load()
	fn(&settings)

	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}

	if err := writeJSON(s.path, settings); err != nil {
		return Settings{}, fmt.Errorf("failed to persist settings: %w", err)
	}

	return settings, nil
}

// Seed writes the default settings exactly once, guarded by the presence of
// the settings file. When an options file is provided its keys override the
// defaults. Subsequent starts never overwrite existing user settings.
func (s *Store) Seed(optionsPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); err == nil {
		return nil
	}

	settings := Default()

	if optionsPath != "" {
		data, err := os.ReadFile(optionsPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// No supervisor options, defaults stand.
		case err != nil:
			return fmt.Errorf("failed to read options file: %w", err)
		default:
			if err = json.Unmarshal(data, &settings); err != nil {
				return fmt.Errorf("failed to parse options file: %w", err)
			}
		}
	}

	return writeJSON(s.path, settings)
}

// writeJSON marshals v and installs it at path via a temporary file in the
// same directory renamed over the target, so no reader ever observes a
// partial document.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	return writeFile(path, append(data, '\n'))
}

func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}

	if err = tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	if err = os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	return nil
}

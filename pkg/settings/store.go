package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StoreVersion is the current version of the settings file format.
const StoreVersion = 1

// fileState wraps Settings with file format metadata.
type fileState struct {
	Version  int       `json:"version"`
	SavedAt  time.Time `json:"saved_at"`
	Settings *Settings `json:"settings"`
}

// Store manages persistence of Settings to a JSON file.
//
// Save writes atomically (temp file + rename) because a half-written
// settings file after a power loss would brick the next cycle.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a settings store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Save persists the settings to disk.
func (s *Store) Save(sett *Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	state := fileState{
		Version:  StoreVersion,
		SavedAt:  time.Now(),
		Settings: sett,
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Load reads the settings from disk.
// Returns nil, nil if the file doesn't exist (factory-fresh device).
func (s *Store) Load() (*Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state := fileState{}
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("settings file corrupt: %w", err)
	}
	if state.Settings == nil {
		return nil, fmt.Errorf("settings file corrupt: no settings object")
	}

	return state.Settings, nil
}

// Clear removes the settings file.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

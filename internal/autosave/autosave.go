// Package autosave persists the runtime configuration and attenuation level
// so they survive a restart, and keeps hourly backup copies.
package autosave

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// State is the content of an autosave file. Params holds configure
// parameters so a restore replays them through the normal configure path.
type State struct {
	SavedAt     time.Time      `yaml:"saved_at"`
	Attenuation int            `yaml:"attenuation"`
	Params      map[string]any `yaml:"params"`
}

// NewState builds a State from configure parameters.
func NewState(savedAt time.Time, level int, params map[string]json.RawMessage) (State, error) {
	st := State{SavedAt: savedAt.UTC(), Attenuation: level, Params: make(map[string]any, len(params))}
	for k, raw := range params {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return State{}, fmt.Errorf("param %s: %w", k, err)
		}
		st.Params[k] = v
	}
	return st, nil
}

// ConfigureParams converts the saved parameters back into configure form.
func (s State) ConfigureParams() (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(s.Params))
	for k, v := range s.Params {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("param %s: %w", k, err)
		}
		out[k] = raw
	}
	return out, nil
}

// Saver writes the autosave file atomically.
type Saver struct {
	path string
	mu   sync.Mutex
}

// NewSaver creates a saver for path.
func NewSaver(path string) *Saver {
	return &Saver{path: path}
}

// Path returns the autosave file path.
func (s *Saver) Path() string {
	return s.path
}

// Save replaces the autosave file with st.
func (s *Saver) Save(st State) error {
	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode autosave: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create autosave dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write autosave: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace autosave: %w", err)
	}
	return nil
}

// Load reads the autosave file. It reports false if there is none.
func Load(path string) (State, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("read autosave: %w", err)
	}
	var st State
	if err := yaml.Unmarshal(data, &st); err != nil {
		return State{}, false, fmt.Errorf("parse autosave %s: %w", path, err)
	}
	return st, true, nil
}

// BackupName returns the backup file name for the hour containing t.
func BackupName(t time.Time) string {
	return "autosave-" + t.Format("20060102-15") + ".yaml"
}

// Backup copies the current autosave file into dir under the hourly name.
// A missing autosave file is not an error and produces no backup.
func (s *Saver) Backup(dir string, now time.Time) (string, error) {
	s.mu.Lock()
	data, err := os.ReadFile(s.path)
	s.mu.Unlock()
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read autosave: %w", err)
	}

	if dir == "" {
		dir = filepath.Dir(s.path)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	dst := filepath.Join(dir, BackupName(now))
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	return dst, nil
}

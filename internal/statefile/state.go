// Package statefile persists runtime tunable changes across daemon restarts
package statefile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"hotplugd/internal/fsutil"
	"hotplugd/internal/logging"
)

// FileName is the state file inside the state directory
const FileName = "tunables.json"

// State is the persisted control surface
type State struct {
	Enabled bool              `json:"enabled"`
	Knobs   map[string]string `json:"knobs"`
	SavedAt time.Time         `json:"saved_at"`
}

// Manager handles tunables persistence
type Manager struct {
	filePath string
	logger   *logging.Logger
}

// NewManager creates a manager for <dir>/tunables.json
func NewManager(dir string, logger *logging.Logger) *Manager {
	return &Manager{
		filePath: filepath.Join(dir, FileName),
		logger:   logger,
	}
}

// Path returns the state file path
func (m *Manager) Path() string {
	return m.filePath
}

// Save writes state to disk atomically
func (m *Manager) Save(state State) error {
	if err := fsutil.EnsureStateDirectory(filepath.Dir(m.filePath)); err != nil {
		return err
	}

	// the enabled flag has its own field
	knobs := make(map[string]string, len(state.Knobs))
	for name, value := range state.Knobs {
		if name != "enabled" {
			knobs[name] = value
		}
	}
	state.Knobs = knobs
	if state.SavedAt.IsZero() {
		state.SavedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := fsutil.AtomicWriteFile(m.filePath, data, fsutil.DefaultFilePermissions, m.logger); err != nil {
		return err
	}

	m.logger.Debug("statefile.saved", "Tunables state saved", map[string]interface{}{
		"path":    m.filePath,
		"enabled": state.Enabled,
		"knobs":   len(state.Knobs),
	})

	return nil
}

// Load reads the state from disk. A missing file yields an error wrapping
// os.ErrNotExist.
func (m *Manager) Load() (State, error) {
	data, err := os.ReadFile(m.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, fmt.Errorf("state file not found: %w", err)
		}
		return State{}, fmt.Errorf("failed to read state file: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if state.Knobs == nil {
		state.Knobs = map[string]string{}
	}
	delete(state.Knobs, "enabled")

	m.logger.Debug("statefile.loaded", "Tunables state loaded", map[string]interface{}{
		"path":     m.filePath,
		"enabled":  state.Enabled,
		"saved_at": state.SavedAt,
	})

	return state, nil
}

// Delete removes the state file
func (m *Manager) Delete() error {
	if err := os.Remove(m.filePath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete state file: %w", err)
	}

	m.logger.Debug("statefile.deleted", "Tunables state deleted", map[string]interface{}{
		"path": m.filePath,
	})

	return nil
}

// Exists checks if the state file exists
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.filePath)
	return err == nil
}

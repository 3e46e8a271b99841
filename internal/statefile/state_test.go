package statefile

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotplugd/internal/logging"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	logger := logging.NewWriterLogger(logging.LevelDebug, logging.FormatJSON, io.Discard)
	return NewManager(filepath.Join(t.TempDir(), "nested"), logger)
}

func TestManager_SaveAndLoad(t *testing.T) {
	m := newTestManager(t)
	savedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, m.Save(State{
		Enabled: false,
		Knobs:   map[string]string{"delay": "100", "min_cpus": "2", "enabled": "1"},
		SavedAt: savedAt,
	}))
	assert.True(t, m.Exists())

	loaded, err := m.Load()
	require.NoError(t, err)
	assert.False(t, loaded.Enabled)
	assert.Equal(t, map[string]string{"delay": "100", "min_cpus": "2"}, loaded.Knobs)
	assert.True(t, savedAt.Equal(loaded.SavedAt))

	info, err := os.Stat(m.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestManager_SaveStampsTime(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Save(State{Enabled: true}))

	loaded, err := m.Load()
	require.NoError(t, err)
	assert.False(t, loaded.SavedAt.IsZero())
	assert.NotNil(t, loaded.Knobs)
}

func TestManager_LoadNonexistent(t *testing.T) {
	m := newTestManager(t)
	assert.False(t, m.Exists())

	_, err := m.Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestManager_LoadCorrupt(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(m.Path()), 0o750))
	require.NoError(t, os.WriteFile(m.Path(), []byte("{not json"), 0o600))

	_, err := m.Load()
	require.Error(t, err)
	assert.False(t, errors.Is(err, os.ErrNotExist))
}

func TestManager_Delete(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Delete())

	require.NoError(t, m.Save(State{Enabled: true}))
	require.NoError(t, m.Delete())
	assert.False(t, m.Exists())
}

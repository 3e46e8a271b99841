package fsutil

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotplugd/internal/logging"
)

func TestGetStateDir(t *testing.T) {
	t.Run("uses environment variable", func(t *testing.T) {
		t.Setenv(StateDirEnv, "/custom/state")
		assert.Equal(t, "/custom/state", GetStateDir("/default/state"))
	})

	t.Run("uses default when env not set", func(t *testing.T) {
		t.Setenv(StateDirEnv, "")
		assert.Equal(t, "/default/state", GetStateDir("/default/state"))
	})

	t.Run("relative env becomes absolute", func(t *testing.T) {
		t.Setenv(StateDirEnv, "relative/state")
		assert.True(t, filepath.IsAbs(GetStateDir("/default/state")))
	})
}

func TestEnsureStateDirectory(t *testing.T) {
	for _, path := range []string{
		filepath.Join(t.TempDir(), "newdir"),
		filepath.Join(t.TempDir(), "a", "b", "c"),
	} {
		require.NoError(t, EnsureStateDirectory(path))
		require.NoError(t, EnsureStateDirectory(path))

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestAtomicWriteFile(t *testing.T) {
	logger := logging.NewWriterLogger(logging.LevelDebug, logging.FormatJSON, &bytes.Buffer{})
	path := filepath.Join(t.TempDir(), "state.json")

	require.NoError(t, os.WriteFile(path, []byte("old content"), 0o600))
	require.NoError(t, AtomicWriteFile(path, []byte("new content"), DefaultFilePermissions, logger))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new content", string(got))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(DefaultFilePermissions), info.Mode().Perm())
}

func TestAtomicWriteFile_MissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "state.json")
	assert.Error(t, AtomicWriteFile(path, []byte("x"), DefaultFilePermissions, nil))
}

func TestCloseWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWriterLogger(logging.LevelDebug, logging.FormatJSON, &buf)

	CloseWithError(func() error { return nil }, logger, "ok")
	assert.Empty(t, buf.String())

	CloseWithError(func() error { return errors.New("boom") }, logger, "sampler")
	assert.Contains(t, buf.String(), "fsutil.close_failed")
	assert.Contains(t, buf.String(), "boom")

	CloseWithError(func() error { return os.ErrClosed }, nil, "no logger")
}

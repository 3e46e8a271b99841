package agent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotplugd/internal/config"
	"hotplugd/internal/hotplug"
	"hotplugd/internal/logging"
	"hotplugd/internal/statefile"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func fakeCPUTree(t *testing.T, cores int) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "possible"), fmt.Sprintf("0-%d\n", cores-1))
	for cpu := 0; cpu < cores; cpu++ {
		dir := filepath.Join(root, fmt.Sprintf("cpu%d", cpu))
		if cpu > 0 {
			writeFile(t, filepath.Join(dir, "online"), "1\n")
		}
		writeFile(t, filepath.Join(dir, "cpufreq", "scaling_cur_freq"), "1026000\n")
		writeFile(t, filepath.Join(dir, "cpufreq", "scaling_max_freq"), "1512000\n")
	}
	return root
}

func fakeProc(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "stat"), "cpu  10 0 10 100 0 0 0 0 0 0\n"+
		"cpu0 10 0 10 100 0 0 0 0 0 0\n"+
		"intr 0\nctxt 0\nbtime 1700000000\nprocesses 10\n"+
		"procs_running 1\nprocs_blocked 0\n"+
		"softirq 0 0 0 0 0 0 0 0 0 0 0\n")
	return root
}

func boolPtr(b bool) *bool { return &b }

func testConfig(t *testing.T) config.Config {
	t.Helper()
	zero := time.Duration(0)

	cfg := config.DefaultConfig()
	cfg.Sysfs.Root = fakeCPUTree(t, 2)
	cfg.Load.ProcMount = fakeProc(t)
	cfg.Load.PollInterval = time.Millisecond
	cfg.StateDir = t.TempDir()
	cfg.Hotplug.StartDelay = &zero
	cfg.Hotplug.Delay = 20 * time.Millisecond
	cfg.Telemetry.Enabled = boolPtr(false)
	cfg.Display.BacklightPath = filepath.Join(t.TempDir(), "bl_power")
	cfg.Display.PollInterval = 10 * time.Millisecond
	writeFile(t, cfg.Display.BacklightPath, "0\n")
	return cfg
}

func quietLogger() *logging.Logger {
	return logging.NewWriterLogger(logging.LevelError, logging.FormatJSON, io.Discard)
}

func TestNew_DefaultsFromConfig(t *testing.T) {
	a, err := New(Options{Config: testConfig(t), Logger: quietLogger()})
	require.NoError(t, err)

	ctrl := a.Controller()
	assert.True(t, ctrl.Enabled())
	assert.Equal(t, "20", mustKnob(t, ctrl, "delay"))
	assert.Equal(t, "2", mustKnob(t, ctrl, "max_cpus"))
	assert.NotNil(t, a.watcher)
	assert.Nil(t, a.server)
	assert.NoError(t, a.HealthCheck())
}

func TestNew_MissingSysfs(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sysfs.Root = filepath.Join(t.TempDir(), "missing")

	_, err := New(Options{Config: cfg, Logger: quietLogger()})
	assert.Error(t, err)
}

func TestNew_RestoresSavedState(t *testing.T) {
	cfg := testConfig(t)
	var buf bytes.Buffer
	logger := logging.NewWriterLogger(logging.LevelDebug, logging.FormatJSON, &buf)

	require.NoError(t, statefile.NewManager(cfg.StateDir, logger).Save(statefile.State{
		Enabled: false,
		Knobs:   map[string]string{"delay": "120", "min_cpus": "2", "warp_factor": "9"},
	}))

	a, err := New(Options{Config: cfg, Logger: logger})
	require.NoError(t, err)

	assert.False(t, a.Controller().Enabled())
	assert.Equal(t, "120", mustKnob(t, a.Controller(), "delay"))
	assert.Equal(t, "2", mustKnob(t, a.Controller(), "min_cpus"))
	assert.Contains(t, buf.String(), "agent.state.knob_skipped")
	assert.Contains(t, buf.String(), "agent.state.restored")
}

func TestNew_IgnoresStateThatDoesNotFit(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, statefile.NewManager(cfg.StateDir, quietLogger()).Save(statefile.State{
		Enabled: false,
		Knobs:   map[string]string{"max_cpus": "8"},
	}))

	a, err := New(Options{Config: cfg, Logger: quietLogger()})
	require.NoError(t, err)

	assert.True(t, a.Controller().Enabled())
	assert.Equal(t, "2", mustKnob(t, a.Controller(), "max_cpus"))
}

func TestKnobWritesArePersisted(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(Options{Config: cfg, Logger: quietLogger()})
	require.NoError(t, err)

	require.NoError(t, a.Controller().SetKnob("pause", "3000"))
	require.NoError(t, a.Controller().SetEnabled(false))

	saved, err := statefile.NewManager(cfg.StateDir, quietLogger()).Load()
	require.NoError(t, err)
	assert.False(t, saved.Enabled)
	assert.Equal(t, "3000", saved.Knobs["pause"])
	assert.NotContains(t, saved.Knobs, "enabled")
}

func TestReload(t *testing.T) {
	cfg := testConfig(t)
	next := cfg
	next.Hotplug.Delay = 200 * time.Millisecond
	next.Hotplug.Enabled = boolPtr(false)
	next.Logging.Level = "debug"

	a, err := New(Options{
		Config: cfg,
		Logger: quietLogger(),
		Reload: func() (config.Config, error) { return next, nil },
	})
	require.NoError(t, err)

	require.NoError(t, a.Reload())
	assert.Equal(t, "200", mustKnob(t, a.Controller(), "delay"))
	assert.False(t, a.Controller().Enabled())

	// a second reload with the same flag is not an error
	require.NoError(t, a.Reload())
}

func TestReload_RejectsInvalid(t *testing.T) {
	cfg := testConfig(t)
	next := cfg
	next.Hotplug.MaxCPUs = 6

	a, err := New(Options{
		Config: cfg,
		Logger: quietLogger(),
		Reload: func() (config.Config, error) { return next, nil },
	})
	require.NoError(t, err)

	assert.ErrorIs(t, a.Reload(), hotplug.ErrInvalidTunable)
	assert.Equal(t, "2", mustKnob(t, a.Controller(), "max_cpus"))

	a.reload = nil
	assert.Error(t, a.Reload())
}

func TestRun_DisplayOffSuspendsUntilCancelled(t *testing.T) {
	cfg := testConfig(t)
	writeFile(t, cfg.Display.BacklightPath, "4\n")

	a, err := New(Options{Config: cfg, Logger: quietLogger()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return a.Controller().State() == hotplug.StatusSuspended
	}, 2*time.Second, 10*time.Millisecond)

	online, err := os.ReadFile(filepath.Join(cfg.Sysfs.Root, "cpu1", "online"))
	require.NoError(t, err)
	assert.Equal(t, "0", string(bytes.TrimSpace(online)))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func mustKnob(t *testing.T, ctrl *hotplug.Controller, name string) string {
	t.Helper()
	value, err := ctrl.Knob(name)
	require.NoError(t, err)
	return value
}

package tui

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotplugd/internal/hotplug"
	"hotplugd/internal/logging"
)

type fakeSource struct {
	snapshot  hotplug.Snapshot
	knobs     map[string]string
	statusErr error
	toggles   []bool
}

func (f *fakeSource) Status(ctx context.Context) (hotplug.Snapshot, error) {
	return f.snapshot, f.statusErr
}

func (f *fakeSource) Knobs(ctx context.Context) (map[string]string, error) {
	return f.knobs, nil
}

func (f *fakeSource) SetEnabled(ctx context.Context, enabled bool) error {
	f.toggles = append(f.toggles, enabled)
	f.snapshot.Enabled = enabled
	return nil
}

func newFakeSource() *fakeSource {
	now := time.Now()
	return &fakeSource{
		snapshot: hotplug.Snapshot{
			State:       hotplug.StatusUp,
			Enabled:     true,
			Load:        37,
			Online:      2,
			Possible:    2,
			LastVerdict: "scale_up",
			Stats:       hotplug.Stats{Ticks: 12, ScaleUps: 1},
			Cores: []hotplug.CoreStatus{
				{CPU: 0, ExpectedOnline: true, LastOnline: now.Add(-time.Minute)},
				{CPU: 1, ExpectedOnline: false, HotplugCount: 4},
			},
		},
		knobs: map[string]string{"delay": "70", "min_cpus": "1", "enabled": "1"},
	}
}

func quietLogger() *logging.Logger {
	return logging.NewWriterLogger(logging.LevelError, logging.FormatJSON, io.Discard)
}

// loaded returns a model that has processed one refresh from src
func loaded(t *testing.T, src *fakeSource) Model {
	t.Helper()
	m := NewModel(src, quietLogger(), "", 0)
	updated, _ := m.Update(m.fetch()())
	return updated.(Model)
}

func TestNewModel(t *testing.T) {
	m := NewModel(newFakeSource(), quietLogger(), "", 0)
	assert.Equal(t, ScreenCores, m.currentScreen)
	assert.Equal(t, DefaultRefresh, m.refresh)
	assert.NotNil(t, m.Init())
	assert.Contains(t, m.View(), "Waiting for daemon")
}

func TestModel_RendersSnapshot(t *testing.T) {
	m := loaded(t, newFakeSource())
	view := m.View()

	assert.Contains(t, view, "UP")
	assert.Contains(t, view, "3.7")
	assert.Contains(t, view, "2/2")
	assert.Contains(t, view, "cpu0")
	assert.Contains(t, view, "cpu1")
	assert.Contains(t, view, "offline")
	assert.Contains(t, view, "ago")
	assert.Contains(t, view, "ticks 12")
}

func TestModel_RefreshError(t *testing.T) {
	src := newFakeSource()
	m := loaded(t, src)

	src.statusErr = errors.New("connection refused")
	updated, _ := m.Update(m.fetch()())
	m = updated.(Model)

	assert.True(t, m.hasSnapshot)
	assert.Contains(t, m.View(), "connection refused")

	src.statusErr = nil
	updated, _ = m.Update(m.fetch()())
	assert.NotContains(t, updated.(Model).View(), "connection refused")
}

func TestModel_ScreenNavigation(t *testing.T) {
	m := loaded(t, newFakeSource())

	press := func(m Model, key tea.KeyMsg) Model {
		updated, _ := m.Update(key)
		return updated.(Model)
	}

	m = press(m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, ScreenTunables, m.currentScreen)
	assert.Contains(t, m.View(), "min_cpus")

	m = press(m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, ScreenHelp, m.currentScreen)
	assert.Contains(t, m.View(), "Toggle the control loop")

	m = press(m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, ScreenCores, m.currentScreen)

	m = press(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'2'}})
	assert.Equal(t, ScreenTunables, m.currentScreen)

	m = press(m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, ScreenCores, m.currentScreen)
}

func TestModel_ToggleEnabled(t *testing.T) {
	src := newFakeSource()
	m := loaded(t, src)

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'e'}})
	require.NotNil(t, cmd)
	msg := cmd()
	assert.Equal(t, []bool{false}, src.toggles)

	updated, cmd = updated.(Model).Update(msg)
	m = updated.(Model)
	assert.Equal(t, "Controller disabled", m.message)
	require.NotNil(t, cmd)

	updated, _ = m.Update(cmd())
	assert.False(t, updated.(Model).snapshot.Enabled)
}

func TestModel_ToggleIgnoredBeforeFirstSnapshot(t *testing.T) {
	src := newFakeSource()
	m := NewModel(src, quietLogger(), "", 0)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'e'}})
	assert.Nil(t, cmd)
	assert.Empty(t, src.toggles)
}

func TestModel_Quit(t *testing.T) {
	m := loaded(t, newFakeSource())

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	require.NotNil(t, cmd)
	_, ok := cmd().(tea.QuitMsg)
	assert.True(t, ok)
	assert.Empty(t, updated.(Model).View())
}

func TestModel_PersistsScreen(t *testing.T) {
	dir := t.TempDir()
	m := NewModel(newFakeSource(), quietLogger(), dir, time.Second)

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'2'}})
	_ = updated

	reopened := NewModel(newFakeSource(), quietLogger(), dir, time.Second)
	assert.Equal(t, ScreenTunables, reopened.currentScreen)
}

func TestPrettyDuration(t *testing.T) {
	assert.Equal(t, "<1s", prettyDuration(500*time.Millisecond))
	assert.Equal(t, "1m30s", prettyDuration(90*time.Second+300*time.Millisecond))
	assert.True(t, strings.HasSuffix(prettyDuration(2*time.Hour), "h0m0s"))
}

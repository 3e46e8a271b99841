// Package tui implements "hotplugd top", a live view of a running daemon
package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"hotplugd/internal/hotplug"
	"hotplugd/internal/logging"
)

// DefaultRefresh is the poll interval against the daemon
const DefaultRefresh = time.Second

// Source is the daemon API the model polls
type Source interface {
	Status(ctx context.Context) (hotplug.Snapshot, error)
	Knobs(ctx context.Context) (map[string]string, error)
	SetEnabled(ctx context.Context, enabled bool) error
}

// Model represents the TUI application state
type Model struct {
	source       Source
	logger       *logging.Logger
	stateManager *UIStateManager
	refresh      time.Duration

	currentScreen Screen
	quitting      bool

	snapshot    hotplug.Snapshot
	hasSnapshot bool
	knobs       map[string]string
	updated     time.Time
	lastError   string
	message     string
	width       int
}

type refreshMsg struct {
	snapshot hotplug.Snapshot
	knobs    map[string]string
	err      error
	at       time.Time
}

type tickMsg time.Time

type toggledMsg struct {
	enabled bool
	err     error
}

// NewModel creates a model polling source every refresh interval. stateDir
// may be empty to disable UI state persistence.
func NewModel(source Source, logger *logging.Logger, stateDir string, refresh time.Duration) Model {
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	m := Model{
		source:        source,
		logger:        logger,
		refresh:       refresh,
		currentScreen: ScreenCores,
	}

	if stateDir != "" {
		m.stateManager = NewUIStateManager(stateDir, logger)
		if state, err := m.stateManager.Load(); err == nil {
			m.currentScreen = state.CurrentScreen
		}
	}

	return m
}

// Init fetches the first snapshot and starts the refresh timer
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), m.tick())
}

func (m Model) fetch() tea.Cmd {
	source := m.source
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		msg := refreshMsg{at: time.Now()}
		msg.snapshot, msg.err = source.Status(ctx)
		if msg.err == nil {
			msg.knobs, msg.err = source.Knobs(ctx)
		}
		return msg
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) toggleEnabled() tea.Cmd {
	source := m.source
	enabled := !m.snapshot.Enabled
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return toggledMsg{enabled: enabled, err: source.SetEnabled(ctx, enabled)}
	}
}

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg.String())
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tickMsg:
		return m, tea.Batch(m.fetch(), m.tick())
	case refreshMsg:
		if msg.err != nil {
			m.lastError = msg.err.Error()
			return m, nil
		}
		m.snapshot = msg.snapshot
		m.knobs = msg.knobs
		m.hasSnapshot = true
		m.updated = msg.at
		m.lastError = ""
		return m, nil
	case toggledMsg:
		if msg.err != nil {
			m.lastError = msg.err.Error()
			return m, nil
		}
		if msg.enabled {
			m.message = "Controller enabled"
		} else {
			m.message = "Controller disabled"
		}
		return m, m.fetch()
	}
	return m, nil
}

func (m Model) handleKey(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "ctrl+c", "q":
		m.quitting = true
		m.saveState()
		return m, tea.Quit
	case "tab":
		m.currentScreen = nextScreen(m.currentScreen)
		m.saveState()
		return m, nil
	case "1":
		m.currentScreen = ScreenCores
	case "2":
		m.currentScreen = ScreenTunables
	case "?":
		m.currentScreen = ScreenHelp
	case "esc":
		m.currentScreen = ScreenCores
	case "r":
		m.message = "Refreshing"
		return m, m.fetch()
	case "e":
		if !m.hasSnapshot {
			return m, nil
		}
		return m, m.toggleEnabled()
	default:
		return m, nil
	}
	m.saveState()
	return m, nil
}

func nextScreen(current Screen) Screen {
	for i, s := range screenOrder {
		if s == current {
			return screenOrder[(i+1)%len(screenOrder)]
		}
	}
	return ScreenCores
}

func (m *Model) saveState() {
	if m.stateManager == nil {
		return
	}
	if err := m.stateManager.Save(&UIState{CurrentScreen: m.currentScreen}); err != nil {
		m.logger.Warn("tui.state.save_failed", "Failed to save UI state", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// View renders the TUI
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	switch m.currentScreen {
	case ScreenTunables:
		return m.renderTunablesScreen()
	case ScreenHelp:
		return m.renderHelpScreen()
	default:
		return m.renderCoresScreen()
	}
}

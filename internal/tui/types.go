package tui

import "time"

// Screen represents different TUI screens
type Screen string

const (
	// ScreenCores shows controller state and the per-core table
	ScreenCores Screen = "cores"
	// ScreenTunables shows every knob
	ScreenTunables Screen = "tunables"
	// ScreenHelp shows key bindings
	ScreenHelp Screen = "help"
)

// screenOrder is the tab cycle
var screenOrder = []Screen{ScreenCores, ScreenTunables, ScreenHelp}

// UIState represents the persisted UI state
type UIState struct {
	CurrentScreen Screen    `json:"screen"`
	Updated       time.Time `json:"updated"`
}

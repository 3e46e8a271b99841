package tui

import (
	"os"
	"path/filepath"
	"testing"

	"hotplugd/internal/logging"
)

func TestUIStateManager_SaveAndLoad(t *testing.T) {
	manager := NewUIStateManager(t.TempDir(), logging.NewLogger(logging.LevelError))

	if err := manager.Save(&UIState{CurrentScreen: ScreenHelp}); err != nil {
		t.Fatalf("Failed to save state: %v", err)
	}

	loaded, err := manager.Load()
	if err != nil {
		t.Fatalf("Failed to load state: %v", err)
	}
	if loaded.CurrentScreen != ScreenHelp {
		t.Errorf("Expected screen help, got %s", loaded.CurrentScreen)
	}
	if loaded.Updated.IsZero() {
		t.Error("Expected updated timestamp to be set")
	}
}

func TestUIStateManager_LoadNonExistent(t *testing.T) {
	manager := NewUIStateManager(filepath.Join(t.TempDir(), "missing"), logging.NewLogger(logging.LevelError))

	loaded, err := manager.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.CurrentScreen != ScreenCores {
		t.Errorf("Expected default screen cores, got %s", loaded.CurrentScreen)
	}
}

func TestUIStateManager_UnknownScreen(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, UIStateFileName), []byte(`{"screen":"install"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	loaded, err := NewUIStateManager(dir, logging.NewLogger(logging.LevelError)).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.CurrentScreen != ScreenCores {
		t.Errorf("Expected unknown screen to fall back to cores, got %s", loaded.CurrentScreen)
	}
}

func TestUIStateManager_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, UIStateFileName), []byte("{"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := NewUIStateManager(dir, logging.NewLogger(logging.LevelError)).Load(); err == nil {
		t.Error("Expected error for corrupt state file")
	}
}

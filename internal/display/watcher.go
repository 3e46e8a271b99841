// Package display turns backlight power changes into screen on/off events
package display

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"hotplugd/internal/logging"
)

// DefaultBacklightRoot is where the kernel exposes backlight devices
const DefaultBacklightRoot = "/sys/class/backlight"

// DefaultPollInterval is the bl_power poll period
const DefaultPollInterval = 500 * time.Millisecond

// fbBlankUnblank is the bl_power value for a lit panel
const fbBlankUnblank = 0

// ErrNoBacklight is returned when no backlight device is present
var ErrNoBacklight = errors.New("no backlight device found")

// Handler receives screen power transitions
type Handler interface {
	OnDisplayOff()
	OnDisplayOn()
}

// State is the last observed panel state
type State int

const (
	StateUnknown State = iota
	StateOn
	StateOff
)

func (s State) String() string {
	switch s {
	case StateOn:
		return "on"
	case StateOff:
		return "off"
	default:
		return "unknown"
	}
}

// Detect returns the bl_power file of the first backlight device under
// root, in name order
func Detect(root string) (string, error) {
	if root == "" {
		root = DefaultBacklightRoot
	}
	matches, err := filepath.Glob(filepath.Join(root, "*", "bl_power"))
	if err != nil {
		return "", fmt.Errorf("failed to scan %s: %w", root, err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w under %s", ErrNoBacklight, root)
	}
	sort.Strings(matches)
	return matches[0], nil
}

// ReadState reads a bl_power file. Any non-zero value means the panel is
// blanked.
func ReadState(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return StateUnknown, fmt.Errorf("failed to read %s: %w", path, err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return StateUnknown, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if v == fbBlankUnblank {
		return StateOn, nil
	}
	return StateOff, nil
}

// Watcher polls a bl_power file and forwards edges to a Handler
type Watcher struct {
	path     string
	interval time.Duration
	handler  Handler
	logger   *logging.Logger
	last     State
}

// NewWatcher creates a watcher for path
func NewWatcher(path string, interval time.Duration, handler Handler, logger *logging.Logger) *Watcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Watcher{
		path:     path,
		interval: interval,
		handler:  handler,
		logger:   logger,
		last:     StateUnknown,
	}
}

// Run polls until ctx is cancelled. A panel that is already dark at start
// produces an OnDisplayOff.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("display.watcher.started", "Watching backlight power", map[string]interface{}{
		"path":        w.path,
		"interval_ms": w.interval.Milliseconds(),
	})

	w.check()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	state, err := ReadState(w.path)
	if err != nil {
		w.logger.Debug("display.read_failed", "Failed to read backlight power", map[string]interface{}{
			"path":  w.path,
			"error": err.Error(),
		})
		return
	}
	if state == w.last {
		return
	}

	previous := w.last
	w.last = state
	if previous == StateUnknown && state == StateOn {
		return
	}

	w.logger.Debug("display.changed", "Backlight power changed", map[string]interface{}{
		"from": previous.String(),
		"to":   state.String(),
	})
	if state == StateOff {
		w.handler.OnDisplayOff()
	} else {
		w.handler.OnDisplayOn()
	}
}

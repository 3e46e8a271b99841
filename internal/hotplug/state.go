package hotplug

import (
	"time"

	"go.uber.org/atomic"
)

// regime is the extreme the dwell accumulator is currently timing
type regime int

const (
	regimeNone regime = iota
	regimeHigh
	regimeLow
)

// controllerState is the single owned state object threaded through every
// tick. Everything except enabled and resyncRequested is guarded by the
// controller's global lock; those two are written by knob writers that must
// never wait on a tick.
type controllerState struct {
	enabled         *atomic.Bool
	resyncRequested *atomic.Bool

	started    time.Time
	lastSample time.Time
	sampled    bool
	totalTime  time.Duration
	regime     regime

	pausedUntil    time.Time
	wasPaused      bool
	disableHandled bool

	suspend       SuspendState
	forcedOffline bool
}

func newControllerState(enabled bool, started time.Time) *controllerState {
	return &controllerState{
		enabled:         atomic.NewBool(enabled),
		resyncRequested: atomic.NewBool(false),
		started:         started,
		disableHandled:  !enabled,
		suspend:         Active,
	}
}

// paused reports whether actuation is currently suppressed
func (s *controllerState) paused(now time.Time) bool {
	return s.wasPaused && now.Before(s.pausedUntil)
}

// pause suppresses actuation until now+d and forces a resync afterwards
func (s *controllerState) pause(now time.Time, d time.Duration) {
	s.pausedUntil = now.Add(d)
	s.wasPaused = true
}

func (s *controllerState) resetDwell() {
	s.totalTime = 0
	s.regime = regimeNone
}

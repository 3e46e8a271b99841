// Package hotplug decides how many CPU cores should be online and drives the
// transitions. The load source, the core power switch and the cpufreq knobs
// are injected as interfaces so the controller runs unchanged against sysfs
// or against fakes.
package hotplug

import (
	"errors"
	"fmt"
	"time"
)

// Verdict is the outcome of one decision tick
type Verdict int

const (
	// NoOp leaves the core count unchanged.
	NoOp Verdict = iota
	// ScaleUp brings one more core online.
	ScaleUp
	// ScaleDown takes one core offline.
	ScaleDown
	// Disabled means the controller is switched off.
	Disabled
)

func (v Verdict) String() string {
	switch v {
	case NoOp:
		return "noop"
	case ScaleUp:
		return "up"
	case ScaleDown:
		return "down"
	case Disabled:
		return "disabled"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Status is the externally visible controller state
type Status string

const (
	StatusDisabled  Status = "disabled"
	StatusIdle      Status = "idle"
	StatusUp        Status = "up"
	StatusDown      Status = "down"
	StatusPaused    Status = "paused"
	StatusSuspended Status = "suspended"
)

// SuspendState tracks the display-driven override
type SuspendState string

const (
	Active    SuspendState = "active"
	Suspended SuspendState = "suspended"
)

// LoadSampler returns the smoothed run-queue depth in tenths of a task
// (35 means 3.5 runnable tasks). A read consumes the accumulated window.
type LoadSampler interface {
	Sample() (uint32, error)
}

// CorePower reads and switches the hardware power state of a core
type CorePower interface {
	// Possible returns the number of cores that can ever be online.
	Possible() int
	IsOnline(cpu int) (bool, error)
	SetOnline(cpu int, online bool) error
}

// PerformanceReader reports the current performance level of a core
// (its clock in kHz for the sysfs implementation).
type PerformanceReader interface {
	Level(cpu int) (uint64, error)
}

// FrequencyCeiling reads and writes the per-core frequency cap in kHz
type FrequencyCeiling interface {
	Ceiling(cpu int) (uint64, error)
	SetCeiling(cpu int, khz uint64) error
}

// Decision captures one engine verdict with the inputs that produced it
type Decision struct {
	Verdict Verdict       `json:"verdict"`
	Load    uint32        `json:"load"`
	Online  int           `json:"online"`
	Dwell   time.Duration `json:"dwell"`
	At      time.Time     `json:"at"`
}

// Outcome describes what the actuator did with a verdict
type Outcome int

const (
	// OutcomeNone means no candidate core existed.
	OutcomeNone Outcome = iota
	// OutcomeApplied means a core changed state.
	OutcomeApplied
	// OutcomeDrift means hardware disagreed with the records and the controller paused.
	OutcomeDrift
	// OutcomeFailed means the power switch refused the transition.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeApplied:
		return "applied"
	case OutcomeDrift:
		return "drift"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

var (
	// ErrInvalidTunable is wrapped by every rejected tunable write.
	ErrInvalidTunable = errors.New("invalid tunable")
	// ErrUnknownKnob is returned for knob names the controller does not expose.
	ErrUnknownKnob = errors.New("unknown knob")
	// ErrAlreadyInState is returned when enabling an enabled controller or disabling a disabled one.
	ErrAlreadyInState = errors.New("controller already in requested state")
)

// ActuationError reports a refused power-state change
type ActuationError struct {
	CPU    int
	Online bool
	Err    error
}

func (e *ActuationError) Error() string {
	dir := "offline"
	if e.Online {
		dir = "online"
	}
	return fmt.Sprintf("set cpu%d %s: %v", e.CPU, dir, e.Err)
}

func (e *ActuationError) Unwrap() error {
	return e.Err
}

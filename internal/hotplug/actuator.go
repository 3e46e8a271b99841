package hotplug

import (
	"errors"
	"math"
	"time"

	"hotplugd/internal/logging"
)

// Actuator turns verdicts into concrete core transitions
type Actuator struct {
	store  *Store
	power  CorePower
	perf   PerformanceReader
	logger *logging.Logger
}

// NewActuator creates an actuator over the shared store
func NewActuator(store *Store, power CorePower, perf PerformanceReader, logger *logging.Logger) *Actuator {
	return &Actuator{
		store:  store,
		power:  power,
		perf:   perf,
		logger: logger,
	}
}

// ScaleUp brings the lowest-numbered offline core in [1, max) online
func (a *Actuator) ScaleUp(st *controllerState, tun Tunables, now time.Time) Outcome {
	if a.detectDrift(st, tun, now) {
		return OutcomeDrift
	}

	var target *CoreRecord
	for cpu := 1; cpu < tun.MaxCPUs && cpu < a.store.Len(); cpu++ {
		if r := a.store.Core(cpu); !r.ExpectedOnline() {
			target = r
			break
		}
	}
	if target == nil {
		return OutcomeNone
	}

	if _, err := target.transition(a.power, true, now); err != nil {
		a.logFailure(err)
		return OutcomeFailed
	}

	a.logger.Info("hotplug.cpu.online", "CPU off->on", map[string]interface{}{
		"cpu":  target.ID,
		"mask": onlineMask(a.power),
	})
	return OutcomeApplied
}

// ScaleDown takes the slowest online core in [1, max) offline. Ties go to
// the highest-numbered core.
func (a *Actuator) ScaleDown(st *controllerState, tun Tunables, now time.Time) Outcome {
	if a.detectDrift(st, tun, now) {
		return OutcomeDrift
	}

	target := a.slowestOnline(tun.MaxCPUs)
	if target == nil {
		return OutcomeNone
	}

	onlineFor, err := target.transition(a.power, false, now)
	if err != nil {
		a.logFailure(err)
		return OutcomeFailed
	}

	a.logger.Info("hotplug.cpu.offline", "CPU on->off", map[string]interface{}{
		"cpu":           target.ID,
		"mask":          onlineMask(a.power),
		"online_for_ms": onlineFor.Milliseconds(),
	})
	return OutcomeApplied
}

func (a *Actuator) slowestOnline(maxCPUs int) *CoreRecord {
	var target *CoreRecord
	best := uint64(math.MaxUint64)
	for cpu := 1; cpu < maxCPUs && cpu < a.store.Len(); cpu++ {
		r := a.store.Core(cpu)
		if !r.ExpectedOnline() {
			continue
		}
		level := uint64(math.MaxUint64)
		if a.perf != nil {
			if l, err := a.perf.Level(cpu); err == nil {
				level = l
			}
		}
		if target == nil || level <= best {
			target = r
			best = level
		}
	}
	return target
}

// detectDrift compares every non-primary record against the hardware. On
// the first disagreement the controller pauses instead of fighting the
// external change.
func (a *Actuator) detectDrift(st *controllerState, tun Tunables, now time.Time) bool {
	for cpu := 1; cpu < a.store.Len(); cpu++ {
		actual, err := a.power.IsOnline(cpu)
		if err != nil {
			a.logger.Debug("hotplug.cpu.read_failed", "Failed to read CPU online state", map[string]interface{}{
				"cpu":   cpu,
				"error": err.Error(),
			})
			continue
		}
		expected := a.store.Core(cpu).ExpectedOnline()
		if actual == expected {
			continue
		}

		st.pause(now, tun.Pause)
		a.logger.Info("hotplug.drift.detected", "CPU was controlled outside the controller, pausing", map[string]interface{}{
			"cpu":      cpu,
			"expected": expected,
			"actual":   actual,
			"pause_ms": tun.Pause.Milliseconds(),
		})
		return true
	}
	return false
}

// Resync adopts the hardware state for every record and returns how many
// records changed
func (a *Actuator) Resync(now time.Time) int {
	changed := 0
	for cpu := 0; cpu < a.store.Len(); cpu++ {
		online, err := a.power.IsOnline(cpu)
		if err != nil {
			continue
		}
		if a.store.Core(cpu).resync(online || cpu == 0, now) {
			changed++
		}
	}
	if changed > 0 {
		a.logger.Info("hotplug.resync", "Adopted external CPU state", map[string]interface{}{
			"changed": changed,
			"mask":    onlineMask(a.power),
		})
	}
	return changed
}

// ForceOnline brings cpu online without consulting hysteresis
func (a *Actuator) ForceOnline(cpu int, now time.Time) error {
	return a.force(cpu, true, now)
}

// ForceOffline takes cpu offline without consulting hysteresis
func (a *Actuator) ForceOffline(cpu int, now time.Time) error {
	return a.force(cpu, false, now)
}

// force is the direct path used by suspend, resume, disable cleanup and
// bounds enforcement. A core already in the requested state only has its
// record refreshed.
func (a *Actuator) force(cpu int, online bool, now time.Time) error {
	if cpu == 0 && !online {
		return &ActuationError{CPU: 0, Online: false, Err: errors.New("primary core cannot go offline")}
	}
	r := a.store.Core(cpu)
	if r == nil {
		return &ActuationError{CPU: cpu, Online: online, Err: errors.New("no such cpu")}
	}
	if actual, err := a.power.IsOnline(cpu); err == nil && actual == online {
		r.resync(online, now)
		return nil
	}
	if _, err := r.transition(a.power, online, now); err != nil {
		return err
	}
	return nil
}

// EnforceBounds forces cores on or off until the online count is inside
// [min, max]. It returns true when anything changed.
func (a *Actuator) EnforceBounds(tun Tunables, now time.Time) bool {
	changed := false
	n := countOnline(a.power)

	for cpu := a.store.Len() - 1; cpu >= 1 && n > tun.MaxCPUs; cpu-- {
		if online, err := a.power.IsOnline(cpu); err != nil || !online {
			continue
		}
		if err := a.ForceOffline(cpu, now); err != nil {
			a.logFailure(err)
			continue
		}
		n--
		changed = true
	}

	for cpu := 1; cpu < a.store.Len() && n < tun.MinCPUs; cpu++ {
		if online, err := a.power.IsOnline(cpu); err != nil || online {
			continue
		}
		if err := a.ForceOnline(cpu, now); err != nil {
			a.logFailure(err)
			continue
		}
		n++
		changed = true
	}

	if changed {
		a.logger.Info("hotplug.bounds.enforced", "Online CPU count forced into window", map[string]interface{}{
			"min_cpus": tun.MinCPUs,
			"max_cpus": tun.MaxCPUs,
			"mask":     onlineMask(a.power),
		})
	}
	return changed
}

func (a *Actuator) logFailure(err error) {
	payload := map[string]interface{}{"error": err.Error()}
	var actErr *ActuationError
	if errors.As(err, &actErr) {
		payload["cpu"] = actErr.CPU
		payload["online"] = actErr.Online
	}
	a.logger.Error("hotplug.actuate.failed", "CPU power transition failed", payload)
}

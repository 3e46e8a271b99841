package hotplug

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"

	"hotplugd/internal/logging"
)

// Options wires a Controller to its collaborators
type Options struct {
	Sampler LoadSampler
	Power   CorePower
	Perf    PerformanceReader
	Ceiling FrequencyCeiling
	Logger  *logging.Logger

	// Tunables defaults to DefaultTunables(Power.Possible()) when nil.
	Tunables *Tunables
	Enabled  bool

	// OnChange is called after every accepted tunable or enabled write.
	OnChange func(Tunables, bool)

	// Now defaults to time.Now.
	Now func() time.Time
}

// Stats are cumulative loop counters
type Stats struct {
	Ticks      uint64 `json:"ticks"`
	ScaleUps   uint64 `json:"scale_ups"`
	ScaleDowns uint64 `json:"scale_downs"`
	Drifts     uint64 `json:"drifts"`
	Failures   uint64 `json:"failures"`
}

// Snapshot is a consistent-per-core view of the controller for telemetry
type Snapshot struct {
	State       Status       `json:"state"`
	Enabled     bool         `json:"enabled"`
	Suspended   bool         `json:"suspended"`
	Load        uint32       `json:"load"`
	Online      int          `json:"online"`
	Possible    int          `json:"possible"`
	LastVerdict string       `json:"last_verdict"`
	LastTick    time.Time    `json:"last_tick"`
	PausedUntil time.Time    `json:"paused_until,omitempty"`
	Stats       Stats        `json:"stats"`
	Cores       []CoreStatus `json:"cores"`
}

// Controller owns the control loop, the shared store and the global
// serialization lock
type Controller struct {
	mu    sync.Mutex
	state *controllerState

	store   *Store
	engine  *Engine
	act     *Actuator
	power   CorePower
	ceiling FrequencyCeiling
	logger  *logging.Logger
	now     func() time.Time

	tunMu    sync.RWMutex
	tunables Tunables
	onChange func(Tunables, bool)

	wake chan struct{}

	status      *atomic.String
	lastLoad    *atomic.Uint32
	lastOnline  *atomic.Int64
	lastVerdict *atomic.String
	lastTick    *atomic.Time
	pausedUntil *atomic.Time

	ticks      *atomic.Uint64
	scaleUps   *atomic.Uint64
	scaleDowns *atomic.Uint64
	drifts     *atomic.Uint64
	failures   *atomic.Uint64
}

// New creates a controller and adopts the current hardware state
func New(opts Options) (*Controller, error) {
	if opts.Sampler == nil {
		return nil, errors.New("hotplug: load sampler is required")
	}
	if opts.Power == nil {
		return nil, errors.New("hotplug: core power interface is required")
	}
	possible := opts.Power.Possible()
	if possible < 1 {
		return nil, fmt.Errorf("hotplug: no possible cpus reported (%d)", possible)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewLogger(logging.LevelInfo)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	tun := DefaultTunables(possible)
	if opts.Tunables != nil {
		tun = opts.Tunables.Clone()
	}
	if err := tun.Validate(possible); err != nil {
		return nil, err
	}

	start := now()
	store := NewStore(possible, start)
	c := &Controller{
		state:       newControllerState(opts.Enabled, start),
		store:       store,
		engine:      NewEngine(opts.Sampler, opts.Power, opts.Perf, logger),
		act:         NewActuator(store, opts.Power, opts.Perf, logger),
		power:       opts.Power,
		ceiling:     opts.Ceiling,
		logger:      logger,
		now:         now,
		tunables:    tun,
		onChange:    opts.OnChange,
		wake:        make(chan struct{}, 1),
		status:      atomic.NewString(string(StatusIdle)),
		lastLoad:    atomic.NewUint32(0),
		lastOnline:  atomic.NewInt64(int64(countOnline(opts.Power))),
		lastVerdict: atomic.NewString(NoOp.String()),
		lastTick:    atomic.NewTime(time.Time{}),
		pausedUntil: atomic.NewTime(time.Time{}),
		ticks:       atomic.NewUint64(0),
		scaleUps:    atomic.NewUint64(0),
		scaleDowns:  atomic.NewUint64(0),
		drifts:      atomic.NewUint64(0),
		failures:    atomic.NewUint64(0),
	}
	if !opts.Enabled {
		c.status.Store(string(StatusDisabled))
	}
	c.act.Resync(start)
	return c, nil
}

// Run drives the periodic tick until ctx is cancelled. The timer is not
// re-armed while the controller is disabled or suspended; SetEnabled and
// OnDisplayOn wake it.
func (c *Controller) Run(ctx context.Context) error {
	tun := c.Tunables()
	timer := time.NewTimer(tun.Delay)
	defer timer.Stop()

	c.logger.Info("hotplug.started", "Hotplug control loop started", map[string]interface{}{
		"possible": c.store.Len(),
		"enabled":  c.state.enabled.Load(),
		"delay_ms": tun.Delay.Milliseconds(),
		"mask":     onlineMask(c.power),
	})

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("hotplug.stopped", "Hotplug control loop stopped", map[string]interface{}{
				"ticks": c.ticks.Load(),
			})
			return nil
		case <-timer.C:
		case <-c.wake:
			timer.Stop()
		}

		if next, again := c.Tick(c.now()); again {
			timer.Reset(next)
		}
	}
}

// Tick runs one decide-and-actuate step under the global lock. It returns
// the delay before the next tick and whether the loop should be re-armed.
func (c *Controller) Tick(now time.Time) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.state
	tun := c.Tunables()
	c.ticks.Inc()
	c.lastTick.Store(now)

	if st.suspend == Suspended {
		c.status.Store(string(StatusSuspended))
		return 0, false
	}

	if st.resyncRequested.Swap(false) {
		st.wasPaused = true
		st.pausedUntil = time.Time{}
		st.sampled = false
		st.resetDwell()
	}
	if st.wasPaused && !st.paused(now) {
		c.act.Resync(now)
		st.wasPaused = false
		st.pausedUntil = time.Time{}
		c.pausedUntil.Store(time.Time{})
	}

	// bounds are only enforced against records that agree with the hardware
	if st.enabled.Load() && !st.paused(now) {
		if c.act.detectDrift(st, tun, now) {
			c.lastOnline.Store(int64(countOnline(c.power)))
			c.record(Decision{Verdict: NoOp, At: now}, OutcomeDrift, st)
			return tun.Delay, true
		}
		c.act.EnforceBounds(tun, now)
	}

	d := c.engine.Decide(st, tun, now)
	c.lastLoad.Store(d.Load)
	c.lastOnline.Store(int64(countOnline(c.power)))
	c.lastVerdict.Store(d.Verdict.String())

	if d.Verdict == Disabled {
		if !st.disableHandled {
			c.disableCleanup(tun, now)
			st.disableHandled = true
		}
		c.status.Store(string(StatusDisabled))
		return 0, false
	}
	st.disableHandled = false

	if st.paused(now) {
		c.status.Store(string(StatusPaused))
		return tun.Delay, true
	}

	var outcome Outcome
	switch d.Verdict {
	case ScaleUp:
		outcome = c.act.ScaleUp(st, tun, now)
	case ScaleDown:
		outcome = c.act.ScaleDown(st, tun, now)
	}
	c.record(d, outcome, st)
	return tun.Delay, true
}

func (c *Controller) record(d Decision, outcome Outcome, st *controllerState) {
	switch outcome {
	case OutcomeApplied:
		if d.Verdict == ScaleUp {
			c.scaleUps.Inc()
			c.status.Store(string(StatusUp))
		} else {
			c.scaleDowns.Inc()
			c.status.Store(string(StatusDown))
		}
		c.lastOnline.Store(int64(countOnline(c.power)))
		return
	case OutcomeDrift:
		c.drifts.Inc()
		c.pausedUntil.Store(st.pausedUntil)
		c.status.Store(string(StatusPaused))
		return
	case OutcomeFailed:
		c.failures.Inc()
	}
	c.status.Store(string(StatusIdle))
}

// disableCleanup hands the device back with every core up to max online
func (c *Controller) disableCleanup(tun Tunables, now time.Time) {
	for cpu := 1; cpu < tun.MaxCPUs && cpu < c.store.Len(); cpu++ {
		if err := c.act.ForceOnline(cpu, now); err != nil {
			c.act.logFailure(err)
		}
	}
	c.logger.Info("hotplug.disabled", "Controller disabled, cores handed back online", map[string]interface{}{
		"mask": onlineMask(c.power),
	})
}

func (c *Controller) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// SetEnabled switches the controller on or off. It never waits on a tick.
// Requesting the current state returns ErrAlreadyInState.
func (c *Controller) SetEnabled(enabled bool) error {
	if !c.state.enabled.CompareAndSwap(!enabled, enabled) {
		return fmt.Errorf("%w: enabled=%t", ErrAlreadyInState, enabled)
	}

	if enabled {
		c.state.resyncRequested.Store(true)
		c.logger.Info("hotplug.enabled", "Controller enabled", nil)
	} else {
		c.logger.Info("hotplug.disable_requested", "Controller disable requested", nil)
	}
	c.signal()
	c.notify()
	return nil
}

// Enabled reports the enabled flag
func (c *Controller) Enabled() bool {
	return c.state.enabled.Load()
}

// State returns the published controller state
func (c *Controller) State() Status {
	return Status(c.status.Load())
}

// Tunables returns a copy of the active tunables
func (c *Controller) Tunables() Tunables {
	c.tunMu.RLock()
	defer c.tunMu.RUnlock()
	return c.tunables.Clone()
}

// UpdateTunables applies fn to a copy of the tunables and publishes the
// result only if it validates. A rejected write leaves the prior values.
func (c *Controller) UpdateTunables(fn func(*Tunables) error) error {
	c.tunMu.Lock()
	next := c.tunables.Clone()
	if err := fn(&next); err != nil {
		c.tunMu.Unlock()
		return err
	}
	if err := next.Validate(c.store.Len()); err != nil {
		c.tunMu.Unlock()
		return err
	}
	prev := c.tunables
	c.tunables = next
	c.tunMu.Unlock()

	if prev.SleepProfile != next.SleepProfile || prev.ScreenOffFreq != next.ScreenOffFreq {
		c.sleepProfileChanged(next)
	}
	c.signal()
	c.notify()
	return nil
}

// SetKnob writes one knob by name. "enabled" is routed to SetEnabled.
func (c *Controller) SetKnob(name, value string) error {
	if strings.EqualFold(strings.TrimSpace(name), "enabled") {
		var enabled bool
		if err := parseBool(name, strings.TrimSpace(value), &enabled); err != nil {
			return err
		}
		return c.SetEnabled(enabled)
	}
	return c.UpdateTunables(func(t *Tunables) error {
		return t.SetKnob(name, value)
	})
}

// SetKnobs applies several knobs as one validated update. An "enabled"
// entry is parsed up front and applied after the tunables are accepted.
func (c *Controller) SetKnobs(values map[string]string) error {
	names := make([]string, 0, len(values))
	var enabled *bool
	for name, value := range values {
		if strings.EqualFold(strings.TrimSpace(name), "enabled") {
			var v bool
			if err := parseBool("enabled", strings.TrimSpace(value), &v); err != nil {
				return err
			}
			enabled = &v
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) > 0 {
		err := c.UpdateTunables(func(t *Tunables) error {
			for _, name := range names {
				if err := t.SetKnob(name, values[name]); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	if enabled != nil {
		err := c.SetEnabled(*enabled)
		if err != nil && !errors.Is(err, ErrAlreadyInState) {
			return err
		}
	}
	return nil
}

// Knob reads one knob by name
func (c *Controller) Knob(name string) (string, error) {
	if strings.EqualFold(strings.TrimSpace(name), "enabled") {
		return formatBool(c.Enabled()), nil
	}
	return c.Tunables().Knob(name)
}

// Knobs returns every knob including enabled
func (c *Controller) Knobs() map[string]string {
	knobs := c.Tunables().Knobs()
	knobs["enabled"] = formatBool(c.Enabled())
	return knobs
}

// Counters returns the per-core hotplug counters without the global lock
func (c *Controller) Counters() map[int]uint64 {
	return c.store.Counters()
}

// Stats returns the cumulative loop counters
func (c *Controller) Stats() Stats {
	return Stats{
		Ticks:      c.ticks.Load(),
		ScaleUps:   c.scaleUps.Load(),
		ScaleDowns: c.scaleDowns.Load(),
		Drifts:     c.drifts.Load(),
		Failures:   c.failures.Load(),
	}
}

// Snapshot assembles the telemetry view without the global lock
func (c *Controller) Snapshot() Snapshot {
	state := c.State()
	return Snapshot{
		State:       state,
		Enabled:     c.Enabled(),
		Suspended:   state == StatusSuspended,
		Load:        c.lastLoad.Load(),
		Online:      int(c.lastOnline.Load()),
		Possible:    c.store.Len(),
		LastVerdict: c.lastVerdict.Load(),
		LastTick:    c.lastTick.Load(),
		PausedUntil: c.pausedUntil.Load(),
		Stats:       c.Stats(),
		Cores:       c.store.Snapshot(),
	}
}

func (c *Controller) notify() {
	if c.onChange == nil {
		return
	}
	c.onChange(c.Tunables(), c.Enabled())
}

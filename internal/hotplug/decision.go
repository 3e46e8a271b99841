package hotplug

import (
	"math"
	"time"

	"hotplugd/internal/logging"
)

// Engine turns a load sample and the elapsed dwell time into a Verdict
type Engine struct {
	sampler LoadSampler
	power   CorePower
	perf    PerformanceReader
	logger  *logging.Logger
}

// NewEngine creates a decision engine over the given collaborators
func NewEngine(sampler LoadSampler, power CorePower, perf PerformanceReader, logger *logging.Logger) *Engine {
	return &Engine{
		sampler: sampler,
		power:   power,
		perf:    perf,
		logger:  logger,
	}
}

// Decide advances the dwell accumulator by the time since the previous call
// and returns the verdict for this tick.
func (e *Engine) Decide(st *controllerState, tun Tunables, now time.Time) Decision {
	if !st.enabled.Load() {
		return Decision{Verdict: Disabled, At: now}
	}

	if now.Sub(st.started) < tun.StartDelay {
		return Decision{Verdict: NoOp, At: now}
	}

	var elapsed time.Duration
	if st.sampled {
		elapsed = now.Sub(st.lastSample)
	}
	st.sampled = true
	st.lastSample = now
	if elapsed > 0 {
		st.totalTime += elapsed
	}

	load, err := e.sampler.Sample()
	if err != nil {
		e.logger.Warn("hotplug.load.failed", "Failed to sample run-queue load", map[string]interface{}{
			"error": err.Error(),
		})
		return Decision{Verdict: NoOp, Online: countOnline(e.power), Dwell: st.totalTime, At: now}
	}

	n := countOnline(e.power)
	d := Decision{Verdict: NoOp, Load: load, Online: n, At: now}

	th, ok := tun.Thresholds.At(n)
	if n == 0 || !ok {
		st.resetDwell()
		return d
	}

	wantUp := n < tun.MaxCPUs && load >= th.LoadHigh
	wantDown := n > tun.MinCPUs && load <= th.LoadLow

	switch {
	case wantUp:
		if st.regime == regimeLow {
			st.totalTime = 0
		}
		st.regime = regimeHigh
		if st.totalTime >= th.TimeHigh {
			d.Verdict = ScaleUp
		}
	case wantDown:
		if st.regime == regimeHigh {
			st.totalTime = 0
		}
		st.regime = regimeLow
		if st.totalTime >= th.TimeLow {
			d.Verdict = ScaleDown
		}
	default:
		st.resetDwell()
	}

	d.Dwell = st.totalTime

	// a paused controller keeps its dwell so the verdict fires once it resumes
	if d.Verdict != NoOp && st.paused(now) {
		d.Verdict = NoOp
		return d
	}

	if d.Verdict != NoOp && e.gatedByIdleFreq(d.Verdict, tun, n) {
		e.logger.Debug("hotplug.decision.gated", "Verdict held back by idle frequency", map[string]interface{}{
			"verdict":   d.Verdict.String(),
			"idle_freq": tun.IdleFreq,
		})
		d.Verdict = NoOp
		return d
	}

	if d.Verdict != NoOp {
		st.resetDwell()
	}
	return d
}

// gatedByIdleFreq holds scale-up while every online core still sits at or
// below the idle clock, and holds scale-down while even the slowest
// removable core runs above it. The dwell is kept so the verdict fires as
// soon as the clock allows.
func (e *Engine) gatedByIdleFreq(v Verdict, tun Tunables, online int) bool {
	if tun.IdleFreq == 0 || e.perf == nil {
		return false
	}

	var fastest uint64
	readings := 0
	slowest := uint64(math.MaxUint64)
	for cpu := 0; cpu < e.power.Possible(); cpu++ {
		isOnline, err := e.power.IsOnline(cpu)
		if cpu != 0 && (err != nil || !isOnline) {
			continue
		}
		level, err := e.perf.Level(cpu)
		if err != nil {
			continue
		}
		readings++
		if level > fastest {
			fastest = level
		}
		if cpu != 0 && cpu < tun.MaxCPUs && level < slowest {
			slowest = level
		}
	}

	if readings == 0 {
		return false
	}

	switch v {
	case ScaleUp:
		return fastest <= tun.IdleFreq
	case ScaleDown:
		return online > 1 && slowest != math.MaxUint64 && slowest > tun.IdleFreq
	default:
		return false
	}
}

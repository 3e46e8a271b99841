package hotplug

import "time"

// OnDisplayOff collapses the device for screen-off. Repeated calls without
// an intervening OnDisplayOn are no-ops.
func (c *Controller) OnDisplayOff() {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.state
	if st.suspend == Suspended {
		return
	}

	now := c.now()
	tun := c.Tunables()
	st.suspend = Suspended

	if tun.SuspendSingleCore {
		st.forcedOffline = c.collapse(tun, now)
	}
	if tun.SleepProfile {
		c.enterSleepProfile(tun.ScreenOffFreq)
	}

	c.status.Store(string(StatusSuspended))
	c.logger.Info("display.off", "Screen off, controller suspended", map[string]interface{}{
		"mask":          onlineMask(c.power),
		"forced_single": st.forcedOffline,
		"sleep_profile": tun.SleepProfile,
	})
}

// OnDisplayOn restores the pre-suspend profile and restarts the loop with a
// resync pending
func (c *Controller) OnDisplayOn() {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.state
	if st.suspend == Active {
		return
	}

	now := c.now()
	tun := c.Tunables()

	c.leaveSleepProfile()
	if st.forcedOffline {
		for cpu := 1; cpu < tun.MaxCPUs && cpu < c.store.Len(); cpu++ {
			if err := c.act.ForceOnline(cpu, now); err != nil {
				c.act.logFailure(err)
			}
		}
		st.forcedOffline = false
	}

	st.suspend = Active
	st.wasPaused = true
	st.pausedUntil = time.Time{}
	st.sampled = false
	st.resetDwell()

	c.status.Store(string(StatusIdle))
	c.logger.Info("display.on", "Screen on, controller resumed", map[string]interface{}{
		"mask": onlineMask(c.power),
	})
	c.signal()
}

// collapse forces non-primary cores offline from the highest id down while
// the floor allows it. It reports whether any core was switched.
func (c *Controller) collapse(tun Tunables, now time.Time) bool {
	forced := false
	n := countOnline(c.power)
	for cpu := c.store.Len() - 1; cpu >= 1 && n > tun.MinCPUs; cpu-- {
		online, err := c.power.IsOnline(cpu)
		if err != nil || !online {
			continue
		}
		if err := c.act.ForceOffline(cpu, now); err != nil {
			c.act.logFailure(err)
			continue
		}
		n--
		forced = true
		c.logger.Debug("display.cpu.suspended", "Suspended CPU", map[string]interface{}{
			"cpu": cpu,
		})
	}
	return forced
}

// enterSleepProfile caps every online core. Cores already capped move to
// the new ceiling and keep the wake ceiling saved when they were first capped.
func (c *Controller) enterSleepProfile(khz uint64) {
	if c.ceiling == nil {
		return
	}
	for cpu := 0; cpu < c.store.Len(); cpu++ {
		r := c.store.Core(cpu)
		if sleeping, _ := r.sleepState(); sleeping {
			if err := c.ceiling.SetCeiling(cpu, khz); err != nil {
				c.logger.Warn("display.sleep_profile.failed", "Updating sleep ceiling failed", map[string]interface{}{
					"cpu":   cpu,
					"error": err.Error(),
				})
			}
			continue
		}
		if online, err := c.power.IsOnline(cpu); cpu != 0 && (err != nil || !online) {
			continue
		}
		previous, err := c.ceiling.Ceiling(cpu)
		if err != nil {
			c.logger.Warn("display.sleep_profile.failed", "Failed to read frequency ceiling", map[string]interface{}{
				"cpu":   cpu,
				"error": err.Error(),
			})
			continue
		}
		if err := c.ceiling.SetCeiling(cpu, khz); err != nil {
			c.logger.Warn("display.sleep_profile.failed", "Entering sleep profile failed", map[string]interface{}{
				"cpu":   cpu,
				"error": err.Error(),
			})
			continue
		}
		r.enterSleep(previous)
		c.logger.Debug("display.sleep_profile.entered", "Entered sleep profile", map[string]interface{}{
			"cpu":          cpu,
			"ceiling_khz":  khz,
			"previous_khz": previous,
		})
	}
}

// leaveSleepProfile restores the saved ceiling of every capped core
func (c *Controller) leaveSleepProfile() {
	if c.ceiling == nil {
		return
	}
	for cpu := 0; cpu < c.store.Len(); cpu++ {
		r := c.store.Core(cpu)
		sleeping, saved := r.sleepState()
		if !sleeping {
			continue
		}
		if err := c.ceiling.SetCeiling(cpu, saved); err != nil {
			c.logger.Warn("display.sleep_profile.failed", "Restoring wake profile failed", map[string]interface{}{
				"cpu":   cpu,
				"error": err.Error(),
			})
			continue
		}
		r.leaveSleep()
		c.logger.Debug("display.sleep_profile.left", "Restored wake profile", map[string]interface{}{
			"cpu":         cpu,
			"ceiling_khz": saved,
		})
	}
}

// sleepProfileChanged applies or reverts the profile when the knob flips
// while the screen is off
func (c *Controller) sleepProfileChanged(tun Tunables) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.suspend != Suspended {
		return
	}
	if tun.SleepProfile {
		c.enterSleepProfile(tun.ScreenOffFreq)
	} else {
		c.leaveSleepProfile()
	}
}

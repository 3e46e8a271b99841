package config

import (
	"fmt"
	"net"
	"time"

	"hotplugd/internal/hotplug"
)

const minDisplayPoll = 50 * time.Millisecond

// Validate checks if the configuration is valid. Checks that depend on the
// device core count run in Tunables.
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateHotplug()...)
	errors = append(errors, c.validateThresholds()...)
	errors = append(errors, c.validateLoad()...)
	errors = append(errors, c.validateDisplay()...)
	errors = append(errors, c.validateTelemetry()...)
	errors = append(errors, c.validateLogging()...)

	if c.Sysfs.Root == "" {
		errors = append(errors, ValidationError{Path: "sysfs.root", Message: "must not be empty"})
	}
	if c.StateDir == "" {
		errors = append(errors, ValidationError{Path: "state_dir", Message: "must not be empty"})
	}

	return errors
}

func (c *Config) validateHotplug() []ValidationError {
	var errors []ValidationError
	h := c.Hotplug

	if h.Delay < hotplug.MinDelay {
		errors = append(errors, ValidationError{
			Path:    "hotplug.delay",
			Message: fmt.Sprintf("must be at least %s, got %s", hotplug.MinDelay, h.Delay),
		})
	}
	if h.StartDelay != nil && *h.StartDelay < 0 {
		errors = append(errors, ValidationError{
			Path:    "hotplug.start_delay",
			Message: fmt.Sprintf("must be non-negative, got %s", *h.StartDelay),
		})
	}
	if h.Pause != nil && *h.Pause < 0 {
		errors = append(errors, ValidationError{
			Path:    "hotplug.pause",
			Message: fmt.Sprintf("must be non-negative, got %s", *h.Pause),
		})
	}
	if h.MinCPUs < 1 {
		errors = append(errors, ValidationError{
			Path:    "hotplug.min_cpus",
			Message: fmt.Sprintf("must be at least 1, got %d", h.MinCPUs),
		})
	}
	if h.MaxCPUs < 0 {
		errors = append(errors, ValidationError{
			Path:    "hotplug.max_cpus",
			Message: fmt.Sprintf("must be non-negative, got %d", h.MaxCPUs),
		})
	}
	if h.MaxCPUs > 0 && h.MinCPUs > h.MaxCPUs {
		errors = append(errors, ValidationError{
			Path:    "hotplug.min_cpus",
			Message: fmt.Sprintf("must not exceed max_cpus (%d), got %d", h.MaxCPUs, h.MinCPUs),
		})
	}
	if IsSet(h.SleepProfile, true) && h.ScroffFreqKHz == 0 {
		errors = append(errors, ValidationError{
			Path:    "hotplug.scroff_freq_khz",
			Message: "must be set when sleep_profile is enabled",
		})
	}

	return errors
}

func (c *Config) validateThresholds() []ValidationError {
	var errors []ValidationError
	seen := make(map[int]bool)

	for i, th := range c.Hotplug.Thresholds {
		path := fmt.Sprintf("hotplug.thresholds[%d]", i)
		if th.Cores < 1 {
			errors = append(errors, ValidationError{
				Path:    path + ".cores",
				Message: fmt.Sprintf("must be at least 1, got %d", th.Cores),
			})
			continue
		}
		if seen[th.Cores] {
			errors = append(errors, ValidationError{
				Path:    path + ".cores",
				Message: fmt.Sprintf("duplicate entry for %d cores", th.Cores),
			})
		}
		seen[th.Cores] = true
		if th.TimeLow < 0 || th.TimeHigh < 0 {
			errors = append(errors, ValidationError{
				Path:    path,
				Message: "dwell times must be non-negative",
			})
		}
	}

	return errors
}

func (c *Config) validateLoad() []ValidationError {
	var errors []ValidationError
	validSources := []string{LoadSourceProcStat, LoadSourceLoadAvg}
	if !contains(validSources, c.Load.Source) {
		errors = append(errors, ValidationError{
			Path:    "load.source",
			Message: fmt.Sprintf("must be one of %v, got '%s'", validSources, c.Load.Source),
		})
	}
	if c.Load.Source == LoadSourceProcStat && c.Load.PollInterval <= 0 {
		errors = append(errors, ValidationError{
			Path:    "load.poll_interval",
			Message: fmt.Sprintf("must be positive, got %s", c.Load.PollInterval),
		})
	}
	return errors
}

func (c *Config) validateDisplay() []ValidationError {
	if !IsSet(c.Display.Enabled, true) || c.Display.PollInterval >= minDisplayPoll {
		return nil
	}
	return []ValidationError{{
		Path:    "display.poll_interval",
		Message: fmt.Sprintf("must be at least %s, got %s", minDisplayPoll, c.Display.PollInterval),
	}}
}

func (c *Config) validateTelemetry() []ValidationError {
	if !IsSet(c.Telemetry.Enabled, true) {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Telemetry.Listen); err != nil {
		return []ValidationError{{
			Path:    "telemetry.listen",
			Message: fmt.Sprintf("must be host:port, got '%s'", c.Telemetry.Listen),
		}}
	}
	return nil
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError
	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, c.Logging.Level) {
		errors = append(errors, ValidationError{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got '%s'", validLevels, c.Logging.Level),
		})
	}

	validFormats := []string{"json", "text"}
	if !contains(validFormats, c.Logging.Format) {
		errors = append(errors, ValidationError{
			Path:    "logging.format",
			Message: fmt.Sprintf("must be one of %v, got '%s'", validFormats, c.Logging.Format),
		})
	}

	return errors
}

// contains checks if a string is in a slice
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"hotplugd/internal/configdir"
	"hotplugd/internal/hotplug"
)

const (
	systemConfigFile = "config.yaml"
	userConfigDir    = ".hotplugd"
	userConfigFile   = "config.yaml"
)

// Load loads and merges configuration from system and user files
// Priority: defaults < system config < user config
func Load() (Config, error) {
	cfg := DefaultConfig()

	systemPath := filepath.Join(configdir.ConfigDir(), systemConfigFile)
	if err := mergeConfigFile(&cfg, systemPath); err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("failed to load system config: %w", err)
	}

	if userPath := UserConfigPath(); userPath != "" {
		if err := mergeConfigFile(&cfg, userPath); err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if validationErrors := cfg.Validate(); len(validationErrors) > 0 {
		return cfg, fmt.Errorf("config.validation.error: %v", formatValidationErrors(validationErrors))
	}

	return cfg, nil
}

// LoadFrom loads configuration from a specific file path on top of the defaults
func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()
	if err := mergeConfigFile(&cfg, path); err != nil {
		return cfg, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	if validationErrors := cfg.Validate(); len(validationErrors) > 0 {
		return cfg, fmt.Errorf("config.validation.error: %v", formatValidationErrors(validationErrors))
	}

	return cfg, nil
}

// mergeConfigFile reads a YAML file and merges it into the existing config
func mergeConfigFile(cfg *Config, path string) error {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path is constructed from trusted sources
	if err != nil {
		return err
	}

	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	mergeConfig(cfg, &overlay)
	return nil
}

// mergeConfig merges set values from src into dst
func mergeConfig(dst, src *Config) {
	mergeHotplug(&dst.Hotplug, &src.Hotplug)

	if src.Load.Source != "" {
		dst.Load.Source = src.Load.Source
	}
	if src.Load.PollInterval != 0 {
		dst.Load.PollInterval = src.Load.PollInterval
	}
	if src.Load.ProcMount != "" {
		dst.Load.ProcMount = src.Load.ProcMount
	}

	if src.Sysfs.Root != "" {
		dst.Sysfs.Root = src.Sysfs.Root
	}

	if src.Display.Enabled != nil {
		dst.Display.Enabled = src.Display.Enabled
	}
	if src.Display.BacklightPath != "" {
		dst.Display.BacklightPath = src.Display.BacklightPath
	}
	if src.Display.PollInterval != 0 {
		dst.Display.PollInterval = src.Display.PollInterval
	}

	if src.Telemetry.Enabled != nil {
		dst.Telemetry.Enabled = src.Telemetry.Enabled
	}
	if src.Telemetry.Listen != "" {
		dst.Telemetry.Listen = src.Telemetry.Listen
	}

	if src.Logging.Level != "" {
		dst.Logging.Level = src.Logging.Level
	}
	if src.Logging.Format != "" {
		dst.Logging.Format = src.Logging.Format
	}
	if src.Logging.File != "" {
		dst.Logging.File = src.Logging.File
	}

	if src.StateDir != "" {
		dst.StateDir = src.StateDir
	}
}

func mergeHotplug(dst, src *HotplugConfig) {
	if src.Enabled != nil {
		dst.Enabled = src.Enabled
	}
	if src.Delay != 0 {
		dst.Delay = src.Delay
	}
	if src.StartDelay != nil {
		dst.StartDelay = src.StartDelay
	}
	if src.Pause != nil {
		dst.Pause = src.Pause
	}
	if src.MinCPUs != 0 {
		dst.MinCPUs = src.MinCPUs
	}
	if src.MaxCPUs != 0 {
		dst.MaxCPUs = src.MaxCPUs
	}
	// threshold rows replace per core count
	for _, th := range src.Thresholds {
		replaced := false
		for i := range dst.Thresholds {
			if dst.Thresholds[i].Cores == th.Cores {
				dst.Thresholds[i] = th
				replaced = true
			}
		}
		if !replaced {
			dst.Thresholds = append(dst.Thresholds, th)
		}
	}
	if src.SuspendSingleCore != nil {
		dst.SuspendSingleCore = src.SuspendSingleCore
	}
	if src.SleepProfile != nil {
		dst.SleepProfile = src.SleepProfile
	}
	if src.ScroffFreqKHz != 0 {
		dst.ScroffFreqKHz = src.ScroffFreqKHz
	}
	if src.IdleFreqKHz != nil {
		dst.IdleFreqKHz = src.IdleFreqKHz
	}
}

// Tunables maps the hotplug section onto controller tunables for a device
// with the given number of possible cpus
func (c *Config) Tunables(possible int) (hotplug.Tunables, error) {
	h := c.Hotplug
	tun := hotplug.DefaultTunables(possible)

	tun.Delay = h.Delay
	if h.StartDelay != nil {
		tun.StartDelay = *h.StartDelay
	}
	if h.Pause != nil {
		tun.Pause = *h.Pause
	}
	tun.MinCPUs = h.MinCPUs
	if h.MaxCPUs > 0 {
		tun.MaxCPUs = h.MaxCPUs
	}
	for _, th := range h.Thresholds {
		err := tun.Thresholds.Set(th.Cores, hotplug.Threshold{
			LoadLow:  th.LoadLow,
			LoadHigh: th.LoadHigh,
			TimeLow:  th.TimeLow,
			TimeHigh: th.TimeHigh,
		})
		if err != nil {
			return hotplug.Tunables{}, fmt.Errorf("hotplug.thresholds: %w", err)
		}
	}
	tun.SuspendSingleCore = IsSet(h.SuspendSingleCore, tun.SuspendSingleCore)
	tun.SleepProfile = IsSet(h.SleepProfile, tun.SleepProfile)
	if h.ScroffFreqKHz != 0 {
		tun.ScreenOffFreq = h.ScroffFreqKHz
	}
	if h.IdleFreqKHz != nil {
		tun.IdleFreq = *h.IdleFreqKHz
	}

	if err := tun.Validate(possible); err != nil {
		return hotplug.Tunables{}, fmt.Errorf("hotplug: %w", err)
	}
	return tun, nil
}

// formatValidationErrors formats validation errors for display
func formatValidationErrors(errors []ValidationError) string {
	if len(errors) == 0 {
		return ""
	}
	if len(errors) == 1 {
		return errors[0].Error()
	}
	result := fmt.Sprintf("%d validation errors:\n", len(errors))
	for _, err := range errors {
		result += "  - " + err.Error() + "\n"
	}
	return result
}

// SystemConfigPath returns the path to the system configuration file
func SystemConfigPath() string {
	return filepath.Join(configdir.ConfigDir(), systemConfigFile)
}

// UserConfigPath returns the path to the user configuration file
func UserConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, userConfigDir, userConfigFile)
}

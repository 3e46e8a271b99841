package config

import "time"

// Config represents the complete hotplugd configuration
type Config struct {
	Hotplug   HotplugConfig   `yaml:"hotplug"`
	Load      LoadConfig      `yaml:"load"`
	Sysfs     SysfsConfig     `yaml:"sysfs"`
	Display   DisplayConfig   `yaml:"display"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
	StateDir  string          `yaml:"state_dir"`
}

// HotplugConfig represents the control loop tunables. Pointer fields
// distinguish "unset" from an explicit zero or false.
type HotplugConfig struct {
	Enabled           *bool             `yaml:"enabled"`
	Delay             time.Duration     `yaml:"delay"`
	StartDelay        *time.Duration    `yaml:"start_delay"`
	Pause             *time.Duration    `yaml:"pause"`
	MinCPUs           int               `yaml:"min_cpus"`
	MaxCPUs           int               `yaml:"max_cpus"` // 0 means every possible cpu
	Thresholds        []ThresholdConfig `yaml:"thresholds"`
	SuspendSingleCore *bool             `yaml:"suspend_single_core"`
	SleepProfile      *bool             `yaml:"sleep_profile"`
	ScroffFreqKHz     uint64            `yaml:"scroff_freq_khz"`
	IdleFreqKHz       *uint64           `yaml:"idle_freq_khz"`
}

// ThresholdConfig overrides the hysteresis pair for one online-core count.
// Loads are in tenths of a runnable task.
type ThresholdConfig struct {
	Cores    int           `yaml:"cores"`
	LoadLow  uint32        `yaml:"load_low"`
	LoadHigh uint32        `yaml:"load_high"`
	TimeLow  time.Duration `yaml:"time_low"`
	TimeHigh time.Duration `yaml:"time_high"`
}

// LoadConfig represents the load sampler selection
type LoadConfig struct {
	Source       string        `yaml:"source"`
	PollInterval time.Duration `yaml:"poll_interval"`
	ProcMount    string        `yaml:"proc_mount"`
}

// SysfsConfig represents the cpu device tree location
type SysfsConfig struct {
	Root string `yaml:"root"`
}

// DisplayConfig represents the backlight watcher configuration
type DisplayConfig struct {
	Enabled       *bool         `yaml:"enabled"`
	BacklightPath string        `yaml:"backlight_path"` // empty means auto-detect
	PollInterval  time.Duration `yaml:"poll_interval"`
}

// TelemetryConfig represents the HTTP API configuration
type TelemetryConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Path    string
	Message string
}

func (e ValidationError) Error() string {
	return e.Path + ": " + e.Message
}

// IsSet reports whether an optional flag is true, falling back to def when
// it was never configured
func IsSet(flag *bool, def bool) bool {
	if flag == nil {
		return def
	}
	return *flag
}

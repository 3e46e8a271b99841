package config

import (
	"time"

	"hotplugd/internal/display"
	"hotplugd/internal/fsutil"
	"hotplugd/internal/load"
	"hotplugd/internal/sysfs"
	"hotplugd/internal/telemetry"
)

const (
	// LoadSourceProcStat samples procs_running from /proc/stat
	LoadSourceProcStat = "procstat"
	// LoadSourceLoadAvg reads the kernel's one-minute load average
	LoadSourceLoadAvg = "loadavg"
)

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		Hotplug: HotplugConfig{
			Enabled:           boolPtr(true),
			Delay:             70 * time.Millisecond,
			StartDelay:        durationPtr(20 * time.Second),
			Pause:             durationPtr(10 * time.Second),
			MinCPUs:           1,
			MaxCPUs:           0,
			SuspendSingleCore: boolPtr(true),
			SleepProfile:      boolPtr(true),
			ScroffFreqKHz:     486000,
		},
		Load: LoadConfig{
			Source:       LoadSourceProcStat,
			PollInterval: load.DefaultPollInterval,
			ProcMount:    "/proc",
		},
		Sysfs: SysfsConfig{
			Root: sysfs.DefaultRoot,
		},
		Display: DisplayConfig{
			Enabled:      boolPtr(true),
			PollInterval: display.DefaultPollInterval,
		},
		Telemetry: TelemetryConfig{
			Enabled: boolPtr(true),
			Listen:  telemetry.DefaultListenAddr,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		StateDir: fsutil.DefaultStateDir,
	}
}

func boolPtr(b bool) *bool {
	return &b
}

func durationPtr(d time.Duration) *time.Duration {
	return &d
}

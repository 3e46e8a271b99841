package configdir

import (
	"os"
	"path/filepath"
)

const defaultConfigDir = "/etc/hotplugd"

// Env overrides the system configuration directory
const Env = "HOTPLUGD_CONFIG_DIR"

// ConfigDir resolves the configuration directory respecting overrides
func ConfigDir() string {
	if env := os.Getenv(Env); env != "" {
		if abs, err := filepath.Abs(env); err == nil {
			return abs
		}
		return env
	}
	return defaultConfigDir
}

package diag

import (
	"context"
	"time"

	"hotplugd/internal/hotplug"
)

// Manifest represents the diagnostic package manifest
type Manifest struct {
	Timestamp string         `json:"timestamp"`
	Host      string         `json:"host"`
	Version   string         `json:"hotplugd_version"`
	Files     []ManifestFile `json:"files"`
}

// ManifestFile represents a file in the diagnostic package
type ManifestFile struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	SHA256    string `json:"sha256"`
}

// Daemon is the running daemon's read API
type Daemon interface {
	Status(ctx context.Context) (hotplug.Snapshot, error)
	Knobs(ctx context.Context) (map[string]string, error)
	Counters(ctx context.Context) (map[int]uint64, error)
}

// Config configures diagnostic collection
type Config struct {
	LogFile       string
	ConfigPaths   []string
	StateFile     string
	SysfsRoot     string
	OutputPath    string
	IncludeLogs   bool
	IncludeConfig bool
	Version       string
	// Daemon may be nil when only on-disk artifacts are wanted.
	Daemon Daemon
}

// NewConfig creates a default diagnostic config
func NewConfig(version string) *Config {
	return &Config{
		OutputPath:    generateOutputPath(),
		IncludeLogs:   true,
		IncludeConfig: true,
		Version:       version,
	}
}

func generateOutputPath() string {
	timestamp := time.Now().UTC().Format("20060102-150405")
	return "hotplugd-diag-" + timestamp + ".zip"
}

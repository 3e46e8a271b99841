package diag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hotplugd/internal/logging"
	"hotplugd/internal/sysfs"
)

const daemonTimeout = 3 * time.Second

// Collector gathers diagnostic artifacts
type Collector struct {
	config *Config
	logger *logging.Logger
}

// NewCollector creates a new diagnostic collector
func NewCollector(config *Config, logger *logging.Logger) *Collector {
	return &Collector{
		config: config,
		logger: logger,
	}
}

// CollectLogs gathers the daemon log file and its rotated siblings
func (c *Collector) CollectLogs() (map[string][]byte, error) {
	if !c.config.IncludeLogs || c.config.LogFile == "" {
		return nil, nil
	}

	files := make(map[string][]byte)
	matches, err := filepath.Glob(c.config.LogFile + "*")
	if err != nil {
		return files, fmt.Errorf("failed to list log files: %w", err)
	}
	if len(matches) == 0 {
		c.logger.Warn("diag.collect.logs.missing", "Log file not found", map[string]interface{}{
			"path": c.config.LogFile,
		})
		return files, nil
	}

	for _, path := range matches {
		content, err := os.ReadFile(path)
		if err != nil {
			c.logger.Warn("diag.collect.logs.read_error", "Failed to read log file", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
			continue
		}
		files["logs/"+filepath.Base(path)] = content
	}

	c.logger.Info("diag.collect.logs.complete", "Log collection complete", map[string]interface{}{
		"file_count": len(files),
	})
	return files, nil
}

// CollectConfig gathers every configuration layer that exists plus the
// persisted runtime tunables
func (c *Collector) CollectConfig() (map[string][]byte, error) {
	if !c.config.IncludeConfig {
		return nil, nil
	}

	files := make(map[string][]byte)
	for i, path := range c.config.ConfigPaths {
		content, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				c.logger.Warn("diag.collect.config.read_error", "Failed to read config file", map[string]interface{}{
					"path":  path,
					"error": err.Error(),
				})
			}
			continue
		}
		files[fmt.Sprintf("config/%d-%s", i, filepath.Base(path))] = content
	}

	if c.config.StateFile != "" {
		if content, err := os.ReadFile(c.config.StateFile); err == nil {
			files["config/"+filepath.Base(c.config.StateFile)] = content
		}
	}

	c.logger.Info("diag.collect.config.complete", "Config collection complete", map[string]interface{}{
		"file_count": len(files),
	})
	return files, nil
}

// coreState is one cpu as seen by sysfs at collection time
type coreState struct {
	CPU        int    `json:"cpu"`
	Online     *bool  `json:"online,omitempty"`
	CurFreqKHz uint64 `json:"cur_freq_khz,omitempty"`
	MaxFreqKHz uint64 `json:"max_freq_khz,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CollectSysfs records the hardware state of every possible cpu
func (c *Collector) CollectSysfs() (map[string][]byte, error) {
	files := make(map[string][]byte)

	cpu, err := sysfs.Open(c.config.SysfsRoot)
	if err != nil {
		return files, fmt.Errorf("failed to open cpu sysfs: %w", err)
	}

	cores := make([]coreState, 0, cpu.Possible())
	for id := 0; id < cpu.Possible(); id++ {
		state := coreState{CPU: id}
		var errs []string
		if online, err := cpu.IsOnline(id); err == nil {
			state.Online = &online
		} else {
			errs = append(errs, err.Error())
		}
		// frequency files vanish while a core is offline
		if cur, err := cpu.Level(id); err == nil {
			state.CurFreqKHz = cur
		}
		if ceiling, err := cpu.Ceiling(id); err == nil {
			state.MaxFreqKHz = ceiling
		}
		state.Error = strings.Join(errs, "; ")
		cores = append(cores, state)
	}

	data, err := json.MarshalIndent(map[string]interface{}{
		"root":     cpu.Root(),
		"possible": cpu.Possible(),
		"cores":    cores,
	}, "", "  ")
	if err != nil {
		return files, fmt.Errorf("failed to marshal sysfs state: %w", err)
	}
	files["sysfs/cpus.json"] = data

	c.logger.Info("diag.collect.sysfs.complete", "Sysfs collection complete", map[string]interface{}{
		"possible": cpu.Possible(),
	})
	return files, nil
}

// CollectDaemon queries the running daemon. An unreachable daemon is
// recorded in the package rather than failing it.
func (c *Collector) CollectDaemon(ctx context.Context) (map[string][]byte, error) {
	if c.config.Daemon == nil {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, daemonTimeout)
	defer cancel()

	files := make(map[string][]byte)
	var failures []string

	add := func(name string, v interface{}, err error) {
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", name, err))
			return
		}
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", name, err))
			return
		}
		files["daemon/"+name] = data
	}

	snap, err := c.config.Daemon.Status(ctx)
	add("status.json", snap, err)
	knobs, err := c.config.Daemon.Knobs(ctx)
	add("tunables.json", knobs, err)
	counters, err := c.config.Daemon.Counters(ctx)
	add("counters.json", counters, err)

	if len(failures) > 0 {
		files["daemon/errors.txt"] = []byte(strings.Join(failures, "\n") + "\n")
		c.logger.Warn("diag.collect.daemon.partial", "Daemon did not answer every query", map[string]interface{}{
			"failures": len(failures),
		})
	}
	return files, nil
}

// CollectSystemInfo gathers host and kernel information
func (c *Collector) CollectSystemInfo() (map[string][]byte, error) {
	files := make(map[string][]byte)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	sysInfo := map[string]interface{}{
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
		"host":             hostname,
		"hotplugd_version": c.config.Version,
	}
	for k, v := range kernelInfo() {
		sysInfo[k] = v
	}

	sysInfoJSON, err := json.MarshalIndent(sysInfo, "", "  ")
	if err != nil {
		return files, fmt.Errorf("failed to marshal system info: %w", err)
	}
	files["system_info.json"] = sysInfoJSON

	c.logger.Info("diag.collect.sysinfo.complete", "System info collection complete", nil)
	return files, nil
}

// CalculateSHA256 computes SHA256 hash of data
func CalculateSHA256(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

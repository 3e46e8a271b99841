// Package sysfs drives CPU hotplug and cpufreq knobs through the kernel's
// sysfs tree
package sysfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// DefaultRoot is the kernel's CPU device directory
const DefaultRoot = "/sys/devices/system/cpu"

// ErrNoOnlineControl is returned when a core has no online file, which is
// the case for cores the kernel does not allow to be hot-unplugged.
var ErrNoOnlineControl = errors.New("cpu has no online control")

// CPU implements the hotplug collaborator interfaces on a sysfs tree
type CPU struct {
	root     string
	possible int
}

// Open reads the possible-CPU list under root. An empty root means
// DefaultRoot.
func Open(root string) (*CPU, error) {
	if root == "" {
		root = DefaultRoot
	}

	data, err := os.ReadFile(filepath.Join(root, "possible"))
	if err != nil {
		return nil, fmt.Errorf("failed to read possible cpus: %w", err)
	}
	ids, err := ParseCPUList(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse possible cpus: %w", err)
	}
	if len(ids) == 0 {
		return nil, errors.New("no possible cpus listed")
	}

	return &CPU{root: root, possible: ids[len(ids)-1] + 1}, nil
}

// Root returns the sysfs directory in use
func (c *CPU) Root() string {
	return c.root
}

// Possible returns the number of core ids the kernel can bring online
func (c *CPU) Possible() int {
	return c.possible
}

func (c *CPU) cpuPath(cpu int, resource ...string) string {
	parts := append([]string{c.root, fmt.Sprintf("cpu%d", cpu)}, resource...)
	return filepath.Join(parts...)
}

// IsOnline reads cpuN/online. A core without the file is always online.
func (c *CPU) IsOnline(cpu int) (bool, error) {
	if err := c.checkRange(cpu); err != nil {
		return false, err
	}

	data, err := os.ReadFile(c.cpuPath(cpu, "online"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if _, statErr := os.Stat(c.cpuPath(cpu)); statErr == nil {
				return true, nil
			}
		}
		return false, fmt.Errorf("failed to read online state for cpu %d: %w", cpu, err)
	}

	switch strings.TrimSpace(string(data)) {
	case "1":
		return true, nil
	case "0":
		return false, nil
	default:
		return false, fmt.Errorf("unexpected online state %q for cpu %d", strings.TrimSpace(string(data)), cpu)
	}
}

// SetOnline writes cpuN/online
func (c *CPU) SetOnline(cpu int, online bool) error {
	if err := c.checkRange(cpu); err != nil {
		return err
	}

	path := c.cpuPath(cpu, "online")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("cpu %d: %w", cpu, ErrNoOnlineControl)
	}

	value := "0"
	if online {
		value = "1"
	}
	if err := os.WriteFile(path, []byte(value), 0644); err != nil {
		return fmt.Errorf("failed to set online state for cpu %d: %w", cpu, err)
	}
	return nil
}

// Level returns scaling_cur_freq in kHz
func (c *CPU) Level(cpu int) (uint64, error) {
	return c.readFreq(cpu, "scaling_cur_freq")
}

// Ceiling returns scaling_max_freq in kHz
func (c *CPU) Ceiling(cpu int) (uint64, error) {
	return c.readFreq(cpu, "scaling_max_freq")
}

// SetCeiling writes scaling_max_freq in kHz
func (c *CPU) SetCeiling(cpu int, khz uint64) error {
	if err := c.checkRange(cpu); err != nil {
		return err
	}
	path := c.cpuPath(cpu, "cpufreq", "scaling_max_freq")
	if err := os.WriteFile(path, []byte(strconv.FormatUint(khz, 10)), 0644); err != nil {
		return fmt.Errorf("failed to set max frequency for cpu %d: %w", cpu, err)
	}
	return nil
}

func (c *CPU) readFreq(cpu int, resource string) (uint64, error) {
	if err := c.checkRange(cpu); err != nil {
		return 0, err
	}

	data, err := os.ReadFile(c.cpuPath(cpu, "cpufreq", resource))
	if err != nil {
		return 0, fmt.Errorf("failed to read %s for cpu %d: %w", resource, cpu, err)
	}
	freq, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s for cpu %d: %w", resource, cpu, err)
	}
	return freq, nil
}

func (c *CPU) checkRange(cpu int) error {
	if cpu < 0 || cpu >= c.possible {
		return fmt.Errorf("cpu %d outside possible range [0, %d)", cpu, c.possible)
	}
	return nil
}

// ParseCPUList parses the kernel's cpulist format ("0-3,6,8-9") into sorted
// unique ids
func ParseCPUList(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}

	seen := make(map[int]struct{})
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		start, err := strconv.Atoi(lo)
		if err != nil || start < 0 {
			return nil, fmt.Errorf("invalid cpu id %q", lo)
		}
		end := start
		if isRange {
			end, err = strconv.Atoi(hi)
			if err != nil || end < start {
				return nil, fmt.Errorf("invalid cpu range %q", part)
			}
		}
		for id := start; id <= end; id++ {
			seen[id] = struct{}{}
		}
	}

	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

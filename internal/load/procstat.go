// Package load provides run-queue samplers for the hotplug controller. All
// samplers report load in tenths of a runnable task.
package load

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/procfs"

	"hotplugd/internal/logging"
)

// DefaultPollInterval is how often the run queue is polled between decisions
const DefaultPollInterval = 10 * time.Millisecond

// statReader is the slice of procfs the sampler needs
type statReader interface {
	Stat() (procfs.Stat, error)
}

// ProcStatSampler averages procs_running from /proc/stat over the window
// since the previous Sample call
type ProcStatSampler struct {
	fs       statReader
	interval time.Duration
	logger   *logging.Logger

	mu    sync.Mutex
	sum   uint64
	count uint64
}

// NewProcStatSampler opens procfs at mountPoint ("" means /proc)
func NewProcStatSampler(mountPoint string, interval time.Duration, logger *logging.Logger) (*ProcStatSampler, error) {
	if mountPoint == "" {
		mountPoint = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs at %s: %w", mountPoint, err)
	}
	return newProcStatSampler(fs, interval, logger), nil
}

func newProcStatSampler(fs statReader, interval time.Duration, logger *logging.Logger) *ProcStatSampler {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &ProcStatSampler{
		fs:       fs,
		interval: interval,
		logger:   logger,
	}
}

// Run polls the run queue until ctx is cancelled
func (s *ProcStatSampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Debug("load.sampler.started", "Run-queue sampler started", map[string]interface{}{
		"source":      "procstat",
		"interval_ms": s.interval.Milliseconds(),
	})

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.poll(); err != nil {
				failures++
				// one warning per burst of failures
				if failures == 1 {
					s.logger.Warn("load.sampler.poll_failed", "Failed to read /proc/stat", map[string]interface{}{
						"error": err.Error(),
					})
				}
				continue
			}
			failures = 0
		}
	}
}

func (s *ProcStatSampler) poll() error {
	stat, err := s.fs.Stat()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.sum += stat.ProcessesRunning
	s.count++
	s.mu.Unlock()
	return nil
}

// Sample returns the average run-queue depth ×10 since the previous call and
// starts a new window. With no polls in the window it reads once directly.
func (s *ProcStatSampler) Sample() (uint32, error) {
	s.mu.Lock()
	sum, count := s.sum, s.count
	s.sum, s.count = 0, 0
	s.mu.Unlock()

	if count == 0 {
		stat, err := s.fs.Stat()
		if err != nil {
			return 0, fmt.Errorf("failed to read /proc/stat: %w", err)
		}
		return tenths(float64(stat.ProcessesRunning)), nil
	}
	return tenths(float64(sum) / float64(count)), nil
}

func tenths(v float64) uint32 {
	if v <= 0 {
		return 0
	}
	return uint32(v*10 + 0.5)
}

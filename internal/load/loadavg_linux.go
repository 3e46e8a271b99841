package load

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// loadShift is SI_LOAD_SHIFT from sysinfo(2)
const loadShift = 16

// LoadAvgSampler reports the kernel's one-minute load average. It reacts
// slowly but needs no polling goroutine.
type LoadAvgSampler struct {
	sysinfo func(*unix.Sysinfo_t) error
}

// NewLoadAvgSampler creates a sampler backed by sysinfo(2)
func NewLoadAvgSampler() *LoadAvgSampler {
	return &LoadAvgSampler{sysinfo: unix.Sysinfo}
}

// Sample returns the one-minute load average ×10
func (s *LoadAvgSampler) Sample() (uint32, error) {
	var info unix.Sysinfo_t
	if err := s.sysinfo(&info); err != nil {
		return 0, fmt.Errorf("sysinfo failed: %w", err)
	}
	return tenths(float64(uint64(info.Loads[0])) / float64(uint64(1)<<loadShift)), nil
}

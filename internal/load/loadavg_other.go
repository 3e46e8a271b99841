//go:build !linux

package load

import "errors"

// LoadAvgSampler is only available on Linux
type LoadAvgSampler struct{}

// NewLoadAvgSampler creates a sampler that always fails off Linux
func NewLoadAvgSampler() *LoadAvgSampler {
	return &LoadAvgSampler{}
}

// Sample always fails off Linux
func (s *LoadAvgSampler) Sample() (uint32, error) {
	return 0, errors.New("load average sampling requires linux")
}

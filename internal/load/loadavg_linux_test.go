package load

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestLoadAvgSampler(t *testing.T) {
	s := &LoadAvgSampler{sysinfo: func(info *unix.Sysinfo_t) error {
		// 1.5 in fixed point
		info.Loads[0] = 3 << (loadShift - 1)
		return nil
	}}
	load, err := s.Sample()
	require.NoError(t, err)
	assert.Equal(t, uint32(15), load)

	s.sysinfo = func(*unix.Sysinfo_t) error { return unix.EPERM }
	_, err = s.Sample()
	assert.Error(t, err)
}

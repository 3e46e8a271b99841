package hotplug

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"hotplugd/internal/logging"
)

type fakeSampler struct {
	mu   sync.Mutex
	load uint32
	err  error
}

func (f *fakeSampler) Sample() (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load, f.err
}

func (f *fakeSampler) set(load uint32) {
	f.mu.Lock()
	f.load = load
	f.mu.Unlock()
}

// fakePower is a stateful core power switch. Calls to SetOnline are
// recorded so tests can assert on actuation.
type fakePower struct {
	mu       sync.Mutex
	online   []bool
	failSet  map[int]error
	setCalls int
}

func newFakePower(states ...bool) *fakePower {
	online := make([]bool, len(states))
	copy(online, states)
	online[0] = true
	return &fakePower{online: online, failSet: map[int]error{}}
}

func (f *fakePower) Possible() int {
	return len(f.online)
}

func (f *fakePower) IsOnline(cpu int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cpu < 0 || cpu >= len(f.online) {
		return false, errors.New("no such cpu")
	}
	return f.online[cpu], nil
}

func (f *fakePower) SetOnline(cpu int, online bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls++
	if err := f.failSet[cpu]; err != nil {
		return err
	}
	f.online[cpu] = online
	return nil
}

// external flips a core behind the controller's back
func (f *fakePower) external(cpu int, online bool) {
	f.mu.Lock()
	f.online[cpu] = online
	f.mu.Unlock()
}

func (f *fakePower) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.setCalls
}

func (f *fakePower) mask() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := make([]byte, len(f.online))
	for i, on := range f.online {
		b[i] = '0'
		if on {
			b[i] = '1'
		}
	}
	return string(b)
}

type fakePerf struct {
	mu     sync.Mutex
	levels map[int]uint64
}

func (f *fakePerf) Level(cpu int) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	level, ok := f.levels[cpu]
	if !ok {
		return 0, errors.New("no level")
	}
	return level, nil
}

type ceilingMock struct {
	mock.Mock
}

func (m *ceilingMock) Ceiling(cpu int) (uint64, error) {
	args := m.Called(cpu)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *ceilingMock) SetCeiling(cpu int, khz uint64) error {
	return m.Called(cpu, khz).Error(0)
}

func testLogger() (*logging.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return logging.NewWriterLogger(logging.LevelDebug, logging.FormatJSON, &buf), &buf
}

// testTunables returns tunables with no start delay so ticks decide at once
func testTunables(possible int) *Tunables {
	tun := DefaultTunables(possible)
	tun.StartDelay = 0
	tun.Delay = 50 * time.Millisecond
	tun.Pause = 500 * time.Millisecond
	return &tun
}

func newTestController(power *fakePower, sampler *fakeSampler, tun *Tunables, opts ...func(*Options)) *Controller {
	logger, _ := testLogger()
	o := Options{
		Sampler:  sampler,
		Power:    power,
		Perf:     &fakePerf{levels: map[int]uint64{}},
		Logger:   logger,
		Tunables: tun,
		Enabled:  true,
		Now:      func() time.Time { return epoch },
	}
	for _, fn := range opts {
		fn(&o)
	}
	c, err := New(o)
	if err != nil {
		panic(err)
	}
	return c
}

var epoch = time.Unix(1_700_000_000, 0)

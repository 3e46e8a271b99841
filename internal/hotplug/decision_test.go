package hotplug

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngineFixture(power *fakePower, load uint32) (*Engine, *fakeSampler, *fakePerf) {
	logger, _ := testLogger()
	sampler := &fakeSampler{load: load}
	perf := &fakePerf{levels: map[int]uint64{}}
	return NewEngine(sampler, power, perf, logger), sampler, perf
}

func TestDecide_Disabled(t *testing.T) {
	engine, _, _ := newEngineFixture(newFakePower(true, false), 40)
	st := newControllerState(false, epoch)

	d := engine.Decide(st, *testTunables(2), epoch)
	assert.Equal(t, Disabled, d.Verdict)
	assert.False(t, st.sampled, "disabled tick must not touch the sampler state")
}

func TestDecide_StartDelay(t *testing.T) {
	engine, _, _ := newEngineFixture(newFakePower(true, false), 40)
	st := newControllerState(true, epoch)
	tun := *testTunables(2)
	tun.StartDelay = time.Second

	d := engine.Decide(st, tun, epoch.Add(900*time.Millisecond))
	assert.Equal(t, NoOp, d.Verdict)
	assert.False(t, st.sampled)

	engine.Decide(st, tun, epoch.Add(time.Second))
	assert.True(t, st.sampled)
}

func TestDecide_HysteresisHeldBelowDwell(t *testing.T) {
	engine, _, _ := newEngineFixture(newFakePower(true, false), 35)
	st := newControllerState(true, epoch)
	tun := *testTunables(2)

	for ms := 0; ms < 250; ms += 50 {
		d := engine.Decide(st, tun, epoch.Add(time.Duration(ms)*time.Millisecond))
		assert.NotEqual(t, ScaleUp, d.Verdict, "scaled up after only %dms", ms)
	}
}

func TestDecide_HysteresisFiresOnceAtDwell(t *testing.T) {
	engine, _, _ := newEngineFixture(newFakePower(true, false), 35)
	st := newControllerState(true, epoch)
	tun := *testTunables(2)

	var ups []int
	for ms := 0; ms <= 300; ms += 50 {
		d := engine.Decide(st, tun, epoch.Add(time.Duration(ms)*time.Millisecond))
		if d.Verdict == ScaleUp {
			ups = append(ups, ms)
			assert.Zero(t, st.totalTime, "dwell must reset on a transition verdict")
		}
	}
	assert.Equal(t, []int{250}, ups)
}

func TestDecide_PausedKeepsDwell(t *testing.T) {
	engine, _, _ := newEngineFixture(newFakePower(true, false), 35)
	st := newControllerState(true, epoch)
	st.pause(epoch, time.Second)
	tun := *testTunables(2)

	for ms := 0; ms <= 300; ms += 50 {
		d := engine.Decide(st, tun, epoch.Add(time.Duration(ms)*time.Millisecond))
		require.Equal(t, NoOp, d.Verdict, "verdict while paused at %dms", ms)
	}
	assert.Equal(t, 300*time.Millisecond, st.totalTime)

	d := engine.Decide(st, tun, epoch.Add(time.Second))
	assert.Equal(t, ScaleUp, d.Verdict)
}

func TestDecide_CeilingAndFloor(t *testing.T) {
	tun := *testTunables(2)

	engine, _, _ := newEngineFixture(newFakePower(true, true), 90)
	st := newControllerState(true, epoch)
	for ms := 0; ms <= 1000; ms += 50 {
		d := engine.Decide(st, tun, epoch.Add(time.Duration(ms)*time.Millisecond))
		require.Equal(t, NoOp, d.Verdict, "ceiling must suppress scale up")
	}

	engine, _, _ = newEngineFixture(newFakePower(true, false), 0)
	st = newControllerState(true, epoch)
	for ms := 0; ms <= 1000; ms += 50 {
		d := engine.Decide(st, tun, epoch.Add(time.Duration(ms)*time.Millisecond))
		require.Equal(t, NoOp, d.Verdict, "floor must suppress scale down")
	}
}

func TestDecide_BandResetsDwell(t *testing.T) {
	engine, sampler, _ := newEngineFixture(newFakePower(true, false), 40)
	st := newControllerState(true, epoch)
	tun := *testTunables(2)

	engine.Decide(st, tun, epoch)
	engine.Decide(st, tun, epoch.Add(200*time.Millisecond))
	require.Equal(t, 200*time.Millisecond, st.totalTime)

	// row 1 has LoadLow 0, so 20 sits inside the band
	sampler.set(20)
	engine.Decide(st, tun, epoch.Add(250*time.Millisecond))
	assert.Zero(t, st.totalTime)

	sampler.set(40)
	d := engine.Decide(st, tun, epoch.Add(300*time.Millisecond))
	assert.Equal(t, NoOp, d.Verdict)
	assert.Equal(t, 50*time.Millisecond, st.totalTime)
}

func TestDecide_OppositeRegimeResetsDwell(t *testing.T) {
	// two of four cores online; row 2 is low=5 high=45
	engine, sampler, _ := newEngineFixture(newFakePower(true, true, false, false), 50)
	st := newControllerState(true, epoch)
	tun := *testTunables(4)

	engine.Decide(st, tun, epoch)
	engine.Decide(st, tun, epoch.Add(200*time.Millisecond))
	require.Equal(t, regimeHigh, st.regime)

	sampler.set(3)
	d := engine.Decide(st, tun, epoch.Add(240*time.Millisecond))
	assert.Equal(t, NoOp, d.Verdict, "dwell from the high regime must not carry into the low one")
	assert.Equal(t, regimeLow, st.regime)
	assert.Zero(t, st.totalTime)

	d = engine.Decide(st, tun, epoch.Add(490*time.Millisecond))
	assert.Equal(t, ScaleDown, d.Verdict)
}

func TestDecide_SampleError(t *testing.T) {
	engine, sampler, _ := newEngineFixture(newFakePower(true, false), 40)
	sampler.err = errors.New("proc unavailable")
	st := newControllerState(true, epoch)

	d := engine.Decide(st, *testTunables(2), epoch)
	assert.Equal(t, NoOp, d.Verdict)
	assert.Equal(t, 1, d.Online)
}

func TestDecide_IdleFreqGate(t *testing.T) {
	engine, _, perf := newEngineFixture(newFakePower(true, false), 40)
	perf.levels[0] = 300000
	st := newControllerState(true, epoch)
	tun := *testTunables(2)
	tun.IdleFreq = 1000000

	for ms := 0; ms <= 300; ms += 50 {
		d := engine.Decide(st, tun, epoch.Add(time.Duration(ms)*time.Millisecond))
		require.Equal(t, NoOp, d.Verdict, "scale up gated while cpu0 idles")
	}
	assert.GreaterOrEqual(t, st.totalTime, 250*time.Millisecond, "gated verdict keeps the dwell")

	perf.mu.Lock()
	perf.levels[0] = 1500000
	perf.mu.Unlock()
	d := engine.Decide(st, tun, epoch.Add(350*time.Millisecond))
	assert.Equal(t, ScaleUp, d.Verdict)
}

func TestDecide_IdleFreqGateIgnoredWithoutReadings(t *testing.T) {
	engine, _, _ := newEngineFixture(newFakePower(true, false), 40)
	st := newControllerState(true, epoch)
	tun := *testTunables(2)
	tun.IdleFreq = 1000000

	engine.Decide(st, tun, epoch)
	d := engine.Decide(st, tun, epoch.Add(250*time.Millisecond))
	assert.Equal(t, ScaleUp, d.Verdict)
}

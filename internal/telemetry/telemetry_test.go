package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"hotplugd/internal/hotplug"
	"hotplugd/internal/logging"
)

type controllerMock struct {
	mock.Mock
	snapshot hotplug.Snapshot
	knobs    map[string]string
}

func (c *controllerMock) Snapshot() hotplug.Snapshot { return c.snapshot }

func (c *controllerMock) Counters() map[int]uint64 {
	out := make(map[int]uint64)
	for _, core := range c.snapshot.Cores {
		out[core.CPU] = core.HotplugCount
	}
	return out
}

func (c *controllerMock) Knobs() map[string]string { return c.knobs }

func (c *controllerMock) Knob(name string) (string, error) {
	v, ok := c.knobs[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", hotplug.ErrUnknownKnob, name)
	}
	return v, nil
}

func (c *controllerMock) SetKnob(name, value string) error {
	if err := c.Called(name, value).Error(0); err != nil {
		return err
	}
	c.knobs[name] = value
	return nil
}

func (c *controllerMock) SetKnobs(values map[string]string) error {
	return c.Called(values).Error(0)
}

func (c *controllerMock) SetEnabled(enabled bool) error {
	return c.Called(enabled).Error(0)
}

func (c *controllerMock) OnDisplayOff() { c.Called() }
func (c *controllerMock) OnDisplayOn()  { c.Called() }

func newControllerMock() *controllerMock {
	return &controllerMock{
		snapshot: hotplug.Snapshot{
			State:    hotplug.StatusUp,
			Enabled:  true,
			Load:     42,
			Online:   2,
			Possible: 2,
			Stats:    hotplug.Stats{Ticks: 10, ScaleUps: 3, ScaleDowns: 2, Drifts: 1},
			Cores: []hotplug.CoreStatus{
				{CPU: 0, ExpectedOnline: true},
				{CPU: 1, ExpectedOnline: true, HotplugCount: 5, Sleeping: true},
			},
		},
		knobs: map[string]string{"delay": "70", "min_cpus": "1"},
	}
}

func newTestServer(t *testing.T, ctrl Controller) (*httptest.Server, *Client) {
	t.Helper()
	logger := logging.NewWriterLogger(logging.LevelError, logging.FormatJSON, io.Discard)
	ts := httptest.NewServer(NewServer("", ctrl, logger).Handler())
	t.Cleanup(ts.Close)
	return ts, NewClient(ts.URL)
}

func TestCollector(t *testing.T) {
	ctrl := newControllerMock()
	expected := `
# HELP hotplugd_cpu_hotplug_total Controller-initiated power transitions per CPU
# TYPE hotplugd_cpu_hotplug_total counter
hotplugd_cpu_hotplug_total{cpu="0"} 0
hotplugd_cpu_hotplug_total{cpu="1"} 5
# HELP hotplugd_state Current controller state, 1 for the active state
# TYPE hotplugd_state gauge
hotplugd_state{state="disabled"} 0
hotplugd_state{state="down"} 0
hotplugd_state{state="idle"} 0
hotplugd_state{state="paused"} 0
hotplugd_state{state="suspended"} 0
hotplugd_state{state="up"} 1
# HELP hotplugd_scale_events_total Applied scale transitions by direction
# TYPE hotplugd_scale_events_total counter
hotplugd_scale_events_total{direction="down"} 2
hotplugd_scale_events_total{direction="up"} 3
`
	err := promtestutil.CollectAndCompare(NewCollector(ctrl), strings.NewReader(expected),
		"hotplugd_cpu_hotplug_total", "hotplugd_state", "hotplugd_scale_events_total")
	assert.NoError(t, err)

	// three series per core, one per state, nine controller-wide
	assert.Equal(t, 3*len(ctrl.snapshot.Cores)+len(allStates)+9, promtestutil.CollectAndCount(NewCollector(ctrl)))
}

func TestServer_StatusAndCounters(t *testing.T) {
	_, client := newTestServer(t, newControllerMock())
	ctx := context.Background()

	snap, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, hotplug.StatusUp, snap.State)
	assert.Equal(t, uint32(42), snap.Load)
	require.Len(t, snap.Cores, 2)
	assert.True(t, snap.Cores[1].Sleeping)

	counters, err := client.Counters(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int]uint64{0: 0, 1: 5}, counters)
}

func TestServer_Knobs(t *testing.T) {
	ctrl := newControllerMock()
	ctrl.On("SetKnob", "delay", "100").Return(nil)
	ctrl.On("SetKnob", "min_cpus", "9").Return(fmt.Errorf("%w: min_cpus too large", hotplug.ErrInvalidTunable))
	_, client := newTestServer(t, ctrl)
	ctx := context.Background()

	knobs, err := client.Knobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, "70", knobs["delay"])

	value, err := client.SetKnob(ctx, "delay", "100\n")
	require.NoError(t, err)
	assert.Equal(t, "100", value)

	_, err = client.SetKnob(ctx, "min_cpus", "9")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "min_cpus")

	_, err = client.Knob(ctx, "warp")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)

	ctrl.AssertExpectations(t)
}

func TestServer_PutTunables(t *testing.T) {
	ctrl := newControllerMock()
	ctrl.On("SetKnobs", map[string]string{"pause": "5000", "enabled": "1"}).Return(nil)
	ts, _ := newTestServer(t, ctrl)

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/tunables", strings.NewReader(`{"pause":"5000","enabled":"1"}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, err = http.NewRequest(http.MethodPut, ts.URL+"/api/tunables", strings.NewReader(`not json`))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	ctrl.AssertExpectations(t)
}

func TestServer_EnabledAndDisplay(t *testing.T) {
	ctrl := newControllerMock()
	ctrl.On("SetEnabled", false).Return(nil).Once()
	ctrl.On("SetEnabled", true).Return(fmt.Errorf("%w: enabled=true", hotplug.ErrAlreadyInState)).Once()
	ctrl.On("OnDisplayOff").Return().Once()
	ctrl.On("OnDisplayOn").Return().Once()
	ts, client := newTestServer(t, ctrl)
	ctx := context.Background()

	require.NoError(t, client.SetEnabled(ctx, false))

	err := client.SetEnabled(ctx, true)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)

	require.NoError(t, client.Display(ctx, false))
	require.NoError(t, client.Display(ctx, true))

	resp, err := http.Post(ts.URL+"/api/display/dim", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/api/enabled", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	ctrl.AssertExpectations(t)
}

func TestServer_Metrics(t *testing.T) {
	ts, _ := newTestServer(t, newControllerMock())

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `hotplugd_cpu_hotplug_total{cpu="1"} 5`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestNewClient_NormalizesAddr(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:9470", NewClient("").baseURL)
	assert.Equal(t, "http://localhost:1", NewClient("localhost:1").baseURL)
	assert.Equal(t, "https://host", NewClient("https://host/").baseURL)
}

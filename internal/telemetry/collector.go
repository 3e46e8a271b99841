package telemetry

import (
	"strconv"

	prom "github.com/prometheus/client_golang/prometheus"

	"hotplugd/internal/hotplug"
)

const promNamespace = "hotplugd"

var allStates = []hotplug.Status{
	hotplug.StatusDisabled,
	hotplug.StatusIdle,
	hotplug.StatusUp,
	hotplug.StatusDown,
	hotplug.StatusPaused,
	hotplug.StatusSuspended,
}

// SnapshotSource is the read side of the controller
type SnapshotSource interface {
	Snapshot() hotplug.Snapshot
}

// Collector exports a controller snapshot as prometheus metrics. Every
// scrape takes one snapshot, so per-core values come from per-core locks
// only.
type Collector struct {
	source SnapshotSource

	hotplugs       *prom.Desc
	expectedOnline *prom.Desc
	sleeping       *prom.Desc
	state          *prom.Desc
	enabled        *prom.Desc
	load           *prom.Desc
	online         *prom.Desc
	possible       *prom.Desc
	scaleEvents    *prom.Desc
	drifts         *prom.Desc
	failures       *prom.Desc
	ticks          *prom.Desc
}

// NewCollector creates a collector over source
func NewCollector(source SnapshotSource) *Collector {
	return &Collector{
		source: source,
		hotplugs: prom.NewDesc(
			prom.BuildFQName(promNamespace, "cpu", "hotplug_total"),
			"Controller-initiated power transitions per CPU",
			[]string{"cpu"}, nil,
		),
		expectedOnline: prom.NewDesc(
			prom.BuildFQName(promNamespace, "cpu", "expected_online"),
			"Whether the controller believes the CPU is online",
			[]string{"cpu"}, nil,
		),
		sleeping: prom.NewDesc(
			prom.BuildFQName(promNamespace, "cpu", "sleep_profile_active"),
			"Whether the CPU frequency ceiling is capped by the sleep profile",
			[]string{"cpu"}, nil,
		),
		state: prom.NewDesc(
			prom.BuildFQName(promNamespace, "", "state"),
			"Current controller state, 1 for the active state",
			[]string{"state"}, nil,
		),
		enabled: prom.NewDesc(
			prom.BuildFQName(promNamespace, "", "enabled"),
			"Whether the control loop is enabled",
			nil, nil,
		),
		load: prom.NewDesc(
			prom.BuildFQName(promNamespace, "", "load_tenths"),
			"Last sampled run-queue depth in tenths of a task",
			nil, nil,
		),
		online: prom.NewDesc(
			prom.BuildFQName(promNamespace, "", "online_cpus"),
			"CPUs online at the last tick",
			nil, nil,
		),
		possible: prom.NewDesc(
			prom.BuildFQName(promNamespace, "", "possible_cpus"),
			"CPUs the kernel can bring online",
			nil, nil,
		),
		scaleEvents: prom.NewDesc(
			prom.BuildFQName(promNamespace, "", "scale_events_total"),
			"Applied scale transitions by direction",
			[]string{"direction"}, nil,
		),
		drifts: prom.NewDesc(
			prom.BuildFQName(promNamespace, "", "drift_pauses_total"),
			"Pauses caused by CPU state changed outside the controller",
			nil, nil,
		),
		failures: prom.NewDesc(
			prom.BuildFQName(promNamespace, "", "actuation_failures_total"),
			"Refused CPU power transitions",
			nil, nil,
		),
		ticks: prom.NewDesc(
			prom.BuildFQName(promNamespace, "", "ticks_total"),
			"Control loop ticks",
			nil, nil,
		),
	}
}

// Describe implements prom.Collector
func (c *Collector) Describe(ch chan<- *prom.Desc) {
	ch <- c.hotplugs
	ch <- c.expectedOnline
	ch <- c.sleeping
	ch <- c.state
	ch <- c.enabled
	ch <- c.load
	ch <- c.online
	ch <- c.possible
	ch <- c.scaleEvents
	ch <- c.drifts
	ch <- c.failures
	ch <- c.ticks
}

// Collect implements prom.Collector
func (c *Collector) Collect(ch chan<- prom.Metric) {
	snap := c.source.Snapshot()

	for _, core := range snap.Cores {
		cpu := strconv.Itoa(core.CPU)
		ch <- prom.MustNewConstMetric(c.hotplugs, prom.CounterValue, float64(core.HotplugCount), cpu)
		ch <- prom.MustNewConstMetric(c.expectedOnline, prom.GaugeValue, boolValue(core.ExpectedOnline), cpu)
		ch <- prom.MustNewConstMetric(c.sleeping, prom.GaugeValue, boolValue(core.Sleeping), cpu)
	}

	for _, state := range allStates {
		ch <- prom.MustNewConstMetric(c.state, prom.GaugeValue, boolValue(snap.State == state), string(state))
	}

	ch <- prom.MustNewConstMetric(c.enabled, prom.GaugeValue, boolValue(snap.Enabled))
	ch <- prom.MustNewConstMetric(c.load, prom.GaugeValue, float64(snap.Load))
	ch <- prom.MustNewConstMetric(c.online, prom.GaugeValue, float64(snap.Online))
	ch <- prom.MustNewConstMetric(c.possible, prom.GaugeValue, float64(snap.Possible))
	ch <- prom.MustNewConstMetric(c.scaleEvents, prom.CounterValue, float64(snap.Stats.ScaleUps), "up")
	ch <- prom.MustNewConstMetric(c.scaleEvents, prom.CounterValue, float64(snap.Stats.ScaleDowns), "down")
	ch <- prom.MustNewConstMetric(c.drifts, prom.CounterValue, float64(snap.Stats.Drifts))
	ch <- prom.MustNewConstMetric(c.failures, prom.CounterValue, float64(snap.Stats.Failures))
	ch <- prom.MustNewConstMetric(c.ticks, prom.CounterValue, float64(snap.Stats.Ticks))
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

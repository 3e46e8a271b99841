package hotplug

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Threshold holds the hysteresis pair for one online-core count. Loads are in
// tenths of a runnable task. LoadHigh/TimeHigh gate scaling up from this
// count, LoadLow/TimeLow gate scaling down from it.
type Threshold struct {
	LoadLow  uint32        `json:"load_low"`
	LoadHigh uint32        `json:"load_high"`
	TimeLow  time.Duration `json:"time_low"`
	TimeHigh time.Duration `json:"time_high"`
}

// ThresholdTable is indexed by online core count, 1..possible
type ThresholdTable struct {
	entries []Threshold
}

// NewThresholdTable returns a zeroed table for the given number of cores
func NewThresholdTable(cores int) ThresholdTable {
	return ThresholdTable{entries: make([]Threshold, cores)}
}

// DefaultThresholdTable reproduces the stock two-core constants (up at 3.5
// tasks, down at 0.5, 250ms dwell) and steps them by one task per extra core.
func DefaultThresholdTable(cores int) ThresholdTable {
	table := NewThresholdTable(cores)
	for n := 1; n <= cores; n++ {
		th := Threshold{}
		if n < cores {
			th.LoadHigh = 35 + uint32(10*(n-1))
			th.TimeHigh = 250 * time.Millisecond
		}
		if n > 1 {
			th.LoadLow = 5 + uint32(10*(n-2))
			th.TimeLow = 250 * time.Millisecond
		}
		table.entries[n-1] = th
	}
	return table
}

// Len returns the number of core counts covered
func (t ThresholdTable) Len() int {
	return len(t.entries)
}

// At returns the pair for n online cores
func (t ThresholdTable) At(n int) (Threshold, bool) {
	if n < 1 || n > len(t.entries) {
		return Threshold{}, false
	}
	return t.entries[n-1], true
}

// Set replaces the pair for n online cores
func (t ThresholdTable) Set(n int, th Threshold) error {
	if n < 1 || n > len(t.entries) {
		return fmt.Errorf("%w: threshold index %d outside [1, %d]", ErrInvalidTunable, n, len(t.entries))
	}
	t.entries[n-1] = th
	return nil
}

// Clone returns a deep copy
func (t ThresholdTable) Clone() ThresholdTable {
	entries := make([]Threshold, len(t.entries))
	copy(entries, t.entries)
	return ThresholdTable{entries: entries}
}

// Tunables is the full set of knobs the control loop reads each tick
type Tunables struct {
	Delay             time.Duration
	StartDelay        time.Duration
	Pause             time.Duration
	MinCPUs           int
	MaxCPUs           int
	Thresholds        ThresholdTable
	SuspendSingleCore bool
	SleepProfile      bool
	ScreenOffFreq     uint64 // kHz
	IdleFreq          uint64 // kHz, 0 disables the frequency gate
}

// MinDelay is the shortest tick interval accepted
const MinDelay = 10 * time.Millisecond

// DefaultTunables returns the stock configuration for a device with the
// given number of possible cores
func DefaultTunables(possible int) Tunables {
	return Tunables{
		Delay:             70 * time.Millisecond,
		StartDelay:        20 * time.Second,
		Pause:             10 * time.Second,
		MinCPUs:           1,
		MaxCPUs:           possible,
		Thresholds:        DefaultThresholdTable(possible),
		SuspendSingleCore: true,
		SleepProfile:      true,
		ScreenOffFreq:     486000,
		IdleFreq:          0,
	}
}

// Clone returns a deep copy
func (t Tunables) Clone() Tunables {
	out := t
	out.Thresholds = t.Thresholds.Clone()
	return out
}

// Validate checks the tunables against the device core count
func (t Tunables) Validate(possible int) error {
	if t.Delay < MinDelay {
		return fmt.Errorf("%w: delay must be at least %s, got %s", ErrInvalidTunable, MinDelay, t.Delay)
	}
	if t.StartDelay < 0 {
		return fmt.Errorf("%w: start_delay must not be negative", ErrInvalidTunable)
	}
	if t.Pause < 0 {
		return fmt.Errorf("%w: pause must not be negative", ErrInvalidTunable)
	}
	if t.MinCPUs < 1 {
		return fmt.Errorf("%w: min_cpus must be at least 1, got %d", ErrInvalidTunable, t.MinCPUs)
	}
	if t.MaxCPUs > possible {
		return fmt.Errorf("%w: max_cpus %d exceeds possible cpus %d", ErrInvalidTunable, t.MaxCPUs, possible)
	}
	if t.MinCPUs > t.MaxCPUs {
		return fmt.Errorf("%w: min_cpus %d exceeds max_cpus %d", ErrInvalidTunable, t.MinCPUs, t.MaxCPUs)
	}
	if t.Thresholds.Len() != possible {
		return fmt.Errorf("%w: threshold table covers %d cores, device has %d", ErrInvalidTunable, t.Thresholds.Len(), possible)
	}
	for n := 2; n < possible; n++ {
		th, _ := t.Thresholds.At(n)
		if th.LoadLow >= th.LoadHigh {
			return fmt.Errorf("%w: load_low.%d (%d) must be below load_high.%d (%d)", ErrInvalidTunable, n, th.LoadLow, n, th.LoadHigh)
		}
	}
	if t.SleepProfile && t.ScreenOffFreq == 0 {
		return fmt.Errorf("%w: scroff_freq must be set when sleep_profile is enabled", ErrInvalidTunable)
	}
	return nil
}

// knob aliases kept from the stock sysfs interface
var knobAliases = map[string]string{
	"scroff_single_core": "suspend_single_core",
	"scroff_profile":     "sleep_profile",
	"nwns_threshold_up":  "load_high.1",
	"twts_threshold_up":  "time_high.1",
}

// resolveKnob maps aliases to canonical names; the *_threshold_down aliases
// refer to the top row of the table
func (t Tunables) resolveKnob(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "nwns_threshold_down":
		return fmt.Sprintf("load_low.%d", t.Thresholds.Len())
	case "twts_threshold_down":
		return fmt.Sprintf("time_low.%d", t.Thresholds.Len())
	}
	if canonical, ok := knobAliases[name]; ok {
		return canonical
	}
	return name
}

// KnobNames lists every canonical knob, sorted
func (t Tunables) KnobNames() []string {
	names := []string{
		"delay", "start_delay", "pause", "min_cpus", "max_cpus",
		"suspend_single_core", "sleep_profile", "scroff_freq", "idle_freq",
	}
	for n := 1; n <= t.Thresholds.Len(); n++ {
		for _, prefix := range []string{"load_low", "load_high", "time_low", "time_high"} {
			names = append(names, fmt.Sprintf("%s.%d", prefix, n))
		}
	}
	sort.Strings(names)
	return names
}

// Knobs renders every knob as the string a sysfs read would return
func (t Tunables) Knobs() map[string]string {
	out := make(map[string]string)
	for _, name := range t.KnobNames() {
		value, err := t.Knob(name)
		if err == nil {
			out[name] = value
		}
	}
	return out
}

// Knob returns one knob rendered as a string (durations in milliseconds,
// booleans as 0/1)
func (t Tunables) Knob(name string) (string, error) {
	name = t.resolveKnob(name)
	switch name {
	case "delay":
		return formatMillis(t.Delay), nil
	case "start_delay":
		return formatMillis(t.StartDelay), nil
	case "pause":
		return formatMillis(t.Pause), nil
	case "min_cpus":
		return strconv.Itoa(t.MinCPUs), nil
	case "max_cpus":
		return strconv.Itoa(t.MaxCPUs), nil
	case "suspend_single_core":
		return formatBool(t.SuspendSingleCore), nil
	case "sleep_profile":
		return formatBool(t.SleepProfile), nil
	case "scroff_freq":
		return strconv.FormatUint(t.ScreenOffFreq, 10), nil
	case "idle_freq":
		return strconv.FormatUint(t.IdleFreq, 10), nil
	}

	field, n, err := t.splitThresholdKnob(name)
	if err != nil {
		return "", err
	}
	th, _ := t.Thresholds.At(n)
	switch field {
	case "load_low":
		return strconv.FormatUint(uint64(th.LoadLow), 10), nil
	case "load_high":
		return strconv.FormatUint(uint64(th.LoadHigh), 10), nil
	case "time_low":
		return formatMillis(th.TimeLow), nil
	default:
		return formatMillis(th.TimeHigh), nil
	}
}

// SetKnob parses value into the named knob. It does not validate the
// result as a whole; callers run Validate before publishing.
func (t *Tunables) SetKnob(name, value string) error {
	name = t.resolveKnob(name)
	value = strings.TrimSpace(value)

	switch name {
	case "delay":
		return parseMillis(name, value, &t.Delay)
	case "start_delay":
		return parseMillis(name, value, &t.StartDelay)
	case "pause":
		return parseMillis(name, value, &t.Pause)
	case "min_cpus":
		return parseInt(name, value, &t.MinCPUs)
	case "max_cpus":
		return parseInt(name, value, &t.MaxCPUs)
	case "suspend_single_core":
		return parseBool(name, value, &t.SuspendSingleCore)
	case "sleep_profile":
		return parseBool(name, value, &t.SleepProfile)
	case "scroff_freq":
		return parseUint64(name, value, &t.ScreenOffFreq)
	case "idle_freq":
		return parseUint64(name, value, &t.IdleFreq)
	}

	field, n, err := t.splitThresholdKnob(name)
	if err != nil {
		return err
	}
	th, _ := t.Thresholds.At(n)
	switch field {
	case "load_low", "load_high":
		parsed, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("%w: %s expects a non-negative integer, got %q", ErrInvalidTunable, name, value)
		}
		if field == "load_low" {
			th.LoadLow = uint32(parsed)
		} else {
			th.LoadHigh = uint32(parsed)
		}
	case "time_low":
		if err := parseMillis(name, value, &th.TimeLow); err != nil {
			return err
		}
	default:
		if err := parseMillis(name, value, &th.TimeHigh); err != nil {
			return err
		}
	}
	return t.Thresholds.Set(n, th)
}

func (t Tunables) splitThresholdKnob(name string) (string, int, error) {
	field, index, ok := strings.Cut(name, ".")
	if !ok {
		return "", 0, fmt.Errorf("%w: %s", ErrUnknownKnob, name)
	}
	switch field {
	case "load_low", "load_high", "time_low", "time_high":
	default:
		return "", 0, fmt.Errorf("%w: %s", ErrUnknownKnob, name)
	}
	n, err := strconv.Atoi(index)
	if err != nil || n < 1 || n > t.Thresholds.Len() {
		return "", 0, fmt.Errorf("%w: %s (index must be 1..%d)", ErrUnknownKnob, name, t.Thresholds.Len())
	}
	return field, n, nil
}

func formatMillis(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10)
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func parseMillis(name, value string, dst *time.Duration) error {
	ms, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return fmt.Errorf("%w: %s expects milliseconds, got %q", ErrInvalidTunable, name, value)
	}
	*dst = time.Duration(ms) * time.Millisecond
	return nil
}

func parseInt(name, value string, dst *int) error {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return fmt.Errorf("%w: %s expects a non-negative integer, got %q", ErrInvalidTunable, name, value)
	}
	*dst = n
	return nil
}

func parseUint64(name, value string, dst *uint64) error {
	n, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %s expects a non-negative integer, got %q", ErrInvalidTunable, name, value)
	}
	*dst = n
	return nil
}

func parseBool(name, value string, dst *bool) error {
	switch value {
	case "0", "false":
		*dst = false
	case "1", "true":
		*dst = true
	default:
		return fmt.Errorf("%w: %s expects 0 or 1, got %q", ErrInvalidTunable, name, value)
	}
	return nil
}

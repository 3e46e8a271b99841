package hotplug

import (
	"strings"
	"sync"
	"time"
)

// CoreRecord is the controller's view of one core. The mutex guards every
// field below it so telemetry readers never need the global lock.
type CoreRecord struct {
	ID int

	mu             sync.Mutex
	expectedOnline bool
	lastOnline     time.Time
	hotplugCount   uint64
	savedCeiling   uint64
	sleeping       bool
}

// CoreStatus is a consistent copy of a CoreRecord
type CoreStatus struct {
	CPU            int       `json:"cpu"`
	ExpectedOnline bool      `json:"expected_online"`
	LastOnline     time.Time `json:"last_online"`
	HotplugCount   uint64    `json:"hotplug_count"`
	Sleeping       bool      `json:"sleeping"`
	SavedCeiling   uint64    `json:"saved_ceiling_khz,omitempty"`
}

// Snapshot copies the record under its own lock
func (r *CoreRecord) Snapshot() CoreStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return CoreStatus{
		CPU:            r.ID,
		ExpectedOnline: r.expectedOnline,
		LastOnline:     r.lastOnline,
		HotplugCount:   r.hotplugCount,
		Sleeping:       r.sleeping,
		SavedCeiling:   r.savedCeiling,
	}
}

// ExpectedOnline returns the controller's belief about the core
func (r *CoreRecord) ExpectedOnline() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.expectedOnline
}

// transition switches the core through power while holding the record
// lock. The record and counter change only when the switch succeeds.
func (r *CoreRecord) transition(power CorePower, online bool, now time.Time) (onlineFor time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := power.SetOnline(r.ID, online); err != nil {
		return 0, &ActuationError{CPU: r.ID, Online: online, Err: err}
	}
	if !online && !r.lastOnline.IsZero() {
		onlineFor = now.Sub(r.lastOnline)
	}
	r.expectedOnline = online
	if online {
		r.lastOnline = now
	}
	r.hotplugCount++
	return onlineFor, nil
}

// resync adopts the observed hardware state without counting a transition
func (r *CoreRecord) resync(online bool, now time.Time) (changed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.expectedOnline == online {
		return false
	}
	r.expectedOnline = online
	if online {
		r.lastOnline = now
	}
	return true
}

func (r *CoreRecord) enterSleep(previous uint64) {
	r.mu.Lock()
	r.savedCeiling = previous
	r.sleeping = true
	r.mu.Unlock()
}

func (r *CoreRecord) sleepState() (bool, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sleeping, r.savedCeiling
}

func (r *CoreRecord) leaveSleep() {
	r.mu.Lock()
	r.sleeping = false
	r.mu.Unlock()
}

// Store holds one CoreRecord per possible core for the process lifetime
type Store struct {
	records []*CoreRecord
}

// NewStore creates records for cores 0..n-1, all believed online
func NewStore(n int, now time.Time) *Store {
	records := make([]*CoreRecord, n)
	for i := range records {
		records[i] = &CoreRecord{ID: i, expectedOnline: true, lastOnline: now}
	}
	return &Store{records: records}
}

// Len returns the number of records
func (s *Store) Len() int {
	return len(s.records)
}

// Core returns the record for cpu, or nil when out of range
func (s *Store) Core(cpu int) *CoreRecord {
	if cpu < 0 || cpu >= len(s.records) {
		return nil
	}
	return s.records[cpu]
}

// Snapshot copies every record
func (s *Store) Snapshot() []CoreStatus {
	out := make([]CoreStatus, len(s.records))
	for i, r := range s.records {
		out[i] = r.Snapshot()
	}
	return out
}

// Counters returns hotplug_count per cpu
func (s *Store) Counters() map[int]uint64 {
	out := make(map[int]uint64, len(s.records))
	for _, r := range s.records {
		out[r.ID] = r.Snapshot().HotplugCount
	}
	return out
}

// onlineMask renders the hardware online state as "1101"
func onlineMask(power CorePower) string {
	var b strings.Builder
	for cpu := 0; cpu < power.Possible(); cpu++ {
		online, err := power.IsOnline(cpu)
		if cpu == 0 || (err == nil && online) {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

// countOnline counts cores the hardware reports online. Read errors count
// as offline except for the primary core.
func countOnline(power CorePower) int {
	count := 0
	for cpu := 0; cpu < power.Possible(); cpu++ {
		online, err := power.IsOnline(cpu)
		if cpu == 0 || (err == nil && online) {
			count++
		}
	}
	return count
}

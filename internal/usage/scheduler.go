package usage

import (
	"fmt"
	"math"
	"time"
)

// Mode is the smart-polling cadence.
type Mode int

const (
	ModeActive Mode = iota
	ModeIdleShort
	ModeIdleMedium
	ModeIdleLong
)

var modeNames = [...]string{"active", "idle-short", "idle-medium", "idle-long"}

var modeIntervals = [...]time.Duration{
	60 * time.Second,
	180 * time.Second,
	300 * time.Second,
	600 * time.Second,
}

// escalateAt is the unchangedCount at which a mode advances to the next one.
// idle-long has no entry: it is terminal.
var escalateAt = map[Mode]int{
	ModeActive:     3,
	ModeIdleShort:  6,
	ModeIdleMedium: 12,
}

// changeEpsilon is the smallest five-hour percentage movement that counts
// as activity.
const changeEpsilon = 0.01

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return modeNames[m]
}

func (m Mode) Interval() time.Duration {
	if m < 0 || int(m) >= len(modeIntervals) {
		return modeIntervals[ModeActive]
	}
	return modeIntervals[m]
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	for i, name := range modeNames {
		if name == string(text) {
			*m = Mode(i)
			return nil
		}
	}
	return fmt.Errorf("unknown mode %q", text)
}

// Scheduler decides the delay before the next poll. In smart mode it slows
// down through the idle modes while the five-hour percentage stays flat and
// snaps back to active on any change. In fixed mode it always returns the
// fixed interval. Not safe for concurrent use; the poller holds its lock.
type Scheduler struct {
	smart          bool
	fixed          time.Duration
	mode           Mode
	unchangedCount int
	previous       float64
	hasPrevious    bool
}

func NewScheduler(smart bool, fixed time.Duration) *Scheduler {
	return &Scheduler{smart: smart, fixed: fixed}
}

// Observe records the five-hour percentage of a successful poll. The first
// observation only sets the baseline.
func (s *Scheduler) Observe(percent float64) {
	if !s.smart {
		return
	}
	if !s.hasPrevious {
		s.previous = percent
		s.hasPrevious = true
		return
	}
	changed := math.Abs(percent-s.previous) > changeEpsilon
	s.previous = percent
	if changed {
		s.mode = ModeActive
		s.unchangedCount = 0
		return
	}
	s.unchangedCount++
	if threshold, ok := escalateAt[s.mode]; ok && s.unchangedCount >= threshold {
		s.mode++
	}
}

// Reset returns to active with a zeroed counter. The baseline is kept so
// the next poll is still compared against the last known value.
func (s *Scheduler) Reset() {
	s.mode = ModeActive
	s.unchangedCount = 0
}

func (s *Scheduler) Next() time.Duration {
	if !s.smart {
		return s.fixed
	}
	return s.mode.Interval()
}

func (s *Scheduler) Mode() Mode { return s.mode }

func (s *Scheduler) UnchangedCount() int { return s.unchangedCount }

func (s *Scheduler) Smart() bool { return s.smart }

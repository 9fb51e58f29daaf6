package usage

import (
	"testing"
	"time"
)

func TestModeIntervals(t *testing.T) {
	tests := []struct {
		mode Mode
		name string
		want time.Duration
	}{
		{ModeActive, "active", 60 * time.Second},
		{ModeIdleShort, "idle-short", 180 * time.Second},
		{ModeIdleMedium, "idle-medium", 300 * time.Second},
		{ModeIdleLong, "idle-long", 600 * time.Second},
	}
	for _, tt := range tests {
		if tt.mode.String() != tt.name {
			t.Errorf("Mode(%d).String() = %q, want %q", tt.mode, tt.mode.String(), tt.name)
		}
		if got := tt.mode.Interval(); got != tt.want {
			t.Errorf("%s.Interval() = %v, want %v", tt.name, got, tt.want)
		}
		var parsed Mode
		if err := parsed.UnmarshalText([]byte(tt.name)); err != nil || parsed != tt.mode {
			t.Errorf("UnmarshalText(%q) = %v, %v", tt.name, parsed, err)
		}
	}
}

// observeFlat feeds n polls with an unchanged percentage.
func observeFlat(s *Scheduler, n int) {
	for i := 0; i < n; i++ {
		s.Observe(42)
	}
}

func TestSchedulerEscalation(t *testing.T) {
	s := NewScheduler(true, 0)
	s.Observe(42) // baseline

	observeFlat(s, 2)
	if s.Mode() != ModeActive {
		t.Fatalf("after 2 unchanged: mode = %v, want active", s.Mode())
	}
	observeFlat(s, 1)
	if s.Mode() != ModeIdleShort || s.Next() != 180*time.Second {
		t.Fatalf("after 3 unchanged: mode = %v next = %v, want idle-short 180s", s.Mode(), s.Next())
	}
	observeFlat(s, 3)
	if s.Mode() != ModeIdleMedium {
		t.Fatalf("after 6 unchanged: mode = %v, want idle-medium", s.Mode())
	}
	observeFlat(s, 6)
	if s.Mode() != ModeIdleLong {
		t.Fatalf("after 12 unchanged: mode = %v, want idle-long", s.Mode())
	}
	observeFlat(s, 50)
	if s.Mode() != ModeIdleLong || s.Next() != 600*time.Second {
		t.Errorf("idle-long escalated to %v", s.Mode())
	}
}

func TestSchedulerChangeResets(t *testing.T) {
	s := NewScheduler(true, 0)
	s.Observe(10)
	s.Observe(10)
	s.Observe(10)
	s.Observe(10)
	if s.Mode() != ModeIdleShort {
		t.Fatalf("mode = %v, want idle-short", s.Mode())
	}

	s.Observe(10.5)
	if s.Mode() != ModeActive || s.UnchangedCount() != 0 {
		t.Errorf("after change: mode = %v count = %d, want active/0", s.Mode(), s.UnchangedCount())
	}
}

func TestSchedulerEpsilon(t *testing.T) {
	s := NewScheduler(true, 0)
	s.Observe(10)
	s.Observe(10.01)
	if s.UnchangedCount() != 1 {
		t.Errorf("a 0.01 move counted as a change")
	}
	s.Observe(10.03)
	if s.UnchangedCount() != 0 {
		t.Errorf("a 0.02 move was not counted as a change")
	}
}

func TestSchedulerFirstObservationIsBaseline(t *testing.T) {
	s := NewScheduler(true, 0)
	s.Observe(80)
	if s.Mode() != ModeActive || s.UnchangedCount() != 0 {
		t.Errorf("baseline changed state: mode = %v count = %d", s.Mode(), s.UnchangedCount())
	}
}

func TestSchedulerReset(t *testing.T) {
	s := NewScheduler(true, 0)
	s.Observe(5)
	for i := 0; i < 7; i++ {
		s.Observe(5)
	}
	if s.Mode() != ModeIdleMedium {
		t.Fatalf("mode = %v, want idle-medium", s.Mode())
	}
	s.Reset()
	if s.Mode() != ModeActive || s.UnchangedCount() != 0 {
		t.Errorf("after Reset: mode = %v count = %d", s.Mode(), s.UnchangedCount())
	}
}

func TestSchedulerFixed(t *testing.T) {
	s := NewScheduler(false, 7*time.Minute)
	for i := 0; i < 20; i++ {
		s.Observe(1)
	}
	if s.Next() != 7*time.Minute || s.Mode() != ModeActive {
		t.Errorf("fixed scheduler: next = %v mode = %v", s.Next(), s.Mode())
	}
}

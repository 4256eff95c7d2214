package poller

import (
	"testing"
	"time"
)

// A Tuesday outside any peak or schedule window.
var quietTime = time.Date(2026, time.August, 25, 3, 0, 0, 0, time.UTC)

func newTestController() *IntervalController {
	return NewIntervalController(IntervalOptions{
		BaseInterval:     2 * time.Second,
		BoostInterval:    time.Second,
		ActivityInterval: 1500 * time.Millisecond,
		ActivityWindow:   5 * time.Minute,
		PeakHours:        HourWindow{Start: 18, End: 22},
		PeakEnabled:      true,
		Schedules:        DefaultSchedules(),
		ScheduleEnabled:  true,
	})
}

func TestIntervalBaseWhenQuiet(t *testing.T) {
	c := newTestController()
	if got := c.Interval(quietTime); got != 2*time.Second {
		t.Fatalf("quiet interval = %s, want 2s", got)
	}
}

func TestIntervalPeakHours(t *testing.T) {
	c := newTestController()
	peak := time.Date(2026, time.August, 25, 19, 0, 0, 0, time.UTC)
	if got := c.Interval(peak); got != time.Second {
		t.Fatalf("peak interval = %s, want 1s", got)
	}

	// End hour is exclusive.
	after := time.Date(2026, time.August, 25, 22, 0, 0, 0, time.UTC)
	if got := c.Interval(after); got != 2*time.Second {
		t.Fatalf("interval after peak = %s, want 2s", got)
	}
}

func TestIntervalScheduleWindow(t *testing.T) {
	c := newTestController()

	// Wednesday 11:00 UTC falls in the post-maintenance window.
	wednesday := time.Date(2026, time.August, 26, 11, 0, 0, 0, time.UTC)
	if got := c.Interval(wednesday); got != time.Second {
		t.Fatalf("schedule interval = %s, want 1s", got)
	}

	// Same hour on Thursday is not scheduled.
	thursday := time.Date(2026, time.August, 27, 11, 0, 0, 0, time.UTC)
	if got := c.Interval(thursday); got != 2*time.Second {
		t.Fatalf("unscheduled interval = %s, want 2s", got)
	}
}

func TestIntervalActivityTakesPriority(t *testing.T) {
	c := newTestController()

	// Activity during peak hours: the activity interval wins, boosts do not
	// stack into something faster.
	peak := time.Date(2026, time.August, 25, 19, 0, 0, 0, time.UTC)
	c.RecordActivity(peak)
	if got := c.Interval(peak.Add(time.Minute)); got != 1500*time.Millisecond {
		t.Fatalf("active interval = %s, want 1.5s", got)
	}
}

func TestIntervalActivityExpires(t *testing.T) {
	c := newTestController()
	c.RecordActivity(quietTime)

	if got := c.Interval(quietTime.Add(4 * time.Minute)); got != 1500*time.Millisecond {
		t.Fatalf("interval inside activity window = %s, want 1.5s", got)
	}
	if got := c.Interval(quietTime.Add(6 * time.Minute)); got != 2*time.Second {
		t.Fatalf("interval after activity window = %s, want 2s", got)
	}
}

func TestHourWindowOvernightWrap(t *testing.T) {
	w := HourWindow{Start: 22, End: 2}
	for hour, want := range map[int]bool{21: false, 22: true, 23: true, 0: true, 1: true, 2: false} {
		if got := w.Contains(hour); got != want {
			t.Fatalf("Contains(%d) = %t, want %t", hour, got, want)
		}
	}

	empty := HourWindow{Start: 5, End: 5}
	if empty.Contains(5) {
		t.Fatal("zero-width window must contain nothing")
	}
}

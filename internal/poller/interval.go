package poller

import (
	"sync"
	"time"
)

// HourWindow is a half-open [Start, End) hour band in UTC. Start > End wraps
// overnight.
type HourWindow struct {
	Start int
	End   int
}

// Contains reports whether the hour falls inside the window.
func (w HourWindow) Contains(hour int) bool {
	if w.Start == w.End {
		return false
	}
	if w.Start < w.End {
		return hour >= w.Start && hour < w.End
	}
	return hour >= w.Start || hour < w.End
}

// ScheduleWindow is a recurring weekday+hour band in UTC, e.g. the
// post-maintenance and weekend windows where listings historically cluster.
type ScheduleWindow struct {
	Weekday time.Weekday
	Hours   HourWindow
}

// IntervalOptions tune the adaptive interval controller.
type IntervalOptions struct {
	BaseInterval     time.Duration
	BoostInterval    time.Duration
	ActivityInterval time.Duration
	ActivityWindow   time.Duration
	PeakHours        HourWindow
	PeakEnabled      bool
	Schedules        []ScheduleWindow
	ScheduleEnabled  bool
}

// IntervalController computes the next cycle's sleep duration from recent
// change-event activity and wall-clock context. The priority ladder is
// evaluated top down and the first match wins; boosted windows never stack.
type IntervalController struct {
	opts IntervalOptions

	mu         sync.Mutex
	activities []time.Time
}

// NewIntervalController constructs a controller, filling in defaults that
// match the historical polling profile.
func NewIntervalController(opts IntervalOptions) *IntervalController {
	if opts.BaseInterval <= 0 {
		opts.BaseInterval = 2 * time.Second
	}
	if opts.BoostInterval <= 0 {
		opts.BoostInterval = time.Second
	}
	if opts.ActivityInterval <= 0 {
		opts.ActivityInterval = 1500 * time.Millisecond
	}
	if opts.ActivityWindow <= 0 {
		opts.ActivityWindow = 5 * time.Minute
	}
	return &IntervalController{opts: opts}
}

// RecordActivity notes that a change event was observed at the given time.
func (c *IntervalController) RecordActivity(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activities = append(c.activities, at)
	c.trim(at)
}

// Interval returns the sleep duration for the next cycle. Pure given now and
// the recorded activity timestamps.
func (c *IntervalController) Interval(now time.Time) time.Duration {
	if c.hasRecentActivity(now) {
		return c.opts.ActivityInterval
	}

	utc := now.UTC()
	if c.opts.ScheduleEnabled && c.inSchedule(utc) {
		return c.opts.BoostInterval
	}
	if c.opts.PeakEnabled && c.opts.PeakHours.Contains(utc.Hour()) {
		return c.opts.BoostInterval
	}
	return c.opts.BaseInterval
}

func (c *IntervalController) hasRecentActivity(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trim(now)
	return len(c.activities) > 0
}

// trim drops activity marks older than the trailing window. Callers hold mu.
func (c *IntervalController) trim(now time.Time) {
	cutoff := now.Add(-c.opts.ActivityWindow)
	kept := c.activities[:0]
	for _, at := range c.activities {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	c.activities = kept
}

func (c *IntervalController) inSchedule(now time.Time) bool {
	for _, window := range c.opts.Schedules {
		if now.Weekday() == window.Weekday && window.Hours.Contains(now.Hour()) {
			return true
		}
	}
	return false
}

// DefaultSchedules is the historical high-activity calendar: the Wednesday
// post-maintenance window and the Friday/Saturday evening windows, all UTC.
func DefaultSchedules() []ScheduleWindow {
	return []ScheduleWindow{
		{Weekday: time.Wednesday, Hours: HourWindow{Start: 10, End: 14}},
		{Weekday: time.Friday, Hours: HourWindow{Start: 18, End: 23}},
		{Weekday: time.Saturday, Hours: HourWindow{Start: 18, End: 23}},
	}
}

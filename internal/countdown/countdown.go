// Package countdown implements the single authoritative exam clock.
package countdown

import (
	"time"

	"github.com/stemsi/exstem-proctor/internal/eventloop"
)

// State enumerates timer states.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateExpired State = "expired"
)

// DefaultUnit is the tick granularity.
const DefaultUnit = time.Second

// Timer counts down from the exam duration and fires onExpire exactly once.
// All methods must run on the scheduler's loop.
type Timer struct {
	sched     eventloop.Scheduler
	unit      time.Duration
	total     int
	remaining int
	state     State
	trigger   *eventloop.Timer
	onExpire  func()
	onTick    func(remaining time.Duration)
}

// New creates an idle timer for duration, rounded up to whole units.
func New(sched eventloop.Scheduler, duration, unit time.Duration, onExpire func()) *Timer {
	if unit <= 0 {
		unit = DefaultUnit
	}
	return &Timer{
		sched:    sched,
		unit:     unit,
		total:    units(duration, unit),
		state:    StateIdle,
		onExpire: onExpire,
	}
}

// OnTick registers an observer called after every decrement.
func (t *Timer) OnTick(fn func(remaining time.Duration)) {
	t.onTick = fn
}

// Start arms the timer at the full duration.
func (t *Timer) Start() {
	t.Resume(time.Duration(t.total) * t.unit)
}

// Resume arms the timer with remaining time left, e.g. after a reconnect.
// Any previous trigger is cleared first. A non-positive remaining expires at once.
func (t *Timer) Resume(remaining time.Duration) {
	t.trigger.Stop()
	t.trigger = nil

	if t.state == StateExpired {
		return
	}

	t.remaining = min(units(remaining, t.unit), t.total)
	t.state = StateRunning
	if t.remaining <= 0 {
		t.remaining = 0
		t.expire()
		return
	}
	t.trigger = t.sched.Every(t.unit, t.tick)
}

// Stop releases the trigger. The timer does not fire afterwards.
func (t *Timer) Stop() {
	t.trigger.Stop()
	t.trigger = nil
	if t.state == StateRunning {
		t.state = StateIdle
	}
}

// State returns the current state.
func (t *Timer) State() State { return t.state }

// Remaining returns the time left.
func (t *Timer) Remaining() time.Duration {
	return time.Duration(t.remaining) * t.unit
}

// Total returns the full exam duration.
func (t *Timer) Total() time.Duration {
	return time.Duration(t.total) * t.unit
}

// Elapsed returns how much of the duration has been consumed.
func (t *Timer) Elapsed() time.Duration {
	return t.Total() - t.Remaining()
}

// Fraction returns elapsed/total in [0,1]; 1 for a zero-length exam.
func (t *Timer) Fraction() float64 {
	if t.total == 0 {
		return 1
	}
	return float64(t.total-t.remaining) / float64(t.total)
}

func (t *Timer) tick() {
	if t.state != StateRunning {
		return
	}
	if t.remaining > 0 {
		t.remaining--
	}
	if t.onTick != nil {
		t.onTick(t.Remaining())
	}
	if t.remaining <= 0 && t.state == StateRunning {
		t.expire()
	}
}

// expire is the single terminal transition: the trigger is cleared before
// the callback runs, so no later tick can reach it.
func (t *Timer) expire() {
	t.state = StateExpired
	t.trigger.Stop()
	t.trigger = nil
	if t.onExpire != nil {
		t.onExpire()
	}
}

func units(d, unit time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + unit - 1) / unit)
}

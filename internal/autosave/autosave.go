// Package autosave periodically persists an attempt's in-progress answers.
package autosave

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/eventloop"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// Status is the soft indicator shown to the student.
type Status string

const (
	StatusIdle   Status = "idle"
	StatusSaving Status = "saving"
	StatusSaved  Status = "saved"
	StatusFailed Status = "failed"
)

// SaveFunc persists answers for the attempt. It runs off the loop.
type SaveFunc func(ctx context.Context, answers model.Answers) error

// Loop ticks on a fixed period and saves the latest answers. All methods must
// be called on the scheduler's loop.
type Loop struct {
	ctx      context.Context
	sched    eventloop.Scheduler
	period   time.Duration
	answers  func() model.Answers
	save     SaveFunc
	onChange func()
	log      zerolog.Logger

	ticker   *eventloop.Timer
	inflight bool
	status   Status
	savedAt  time.Time
	lastErr  error
}

// New creates a stopped Loop. answers is read on every tick so saves always
// carry the state as it stands at tick time.
func New(ctx context.Context, sched eventloop.Scheduler, period time.Duration, answers func() model.Answers, save SaveFunc, log zerolog.Logger) *Loop {
	return &Loop{
		ctx:     ctx,
		sched:   sched,
		period:  period,
		answers: answers,
		save:    save,
		log:     log.With().Str("component", "autosave").Logger(),
		status:  StatusIdle,
	}
}

// OnChange registers a callback fired whenever Status changes.
func (l *Loop) OnChange(fn func()) { l.onChange = fn }

// Start arms the periodic trigger. Calling it twice re-arms it.
func (l *Loop) Start() {
	if l.ticker != nil {
		l.ticker.Stop()
	}
	l.ticker = l.sched.Every(l.period, l.Tick)
}

// Stop ends the loop. A save already in flight completes but its result is ignored.
func (l *Loop) Stop() {
	if l.ticker != nil {
		l.ticker.Stop()
		l.ticker = nil
	}
}

// Running reports whether the periodic trigger is armed.
func (l *Loop) Running() bool { return l.ticker != nil }

// Status returns the last save outcome.
func (l *Loop) Status() Status { return l.status }

// SavedAt returns the time of the last successful save.
func (l *Loop) SavedAt() time.Time { return l.savedAt }

// Err returns the last save error, nil after a success.
func (l *Loop) Err() error { return l.lastErr }

// Tick performs one save round. Empty answer sets and rounds overlapping a
// save in flight are skipped.
func (l *Loop) Tick() {
	if l.inflight {
		l.log.Debug().Msg("Previous save still in flight, skipping tick")
		return
	}

	current := l.answers()
	if len(current) == 0 {
		return
	}

	snapshot := current.Clone()
	l.inflight = true
	l.setStatus(StatusSaving)

	save := l.save
	l.sched.Go(l.ctx, func(ctx context.Context) func() {
		err := save(ctx, snapshot)
		return func() { l.done(len(snapshot), err) }
	})
}

func (l *Loop) done(n int, err error) {
	l.inflight = false
	if l.ticker == nil {
		return
	}

	if err != nil {
		l.lastErr = err
		l.log.Warn().Err(err).Int("answers", n).Msg("Autosave failed")
		l.setStatus(StatusFailed)
		return
	}

	l.lastErr = nil
	l.savedAt = l.sched.Now()
	l.log.Debug().Int("answers", n).Msg("Answers autosaved")
	l.setStatus(StatusSaved)
}

func (l *Loop) setStatus(s Status) {
	l.status = s
	if l.onChange != nil {
		l.onChange()
	}
}

// Package eventloop runs every handler of one exam attempt on a single
// goroutine. Timers, posted tasks and the continuations of off-loop work are
// executed one at a time, so state owned by loop handlers needs no locking.
package eventloop

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Scheduler is the subset of Loop that components depend on.
type Scheduler interface {
	Now() time.Time
	Post(fn func())
	AfterFunc(d time.Duration, fn func()) *Timer
	Every(d time.Duration, fn func()) *Timer
	Go(ctx context.Context, work func(ctx context.Context) func())
}

// Loop is a single-threaded cooperative scheduler.
type Loop struct {
	clock clockwork.Clock
	log   zerolog.Logger

	mu       sync.Mutex
	tasks    []func()
	timers   timerHeap
	seq      uint64
	inflight int
	closed   bool
	onClose  []func()

	wake      chan struct{}
	closeOnce sync.Once
}

// New creates a Loop driven by clock. A nil clock means wall time.
func New(clock clockwork.Clock, log zerolog.Logger) *Loop {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Loop{
		clock: clock,
		log:   log.With().Str("component", "eventloop").Logger(),
		wake:  make(chan struct{}, 1),
	}
}

// Now returns the loop clock's current time.
func (l *Loop) Now() time.Time {
	return l.clock.Now()
}

// Post queues fn to run on the loop. Safe from any goroutine.
// Tasks posted after the loop closed are dropped.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()
	l.signal()
}

// AfterFunc runs fn once on the loop after d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	return l.schedule(d, 0, fn)
}

// Every runs fn on the loop every d until the returned timer is stopped.
func (l *Loop) Every(d time.Duration, fn func()) *Timer {
	if d <= 0 {
		panic("eventloop: non-positive interval")
	}
	return l.schedule(d, d, fn)
}

// Go runs work on its own goroutine and posts the continuation it returns
// back onto the loop. A nil continuation is allowed.
func (l *Loop) Go(ctx context.Context, work func(ctx context.Context) func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.inflight++
	l.mu.Unlock()

	go func() {
		var cont func()
		defer func() {
			l.mu.Lock()
			l.inflight--
			if cont != nil && !l.closed {
				l.tasks = append(l.tasks, cont)
			}
			l.mu.Unlock()
			l.signal()
		}()
		cont = work(ctx)
	}()
}

// OnClose registers fn to run on the loop goroutine when the loop shuts down.
func (l *Loop) OnClose(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onClose = append(l.onClose, fn)
}

// ActiveTimers reports how many timers are still armed.
func (l *Loop) ActiveTimers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.timers)
}

// Run executes tasks and timers until ctx is cancelled, then closes the loop.
func (l *Loop) Run(ctx context.Context) error {
	defer l.Close()

	for {
		l.RunPending()

		var (
			timer  clockwork.Timer
			timerC <-chan time.Time
		)
		if d, ok := l.nextDeadline(); ok {
			timer = l.clock.NewTimer(d)
			timerC = timer.Chan()
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case <-l.wake:
		case <-timerC:
		}

		if timer != nil {
			timer.Stop()
		}
	}
}

// RunPending runs every queued task and every timer due at the current
// clock reading, then returns the number of callbacks executed. It never blocks.
func (l *Loop) RunPending() int {
	now := l.clock.Now()
	n := 0
	for {
		fn := l.next(now)
		if fn == nil {
			return n
		}
		fn()
		n++
	}
}

// Flush runs pending work and waits for in-flight Go calls to post their
// continuations, until nothing is queued or in flight. Drivers that do not
// call Run (tests, tools) use it to settle the loop.
func (l *Loop) Flush() {
	for {
		l.RunPending()

		l.mu.Lock()
		idle := l.closed || (l.inflight == 0 && len(l.tasks) == 0)
		l.mu.Unlock()
		if idle {
			return
		}
		<-l.wake
	}
}

// Close runs the OnClose hooks, disarms every timer and drops queued tasks.
// It must be called from the loop goroutine or after Run returned.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		hooks := l.onClose
		l.onClose = nil
		l.mu.Unlock()

		for _, fn := range hooks {
			fn()
		}

		l.mu.Lock()
		l.closed = true
		for _, t := range l.timers {
			t.index = -1
		}
		l.timers = nil
		l.tasks = nil
		l.mu.Unlock()

		l.log.Debug().Msg("Loop closed")
	})
}

func (l *Loop) next(now time.Time) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}

	if len(l.tasks) > 0 {
		fn := l.tasks[0]
		l.tasks[0] = nil
		l.tasks = l.tasks[1:]
		return fn
	}

	if len(l.timers) > 0 && !l.timers[0].when.After(now) {
		t := l.timers[0]
		if t.period > 0 {
			t.when = t.when.Add(t.period)
			l.seq++
			t.seq = l.seq
			heap.Fix(&l.timers, 0)
		} else {
			heap.Pop(&l.timers)
		}
		return t.fn
	}

	return nil
}

func (l *Loop) nextDeadline() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.timers) == 0 {
		return 0, false
	}
	d := l.timers[0].when.Sub(l.clock.Now())
	if d < 0 {
		d = 0
	}
	return d, true
}

func (l *Loop) schedule(d, period time.Duration, fn func()) *Timer {
	t := &Timer{loop: l, fn: fn, period: period, index: -1}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return t
	}
	l.seq++
	t.seq = l.seq
	t.when = l.clock.Now().Add(d)
	heap.Push(&l.timers, t)
	l.mu.Unlock()

	l.signal()
	return t
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

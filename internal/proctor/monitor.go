// Package proctor aggregates browser signals into a fullscreen gate and a
// violation count with a one-time escalation.
package proctor

import (
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/eventloop"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// State enumerates the monitor's escalation states.
type State string

const (
	StateNormal    State = "normal"
	StateWarned    State = "warned"
	StateEscalated State = "escalated"
)

// Event is emitted for every signal that produces an audit record.
type Event struct {
	Kind      model.AuditKind
	Violation bool
	Count     int
	Max       int
	Metadata  map[string]any
}

// Handlers receives the monitor's outputs. Every field is optional.
type Handlers struct {
	OnEvent      func(Event)
	OnFullscreen func(fullscreen bool)
	OnEscalate   func(count int)
}

// Monitor tracks one attempt's proctoring session. All state is mutated on
// the scheduler's loop.
type Monitor struct {
	sched eventloop.Scheduler
	src   Source
	max   int
	h     Handlers
	log   zerolog.Logger

	state       State
	violations  int
	fullscreen  bool
	running     bool
	unsubscribe func()
}

// NewMonitor creates a Monitor that escalates once violations reach maxViolations.
func NewMonitor(sched eventloop.Scheduler, src Source, maxViolations int, h Handlers, log zerolog.Logger) *Monitor {
	return &Monitor{
		sched: sched,
		src:   src,
		max:   maxViolations,
		h:     h,
		log:   log.With().Str("component", "proctor_monitor").Logger(),
		state: StateNormal,
	}
}

// Seed restores a violation count recorded before a reconnect. It never
// lowers the counter. Call before Start.
func (m *Monitor) Seed(count int) {
	if count > m.violations {
		m.violations = count
	}
	if m.violations > 0 && m.state == StateNormal {
		m.state = StateWarned
	}
}

// Start subscribes to the source and asks for fullscreen. Signals are
// re-posted onto the loop so handlers never run concurrently.
func (m *Monitor) Start() {
	if m.running {
		return
	}
	m.running = true
	m.fullscreen = m.src.IsFullscreen()
	m.unsubscribe = m.src.Subscribe(func(sig Signal) {
		m.sched.Post(func() { m.handle(sig) })
	})

	if !m.fullscreen {
		m.RequestFullscreen()
	}
	if m.max > 0 && m.violations >= m.max {
		m.escalate()
	}
}

// Stop releases the subscription. Signals still queued are ignored.
func (m *Monitor) Stop() {
	if !m.running {
		return
	}
	m.running = false
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}

// RequestFullscreen forwards a fullscreen request to the browser.
func (m *Monitor) RequestFullscreen() {
	if err := m.src.RequestFullscreen(); err != nil {
		m.log.Warn().Err(err).Msg("Fullscreen request failed")
	}
}

// Fullscreen reports the gate state.
func (m *Monitor) Fullscreen() bool { return m.fullscreen }

// Violations returns the counter.
func (m *Monitor) Violations() int { return m.violations }

// Max returns the escalation threshold.
func (m *Monitor) Max() int { return m.max }

// State returns the escalation state.
func (m *Monitor) State() State { return m.state }

func (m *Monitor) handle(sig Signal) {
	if !m.running {
		return
	}

	switch sig.Kind {
	case SignalFullscreenChange:
		if m.fullscreen == sig.Fullscreen {
			return
		}
		m.fullscreen = sig.Fullscreen
		if m.h.OnFullscreen != nil {
			m.h.OnFullscreen(m.fullscreen)
		}

	case SignalWindowBlur:
		m.violation(model.AuditFocusLost)

	case SignalVisibilityChange:
		if sig.Hidden {
			m.violation(model.AuditVisibilityHidden)
		}

	case SignalClipboard:
		if sig.Block != nil {
			sig.Block()
		}
		m.emit(Event{
			Kind:     model.AuditCopyPasteBlocked,
			Count:    m.violations,
			Max:      m.max,
			Metadata: map[string]any{"action": string(sig.Clipboard)},
		})

	default:
		m.log.Debug().Str("kind", string(sig.Kind)).Msg("Ignoring unknown signal")
	}
}

func (m *Monitor) violation(kind model.AuditKind) {
	m.violations++
	if m.state == StateNormal {
		m.state = StateWarned
	}

	m.emit(Event{
		Kind:      kind,
		Violation: true,
		Count:     m.violations,
		Max:       m.max,
		Metadata:  map[string]any{"count": m.violations, "max": m.max},
	})

	if m.max > 0 && m.violations >= m.max {
		m.escalate()
	}
}

func (m *Monitor) escalate() {
	if m.state == StateEscalated {
		return
	}
	m.state = StateEscalated
	m.log.Warn().Int("violations", m.violations).Int("max", m.max).Msg("Violation limit reached")
	if m.h.OnEscalate != nil {
		m.h.OnEscalate(m.violations)
	}
}

func (m *Monitor) emit(ev Event) {
	if m.h.OnEvent != nil {
		m.h.OnEvent(ev)
	}
}

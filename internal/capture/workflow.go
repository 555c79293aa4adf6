// Package capture runs the modal identity snapshot flow: acquire the camera,
// preview, count down, grab one frame, hand it over, release the camera.
package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/eventloop"
)

// State enumerates the modal's states.
type State string

const (
	StateClosed     State = "closed"
	StateAcquiring  State = "acquiring"
	StatePreviewing State = "previewing"
	StateCountdown  State = "countdown"
	StateCapturing  State = "capturing"
	StateFailed     State = "failed"
)

// Capture reasons.
const (
	ReasonInitial    = "initial identity verification"
	ReasonCheckpoint = "checkpoint"
	ReasonManual     = "manual verification"
)

// View is the modal as rendered to the student.
type View struct {
	Open      bool   `json:"open"`
	State     State  `json:"state"`
	Reason    string `json:"reason,omitempty"`
	Countdown int    `json:"countdown,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Options tunes a Workflow.
type Options struct {
	Countdown int           // visible countdown length in units
	Unit      time.Duration // countdown unit, one second by default
	MaxWidth  int           // snapshot width cap, 0 keeps the original size
}

// Workflow is one attempt's capture modal. Every method must be called on the
// scheduler's loop.
type Workflow struct {
	ctx       context.Context
	sched     eventloop.Scheduler
	cam       Camera
	opts      Options
	onCapture func(Photo)
	onChange  func()
	log       zerolog.Logger

	state     State
	reason    string
	errMsg    string
	stream    Stream
	remaining int
	ticker    *eventloop.Timer
	gen       uint64

	// Streams acquired off-loop and not yet handed to the loop. Shutdown
	// releases them because their continuations are dropped once the loop closes.
	mu       sync.Mutex
	pending  map[uint64]Stream
	shutdown bool
}

// NewWorkflow creates a closed Workflow. onCapture receives every successful
// snapshot; the modal is closed right after it returns.
func NewWorkflow(ctx context.Context, sched eventloop.Scheduler, cam Camera, opts Options, onCapture func(Photo), log zerolog.Logger) *Workflow {
	if opts.Unit <= 0 {
		opts.Unit = time.Second
	}
	return &Workflow{
		ctx:       ctx,
		sched:     sched,
		cam:       cam,
		opts:      opts,
		onCapture: onCapture,
		log:       log.With().Str("component", "capture_workflow").Logger(),
		state:     StateClosed,
		pending:   make(map[uint64]Stream),
	}
}

// OnChange registers a callback fired after every state change.
func (w *Workflow) OnChange(fn func()) { w.onChange = fn }

// IsOpen reports whether the modal is showing.
func (w *Workflow) IsOpen() bool { return w.state != StateClosed }

// State returns the current state.
func (w *Workflow) State() State { return w.state }

// View returns the modal for rendering.
func (w *Workflow) View() View {
	v := View{
		Open:   w.IsOpen(),
		State:  w.state,
		Reason: w.reason,
		Error:  w.errMsg,
	}
	if w.state == StateCountdown {
		v.Countdown = w.remaining
	}
	return v
}

// Open shows the modal and starts acquiring the camera. It returns false
// when the modal is already open or the workflow was shut down.
func (w *Workflow) Open(reason string) bool {
	if w.state != StateClosed {
		return false
	}
	w.mu.Lock()
	down := w.shutdown
	w.mu.Unlock()
	if down {
		return false
	}

	w.gen++
	gen := w.gen
	w.state = StateAcquiring
	w.reason = reason
	w.errMsg = ""
	w.changed()

	cam := w.cam
	w.sched.Go(w.ctx, func(ctx context.Context) func() {
		s, err := cam.Open(ctx)
		if err == nil && !w.park(gen, s) {
			w.release(s)
			return nil
		}
		return func() { w.acquired(gen, s, err) }
	})
	return true
}

func (w *Workflow) park(gen uint64, s Stream) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.shutdown {
		return false
	}
	w.pending[gen] = s
	return true
}

func (w *Workflow) unpark(gen uint64) {
	w.mu.Lock()
	delete(w.pending, gen)
	w.mu.Unlock()
}

func (w *Workflow) acquired(gen uint64, s Stream, err error) {
	w.unpark(gen)
	if gen != w.gen || w.state != StateAcquiring {
		// The modal was closed while acquiring.
		if s != nil {
			w.release(s)
		}
		return
	}

	if err != nil {
		w.state = StateFailed
		w.errMsg = describe(err)
		w.log.Warn().Err(err).Str("reason", w.reason).Msg("Camera acquisition failed")
		w.changed()
		return
	}

	w.stream = s
	w.state = StatePreviewing
	w.changed()
}

// Capture starts the visible countdown. It is a no-op unless the live
// preview is showing.
func (w *Workflow) Capture() bool {
	if w.state != StatePreviewing {
		return false
	}

	w.errMsg = ""
	w.remaining = w.opts.Countdown
	if w.remaining <= 0 {
		w.grab()
		return true
	}

	w.state = StateCountdown
	w.ticker = w.sched.Every(w.opts.Unit, w.tick)
	w.changed()
	return true
}

func (w *Workflow) tick() {
	if w.state != StateCountdown {
		return
	}
	w.remaining--
	if w.remaining > 0 {
		w.changed()
		return
	}
	w.ticker.Stop()
	w.ticker = nil
	w.grab()
}

func (w *Workflow) grab() {
	w.state = StateCapturing
	gen := w.gen
	stream := w.stream
	maxWidth := w.opts.MaxWidth
	w.changed()

	w.sched.Go(w.ctx, func(ctx context.Context) func() {
		raw, err := stream.Frame(ctx)
		var photo Photo
		if err == nil {
			photo, err = Process(raw, maxWidth)
		}
		return func() { w.captured(gen, photo, err) }
	})
}

func (w *Workflow) captured(gen uint64, photo Photo, err error) {
	if gen != w.gen || w.state != StateCapturing {
		return
	}

	if err != nil {
		w.log.Warn().Err(err).Msg("Frame capture failed")
		w.state = StatePreviewing
		w.errMsg = "Gagal mengambil foto, silakan coba lagi"
		w.changed()
		return
	}

	photo.Reason = w.reason
	photo.TakenAt = w.sched.Now()
	if w.onCapture != nil {
		w.onCapture(photo)
	}
	w.Close()
}

// Close hides the modal, cancels any countdown and releases the camera.
// Pending acquisitions and frames are discarded.
func (w *Workflow) Close() {
	if w.state == StateClosed {
		return
	}

	w.gen++
	if w.ticker != nil {
		w.ticker.Stop()
		w.ticker = nil
	}
	if w.stream != nil {
		w.release(w.stream)
		w.stream = nil
	}
	w.state = StateClosed
	w.reason = ""
	w.errMsg = ""
	w.remaining = 0
	w.changed()
}

// Shutdown closes the modal for good. Streams still being acquired are
// released as soon as they arrive.
func (w *Workflow) Shutdown() {
	w.Close()

	w.mu.Lock()
	w.shutdown = true
	pending := w.pending
	w.pending = make(map[uint64]Stream)
	w.mu.Unlock()

	for _, s := range pending {
		w.release(s)
	}
}

func (w *Workflow) release(s Stream) {
	if err := s.Close(); err != nil {
		w.log.Debug().Err(err).Msg("Camera release failed")
	}
}

func (w *Workflow) changed() {
	if w.onChange != nil {
		w.onChange()
	}
}

func describe(err error) string {
	switch {
	case errors.Is(err, ErrCameraDenied):
		return "Akses kamera ditolak. Izinkan kamera untuk verifikasi identitas"
	case errors.Is(err, ErrCameraUnavailable):
		return "Kamera tidak tersedia"
	default:
		return "Kamera tidak dapat dibuka"
	}
}

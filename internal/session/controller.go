// Package session hosts the exam-taking controller of one attempt. It wires
// the shuffle memo, the countdown, the proctoring monitor, the capture
// workflow and the autosave loop together and owns the single-submission
// state machine. Everything runs on one event loop.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/autosave"
	"github.com/stemsi/exstem-proctor/internal/capture"
	"github.com/stemsi/exstem-proctor/internal/countdown"
	"github.com/stemsi/exstem-proctor/internal/eventloop"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/shuffle"
)

// Sentinel errors returned by Start.
var (
	ErrNoQuestions   = errors.New("no questions delivered for attempt")
	ErrNotInProgress = errors.New("attempt is not in progress")
	ErrStarted       = errors.New("session already started")
	ErrClosed        = errors.New("session closed")
)

type submitState int

const (
	submitIdle submitState = iota
	submitSubmitting
	submitDone
)

// Controller is the orchestrator of one attempt. Apart from New and Dispatch,
// every method must be called on the scheduler's loop.
type Controller struct {
	ctx    context.Context
	cancel context.CancelFunc
	sched  eventloop.Scheduler
	deps   Deps
	opts   Options
	log    zerolog.Logger

	id        uuid.UUID
	attempt   *model.Attempt
	memo      *shuffle.Memo
	questions []model.Question
	index     int
	answers   model.Answers

	submit     submitState
	reason     model.SubmitReason
	failed     bool
	submitErr  string
	confirm    bool
	expired    bool
	warning    *Warning
	escalation *eventloop.Timer
	fired      []bool
	verified   bool
	result     *model.Attempt
	reviewBusy bool

	started  bool
	released bool
	closed   bool

	timer   *countdown.Timer
	saver   *autosave.Loop
	monitor *proctor.Monitor
	camera  *capture.Workflow
}

// New creates a controller for attempt. Nothing runs until Start.
func New(ctx context.Context, sched eventloop.Scheduler, attempt *model.Attempt, engine *shuffle.Engine, deps Deps, opts Options, log zerolog.Logger) *Controller {
	ctx, cancel := context.WithCancel(ctx)
	return &Controller{
		ctx:     ctx,
		cancel:  cancel,
		sched:   sched,
		deps:    deps,
		opts:    opts,
		log:     log.With().Str("component", "session").Str("attempt_id", attempt.ID.String()).Int("user_id", attempt.UserID).Logger(),
		id:      attempt.ID,
		attempt: attempt.Clone(),
		memo:    shuffle.NewMemo(engine),
		answers: model.Answers{},
		fired:   make([]bool, len(opts.Checkpoints)),
	}
}

// Start fixes the question sequence and starts every component. When the
// source is empty the view stays in the preparing phase and ErrNoQuestions
// is returned.
func (c *Controller) Start(source []model.Question, prior Prior) error {
	switch {
	case c.closed:
		return ErrClosed
	case c.started:
		return ErrStarted
	case !c.attempt.InProgress():
		return ErrNotInProgress
	}

	restored := false
	if prior.Order != nil {
		if qs, ok := shuffle.Restore(source, *prior.Order); ok {
			c.memo.Set(qs)
			restored = true
		} else {
			c.log.Warn().Msg("Stored question order does not match the variant, reshuffling")
		}
	}

	c.questions = c.memo.Get(source)
	if len(c.questions) == 0 {
		c.render()
		return ErrNoQuestions
	}
	c.started = true
	c.answers = c.knownAnswers(c.attempt.Answers)
	if !restored {
		c.recordOrder()
	}

	c.timer = countdown.New(c.sched, c.attempt.Duration(), c.opts.TickUnit, c.onExpire)
	c.timer.OnTick(c.onTick)

	c.saver = autosave.New(c.ctx, c.sched, c.opts.AutosaveInterval, c.pendingAnswers, c.saveAnswers, c.log)
	c.saver.OnChange(c.render)

	c.monitor = proctor.NewMonitor(c.sched, c.deps.Signals, c.opts.MaxViolations, proctor.Handlers{
		OnEvent:      c.onProctorEvent,
		OnFullscreen: func(bool) { c.render() },
		OnEscalate:   c.onEscalate,
	}, c.log)
	c.monitor.Seed(prior.Violations)

	c.camera = capture.NewWorkflow(c.ctx, c.sched, c.deps.Camera, capture.Options{
		Countdown: c.opts.CaptureCountdown,
		Unit:      c.opts.TickUnit,
		MaxWidth:  c.opts.SnapshotMaxWidth,
	}, c.onPhoto, c.log)
	c.camera.OnChange(c.render)

	c.log.Info().
		Int("questions", len(c.questions)).
		Int("answers", len(c.answers)).
		Bool("resumed", restored).
		Msg("Exam session started")

	c.monitor.Start()
	c.saver.Start()
	c.camera.Open(capture.ReasonInitial)

	remaining := c.attempt.Remaining(c.sched.Now())
	c.skipPassedCheckpoints(remaining)
	c.timer.Resume(remaining)

	c.render()
	return nil
}

// Dispatch queues cmd onto the loop. Safe from any goroutine.
func (c *Controller) Dispatch(cmd Command) {
	c.sched.Post(func() { c.Handle(cmd) })
}

// Select upserts the chosen option for a question. An empty questionID
// means the current question.
func (c *Controller) Select(questionID, optionID string) bool {
	if !c.canAnswer() {
		return false
	}
	if questionID == "" {
		questionID = c.questions[c.index].ID
	}
	q, ok := c.lookup(questionID)
	if !ok || !q.HasOption(optionID) {
		c.log.Debug().Str("question_id", questionID).Str("option_id", optionID).Msg("Ignoring selection of unknown option")
		return false
	}
	c.answers[questionID] = optionID
	c.render()
	return true
}

// Next moves to the following question, stopping at the last one.
func (c *Controller) Next() { c.Goto(c.index + 1) }

// Previous moves to the preceding question, stopping at the first one.
func (c *Controller) Previous() { c.Goto(c.index - 1) }

// Goto jumps to question i, clamped to the sequence bounds.
func (c *Controller) Goto(i int) {
	if !c.canAnswer() {
		return
	}
	c.index = max(0, min(i, len(c.questions)-1))
	c.render()
}

// Index returns the current question index.
func (c *Controller) Index() int { return c.index }

// Answers returns a copy of the live answer map.
func (c *Controller) Answers() model.Answers { return c.answers.Clone() }

// Questions returns the frozen presentation sequence.
func (c *Controller) Questions() []model.Question { return c.questions }

// Result returns the finalized attempt, nil until submission succeeded.
func (c *Controller) Result() *model.Attempt { return c.result }

// RequestSubmit shows the confirmation dialog.
func (c *Controller) RequestSubmit() {
	if !c.canAnswer() {
		return
	}
	c.confirm = true
	c.render()
}

// CancelSubmit hides the confirmation dialog.
func (c *Controller) CancelSubmit() {
	if !c.confirm {
		return
	}
	c.confirm = false
	c.render()
}

// ConfirmSubmit finalizes after the student confirmed.
func (c *Controller) ConfirmSubmit() {
	if !c.confirm {
		return
	}
	c.confirm = false
	c.finalize(model.SubmitReasonManual)
}

// RetrySubmit re-runs a failed finalization with its original reason.
func (c *Controller) RetrySubmit() {
	if !c.failed {
		return
	}
	c.finalize(c.reason)
}

// DismissWarning hides the violation modal.
func (c *Controller) DismissWarning() {
	if c.warning == nil {
		return
	}
	c.warning = nil
	c.render()
}

// DismissError hides the submission error. A retry stays available.
func (c *Controller) DismissError() {
	if c.submitErr == "" {
		return
	}
	c.submitErr = ""
	c.render()
}

// EnterFullscreen asks the browser to go fullscreen again.
func (c *Controller) EnterFullscreen() {
	if !c.active() {
		return
	}
	c.monitor.RequestFullscreen()
}

// OpenCapture reopens the capture modal, e.g. after the student granted
// camera access that was denied before.
func (c *Controller) OpenCapture() {
	if !c.active() {
		return
	}
	reason := capture.ReasonInitial
	if c.verified {
		reason = capture.ReasonManual
	}
	c.camera.Open(reason)
}

// Capture starts the capture countdown.
func (c *Controller) Capture() {
	if !c.active() {
		return
	}
	c.camera.Capture()
}

// CloseCapture closes the capture modal and releases the camera.
func (c *Controller) CloseCapture() {
	if c.camera == nil {
		return
	}
	c.camera.Close()
}

// RequestReview flags the completed attempt for review. It is one-shot: once
// the flag is set it is never cleared.
func (c *Controller) RequestReview(note string) {
	if c.result == nil || c.result.ReviewRequested || c.reviewBusy || c.closed {
		return
	}
	c.reviewBusy = true

	review, id, log := c.deps.Review, c.id, c.log
	c.sched.Go(c.ctx, func(ctx context.Context) func() {
		err := review.RequestReview(ctx, id, note)
		if errors.Is(err, model.ErrReviewRequested) {
			err = nil
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Msg("Review request failed")
		}
		return func() {
			c.reviewBusy = false
			if err == nil {
				c.result.ReviewRequested = true
				c.log.Info().Msg("Review requested")
			}
			c.render()
		}
	})
}

// Close releases every timer, subscription and camera handle. It is
// idempotent and does not submit the attempt.
func (c *Controller) Close() {
	if c.closed {
		return
	}
	c.release()
	c.closed = true
	c.cancel()
	c.log.Debug().Msg("Exam session closed")
}

// release stops the owned components. It runs after a successful
// finalization and on Close.
func (c *Controller) release() {
	if c.released {
		return
	}
	c.released = true

	if c.escalation != nil {
		c.escalation.Stop()
		c.escalation = nil
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	if c.saver != nil {
		c.saver.Stop()
	}
	if c.monitor != nil {
		c.monitor.Stop()
	}
	if c.camera != nil {
		c.camera.Shutdown()
	}
}

func (c *Controller) active() bool {
	return c.started && !c.released && c.submit == submitIdle
}

// canAnswer gates every exam interaction: no answering or navigation while
// outside fullscreen, after expiry or once submission has started.
func (c *Controller) canAnswer() bool {
	return c.active() && !c.expired && c.monitor.Fullscreen()
}

func (c *Controller) lookup(questionID string) (model.Question, bool) {
	for _, q := range c.questions {
		if q.ID == questionID {
			return q, true
		}
	}
	return model.Question{}, false
}

// knownAnswers keeps the stored answers that still match the sequence.
func (c *Controller) knownAnswers(stored model.Answers) model.Answers {
	out := make(model.Answers, len(stored))
	for qid, opt := range stored {
		if q, ok := c.lookup(qid); ok && q.HasOption(opt) {
			out[qid] = opt
		}
	}
	return out
}

// pendingAnswers feeds the autosave loop. Once submission starts there is
// nothing left to autosave.
func (c *Controller) pendingAnswers() model.Answers {
	if c.submit != submitIdle {
		return nil
	}
	return c.answers
}

func (c *Controller) saveAnswers(ctx context.Context, answers model.Answers) error {
	return c.deps.Answers.SaveAnswers(ctx, c.id, answers)
}

func (c *Controller) recordOrder() {
	if c.deps.Orders == nil {
		return
	}
	orders, id, log := c.deps.Orders, c.id, c.log
	order := shuffle.OrderOf(c.questions)
	c.sched.Go(c.ctx, func(ctx context.Context) func() {
		if err := orders.RecordOrder(ctx, id, order); err != nil {
			log.Warn().Err(err).Msg("Failed to record question order")
		}
		return nil
	})
}

func (c *Controller) onTick(time.Duration) {
	c.checkpoints()
	c.render()
}

func (c *Controller) onExpire() {
	c.expired = true
	c.confirm = false
	c.log.Info().Msg("Exam time expired")
	c.finalize(model.SubmitReasonTimeExpired)
	c.render()
}

// checkpoints opens the capture modal once for every checkpoint the elapsed
// fraction has crossed. A checkpoint reached while the modal is busy is spent.
func (c *Controller) checkpoints() {
	frac := c.timer.Fraction()
	for i, cp := range c.opts.Checkpoints {
		if c.fired[i] || frac < cp {
			continue
		}
		c.fired[i] = true
		if !c.active() {
			continue
		}
		if c.camera.IsOpen() {
			c.log.Debug().Float64("checkpoint", cp).Msg("Capture modal busy, skipping checkpoint")
			continue
		}
		c.camera.Open(fmt.Sprintf("%s %d%%", capture.ReasonCheckpoint, int(math.Round(cp*100))))
	}
}

// skipPassedCheckpoints marks checkpoints already behind a resumed attempt.
func (c *Controller) skipPassedCheckpoints(remaining time.Duration) {
	total := c.attempt.Duration()
	if total <= 0 {
		return
	}
	frac := float64(total-remaining) / float64(total)
	for i, cp := range c.opts.Checkpoints {
		if frac >= cp {
			c.fired[i] = true
		}
	}
}

func (c *Controller) onProctorEvent(ev proctor.Event) {
	c.audit(ev.Kind, ev.Metadata)
	if ev.Violation && c.submit == submitIdle {
		c.warning = &Warning{Kind: ev.Kind, Count: ev.Count, Max: ev.Max}
	}
	c.render()
}

// onEscalate schedules the forced submission after the grace delay so the
// warning can render first.
func (c *Controller) onEscalate(count int) {
	if c.released || c.escalation != nil {
		return
	}
	c.log.Warn().Int("violations", count).Dur("grace", c.opts.ViolationGrace).Msg("Scheduling forced submission")
	c.escalation = c.sched.AfterFunc(c.opts.ViolationGrace, func() {
		c.escalation = nil
		c.finalize(model.SubmitReasonViolationLimit)
	})
}

func (c *Controller) onPhoto(photo capture.Photo) {
	c.verified = true
	ev := c.event(model.AuditPhotoTaken, photo.Metadata())
	photos, audit, id, log := c.deps.Photos, c.deps.Audit, c.id, c.log

	c.sched.Go(context.WithoutCancel(c.ctx), func(ctx context.Context) func() {
		ctx, cancel := c.bounded(ctx)
		defer cancel()

		if photos != nil {
			ref, err := photos.SavePhoto(ctx, id, photo)
			if err != nil {
				log.Warn().Err(err).Msg("Failed to store identity photo")
			} else {
				ev.Metadata["ref"] = ref
			}
		}
		if err := audit.LogAuditEvent(ctx, ev); err != nil {
			log.Warn().Err(err).Str("kind", string(ev.Kind)).Msg("Failed to log audit event")
		}
		return nil
	})
}

func (c *Controller) audit(kind model.AuditKind, metadata map[string]any) {
	ev := c.event(kind, metadata)
	audit, log := c.deps.Audit, c.log
	c.sched.Go(context.WithoutCancel(c.ctx), func(ctx context.Context) func() {
		ctx, cancel := c.bounded(ctx)
		defer cancel()
		if err := audit.LogAuditEvent(ctx, ev); err != nil {
			log.Warn().Err(err).Str("kind", string(kind)).Msg("Failed to log audit event")
		}
		return nil
	})
}

func (c *Controller) event(kind model.AuditKind, metadata map[string]any) model.AuditEvent {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return model.AuditEvent{
		ID:        uuid.New(),
		AttemptID: c.id,
		ExamID:    c.attempt.ExamID,
		UserID:    c.attempt.UserID,
		Kind:      kind,
		At:        c.sched.Now(),
		Metadata:  metadata,
	}
}

func (c *Controller) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.SubmitTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.opts.SubmitTimeout)
}

func (c *Controller) render() {
	if c.closed || c.deps.View == nil {
		return
	}
	c.deps.View.Render(c.Snapshot())
}

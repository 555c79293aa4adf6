package session

import (
	"context"
	"errors"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

const submitFailedMessage = "Gagal mengirim jawaban. Periksa koneksi lalu coba lagi."

// finalize is the only path that submits the attempt. Time expiry, the
// confirmed manual submit, retries and the violation-limit escalation all end
// here; the first caller wins and later callers are no-ops until a failure
// resets the state.
func (c *Controller) finalize(reason model.SubmitReason) {
	if !c.started || c.closed {
		return
	}
	if c.submit != submitIdle {
		c.log.Debug().Str("reason", string(reason)).Msg("Submission already in flight, ignoring trigger")
		return
	}

	c.submit = submitSubmitting
	c.reason = reason
	c.failed = false
	c.confirm = false
	c.submitErr = ""

	payload := c.payload(reason)
	c.log.Info().
		Str("reason", string(reason)).
		Int("correct", *payload.CorrectCount).
		Int("total", *payload.TotalCount).
		Msg("Submitting attempt")
	c.render()

	submit := c.deps.Submit
	c.sched.Go(context.WithoutCancel(c.ctx), func(ctx context.Context) func() {
		ctx, cancel := c.bounded(ctx)
		defer cancel()
		final, err := submit.SubmitAttempt(ctx, payload)
		return func() { c.submitted(payload, final, err) }
	})
}

// payload builds the completed attempt: graded answers plus the frozen
// question sequence exactly as it was presented.
func (c *Controller) payload(reason model.SubmitReason) *model.Attempt {
	now := c.sched.Now()
	answers := c.answers.Clone()
	g := Grade(c.questions, answers)

	questions := make([]model.Question, len(c.questions))
	for i, q := range c.questions {
		questions[i] = q.Clone()
	}

	p := c.attempt.Clone()
	p.Answers = answers
	p.Questions = questions
	p.Status = model.AttemptStatusCompleted
	p.Score = &g.Score
	p.CorrectCount = &g.Correct
	p.TotalCount = &g.Total
	p.SubmitReason = reason
	p.CompletedAt = &now
	return p
}

func (c *Controller) submitted(payload, final *model.Attempt, err error) {
	if c.submit != submitSubmitting {
		return
	}

	completed := errors.Is(err, model.ErrAttemptCompleted)
	if err != nil && !completed {
		c.submit = submitIdle
		c.failed = true
		c.submitErr = submitFailedMessage
		c.log.Error().Err(err).Str("reason", string(c.reason)).Msg("Attempt submission failed")
		// An escalation that fired while this submission was in flight was
		// swallowed by the guard; the monitor will not report it again.
		if c.monitor.State() == proctor.StateEscalated {
			c.onEscalate(c.monitor.Violations())
		}
		c.render()
		return
	}
	if completed {
		c.log.Warn().Msg("Attempt was already completed, showing the stored result")
	}

	// The stored row wins over the local grading: after a lost reply the
	// answers may have changed before the retry.
	if final == nil {
		final = payload
	}
	c.submit = submitDone
	c.result = final
	c.warning = nil
	c.release()

	c.log.Info().
		Str("reason", string(final.SubmitReason)).
		Msg("Attempt submitted")
	c.render()
}

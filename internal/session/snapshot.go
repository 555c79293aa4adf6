package session

import (
	"time"

	"github.com/stemsi/exstem-proctor/internal/autosave"
	"github.com/stemsi/exstem-proctor/internal/capture"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// Phase is the coarse screen the student is on.
type Phase string

const (
	PhasePreparing  Phase = "preparing"
	PhaseActive     Phase = "active"
	PhaseSubmitting Phase = "submitting"
	PhaseCompleted  Phase = "completed"
)

// Warning is the violation modal.
type Warning struct {
	Kind  model.AuditKind `json:"kind"`
	Count int             `json:"count"`
	Max   int             `json:"max"`
}

// Result is the completed attempt as shown after submission.
type Result struct {
	Score           float64            `json:"score"`
	CorrectCount    int                `json:"correct_count"`
	TotalCount      int                `json:"total_count"`
	SubmitReason    model.SubmitReason `json:"submit_reason"`
	CompletedAt     time.Time          `json:"completed_at"`
	ReviewRequested bool               `json:"review_requested"`
}

// Snapshot is everything the browser needs to render the exam view. It never
// carries answer keys.
type Snapshot struct {
	AttemptID        string                    `json:"attempt_id"`
	Phase            Phase                     `json:"phase"`
	Question         *model.QuestionForStudent `json:"question,omitempty"`
	Index            int                       `json:"index"`
	Total            int                       `json:"total"`
	Selected         string                    `json:"selected,omitempty"`
	Answered         []bool                    `json:"answered"`
	RemainingSeconds int                       `json:"remaining_seconds"`
	Expired          bool                      `json:"expired"`
	Fullscreen       bool                      `json:"fullscreen"`
	Blocked          bool                      `json:"blocked"`
	Violations       int                       `json:"violations"`
	MaxViolations    int                       `json:"max_violations"`
	Warning          *Warning                  `json:"warning,omitempty"`
	ConfirmSubmit    bool                      `json:"confirm_submit"`
	SubmitError      string                    `json:"submit_error,omitempty"`
	Autosave         autosave.Status           `json:"autosave"`
	SavedAt          *time.Time                `json:"saved_at,omitempty"`
	Capture          capture.View              `json:"capture"`
	Result           *Result                   `json:"result,omitempty"`
}

// Snapshot renders the current state.
func (c *Controller) Snapshot() Snapshot {
	s := Snapshot{
		AttemptID:     c.id.String(),
		Phase:         c.phase(),
		Index:         c.index,
		Total:         len(c.questions),
		Expired:       c.expired,
		MaxViolations: c.opts.MaxViolations,
		ConfirmSubmit: c.confirm,
		SubmitError:   c.submitErr,
		Answered:      make([]bool, len(c.questions)),
	}

	for i, q := range c.questions {
		_, s.Answered[i] = c.answers[q.ID]
	}
	if len(c.questions) > 0 {
		q := c.questions[c.index].ForStudent()
		s.Question = &q
		s.Selected = c.answers[q.ID]
	}
	if c.warning != nil {
		w := *c.warning
		s.Warning = &w
	}
	if c.timer != nil {
		s.RemainingSeconds = int(c.timer.Remaining() / time.Second)
	}
	if c.monitor != nil {
		s.Fullscreen = c.monitor.Fullscreen()
		s.Violations = c.monitor.Violations()
	}
	s.Blocked = s.Phase == PhaseActive && !s.Fullscreen
	if c.saver != nil {
		s.Autosave = c.saver.Status()
		if at := c.saver.SavedAt(); !at.IsZero() {
			s.SavedAt = &at
		}
	}
	if c.camera != nil {
		s.Capture = c.camera.View()
	}
	if c.result != nil {
		s.Result = resultOf(c.result)
	}
	return s
}

func (c *Controller) phase() Phase {
	switch {
	case !c.started:
		return PhasePreparing
	case c.submit == submitDone:
		return PhaseCompleted
	case c.submit == submitSubmitting:
		return PhaseSubmitting
	default:
		return PhaseActive
	}
}

func resultOf(a *model.Attempt) *Result {
	r := &Result{
		SubmitReason:    a.SubmitReason,
		ReviewRequested: a.ReviewRequested,
	}
	if a.Score != nil {
		r.Score = *a.Score
	}
	if a.CorrectCount != nil {
		r.CorrectCount = *a.CorrectCount
	}
	if a.TotalCount != nil {
		r.TotalCount = *a.TotalCount
	}
	if a.CompletedAt != nil {
		r.CompletedAt = *a.CompletedAt
	}
	return r
}

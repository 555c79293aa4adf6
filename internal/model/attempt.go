package model

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates attempt states. The only transition is
// in_progress -> completed.
type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "in_progress"
	AttemptStatusCompleted  AttemptStatus = "completed"
)

// Answers maps question id to the chosen option id.
type Answers map[string]string

// Clone copies the map so later edits do not leak into the copy.
func (a Answers) Clone() Answers {
	if a == nil {
		return Answers{}
	}
	return maps.Clone(a)
}

// SubmitReason records which trigger finalized an attempt.
type SubmitReason string

const (
	SubmitReasonManual         SubmitReason = "manual"
	SubmitReasonTimeExpired    SubmitReason = "time expired"
	SubmitReasonViolationLimit SubmitReason = "exceeded violation limit"
)

// Attempt is one student's single run through one exam instance.
type Attempt struct {
	ID              uuid.UUID     `json:"id"`
	UserID          int           `json:"user_id"`
	ExamID          uuid.UUID     `json:"exam_id"`
	WindowID        uuid.UUID     `json:"window_id"`
	VariantRef      string        `json:"variant_ref"`
	DurationSeconds int           `json:"duration_seconds"`
	Answers         Answers       `json:"answers"`
	Status          AttemptStatus `json:"status"`
	Score           *float64      `json:"score,omitempty"`
	CorrectCount    *int          `json:"correct_count,omitempty"`
	TotalCount      *int          `json:"total_count,omitempty"`
	SubmitReason    SubmitReason  `json:"submit_reason,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	ReviewRequested bool          `json:"review_requested"`
	Questions       []Question    `json:"questions,omitempty"`
}

// Duration returns the exam duration as a time.Duration.
func (a *Attempt) Duration() time.Duration {
	return time.Duration(a.DurationSeconds) * time.Second
}

// Remaining computes how much exam time is left at now.
func (a *Attempt) Remaining(now time.Time) time.Duration {
	left := a.StartedAt.Add(a.Duration()).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// InProgress reports whether the attempt can still be answered.
func (a *Attempt) InProgress() bool {
	return a.Status == AttemptStatusInProgress
}

// Clone returns a deep copy of the attempt.
func (a *Attempt) Clone() *Attempt {
	c := *a
	c.Answers = a.Answers.Clone()
	if a.Score != nil {
		s := *a.Score
		c.Score = &s
	}
	if a.CorrectCount != nil {
		n := *a.CorrectCount
		c.CorrectCount = &n
	}
	if a.TotalCount != nil {
		n := *a.TotalCount
		c.TotalCount = &n
	}
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		c.CompletedAt = &t
	}
	c.Questions = slices.Clone(a.Questions)
	return &c
}

// ReviewRequest is the payload for a review request outside a live session.
type ReviewRequest struct {
	Note string `json:"note" binding:"omitempty,max=500"`
}

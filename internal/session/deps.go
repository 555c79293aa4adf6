package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/capture"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/shuffle"
)

// AnswerSaver persists in-progress answers. Last write wins.
type AnswerSaver interface {
	SaveAnswers(ctx context.Context, attemptID uuid.UUID, answers model.Answers) error
}

// Submitter performs the one terminal write of an attempt. When the attempt
// was already finalized it returns the stored attempt together with
// model.ErrAttemptCompleted.
type Submitter interface {
	SubmitAttempt(ctx context.Context, attempt *model.Attempt) (*model.Attempt, error)
}

// AuditLogger appends proctoring events.
type AuditLogger interface {
	LogAuditEvent(ctx context.Context, ev model.AuditEvent) error
}

// ReviewRequester flags a completed attempt for review.
type ReviewRequester interface {
	RequestReview(ctx context.Context, attemptID uuid.UUID, note string) error
}

// OrderRecorder stores the presentation order so a reconnect shows the same sequence.
type OrderRecorder interface {
	RecordOrder(ctx context.Context, attemptID uuid.UUID, order shuffle.Order) error
}

// PhotoStore keeps identity snapshots and returns a reference to the stored file.
type PhotoStore interface {
	SavePhoto(ctx context.Context, attemptID uuid.UUID, photo capture.Photo) (string, error)
}

// View receives a snapshot after every state change.
type View interface {
	Render(Snapshot)
}

// Deps are the controller's collaborators. Orders, Photos and View are optional.
type Deps struct {
	Answers AnswerSaver
	Submit  Submitter
	Audit   AuditLogger
	Review  ReviewRequester
	Orders  OrderRecorder
	Photos  PhotoStore
	Signals proctor.Source
	Camera  capture.Camera
	View    View
}

// Options are the proctoring knobs of one attempt.
type Options struct {
	MaxViolations    int
	ViolationGrace   time.Duration
	AutosaveInterval time.Duration
	Checkpoints      []float64
	CaptureCountdown int
	SnapshotMaxWidth int
	TickUnit         time.Duration
	SubmitTimeout    time.Duration
}

// DefaultOptions mirrors the production defaults.
func DefaultOptions() Options {
	return Options{
		MaxViolations:    3,
		ViolationGrace:   1500 * time.Millisecond,
		AutosaveInterval: 30 * time.Second,
		Checkpoints:      []float64{0.25, 0.5, 0.75},
		CaptureCountdown: 3,
		SnapshotMaxWidth: 640,
		TickUnit:         time.Second,
		SubmitTimeout:    15 * time.Second,
	}
}

// Prior is state recovered from storage when a student reconnects.
type Prior struct {
	Order      *shuffle.Order
	Violations int
}

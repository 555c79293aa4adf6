package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/session"
	"golang.org/x/sync/errgroup"
)

// ErrAttemptNotOwned is returned when a student touches someone else's attempt.
var ErrAttemptNotOwned = errors.New("attempt belongs to another student")

// liveTTL is how long a connection's live marker survives without a refresh.
const liveTTL = 40 * time.Second

// Prepared is everything a session needs to start or resume an attempt.
type Prepared struct {
	Attempt   *model.Attempt
	Questions []model.Question
	Prior     session.Prior
}

// AttemptService loads attempts for the live session and serves the
// student-facing result and review operations.
type AttemptService struct {
	attempts *repository.AttemptRepository
	variants *repository.VariantRepository
	orders   *repository.OrderStore
	audit    *repository.AuditRepository
	cfg      config.ProctorConfig
	log      zerolog.Logger
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	attempts *repository.AttemptRepository,
	variants *repository.VariantRepository,
	orders *repository.OrderStore,
	audit *repository.AuditRepository,
	cfg config.ProctorConfig,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		attempts: attempts,
		variants: variants,
		orders:   orders,
		audit:    audit,
		cfg:      cfg,
		log:      log.With().Str("component", "attempt_service").Logger(),
	}
}

// Prepare loads an in-progress attempt owned by userID together with its
// variant questions and whatever a previous connection left behind. The
// three reads are independent and run concurrently.
func (s *AttemptService) Prepare(ctx context.Context, attemptID uuid.UUID, userID int) (*Prepared, error) {
	attempt, err := s.owned(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}
	if !attempt.InProgress() {
		return nil, model.ErrAttemptCompleted
	}

	p := &Prepared{Attempt: attempt}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		qs, err := s.variants.GetQuestions(gctx, attempt.VariantRef)
		if err != nil {
			return fmt.Errorf("load variant: %w", err)
		}
		p.Questions = qs
		return nil
	})
	g.Go(func() error {
		order, err := s.orders.GetOrder(gctx, attemptID)
		if err != nil {
			// A lost order only costs a reshuffle.
			s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Stored order unavailable")
			return nil
		}
		p.Prior.Order = order
		return nil
	})
	g.Go(func() error {
		n, err := s.audit.ViolationCount(gctx, attemptID)
		if err != nil {
			return fmt.Errorf("load violations: %w", err)
		}
		p.Prior.Violations = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return p, nil
}

// Questions re-reads the variant. Sessions waiting in the preparing phase
// poll it.
func (s *AttemptService) Questions(ctx context.Context, variantRef string) ([]model.Question, error) {
	return s.variants.GetQuestions(ctx, variantRef)
}

// Result returns a completed attempt for review display.
func (s *AttemptService) Result(ctx context.Context, attemptID uuid.UUID, userID int) (*model.Attempt, error) {
	attempt, err := s.owned(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}
	if attempt.InProgress() {
		return nil, model.ErrAttemptNotCompleted
	}
	return attempt, nil
}

// RequestReview flags a completed attempt owned by userID.
func (s *AttemptService) RequestReview(ctx context.Context, attemptID uuid.UUID, userID int, note string) error {
	if _, err := s.owned(ctx, attemptID, userID); err != nil {
		return err
	}
	return s.attempts.RequestReview(ctx, attemptID, note)
}

// SessionOptions maps the proctoring configuration onto controller options.
func (s *AttemptService) SessionOptions() session.Options {
	opts := session.DefaultOptions()
	opts.MaxViolations = s.cfg.MaxViolations
	opts.ViolationGrace = s.cfg.ViolationGrace
	opts.AutosaveInterval = s.cfg.AutosaveInterval
	opts.Checkpoints = s.cfg.Checkpoints
	opts.CaptureCountdown = s.cfg.CaptureCountdown
	opts.SnapshotMaxWidth = s.cfg.SnapshotMaxWidth
	opts.SubmitTimeout = s.cfg.SubmitTimeout
	return opts
}

func (s *AttemptService) owned(ctx context.Context, attemptID uuid.UUID, userID int) (*model.Attempt, error) {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.UserID != userID {
		return nil, ErrAttemptNotOwned
	}
	return attempt, nil
}

// ClaimLive marks the attempt as connected by owner. It reports false when
// another connection already holds it.
func (s *AttemptService) ClaimLive(ctx context.Context, attemptID uuid.UUID, owner string) (bool, error) {
	return s.attempts.ClaimLive(ctx, attemptID, owner, liveTTL)
}

// KeepLive refreshes owner's marker every liveTTL/4 until ctx is done.
func (s *AttemptService) KeepLive(ctx context.Context, attemptID uuid.UUID, owner string) error {
	t := time.NewTicker(liveTTL / 4)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := s.attempts.RefreshLive(ctx, attemptID, owner, liveTTL); err != nil && ctx.Err() == nil {
				s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Failed to refresh live marker")
			}
		}
	}
}

// ReleaseLive drops owner's marker so the student can reconnect at once.
func (s *AttemptService) ReleaseLive(ctx context.Context, attemptID uuid.UUID, owner string) {
	if err := s.attempts.ReleaseLive(ctx, attemptID, owner); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Failed to release live marker")
	}
}

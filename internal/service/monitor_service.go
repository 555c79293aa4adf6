package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"golang.org/x/sync/errgroup"
)

// AttemptProgress is one row of the live monitor.
type AttemptProgress struct {
	repository.AttemptRow
	AnsweredCount  int64 `json:"answered_count"`
	ViolationCount int64 `json:"violation_count"`
}

// ExamProgress is the monitor snapshot of one exam.
type ExamProgress struct {
	ExamID          uuid.UUID         `json:"exam_id"`
	TotalAttempts   int               `json:"total_attempts"`
	TotalInProgress int               `json:"total_in_progress"`
	TotalCompleted  int               `json:"total_completed"`
	TotalViolations int64             `json:"total_violations"`
	Attempts        []AttemptProgress `json:"attempts"`
}

// MonitorService serves the proctoring read model to administrators.
type MonitorService struct {
	monitorRepo *repository.MonitorRepository
	auditRepo   *repository.AuditRepository
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(monitorRepo *repository.MonitorRepository, auditRepo *repository.AuditRepository) *MonitorService {
	return &MonitorService{monitorRepo: monitorRepo, auditRepo: auditRepo}
}

// Progress fetches the attempt list and both counters concurrently.
// Attempts are required; counters are best effort.
func (s *MonitorService) Progress(ctx context.Context, examID uuid.UUID) (*ExamProgress, error) {
	var (
		rows       []repository.AttemptRow
		answered   map[uuid.UUID]int64
		violations map[uuid.UUID]int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		rows, err = s.monitorRepo.ListAttempts(gctx, examID)
		return err
	})
	g.Go(func() error {
		answered, _ = s.monitorRepo.AnsweredCounts(gctx, examID)
		return nil
	})
	g.Go(func() error {
		violations, _ = s.monitorRepo.ViolationCounts(gctx, examID)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}

	p := &ExamProgress{
		ExamID:        examID,
		TotalAttempts: len(rows),
		Attempts:      make([]AttemptProgress, 0, len(rows)),
	}
	for _, r := range rows {
		switch r.Status {
		case model.AttemptStatusInProgress:
			p.TotalInProgress++
		case model.AttemptStatusCompleted:
			p.TotalCompleted++
		}
		v := violations[r.AttemptID]
		p.TotalViolations += v
		p.Attempts = append(p.Attempts, AttemptProgress{
			AttemptRow:     r,
			AnsweredCount:  answered[r.AttemptID],
			ViolationCount: v,
		})
	}
	return p, nil
}

// AuditTrail returns one page of an attempt's audit events.
func (s *MonitorService) AuditTrail(ctx context.Context, attemptID uuid.UUID, page, perPage int) ([]model.AuditEvent, int, error) {
	return s.auditRepo.ListByAttempt(ctx, attemptID, page, perPage)
}

package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// ResultQuestion is one question of a completed attempt as shown to its
// student. The answer key stays on the server.
type ResultQuestion struct {
	model.QuestionForStudent
	Selected string `json:"selected,omitempty"`
}

// ResultResponse is a completed attempt for review display.
type ResultResponse struct {
	AttemptID       uuid.UUID          `json:"attempt_id"`
	ExamID          uuid.UUID          `json:"exam_id"`
	Score           *float64           `json:"score"`
	CorrectCount    *int               `json:"correct_count"`
	TotalCount      *int               `json:"total_count"`
	SubmitReason    model.SubmitReason `json:"submit_reason"`
	StartedAt       time.Time          `json:"started_at"`
	CompletedAt     *time.Time         `json:"completed_at"`
	ReviewRequested bool               `json:"review_requested"`
	Questions       []ResultQuestion   `json:"questions"`
}

func newResultResponse(a *model.Attempt) ResultResponse {
	qs := make([]ResultQuestion, 0, len(a.Questions))
	for _, q := range a.Questions {
		qs = append(qs, ResultQuestion{QuestionForStudent: q.ForStudent(), Selected: a.Answers[q.ID]})
	}
	return ResultResponse{
		AttemptID:       a.ID,
		ExamID:          a.ExamID,
		Score:           a.Score,
		CorrectCount:    a.CorrectCount,
		TotalCount:      a.TotalCount,
		SubmitReason:    a.SubmitReason,
		StartedAt:       a.StartedAt,
		CompletedAt:     a.CompletedAt,
		ReviewRequested: a.ReviewRequested,
		Questions:       qs,
	}
}

// AttemptHandler serves the request/response side of an attempt: the result
// after completion, review requests outside a live session and stored photos.
type AttemptHandler struct {
	attempts *service.AttemptService
	photos   *repository.PhotoStore
	log      zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attempts *service.AttemptService, photos *repository.PhotoStore, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		attempts: attempts,
		photos:   photos,
		log:      log.With().Str("component", "attempt_handler").Logger(),
	}
}

// GetResult godoc
// GET /api/v1/student/attempts/:attempt_id
func (h *AttemptHandler) GetResult(c *gin.Context) {
	claims := middleware.GetClaims(c)
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, response.ErrInvalidID)
		return
	}

	attempt, err := h.attempts.Result(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		failAttempt(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, newResultResponse(attempt))
}

// RequestReview godoc
// POST /api/v1/student/attempts/:attempt_id/review
// A repeated request answers 409 so the client can tell it was already flagged.
func (h *AttemptHandler) RequestReview(c *gin.Context) {
	claims := middleware.GetClaims(c)
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, response.ErrInvalidID)
		return
	}

	var req model.ReviewRequest
	if c.Request.ContentLength != 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, response.ErrValidation, fields)
			return
		}
	}

	if err := h.attempts.RequestReview(c.Request.Context(), attemptID, claims.UserID, req.Note); err != nil {
		failAttempt(c, h.log, err)
		return
	}

	h.log.Info().
		Str("attempt_id", attemptID.String()).
		Int("user_id", claims.UserID).
		Msg("Review requested")
	response.Success(c, http.StatusOK, gin.H{"review_requested": true})
}

// GetPhoto godoc
// GET /api/v1/admin/attempts/:attempt_id/photos/:name
func (h *AttemptHandler) GetPhoto(c *gin.Context) {
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, response.ErrInvalidID)
		return
	}

	path, err := h.photos.Path(attemptID, c.Param("name"))
	if errors.Is(err, repository.ErrPhotoNotFound) {
		response.Fail(c, response.ErrPhotoNotFound)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Failed to resolve photo")
		response.Fail(c, response.ErrInternal)
		return
	}
	c.File(path)
}

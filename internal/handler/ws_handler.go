package handler

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/eventloop"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/session"
	"github.com/stemsi/exstem-proctor/internal/shuffle"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	// questionPollInterval is how often a session stuck in the preparing
	// phase asks for its variant again.
	questionPollInterval = 5 * time.Second

	// questionPollAttempts bounds the wait; the attempt clock keeps running.
	questionPollAttempts = 12
)

var errNoQuestions = errors.New("variant still has no questions")

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// SessionStores are the persistence collaborators handed to every controller.
type SessionStores struct {
	Answers session.AnswerSaver
	Submit  session.Submitter
	Audit   session.AuditLogger
	Review  session.ReviewRequester
	Orders  session.OrderRecorder
	Photos  session.PhotoStore
}

// WSHandler hosts one session controller per connected attempt.
type WSHandler struct {
	attempts *service.AttemptService
	stores   SessionStores
	cfg      config.ProctorConfig
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attempts *service.AttemptService, stores SessionStores, cfg *config.Config, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		attempts: attempts,
		stores:   stores,
		cfg:      cfg.Proctor,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(cfg.AllowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/student/attempts/:attempt_id/stream
// Runs the exam session of one attempt for as long as the socket is open.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, response.ErrInvalidID)
		return
	}

	ctx := c.Request.Context()
	prep, err := h.attempts.Prepare(ctx, attemptID, claims.UserID)
	if err != nil {
		failAttempt(c, h.log, err)
		return
	}

	owner := uuid.NewString()
	claimed, err := h.attempts.ClaimLive(ctx, attemptID, owner)
	if err != nil {
		failAttempt(c, h.log, err)
		return
	}
	if !claimed {
		response.Fail(c, response.ErrAttemptLive)
		return
	}
	defer h.attempts.ReleaseLive(context.WithoutCancel(ctx), attemptID, owner)

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	log := h.log.With().
		Str("attempt_id", attemptID.String()).
		Int("user_id", claims.UserID).
		Logger()
	log.Info().Msg("Student connected")

	err = h.host(ctx, ws.NewConn(raw), prep, owner, log)
	switch {
	case ws.IsNormalClose(err) || errors.Is(err, context.Canceled):
		log.Info().Msg("Student disconnected")
	case errors.Is(err, errNoQuestions):
		log.Warn().Msg("Session closed without questions")
	default:
		log.Warn().Err(err).Msg("Session ended unexpectedly")
	}
}

// host wires the controller to the connection and blocks until either side
// goes away. The loop, the writer, the reader and the live-marker refresh
// stop together.
func (h *WSHandler) host(ctx context.Context, conn *ws.Conn, prep *service.Prepared, owner string, log zerolog.Logger) error {
	sessCtx, end := context.WithCancelCause(ctx)
	defer end(nil)
	g, gctx := errgroup.WithContext(sessCtx)

	loop := eventloop.New(nil, log)
	bridge := ws.NewBridge(conn, h.cfg.CameraTimeout, log)
	engine := shuffle.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))

	ctrl := session.New(gctx, loop, prep.Attempt, engine, session.Deps{
		Answers: h.stores.Answers,
		Submit:  h.stores.Submit,
		Audit:   h.stores.Audit,
		Review:  h.stores.Review,
		Orders:  h.stores.Orders,
		Photos:  h.stores.Photos,
		Signals: bridge.Signals(),
		Camera:  bridge,
		View:    bridge,
	}, h.attempts.SessionOptions(), log)

	loop.OnClose(func() {
		h.flushAnswers(ctrl, prep.Attempt.ID, log)
		ctrl.Close()
	})
	loop.Post(func() { h.start(gctx, loop, ctrl, bridge, prep, end, log) })

	g.Go(func() error { return loop.Run(gctx) })
	// WritePump closes the socket when it returns, which is what ends Serve.
	g.Go(func() error { return conn.WritePump(gctx) })
	g.Go(func() error { return bridge.Serve(ctrl.Dispatch) })
	g.Go(func() error { return h.attempts.KeepLive(gctx, prep.Attempt.ID, owner) })
	err := g.Wait()
	if errors.Is(context.Cause(sessCtx), errNoQuestions) {
		return errNoQuestions
	}
	return err
}

// start runs on the loop. An empty variant leaves the session preparing
// while the variant is polled; when it stays empty the student is told and
// the session ends.
func (h *WSHandler) start(ctx context.Context, loop *eventloop.Loop, ctrl *session.Controller, bridge *ws.Bridge, prep *service.Prepared, end context.CancelCauseFunc, log zerolog.Logger) {
	err := ctrl.Start(prep.Questions, prep.Prior)
	if !errors.Is(err, session.ErrNoQuestions) {
		if err != nil {
			log.Error().Err(err).Msg("Failed to start session")
			bridge.SendError(err.Error(), nil)
		}
		return
	}

	log.Warn().Str("variant_ref", prep.Attempt.VariantRef).Msg("Variant has no questions yet, polling")
	pollQuestions(ctx, loop, questionPollInterval, questionPollAttempts,
		func(ctx context.Context) ([]model.Question, error) {
			return h.attempts.Questions(ctx, prep.Attempt.VariantRef)
		},
		func(qs []model.Question) error { return ctrl.Start(qs, prep.Prior) },
		func() {
			log.Warn().Int("polls", questionPollAttempts).Msg("Variant still empty, closing session")
			bridge.SendError(response.GetMessage(response.ErrNoQuestions), nil)
			end(errNoQuestions)
		},
		log,
	)
}

// pollQuestions fetches every interval until start accepts the questions.
// After attempts polls without success giveUp runs once and polling stops.
// Must be called on the loop.
func pollQuestions(
	ctx context.Context,
	loop *eventloop.Loop,
	interval time.Duration,
	attempts int,
	fetch func(ctx context.Context) ([]model.Question, error),
	start func([]model.Question) error,
	giveUp func(),
	log zerolog.Logger,
) {
	var poll *eventloop.Timer
	busy, polls := false, 0
	poll = loop.Every(interval, func() {
		if busy {
			return
		}
		busy = true
		loop.Go(ctx, func(ctx context.Context) func() {
			qs, err := fetch(ctx)
			return func() {
				busy = false
				polls++
				if err != nil {
					log.Warn().Err(err).Msg("Variant poll failed")
				} else if err := start(qs); !errors.Is(err, session.ErrNoQuestions) {
					poll.Stop()
					return
				}
				if polls >= attempts {
					poll.Stop()
					giveUp()
				}
			}
		})
	})
}

// flushAnswers writes whatever the student changed since the last autosave.
// It runs on the loop as the connection closes.
func (h *WSHandler) flushAnswers(ctrl *session.Controller, attemptID uuid.UUID, log zerolog.Logger) {
	if ctrl.Snapshot().Phase != session.PhaseActive {
		return
	}
	answers := ctrl.Answers()
	if len(answers) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SubmitTimeout)
	defer cancel()
	if err := h.stores.Answers.SaveAnswers(ctx, attemptID, answers); err != nil {
		log.Warn().Err(err).Msg("Failed to flush answers on disconnect")
	}
}

// failAttempt maps attempt errors onto the response envelope.
func failAttempt(c *gin.Context, log zerolog.Logger, err error) {
	switch {
	case errors.Is(err, model.ErrAttemptNotFound):
		response.Fail(c, response.ErrAttemptNotFound)
	case errors.Is(err, service.ErrAttemptNotOwned):
		response.Fail(c, response.ErrAttemptNotOwned)
	case errors.Is(err, model.ErrAttemptCompleted):
		response.Fail(c, response.ErrAttemptCompleted)
	case errors.Is(err, model.ErrAttemptNotCompleted):
		response.Fail(c, response.ErrAttemptNotCompleted)
	case errors.Is(err, model.ErrReviewRequested):
		response.Fail(c, response.ErrReviewRequested)
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Attempt request failed")
		response.Fail(c, response.ErrInternal)
	}
}

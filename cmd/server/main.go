package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/router"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	"github.com/stemsi/exstem-proctor/internal/worker"
	"golang.org/x/sync/errgroup"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Int("max_violations", cfg.Proctor.MaxViolations).
		Floats64("checkpoints", cfg.Proctor.Checkpoints).
		Msg("Starting ExStem Proctor")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.UploadDir).Msg("Failed to create upload directory")
	}

	// ─── Initialize Repositories ───────────────────────────────────────
	answerStore := repository.NewAnswerStore(rdb)
	attemptRepo := repository.NewAttemptRepository(pool, rdb, answerStore, log)
	variantRepo := repository.NewVariantRepository(pool, rdb, log)
	orderStore := repository.NewOrderStore(pool, rdb)
	auditRepo := repository.NewAuditRepository(pool, rdb)
	monitorRepo := repository.NewMonitorRepository(pool)
	photoStore := repository.NewPhotoStore(cfg.UploadDir)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg, rdb)
	attemptService := service.NewAttemptService(attemptRepo, variantRepo, orderStore, auditRepo, cfg.Proctor, log)
	monitorService := service.NewMonitorService(monitorRepo, auditRepo)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		WS: handler.NewWSHandler(attemptService, handler.SessionStores{
			Answers: answerStore,
			Submit:  attemptRepo,
			Audit:   auditRepo,
			Review:  attemptRepo,
			Orders:  orderStore,
			Photos:  photoStore,
		}, cfg, log),
		Attempt: handler.NewAttemptHandler(attemptService, photoStore, log),
		Monitor: handler.NewMonitorHandler(rdb, monitorService, log),
	}

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Students reconnecting after a restart all ask for their variant at
	// once; load the active ones before accepting traffic.
	if err := variantRepo.PrewarmActive(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	}

	// ─── Start Background Workers ─────────────────────────────────────
	// Workers outlive the HTTP server so sessions closing during shutdown
	// still get their last writes persisted.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workers, workerCtx := errgroup.WithContext(workerCtx)
	for _, w := range []interface{ Start(context.Context) }{
		worker.NewAutosaveWorker(pool, rdb, cfg.Workers, log),
		worker.NewAuditWorker(pool, rdb, cfg.Workers, log),
		worker.NewQuestionOrderWorker(pool, rdb, cfg.Workers, log),
	} {
		workers.Go(func() error {
			w.Start(workerCtx)
			return nil
		})
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, rdb, handlers, cfg, log)

	// Hijacked WebSocket connections are not tracked by Shutdown; their
	// request contexts derive from sessionCtx and end with it.
	sessionCtx, endSessions := context.WithCancel(context.Background())
	defer endSessions()

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return sessionCtx },
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down gracefully...")
	case err := <-serveErr:
		log.Error().Err(err).Msg("Server error")
	}

	// 1. Close live sessions and stop accepting new HTTP requests.
	endSessions()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers; each flushes what it holds.
	workerCancel()
	if err := workers.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker shutdown error")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}

// Command server runs the chat API: configuration, logging, tracing,
// database, token source, HTTP router and graceful shutdown.
//
// @title       go-chat-stream API
// @version     1.0
// @description Chats with streamed assistant turns, idempotent retries and live observers.
// @BasePath    /api/v1
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-chat-stream/internal/config"
	httpapi "github.com/tbourn/go-chat-stream/internal/http"
	"github.com/tbourn/go-chat-stream/internal/llm"
	"github.com/tbourn/go-chat-stream/internal/observability"
	"github.com/tbourn/go-chat-stream/internal/ratelimit"
	"github.com/tbourn/go-chat-stream/internal/repo"
	"github.com/tbourn/go-chat-stream/internal/sysutil"
)

const version = "1.0.0"

func main() {
	// .env is optional; real environment variables win
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("could not read .env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	sysutil.SetupLogger(os.Stderr, cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server stopped with error")
	}
}

func run(ctx context.Context, cfg config.Config) error {
	gin.SetMode(cfg.GinMode)

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.Open(cfg.DB.Driver, cfg.DB.DSN())
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}
	log.Info().Str("driver", cfg.DB.Driver).Msg("database ready")

	src, err := llm.NewSource(ctx, llm.ProviderConfig{
		Name:         cfg.Provider.Name,
		Model:        cfg.Provider.Model,
		GeminiAPIKey: cfg.Provider.GeminiAPIKey,
		OllamaHost:   cfg.Provider.OllamaHost,
		RPS:          cfg.Provider.RPS,
		Burst:        cfg.Provider.Burst,
	})
	if err != nil {
		return err
	}
	log.Info().Str("provider", cfg.Provider.Name).Str("model", cfg.Provider.Model).Msg("token source ready")

	app := httpapi.NewApp(db, src, cfg)

	sweeper, err := ratelimit.NewSweeper(app.Limiter)
	if err != nil {
		return err
	}
	sweeper.Start()
	defer sweeper.Stop()

	jobs, err := newMaintenance(db, maintenanceInterval)
	if err != nil {
		return err
	}
	jobs.Start()
	defer func() { <-jobs.Stop().Done() }()

	r := gin.New()
	httpapi.RegisterRoutes(r, app, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("base_path", cfg.APIBasePath).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), cfg.Turn.FinalizeTimeout+5*time.Second)
	defer cancel()
	// active turns commit their partial text before the database closes
	if err := app.Turns.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("turns still running at shutdown")
	}
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown incomplete")
		return srv.Close()
	}
	return nil
}

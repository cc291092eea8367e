package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	cfg := loadConfig()
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := setupDatabase(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("database setup failed")
	}
	defer pool.Close()

	services, err := setupServices(ctx, cfg, pool)
	if err != nil {
		log.Fatal().Err(err).Msg("service setup failed")
	}
	defer services.Realtime.Close()

	go func() {
		if err := services.Outbox.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("outbox listener stopped")
		}
	}()

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := services.Auth.Sweep(ctx); err != nil {
					log.Warn().Err(err).Msg("token sweep failed")
				} else if n > 0 {
					log.Debug().Int64("deleted", n).Msg("expired realtime tokens swept")
				}
			}
		}
	}()

	server := setupServer(cfg, services)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	services.Gateway.Shutdown()
	if err := services.Outbox.Stop(); err != nil {
		log.Error().Err(err).Msg("outbox listener stop failed")
	}
}

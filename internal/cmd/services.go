package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/patentify/sfide/internal/auth"
	"github.com/patentify/sfide/internal/gateway"
	"github.com/patentify/sfide/internal/outbox"
	"github.com/patentify/sfide/internal/quiz"
	"github.com/patentify/sfide/internal/realtime"
	"github.com/patentify/sfide/internal/sfida"
	"github.com/rs/zerolog/log"
)

type Services struct {
	Tiers        *quiz.TierSet
	Orchestrator *sfida.Orchestrator
	Auth         *auth.Service
	Gateway      *gateway.Manager
	Outbox       *outbox.Listener
	Realtime     realtime.Conn
	DBPing       func(context.Context) error
}

func setupServices(ctx context.Context, cfg Config, pool *pgxpool.Pool) (*Services, error) {
	// Database layer → repository layer → service layer.
	tiers, err := setupTiers(cfg)
	if err != nil {
		return nil, err
	}

	quizRepo := quiz.NewRepository(pool)
	quizService := quiz.NewService(quizRepo)
	sfidaRepo := sfida.NewRepository(pool)

	clock := clockwork.NewRealClock()
	orchestrator := sfida.NewOrchestrator(sfidaRepo, quizService, quizRepo, tiers, clock)

	authService := auth.NewService(auth.NewRepository(pool), cfg.TokenTTL, nil)

	// The server holds one realtime connection for outbox fan-out.
	serverConn, err := realtime.DialNATS(ctx, cfg.NATSURL, "server", realtime.Token{Value: cfg.NATSToken})
	if err != nil {
		return nil, fmt.Errorf("dial nats: %w", err)
	}

	listenerCfg := outbox.DefaultListenerConfig()
	listenerCfg.DatabaseURL = cfg.Database.DSN()
	listenerCfg.NotifyChannel = sfida.NotifyChannel
	listener, err := outbox.NewListener(sfidaRepo, outbox.NewRealtimePublisher(serverConn), listenerCfg)
	if err != nil {
		serverConn.Close()
		return nil, fmt.Errorf("start outbox listener: %w", err)
	}

	dial := func(ctx context.Context, userID string) (realtime.Conn, error) {
		return realtime.DialNATS(ctx, cfg.NATSURL, userID, realtime.Token{Value: cfg.NATSToken})
	}
	gatewayManager := gateway.NewManager(authService, dial, auth.AllowedChannel, gateway.DefaultConfig())

	return &Services{
		Tiers:        tiers,
		Orchestrator: orchestrator,
		Auth:         authService,
		Gateway:      gatewayManager,
		Outbox:       listener,
		Realtime:     serverConn,
		DBPing:       pool.Ping,
	}, nil
}

func setupTiers(cfg Config) (*quiz.TierSet, error) {
	if cfg.TiersPath == "" {
		return quiz.DefaultTiers(), nil
	}
	tiers, err := quiz.LoadTiers(cfg.TiersPath)
	if err != nil {
		return nil, fmt.Errorf("load tiers config: %w", err)
	}
	log.Info().Str("path", cfg.TiersPath).Msg("loaded challenge tiers")
	return tiers, nil
}

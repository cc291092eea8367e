package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// ListenerConfig configures the outbox relay.
type ListenerConfig struct {
	DatabaseURL      string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel    string        // channel name to LISTEN on
	FallbackInterval time.Duration // how often to sweep for missed events
	PingInterval     time.Duration
	BatchSize        int32
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		NotifyChannel:    "sfida_outbox_events",
		FallbackInterval: 30 * time.Second,
		PingInterval:     90 * time.Second,
		BatchSize:        100,
	}
}

// Listener relays queued outbox events to the realtime layer. The hot path
// is a Postgres NOTIFY carrying the event id; a fallback sweep catches
// anything the notification path missed.
type Listener struct {
	store     Store
	listener  *pq.Listener
	publisher Publisher
	cfg       ListenerConfig
}

func NewListener(store Store, publisher Publisher, cfg ListenerConfig) (*Listener, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("outbox listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.NotifyChannel, err)
	}

	log.Info().Str("channel", cfg.NotifyChannel).Msg("listening for outbox notifications")

	return &Listener{
		store:     store,
		listener:  l,
		publisher: publisher,
		cfg:       cfg,
	}, nil
}

func (l *Listener) Start(ctx context.Context) error {
	log.Info().
		Str("channel", l.cfg.NotifyChannel).
		Dur("fallback_interval", l.cfg.FallbackInterval).
		Msg("outbox relay started")

	pingTicker := time.NewTicker(l.cfg.PingInterval)
	fallbackTicker := time.NewTicker(l.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	// Drain whatever queued up before we started listening.
	if err := l.processUnsent(ctx); err != nil {
		log.Error().Err(err).Msg("initial outbox sweep failed")
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("outbox relay shutting down")
			return l.Stop()
		case note := <-l.listener.Notify:
			if note == nil {
				// Connection was lost; the driver reconnects on its own.
				continue
			}
			if err := l.handleNotification(ctx, note.Extra); err != nil {
				log.Error().Err(err).Str("event_id", note.Extra).Msg("failed to handle outbox notification")
			}
		case <-fallbackTicker.C:
			if err := l.processUnsent(ctx); err != nil {
				log.Error().Err(err).Msg("outbox fallback sweep failed")
			}
		case <-pingTicker.C:
			if err := l.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping outbox listener")
			}
		}
	}
}

func (l *Listener) Stop() error {
	return l.listener.Close()
}

func (l *Listener) handleNotification(ctx context.Context, payload string) error {
	id, err := uuid.Parse(payload)
	if err != nil {
		return fmt.Errorf("parse notification payload: %w", err)
	}

	event, err := l.store.FetchOutboxByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrEventNotFound) {
			// Another relay instance beat us to it.
			return nil
		}
		return err
	}
	return l.dispatch(ctx, *event)
}

func (l *Listener) processUnsent(ctx context.Context) error {
	events, err := l.store.FetchUnsentOutbox(ctx, l.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, event := range events {
		if err := l.dispatch(ctx, event); err != nil {
			log.Error().Err(err).Str("event_id", event.ID.String()).Msg("failed to dispatch outbox event")
		}
	}
	return nil
}

func (l *Listener) dispatch(ctx context.Context, event Event) error {
	if err := l.publisher.Publish(ctx, event); err != nil {
		return fmt.Errorf("publish event %s: %w", event.ID, err)
	}
	if err := l.store.MarkOutboxSent(ctx, event.ID); err != nil {
		return fmt.Errorf("mark event %s sent: %w", event.ID, err)
	}
	return nil
}

package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/patentify/sfide/internal/realtime"
	"github.com/patentify/sfide/internal/sfida/events"
	"github.com/rs/zerolog/log"
)

// RealtimePublisher fans outbox events out over the realtime channel
// contract. A GameStarted event becomes one game-start message on each
// participant's private channel, so both players receive the shared clock
// anchor through the same delivery path.
type RealtimePublisher struct {
	conn realtime.Conn
}

func NewRealtimePublisher(conn realtime.Conn) *RealtimePublisher {
	return &RealtimePublisher{conn: conn}
}

func (p *RealtimePublisher) Publish(ctx context.Context, event Event) error {
	switch event.EventType {
	case EventTypeGameStarted:
		return p.publishGameStart(ctx, event)
	default:
		// Unknown types are dropped, not retried forever.
		log.Warn().
			Str("event_type", event.EventType).
			Str("event_id", event.ID.String()).
			Msg("unknown outbox event type, dropping")
		return nil
	}
}

func (p *RealtimePublisher) publishGameStart(ctx context.Context, event Event) error {
	var payload events.GameStartPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal game-start payload: %w", err)
	}

	for _, userID := range []string{payload.PlayerAID, payload.PlayerBID} {
		ch := p.conn.Channel(realtime.UserChannel(userID))
		if err := ch.Publish(ctx, events.EventGameStart, event.Payload); err != nil {
			return fmt.Errorf("publish game-start to %s: %w", userID, err)
		}
	}

	log.Info().
		Str("session_id", payload.SessionID.String()).
		Str("player_a", payload.PlayerAID).
		Str("player_b", payload.PlayerBID).
		Msg("game-start published")
	return nil
}

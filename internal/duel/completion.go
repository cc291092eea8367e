package duel

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/patentify/sfide/internal/models"
	"github.com/patentify/sfide/internal/realtime"
	"github.com/patentify/sfide/internal/sfida/events"
	"github.com/rs/zerolog/log"
)

// CompletionPollInterval is the fallback cadence for fetching the session
// result while waiting for the opponent. The player-finished event is the
// fast path; the poll covers a lost event.
const CompletionPollInterval = 5 * time.Second

// ResultSource fetches the authoritative session result.
type ResultSource interface {
	SessionResult(ctx context.Context, sessionID uuid.UUID) (*models.SessionResult, error)
}

// Reconciler waits for both players of a session to have a stored result.
// Completion can be noticed through the opponent's player-finished event or
// through the periodic poll; both paths funnel into the same check, so the
// final result is delivered exactly once no matter which fires first, or if
// both do.
type Reconciler struct {
	conn    realtime.Conn
	clock   clockwork.Clock
	results ResultSource
}

func NewReconciler(conn realtime.Conn, clock clockwork.Clock, results ResultSource) *Reconciler {
	return &Reconciler{conn: conn, clock: clock, results: results}
}

// Await blocks until the session result reports both players finished, then
// returns it. Poll failures are swallowed; the next trigger retries.
func (r *Reconciler) Await(ctx context.Context, sessionID uuid.UUID) (*models.SessionResult, error) {
	checkCh := make(chan struct{}, 1)
	trigger := func() {
		select {
		case checkCh <- struct{}{}:
		default:
		}
	}

	ch := r.conn.Channel(realtime.SessionChannel(sessionID))
	stop, err := ch.Subscribe(events.EventPlayerFinished, func(msg realtime.Message) {
		if msg.ClientID == r.conn.ClientID() {
			return
		}
		trigger()
	})
	if err != nil {
		return nil, err
	}
	defer stop()

	ticker := r.clock.NewTicker(CompletionPollInterval)
	defer ticker.Stop()

	// The opponent may already have finished before we subscribed.
	trigger()

	for {
		select {
		case <-checkCh:
		case <-ticker.Chan():
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		result, err := r.results.SessionResult(ctx, sessionID)
		if err != nil {
			log.Debug().Err(err).
				Str("session_id", sessionID.String()).
				Msg("result fetch failed, will retry")
			continue
		}
		if result.BothFinished {
			return result, nil
		}
	}
}

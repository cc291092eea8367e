package sfida

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/patentify/sfide/internal/models"
	"github.com/patentify/sfide/internal/realtime"
	"github.com/patentify/sfide/internal/sfida/events"
	"github.com/rs/zerolog/log"
)

// GameStartTimeout bounds how long an accepting client waits for the
// game-start event before giving up and returning to a neutral state.
const GameStartTimeout = 20 * time.Second

// Starter is the client-side game-start handler: it resolves this player's
// role from the event, dedups redelivery and manages the waiting window
// between acceptance and game start.
type Starter struct {
	conn   realtime.Conn
	clock  clockwork.Clock
	selfID string

	mu          sync.Mutex
	lastHandled uuid.UUID
	waiting     bool
	waitGen     int

	sessions  chan models.ActiveSfidaSession
	waitingCh chan bool
}

func NewStarter(conn realtime.Conn, clock clockwork.Clock) *Starter {
	return &Starter{
		conn:      conn,
		clock:     clock,
		selfID:    conn.ClientID(),
		sessions:  make(chan models.ActiveSfidaSession, 1),
		waitingCh: make(chan bool, 1),
	}
}

// Sessions delivers the local session view once a game-start is processed.
// Latest-wins; at most one session can be active per user anyway.
func (st *Starter) Sessions() <-chan models.ActiveSfidaSession {
	return st.sessions
}

// WaitingUpdates reports transitions of the waiting-for-game-start flag.
func (st *Starter) WaitingUpdates() <-chan bool {
	return st.waitingCh
}

// Waiting reports whether the client accepted a challenge and is still
// waiting for the game-start event.
func (st *Starter) Waiting() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.waiting
}

// BeginWaiting marks the waiting window after an acceptance and arms the
// safety timeout: if no game-start arrives within GameStartTimeout the flag
// is forcibly cleared rather than leaving the user hanging. The session may
// still complete server-side; this only abandons the local wait.
func (st *Starter) BeginWaiting(ctx context.Context) {
	st.mu.Lock()
	st.waiting = true
	st.waitGen++
	gen := st.waitGen
	st.mu.Unlock()
	st.notifyWaiting(true)

	timer := st.clock.NewTimer(GameStartTimeout)
	go func() {
		defer timer.Stop()
		select {
		case <-timer.Chan():
			if st.clearWaiting(gen) {
				log.Warn().Msg("game-start not received within safety window, giving up")
			}
		case <-ctx.Done():
		}
	}()
}

// Run subscribes to game-start events on the user's private channel until
// ctx is cancelled.
func (st *Starter) Run(ctx context.Context) error {
	own := st.conn.Channel(realtime.UserChannel(st.selfID))
	stop, err := own.Subscribe(events.EventGameStart, func(msg realtime.Message) {
		st.handleGameStart(msg)
	})
	if err != nil {
		return err
	}
	defer stop()

	<-ctx.Done()
	return nil
}

func (st *Starter) handleGameStart(msg realtime.Message) {
	var payload events.GameStartPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		log.Warn().Err(err).Msg("malformed game-start event")
		return
	}

	// Stale or misrouted delivery naming neither participant: silently
	// ignored, never surfaced.
	quizID, ok := quizFor(payload, st.selfID)
	if !ok {
		log.Debug().
			Str("session_id", payload.SessionID.String()).
			Msg("game-start names neither participant, ignoring")
		return
	}

	st.mu.Lock()
	if st.lastHandled == payload.SessionID {
		st.mu.Unlock()
		log.Debug().
			Str("session_id", payload.SessionID.String()).
			Msg("duplicate game-start, ignoring")
		return
	}
	st.lastHandled = payload.SessionID
	st.waiting = false
	st.waitGen++
	st.mu.Unlock()
	st.notifyWaiting(false)

	opponentID, opponentName := opponentFor(payload, st.selfID)
	session := models.ActiveSfidaSession{
		SessionID:       payload.SessionID,
		QuizID:          quizID,
		OpponentID:      opponentID,
		OpponentName:    opponentName,
		TierKey:         payload.Tier,
		QuestionCount:   payload.QuestionCount,
		DurationSeconds: payload.DurationSeconds,
		GameStartedAt:   payload.GameStartedAt,
	}

	for {
		select {
		case st.sessions <- session:
			log.Info().
				Str("session_id", session.SessionID.String()).
				Str("opponent_id", session.OpponentID).
				Msg("duel starting")
			return
		default:
			select {
			case <-st.sessions:
			default:
			}
		}
	}
}

func (st *Starter) clearWaiting(gen int) bool {
	st.mu.Lock()
	if !st.waiting || st.waitGen != gen {
		st.mu.Unlock()
		return false
	}
	st.waiting = false
	st.mu.Unlock()
	st.notifyWaiting(false)
	return true
}

func (st *Starter) notifyWaiting(v bool) {
	for {
		select {
		case st.waitingCh <- v:
			return
		default:
			select {
			case <-st.waitingCh:
			default:
			}
		}
	}
}

func quizFor(p events.GameStartPayload, userID string) (uuid.UUID, bool) {
	switch userID {
	case p.PlayerAID:
		return p.QuizAID, true
	case p.PlayerBID:
		return p.QuizBID, true
	}
	return uuid.Nil, false
}

func opponentFor(p events.GameStartPayload, userID string) (string, string) {
	if userID == p.PlayerAID {
		return p.PlayerBID, p.PlayerBName
	}
	return p.PlayerAID, p.PlayerAName
}

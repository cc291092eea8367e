package duel

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/patentify/sfide/internal/models"
	"github.com/patentify/sfide/internal/realtime"
	"github.com/patentify/sfide/internal/sfida/events"
	"github.com/rs/zerolog/log"
)

// InactivityTimeout force-ends a duel whose player stopped answering. The
// deadline derived from the shared anchor still applies; this only catches
// a player idling well before it.
const InactivityTimeout = 2 * time.Minute

var ErrDuelFinished = errors.New("duel: already finished")

// Completer submits this player's responses for authoritative grading.
type Completer interface {
	CompleteSession(ctx context.Context, sessionID uuid.UUID, responses map[int64]bool) error
}

// State is the local duel view pushed to the UI on every change.
type State struct {
	Position         int
	Remaining        time.Duration
	Finished         bool
	OpponentPos      int
	OpponentFinished bool
}

// Engine runs one player's side of a duel: it answers questions, mirrors the
// opponent's progress from the session channel and enforces both the shared
// deadline and the inactivity cutoff. The countdown is always derived from
// the session's GameStartedAt anchor, so both players see the same remaining
// time regardless of when their engines mounted.
type Engine struct {
	conn      realtime.Conn
	clock     clockwork.Clock
	session   models.ActiveSfidaSession
	questions []models.Question
	completer Completer

	mu               sync.Mutex
	position         int
	responses        map[int64]bool
	finished         bool
	opponentPos      int
	opponentFinished bool
	inactivity       clockwork.Timer

	updates chan State
	pending chan models.PendingSfidaCompletion
}

func NewEngine(conn realtime.Conn, clock clockwork.Clock, session models.ActiveSfidaSession, questions []models.Question, completer Completer) *Engine {
	return &Engine{
		conn:      conn,
		clock:     clock,
		session:   session,
		questions: questions,
		completer: completer,
		responses: make(map[int64]bool, len(questions)),
		updates:   make(chan State, 1),
		pending:   make(chan models.PendingSfidaCompletion, 1),
	}
}

// Updates delivers state snapshots, latest-wins.
func (e *Engine) Updates() <-chan State { return e.updates }

// Finished fires once when this player's side of the duel is over and the
// submission has been handed to the server.
func (e *Engine) Finished() <-chan models.PendingSfidaCompletion { return e.pending }

// Remaining is the countdown derived from the shared anchor, clamped at zero.
func (e *Engine) Remaining() time.Duration {
	total := time.Duration(e.session.DurationSeconds) * time.Second
	remaining := total - e.clock.Now().Sub(e.session.GameStartedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Question returns the question at the current position.
func (e *Engine) Question() (models.Question, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finished || e.position >= len(e.questions) {
		return models.Question{}, false
	}
	return e.questions[e.position], true
}

// Run wires the session channel and the two timers until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ch := e.conn.Channel(realtime.SessionChannel(e.session.SessionID))

	stopProgress, err := ch.Subscribe(events.EventProgress, func(msg realtime.Message) {
		if msg.ClientID == e.conn.ClientID() {
			return
		}
		var payload events.ProgressPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			log.Warn().Err(err).Msg("malformed progress event")
			return
		}
		e.mu.Lock()
		if payload.Position > e.opponentPos {
			e.opponentPos = payload.Position
		}
		e.mu.Unlock()
		e.notify()
	})
	if err != nil {
		return err
	}
	defer stopProgress()

	stopFinished, err := ch.Subscribe(events.EventPlayerFinished, func(msg realtime.Message) {
		if msg.ClientID == e.conn.ClientID() {
			return
		}
		e.mu.Lock()
		e.opponentFinished = true
		e.mu.Unlock()
		e.notify()
	})
	if err != nil {
		return err
	}
	defer stopFinished()

	deadline := e.clock.NewTimer(e.Remaining())
	defer deadline.Stop()

	e.mu.Lock()
	e.inactivity = e.clock.NewTimer(InactivityTimeout)
	inactivity := e.inactivity
	e.mu.Unlock()
	defer inactivity.Stop()

	e.notify()

	for {
		select {
		case <-deadline.Chan():
			log.Info().
				Str("session_id", e.session.SessionID.String()).
				Msg("duel time over, forcing submission")
			e.finish(ctx)
			return nil
		case <-inactivity.Chan():
			log.Info().
				Str("session_id", e.session.SessionID.String()).
				Msg("player inactive, forcing submission")
			e.finish(ctx)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Answer records the response for the current question, advances and
// broadcasts the new position. Answering the last question finishes the duel.
func (e *Engine) Answer(ctx context.Context, answer bool) error {
	e.mu.Lock()
	if e.finished {
		e.mu.Unlock()
		return ErrDuelFinished
	}
	if e.position >= len(e.questions) {
		e.mu.Unlock()
		return ErrDuelFinished
	}
	question := e.questions[e.position]
	e.responses[question.ID] = answer
	e.position++
	position := e.position
	done := position >= len(e.questions)
	if e.inactivity != nil {
		resetTimer(e.inactivity, InactivityTimeout)
	}
	e.mu.Unlock()

	// Best-effort: a lost tick only degrades the opponent's display.
	e.publishProgress(ctx, position)
	e.notify()

	if done {
		e.finish(ctx)
	}
	return nil
}

func (e *Engine) publishProgress(ctx context.Context, position int) {
	payload, err := json.Marshal(events.ProgressPayload{Position: position})
	if err != nil {
		return
	}
	ch := e.conn.Channel(realtime.SessionChannel(e.session.SessionID))
	if err := ch.Publish(ctx, events.EventProgress, payload); err != nil {
		log.Warn().Err(err).Msg("progress publish failed")
	}
}

func (e *Engine) finish(ctx context.Context) {
	e.mu.Lock()
	if e.finished {
		e.mu.Unlock()
		return
	}
	e.finished = true
	responses := make(map[int64]bool, len(e.responses))
	for id, answer := range e.responses {
		responses[id] = answer
	}
	e.mu.Unlock()
	e.notify()

	ch := e.conn.Channel(realtime.SessionChannel(e.session.SessionID))
	payload, _ := json.Marshal(events.PlayerFinishedPayload{})
	if err := ch.Publish(ctx, events.EventPlayerFinished, payload); err != nil {
		log.Warn().Err(err).Msg("player-finished publish failed")
	}

	if err := e.completer.CompleteSession(ctx, e.session.SessionID, responses); err != nil {
		// The reconciler keeps polling the server result, so the user is
		// not stuck, but without a stored result the duel cannot settle.
		log.Error().Err(err).
			Str("session_id", e.session.SessionID.String()).
			Msg("result submission failed")
	}

	completion := models.PendingSfidaCompletion{
		SessionID:    e.session.SessionID,
		OpponentName: e.session.OpponentName,
	}
	select {
	case e.pending <- completion:
	default:
	}
}

func (e *Engine) notify() {
	e.mu.Lock()
	state := State{
		Position:         e.position,
		Remaining:        e.Remaining(),
		Finished:         e.finished,
		OpponentPos:      e.opponentPos,
		OpponentFinished: e.opponentFinished,
	}
	e.mu.Unlock()

	for {
		select {
		case e.updates <- state:
			return
		default:
			select {
			case <-e.updates:
			default:
			}
		}
	}
}

func resetTimer(t clockwork.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.Chan():
		default:
		}
	}
	t.Reset(d)
}

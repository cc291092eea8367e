package sfida

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/patentify/sfide/internal/models"
	"github.com/patentify/sfide/internal/realtime"
	"github.com/patentify/sfide/internal/sfida/events"
)

func deliverGameStart(st *Starter, payload events.GameStartPayload) {
	data, _ := json.Marshal(payload)
	st.handleGameStart(realtime.Message{Event: events.EventGameStart, Data: data})
}

func drainSession(t *testing.T, st *Starter) models.ActiveSfidaSession {
	t.Helper()
	select {
	case s := <-st.Sessions():
		return s
	case <-time.After(time.Second):
		t.Fatal("no session emitted")
		return models.ActiveSfidaSession{}
	}
}

func testPayload(sessionID uuid.UUID) events.GameStartPayload {
	return events.GameStartPayload{
		SessionID:       sessionID,
		QuizAID:         uuid.New(),
		QuizBID:         uuid.New(),
		GameStartedAt:   time.Now().UTC(),
		PlayerAID:       "alice",
		PlayerBID:       "bob",
		PlayerAName:     "Alice",
		PlayerBName:     "Bob",
		Tier:            "seed",
		QuestionCount:   5,
		DurationSeconds: 150,
	}
}

func TestStarterResolvesRoleByID(t *testing.T) {
	hub := realtime.NewHub()
	st := NewStarter(hub.Connect("bob"), clockwork.NewFakeClock())

	payload := testPayload(uuid.New())
	deliverGameStart(st, payload)

	session := drainSession(t, st)
	if session.QuizID != payload.QuizBID {
		t.Fatalf("QuizID = %s, want player B quiz %s", session.QuizID, payload.QuizBID)
	}
	if session.OpponentID != "alice" || session.OpponentName != "Alice" {
		t.Fatalf("opponent = %s/%s, want alice/Alice", session.OpponentID, session.OpponentName)
	}
	if !session.GameStartedAt.Equal(payload.GameStartedAt) {
		t.Fatalf("GameStartedAt = %v, want %v", session.GameStartedAt, payload.GameStartedAt)
	}
}

func TestStarterIgnoresDuplicateDelivery(t *testing.T) {
	hub := realtime.NewHub()
	st := NewStarter(hub.Connect("alice"), clockwork.NewFakeClock())

	payload := testPayload(uuid.New())
	deliverGameStart(st, payload)
	deliverGameStart(st, payload)

	drainSession(t, st)
	select {
	case s := <-st.Sessions():
		t.Fatalf("duplicate delivery produced a second session: %+v", s)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStarterIgnoresForeignSession(t *testing.T) {
	hub := realtime.NewHub()
	st := NewStarter(hub.Connect("carol"), clockwork.NewFakeClock())

	deliverGameStart(st, testPayload(uuid.New()))

	select {
	case s := <-st.Sessions():
		t.Fatalf("foreign game-start emitted a session: %+v", s)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStarterSafetyTimeoutClearsWaiting(t *testing.T) {
	hub := realtime.NewHub()
	clock := clockwork.NewFakeClock()
	st := NewStarter(hub.Connect("bob"), clock)

	st.BeginWaiting(context.Background())
	if !st.Waiting() {
		t.Fatal("not waiting after BeginWaiting")
	}

	clock.Advance(GameStartTimeout)

	deadline := time.Now().Add(time.Second)
	for st.Waiting() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if st.Waiting() {
		t.Fatal("still waiting after safety timeout")
	}
}

func TestStarterGameStartBeatsSafetyTimeout(t *testing.T) {
	hub := realtime.NewHub()
	clock := clockwork.NewFakeClock()
	st := NewStarter(hub.Connect("bob"), clock)

	st.BeginWaiting(context.Background())
	deliverGameStart(st, testPayload(uuid.New()))
	if st.Waiting() {
		t.Fatal("still waiting after game-start")
	}

	// The stale safety timer must stay a no-op.
	clock.Advance(GameStartTimeout)
	time.Sleep(10 * time.Millisecond)
	if st.Waiting() {
		t.Fatal("stale safety timer re-cleared state")
	}
	drainSession(t, st)
}

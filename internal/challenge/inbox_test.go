package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/patentify/sfide/internal/models"
	"github.com/patentify/sfide/internal/realtime"
	"github.com/patentify/sfide/internal/sfida"
	"github.com/patentify/sfide/internal/sfida/events"
)

type stubStarter struct {
	t *testing.T

	startFunc func(ctx context.Context, p sfida.StartSessionParams) (*models.SfidaSession, error)
}

func (s *stubStarter) StartSession(ctx context.Context, p sfida.StartSessionParams) (*models.SfidaSession, error) {
	if s.startFunc != nil {
		return s.startFunc(ctx, p)
	}
	s.t.Fatalf("StartSession called unexpectedly")
	return nil, errors.New("unexpected call")
}

type stubWaiter struct {
	mu    sync.Mutex
	armed int
}

func (w *stubWaiter) BeginWaiting(context.Context) {
	w.mu.Lock()
	w.armed++
	w.mu.Unlock()
}

func (w *stubWaiter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.armed
}

func newTestInbox(hub *realtime.Hub, clock clockwork.Clock, starter SessionStarter, waiter GameStartWaiter) *Inbox {
	return NewInbox(hub.Connect("bob"), clock, starter, waiter, Identity{UserID: "bob", Name: "Bob"})
}

type responseRecorder struct {
	mu  sync.Mutex
	got []events.ChallengeResponsePayload
}

func (r *responseRecorder) record(msg realtime.Message) {
	var resp events.ChallengeResponsePayload
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return
	}
	r.mu.Lock()
	r.got = append(r.got, resp)
	r.mu.Unlock()
}

func (r *responseRecorder) responses() []events.ChallengeResponsePayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.ChallengeResponsePayload, len(r.got))
	copy(out, r.got)
	return out
}

func watchResponses(t *testing.T, hub *realtime.Hub, challengerID string) *responseRecorder {
	t.Helper()
	rec := &responseRecorder{}
	conn := hub.Connect(challengerID + "-observer")
	_, err := conn.Channel(realtime.UserChannel(challengerID)).Subscribe(events.EventChallengeResponse, rec.record)
	if err != nil {
		t.Fatalf("subscribe responses: %v", err)
	}
	return rec
}

func deliverRequest(in *Inbox, req events.ChallengeRequestPayload) {
	data, _ := json.Marshal(req)
	in.handleRequest(context.Background(), realtime.Message{
		Event:    events.EventChallengeRequest,
		ClientID: req.ChallengerID,
		Data:     data,
	})
}

func TestInboxCountdownFromReceipt(t *testing.T) {
	hub := realtime.NewHub()
	clock := clockwork.NewFakeClock()
	in := newTestInbox(hub, clock, &stubStarter{t: t}, nil)

	deliverRequest(in, events.ChallengeRequestPayload{ChallengerID: "alice", ChallengerName: "Alice", Tier: "seed"})

	c := in.Current()
	if c == nil {
		t.Fatal("no pending challenge")
	}
	if got := c.Remaining(clock.Now()); got != IncomingTimeout {
		t.Fatalf("Remaining = %v, want %v", got, IncomingTimeout)
	}

	// A dialog rendered 10s late still shows the true remainder.
	if got := c.Remaining(clock.Now().Add(10 * time.Second)); got != 20*time.Second {
		t.Fatalf("Remaining = %v, want 20s", got)
	}
	if got := c.Remaining(clock.Now().Add(time.Minute)); got != 0 {
		t.Fatalf("Remaining = %v, want 0", got)
	}
}

func TestInboxAutoRejectsOnTimeout(t *testing.T) {
	hub := realtime.NewHub()
	clock := clockwork.NewFakeClock()
	in := newTestInbox(hub, clock, &stubStarter{t: t}, nil)
	rec := watchResponses(t, hub, "alice")

	deliverRequest(in, events.ChallengeRequestPayload{ChallengerID: "alice", Tier: "seed"})
	clock.Advance(IncomingTimeout)

	waitFor(t, func() bool { return in.Current() == nil })
	waitFor(t, func() bool { return len(rec.responses()) == 1 })
	if rec.responses()[0].Accepted {
		t.Fatal("auto-reject sent an acceptance")
	}

	// The slot is resolved; responding now is an error.
	if _, err := in.Respond(context.Background(), true); !errors.Is(err, ErrNoPendingChallenge) {
		t.Fatalf("Respond err = %v, want ErrNoPendingChallenge", err)
	}
}

func TestInboxRejectsConcurrentRequest(t *testing.T) {
	hub := realtime.NewHub()
	clock := clockwork.NewFakeClock()
	in := newTestInbox(hub, clock, &stubStarter{t: t}, nil)
	carolRec := watchResponses(t, hub, "carol")

	deliverRequest(in, events.ChallengeRequestPayload{ChallengerID: "alice", Tier: "seed"})
	deliverRequest(in, events.ChallengeRequestPayload{ChallengerID: "carol", Tier: "full"})

	// Carol is told no immediately; Alice's challenge is untouched.
	if got := carolRec.responses(); len(got) != 1 || got[0].Accepted {
		t.Fatalf("carol responses = %+v, want one rejection", got)
	}
	c := in.Current()
	if c == nil || c.ChallengerID != "alice" {
		t.Fatalf("current = %+v, want alice's challenge", c)
	}
}

func TestInboxAcceptStartsSessionFirst(t *testing.T) {
	hub := realtime.NewHub()
	clock := clockwork.NewFakeClock()
	sessionID := uuid.New()
	starter := &stubStarter{
		t: t,
		startFunc: func(ctx context.Context, p sfida.StartSessionParams) (*models.SfidaSession, error) {
			if p.ChallengerID != "alice" || p.TargetID != "bob" || p.TierKey != "seed" {
				t.Fatalf("StartSession(%+v)", p)
			}
			// Both display names must reach the server so the game-start
			// payload can carry them.
			if p.ChallengerName != "Alice" || p.TargetName != "Bob" {
				t.Fatalf("names = %q/%q, want Alice/Bob", p.ChallengerName, p.TargetName)
			}
			return &models.SfidaSession{ID: sessionID, PlayerAID: "alice", PlayerBID: "bob"}, nil
		},
	}
	waiter := &stubWaiter{}
	in := newTestInbox(hub, clock, starter, waiter)
	rec := watchResponses(t, hub, "alice")

	deliverRequest(in, events.ChallengeRequestPayload{ChallengerID: "alice", ChallengerName: "Alice", Tier: "seed"})

	session, err := in.Respond(context.Background(), true)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if session.ID != sessionID {
		t.Fatalf("session.ID = %s, want %s", session.ID, sessionID)
	}
	got := rec.responses()
	if len(got) != 1 || !got[0].Accepted || got[0].SessionID != sessionID {
		t.Fatalf("responses = %+v, want acceptance with session id", got)
	}
	if in.Current() != nil {
		t.Fatal("challenge still pending after acceptance")
	}
	// Acceptance arms the waiting-for-game-start window exactly once.
	if waiter.count() != 1 {
		t.Fatalf("waiter armed %d times, want 1", waiter.count())
	}
}

func TestInboxAcceptFailureRejects(t *testing.T) {
	hub := realtime.NewHub()
	clock := clockwork.NewFakeClock()
	starter := &stubStarter{
		t: t,
		startFunc: func(ctx context.Context, p sfida.StartSessionParams) (*models.SfidaSession, error) {
			return nil, errors.New("player busy")
		},
	}
	waiter := &stubWaiter{}
	in := NewInbox(hub.Connect("bob"), clock, starter, waiter, Identity{UserID: "bob", Name: "Bob"})
	rec := watchResponses(t, hub, "alice")

	deliverRequest(in, events.ChallengeRequestPayload{ChallengerID: "alice", Tier: "seed"})

	if _, err := in.Respond(context.Background(), true); err == nil {
		t.Fatal("Respond succeeded despite session start failure")
	}
	got := rec.responses()
	if len(got) != 1 || got[0].Accepted {
		t.Fatalf("responses = %+v, want one rejection", got)
	}
	if in.Current() != nil {
		t.Fatal("challenge still pending after failed acceptance")
	}
	if waiter.count() != 0 {
		t.Fatal("waiter armed after failed session start")
	}
}

func TestInboxDecline(t *testing.T) {
	hub := realtime.NewHub()
	clock := clockwork.NewFakeClock()
	waiter := &stubWaiter{}
	in := NewInbox(hub.Connect("bob"), clock, &stubStarter{t: t}, waiter, Identity{UserID: "bob", Name: "Bob"})
	rec := watchResponses(t, hub, "alice")

	deliverRequest(in, events.ChallengeRequestPayload{ChallengerID: "alice", Tier: "seed"})

	if _, err := in.Respond(context.Background(), false); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if waiter.count() != 0 {
		t.Fatal("waiter armed on decline")
	}
	got := rec.responses()
	if len(got) != 1 || got[0].Accepted {
		t.Fatalf("responses = %+v, want one rejection", got)
	}

	// The lapsed countdown must not issue a second rejection.
	clock.Advance(IncomingTimeout)
	time.Sleep(10 * time.Millisecond)
	if got := rec.responses(); len(got) != 1 {
		t.Fatalf("responses = %+v, want exactly one rejection", got)
	}
}

package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/patentify/sfide/internal/models"
	"github.com/patentify/sfide/internal/realtime"
	"github.com/patentify/sfide/internal/sfida"
	"github.com/patentify/sfide/internal/sfida/events"
	"github.com/rs/zerolog/log"
)

// IncomingTimeout is the receiver's independent auto-reject countdown.
const IncomingTimeout = 30 * time.Second

// ErrNoPendingChallenge is returned by Respond when nothing is waiting.
var ErrNoPendingChallenge = errors.New("challenge: no pending incoming challenge")

// IncomingChallenge is the ephemeral state created when a request arrives on
// this user's private channel.
type IncomingChallenge struct {
	ChallengerID       string
	ChallengerName     string
	ChallengerImageURL string
	Tier               string
	ReceivedAt         time.Time
}

// Remaining computes the countdown from the receipt timestamp, so a dialog
// mounted T seconds late still shows max(0, 30-T) rather than restarting.
func (c IncomingChallenge) Remaining(now time.Time) time.Duration {
	left := IncomingTimeout - now.Sub(c.ReceivedAt)
	if left < 0 {
		return 0
	}
	return left
}

// SessionStarter creates the authoritative game session on acceptance.
// Quiz generation happens server-side, so acceptance is not instantaneous.
type SessionStarter interface {
	StartSession(ctx context.Context, p sfida.StartSessionParams) (*models.SfidaSession, error)
}

// GameStartWaiter arms the local waiting-for-game-start window once an
// acceptance went through.
type GameStartWaiter interface {
	BeginWaiting(ctx context.Context)
}

// Inbox runs the receiving side of the negotiation: it holds at most one
// IncomingChallenge, answers it on user action, and auto-rejects it exactly
// once when the countdown lapses.
type Inbox struct {
	conn    realtime.Conn
	clock   clockwork.Clock
	starter SessionStarter
	waiter  GameStartWaiter
	self    Identity

	mu      sync.Mutex
	current *IncomingChallenge
	gen     int

	updates chan *IncomingChallenge
}

// NewInbox wires the receiving side. waiter may be nil when no local
// game-start window is tracked (server-side use).
func NewInbox(conn realtime.Conn, clock clockwork.Clock, starter SessionStarter, waiter GameStartWaiter, self Identity) *Inbox {
	return &Inbox{
		conn:    conn,
		clock:   clock,
		starter: starter,
		waiter:  waiter,
		self:    self,
		updates: make(chan *IncomingChallenge, 1),
	}
}

// Current returns the pending incoming challenge, or nil.
func (in *Inbox) Current() *IncomingChallenge {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.current == nil {
		return nil
	}
	c := *in.current
	return &c
}

// Updates is a latest-wins stream: a non-nil value when a challenge arrives,
// nil when it resolves.
func (in *Inbox) Updates() <-chan *IncomingChallenge {
	return in.updates
}

// Run subscribes to challenge requests on the user's private channel until
// ctx is cancelled.
func (in *Inbox) Run(ctx context.Context) error {
	own := in.conn.Channel(realtime.UserChannel(in.self.UserID))
	stop, err := own.Subscribe(events.EventChallengeRequest, func(msg realtime.Message) {
		in.handleRequest(ctx, msg)
	})
	if err != nil {
		return err
	}
	defer stop()

	<-ctx.Done()

	// Pending challenge at teardown resolves as a rejection so the sender
	// is not left waiting for the full expiry.
	in.reject(in.genSnapshot(), "shutdown")
	return nil
}

func (in *Inbox) handleRequest(ctx context.Context, msg realtime.Message) {
	var req events.ChallengeRequestPayload
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		log.Warn().Err(err).Msg("malformed challenge request")
		return
	}

	in.mu.Lock()
	if in.current != nil {
		in.mu.Unlock()
		// Single-slot policy: a second request while one is pending is
		// answered with an immediate rejection so the sender sees "busy"
		// instead of waiting out its timer.
		in.sendResponse(req.ChallengerID, events.ChallengeResponsePayload{Accepted: false})
		log.Info().Str("challenger_id", req.ChallengerID).Msg("rejected concurrent challenge request")
		return
	}

	c := &IncomingChallenge{
		ChallengerID:       req.ChallengerID,
		ChallengerName:     req.ChallengerName,
		ChallengerImageURL: req.ChallengerImageURL,
		Tier:               req.Tier,
		ReceivedAt:         in.clock.Now(),
	}
	in.current = c
	in.gen++
	gen := in.gen
	in.mu.Unlock()

	in.notify(c)
	log.Info().
		Str("challenger_id", c.ChallengerID).
		Str("tier", c.Tier).
		Msg("incoming challenge")

	timer := in.clock.NewTimer(c.Remaining(in.clock.Now()))
	go func() {
		defer timer.Stop()
		select {
		case <-timer.Chan():
			in.reject(gen, "timeout")
		case <-ctx.Done():
		}
	}()
}

// Respond resolves the pending challenge by explicit user action. On accept
// it creates the server-side session first and confirms it in the response;
// on any failure the challenge resolves as rejected so the sender never
// hangs on a half-accepted handshake.
func (in *Inbox) Respond(ctx context.Context, accept bool) (*models.SfidaSession, error) {
	in.mu.Lock()
	c := in.current
	gen := in.gen
	in.mu.Unlock()
	if c == nil {
		return nil, ErrNoPendingChallenge
	}

	if !accept {
		in.reject(gen, "declined")
		return nil, nil
	}

	session, err := in.starter.StartSession(ctx, sfida.StartSessionParams{
		ChallengerID:   c.ChallengerID,
		ChallengerName: c.ChallengerName,
		TargetID:       in.self.UserID,
		TargetName:     in.self.Name,
		TierKey:        c.Tier,
	})
	if err != nil {
		in.reject(gen, "session start failed")
		return nil, err
	}

	if !in.clear(gen) {
		// The countdown beat us to it; the session exists server-side but
		// the handshake already resolved as rejected.
		return nil, ErrNoPendingChallenge
	}
	if in.waiter != nil {
		in.waiter.BeginWaiting(ctx)
	}
	in.sendResponse(c.ChallengerID, events.ChallengeResponsePayload{
		Accepted:  true,
		SessionID: session.ID,
	})
	log.Info().
		Str("challenger_id", c.ChallengerID).
		Str("session_id", session.ID.String()).
		Msg("challenge accepted")
	return session, nil
}

// reject resolves the challenge of the given generation exactly once,
// publishing a rejection. Re-renders arming extra timers cannot double-fire
// because the generation check clears only the first caller.
func (in *Inbox) reject(gen int, reason string) {
	in.mu.Lock()
	c := in.current
	if c == nil || in.gen != gen {
		in.mu.Unlock()
		return
	}
	in.current = nil
	in.mu.Unlock()

	in.sendResponse(c.ChallengerID, events.ChallengeResponsePayload{Accepted: false})
	in.notify(nil)
	log.Info().
		Str("challenger_id", c.ChallengerID).
		Str("reason", reason).
		Msg("challenge rejected")
}

// clear removes the pending challenge without publishing, returning false if
// it was already resolved.
func (in *Inbox) clear(gen int) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.current == nil || in.gen != gen {
		return false
	}
	in.current = nil
	in.notify(nil)
	return true
}

func (in *Inbox) genSnapshot() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.gen
}

func (in *Inbox) sendResponse(challengerID string, resp events.ChallengeResponsePayload) {
	data, _ := json.Marshal(resp)
	ch := in.conn.Channel(realtime.UserChannel(challengerID))
	if err := ch.Publish(context.Background(), events.EventChallengeResponse, data); err != nil {
		log.Warn().Err(err).Str("challenger_id", challengerID).Msg("challenge response publish failed")
	}
}

func (in *Inbox) notify(c *IncomingChallenge) {
	for {
		select {
		case in.updates <- c:
			return
		default:
			select {
			case <-in.updates:
			default:
			}
		}
	}
}

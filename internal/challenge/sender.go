package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/patentify/sfide/internal/models"
	"github.com/patentify/sfide/internal/realtime"
	"github.com/patentify/sfide/internal/sfida/events"
	"github.com/rs/zerolog/log"
)

// ResponseTimeout is how long the sender waits for an answer before the
// challenge expires locally.
const ResponseTimeout = 30 * time.Second

// ErrChallengeInFlight is returned by Send while a previous challenge has
// not reached a terminal phase and been dismissed.
var ErrChallengeInFlight = errors.New("challenge: another challenge is in flight")

// Identity is the sender's public profile carried in the request.
type Identity struct {
	UserID   string
	Name     string
	ImageURL string
}

// Sender runs the outgoing side of the negotiation handshake over the two
// private channels: the request goes out on the target's channel, the
// response comes back on the sender's own.
type Sender struct {
	conn  realtime.Conn
	clock clockwork.Clock
	self  Identity

	mu      sync.Mutex
	phase   Phase
	gen     int
	done    chan struct{}
	updates chan Phase
}

func NewSender(conn realtime.Conn, clock clockwork.Clock, self Identity) *Sender {
	return &Sender{
		conn:    conn,
		clock:   clock,
		self:    self,
		phase:   Idle{},
		updates: make(chan Phase, 1),
	}
}

// Phase returns the current phase.
func (s *Sender) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Updates is a latest-wins stream of phase transitions.
func (s *Sender) Updates() <-chan Phase {
	return s.updates
}

// Send publishes a challenge request to targetID and waits asynchronously
// for the response or the 30-second expiry. Transport failures never return
// an error here; they surface as the Failed phase with a retry affordance.
func (s *Sender) Send(ctx context.Context, targetID string, tier models.SfidaTier) error {
	s.mu.Lock()
	if _, idle := s.phase.(Idle); !idle {
		// Terminal phases included: Dismiss is the only reset path, so the
		// user acknowledges the outcome before challenging again.
		s.mu.Unlock()
		return ErrChallengeInFlight
	}
	s.gen++
	gen := s.gen
	s.done = make(chan struct{})
	done := s.done
	s.phase = Sending{TargetID: targetID, Tier: tier}
	s.mu.Unlock()
	s.notify(Sending{TargetID: targetID, Tier: tier})

	// Subscribe for the response before publishing the request so a fast
	// answer cannot slip past us.
	own := s.conn.Channel(realtime.UserChannel(s.self.UserID))
	stop, err := own.Subscribe(events.EventChallengeResponse, func(msg realtime.Message) {
		var resp events.ChallengeResponsePayload
		if err := json.Unmarshal(msg.Data, &resp); err != nil {
			log.Warn().Err(err).Msg("malformed challenge response")
			return
		}
		if resp.Accepted {
			s.resolve(gen, Accepted{SessionID: resp.SessionID})
		} else {
			s.resolve(gen, Rejected{})
		}
	})
	if err != nil {
		s.resolve(gen, Failed{Err: fmt.Errorf("subscribe for response: %w", err)})
		return nil
	}

	payload, _ := json.Marshal(events.ChallengeRequestPayload{
		ChallengerID:       s.self.UserID,
		ChallengerName:     s.self.Name,
		ChallengerImageURL: s.self.ImageURL,
		Tier:               tier.Key,
	})
	target := s.conn.Channel(realtime.UserChannel(targetID))
	if err := target.Publish(ctx, events.EventChallengeRequest, payload); err != nil {
		stop()
		s.resolve(gen, Failed{Err: err})
		return nil
	}

	s.transition(gen, WaitingResponse{TargetID: targetID, Tier: tier})

	timer := s.clock.NewTimer(ResponseTimeout)
	go func() {
		defer stop()
		defer timer.Stop()
		select {
		case <-timer.Chan():
			// The recipient runs its own independent timeout, so no
			// cancellation message is needed.
			s.resolve(gen, Expired{})
		case <-done:
		case <-ctx.Done():
			s.resolve(gen, Failed{Err: ctx.Err()})
		}
	}()

	log.Info().
		Str("target_id", targetID).
		Str("tier", tier.Key).
		Msg("challenge sent")
	return nil
}

// Dismiss acknowledges a terminal phase and returns the sender to Idle.
// This is the only way out of a terminal phase (explicit OK/Annulla).
func (s *Sender) Dismiss() {
	s.mu.Lock()
	if !Terminal(s.phase) {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.phase = Idle{}
	s.mu.Unlock()
	s.notify(Idle{})
}

// transition moves to p if the challenge generation still matches and the
// current phase is not terminal. Resolving to a terminal phase releases the
// waiter exactly once.
func (s *Sender) transition(gen int, p Phase) bool {
	s.mu.Lock()
	if s.gen != gen || Terminal(s.phase) {
		s.mu.Unlock()
		return false
	}
	s.phase = p
	if Terminal(p) && s.done != nil {
		close(s.done)
		s.done = nil
	}
	s.mu.Unlock()
	s.notify(p)
	return true
}

func (s *Sender) resolve(gen int, p Phase) {
	if s.transition(gen, p) {
		log.Debug().Str("phase", fmt.Sprintf("%T", p)).Msg("challenge resolved")
	}
}

func (s *Sender) notify(p Phase) {
	for {
		select {
		case s.updates <- p:
			return
		default:
			select {
			case <-s.updates:
			default:
			}
		}
	}
}

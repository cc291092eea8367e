package challenge

import (
	"github.com/google/uuid"
	"github.com/patentify/sfide/internal/models"
)

// Phase is the sender-side lifecycle of one outgoing challenge, expressed as
// a closed set of variants so every phase has explicit handling and a new
// phase cannot go silently unhandled.
type Phase interface {
	phase()
}

// Idle: no challenge in flight; the user may still be picking a tier.
type Idle struct{}

// Sending: the request publish is in flight.
type Sending struct {
	TargetID string
	Tier     models.SfidaTier
}

// WaitingResponse: the request was delivered; a local countdown runs until
// ExpiresAt.
type WaitingResponse struct {
	TargetID string
	Tier     models.SfidaTier
}

// Accepted: the target accepted; SessionID is the server-confirmed session.
type Accepted struct {
	SessionID uuid.UUID
}

// Rejected: the target declined.
type Rejected struct{}

// Expired: no response arrived within the countdown. No message is sent;
// the recipient applies its own independent timeout.
type Expired struct{}

// Failed: the request publish failed. Re-opening the dialog retries.
type Failed struct {
	Err error
}

func (Idle) phase()            {}
func (Sending) phase()         {}
func (WaitingResponse) phase() {}
func (Accepted) phase()        {}
func (Rejected) phase()        {}
func (Expired) phase()         {}
func (Failed) phase()          {}

// Locked reports whether the challenge dialog must refuse escape-key and
// outside-click dismissal, so the user cannot lose track of a challenge in
// flight.
func Locked(p Phase) bool {
	switch p.(type) {
	case Sending, WaitingResponse, Accepted:
		return true
	case Idle, Rejected, Expired, Failed:
		return false
	}
	return false
}

// Terminal reports whether the phase ends the negotiation. Terminal phases
// are dismissed only by explicit user action.
func Terminal(p Phase) bool {
	switch p.(type) {
	case Accepted, Rejected, Expired, Failed:
		return true
	}
	return false
}

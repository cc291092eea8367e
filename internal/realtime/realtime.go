package realtime

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ConnState reflects the state of a realtime connection.
type ConnState string

const (
	StateConnected    ConnState = "connected"
	StateDisconnected ConnState = "disconnected"
	StateClosed       ConnState = "closed"
)

// Message is a single message delivered on a channel.
type Message struct {
	Event    string    `json:"event"`
	ClientID string    `json:"client_id"`
	Data     []byte    `json:"data"`
	SentAt   time.Time `json:"sent_at"`
}

// PresenceAction is the kind of presence transition a member made.
type PresenceAction string

const (
	PresenceEnter PresenceAction = "enter"
	PresenceLeave PresenceAction = "leave"
)

// PresenceEvent is emitted when a member enters or leaves a channel.
type PresenceEvent struct {
	Action   PresenceAction `json:"action"`
	ClientID string         `json:"client_id"`
	At       time.Time      `json:"at"`
}

// Member is a client currently present on a channel.
type Member struct {
	ClientID string `json:"client_id"`
}

// Channel is a named pub/sub channel with presence. Implementations must be
// safe for use from multiple goroutines.
type Channel interface {
	Name() string

	Publish(ctx context.Context, event string, data []byte) error
	// Subscribe registers fn for messages with the given event name and
	// returns a stop function. Stop is idempotent.
	Subscribe(event string, fn func(Message)) (stop func(), err error)

	EnterPresence(ctx context.Context) error
	LeavePresence(ctx context.Context) error
	// GetPresence returns the authoritative current member set.
	GetPresence(ctx context.Context) ([]Member, error)
	SubscribePresence(fn func(PresenceEvent)) (stop func(), err error)
}

// Conn is a single realtime connection multiplexing many channels.
// The whole process shares one Conn; only the sign-out path may close it.
type Conn interface {
	ClientID() string
	Channel(name string) Channel
	State() ConnState
	Close() error
}

// Channel naming contract shared with every client of the messaging layer.
const LobbyChannel = "lobby"

// UserChannel is the private channel of a single user, used for
// challenge-request/response and game-start delivery.
func UserChannel(userID string) string {
	return "user." + userID
}

// SessionChannel carries player-finished and progress events for one duel.
func SessionChannel(sessionID uuid.UUID) string {
	return "sfida." + sessionID.String()
}

package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrEventNotFound is returned when an outbox event is missing or already
// sent.
var ErrEventNotFound = errors.New("outbox: event not found or already sent")

// Event types queued by the session orchestrator.
const (
	EventTypeGameStarted = "GameStarted"
)

// Event is one queued domain event awaiting publication.
type Event struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	EventType string
	Payload   []byte
	CreatedAt time.Time
}

// Store is what the relay needs from the outbox table.
type Store interface {
	FetchUnsentOutbox(ctx context.Context, limit int32) ([]Event, error)
	FetchOutboxByID(ctx context.Context, id uuid.UUID) (*Event, error)
	MarkOutboxSent(ctx context.Context, id uuid.UUID) error
}

// Publisher delivers one event to the realtime layer.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

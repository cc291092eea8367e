package gateway

import (
	"encoding/json"
	"time"

	"github.com/patentify/sfide/internal/realtime"
)

// Client frame actions. The websocket protocol is a thin bridge onto the
// realtime channel contract.
const (
	ActionSubscribe     = "subscribe"
	ActionUnsubscribe   = "unsubscribe"
	ActionPublish       = "publish"
	ActionPresenceEnter = "presence_enter"
	ActionPresenceLeave = "presence_leave"
	ActionPresenceGet   = "presence_get"
)

// Server frame types.
const (
	FrameMessage  = "message"
	FramePresence = "presence"
	FrameMembers  = "members"
	FrameError    = "error"
)

type clientFrame struct {
	Action  string          `json:"action"`
	Channel string          `json:"channel"`
	Event   string          `json:"event,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type serverFrame struct {
	Type     string            `json:"type"`
	Channel  string            `json:"channel,omitempty"`
	Event    string            `json:"event,omitempty"`
	ClientID string            `json:"client_id,omitempty"`
	Data     json.RawMessage   `json:"data,omitempty"`
	Members  []realtime.Member `json:"members,omitempty"`
	Action   string            `json:"action,omitempty"`
	At       time.Time         `json:"at,omitempty"`
	Message  string            `json:"message,omitempty"`
}

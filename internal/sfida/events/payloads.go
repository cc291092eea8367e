package events

import (
	"time"

	"github.com/google/uuid"
)

// Realtime event names exchanged over the channel contract. Private user
// channels carry the negotiation and game-start events; session channels
// carry progress and player-finished.
const (
	EventChallengeRequest  = "challenge-request"
	EventChallengeResponse = "challenge-response"
	EventGameStart         = "game-start"
	EventProgress          = "progress"
	EventPlayerFinished    = "player-finished"
)

// ChallengeRequestPayload is sent to the target's private channel.
type ChallengeRequestPayload struct {
	ChallengerID       string `json:"challenger_id"`
	ChallengerName     string `json:"challenger_name"`
	ChallengerImageURL string `json:"challenger_image_url,omitempty"`
	Tier               string `json:"tier"`
}

// ChallengeResponsePayload is sent back on the challenger's private channel.
// SessionID is set only on acceptance, confirming the server-created session.
type ChallengeResponsePayload struct {
	Accepted  bool      `json:"accepted"`
	SessionID uuid.UUID `json:"session_id,omitempty"`
}

// GameStartPayload notifies both participants that the duel exists
// server-side. GameStartedAt is the shared clock anchor both duel timers
// derive their countdown from.
type GameStartPayload struct {
	SessionID       uuid.UUID `json:"session_id"`
	QuizAID         uuid.UUID `json:"quiz_a_id"`
	QuizBID         uuid.UUID `json:"quiz_b_id"`
	GameStartedAt   time.Time `json:"game_started_at"`
	PlayerAID       string    `json:"player_a_id"`
	PlayerBID       string    `json:"player_b_id"`
	PlayerAName     string    `json:"player_a_name,omitempty"`
	PlayerBName     string    `json:"player_b_name,omitempty"`
	Tier            string    `json:"tier"`
	QuestionCount   int       `json:"question_count"`
	DurationSeconds int       `json:"duration_seconds"`
}

// ProgressPayload carries the sender's current question index. Best-effort;
// a lost tick only degrades the opponent's progress display.
type ProgressPayload struct {
	Position int `json:"position"`
}

// PlayerFinishedPayload is a bare signal. The authoritative result is always
// fetched from the server, never carried on the wire.
type PlayerFinishedPayload struct{}

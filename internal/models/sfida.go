package models

import (
	"time"

	"github.com/google/uuid"
)

// SfidaStatus defines the lifecycle of a duel session.
type SfidaStatus string

const (
	SfidaStatusInProgress SfidaStatus = "IN_PROGRESS"
	SfidaStatusCompleted  SfidaStatus = "COMPLETED"
	SfidaStatusAbandoned  SfidaStatus = "ABANDONED"
)

// SfidaTier is a static challenge format. Loaded from configuration,
// never mutated at runtime.
type SfidaTier struct {
	Key             string `json:"key" yaml:"key"`
	Label           string `json:"label" yaml:"label"`
	QuestionCount   int    `json:"question_count" yaml:"question_count"`
	DurationSeconds int    `json:"duration_seconds" yaml:"duration_seconds"`
}

func (t SfidaTier) Duration() time.Duration {
	return time.Duration(t.DurationSeconds) * time.Second
}

// SfidaSession is the authoritative server-side session row linking both
// players, both quiz instances and the shared clock anchor.
type SfidaSession struct {
	ID              uuid.UUID   `json:"id"`
	PlayerAID       string      `json:"player_a_id"`
	PlayerBID       string      `json:"player_b_id"`
	QuizAID         uuid.UUID   `json:"quiz_a_id"`
	QuizBID         uuid.UUID   `json:"quiz_b_id"`
	TierKey         string      `json:"tier_key"`
	QuestionCount   int         `json:"question_count"`
	DurationSeconds int         `json:"duration_seconds"`
	Status          SfidaStatus `json:"status"`
	GameStartedAt   time.Time   `json:"game_started_at"`
	CreatedAt       time.Time   `json:"created_at"`
}

// QuizID returns the quiz belonging to userID, or false when the user is
// not a participant of this session.
func (s *SfidaSession) QuizID(userID string) (uuid.UUID, bool) {
	switch userID {
	case s.PlayerAID:
		return s.QuizAID, true
	case s.PlayerBID:
		return s.QuizBID, true
	}
	return uuid.Nil, false
}

// Opponent returns the other participant's id.
func (s *SfidaSession) Opponent(userID string) (string, bool) {
	switch userID {
	case s.PlayerAID:
		return s.PlayerBID, true
	case s.PlayerBID:
		return s.PlayerAID, true
	}
	return "", false
}

// PlayerResult is one player's authoritative outcome within a session.
type PlayerResult struct {
	UserID       string     `json:"user_id"`
	CorrectCount int        `json:"correct_count"`
	WrongCount   int        `json:"wrong_count"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

func (r PlayerResult) Finished() bool { return r.FinishedAt != nil }

// SessionResult is the server-computed comparison of both players. Clients
// never derive win/loss locally.
type SessionResult struct {
	SessionID    uuid.UUID    `json:"session_id"`
	BothFinished bool         `json:"both_finished"`
	PlayerA      PlayerResult `json:"player_a"`
	PlayerB      PlayerResult `json:"player_b"`
	WinnerID     string       `json:"winner_id,omitempty"`
	Draw         bool         `json:"draw"`
}

// ActiveSfidaSession is the per-player local view of a running duel.
// OpponentPos and OpponentFinished are fed by inbound realtime messages.
type ActiveSfidaSession struct {
	SessionID        uuid.UUID `json:"session_id"`
	QuizID           uuid.UUID `json:"quiz_id"`
	OpponentID       string    `json:"opponent_id"`
	OpponentName     string    `json:"opponent_name"`
	TierKey          string    `json:"tier_key"`
	QuestionCount    int       `json:"question_count"`
	DurationSeconds  int       `json:"duration_seconds"`
	GameStartedAt    time.Time `json:"game_started_at"`
	OpponentPos      int       `json:"opponent_pos"`
	OpponentFinished bool      `json:"opponent_finished"`
}

// PendingSfidaCompletion tracks a finished player still waiting for the
// opponent's result.
type PendingSfidaCompletion struct {
	SessionID    uuid.UUID `json:"session_id"`
	OpponentName string    `json:"opponent_name"`
}

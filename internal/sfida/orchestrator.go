package sfida

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/patentify/sfide/internal/models"
	"github.com/patentify/sfide/internal/outbox"
	"github.com/patentify/sfide/internal/quiz"
	"github.com/patentify/sfide/internal/sfida/events"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnknownTier   = errors.New("sfida: unknown tier")
	ErrSamePlayer    = errors.New("sfida: challenger and target are the same user")
	ErrPlayerBusy    = errors.New("sfida: player already has a session in progress")
	ErrEmptyPlayerID = errors.New("sfida: empty player id")
)

// SessionRepository is what the orchestrator needs from persistence.
type SessionRepository interface {
	CreateSessionWithQuizzes(ctx context.Context, session *models.SfidaSession, quizA, quizB models.Quiz, eventType string, payload []byte) error
	GetSession(ctx context.Context, id uuid.UUID) (*models.SfidaSession, error)
	HasActiveSession(ctx context.Context, userID string) (bool, error)
	RecordPlayerResult(ctx context.Context, sessionID uuid.UUID, userID string, correct, wrong int, finishedAt time.Time) error
	GetResult(ctx context.Context, sessionID uuid.UUID) (*models.SessionResult, error)
}

// QuizStore resolves generated quiz instances for grading.
type QuizStore interface {
	GetQuiz(ctx context.Context, id uuid.UUID) (*models.Quiz, error)
}

// Orchestrator is the server side of the duel: it turns an accepted
// challenge into an authoritative session and computes results.
type Orchestrator struct {
	repo    SessionRepository
	quizzes *quiz.Service
	store   QuizStore
	tiers   *quiz.TierSet
	clock   clockwork.Clock
}

func NewOrchestrator(repo SessionRepository, quizzes *quiz.Service, store QuizStore, tiers *quiz.TierSet, clock clockwork.Clock) *Orchestrator {
	return &Orchestrator{
		repo:    repo,
		quizzes: quizzes,
		store:   store,
		tiers:   tiers,
		clock:   clock,
	}
}

// StartSessionParams identifies both participants of an accepted challenge.
// The display names ride along into the game-start payload so each client
// can label its opponent without another profile lookup.
type StartSessionParams struct {
	ChallengerID   string
	ChallengerName string
	TargetID       string
	TargetName     string
	TierKey        string
}

// StartSession creates the session for an accepted challenge: one quiz per
// player, one session row, one game-start outbox event, atomically. The
// single GameStartedAt timestamp in the payload is the clock anchor both
// duel timers count down from.
//
// A player already in a running session is refused: concurrent challenges
// to a busy player resolve as an immediate rejection instead of stacking
// sessions.
func (o *Orchestrator) StartSession(ctx context.Context, p StartSessionParams) (*models.SfidaSession, error) {
	challengerID, targetID := p.ChallengerID, p.TargetID
	if challengerID == "" || targetID == "" {
		return nil, ErrEmptyPlayerID
	}
	if challengerID == targetID {
		return nil, ErrSamePlayer
	}
	tier, ok := o.tiers.Get(p.TierKey)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTier, p.TierKey)
	}

	for _, id := range []string{challengerID, targetID} {
		busy, err := o.repo.HasActiveSession(ctx, id)
		if err != nil {
			return nil, err
		}
		if busy {
			return nil, fmt.Errorf("%w: %s", ErrPlayerBusy, id)
		}
	}

	quizA, quizB, err := o.quizzes.GeneratePair(ctx, tier, challengerID, targetID)
	if err != nil {
		return nil, err
	}

	now := o.clock.Now().UTC()
	session := &models.SfidaSession{
		ID:              uuid.New(),
		PlayerAID:       challengerID,
		PlayerBID:       targetID,
		QuizAID:         quizA.ID,
		QuizBID:         quizB.ID,
		TierKey:         tier.Key,
		QuestionCount:   tier.QuestionCount,
		DurationSeconds: tier.DurationSeconds,
		Status:          models.SfidaStatusInProgress,
		GameStartedAt:   now,
		CreatedAt:       now,
	}

	payload, err := json.Marshal(events.GameStartPayload{
		SessionID:       session.ID,
		QuizAID:         session.QuizAID,
		QuizBID:         session.QuizBID,
		GameStartedAt:   session.GameStartedAt,
		PlayerAID:       session.PlayerAID,
		PlayerBID:       session.PlayerBID,
		PlayerAName:     p.ChallengerName,
		PlayerBName:     p.TargetName,
		Tier:            session.TierKey,
		QuestionCount:   session.QuestionCount,
		DurationSeconds: session.DurationSeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal game-start payload: %w", err)
	}

	if err := o.repo.CreateSessionWithQuizzes(ctx, session, quizA, quizB, outbox.EventTypeGameStarted, payload); err != nil {
		return nil, err
	}

	log.Info().
		Str("session_id", session.ID.String()).
		Str("challenger_id", challengerID).
		Str("target_id", targetID).
		Str("tier", tier.Key).
		Msg("sfida session created")
	return session, nil
}

// CompletePlayer grades one player's quiz and records the authoritative
// result. Responses map question id to the given answer; unanswered
// questions grade as forced wrong, which is also how timer expiry and
// abandonment are persisted.
func (o *Orchestrator) CompletePlayer(ctx context.Context, sessionID uuid.UUID, userID string, responses map[int64]bool) (*models.PlayerResult, error) {
	session, err := o.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	quizID, ok := session.QuizID(userID)
	if !ok {
		return nil, ErrNotParticipant
	}

	playerQuiz, err := o.store.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}

	answers, correct, err := o.quizzes.Grade(ctx, *playerQuiz, responses)
	if err != nil {
		return nil, err
	}
	wrong := len(answers) - correct

	finishedAt := o.clock.Now().UTC()
	if err := o.repo.RecordPlayerResult(ctx, sessionID, userID, correct, wrong, finishedAt); err != nil {
		return nil, err
	}

	log.Info().
		Str("session_id", sessionID.String()).
		Str("user_id", userID).
		Int("correct", correct).
		Int("wrong", wrong).
		Msg("player result recorded")
	return &models.PlayerResult{
		UserID:       userID,
		CorrectCount: correct,
		WrongCount:   wrong,
		FinishedAt:   &finishedAt,
	}, nil
}

// GetResult returns the server-computed comparison for a session. Results
// are visible to the two participants only.
func (o *Orchestrator) GetResult(ctx context.Context, sessionID uuid.UUID, userID string) (*models.SessionResult, error) {
	session, err := o.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, ok := session.QuizID(userID); !ok {
		return nil, ErrNotParticipant
	}
	return o.repo.GetResult(ctx, sessionID)
}

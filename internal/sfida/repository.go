package sfida

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/patentify/sfide/internal/models"
	"github.com/patentify/sfide/internal/outbox"
)

var (
	ErrSessionNotFound = errors.New("sfida: session not found")
	ErrNotParticipant  = errors.New("sfida: user is not a participant of this session")
)

// NotifyChannel is the Postgres NOTIFY channel the outbox relay listens on.
const NotifyChannel = "sfida_outbox_events"

// Repository persists duel sessions, their quizzes and the outbox events
// announcing them, all over one pgx pool.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateSessionWithQuizzes writes both quiz instances, the session row and
// the game-start outbox event in a single transaction, so a session either
// fully exists with its announcement queued or not at all.
func (r *Repository) CreateSessionWithQuizzes(ctx context.Context, session *models.SfidaSession, quizA, quizB models.Quiz, eventType string, payload []byte) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const insertQuiz = `
		INSERT INTO quizzes (id, user_id, question_ids, created_at)
		VALUES ($1, $2, $3, $4)
	`
	for _, quiz := range []models.Quiz{quizA, quizB} {
		if _, err := tx.Exec(ctx, insertQuiz, quiz.ID, quiz.UserID, quiz.QuestionIDs, quiz.CreatedAt); err != nil {
			return fmt.Errorf("insert quiz: %w", err)
		}
	}

	const insertSession = `
		INSERT INTO sfida_sessions
			(id, player_a_id, player_b_id, quiz_a_id, quiz_b_id, tier_key,
			 question_count, duration_seconds, status, game_started_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	if _, err := tx.Exec(ctx, insertSession,
		session.ID, session.PlayerAID, session.PlayerBID,
		session.QuizAID, session.QuizBID, session.TierKey,
		session.QuestionCount, session.DurationSeconds,
		session.Status, session.GameStartedAt, session.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	const insertOutbox = `
		INSERT INTO sfida_outbox (id, session_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, now())
	`
	eventID := uuid.New()
	if _, err := tx.Exec(ctx, insertOutbox, eventID, session.ID, eventType, payload); err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, eventID.String()); err != nil {
		return fmt.Errorf("notify outbox: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *Repository) GetSession(ctx context.Context, id uuid.UUID) (*models.SfidaSession, error) {
	const q = `
		SELECT id, player_a_id, player_b_id, quiz_a_id, quiz_b_id, tier_key,
		       question_count, duration_seconds, status, game_started_at, created_at
		FROM sfida_sessions
		WHERE id = $1
	`
	var s models.SfidaSession
	err := r.pool.QueryRow(ctx, q, id).Scan(
		&s.ID, &s.PlayerAID, &s.PlayerBID, &s.QuizAID, &s.QuizBID, &s.TierKey,
		&s.QuestionCount, &s.DurationSeconds, &s.Status, &s.GameStartedAt, &s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &s, nil
}

// HasActiveSession reports whether userID participates in any session still
// in progress. Used to refuse new challenges mid-duel.
func (r *Repository) HasActiveSession(ctx context.Context, userID string) (bool, error) {
	const q = `
		SELECT EXISTS (
			SELECT 1 FROM sfida_sessions
			WHERE status = $1 AND (player_a_id = $2 OR player_b_id = $2)
		)
	`
	var active bool
	if err := r.pool.QueryRow(ctx, q, models.SfidaStatusInProgress, userID).Scan(&active); err != nil {
		return false, fmt.Errorf("check active session: %w", err)
	}
	return active, nil
}

// RecordPlayerResult stores one player's authoritative counts and marks the
// session completed once both sides are in. Re-recording a finished player
// is a no-op so duplicate completion calls stay idempotent.
func (r *Repository) RecordPlayerResult(ctx context.Context, sessionID uuid.UUID, userID string, correct, wrong int, finishedAt time.Time) error {
	const q = `
		UPDATE sfida_sessions SET
			a_correct     = CASE WHEN player_a_id = $2 AND a_finished_at IS NULL THEN $3 ELSE a_correct END,
			a_wrong       = CASE WHEN player_a_id = $2 AND a_finished_at IS NULL THEN $4 ELSE a_wrong END,
			a_finished_at = CASE WHEN player_a_id = $2 AND a_finished_at IS NULL THEN $5 ELSE a_finished_at END,
			b_correct     = CASE WHEN player_b_id = $2 AND b_finished_at IS NULL THEN $3 ELSE b_correct END,
			b_wrong       = CASE WHEN player_b_id = $2 AND b_finished_at IS NULL THEN $4 ELSE b_wrong END,
			b_finished_at = CASE WHEN player_b_id = $2 AND b_finished_at IS NULL THEN $5 ELSE b_finished_at END
		WHERE id = $1 AND (player_a_id = $2 OR player_b_id = $2)
	`
	tag, err := r.pool.Exec(ctx, q, sessionID, userID, correct, wrong, finishedAt)
	if err != nil {
		return fmt.Errorf("record player result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotParticipant
	}

	const complete = `
		UPDATE sfida_sessions SET status = $2
		WHERE id = $1 AND a_finished_at IS NOT NULL AND b_finished_at IS NOT NULL
	`
	if _, err := r.pool.Exec(ctx, complete, sessionID, models.SfidaStatusCompleted); err != nil {
		return fmt.Errorf("mark session completed: %w", err)
	}
	return nil
}

// GetResult reads both players' recorded outcomes.
func (r *Repository) GetResult(ctx context.Context, sessionID uuid.UUID) (*models.SessionResult, error) {
	const q = `
		SELECT player_a_id, player_b_id,
		       COALESCE(a_correct, 0), COALESCE(a_wrong, 0), a_finished_at,
		       COALESCE(b_correct, 0), COALESCE(b_wrong, 0), b_finished_at
		FROM sfida_sessions
		WHERE id = $1
	`
	var (
		res       models.SessionResult
		aFinished pgtype.Timestamptz
		bFinished pgtype.Timestamptz
	)
	res.SessionID = sessionID
	err := r.pool.QueryRow(ctx, q, sessionID).Scan(
		&res.PlayerA.UserID, &res.PlayerB.UserID,
		&res.PlayerA.CorrectCount, &res.PlayerA.WrongCount, &aFinished,
		&res.PlayerB.CorrectCount, &res.PlayerB.WrongCount, &bFinished,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session result: %w", err)
	}
	if aFinished.Valid {
		t := aFinished.Time
		res.PlayerA.FinishedAt = &t
	}
	if bFinished.Valid {
		t := bFinished.Time
		res.PlayerB.FinishedAt = &t
	}
	finalize(&res)
	return &res, nil
}

// finalize derives the both-finished flag and the winner. Determination is
// always server-side so both clients agree on the outcome.
func finalize(res *models.SessionResult) {
	res.BothFinished = res.PlayerA.Finished() && res.PlayerB.Finished()
	if !res.BothFinished {
		return
	}
	switch {
	case res.PlayerA.CorrectCount > res.PlayerB.CorrectCount:
		res.WinnerID = res.PlayerA.UserID
	case res.PlayerB.CorrectCount > res.PlayerA.CorrectCount:
		res.WinnerID = res.PlayerB.UserID
	default:
		res.Draw = true
	}
}

// FetchUnsentOutbox returns queued outbox events, oldest first. Delivery is
// at-least-once; a concurrent relay may double-publish and clients dedup.
func (r *Repository) FetchUnsentOutbox(ctx context.Context, limit int32) ([]outbox.Event, error) {
	const q = `
		SELECT id, session_id, event_type, payload, created_at
		FROM sfida_outbox
		WHERE sent_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch unsent outbox events: %w", err)
	}
	defer rows.Close()

	var events []outbox.Event
	for rows.Next() {
		var ev outbox.Event
		var payload json.RawMessage
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.EventType, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		ev.Payload = []byte(payload)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read outbox events: %w", err)
	}
	return events, nil
}

// FetchOutboxByID returns one unsent outbox event.
func (r *Repository) FetchOutboxByID(ctx context.Context, id uuid.UUID) (*outbox.Event, error) {
	const q = `
		SELECT id, session_id, event_type, payload, created_at
		FROM sfida_outbox
		WHERE id = $1 AND sent_at IS NULL
	`
	var ev outbox.Event
	var payload json.RawMessage
	err := r.pool.QueryRow(ctx, q, id).Scan(&ev.ID, &ev.SessionID, &ev.EventType, &payload, &ev.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, outbox.ErrEventNotFound
		}
		return nil, fmt.Errorf("fetch outbox event: %w", err)
	}
	ev.Payload = []byte(payload)
	return &ev, nil
}

// MarkOutboxSent stamps an event as published.
func (r *Repository) MarkOutboxSent(ctx context.Context, id uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `UPDATE sfida_outbox SET sent_at = now() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("mark outbox event sent: %w", err)
	}
	return nil
}

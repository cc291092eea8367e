package quiz

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/patentify/sfide/internal/models"
)

// Repository reads the ministerial question bank and generated quizzes.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) RandomQuestions(ctx context.Context, n int) ([]models.Question, error) {
	const q = `
		SELECT id, text, image_url, correct
		FROM questions
		ORDER BY random()
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("draw random questions: %w", err)
	}
	defer rows.Close()
	return scanQuestions(rows)
}

func (r *Repository) QuestionsByID(ctx context.Context, ids []int64) ([]models.Question, error) {
	const q = `
		SELECT id, text, image_url, correct
		FROM questions
		WHERE id = ANY($1)
	`
	rows, err := r.pool.Query(ctx, q, ids)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()
	return scanQuestions(rows)
}

func (r *Repository) GetQuiz(ctx context.Context, id uuid.UUID) (*models.Quiz, error) {
	const q = `
		SELECT id, user_id, question_ids, created_at
		FROM quizzes
		WHERE id = $1
	`
	var quiz models.Quiz
	err := r.pool.QueryRow(ctx, q, id).Scan(&quiz.ID, &quiz.UserID, &quiz.QuestionIDs, &quiz.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQuizNotFound
		}
		return nil, fmt.Errorf("get quiz: %w", err)
	}
	return &quiz, nil
}

func scanQuestions(rows pgx.Rows) ([]models.Question, error) {
	var out []models.Question
	for rows.Next() {
		var q models.Question
		var imageURL pgtype.Text
		if err := rows.Scan(&q.ID, &q.Text, &imageURL, &q.Correct); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if imageURL.Valid {
			q.ImageURL = imageURL.String
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read questions: %w", err)
	}
	return out, nil
}

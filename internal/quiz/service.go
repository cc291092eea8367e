package quiz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patentify/sfide/internal/models"
)

var (
	ErrQuizNotFound       = errors.New("quiz: quiz not found")
	ErrNotEnoughQuestions = errors.New("quiz: question bank smaller than requested draw")
)

// QuestionSource is what the service needs from the question bank.
type QuestionSource interface {
	RandomQuestions(ctx context.Context, n int) ([]models.Question, error)
	QuestionsByID(ctx context.Context, ids []int64) ([]models.Question, error)
}

// Service generates quiz instances and grades submissions against the bank.
type Service struct {
	questions QuestionSource
}

func NewService(questions QuestionSource) *Service {
	return &Service{questions: questions}
}

// GeneratePair draws one independent quiz per player for the given tier.
// The quizzes are not persisted here; the session repository writes them in
// the same transaction as the session row.
func (s *Service) GeneratePair(ctx context.Context, tier models.SfidaTier, playerAID, playerBID string) (models.Quiz, models.Quiz, error) {
	quizA, err := s.generate(ctx, tier, playerAID)
	if err != nil {
		return models.Quiz{}, models.Quiz{}, fmt.Errorf("generate quiz for %s: %w", playerAID, err)
	}
	quizB, err := s.generate(ctx, tier, playerBID)
	if err != nil {
		return models.Quiz{}, models.Quiz{}, fmt.Errorf("generate quiz for %s: %w", playerBID, err)
	}
	return quizA, quizB, nil
}

func (s *Service) generate(ctx context.Context, tier models.SfidaTier, userID string) (models.Quiz, error) {
	questions, err := s.questions.RandomQuestions(ctx, tier.QuestionCount)
	if err != nil {
		return models.Quiz{}, err
	}
	if len(questions) < tier.QuestionCount {
		return models.Quiz{}, ErrNotEnoughQuestions
	}

	ids := make([]int64, len(questions))
	for i, q := range questions {
		ids[i] = q.ID
	}
	return models.Quiz{
		ID:          uuid.New(),
		UserID:      userID,
		QuestionIDs: ids,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Grade evaluates the submitted responses for a quiz. Questions absent from
// responses are recorded as forced wrong answers, matching the timer-expiry
// semantics of the single-player quiz.
func (s *Service) Grade(ctx context.Context, quiz models.Quiz, responses map[int64]bool) ([]models.QuizAnswer, int, error) {
	questions, err := s.questions.QuestionsByID(ctx, quiz.QuestionIDs)
	if err != nil {
		return nil, 0, fmt.Errorf("load quiz questions: %w", err)
	}
	byID := make(map[int64]models.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	answers := make([]models.QuizAnswer, 0, len(quiz.QuestionIDs))
	correct := 0
	for _, qid := range quiz.QuestionIDs {
		question, ok := byID[qid]
		if !ok {
			return nil, 0, fmt.Errorf("question %d missing from bank", qid)
		}
		given, answered := responses[qid]
		if !answered {
			// Forced submission: the wrong answer is recorded.
			answers = append(answers, models.QuizAnswer{
				QuestionID: qid,
				Answer:     !question.Correct,
				Correct:    false,
				Forced:     true,
			})
			continue
		}
		ok = given == question.Correct
		if ok {
			correct++
		}
		answers = append(answers, models.QuizAnswer{
			QuestionID: qid,
			Answer:     given,
			Correct:    ok,
		})
	}
	return answers, correct, nil
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// Question is a single true/false exam question from the ministerial bank.
type Question struct {
	ID       int64  `json:"id"`
	Text     string `json:"text"`
	ImageURL string `json:"image_url,omitempty"`
	Correct  bool   `json:"correct"`
}

// Quiz is one generated quiz instance: an ordered draw of questions
// assigned to a single player.
type Quiz struct {
	ID          uuid.UUID `json:"id"`
	UserID      string    `json:"user_id"`
	QuestionIDs []int64   `json:"question_ids"`
	CreatedAt   time.Time `json:"created_at"`
}

// QuizAnswer is one recorded response. Forced submissions (timer expiry,
// abandon) record the wrong answer for every unanswered question.
type QuizAnswer struct {
	QuestionID int64 `json:"question_id"`
	Answer     bool  `json:"answer"`
	Correct    bool  `json:"correct"`
	Forced     bool  `json:"forced,omitempty"`
}

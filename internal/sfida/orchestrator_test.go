package sfida

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/patentify/sfide/internal/models"
	"github.com/patentify/sfide/internal/quiz"
	"github.com/patentify/sfide/internal/realtime"
	"github.com/patentify/sfide/internal/sfida/events"
)

type stubRepo struct {
	t *testing.T

	createFunc    func(ctx context.Context, session *models.SfidaSession, quizA, quizB models.Quiz, eventType string, payload []byte) error
	getFunc       func(ctx context.Context, id uuid.UUID) (*models.SfidaSession, error)
	activeFunc    func(ctx context.Context, userID string) (bool, error)
	recordFunc    func(ctx context.Context, sessionID uuid.UUID, userID string, correct, wrong int, finishedAt time.Time) error
	getResultFunc func(ctx context.Context, sessionID uuid.UUID) (*models.SessionResult, error)
}

func (s *stubRepo) CreateSessionWithQuizzes(ctx context.Context, session *models.SfidaSession, quizA, quizB models.Quiz, eventType string, payload []byte) error {
	if s.createFunc != nil {
		return s.createFunc(ctx, session, quizA, quizB, eventType, payload)
	}
	s.t.Fatalf("CreateSessionWithQuizzes called unexpectedly")
	return errors.New("unexpected call")
}

func (s *stubRepo) GetSession(ctx context.Context, id uuid.UUID) (*models.SfidaSession, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, id)
	}
	s.t.Fatalf("GetSession called unexpectedly")
	return nil, errors.New("unexpected call")
}

func (s *stubRepo) HasActiveSession(ctx context.Context, userID string) (bool, error) {
	if s.activeFunc != nil {
		return s.activeFunc(ctx, userID)
	}
	return false, nil
}

func (s *stubRepo) RecordPlayerResult(ctx context.Context, sessionID uuid.UUID, userID string, correct, wrong int, finishedAt time.Time) error {
	if s.recordFunc != nil {
		return s.recordFunc(ctx, sessionID, userID, correct, wrong, finishedAt)
	}
	s.t.Fatalf("RecordPlayerResult called unexpectedly")
	return errors.New("unexpected call")
}

func (s *stubRepo) GetResult(ctx context.Context, sessionID uuid.UUID) (*models.SessionResult, error) {
	if s.getResultFunc != nil {
		return s.getResultFunc(ctx, sessionID)
	}
	s.t.Fatalf("GetResult called unexpectedly")
	return nil, errors.New("unexpected call")
}

type stubQuestions struct {
	bank []models.Question
}

func (s *stubQuestions) RandomQuestions(ctx context.Context, n int) ([]models.Question, error) {
	if n > len(s.bank) {
		n = len(s.bank)
	}
	out := make([]models.Question, n)
	copy(out, s.bank[:n])
	return out, nil
}

func (s *stubQuestions) QuestionsByID(ctx context.Context, ids []int64) ([]models.Question, error) {
	byID := make(map[int64]models.Question, len(s.bank))
	for _, q := range s.bank {
		byID[q.ID] = q
	}
	out := make([]models.Question, 0, len(ids))
	for _, id := range ids {
		if q, ok := byID[id]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}

type stubQuizStore struct {
	quizzes map[uuid.UUID]*models.Quiz
}

func (s *stubQuizStore) GetQuiz(ctx context.Context, id uuid.UUID) (*models.Quiz, error) {
	if q, ok := s.quizzes[id]; ok {
		return q, nil
	}
	return nil, quiz.ErrQuizNotFound
}

func questionBank(n int) []models.Question {
	bank := make([]models.Question, n)
	for i := range bank {
		bank[i] = models.Question{
			ID:      int64(i + 1),
			Text:    fmt.Sprintf("question %d", i+1),
			Correct: i%2 == 0,
		}
	}
	return bank
}

func newTestOrchestrator(t *testing.T, repo *stubRepo, store QuizStore, clock clockwork.Clock) *Orchestrator {
	t.Helper()
	svc := quiz.NewService(&stubQuestions{bank: questionBank(50)})
	if store == nil {
		store = &stubQuizStore{}
	}
	return NewOrchestrator(repo, svc, store, quiz.DefaultTiers(), clock)
}

func TestStartSessionSharedAnchor(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var created *models.SfidaSession
	var payload []byte
	repo := &stubRepo{
		t: t,
		createFunc: func(ctx context.Context, session *models.SfidaSession, quizA, quizB models.Quiz, eventType string, data []byte) error {
			if eventType != "GameStarted" {
				t.Fatalf("eventType = %q", eventType)
			}
			if quizA.UserID != "alice" || quizB.UserID != "bob" {
				t.Fatalf("quiz owners = %s/%s", quizA.UserID, quizB.UserID)
			}
			created = session
			payload = data
			return nil
		},
	}
	o := newTestOrchestrator(t, repo, nil, clock)

	session, err := o.StartSession(context.Background(), StartSessionParams{ChallengerID: "alice", ChallengerName: "Alice", TargetID: "bob", TargetName: "Bob", TierKey: "seed"})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if created == nil || session.ID != created.ID {
		t.Fatal("session not persisted")
	}
	if session.QuestionCount != 5 || session.DurationSeconds != 150 {
		t.Fatalf("tier params = %d/%d, want 5/150", session.QuestionCount, session.DurationSeconds)
	}

	var start events.GameStartPayload
	if err := json.Unmarshal(payload, &start); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	// Both players derive their countdown from this single timestamp.
	if !start.GameStartedAt.Equal(session.GameStartedAt) {
		t.Fatalf("payload anchor %v != session anchor %v", start.GameStartedAt, session.GameStartedAt)
	}
	if start.PlayerAID != "alice" || start.PlayerBID != "bob" {
		t.Fatalf("payload players = %s/%s", start.PlayerAID, start.PlayerBID)
	}
	if start.PlayerAName != "Alice" || start.PlayerBName != "Bob" {
		t.Fatalf("payload names = %q/%q, want Alice/Bob", start.PlayerAName, start.PlayerBName)
	}
	if start.QuizAID != session.QuizAID || start.QuizBID != session.QuizBID {
		t.Fatal("payload quiz ids do not match session")
	}
}

func TestStartSessionValidation(t *testing.T) {
	clock := clockwork.NewFakeClock()
	repo := &stubRepo{t: t}
	o := newTestOrchestrator(t, repo, nil, clock)

	if _, err := o.StartSession(context.Background(), StartSessionParams{TargetID: "bob", TierKey: "seed"}); !errors.Is(err, ErrEmptyPlayerID) {
		t.Fatalf("err = %v, want ErrEmptyPlayerID", err)
	}
	if _, err := o.StartSession(context.Background(), StartSessionParams{ChallengerID: "alice", TargetID: "alice", TierKey: "seed"}); !errors.Is(err, ErrSamePlayer) {
		t.Fatalf("err = %v, want ErrSamePlayer", err)
	}
	if _, err := o.StartSession(context.Background(), StartSessionParams{ChallengerID: "alice", TargetID: "bob", TierKey: "nope"}); !errors.Is(err, ErrUnknownTier) {
		t.Fatalf("err = %v, want ErrUnknownTier", err)
	}
}

func TestStartSessionRefusesBusyPlayer(t *testing.T) {
	clock := clockwork.NewFakeClock()
	repo := &stubRepo{
		t: t,
		activeFunc: func(ctx context.Context, userID string) (bool, error) {
			return userID == "bob", nil
		},
	}
	o := newTestOrchestrator(t, repo, nil, clock)

	if _, err := o.StartSession(context.Background(), StartSessionParams{ChallengerID: "alice", ChallengerName: "Alice", TargetID: "bob", TargetName: "Bob", TierKey: "seed"}); !errors.Is(err, ErrPlayerBusy) {
		t.Fatalf("err = %v, want ErrPlayerBusy", err)
	}
}

func TestCompletePlayerGradesAndRecords(t *testing.T) {
	clock := clockwork.NewFakeClock()
	bank := questionBank(50)
	sessionID := uuid.New()
	quizID := uuid.New()
	playerQuiz := &models.Quiz{
		ID:          quizID,
		UserID:      "alice",
		QuestionIDs: []int64{1, 2, 3, 4, 5},
	}

	var recordedCorrect, recordedWrong int
	repo := &stubRepo{
		t: t,
		getFunc: func(ctx context.Context, id uuid.UUID) (*models.SfidaSession, error) {
			return &models.SfidaSession{
				ID: sessionID, PlayerAID: "alice", PlayerBID: "bob",
				QuizAID: quizID, QuizBID: uuid.New(),
			}, nil
		},
		recordFunc: func(ctx context.Context, sid uuid.UUID, userID string, correct, wrong int, finishedAt time.Time) error {
			if sid != sessionID || userID != "alice" {
				t.Fatalf("RecordPlayerResult(%s, %s)", sid, userID)
			}
			recordedCorrect, recordedWrong = correct, wrong
			return nil
		},
	}
	store := &stubQuizStore{quizzes: map[uuid.UUID]*models.Quiz{quizID: playerQuiz}}
	o := NewOrchestrator(repo, quiz.NewService(&stubQuestions{bank: bank}), store, quiz.DefaultTiers(), clock)

	// Questions 1,3,5 are true; 2,4 false. Answer three right, one wrong,
	// leave one unanswered: the blank counts as wrong.
	responses := map[int64]bool{1: true, 2: false, 3: true, 4: true}
	result, err := o.CompletePlayer(context.Background(), sessionID, "alice", responses)
	if err != nil {
		t.Fatalf("CompletePlayer: %v", err)
	}
	if recordedCorrect != 3 || recordedWrong != 2 {
		t.Fatalf("recorded %d/%d, want 3 correct 2 wrong", recordedCorrect, recordedWrong)
	}
	if result.CorrectCount != 3 || result.WrongCount != 2 {
		t.Fatalf("result %d/%d, want 3/2", result.CorrectCount, result.WrongCount)
	}
}

func TestCompletePlayerRejectsNonParticipant(t *testing.T) {
	clock := clockwork.NewFakeClock()
	repo := &stubRepo{
		t: t,
		getFunc: func(ctx context.Context, id uuid.UUID) (*models.SfidaSession, error) {
			return &models.SfidaSession{ID: id, PlayerAID: "alice", PlayerBID: "bob"}, nil
		},
	}
	o := newTestOrchestrator(t, repo, nil, clock)

	if _, err := o.CompletePlayer(context.Background(), uuid.New(), "mallory", nil); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("err = %v, want ErrNotParticipant", err)
	}
}

// The payload persisted by StartSession is exactly what the relay later
// broadcasts, so feeding it through a client's game-start handler proves the
// display names survive the whole pipeline.
func TestStartSessionNamesReachClient(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var payload []byte
	repo := &stubRepo{
		t: t,
		createFunc: func(ctx context.Context, session *models.SfidaSession, quizA, quizB models.Quiz, eventType string, data []byte) error {
			payload = data
			return nil
		},
	}
	o := newTestOrchestrator(t, repo, nil, clock)

	if _, err := o.StartSession(context.Background(), StartSessionParams{ChallengerID: "alice", ChallengerName: "Alice", TargetID: "bob", TargetName: "Bob", TierKey: "seed"}); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	st := NewStarter(realtime.NewHub().Connect("bob"), clock)
	st.handleGameStart(realtime.Message{Event: events.EventGameStart, Data: payload})

	session := drainSession(t, st)
	if session.OpponentID != "alice" {
		t.Fatalf("OpponentID = %s, want alice", session.OpponentID)
	}
	if session.OpponentName != "Alice" {
		t.Fatalf("OpponentName = %q, want Alice", session.OpponentName)
	}
}

func TestGetResultParticipantsOnly(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sessionID := uuid.New()
	want := &models.SessionResult{SessionID: sessionID}
	repo := &stubRepo{
		t: t,
		getFunc: func(ctx context.Context, id uuid.UUID) (*models.SfidaSession, error) {
			return &models.SfidaSession{ID: id, PlayerAID: "alice", PlayerBID: "bob"}, nil
		},
		getResultFunc: func(ctx context.Context, id uuid.UUID) (*models.SessionResult, error) {
			return want, nil
		},
	}
	o := newTestOrchestrator(t, repo, nil, clock)

	if _, err := o.GetResult(context.Background(), sessionID, "mallory"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("err = %v, want ErrNotParticipant", err)
	}
	got, err := o.GetResult(context.Background(), sessionID, "bob")
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if got != want {
		t.Fatal("participant did not receive the stored result")
	}
}

package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"quiz-live-service/internal/domain"
)

// QuizStore persists authored quizzes.
type QuizStore interface {
	CreateQuiz(ctx context.Context, q domain.Quiz) error
	GetQuiz(ctx context.Context, id string) (domain.Quiz, error)
	ListQuizzes(ctx context.Context, ownerID string) ([]domain.Quiz, error)
	UpdateQuiz(ctx context.Context, q domain.Quiz) error
}

// QuizService covers the authoring use cases: owner-scoped create, read,
// list, and update. Quizzes are never hard-deleted.
type QuizService struct {
	quizzes QuizStore
	now     func() time.Time
}

func NewQuizService(quizzes QuizStore) *QuizService {
	return &QuizService{quizzes: quizzes, now: time.Now}
}

// ErrInvalidQuiz wraps question validation failures.
var ErrInvalidQuiz = errors.New("invalid quiz")

func validateQuestions(questions []domain.Question) error {
	if len(questions) == 0 {
		return fmt.Errorf("%w: at least one question required", ErrInvalidQuiz)
	}
	for i, q := range questions {
		if len(q.Options) < 2 {
			return fmt.Errorf("%w: question %d needs at least two options", ErrInvalidQuiz, i)
		}
		if q.CorrectAnswer < 0 || q.CorrectAnswer >= len(q.Options) {
			return fmt.Errorf("%w: question %d correct answer out of range", ErrInvalidQuiz, i)
		}
	}
	return nil
}

func (s *QuizService) CreateQuiz(ctx context.Context, ownerID, title, description string, questions []domain.Question) (domain.Quiz, error) {
	if err := validateQuestions(questions); err != nil {
		return domain.Quiz{}, err
	}
	quiz := domain.Quiz{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Title:       title,
		Description: description,
		Questions:   questions,
		CreatedAt:   s.now(),
	}
	if err := s.quizzes.CreateQuiz(ctx, quiz); err != nil {
		return domain.Quiz{}, err
	}
	return quiz, nil
}

func (s *QuizService) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	return s.quizzes.GetQuiz(ctx, quizID)
}

func (s *QuizService) ListQuizzes(ctx context.Context, ownerID string) ([]domain.Quiz, error) {
	return s.quizzes.ListQuizzes(ctx, ownerID)
}

// UpdateQuiz replaces the quiz's editable fields. Only the owner may
// mutate; a live session keeps reading its cached copy, so edits do not
// reach sessions already in flight until the cache expires.
func (s *QuizService) UpdateQuiz(ctx context.Context, callerID string, quiz domain.Quiz) (domain.Quiz, error) {
	existing, err := s.quizzes.GetQuiz(ctx, quiz.ID)
	if err != nil {
		return domain.Quiz{}, err
	}
	if existing.OwnerID != callerID {
		return domain.Quiz{}, domain.ErrUnauthorized
	}
	if err := validateQuestions(quiz.Questions); err != nil {
		return domain.Quiz{}, err
	}

	existing.Title = quiz.Title
	existing.Description = quiz.Description
	existing.Published = quiz.Published
	existing.Questions = quiz.Questions
	if err := s.quizzes.UpdateQuiz(ctx, existing); err != nil {
		return domain.Quiz{}, err
	}
	return existing, nil
}

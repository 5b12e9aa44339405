package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quiz-live-service/internal/domain"
	"quiz-live-service/internal/feed"
)

// Store is the in-memory implementation of every app-layer store interface.
// It backs unit tests and the no-config server mode, and publishes a change
// event into the feed hub after each successful write, mirroring what the
// durable store does.
type Store struct {
	hub *feed.Hub

	mu           sync.RWMutex
	sessions     map[string]domain.Session
	progress     map[string]domain.Progress
	participants map[string]domain.Participant
	rosterOrder  map[string][]string
	answers      map[string]domain.Answer
	quizzes      map[string]domain.Quiz
}

func NewStore(hub *feed.Hub) *Store {
	return &Store{
		hub:          hub,
		sessions:     make(map[string]domain.Session),
		progress:     make(map[string]domain.Progress),
		participants: make(map[string]domain.Participant),
		rosterOrder:  make(map[string][]string),
		answers:      make(map[string]domain.Answer),
		quizzes:      make(map[string]domain.Quiz),
	}
}

func (s *Store) CreateSession(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	s.hub.Publish(feed.Event{
		Table:     feed.TableSessions,
		Op:        feed.OpInsert,
		SessionID: session.ID,
		RowID:     session.ID,
		Session:   &session,
	})
	return nil
}

func (s *Store) GetSession(_ context.Context, id string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return session, nil
}

func (s *Store) FindActiveByCode(_ context.Context, code string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, session := range s.sessions {
		if session.Code == code && session.Status != domain.StatusCompleted {
			return session, nil
		}
	}
	return domain.Session{}, domain.ErrSessionNotFound
}

func (s *Store) UpdateSessionStatus(_ context.Context, id string, from, to domain.SessionStatus, completedAt *time.Time) error {
	s.mu.Lock()
	session, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return domain.ErrSessionNotFound
	}
	if session.Status != from {
		s.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	session.Status = to
	if completedAt != nil {
		session.CompletedAt = completedAt
	}
	s.sessions[id] = session
	s.mu.Unlock()

	s.hub.Publish(feed.Event{
		Table:     feed.TableSessions,
		Op:        feed.OpUpdate,
		SessionID: id,
		RowID:     id,
		Session:   &session,
	})
	return nil
}

func (s *Store) CreateProgress(_ context.Context, progress domain.Progress) error {
	s.mu.Lock()
	s.progress[progress.SessionID] = progress
	s.mu.Unlock()

	s.hub.Publish(feed.Event{
		Table:     feed.TableProgress,
		Op:        feed.OpInsert,
		SessionID: progress.SessionID,
		RowID:     progress.SessionID,
		Progress:  &progress,
	})
	return nil
}

func (s *Store) GetProgress(_ context.Context, sessionID string) (domain.Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	progress, ok := s.progress[sessionID]
	if !ok {
		return domain.Progress{}, domain.ErrSessionNotFound
	}
	return progress, nil
}

func (s *Store) CompareAndSwapProgress(_ context.Context, observed, next domain.Progress) error {
	s.mu.Lock()
	current, ok := s.progress[observed.SessionID]
	if !ok {
		s.mu.Unlock()
		return domain.ErrSessionNotFound
	}
	if current != observed {
		s.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	s.progress[observed.SessionID] = next
	s.mu.Unlock()

	s.hub.Publish(feed.Event{
		Table:     feed.TableProgress,
		Op:        feed.OpUpdate,
		SessionID: next.SessionID,
		RowID:     next.SessionID,
		Progress:  &next,
	})
	return nil
}

func (s *Store) AddParticipant(_ context.Context, participant domain.Participant) error {
	s.mu.Lock()
	s.participants[participant.ID] = participant
	s.rosterOrder[participant.SessionID] = append(s.rosterOrder[participant.SessionID], participant.ID)
	s.mu.Unlock()

	s.hub.Publish(feed.Event{
		Table:       feed.TableParticipants,
		Op:          feed.OpInsert,
		SessionID:   participant.SessionID,
		RowID:       participant.ID,
		Participant: &participant,
	})
	return nil
}

func (s *Store) GetParticipant(_ context.Context, id string) (domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	participant, ok := s.participants[id]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return participant, nil
}

func (s *Store) ListParticipants(_ context.Context, sessionID string) ([]domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.rosterOrder[sessionID]
	out := make([]domain.Participant, 0, len(ids))
	for _, id := range ids {
		if participant, ok := s.participants[id]; ok {
			out = append(out, participant)
		}
	}
	return out, nil
}

// RemoveParticipant deletes by id; unknown ids are a no-op so duplicate
// leave requests stay harmless.
func (s *Store) RemoveParticipant(_ context.Context, id string) error {
	s.mu.Lock()
	participant, ok := s.participants[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.participants, id)
	ids := s.rosterOrder[participant.SessionID]
	for i, existing := range ids {
		if existing == id {
			s.rosterOrder[participant.SessionID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.hub.Publish(feed.Event{
		Table:     feed.TableParticipants,
		Op:        feed.OpDelete,
		SessionID: participant.SessionID,
		RowID:     id,
	})
	return nil
}

func answerKey(participantID string, questionIndex int) string {
	return fmt.Sprintf("%s/%d", participantID, questionIndex)
}

// CreateAnswer enforces the one-answer-per-participant-per-question
// invariant the same way the durable store's unique index does.
func (s *Store) CreateAnswer(_ context.Context, answer domain.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := answerKey(answer.ParticipantID, answer.QuestionIndex)
	if _, ok := s.answers[key]; ok {
		return domain.ErrDuplicateSubmission
	}
	s.answers[key] = answer
	return nil
}

// CountAnswers reports how many answers exist for one question; the host
// view uses it for aggregate counts.
func (s *Store) CountAnswers(_ context.Context, sessionID string, questionIndex int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, answer := range s.answers {
		if answer.SessionID == sessionID && answer.QuestionIndex == questionIndex {
			count++
		}
	}
	return count, nil
}

func (s *Store) CreateQuiz(_ context.Context, quiz domain.Quiz) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quizzes[quiz.ID] = quiz
	return nil
}

func (s *Store) GetQuiz(_ context.Context, id string) (domain.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quiz, ok := s.quizzes[id]
	if !ok {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	return quiz, nil
}

func (s *Store) ListQuizzes(_ context.Context, ownerID string) ([]domain.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Quiz
	for _, quiz := range s.quizzes {
		if quiz.OwnerID == ownerID {
			out = append(out, quiz)
		}
	}
	return out, nil
}

func (s *Store) UpdateQuiz(_ context.Context, quiz domain.Quiz) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.quizzes[quiz.ID]; !ok {
		return domain.ErrQuizNotFound
	}
	s.quizzes[quiz.ID] = quiz
	return nil
}

// LoadQuiz lets the store double as a QuizLoader behind the TTL caches.
func (s *Store) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	return s.GetQuiz(ctx, quizID)
}

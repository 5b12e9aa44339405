package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-live-service/internal/domain"
	"quiz-live-service/internal/feed"
)

const uniqueViolation = "23505"

// Store is the durable implementation of the app-layer store interfaces
// over Postgres. Uniqueness invariants live in the schema: the partial
// unique index on active session codes and the (participant_id,
// question_index) index on answers. Change events are published into the
// in-process feed hub after each successful write; a multi-instance
// deployment would swap the hub for a pub/sub projector.
type Store struct {
	pool *pgxpool.Pool
	hub  *feed.Hub
}

func NewStore(pool *pgxpool.Pool, hub *feed.Hub) *Store {
	return &Store{pool: pool, hub: hub}
}

func (s *Store) CreateSession(ctx context.Context, session domain.Session) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO quiz_sessions (id, quiz_id, host_id, code, status, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		session.ID, session.QuizID, session.HostID, session.Code, session.Status, session.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrCodeUnavailable
		}
		return fmt.Errorf("create session: %w", err)
	}

	s.hub.Publish(feed.Event{
		Table:     feed.TableSessions,
		Op:        feed.OpInsert,
		SessionID: session.ID,
		RowID:     session.ID,
		Session:   &session,
	})
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (domain.Session, error) {
	return s.scanSession(s.pool.QueryRow(ctx,
		`SELECT id, quiz_id, host_id, code, status, created_at, completed_at FROM quiz_sessions WHERE id=$1`, id))
}

func (s *Store) FindActiveByCode(ctx context.Context, code string) (domain.Session, error) {
	return s.scanSession(s.pool.QueryRow(ctx,
		`SELECT id, quiz_id, host_id, code, status, created_at, completed_at FROM quiz_sessions WHERE code=$1 AND status <> $2`,
		code, domain.StatusCompleted))
}

func (s *Store) scanSession(row pgx.Row) (domain.Session, error) {
	var session domain.Session
	err := row.Scan(&session.ID, &session.QuizID, &session.HostID, &session.Code, &session.Status, &session.CreatedAt, &session.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("scan session: %w", err)
	}
	return session, nil
}

func (s *Store) UpdateSessionStatus(ctx context.Context, id string, from, to domain.SessionStatus, completedAt *time.Time) error {
	row := s.pool.QueryRow(ctx,
		`UPDATE quiz_sessions SET status=$1, completed_at=COALESCE($2, completed_at)
		 WHERE id=$3 AND status=$4
		 RETURNING id, quiz_id, host_id, code, status, created_at, completed_at`,
		to, completedAt, id, from)

	session, err := s.scanSession(row)
	if errors.Is(err, domain.ErrSessionNotFound) {
		// Row missing or already transitioned; either way the conditional
		// update did not apply.
		return domain.ErrInvalidTransition
	}
	if err != nil {
		return err
	}

	s.hub.Publish(feed.Event{
		Table:     feed.TableSessions,
		Op:        feed.OpUpdate,
		SessionID: session.ID,
		RowID:     session.ID,
		Session:   &session,
	})
	return nil
}

func (s *Store) CreateProgress(ctx context.Context, progress domain.Progress) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO quiz_session_progress (session_id, current_question_index, question_state) VALUES ($1, $2, $3)`,
		progress.SessionID, progress.CurrentQuestionIndex, progress.QuestionState)
	if err != nil {
		return fmt.Errorf("create progress: %w", err)
	}

	s.hub.Publish(feed.Event{
		Table:     feed.TableProgress,
		Op:        feed.OpInsert,
		SessionID: progress.SessionID,
		RowID:     progress.SessionID,
		Progress:  &progress,
	})
	return nil
}

func (s *Store) GetProgress(ctx context.Context, sessionID string) (domain.Progress, error) {
	var progress domain.Progress
	err := s.pool.QueryRow(ctx,
		`SELECT session_id, current_question_index, question_state FROM quiz_session_progress WHERE session_id=$1`,
		sessionID).Scan(&progress.SessionID, &progress.CurrentQuestionIndex, &progress.QuestionState)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Progress{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Progress{}, fmt.Errorf("get progress: %w", err)
	}
	return progress, nil
}

// CompareAndSwapProgress only writes while the stored row still matches the
// observed (index, state) pair, so a doubled advance click cannot move the
// pointer twice.
func (s *Store) CompareAndSwapProgress(ctx context.Context, observed, next domain.Progress) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE quiz_session_progress SET current_question_index=$1, question_state=$2
		 WHERE session_id=$3 AND current_question_index=$4 AND question_state=$5`,
		next.CurrentQuestionIndex, next.QuestionState,
		observed.SessionID, observed.CurrentQuestionIndex, observed.QuestionState)
	if err != nil {
		return fmt.Errorf("advance progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}

	s.hub.Publish(feed.Event{
		Table:     feed.TableProgress,
		Op:        feed.OpUpdate,
		SessionID: next.SessionID,
		RowID:     next.SessionID,
		Progress:  &next,
	})
	return nil
}

func (s *Store) AddParticipant(ctx context.Context, participant domain.Participant) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO quiz_participants (id, session_id, name, joined_at) VALUES ($1, $2, $3, $4)`,
		participant.ID, participant.SessionID, participant.Name, participant.JoinedAt)
	if err != nil {
		return fmt.Errorf("add participant: %w", err)
	}

	s.hub.Publish(feed.Event{
		Table:       feed.TableParticipants,
		Op:          feed.OpInsert,
		SessionID:   participant.SessionID,
		RowID:       participant.ID,
		Participant: &participant,
	})
	return nil
}

func (s *Store) GetParticipant(ctx context.Context, id string) (domain.Participant, error) {
	var participant domain.Participant
	err := s.pool.QueryRow(ctx,
		`SELECT id, session_id, name, joined_at FROM quiz_participants WHERE id=$1`, id).
		Scan(&participant.ID, &participant.SessionID, &participant.Name, &participant.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	if err != nil {
		return domain.Participant{}, fmt.Errorf("get participant: %w", err)
	}
	return participant, nil
}

func (s *Store) ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, name, joined_at FROM quiz_participants WHERE session_id=$1 ORDER BY joined_at, id`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var out []domain.Participant
	for rows.Next() {
		var participant domain.Participant
		if err := rows.Scan(&participant.ID, &participant.SessionID, &participant.Name, &participant.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out = append(out, participant)
	}
	return out, rows.Err()
}

func (s *Store) RemoveParticipant(ctx context.Context, id string) error {
	var sessionID string
	err := s.pool.QueryRow(ctx,
		`DELETE FROM quiz_participants WHERE id=$1 RETURNING session_id`, id).Scan(&sessionID)
	if errors.Is(err, pgx.ErrNoRows) {
		// Unknown id: duplicate leave, nothing to do.
		return nil
	}
	if err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}

	s.hub.Publish(feed.Event{
		Table:     feed.TableParticipants,
		Op:        feed.OpDelete,
		SessionID: sessionID,
		RowID:     id,
	})
	return nil
}

// CreateAnswer relies on the unique index over (participant_id,
// question_index); the constraint violation is the canonical duplicate
// signal, not a read-then-write check.
func (s *Store) CreateAnswer(ctx context.Context, answer domain.Answer) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO participant_answers (id, participant_id, session_id, question_index, selected_option, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		answer.ID, answer.ParticipantID, answer.SessionID, answer.QuestionIndex, answer.SelectedOption, answer.SubmittedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateSubmission
		}
		return fmt.Errorf("create answer: %w", err)
	}
	return nil
}

// CountAnswers reports how many answers exist for one question of a session.
func (s *Store) CountAnswers(ctx context.Context, sessionID string, questionIndex int) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM participant_answers WHERE session_id=$1 AND question_index=$2`,
		sessionID, questionIndex).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count answers: %w", err)
	}
	return count, nil
}

func (s *Store) CreateQuiz(ctx context.Context, quiz domain.Quiz) error {
	questions, err := json.Marshal(quiz.Questions)
	if err != nil {
		return fmt.Errorf("marshal questions: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO quizzes (id, owner_id, title, description, published, questions, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		quiz.ID, quiz.OwnerID, quiz.Title, quiz.Description, quiz.Published, questions, quiz.CreatedAt)
	if err != nil {
		return fmt.Errorf("create quiz: %w", err)
	}
	return nil
}

func (s *Store) GetQuiz(ctx context.Context, id string) (domain.Quiz, error) {
	var (
		quiz domain.Quiz
		raw  []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, title, description, published, questions, created_at FROM quizzes WHERE id=$1`, id).
		Scan(&quiz.ID, &quiz.OwnerID, &quiz.Title, &quiz.Description, &quiz.Published, &raw, &quiz.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("get quiz: %w", err)
	}
	if err := json.Unmarshal(raw, &quiz.Questions); err != nil {
		return domain.Quiz{}, fmt.Errorf("unmarshal questions: %w", err)
	}
	return quiz, nil
}

func (s *Store) ListQuizzes(ctx context.Context, ownerID string) ([]domain.Quiz, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, title, description, published, questions, created_at FROM quizzes WHERE owner_id=$1 ORDER BY created_at DESC`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	defer rows.Close()

	var out []domain.Quiz
	for rows.Next() {
		var (
			quiz domain.Quiz
			raw  []byte
		)
		if err := rows.Scan(&quiz.ID, &quiz.OwnerID, &quiz.Title, &quiz.Description, &quiz.Published, &raw, &quiz.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan quiz: %w", err)
		}
		if err := json.Unmarshal(raw, &quiz.Questions); err != nil {
			return nil, fmt.Errorf("unmarshal questions: %w", err)
		}
		out = append(out, quiz)
	}
	return out, rows.Err()
}

func (s *Store) UpdateQuiz(ctx context.Context, quiz domain.Quiz) error {
	questions, err := json.Marshal(quiz.Questions)
	if err != nil {
		return fmt.Errorf("marshal questions: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE quizzes SET title=$1, description=$2, published=$3, questions=$4 WHERE id=$5`,
		quiz.Title, quiz.Description, quiz.Published, questions, quiz.ID)
	if err != nil {
		return fmt.Errorf("update quiz: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrQuizNotFound
	}
	return nil
}

// LoadQuiz lets the store serve as the loader behind the quiz caches.
func (s *Store) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	return s.GetQuiz(ctx, quizID)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

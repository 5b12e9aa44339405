package app

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"quiz-live-service/internal/domain"
)

// SessionStore persists sessions and their progress rows.
type SessionStore interface {
	CreateSession(ctx context.Context, s domain.Session) error
	GetSession(ctx context.Context, id string) (domain.Session, error)
	// FindActiveByCode resolves a join code against sessions that are not
	// completed; returns domain.ErrSessionNotFound otherwise.
	FindActiveByCode(ctx context.Context, code string) (domain.Session, error)
	// UpdateSessionStatus applies the transition only when the row is still
	// in `from`; returns domain.ErrInvalidTransition otherwise.
	UpdateSessionStatus(ctx context.Context, id string, from, to domain.SessionStatus, completedAt *time.Time) error
	CreateProgress(ctx context.Context, p domain.Progress) error
	GetProgress(ctx context.Context, sessionID string) (domain.Progress, error)
	// CompareAndSwapProgress writes `next` only while the stored row still
	// equals `observed`; returns domain.ErrInvalidTransition when another
	// writer got there first. This is what makes advance exactly-once per
	// click under retries and double-clicks.
	CompareAndSwapProgress(ctx context.Context, observed, next domain.Progress) error
}

// RosterStore persists the participants of a session.
type RosterStore interface {
	AddParticipant(ctx context.Context, p domain.Participant) error
	GetParticipant(ctx context.Context, id string) (domain.Participant, error)
	ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error)
	RemoveParticipant(ctx context.Context, id string) error
}

// AnswerStore persists submissions. CreateAnswer must enforce the
// (participant, question index) uniqueness at the storage boundary and
// signal violations as domain.ErrDuplicateSubmission; a read-then-write
// check would race.
type AnswerStore interface {
	CreateAnswer(ctx context.Context, a domain.Answer) error
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// CodeRegistry reserves join codes for sessions that are not yet completed.
type CodeRegistry interface {
	// Reserve claims the code for the session; false means the code is
	// already held by another active session.
	Reserve(ctx context.Context, code, sessionID string) (bool, error)
	Release(ctx context.Context, code string) error
}

const (
	codeAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength      = 6
	maxCodeAttempts = 5
)

// SessionService owns the session lifecycle: create/join, the
// waiting → in_progress → completed state machine, and answer submission.
type SessionService struct {
	sessions SessionStore
	roster   RosterStore
	answers  AnswerStore
	quizzes  QuizRepository
	codes    CodeRegistry
	now      func() time.Time
	rnd      *rand.Rand
}

func NewSessionService(sessions SessionStore, roster RosterStore, answers AnswerStore, quizzes QuizRepository, codes CodeRegistry) *SessionService {
	return &SessionService{
		sessions: sessions,
		roster:   roster,
		answers:  answers,
		quizzes:  quizzes,
		codes:    codes,
		now:      time.Now,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// CreateSession publishes a new waiting session for a quiz the caller owns,
// under a join code reserved against all other active sessions.
func (s *SessionService) CreateSession(ctx context.Context, quizID, hostID string) (domain.Session, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Session{}, err
	}
	if quiz.OwnerID != hostID {
		return domain.Session{}, domain.ErrUnauthorized
	}

	id := uuid.NewString()
	code, err := s.reserveCode(ctx, id)
	if err != nil {
		return domain.Session{}, err
	}

	session := domain.Session{
		ID:        id,
		QuizID:    quizID,
		HostID:    hostID,
		Code:      code,
		Status:    domain.StatusWaiting,
		CreatedAt: s.now(),
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		_ = s.codes.Release(ctx, code)
		return domain.Session{}, err
	}
	return session, nil
}

func (s *SessionService) reserveCode(ctx context.Context, sessionID string) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := s.generateCode()
		ok, err := s.codes.Reserve(ctx, code, sessionID)
		if err != nil {
			return "", err
		}
		if ok {
			return code, nil
		}
	}
	return "", domain.ErrCodeUnavailable
}

func (s *SessionService) generateCode() string {
	b := make([]byte, codeLength)
	for i := range b {
		b[i] = codeAlphabet[s.rnd.Intn(len(codeAlphabet))]
	}
	return string(b)
}

// JoinByCode adds a participant to the waiting session behind the code.
// Codes of sessions already in progress or completed do not resolve.
func (s *SessionService) JoinByCode(ctx context.Context, code, name string) (domain.Participant, domain.Session, error) {
	session, err := s.sessions.FindActiveByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return domain.Participant{}, domain.Session{}, err
	}
	if session.Status != domain.StatusWaiting {
		return domain.Participant{}, domain.Session{}, domain.ErrSessionNotFound
	}

	participant := domain.Participant{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Name:      name,
		JoinedAt:  s.now(),
	}
	if err := s.roster.AddParticipant(ctx, participant); err != nil {
		return domain.Participant{}, domain.Session{}, err
	}
	return participant, session, nil
}

// Leave removes a participant. Removing an unknown id is a no-op at the
// store level so duplicate leave requests are harmless.
func (s *SessionService) Leave(ctx context.Context, participantID string) error {
	return s.roster.RemoveParticipant(ctx, participantID)
}

// Start moves the session from waiting to in_progress and seeds progress at
// question zero in the answering phase. Host-only.
func (s *SessionService) Start(ctx context.Context, sessionID, callerID string) (domain.Progress, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Progress{}, err
	}
	if session.HostID != callerID {
		return domain.Progress{}, domain.ErrUnauthorized
	}
	if session.Status != domain.StatusWaiting {
		return domain.Progress{}, domain.ErrInvalidTransition
	}

	if err := s.sessions.UpdateSessionStatus(ctx, sessionID, domain.StatusWaiting, domain.StatusInProgress, nil); err != nil {
		return domain.Progress{}, err
	}

	progress := domain.Progress{
		SessionID:            sessionID,
		CurrentQuestionIndex: 0,
		QuestionState:        domain.StateAnswering,
	}
	if err := s.sessions.CreateProgress(ctx, progress); err != nil {
		return domain.Progress{}, err
	}
	return progress, nil
}

// Advance reveals the current question's answer, or moves to the next
// question once revealed. The next state is derived from the persisted row
// and applied with a compare-and-swap, so a doubled click loses cleanly
// instead of skipping a question. There is no backward transition.
func (s *SessionService) Advance(ctx context.Context, sessionID, callerID string) (domain.Progress, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Progress{}, err
	}
	if session.HostID != callerID {
		return domain.Progress{}, domain.ErrUnauthorized
	}
	if session.Status != domain.StatusInProgress {
		return domain.Progress{}, domain.ErrInvalidTransition
	}

	current, err := s.sessions.GetProgress(ctx, sessionID)
	if err != nil {
		return domain.Progress{}, err
	}

	quiz, err := s.quizzes.GetQuiz(ctx, session.QuizID)
	if err != nil {
		return domain.Progress{}, err
	}
	if current.CurrentQuestionIndex >= len(quiz.Questions) {
		// Question list exhausted; only the explicit Complete action remains.
		return domain.Progress{}, domain.ErrInvalidTransition
	}

	next := current
	if current.QuestionState == domain.StateAnswering {
		next.QuestionState = domain.StateShowingAnswer
	} else {
		next.CurrentQuestionIndex++
		next.QuestionState = domain.StateAnswering
	}

	if err := s.sessions.CompareAndSwapProgress(ctx, current, next); err != nil {
		return domain.Progress{}, err
	}
	return next, nil
}

// Complete is the explicit terminal transition. Nothing marks a session
// completed automatically; observers render a completion view once the
// index passes the last question, and the host ends the session here.
func (s *SessionService) Complete(ctx context.Context, sessionID, callerID string) (domain.Session, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if session.HostID != callerID {
		return domain.Session{}, domain.ErrUnauthorized
	}
	if session.Status != domain.StatusInProgress {
		return domain.Session{}, domain.ErrInvalidTransition
	}

	completedAt := s.now()
	if err := s.sessions.UpdateSessionStatus(ctx, sessionID, domain.StatusInProgress, domain.StatusCompleted, &completedAt); err != nil {
		return domain.Session{}, err
	}
	// Frees the code for reuse by future sessions; best-effort.
	_ = s.codes.Release(ctx, session.Code)

	session.Status = domain.StatusCompleted
	session.CompletedAt = &completedAt
	return session, nil
}

// Submit records one answer for the live question and returns the verdict
// to the submitter. Late submissions (after reveal) and submissions for any
// question other than the live one are rejected.
func (s *SessionService) Submit(ctx context.Context, sessionID, participantID string, questionIndex, selectedOption int) (domain.Verdict, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Verdict{}, err
	}
	if session.Status != domain.StatusInProgress {
		return domain.Verdict{}, domain.ErrInvalidTransition
	}

	participant, err := s.roster.GetParticipant(ctx, participantID)
	if err != nil {
		return domain.Verdict{}, err
	}
	if participant.SessionID != sessionID {
		return domain.Verdict{}, domain.ErrParticipantNotFound
	}

	progress, err := s.sessions.GetProgress(ctx, sessionID)
	if err != nil {
		return domain.Verdict{}, err
	}
	if questionIndex != progress.CurrentQuestionIndex || progress.QuestionState != domain.StateAnswering {
		return domain.Verdict{}, domain.ErrInvalidTransition
	}

	quiz, err := s.quizzes.GetQuiz(ctx, session.QuizID)
	if err != nil {
		return domain.Verdict{}, err
	}
	if questionIndex >= len(quiz.Questions) {
		return domain.Verdict{}, domain.ErrInvalidTransition
	}
	question := quiz.Questions[questionIndex]
	if selectedOption < 0 || selectedOption >= len(question.Options) {
		return domain.Verdict{}, domain.ErrOptionOutOfRange
	}

	answer := domain.Answer{
		ID:             uuid.NewString(),
		ParticipantID:  participantID,
		SessionID:      sessionID,
		QuestionIndex:  questionIndex,
		SelectedOption: selectedOption,
		SubmittedAt:    s.now(),
	}
	if err := s.answers.CreateAnswer(ctx, answer); err != nil {
		return domain.Verdict{}, err
	}

	return domain.Verdict{
		QuestionIndex:  questionIndex,
		SelectedOption: selectedOption,
		Correct:        selectedOption == question.CorrectAnswer,
	}, nil
}

// GetSession is a convenience read used by transports on attach.
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	return s.sessions.GetSession(ctx, sessionID)
}

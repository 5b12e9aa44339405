package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"quiz-live-service/internal/app"
	"quiz-live-service/internal/domain"
	"quiz-live-service/internal/feed"
	"quiz-live-service/internal/infra/memory"
)

type testEnv struct {
	store   *memory.Store
	hub     *feed.Hub
	service *app.SessionService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	hub := feed.NewHub()
	store := memory.NewStore(hub)
	quizRepo := memory.NewQuizRepository(store, 5*time.Minute)
	service := app.NewSessionService(store, store, store, quizRepo, memory.NewCodeRegistry())

	if err := store.CreateQuiz(context.Background(), domain.Quiz{
		ID:      "quiz-1",
		OwnerID: "host-1",
		Title:   "Capitals",
		Questions: []domain.Question{
			{Text: "Capital of France?", Options: []string{"Lyon", "Paris", "Nice"}, CorrectAnswer: 1},
			{Text: "Capital of Peru?", Options: []string{"Lima", "Cusco", "Quito"}, CorrectAnswer: 0},
		},
		CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("seed quiz: %v", err)
	}
	return &testEnv{store: store, hub: hub, service: service}
}

func (e *testEnv) createSession(t *testing.T) domain.Session {
	t.Helper()
	session, err := e.service.CreateSession(context.Background(), "quiz-1", "host-1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session
}

func TestCreateSessionGeneratesJoinCode(t *testing.T) {
	env := newTestEnv(t)
	session := env.createSession(t)

	if session.Status != domain.StatusWaiting {
		t.Fatalf("expected waiting session, got %s", session.Status)
	}
	if len(session.Code) != 6 {
		t.Fatalf("expected 6-char code, got %q", session.Code)
	}
	for _, c := range session.Code {
		if !(c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			t.Fatalf("code %q contains invalid character %q", session.Code, c)
		}
	}
}

func TestCreateSessionRequiresOwner(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.CreateSession(context.Background(), "quiz-1", "someone-else")
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

// rejectingRegistry refuses the first n reservations to force regeneration.
type rejectingRegistry struct {
	inner      app.CodeRegistry
	rejections int
	attempts   int
}

func (r *rejectingRegistry) Reserve(ctx context.Context, code, sessionID string) (bool, error) {
	r.attempts++
	if r.attempts <= r.rejections {
		return false, nil
	}
	return r.inner.Reserve(ctx, code, sessionID)
}

func (r *rejectingRegistry) Release(ctx context.Context, code string) error {
	return r.inner.Release(ctx, code)
}

func TestCreateSessionRetriesOnCodeCollision(t *testing.T) {
	hub := feed.NewHub()
	store := memory.NewStore(hub)
	quizRepo := memory.NewQuizRepository(store, 5*time.Minute)
	registry := &rejectingRegistry{inner: memory.NewCodeRegistry(), rejections: 3}
	service := app.NewSessionService(store, store, store, quizRepo, registry)

	if err := store.CreateQuiz(context.Background(), domain.Quiz{
		ID:      "quiz-1",
		OwnerID: "host-1",
		Questions: []domain.Question{
			{Text: "q", Options: []string{"a", "b"}, CorrectAnswer: 0},
		},
	}); err != nil {
		t.Fatalf("seed quiz: %v", err)
	}

	session, err := service.CreateSession(context.Background(), "quiz-1", "host-1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if registry.attempts != 4 {
		t.Fatalf("expected 4 reservation attempts, got %d", registry.attempts)
	}
	if session.Code == "" {
		t.Fatalf("expected a reserved code")
	}
}

func TestHostFlowStartRevealAdvance(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	session := env.createSession(t)

	participant, joinedSession, err := env.service.JoinByCode(ctx, session.Code, "Ana")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if joinedSession.ID != session.ID {
		t.Fatalf("joined wrong session: %s", joinedSession.ID)
	}
	roster, err := env.store.ListParticipants(ctx, session.ID)
	if err != nil {
		t.Fatalf("list participants: %v", err)
	}
	if len(roster) != 1 || roster[0].Name != "Ana" {
		t.Fatalf("expected roster [Ana], got %+v", roster)
	}
	if roster[0].ID != participant.ID {
		t.Fatalf("roster id mismatch")
	}

	progress, err := env.service.Start(ctx, session.ID, "host-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if progress.CurrentQuestionIndex != 0 || progress.QuestionState != domain.StateAnswering {
		t.Fatalf("expected (0, answering), got (%d, %s)", progress.CurrentQuestionIndex, progress.QuestionState)
	}

	progress, err = env.service.Advance(ctx, session.ID, "host-1")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if progress.CurrentQuestionIndex != 0 || progress.QuestionState != domain.StateShowingAnswer {
		t.Fatalf("expected (0, showing_answer), got (%d, %s)", progress.CurrentQuestionIndex, progress.QuestionState)
	}

	progress, err = env.service.Advance(ctx, session.ID, "host-1")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if progress.CurrentQuestionIndex != 1 || progress.QuestionState != domain.StateAnswering {
		t.Fatalf("expected (1, answering), got (%d, %s)", progress.CurrentQuestionIndex, progress.QuestionState)
	}
}

func TestStartOnlyFromWaiting(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	session := env.createSession(t)

	if _, err := env.service.Start(ctx, session.ID, "host-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err := env.service.Start(ctx, session.ID, "host-1")
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestNonHostCannotStartOrAdvance(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	session := env.createSession(t)

	if _, err := env.service.Start(ctx, session.ID, "mallory"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized start, got %v", err)
	}
	got, err := env.store.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Status != domain.StatusWaiting {
		t.Fatalf("unauthorized start mutated session: %s", got.Status)
	}

	if _, err := env.service.Start(ctx, session.ID, "host-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.service.Advance(ctx, session.ID, "mallory"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized advance, got %v", err)
	}
	progress, err := env.store.GetProgress(ctx, session.ID)
	if err != nil {
		t.Fatalf("get progress: %v", err)
	}
	if progress.CurrentQuestionIndex != 0 || progress.QuestionState != domain.StateAnswering {
		t.Fatalf("unauthorized advance mutated progress: %+v", progress)
	}
}

func TestAdvanceDerivesFromPersistedState(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	session := env.createSession(t)

	if _, err := env.service.Start(ctx, session.ID, "host-1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	// A doubled click races the first advance; the conditional update makes
	// the second writer lose instead of skipping a state.
	observed, err := env.store.GetProgress(ctx, session.ID)
	if err != nil {
		t.Fatalf("get progress: %v", err)
	}
	if _, err := env.service.Advance(ctx, session.ID, "host-1"); err != nil {
		t.Fatalf("advance: %v", err)
	}
	next := observed
	next.QuestionState = domain.StateShowingAnswer
	err = env.store.CompareAndSwapProgress(ctx, observed, next)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected stale swap to fail, got %v", err)
	}

	progress, err := env.store.GetProgress(ctx, session.ID)
	if err != nil {
		t.Fatalf("get progress: %v", err)
	}
	if progress.CurrentQuestionIndex != 0 || progress.QuestionState != domain.StateShowingAnswer {
		t.Fatalf("double advance corrupted progress: %+v", progress)
	}
}

func TestAdvanceStopsAfterQuestionsExhausted(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	session := env.createSession(t)

	if _, err := env.service.Start(ctx, session.ID, "host-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	// Two questions: reveal+next for each leaves the index one past the end.
	for i := 0; i < 4; i++ {
		if _, err := env.service.Advance(ctx, session.ID, "host-1"); err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
	}
	progress, err := env.store.GetProgress(ctx, session.ID)
	if err != nil {
		t.Fatalf("get progress: %v", err)
	}
	if progress.CurrentQuestionIndex != 2 {
		t.Fatalf("expected index 2 after exhausting questions, got %d", progress.CurrentQuestionIndex)
	}

	_, err = env.service.Advance(ctx, session.ID, "host-1")
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition past the end, got %v", err)
	}
}

func TestSubmitVerdictAndDuplicate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	session := env.createSession(t)
	participant, _, err := env.service.JoinByCode(ctx, session.Code, "Ana")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := env.service.Start(ctx, session.ID, "host-1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	verdict, err := env.service.Submit(ctx, session.ID, participant.ID, 0, 1)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !verdict.Correct {
		t.Fatalf("expected correct verdict for option 1")
	}
	if verdict.SelectedOption != 1 {
		t.Fatalf("verdict must record the literal selected index, got %d", verdict.SelectedOption)
	}

	_, err = env.service.Submit(ctx, session.ID, participant.ID, 0, 2)
	if !errors.Is(err, domain.ErrDuplicateSubmission) {
		t.Fatalf("expected duplicate submission, got %v", err)
	}
	count, err := env.store.CountAnswers(ctx, session.ID, 0)
	if err != nil {
		t.Fatalf("count answers: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 stored answer, got %d", count)
	}
}

func TestSubmitWrongAnswerIsIncorrect(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	session := env.createSession(t)
	participant, _, err := env.service.JoinByCode(ctx, session.Code, "Ben")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := env.service.Start(ctx, session.ID, "host-1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	verdict, err := env.service.Submit(ctx, session.ID, participant.ID, 0, 0)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if verdict.Correct {
		t.Fatalf("expected incorrect verdict for option 0")
	}
	if verdict.SelectedOption != 0 {
		t.Fatalf("expected stored index 0, got %d", verdict.SelectedOption)
	}
}

func TestSubmitRejectedAfterReveal(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	session := env.createSession(t)
	participant, _, err := env.service.JoinByCode(ctx, session.Code, "Ana")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := env.service.Start(ctx, session.ID, "host-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.service.Advance(ctx, session.ID, "host-1"); err != nil {
		t.Fatalf("advance: %v", err)
	}

	_, err = env.service.Submit(ctx, session.ID, participant.ID, 0, 1)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected late submission rejection, got %v", err)
	}
}

func TestSubmitRejectedForStaleQuestionIndex(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	session := env.createSession(t)
	participant, _, err := env.service.JoinByCode(ctx, session.Code, "Ana")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := env.service.Start(ctx, session.ID, "host-1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := env.service.Submit(ctx, session.ID, participant.ID, 1, 0); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected rejection for non-live question, got %v", err)
	}
	if _, err := env.service.Submit(ctx, session.ID, participant.ID, 0, 9); !errors.Is(err, domain.ErrOptionOutOfRange) {
		t.Fatalf("expected option out of range, got %v", err)
	}
}

func TestSubmitRequiresKnownParticipant(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	session := env.createSession(t)
	if _, err := env.service.Start(ctx, session.ID, "host-1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	_, err := env.service.Submit(ctx, session.ID, "ghost", 0, 0)
	if !errors.Is(err, domain.ErrParticipantNotFound) {
		t.Fatalf("expected participant not found, got %v", err)
	}
}

func TestJoinRequiresWaitingSession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	session := env.createSession(t)
	if _, err := env.service.Start(ctx, session.ID, "host-1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	_, _, err := env.service.JoinByCode(ctx, session.Code, "Late")
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected join rejection once started, got %v", err)
	}

	_, _, err = env.service.JoinByCode(ctx, "ZZZZZZ", "Nobody")
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected unknown code rejection, got %v", err)
	}
}

func TestCompleteIsExplicitAndHostOnly(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	session := env.createSession(t)
	if _, err := env.service.Start(ctx, session.ID, "host-1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := env.service.Complete(ctx, session.ID, "mallory"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized complete, got %v", err)
	}

	completed, err := env.service.Complete(ctx, session.ID, "host-1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Status != domain.StatusCompleted || completed.CompletedAt == nil {
		t.Fatalf("expected completed session with timestamp, got %+v", completed)
	}

	// The code is released: a new session may reuse it.
	if _, err := env.service.Complete(ctx, session.ID, "host-1"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected no transition out of completed, got %v", err)
	}
}

func TestSubmitRequiresInProgressSession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	session := env.createSession(t)
	participant, _, err := env.service.JoinByCode(ctx, session.Code, "Ana")
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	_, err = env.service.Submit(ctx, session.ID, participant.ID, 0, 0)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected rejection while waiting, got %v", err)
	}

	_, err = env.service.Submit(ctx, "no-such-session", participant.ID, 0, 0)
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected session not found, got %v", err)
	}
}

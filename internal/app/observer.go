package app

import (
	"context"
	"errors"
	"sync"

	"quiz-live-service/internal/domain"
	"quiz-live-service/internal/feed"
)

// View is the locally derived state one connected client renders: who has
// joined, which question is live, and whether the quiz ran out of questions.
type View struct {
	SessionID            string               `json:"sessionId"`
	Code                 string               `json:"code"`
	Status               domain.SessionStatus `json:"status"`
	Participants         []domain.Participant `json:"participants"`
	CurrentQuestionIndex int                  `json:"currentQuestionIndex"`
	QuestionState        domain.QuestionState `json:"questionState"`
	TotalQuestions       int                  `json:"totalQuestions"`
	Finished             bool                 `json:"finished"`
}

// Observer reconciles one client's local view against the store despite
// unordered, possibly-duplicated change delivery. It fetches a snapshot,
// then folds feed events: roster changes through the idempotent Roster,
// progress and session rows last-write-wins (the feed preserves per-row
// write order for a single subscriber, and gives no cross-row ordering).
type Observer struct {
	sessionID string
	sessions  SessionStore
	roster    RosterStore
	quizzes   QuizRepository
	hub       *feed.Hub

	mu          sync.Mutex
	closed      bool
	cancels     []func()
	current     View
	rosterState *Roster

	updates chan View
	done    chan struct{}
}

func NewObserver(sessionID string, sessions SessionStore, roster RosterStore, quizzes QuizRepository, hub *feed.Hub) *Observer {
	return &Observer{
		sessionID: sessionID,
		sessions:  sessions,
		roster:    roster,
		quizzes:   quizzes,
		hub:       hub,
		updates:   make(chan View, 8),
		done:      make(chan struct{}),
	}
}

// Open fetches the current snapshot, then subscribes for future changes.
// Events landing between the fetch and the subscription may be missed or
// delivered twice; the roster's union-by-id semantics absorb duplicates.
// On error the caller should fall back to a safe entry point.
func (o *Observer) Open(ctx context.Context) (View, error) {
	session, err := o.sessions.GetSession(ctx, o.sessionID)
	if err != nil {
		return View{}, err
	}
	quiz, err := o.quizzes.GetQuiz(ctx, session.QuizID)
	if err != nil {
		return View{}, err
	}
	participants, err := o.roster.ListParticipants(ctx, o.sessionID)
	if err != nil {
		return View{}, err
	}

	view := View{
		SessionID:      o.sessionID,
		Code:           session.Code,
		Status:         session.Status,
		TotalQuestions: len(quiz.Questions),
	}
	progress, err := o.sessions.GetProgress(ctx, o.sessionID)
	switch {
	case err == nil:
		view.CurrentQuestionIndex = progress.CurrentQuestionIndex
		view.QuestionState = progress.QuestionState
		view.Finished = progress.CurrentQuestionIndex >= len(quiz.Questions)
	case errors.Is(err, domain.ErrSessionNotFound):
		// No progress row yet: session is still waiting.
	default:
		return View{}, err
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return View{}, errors.New("observer already closed")
	}
	o.rosterState = NewRoster(participants)
	view.Participants = o.rosterState.Participants()
	o.current = view

	participantEvents, cancelParticipants := o.hub.Subscribe(feed.TableParticipants, o.sessionID)
	progressEvents, cancelProgress := o.hub.Subscribe(feed.TableProgress, o.sessionID)
	sessionEvents, cancelSessions := o.hub.Subscribe(feed.TableSessions, o.sessionID)
	o.cancels = []func(){cancelParticipants, cancelProgress, cancelSessions}
	o.mu.Unlock()

	go o.fold(participantEvents, progressEvents, sessionEvents)

	return view, nil
}

func (o *Observer) fold(participants, progress, sessions <-chan feed.Event) {
	defer close(o.done)
	for participants != nil || progress != nil || sessions != nil {
		var (
			ev feed.Event
			ok bool
		)
		select {
		case ev, ok = <-participants:
			if !ok {
				participants = nil
				continue
			}
		case ev, ok = <-progress:
			if !ok {
				progress = nil
				continue
			}
		case ev, ok = <-sessions:
			if !ok {
				sessions = nil
				continue
			}
		}
		o.apply(ev)
	}
}

func (o *Observer) apply(ev feed.Event) {
	o.mu.Lock()
	if o.closed {
		// Teardown already ran; no local mutation may happen after release.
		o.mu.Unlock()
		return
	}

	changed := false
	switch ev.Table {
	case feed.TableParticipants:
		changed = o.rosterState.Apply(ev)
		if changed {
			o.current.Participants = o.rosterState.Participants()
		}
	case feed.TableProgress:
		if ev.Progress != nil {
			o.current.CurrentQuestionIndex = ev.Progress.CurrentQuestionIndex
			o.current.QuestionState = ev.Progress.QuestionState
			o.current.Finished = ev.Progress.CurrentQuestionIndex >= o.current.TotalQuestions
			changed = true
		}
	case feed.TableSessions:
		if ev.Session != nil {
			o.current.Status = ev.Session.Status
			changed = true
		}
	}
	view := o.current
	o.mu.Unlock()

	if !changed {
		return
	}
	select {
	case o.updates <- view:
	default:
		// Drop the stale view; the latest one supersedes it anyway.
		select {
		case <-o.updates:
		default:
		}
		o.updates <- view
	}
}

// Updates streams derived views after each applied change.
func (o *Observer) Updates() <-chan View {
	return o.updates
}

// View returns the current local view.
func (o *Observer) View() View {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// Close releases the subscriptions. Safe to call more than once; once it
// returns, no further local mutation occurs.
func (o *Observer) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	cancels := o.cancels
	o.cancels = nil
	o.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if cancels != nil {
		<-o.done
	}
	close(o.updates)
}

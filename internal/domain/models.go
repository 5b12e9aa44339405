package domain

import "time"

// SessionStatus is the lifecycle state of a quiz session.
type SessionStatus string

const (
	StatusWaiting    SessionStatus = "waiting"
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
)

// QuestionState is the sub-state of the active question.
type QuestionState string

const (
	StateAnswering     QuestionState = "answering"
	StateShowingAnswer QuestionState = "showing_answer"
)

// Question models an MCQ question; CorrectAnswer indexes into Options.
type Question struct {
	Text          string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correctAnswer"`
}

// Quiz is an owner-scoped collection of questions.
type Quiz struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"ownerId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Published   bool       `json:"published"`
	Questions   []Question `json:"questions"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Session is one live instance of a quiz, identified by a short join code.
type Session struct {
	ID          string        `json:"id"`
	QuizID      string        `json:"quizId"`
	HostID      string        `json:"hostId"`
	Code        string        `json:"code"`
	Status      SessionStatus `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
}

// Progress is the single authoritative record of which question is active
// and whether its answer is revealed. One row per session; clients never
// keep their own counter.
type Progress struct {
	SessionID            string        `json:"sessionId"`
	CurrentQuestionIndex int           `json:"currentQuestionIndex"`
	QuestionState        QuestionState `json:"questionState"`
}

// Participant is a joined player. Nothing binds a participant to a
// returning identity; name collisions are allowed.
type Participant struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Name      string    `json:"name"`
	JoinedAt  time.Time `json:"joinedAt"`
}

// Answer records one submission. At most one row exists per
// (ParticipantID, QuestionIndex); rows are never mutated.
type Answer struct {
	ID             string    `json:"id"`
	ParticipantID  string    `json:"participantId"`
	SessionID      string    `json:"sessionId"`
	QuestionIndex  int       `json:"questionIndex"`
	SelectedOption int       `json:"selectedOption"`
	SubmittedAt    time.Time `json:"submittedAt"`
}

// Verdict is returned to the submitter only; other participants never see
// who answered what.
type Verdict struct {
	QuestionIndex  int  `json:"questionIndex"`
	SelectedOption int  `json:"selectedOption"`
	Correct        bool `json:"correct"`
}

package domain

import "errors"

var (
	// ErrUnauthorized is returned when a non-host invokes a host-only
	// transition or a non-owner mutates a quiz.
	ErrUnauthorized = errors.New("caller is not authorized")
	// ErrInvalidTransition is returned when a state machine operation is
	// invoked from a state that does not permit it (late submissions
	// included).
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrSessionNotFound is returned when no session matches the id or code.
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrParticipantNotFound is returned when a user tries to act before joining.
	ErrParticipantNotFound = errors.New("participant not found in session")
	// ErrDuplicateSubmission is returned when an answer already exists for
	// the (participant, question) pair. The store constraint is the source
	// of truth for this signal.
	ErrDuplicateSubmission = errors.New("answer already submitted for question")
	// ErrOptionOutOfRange indicates a selected option index outside the
	// question's options.
	ErrOptionOutOfRange = errors.New("selected option out of range")
	// ErrCodeUnavailable is returned when no free join code could be reserved.
	ErrCodeUnavailable = errors.New("join code unavailable")
	// ErrStoreUnavailable wraps transient store failures; local state must
	// be left unchanged so a retry is safe.
	ErrStoreUnavailable = errors.New("store unavailable")
)

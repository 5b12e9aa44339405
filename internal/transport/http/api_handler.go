package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"quiz-live-service/internal/app"
	"quiz-live-service/internal/domain"
)

// APIHandler exposes the quiz authoring surface and session creation over
// plain JSON. The caller identity arrives as an opaque id header; credential
// mechanics live outside this service.
type APIHandler struct {
	quizzes  *app.QuizService
	sessions *app.SessionService
}

func NewAPIHandler(quizzes *app.QuizService, sessions *app.SessionService) *APIHandler {
	return &APIHandler{quizzes: quizzes, sessions: sessions}
}

func (h *APIHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /quizzes", h.createQuiz)
	mux.HandleFunc("GET /quizzes", h.listQuizzes)
	mux.HandleFunc("GET /quizzes/{id}", h.getQuiz)
	mux.HandleFunc("PUT /quizzes/{id}", h.updateQuiz)
	mux.HandleFunc("POST /sessions", h.createSession)
}

const userHeader = "X-User-ID"

type quizRequest struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Published   bool              `json:"published"`
	Questions   []domain.Question `json:"questions"`
}

func (h *APIHandler) createQuiz(w http.ResponseWriter, r *http.Request) {
	callerID := r.Header.Get(userHeader)
	if callerID == "" {
		http.Error(w, "missing "+userHeader, http.StatusUnauthorized)
		return
	}
	var req quizRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	quiz, err := h.quizzes.CreateQuiz(r.Context(), callerID, req.Title, req.Description, req.Questions)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, quiz)
}

func (h *APIHandler) listQuizzes(w http.ResponseWriter, r *http.Request) {
	callerID := r.Header.Get(userHeader)
	if callerID == "" {
		http.Error(w, "missing "+userHeader, http.StatusUnauthorized)
		return
	}
	quizzes, err := h.quizzes.ListQuizzes(r.Context(), callerID)
	if err != nil {
		writeError(w, err)
		return
	}
	if quizzes == nil {
		quizzes = []domain.Quiz{}
	}
	writeJSON(w, http.StatusOK, quizzes)
}

func (h *APIHandler) getQuiz(w http.ResponseWriter, r *http.Request) {
	quiz, err := h.quizzes.GetQuiz(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

func (h *APIHandler) updateQuiz(w http.ResponseWriter, r *http.Request) {
	callerID := r.Header.Get(userHeader)
	if callerID == "" {
		http.Error(w, "missing "+userHeader, http.StatusUnauthorized)
		return
	}
	var req quizRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	quiz, err := h.quizzes.UpdateQuiz(r.Context(), callerID, domain.Quiz{
		ID:          r.PathValue("id"),
		Title:       req.Title,
		Description: req.Description,
		Published:   req.Published,
		Questions:   req.Questions,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

type createSessionRequest struct {
	QuizID string `json:"quizId"`
}

func (h *APIHandler) createSession(w http.ResponseWriter, r *http.Request) {
	callerID := r.Header.Get(userHeader)
	if callerID == "" {
		http.Error(w, "missing "+userHeader, http.StatusUnauthorized)
		return
	}
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	session, err := h.sessions.CreateSession(r.Context(), req.QuizID, callerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write json: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrQuizNotFound), errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrParticipantNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, app.ErrInvalidQuiz), errors.Is(err, domain.ErrOptionOutOfRange):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrDuplicateSubmission):
		status = http.StatusConflict
	}
	http.Error(w, err.Error(), status)
}

package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"quiz-live-service/internal/app"
	"quiz-live-service/internal/domain"
)

// ObserverFactory builds a per-connection observer for one session.
type ObserverFactory func(sessionID string) *app.Observer

type WSHandler struct {
	service   *app.SessionService
	observers ObserverFactory
	upgrader  websocket.Upgrader
}

func NewWSHandler(service *app.SessionService, observers ObserverFactory) *WSHandler {
	return &WSHandler{
		service:   service,
		observers: observers,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionIndex  int `json:"questionIndex"`
	SelectedOption int `json:"selectedOption"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type joinedPayload struct {
	Participant domain.Participant `json:"participant"`
	SessionID   string             `json:"sessionId"`
}

// ServeWS upgrades the request and attaches the client to a session.
// Participants connect with ?code=&name= (joining) or
// ?sessionId=&participantId= (rejoining); the host connects with
// ?sessionId=&userId=. Every client receives a state snapshot followed by a
// stream of state messages as the shared session mutates.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	sessionID := query.Get("sessionId")
	userID := query.Get("userId")
	participantID := query.Get("participantId")
	code := query.Get("code")
	name := query.Get("name")

	var joined *domain.Participant
	if code != "" {
		if name == "" {
			http.Error(w, "missing name", http.StatusBadRequest)
			return
		}
		participant, session, err := h.service.JoinByCode(r.Context(), code, name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		joined = &participant
		participantID = participant.ID
		sessionID = session.ID
	}
	if sessionID == "" {
		http.Error(w, "missing sessionId or code", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	observer := h.observers(sessionID)
	snapshot, err := observer.Open(r.Context())
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer observer.Close()
	if joined != nil {
		defer func() {
			if err := h.service.Leave(r.Context(), joined.ID); err != nil {
				log.Printf("ws leave failed: %v", err)
			}
		}()
	}

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case view, ok := <-observer.Updates():
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "state", Payload: view}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	if joined != nil {
		send <- outboundMessage[any]{Type: "joined", Payload: joinedPayload{Participant: *joined, SessionID: sessionID}}
	}
	send <- outboundMessage[any]{Type: "state", Payload: snapshot}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "start":
			if _, err := h.service.Start(r.Context(), sessionID, userID); err != nil {
				send <- errorMessage(err)
			}
		case "advance":
			if _, err := h.service.Advance(r.Context(), sessionID, userID); err != nil {
				send <- errorMessage(err)
			}
		case "complete":
			if _, err := h.service.Complete(r.Context(), sessionID, userID); err != nil {
				send <- errorMessage(err)
			}
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- errorMessage(errors.New("invalid answer payload"))
				continue
			}
			verdict, err := h.service.Submit(r.Context(), sessionID, participantID, payload.QuestionIndex, payload.SelectedOption)
			if err != nil {
				send <- errorMessage(err)
				continue
			}
			// The verdict goes to the submitter only; it is never broadcast.
			send <- outboundMessage[any]{Type: "answerResult", Payload: verdict}
		default:
			send <- errorMessage(errors.New("unsupported message type"))
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func errorMessage(err error) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
}

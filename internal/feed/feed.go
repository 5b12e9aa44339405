package feed

import (
	"sync"

	"quiz-live-service/internal/domain"
)

// Op is the kind of row change carried by an event.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Table names the logical table an event belongs to.
type Table string

const (
	TableSessions     Table = "sessions"
	TableParticipants Table = "participants"
	TableProgress     Table = "progress"
)

// Event is one row-level change. Exactly one of the payload pointers is set
// for inserts/updates; deletes carry only RowID. There is no cross-table
// ordering guarantee, only per-row write order for a given subscriber.
type Event struct {
	Table       Table
	Op          Op
	SessionID   string
	RowID       string
	Session     *domain.Session
	Participant *domain.Participant
	Progress    *domain.Progress
}

type subKey struct {
	table     Table
	sessionID string
}

// Hub fans row-change events out to subscribers filtered by (table, session).
// Stores publish into it after each successful write; observers subscribe.
// For multi-instance deployments you'd pair this with a pub/sub projector.
type Hub struct {
	mu   sync.Mutex
	subs map[subKey]map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[subKey]map[chan Event]struct{})}
}

// Subscribe registers a channel for changes to one table scoped by session.
// The caller must invoke the returned cancel function to avoid leaks.
func (h *Hub) Subscribe(table Table, sessionID string) (<-chan Event, func()) {
	ch := make(chan Event, 8)
	key := subKey{table: table, sessionID: sessionID}

	h.mu.Lock()
	if h.subs[key] == nil {
		h.subs[key] = make(map[chan Event]struct{})
	}
	h.subs[key][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[key]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(h.subs, key)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an event to every matching subscriber. Delivery never
// blocks: a full subscriber channel has its oldest event dropped so slow
// clients cannot stall the feed.
func (h *Hub) Publish(ev Event) {
	key := subKey{table: ev.Table, sessionID: ev.SessionID}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[key] {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- ev
		}
	}
}

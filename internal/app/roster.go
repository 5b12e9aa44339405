package app

import (
	"quiz-live-service/internal/domain"
	"quiz-live-service/internal/feed"
)

// Roster folds a stream of participant insert/delete events onto an initial
// snapshot. The snapshot fetch and the subscription start are independent
// operations that may overlap, so inserts are an idempotent union by id and
// deleting an unknown id is a no-op. Order is arrival order, not
// joinedAt-sorted.
type Roster struct {
	order []string
	byID  map[string]domain.Participant
}

func NewRoster(initial []domain.Participant) *Roster {
	r := &Roster{byID: make(map[string]domain.Participant, len(initial))}
	for _, p := range initial {
		r.Add(p)
	}
	return r
}

// Add inserts the participant unless already present; reports whether the
// roster changed.
func (r *Roster) Add(p domain.Participant) bool {
	if _, ok := r.byID[p.ID]; ok {
		return false
	}
	r.byID[p.ID] = p
	r.order = append(r.order, p.ID)
	return true
}

// Remove deletes by id; unknown ids (duplicate delivery) change nothing.
func (r *Roster) Remove(id string) bool {
	if _, ok := r.byID[id]; !ok {
		return false
	}
	delete(r.byID, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Apply folds one participant change event; reports whether the roster changed.
func (r *Roster) Apply(ev feed.Event) bool {
	if ev.Table != feed.TableParticipants {
		return false
	}
	switch ev.Op {
	case feed.OpInsert:
		if ev.Participant == nil {
			return false
		}
		return r.Add(*ev.Participant)
	case feed.OpDelete:
		return r.Remove(ev.RowID)
	}
	return false
}

// Participants returns the roster in arrival order.
func (r *Roster) Participants() []domain.Participant {
	out := make([]domain.Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

func (r *Roster) Len() int {
	return len(r.byID)
}

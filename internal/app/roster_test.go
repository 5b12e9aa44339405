package app_test

import (
	"testing"
	"time"

	"quiz-live-service/internal/app"
	"quiz-live-service/internal/domain"
	"quiz-live-service/internal/feed"
)

func participant(id, name string) domain.Participant {
	return domain.Participant{ID: id, SessionID: "s1", Name: name, JoinedAt: time.Now()}
}

func insertEvent(p domain.Participant) feed.Event {
	return feed.Event{
		Table:       feed.TableParticipants,
		Op:          feed.OpInsert,
		SessionID:   p.SessionID,
		RowID:       p.ID,
		Participant: &p,
	}
}

func deleteEvent(id string) feed.Event {
	return feed.Event{
		Table:     feed.TableParticipants,
		Op:        feed.OpDelete,
		SessionID: "s1",
		RowID:     id,
	}
}

func TestRosterInsertIsIdempotent(t *testing.T) {
	roster := app.NewRoster(nil)
	ana := participant("p1", "Ana")

	if !roster.Apply(insertEvent(ana)) {
		t.Fatalf("first insert should change the roster")
	}
	// Duplicate delivery: the snapshot fetch and the subscription overlap.
	if roster.Apply(insertEvent(ana)) {
		t.Fatalf("second insert of same id should be a no-op")
	}
	if roster.Len() != 1 {
		t.Fatalf("expected exactly one entry, got %d", roster.Len())
	}
}

func TestRosterSnapshotOverlapsSubscription(t *testing.T) {
	ana := participant("p1", "Ana")
	ben := participant("p2", "Ben")
	roster := app.NewRoster([]domain.Participant{ana})

	// The insert event for Ana raced the snapshot and arrives again.
	roster.Apply(insertEvent(ana))
	roster.Apply(insertEvent(ben))

	got := roster.Participants()
	if len(got) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(got))
	}
	if got[0].Name != "Ana" || got[1].Name != "Ben" {
		t.Fatalf("expected arrival order [Ana Ben], got %+v", got)
	}
}

func TestRosterDeleteUnknownIsNoop(t *testing.T) {
	roster := app.NewRoster([]domain.Participant{participant("p1", "Ana")})

	if roster.Apply(deleteEvent("nope")) {
		t.Fatalf("deleting unknown id should change nothing")
	}
	if !roster.Apply(deleteEvent("p1")) {
		t.Fatalf("delete of known id should apply")
	}
	// Duplicate delete delivery.
	if roster.Apply(deleteEvent("p1")) {
		t.Fatalf("second delete should be a no-op")
	}
	if roster.Len() != 0 {
		t.Fatalf("expected empty roster, got %d", roster.Len())
	}
}

func TestRosterIgnoresOtherTables(t *testing.T) {
	roster := app.NewRoster(nil)
	ev := feed.Event{Table: feed.TableProgress, Op: feed.OpUpdate, SessionID: "s1"}
	if roster.Apply(ev) {
		t.Fatalf("progress events must not touch the roster")
	}
}

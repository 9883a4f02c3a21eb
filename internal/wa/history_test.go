package wa

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/matheus3301/wppsync/internal/store"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waHistorySync"
	"google.golang.org/protobuf/proto"
)

func onDemand(chat string, msgs ...*waHistorySync.HistorySyncMsg) *waHistorySync.HistorySync {
	return &waHistorySync.HistorySync{
		SyncType: waHistorySync.HistorySync_ON_DEMAND.Enum(),
		Conversations: []*waHistorySync.Conversation{
			{ID: proto.String(chat), Messages: msgs},
		},
	}
}

func historyMsg(id string, ts uint64) *waHistorySync.HistorySyncMsg {
	return &waHistorySync.HistorySyncMsg{
		Message: webMessage(id, ts, false, &waE2E.Message{Conversation: proto.String(id)}),
	}
}

func TestRouterDeliversNewestFirst(t *testing.T) {
	r := NewHistoryRouter(nil, nil)
	ch, release, err := r.Await("c@g.us")
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	served := r.Deliver(onDemand("c@g.us", historyMsg("old", 10), historyMsg("new", 30), historyMsg("mid", 20)))
	if served != 1 {
		t.Fatalf("served = %d, want 1", served)
	}

	recs := <-ch
	if len(recs) != 3 || recs[0].MessageID != "new" || recs[2].MessageID != "old" {
		t.Errorf("records = %+v, want newest first", recs)
	}
}

func TestRouterIgnoresUnrequestedChats(t *testing.T) {
	r := NewHistoryRouter(nil, nil)
	ch, release, _ := r.Await("a@g.us")
	defer release()

	if served := r.Deliver(onDemand("b@g.us", historyMsg("x", 1))); served != 0 {
		t.Errorf("served = %d, want 0", served)
	}
	select {
	case recs := <-ch:
		t.Errorf("unexpected delivery %+v", recs)
	default:
	}
}

func TestRouterEmptyResponse(t *testing.T) {
	r := NewHistoryRouter(nil, nil)
	ch, release, _ := r.Await("a@g.us")
	defer release()

	if served := r.Deliver(&waHistorySync.HistorySync{SyncType: waHistorySync.HistorySync_ON_DEMAND.Enum()}); served != 1 {
		t.Fatalf("served = %d, want 1", served)
	}
	if recs := <-ch; len(recs) != 0 {
		t.Errorf("records = %+v, want none", recs)
	}

	// With two waiters nobody can claim an empty response.
	_, release2, _ := r.Await("b@g.us")
	defer release2()
	_, release3, _ := r.Await("c@g.us")
	defer release3()
	release()
	if served := r.Deliver(&waHistorySync.HistorySync{}); served != 0 {
		t.Errorf("served = %d with two waiters, want 0", served)
	}
}

func TestRouterSingleRequestPerChat(t *testing.T) {
	r := NewHistoryRouter(nil, nil)
	_, release, err := r.Await("a@g.us")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := r.Await("a@g.us"); !errors.Is(err, ErrRequestInFlight) {
		t.Errorf("second Await err = %v, want ErrRequestInFlight", err)
	}
	release()
	if _, release, err := r.Await("a@g.us"); err != nil {
		t.Errorf("Await after release: %v", err)
	} else {
		release()
	}
}

func TestRouterAnchorTracksNewest(t *testing.T) {
	r := NewHistoryRouter(nil, nil)
	if _, ok := r.Anchor("c"); ok {
		t.Fatal("anchor for unknown chat")
	}
	r.Observe([]store.FetchedRecord{
		{ConversationID: "c", MessageID: "b", Timestamp: 20},
		{ConversationID: "c", MessageID: "a", Timestamp: 10},
	})
	if rec, ok := r.Anchor("c"); !ok || rec.MessageID != "b" {
		t.Errorf("anchor = %+v, %v; want b", rec, ok)
	}
}

func TestRouterAnchorFallsBackToDatabase(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	NewHistoryRouter(db, nil).Observe([]store.FetchedRecord{{ConversationID: "c", MessageID: "m9", Timestamp: 90}})

	// A fresh router only knows what the first one mirrored.
	rec, ok := NewHistoryRouter(db, nil).Anchor("c")
	if !ok || rec.MessageID != "m9" {
		t.Errorf("anchor = %+v, %v; want m9", rec, ok)
	}
}

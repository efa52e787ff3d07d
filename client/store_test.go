package client

import (
	"strings"
	"testing"
	"time"

	"palaver/models"
)

func msgAt(id, sender, receiver, content string, ts time.Time) models.Message {
	return models.Message{
		ID:        id,
		Sender:    sender,
		Receiver:  receiver,
		Content:   content,
		Timestamp: ts,
		Status:    models.StatusSent,
	}
}

func TestStoreOrdersByTimestampRegardlessOfArrival(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewMessageStore()

	s.UpsertFromServer(msgAt("m3", "a", "b", "third", base.Add(2*time.Minute)))
	s.UpsertFromServer(msgAt("m1", "a", "b", "first", base))
	s.UpsertFromServer(msgAt("m2", "b", "a", "second", base.Add(time.Minute)))

	got := s.Messages()
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if got[i].ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, got[i].ID)
		}
	}
}

func TestStoreEqualTimestampsKeepInsertionOrder(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewMessageStore()

	s.UpsertFromServer(msgAt("m1", "a", "b", "one", ts))
	s.UpsertFromServer(msgAt("m2", "a", "b", "two", ts))

	got := s.Messages()
	if got[0].ID != "m1" || got[1].ID != "m2" {
		t.Fatalf("equal timestamps reordered: %s, %s", got[0].ID, got[1].ID)
	}
}

func TestStoreOptimisticEchoDedup(t *testing.T) {
	ts := time.Now()
	s := NewMessageStore()

	localID := s.InsertOptimistic(models.Message{
		Sender: "alice", Receiver: "bob", Content: "hi", Timestamp: ts,
	})
	if !strings.HasPrefix(localID, "local-") {
		t.Fatalf("expected placeholder id, got %s", localID)
	}

	echo := msgAt("srv-1", "alice", "bob", "hi", ts.Add(2*time.Second))
	s.UpsertFromServer(echo)

	if s.Len() != 1 {
		t.Fatalf("expected one entry after echo, got %d", s.Len())
	}
	got := s.Messages()[0]
	if got.ID != "srv-1" {
		t.Fatalf("pending entry not promoted, id = %s", got.ID)
	}
	if _, ok := s.Get(localID); ok {
		t.Fatal("placeholder id still resolvable after promotion")
	}
}

func TestStoreEchoOutsideWindowAppends(t *testing.T) {
	ts := time.Now()
	s := NewMessageStore()

	s.InsertOptimistic(models.Message{Sender: "alice", Receiver: "bob", Content: "hi", Timestamp: ts})
	s.UpsertFromServer(msgAt("srv-1", "alice", "bob", "hi", ts.Add(time.Minute)))

	if s.Len() != 2 {
		t.Fatalf("timestamps a minute apart must not match, got %d entries", s.Len())
	}
}

func TestStoreEchoDifferentContentAppends(t *testing.T) {
	ts := time.Now()
	s := NewMessageStore()

	s.InsertOptimistic(models.Message{Sender: "alice", Receiver: "bob", Content: "hi", Timestamp: ts})
	s.UpsertFromServer(msgAt("srv-1", "alice", "bob", "hello", ts))

	if s.Len() != 2 {
		t.Fatalf("different content must not match, got %d entries", s.Len())
	}
}

func TestStorePromotionIsSpentAfterFirstEcho(t *testing.T) {
	ts := time.Now()
	s := NewMessageStore()

	s.InsertOptimistic(models.Message{Sender: "alice", Receiver: "bob", Content: "hi", Timestamp: ts})
	s.UpsertFromServer(msgAt("srv-1", "alice", "bob", "hi", ts))
	// A second identical send arrives as a genuinely new message.
	s.UpsertFromServer(msgAt("srv-2", "alice", "bob", "hi", ts.Add(time.Second)))

	if s.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", s.Len())
	}
}

func TestStoreUpsertByIDUpdatesInPlace(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewMessageStore()
	s.UpsertFromServer(msgAt("m1", "a", "b", "one", base))
	s.UpsertFromServer(msgAt("m2", "a", "b", "two", base.Add(time.Minute)))

	update := msgAt("m1", "a", "b", "one", base)
	update.Status = models.StatusRead
	update.Reactions = []models.Reaction{{User: "b", Reaction: "👍"}}
	s.UpsertFromServer(update)

	if s.Len() != 2 {
		t.Fatalf("update duplicated the entry: %d", s.Len())
	}
	got := s.Messages()[0]
	if got.ID != "m1" || got.Status != models.StatusRead || len(got.Reactions) != 1 {
		t.Fatalf("in-place update not applied: %+v", got)
	}
}

func TestStoreUpdateNeverRegressesStatus(t *testing.T) {
	ts := time.Now()
	s := NewMessageStore()
	m := msgAt("m1", "a", "b", "one", ts)
	m.Status = models.StatusRead
	s.UpsertFromServer(m)

	stale := msgAt("m1", "a", "b", "one", ts)
	stale.Status = models.StatusDelivered
	s.UpsertFromServer(stale)

	if got, _ := s.Get("m1"); got.Status != models.StatusRead {
		t.Fatalf("status regressed to %s", got.Status)
	}
}

func TestStoreSeedReplacesWholesale(t *testing.T) {
	ts := time.Now()
	s := NewMessageStore()
	s.UpsertFromServer(msgAt("old", "a", "b", "stale", ts))

	s.Seed([]models.Message{
		msgAt("m1", "a", "c", "one", ts),
		msgAt("m2", "c", "a", "two", ts.Add(time.Second)),
	})

	if s.Len() != 2 {
		t.Fatalf("expected 2 after seed, got %d", s.Len())
	}
	if _, ok := s.Get("old"); ok {
		t.Fatal("seed kept an entry from the previous conversation")
	}
}

func TestStoreSeedCarriesUnresolvedOptimisticEntry(t *testing.T) {
	ts := time.Now()
	s := NewMessageStore()
	localID := s.InsertOptimistic(models.Message{
		Sender: "alice", Receiver: "bob", Content: "racing", Timestamp: ts,
	})

	s.Seed([]models.Message{msgAt("m1", "bob", "alice", "hi", ts.Add(-time.Minute))})

	if s.Len() != 2 {
		t.Fatalf("expected history plus the pending entry, got %d", s.Len())
	}
	if _, ok := s.Get(localID); !ok {
		t.Fatal("pending entry lost across seed")
	}

	// The later echo still promotes it in place.
	s.UpsertFromServer(msgAt("srv-1", "alice", "bob", "racing", ts))
	if s.Len() != 2 {
		t.Fatalf("echo duplicated the carried entry: %d", s.Len())
	}
	if _, ok := s.Get("srv-1"); !ok {
		t.Fatal("carried entry not promoted by the echo")
	}
}

func TestStoreSeedDropsOptimisticEntryAlreadyInHistory(t *testing.T) {
	ts := time.Now()
	s := NewMessageStore()
	s.InsertOptimistic(models.Message{
		Sender: "alice", Receiver: "bob", Content: "racing", Timestamp: ts,
	})

	s.Seed([]models.Message{msgAt("srv-1", "alice", "bob", "racing", ts)})

	if s.Len() != 1 {
		t.Fatalf("expected the server copy alone, got %d entries", s.Len())
	}
	if s.Messages()[0].ID != "srv-1" {
		t.Fatalf("expected the server copy to win, got %s", s.Messages()[0].ID)
	}
}

func TestStoreMarkDeleted(t *testing.T) {
	ts := time.Now()
	s := NewMessageStore()
	s.UpsertFromServer(msgAt("m1", "a", "b", "one", ts))

	if !s.MarkDeleted("m1") {
		t.Fatal("expected delete to report removal")
	}
	if s.Len() != 0 {
		t.Fatalf("entry survived delete: %d", s.Len())
	}
	if s.MarkDeleted("m1") {
		t.Fatal("second delete of same id must be a no-op")
	}
}

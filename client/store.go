package client

import (
	"time"

	"github.com/google/uuid"

	"palaver/models"
)

// dedupWindow is how far apart an optimistic send and its server echo may
// be timestamped and still be treated as the same logical message. The
// protocol does not round-trip the local placeholder id, so the match is
// sender + receiver + content + timestamp proximity.
const dedupWindow = 5 * time.Second

const localIDPrefix = "local-"

type storeEntry struct {
	msg     models.Message
	seq     int // insertion order, tiebreak for equal timestamps
	pending bool
}

// MessageStore is the ordered, deduplicated message log for the one open
// conversation. No two entries ever represent the same logical message.
// It is not safe for concurrent use; the synchronizer serializes access.
type MessageStore struct {
	entries []*storeEntry
	nextSeq int
}

func NewMessageStore() *MessageStore {
	return &MessageStore{}
}

// Seed replaces the log wholesale with a history fetch. Unresolved
// optimistic entries are carried over so a send racing the fetch stays
// visible; one the fetched history already contains is dropped in favor
// of the server copy.
func (s *MessageStore) Seed(messages []models.Message) {
	var pending []*storeEntry
	for _, e := range s.entries {
		if e.pending {
			pending = append(pending, e)
		}
	}
	s.entries = s.entries[:0]
	s.nextSeq = 0
	for _, m := range messages {
		s.insert(m, false)
	}
	for _, e := range pending {
		if s.seededCopyOf(e.msg) == nil {
			s.insert(e.msg, true)
		}
	}
}

// InsertOptimistic appends a locally sent message before the server has
// acknowledged it, and returns its placeholder id.
func (s *MessageStore) InsertOptimistic(draft models.Message) string {
	draft.ID = localIDPrefix + uuid.NewString()
	draft.Status = models.StatusSent
	s.insert(draft, true)
	return draft.ID
}

// UpsertFromServer merges a server-authoritative message into the log.
// Reconciliation order: by id when already present (pure in-place
// update); otherwise against an unresolved pending entry with the same
// sender, receiver and content within the dedup window, which is
// promoted in place to carry the server id; otherwise appended as new.
// Entries never move on update, only inserts choose a position.
func (s *MessageStore) UpsertFromServer(m models.Message) {
	if e := s.find(m.ID); e != nil {
		s.apply(e, m)
		return
	}
	if e := s.matchPending(m); e != nil {
		e.pending = false
		s.apply(e, m)
		return
	}
	s.insert(m, false)
}

// apply overwrites an entry's server-owned fields without moving it.
// Status only advances; the authoritative reaction set replaces the old.
func (s *MessageStore) apply(e *storeEntry, m models.Message) {
	if e.msg.Status.Before(m.Status) {
		e.msg.Status = m.Status
	}
	e.msg.ID = m.ID
	e.msg.Content = m.Content
	e.msg.Timestamp = m.Timestamp
	e.msg.Reactions = m.Reactions
	e.msg.Deleted = m.Deleted
}

// SetStatus advances a message's status. Requests equal to or behind the
// current status are ignored. Reports whether anything changed.
func (s *MessageStore) SetStatus(id string, status models.Status) bool {
	e := s.find(id)
	if e == nil || !e.msg.Status.Before(status) {
		return false
	}
	e.msg.Status = status
	return true
}

// SetReactions replaces a message's reaction set with the authoritative
// one from the server.
func (s *MessageStore) SetReactions(id string, reactions []models.Reaction) bool {
	e := s.find(id)
	if e == nil {
		return false
	}
	e.msg.Reactions = reactions
	return true
}

// MarkDeleted removes a message from the log. This is the only
// destructive operation.
func (s *MessageStore) MarkDeleted(id string) bool {
	for i, e := range s.entries {
		if e.msg.ID == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns a copy of the message with the given id.
func (s *MessageStore) Get(id string) (models.Message, bool) {
	if e := s.find(id); e != nil {
		return e.msg, true
	}
	return models.Message{}, false
}

// Messages returns a snapshot of the log in display order.
func (s *MessageStore) Messages() []models.Message {
	out := make([]models.Message, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.msg
	}
	return out
}

// Len returns the number of messages in the log.
func (s *MessageStore) Len() int {
	return len(s.entries)
}

func (s *MessageStore) find(id string) *storeEntry {
	if id == "" {
		return nil
	}
	for _, e := range s.entries {
		if e.msg.ID == id {
			return e
		}
	}
	return nil
}

func (s *MessageStore) matchPending(m models.Message) *storeEntry {
	for _, e := range s.entries {
		if e.pending && sameSend(e.msg, m) {
			return e
		}
	}
	return nil
}

// seededCopyOf finds a resolved entry that is the server's copy of a
// still-pending send.
func (s *MessageStore) seededCopyOf(m models.Message) *storeEntry {
	for _, e := range s.entries {
		if !e.pending && sameSend(e.msg, m) {
			return e
		}
	}
	return nil
}

func sameSend(a, b models.Message) bool {
	if a.Sender != b.Sender || a.Receiver != b.Receiver || a.Content != b.Content {
		return false
	}
	delta := a.Timestamp.Sub(b.Timestamp)
	if delta < 0 {
		delta = -delta
	}
	return delta <= dedupWindow
}

// insert places the message at its sorted position: ascending timestamp,
// insertion sequence breaking ties.
func (s *MessageStore) insert(m models.Message, pending bool) {
	e := &storeEntry{msg: m, seq: s.nextSeq, pending: pending}
	s.nextSeq++

	pos := len(s.entries)
	for pos > 0 && s.entries[pos-1].msg.Timestamp.After(m.Timestamp) {
		pos--
	}

	s.entries = append(s.entries, nil)
	copy(s.entries[pos+1:], s.entries[pos:])
	s.entries[pos] = e
}

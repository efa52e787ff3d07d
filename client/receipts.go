package client

import "palaver/models"

// ReceiptStateMachine advances each message through sent, delivered,
// read. The order is total; a transition to a state equal to or behind
// the current one is a no-op, never an error.
type ReceiptStateMachine struct {
	store *MessageStore
}

func NewReceiptStateMachine(store *MessageStore) *ReceiptStateMachine {
	return &ReceiptStateMachine{store: store}
}

// Advance requests a forward transition for one message. Reports whether
// the status actually moved.
func (r *ReceiptStateMachine) Advance(id string, to models.Status) bool {
	return r.store.SetStatus(id, to)
}

// ApplySeen folds a messages_seen batch into the log. Messages not in
// the open conversation's log are skipped; their stored state catches up
// on the next history fetch.
func (r *ReceiptStateMachine) ApplySeen(messages []models.Message) int {
	advanced := 0
	for _, m := range messages {
		if r.Advance(m.ID, models.StatusRead) {
			advanced++
		}
	}
	return advanced
}

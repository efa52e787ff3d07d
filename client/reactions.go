package client

import "palaver/models"

// ReactionAggregator maintains per-message reaction sets. Toggling is
// the unit of synchronization: the request goes to the server and the
// local set changes only when the authoritative result is echoed back,
// so two rapid toggles cancel exactly once, not twice.
type ReactionAggregator struct {
	store *MessageStore
	send  func(name string, data any) error
}

func NewReactionAggregator(store *MessageStore, send func(name string, data any) error) *ReactionAggregator {
	return &ReactionAggregator{store: store, send: send}
}

// Toggle asks the server to flip (user, reaction) on a message. No local
// state changes until reaction_updated arrives.
func (a *ReactionAggregator) Toggle(messageID, user, reaction string) error {
	return a.send(models.EventToggleReaction, models.ToggleReactionPayload{
		MessageID: messageID,
		User:      user,
		Reaction:  reaction,
	})
}

// ApplyUpdate installs the authoritative reaction set for a message.
// Last writer wins.
func (a *ReactionAggregator) ApplyUpdate(messageID string, reactions []models.Reaction) bool {
	return a.store.SetReactions(messageID, reactions)
}

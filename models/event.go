package models

import (
	"encoding/json"
	"time"
)

// Event is the envelope for every frame on the live channel.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// Channel event names. Outbound means client to server.
const (
	EventUserConnected   = "user_connected"   // outbound: username
	EventOnlineUsers     = "online_users"     // inbound: []username
	EventSendMessage     = "send_message"     // outbound: SendMessagePayload
	EventReceiveMessage  = "receive_message"  // inbound: Message
	EventTyping          = "typing"           // both: TypingPayload (inbound carries sender only)
	EventAckDelivered    = "ack_delivered"    // outbound: MessageRef
	EventMarkSeen        = "mark_seen"        // outbound: MarkSeenPayload
	EventMessagesSeen    = "messages_seen"    // inbound: MessagesSeenPayload
	EventToggleReaction  = "toggle_reaction"  // outbound: ToggleReactionPayload
	EventReactionUpdated = "reaction_updated" // inbound: ReactionUpdatedPayload
	EventMessageDeleted  = "message_deleted"  // inbound: MessageRef
	EventMessageUpdated  = "message_updated"  // inbound: Message
)

// NewEvent wraps a payload into an Event envelope.
func NewEvent(name string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Name: name, Data: raw}, nil
}

// SendMessagePayload is the outbound body of send_message. The id is
// assigned by the server; the echoed receive_message carries it.
type SendMessagePayload struct {
	Sender    string    `json:"sender"`
	Receiver  string    `json:"receiver"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// TypingPayload is a typing pulse. The receiver field is only present
// outbound; inbound pulses carry the sender and expire client-side.
type TypingPayload struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver,omitempty"`
}

// MessageRef addresses a single message by id.
type MessageRef struct {
	MessageID string `json:"message_id"`
}

// MarkSeenPayload asks the server to mark every unread message from
// Sender to Receiver as read, as one batch.
type MarkSeenPayload struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
}

// MessagesSeenPayload notifies the original sender which of their
// messages Receiver has read.
type MessagesSeenPayload struct {
	Receiver string    `json:"receiver"`
	Messages []Message `json:"messages"`
}

// ToggleReactionPayload flips membership of (User, Reaction) on a message.
type ToggleReactionPayload struct {
	MessageID string `json:"message_id"`
	User      string `json:"user"`
	Reaction  string `json:"reaction"`
}

// ReactionUpdatedPayload carries the authoritative reaction set after a
// toggle has been applied server-side.
type ReactionUpdatedPayload struct {
	MessageID string     `json:"message_id"`
	Reactions []Reaction `json:"reactions"`
}

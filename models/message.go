package models

import "time"

// Status is the sender-visible delivery state of a message.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

var statusRank = map[Status]int{
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// Rank returns the position of s in the sent < delivered < read order.
// Unknown values rank below sent.
func (s Status) Rank() int {
	return statusRank[s]
}

// Before reports whether s comes strictly before other in delivery order.
func (s Status) Before(other Status) bool {
	return s.Rank() < other.Rank()
}

// Reaction is one user's emoji toggle on a message. A message carries at
// most one entry per (User, Reaction) pair.
type Reaction struct {
	User     string `json:"user"`
	Reaction string `json:"reaction"`
}

// Message represents a chat message between two users
type Message struct {
	ID        string     `json:"id"`
	Sender    string     `json:"sender"`
	Receiver  string     `json:"receiver"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
	Status    Status     `json:"status"`
	Reactions []Reaction `json:"reactions,omitempty"`
	Deleted   bool       `json:"deleted,omitempty"`
}

// InConversation reports whether the message belongs to the thread between
// a and b, in either direction.
func (m *Message) InConversation(a, b string) bool {
	return (m.Sender == a && m.Receiver == b) || (m.Sender == b && m.Receiver == a)
}

// HasReaction reports whether user currently holds the given reaction.
func (m *Message) HasReaction(user, reaction string) bool {
	for _, r := range m.Reactions {
		if r.User == user && r.Reaction == reaction {
			return true
		}
	}
	return false
}

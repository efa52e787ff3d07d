package client

import (
	"sort"
	"sync"
	"time"

	"palaver/models"
)

// PresenceTracker mirrors server-announced presence: the set of online
// users and each user's last seen timestamp. Entries are never deleted.
type PresenceTracker struct {
	mu       sync.Mutex
	online   map[string]bool
	lastSeen map[string]time.Time
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{
		online:   make(map[string]bool),
		lastSeen: make(map[string]time.Time),
	}
}

// SetOnline replaces the online set with a fresh online_users payload.
// Users dropping out of the set get a local last-seen stamp until the
// next user-list fetch supplies the server's.
func (p *PresenceTracker) SetOnline(users []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := make(map[string]bool, len(users))
	for _, u := range users {
		next[u] = true
	}
	now := time.Now()
	for u := range p.online {
		if !next[u] {
			p.lastSeen[u] = now
		}
	}
	p.online = next
}

// Seed installs last-seen timestamps from a user-list fetch.
func (p *PresenceTracker) Seed(users []models.UserInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, u := range users {
		if u.LastSeen != nil {
			p.lastSeen[u.Username] = *u.LastSeen
		}
		if u.Online {
			p.online[u.Username] = true
		}
	}
}

// Online reports whether the user is currently connected.
func (p *PresenceTracker) Online(user string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[user]
}

// LastSeen returns the user's last seen timestamp, if known.
func (p *PresenceTracker) LastSeen(user string) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.lastSeen[user]
	return t, ok
}

// OnlineUsers returns the sorted list of online usernames.
func (p *PresenceTracker) OnlineUsers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.online))
	for u := range p.online {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

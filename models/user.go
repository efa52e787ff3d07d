package models

import "time"

// User represents a user in the system
type User struct {
	Username  string     `json:"username"`
	Password  string     `json:"-"` // Never send password in JSON
	CreatedAt time.Time  `json:"created_at"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
}

// UserInfo is the safe version of User for API responses
type UserInfo struct {
	Username string     `json:"username"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
	Online   bool       `json:"online"`
}

// ToInfo converts User to UserInfo
func (u *User) ToInfo() UserInfo {
	return UserInfo{
		Username: u.Username,
		LastSeen: u.LastSeen,
		Online:   false,
	}
}

// Session is a server-side login session backing the session cookie
type Session struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

package database

import (
	"database/sql"
	"log"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"palaver/models"
)

var DB *sql.DB

// Initialize sets up the database connection and creates tables
func Initialize() error {
	path := os.Getenv("DATABASE_PATH")
	if path == "" {
		path = "palaver.db"
	}

	var err error
	DB, err = sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return err
	}

	// Test connection
	if err := DB.Ping(); err != nil {
		return err
	}

	// A single writer keeps sqlite happy under concurrent handlers
	DB.SetMaxOpenConns(1)

	// Create tables
	if err := createTables(); err != nil {
		return err
	}

	log.Println("Database initialized successfully")
	return nil
}

func createTables() error {
	tables := `
	CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		password TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		last_seen TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		expires_at TIMESTAMP NOT NULL,
		FOREIGN KEY (username) REFERENCES users(username) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		sender TEXT NOT NULL,
		receiver TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		status TEXT DEFAULT 'sent',
		FOREIGN KEY (sender) REFERENCES users(username) ON DELETE CASCADE,
		FOREIGN KEY (receiver) REFERENCES users(username) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS reactions (
		message_id TEXT NOT NULL,
		user TEXT NOT NULL,
		reaction TEXT NOT NULL,
		UNIQUE(message_id, user, reaction),
		FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender);
	CREATE INDEX IF NOT EXISTS idx_messages_receiver ON messages(receiver);
	CREATE INDEX IF NOT EXISTS idx_reactions_message ON reactions(message_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(username);
	`

	_, err := DB.Exec(tables)
	return err
}

// User queries

// CreateUser inserts a new user into the database
func CreateUser(username, password string) (*models.User, error) {
	_, err := DB.Exec(
		"INSERT INTO users (username, password) VALUES (?, ?)",
		username, password,
	)
	if err != nil {
		return nil, err
	}
	return GetUserByUsername(username)
}

// GetUserByUsername retrieves a user by their username
func GetUserByUsername(username string) (*models.User, error) {
	user := &models.User{}
	err := DB.QueryRow(
		"SELECT username, password, created_at, last_seen FROM users WHERE username = ?",
		username,
	).Scan(&user.Username, &user.Password, &user.CreatedAt, &user.LastSeen)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// ListUsers returns every registered user with their last seen timestamp
func ListUsers() ([]models.UserInfo, error) {
	rows, err := DB.Query("SELECT username, last_seen FROM users ORDER BY username")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.UserInfo
	for rows.Next() {
		var user models.UserInfo
		if err := rows.Scan(&user.Username, &user.LastSeen); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// TouchLastSeen records the moment a user's channel went away
func TouchLastSeen(username string, at time.Time) error {
	_, err := DB.Exec("UPDATE users SET last_seen = ? WHERE username = ?", at, username)
	return err
}

// Session queries

// CreateSession creates a new session for a user
func CreateSession(sessionID, username string, expiresAt time.Time) error {
	_, err := DB.Exec(
		"INSERT INTO sessions (id, username, expires_at) VALUES (?, ?, ?)",
		sessionID, username, expiresAt,
	)
	return err
}

// GetSession retrieves a session by its ID
func GetSession(sessionID string) (*models.Session, error) {
	session := &models.Session{}
	err := DB.QueryRow(
		"SELECT id, username, created_at, expires_at FROM sessions WHERE id = ? AND expires_at > ?",
		sessionID, time.Now(),
	).Scan(&session.ID, &session.Username, &session.CreatedAt, &session.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// DeleteSession removes a session
func DeleteSession(sessionID string) error {
	_, err := DB.Exec("DELETE FROM sessions WHERE id = ?", sessionID)
	return err
}

// Message queries

// CreateMessage stores a message. The caller assigns the id.
func CreateMessage(m *models.Message) error {
	_, err := DB.Exec(
		"INSERT INTO messages (id, sender, receiver, content, timestamp, status) VALUES (?, ?, ?, ?, ?, ?)",
		m.ID, m.Sender, m.Receiver, m.Content, m.Timestamp, m.Status,
	)
	return err
}

// GetMessageByID retrieves a message with its reactions
func GetMessageByID(id string) (*models.Message, error) {
	msg := &models.Message{}
	err := DB.QueryRow(
		"SELECT id, sender, receiver, content, timestamp, status FROM messages WHERE id = ?",
		id,
	).Scan(&msg.ID, &msg.Sender, &msg.Receiver, &msg.Content, &msg.Timestamp, &msg.Status)
	if err != nil {
		return nil, err
	}

	reactions, err := GetReactions(id)
	if err != nil {
		return nil, err
	}
	msg.Reactions = reactions
	return msg, nil
}

// GetMessagesBetween retrieves the full history between two users in
// chronological order
func GetMessagesBetween(a, b string) ([]models.Message, error) {
	rows, err := DB.Query(
		`SELECT id, sender, receiver, content, timestamp, status
		FROM messages
		WHERE (sender = ? AND receiver = ?) OR (sender = ? AND receiver = ?)
		ORDER BY timestamp ASC, rowid ASC`,
		a, b, b, a,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.Sender, &msg.Receiver, &msg.Content, &msg.Timestamp, &msg.Status); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range messages {
		reactions, err := GetReactions(messages[i].ID)
		if err != nil {
			return nil, err
		}
		messages[i].Reactions = reactions
	}
	return messages, nil
}

// AdvanceStatus moves a message's status forward. A request equal to or
// behind the stored status changes nothing and reports false.
func AdvanceStatus(id string, status models.Status) (bool, error) {
	var guard string
	switch status {
	case models.StatusDelivered:
		guard = "status = 'sent'"
	case models.StatusRead:
		guard = "status IN ('sent', 'delivered')"
	default:
		return false, nil
	}

	result, err := DB.Exec(
		"UPDATE messages SET status = ? WHERE id = ? AND "+guard,
		status, id,
	)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

// MarkConversationRead marks every unread message from sender to receiver
// as read and returns the updated messages.
func MarkConversationRead(sender, receiver string) ([]models.Message, error) {
	rows, err := DB.Query(
		"SELECT id FROM messages WHERE sender = ? AND receiver = ? AND status != 'read'",
		sender, receiver,
	)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var updated []models.Message
	for _, id := range ids {
		if _, err := AdvanceStatus(id, models.StatusRead); err != nil {
			return nil, err
		}
		msg, err := GetMessageByID(id)
		if err != nil {
			return nil, err
		}
		updated = append(updated, *msg)
	}
	return updated, nil
}

// DeleteMessage removes a message and its reactions
func DeleteMessage(id string) error {
	result, err := DB.Exec("DELETE FROM messages WHERE id = ?", id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	_, err = DB.Exec("DELETE FROM reactions WHERE message_id = ?", id)
	return err
}

// Reaction queries

// ToggleReaction flips membership of (user, reaction) on a message and
// returns the resulting authoritative reaction set.
func ToggleReaction(messageID, user, reaction string) ([]models.Reaction, error) {
	result, err := DB.Exec(
		"DELETE FROM reactions WHERE message_id = ? AND user = ? AND reaction = ?",
		messageID, user, reaction,
	)
	if err != nil {
		return nil, err
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if removed == 0 {
		_, err := DB.Exec(
			"INSERT INTO reactions (message_id, user, reaction) VALUES (?, ?, ?)",
			messageID, user, reaction,
		)
		if err != nil {
			return nil, err
		}
	}
	return GetReactions(messageID)
}

// GetReactions returns the reaction set for a message
func GetReactions(messageID string) ([]models.Reaction, error) {
	rows, err := DB.Query(
		"SELECT user, reaction FROM reactions WHERE message_id = ? ORDER BY rowid",
		messageID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reactions []models.Reaction
	for rows.Next() {
		var r models.Reaction
		if err := rows.Scan(&r.User, &r.Reaction); err != nil {
			return nil, err
		}
		reactions = append(reactions, r)
	}
	return reactions, rows.Err()
}

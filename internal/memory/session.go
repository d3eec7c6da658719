package memory

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned when a session id has no matching row.
var ErrSessionNotFound = errors.New("memory: session not found")

// Session is a durable superset of the bounded conversation window, used to
// reconstruct history beyond the pruned window.
type Session struct {
	ID           string
	UserID       string
	Title        string
	StartedAt    time.Time
	LastActiveAt time.Time
}

// SessionMessage is one message within a Session.
type SessionMessage struct {
	ID        int64
	SessionID string
	Role      string
	Content   string
	CreatedAt time.Time
}

// CreateSession starts a new durable session, optionally tied to a user.
func (m *Memory) CreateSession(userID, title string) (string, error) {
	id := uuid.NewString()

	m.store.Lock()
	defer m.store.Unlock()

	var userIDArg sql.NullString
	if userID != "" {
		userIDArg = sql.NullString{String: userID, Valid: true}
	}

	_, err := m.store.DB().Exec(`INSERT INTO sessions (id, user_id, title) VALUES (?, ?, ?)`, id, userIDArg, title)
	if err != nil {
		return "", fmt.Errorf("memory: create session: %w", err)
	}
	return id, nil
}

// AppendSessionMessage records a message and bumps the session's
// last_active_at.
func (m *Memory) AppendSessionMessage(sessionID, role, content string) error {
	m.store.Lock()
	defer m.store.Unlock()

	tx, err := m.store.DB().Begin()
	if err != nil {
		return fmt.Errorf("memory: begin append session message: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO session_messages (session_id, role, content) VALUES (?, ?, ?)`, sessionID, role, content); err != nil {
		return fmt.Errorf("memory: insert session message: %w", err)
	}
	if _, err := tx.Exec(`UPDATE sessions SET last_active_at = datetime('now') WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("memory: touch session: %w", err)
	}

	return tx.Commit()
}

// GetSession returns a session by id.
func (m *Memory) GetSession(id string) (*Session, error) {
	m.store.Lock()
	defer m.store.Unlock()

	var s Session
	var userID sql.NullString
	err := m.store.DB().QueryRow(
		`SELECT id, user_id, title, started_at, last_active_at FROM sessions WHERE id = ?`, id,
	).Scan(&s.ID, &userID, &s.Title, &s.StartedAt, &s.LastActiveAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("memory: get session %s: %w", id, err)
	}
	s.UserID = userID.String
	return &s, nil
}

// ListSessionMessages returns every message in a session, oldest first.
func (m *Memory) ListSessionMessages(sessionID string) ([]SessionMessage, error) {
	m.store.Lock()
	defer m.store.Unlock()

	rows, err := m.store.DB().Query(
		`SELECT id, session_id, role, content, created_at FROM session_messages WHERE session_id = ? ORDER BY created_at ASC, id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("memory: list session messages: %w", err)
	}
	defer rows.Close()

	var out []SessionMessage
	for rows.Next() {
		var msg SessionMessage
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("memory: scan session message: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Episode is a structured record of a past agent action and its outcome.
type Episode struct {
	ID        string
	Trigger   string
	Summary   string
	Actions   json.RawMessage
	Outcome   string
	UserID    string
	CreatedAt time.Time
}

// InsertEpisode persists a new episode and returns its id.
func (m *Memory) InsertEpisode(e Episode) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	actions := e.Actions
	if len(actions) == 0 {
		actions = json.RawMessage("[]")
	}

	m.store.Lock()
	defer m.store.Unlock()

	var userID sql.NullString
	if e.UserID != "" {
		userID = sql.NullString{String: e.UserID, Valid: true}
	}

	_, err := m.store.DB().Exec(
		`INSERT INTO episodes (id, "trigger", summary, actions, outcome, user_id) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Trigger, e.Summary, string(actions), e.Outcome, userID,
	)
	if err != nil {
		return "", fmt.Errorf("memory: insert episode: %w", err)
	}
	return e.ID, nil
}

// ListEpisodes returns episodes, optionally filtered to one user, newest
// first.
func (m *Memory) ListEpisodes(userID string) ([]Episode, error) {
	m.store.Lock()
	defer m.store.Unlock()

	query := `SELECT id, "trigger", summary, actions, outcome, COALESCE(user_id, ''), created_at FROM episodes`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := m.store.DB().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("memory: list episodes: %w", err)
	}
	defer rows.Close()

	var out []Episode
	for rows.Next() {
		var e Episode
		var actions string
		if err := rows.Scan(&e.ID, &e.Trigger, &e.Summary, &actions, &e.Outcome, &e.UserID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("memory: scan episode: %w", err)
		}
		e.Actions = json.RawMessage(actions)
		out = append(out, e)
	}
	return out, rows.Err()
}

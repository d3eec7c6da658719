package memory

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrProfileFactNotFound is returned when (userID, key) has no matching row.
var ErrProfileFactNotFound = errors.New("memory: profile fact not found")

// ProfileFact is one (user_id, key) -> value row.
type ProfileFact struct {
	UserID     string
	Key        string
	Value      string
	Confidence float64
	Source     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// UpsertProfileFact writes or replaces a user-profile fact.
func (m *Memory) UpsertProfileFact(f ProfileFact) error {
	if f.Confidence == 0 {
		f.Confidence = 1.0
	}

	m.store.Lock()
	defer m.store.Unlock()

	_, err := m.store.DB().Exec(
		`INSERT INTO user_profiles (user_id, key, value, confidence, source)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, key) DO UPDATE SET
			value = excluded.value, confidence = excluded.confidence,
			source = excluded.source, updated_at = datetime('now')`,
		f.UserID, f.Key, f.Value, f.Confidence, f.Source,
	)
	if err != nil {
		return fmt.Errorf("memory: upsert profile fact: %w", err)
	}
	return nil
}

// GetProfileFact returns a single fact.
func (m *Memory) GetProfileFact(userID, key string) (*ProfileFact, error) {
	m.store.Lock()
	defer m.store.Unlock()

	var f ProfileFact
	err := m.store.DB().QueryRow(
		`SELECT user_id, key, value, confidence, source, created_at, updated_at
		 FROM user_profiles WHERE user_id = ? AND key = ?`, userID, key,
	).Scan(&f.UserID, &f.Key, &f.Value, &f.Confidence, &f.Source, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileFactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("memory: get profile fact: %w", err)
	}
	return &f, nil
}

// ListProfileFacts returns every fact known about userID.
func (m *Memory) ListProfileFacts(userID string) ([]ProfileFact, error) {
	m.store.Lock()
	defer m.store.Unlock()

	rows, err := m.store.DB().Query(
		`SELECT user_id, key, value, confidence, source, created_at, updated_at
		 FROM user_profiles WHERE user_id = ? ORDER BY key ASC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("memory: list profile facts: %w", err)
	}
	defer rows.Close()

	var out []ProfileFact
	for rows.Next() {
		var f ProfileFact
		if err := rows.Scan(&f.UserID, &f.Key, &f.Value, &f.Confidence, &f.Source, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("memory: scan profile fact: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

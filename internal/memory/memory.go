// Package memory implements the agent's layered memory subsystems: a
// singleton core-memory row, a bounded conversation
// window, an FTS-backed archival store, a knowledge graph, structured
// episodes, per-user profile facts, and durable sessions.
package memory

import (
	"fmt"

	"github.com/antigravity-dev/agenthost/internal/store"
)

// Memory composes the relational store for all non-vector memory layers.
type Memory struct {
	store *store.Store
}

// New wraps st in a Memory.
func New(st *store.Store) *Memory {
	return &Memory{store: st}
}

// CoreMemory returns the singleton core-memory content.
func (m *Memory) CoreMemory() (string, error) {
	m.store.Lock()
	defer m.store.Unlock()
	var content string
	if err := m.store.DB().QueryRow(`SELECT content FROM core_memory WHERE id = 1`).Scan(&content); err != nil {
		return "", fmt.Errorf("memory: get core memory: %w", err)
	}
	return content, nil
}

// SetCoreMemory overwrites the singleton core-memory row.
func (m *Memory) SetCoreMemory(content string) error {
	m.store.Lock()
	defer m.store.Unlock()
	_, err := m.store.DB().Exec(`UPDATE core_memory SET content = ?, updated_at = datetime('now') WHERE id = 1`, content)
	if err != nil {
		return fmt.Errorf("memory: set core memory: %w", err)
	}
	return nil
}

// ConversationMessage is one row of the bounded conversation window.
type ConversationMessage struct {
	ID      int64
	Role    string
	Content string
}

// AppendConversation inserts a message, then prunes the oldest rows so at
// most windowSize remain.
func (m *Memory) AppendConversation(role, content string, windowSize int) error {
	m.store.Lock()
	defer m.store.Unlock()

	tx, err := m.store.DB().Begin()
	if err != nil {
		return fmt.Errorf("memory: begin append conversation: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO conversation_history (role, content) VALUES (?, ?)`, role, content); err != nil {
		return fmt.Errorf("memory: insert conversation message: %w", err)
	}

	if windowSize > 0 {
		_, err = tx.Exec(
			`DELETE FROM conversation_history WHERE id IN (
				SELECT id FROM conversation_history ORDER BY created_at DESC, id DESC
				LIMIT -1 OFFSET ?
			)`, windowSize,
		)
		if err != nil {
			return fmt.Errorf("memory: prune conversation: %w", err)
		}
	}

	return tx.Commit()
}

// ListConversation returns the retained conversation window, oldest first.
func (m *Memory) ListConversation() ([]ConversationMessage, error) {
	m.store.Lock()
	defer m.store.Unlock()

	rows, err := m.store.DB().Query(`SELECT id, role, content FROM conversation_history ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("memory: list conversation: %w", err)
	}
	defer rows.Close()

	var out []ConversationMessage
	for rows.Next() {
		var c ConversationMessage
		if err := rows.Scan(&c.ID, &c.Role, &c.Content); err != nil {
			return nil, fmt.Errorf("memory: scan conversation row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

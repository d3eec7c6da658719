package memory

import (
	"fmt"
	"time"
)

// ArchivalEntry is a row of the FTS-mirrored archival_memory table.
type ArchivalEntry struct {
	ID        int64
	Content   string
	Category  string
	CreatedAt time.Time
}

// InsertArchival adds a new archival entry; the FTS mirror is kept in sync
// by the schema's AFTER INSERT trigger.
func (m *Memory) InsertArchival(content, category string) (int64, error) {
	m.store.Lock()
	defer m.store.Unlock()

	res, err := m.store.DB().Exec(`INSERT INTO archival_memory (content, category) VALUES (?, ?)`, content, category)
	if err != nil {
		return 0, fmt.Errorf("memory: insert archival: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("memory: archival last insert id: %w", err)
	}
	return id, nil
}

// SearchArchival performs an FTS5 match against content and category,
// returning up to limit entries ranked by relevance.
func (m *Memory) SearchArchival(query string, limit int) ([]ArchivalEntry, error) {
	if limit <= 0 {
		limit = 20
	}

	m.store.Lock()
	defer m.store.Unlock()

	rows, err := m.store.DB().Query(
		`SELECT a.id, a.content, a.category, a.created_at
		 FROM archival_memory_fts f
		 JOIN archival_memory a ON a.id = f.rowid
		 WHERE archival_memory_fts MATCH ?
		 ORDER BY rank LIMIT ?`,
		query, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("memory: search archival: %w", err)
	}
	defer rows.Close()

	var out []ArchivalEntry
	for rows.Next() {
		var e ArchivalEntry
		if err := rows.Scan(&e.ID, &e.Content, &e.Category, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("memory: scan archival row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListArchival returns all archival entries, newest first.
func (m *Memory) ListArchival() ([]ArchivalEntry, error) {
	m.store.Lock()
	defer m.store.Unlock()

	rows, err := m.store.DB().Query(`SELECT id, content, category, created_at FROM archival_memory ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("memory: list archival: %w", err)
	}
	defer rows.Close()

	var out []ArchivalEntry
	for rows.Next() {
		var e ArchivalEntry
		if err := rows.Scan(&e.ID, &e.Content, &e.Category, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("memory: scan archival row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

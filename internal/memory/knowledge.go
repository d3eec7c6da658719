package memory

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrKnowledgeNodeNotFound is returned when a node id has no matching row.
var ErrKnowledgeNodeNotFound = errors.New("memory: knowledge node not found")

// KnowledgeNode is a row of the FTS-mirrored knowledge_nodes table.
type KnowledgeNode struct {
	ID         string
	Label      string
	NodeType   string
	Content    string
	Confidence float64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// KnowledgeEdge connects two nodes with a typed, weighted relation.
type KnowledgeEdge struct {
	ID       string
	SourceID string
	TargetID string
	Relation string
	Weight   float64
	Metadata json.RawMessage
}

// UpsertKnowledgeNode inserts or updates a node by id.
func (m *Memory) UpsertKnowledgeNode(n KnowledgeNode) (string, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Confidence == 0 {
		n.Confidence = 1.0
	}

	m.store.Lock()
	defer m.store.Unlock()

	_, err := m.store.DB().Exec(
		`INSERT INTO knowledge_nodes (id, label, node_type, content, confidence)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			label = excluded.label, node_type = excluded.node_type,
			content = excluded.content, confidence = excluded.confidence,
			updated_at = datetime('now')`,
		n.ID, n.Label, n.NodeType, n.Content, n.Confidence,
	)
	if err != nil {
		return "", fmt.Errorf("memory: upsert knowledge node: %w", err)
	}
	return n.ID, nil
}

// GetKnowledgeNode returns a node by id.
func (m *Memory) GetKnowledgeNode(id string) (*KnowledgeNode, error) {
	m.store.Lock()
	defer m.store.Unlock()

	var n KnowledgeNode
	err := m.store.DB().QueryRow(
		`SELECT id, label, node_type, content, confidence, created_at, updated_at FROM knowledge_nodes WHERE id = ?`, id,
	).Scan(&n.ID, &n.Label, &n.NodeType, &n.Content, &n.Confidence, &n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKnowledgeNodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("memory: get knowledge node %s: %w", id, err)
	}
	return &n, nil
}

// SearchKnowledgeNodes performs an FTS5 match against label and content.
func (m *Memory) SearchKnowledgeNodes(query string, limit int) ([]KnowledgeNode, error) {
	if limit <= 0 {
		limit = 20
	}

	m.store.Lock()
	defer m.store.Unlock()

	rows, err := m.store.DB().Query(
		`SELECT n.id, n.label, n.node_type, n.content, n.confidence, n.created_at, n.updated_at
		 FROM knowledge_nodes_fts f
		 JOIN knowledge_nodes n ON n.rowid = f.rowid
		 WHERE knowledge_nodes_fts MATCH ?
		 ORDER BY rank LIMIT ?`,
		query, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("memory: search knowledge nodes: %w", err)
	}
	defer rows.Close()

	var out []KnowledgeNode
	for rows.Next() {
		var n KnowledgeNode
		if err := rows.Scan(&n.ID, &n.Label, &n.NodeType, &n.Content, &n.Confidence, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("memory: scan knowledge node: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// DeleteKnowledgeNode removes a node; knowledge_edges referencing it
// cascade-delete per the schema's ON DELETE CASCADE.
func (m *Memory) DeleteKnowledgeNode(id string) error {
	m.store.Lock()
	defer m.store.Unlock()
	_, err := m.store.DB().Exec(`DELETE FROM knowledge_nodes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("memory: delete knowledge node %s: %w", id, err)
	}
	return nil
}

// UpsertKnowledgeEdge inserts or updates an edge keyed by (source, target,
// relation) per the schema's UNIQUE constraint.
func (m *Memory) UpsertKnowledgeEdge(e KnowledgeEdge) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Weight == 0 {
		e.Weight = 1.0
	}
	metadata := e.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage("{}")
	}

	m.store.Lock()
	defer m.store.Unlock()

	_, err := m.store.DB().Exec(
		`INSERT INTO knowledge_edges (id, source_id, target_id, relation, weight, metadata)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(source_id, target_id, relation) DO UPDATE SET
			weight = excluded.weight, metadata = excluded.metadata`,
		e.ID, e.SourceID, e.TargetID, e.Relation, e.Weight, string(metadata),
	)
	if err != nil {
		return "", fmt.Errorf("memory: upsert knowledge edge: %w", err)
	}
	return e.ID, nil
}

// ListKnowledgeEdges returns every edge touching nodeID as either source or
// target.
func (m *Memory) ListKnowledgeEdges(nodeID string) ([]KnowledgeEdge, error) {
	m.store.Lock()
	defer m.store.Unlock()

	rows, err := m.store.DB().Query(
		`SELECT id, source_id, target_id, relation, weight, metadata
		 FROM knowledge_edges WHERE source_id = ? OR target_id = ?`,
		nodeID, nodeID,
	)
	if err != nil {
		return nil, fmt.Errorf("memory: list knowledge edges: %w", err)
	}
	defer rows.Close()

	var out []KnowledgeEdge
	for rows.Next() {
		var e KnowledgeEdge
		var metadata string
		if err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.Relation, &e.Weight, &metadata); err != nil {
			return nil, fmt.Errorf("memory: scan knowledge edge: %w", err)
		}
		e.Metadata = json.RawMessage(metadata)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Package vectorstore implements the dimension-lazy semantic memory store:
// a `memories` table for short recollections and a
// `documents` table for ingested file chunks, both backed by fixed-length
// float32 BLOBs in the same modernc.org/sqlite engine used by
// internal/store. Nearest-neighbor scoring is computed in Go with L2
// distance.
package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// ErrDimensionMismatch is returned when an embedding's length differs from
// the dimension fixed at first insertion.
var ErrDimensionMismatch = errors.New("vectorstore: embedding dimension mismatch")

// Table names the two lazily-created tables a search can target.
type Table string

const (
	TableMemories  Table = "memories"
	TableDocuments Table = "documents"
	TableAll       Table = "all"
)

// Embedder is the injected embedding seam. A local deterministic
// hash-based implementation backs tests and the -dev path. EmbedBatch
// exists so ingest can embed every chunk of a file in one round trip
// instead of one call per chunk.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Store is the dimension-lazy vector memory store.
type Store struct {
	db       *sql.DB
	embedder Embedder

	mu  sync.RWMutex // guards dim only
	dim int          // 0 until the first successful embedding fixes it
}

// Open creates or opens the vector database at dbPath. No tables are
// created yet — they materialize lazily on first insert once the
// embedding dimension is known.
func Open(dbPath string, embedder Embedder) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("vectorstore: open %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1)
	return &Store{db: db, embedder: embedder}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dimension returns the fixed embedding dimension, or 0 if no embedding has
// been inserted yet.
func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

// lockDimension fixes dim on first use and rejects any later mismatch.
func (s *Store) lockDimension(embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dim == 0 {
		s.dim = len(embedding)
		return nil
	}
	if len(embedding) != s.dim {
		return fmt.Errorf("%w: store dimension %d, got %d", ErrDimensionMismatch, s.dim, len(embedding))
	}
	return nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}

func (s *Store) ensureMemoriesTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			vector BLOB NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT (datetime('now'))
		)`)
	if err != nil {
		return fmt.Errorf("vectorstore: create memories table: %w", err)
	}
	return nil
}

func (s *Store) ensureDocumentsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			vector BLOB NOT NULL,
			file_path TEXT NOT NULL DEFAULT '',
			file_type TEXT NOT NULL DEFAULT '',
			chunk_index INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT (datetime('now'))
		)`)
	if err != nil {
		return fmt.Errorf("vectorstore: create documents table: %w", err)
	}
	return nil
}

func (s *Store) tableExists(name string) (bool, error) {
	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("vectorstore: check table %s: %w", name, err)
	}
	return true, nil
}

// MemoryRow is a row of the `memories` table.
type MemoryRow struct {
	ID        string
	Content   string
	Category  string
	Source    string
	CreatedAt time.Time
}

// InsertMemory embeds content and stores it in `memories`, fixing the
// store's dimension on first use.
func (s *Store) InsertMemory(ctx context.Context, content, category, source string) (string, error) {
	embedding, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return "", fmt.Errorf("vectorstore: embed memory: %w", err)
	}
	if err := s.lockDimension(embedding); err != nil {
		return "", err
	}
	if err := s.ensureMemoriesTable(); err != nil {
		return "", err
	}

	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memories (id, content, vector, category, source) VALUES (?, ?, ?, ?, ?)`,
		id, content, encodeVector(embedding), category, source,
	)
	if err != nil {
		return "", fmt.Errorf("vectorstore: insert memory: %w", err)
	}
	return id, nil
}

// scoredRow pairs a decoded row with its similarity score for merge/sort.
type scoredRow struct {
	id        string
	content   string
	table     Table
	metadata  map[string]string
	score     float64
	createdAt time.Time
}

// SearchResult is one ranked hit returned by Search.
type SearchResult struct {
	ID        string
	Content   string
	Table     Table
	Metadata  map[string]string
	Score     float64
	CreatedAt time.Time
}

// Search embeds query once, runs a nearest-neighbor scan over each selected
// table (skipping ones that don't exist yet), merges by
// score = 1/(1+L2distance), and returns the top `limit` results descending.
func (s *Store) Search(ctx context.Context, query string, table Table, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: embed query: %w", err)
	}

	var all []scoredRow

	if table == TableMemories || table == TableAll {
		rows, err := s.searchMemories(ctx, queryVec)
		if err != nil {
			return nil, err
		}
		all = append(all, rows...)
	}
	if table == TableDocuments || table == TableAll {
		rows, err := s.searchDocuments(ctx, queryVec)
		if err != nil {
			return nil, err
		}
		all = append(all, rows...)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].score > all[j].score })
	if len(all) > limit {
		all = all[:limit]
	}

	out := make([]SearchResult, len(all))
	for i, r := range all {
		out[i] = SearchResult{ID: r.id, Content: r.content, Table: r.table, Metadata: r.metadata, Score: r.score, CreatedAt: r.createdAt}
	}
	return out, nil
}

func (s *Store) searchMemories(ctx context.Context, queryVec []float32) ([]scoredRow, error) {
	exists, err := s.tableExists("memories")
	if err != nil || !exists {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, content, vector, category, source, created_at FROM memories`)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search memories: %w", err)
	}
	defer rows.Close()

	var out []scoredRow
	for rows.Next() {
		var (
			id, content, category, source string
			vectorBuf                     []byte
			createdAt                     time.Time
		)
		if err := rows.Scan(&id, &content, &vectorBuf, &category, &source, &createdAt); err != nil {
			return nil, fmt.Errorf("vectorstore: scan memory row: %w", err)
		}
		out = append(out, scoredRow{
			id: id, content: content, table: TableMemories,
			metadata:  map[string]string{"category": category, "source": source},
			score:     scoreL2(queryVec, decodeVector(vectorBuf)),
			createdAt: createdAt,
		})
	}
	return out, rows.Err()
}

func (s *Store) searchDocuments(ctx context.Context, queryVec []float32) ([]scoredRow, error) {
	exists, err := s.tableExists("documents")
	if err != nil || !exists {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, content, vector, file_path, file_type, chunk_index, created_at FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search documents: %w", err)
	}
	defer rows.Close()

	var out []scoredRow
	for rows.Next() {
		var (
			id, content, filePath, fileType string
			vectorBuf                       []byte
			chunkIndex                      int
			createdAt                       time.Time
		)
		if err := rows.Scan(&id, &content, &vectorBuf, &filePath, &fileType, &chunkIndex, &createdAt); err != nil {
			return nil, fmt.Errorf("vectorstore: scan document row: %w", err)
		}
		out = append(out, scoredRow{
			id: id, content: content, table: TableDocuments,
			metadata: map[string]string{
				"file_path": filePath, "file_type": fileType,
				"chunk_index": fmt.Sprintf("%d", chunkIndex),
			},
			score:     scoreL2(queryVec, decodeVector(vectorBuf)),
			createdAt: createdAt,
		})
	}
	return out, rows.Err()
}

func scoreL2(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sumSq float64
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sumSq += d * d
	}
	dist := math.Sqrt(sumSq)
	return 1.0 / (1.0 + dist)
}

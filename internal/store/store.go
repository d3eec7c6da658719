// Package store provides SQLite-backed persistence for the agent host's
// relational state: pending actions, memory layers, identity, cron jobs,
// sessions, background goals/tasks, and activity logging. A single mutex
// serializes every access so the approval queue's FIFO ordering and the
// skill manager's running-table invariants hold without a reader/writer
// split.
package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// Store wraps a single SQLite connection behind a write mutex.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

const schema = `
CREATE TABLE IF NOT EXISTS pending_actions (
	id TEXT PRIMARY KEY,
	payload TEXT NOT NULL,
	reasoning TEXT NOT NULL DEFAULT '',
	context TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	proposed_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now')),
	resolved_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_pending_actions_status ON pending_actions(status);
CREATE INDEX IF NOT EXISTS idx_pending_actions_proposed_at ON pending_actions(proposed_at);

CREATE TABLE IF NOT EXISTS agent_stats (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	tick_count INTEGER NOT NULL DEFAULT 0,
	approved_count INTEGER NOT NULL DEFAULT 0,
	rejected_count INTEGER NOT NULL DEFAULT 0,
	last_tick_at DATETIME
);
INSERT OR IGNORE INTO agent_stats (id) VALUES (1);

CREATE TABLE IF NOT EXISTS activity_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	status TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_activity_log_created_at ON activity_log(created_at);

CREATE TABLE IF NOT EXISTS conversation_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_conversation_history_created_at ON conversation_history(created_at);

CREATE TABLE IF NOT EXISTS core_memory (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	content TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
INSERT OR IGNORE INTO core_memory (id) VALUES (1);

CREATE TABLE IF NOT EXISTS archival_memory (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	content TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
CREATE VIRTUAL TABLE IF NOT EXISTS archival_memory_fts USING fts5(
	content, category, content='archival_memory', content_rowid='id'
);
CREATE TRIGGER IF NOT EXISTS archival_memory_ai AFTER INSERT ON archival_memory BEGIN
	INSERT INTO archival_memory_fts(rowid, content, category) VALUES (new.id, new.content, new.category);
END;
CREATE TRIGGER IF NOT EXISTS archival_memory_ad AFTER DELETE ON archival_memory BEGIN
	INSERT INTO archival_memory_fts(archival_memory_fts, rowid, content, category) VALUES ('delete', old.id, old.content, old.category);
END;
CREATE TRIGGER IF NOT EXISTS archival_memory_au AFTER UPDATE ON archival_memory BEGIN
	INSERT INTO archival_memory_fts(archival_memory_fts, rowid, content, category) VALUES ('delete', old.id, old.content, old.category);
	INSERT INTO archival_memory_fts(rowid, content, category) VALUES (new.id, new.content, new.category);
END;

CREATE TABLE IF NOT EXISTS knowledge_nodes (
	id TEXT PRIMARY KEY,
	label TEXT NOT NULL,
	node_type TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL DEFAULT 1.0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
CREATE VIRTUAL TABLE IF NOT EXISTS knowledge_nodes_fts USING fts5(
	label, content, content='knowledge_nodes', content_rowid='rowid'
);
CREATE TRIGGER IF NOT EXISTS knowledge_nodes_ai AFTER INSERT ON knowledge_nodes BEGIN
	INSERT INTO knowledge_nodes_fts(rowid, label, content) VALUES (new.rowid, new.label, new.content);
END;
CREATE TRIGGER IF NOT EXISTS knowledge_nodes_ad AFTER DELETE ON knowledge_nodes BEGIN
	INSERT INTO knowledge_nodes_fts(knowledge_nodes_fts, rowid, label, content) VALUES ('delete', old.rowid, old.label, old.content);
END;
CREATE TRIGGER IF NOT EXISTS knowledge_nodes_au AFTER UPDATE ON knowledge_nodes BEGIN
	INSERT INTO knowledge_nodes_fts(knowledge_nodes_fts, rowid, label, content) VALUES ('delete', old.rowid, old.label, old.content);
	INSERT INTO knowledge_nodes_fts(rowid, label, content) VALUES (new.rowid, new.label, new.content);
END;

CREATE TABLE IF NOT EXISTS knowledge_edges (
	id TEXT PRIMARY KEY,
	source_id TEXT NOT NULL REFERENCES knowledge_nodes(id) ON DELETE CASCADE,
	target_id TEXT NOT NULL REFERENCES knowledge_nodes(id) ON DELETE CASCADE,
	relation TEXT NOT NULL,
	weight REAL NOT NULL DEFAULT 1.0,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE(source_id, target_id, relation)
);
CREATE INDEX IF NOT EXISTS idx_knowledge_edges_source ON knowledge_edges(source_id);
CREATE INDEX IF NOT EXISTS idx_knowledge_edges_target ON knowledge_edges(target_id);

CREATE TABLE IF NOT EXISTS episodes (
	id TEXT PRIMARY KEY,
	"trigger" TEXT NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	actions TEXT NOT NULL DEFAULT '[]',
	outcome TEXT NOT NULL DEFAULT '',
	user_id TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_episodes_user_id ON episodes(user_id);

CREATE TABLE IF NOT EXISTS user_profiles (
	user_id TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL DEFAULT 1.0,
	source TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (user_id, key)
);

CREATE TABLE IF NOT EXISTS cron_jobs (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	schedule TEXT NOT NULL,
	enabled BOOLEAN NOT NULL DEFAULT 1,
	last_run_at DATETIME,
	tool_call TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT,
	title TEXT NOT NULL DEFAULT '',
	started_at DATETIME NOT NULL DEFAULT (datetime('now')),
	last_active_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);

CREATE TABLE IF NOT EXISTS session_messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_session_messages_session ON session_messages(session_id);

CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	email_blind TEXT NOT NULL DEFAULT '',
	password TEXT NOT NULL DEFAULT '',
	totp_secret TEXT NOT NULL DEFAULT '',
	recovery_codes TEXT NOT NULL DEFAULT '',
	platform_ids TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	last_seen_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_users_email_blind ON users(email_blind);

CREATE TABLE IF NOT EXISTS passkeys (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	credential_id TEXT NOT NULL,
	credential_id_blind TEXT NOT NULL DEFAULT '',
	public_key TEXT NOT NULL,
	sign_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	last_used_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_passkeys_user_id ON passkeys(user_id);
CREATE INDEX IF NOT EXISTS idx_passkeys_credential_blind ON passkeys(credential_id_blind);

CREATE TABLE IF NOT EXISTS oauth_tokens (
	provider TEXT NOT NULL,
	account TEXT NOT NULL,
	access_token_enc TEXT NOT NULL DEFAULT '',
	refresh_token_enc TEXT NOT NULL DEFAULT '',
	expires_at DATETIME,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (provider, account)
);

CREATE TABLE IF NOT EXISTS skill_credentials (
	skill_name TEXT NOT NULL,
	key TEXT NOT NULL,
	value_enc TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (skill_name, key)
);

CREATE TABLE IF NOT EXISTS goals (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active',
	priority INTEGER NOT NULL DEFAULT 0,
	parent_goal_id TEXT REFERENCES goals(id),
	reflection TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_goals_status ON goals(status);

CREATE TABLE IF NOT EXISTS goal_tasks (
	id TEXT PRIMARY KEY,
	goal_id TEXT NOT NULL REFERENCES goals(id) ON DELETE CASCADE,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	tool_call TEXT,
	depends_on TEXT NOT NULL DEFAULT '',
	result TEXT,
	sort_order INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_goal_tasks_goal_id ON goal_tasks(goal_id);
CREATE INDEX IF NOT EXISTS idx_goal_tasks_status ON goal_tasks(status);
`

// Open creates or opens a SQLite database at dbPath and ensures the schema
// exists. Opens with a single-connection, write-ahead-logged DSN.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw *sql.DB for packages that need bespoke queries
// (e.g. FTS joins) while still expecting callers to take the store's
// write mutex for anything that mutates state.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Lock acquires the store-wide write mutex. Exposed so composing packages
// (approval, identity, memory) can wrap multi-statement operations in a
// single critical section without re-entering database/sql twice.
func (s *Store) Lock() {
	s.mu.Lock()
}

// Unlock releases the store-wide write mutex.
func (s *Store) Unlock() {
	s.mu.Unlock()
}

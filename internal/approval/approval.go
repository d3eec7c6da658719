// Package approval implements the pending-action state machine:
// propose, approve/reject, FIFO drain of approved actions, and
// age-based expiry, all persisted through internal/store.
package approval

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/antigravity-dev/agenthost/internal/store"
)

// Status is one of the six terminal/non-terminal states a PendingAction can
// occupy. Transitions follow a DAG: pending -> {approved,
// rejected, expired}; approved -> {executed, failed}.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
	StatusExecuted Status = "executed"
	StatusFailed   Status = "failed"
)

// ErrNotFound is returned when an action id has no matching row.
var ErrNotFound = errors.New("approval: action not found")

// ErrNotPending is returned by Approve/Reject when the row exists but is not
// in the pending state.
var ErrNotPending = errors.New("approval: action not pending")

// PendingAction is the in-memory view of a pending_actions row.
type PendingAction struct {
	ID         string
	Payload    json.RawMessage
	Reasoning  string
	Context    string
	Status     Status
	ProposedAt time.Time
	ResolvedAt *time.Time
}

// Queue is the persisted approval state machine.
type Queue struct {
	store *store.Store
}

// New wraps st in a Queue.
func New(st *store.Store) *Queue {
	return &Queue{store: st}
}

// Propose inserts a new pending action and returns its fresh id.
func (q *Queue) Propose(payload json.RawMessage, reasoning, context string) (string, error) {
	id := uuid.NewString()

	q.store.Lock()
	defer q.store.Unlock()

	_, err := q.store.DB().Exec(
		`INSERT INTO pending_actions (id, payload, reasoning, context, status, proposed_at)
		 VALUES (?, ?, ?, ?, 'pending', strftime('%Y-%m-%d %H:%M:%f', 'now'))`,
		id, string(payload), reasoning, context,
	)
	if err != nil {
		return "", fmt.Errorf("approval: propose: %w", err)
	}
	return id, nil
}

// Approve transitions id from pending to approved, incrementing the
// agent_stats approved_count counter.
func (q *Queue) Approve(id string) error {
	return q.transitionOne(id, StatusPending, StatusApproved, "approved_count")
}

// Reject transitions id from pending to rejected, incrementing the
// agent_stats rejected_count counter.
func (q *Queue) Reject(id string) error {
	return q.transitionOne(id, StatusPending, StatusRejected, "rejected_count")
}

func (q *Queue) transitionOne(id string, from, to Status, counterColumn string) error {
	q.store.Lock()
	defer q.store.Unlock()

	tx, err := q.store.DB().Begin()
	if err != nil {
		return fmt.Errorf("approval: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`UPDATE pending_actions SET status = ?, resolved_at = datetime('now')
		 WHERE id = ? AND status = ?`,
		to, id, from,
	)
	if err != nil {
		return fmt.Errorf("approval: transition %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("approval: rows affected: %w", err)
	}
	if n == 0 {
		exists, err := rowExists(tx, id)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("%s: %w", id, ErrNotPending)
	}

	if _, err := tx.Exec(fmt.Sprintf(`UPDATE agent_stats SET %s = %s + 1 WHERE id = 1`, counterColumn, counterColumn)); err != nil {
		return fmt.Errorf("approval: update stats: %w", err)
	}

	return tx.Commit()
}

func rowExists(tx *sql.Tx, id string) (bool, error) {
	var exists int
	err := tx.QueryRow(`SELECT 1 FROM pending_actions WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("approval: check existence: %w", err)
	}
	return true, nil
}

// ApproveAll bulk-transitions every pending row to approved, returning the
// count changed.
func (q *Queue) ApproveAll() (int, error) {
	return q.bulkTransition(StatusPending, StatusApproved, "approved_count")
}

// RejectAll bulk-transitions every pending row to rejected, returning the
// count changed.
func (q *Queue) RejectAll() (int, error) {
	return q.bulkTransition(StatusPending, StatusRejected, "rejected_count")
}

func (q *Queue) bulkTransition(from, to Status, counterColumn string) (int, error) {
	q.store.Lock()
	defer q.store.Unlock()

	tx, err := q.store.DB().Begin()
	if err != nil {
		return 0, fmt.Errorf("approval: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`UPDATE pending_actions SET status = ?, resolved_at = datetime('now') WHERE status = ?`,
		to, from,
	)
	if err != nil {
		return 0, fmt.Errorf("approval: bulk transition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("approval: rows affected: %w", err)
	}
	if n > 0 {
		if _, err := tx.Exec(fmt.Sprintf(`UPDATE agent_stats SET %s = %s + ? WHERE id = 1`, counterColumn, counterColumn), n); err != nil {
			return 0, fmt.Errorf("approval: update stats: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("approval: commit: %w", err)
	}
	return int(n), nil
}

// NextApproved returns the oldest approved row (FIFO by proposed_at with a
// primary-key tiebreak), or nil if none is approved. It does not mutate
// state.
func (q *Queue) NextApproved() (*PendingAction, error) {
	q.store.Lock()
	defer q.store.Unlock()

	row := q.store.DB().QueryRow(
		`SELECT id, payload, reasoning, context, status, proposed_at, resolved_at
		 FROM pending_actions WHERE status = 'approved'
		 ORDER BY proposed_at ASC, id ASC LIMIT 1`,
	)
	action, err := scanPendingAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("approval: next approved: %w", err)
	}
	return action, nil
}

// MarkExecuted transitions an approved action to executed (success) or
// failed (!success). It is idempotent: no precondition beyond the update
// itself.
func (q *Queue) MarkExecuted(id string, success bool) error {
	to := StatusExecuted
	if !success {
		to = StatusFailed
	}

	q.store.Lock()
	defer q.store.Unlock()

	_, err := q.store.DB().Exec(
		`UPDATE pending_actions SET status = ?, resolved_at = datetime('now') WHERE id = ?`,
		to, id,
	)
	if err != nil {
		return fmt.Errorf("approval: mark executed %s: %w", id, err)
	}
	return nil
}

// ExpireStale transitions every pending row older than maxAge to expired,
// returning the count changed.
func (q *Queue) ExpireStale(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge).UTC().Format("2006-01-02 15:04:05.000")

	q.store.Lock()
	defer q.store.Unlock()

	res, err := q.store.DB().Exec(
		`UPDATE pending_actions SET status = 'expired', resolved_at = datetime('now')
		 WHERE status = 'pending' AND proposed_at < ?`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("approval: expire stale: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("approval: rows affected: %w", err)
	}
	return int(n), nil
}

// ListPending returns every action currently in the pending state, oldest
// first.
func (q *Queue) ListPending() ([]*PendingAction, error) {
	q.store.Lock()
	defer q.store.Unlock()

	rows, err := q.store.DB().Query(
		`SELECT id, payload, reasoning, context, status, proposed_at, resolved_at
		 FROM pending_actions WHERE status = 'pending' ORDER BY proposed_at ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("approval: list pending: %w", err)
	}
	defer rows.Close()

	var out []*PendingAction
	for rows.Next() {
		action, err := scanPendingActionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, action)
	}
	return out, rows.Err()
}

// Get returns a single action by id.
func (q *Queue) Get(id string) (*PendingAction, error) {
	q.store.Lock()
	defer q.store.Unlock()

	row := q.store.DB().QueryRow(
		`SELECT id, payload, reasoning, context, status, proposed_at, resolved_at
		 FROM pending_actions WHERE id = ?`, id,
	)
	action, err := scanPendingAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("approval: get %s: %w", id, err)
	}
	return action, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPendingAction(row scanner) (*PendingAction, error) {
	return scanPendingActionRows(row)
}

func scanPendingActionRows(row scanner) (*PendingAction, error) {
	var (
		a          PendingAction
		payload    string
		status     string
		resolvedAt sql.NullTime
	)
	if err := row.Scan(&a.ID, &payload, &a.Reasoning, &a.Context, &status, &a.ProposedAt, &resolvedAt); err != nil {
		return nil, err
	}
	a.Payload = json.RawMessage(payload)
	a.Status = Status(status)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		a.ResolvedAt = &t
	}
	return &a, nil
}

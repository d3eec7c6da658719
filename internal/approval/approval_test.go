package approval

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/agenthost/internal/store"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st)
}

func propose(t *testing.T, q *Queue, label string) string {
	t.Helper()
	id, err := q.Propose(json.RawMessage(`{"tool":"`+label+`"}`), "because", "ctx")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond) // ensure distinct proposed_at ordering
	return id
}

func TestApprovalFIFO(t *testing.T) {
	q := newTestQueue(t)

	a := propose(t, q, "A")
	b := propose(t, q, "B")
	c := propose(t, q, "C")

	n, err := q.ApproveAll()
	require.NoError(t, err)
	require.Equal(t, 3, n)

	for _, want := range []string{a, b, c} {
		next, err := q.NextApproved()
		require.NoError(t, err)
		require.NotNil(t, next)
		require.Equal(t, want, next.ID)
		require.NoError(t, q.MarkExecuted(next.ID, true))
	}

	last, err := q.NextApproved()
	require.NoError(t, err)
	require.Nil(t, last)
}

func TestExpiryTransitionsPendingToExpired(t *testing.T) {
	q := newTestQueue(t)

	id, err := q.Propose(json.RawMessage(`{}`), "r", "c")
	require.NoError(t, err)

	_, err = q.store.DB().Exec(
		`UPDATE pending_actions SET proposed_at = datetime('now', '-120 seconds') WHERE id = ?`, id,
	)
	require.NoError(t, err)

	n, err := q.ExpireStale(60 * time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	pending, err := q.ListPending()
	require.NoError(t, err)
	require.Empty(t, pending)

	action, err := q.Get(id)
	require.NoError(t, err)
	require.Equal(t, StatusExpired, action.Status)
}

func TestApproveNonPendingFails(t *testing.T) {
	q := newTestQueue(t)

	id, err := q.Propose(json.RawMessage(`{}`), "r", "c")
	require.NoError(t, err)
	require.NoError(t, q.Approve(id))

	err = q.Approve(id)
	require.ErrorIs(t, err, ErrNotPending)
}

func TestApproveUnknownFails(t *testing.T) {
	q := newTestQueue(t)
	err := q.Approve("does-not-exist")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRejectAllBulk(t *testing.T) {
	q := newTestQueue(t)
	propose(t, q, "A")
	propose(t, q, "B")

	n, err := q.RejectAll()
	require.NoError(t, err)
	require.Equal(t, 2, n)

	pending, err := q.ListPending()
	require.NoError(t, err)
	require.Empty(t, pending)
}

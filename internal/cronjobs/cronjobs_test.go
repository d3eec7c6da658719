package cronjobs

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/agenthost/internal/store"
)

type countingRunner struct {
	calls atomic.Int32
}

func (r *countingRunner) RunToolCall(ctx context.Context, toolCall json.RawMessage) error {
	r.calls.Add(1)
	return nil
}

func newTestEvaluator(t *testing.T, runner Runner) *Evaluator {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st, runner, nil)
}

func TestEvaluateTickRunsDueJobWithNilLastRun(t *testing.T) {
	runner := &countingRunner{}
	e := newTestEvaluator(t, runner)

	_, err := e.Create("daily-report", "0 9 * * *", json.RawMessage(`{"tool":"noop"}`), true)
	require.NoError(t, err)

	e.EvaluateTick(context.Background(), time.Now())
	require.EqualValues(t, 1, runner.calls.Load())

	jobs, err := e.List()
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.NotNil(t, jobs[0].LastRunAt)
}

func TestEvaluateTickSkipsDisabled(t *testing.T) {
	runner := &countingRunner{}
	e := newTestEvaluator(t, runner)

	_, err := e.Create("disabled", "* * * * *", json.RawMessage(`{}`), false)
	require.NoError(t, err)

	e.EvaluateTick(context.Background(), time.Now())
	require.EqualValues(t, 0, runner.calls.Load())
}

func TestEvaluateTickSkipsUnparseableSchedule(t *testing.T) {
	runner := &countingRunner{}
	e := newTestEvaluator(t, runner)

	_, err := e.Create("bad", "not a schedule", json.RawMessage(`{}`), true)
	require.NoError(t, err)

	// Set last_run_at an hour back so that only the unparseable schedule
	// keeps the job from running.
	jobs, err := e.List()
	require.NoError(t, err)
	require.NoError(t, e.touchLastRun(jobs[0].ID, time.Now().Add(-time.Hour)))

	e.EvaluateTick(context.Background(), time.Now())
	require.EqualValues(t, 0, runner.calls.Load())
}

func TestEvaluateTickRespectsNextFireTime(t *testing.T) {
	runner := &countingRunner{}
	e := newTestEvaluator(t, runner)

	_, err := e.Create("hourly", "0 * * * *", json.RawMessage(`{}`), true)
	require.NoError(t, err)

	jobs, err := e.List()
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, e.touchLastRun(jobs[0].ID, now))

	e.EvaluateTick(context.Background(), now.Add(time.Minute))
	require.EqualValues(t, 0, runner.calls.Load(), "next hourly fire time has not arrived yet")
}

package tools

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/agenthost/internal/goals"
	"github.com/antigravity-dev/agenthost/internal/store"
)

func newTestGoals(t *testing.T) *goals.Manager {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return goals.New(st)
}

func TestGoalToolCreateAndList(t *testing.T) {
	tool := &GoalTool{Goals: newTestGoals(t)}

	params, _ := json.Marshal(map[string]any{"action": "create", "title": "Learn Go", "description": "Study the stdlib", "priority": 5})
	out, err := tool.Execute(context.Background(), params, Context{})
	require.NoError(t, err)
	require.True(t, out.Success)
	require.Contains(t, out.Output, "Learn Go")

	params, _ = json.Marshal(map[string]any{"action": "list"})
	out, err = tool.Execute(context.Background(), params, Context{})
	require.NoError(t, err)
	require.True(t, out.Success)
	require.Contains(t, out.Output, "Learn Go")
}

func TestGoalToolCreateMissingTitle(t *testing.T) {
	tool := &GoalTool{Goals: newTestGoals(t)}

	params, _ := json.Marshal(map[string]any{"action": "create"})
	out, err := tool.Execute(context.Background(), params, Context{})
	require.NoError(t, err)
	require.False(t, out.Success)
	require.Contains(t, out.Output, "title is required")
}

func TestGoalToolAddTaskAndComplete(t *testing.T) {
	tool := &GoalTool{Goals: newTestGoals(t)}

	createParams, _ := json.Marshal(map[string]any{"action": "create", "title": "Task goal"})
	create, err := tool.Execute(context.Background(), createParams, Context{})
	require.NoError(t, err)
	var createMeta struct {
		GoalID string `json:"goal_id"`
	}
	require.NoError(t, json.Unmarshal(create.Metadata, &createMeta))

	addParams, _ := json.Marshal(map[string]any{"action": "add_task", "goal_id": createMeta.GoalID, "title": "Step 1"})
	add, err := tool.Execute(context.Background(), addParams, Context{})
	require.NoError(t, err)
	require.True(t, add.Success)
	var addMeta struct {
		TaskID string `json:"task_id"`
	}
	require.NoError(t, json.Unmarshal(add.Metadata, &addMeta))

	completeParams, _ := json.Marshal(map[string]any{"action": "complete_task", "task_id": addMeta.TaskID, "result": "Done!"})
	complete, err := tool.Execute(context.Background(), completeParams, Context{})
	require.NoError(t, err)
	require.True(t, complete.Success)

	getParams, _ := json.Marshal(map[string]any{"action": "get", "goal_id": createMeta.GoalID})
	get, err := tool.Execute(context.Background(), getParams, Context{})
	require.NoError(t, err)
	require.Contains(t, get.Output, "completed")
	require.Contains(t, get.Output, "Done!")
}

func TestGoalToolPauseResumeCancel(t *testing.T) {
	tool := &GoalTool{Goals: newTestGoals(t)}

	createParams, _ := json.Marshal(map[string]any{"action": "create", "title": "Status test"})
	create, err := tool.Execute(context.Background(), createParams, Context{})
	require.NoError(t, err)
	var createMeta struct {
		GoalID string `json:"goal_id"`
	}
	require.NoError(t, json.Unmarshal(create.Metadata, &createMeta))

	pauseParams, _ := json.Marshal(map[string]any{"action": "pause", "goal_id": createMeta.GoalID})
	pause, err := tool.Execute(context.Background(), pauseParams, Context{})
	require.NoError(t, err)
	require.True(t, pause.Success)
	require.Contains(t, pause.Output, "paused")

	resumeParams, _ := json.Marshal(map[string]any{"action": "resume", "goal_id": createMeta.GoalID})
	resume, err := tool.Execute(context.Background(), resumeParams, Context{})
	require.NoError(t, err)
	require.Contains(t, resume.Output, "active")

	cancelParams, _ := json.Marshal(map[string]any{"action": "cancel", "goal_id": createMeta.GoalID})
	cancel, err := tool.Execute(context.Background(), cancelParams, Context{})
	require.NoError(t, err)
	require.Contains(t, cancel.Output, "cancelled")
}

func TestGoalToolUnknownAction(t *testing.T) {
	tool := &GoalTool{Goals: newTestGoals(t)}

	params, _ := json.Marshal(map[string]any{"action": "nope"})
	out, err := tool.Execute(context.Background(), params, Context{})
	require.NoError(t, err)
	require.False(t, out.Success)
	require.Contains(t, out.Output, "unknown")
}

func TestGoalToolMetadata(t *testing.T) {
	tool := &GoalTool{}
	require.Equal(t, "goal", tool.Name())
	require.NotEmpty(t, tool.Description())

	var schema struct {
		Required []string `json:"required"`
	}
	require.NoError(t, json.Unmarshal(tool.ParameterSchema(), &schema))
	require.Contains(t, schema.Required, "action")
}

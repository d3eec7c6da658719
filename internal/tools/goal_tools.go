package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/antigravity-dev/agenthost/internal/goals"
)

// GoalTool lets the reasoning step create, inspect, and decompose
// background goals. Goals advance only through this tool; the tick loop
// does not work on them.
type GoalTool struct {
	Goals *goals.Manager
}

func (t *GoalTool) Name() string { return "goal" }
func (t *GoalTool) Description() string {
	return "Manage background goals and tasks. Actions: create, list, get, add_task, " +
		"complete_task, fail_task, cancel, pause, resume. " +
		"Goals persist across restarts."
}
func (t *GoalTool) ParameterSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"required": ["action"],
		"properties": {
			"action": {"type": "string", "enum": ["create", "list", "get", "add_task", "complete_task", "fail_task", "cancel", "pause", "resume"]},
			"goal_id": {"type": "string"},
			"task_id": {"type": "string"},
			"title": {"type": "string"},
			"description": {"type": "string"},
			"priority": {"type": "integer"},
			"parent_goal_id": {"type": "string"},
			"tool_call": {"type": "object"},
			"depends_on": {"type": "array", "items": {"type": "string"}},
			"result": {"type": "string"},
			"status_filter": {"type": "string"}
		}
	}`)
}

type goalToolParams struct {
	Action       string          `json:"action"`
	GoalID       string          `json:"goal_id"`
	TaskID       string          `json:"task_id"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Priority     int             `json:"priority"`
	ParentGoalID string          `json:"parent_goal_id"`
	ToolCall     json.RawMessage `json:"tool_call"`
	DependsOn    []string        `json:"depends_on"`
	Result       string          `json:"result"`
	StatusFilter string          `json:"status_filter"`
}

func (t *GoalTool) Execute(_ context.Context, params json.RawMessage, _ Context) (ToolOutput, error) {
	var req goalToolParams
	if err := json.Unmarshal(params, &req); err != nil {
		return ToolOutput{Success: false, Output: fmt.Sprintf("invalid params: %v", err)}, nil
	}

	switch req.Action {
	case "create":
		return t.create(req)
	case "list":
		return t.list(req)
	case "get":
		return t.get(req)
	case "add_task":
		return t.addTask(req)
	case "complete_task":
		return t.setTaskStatus(req, goals.TaskCompleted)
	case "fail_task":
		return t.setTaskStatus(req, goals.TaskFailed)
	case "cancel":
		return t.setGoalStatus(req, goals.GoalCancelled)
	case "pause":
		return t.setGoalStatus(req, goals.GoalPaused)
	case "resume":
		return t.setGoalStatus(req, goals.GoalActive)
	default:
		return ToolOutput{Success: false, Output: fmt.Sprintf("unknown goal action: %s", req.Action)}, nil
	}
}

func (t *GoalTool) create(req goalToolParams) (ToolOutput, error) {
	if req.Title == "" {
		return ToolOutput{Success: false, Output: "title is required for create"}, nil
	}
	id, err := t.Goals.CreateGoal(req.Title, req.Description, req.Priority, req.ParentGoalID)
	if err != nil {
		return ToolOutput{Success: false, Output: err.Error()}, nil
	}
	meta, _ := json.Marshal(map[string]string{"goal_id": id})
	return ToolOutput{Success: true, Output: fmt.Sprintf("Created goal: %s", req.Title), Metadata: meta}, nil
}

func (t *GoalTool) list(req goalToolParams) (ToolOutput, error) {
	summaries, err := t.Goals.ListGoals(req.StatusFilter, 50, 0)
	if err != nil {
		return ToolOutput{Success: false, Output: err.Error()}, nil
	}
	if len(summaries) == 0 {
		return ToolOutput{Success: true, Output: "No goals found."}, nil
	}

	lines := make([]string, 0, len(summaries))
	for _, s := range summaries {
		progress := ""
		if s.TotalTasks > 0 {
			progress = fmt.Sprintf(" [%d/%d]", s.CompletedTasks, s.TotalTasks)
		}
		description := s.Description
		if description == "" {
			description = "no description"
		}
		lines = append(lines, fmt.Sprintf("[%s] %s (priority=%d, status=%s)%s — %s",
			s.ID, s.Title, s.Priority, s.Status, progress, description))
	}
	return ToolOutput{Success: true, Output: strings.Join(lines, "\n")}, nil
}

func (t *GoalTool) get(req goalToolParams) (ToolOutput, error) {
	if req.GoalID == "" {
		return ToolOutput{Success: false, Output: "goal_id is required for get"}, nil
	}
	g, err := t.Goals.GetGoal(req.GoalID)
	if errors.Is(err, goals.ErrNotFound) {
		return ToolOutput{Success: false, Output: "goal not found"}, nil
	}
	if err != nil {
		return ToolOutput{Success: false, Output: err.Error()}, nil
	}
	tasks, err := t.Goals.GetTasks(req.GoalID)
	if err != nil {
		return ToolOutput{Success: false, Output: err.Error()}, nil
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Goal: %s (%s)\nStatus: %s\nPriority: %d\nDescription: %s\n", g.Title, g.ID, g.Status, g.Priority, g.Description)
	if g.Reflection != "" {
		fmt.Fprintf(&out, "Reflection: %s\n", g.Reflection)
	}
	if len(tasks) == 0 {
		out.WriteString("\nNo tasks defined yet.")
	} else {
		fmt.Fprintf(&out, "\nTasks (%d):\n", len(tasks))
		for i, task := range tasks {
			deps := ""
			if len(task.DependsOn) > 0 {
				deps = fmt.Sprintf(" (depends: %s)", strings.Join(task.DependsOn, ", "))
			}
			fmt.Fprintf(&out, "  %d. [%s] %s — %s%s\n", i+1, task.Status, task.Title, task.ID, deps)
			if task.Result != "" {
				fmt.Fprintf(&out, "     Result: %s\n", task.Result)
			}
		}
	}
	return ToolOutput{Success: true, Output: out.String()}, nil
}

func (t *GoalTool) addTask(req goalToolParams) (ToolOutput, error) {
	if req.GoalID == "" || req.Title == "" {
		return ToolOutput{Success: false, Output: "goal_id and title are required for add_task"}, nil
	}
	existing, err := t.Goals.GetTasks(req.GoalID)
	if err != nil {
		return ToolOutput{Success: false, Output: err.Error()}, nil
	}
	id, err := t.Goals.AddTask(req.GoalID, req.Title, req.Description, req.ToolCall, req.DependsOn, len(existing))
	if err != nil {
		return ToolOutput{Success: false, Output: err.Error()}, nil
	}
	meta, _ := json.Marshal(map[string]string{"task_id": id})
	return ToolOutput{Success: true, Output: fmt.Sprintf("Added task: %s", req.Title), Metadata: meta}, nil
}

func (t *GoalTool) setTaskStatus(req goalToolParams, status goals.TaskStatus) (ToolOutput, error) {
	if req.TaskID == "" {
		return ToolOutput{Success: false, Output: fmt.Sprintf("task_id is required for %s", req.Action)}, nil
	}
	if err := t.Goals.UpdateTaskStatus(req.TaskID, status, req.Result); err != nil {
		return ToolOutput{Success: false, Output: err.Error()}, nil
	}
	verb := "completed"
	if status == goals.TaskFailed {
		verb = "marked as failed"
	}
	return ToolOutput{Success: true, Output: fmt.Sprintf("Task %s %s", req.TaskID, verb)}, nil
}

func (t *GoalTool) setGoalStatus(req goalToolParams, status goals.GoalStatus) (ToolOutput, error) {
	if req.GoalID == "" {
		return ToolOutput{Success: false, Output: "goal_id is required"}, nil
	}
	if err := t.Goals.UpdateGoalStatus(req.GoalID, status); err != nil {
		return ToolOutput{Success: false, Output: err.Error()}, nil
	}
	return ToolOutput{Success: true, Output: fmt.Sprintf("Goal %s status changed to %s", req.GoalID, status)}, nil
}

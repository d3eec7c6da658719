// Package goals implements the background goal/task planning subsystem:
// a goal is a long-lived objective the agent works on autonomously between
// conversations, decomposed into dependency-ordered tasks that are created
// and advanced through the "goal" tool; NextActionableTask selects the next
// ready task.
package goals

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/antigravity-dev/agenthost/internal/store"
)

// GoalStatus is the lifecycle state of a Goal.
type GoalStatus string

const (
	GoalActive    GoalStatus = "active"
	GoalPaused    GoalStatus = "paused"
	GoalCompleted GoalStatus = "completed"
	GoalFailed    GoalStatus = "failed"
	GoalCancelled GoalStatus = "cancelled"
)

// TaskStatus is the lifecycle state of a GoalTask.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskSkipped    TaskStatus = "skipped"
)

// ErrNotFound is returned when a goal or task id has no matching row.
var ErrNotFound = errors.New("goals: not found")

// Goal is a long-lived objective the agent works on between conversations.
type Goal struct {
	ID           string
	Title        string
	Description  string
	Status       GoalStatus
	Priority     int
	ParentGoalID string
	Reflection   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}

// GoalTask is one step of a Goal's decomposition, optionally bound to a
// tool call and gated on other tasks completing first.
type GoalTask struct {
	ID          string
	GoalID      string
	Title       string
	Description string
	Status      TaskStatus
	ToolCall    json.RawMessage
	DependsOn   []string
	Result      string
	SortOrder   int
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// GoalSummary is a Goal alongside its task-progress counts, the shape
// ListGoals returns.
type GoalSummary struct {
	Goal
	TotalTasks     int
	CompletedTasks int
	FailedTasks    int
}

// Manager is the persisted goal/task planner backed by internal/store.
type Manager struct {
	store *store.Store
}

// New wraps st in a Manager.
func New(st *store.Store) *Manager {
	return &Manager{store: st}
}

// CreateGoal inserts a new active goal and returns its fresh id.
func (m *Manager) CreateGoal(title, description string, priority int, parentGoalID string) (string, error) {
	id := uuid.NewString()

	m.store.Lock()
	defer m.store.Unlock()

	var parent sql.NullString
	if parentGoalID != "" {
		parent = sql.NullString{String: parentGoalID, Valid: true}
	}

	_, err := m.store.DB().Exec(
		`INSERT INTO goals (id, title, description, priority, parent_goal_id) VALUES (?, ?, ?, ?, ?)`,
		id, title, description, priority, parent,
	)
	if err != nil {
		return "", fmt.Errorf("goals: create goal: %w", err)
	}
	return id, nil
}

// GetGoal returns a single goal by id.
func (m *Manager) GetGoal(id string) (*Goal, error) {
	m.store.Lock()
	defer m.store.Unlock()

	row := m.store.DB().QueryRow(
		`SELECT id, title, description, status, priority, parent_goal_id, reflection, created_at, updated_at, completed_at
		 FROM goals WHERE id = ?`, id,
	)
	g, err := scanGoal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("goal %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("goals: get goal %s: %w", id, err)
	}
	return g, nil
}

// ListGoals returns goals (optionally filtered by status), highest
// priority first then newest first, each with its task-progress counts.
func (m *Manager) ListGoals(statusFilter string, limit, offset int) ([]GoalSummary, error) {
	if limit <= 0 {
		limit = 50
	}

	m.store.Lock()
	defer m.store.Unlock()

	query := `SELECT id, title, description, status, priority, parent_goal_id, reflection, created_at, updated_at, completed_at
	          FROM goals`
	args := []any{}
	if statusFilter != "" {
		query += ` WHERE status = ?`
		args = append(args, statusFilter)
	}
	query += ` ORDER BY priority DESC, created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := m.store.DB().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("goals: list goals: %w", err)
	}
	defer rows.Close()

	// Drain the cursor before issuing the count queries: the store runs
	// on a single connection, which an open rows cursor holds.
	var goalsOut []Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("goals: scan goal: %w", err)
		}
		goalsOut = append(goalsOut, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var summaries []GoalSummary
	for _, g := range goalsOut {
		total, completed, failed, err := m.taskCountsLocked(g.ID)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, GoalSummary{Goal: g, TotalTasks: total, CompletedTasks: completed, FailedTasks: failed})
	}
	return summaries, nil
}

// UpdateGoalStatus transitions a goal to a new status, stamping
// completed_at when the new status is terminal (completed or failed).
func (m *Manager) UpdateGoalStatus(id string, status GoalStatus) error {
	m.store.Lock()
	defer m.store.Unlock()

	terminal := status == GoalCompleted || status == GoalFailed

	var err error
	if terminal {
		_, err = m.store.DB().Exec(
			`UPDATE goals SET status = ?, updated_at = datetime('now'), completed_at = datetime('now') WHERE id = ?`,
			status, id,
		)
	} else {
		_, err = m.store.DB().Exec(
			`UPDATE goals SET status = ?, updated_at = datetime('now') WHERE id = ?`,
			status, id,
		)
	}
	if err != nil {
		return fmt.Errorf("goals: update goal status %s: %w", id, err)
	}
	return nil
}

// SetReflection records the agent's self-reflection text on a goal,
// typically written after it completes.
func (m *Manager) SetReflection(id, reflection string) error {
	m.store.Lock()
	defer m.store.Unlock()

	_, err := m.store.DB().Exec(
		`UPDATE goals SET reflection = ?, updated_at = datetime('now') WHERE id = ?`,
		reflection, id,
	)
	if err != nil {
		return fmt.Errorf("goals: set reflection %s: %w", id, err)
	}
	return nil
}

// AddTask appends a task to a goal's decomposition and returns its id.
func (m *Manager) AddTask(goalID, title, description string, toolCall json.RawMessage, dependsOn []string, sortOrder int) (string, error) {
	id := uuid.NewString()

	var toolCallStr sql.NullString
	if len(toolCall) > 0 {
		toolCallStr = sql.NullString{String: string(toolCall), Valid: true}
	}

	m.store.Lock()
	defer m.store.Unlock()

	_, err := m.store.DB().Exec(
		`INSERT INTO goal_tasks (id, goal_id, title, description, tool_call, depends_on, sort_order)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, goalID, title, description, toolCallStr, strings.Join(dependsOn, ","), sortOrder,
	)
	if err != nil {
		return "", fmt.Errorf("goals: add task to %s: %w", goalID, err)
	}
	return id, nil
}

// GetTasks returns every task for a goal, in sort order.
func (m *Manager) GetTasks(goalID string) ([]GoalTask, error) {
	m.store.Lock()
	defer m.store.Unlock()
	return m.getTasksLocked(goalID)
}

func (m *Manager) getTasksLocked(goalID string) ([]GoalTask, error) {
	rows, err := m.store.DB().Query(
		`SELECT id, goal_id, title, description, status, tool_call, depends_on, result, sort_order, created_at, completed_at
		 FROM goal_tasks WHERE goal_id = ? ORDER BY sort_order ASC, created_at ASC`, goalID,
	)
	if err != nil {
		return nil, fmt.Errorf("goals: get tasks for %s: %w", goalID, err)
	}
	defer rows.Close()

	var tasks []GoalTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("goals: scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// UpdateTaskStatus transitions a task to a new status, optionally
// recording result text, and stamps the parent goal's updated_at.
func (m *Manager) UpdateTaskStatus(taskID string, status TaskStatus, result string) error {
	m.store.Lock()
	defer m.store.Unlock()

	var resultArg sql.NullString
	if result != "" {
		resultArg = sql.NullString{String: result, Valid: true}
	}

	terminal := status == TaskCompleted || status == TaskFailed
	var err error
	if terminal {
		_, err = m.store.DB().Exec(
			`UPDATE goal_tasks SET status = ?, result = ?, completed_at = datetime('now') WHERE id = ?`,
			status, resultArg, taskID,
		)
	} else {
		_, err = m.store.DB().Exec(
			`UPDATE goal_tasks SET status = ?, result = ? WHERE id = ?`,
			status, resultArg, taskID,
		)
	}
	if err != nil {
		return fmt.Errorf("goals: update task status %s: %w", taskID, err)
	}

	_, err = m.store.DB().Exec(
		`UPDATE goals SET updated_at = datetime('now') WHERE id = (SELECT goal_id FROM goal_tasks WHERE id = ?)`,
		taskID,
	)
	if err != nil {
		return fmt.Errorf("goals: touch parent goal of task %s: %w", taskID, err)
	}
	return nil
}

// NextActionableTask returns the highest-priority active goal's earliest
// task that is pending with all dependencies completed. A goal whose
// tasks are all done (completed/failed/skipped) is auto-completed
// (failed if any task failed, completed otherwise) as a side effect of
// the scan.
func (m *Manager) NextActionableTask() (*Goal, *GoalTask, error) {
	m.store.Lock()
	defer m.store.Unlock()

	rows, err := m.store.DB().Query(
		`SELECT id, title, description, status, priority, parent_goal_id, reflection, created_at, updated_at, completed_at
		 FROM goals WHERE status = 'active' ORDER BY priority DESC, created_at ASC`,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("goals: next actionable task: list active goals: %w", err)
	}
	var activeGoals []Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("goals: scan active goal: %w", err)
		}
		activeGoals = append(activeGoals, *g)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, nil, err
	}
	rows.Close()

	for _, g := range activeGoals {
		tasks, err := m.getTasksLocked(g.ID)
		if err != nil {
			return nil, nil, err
		}

		for _, task := range tasks {
			if task.Status != TaskPending {
				continue
			}
			if len(task.DependsOn) == 0 {
				t := task
				return &g, &t, nil
			}
			if m.allDependenciesCompleteLocked(task.DependsOn) {
				t := task
				return &g, &t, nil
			}
		}

		if err := m.autoCompleteIfDoneLocked(g.ID); err != nil {
			return nil, nil, err
		}
	}

	return nil, nil, nil
}

func (m *Manager) allDependenciesCompleteLocked(dependsOn []string) bool {
	for _, depID := range dependsOn {
		var status string
		err := m.store.DB().QueryRow(`SELECT status FROM goal_tasks WHERE id = ?`, depID).Scan(&status)
		if err != nil || status != string(TaskCompleted) {
			return false
		}
	}
	return true
}

func (m *Manager) autoCompleteIfDoneLocked(goalID string) error {
	var pendingCount int
	err := m.store.DB().QueryRow(
		`SELECT COUNT(*) FROM goal_tasks WHERE goal_id = ? AND status IN ('pending', 'in_progress')`, goalID,
	).Scan(&pendingCount)
	if err != nil {
		return fmt.Errorf("goals: count pending tasks for %s: %w", goalID, err)
	}
	if pendingCount > 0 {
		return nil
	}

	var totalCount int
	if err := m.store.DB().QueryRow(`SELECT COUNT(*) FROM goal_tasks WHERE goal_id = ?`, goalID).Scan(&totalCount); err != nil {
		return fmt.Errorf("goals: count tasks for %s: %w", goalID, err)
	}
	if totalCount == 0 {
		return nil
	}

	var failedCount int
	if err := m.store.DB().QueryRow(`SELECT COUNT(*) FROM goal_tasks WHERE goal_id = ? AND status = 'failed'`, goalID).Scan(&failedCount); err != nil {
		return fmt.Errorf("goals: count failed tasks for %s: %w", goalID, err)
	}

	newStatus := GoalCompleted
	if failedCount > 0 {
		newStatus = GoalFailed
	}
	_, err = m.store.DB().Exec(
		`UPDATE goals SET status = ?, updated_at = datetime('now'), completed_at = datetime('now') WHERE id = ?`,
		newStatus, goalID,
	)
	if err != nil {
		return fmt.Errorf("goals: auto-complete %s: %w", goalID, err)
	}
	return nil
}

// ActiveGoalCount returns the number of goals currently active.
func (m *Manager) ActiveGoalCount() (int, error) {
	m.store.Lock()
	defer m.store.Unlock()

	var count int
	if err := m.store.DB().QueryRow(`SELECT COUNT(*) FROM goals WHERE status = 'active'`).Scan(&count); err != nil {
		return 0, fmt.Errorf("goals: active goal count: %w", err)
	}
	return count, nil
}

func (m *Manager) taskCountsLocked(goalID string) (total, completed, failed int, err error) {
	if err = m.store.DB().QueryRow(`SELECT COUNT(*) FROM goal_tasks WHERE goal_id = ?`, goalID).Scan(&total); err != nil {
		return 0, 0, 0, fmt.Errorf("goals: task counts for %s: %w", goalID, err)
	}
	if err = m.store.DB().QueryRow(`SELECT COUNT(*) FROM goal_tasks WHERE goal_id = ? AND status = 'completed'`, goalID).Scan(&completed); err != nil {
		return 0, 0, 0, fmt.Errorf("goals: task counts for %s: %w", goalID, err)
	}
	if err = m.store.DB().QueryRow(`SELECT COUNT(*) FROM goal_tasks WHERE goal_id = ? AND status = 'failed'`, goalID).Scan(&failed); err != nil {
		return 0, 0, 0, fmt.Errorf("goals: task counts for %s: %w", goalID, err)
	}
	return total, completed, failed, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGoal(row scanner) (*Goal, error) {
	var (
		g            Goal
		status       string
		parentGoalID sql.NullString
		reflection   sql.NullString
		completedAt  sql.NullTime
	)
	if err := row.Scan(&g.ID, &g.Title, &g.Description, &status, &g.Priority, &parentGoalID, &reflection, &g.CreatedAt, &g.UpdatedAt, &completedAt); err != nil {
		return nil, err
	}
	g.Status = GoalStatus(status)
	g.ParentGoalID = parentGoalID.String
	g.Reflection = reflection.String
	if completedAt.Valid {
		t := completedAt.Time
		g.CompletedAt = &t
	}
	return &g, nil
}

func scanTask(row scanner) (*GoalTask, error) {
	var (
		t           GoalTask
		status      string
		toolCall    sql.NullString
		dependsOn   string
		result      sql.NullString
		completedAt sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.GoalID, &t.Title, &t.Description, &status, &toolCall, &dependsOn, &result, &t.SortOrder, &t.CreatedAt, &completedAt); err != nil {
		return nil, err
	}
	t.Status = TaskStatus(status)
	if toolCall.Valid {
		t.ToolCall = json.RawMessage(toolCall.String)
	}
	if dependsOn != "" {
		for _, dep := range strings.Split(dependsOn, ",") {
			dep = strings.TrimSpace(dep)
			if dep != "" {
				t.DependsOn = append(t.DependsOn, dep)
			}
		}
	}
	t.Result = result.String
	if completedAt.Valid {
		ct := completedAt.Time
		t.CompletedAt = &ct
	}
	return &t, nil
}

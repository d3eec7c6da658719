// Package cronjobs evaluates configured cron rows against the wall clock at
// each agent tick. Due jobs execute their tool call
// directly, bypassing the approval queue — cron entries are pre-approved by
// virtue of being configured.
package cronjobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/antigravity-dev/agenthost/internal/store"
)

// Job is the in-memory view of a cron_jobs row.
type Job struct {
	ID        string
	Name      string
	Schedule  string
	Enabled   bool
	LastRunAt *time.Time
	ToolCall  json.RawMessage
}

// Runner executes a due cron job's tool call. Implemented by
// internal/tools.Registry in production; tests supply a stub.
type Runner interface {
	RunToolCall(ctx context.Context, toolCall json.RawMessage) error
}

// Evaluator wraps the store's cron_jobs table and a Runner.
type Evaluator struct {
	store  *store.Store
	runner Runner
	logger *slog.Logger

	// standardParser accepts 5-field cron expressions; secondsParser
	// accepts the optional 6-field form with a leading seconds column.
	standardParser cron.Parser
	secondsParser  cron.Parser
}

// New builds an Evaluator.
func New(st *store.Store, runner Runner, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		store:          st,
		runner:         runner,
		logger:         logger,
		standardParser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		secondsParser:  cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Create inserts a new cron row and returns its id.
func (e *Evaluator) Create(name, schedule string, toolCall json.RawMessage, enabled bool) (string, error) {
	id := uuid.NewString()
	e.store.Lock()
	defer e.store.Unlock()
	_, err := e.store.DB().Exec(
		`INSERT INTO cron_jobs (id, name, schedule, enabled, tool_call) VALUES (?, ?, ?, ?, ?)`,
		id, name, schedule, enabled, string(toolCall),
	)
	if err != nil {
		return "", fmt.Errorf("cronjobs: create %s: %w", name, err)
	}
	return id, nil
}

// SetEnabled toggles a cron row's enabled flag.
func (e *Evaluator) SetEnabled(id string, enabled bool) error {
	e.store.Lock()
	defer e.store.Unlock()
	_, err := e.store.DB().Exec(`UPDATE cron_jobs SET enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return fmt.Errorf("cronjobs: set enabled %s: %w", id, err)
	}
	return nil
}

// List returns every configured cron row.
func (e *Evaluator) List() ([]*Job, error) {
	e.store.Lock()
	defer e.store.Unlock()
	rows, err := e.store.DB().Query(`SELECT id, name, schedule, enabled, last_run_at, tool_call FROM cron_jobs`)
	if err != nil {
		return nil, fmt.Errorf("cronjobs: list: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func scanJob(row interface{ Scan(...any) error }) (*Job, error) {
	var (
		j         Job
		enabled   bool
		lastRunAt sql.NullString
		toolCall  string
	)
	if err := row.Scan(&j.ID, &j.Name, &j.Schedule, &enabled, &lastRunAt, &toolCall); err != nil {
		return nil, fmt.Errorf("cronjobs: scan: %w", err)
	}
	j.Enabled = enabled
	j.ToolCall = json.RawMessage(toolCall)
	// The driver hands a parsed DATETIME back as time.Time, which database/sql
	// renders as RFC 3339; any value that does not parse leaves LastRunAt nil.
	if lastRunAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, lastRunAt.String); err == nil {
			j.LastRunAt = &t
		}
	}
	return &j, nil
}

// EvaluateTick runs one reconciliation pass over every enabled cron row:
// parse the schedule, compute the next firing time after last_run_at, and
// execute if that time has passed. Unparseable schedules are skipped with a
// warning; a null or unparseable last_run_at is treated as due. After
// execution last_run_at is set to now regardless of success.
func (e *Evaluator) EvaluateTick(ctx context.Context, now time.Time) {
	jobs, err := e.List()
	if err != nil {
		e.logger.Error("cronjobs: list failed", "error", err)
		return
	}

	for _, job := range jobs {
		if !job.Enabled {
			continue
		}
		due, err := e.isDue(job, now)
		if err != nil {
			e.logger.Warn("cronjobs: unparseable schedule, skipping", "job", job.Name, "schedule", job.Schedule, "error", err)
			continue
		}
		if !due {
			continue
		}

		if err := e.runner.RunToolCall(ctx, job.ToolCall); err != nil {
			e.logger.Error("cronjobs: tool call failed", "job", job.Name, "error", err)
		}

		if err := e.touchLastRun(job.ID, now); err != nil {
			e.logger.Error("cronjobs: update last_run_at failed", "job", job.Name, "error", err)
		}
	}
}

func (e *Evaluator) isDue(job *Job, now time.Time) (bool, error) {
	schedule, err := e.parseSchedule(job.Schedule)
	if err != nil {
		return false, err
	}

	if job.LastRunAt == nil {
		return true, nil
	}

	next := schedule.Next(*job.LastRunAt)
	return !next.After(now), nil
}

func (e *Evaluator) parseSchedule(expr string) (cron.Schedule, error) {
	if schedule, err := e.standardParser.Parse(expr); err == nil {
		return schedule, nil
	}
	schedule, err := e.secondsParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("cronjobs: parse schedule %q: %w", expr, err)
	}
	return schedule, nil
}

func (e *Evaluator) touchLastRun(id string, now time.Time) error {
	e.store.Lock()
	defer e.store.Unlock()
	_, err := e.store.DB().Exec(`UPDATE cron_jobs SET last_run_at = ? WHERE id = ?`, now.UTC(), id)
	if err != nil {
		return fmt.Errorf("cronjobs: touch last_run_at %s: %w", id, err)
	}
	return nil
}

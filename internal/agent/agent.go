// Package agent owns the tick loop: it
// multiplexes proactive ticks, approved-action draining, cron
// evaluation, and skill reconciliation onto one cooperative event loop,
// and exposes the message-handling path that turns a reasoning reply
// into pending tool-call proposals.
package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/antigravity-dev/agenthost/internal/approval"
	"github.com/antigravity-dev/agenthost/internal/cronjobs"
	"github.com/antigravity-dev/agenthost/internal/skills"
	"github.com/antigravity-dev/agenthost/internal/store"
	"github.com/antigravity-dev/agenthost/internal/toolcall"
	"github.com/antigravity-dev/agenthost/internal/tools"
)

// Reasoner is the LLM inference seam, kept behind an interface with one
// deterministic local implementation (EchoReasoner) used by tests and
// the -dev no-API-key path.
type Reasoner interface {
	Reason(ctx context.Context, prompt string) (string, error)
}

// EchoReasoner answers every prompt by returning it unchanged, and is
// used where no real inference backend is configured.
type EchoReasoner struct{}

func (EchoReasoner) Reason(_ context.Context, prompt string) (string, error) {
	return prompt, nil
}

// Message is one inbound message from the primary messaging backend.
type Message struct {
	From string
	Body string
}

// ProposedAction is a single tool call parsed out of a reasoning reply
// and enqueued onto the approval queue.
type ProposedAction struct {
	ID     string
	Tool   string
	Params json.RawMessage
}

// Agent drives the tick loop over the approval queue, cron evaluator,
// and skill manager: a single select over ticker, force-tick, and
// shutdown.
type Agent struct {
	store    *store.Store
	approval *approval.Queue
	skills   *skills.Manager
	cron     *cronjobs.Evaluator
	registry *tools.Registry
	reasoner Reasoner
	log      *slog.Logger

	tickInterval time.Duration
	expiry       time.Duration
	skillEnv     skills.SpawnEnv

	paused    atomic.Bool
	forceTick chan chan struct{}

	broadcaster *Broadcaster
}

// Config bundles the tunables New needs beyond its subsystem
// dependencies.
type Config struct {
	TickInterval  time.Duration
	ExpirySeconds int
	SkillEnv      skills.SpawnEnv
}

// New wires an Agent from its already-constructed subsystems.
func New(st *store.Store, approvalQueue *approval.Queue, skillManager *skills.Manager, cron *cronjobs.Evaluator, registry *tools.Registry, reasoner Reasoner, log *slog.Logger, cfg Config) *Agent {
	if log == nil {
		log = slog.Default()
	}
	if reasoner == nil {
		reasoner = EchoReasoner{}
	}
	interval := cfg.TickInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	expiry := time.Duration(cfg.ExpirySeconds) * time.Second
	if expiry <= 0 {
		expiry = time.Hour
	}

	return &Agent{
		store:        st,
		approval:     approvalQueue,
		skills:       skillManager,
		cron:         cron,
		registry:     registry,
		reasoner:     reasoner,
		log:          log,
		tickInterval: interval,
		expiry:       expiry,
		skillEnv:     cfg.SkillEnv,
		forceTick:    make(chan chan struct{}),
		broadcaster:  newBroadcaster(),
	}
}

// Run is the supervisory task: repeats until ctx is cancelled,
// draining approved actions every pass and running one housekeeping
// tick per interval (or on ForceTick) while not paused.
func (a *Agent) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if _, err := a.skills.Reconcile(groupCtx, a.skillEnv); err != nil {
			a.log.Warn("agent: startup skill reconcile failed", "error", err)
		}
		return nil
	})
	group.Go(func() error {
		a.cron.EvaluateTick(groupCtx, time.Now())
		return nil
	})
	if err := group.Wait(); err != nil {
		return err
	}

	ticker := time.NewTicker(a.tickInterval)
	defer ticker.Stop()

	a.log.Info("agent started", "tick_interval", a.tickInterval)

	for {
		a.drainApproved(ctx)

		select {
		case <-ctx.Done():
			a.log.Info("agent stopping")
			return nil
		case done := <-a.forceTick:
			if !a.paused.Load() {
				a.runTick(ctx)
			}
			close(done)
		case <-ticker.C:
			if !a.paused.Load() {
				a.runTick(ctx)
			}
		}
	}
}

// ForceTick schedules one immediate tick and blocks until it completes
// (or ctx is cancelled first).
func (a *Agent) ForceTick(ctx context.Context) {
	done := make(chan struct{})
	select {
	case a.forceTick <- done:
	case <-ctx.Done():
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Pause and Resume toggle the atomic pause flag that gates runTick.
// Approved-action draining continues regardless of pause state.
func (a *Agent) Pause()  { a.paused.Store(true) }
func (a *Agent) Resume() { a.paused.Store(false) }

// IsPaused reports the current pause state.
func (a *Agent) IsPaused() bool { return a.paused.Load() }

// Subscribe hands out a fresh receiver on the broadcast fan-out; see
// Broadcaster for delivery semantics.
func (a *Agent) Subscribe() <-chan string { return a.broadcaster.subscribe() }

// Unsubscribe removes a receiver previously returned by Subscribe.
func (a *Agent) Unsubscribe(ch <-chan string) { a.broadcaster.unsubscribe(ch) }

// NotifyUpdate is a best-effort broadcast to every current subscriber.
func (a *Agent) NotifyUpdate(event string) { a.broadcaster.notify(event) }

// runTick performs the housekeeping-only tick algorithm: expire stale
// pending actions, bump the tick counter, then run
// cron evaluation and skill reconcile. Any failure is logged and
// recorded in the activity log; the loop itself never aborts.
func (a *Agent) runTick(ctx context.Context) {
	if expired, err := a.approval.ExpireStale(a.expiry); err != nil {
		a.recordTickError("expire_stale", err)
	} else if expired > 0 {
		a.log.Info("agent tick: expired stale pending actions", "count", expired)
	}

	if err := a.bumpTickCounter(); err != nil {
		a.recordTickError("tick_counter", err)
	}

	a.cron.EvaluateTick(ctx, time.Now())

	if _, err := a.skills.Reconcile(ctx, a.skillEnv); err != nil {
		a.recordTickError("skill_reconcile", err)
	}

	a.NotifyUpdate("tick")
}

// drainApproved executes every approved pending action in FIFO order,
// marking each executed or failed before moving to the next. A single
// action's failure never aborts the loop.
func (a *Agent) drainApproved(ctx context.Context) {
	for {
		action, err := a.approval.NextApproved()
		if err != nil {
			a.recordTickError("next_approved", err)
			return
		}
		if action == nil {
			return
		}

		execErr := a.registry.RunToolCall(ctx, action.Payload)
		if execErr != nil {
			a.log.Error("agent: approved action failed", "id", action.ID, "error", execErr)
			a.recordActivity("approved_action", "error", execErr.Error())
		} else {
			a.recordActivity("approved_action", "ok", action.ID)
		}

		if err := a.approval.MarkExecuted(action.ID, execErr == nil); err != nil {
			a.recordTickError("mark_executed", err)
		}

		a.NotifyUpdate("action_executed")
	}
}

func (a *Agent) recordTickError(stage string, err error) {
	a.log.Error("agent tick error", "stage", stage, "error", err)
	a.recordActivity(stage, "error", err.Error())
}

func (a *Agent) recordActivity(kind, status, detail string) {
	a.store.Lock()
	defer a.store.Unlock()
	_, dbErr := a.store.DB().Exec(
		`INSERT INTO activity_log (kind, status, detail) VALUES (?, ?, ?)`,
		kind, status, detail,
	)
	if dbErr != nil {
		a.log.Error("agent: failed to record activity log entry", "error", dbErr)
	}
}

func (a *Agent) bumpTickCounter() error {
	a.store.Lock()
	defer a.store.Unlock()
	_, err := a.store.DB().Exec(
		`UPDATE agent_stats SET tick_count = tick_count + 1, last_tick_at = datetime('now') WHERE id = 1`,
	)
	if err != nil {
		return fmt.Errorf("agent: bump tick counter: %w", err)
	}
	return nil
}

// Stats is the agent_stats singleton row, exposed for the dashboard's
// status surface.
type Stats struct {
	TickCount     int
	ApprovedCount int
	RejectedCount int
	LastTickAt    *time.Time
}

// GetStats reads the agent_stats singleton row.
func (a *Agent) GetStats() (Stats, error) {
	a.store.Lock()
	defer a.store.Unlock()

	var (
		stats    Stats
		lastTick sql.NullTime
	)
	err := a.store.DB().QueryRow(
		`SELECT tick_count, approved_count, rejected_count, last_tick_at FROM agent_stats WHERE id = 1`,
	).Scan(&stats.TickCount, &stats.ApprovedCount, &stats.RejectedCount, &lastTick)
	if err != nil {
		return Stats{}, fmt.Errorf("agent: get stats: %w", err)
	}
	if lastTick.Valid {
		t := lastTick.Time
		stats.LastTickAt = &t
	}
	return stats, nil
}

// HandleMessage is the message-handling path: it calls the injected
// Reasoner, parses the reply for fenced tool_call blocks, and enqueues
// each as a pending action. The natural-language reply (with tool_call
// fences stripped) is returned for the caller to emit back through the
// messaging backend.
func (a *Agent) HandleMessage(ctx context.Context, msg Message) (reply string, proposals []ProposedAction, err error) {
	raw, err := a.reasoner.Reason(ctx, msg.Body)
	if err != nil {
		return "", nil, fmt.Errorf("agent: reasoning failed: %w", err)
	}

	reply, calls, warnings := toolcall.Parse(raw)
	for _, warning := range warnings {
		a.log.Warn("agent: tool_call parse warning", "warning", warning, "from", msg.From)
	}

	for _, call := range calls {
		envelope, marshalErr := json.Marshal(struct {
			Tool   string          `json:"tool"`
			Params json.RawMessage `json:"params"`
		}{Tool: call.Tool, Params: call.Params})
		if marshalErr != nil {
			a.log.Error("agent: encode tool call envelope failed", "tool", call.Tool, "error", marshalErr)
			continue
		}

		id, proposeErr := a.approval.Propose(envelope, call.Reasoning, msg.From)
		if proposeErr != nil {
			a.log.Error("agent: propose failed", "tool", call.Tool, "error", proposeErr)
			continue
		}
		proposals = append(proposals, ProposedAction{ID: id, Tool: call.Tool, Params: call.Params})
	}

	return reply, proposals, nil
}

// Broadcaster is a mutex-guarded set of subscriber channels, each
// created fresh on subscribe() with a bounded buffer. notify() is a
// non-blocking send: a subscriber with a full buffer misses the event.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[chan string]struct{}
}

func newBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: make(map[chan string]struct{})}
}

const subscriberBufferSize = 16

func (b *Broadcaster) subscribe() <-chan string {
	ch := make(chan string, subscriberBufferSize)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broadcaster) unsubscribe(ch <-chan string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subscribers {
		if sub == ch {
			delete(b.subscribers, sub)
			close(sub)
			return
		}
	}
}

func (b *Broadcaster) notify(event string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// full: dropped per the best-effort contract.
		}
	}
}

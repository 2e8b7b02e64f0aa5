package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mvanek/agentswarm/internal/adapter/otel"
	"github.com/mvanek/agentswarm/internal/agent"
	"github.com/mvanek/agentswarm/internal/config"
	"github.com/mvanek/agentswarm/internal/domain/message"
	"github.com/mvanek/agentswarm/internal/domain/solution"
	"github.com/mvanek/agentswarm/internal/domain/task"
	"github.com/mvanek/agentswarm/internal/domain/worker"
	"github.com/mvanek/agentswarm/internal/port/applier"
	"github.com/mvanek/agentswarm/internal/port/bus"
	"github.com/mvanek/agentswarm/internal/port/knowledge"
	"github.com/mvanek/agentswarm/internal/port/projectcontext"
)

// Worker is the long-running execution unit claiming tasks for one agent.
//
// State machine: idle -> working -> (idle | error). The error state is
// entered after the configured number of consecutive failures and left only
// through Reset or a health-monitor restart. A lower-frequency monitoring
// tick runs alongside without touching the primary state.
type Worker struct {
	id      string
	agent   agent.Agent
	queue   *QueueService
	bus     bus.Bus
	project projectcontext.Provider
	apply   applier.Applier
	know    knowledge.Repository
	metrics *otel.Metrics
	cfg     config.Worker

	mu            sync.Mutex
	status        worker.Status
	currentTaskID string
	completed     int
	failed        int
	consecutive   int
	lastActivity  time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// WorkerDeps bundles the collaborators a worker needs.
type WorkerDeps struct {
	Queue     *QueueService
	Bus       bus.Bus
	Project   projectcontext.Provider
	Applier   applier.Applier
	Knowledge knowledge.Repository
	Metrics   *otel.Metrics
}

// NewWorker creates an idle worker bound to the given agent.
func NewWorker(a agent.Agent, deps WorkerDeps, cfg config.Worker) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = 30 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	return &Worker{
		id:           a.ID() + "-worker",
		agent:        a,
		queue:        deps.Queue,
		bus:          deps.Bus,
		project:      deps.Project,
		apply:        deps.Applier,
		know:         deps.Knowledge,
		metrics:      deps.Metrics,
		cfg:          cfg,
		status:       worker.StatusIdle,
		lastActivity: time.Now().UTC(),
	}
}

// ID returns the worker identifier.
func (w *Worker) ID() string { return w.id }

// Agent returns the bound agent.
func (w *Worker) Agent() agent.Agent { return w.agent }

// Start launches the claim loop and the monitoring tick.
func (w *Worker) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.monitor(runCtx)
	go func() {
		defer close(w.done)
		w.run(runCtx)
	}()

	slog.Info("worker started", "worker_id", w.id, "specialization", w.agent.Specialization())
}

// Stop cancels the loops and waits for the claim loop to unwind.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	if w.done != nil {
		<-w.done
	}
	slog.Info("worker stopped", "worker_id", w.id)
}

// Reset returns an errored worker to idle so it claims again.
func (w *Worker) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status == worker.StatusError || w.status == worker.StatusDisabled {
		w.status = worker.StatusIdle
		w.consecutive = 0
		w.lastActivity = time.Now().UTC()
	}
}

// State returns a read-only snapshot of the worker.
func (w *Worker) State() worker.State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return worker.State{
		WorkerID:       w.id,
		Specialization: w.agent.Specialization(),
		Status:         w.status,
		CurrentTaskID:  w.currentTaskID,
		Completed:      w.completed,
		Failed:         w.failed,
		LastActivity:   w.lastActivity,
	}
}

func (w *Worker) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if !w.claimable() {
			// Error state: wait for reset or restart without claiming.
			if !sleep(ctx, w.cfg.PollInterval) {
				return
			}
			continue
		}

		qt := w.queue.DequeueNext(w.match)
		if qt == nil {
			if !sleep(ctx, w.cfg.PollInterval) {
				return
			}
			continue
		}

		w.setWorking(qt.Task.ID)
		if w.metrics != nil {
			w.metrics.TasksClaimed.Add(ctx, 1)
		}
		if err := w.queue.MarkProcessing(qt.Task.ID, w.id); err != nil {
			slog.Warn("mark processing failed", "worker_id", w.id, "task_id", qt.Task.ID, "error", err)
		}

		w.execute(ctx, qt.Task)
		w.setIdleOrError()
	}
}

// match is the claim predicate built from the agent's task-type preferences.
func (w *Worker) match(t *task.Task) bool {
	for _, tt := range w.agent.TaskTypes() {
		if t.Type == tt {
			return true
		}
	}
	return false
}

// execute runs the bound agent's full pipeline for one claimed task.
// Every failure is contained here; the worker itself never crashes.
func (w *Worker) execute(ctx context.Context, t *task.Task) {
	started := time.Now()

	if w.observeCancelled(t.ID) {
		return
	}

	snap := w.snapshot(ctx)

	onThought := func(th solution.Thought) {
		slog.Debug("agent thought",
			"agent_id", th.AgentID, "task_id", th.TaskID, "phase", th.Phase, "content", th.Content)
	}

	sol, err := w.agent.Propose(ctx, t, snap, onThought)
	if err != nil {
		w.recordFailure(ctx, t, fmt.Sprintf("agent pipeline: %v", err))
		return
	}

	if w.observeCancelled(t.ID) {
		return
	}

	prog := &task.Progress{Elapsed: time.Since(started)}

	if w.apply != nil && w.cfg.ApplyChanges && len(sol.Changes) > 0 {
		res, err := w.apply.Apply(ctx, sol.Changes)
		if err != nil || !res.Success {
			reason := res.Err
			if err != nil {
				reason = err.Error()
			}
			// Application failure blocks the task with the collaborator's
			// error; it is not an agent failure.
			if markErr := w.queue.MarkFailed(t.ID, w.id, "apply changes: "+reason); markErr != nil {
				slog.Warn("mark blocked failed", "task_id", t.ID, "error", markErr)
			}
			w.appendOutcome(ctx, t.ID, false, "apply changes: "+reason)
			return
		}
		prog.FilesChanged = len(res.FilesChanged)
		w.publishFilesChanged(t.ID, res.FilesChanged)
	}

	if err := w.queue.MarkCompleted(t.ID, w.id, prog); err != nil {
		slog.Warn("mark completed failed", "task_id", t.ID, "error", err)
	}

	w.mu.Lock()
	w.completed++
	w.consecutive = 0
	w.mu.Unlock()

	if w.metrics != nil {
		w.metrics.TasksCompleted.Add(ctx, 1)
	}
	w.appendOutcome(ctx, t.ID, true, "solution "+sol.ID)
	slog.Info("task completed",
		"worker_id", w.id, "task_id", t.ID, "solution_id", sol.ID,
		"score", sol.OverallScore, "elapsed", prog.Elapsed)
}

// observeCancelled acknowledges a cooperative cancellation request.
func (w *Worker) observeCancelled(taskID string) bool {
	if !w.queue.Cancelled(taskID) {
		return false
	}
	if err := w.queue.AckCancelled(taskID, w.id); err != nil {
		slog.Warn("ack cancel failed", "task_id", taskID, "error", err)
	}
	slog.Info("task cancellation observed", "worker_id", w.id, "task_id", taskID)
	return true
}

func (w *Worker) recordFailure(ctx context.Context, t *task.Task, reason string) {
	if err := w.queue.MarkFailed(t.ID, w.id, reason); err != nil {
		slog.Warn("mark failed errored", "task_id", t.ID, "error", err)
	}

	w.mu.Lock()
	w.failed++
	w.consecutive++
	hitThreshold := w.consecutive >= w.cfg.FailureThreshold
	w.mu.Unlock()

	if w.metrics != nil {
		w.metrics.TasksFailed.Add(ctx, 1)
	}
	w.appendOutcome(ctx, t.ID, false, reason)

	if hitThreshold {
		slog.Error("worker entering error state",
			"worker_id", w.id, "consecutive_failures", w.consecutive)
	} else {
		slog.Warn("task failed", "worker_id", w.id, "task_id", t.ID, "reason", reason)
	}
}

// monitor is the low-frequency self-monitoring tick. It observes without
// mutating the primary state machine.
func (w *Worker) monitor(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := w.State()
			slog.Debug("worker self-check",
				"worker_id", st.WorkerID,
				"status", st.Status,
				"completed", st.Completed,
				"failed", st.Failed,
				"current_task", st.CurrentTaskID)
		}
	}
}

func (w *Worker) claimable() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastActivity = time.Now().UTC()
	return w.status == worker.StatusIdle
}

func (w *Worker) setWorking(taskID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = worker.StatusWorking
	w.currentTaskID = taskID
	w.lastActivity = time.Now().UTC()
}

func (w *Worker) setIdleOrError() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.currentTaskID = ""
	w.lastActivity = time.Now().UTC()
	if w.consecutive >= w.cfg.FailureThreshold {
		w.status = worker.StatusError
		return
	}
	w.status = worker.StatusIdle
}

func (w *Worker) snapshot(ctx context.Context) projectcontext.Snapshot {
	if w.project == nil {
		return projectcontext.Snapshot{}
	}
	snap, err := w.project.Snapshot(ctx)
	if err != nil {
		slog.Warn("project snapshot unavailable", "worker_id", w.id, "error", err)
		return projectcontext.Snapshot{}
	}
	return snap
}

func (w *Worker) appendOutcome(ctx context.Context, taskID string, success bool, detail string) {
	if w.know == nil {
		return
	}
	err := w.know.AppendOutcome(ctx, knowledge.OutcomeRecord{
		TaskID:    taskID,
		WorkerID:  w.id,
		Success:   success,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("append outcome failed", "task_id", taskID, "error", err)
	}
}

func (w *Worker) publishFilesChanged(taskID string, files []string) {
	if w.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"task_id": taskID,
		"files":   files,
	})
	w.bus.Publish(message.Message{
		Type:      message.TypeFileChanged,
		Sender:    w.id,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
}

// sleep waits for d or until ctx is done; it reports false on cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

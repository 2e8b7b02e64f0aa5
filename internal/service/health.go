package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/mvanek/agentswarm/internal/adapter/otel"
	"github.com/mvanek/agentswarm/internal/config"
	"github.com/mvanek/agentswarm/internal/domain/message"
	"github.com/mvanek/agentswarm/internal/domain/worker"
	"github.com/mvanek/agentswarm/internal/port/bus"
)

// HealthReport is a point-in-time view of one worker as seen by the monitor.
type HealthReport struct {
	State     worker.State `json:"state"`
	Healthy   bool         `json:"healthy"`
	SinceSeen time.Duration `json:"since_seen"`
}

// HealthService watches worker heartbeats and outcomes. A worker with no
// activity inside the rolling window, or one sitting in the error state, is
// flagged unhealthy exactly once per incident and restarted, rate limited by
// a per-worker cooldown.
type HealthService struct {
	queue   *QueueService
	bus     bus.Bus
	metrics *otel.Metrics
	cfg     config.Health

	mu          sync.Mutex
	workers     map[string]*Worker
	flagged     map[string]bool      // open incident per worker
	lastRestart map[string]time.Time // cooldown tracking
	restarts    map[string]int
}

// NewHealthService creates a monitor over the given workers.
func NewHealthService(workers []*Worker, q *QueueService, b bus.Bus, m *otel.Metrics, cfg config.Health) *HealthService {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.UnhealthyAfter <= 0 {
		cfg.UnhealthyAfter = 2 * time.Minute
	}
	byID := make(map[string]*Worker, len(workers))
	for _, w := range workers {
		byID[w.ID()] = w
	}
	return &HealthService{
		queue:       q,
		bus:         b,
		metrics:     m,
		cfg:         cfg,
		workers:     byID,
		flagged:     make(map[string]bool),
		lastRestart: make(map[string]time.Time),
		restarts:    make(map[string]int),
	}
}

// Start runs the polling loop until ctx is done.
func (h *HealthService) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(h.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.check(ctx)
			}
		}
	}()
	slog.Info("health monitor started",
		"workers", len(h.workers), "poll_interval", h.cfg.PollInterval)
}

// Reports returns the current health view of every worker.
func (h *HealthService) Reports() []HealthReport {
	h.mu.Lock()
	workers := make([]*Worker, 0, len(h.workers))
	for _, w := range h.workers {
		workers = append(workers, w)
	}
	h.mu.Unlock()

	now := time.Now()
	reports := make([]HealthReport, 0, len(workers))
	for _, w := range workers {
		st := w.State()
		reports = append(reports, HealthReport{
			State:     st,
			Healthy:   h.healthy(st, now),
			SinceSeen: now.Sub(st.LastActivity),
		})
	}
	return reports
}

// RestartCount returns how many restarts the monitor has issued for a worker.
func (h *HealthService) RestartCount(workerID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.restarts[workerID]
}

func (h *HealthService) check(ctx context.Context) {
	h.mu.Lock()
	workers := make([]*Worker, 0, len(h.workers))
	for _, w := range h.workers {
		workers = append(workers, w)
	}
	h.mu.Unlock()

	now := time.Now()
	for _, w := range workers {
		st := w.State()
		if h.healthy(st, now) {
			h.closeIncident(st.WorkerID)
			continue
		}
		h.handleUnhealthy(ctx, w, st, now)
	}
}

func (h *HealthService) healthy(st worker.State, now time.Time) bool {
	if st.Status == worker.StatusError {
		return false
	}
	if st.Status == worker.StatusDisabled {
		return true // parked deliberately, not an incident
	}
	return now.Sub(st.LastActivity) < h.cfg.UnhealthyAfter
}

// handleUnhealthy publishes the unhealthy event once per incident and
// restarts the worker when the cooldown allows.
func (h *HealthService) handleUnhealthy(ctx context.Context, w *Worker, st worker.State, now time.Time) {
	h.mu.Lock()
	first := !h.flagged[st.WorkerID]
	h.flagged[st.WorkerID] = true
	canRestart := now.Sub(h.lastRestart[st.WorkerID]) >= h.cfg.RestartCooldown
	if canRestart {
		h.lastRestart[st.WorkerID] = now
		h.restarts[st.WorkerID]++
	}
	h.mu.Unlock()

	if first {
		slog.Warn("worker unhealthy",
			"worker_id", st.WorkerID,
			"status", st.Status,
			"last_activity", st.LastActivity,
			"current_task", st.CurrentTaskID)
		h.publish(message.TypeWorkerUnhealthy, st.WorkerID, map[string]string{
			"worker_id": st.WorkerID,
			"status":    string(st.Status),
			"task_id":   st.CurrentTaskID,
		})
	}

	if !canRestart {
		return
	}
	h.restart(ctx, w, st)
}

// restart reclaims the worker's in-flight task and returns the worker to
// idle. Restarts are cooperative: a worker wedged inside a completion call
// keeps its goroutine, and the queue rejects its stale outcome once the task
// has been requeued.
func (h *HealthService) restart(ctx context.Context, w *Worker, st worker.State) {
	if st.CurrentTaskID != "" {
		if h.cfg.RequeueOnRestart {
			if err := h.queue.Requeue(st.CurrentTaskID); err != nil {
				slog.Warn("requeue on restart failed",
					"worker_id", st.WorkerID, "task_id", st.CurrentTaskID, "error", err)
			}
		} else {
			if err := h.queue.MarkCancelled(st.CurrentTaskID, "worker restart"); err != nil {
				slog.Warn("cancel on restart failed",
					"worker_id", st.WorkerID, "task_id", st.CurrentTaskID, "error", err)
			}
		}
	}

	w.Reset()

	if h.metrics != nil {
		h.metrics.WorkerRestarts.Add(ctx, 1)
	}
	slog.Info("worker restarted", "worker_id", st.WorkerID, "task_id", st.CurrentTaskID)
	h.publish(message.TypeWorkerRestarted, st.WorkerID, map[string]string{
		"worker_id": st.WorkerID,
		"task_id":   st.CurrentTaskID,
		"requeued":  boolString(h.cfg.RequeueOnRestart && st.CurrentTaskID != ""),
	})
}

// closeIncident clears the unhealthy flag so the next incident emits again.
func (h *HealthService) closeIncident(workerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.flagged[workerID] {
		delete(h.flagged, workerID)
		slog.Info("worker recovered", "worker_id", workerID)
	}
}

func (h *HealthService) publish(t message.Type, sender string, payload map[string]string) {
	if h.bus == nil {
		return
	}
	data, _ := json.Marshal(payload)
	h.bus.Publish(message.Message{
		Type:      t,
		Sender:    sender,
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	})
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

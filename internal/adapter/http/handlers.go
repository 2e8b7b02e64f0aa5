// Package http implements the REST API over the orchestration services.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/mvanek/agentswarm/internal/domain/task"
	"github.com/mvanek/agentswarm/internal/domain/worker"
	"github.com/mvanek/agentswarm/internal/port/bus"
	"github.com/mvanek/agentswarm/internal/resilience"
	"github.com/mvanek/agentswarm/internal/service"
)

// Handlers holds the service dependencies for all HTTP endpoints.
type Handlers struct {
	Queue      *service.QueueService
	Brainstorm *service.BrainstormService
	Health     *service.HealthService
	Bus        bus.Bus
	Breaker    *resilience.Breaker
	WS         http.HandlerFunc // WebSocket upgrade handler, optional
}

// CreateTask enqueues a new task.
func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[task.CreateRequest](w, r)
	if !ok {
		return
	}
	qt, err := h.Queue.Enqueue(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, qt)
}

// GetTask returns one task record.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	qt, err := h.Queue.Get(urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, qt)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// CancelTask cancels a pending or in-flight task.
func (h *Handlers) CancelTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[cancelRequest](w, r)
	if !ok {
		return
	}
	if err := h.Queue.MarkCancelled(urlParam(r, "id"), req.Reason); err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

type statsResponse struct {
	Queue   service.QueueStats     `json:"queue"`
	Bus     bus.Stats              `json:"bus"`
	Workers []service.HealthReport `json:"workers"`
}

// GetStats returns the queue census, bus counters and worker health.
func (h *Handlers) GetStats(w http.ResponseWriter, _ *http.Request) {
	resp := statsResponse{Queue: h.Queue.Stats()}
	if h.Bus != nil {
		resp.Bus = h.Bus.Stats()
	}
	if h.Health != nil {
		resp.Workers = h.Health.Reports()
	}
	writeJSON(w, http.StatusOK, resp)
}

type startSessionRequest struct {
	Type        task.Type     `json:"type"`
	Priority    task.Priority `json:"priority"`
	Description string        `json:"description"`
	AgentIDs    []string      `json:"agent_ids,omitempty"`
}

// StartSession opens a brainstorming session and returns immediately;
// clients poll GET /sessions/{id} for progress.
func (h *Handlers) StartSession(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[startSessionRequest](w, r)
	if !ok {
		return
	}

	qt, err := h.Queue.Enqueue(task.CreateRequest{
		Type:        req.Type,
		Priority:    req.Priority,
		Description: req.Description,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// The session outlives the request; it is bounded by its own deadline,
	// not by the request context.
	sess, err := h.Brainstorm.StartSessionAsync(context.WithoutCancel(r.Context()), qt.Task, req.AgentIDs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, sess)
}

// GetSession returns a session with its collected solutions and verdicts.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Brainstorm.Session(urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// CancelSession cancels an active session.
func (h *Handlers) CancelSession(w http.ResponseWriter, r *http.Request) {
	if err := h.Brainstorm.Cancel(urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// ConsolidateSession returns the session's solutions filtered and ranked.
func (h *Handlers) ConsolidateSession(w http.ResponseWriter, r *http.Request) {
	ranked, err := h.Brainstorm.Consolidate(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, ranked)
}

// RefineSession reworks a session whose solutions drifted: deviating agents
// get a feedback retry, and a still-weak best solution goes through ensemble
// refinement. 204 means nothing needed reworking or the rework was rejected.
func (h *Handlers) RefineSession(w http.ResponseWriter, r *http.Request) {
	refined, err := h.Brainstorm.RefineIfNeeded(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	if refined == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, refined)
}

// ListWorkers returns the health view of every worker.
func (h *Handlers) ListWorkers(w http.ResponseWriter, _ *http.Request) {
	if h.Health == nil {
		writeJSON(w, http.StatusOK, []service.HealthReport{})
		return
	}
	writeJSON(w, http.StatusOK, h.Health.Reports())
}

type healthResponse struct {
	Status      string    `json:"status"`
	BreakerOpen bool      `json:"breaker_open"`
	Unhealthy   int       `json:"unhealthy_workers"`
	Time        time.Time `json:"time"`
}

// Healthz reports liveness plus the degraded flags that matter operationally.
func (h *Handlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", Time: time.Now().UTC()}
	if h.Breaker != nil && h.Breaker.Open() {
		resp.BreakerOpen = true
		resp.Status = "degraded"
	}
	if h.Health != nil {
		for _, rep := range h.Health.Reports() {
			if !rep.Healthy || rep.State.Status == worker.StatusError {
				resp.Unhealthy++
			}
		}
		if resp.Unhealthy > 0 {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

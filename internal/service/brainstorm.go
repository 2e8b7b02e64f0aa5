package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mvanek/agentswarm/internal/adapter/otel"
	"github.com/mvanek/agentswarm/internal/agent"
	"github.com/mvanek/agentswarm/internal/config"
	"github.com/mvanek/agentswarm/internal/domain"
	"github.com/mvanek/agentswarm/internal/domain/message"
	"github.com/mvanek/agentswarm/internal/domain/session"
	"github.com/mvanek/agentswarm/internal/domain/solution"
	"github.com/mvanek/agentswarm/internal/domain/task"
	"github.com/mvanek/agentswarm/internal/port/bus"
	"github.com/mvanek/agentswarm/internal/port/knowledge"
	"github.com/mvanek/agentswarm/internal/port/projectcontext"
)

// RankedSolution pairs a session solution with its consolidation rank score.
type RankedSolution struct {
	Solution  *solution.Solution       `json:"solution"`
	Deviation *session.DeviationResult `json:"deviation"`
	Score     float64                  `json:"score"`
}

// BrainstormService fans one task out to several agents in parallel and
// collects their proposals into a session. The deadline bounds the whole
// fan-out; agents that miss it simply do not contribute, and a session with
// partial results is still consolidated.
type BrainstormService struct {
	fleet      map[string]agent.Agent
	deviation  *DeviationService
	evaluator  *EvaluatorService
	refinement *RefinementService
	project    projectcontext.Provider
	know       knowledge.Repository
	bus        bus.Bus
	metrics    *otel.Metrics
	cfg        config.Brainstorm

	mu       sync.Mutex
	sessions map[string]*session.Session
}

// NewBrainstormService wires the fan-out manager.
func NewBrainstormService(
	fleet map[string]agent.Agent,
	dev *DeviationService,
	eval *EvaluatorService,
	ref *RefinementService,
	project projectcontext.Provider,
	know knowledge.Repository,
	b bus.Bus,
	m *otel.Metrics,
	cfg config.Brainstorm,
) *BrainstormService {
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 10 * time.Minute
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.RelevanceWeight <= 0 || cfg.RelevanceWeight >= 1 {
		cfg.RelevanceWeight = 0.4
	}
	return &BrainstormService{
		fleet:      fleet,
		deviation:  dev,
		evaluator:  eval,
		refinement: ref,
		project:    project,
		know:       know,
		bus:        b,
		metrics:    m,
		cfg:        cfg,
		sessions:   make(map[string]*session.Session),
	}
}

// StartSession runs the full fan-out for t across the named agents and
// blocks until every agent finishes or the session deadline passes. Passing
// no agent ids selects the whole fleet.
func (s *BrainstormService) StartSession(ctx context.Context, t *task.Task, agentIDs []string) (*session.Session, error) {
	sess, agents, err := s.open(t, agentIDs)
	if err != nil {
		return nil, err
	}
	s.run(ctx, sess, t, agents)
	return sess, nil
}

// StartSessionAsync opens a session and runs the fan-out in the background,
// returning immediately so callers can poll the session by id.
func (s *BrainstormService) StartSessionAsync(ctx context.Context, t *task.Task, agentIDs []string) (*session.Session, error) {
	sess, agents, err := s.open(t, agentIDs)
	if err != nil {
		return nil, err
	}
	go s.run(ctx, sess, t, agents)
	return sess, nil
}

func (s *BrainstormService) open(t *task.Task, agentIDs []string) (*session.Session, []agent.Agent, error) {
	if t == nil || t.Description == "" {
		return nil, nil, fmt.Errorf("start session: task has no description")
	}

	agents := s.participants(agentIDs)
	if len(agents) == 0 {
		return nil, nil, fmt.Errorf("start session: no matching agents")
	}

	ids := make([]string, 0, len(agents))
	for _, a := range agents {
		ids = append(ids, a.ID())
	}

	sess := session.New(uuid.NewString(), t, ids, time.Now().Add(s.cfg.SessionTimeout))
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.publish(message.TypeSessionStarted, sess.ID, map[string]string{
		"session_id": sess.ID,
		"task_id":    t.ID,
		"agents":     fmt.Sprintf("%d", len(ids)),
	})
	slog.Info("brainstorm session started",
		"session_id", sess.ID, "task_id", t.ID, "agents", len(ids))
	return sess, agents, nil
}

func (s *BrainstormService) run(ctx context.Context, sess *session.Session, t *task.Task, agents []agent.Agent) {
	snap := s.snapshot(ctx)

	runCtx, cancel := context.WithDeadline(ctx, sess.Deadline)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(s.cfg.MaxConcurrent)
	for _, a := range agents {
		a := a
		g.Go(func() error {
			s.runAgent(gctx, sess, t, a, snap)
			return nil // one agent failing never sinks the session
		})
	}
	_ = g.Wait()

	s.finishSession(ctx, sess)
}

// runAgent executes one agent's pipeline on its task variation and records
// the result in the session under the service mutex.
func (s *BrainstormService) runAgent(ctx context.Context, sess *session.Session, original *task.Task, a agent.Agent, snap projectcontext.Snapshot) {
	variant := s.variation(original, a)

	onThought := func(th solution.Thought) {
		s.mu.Lock()
		if sess.Status == session.StatusActive {
			sess.Thoughts[a.ID()] = append(sess.Thoughts[a.ID()], th)
		}
		s.mu.Unlock()
	}

	sol, err := a.Propose(ctx, variant, snap, onThought)

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.Status != session.StatusActive {
		// Cancelled mid-flight: the record is frozen, late results are dropped.
		return
	}
	sess.Completed[a.ID()] = true

	if err != nil {
		slog.Warn("agent dropped out of session",
			"session_id", sess.ID, "agent_id", a.ID(), "error", err)
		return
	}

	sol.TaskID = original.ID // variations never leak into the record
	sess.Solutions[a.ID()] = sol
	// Deviation is always judged against the original task, not the variation.
	sess.Deviations[a.ID()] = s.deviation.Check(ctx, original, sol)
}

// variation derives a per-agent copy of the task so each specialization
// attacks the problem from its own angle. The original task is never mutated.
func (s *BrainstormService) variation(t *task.Task, a agent.Agent) *task.Task {
	v := *t
	if s.cfg.VaryTasks {
		v.Description = t.Description +
			"\n\nApproach this from the " + a.Specialization() + " perspective."
	}
	return &v
}

func (s *BrainstormService) finishSession(ctx context.Context, sess *session.Session) {
	s.mu.Lock()
	if sess.Status == session.StatusActive {
		// A deadline expiry with nothing collected is a cancellation;
		// any partial yield still counts as a completed session.
		if len(sess.Solutions) == 0 && !time.Now().Before(sess.Deadline) {
			sess.Status = session.StatusCancelled
		} else {
			sess.Status = session.StatusCompleted
		}
		sess.EndedAt = time.Now().UTC()
	}
	duration := sess.EndedAt.Sub(sess.StartedAt)
	collected := len(sess.Solutions)
	participants := len(sess.AgentIDs)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SessionsCompleted.Add(ctx, 1)
		s.metrics.SessionDuration.Record(ctx, duration.Seconds())
	}
	s.publish(message.TypeSessionEnded, sess.ID, map[string]string{
		"session_id": sess.ID,
		"task_id":    sess.Task.ID,
		"solutions":  fmt.Sprintf("%d", collected),
	})
	s.appendDecision(ctx, sess)
	slog.Info("brainstorm session finished",
		"session_id", sess.ID,
		"solutions", collected,
		"participants", participants,
		"duration", duration)
}

// Session returns the session by id.
func (s *BrainstormService) Session(id string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	return sess, nil
}

// Cancel marks an active session cancelled. In-flight agents finish their
// current call but their results are not consolidated.
func (s *BrainstormService) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("cancel session %s: %w", id, domain.ErrNotFound)
	}
	if sess.Status != session.StatusActive {
		return fmt.Errorf("cancel session %s in status %s: %w", id, sess.Status, domain.ErrTerminal)
	}
	sess.Status = session.StatusCancelled
	sess.EndedAt = time.Now().UTC()
	return nil
}

// Consolidate filters and ranks a finished session's solutions. Solutions
// with a high deviation or relevance under the floor are dropped; when the
// filter would drop everything, the single most relevant solution survives
// so a session with any output never consolidates to nothing.
func (s *BrainstormService) Consolidate(ctx context.Context, sessionID string) ([]RankedSolution, error) {
	sess, err := s.Session(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	entries := make([]RankedSolution, 0, len(sess.Solutions))
	for agentID, sol := range sess.Solutions {
		entries = append(entries, RankedSolution{
			Solution:  sol,
			Deviation: sess.Deviations[agentID],
		})
	}
	s.mu.Unlock()

	if len(entries) == 0 {
		return nil, fmt.Errorf("consolidate session %s: no solutions", sessionID)
	}

	kept := make([]RankedSolution, 0, len(entries))
	for _, e := range entries {
		if e.Deviation != nil &&
			(e.Deviation.Level == session.DeviationHigh || e.Deviation.Relevance < s.cfg.MinRelevance) {
			continue
		}
		kept = append(kept, e)
	}
	if len(kept) == 0 {
		best := entries[0]
		for _, e := range entries[1:] {
			if relevanceOf(e) > relevanceOf(best) {
				best = e
			}
		}
		slog.Warn("all session solutions deviated, keeping most relevant",
			"session_id", sessionID, "solution_id", best.Solution.ID)
		kept = []RankedSolution{best}
	}

	for i := range kept {
		score := kept[i].Solution.OverallScore
		if s.evaluator != nil {
			if res, err := s.evaluator.Evaluate(ctx, kept[i].Solution); err == nil {
				score = res.OverallScore
			}
		}
		kept[i].Score = s.cfg.RelevanceWeight*relevanceOf(kept[i]) +
			(1-s.cfg.RelevanceWeight)*score
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })
	return kept, nil
}

// RefineIfNeeded reworks a finished session whose solutions drifted. Agents
// with a high deviation or relevance under the refinement bar are re-invoked
// once with the deviation feedback appended to the task description; if the
// best consolidated solution still sits under the bar afterwards, it goes
// through one ensemble refinement round. Returns the improved solution, or
// nil when the session needed nothing.
func (s *BrainstormService) RefineIfNeeded(ctx context.Context, sessionID string) (*solution.Solution, error) {
	sess, err := s.Session(sessionID)
	if err != nil {
		return nil, err
	}

	reworked := s.reinvokeDeviating(ctx, sess)

	ranked, err := s.Consolidate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	best := ranked[0]

	if relevanceOf(best) >= s.cfg.RefineBelow || s.refinement == nil {
		if reworked {
			return best.Solution, nil
		}
		return nil, nil
	}

	slog.Info("triggering ensemble refinement",
		"session_id", sessionID,
		"solution_id", best.Solution.ID,
		"relevance", relevanceOf(best))
	refined, err := s.refinement.Refine(ctx, sess.Task, best.Solution)
	if err != nil {
		return nil, fmt.Errorf("refine session %s: %w", sessionID, err)
	}
	if refined == nil && reworked {
		return best.Solution, nil
	}
	return refined, nil
}

// reinvokeDeviating gives each drifted agent one retry with explicit
// feedback. A retry only replaces the session record when its deviation
// verdict actually improves.
func (s *BrainstormService) reinvokeDeviating(ctx context.Context, sess *session.Session) bool {
	type retry struct {
		agentID string
		dev     *session.DeviationResult
	}

	s.mu.Lock()
	if sess.Status == session.StatusCancelled {
		s.mu.Unlock()
		return false
	}
	t := sess.Task
	var retries []retry
	for agentID, dev := range sess.Deviations {
		if dev == nil {
			continue
		}
		if dev.Level == session.DeviationHigh || dev.Relevance < s.cfg.RefineBelow {
			retries = append(retries, retry{agentID: agentID, dev: dev})
		}
	}
	s.mu.Unlock()

	if len(retries) == 0 {
		return false
	}

	snap := s.snapshot(ctx)
	improved := false
	for _, r := range retries {
		a, ok := s.fleet[r.agentID]
		if !ok {
			continue
		}

		v := *t
		var sb strings.Builder
		sb.WriteString(t.Description)
		sb.WriteString("\n\nFeedback on the previous proposal: ")
		sb.WriteString(r.dev.Feedback)
		for _, rec := range r.dev.Recommendations {
			sb.WriteString("\n- ")
			sb.WriteString(rec)
		}
		v.Description = sb.String()

		sol, err := a.Propose(ctx, &v, snap, nil)
		if err != nil {
			slog.Warn("feedback retry failed",
				"session_id", sess.ID, "agent_id", r.agentID, "error", err)
			continue
		}
		sol.TaskID = t.ID
		dev := s.deviation.Check(ctx, t, sol)
		if dev.Relevance <= r.dev.Relevance {
			continue
		}

		s.mu.Lock()
		sess.Solutions[r.agentID] = sol
		sess.Deviations[r.agentID] = dev
		s.mu.Unlock()
		improved = true
		slog.Info("feedback retry improved solution",
			"session_id", sess.ID, "agent_id", r.agentID,
			"relevance", dev.Relevance, "was", r.dev.Relevance)
	}
	return improved
}

func (s *BrainstormService) participants(agentIDs []string) []agent.Agent {
	if len(agentIDs) == 0 {
		agents := make([]agent.Agent, 0, len(s.fleet))
		for _, id := range sortedKeys(s.fleet) {
			agents = append(agents, s.fleet[id])
		}
		return agents
	}
	var agents []agent.Agent
	for _, id := range agentIDs {
		if a, ok := s.fleet[id]; ok {
			agents = append(agents, a)
		}
	}
	return agents
}

func (s *BrainstormService) snapshot(ctx context.Context) projectcontext.Snapshot {
	if s.project == nil {
		return projectcontext.Snapshot{}
	}
	snap, err := s.project.Snapshot(ctx)
	if err != nil {
		slog.Warn("project snapshot unavailable for session", "error", err)
		return projectcontext.Snapshot{}
	}
	return snap
}

func (s *BrainstormService) appendDecision(ctx context.Context, sess *session.Session) {
	if s.know == nil {
		return
	}
	s.mu.Lock()
	summary := fmt.Sprintf("session %s collected %d solution(s) from %d agent(s)",
		sess.ID, len(sess.Solutions), len(sess.AgentIDs))
	s.mu.Unlock()

	err := s.know.AppendDecision(ctx, knowledge.DecisionRecord{
		DecisionID: uuid.NewString(),
		TaskID:     sess.Task.ID,
		Kind:       "session",
		Detail:     summary,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("append decision failed", "session_id", sess.ID, "error", err)
	}
}

func (s *BrainstormService) publish(t message.Type, sender string, payload map[string]string) {
	if s.bus == nil {
		return
	}
	data, _ := json.Marshal(payload)
	s.bus.Publish(message.Message{
		Type:      t,
		Sender:    sender,
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	})
}

func relevanceOf(r RankedSolution) float64 {
	if r.Deviation == nil {
		return 0
	}
	return r.Deviation.Relevance
}

func sortedKeys(m map[string]agent.Agent) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

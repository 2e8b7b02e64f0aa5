package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/mvanek/agentswarm/internal/agent"
	"github.com/mvanek/agentswarm/internal/config"
	"github.com/mvanek/agentswarm/internal/domain/solution"
	"github.com/mvanek/agentswarm/internal/domain/task"
	"github.com/mvanek/agentswarm/internal/port/knowledge"
)

// RefinementService improves a weak solution by asking axis specialists for
// targeted suggestions and folding the best ones into a new solution. The
// original solution is never mutated; the refined one references it through
// RefinedFrom and must re-pass relevance and score validation to be accepted.
type RefinementService struct {
	fleet     map[string]agent.Agent
	evaluator *EvaluatorService
	deviation *DeviationService
	know      knowledge.Repository
	cfg       config.Refinement
}

// NewRefinementService wires the ensemble reviewer.
func NewRefinementService(
	fleet map[string]agent.Agent,
	eval *EvaluatorService,
	dev *DeviationService,
	know knowledge.Repository,
	cfg config.Refinement,
) *RefinementService {
	if cfg.MaxSuggestions <= 0 {
		cfg.MaxSuggestions = 3
	}
	if cfg.WeakAxisFloor <= 0 {
		cfg.WeakAxisFloor = 0.6
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &RefinementService{
		fleet:     fleet,
		evaluator: eval,
		deviation: dev,
		know:      know,
		cfg:       cfg,
	}
}

// Refine runs one ensemble pass over sol. It returns nil (no error) when the
// refined solution fails re-validation and the original should stand.
func (r *RefinementService) Refine(ctx context.Context, t *task.Task, sol *solution.Solution) (*solution.Solution, error) {
	if t == nil || sol == nil {
		return nil, fmt.Errorf("refine: missing task or solution")
	}

	res, err := r.evaluator.Evaluate(ctx, sol)
	if err != nil {
		return nil, fmt.Errorf("refine: %w", err)
	}

	axes := weakAxes(res.Breakdown, r.cfg.WeakAxisFloor)
	suggestions := r.collect(ctx, t, sol, axes)
	if len(suggestions) == 0 {
		slog.Info("refinement produced no suggestions", "solution_id", sol.ID)
		return nil, nil
	}

	refined := r.fold(sol, suggestions)

	if !r.validate(ctx, t, refined) {
		slog.Info("refined solution rejected by validation",
			"solution_id", sol.ID, "refined_id", refined.ID)
		return nil, nil
	}

	r.record(ctx, t, sol, refined, len(suggestions))
	slog.Info("solution refined",
		"solution_id", sol.ID,
		"refined_id", refined.ID,
		"suggestions", len(suggestions),
		"axes", strings.Join(axes, ","))
	return refined, nil
}

// collect fans suggestion requests out to the specialists of each weak axis,
// bounded by the refinement timeout and a small concurrency cap.
func (r *RefinementService) collect(ctx context.Context, t *task.Task, sol *solution.Solution, axes []string) []agent.Suggestion {
	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	type request struct {
		reviewer agent.Agent
		axis     string
	}
	var reqs []request
	seen := make(map[string]bool)
	for _, axis := range axes {
		for _, spec := range agent.AxisSpecialists(axis) {
			a, ok := r.fleet[spec+"-agent"]
			if !ok {
				continue
			}
			key := a.ID() + ":" + axis
			if seen[key] || a.ID() == sol.AgentID {
				continue // the author does not review its own work
			}
			seen[key] = true
			reqs = append(reqs, request{reviewer: a, axis: axis})
		}
	}

	sem := semaphore.NewWeighted(int64(r.cfg.MaxSuggestions + 1))
	var (
		mu          sync.Mutex
		wg          sync.WaitGroup
		suggestions []agent.Suggestion
	)
	for _, req := range reqs {
		if err := sem.Acquire(runCtx, 1); err != nil {
			break // deadline hit, keep what we have
		}
		wg.Add(1)
		go func(req request) {
			defer wg.Done()
			defer sem.Release(1)

			sug, err := req.reviewer.SuggestImprovement(runCtx, t, sol, req.axis)
			if err != nil {
				slog.Debug("suggestion failed",
					"reviewer", req.reviewer.ID(), "axis", req.axis, "error", err)
				return
			}
			mu.Lock()
			suggestions = append(suggestions, sug)
			mu.Unlock()
		}(req)
	}
	wg.Wait()

	sort.SliceStable(suggestions, func(i, j int) bool {
		pi, pj := priorityRank(suggestions[i].Priority), priorityRank(suggestions[j].Priority)
		if pi != pj {
			return pi > pj
		}
		return suggestions[i].Confidence > suggestions[j].Confidence
	})
	if len(suggestions) > r.cfg.MaxSuggestions {
		suggestions = suggestions[:r.cfg.MaxSuggestions]
	}
	return suggestions
}

// fold produces the refined solution: the original framing plus the accepted
// suggestions, with the targeted axes nudged up in proportion to reviewer
// confidence.
func (r *RefinementService) fold(sol *solution.Solution, suggestions []agent.Suggestion) *solution.Solution {
	refined := *sol
	refined.ID = uuid.NewString()
	refined.AgentID = "ensemble"
	refined.RefinedFrom = sol.ID
	refined.CreatedAt = time.Now().UTC()

	var sb strings.Builder
	sb.WriteString(sol.Approach)
	sb.WriteString("\n\nRefinements:")
	for _, sug := range suggestions {
		sb.WriteString("\n- [")
		sb.WriteString(sug.Axis)
		sb.WriteString(", ")
		sb.WriteString(sug.AgentID)
		sb.WriteString("] ")
		sb.WriteString(sug.Text)

		bump := 0.1 * sug.Confidence
		switch sug.Axis {
		case "performance":
			refined.Scores.Performance = clamp01(refined.Scores.Performance + bump)
		case "security":
			refined.Scores.Security = clamp01(refined.Scores.Security + bump)
		case "maintainability":
			refined.Scores.Maintainability = clamp01(refined.Scores.Maintainability + bump)
		case "compliance":
			refined.Scores.Compliance = clamp01(refined.Scores.Compliance + bump)
		default:
			refined.Scores.Quality = clamp01(refined.Scores.Quality + bump)
		}
	}
	refined.Approach = sb.String()
	refined.OverallScore = meanOfScores(refined.Scores)
	return &refined
}

// validate re-checks the refined solution: it must still address the task
// and must clear the minimum score, otherwise the refinement is discarded.
func (r *RefinementService) validate(ctx context.Context, t *task.Task, refined *solution.Solution) bool {
	if r.deviation != nil {
		dev := r.deviation.Check(ctx, t, refined)
		if dev.Relevance < r.cfg.MinRelevance {
			return false
		}
	}
	if r.evaluator != nil {
		res, err := r.evaluator.Evaluate(ctx, refined)
		if err != nil || res.OverallScore < r.cfg.MinScore {
			return false
		}
	}
	return true
}

func (r *RefinementService) record(ctx context.Context, t *task.Task, original, refined *solution.Solution, count int) {
	if r.know == nil {
		return
	}
	err := r.know.AppendDecision(ctx, knowledge.DecisionRecord{
		DecisionID: uuid.NewString(),
		TaskID:     t.ID,
		SolutionID: refined.ID,
		Kind:       "refinement",
		Detail:     fmt.Sprintf("refined %s with %d suggestion(s)", original.ID, count),
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("append decision failed", "task_id", t.ID, "error", err)
	}
}

// weakAxes lists the breakdown axes under the floor; when every axis clears
// it, the single lowest axis is still reviewed so refinement always has a
// target.
func weakAxes(bd solution.Breakdown, floor float64) []string {
	axes := []struct {
		name  string
		value float64
	}{
		{"quality", bd.Quality},
		{"performance", bd.Performance},
		{"security", bd.Security},
		{"maintainability", bd.Maintainability},
		{"compliance", bd.Compliance},
	}

	var weak []string
	lowest := axes[0]
	for _, a := range axes {
		if a.value < floor {
			weak = append(weak, a.name)
		}
		if a.value < lowest.value {
			lowest = a
		}
	}
	if len(weak) == 0 {
		weak = []string{lowest.name}
	}
	return weak
}

func priorityRank(p string) int {
	switch p {
	case "high":
		return 2
	case "medium":
		return 1
	default:
		return 0
	}
}

package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mvanek/agentswarm/internal/config"
	"github.com/mvanek/agentswarm/internal/domain/solution"
	"github.com/mvanek/agentswarm/internal/port/cache"
	"github.com/mvanek/agentswarm/internal/port/projectcontext"
)

// Axis weights for the overall score. The five self-reported axes carry
// equal weight; dependency impact and architecture fit are derived here.
const (
	axisWeight    = 0.15
	impactWeight  = 0.15
	archFitWeight = 0.10
)

// EvaluatorService scores solutions against the project context. Scoring is
// deterministic: same solution and same snapshot always yield the same
// result. Dependency-impact queries go through the cache so repeated
// evaluations of similar change sets stay cheap.
type EvaluatorService struct {
	project   projectcontext.Provider
	cache     cache.Cache
	cfg       config.Evaluator
	impactTTL time.Duration
}

// NewEvaluatorService creates an evaluator over the given project provider.
func NewEvaluatorService(project projectcontext.Provider, c cache.Cache, cfg config.Evaluator, impactTTL time.Duration) *EvaluatorService {
	if cfg.HighImpactPenalty <= 0 || cfg.HighImpactPenalty > 1 {
		cfg.HighImpactPenalty = 0.8
	}
	if cfg.SnapshotMaxAge <= 0 {
		cfg.SnapshotMaxAge = 24 * time.Hour
	}
	if impactTTL <= 0 {
		impactTTL = time.Hour
	}
	return &EvaluatorService{project: project, cache: c, cfg: cfg, impactTTL: impactTTL}
}

// Evaluate produces the full scored breakdown for one solution.
func (e *EvaluatorService) Evaluate(ctx context.Context, sol *solution.Solution) (*solution.EvaluationResult, error) {
	if sol == nil {
		return nil, fmt.Errorf("evaluate: nil solution")
	}

	snap := e.snapshot(ctx)
	impact := e.impact(ctx, sol)

	bd := solution.Breakdown{
		Quality:          clamp01(sol.Scores.Quality),
		Performance:      clamp01(sol.Scores.Performance),
		Security:         clamp01(sol.Scores.Security),
		Maintainability:  clamp01(sol.Scores.Maintainability),
		Compliance:       clamp01(sol.Scores.Compliance),
		DependencyImpact: impactScore(impact.Level),
		ArchitectureFit:  archFit(sol, snap),
	}

	overall := axisWeight*(bd.Quality+bd.Performance+bd.Security+bd.Maintainability+bd.Compliance) +
		impactWeight*bd.DependencyImpact +
		archFitWeight*bd.ArchitectureFit
	if impact.Level == solution.ImpactHigh {
		overall *= e.cfg.HighImpactPenalty
	}

	res := &solution.EvaluationResult{
		Solution:     sol,
		Breakdown:    bd,
		OverallScore: clamp01(overall),
	}
	e.annotate(res, impact)
	return res, nil
}

// Compare evaluates every solution and ranks them best-first. Partial input
// is fine; a failing evaluation drops that solution with a log line rather
// than failing the comparison.
func (e *EvaluatorService) Compare(ctx context.Context, sols []*solution.Solution) (*solution.Comparison, error) {
	if len(sols) == 0 {
		return nil, fmt.Errorf("compare: no solutions")
	}

	ranked := make([]solution.EvaluationResult, 0, len(sols))
	sum := 0.0
	for _, s := range sols {
		res, err := e.Evaluate(ctx, s)
		if err != nil {
			slog.Warn("evaluation skipped", "solution_id", s.ID, "error", err)
			continue
		}
		ranked = append(ranked, *res)
		sum += res.OverallScore
	}
	if len(ranked) == 0 {
		return nil, fmt.Errorf("compare: no evaluable solutions")
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].OverallScore > ranked[j].OverallScore
	})

	return &solution.Comparison{
		Ranked:  ranked,
		Best:    &ranked[0],
		Worst:   &ranked[len(ranked)-1],
		Average: sum / float64(len(ranked)),
	}, nil
}

// Merge synthesizes one proposal from several solutions: the best solution's
// framing, the union of files, per-file change descriptors from whichever
// source scored higher, and per-axis averages. Merging a single solution
// returns it unchanged.
func (e *EvaluatorService) Merge(ctx context.Context, sols []*solution.Solution) (*solution.Merged, error) {
	if len(sols) == 0 {
		return nil, fmt.Errorf("merge: no solutions")
	}
	if len(sols) == 1 {
		return &solution.Merged{Solution: sols[0], SourceIDs: []string{sols[0].ID}}, nil
	}

	cmp, err := e.Compare(ctx, sols)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	best := cmp.Best.Solution

	merged := &solution.Solution{
		ID:          uuid.NewString(),
		TaskID:      best.TaskID,
		AgentID:     "ensemble",
		Title:       best.Title,
		Description: best.Description,
		Approach:    mergedApproach(cmp.Ranked),
		Impact:      best.Impact,
		Confidence:  best.Confidence,
		Reasoning:   fmt.Sprintf("synthesis of %d proposals, anchored on %q", len(sols), best.Title),
		CreatedAt:   time.Now().UTC(),
	}

	// Walk best-first so the first descriptor seen for a path is the one
	// from the higher-scoring source.
	sourceIDs := make([]string, 0, len(sols))
	seenFiles := make(map[string]bool)
	seenChanges := make(map[string]bool)
	var sum solution.Scores
	for _, r := range cmp.Ranked {
		s := r.Solution
		sourceIDs = append(sourceIDs, s.ID)
		for _, f := range s.Files {
			if !seenFiles[f] {
				seenFiles[f] = true
				merged.Files = append(merged.Files, f)
			}
		}
		for _, c := range s.Changes {
			if !seenChanges[c.Path] {
				seenChanges[c.Path] = true
				merged.Changes = append(merged.Changes, c)
			}
		}
		sum = addScores(sum, s.Scores)
		if impactRank(s.Impact) > impactRank(merged.Impact) {
			merged.Impact = s.Impact
		}
		if s.EstimatedTime > merged.EstimatedTime {
			merged.EstimatedTime = s.EstimatedTime
		}
	}
	merged.Scores = scaleScores(sum, 1/float64(len(cmp.Ranked)))
	merged.OverallScore = meanOfScores(merged.Scores)

	return &solution.Merged{Solution: merged, SourceIDs: sourceIDs}, nil
}

// snapshot fetches the project snapshot, tolerating provider failures and
// warning on staleness.
func (e *EvaluatorService) snapshot(ctx context.Context) projectcontext.Snapshot {
	if e.project == nil {
		return projectcontext.Snapshot{}
	}
	snap, err := e.project.Snapshot(ctx)
	if err != nil {
		slog.Warn("project snapshot unavailable for evaluation", "error", err)
		return projectcontext.Snapshot{}
	}
	if !snap.RefreshedAt.IsZero() && snap.Stale(e.cfg.SnapshotMaxAge) {
		slog.Warn("project snapshot is stale", "refreshed_at", snap.RefreshedAt)
	}
	return snap
}

// impact runs the dependency-impact query through the cache. Without a
// provider, or on provider failure, changes are assumed low impact.
func (e *EvaluatorService) impact(ctx context.Context, sol *solution.Solution) projectcontext.ImpactAnalysis {
	fallback := projectcontext.ImpactAnalysis{Level: solution.ImpactLow}
	if e.project == nil || len(sol.Changes) == 0 {
		if sol.Impact != "" {
			fallback.Level = sol.Impact // trust the agent's self-report
		}
		return fallback
	}

	key := impactCacheKey(sol.Changes)
	if e.cache != nil {
		if data, ok, err := e.cache.Get(ctx, key); err == nil && ok {
			var cached projectcontext.ImpactAnalysis
			if json.Unmarshal(data, &cached) == nil {
				return cached
			}
		}
	}

	ia, err := e.project.ImpactAnalysis(ctx, sol.Changes)
	if err != nil {
		slog.Warn("impact analysis failed", "solution_id", sol.ID, "error", err)
		return fallback
	}

	if e.cache != nil {
		if data, err := json.Marshal(ia); err == nil {
			_ = e.cache.Set(ctx, key, data, e.impactTTL)
		}
	}
	return ia
}

func (e *EvaluatorService) annotate(res *solution.EvaluationResult, impact projectcontext.ImpactAnalysis) {
	bd := res.Breakdown
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
	for _, a := range axes {
		switch {
		case a.value >= 0.8:
			res.Strengths = append(res.Strengths, a.name)
		case a.value < 0.5:
			res.Weaknesses = append(res.Weaknesses, a.name)
			res.Recommendations = append(res.Recommendations, "strengthen the "+a.name+" aspects of the proposal")
		}
	}
	if impact.Level == solution.ImpactHigh {
		res.Weaknesses = append(res.Weaknesses, "dependency_impact")
		res.Recommendations = append(res.Recommendations,
			fmt.Sprintf("changes ripple into %d dependent module(s); consider a narrower change set",
				len(impact.DirectlyAffected)+len(impact.IndirectlyAffected)))
	}
	if bd.ArchitectureFit >= 0.8 {
		res.Strengths = append(res.Strengths, "architecture_fit")
	}
}

// archFit measures how much of the solution text references the detected
// architecture styles, patterns and directories. No snapshot means no
// opinion, scored neutrally.
func archFit(sol *solution.Solution, snap projectcontext.Snapshot) float64 {
	terms := make([]string, 0, len(snap.Architecture)+len(snap.Patterns)+len(snap.Directories))
	terms = append(terms, snap.Architecture...)
	terms = append(terms, snap.Patterns...)
	terms = append(terms, snap.Directories...)
	if len(terms) == 0 {
		return 0.5
	}

	text := strings.ToLower(sol.Text())
	for _, f := range sol.Files {
		text += " " + strings.ToLower(f)
	}

	hits := 0
	for _, term := range terms {
		if term != "" && strings.Contains(text, strings.ToLower(term)) {
			hits++
		}
	}
	// Referencing half the known terms is already a strong fit.
	return clamp01(0.4 + 1.2*float64(hits)/float64(len(terms)))
}

func impactScore(level solution.ImpactLevel) float64 {
	switch level {
	case solution.ImpactHigh:
		return 0.2
	case solution.ImpactMedium:
		return 0.6
	default:
		return 1.0
	}
}

func impactRank(level solution.ImpactLevel) int {
	switch level {
	case solution.ImpactHigh:
		return 2
	case solution.ImpactMedium:
		return 1
	default:
		return 0
	}
}

func impactCacheKey(changes []solution.CodeChange) string {
	h := sha256.New()
	for _, c := range changes {
		h.Write([]byte(string(c.Kind)))
		h.Write([]byte(c.Path))
		h.Write([]byte{0})
	}
	return "impact:" + hex.EncodeToString(h.Sum(nil))
}

func mergedApproach(ranked []solution.EvaluationResult) string {
	var sb strings.Builder
	sb.WriteString(ranked[0].Solution.Approach)
	for _, r := range ranked[1:] {
		if a := strings.TrimSpace(r.Solution.Approach); a != "" {
			sb.WriteString("\n\nIncorporating from ")
			sb.WriteString(r.Solution.AgentID)
			sb.WriteString(": ")
			sb.WriteString(a)
		}
	}
	return sb.String()
}

func addScores(a, b solution.Scores) solution.Scores {
	return solution.Scores{
		Quality:         a.Quality + b.Quality,
		Performance:     a.Performance + b.Performance,
		Security:        a.Security + b.Security,
		Maintainability: a.Maintainability + b.Maintainability,
		Compliance:      a.Compliance + b.Compliance,
	}
}

func scaleScores(s solution.Scores, f float64) solution.Scores {
	return solution.Scores{
		Quality:         s.Quality * f,
		Performance:     s.Performance * f,
		Security:        s.Security * f,
		Maintainability: s.Maintainability * f,
		Compliance:      s.Compliance * f,
	}
}

func meanOfScores(s solution.Scores) float64 {
	return (s.Quality + s.Performance + s.Security + s.Maintainability + s.Compliance) / 5
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

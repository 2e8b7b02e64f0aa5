package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mvanek/agentswarm/internal/config"
	"github.com/mvanek/agentswarm/internal/domain/solution"
	"github.com/mvanek/agentswarm/internal/port/projectcontext"
)

// fakeProject is a scripted projectcontext.Provider.
type fakeProject struct {
	snap        projectcontext.Snapshot
	impact      projectcontext.ImpactAnalysis
	impactCalls int
}

func (f *fakeProject) Snapshot(context.Context) (projectcontext.Snapshot, error) {
	return f.snap, nil
}

func (f *fakeProject) ImpactAnalysis(context.Context, []solution.CodeChange) (projectcontext.ImpactAnalysis, error) {
	f.impactCalls++
	return f.impact, nil
}

// memCache is a minimal in-memory cache for evaluator tests.
type memCache struct {
	mu sync.Mutex
	m  map[string][]byte
}

func newMemCache() *memCache { return &memCache{m: make(map[string][]byte)} }

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = value
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
	return nil
}

func scoredSolution(id string, v float64, impact solution.ImpactLevel) *solution.Solution {
	return &solution.Solution{
		ID:      id,
		TaskID:  "task-1",
		AgentID: id + "-agent",
		Title:   "candidate " + id,
		Scores: solution.Scores{
			Quality: v, Performance: v, Security: v, Maintainability: v, Compliance: v,
		},
		Impact:    impact,
		CreatedAt: time.Now().UTC(),
	}
}

func newEvaluator(p projectcontext.Provider) *EvaluatorService {
	return NewEvaluatorService(p, newMemCache(), config.Defaults().Evaluator, time.Hour)
}

func TestEvaluateWeightsSumToOne(t *testing.T) {
	// All axes at 1.0 with low impact and perfect fit yields exactly 1.0.
	fp := &fakeProject{
		snap:   projectcontext.Snapshot{Patterns: []string{"candidate"}, RefreshedAt: time.Now()},
		impact: projectcontext.ImpactAnalysis{Level: solution.ImpactLow},
	}
	sol := scoredSolution("perfect", 1.0, solution.ImpactLow)
	sol.Changes = []solution.CodeChange{{Path: "internal/api/server.go", Kind: solution.ChangeModify}}

	res, err := newEvaluator(fp).Evaluate(context.Background(), sol)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.OverallScore < 0.99 || res.OverallScore > 1.0 {
		t.Fatalf("overall %.3f, want 1.0", res.OverallScore)
	}
}

func TestHighImpactPenalizesScore(t *testing.T) {
	low := &fakeProject{impact: projectcontext.ImpactAnalysis{Level: solution.ImpactLow}}
	high := &fakeProject{impact: projectcontext.ImpactAnalysis{
		Level:            solution.ImpactHigh,
		DirectlyAffected: []string{"api", "core", "storage"},
	}}

	solLow := scoredSolution("a", 0.8, solution.ImpactLow)
	solLow.Changes = []solution.CodeChange{{Path: "x.go", Kind: solution.ChangeModify}}
	solHigh := scoredSolution("b", 0.8, solution.ImpactLow)
	solHigh.Changes = []solution.CodeChange{{Path: "x.go", Kind: solution.ChangeModify}}

	resLow, err := newEvaluator(low).Evaluate(context.Background(), solLow)
	if err != nil {
		t.Fatalf("Evaluate low: %v", err)
	}
	resHigh, err := newEvaluator(high).Evaluate(context.Background(), solHigh)
	if err != nil {
		t.Fatalf("Evaluate high: %v", err)
	}

	if resHigh.OverallScore >= resLow.OverallScore {
		t.Fatalf("high impact %.3f not penalized against low %.3f",
			resHigh.OverallScore, resLow.OverallScore)
	}
	found := false
	for _, w := range resHigh.Weaknesses {
		if w == "dependency_impact" {
			found = true
		}
	}
	if !found {
		t.Fatal("high impact not reported as weakness")
	}
}

func TestImpactAnalysisIsCached(t *testing.T) {
	fp := &fakeProject{impact: projectcontext.ImpactAnalysis{Level: solution.ImpactMedium}}
	e := newEvaluator(fp)

	sol := scoredSolution("a", 0.7, solution.ImpactLow)
	sol.Changes = []solution.CodeChange{{Path: "internal/api/server.go", Kind: solution.ChangeModify}}

	for i := 0; i < 3; i++ {
		if _, err := e.Evaluate(context.Background(), sol); err != nil {
			t.Fatalf("Evaluate %d: %v", i, err)
		}
	}
	if fp.impactCalls != 1 {
		t.Fatalf("provider called %d times, want 1", fp.impactCalls)
	}
}

func TestCompareRanksBestFirst(t *testing.T) {
	fp := &fakeProject{impact: projectcontext.ImpactAnalysis{Level: solution.ImpactLow}}
	e := newEvaluator(fp)

	sols := []*solution.Solution{
		scoredSolution("mid", 0.6, solution.ImpactLow),
		scoredSolution("best", 0.9, solution.ImpactLow),
		scoredSolution("worst", 0.3, solution.ImpactLow),
	}
	cmp, err := e.Compare(context.Background(), sols)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if cmp.Best.Solution.ID != "best" || cmp.Worst.Solution.ID != "worst" {
		t.Fatalf("best=%s worst=%s", cmp.Best.Solution.ID, cmp.Worst.Solution.ID)
	}
	for i := 1; i < len(cmp.Ranked); i++ {
		if cmp.Ranked[i-1].OverallScore < cmp.Ranked[i].OverallScore {
			t.Fatalf("ranking not descending at %d", i)
		}
	}
	if cmp.Average <= 0 {
		t.Fatalf("average %.3f", cmp.Average)
	}
}

func TestMergeSingleSolutionIsIdentity(t *testing.T) {
	e := newEvaluator(&fakeProject{impact: projectcontext.ImpactAnalysis{Level: solution.ImpactLow}})
	sol := scoredSolution("only", 0.7, solution.ImpactLow)

	merged, err := e.Merge(context.Background(), []*solution.Solution{sol})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if merged.Solution != sol {
		t.Fatal("single-input merge must return the input unchanged")
	}
	if len(merged.SourceIDs) != 1 || merged.SourceIDs[0] != sol.ID {
		t.Fatalf("source ids %v", merged.SourceIDs)
	}
}

func TestMergeUnionsChangesAndAveragesAxes(t *testing.T) {
	e := newEvaluator(&fakeProject{impact: projectcontext.ImpactAnalysis{Level: solution.ImpactLow}})

	a := scoredSolution("a", 0.9, solution.ImpactLow)
	a.Files = []string{"api.go"}
	a.Changes = []solution.CodeChange{
		{Path: "api.go", Kind: solution.ChangeModify, Description: "tighten handler"},
	}
	a.Scores.Security = 0.2

	b := scoredSolution("b", 0.5, solution.ImpactMedium)
	b.Impact = solution.ImpactMedium
	b.Files = []string{"api.go", "store.go"}
	b.Changes = []solution.CodeChange{
		{Path: "api.go", Kind: solution.ChangeModify, Description: "rewrite handler"},
		{Path: "store.go", Kind: solution.ChangeCreate},
	}
	b.Scores.Security = 0.95

	merged, err := e.Merge(context.Background(), []*solution.Solution{a, b})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	m := merged.Solution
	if len(m.Files) != 2 {
		t.Fatalf("files %v, want deduplicated union of 2", m.Files)
	}
	if len(m.Changes) != 2 {
		t.Fatalf("changes %v, want one descriptor per path", m.Changes)
	}
	// a scores higher overall, so its descriptor for the shared path wins.
	for _, c := range m.Changes {
		if c.Path == "api.go" && c.Description != "tighten handler" {
			t.Fatalf("api.go descriptor %q, want the higher scorer's", c.Description)
		}
	}
	const eps = 1e-9
	if q := m.Scores.Quality; q < 0.7-eps || q > 0.7+eps {
		t.Fatalf("quality %.3f, want the 0.7 average", q)
	}
	if s := m.Scores.Security; s < 0.575-eps || s > 0.575+eps {
		t.Fatalf("security %.3f, want the 0.575 average", s)
	}
	if m.Impact != solution.ImpactMedium {
		t.Fatalf("impact %s, want the widest of the inputs", m.Impact)
	}
	if m.RefinedFrom != "" {
		t.Fatal("merge must not set refinement lineage")
	}
	if len(merged.SourceIDs) != 2 {
		t.Fatalf("source ids %v", merged.SourceIDs)
	}
}

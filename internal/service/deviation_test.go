package service

import (
	"context"
	"testing"
	"time"

	"github.com/mvanek/agentswarm/internal/config"
	"github.com/mvanek/agentswarm/internal/domain/session"
	"github.com/mvanek/agentswarm/internal/domain/solution"
	"github.com/mvanek/agentswarm/internal/domain/task"
)

func testTask(desc string) *task.Task {
	return &task.Task{
		ID:          "task-1",
		Type:        task.TypeFeature,
		Priority:    task.PriorityMedium,
		Description: desc,
		Status:      task.StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
}

func testSolution(text string) *solution.Solution {
	return &solution.Solution{
		ID:          "sol-1",
		TaskID:      "task-1",
		AgentID:     "backend-agent",
		Title:       text,
		Description: text,
		CreatedAt:   time.Now().UTC(),
	}
}

func newDeviation() *DeviationService {
	return NewDeviationService(config.Defaults().Deviation, nil)
}

func TestVerbatimSolutionHasNoDeviation(t *testing.T) {
	desc := "Implement pagination for the listing endpoint with cursor tokens and stable ordering"
	res := newDeviation().Check(context.Background(), testTask(desc), testSolution(desc))

	if res.HasDeviation {
		t.Fatalf("verbatim solution flagged as deviating: %+v", res)
	}
	if res.Level != session.DeviationNone {
		t.Fatalf("level %s, want none", res.Level)
	}
	if res.Relevance < 0.9 {
		t.Fatalf("relevance %.2f, want >= 0.9", res.Relevance)
	}
	if len(res.Missing) != 0 {
		t.Fatalf("missing %v, want none", res.Missing)
	}
}

func TestDisjointSolutionIsHighDeviation(t *testing.T) {
	res := newDeviation().Check(context.Background(),
		testTask("Implement pagination for the listing endpoint with cursor tokens"),
		testSolution("Repaint bicycle shed exterior choosing between cerulean or vermilion options"))

	if !res.HasDeviation {
		t.Fatal("disjoint solution not flagged")
	}
	if res.Level != session.DeviationHigh {
		t.Fatalf("level %s, want high", res.Level)
	}
	if res.Relevance > 0.2 {
		t.Fatalf("relevance %.2f, want <= 0.2", res.Relevance)
	}
	if len(res.Recommendations) == 0 {
		t.Fatal("high deviation must carry recommendations")
	}
}

func TestMissingRequirementLowersLevel(t *testing.T) {
	desc := "Validate uploaded archives before extraction; reject archives exceeding the size quota"
	sol := testSolution("Validate uploaded archives before extraction using the existing checker module here")

	res := newDeviation().Check(context.Background(), testTask(desc), sol)
	if res.Level == session.DeviationNone {
		t.Fatalf("unaddressed requirement scored as none: %+v", res)
	}
	if len(res.Missing) == 0 {
		t.Fatal("missing requirement not reported")
	}
}

func TestShortSolutionTextPenalized(t *testing.T) {
	desc := "Implement pagination for the listing endpoint with cursor tokens and stable ordering"
	full := newDeviation().Check(context.Background(), testTask(desc), testSolution(desc))

	short := &solution.Solution{ID: "sol-2", TaskID: "task-1", Title: "pagination"}
	thin := newDeviation().Check(context.Background(), testTask(desc), short)

	if thin.Relevance >= full.Relevance {
		t.Fatalf("thin solution (%.2f) not penalized against full (%.2f)", thin.Relevance, full.Relevance)
	}
}

func TestLevelsAreOrderedByRelevance(t *testing.T) {
	d := newDeviation()
	levels := []session.DeviationLevel{
		d.classify(0.95, 0),
		d.classify(0.75, 1),
		d.classify(0.55, 2),
		d.classify(0.10, 3),
	}
	want := []session.DeviationLevel{
		session.DeviationNone, session.DeviationLow,
		session.DeviationMedium, session.DeviationHigh,
	}
	for i := range want {
		if levels[i] != want[i] {
			t.Fatalf("classify step %d: got %s, want %s", i, levels[i], want[i])
		}
	}
}

func TestNilInputsAreHighDeviation(t *testing.T) {
	res := newDeviation().Check(context.Background(), nil, nil)
	if res.Level != session.DeviationHigh || !res.HasDeviation {
		t.Fatalf("nil inputs: %+v", res)
	}
}

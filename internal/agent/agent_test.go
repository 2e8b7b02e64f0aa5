package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mvanek/agentswarm/internal/domain/solution"
	"github.com/mvanek/agentswarm/internal/domain/task"
	"github.com/mvanek/agentswarm/internal/port/completion"
	"github.com/mvanek/agentswarm/internal/port/projectcontext"
)

// fakeCompleter returns a scripted reply or error.
type fakeCompleter struct {
	reply   string
	err     error
	prompts []string
}

func (f *fakeCompleter) Complete(_ context.Context, _ string, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func sampleTask() *task.Task {
	return &task.Task{
		ID:          "task-1",
		Type:        task.TypeFeature,
		Priority:    task.PriorityHigh,
		Description: "Add cursor pagination to the listing endpoint. Keep ordering stable across pages",
		Status:      task.StatusInProgress,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestAnalyzeTaskExtractsSummaryAndRequirements(t *testing.T) {
	a := New(SpecBackend, nil)
	analysis, err := a.AnalyzeTask(context.Background(), sampleTask())
	if err != nil {
		t.Fatalf("AnalyzeTask: %v", err)
	}
	if analysis.Summary != "Add cursor pagination to the listing endpoint" {
		t.Fatalf("summary %q", analysis.Summary)
	}
	if len(analysis.Requirements) != 2 {
		t.Fatalf("requirements %v", analysis.Requirements)
	}

	if _, err := a.AnalyzeTask(context.Background(), &task.Task{}); err == nil {
		t.Fatal("empty task must not analyze")
	}
}

func TestGenerateOptionsParsesModelReply(t *testing.T) {
	fc := &fakeCompleter{reply: `[{"title":"Cursor tokens","description":"use opaque cursors","confidence":0.8,
		"scores":{"quality":0.8,"performance":0.7,"security":0.6,"maintainability":0.7,"compliance":0.6}}]`}
	a := New(SpecBackend, fc)

	tk := sampleTask()
	analysis, _ := a.AnalyzeTask(context.Background(), tk)
	opts, err := a.GenerateOptions(context.Background(), tk, analysis, projectcontext.Snapshot{})
	if err != nil {
		t.Fatalf("GenerateOptions: %v", err)
	}
	if len(opts) != 1 || opts[0].Title != "Cursor tokens" {
		t.Fatalf("opts %+v", opts)
	}
	if len(fc.prompts) != 1 {
		t.Fatalf("completer called %d times", len(fc.prompts))
	}
}

func TestGenerateOptionsFallsBackWhenUnavailable(t *testing.T) {
	fc := &fakeCompleter{err: completion.ErrServiceUnavailable}
	a := New(SpecBackend, fc)

	tk := sampleTask()
	opts, err := a.GenerateOptions(context.Background(), tk, Analysis{}, projectcontext.Snapshot{})
	if err != nil {
		t.Fatalf("GenerateOptions: %v", err)
	}
	if len(opts) != 1 || opts[0].Confidence != 0.2 {
		t.Fatalf("expected the low-confidence default, got %+v", opts)
	}
}

func TestGenerateOptionsFallsBackOnGarbage(t *testing.T) {
	fc := &fakeCompleter{reply: "I am sorry, I cannot produce JSON today."}
	a := New(SpecBackend, fc)

	opts, err := a.GenerateOptions(context.Background(), sampleTask(), Analysis{}, projectcontext.Snapshot{})
	if err != nil {
		t.Fatalf("GenerateOptions: %v", err)
	}
	if len(opts) != 1 || opts[0].Confidence != 0.2 {
		t.Fatalf("expected the default option, got %+v", opts)
	}
}

func TestGenerateOptionsPropagatesHardErrors(t *testing.T) {
	fc := &fakeCompleter{err: errors.New("connection reset")}
	a := New(SpecBackend, fc)

	if _, err := a.GenerateOptions(context.Background(), sampleTask(), Analysis{}, projectcontext.Snapshot{}); err == nil {
		t.Fatal("hard completer errors must propagate")
	}
}

func TestSelectBestOptionUsesEmphasis(t *testing.T) {
	a := New(SpecDevOps, nil) // devops weighs performance and security highest
	fast := Option{Title: "fast", Confidence: 0.8,
		Scores: solution.Scores{Quality: 0.5, Performance: 0.95, Security: 0.9, Maintainability: 0.5, Compliance: 0.5}}
	tidy := Option{Title: "tidy", Confidence: 0.8,
		Scores: solution.Scores{Quality: 0.7, Performance: 0.4, Security: 0.4, Maintainability: 0.9, Compliance: 0.7}}

	if best := a.SelectBestOption([]Option{tidy, fast}); best.Title != "fast" {
		t.Fatalf("picked %q, want the emphasis-weighted winner", best.Title)
	}
}

func TestProposeProducesClampedImmutableSolution(t *testing.T) {
	fc := &fakeCompleter{reply: `[{"title":"Overconfident","description":"d","approach":"a","confidence":3.5,
		"scores":{"quality":1.7,"performance":-0.3,"security":0.5,"maintainability":0.5,"compliance":0.5}}]`}
	a := New(SpecBackend, fc)

	var phases []solution.ThoughtPhase
	sol, err := a.Propose(context.Background(), sampleTask(), projectcontext.Snapshot{}, func(th solution.Thought) {
		phases = append(phases, th.Phase)
	})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if sol.ID == "" || sol.TaskID != "task-1" {
		t.Fatalf("solution identity %+v", sol)
	}
	if sol.Confidence != 1 || sol.Scores.Quality != 1 || sol.Scores.Performance != 0 {
		t.Fatalf("scores not clamped: %+v", sol)
	}
	if sol.OverallScore < 0 || sol.OverallScore > 1 {
		t.Fatalf("overall %.2f out of range", sol.OverallScore)
	}
	if sol.Impact != solution.ImpactLow {
		t.Fatalf("impact default missing: %q", sol.Impact)
	}

	seen := make(map[solution.ThoughtPhase]bool)
	for _, p := range phases {
		seen[p] = true
	}
	for _, want := range []solution.ThoughtPhase{
		solution.PhaseAnalyzing, solution.PhaseBrainstorm,
		solution.PhaseEvaluating, solution.PhaseImplementing,
	} {
		if !seen[want] {
			t.Fatalf("phase %s missing from trace %v", want, phases)
		}
	}
}

func TestSuggestImprovementFallsBack(t *testing.T) {
	fc := &fakeCompleter{err: completion.ErrServiceUnavailable}
	a := New(SpecQA, fc)
	sol := &solution.Solution{ID: "sol-1", Title: "The plan"}

	sug, err := a.SuggestImprovement(context.Background(), sampleTask(), sol, "security")
	if err != nil {
		t.Fatalf("SuggestImprovement: %v", err)
	}
	if sug.Axis != "security" || sug.Text == "" {
		t.Fatalf("fallback suggestion %+v", sug)
	}
}

func TestNewFleetCoversAllSpecializations(t *testing.T) {
	fleet := NewFleet(nil)
	if len(fleet) != len(AllSpecializations) {
		t.Fatalf("fleet size %d, want %d", len(fleet), len(AllSpecializations))
	}
	for _, spec := range AllSpecializations {
		a, ok := fleet[spec+"-agent"]
		if !ok {
			t.Fatalf("missing agent for %s", spec)
		}
		if len(a.TaskTypes()) == 0 {
			t.Fatalf("agent %s claims nothing", a.ID())
		}
	}
}

func TestUnknownSpecializationGetsBackendProfile(t *testing.T) {
	a := New("astrologer", nil)
	if a.Specialization() != "astrologer" {
		t.Fatalf("specialization %q", a.Specialization())
	}
	if len(a.TaskTypes()) == 0 {
		t.Fatal("unknown specialization must still claim tasks")
	}
}

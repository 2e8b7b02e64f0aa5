// Package agent defines the specialization-bound reasoning pipelines that
// turn a task into a proposed solution.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mvanek/agentswarm/internal/domain/solution"
	"github.com/mvanek/agentswarm/internal/domain/task"
	"github.com/mvanek/agentswarm/internal/port/completion"
	"github.com/mvanek/agentswarm/internal/port/projectcontext"
)

// Analysis is the structured result of reading a task before generating options.
type Analysis struct {
	Summary      string   `json:"summary"`
	Requirements []string `json:"requirements"`
	Risks        []string `json:"risks,omitempty"`
}

// Option is one candidate proposal produced during brainstorming.
type Option struct {
	Title            string                `json:"title"`
	Description      string                `json:"description"`
	Approach         string                `json:"approach"`
	Files            []string              `json:"files,omitempty"`
	Changes          []solution.CodeChange `json:"changes,omitempty"`
	Scores           solution.Scores       `json:"scores"`
	Impact           solution.ImpactLevel  `json:"impact,omitempty"`
	Confidence       float64               `json:"confidence"`
	EstimatedMinutes int                   `json:"estimated_minutes,omitempty"`
	Reasoning        string                `json:"reasoning,omitempty"`
}

// Suggestion is one targeted improvement proposed during ensemble refinement.
type Suggestion struct {
	AgentID    string  `json:"agent_id"`
	Axis       string  `json:"axis"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Priority   string  `json:"priority"` // low | medium | high
}

// ThoughtFunc receives reasoning-trace entries as they are produced.
type ThoughtFunc func(solution.Thought)

// Agent is the capability contract every specialization implements.
// Workers and the brainstorming manager depend only on this interface.
type Agent interface {
	ID() string
	Specialization() string
	TaskTypes() []task.Type

	AnalyzeTask(ctx context.Context, t *task.Task) (Analysis, error)
	GenerateOptions(ctx context.Context, t *task.Task, a Analysis, snap projectcontext.Snapshot) ([]Option, error)
	SelectBestOption(opts []Option) Option
	BuildReasoningPrompt(t *task.Task, a Analysis, snap projectcontext.Snapshot) string

	// Propose runs the full think pipeline and always returns a solution:
	// service or parse failures degrade to a default low-confidence proposal.
	Propose(ctx context.Context, t *task.Task, snap projectcontext.Snapshot, onThought ThoughtFunc) (*solution.Solution, error)

	// SuggestImprovement asks for one concrete improvement on the given axis.
	SuggestImprovement(ctx context.Context, t *task.Task, sol *solution.Solution, axis string) (Suggestion, error)
}

// Base carries the shared pipeline. Specializations embed it and override
// the prompt, the preferred task types, and the axis emphasis.
type Base struct {
	id        string
	spec      string
	taskTypes []task.Type
	emphasis  solution.Scores // per-axis weights used by SelectBestOption
	flavor    string          // specialization framing injected into prompts
	completer completion.Completer
}

// ID returns the agent identifier.
func (b *Base) ID() string { return b.id }

// Specialization returns the specialization tag.
func (b *Base) Specialization() string { return b.spec }

// TaskTypes returns the task types this agent prefers to claim.
func (b *Base) TaskTypes() []task.Type { return b.taskTypes }

// AnalyzeTask extracts a summary and requirement phrases from the description.
func (b *Base) AnalyzeTask(_ context.Context, t *task.Task) (Analysis, error) {
	if t == nil || t.Description == "" {
		return Analysis{}, errors.New("task has no description")
	}

	reqs := ExtractRequirements(t.Description, 8)
	summary := t.Description
	if idx := strings.IndexAny(summary, ".\n"); idx > 0 {
		summary = summary[:idx]
	}

	a := Analysis{Summary: strings.TrimSpace(summary), Requirements: reqs}
	if t.Type == task.TypeBug {
		a.Risks = append(a.Risks, "regression risk: change must not alter unrelated behavior")
	}
	if t.Priority == task.PriorityImmediate {
		a.Risks = append(a.Risks, "urgency: prefer the smallest safe change")
	}
	return a, nil
}

// BuildReasoningPrompt renders the option-generation prompt.
func (b *Base) BuildReasoningPrompt(t *task.Task, a Analysis, snap projectcontext.Snapshot) string {
	var sb strings.Builder
	sb.WriteString("You are a ")
	sb.WriteString(b.spec)
	sb.WriteString(" engineer. ")
	sb.WriteString(b.flavor)
	sb.WriteString("\n\nTask (")
	sb.WriteString(string(t.Type))
	sb.WriteString(", priority ")
	sb.WriteString(string(t.Priority))
	sb.WriteString("):\n")
	sb.WriteString(t.Description)
	sb.WriteString("\n\nKey requirements:\n")
	for _, r := range a.Requirements {
		sb.WriteString("- ")
		sb.WriteString(r)
		sb.WriteString("\n")
	}
	if len(snap.Architecture) > 0 {
		sb.WriteString("\nProject architecture: ")
		sb.WriteString(strings.Join(snap.Architecture, ", "))
		sb.WriteString("\n")
	}
	if len(snap.Patterns) > 0 {
		sb.WriteString("Established patterns: ")
		sb.WriteString(strings.Join(snap.Patterns, ", "))
		sb.WriteString("\n")
	}
	sb.WriteString("\nPropose up to 3 distinct solutions as a JSON array. Each element:\n")
	sb.WriteString(`{"title","description","approach","files":[],"changes":[{"path","kind","description","estimated_lines"}],` +
		`"scores":{"quality","performance","security","maintainability","compliance"},` +
		`"impact","confidence","estimated_minutes","reasoning"}`)
	sb.WriteString("\nScores and confidence are in [0,1]. Return only the JSON array.")
	return sb.String()
}

// GenerateOptions asks the completion service for candidate solutions and
// parses the reply through the layered extraction chain.
func (b *Base) GenerateOptions(ctx context.Context, t *task.Task, a Analysis, snap projectcontext.Snapshot) ([]Option, error) {
	if b.completer == nil {
		return []Option{DefaultOption(t, b.spec)}, nil
	}

	prompt := b.BuildReasoningPrompt(t, a, snap)
	raw, err := b.completer.Complete(ctx, b.id, prompt)
	if err != nil {
		if errors.Is(err, completion.ErrServiceUnavailable) {
			slog.Warn("completion unavailable, using default option",
				"agent_id", b.id, "task_id", t.ID)
			return []Option{DefaultOption(t, b.spec)}, nil
		}
		return nil, fmt.Errorf("generate options: %w", err)
	}

	opts := ParseOptions(raw)
	if len(opts) == 0 {
		slog.Warn("unparseable completion, using default option",
			"agent_id", b.id, "task_id", t.ID, "raw_len", len(raw))
		opts = []Option{DefaultOption(t, b.spec)}
	}
	return opts, nil
}

// SelectBestOption picks the candidate with the highest emphasis-weighted score.
func (b *Base) SelectBestOption(opts []Option) Option {
	if len(opts) == 0 {
		return Option{}
	}
	best := opts[0]
	bestScore := b.weighted(opts[0])
	for _, o := range opts[1:] {
		if s := b.weighted(o); s > bestScore {
			best, bestScore = o, s
		}
	}
	return best
}

func (b *Base) weighted(o Option) float64 {
	w := b.emphasis
	total := w.Quality + w.Performance + w.Security + w.Maintainability + w.Compliance
	if total == 0 {
		return o.Confidence
	}
	s := o.Scores.Quality*w.Quality +
		o.Scores.Performance*w.Performance +
		o.Scores.Security*w.Security +
		o.Scores.Maintainability*w.Maintainability +
		o.Scores.Compliance*w.Compliance
	return s / total * (0.5 + 0.5*o.Confidence)
}

// Propose runs analyzing -> brainstorming -> evaluating -> implementing and
// returns the chosen option as an immutable Solution record.
func (b *Base) Propose(ctx context.Context, t *task.Task, snap projectcontext.Snapshot, onThought ThoughtFunc) (*solution.Solution, error) {
	think := func(phase solution.ThoughtPhase, content string) {
		if onThought != nil {
			onThought(solution.Thought{
				AgentID:   b.id,
				TaskID:    t.ID,
				Phase:     phase,
				Content:   content,
				CreatedAt: time.Now().UTC(),
			})
		}
	}

	think(solution.PhaseAnalyzing, "reading task and extracting requirements")
	analysis, err := b.AnalyzeTask(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("analyze task: %w", err)
	}
	think(solution.PhaseAnalyzing, analysis.Summary)

	think(solution.PhaseBrainstorm, fmt.Sprintf("generating options for %d requirements", len(analysis.Requirements)))
	opts, err := b.GenerateOptions(ctx, t, analysis, snap)
	if err != nil {
		return nil, err
	}

	think(solution.PhaseEvaluating, fmt.Sprintf("ranking %d candidate options", len(opts)))
	chosen := b.SelectBestOption(opts)

	think(solution.PhaseImplementing, "drafting change plan: "+chosen.Title)

	sol := &solution.Solution{
		ID:            uuid.NewString(),
		TaskID:        t.ID,
		AgentID:       b.id,
		Title:         chosen.Title,
		Description:   chosen.Description,
		Approach:      chosen.Approach,
		Files:         chosen.Files,
		Changes:       chosen.Changes,
		Impact:        chosen.Impact,
		Scores:        clampScores(chosen.Scores),
		Confidence:    clamp01(chosen.Confidence),
		EstimatedTime: time.Duration(chosen.EstimatedMinutes) * time.Minute,
		Reasoning:     chosen.Reasoning,
		CreatedAt:     time.Now().UTC(),
	}
	if sol.Impact == "" {
		sol.Impact = solution.ImpactLow
	}
	sol.OverallScore = meanScores(sol.Scores)
	return sol, nil
}

// SuggestImprovement asks the completion service for one targeted
// improvement on the given axis, degrading to a canned suggestion when the
// service is unavailable or unparseable.
func (b *Base) SuggestImprovement(ctx context.Context, t *task.Task, sol *solution.Solution, axis string) (Suggestion, error) {
	fallback := Suggestion{
		AgentID:    b.id,
		Axis:       axis,
		Text:       fmt.Sprintf("review the %s aspects of %q against the task requirements", axis, sol.Title),
		Confidence: 0.3,
		Priority:   "medium",
	}

	if b.completer == nil {
		return fallback, nil
	}

	var sb strings.Builder
	sb.WriteString("You are a ")
	sb.WriteString(b.spec)
	sb.WriteString(" engineer reviewing a colleague's proposal.\n\nTask:\n")
	sb.WriteString(t.Description)
	sb.WriteString("\n\nProposal:\n")
	sb.WriteString(sol.Text())
	sb.WriteString("\n\nGive exactly one concrete improvement for the weak axis \"")
	sb.WriteString(axis)
	sb.WriteString("\" as JSON: {\"axis\",\"text\",\"confidence\",\"priority\"}. ")
	sb.WriteString("Priority is low, medium or high. Return only the JSON object.")

	raw, err := b.completer.Complete(ctx, b.id, sb.String())
	if err != nil {
		if errors.Is(err, completion.ErrServiceUnavailable) {
			return fallback, nil
		}
		return Suggestion{}, fmt.Errorf("suggest improvement: %w", err)
	}

	sug, ok := ParseSuggestion(raw)
	if !ok {
		return fallback, nil
	}
	sug.AgentID = b.id
	if sug.Axis == "" {
		sug.Axis = axis
	}
	sug.Confidence = clamp01(sug.Confidence)
	return sug, nil
}

// DefaultOption is the built-in low-confidence fallback used when the
// completion service fails or returns garbage.
func DefaultOption(t *task.Task, spec string) Option {
	desc := t.Description
	if len(desc) > 200 {
		desc = desc[:200]
	}
	return Option{
		Title:       fmt.Sprintf("Baseline %s plan for %s task", spec, t.Type),
		Description: "Minimal direct implementation of the request: " + desc,
		Approach:    "Apply the smallest change set that satisfies the stated requirements, with tests for the touched paths.",
		Scores: solution.Scores{
			Quality:         0.5,
			Performance:     0.5,
			Security:        0.5,
			Maintainability: 0.5,
			Compliance:      0.5,
		},
		Impact:           solution.ImpactLow,
		Confidence:       0.2,
		EstimatedMinutes: 30,
		Reasoning:        "fallback proposal generated without model assistance",
	}
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

func clampScores(s solution.Scores) solution.Scores {
	return solution.Scores{
		Quality:         clamp01(s.Quality),
		Performance:     clamp01(s.Performance),
		Security:        clamp01(s.Security),
		Maintainability: clamp01(s.Maintainability),
		Compliance:      clamp01(s.Compliance),
	}
}

func meanScores(s solution.Scores) float64 {
	return (s.Quality + s.Performance + s.Security + s.Maintainability + s.Compliance) / 5
}

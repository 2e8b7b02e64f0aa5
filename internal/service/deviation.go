package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mvanek/agentswarm/internal/agent"
	"github.com/mvanek/agentswarm/internal/config"
	"github.com/mvanek/agentswarm/internal/domain/session"
	"github.com/mvanek/agentswarm/internal/domain/solution"
	"github.com/mvanek/agentswarm/internal/domain/task"
	"github.com/mvanek/agentswarm/internal/port/completion"
)

// DeviationService checks whether a proposed solution still addresses the
// task it was produced for. Scoring is deterministic word-overlap work; the
// completion service is only consulted to extract requirements from
// descriptions the heuristic splitter cannot handle, and its absence never
// fails a check.
type DeviationService struct {
	cfg       config.Deviation
	completer completion.Completer
}

// NewDeviationService creates a controller with the given thresholds.
func NewDeviationService(cfg config.Deviation, completer completion.Completer) *DeviationService {
	if cfg.NoneThreshold <= 0 {
		cfg.NoneThreshold = 0.7
	}
	if cfg.MediumThreshold <= 0 {
		cfg.MediumThreshold = 0.5
	}
	if cfg.MaxRequirements <= 0 {
		cfg.MaxRequirements = 8
	}
	if cfg.ShortTextLen <= 0 {
		cfg.ShortTextLen = 40
	}
	return &DeviationService{cfg: cfg, completer: completer}
}

// Check scores sol against t and classifies the drift into one of the four
// ordered levels. It never returns an error: an unscorable input is reported
// as a high deviation, not a failure.
func (d *DeviationService) Check(ctx context.Context, t *task.Task, sol *solution.Solution) *session.DeviationResult {
	if t == nil || sol == nil {
		return &session.DeviationResult{
			HasDeviation: true,
			Level:        session.DeviationHigh,
			Feedback:     "nothing to compare",
		}
	}

	reqs := d.requirements(ctx, t)
	solText := sol.Text()
	solWords := significantWords(solText)

	var matched, missing []string
	for _, r := range reqs {
		if requirementPresent(r, solWords) {
			matched = append(matched, r)
		} else {
			missing = append(missing, r)
		}
	}

	relevance := d.relevance(t, solText, len(matched), len(reqs))
	level := d.classify(relevance, len(missing))

	res := &session.DeviationResult{
		HasDeviation: level != session.DeviationNone,
		Level:        level,
		Relevance:    relevance,
		Matched:      matched,
		Missing:      missing,
		Extra:        extraTopics(t.Description, solText, 5),
	}
	res.Feedback = feedbackFor(level, relevance, len(missing))
	for _, m := range missing {
		res.Recommendations = append(res.Recommendations, "address the requirement: "+m)
	}
	if level == session.DeviationHigh {
		res.Recommendations = append(res.Recommendations, "restate the solution in terms of the original task description")
	}

	return res
}

// requirements extracts requirement phrases heuristically and falls back to
// the completion service for descriptions the splitter yields nothing from.
func (d *DeviationService) requirements(ctx context.Context, t *task.Task) []string {
	reqs := agent.ExtractRequirements(t.Description, d.cfg.MaxRequirements)
	if len(reqs) > 0 {
		return reqs
	}

	if d.completer != nil {
		if llm := d.askRequirements(ctx, t); len(llm) > 0 {
			return llm
		}
	}

	// Last resort: the whole description is one requirement.
	desc := strings.TrimSpace(t.Description)
	if desc == "" {
		return nil
	}
	return []string{desc}
}

func (d *DeviationService) askRequirements(ctx context.Context, t *task.Task) []string {
	prompt := fmt.Sprintf(
		"List the concrete requirements in this task description as a JSON array of short strings (max %d):\n\n%s\n\nReturn only the JSON array.",
		d.cfg.MaxRequirements, t.Description)

	raw, err := d.completer.Complete(ctx, "deviation-controller", prompt)
	if err != nil {
		slog.Debug("requirement extraction via model failed", "task_id", t.ID, "error", err)
		return nil
	}

	var reqs []string
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &reqs); err != nil {
		return nil
	}
	if len(reqs) > d.cfg.MaxRequirements {
		reqs = reqs[:d.cfg.MaxRequirements]
	}
	return reqs
}

// relevance combines requirement coverage with raw word overlap. Coverage
// dominates: a solution hitting every requirement in different words still
// scores well, while keyword-stuffing without coverage does not. A small
// bonus rewards type-appropriate verbs (a bug task answered with fix-talk).
func (d *DeviationService) relevance(t *task.Task, solText string, matched, total int) float64 {
	overlap := jaccard(significantWords(t.Description), significantWords(solText))

	coverage := 1.0
	if total > 0 {
		coverage = float64(matched) / float64(total)
	}

	rel := 0.6*coverage + 0.4*overlap
	rel += typeVerbBonus(t.Type, solText)
	if len(strings.TrimSpace(solText)) < d.cfg.ShortTextLen {
		rel *= 0.5 // too thin to trust the overlap signal
	}
	return clamp01(rel)
}

// typeVerbBonus grants a small additive bonus when the solution speaks in the
// verbs the task type calls for.
func typeVerbBonus(tt task.Type, solText string) float64 {
	var verbs []string
	switch tt {
	case task.TypeBug:
		verbs = []string{"fix", "repair", "resolve", "patch", "debug"}
	case task.TypeFeature:
		verbs = []string{"implement", "add", "introduce", "build", "create"}
	case task.TypeRefactor, task.TypeImprovement:
		verbs = []string{"refactor", "restructure", "simplify", "extract", "improve"}
	case task.TypeDocument:
		verbs = []string{"document", "describe", "explain"}
	case task.TypeQualityCheck:
		verbs = []string{"test", "verify", "validate", "check"}
	default:
		return 0
	}

	lower := strings.ToLower(solText)
	for _, v := range verbs {
		if strings.Contains(lower, v) {
			return 0.05
		}
	}
	return 0
}

func (d *DeviationService) classify(relevance float64, missing int) session.DeviationLevel {
	switch {
	case relevance >= d.cfg.NoneThreshold && missing == 0:
		return session.DeviationNone
	case relevance >= d.cfg.NoneThreshold && missing <= 1:
		return session.DeviationLow
	case relevance >= d.cfg.MediumThreshold && missing <= 2:
		return session.DeviationMedium
	default:
		return session.DeviationHigh
	}
}

func feedbackFor(level session.DeviationLevel, relevance float64, missing int) string {
	switch level {
	case session.DeviationNone:
		return "solution addresses the task"
	case session.DeviationLow:
		return fmt.Sprintf("solution is on topic (relevance %.2f) but leaves %d requirement(s) unaddressed", relevance, missing)
	case session.DeviationMedium:
		return fmt.Sprintf("solution partially drifts from the task (relevance %.2f)", relevance)
	default:
		return fmt.Sprintf("solution does not address the task (relevance %.2f)", relevance)
	}
}

// extraTopics lists significant solution words with no counterpart in the
// task description, capped at max.
func extraTopics(taskText, solText string, max int) []string {
	taskWords := significantWords(taskText)
	var extra []string
	seen := make(map[string]bool)
	for w := range significantWords(solText) {
		if taskWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		extra = append(extra, w)
		if len(extra) >= max {
			break
		}
	}
	return extra
}

// requirementPresent reports whether most of a requirement's significant
// words appear in the solution text.
func requirementPresent(req string, solWords map[string]bool) bool {
	words := significantWords(req)
	if len(words) == 0 {
		return true
	}
	hit := 0
	for w := range words {
		if solWords[w] {
			hit++
		}
	}
	return float64(hit)/float64(len(words)) >= 0.5
}

// jaccard is |a∩b| / |a∪b| over word sets; 0 when both are empty.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "from": true, "are": true, "was": true, "will": true,
	"should": true, "must": true, "can": true, "when": true, "then": true,
	"into": true, "all": true, "its": true, "has": true, "have": true,
	"not": true, "but": true, "use": true, "using": true, "also": true,
}

// significantWords lowercases, strips punctuation and drops stopwords and
// words shorter than three characters.
func significantWords(text string) map[string]bool {
	words := make(map[string]bool)
	for _, f := range strings.Fields(strings.ToLower(text)) {
		w := strings.Trim(f, ".,;:!?()[]{}\"'`")
		if len(w) < 3 || stopwords[w] {
			continue
		}
		words[w] = true
	}
	return words
}

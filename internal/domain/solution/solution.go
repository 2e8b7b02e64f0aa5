// Package solution defines the agent solution entity and its evaluation records.
package solution

import "time"

// ChangeKind classifies a proposed file mutation.
type ChangeKind string

const (
	ChangeCreate ChangeKind = "create"
	ChangeModify ChangeKind = "modify"
	ChangeDelete ChangeKind = "delete"
)

// CodeChange describes one proposed file mutation. The core never applies
// changes itself; an external collaborator does (see port/applier).
type CodeChange struct {
	Path           string     `json:"path"`
	Kind           ChangeKind `json:"kind"`
	Description    string     `json:"description,omitempty"`
	EstimatedLines int        `json:"estimated_lines,omitempty"`
}

// ImpactLevel classifies how widely a solution's changes ripple.
type ImpactLevel string

const (
	ImpactLow    ImpactLevel = "low"
	ImpactMedium ImpactLevel = "medium"
	ImpactHigh   ImpactLevel = "high"
)

// Scores holds the five self-reported evaluation axes, each in [0,1].
type Scores struct {
	Quality         float64 `json:"quality"`
	Performance     float64 `json:"performance"`
	Security        float64 `json:"security"`
	Maintainability float64 `json:"maintainability"`
	Compliance      float64 `json:"compliance"`
}

// Solution is one agent's proposal for one task. Immutable once created;
// refinement produces a new Solution whose RefinedFrom references the original.
type Solution struct {
	ID            string       `json:"id"`
	TaskID        string       `json:"task_id"`
	AgentID       string       `json:"agent_id"`
	Title         string       `json:"title"`
	Description   string       `json:"description"`
	Approach      string       `json:"approach"`
	Files         []string     `json:"files"`
	Changes       []CodeChange `json:"changes"`
	Impact        ImpactLevel  `json:"impact"`
	Scores        Scores       `json:"scores"`
	OverallScore  float64      `json:"overall_score"`
	Confidence    float64      `json:"confidence"`
	EstimatedTime time.Duration `json:"estimated_time"`
	Reasoning     string       `json:"reasoning,omitempty"`
	RefinedFrom   string       `json:"refined_from,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Text returns the combined free text of a solution, used by relevance
// and architecture-fit scoring.
func (s *Solution) Text() string {
	return s.Title + " " + s.Description + " " + s.Approach
}

// EvaluationResult pairs a solution with its scored breakdown.
type EvaluationResult struct {
	Solution        *Solution `json:"solution"`
	Breakdown       Breakdown `json:"breakdown"`
	OverallScore    float64   `json:"overall_score"`
	Strengths       []string  `json:"strengths,omitempty"`
	Weaknesses      []string  `json:"weaknesses,omitempty"`
	Recommendations []string  `json:"recommendations,omitempty"`
}

// Breakdown holds the per-axis contributions to an overall score.
type Breakdown struct {
	Quality          float64 `json:"quality"`
	Performance      float64 `json:"performance"`
	Security         float64 `json:"security"`
	Maintainability  float64 `json:"maintainability"`
	Compliance       float64 `json:"compliance"`
	DependencyImpact float64 `json:"dependency_impact"`
	ArchitectureFit  float64 `json:"architecture_fit"`
}

// Comparison ranks several evaluated solutions.
type Comparison struct {
	Ranked  []EvaluationResult `json:"ranked"`
	Best    *EvaluationResult  `json:"best,omitempty"`
	Worst   *EvaluationResult  `json:"worst,omitempty"`
	Average float64            `json:"average"`
}

// Merged is the synthesis of several solutions into one proposal.
type Merged struct {
	Solution  *Solution `json:"solution"`
	SourceIDs []string  `json:"source_ids"`
}

// ThoughtPhase identifies a stage of an agent's reasoning trace.
type ThoughtPhase string

const (
	PhaseAnalyzing    ThoughtPhase = "analyzing"
	PhaseBrainstorm   ThoughtPhase = "brainstorming"
	PhaseEvaluating   ThoughtPhase = "evaluating"
	PhaseImplementing ThoughtPhase = "implementing"
)

// Thought is one entry in an agent's append-only reasoning trace.
// Thoughts exist for observability only and never drive control decisions.
type Thought struct {
	AgentID   string       `json:"agent_id"`
	TaskID    string       `json:"task_id"`
	Phase     ThoughtPhase `json:"phase"`
	Content   string       `json:"content"`
	CreatedAt time.Time    `json:"created_at"`
}

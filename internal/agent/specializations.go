package agent

import (
	"github.com/mvanek/agentswarm/internal/domain/solution"
	"github.com/mvanek/agentswarm/internal/domain/task"
	"github.com/mvanek/agentswarm/internal/port/completion"
)

// Specialization tags for the fleet.
const (
	SpecBackend   = "backend"
	SpecFrontend  = "frontend"
	SpecArchitect = "architect"
	SpecAnalyst   = "analyst"
	SpecDevOps    = "devops"
	SpecQA        = "qa"
)

// AllSpecializations lists the fleet in startup order.
var AllSpecializations = []string{
	SpecBackend, SpecFrontend, SpecArchitect, SpecAnalyst, SpecDevOps, SpecQA,
}

// profiles binds each specialization to its claiming preferences, scoring
// emphasis and prompt framing.
var profiles = map[string]struct {
	taskTypes []task.Type
	emphasis  solution.Scores
	flavor    string
}{
	SpecBackend: {
		taskTypes: []task.Type{task.TypeFeature, task.TypeBug, task.TypeRefactor},
		emphasis:  solution.Scores{Quality: 0.3, Performance: 0.25, Security: 0.15, Maintainability: 0.2, Compliance: 0.1},
		flavor:    "Focus on server-side correctness, data integrity and API contracts.",
	},
	SpecFrontend: {
		taskTypes: []task.Type{task.TypeFeature, task.TypeBug, task.TypeImprovement},
		emphasis:  solution.Scores{Quality: 0.3, Performance: 0.15, Security: 0.1, Maintainability: 0.3, Compliance: 0.15},
		flavor:    "Focus on the user-facing surface: component structure, state handling and accessibility.",
	},
	SpecArchitect: {
		taskTypes: []task.Type{task.TypeRefactor, task.TypeImprovement, task.TypeFeature},
		emphasis:  solution.Scores{Quality: 0.2, Performance: 0.15, Security: 0.15, Maintainability: 0.35, Compliance: 0.15},
		flavor:    "Focus on boundaries, dependency direction and long-term structure over local expedience.",
	},
	SpecAnalyst: {
		taskTypes: []task.Type{task.TypeDocument, task.TypeImprovement, task.TypeQualityCheck},
		emphasis:  solution.Scores{Quality: 0.25, Performance: 0.1, Security: 0.1, Maintainability: 0.25, Compliance: 0.3},
		flavor:    "Focus on requirement coverage, edge cases and documenting the rationale behind choices.",
	},
	SpecDevOps: {
		taskTypes: []task.Type{task.TypeImprovement, task.TypeBug, task.TypeQualityCheck},
		emphasis:  solution.Scores{Quality: 0.2, Performance: 0.3, Security: 0.25, Maintainability: 0.15, Compliance: 0.1},
		flavor:    "Focus on operability: configuration, resource usage, failure modes and rollout safety.",
	},
	SpecQA: {
		taskTypes: []task.Type{task.TypeQualityCheck, task.TypeBug, task.TypeFeature},
		emphasis:  solution.Scores{Quality: 0.35, Performance: 0.1, Security: 0.15, Maintainability: 0.2, Compliance: 0.2},
		flavor:    "Focus on verifiability: reproduce the problem, pin behavior with tests, keep changes observable.",
	},
}

// New creates an agent for the given specialization. Unknown specializations
// get the backend profile so a misconfigured fleet still runs.
func New(spec string, completer completion.Completer) Agent {
	p, ok := profiles[spec]
	if !ok {
		p = profiles[SpecBackend]
	}
	return &Base{
		id:        spec + "-agent",
		spec:      spec,
		taskTypes: p.taskTypes,
		emphasis:  p.emphasis,
		flavor:    p.flavor,
		completer: completer,
	}
}

// NewFleet creates one agent per specialization keyed by agent id.
func NewFleet(completer completion.Completer) map[string]Agent {
	fleet := make(map[string]Agent, len(AllSpecializations))
	for _, spec := range AllSpecializations {
		a := New(spec, completer)
		fleet[a.ID()] = a
	}
	return fleet
}

// AxisSpecialists maps a weak scoring axis to the specializations most
// likely to improve it; used by ensemble refinement to pick reviewers.
func AxisSpecialists(axis string) []string {
	switch axis {
	case "security":
		return []string{SpecDevOps, SpecBackend}
	case "performance":
		return []string{SpecBackend, SpecDevOps}
	case "maintainability":
		return []string{SpecArchitect, SpecFrontend}
	case "compliance":
		return []string{SpecAnalyst, SpecQA}
	default: // quality
		return []string{SpecQA, SpecArchitect}
	}
}

// Package session defines the brainstorming session entity and deviation verdicts.
package session

import (
	"time"

	"github.com/mvanek/agentswarm/internal/domain/solution"
	"github.com/mvanek/agentswarm/internal/domain/task"
)

// Status represents the lifecycle of a brainstorming session.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// DeviationLevel classifies how far a solution drifted from its task.
// Levels are ordered: none < low < medium < high.
type DeviationLevel string

const (
	DeviationNone   DeviationLevel = "none"
	DeviationLow    DeviationLevel = "low"
	DeviationMedium DeviationLevel = "medium"
	DeviationHigh   DeviationLevel = "high"
)

// DeviationResult is the verdict of checking a solution against the
// originating task's requirements. Derived data; it lives only inside the
// session that produced it.
type DeviationResult struct {
	HasDeviation    bool           `json:"has_deviation"`
	Level           DeviationLevel `json:"level"`
	Relevance       float64        `json:"relevance"`
	Matched         []string       `json:"matched,omitempty"`
	Missing         []string       `json:"missing,omitempty"`
	Extra           []string       `json:"extra,omitempty"`
	Feedback        string         `json:"feedback,omitempty"`
	Recommendations []string       `json:"recommendations,omitempty"`
}

// Session tracks one brainstorming fan-out: the originating task, the
// participating agents, and their incrementally arriving results. Mutated by
// completing agents while active and by feedback retries after completion;
// a cancelled session is frozen.
type Session struct {
	ID         string                                `json:"id"`
	Task       *task.Task                            `json:"task"`
	AgentIDs   []string                              `json:"agent_ids"`
	Status     Status                                `json:"status"`
	Solutions  map[string]*solution.Solution         `json:"solutions"`
	Deviations map[string]*DeviationResult           `json:"deviations"`
	Completed  map[string]bool                       `json:"completed"`
	Thoughts   map[string][]solution.Thought         `json:"thoughts,omitempty"`
	Deadline   time.Time                             `json:"deadline"`
	StartedAt  time.Time                             `json:"started_at"`
	EndedAt    time.Time                             `json:"ended_at,omitempty"`
}

// New creates an active session for the given task and participants.
func New(id string, t *task.Task, agentIDs []string, deadline time.Time) *Session {
	return &Session{
		ID:         id,
		Task:       t,
		AgentIDs:   agentIDs,
		Status:     StatusActive,
		Solutions:  make(map[string]*solution.Solution, len(agentIDs)),
		Deviations: make(map[string]*DeviationResult, len(agentIDs)),
		Completed:  make(map[string]bool, len(agentIDs)),
		Thoughts:   make(map[string][]solution.Thought, len(agentIDs)),
		Deadline:   deadline,
		StartedAt:  time.Now().UTC(),
	}
}

// AllCompleted reports whether every participant has finished.
func (s *Session) AllCompleted() bool {
	for _, id := range s.AgentIDs {
		if !s.Completed[id] {
			return false
		}
	}
	return true
}

// CompletedCount returns how many participants have finished.
func (s *Session) CompletedCount() int {
	n := 0
	for _, done := range s.Completed {
		if done {
			n++
		}
	}
	return n
}

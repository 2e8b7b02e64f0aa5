// Package knowledge defines the port for the collaborator-owned decision history store.
package knowledge

import (
	"context"
	"time"
)

// DecisionRecord captures one consolidation or refinement decision.
type DecisionRecord struct {
	DecisionID string    `json:"decision_id"`
	TaskID     string    `json:"task_id"`
	SolutionID string    `json:"solution_id"`
	Kind       string    `json:"kind"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// OutcomeRecord captures the terminal outcome of a task.
type OutcomeRecord struct {
	TaskID    string    `json:"task_id"`
	WorkerID  string    `json:"worker_id"`
	Success   bool      `json:"success"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository is the narrow append-only interface onto the analytics/history
// files. The files themselves belong to external collaborators; the core
// only appends through this port, so tests use an in-memory fake.
type Repository interface {
	AppendDecision(ctx context.Context, rec DecisionRecord) error
	AppendOutcome(ctx context.Context, rec OutcomeRecord) error
}

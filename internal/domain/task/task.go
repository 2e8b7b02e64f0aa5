// Package task defines the Task domain entity.
package task

import (
	"errors"
	"time"
)

// Type classifies the kind of work a task represents.
type Type string

const (
	TypeFeature      Type = "feature"
	TypeBug          Type = "bug"
	TypeImprovement  Type = "improvement"
	TypeRefactor     Type = "refactor"
	TypeDocument     Type = "documentation"
	TypeQualityCheck Type = "quality_check"
)

// ValidType reports whether t is a known task type.
func ValidType(t Type) bool {
	switch t {
	case TypeFeature, TypeBug, TypeImprovement, TypeRefactor, TypeDocument, TypeQualityCheck:
		return true
	}
	return false
}

// Priority orders tasks across queue buckets.
type Priority string

const (
	PriorityImmediate Priority = "immediate"
	PriorityHigh      Priority = "high"
	PriorityMedium    Priority = "medium"
	PriorityLow       Priority = "low"
)

// Rank maps a priority to its bucket order; lower ranks claim first.
// Unknown priorities sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityImmediate:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	}
	return 4
}

// Status represents the current state of a task.
// Completed, blocked and cancelled are terminal.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusBlocked    Status = "blocked"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether s is a terminal status.
func Terminal(s Status) bool {
	return s == StatusCompleted || s == StatusBlocked || s == StatusCancelled
}

// Progress holds optional execution counters updated by the owning worker.
type Progress struct {
	FilesChanged int           `json:"files_changed"`
	Elapsed      time.Duration `json:"elapsed"`
}

// Task represents a unit of work submitted to the orchestration core.
// Only the owning worker or the queue mutate a task after creation;
// records are archived by the queue janitor, never deleted mid-flight.
type Task struct {
	ID           string    `json:"id"`
	Type         Type      `json:"type"`
	Priority     Priority  `json:"priority"`
	Description  string    `json:"description"`
	Status       Status    `json:"status"`
	AssignedTo   string    `json:"assigned_to,omitempty"`
	ParentTaskID string    `json:"parent_task_id,omitempty"`
	Progress     *Progress `json:"progress,omitempty"`
	BlockReason  string    `json:"block_reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CreateRequest holds the fields needed to submit a new task.
type CreateRequest struct {
	Type         Type     `json:"type"`
	Priority     Priority `json:"priority"`
	Description  string   `json:"description"`
	ParentTaskID string   `json:"parent_task_id,omitempty"`
}

// Validate checks that a CreateRequest is well-formed.
func (r *CreateRequest) Validate() error {
	if r.Description == "" {
		return errors.New("description is required")
	}
	if !ValidType(r.Type) {
		return errors.New("invalid task type: " + string(r.Type))
	}
	if r.Priority.Rank() > 3 {
		return errors.New("invalid priority: " + string(r.Priority))
	}
	return nil
}

// Package worker defines worker status values and the read-only state snapshot.
package worker

import "time"

// Status represents the primary state of an agent worker.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusWorking  Status = "working"
	StatusError    Status = "error"
	StatusDisabled Status = "disabled"
)

// State is a point-in-time snapshot of a worker. Owned exclusively by the
// worker; everything else reads copies.
type State struct {
	WorkerID       string    `json:"worker_id"`
	Specialization string    `json:"specialization"`
	Status         Status    `json:"status"`
	CurrentTaskID  string    `json:"current_task_id,omitempty"`
	Completed      int       `json:"completed"`
	Failed         int       `json:"failed"`
	LastActivity   time.Time `json:"last_activity"`
}

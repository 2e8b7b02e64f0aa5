// Package applier defines the port for the code-application collaborator.
package applier

import (
	"context"

	"github.com/mvanek/agentswarm/internal/domain/solution"
)

// Result reports the outcome of applying a set of code changes.
type Result struct {
	Success      bool     `json:"success"`
	FilesChanged []string `json:"files_changed,omitempty"`
	Err          string   `json:"error,omitempty"`
}

// Applier performs the actual create/modify/delete of workspace files for a
// solution's change descriptors. The orchestration core never touches
// storage directly; an unsuccessful Result blocks the task instead of
// failing it.
type Applier interface {
	Apply(ctx context.Context, changes []solution.CodeChange) (Result, error)
}

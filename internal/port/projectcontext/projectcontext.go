// Package projectcontext defines the read-only project knowledge port.
package projectcontext

import (
	"context"
	"time"

	"github.com/mvanek/agentswarm/internal/domain/solution"
)

// Snapshot is a read-only view of the detected project shape. It is
// refreshed by an external file-watcher collaborator; the core only reads it.
type Snapshot struct {
	Architecture []string  `json:"architecture"`
	Patterns     []string  `json:"patterns"`
	Directories  []string  `json:"directories"`
	RefreshedAt  time.Time `json:"refreshed_at"`
}

// Stale reports whether the snapshot is older than maxAge.
func (s Snapshot) Stale(maxAge time.Duration) bool {
	return time.Since(s.RefreshedAt) > maxAge
}

// ImpactAnalysis answers how widely a set of changes ripples through the
// dependency graph.
type ImpactAnalysis struct {
	DirectlyAffected   []string             `json:"directly_affected"`
	IndirectlyAffected []string             `json:"indirectly_affected"`
	Level              solution.ImpactLevel `json:"level"`
}

// Provider exposes the project snapshot and dependency-impact queries.
type Provider interface {
	Snapshot(ctx context.Context) (Snapshot, error)
	ImpactAnalysis(ctx context.Context, changes []solution.CodeChange) (ImpactAnalysis, error)
}

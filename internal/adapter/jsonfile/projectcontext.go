package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mvanek/agentswarm/internal/domain/solution"
	"github.com/mvanek/agentswarm/internal/port/projectcontext"
)

const contextFile = "project-context.json"

// ContextProvider serves project snapshots from a JSON file maintained by an
// external file-watcher collaborator. The file is re-read only when its
// modification time changes.
type ContextProvider struct {
	path string

	mu      sync.Mutex
	modTime int64
	snap    projectcontext.Snapshot
}

// NewContextProvider returns a provider over dir/project-context.json.
// A missing file is not an error; it yields an empty snapshot.
func NewContextProvider(dir string) *ContextProvider {
	return &ContextProvider{path: filepath.Join(dir, contextFile)}
}

// Snapshot returns the current project view.
func (p *ContextProvider) Snapshot(_ context.Context) (projectcontext.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	info, err := os.Stat(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return projectcontext.Snapshot{}, nil
		}
		return projectcontext.Snapshot{}, fmt.Errorf("stat %s: %w", p.path, err)
	}
	if mt := info.ModTime().UnixNano(); mt != p.modTime {
		data, err := os.ReadFile(p.path) //nolint:gosec // G304: dir from config
		if err != nil {
			return projectcontext.Snapshot{}, fmt.Errorf("read %s: %w", p.path, err)
		}
		var snap projectcontext.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return projectcontext.Snapshot{}, fmt.Errorf("parse %s: %w", p.path, err)
		}
		if snap.RefreshedAt.IsZero() {
			snap.RefreshedAt = info.ModTime()
		}
		p.snap = snap
		p.modTime = mt
	}
	return p.snap, nil
}

// ImpactAnalysis estimates ripple from the directory overlap between the
// changed paths and the known project directories: a shared top-level
// directory counts as direct impact, anything else in the snapshot counts
// as potential indirect impact once several directories are touched.
func (p *ContextProvider) ImpactAnalysis(ctx context.Context, changes []solution.CodeChange) (projectcontext.ImpactAnalysis, error) {
	snap, err := p.Snapshot(ctx)
	if err != nil {
		return projectcontext.ImpactAnalysis{}, err
	}

	touched := make(map[string]bool)
	for _, c := range changes {
		if top := topDir(c.Path); top != "" {
			touched[top] = true
		}
	}

	ia := projectcontext.ImpactAnalysis{Level: solution.ImpactLow}
	for _, dir := range snap.Directories {
		if touched[topDir(dir)] {
			ia.DirectlyAffected = append(ia.DirectlyAffected, dir)
		}
	}
	if len(ia.DirectlyAffected) > 1 {
		for _, dir := range snap.Directories {
			if !touched[topDir(dir)] {
				ia.IndirectlyAffected = append(ia.IndirectlyAffected, dir)
			}
		}
	}

	switch {
	case len(ia.DirectlyAffected) > 2 || len(changes) > 10:
		ia.Level = solution.ImpactHigh
	case len(ia.DirectlyAffected) > 1 || len(changes) > 4:
		ia.Level = solution.ImpactMedium
	}
	return ia, nil
}

func topDir(path string) string {
	path = strings.TrimPrefix(filepath.ToSlash(path), "./")
	if idx := strings.IndexByte(path, '/'); idx > 0 {
		return path[:idx]
	}
	return path
}

package jsonfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mvanek/agentswarm/internal/domain/solution"
)

func writeContext(t *testing.T, dir, body string) {
	t.Helper()
	path := filepath.Join(dir, "project-context.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write context: %v", err)
	}
}

func TestSnapshotMissingFileIsEmpty(t *testing.T) {
	p := NewContextProvider(t.TempDir())
	snap, err := p.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Directories) != 0 || len(snap.Architecture) != 0 {
		t.Fatalf("snapshot not empty: %+v", snap)
	}
}

func TestSnapshotReadsAndCachesByModTime(t *testing.T) {
	dir := t.TempDir()
	writeContext(t, dir, `{"architecture":["hexagonal"],"directories":["internal/service","cmd"]}`)
	p := NewContextProvider(dir)

	snap, err := p.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Directories) != 2 || snap.Architecture[0] != "hexagonal" {
		t.Fatalf("snapshot %+v", snap)
	}
	if snap.RefreshedAt.IsZero() {
		t.Fatal("refreshed_at not backfilled from mod time")
	}

	// Rewrite with a new mod time; the provider must pick it up.
	writeContext(t, dir, `{"directories":["web"]}`)
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(filepath.Join(dir, "project-context.json"), future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	snap, err = p.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot after rewrite: %v", err)
	}
	if len(snap.Directories) != 1 || snap.Directories[0] != "web" {
		t.Fatalf("stale snapshot served: %+v", snap)
	}
}

func TestSnapshotRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	writeContext(t, dir, "{not json")
	p := NewContextProvider(dir)

	if _, err := p.Snapshot(context.Background()); err == nil {
		t.Fatal("malformed context file accepted")
	}
}

func TestImpactAnalysisLevels(t *testing.T) {
	dir := t.TempDir()
	writeContext(t, dir, `{"directories":["api/handlers","db/models","web/ui","docs"]}`)
	p := NewContextProvider(dir)
	ctx := context.Background()

	changes := func(paths ...string) []solution.CodeChange {
		out := make([]solution.CodeChange, len(paths))
		for i, path := range paths {
			out[i] = solution.CodeChange{Path: path, Kind: "modify"}
		}
		return out
	}

	ia, err := p.ImpactAnalysis(ctx, changes("api/handlers/tasks.go"))
	if err != nil {
		t.Fatalf("ImpactAnalysis: %v", err)
	}
	if ia.Level != solution.ImpactLow || len(ia.DirectlyAffected) != 1 {
		t.Fatalf("single-dir impact %+v", ia)
	}
	if len(ia.IndirectlyAffected) != 0 {
		t.Fatalf("indirect impact claimed for one touched dir: %+v", ia)
	}

	ia, err = p.ImpactAnalysis(ctx, changes("api/x.go", "db/y.go"))
	if err != nil {
		t.Fatalf("ImpactAnalysis: %v", err)
	}
	if ia.Level != solution.ImpactMedium {
		t.Fatalf("two-dir impact level %q", ia.Level)
	}
	if len(ia.IndirectlyAffected) == 0 {
		t.Fatal("untouched dirs not flagged as indirect")
	}

	ia, err = p.ImpactAnalysis(ctx, changes("api/x.go", "db/y.go", "web/z.go"))
	if err != nil {
		t.Fatalf("ImpactAnalysis: %v", err)
	}
	if ia.Level != solution.ImpactHigh {
		t.Fatalf("three-dir impact level %q", ia.Level)
	}
}

// Package jsonfile implements the knowledge repository port over
// newline-delimited JSON files. The file format belongs to external
// collaborators that read the history; this adapter only appends.
package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mvanek/agentswarm/internal/port/knowledge"
)

const (
	decisionsFile = "decisions.jsonl"
	outcomesFile  = "task-analytics.jsonl"
)

// Repository appends decision and outcome records to files under dir.
type Repository struct {
	mu  sync.Mutex
	dir string
}

// NewRepository creates the directory if needed and returns a Repository.
func NewRepository(dir string) (*Repository, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create knowledge dir: %w", err)
	}
	return &Repository{dir: dir}, nil
}

// AppendDecision appends one decision record.
func (r *Repository) AppendDecision(_ context.Context, rec knowledge.DecisionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return r.appendJSON(decisionsFile, rec)
}

// AppendOutcome appends one task outcome record.
func (r *Repository) AppendOutcome(_ context.Context, rec knowledge.OutcomeRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return r.appendJSON(outcomesFile, rec)
}

func (r *Repository) appendJSON(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s record: %w", name, err)
	}
	data = append(data, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()

	path := filepath.Join(r.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) //nolint:gosec // G304: dir from config
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("append %s: %w", path, err)
	}
	return nil
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mvanek/agentswarm/internal/domain"
	"github.com/mvanek/agentswarm/internal/domain/message"
	"github.com/mvanek/agentswarm/internal/domain/task"
	"github.com/mvanek/agentswarm/internal/port/bus"
)

// QueuedTask wraps a task with its queue-assigned priority rank and
// insertion sequence. The queue owns the record; claiming transfers
// execution ownership (not the record) to a worker.
type QueuedTask struct {
	Task *task.Task `json:"task"`
	Rank int        `json:"rank"`
	Seq  uint64     `json:"seq"`
}

// MatchFunc decides whether a worker wants a given task.
type MatchFunc func(*task.Task) bool

// QueueStats is a point-in-time census of queue record states.
type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Cancelled  int `json:"cancelled"`
	Blocked    int `json:"blocked"`
}

// QueueService holds pending, processing and archived work items.
//
// Ordering is strict priority bucket first (immediate > high > medium > low),
// FIFO by insertion sequence within a bucket. All mutation is serialized by
// one mutex so concurrent claims are mutually exclusive.
type QueueService struct {
	mu        sync.Mutex
	bus       bus.Bus
	buckets   [4][]*QueuedTask         // pending, indexed by priority rank
	byID      map[string]*QueuedTask   // every live record
	cancelled map[string]bool          // cooperative flags for processing tasks
	archived  map[string]time.Time     // terminal id -> archive time
	seq       uint64
	retention time.Duration
}

// NewQueueService creates an empty queue publishing lifecycle events on b.
func NewQueueService(b bus.Bus, retention time.Duration) *QueueService {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &QueueService{
		bus:       b,
		byID:      make(map[string]*QueuedTask),
		cancelled: make(map[string]bool),
		archived:  make(map[string]time.Time),
		retention: retention,
	}
}

// Enqueue validates the request, creates the task record and queues it.
func (q *QueueService) Enqueue(req task.CreateRequest) (*QueuedTask, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validate task request: %w", err)
	}

	now := time.Now().UTC()
	t := &task.Task{
		ID:           uuid.NewString(),
		Type:         req.Type,
		Priority:     req.Priority,
		Description:  req.Description,
		Status:       task.StatusPending,
		ParentTaskID: req.ParentTaskID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	q.mu.Lock()
	q.seq++
	qt := &QueuedTask{Task: t, Rank: t.Priority.Rank(), Seq: q.seq}
	q.buckets[qt.Rank] = append(q.buckets[qt.Rank], qt)
	q.byID[t.ID] = qt
	q.mu.Unlock()

	q.publish(message.TypeTaskCreated, t.ID, map[string]string{
		"task_id":  t.ID,
		"type":     string(t.Type),
		"priority": string(t.Priority),
	})
	slog.Info("task enqueued", "task_id", t.ID, "type", t.Type, "priority", t.Priority)
	return qt, nil
}

// DequeueNext atomically claims the highest-priority pending task accepted
// by match. It returns nil when nothing matches. A claimed task moves to
// in_progress before the lock is released, so no two callers ever hold the
// same task.
func (q *QueueService) DequeueNext(match MatchFunc) *QueuedTask {
	q.mu.Lock()
	defer q.mu.Unlock()

	for rank := range q.buckets {
		bucket := q.buckets[rank]
		for i, qt := range bucket {
			if match != nil && !match(qt.Task) {
				continue
			}
			q.buckets[rank] = append(bucket[:i:i], bucket[i+1:]...)
			qt.Task.Status = task.StatusInProgress
			qt.Task.UpdatedAt = time.Now().UTC()
			return qt
		}
	}
	return nil
}

// MarkProcessing records which worker owns a claimed task and announces the
// claim on the bus.
func (q *QueueService) MarkProcessing(id, workerID string) error {
	q.mu.Lock()
	qt, ok := q.byID[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("mark processing %s: %w", id, domain.ErrNotFound)
	}
	if qt.Task.Status != task.StatusInProgress {
		q.mu.Unlock()
		return fmt.Errorf("mark processing %s: status %s", id, qt.Task.Status)
	}
	qt.Task.AssignedTo = workerID
	qt.Task.UpdatedAt = time.Now().UTC()
	q.mu.Unlock()

	q.publish(message.TypeTaskClaimed, workerID, map[string]string{
		"task_id":   id,
		"worker_id": workerID,
	})
	return nil
}

// MarkCompleted moves a task to its terminal completed state. workerID must
// match the recorded claim owner.
func (q *QueueService) MarkCompleted(id, workerID string, prog *task.Progress) error {
	if err := q.finish(id, workerID, task.StatusCompleted, "", prog); err != nil {
		return err
	}
	q.publish(message.TypeTaskCompleted, id, map[string]string{"task_id": id})
	return nil
}

// MarkFailed moves a task to blocked with the failure reason and announces
// the failure. Blocked is terminal; retrying means submitting a new task.
func (q *QueueService) MarkFailed(id, workerID, reason string) error {
	if err := q.finish(id, workerID, task.StatusBlocked, reason, nil); err != nil {
		return err
	}
	q.publish(message.TypeTaskFailed, id, map[string]string{
		"task_id": id,
		"reason":  reason,
	})
	return nil
}

// MarkCancelled cancels a task. A pending task is removed outright; a
// processing task gets its cooperative cancellation flag set for the owning
// worker to observe.
func (q *QueueService) MarkCancelled(id, reason string) error {
	q.mu.Lock()
	qt, ok := q.byID[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("cancel %s: %w", id, domain.ErrNotFound)
	}

	switch qt.Task.Status {
	case task.StatusPending:
		q.removeFromBucket(qt)
		delete(q.byID, id)
		q.mu.Unlock()

	case task.StatusInProgress:
		q.cancelled[id] = true
		q.mu.Unlock()

	default:
		q.mu.Unlock()
		return fmt.Errorf("cancel %s: %w", id, domain.ErrTerminal)
	}

	q.publish(message.TypeTaskCancelled, id, map[string]string{
		"task_id": id,
		"reason":  reason,
	})
	slog.Info("task cancelled", "task_id", id, "reason", reason)
	return nil
}

// Cancelled reports whether a processing task has been asked to stop.
// Workers check this before and after every suspension point.
func (q *QueueService) Cancelled(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cancelled[id]
}

// AckCancelled finalizes a cooperatively cancelled task once its worker has
// observed the flag and unwound.
func (q *QueueService) AckCancelled(id, workerID string) error {
	return q.finish(id, workerID, task.StatusCancelled, "cancelled by request", nil)
}

// Requeue returns an in-flight task to the pending state, used when its
// worker is restarted by the health monitor.
func (q *QueueService) Requeue(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	qt, ok := q.byID[id]
	if !ok {
		return fmt.Errorf("requeue %s: %w", id, domain.ErrNotFound)
	}
	if qt.Task.Status != task.StatusInProgress {
		return fmt.Errorf("requeue %s: status %s", id, qt.Task.Status)
	}

	qt.Task.Status = task.StatusPending
	qt.Task.AssignedTo = ""
	qt.Task.UpdatedAt = time.Now().UTC()
	delete(q.cancelled, id)
	q.seq++
	qt.Seq = q.seq // rejoins the back of its bucket
	q.buckets[qt.Rank] = append(q.buckets[qt.Rank], qt)
	return nil
}

// Get returns the live record for id.
func (q *QueueService) Get(id string) (*QueuedTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	qt, ok := q.byID[id]
	if !ok {
		return nil, fmt.Errorf("get task %s: %w", id, domain.ErrNotFound)
	}
	return qt, nil
}

// Cleanup evicts terminal records archived longer than maxAge ago and
// returns how many were removed.
func (q *QueueService) Cleanup(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for id, at := range q.archived {
		if at.Before(cutoff) {
			delete(q.archived, id)
			delete(q.byID, id)
			delete(q.cancelled, id)
			removed++
		}
	}
	return removed
}

// Stats returns the current record census.
func (q *QueueService) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s QueueStats
	for _, qt := range q.byID {
		switch qt.Task.Status {
		case task.StatusPending:
			s.Pending++
		case task.StatusInProgress:
			s.Processing++
		case task.StatusCompleted:
			s.Completed++
		case task.StatusCancelled:
			s.Cancelled++
		case task.StatusBlocked:
			s.Blocked++
		}
	}
	return s
}

// StartJanitor runs Cleanup on the configured interval until ctx is done.
func (q *QueueService) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := q.Cleanup(q.retention); n > 0 {
					slog.Debug("queue janitor evicted records", "count", n)
				}
			}
		}
	}()
}

// finish moves a task into a terminal status and archives the record. Only
// the worker recorded as the claim owner may finish a task.
func (q *QueueService) finish(id, workerID string, st task.Status, reason string, prog *task.Progress) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	qt, ok := q.byID[id]
	if !ok {
		return fmt.Errorf("finish %s: %w", id, domain.ErrNotFound)
	}
	if task.Terminal(qt.Task.Status) {
		return fmt.Errorf("finish %s: %w", id, domain.ErrTerminal)
	}
	if qt.Task.Status == task.StatusPending {
		// A requeued task belongs to the queue again; a stale worker
		// unwinding after a restart must not finish it.
		return fmt.Errorf("finish %s: task is pending", id)
	}
	if workerID != qt.Task.AssignedTo {
		// After a restart requeues the task and another worker re-claims
		// it, the stale worker's outcome must not land.
		return fmt.Errorf("finish %s: owned by %q, not %q", id, qt.Task.AssignedTo, workerID)
	}

	qt.Task.Status = st
	qt.Task.BlockReason = reason
	if prog != nil {
		qt.Task.Progress = prog
	}
	qt.Task.UpdatedAt = time.Now().UTC()
	delete(q.cancelled, id)
	q.archived[id] = time.Now()
	return nil
}

// removeFromBucket must be called with q.mu held.
func (q *QueueService) removeFromBucket(qt *QueuedTask) {
	bucket := q.buckets[qt.Rank]
	for i, other := range bucket {
		if other.Seq == qt.Seq {
			q.buckets[qt.Rank] = append(bucket[:i:i], bucket[i+1:]...)
			return
		}
	}
}

func (q *QueueService) publish(t message.Type, sender string, payload map[string]string) {
	if q.bus == nil {
		return
	}
	data, _ := json.Marshal(payload)
	q.bus.Publish(message.Message{
		Type:      t,
		Sender:    sender,
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	})
}

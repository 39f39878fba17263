package tasks

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"voice-platform/pkg/logger"
)

// MemoryQueue keeps tasks in process. It is used in tests (driven by RunDue with a
// fake clock) and in local mode (driven by Run).
type MemoryQueue struct {
	mu       sync.Mutex
	pending  []Task
	keys     map[string]struct{}
	dead     []Task
	handlers map[Type]Handler

	now         func() time.Time
	backoff     Backoff
	maxAttempts int
}

func NewMemoryQueue(now func() time.Time) *MemoryQueue {
	if now == nil {
		now = time.Now
	}
	return &MemoryQueue{
		keys:        map[string]struct{}{},
		handlers:    map[Type]Handler{},
		now:         now,
		backoff:     DefaultBackoff(),
		maxAttempts: defaultMaxAttempts,
	}
}

func (q *MemoryQueue) Register(typ Type, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[typ] = h
}

// Enqueue schedules t after delay. A task whose Key is already waiting is ignored.
func (q *MemoryQueue) Enqueue(ctx context.Context, t Task, delay time.Duration) error {
	if t.Type == "" {
		return errors.New("task type required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if t.Key != "" {
		if _, ok := q.keys[t.Key]; ok {
			return nil
		}
		q.keys[t.Key] = struct{}{}
	}
	t.RunAt = q.now().Add(delay)
	q.insert(t)
	return nil
}

func (q *MemoryQueue) insert(t Task) {
	i := sort.Search(len(q.pending), func(i int) bool { return q.pending[i].RunAt.After(t.RunAt) })
	q.pending = append(q.pending, Task{})
	copy(q.pending[i+1:], q.pending[i:])
	q.pending[i] = t
}

// RunDue executes every task due at the current clock and returns how many ran.
// Failed tasks are rescheduled with backoff until maxAttempts, then dead-lettered.
func (q *MemoryQueue) RunDue(ctx context.Context) int {
	q.mu.Lock()
	now := q.now()
	n := 0
	for n < len(q.pending) && !q.pending[n].RunAt.After(now) {
		n++
	}
	due := append([]Task(nil), q.pending[:n]...)
	q.pending = q.pending[n:]
	q.mu.Unlock()

	for _, t := range due {
		q.mu.Lock()
		h := q.handlers[t.Type]
		q.mu.Unlock()

		err := execute(ctx, h, t)

		q.mu.Lock()
		switch {
		case err == nil, errors.Is(err, ErrNoHandler):
			delete(q.keys, t.Key)
		case t.Attempt+1 >= q.maxAttempts:
			delete(q.keys, t.Key)
			q.dead = append(q.dead, t)
			logger.From(ctx).Warn("task moved to dead letter", "task_id", t.ID, "task_type", string(t.Type))
		default:
			t.Attempt++
			t.RunAt = q.now().Add(q.backoff.Delay(t.Attempt - 1))
			q.insert(t)
		}
		q.mu.Unlock()
	}
	return len(due)
}

// Run polls RunDue until ctx is cancelled.
func (q *MemoryQueue) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			q.RunDue(ctx)
		}
	}
}

func (q *MemoryQueue) Pending() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Task(nil), q.pending...)
}

func (q *MemoryQueue) Dead() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Task(nil), q.dead...)
}

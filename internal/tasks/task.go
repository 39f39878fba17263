// Package tasks runs delayed background work with at-least-once delivery.
// Handlers must be idempotent: a task can run more than once after a crash or retry.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"voice-platform/pkg/logger"
	"voice-platform/pkg/metrics"

	"github.com/google/uuid"
)

type Type string

const (
	TypeNoAnswerTimeout Type = "call.no_answer_timeout"
	TypeSettleCost      Type = "session.settle_cost"
	TypePostCallWebhook Type = "session.post_call_webhook"
	TypeStatusCallback  Type = "call.status_callback"
)

type Task struct {
	ID   string `json:"id"`
	Type Type   `json:"type"`
	// Key deduplicates tasks that are still waiting to run.
	Key     string          `json:"key,omitempty"`
	Payload json.RawMessage `json:"payload"`
	Attempt int             `json:"attempt"`
	RunAt   time.Time       `json:"run_at"`
}

// SessionPayload is the payload of every task type in this service.
type SessionPayload struct {
	SessionID string `json:"session_id"`
}

func NewTask(typ Type, key string, payload any) (Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Task{}, fmt.Errorf("encode task payload: %w", err)
	}
	return Task{ID: uuid.NewString(), Type: typ, Key: key, Payload: raw}, nil
}

// ForSession builds the common session task keyed by type and session id.
func ForSession(typ Type, sessionID string) Task {
	t, _ := NewTask(typ, string(typ)+":"+sessionID, SessionPayload{SessionID: sessionID})
	return t
}

func (t Task) Decode(v any) error {
	return json.Unmarshal(t.Payload, v)
}

type Handler func(ctx context.Context, t Task) error

// Queue accepts work for later execution.
type Queue interface {
	Enqueue(ctx context.Context, t Task, delay time.Duration) error
	Register(typ Type, h Handler)
}

// ErrNoHandler is recorded when a task type has no registered handler; such tasks are dropped.
var ErrNoHandler = errors.New("no handler registered")

// Backoff is the retry delay policy shared by both queues.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

func DefaultBackoff() Backoff {
	return Backoff{Initial: time.Second, Max: time.Minute, Multiplier: 2}
}

// Delay returns the wait before retry number attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Initial
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * b.Multiplier)
		if d > b.Max {
			return b.Max
		}
	}
	return d
}

const defaultMaxAttempts = 5

// execute runs one task. Panics are converted to errors so a bad handler
// cannot take down the consumer loop.
func execute(ctx context.Context, h Handler, t Task) (err error) {
	ctx = logger.WithAttrs(ctx, "task_id", t.ID, "task_type", string(t.Type), "attempt", t.Attempt)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
		result := "ok"
		if err != nil {
			result = "error"
			logger.From(ctx).Error("task failed", "error", err)
		}
		metrics.TaskExecutions.WithLabelValues(string(t.Type), result).Inc()
		metrics.TaskDuration.WithLabelValues(string(t.Type)).Observe(time.Since(start).Seconds())
	}()

	if h == nil {
		return ErrNoHandler
	}
	return h(ctx, t)
}

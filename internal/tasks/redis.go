package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"voice-platform/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("tasks")

// promoteScript moves due members of the delayed set into the stream atomically,
// so two API replicas never promote the same task twice.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, m in ipairs(due) do
  redis.call('XADD', KEYS[2], 'MAXLEN', '~', ARGV[3], '*', 'data', m)
  redis.call('ZREM', KEYS[1], m)
end
return #due
`)

type RedisQueueConfig struct {
	// Prefix namespaces every key; defaults to "tasks".
	Prefix       string
	ConsumerName string
	BlockTimeout time.Duration
	ReclaimIdle  time.Duration
	MaxAttempts  int
	MaxLen       int64
	Backoff      Backoff
}

func (c RedisQueueConfig) withDefaults() RedisQueueConfig {
	if c.Prefix == "" {
		c.Prefix = "tasks"
	}
	if c.ConsumerName == "" {
		c.ConsumerName = "api"
	}
	if c.BlockTimeout <= 0 {
		c.BlockTimeout = time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.MaxLen <= 0 {
		c.MaxLen = 100000
	}
	if c.Backoff.Initial <= 0 {
		c.Backoff = DefaultBackoff()
	}
	if c.ReclaimIdle <= 0 {
		c.ReclaimIdle = 5 * time.Minute
		if c.Backoff.Max*2 > c.ReclaimIdle {
			c.ReclaimIdle = c.Backoff.Max * 2
		}
	}
	return c
}

// RedisQueue stores delayed tasks in a sorted set scored by run time and
// delivers due tasks through a stream consumer group. Unacked messages stay
// pending and are re-claimed with backoff; after MaxAttempts deliveries they
// go to the dead-letter stream.
type RedisQueue struct {
	rdb *redis.Client
	cfg RedisQueueConfig
	now func() time.Time

	mu       sync.RWMutex
	handlers map[Type]Handler
}

func NewRedisQueue(rdb *redis.Client, cfg RedisQueueConfig) *RedisQueue {
	return &RedisQueue{
		rdb:      rdb,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		handlers: map[Type]Handler{},
	}
}

func (q *RedisQueue) delayedKey() string { return q.cfg.Prefix + ":delayed" }
func (q *RedisQueue) streamKey() string  { return q.cfg.Prefix + ":stream" }
func (q *RedisQueue) dlqKey() string     { return "dlq:" + q.streamKey() }
func (q *RedisQueue) group() string      { return q.cfg.Prefix + "-workers" }
func (q *RedisQueue) dedupeKey(k string) string {
	return q.cfg.Prefix + ":key:" + k
}

func (q *RedisQueue) Register(typ Type, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[typ] = h
}

func (q *RedisQueue) Enqueue(ctx context.Context, t Task, delay time.Duration) error {
	ctx, span := tracer.Start(ctx, "tasks.Enqueue", trace.WithAttributes(
		attribute.String("task.id", t.ID),
		attribute.String("task.type", string(t.Type)),
	))
	defer span.End()

	if t.Type == "" {
		return errors.New("task type required")
	}
	if t.Key != "" {
		ok, err := q.rdb.SetNX(ctx, q.dedupeKey(t.Key), t.ID, delay+time.Hour).Result()
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("reserve task key: %w", err)
		}
		if !ok {
			return nil
		}
	}

	t.RunAt = q.now().Add(delay)
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}

	if delay <= 0 {
		err = q.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: q.streamKey(),
			MaxLen: q.cfg.MaxLen,
			Approx: true,
			Values: map[string]any{"data": string(data)},
		}).Err()
	} else {
		err = q.rdb.ZAdd(ctx, q.delayedKey(), redis.Z{
			Score:  float64(t.RunAt.UnixMilli()),
			Member: string(data),
		}).Err()
	}
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

// Run consumes until ctx is cancelled.
func (q *RedisQueue) Run(ctx context.Context) error {
	err := q.rdb.XGroupCreateMkStream(ctx, q.streamKey(), q.group(), "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}

	log := logger.From(ctx)
	log.Info("task consumer started", "stream", q.streamKey(), "group", q.group(), "consumer", q.cfg.ConsumerName)

	for {
		if ctx.Err() != nil {
			log.Info("task consumer stopped")
			return nil
		}

		if _, err := q.Promote(ctx); err != nil && ctx.Err() == nil {
			log.Error("failed to promote delayed tasks", "error", err)
		}
		q.retryPending(ctx)

		streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group(),
			Consumer: q.cfg.ConsumerName,
			Streams:  []string{q.streamKey(), ">"},
			Count:    10,
			Block:    q.cfg.BlockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			log.Error("failed to read task stream", "error", err)
			sleepCtx(ctx, time.Second)
			continue
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				q.process(ctx, msg, 0)
			}
		}
	}
}

// Promote moves due delayed tasks into the stream and returns how many moved.
func (q *RedisQueue) Promote(ctx context.Context) (int, error) {
	now := strconv.FormatInt(q.now().UnixMilli(), 10)
	n, err := promoteScript.Run(ctx, q.rdb,
		[]string{q.delayedKey(), q.streamKey()},
		now, 100, q.cfg.MaxLen,
	).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, err
	}
	return n, nil
}

func (q *RedisQueue) process(ctx context.Context, msg redis.XMessage, attempt int) {
	ctx, span := tracer.Start(ctx, "tasks.process", trace.WithAttributes(
		attribute.String("stream", q.streamKey()),
		attribute.String("stream.message_id", msg.ID),
	))
	defer span.End()

	raw, ok := msg.Values["data"].(string)
	if !ok {
		logger.From(ctx).Error("invalid task message", "message_id", msg.ID)
		q.ack(ctx, msg.ID)
		return
	}
	var t Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		logger.From(ctx).Error("failed to decode task", "error", err, "message_id", msg.ID)
		q.ack(ctx, msg.ID)
		return
	}
	t.Attempt = attempt
	span.SetAttributes(attribute.String("task.id", t.ID), attribute.String("task.type", string(t.Type)))

	q.mu.RLock()
	h := q.handlers[t.Type]
	q.mu.RUnlock()

	err := execute(ctx, h, t)
	switch {
	case err == nil, errors.Is(err, ErrNoHandler):
		q.release(ctx, t)
		q.ack(ctx, msg.ID)
	case attempt+1 >= q.cfg.MaxAttempts:
		span.RecordError(err)
		q.deadLetter(ctx, t, err)
		q.release(ctx, t)
		q.ack(ctx, msg.ID)
	default:
		// Left pending; retryPending re-claims it once the backoff elapses.
		span.RecordError(err)
	}
}

// retryPending re-delivers failed messages whose backoff has elapsed, and takes over
// messages abandoned by other consumers after ReclaimIdle.
func (q *RedisQueue) retryPending(ctx context.Context) {
	pending, err := q.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.streamKey(),
		Group:  q.group(),
		Start:  "-",
		End:    "+",
		Count:  20,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			logger.From(ctx).Error("failed to query pending tasks", "error", err)
		}
		return
	}

	for _, p := range pending {
		minIdle := q.cfg.Backoff.Delay(int(p.RetryCount) - 1)
		if p.Consumer != q.cfg.ConsumerName {
			minIdle = q.cfg.ReclaimIdle
		}
		if p.Idle < minIdle {
			continue
		}
		claimed, err := q.rdb.XClaim(ctx, &redis.XClaimArgs{
			Stream:   q.streamKey(),
			Group:    q.group(),
			Consumer: q.cfg.ConsumerName,
			MinIdle:  minIdle,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			logger.From(ctx).Error("failed to claim pending task", "error", err, "message_id", p.ID)
			continue
		}
		for _, msg := range claimed {
			// RetryCount counts deliveries, including the one that failed.
			q.process(ctx, msg, int(p.RetryCount))
		}
	}
}

func (q *RedisQueue) ack(ctx context.Context, id string) {
	if err := q.rdb.XAck(ctx, q.streamKey(), q.group(), id).Err(); err != nil {
		logger.From(ctx).Error("failed to ack task", "error", err, "message_id", id)
	}
}

func (q *RedisQueue) release(ctx context.Context, t Task) {
	if t.Key == "" {
		return
	}
	if err := q.rdb.Del(ctx, q.dedupeKey(t.Key)).Err(); err != nil {
		logger.From(ctx).Warn("failed to release task key", "error", err, "key", t.Key)
	}
}

func (q *RedisQueue) deadLetter(ctx context.Context, t Task, cause error) {
	logger.From(ctx).Warn("task moved to dead letter", "task_id", t.ID, "task_type", string(t.Type), "attempt", t.Attempt)
	data, _ := json.Marshal(map[string]any{
		"task":      t,
		"error":     cause.Error(),
		"failed_at": q.now().Unix(),
	})
	if err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.dlqKey(),
		MaxLen: q.cfg.MaxLen,
		Approx: true,
		Values: map[string]any{"data": string(data)},
	}).Err(); err != nil {
		logger.From(ctx).Error("failed to write dead letter", "error", err, "task_id", t.ID)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

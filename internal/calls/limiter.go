package calls

import (
	"context"
	"sync"
	"time"

	"voice-platform/pkg/logger"
	"voice-platform/pkg/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limiter caps concurrent outbound calls per user. A slot is taken before
// dialing and given back when the call reaches a terminal state.
type Limiter interface {
	Acquire(ctx context.Context, userID string) (bool, error)
	Release(ctx context.Context, userID string)
}

// MemoryLimiter counts slots in process. A limit <= 0 disables the cap.
type MemoryLimiter struct {
	mu     sync.Mutex
	limit  int
	counts map[string]int
}

func NewMemoryLimiter(limit int) *MemoryLimiter {
	return &MemoryLimiter{limit: limit, counts: map[string]int{}}
}

func (l *MemoryLimiter) Acquire(ctx context.Context, userID string) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts[userID] >= l.limit {
		return false, nil
	}
	l.counts[userID]++
	return true, nil
}

func (l *MemoryLimiter) Release(ctx context.Context, userID string) {
	if l.limit <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts[userID] <= 1 {
		delete(l.counts, userID)
		return
	}
	l.counts[userID]--
}

func (l *MemoryLimiter) InUse(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[userID]
}

// RedisLimiter shares the cap across API replicas.
type RedisLimiter struct {
	rdb   *redis.Client
	limit int
	// ttl bounds how long a slot leaks when a call never reaches a terminal state.
	ttl time.Duration
}

func NewRedisLimiter(rdb *redis.Client, limit int) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, limit: limit, ttl: 2 * time.Hour}
}

func (l *RedisLimiter) key(userID string) string { return "calls:outbound:" + userID }

func (l *RedisLimiter) Acquire(ctx context.Context, userID string) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}
	return utils.AcquireConcurrencyCap(ctx, l.rdb, l.key(userID), l.limit, l.ttl)
}

func (l *RedisLimiter) Release(ctx context.Context, userID string) {
	if l.limit <= 0 {
		return
	}
	if err := utils.ReleaseConcurrencyCap(ctx, l.rdb, l.key(userID)); err != nil {
		logger.From(ctx).Warn("release outbound slot failed", "user_id", userID, "error", err)
	}
}

/* ===================== LOCKS ===================== */

// Locker serializes work on one key. A key that is already held yields utils.ErrLockHeld.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: map[string]struct{}{}}
}

func (l *LocalLocker) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, utils.ErrLockHeld
	}
	l.held[key] = struct{}{}
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, nil
}

type RedisLocker struct {
	rdb *redis.Client
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker { return &RedisLocker{rdb: rdb} }

func (l *RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	if err := utils.AcquireLock(ctx, l.rdb, "lock:"+key, token, ttl); err != nil {
		return nil, err
	}
	return func() {
		// The request context may already be cancelled when the handler returns.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := utils.ReleaseLock(rctx, l.rdb, "lock:"+key, token); err != nil {
			logger.From(ctx).Warn("release lock failed", "key", key, "error", err)
		}
	}, nil
}

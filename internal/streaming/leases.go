package streaming

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rzbill/jobstream/internal/config"
	"github.com/rzbill/jobstream/pkg/log"
)

// LimitExceededError reports a rejected lease acquisition.
type LimitExceededError struct {
	UserID string
	Limit  int
	Active int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("streaming: user %s at stream limit (%d/%d active)", e.UserID, e.Active, e.Limit)
}

// Limiter controls how many streams a user may hold concurrently. Leases
// expire on their own, so a crashed holder's slot frees itself within
// ttl plus grace.
type Limiter interface {
	// Acquire returns a new lease id, or a *LimitExceededError when the
	// user is at their limit.
	Acquire(ctx context.Context, userID string) (string, error)
	// Release removes a lease. Idempotent; releasing an expired or unknown
	// lease is not an error.
	Release(ctx context.Context, userID, leaseID string) error
	// Refresh extends a lease and reports whether it was still held.
	// A false return means the lease expired; callers stop streaming.
	Refresh(ctx context.Context, userID, leaseID string) (bool, error)
	// ActiveStreams counts the user's unexpired leases.
	ActiveStreams(ctx context.Context, userID string) (int, error)
}

// maxAcquireRetries bounds the optimistic-locking loop. Contention on one
// user's lease set is rare, so a small bound suffices.
const maxAcquireRetries = 5

// RedisLimiter stores leases in a per-user sorted set scored by expiry,
// using the broker's clock so producer hosts need no clock agreement.
type RedisLimiter struct {
	rdb    *redis.Client
	limit  int
	ttl    time.Duration
	grace  time.Duration
	logger log.Logger
}

// NewRedisLimiter builds a limiter from stream config.
func NewRedisLimiter(rdb *redis.Client, cfg config.StreamConfig, logger log.Logger) *RedisLimiter {
	return &RedisLimiter{
		rdb:    rdb,
		limit:  cfg.LeaseLimit,
		ttl:    cfg.LeaseTTL(),
		grace:  cfg.LeaseGrace(),
		logger: logger.With(log.Component("stream-limiter")),
	}
}

// Acquire prunes expired leases, checks cardinality against the limit, and
// adds a new member scored now+ttl. The prune-check-add sequence runs under
// WATCH so a concurrent acquire restarts it rather than over-admitting.
func (l *RedisLimiter) Acquire(ctx context.Context, userID string) (string, error) {
	key := LeaseKey(userID)
	leaseID := uuid.NewString()

	for attempt := 0; attempt < maxAcquireRetries; attempt++ {
		var limitErr *LimitExceededError
		err := l.rdb.Watch(ctx, func(tx *redis.Tx) error {
			now, err := serverNow(ctx, tx)
			if err != nil {
				return err
			}
			if err := tx.ZRemRangeByScore(ctx, key, "-inf", formatScore(now)).Err(); err != nil {
				return err
			}
			active, err := tx.ZCard(ctx, key).Result()
			if err != nil {
				return err
			}
			if int(active) >= l.limit {
				limitErr = &LimitExceededError{UserID: userID, Limit: l.limit, Active: int(active)}
				return nil
			}
			expiry := now + l.ttl.Seconds()
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.ZAdd(ctx, key, redis.Z{Score: expiry, Member: leaseID})
				pipe.Expire(ctx, key, l.ttl+l.grace)
				return nil
			})
			return err
		}, key)
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("streaming: acquire lease for %s: %w", userID, err)
		}
		if limitErr != nil {
			return "", limitErr
		}
		l.logger.Debug("lease acquired",
			log.Str("user_id", userID), log.Str("lease_id", leaseID))
		return leaseID, nil
	}
	return "", fmt.Errorf("streaming: acquire lease for %s: contention retries exhausted", userID)
}

// Release removes the lease and drops the whole key if it became empty. The
// empty check and the delete run under WATCH so a lease added concurrently
// aborts the delete instead of being lost with it.
func (l *RedisLimiter) Release(ctx context.Context, userID, leaseID string) error {
	key := LeaseKey(userID)
	if err := l.rdb.ZRem(ctx, key, leaseID).Err(); err != nil {
		return fmt.Errorf("streaming: release lease for %s: %w", userID, err)
	}
	for attempt := 0; attempt < maxAcquireRetries; attempt++ {
		err := l.rdb.Watch(ctx, func(tx *redis.Tx) error {
			remaining, err := tx.ZCard(ctx, key).Result()
			if err != nil {
				return err
			}
			if remaining > 0 {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			return err
		}, key)
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return fmt.Errorf("streaming: release lease for %s: %w", userID, err)
		}
		return nil
	}
	// cleanup is cosmetic; an undeleted key expires on its own
	return nil
}

// Refresh bumps the lease's expiry score if it is still present. A WATCH
// conflict means another lease on the same user moved, not that this one was
// lost, so the check is retried rather than reported as not-held.
func (l *RedisLimiter) Refresh(ctx context.Context, userID, leaseID string) (bool, error) {
	key := LeaseKey(userID)
	for attempt := 0; attempt < maxAcquireRetries; attempt++ {
		held := false
		err := l.rdb.Watch(ctx, func(tx *redis.Tx) error {
			now, err := serverNow(ctx, tx)
			if err != nil {
				return err
			}
			score, err := tx.ZScore(ctx, key, leaseID).Result()
			if err == redis.Nil {
				return nil
			}
			if err != nil {
				return err
			}
			if score <= now {
				// present but already expired; the next prune removes it
				return nil
			}
			held = true
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.ZAdd(ctx, key, redis.Z{Score: now + l.ttl.Seconds(), Member: leaseID})
				pipe.Expire(ctx, key, l.ttl+l.grace)
				return nil
			})
			return err
		}, key)
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("streaming: refresh lease for %s: %w", userID, err)
		}
		return held, nil
	}
	return false, fmt.Errorf("streaming: refresh lease for %s: contention retries exhausted", userID)
}

// ActiveStreams prunes expired leases and counts the rest.
func (l *RedisLimiter) ActiveStreams(ctx context.Context, userID string) (int, error) {
	key := LeaseKey(userID)
	t, err := l.rdb.Time(ctx).Result()
	if err != nil {
		return 0, fmt.Errorf("streaming: count leases for %s: %w", userID, err)
	}
	now := float64(t.UnixNano()) / float64(time.Second)
	if err := l.rdb.ZRemRangeByScore(ctx, key, "-inf", formatScore(now)).Err(); err != nil {
		return 0, fmt.Errorf("streaming: count leases for %s: %w", userID, err)
	}
	n, err := l.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("streaming: count leases for %s: %w", userID, err)
	}
	return int(n), nil
}

func serverNow(ctx context.Context, tx *redis.Tx) (float64, error) {
	t, err := tx.Time(ctx).Result()
	if err != nil {
		return 0, err
	}
	return float64(t.UnixNano()) / float64(time.Second), nil
}

func formatScore(f float64) string {
	return fmt.Sprintf("%f", f)
}

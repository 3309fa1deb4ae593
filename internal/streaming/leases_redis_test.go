package streaming

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/rzbill/jobstream/internal/config"
	"github.com/rzbill/jobstream/pkg/log"
)

func newRedisLimiter(t *testing.T, limit int) (*RedisLimiter, *redis.Client) {
	t.Helper()
	rdb := newStreamRedis(t)
	cfg := config.StreamConfig{LeaseLimit: limit, LeaseTTLSec: 60, LeaseGraceSec: 10}
	return NewRedisLimiter(rdb, cfg, log.NewNop()), rdb
}

func TestRedisLimiterEnforcesLimit(t *testing.T) {
	ctx := context.Background()
	l, _ := newRedisLimiter(t, 2)

	a, err := l.Acquire(ctx, "u1")
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	if _, err := l.Acquire(ctx, "u1"); err != nil {
		t.Fatalf("acquire 2: %v", err)
	}
	_, err = l.Acquire(ctx, "u1")
	var limitErr *LimitExceededError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected LimitExceededError, got %v", err)
	}
	if limitErr.Limit != 2 || limitErr.Active != 2 {
		t.Fatalf("error detail: %+v", limitErr)
	}

	if err := l.Release(ctx, "u1", a); err != nil {
		t.Fatalf("release: %v", err)
	}
	if n, err := l.ActiveStreams(ctx, "u1"); err != nil || n != 1 {
		t.Fatalf("active = %d err=%v, want 1", n, err)
	}
	if _, err := l.Acquire(ctx, "u1"); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestRedisLimiterRefreshSurvivesConcurrentAcquires(t *testing.T) {
	ctx := context.Background()
	l, _ := newRedisLimiter(t, 50)

	lease, err := l.Acquire(ctx, "u1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if held, err := l.Refresh(ctx, "u1", lease); err != nil || !held {
		t.Fatalf("refresh: held=%v err=%v", held, err)
	}
	if held, err := l.Refresh(ctx, "u1", "no-such-lease"); err != nil || held {
		t.Fatalf("unknown lease: held=%v err=%v", held, err)
	}

	// other leases on the same user churn while the first keeps refreshing;
	// contention on the shared set must never read as a lost lease
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 25; i++ {
			id, err := l.Acquire(ctx, "u1")
			if err != nil {
				t.Errorf("churn acquire: %v", err)
				return
			}
			if err := l.Release(ctx, "u1", id); err != nil {
				t.Errorf("churn release: %v", err)
				return
			}
		}
	}()
	for i := 0; i < 25; i++ {
		held, err := l.Refresh(ctx, "u1", lease)
		if err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
		if !held {
			t.Fatalf("refresh %d reported a held lease as lost", i)
		}
	}
	wg.Wait()
}

func TestRedisLimiterReleaseKeepsRemainingLeases(t *testing.T) {
	ctx := context.Background()
	l, rdb := newRedisLimiter(t, 2)

	a, err := l.Acquire(ctx, "u1")
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	b, err := l.Acquire(ctx, "u1")
	if err != nil {
		t.Fatalf("acquire b: %v", err)
	}

	// releasing one lease must not take the other down with the key
	if err := l.Release(ctx, "u1", a); err != nil {
		t.Fatalf("release a: %v", err)
	}
	if n, _ := rdb.Exists(ctx, LeaseKey("u1")).Result(); n != 1 {
		t.Fatalf("lease key deleted while a lease is held")
	}
	if held, err := l.Refresh(ctx, "u1", b); err != nil || !held {
		t.Fatalf("remaining lease lost: held=%v err=%v", held, err)
	}

	// the last release drops the key entirely
	if err := l.Release(ctx, "u1", b); err != nil {
		t.Fatalf("release b: %v", err)
	}
	if n, _ := rdb.Exists(ctx, LeaseKey("u1")).Result(); n != 0 {
		t.Fatalf("lease key should be deleted once empty")
	}
	// releasing again is a no-op
	if err := l.Release(ctx, "u1", b); err != nil {
		t.Fatalf("second release: %v", err)
	}
}

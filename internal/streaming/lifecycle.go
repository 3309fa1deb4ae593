package streaming

import (
	"context"
	"time"

	"github.com/rzbill/jobstream/pkg/log"
)

// Lifecycle is the recommended entry point for holding a stream lease: it
// scopes acquisition so release happens on every exit path, and refreshes
// the lease in the background while the scoped function runs.
type Lifecycle struct {
	limiter Limiter
	ttl     time.Duration
	logger  log.Logger
}

// NewLifecycle wraps a limiter. ttl must match the limiter's lease TTL; it
// drives the refresh cadence.
func NewLifecycle(limiter Limiter, ttl time.Duration, logger log.Logger) *Lifecycle {
	return &Lifecycle{
		limiter: limiter,
		ttl:     ttl,
		logger:  logger.With(log.Component("stream-lifecycle")),
	}
}

// WithStreamLease acquires a lease for userID, runs fn, and releases the
// lease when fn returns for any reason. While fn runs, the lease is
// refreshed every ttl/3; if a refresh reports the lease lost, fn's context
// is cancelled so the caller stops streaming.
//
// A *LimitExceededError from acquisition is returned unwrapped so callers
// can surface the limit detail.
func (l *Lifecycle) WithStreamLease(ctx context.Context, userID string, fn func(ctx context.Context) error) error {
	leaseID, err := l.limiter.Acquire(ctx, userID)
	if err != nil {
		return err
	}
	fnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	refreshDone := make(chan struct{})
	go func() {
		defer close(refreshDone)
		ticker := time.NewTicker(l.ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-fnCtx.Done():
				return
			case <-ticker.C:
				held, err := l.limiter.Refresh(fnCtx, userID, leaseID)
				if err != nil {
					l.logger.Warn("lease refresh failed",
						log.Str("user_id", userID), log.Err(err))
					continue
				}
				if !held {
					l.logger.Warn("lease lost, cancelling stream",
						log.Str("user_id", userID), log.Str("lease_id", leaseID))
					cancel()
					return
				}
			}
		}
	}()

	fnErr := fn(fnCtx)
	cancel()
	<-refreshDone

	// release with a fresh context so cancellation of the stream does not
	// leak the lease until TTL expiry
	releaseCtx, releaseCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer releaseCancel()
	if err := l.limiter.Release(releaseCtx, userID, leaseID); err != nil {
		l.logger.Warn("lease release failed",
			log.Str("user_id", userID), log.Err(err))
	}
	return fnErr
}

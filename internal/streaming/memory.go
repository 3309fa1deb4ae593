package streaming

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLimiter is a process-local Limiter for single-process and dev use.
// It is not crash-safe and must not be used when multiple worker processes
// share lease state.
type MemoryLimiter struct {
	mu     sync.Mutex
	limit  int
	ttl    time.Duration
	leases map[string]map[string]time.Time // userID -> leaseID -> expiry

	now func() time.Time // test hook
}

// NewMemoryLimiter returns an in-memory limiter.
func NewMemoryLimiter(limit int, ttl time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:  limit,
		ttl:    ttl,
		leases: make(map[string]map[string]time.Time),
		now:    time.Now,
	}
}

// Acquire implements Limiter.
func (m *MemoryLimiter) Acquire(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.pruneLocked(userID, now)
	held := m.leases[userID]
	if len(held) >= m.limit {
		return "", &LimitExceededError{UserID: userID, Limit: m.limit, Active: len(held)}
	}
	if held == nil {
		held = make(map[string]time.Time)
		m.leases[userID] = held
	}
	leaseID := uuid.NewString()
	held[leaseID] = now.Add(m.ttl)
	return leaseID, nil
}

// Release implements Limiter.
func (m *MemoryLimiter) Release(_ context.Context, userID, leaseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if held, ok := m.leases[userID]; ok {
		delete(held, leaseID)
		if len(held) == 0 {
			delete(m.leases, userID)
		}
	}
	return nil
}

// Refresh implements Limiter.
func (m *MemoryLimiter) Refresh(_ context.Context, userID, leaseID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.pruneLocked(userID, now)
	held, ok := m.leases[userID]
	if !ok {
		return false, nil
	}
	if _, ok := held[leaseID]; !ok {
		return false, nil
	}
	held[leaseID] = now.Add(m.ttl)
	return true, nil
}

// ActiveStreams implements Limiter.
func (m *MemoryLimiter) ActiveStreams(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked(userID, m.now())
	return len(m.leases[userID]), nil
}

func (m *MemoryLimiter) pruneLocked(userID string, now time.Time) {
	held, ok := m.leases[userID]
	if !ok {
		return
	}
	for id, expiry := range held {
		if !expiry.After(now) {
			delete(held, id)
		}
	}
	if len(held) == 0 {
		delete(m.leases, userID)
	}
}

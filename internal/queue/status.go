package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Job status values. Transitions: queued -> running -> completed | failed.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Status is the pollable projection of one operation. It lives in a Redis
// hash separate from the queue list, so it survives the envelope moving
// through retries.
type Status struct {
	Status      string  `json:"status"`
	Step        string  `json:"step,omitempty"`
	Progress    float64 `json:"progress"` // 0..1
	Result      string  `json:"result,omitempty"`
	Error       string  `json:"error,omitempty"`
	StartedAt   float64 `json:"started_at,omitempty"`
	CompletedAt float64 `json:"completed_at,omitempty"`
	UpdatedAt   float64 `json:"updated_at"`
}

// StatusStore reads and writes operation status hashes. Every write refreshes
// the TTL, so records expire a fixed window after their last update.
type StatusStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStatusStore returns a store writing hashes with the given TTL.
func NewStatusStore(rdb *redis.Client, ttl time.Duration) *StatusStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &StatusStore{rdb: rdb, ttl: ttl}
}

// Set writes fields into the operation's status hash and refreshes the TTL.
// Only non-zero fields of patch are written, so callers can update a single
// field without clobbering the rest.
func (s *StatusStore) Set(ctx context.Context, operationID string, patch Status) error {
	now := epochSeconds(time.Now())
	fields := map[string]interface{}{"updated_at": now}
	if patch.Status != "" {
		fields["status"] = patch.Status
	}
	if patch.Step != "" {
		fields["step"] = patch.Step
	}
	if patch.Progress > 0 {
		fields["progress"] = patch.Progress
	}
	if patch.Result != "" {
		fields["result"] = patch.Result
	}
	if patch.Error != "" {
		fields["error"] = patch.Error
	}
	if patch.StartedAt > 0 {
		fields["started_at"] = patch.StartedAt
	}
	if patch.CompletedAt > 0 {
		fields["completed_at"] = patch.CompletedAt
	}
	key := StatusKey(operationID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("queue: write status %s: %w", operationID, err)
	}
	return nil
}

// Get reads the status hash for an operation. Returns ok=false when the
// record never existed or has expired.
func (s *StatusStore) Get(ctx context.Context, operationID string) (Status, bool, error) {
	vals, err := s.rdb.HGetAll(ctx, StatusKey(operationID)).Result()
	if err != nil {
		return Status{}, false, fmt.Errorf("queue: read status %s: %w", operationID, err)
	}
	if len(vals) == 0 {
		return Status{}, false, nil
	}
	st := Status{
		Status:      vals["status"],
		Step:        vals["step"],
		Result:      vals["result"],
		Error:       vals["error"],
		Progress:    parseFloat(vals["progress"]),
		StartedAt:   parseFloat(vals["started_at"]),
		CompletedAt: parseFloat(vals["completed_at"]),
		UpdatedAt:   parseFloat(vals["updated_at"]),
	}
	return st, true, nil
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

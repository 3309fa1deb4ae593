package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rzbill/jobstream/internal/config"
	"github.com/rzbill/jobstream/internal/metrics"
	"github.com/rzbill/jobstream/pkg/log"
)

// EnqueueOptions customizes a single enqueue call. Zero values defer to the
// queue-wide retry defaults.
type EnqueueOptions struct {
	Priority    Priority
	OperationID string
	// Queue overrides the list name, which otherwise derives from the
	// processor's module part.
	Queue       string
	MaxAttempts int
	Delays      []float64 // seconds per retry
	TimeoutSec  float64   // total budget from first attempt
	OnSuccess   string    // callback processor ref
	OnFailure   string
}

// EnqueueResult reports the outcome of one enqueue.
type EnqueueResult struct {
	OperationID   string  `json:"operation_id"`
	Status        string  `json:"status"`
	EnqueueTimeMs float64 `json:"enqueue_time_ms,omitempty"`
}

// QueueStatus is a monitoring snapshot of all registered queues. Lengths are
// read independently and may be mutually stale.
type QueueStatus struct {
	Queues     map[string]int64       `json:"queues"`
	TotalItems int64                  `json:"total_items"`
	Metrics    map[string]interface{} `json:"metrics,omitempty"`
}

// Manager is the producer side of the queue. Safe for concurrent use from
// many goroutines; the broker's atomic list push is the only coordination.
type Manager struct {
	rdb     *redis.Client
	status  *StatusStore
	metrics *metrics.Aggregator
	retry   config.RetryConfig
	logger  log.Logger
}

// NewManager builds a producer over the shared Redis client.
func NewManager(rdb *redis.Client, status *StatusStore, agg *metrics.Aggregator, retry config.RetryConfig, logger log.Logger) *Manager {
	return &Manager{
		rdb:     rdb,
		status:  status,
		metrics: agg,
		retry:   retry,
		logger:  logger.With(log.Component("queue-manager")),
	}
}

// Enqueue serializes entity into a Job Envelope and pushes it onto the
// processor module's queue at the requested priority. The queue list key is
// added to the registry set in the same pipeline so consumers discover it.
func (m *Manager) Enqueue(ctx context.Context, processor string, entity json.RawMessage, opts EnqueueOptions) (EnqueueResult, error) {
	start := time.Now()
	env, key, err := m.buildEnvelope(processor, entity, &opts)
	if err != nil {
		return EnqueueResult{}, err
	}
	data, err := env.Encode()
	if err != nil {
		return EnqueueResult{}, err
	}
	_, err = m.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.SAdd(ctx, RegistryKey, key)
		return nil
	})
	if err != nil {
		m.metrics.Update("enqueue_errors", 1)
		return EnqueueResult{}, fmt.Errorf("queue: enqueue %s: %w", processor, err)
	}
	if err := m.status.Set(ctx, env.OperationID, Status{Status: StatusQueued}); err != nil {
		// status is a projection; the job itself is safely queued
		m.logger.Warn("status write failed after enqueue",
			log.Str("operation_id", env.OperationID), log.Err(err))
	}
	m.metrics.Update("enqueued", 1)
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)
	m.metrics.Update("avg_enqueue_ms", elapsed)
	m.logger.Debug("job enqueued",
		log.Str("operation_id", env.OperationID),
		log.Str("processor", processor),
		log.Str("queue", key))
	return EnqueueResult{OperationID: env.OperationID, Status: StatusQueued, EnqueueTimeMs: elapsed}, nil
}

// EnqueueBatch enqueues N entities for the same processor in one pipelined
// round-trip. The pipeline either applies entirely or fails entirely from
// the caller's perspective.
func (m *Manager) EnqueueBatch(ctx context.Context, processor string, entities []json.RawMessage, opts EnqueueOptions) ([]EnqueueResult, error) {
	results := make([]EnqueueResult, 0, len(entities))
	envelopes := make([]*Envelope, 0, len(entities))
	var key string
	for _, entity := range entities {
		perItem := opts
		perItem.OperationID = "" // every batch item gets its own id
		env, k, err := m.buildEnvelope(processor, entity, &perItem)
		if err != nil {
			return nil, err
		}
		key = k
		envelopes = append(envelopes, env)
	}
	_, err := m.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, env := range envelopes {
			data, err := env.Encode()
			if err != nil {
				return err
			}
			pipe.RPush(ctx, key, data)
		}
		pipe.SAdd(ctx, RegistryKey, key)
		return nil
	})
	if err != nil {
		m.metrics.Update("enqueue_errors", 1)
		return nil, fmt.Errorf("queue: enqueue batch %s: %w", processor, err)
	}
	for _, env := range envelopes {
		if err := m.status.Set(ctx, env.OperationID, Status{Status: StatusQueued}); err != nil {
			m.logger.Warn("status write failed after batch enqueue",
				log.Str("operation_id", env.OperationID), log.Err(err))
		}
		results = append(results, EnqueueResult{OperationID: env.OperationID, Status: StatusQueued})
	}
	m.metrics.Update("enqueued", float64(len(envelopes)))
	return results, nil
}

func (m *Manager) buildEnvelope(processor string, entity json.RawMessage, opts *EnqueueOptions) (*Envelope, string, error) {
	module, _, err := SplitProcessorRef(processor)
	if err != nil {
		return nil, "", err
	}
	if opts.Queue != "" {
		module = opts.Queue
	}
	prio := opts.Priority
	if prio == "" {
		prio = PriorityNormal
	}
	if !prio.Valid() {
		return nil, "", fmt.Errorf("queue: unknown priority %q", prio)
	}
	opID := opts.OperationID
	if opID == "" {
		opID = uuid.NewString()
	}
	hash, err := EntityHash(entity)
	if err != nil {
		return nil, "", err
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = m.retry.MaxAttempts
	}
	delays := opts.Delays
	if delays == nil {
		delays = m.retry.Delays
	}
	env := &Envelope{
		OperationID: opID,
		Processor:   processor,
		Entity:      entity,
		EntityHash:  hash,
		MaxAttempts: maxAttempts,
		Delays:      delays,
		TimeoutSec:  opts.TimeoutSec,
		EnqueuedAt:  epochSeconds(time.Now()),
		OnSuccess:   opts.OnSuccess,
		OnFailure:   opts.OnFailure,
	}
	return env, QueueKey(module, prio), nil
}

// GetQueueStatus reads the length of every registered queue plus the failure
// and system-error lists. Each length is an independent read.
func (m *Manager) GetQueueStatus(ctx context.Context) (QueueStatus, error) {
	keys, err := m.rdb.SMembers(ctx, RegistryKey).Result()
	if err != nil {
		return QueueStatus{}, fmt.Errorf("queue: read registry: %w", err)
	}
	st := QueueStatus{Queues: make(map[string]int64, len(keys)+2)}
	for _, key := range keys {
		n, err := m.rdb.LLen(ctx, key).Result()
		if err != nil {
			return QueueStatus{}, fmt.Errorf("queue: read length of %s: %w", key, err)
		}
		st.Queues[key] = n
		st.TotalItems += n
	}
	for _, key := range []string{FailuresKey, SystemErrorsKey} {
		n, err := m.rdb.LLen(ctx, key).Result()
		if err != nil {
			return QueueStatus{}, fmt.Errorf("queue: read length of %s: %w", key, err)
		}
		st.Queues[key] = n
	}
	st.Metrics = m.metrics.Snapshot()
	return st, nil
}

// PurgeQueue deletes all items from one module/priority queue and returns
// the number of jobs destroyed. Destructive and non-recoverable.
func (m *Manager) PurgeQueue(ctx context.Context, module string, prio Priority) (int64, error) {
	if !prio.Valid() {
		return 0, fmt.Errorf("queue: unknown priority %q", prio)
	}
	key := QueueKey(module, prio)
	n, err := m.rdb.LLen(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: purge %s: %w", key, err)
	}
	if err := m.rdb.Del(ctx, key).Err(); err != nil {
		return 0, fmt.Errorf("queue: purge %s: %w", key, err)
	}
	m.logger.Info("queue purged", log.Str("queue", key), log.Int64("dropped", n))
	return n, nil
}

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rzbill/jobstream/internal/config"
	"github.com/rzbill/jobstream/internal/metrics"
	"github.com/rzbill/jobstream/pkg/log"
)

// Worker runs N consumer loops that scan registered queues in priority
// order, claim ready jobs, and execute them through the processor registry.
type Worker struct {
	rdb      *redis.Client
	registry *Registry
	status   *StatusStore
	metrics  *metrics.Aggregator
	policy   *RetryPolicy
	cfg      config.WorkerConfig
	logger   log.Logger

	pool *blockingPool

	mu     sync.Mutex
	cancel context.CancelFunc
	loops  sync.WaitGroup
}

// NewWorker builds a consumer over the shared Redis client.
func NewWorker(rdb *redis.Client, registry *Registry, status *StatusStore, agg *metrics.Aggregator, policy *RetryPolicy, cfg config.WorkerConfig, logger log.Logger) *Worker {
	return &Worker{
		rdb:      rdb,
		registry: registry,
		status:   status,
		metrics:  agg,
		policy:   policy,
		cfg:      cfg,
		logger:   logger.With(log.Component("queue-worker")),
	}
}

// Start launches the consumer loops and the blocking pool. It returns
// immediately; loops run until Stop.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.pool = newBlockingPool(w.cfg.PoolSize, w.cfg.PoolQueueDepth)

	n := w.cfg.Consumers
	if n <= 0 {
		n = 1
	}
	w.loops.Add(n)
	for i := 0; i < n; i++ {
		go w.consumeLoop(loopCtx, i)
	}
	w.logger.Info("worker started",
		log.Int("consumers", n),
		log.Int("pool_size", w.cfg.PoolSize))
}

// Stop halts claiming and waits up to the shutdown grace for in-flight
// attempts, which run on the consumer goroutines and finish at their own
// pace. Past the grace Stop returns anyway; the pool is stopped, without
// draining its backlog, once the last loop exits.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()

	done := make(chan struct{})
	go func() {
		w.loops.Wait()
		w.pool.Stop()
		close(done)
	}()
	select {
	case <-done:
		w.logger.Info("worker stopped")
	case <-time.After(w.cfg.ShutdownGrace()):
		w.logger.Warn("shutdown grace elapsed with work in flight")
	}
}

func (w *Worker) consumeLoop(ctx context.Context, id int) {
	defer w.loops.Done()
	logger := w.logger.With(log.Int("consumer", id))
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		claimed, err := w.scanOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("scan failed", log.Err(err))
			w.metrics.Update("scan_errors", 1)
			sleepCtx(ctx, w.cfg.ErrorBackoff())
			continue
		}
		if !claimed {
			sleepCtx(ctx, w.cfg.ScanInterval())
		}
	}
}

// scanOnce walks every registered queue in priority order and executes at
// most one job. Returns whether a job was claimed.
func (w *Worker) scanOnce(ctx context.Context) (bool, error) {
	keys, err := w.rdb.SMembers(ctx, RegistryKey).Result()
	if err != nil {
		return false, fmt.Errorf("queue: read registry: %w", err)
	}
	for _, key := range orderQueues(keys) {
		env, ok, err := w.claim(ctx, key)
		if err != nil {
			return false, err
		}
		if !ok {
			continue
		}
		w.execute(ctx, key, env)
		return true, nil
	}
	return false, nil
}

// orderQueues buckets registry keys by priority and returns them in
// high, normal, low order. Keys that do not parse are dropped; within a
// tier, order is alphabetical for determinism.
func orderQueues(keys []string) []string {
	buckets := map[Priority][]string{}
	for _, key := range keys {
		_, prio, err := ParseQueueKey(key)
		if err != nil {
			continue
		}
		buckets[prio] = append(buckets[prio], key)
	}
	var out []string
	for _, prio := range Priorities {
		tier := buckets[prio]
		sort.Strings(tier)
		out = append(out, tier...)
	}
	return out
}

// claim peeks the head of one queue and pops it if ready. The peek is racy
// by design: losing a pop race to another consumer costs a wasted peek,
// never a double execution.
func (w *Worker) claim(ctx context.Context, key string) (*Envelope, bool, error) {
	head, err := w.rdb.LIndex(ctx, key, 0).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("queue: peek %s: %w", key, err)
	}
	peeked, err := DecodeEnvelope([]byte(head))
	if err == nil && !peeked.Ready(time.Now()) {
		// head is a scheduled retry that is not yet due; skip the queue so
		// lower tiers are not blocked
		return nil, false, nil
	}

	popped, err := w.rdb.LPop(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("queue: pop %s: %w", key, err)
	}
	env, err := DecodeEnvelope([]byte(popped))
	if err != nil {
		w.quarantine(ctx, popped, err)
		return nil, false, nil
	}
	// the popped item may differ from the peeked one if another consumer
	// won the race; recheck readiness and put unready items back
	if !env.Ready(time.Now()) {
		data, encErr := env.Encode()
		if encErr == nil {
			if pushErr := w.rdb.LPush(ctx, key, data).Err(); pushErr != nil {
				return nil, false, fmt.Errorf("queue: requeue unready %s: %w", key, pushErr)
			}
		}
		return nil, false, nil
	}
	return env, true, nil
}

// quarantine routes an undecodable payload to the system-errors list. No
// processor identity means no retry policy can apply.
func (w *Worker) quarantine(ctx context.Context, payload string, cause error) {
	w.metrics.Update("system_errors", 1)
	w.logger.Error("malformed queue item", log.Err(cause))
	if err := w.rdb.RPush(ctx, SystemErrorsKey, payload).Err(); err != nil {
		w.logger.Error("failed to quarantine item", log.Err(err))
	}
}

func (w *Worker) execute(parent context.Context, key string, env *Envelope) {
	// shutdown cancellation applies at claim boundaries, not mid-attempt
	ctx := context.WithoutCancel(parent)
	logger := w.logger.With(
		log.Str("operation_id", env.OperationID),
		log.Str("processor", env.Processor))

	now := time.Now()
	if env.FirstAttemptTime == 0 {
		env.FirstAttemptTime = epochSeconds(now)
	}

	reg, ok := w.registry.Resolve(env.Processor)
	if !ok {
		w.handleFailure(ctx, key, env, Fail("unknown_processor",
			fmt.Errorf("queue: no processor registered for %q", env.Processor)))
		return
	}

	if err := w.status.Set(ctx, env.OperationID, Status{
		Status:    StatusRunning,
		StartedAt: epochSeconds(now),
	}); err != nil {
		logger.Warn("status write failed", log.Err(err))
	}

	attemptCtx, cancel := context.WithTimeout(ctx, w.attemptBudget(env, now))
	defer cancel()

	start := time.Now()
	var res Result
	if reg.Blocking {
		res = w.runBlocking(attemptCtx, reg.Processor, env.Entity)
	} else {
		res = reg.Processor.Process(attemptCtx, env.Entity)
	}
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)
	w.metrics.Update("avg_execution_ms", elapsed)

	switch res.Disposition {
	case Success:
		w.handleSuccess(ctx, env, res, logger)
	default:
		w.handleFailure(ctx, key, env, res)
	}
}

// attemptBudget returns the per-attempt timeout: the configured work timeout
// clamped to whatever remains of the job's total budget.
func (w *Worker) attemptBudget(env *Envelope, now time.Time) time.Duration {
	budget := w.cfg.WorkTimeout()
	if env.TimeoutSec > 0 {
		deadline := env.FirstAttemptTime + env.TimeoutSec
		remaining := time.Duration((deadline - epochSeconds(now)) * float64(time.Second))
		if remaining <= 0 {
			remaining = time.Millisecond
		}
		if remaining < budget {
			budget = remaining
		}
	}
	return budget
}

// runBlocking submits the processor to the bounded pool. Failure to admit
// within the timebox is a distinct, immediately retryable failure so one
// saturated pool never stalls queue scanning.
func (w *Worker) runBlocking(ctx context.Context, p Processor, entity json.RawMessage) Result {
	resCh := make(chan Result, 1)
	err := w.pool.Submit(func() {
		resCh <- p.Process(ctx, entity)
	}, w.cfg.SubmitTimeout())
	if err != nil {
		w.metrics.Update("thread_pool_exhaustion", 1)
		return Retry("thread_pool_exhaustion", err)
	}
	select {
	case res := <-resCh:
		return res
	case <-ctx.Done():
		return Retry("timeout", ctx.Err())
	}
}

func (w *Worker) handleSuccess(ctx context.Context, env *Envelope, res Result, logger log.Logger) {
	w.metrics.Update("completed", 1)
	now := epochSeconds(time.Now())
	if err := w.status.Set(ctx, env.OperationID, Status{
		Status:      StatusCompleted,
		Progress:    1,
		Result:      string(res.Output),
		CompletedAt: now,
	}); err != nil {
		logger.Warn("status write failed", log.Err(err))
	}
	if env.OnSuccess != "" {
		w.invokeCallback(ctx, env.OnSuccess, env, res.Output, "")
	}
	logger.Debug("job completed", log.Int("attempts", env.Attempts+1))
}

// handleFailure is the single failure path for every non-success outcome.
func (w *Worker) handleFailure(ctx context.Context, key string, env *Envelope, res Result) {
	now := time.Now()
	env.Attempts++
	if res.Err != nil {
		env.LastError = res.Err.Error()
	} else {
		env.LastError = res.Reason
	}
	env.LastErrorTime = epochSeconds(now)
	env.FailureReason = res.Reason

	terminal, delay, reason := decideRetry(env, res.Disposition, w.policy, now)
	if reason != "" {
		env.FailureReason = reason
	}

	if terminal {
		w.failTerminal(ctx, env)
		return
	}

	env.NextRetryTime = epochSeconds(now) + delay
	data, err := env.Encode()
	if err != nil {
		w.failTerminal(ctx, env)
		return
	}
	// retries go to the head of the same queue; unready heads are skipped
	// by the peek, so this never blocks fresh work
	if err := w.rdb.LPush(ctx, key, data).Err(); err != nil {
		w.logger.Error("failed to reschedule job",
			log.Str("operation_id", env.OperationID), log.Err(err))
		w.failTerminal(ctx, env)
		return
	}
	w.metrics.Update("retries", 1)
	w.logger.Debug("job rescheduled",
		log.Str("operation_id", env.OperationID),
		log.Int("attempts", env.Attempts),
		log.F64("delay_sec", delay))
}

// decideRetry decides whether a failed attempt (attempts already
// incremented) is terminal and, if not, the retry delay in seconds. reason
// is non-empty when terminality comes from the time budget rather than the
// result itself: a job is never retried past its total allotted time, even
// when attempts remain.
func decideRetry(env *Envelope, d Disposition, policy *RetryPolicy, now time.Time) (terminal bool, delay float64, reason string) {
	if d == Terminal || env.Attempts >= env.MaxAttempts {
		return true, 0, ""
	}
	delay = policy.Delay(env, env.Attempts+1)
	if env.TimeoutSec > 0 && epochSeconds(now)+delay > env.FirstAttemptTime+env.TimeoutSec {
		return true, 0, "timeout"
	}
	return false, delay, ""
}

// failTerminal moves the envelope to the failures list and marks the status
// failed. Nothing re-reads the failures list automatically; it exists for
// operator inspection and replay.
func (w *Worker) failTerminal(ctx context.Context, env *Envelope) {
	w.metrics.Update("jobs_failed", 1)
	if data, err := env.Encode(); err == nil {
		if err := w.rdb.RPush(ctx, FailuresKey, data).Err(); err != nil {
			w.logger.Error("failed to record terminal failure",
				log.Str("operation_id", env.OperationID), log.Err(err))
		}
	}
	if err := w.status.Set(ctx, env.OperationID, Status{
		Status:      StatusFailed,
		Error:       env.LastError,
		CompletedAt: epochSeconds(time.Now()),
	}); err != nil {
		w.logger.Warn("status write failed",
			log.Str("operation_id", env.OperationID), log.Err(err))
	}
	if env.OnFailure != "" {
		w.invokeCallback(ctx, env.OnFailure, env, nil, env.LastError)
	}
	w.logger.Warn("job failed terminally",
		log.Str("operation_id", env.OperationID),
		log.Str("processor", env.Processor),
		log.Int("attempts", env.Attempts),
		log.Str("reason", env.FailureReason))
}

// invokeCallback runs an on_success/on_failure processor inline,
// best-effort. Callback failures are logged, never retried.
func (w *Worker) invokeCallback(ctx context.Context, ref string, env *Envelope, result json.RawMessage, errMsg string) {
	reg, ok := w.registry.Resolve(ref)
	if !ok {
		w.logger.Warn("callback processor not registered",
			log.Str("callback", ref),
			log.Str("operation_id", env.OperationID))
		return
	}
	payload := map[string]interface{}{
		"entity":       env.Entity,
		"operation_id": env.OperationID,
	}
	if len(result) > 0 {
		payload["result"] = result
	}
	if errMsg != "" {
		payload["error"] = errMsg
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	cbCtx, cancel := context.WithTimeout(ctx, w.cfg.WorkTimeout())
	defer cancel()
	if res := reg.Processor.Process(cbCtx, data); res.Disposition != Success {
		w.logger.Warn("callback failed",
			log.Str("callback", ref),
			log.Str("operation_id", env.OperationID),
			log.Err(res.Err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

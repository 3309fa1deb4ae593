package metrics

import (
	"strings"
	"sync"

	"github.com/rzbill/jobstream/pkg/log"
)

// thresholds whose crossing always warrants a log line.
var logThresholds = []float64{10, 100, 1000, 10000}

// errorClasses are metric name fragments that are always significant when
// they increase.
var errorClasses = []string{"failed", "errors", "timeouts", "thread_pool_exhaustion"}

type metric struct {
	value float64
	sum   float64 // avg_* only
	count float64 // avg_* only
	seen  int     // update count, drives first-few logging
}

// Aggregator accumulates named metrics. Names beginning with "avg_" keep a
// running mean; all other names are plain accumulators. All methods are safe
// for concurrent use; the optional log side-effect happens outside the lock.
type Aggregator struct {
	mu      sync.Mutex
	metrics map[string]*metric
	logger  log.Logger

	// relativeChange is the fractional growth beyond the last logged value
	// that makes an update log-worthy again.
	relativeChange float64
	lastLogged     map[string]float64
}

// NewAggregator returns an empty aggregator that logs significant updates
// through logger.
func NewAggregator(logger log.Logger) *Aggregator {
	return &Aggregator{
		metrics:        make(map[string]*metric),
		logger:         logger.With(log.Component("metrics")),
		relativeChange: 0.5,
		lastLogged:     make(map[string]float64),
	}
}

// Update applies value to the named metric. forceLog overrides the
// significance heuristics.
func (a *Aggregator) Update(name string, value float64, opts ...UpdateOption) {
	var o updateOptions
	for _, opt := range opts {
		opt(&o)
	}

	a.mu.Lock()
	m, ok := a.metrics[name]
	if !ok {
		m = &metric{}
		a.metrics[name] = m
	}
	m.seen++
	prev := m.value
	if strings.HasPrefix(name, "avg_") {
		m.sum += value
		m.count++
		m.value = m.sum / m.count
	} else {
		m.value += value
	}
	cur := m.value
	seen := m.seen
	shouldLog := o.forceLog || a.significantLocked(name, prev, cur, seen, value)
	if shouldLog {
		a.lastLogged[name] = cur
	}
	a.mu.Unlock()

	if shouldLog {
		a.logger.Info("metric updated",
			log.Str("metric", name),
			log.F64("value", cur))
	}
}

// significantLocked decides whether this update deserves a log line.
// Callers hold a.mu.
func (a *Aggregator) significantLocked(name string, prev, cur float64, seen int, delta float64) bool {
	if seen <= 3 {
		return true
	}
	if delta > 0 && isErrorClass(name) {
		return true
	}
	for _, t := range logThresholds {
		if prev < t && cur >= t {
			return true
		}
	}
	last, ok := a.lastLogged[name]
	if ok && last > 0 {
		change := (cur - last) / last
		if change < 0 {
			change = -change
		}
		if change >= a.relativeChange {
			return true
		}
	}
	return false
}

func isErrorClass(name string) bool {
	for _, c := range errorClasses {
		if strings.Contains(name, c) {
			return true
		}
	}
	return false
}

// Snapshot returns a copy of all current metric values.
func (a *Aggregator) Snapshot() map[string]interface{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]interface{}, len(a.metrics))
	for name, m := range a.metrics {
		out[name] = m.value
	}
	return out
}

// Get returns one metric's current value.
func (a *Aggregator) Get(name string) (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.metrics[name]
	if !ok {
		return 0, false
	}
	return m.value, true
}

type updateOptions struct {
	forceLog bool
}

// UpdateOption customizes one Update call.
type UpdateOption func(*updateOptions)

// ForceLog makes the update log regardless of significance.
func ForceLog() UpdateOption {
	return func(o *updateOptions) { o.forceLog = true }
}

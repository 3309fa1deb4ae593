package queue

import (
	"math"
	"math/rand"

	"github.com/rzbill/jobstream/internal/config"
)

// RetryPolicy computes the delay before a retry attempt. An explicit delay
// schedule on the envelope wins; otherwise the queue-wide exponential
// backoff applies.
type RetryPolicy struct {
	baseDelay float64 // seconds
	maxDelay  float64 // seconds
	jitterFn  func() float64
}

// NewRetryPolicy builds a policy from config. Zero-valued fields fall back
// to safe defaults.
func NewRetryPolicy(cfg config.RetryConfig) *RetryPolicy {
	base := cfg.BaseDelaySec
	if base <= 0 {
		base = 1
	}
	max := cfg.MaxDelaySec
	if max <= 0 {
		max = 300
	}
	return &RetryPolicy{
		baseDelay: base,
		maxDelay:  max,
		jitterFn:  rand.Float64,
	}
}

// Delay returns the backoff in seconds before the attempt numbered
// nextAttempt (1-based: the first retry is attempt 2). A ±10% jitter is
// applied so synchronized failures do not retry in lockstep.
func (p *RetryPolicy) Delay(e *Envelope, nextAttempt int) float64 {
	retryIndex := nextAttempt - 2 // index into the delay schedule
	if retryIndex < 0 {
		retryIndex = 0
	}
	var delay float64
	if len(e.Delays) > 0 {
		if retryIndex >= len(e.Delays) {
			retryIndex = len(e.Delays) - 1
		}
		delay = e.Delays[retryIndex]
	} else {
		delay = p.baseDelay * math.Pow(2, float64(retryIndex))
	}
	if delay > p.maxDelay {
		delay = p.maxDelay
	}
	if delay < 0 {
		delay = 0
	}
	// jitter in [-10%, +10%]
	jitter := (p.jitterFn()*2 - 1) * 0.1 * delay
	return delay + jitter
}

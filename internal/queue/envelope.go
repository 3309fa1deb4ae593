package queue

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the wire form of a queued job. All timestamps are Unix epoch
// seconds so envelopes remain readable with plain Redis tooling.
type Envelope struct {
	OperationID string          `json:"operation_id"`
	Processor   string          `json:"processor"` // "module.name"
	Entity      json.RawMessage `json:"entity"`
	EntityHash  string          `json:"entity_hash"`

	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	Delays      []float64 `json:"delays,omitempty"` // seconds per retry
	TimeoutSec  float64   `json:"timeout,omitempty"`

	EnqueuedAt       float64 `json:"enqueued_at"`
	FirstAttemptTime float64 `json:"first_attempt_time,omitempty"`
	NextRetryTime    float64 `json:"next_retry_time,omitempty"`

	OnSuccess string `json:"on_success,omitempty"` // follow-up processor
	OnFailure string `json:"on_failure,omitempty"`

	LastError     string  `json:"last_error,omitempty"`
	LastErrorTime float64 `json:"last_error_time,omitempty"`
	FailureReason string  `json:"failure_reason,omitempty"`
}

// Encode serializes the envelope for storage in a queue list.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope parses a queue list entry. A decode error means the payload
// is unroutable and belongs on the system-errors list.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("queue: decode envelope: %w", err)
	}
	if e.OperationID == "" || e.Processor == "" {
		return nil, fmt.Errorf("queue: envelope missing operation_id or processor")
	}
	return &e, nil
}

// Ready reports whether the envelope is due for execution at now.
// Envelopes with no scheduled retry are always ready.
func (e *Envelope) Ready(now time.Time) bool {
	if e.NextRetryTime == 0 {
		return true
	}
	return epochSeconds(now) >= e.NextRetryTime
}

// EntityHash computes a content hash over the entity payload. The payload is
// decoded and re-encoded first so that key order does not affect the hash.
func EntityHash(entity json.RawMessage) (string, error) {
	var v interface{}
	if err := json.Unmarshal(entity, &v); err != nil {
		return "", fmt.Errorf("queue: hash entity: %w", err)
	}
	norm, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("queue: hash entity: %w", err)
	}
	sum := sha256.Sum256(norm)
	return hex.EncodeToString(sum[:]), nil
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

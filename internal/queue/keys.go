package queue

import (
	"fmt"
	"strings"
)

// Priority orders queue scanning. Higher priorities are always drained first.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Priorities lists all priorities in scan order.
var Priorities = []Priority{PriorityHigh, PriorityNormal, PriorityLow}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

const (
	keyPrefix = "jobstream"

	// RegistryKey is the set of every queue list key that has received work.
	RegistryKey = keyPrefix + ":queues"

	// FailuresKey is the list of terminally failed job envelopes.
	FailuresKey = keyPrefix + ":failures"

	// SystemErrorsKey is the list of undecodable or unroutable payloads.
	SystemErrorsKey = keyPrefix + ":system-errors"
)

// QueueKey builds the list key for a module at a priority.
func QueueKey(module string, p Priority) string {
	return fmt.Sprintf("%s:queue:%s:%s", keyPrefix, module, p)
}

// ParseQueueKey splits a queue list key into module and priority.
func ParseQueueKey(key string) (module string, p Priority, err error) {
	parts := strings.Split(key, ":")
	if len(parts) != 4 || parts[0] != keyPrefix || parts[1] != "queue" {
		return "", "", fmt.Errorf("queue: malformed queue key %q", key)
	}
	p = Priority(parts[3])
	if !p.Valid() {
		return "", "", fmt.Errorf("queue: unknown priority in key %q", key)
	}
	return parts[2], p, nil
}

// StatusKey builds the status hash key for an operation.
func StatusKey(operationID string) string {
	return fmt.Sprintf("%s:status:%s", keyPrefix, operationID)
}

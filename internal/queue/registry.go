package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Disposition tags the outcome of a processor attempt.
type Disposition int

const (
	// Success means the job completed and must not run again.
	Success Disposition = iota
	// Retryable means the attempt failed but a later attempt may succeed.
	Retryable
	// Terminal means the job can never succeed and goes to the failure list.
	Terminal
)

// Result is what a processor reports for one attempt.
type Result struct {
	Disposition Disposition
	// Output is the processor's result payload. It lands in the status
	// record's result field and in the on_success callback. Nil is fine.
	Output json.RawMessage
	// Reason classifies the failure for metrics and the failure list,
	// e.g. "timeout" or "validation_error". Empty on success.
	Reason string
	// Err carries failure detail for logging and the envelope's last_error.
	Err error
}

// Succeed returns a success result with no payload.
func Succeed() Result { return Result{Disposition: Success} }

// SucceedWith returns a success result carrying the processor's output.
func SucceedWith(output json.RawMessage) Result {
	return Result{Disposition: Success, Output: output}
}

// Retry returns a retryable failure.
func Retry(reason string, err error) Result {
	return Result{Disposition: Retryable, Reason: reason, Err: err}
}

// Fail returns a terminal failure.
func Fail(reason string, err error) Result {
	return Result{Disposition: Terminal, Reason: reason, Err: err}
}

// Processor executes one kind of job. Implementations decode their own
// entity payload and report the attempt outcome as a Result; they never
// panic to signal failure.
type Processor interface {
	// Process runs one attempt. ctx carries the per-attempt deadline.
	Process(ctx context.Context, entity json.RawMessage) Result
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, entity json.RawMessage) Result

func (f ProcessorFunc) Process(ctx context.Context, entity json.RawMessage) Result {
	return f(ctx, entity)
}

// Registration binds a processor name to its implementation and declares
// its execution mode up front.
type Registration struct {
	Processor Processor
	// Blocking routes execution through the bounded worker pool instead of
	// running inline on the consumer goroutine.
	Blocking bool
}

// Registry maps "module.name" processor references to registrations.
// Registration happens at startup; lookups are concurrent.
type Registry struct {
	mu         sync.RWMutex
	processors map[string]Registration
}

// NewRegistry returns an empty processor registry.
func NewRegistry() *Registry {
	return &Registry{processors: make(map[string]Registration)}
}

// Register binds ref ("module.name") to reg. Re-registering a ref is a
// programming error and returns an error rather than silently replacing.
func (r *Registry) Register(ref string, reg Registration) error {
	if _, _, err := SplitProcessorRef(ref); err != nil {
		return err
	}
	if reg.Processor == nil {
		return fmt.Errorf("queue: nil processor for %q", ref)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.processors[ref]; exists {
		return fmt.Errorf("queue: processor %q already registered", ref)
	}
	r.processors[ref] = reg
	return nil
}

// Resolve looks up the registration for ref.
func (r *Registry) Resolve(ref string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.processors[ref]
	return reg, ok
}

// Refs returns the registered processor references.
func (r *Registry) Refs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	refs := make([]string, 0, len(r.processors))
	for ref := range r.processors {
		refs = append(refs, ref)
	}
	return refs
}

// SplitProcessorRef splits "module.name" into its parts.
func SplitProcessorRef(ref string) (module, name string, err error) {
	i := strings.LastIndex(ref, ".")
	if i <= 0 || i == len(ref)-1 {
		return "", "", fmt.Errorf("queue: malformed processor ref %q", ref)
	}
	return ref[:i], ref[i+1:], nil
}

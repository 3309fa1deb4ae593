package streaming

import (
	"strings"

	"github.com/google/cel-go/cel"
)

// EventFilter wraps a compiled CEL program evaluated against each event on a
// subscription. When disabled, Match always returns true.
type EventFilter struct {
	prog    cel.Program
	enabled bool
}

// NewEventFilter compiles expr. An empty expression yields a disabled
// filter that matches everything.
func NewEventFilter(expr string) (EventFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return EventFilter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("type", cel.StringType),
		cel.Variable("channel_id", cel.StringType),
		cel.Variable("timestamp", cel.DoubleType),
		// Parsed event data for field filtering
		cel.Variable("data", cel.DynType),
		cel.Variable("context", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return EventFilter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return EventFilter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return EventFilter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return EventFilter{}, err
	}
	return EventFilter{prog: prog, enabled: true}, nil
}

// Match evaluates the expression against an event. Terminal and ping events
// always match so the stream's liveness and termination are never filtered
// away.
func (f EventFilter) Match(e Event) bool {
	if !f.enabled {
		return true
	}
	if e.Type == EventDone || e.Type == EventPing {
		return true
	}
	data := e.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	eventCtx := e.Context
	if eventCtx == nil {
		eventCtx = map[string]string{}
	}
	out, _, err := f.prog.Eval(map[string]any{
		"type":       e.Type,
		"channel_id": e.ChannelID,
		"timestamp":  e.Timestamp,
		"data":       data,
		"context":    eventCtx,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

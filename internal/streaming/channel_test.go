package streaming

import (
	"context"
	"testing"

	"github.com/rzbill/jobstream/pkg/log"
)

func TestPublisherDropsAfterCompletion(t *testing.T) {
	p := NewPublisher(nil, StreamContext{ChannelID: "c1"}, nil, log.NewNop())
	p.completed.Store(true)

	ctx := context.Background()
	// non-terminal events are dropped without touching the broker
	if err := p.Publish(ctx, NewEvent(EventLog, "c1", nil)); err != nil {
		t.Fatalf("dropped publish should not error: %v", err)
	}
	// done stays an idempotent no-op
	if err := p.Publish(ctx, NewEvent(EventDone, "c1", nil)); err != nil {
		t.Fatalf("repeated done should not error: %v", err)
	}
}

func TestMergeContext(t *testing.T) {
	dims := StreamContext{Tenant: "t1", Project: "p1"}.Dimensions()

	got := mergeContext(map[string]string{"tenant": "override"}, dims)
	if got["tenant"] != "override" {
		t.Fatalf("event context should win: %v", got)
	}
	if got["project"] != "p1" {
		t.Fatalf("missing dimension merge: %v", got)
	}

	if got := mergeContext(nil, dims); got["tenant"] != "t1" {
		t.Fatalf("nil event context should take dims: %v", got)
	}
	if got := mergeContext(map[string]string{"a": "b"}, nil); got["a"] != "b" {
		t.Fatalf("nil dims should keep event context: %v", got)
	}
}

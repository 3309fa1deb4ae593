package streaming

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/rzbill/jobstream/internal/config"
	"github.com/rzbill/jobstream/pkg/log"
)

func newStreamRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

// drainEvents reads until the channel closes, failing the test if it never
// does within timeout.
func drainEvents(t *testing.T, events <-chan Event, timeout time.Duration) []Event {
	t.Helper()
	var got []Event
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-deadline.C:
			t.Fatalf("stream never closed; got %d events", len(got))
		}
	}
}

func countTerminals(events []Event) int {
	n := 0
	for _, ev := range events {
		if ev.Terminal() {
			n++
		}
	}
	return n
}

func TestSubscribeStopsAfterDone(t *testing.T) {
	ctx := context.Background()
	rdb := newStreamRedis(t)
	cfg := config.StreamConfig{PingIntervalSec: 60, IdleTimeoutSec: 60}

	sub := NewSubscriber(rdb, cfg, log.NewNop())
	events, err := sub.Subscribe(ctx, "chan-1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	pub := NewPublisher(rdb, StreamContext{ChannelID: "chan-1"}, nil, log.NewNop())
	if err := pub.Log(ctx, "starting"); err != nil {
		t.Fatalf("publish log: %v", err)
	}
	if err := pub.Complete(ctx, map[string]interface{}{"count": 2}); err != nil {
		t.Fatalf("publish done: %v", err)
	}

	got := drainEvents(t, events, 5*time.Second)
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(got), got)
	}
	if got[0].Type != EventLog {
		t.Fatalf("first event type = %q, want log", got[0].Type)
	}
	if countTerminals(got) != 1 || !got[len(got)-1].Terminal() {
		t.Fatalf("want exactly one terminal event, last: %+v", got)
	}
	if success, _ := got[1].Data["success"].(bool); !success {
		t.Fatalf("done event should carry success=true: %+v", got[1].Data)
	}
}

func TestSubscribeIdleTimeoutSynthesizesFailedDone(t *testing.T) {
	ctx := context.Background()
	rdb := newStreamRedis(t)
	cfg := config.StreamConfig{PingIntervalSec: 60, IdleTimeoutSec: 1}

	sub := NewSubscriber(rdb, cfg, log.NewNop())
	events, err := sub.Subscribe(ctx, "chan-idle")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// nothing publishes; the subscriber must still terminate the stream
	got := drainEvents(t, events, 5*time.Second)
	if countTerminals(got) != 1 {
		t.Fatalf("want exactly one terminal event, got %d: %+v", countTerminals(got), got)
	}
	done := got[len(got)-1]
	if done.Type != EventDone {
		t.Fatalf("last event type = %q, want done", done.Type)
	}
	if success, _ := done.Data["success"].(bool); success {
		t.Fatalf("synthetic done should carry success=false: %+v", done.Data)
	}
	if msg, _ := done.Data["error"].(string); msg == "" {
		t.Fatalf("synthetic done should carry an error message: %+v", done.Data)
	}
}

func TestSubscribeEmitsKeepalivePings(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rdb := newStreamRedis(t)
	cfg := config.StreamConfig{PingIntervalSec: 1, IdleTimeoutSec: 60}

	sub := NewSubscriber(rdb, cfg, log.NewNop())
	events, err := sub.Subscribe(ctx, "chan-ping")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Type != EventPing {
			t.Fatalf("event type = %q, want ping", ev.Type)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no ping within 5s")
	}
}

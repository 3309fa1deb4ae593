package queue

import (
	"context"
	"encoding/json"
	"testing"
)

func TestEnqueueBatchIsVisibleAtOnce(t *testing.T) {
	ctx := context.Background()
	rdb := newTestRedis(t)
	manager, status := newTestManager(t, rdb)

	entities := []json.RawMessage{
		json.RawMessage(`{"doc":1}`),
		json.RawMessage(`{"doc":2}`),
		json.RawMessage(`{"doc":3}`),
	}
	results, err := manager.EnqueueBatch(ctx, "pdf.render", entities, EnqueueOptions{})
	if err != nil {
		t.Fatalf("enqueue batch: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}

	seen := map[string]bool{}
	for _, res := range results {
		if res.Status != StatusQueued {
			t.Fatalf("result status = %q, want queued", res.Status)
		}
		if seen[res.OperationID] {
			t.Fatalf("duplicate operation id %q in batch", res.OperationID)
		}
		seen[res.OperationID] = true
		st, ok, err := status.Get(ctx, res.OperationID)
		if err != nil || !ok {
			t.Fatalf("status for %s: ok=%v err=%v", res.OperationID, ok, err)
		}
		if st.Status != StatusQueued {
			t.Fatalf("status = %q, want queued", st.Status)
		}
	}

	// all three land in one pipeline, so the length reflects the whole batch
	key := QueueKey("pdf", PriorityNormal)
	if n, _ := rdb.LLen(ctx, key).Result(); n != 3 {
		t.Fatalf("queue length = %d, want 3", n)
	}
	qs, err := manager.GetQueueStatus(ctx)
	if err != nil {
		t.Fatalf("queue status: %v", err)
	}
	if qs.TotalItems != 3 || qs.Queues[key] != 3 {
		t.Fatalf("queue status = %+v, want 3 items in %s", qs, key)
	}
}

func TestPurgeQueueDropsAllItems(t *testing.T) {
	ctx := context.Background()
	rdb := newTestRedis(t)
	manager, _ := newTestManager(t, rdb)

	for i := 0; i < 2; i++ {
		if _, err := manager.Enqueue(ctx, "pdf.render", json.RawMessage(`{}`), EnqueueOptions{}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	n, err := manager.PurgeQueue(ctx, "pdf", PriorityNormal)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 2 {
		t.Fatalf("purged %d, want 2", n)
	}
	if n, _ := rdb.LLen(ctx, QueueKey("pdf", PriorityNormal)).Result(); n != 0 {
		t.Fatalf("queue not empty after purge")
	}
}

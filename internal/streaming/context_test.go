package streaming

import (
	"testing"

	"github.com/rzbill/jobstream/internal/storage/pebble"
)

func TestDimensions(t *testing.T) {
	sctx := StreamContext{ChannelID: "c1"}
	if sctx.Dimensions() != nil {
		t.Fatalf("no dimensions should yield nil")
	}
	sctx.Tenant = "t1"
	sctx.Service = "api"
	dims := sctx.Dimensions()
	if dims["tenant"] != "t1" || dims["service"] != "api" {
		t.Fatalf("dims = %v", dims)
	}
	if _, ok := dims["project"]; ok {
		t.Fatalf("empty dimensions should be omitted")
	}
}

func TestPebbleMirror(t *testing.T) {
	db, err := pebble.Open(pebble.Options{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	m := NewPebbleMirror(db)
	for i := 0; i < 3; i++ {
		e := NewEvent(EventLog, "chan-1", map[string]interface{}{"i": i})
		if err := m.Append(e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := m.Append(NewEvent(EventLog, "chan-2", nil)); err != nil {
		t.Fatalf("append other channel: %v", err)
	}

	events, err := m.Events("chan-1")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for _, e := range events {
		if e.ChannelID != "chan-1" {
			t.Fatalf("cross-channel leak: %+v", e)
		}
	}
}

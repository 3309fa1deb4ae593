package streaming

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestEventRoundTrip(t *testing.T) {
	e := NewEvent(EventProgress, "chan-1", map[string]interface{}{"progress": 0.5})
	data, err := e.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != EventProgress || got.ChannelID != "chan-1" {
		t.Fatalf("identity lost: %+v", got)
	}
	if got.EventID == "" || got.Timestamp == 0 {
		t.Fatalf("metadata lost: %+v", got)
	}
}

func TestDecodeEventRejectsGarbage(t *testing.T) {
	if _, err := DecodeEvent([]byte("not json")); err == nil {
		t.Fatalf("expected error for non-JSON")
	}
	if _, err := DecodeEvent([]byte(`{"channel_id":"x"}`)); err == nil {
		t.Fatalf("expected error for typeless event")
	}
}

func TestTerminal(t *testing.T) {
	if !NewEvent(EventDone, "c", nil).Terminal() {
		t.Fatalf("done should be terminal")
	}
	if NewEvent(EventError, "c", nil).Terminal() {
		t.Fatalf("error should not be terminal")
	}
}

func TestEncodeSSEFlattens(t *testing.T) {
	e := NewEvent(EventLog, "c", map[string]interface{}{"message": "hello"})
	e.Context = map[string]string{"tenant": "t1"}
	frame, err := e.EncodeSSE()
	if err != nil {
		t.Fatalf("encode sse: %v", err)
	}
	s := string(frame)
	if !strings.HasPrefix(s, "data: ") || !strings.HasSuffix(s, "\n\n") {
		t.Fatalf("bad frame %q", s)
	}
	var flat map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSuffix(strings.TrimPrefix(s, "data: "), "\n\n")), &flat); err != nil {
		t.Fatalf("frame payload not JSON: %v", err)
	}
	if flat["type"] != "log" || flat["message"] != "hello" {
		t.Fatalf("payload not flattened: %v", flat)
	}
	ctx, ok := flat["_context"].(map[string]interface{})
	if !ok || ctx["tenant"] != "t1" {
		t.Fatalf("context not carried: %v", flat)
	}
}

func TestKeys(t *testing.T) {
	if ChannelKey("abc") != "jobstream:stream:chan:abc" {
		t.Fatalf("channel key")
	}
	if LeaseKey("u1") != "jobstream:stream:leases:u1" {
		t.Fatalf("lease key")
	}
}

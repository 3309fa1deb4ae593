package queue

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	e := &Envelope{
		OperationID: "op-1",
		Processor:   "billing.charge",
		Entity:      json.RawMessage(`{"amount":100,"user":"u1"}`),
		EntityHash:  "abc",
		Attempts:    2,
		MaxAttempts: 5,
		Delays:      []float64{1, 2, 4},
		EnqueuedAt:  1000,
	}
	data, err := e.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.OperationID != e.OperationID || got.Processor != e.Processor {
		t.Fatalf("identity fields lost")
	}
	if got.Attempts != 2 || got.MaxAttempts != 5 || len(got.Delays) != 3 {
		t.Fatalf("retry fields lost")
	}
}

func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	if _, err := DecodeEnvelope([]byte("not json")); err == nil {
		t.Fatalf("expected error for non-JSON payload")
	}
	if _, err := DecodeEnvelope([]byte(`{"attempts":1}`)); err == nil {
		t.Fatalf("expected error for envelope without identity")
	}
}

func TestEnvelopeReady(t *testing.T) {
	now := time.Unix(1000, 0)
	e := &Envelope{}
	if !e.Ready(now) {
		t.Fatalf("envelope without retry time should be ready")
	}
	e.NextRetryTime = 1001
	if e.Ready(now) {
		t.Fatalf("future retry should not be ready")
	}
	e.NextRetryTime = 999.5
	if !e.Ready(now) {
		t.Fatalf("past retry should be ready")
	}
}

func TestEntityHashIgnoresKeyOrder(t *testing.T) {
	a, err := EntityHash(json.RawMessage(`{"a":1,"b":2}`))
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	b, err := EntityHash(json.RawMessage(`{"b":2,"a":1}`))
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if a != b {
		t.Fatalf("hash should be independent of key order")
	}
	c, err := EntityHash(json.RawMessage(`{"a":1,"b":3}`))
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if a == c {
		t.Fatalf("different payloads should hash differently")
	}
}

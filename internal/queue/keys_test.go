package queue

import "testing"

func TestQueueKey(t *testing.T) {
	got := QueueKey("billing", PriorityHigh)
	want := "jobstream:queue:billing:high"
	if got != want {
		t.Fatalf("QueueKey = %q, want %q", got, want)
	}
}

func TestParseQueueKey(t *testing.T) {
	tests := []struct {
		key     string
		module  string
		prio    Priority
		wantErr bool
	}{
		{"jobstream:queue:billing:high", "billing", PriorityHigh, false},
		{"jobstream:queue:ingest:normal", "ingest", PriorityNormal, false},
		{"jobstream:queue:export:low", "export", PriorityLow, false},
		{"jobstream:queue:export:urgent", "", "", true},
		{"jobstream:status:abc", "", "", true},
		{"other:queue:export:low", "", "", true},
		{"jobstream:queue:low", "", "", true},
	}
	for _, tt := range tests {
		module, prio, err := ParseQueueKey(tt.key)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseQueueKey(%q): expected error", tt.key)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseQueueKey(%q): %v", tt.key, err)
		}
		if module != tt.module || prio != tt.prio {
			t.Fatalf("ParseQueueKey(%q) = %q/%q", tt.key, module, prio)
		}
	}
}

func TestStatusKey(t *testing.T) {
	if got := StatusKey("op-1"); got != "jobstream:status:op-1" {
		t.Fatalf("StatusKey = %q", got)
	}
}

func TestPriorityValid(t *testing.T) {
	if !PriorityHigh.Valid() || !PriorityNormal.Valid() || !PriorityLow.Valid() {
		t.Fatalf("known priorities should be valid")
	}
	if Priority("urgent").Valid() {
		t.Fatalf("unknown priority should be invalid")
	}
}

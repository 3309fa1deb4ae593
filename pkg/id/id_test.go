package id

import (
	"bytes"
	"testing"
)

func TestNewRandomUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		s := NewRandom().String()
		if seen[s] {
			t.Fatalf("duplicate random id %s", s)
		}
		seen[s] = true
	}
}

func TestGeneratorMonotonic(t *testing.T) {
	g := NewGenerator()
	prev := g.Next()
	for i := 0; i < 1000; i++ {
		next := g.Next()
		if bytes.Compare(next[:], prev[:]) <= 0 {
			t.Fatalf("ids not increasing: %s then %s", prev, next)
		}
		prev = next
	}
}

func TestGeneratorClockBackwards(t *testing.T) {
	g := NewGenerator()
	orig := NowMs
	t.Cleanup(func() { NowMs = orig })

	NowMs = func() int64 { return 2000 }
	a := g.Next()
	NowMs = func() int64 { return 1000 }
	b := g.Next()
	if bytes.Compare(b[:], a[:]) <= 0 {
		t.Fatalf("expected ordering to hold across clock regression")
	}
}

func TestStringHex(t *testing.T) {
	var id ID
	id[0] = 0xab
	id[15] = 0x01
	s := id.String()
	if len(s) != 32 || s[:2] != "ab" || s[30:] != "01" {
		t.Fatalf("unexpected hex %q", s)
	}
}

package pebble

import (
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Options{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSetGet(t *testing.T) {
	db := openTestDB(t)
	if err := db.Set([]byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := db.Get([]byte("k1"))
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(got) != "v1" {
		t.Fatalf("got %q", got)
	}
	_, ok, err = db.Get([]byte("missing"))
	if err != nil || ok {
		t.Fatalf("missing key: ok=%v err=%v", ok, err)
	}
}

func TestScanPrefix(t *testing.T) {
	db := openTestDB(t)
	for _, k := range []string{"a/1", "a/2", "b/1"} {
		if err := db.Set([]byte(k), []byte(k)); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	var seen []string
	err := db.Scan([]byte("a/"), func(key, value []byte) bool {
		seen = append(seen, string(key))
		return true
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(seen) != 2 || seen[0] != "a/1" || seen[1] != "a/2" {
		t.Fatalf("seen = %v", seen)
	}
}

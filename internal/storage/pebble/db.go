package pebble

import (
	"fmt"

	"github.com/cockroachdb/pebble"
)

// Options configures a DB.
type Options struct {
	Dir string
}

// DB is a thin wrapper over a Pebble store.
type DB struct {
	db *pebble.DB
}

// Open opens (creating if needed) the store at opts.Dir.
func Open(opts Options) (*DB, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("pebble: empty dir")
	}
	db, err := pebble.Open(opts.Dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebble: open %s: %w", opts.Dir, err)
	}
	return &DB{db: db}, nil
}

// Set writes a key synchronously.
func (d *DB) Set(key, value []byte) error {
	if err := d.db.Set(key, value, pebble.Sync); err != nil {
		return fmt.Errorf("pebble: set: %w", err)
	}
	return nil
}

// Get returns the value for key, or ok=false when absent. The returned
// slice is a copy and safe to retain.
func (d *DB) Get(key []byte) ([]byte, bool, error) {
	value, closer, err := d.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("pebble: get: %w", err)
	}
	out := make([]byte, len(value))
	copy(out, value)
	if err := closer.Close(); err != nil {
		return nil, false, fmt.Errorf("pebble: get close: %w", err)
	}
	return out, true, nil
}

// Scan visits all keys with the given prefix in order. fn returning false
// stops the scan.
func (d *DB) Scan(prefix []byte, fn func(key, value []byte) bool) error {
	iter, err := d.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("pebble: iter: %w", err)
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if !fn(iter.Key(), iter.Value()) {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("pebble: scan: %w", err)
	}
	return nil
}

// Close flushes and closes the store.
func (d *DB) Close() error { return d.db.Close() }

func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil // prefix is all 0xff; no upper bound
}

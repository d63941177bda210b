// Package kvstore provides the ordered key-value store the poll service
// persists into. Every backend exposes read-only views and atomic
// read-write transactions; a transaction either commits all of its writes
// or none of them.
package kvstore

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("kvstore: key not found")

// ErrStopScan may be returned from a Scan callback to end the scan early.
// Scan then returns nil.
var ErrStopScan = errors.New("kvstore: stop scan")

// Reader is a consistent read view of the store.
type Reader interface {
	// Get returns a copy of the value stored at key, or ErrNotFound.
	Get(key []byte) ([]byte, error)
	// Scan calls fn for every key with the given prefix in ascending byte
	// order. key and val are only valid for the duration of the call.
	Scan(prefix []byte, fn func(key, val []byte) error) error
}

// Txn is a read-write transaction. Reads observe the transaction's own
// uncommitted writes.
type Txn interface {
	Reader
	Set(key, val []byte) error
	Delete(key []byte) error
}

// DB is an ordered key-value store.
type DB interface {
	// View runs fn against a read-only snapshot.
	View(fn func(r Reader) error) error
	// Update runs fn inside a transaction. The transaction commits if fn
	// returns nil and is discarded otherwise.
	Update(fn func(txn Txn) error) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend string // pebble, badger, sqlite, or memory
	Dir     string // data directory; unused by memory
	NoSync  bool   // skip fsync on commit (unsafe; benchmark only)
}

// Open opens the configured backend.
func Open(cfg Config) (DB, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "pebble":
		return OpenPebble(filepath.Join(cfg.Dir, "pebble"), cfg.NoSync)
	case "memory":
		return OpenPebbleMem()
	case "badger":
		return OpenBadger(filepath.Join(cfg.Dir, "badger"), cfg.NoSync)
	case "sqlite":
		return OpenSQLite(filepath.Join(cfg.Dir, "polld.db"))
	default:
		return nil, fmt.Errorf("unsupported kv backend %q (expected pebble, badger, sqlite, or memory)", cfg.Backend)
	}
}

// Clear deletes every key in the store within txn.
func Clear(txn Txn) error {
	var keys [][]byte
	err := txn.Scan(nil, func(k, _ []byte) error {
		keys = append(keys, append([]byte(nil), k...))
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

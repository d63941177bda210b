package kvstore

import (
	"errors"
	"fmt"
	"io"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/user/polld/internal/kv"
)

// PebbleDB is a DB backed by Pebble. Transactions are indexed batches, so
// reads inside Update see the batch's own writes.
type PebbleDB struct {
	db        *pebble.DB
	writeOpts *pebble.WriteOptions
}

// OpenPebble opens (or creates) a Pebble store in dir.
func OpenPebble(dir string, noSync bool) (*PebbleDB, error) {
	db, err := pebble.Open(dir, &pebble.Options{
		MemTableSize:          16 << 20, // 16MB
		L0CompactionThreshold: 8,
		MaxConcurrentCompactions: func() int {
			return 2
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	opts := pebble.Sync
	if noSync {
		opts = pebble.NoSync
	}
	return &PebbleDB{db: db, writeOpts: opts}, nil
}

// OpenPebbleMem opens a Pebble store on an in-memory filesystem.
func OpenPebbleMem() (*PebbleDB, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("open in-memory pebble: %w", err)
	}
	return &PebbleDB{db: db, writeOpts: pebble.NoSync}, nil
}

func (p *PebbleDB) View(fn func(r Reader) error) error {
	snap := p.db.NewSnapshot()
	defer func() { _ = snap.Close() }()
	return fn(pebbleReader{r: snap})
}

func (p *PebbleDB) Update(fn func(txn Txn) error) error {
	batch := p.db.NewIndexedBatch()
	defer func() { _ = batch.Close() }()
	if err := fn(pebbleTxn{pebbleReader: pebbleReader{r: batch}, batch: batch}); err != nil {
		return err
	}
	if batch.Empty() {
		return nil
	}
	if err := batch.Commit(p.writeOpts); err != nil {
		return fmt.Errorf("commit pebble batch: %w", err)
	}
	return nil
}

func (p *PebbleDB) Close() error {
	return p.db.Close()
}

// pebbleSource is satisfied by *pebble.Snapshot and indexed *pebble.Batch.
type pebbleSource interface {
	Get(key []byte) ([]byte, io.Closer, error)
	NewIter(o *pebble.IterOptions) (*pebble.Iterator, error)
}

type pebbleReader struct {
	r pebbleSource
}

func (r pebbleReader) Get(key []byte) ([]byte, error) {
	v, closer, err := r.r.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer func() { _ = closer.Close() }()
	return append([]byte(nil), v...), nil
}

func (r pebbleReader) Scan(prefix []byte, fn func(key, val []byte) error) error {
	opts := &pebble.IterOptions{UpperBound: kv.PrefixUpperBound(prefix)}
	if len(prefix) > 0 {
		opts.LowerBound = prefix
	}
	iter, err := r.r.NewIter(opts)
	if err != nil {
		return err
	}
	defer func() { _ = iter.Close() }()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			if errors.Is(err, ErrStopScan) {
				return nil
			}
			return err
		}
	}
	return iter.Error()
}

type pebbleTxn struct {
	pebbleReader
	batch *pebble.Batch
}

func (t pebbleTxn) Set(key, val []byte) error {
	return t.batch.Set(key, val, nil)
}

func (t pebbleTxn) Delete(key []byte) error {
	return t.batch.Delete(key, nil)
}

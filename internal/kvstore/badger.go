package kvstore

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// BadgerDB is a DB backed by Badger's managed transactions.
type BadgerDB struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a Badger store in dir.
func OpenBadger(dir string, noSync bool) (*BadgerDB, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	opts.SyncWrites = !noSync
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerDB{db: db}, nil
}

func (b *BadgerDB) View(fn func(r Reader) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		return fn(badgerTxn{txn: txn})
	})
}

func (b *BadgerDB) Update(fn func(txn Txn) error) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return fn(badgerTxn{txn: txn})
	})
}

func (b *BadgerDB) Close() error {
	return b.db.Close()
}

type badgerTxn struct {
	txn *badger.Txn
}

func (t badgerTxn) Get(key []byte) ([]byte, error) {
	item, err := t.txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (t badgerTxn) Scan(prefix []byte, fn func(key, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		err := item.Value(func(v []byte) error {
			return fn(item.Key(), v)
		})
		if err != nil {
			if errors.Is(err, ErrStopScan) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (t badgerTxn) Set(key, val []byte) error {
	// Badger keeps references to the slices until commit.
	return t.txn.Set(append([]byte(nil), key...), append([]byte(nil), val...))
}

func (t badgerTxn) Delete(key []byte) error {
	return t.txn.Delete(append([]byte(nil), key...))
}

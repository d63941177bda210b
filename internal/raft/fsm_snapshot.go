package raft

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hashicorp/raft"

	"github.com/user/polld/internal/kvstore"
)

// snapshotMagic starts every snapshot stream.
const snapshotMagic = "POLLSNAP1\n"

type kvPair struct {
	key, val []byte
}

// fsmSnapshot implements raft.FSMSnapshot.
type fsmSnapshot struct {
	pairs []kvPair
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	if err := writeSnapshot(sink, s.pairs); err != nil {
		_ = sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}

func dumpPairs(db kvstore.DB) ([]kvPair, error) {
	var pairs []kvPair
	err := db.View(func(r kvstore.Reader) error {
		return r.Scan(nil, func(k, v []byte) error {
			pairs = append(pairs, kvPair{
				key: append([]byte(nil), k...),
				val: append([]byte(nil), v...),
			})
			return nil
		})
	})
	return pairs, err
}

// writeSnapshot writes pairs as a gzip stream of length-prefixed records.
func writeSnapshot(w io.Writer, pairs []kvPair) error {
	gzw := gzip.NewWriter(w)
	bw := bufio.NewWriter(gzw)
	if _, err := bw.WriteString(snapshotMagic); err != nil {
		return err
	}
	var lenBuf [binary.MaxVarintLen64]byte
	writeChunk := func(b []byte) error {
		n := binary.PutUvarint(lenBuf[:], uint64(len(b)))
		if _, err := bw.Write(lenBuf[:n]); err != nil {
			return err
		}
		_, err := bw.Write(b)
		return err
	}
	for _, p := range pairs {
		if err := writeChunk(p.key); err != nil {
			return fmt.Errorf("write snapshot key: %w", err)
		}
		if err := writeChunk(p.val); err != nil {
			return fmt.Errorf("write snapshot value: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return gzw.Close()
}

func readSnapshot(r io.Reader) ([]kvPair, error) {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer gzr.Close()
	br := bufio.NewReader(gzr)

	magic := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, fmt.Errorf("read snapshot header: %w", err)
	}
	if string(magic) != snapshotMagic {
		return nil, fmt.Errorf("unrecognized snapshot header %q", magic)
	}

	readChunk := func() ([]byte, error) {
		n, err := binary.ReadUvarint(br)
		if err != nil {
			return nil, err
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(br, b); err != nil {
			return nil, err
		}
		return b, nil
	}

	var pairs []kvPair
	for {
		k, err := readChunk()
		if errors.Is(err, io.EOF) {
			return pairs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read snapshot key: %w", err)
		}
		v, err := readChunk()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("read snapshot value: %w", err)
		}
		pairs = append(pairs, kvPair{key: k, val: v})
	}
}

// restoreFromSnapshot replaces the contents of db with the snapshot in r.
func restoreFromSnapshot(db kvstore.DB, r io.Reader) (int, error) {
	pairs, err := readSnapshot(r)
	if err != nil {
		return 0, err
	}
	err = db.Update(func(txn kvstore.Txn) error {
		if err := kvstore.Clear(txn); err != nil {
			return fmt.Errorf("clear store: %w", err)
		}
		for _, p := range pairs {
			if err := txn.Set(p.key, p.val); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(pairs), nil
}

package raft

import (
	"errors"
	"testing"
	"time"

	"github.com/hashicorp/raft"

	"github.com/user/polld/internal/kvstore"
)

func TestKVRaftStore(t *testing.T) {
	for _, backend := range []string{"pebble", "badger", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			dir := t.TempDir()
			db, err := kvstore.Open(kvstore.Config{Backend: backend, Dir: dir})
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			s, err := newKVRaftStore(db)
			if err != nil {
				t.Fatalf("newKVRaftStore: %v", err)
			}

			if first, _ := s.FirstIndex(); first != 0 {
				t.Errorf("empty FirstIndex = %d", first)
			}
			var logs []*raft.Log
			for i := uint64(1); i <= 5; i++ {
				logs = append(logs, &raft.Log{
					Index:      i,
					Term:       1,
					Type:       raft.LogCommand,
					Data:       []byte{byte(i)},
					AppendedAt: time.Unix(0, int64(i)*1000),
				})
			}
			if err := s.StoreLogs(logs); err != nil {
				t.Fatalf("StoreLogs: %v", err)
			}
			first, _ := s.FirstIndex()
			last, _ := s.LastIndex()
			if first != 1 || last != 5 {
				t.Errorf("bounds = %d..%d, want 1..5", first, last)
			}

			var got raft.Log
			if err := s.GetLog(3, &got); err != nil {
				t.Fatalf("GetLog: %v", err)
			}
			if got.Index != 3 || got.Term != 1 || got.Type != raft.LogCommand || got.Data[0] != 3 || got.AppendedAt.UnixNano() != 3000 {
				t.Errorf("log 3 = %+v", got)
			}
			if err := s.GetLog(99, &got); !errors.Is(err, raft.ErrLogNotFound) {
				t.Errorf("GetLog(99) = %v, want ErrLogNotFound", err)
			}

			if err := s.DeleteRange(1, 2); err != nil {
				t.Fatalf("DeleteRange: %v", err)
			}
			first, _ = s.FirstIndex()
			if first != 3 {
				t.Errorf("FirstIndex after delete = %d, want 3", first)
			}

			if err := s.SetUint64([]byte("CurrentTerm"), 7); err != nil {
				t.Fatalf("SetUint64: %v", err)
			}
			if v, err := s.GetUint64([]byte("CurrentTerm")); err != nil || v != 7 {
				t.Errorf("GetUint64 = %d, %v", v, err)
			}
			if v, err := s.Get([]byte("missing")); err != nil || len(v) != 0 {
				t.Errorf("Get(missing) = %v, %v", v, err)
			}
			if err := s.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			// Bounds are recovered from disk.
			db, err = kvstore.Open(kvstore.Config{Backend: backend, Dir: dir})
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			s, err = newKVRaftStore(db)
			if err != nil {
				t.Fatalf("newKVRaftStore: %v", err)
			}
			defer s.Close()
			first, _ = s.FirstIndex()
			last, _ = s.LastIndex()
			if first != 3 || last != 5 {
				t.Errorf("reopened bounds = %d..%d, want 3..5", first, last)
			}
		})
	}
}

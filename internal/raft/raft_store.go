package raft

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb/v2"

	"github.com/user/polld/internal/kvstore"
)

type raftStore interface {
	raft.LogStore
	raft.StableStore
	io.Closer
}

// openRaftStore opens the Raft log and stable store. "bolt" uses
// raft-boltdb; every other value names a kvstore backend.
func openRaftStore(raftDir string, cfg ClusterConfig) (raftStore, error) {
	switch cfg.RaftStore {
	case "bolt":
		store, err := raftboltdb.New(raftboltdb.Options{
			Path:   filepath.Join(raftDir, "raft.db"),
			NoSync: cfg.RaftNoSync,
		})
		if err != nil {
			return nil, fmt.Errorf("create bolt raft store: %w", err)
		}
		return store, nil
	case "pebble", "badger", "sqlite":
		db, err := kvstore.Open(kvstore.Config{Backend: cfg.RaftStore, Dir: raftDir, NoSync: cfg.RaftNoSync})
		if err != nil {
			return nil, fmt.Errorf("create %s raft store: %w", cfg.RaftStore, err)
		}
		store, err := newKVRaftStore(db)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create %s raft store: %w", cfg.RaftStore, err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported raft store %q (expected bolt, badger, pebble, or sqlite)", cfg.RaftStore)
	}
}

package raft

import (
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/hashicorp/raft"

	"github.com/user/polld/internal/engine"
	"github.com/user/polld/internal/kvstore"
	"github.com/user/polld/internal/store"
)

// FSM implements the raft.FSM interface. Each log entry is one command,
// applied inside one KV transaction that commits only if the command
// succeeds.
type FSM struct {
	db          kvstore.DB
	engine      *engine.Engine
	lastApplied atomic.Uint64
	applied     atomic.Uint64
	rejected    atomic.Uint64
}

// NewFSM creates a new FSM over db.
func NewFSM(db kvstore.DB, eng *engine.Engine) *FSM {
	if eng == nil {
		eng = engine.New()
	}
	return &FSM{db: db, engine: eng}
}

// Apply implements raft.FSM.
func (f *FSM) Apply(log *raft.Log) interface{} {
	f.lastApplied.Store(log.Index)
	op, err := store.DecodeOp(log.Data)
	if err != nil {
		f.rejected.Add(1)
		slog.Error("fsm decode failed", "index", log.Index, "error", err)
		return &store.OpResult{Err: fmt.Errorf("decode op: %w", err)}
	}
	res := f.applyOp(op)
	if res.Err != nil {
		f.rejected.Add(1)
		if _, ok := engine.CodeOf(res.Err); !ok {
			slog.Error("fsm apply failed", "op", op.Type.String(), "index", log.Index, "error", res.Err)
		}
	} else {
		f.applied.Add(1)
	}
	return res
}

func (f *FSM) applyOp(op store.Op) *store.OpResult {
	switch op.Type {
	case store.OpInstantiate:
		return f.applyInstantiate(op.Data)
	case store.OpCreatePoll:
		return f.applyCreatePoll(op.Data)
	case store.OpVote:
		return f.applyVote(op.Data)
	default:
		return &store.OpResult{Err: fmt.Errorf("unknown op type: %d", op.Type)}
	}
}

// Snapshot implements raft.FSM. The snapshot holds a copy of every key so
// Persist can run while later entries are applied.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	pairs, err := dumpPairs(f.db)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return &fsmSnapshot{pairs: pairs}, nil
}

// Restore implements raft.FSM. It replaces the whole store with the
// snapshot contents.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	n, err := restoreFromSnapshot(f.db, rc)
	if err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	slog.Info("fsm restored from snapshot", "keys", n)
	return nil
}

// DB returns the KV store the FSM writes to.
func (f *FSM) DB() kvstore.DB {
	return f.db
}

// Stats reports apply counters.
func (f *FSM) Stats() map[string]uint64 {
	return map[string]uint64{
		"last_applied_index": f.lastApplied.Load(),
		"applied_total":      f.applied.Load(),
		"rejected_total":     f.rejected.Load(),
	}
}

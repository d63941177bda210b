package raft

import (
	"sync"

	hashraft "github.com/hashicorp/raft"

	"github.com/user/polld/internal/engine"
	"github.com/user/polld/internal/kvstore"
	"github.com/user/polld/internal/store"
)

// DirectApplier applies operations directly through the FSM without Raft networking.
// Useful for testing and single-node non-HA operation.
type DirectApplier struct {
	mu    sync.Mutex
	fsm   *FSM
	db    kvstore.DB
	index uint64
}

// NewDirectApplier opens the configured KV backend and wraps it in an FSM.
func NewDirectApplier(cfg kvstore.Config, eng *engine.Engine) (*DirectApplier, error) {
	db, err := kvstore.Open(cfg)
	if err != nil {
		return nil, err
	}
	return NewDirectApplierDB(db, eng), nil
}

// NewDirectApplierDB uses an already opened store. Close closes it.
func NewDirectApplierDB(db kvstore.DB, eng *engine.Engine) *DirectApplier {
	return &DirectApplier{fsm: NewFSM(db, eng), db: db}
}

// Apply implements store.Applier. Calls are serialized.
func (d *DirectApplier) Apply(opType store.OpType, data any) *store.OpResult {
	opBytes, err := store.MarshalOp(opType, data)
	if err != nil {
		return &store.OpResult{Err: err}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.index++
	result := d.fsm.Apply(&hashraft.Log{Index: d.index, Type: hashraft.LogCommand, Data: opBytes})
	return result.(*store.OpResult)
}

// DB returns the KV store for read access.
func (d *DirectApplier) DB() kvstore.DB {
	return d.db
}

// FSM returns the underlying state machine.
func (d *DirectApplier) FSM() *FSM {
	return d.fsm
}

func (d *DirectApplier) Close() error {
	return d.db.Close()
}

package raft

import (
	"encoding/json"
	"fmt"

	"github.com/user/polld/internal/engine"
	"github.com/user/polld/internal/kvstore"
	"github.com/user/polld/internal/state"
	"github.com/user/polld/internal/store"
)

func (f *FSM) applyInstantiate(data json.RawMessage) *store.OpResult {
	var op store.InstantiateOp
	if err := json.Unmarshal(data, &op); err != nil {
		return &store.OpResult{Err: fmt.Errorf("decode instantiate op: %w", err)}
	}
	env := engine.Env{Sender: op.Sender}
	return f.execute(op.OpMeta, func(txn kvstore.Txn) (*engine.Response, error) {
		return f.engine.Instantiate(txn, env, op.InstantiateMsg)
	})
}

func (f *FSM) applyCreatePoll(data json.RawMessage) *store.OpResult {
	var op store.CreatePollOp
	if err := json.Unmarshal(data, &op); err != nil {
		return &store.OpResult{Err: fmt.Errorf("decode create poll op: %w", err)}
	}
	env := engine.Env{Sender: op.Sender}
	return f.execute(op.OpMeta, func(txn kvstore.Txn) (*engine.Response, error) {
		return f.engine.CreatePoll(txn, env, op.CreatePollMsg)
	})
}

func (f *FSM) applyVote(data json.RawMessage) *store.OpResult {
	var op store.VoteOp
	if err := json.Unmarshal(data, &op); err != nil {
		return &store.OpResult{Err: fmt.Errorf("decode vote op: %w", err)}
	}
	env := engine.Env{Sender: op.Sender}
	return f.execute(op.OpMeta, func(txn kvstore.Txn) (*engine.Response, error) {
		return f.engine.Vote(txn, env, op.VoteMsg)
	})
}

// execute runs fn in one transaction and appends the audit event for its
// response. Nothing is written when fn fails.
func (f *FSM) execute(meta store.OpMeta, fn func(kvstore.Txn) (*engine.Response, error)) *store.OpResult {
	var resp *engine.Response
	err := f.db.Update(func(txn kvstore.Txn) error {
		r, err := fn(txn)
		if err != nil {
			return err
		}
		ev := state.Event{
			ID:     meta.EventID,
			Action: r.Action(),
			Sender: meta.Sender,
			AtNs:   meta.NowNs,
		}
		if len(r.Attributes) > 1 {
			ev.Attributes = r.Attributes[1:]
		}
		if _, err := state.AppendEvent(txn, ev); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		resp = r
		return nil
	})
	if err != nil {
		return &store.OpResult{Err: err}
	}
	return &store.OpResult{Data: resp}
}

package store

import (
	"encoding/json"
	"fmt"

	"github.com/user/polld/internal/engine"
)

// OpType identifies the Raft log operation.
type OpType uint8

const (
	OpInstantiate OpType = 1
	OpCreatePoll  OpType = 2
	OpVote        OpType = 3
)

func (t OpType) String() string {
	switch t {
	case OpInstantiate:
		return "instantiate"
	case OpCreatePoll:
		return "create_poll"
	case OpVote:
		return "vote"
	default:
		return fmt.Sprintf("op(%d)", uint8(t))
	}
}

// Op is the Raft log entry payload.
type Op struct {
	Type OpType          `json:"t"`
	Data json.RawMessage `json:"d"`
}

// OpResult wraps the result of an FSM Apply. Data is an *engine.Response
// for every successful command.
type OpResult struct {
	Data any
	Err  error
}

// Applier submits operations to the command executor.
type Applier interface {
	Apply(opType OpType, data any) *OpResult
}

// MarshalOp creates a serialized Op from type and data.
func MarshalOp(opType OpType, data any) ([]byte, error) {
	op, err := BuildOp(opType, data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(op)
}

// BuildOp creates an Op envelope from type and payload.
func BuildOp(opType OpType, data any) (Op, error) {
	d, err := json.Marshal(data)
	if err != nil {
		return Op{}, err
	}
	return Op{Type: opType, Data: d}, nil
}

// DecodeOp decodes a Raft log entry produced by MarshalOp.
func DecodeOp(data []byte) (Op, error) {
	var op Op
	if err := json.Unmarshal(data, &op); err != nil {
		return Op{}, err
	}
	if op.Type == 0 {
		return Op{}, fmt.Errorf("missing op type")
	}
	return op, nil
}

// Pre-computed data structs for each operation.
// Event ids and timestamps are chosen by the submitting node so that every
// replica applies identical entries.

type OpMeta struct {
	Sender  string `json:"sender"`
	EventID string `json:"event_id"`
	NowNs   uint64 `json:"now_ns"`
}

type InstantiateOp struct {
	OpMeta
	engine.InstantiateMsg
}

type CreatePollOp struct {
	OpMeta
	engine.CreatePollMsg
}

type VoteOp struct {
	OpMeta
	engine.VoteMsg
}

package raft

import (
	"errors"
	"fmt"
	"sync"
	"time"

	oldproto "github.com/golang/protobuf/proto"
	"github.com/hashicorp/raft"

	"github.com/user/polld/internal/kv"
	"github.com/user/polld/internal/kvstore"
)

const (
	raftLogPrefix    = "l|"
	raftStablePrefix = "s|"

	// Keeps a single Badger transaction well under its size limit.
	raftDeleteBatch uint64 = 256
)

type pbRaftLog struct {
	Index        uint64 `protobuf:"varint,1,opt,name=index,proto3" json:"index,omitempty"`
	Term         uint64 `protobuf:"varint,2,opt,name=term,proto3" json:"term,omitempty"`
	Type         uint32 `protobuf:"varint,3,opt,name=type,proto3" json:"type,omitempty"`
	Data         []byte `protobuf:"bytes,4,opt,name=data,proto3" json:"data,omitempty"`
	Extensions   []byte `protobuf:"bytes,5,opt,name=extensions,proto3" json:"extensions,omitempty"`
	AppendedAtNs int64  `protobuf:"varint,6,opt,name=appended_at_ns,proto3" json:"appended_at_ns,omitempty"`
}

func (m *pbRaftLog) Reset()         { *m = pbRaftLog{} }
func (m *pbRaftLog) String() string { return oldproto.CompactTextString(m) }
func (*pbRaftLog) ProtoMessage()    {}

func encodeRaftLog(l *raft.Log) ([]byte, error) {
	doc := &pbRaftLog{
		Index:      l.Index,
		Term:       l.Term,
		Type:       uint32(l.Type),
		Data:       l.Data,
		Extensions: l.Extensions,
	}
	if !l.AppendedAt.IsZero() {
		doc.AppendedAtNs = l.AppendedAt.UnixNano()
	}
	return oldproto.Marshal(doc)
}

func decodeRaftLog(data []byte) (raft.Log, error) {
	var doc pbRaftLog
	if err := oldproto.Unmarshal(data, &doc); err != nil {
		return raft.Log{}, fmt.Errorf("decode raft log: %w", err)
	}
	l := raft.Log{
		Index:      doc.Index,
		Term:       doc.Term,
		Type:       raft.LogType(doc.Type),
		Data:       doc.Data,
		Extensions: doc.Extensions,
	}
	if doc.AppendedAtNs != 0 {
		l.AppendedAt = time.Unix(0, doc.AppendedAtNs)
	}
	return l, nil
}

func raftLogKey(index uint64) []byte {
	return kv.AppendUint64([]byte(raftLogPrefix), index)
}

func raftIndexFromKey(k []byte) (uint64, bool) {
	return kv.Uint64(k[len(raftLogPrefix):])
}

func raftStableKey(key []byte) []byte {
	return append([]byte(raftStablePrefix), key...)
}

// kvRaftStore keeps Raft logs and stable values in a kvstore backend.
// The first and last log indexes are tracked in memory after an initial
// scan, since the store only supports forward prefix scans.
type kvRaftStore struct {
	db kvstore.DB

	mu    sync.RWMutex
	first uint64
	last  uint64
}

func newKVRaftStore(db kvstore.DB) (*kvRaftStore, error) {
	s := &kvRaftStore{db: db}
	if err := s.loadBounds(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *kvRaftStore) loadBounds() error {
	var first, last uint64
	err := s.db.View(func(r kvstore.Reader) error {
		return r.Scan([]byte(raftLogPrefix), func(k, _ []byte) error {
			idx, ok := raftIndexFromKey(k)
			if !ok {
				return nil
			}
			if first == 0 {
				first = idx
			}
			last = idx
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("scan raft log: %w", err)
	}
	s.mu.Lock()
	s.first, s.last = first, last
	s.mu.Unlock()
	return nil
}

func (s *kvRaftStore) Close() error {
	return s.db.Close()
}

func (s *kvRaftStore) FirstIndex() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.first, nil
}

func (s *kvRaftStore) LastIndex() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, nil
}

func (s *kvRaftStore) GetLog(index uint64, out *raft.Log) error {
	return s.db.View(func(r kvstore.Reader) error {
		v, err := r.Get(raftLogKey(index))
		if err != nil {
			if errors.Is(err, kvstore.ErrNotFound) {
				return raft.ErrLogNotFound
			}
			return err
		}
		l, err := decodeRaftLog(v)
		if err != nil {
			return err
		}
		*out = l
		return nil
	})
}

func (s *kvRaftStore) StoreLog(log *raft.Log) error {
	return s.StoreLogs([]*raft.Log{log})
}

func (s *kvRaftStore) StoreLogs(logs []*raft.Log) error {
	if len(logs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.Update(func(txn kvstore.Txn) error {
		for _, l := range logs {
			enc, err := encodeRaftLog(l)
			if err != nil {
				return err
			}
			if err := txn.Set(raftLogKey(l.Index), enc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, l := range logs {
		if s.first == 0 || l.Index < s.first {
			s.first = l.Index
		}
		if l.Index > s.last {
			s.last = l.Index
		}
	}
	return nil
}

func (s *kvRaftStore) DeleteRange(min, max uint64) error {
	if min > max {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for start := min; start <= max; start += raftDeleteBatch {
		end := start + raftDeleteBatch - 1
		if end > max || end < start {
			end = max
		}
		if err := s.db.Update(func(txn kvstore.Txn) error {
			for i := start; i <= end; i++ {
				if err := txn.Delete(raftLogKey(i)); err != nil {
					return err
				}
				if i == ^uint64(0) {
					break
				}
			}
			return nil
		}); err != nil {
			return err
		}
		if end == max {
			break
		}
	}

	switch {
	case min <= s.first && max >= s.last:
		s.first, s.last = 0, 0
	case min <= s.first:
		s.first = max + 1
	case max >= s.last:
		s.last = min - 1
	}
	return nil
}

func (s *kvRaftStore) Set(key []byte, val []byte) error {
	return s.db.Update(func(txn kvstore.Txn) error {
		return txn.Set(raftStableKey(key), val)
	})
}

// Get returns an empty value for missing keys, as raft expects.
func (s *kvRaftStore) Get(key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(r kvstore.Reader) error {
		v, err := r.Get(raftStableKey(key))
		if err != nil {
			if errors.Is(err, kvstore.ErrNotFound) {
				out = []byte{}
				return nil
			}
			return err
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

func (s *kvRaftStore) SetUint64(key []byte, val uint64) error {
	return s.Set(key, kv.AppendUint64(nil, val))
}

func (s *kvRaftStore) GetUint64(key []byte) (uint64, error) {
	v, err := s.Get(key)
	if err != nil {
		return 0, err
	}
	if len(v) == 0 {
		return 0, nil
	}
	n, ok := kv.Uint64(v)
	if !ok {
		return 0, fmt.Errorf("bad stable uint64 length: %d", len(v))
	}
	return n, nil
}

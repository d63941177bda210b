// Package state holds typed accessors over the ordered key-value store.
// Every function takes the store handle explicitly; the package keeps no
// state of its own.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"iter"

	"github.com/user/polld/internal/kv"
	"github.com/user/polld/internal/kvstore"
)

// ErrConfigNotFound is returned by LoadConfig before instantiation.
var ErrConfigNotFound = errors.New("config not found")

// LoadConfig reads the config singleton.
func LoadConfig(r kvstore.Reader) (Config, error) {
	var cfg Config
	val, err := r.Get(kv.ConfigKey())
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return cfg, ErrConfigNotFound
		}
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if err := decodeConfig(val, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the config singleton.
func SaveConfig(w kvstore.Txn, cfg Config) error {
	data, err := encodeConfig(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return w.Set(kv.ConfigKey(), data)
}

// LoadContractInfo reads the name/version recorded at instantiation.
func LoadContractInfo(r kvstore.Reader) (ContractInfo, error) {
	var info ContractInfo
	val, err := r.Get(kv.ContractInfoKey())
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return info, ErrConfigNotFound
		}
		return info, fmt.Errorf("load contract info: %w", err)
	}
	if err := json.Unmarshal(val, &info); err != nil {
		return info, fmt.Errorf("decode contract info: %w", err)
	}
	return info, nil
}

// SaveContractInfo records the name/version of the service.
func SaveContractInfo(w kvstore.Txn, info ContractInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode contract info: %w", err)
	}
	return w.Set(kv.ContractInfoKey(), data)
}

// LoadPoll returns the poll stored under pollID, or nil if there is none.
func LoadPoll(r kvstore.Reader, pollID string) (*Poll, error) {
	val, err := r.Get(kv.PollKey(pollID))
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load poll %q: %w", pollID, err)
	}
	var p Poll
	if err := decodePoll(val, &p); err != nil {
		return nil, fmt.Errorf("decode poll %q: %w", pollID, err)
	}
	return &p, nil
}

// SavePoll writes poll under pollID, replacing any existing poll.
func SavePoll(w kvstore.Txn, pollID string, poll Poll) error {
	data, err := encodePoll(poll)
	if err != nil {
		return fmt.Errorf("encode poll %q: %w", pollID, err)
	}
	return w.Set(kv.PollKey(pollID), data)
}

// LoadBallot returns voter's ballot for pollID, or nil if there is none.
func LoadBallot(r kvstore.Reader, voter, pollID string) (*Ballot, error) {
	val, err := r.Get(kv.BallotKey(voter, pollID))
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load ballot: %w", err)
	}
	var b Ballot
	if err := decodeBallot(val, &b); err != nil {
		return nil, fmt.Errorf("decode ballot: %w", err)
	}
	return &b, nil
}

// SaveBallot writes voter's ballot for pollID.
func SaveBallot(w kvstore.Txn, voter, pollID string, ballot Ballot) error {
	data, err := encodeBallot(ballot)
	if err != nil {
		return fmt.Errorf("encode ballot: %w", err)
	}
	return w.Set(kv.BallotKey(voter, pollID), data)
}

// ListPolls yields every poll in ascending key order. Each range over the
// returned sequence starts a fresh scan of r, so it can be consumed more
// than once while r is open. A decode or scan failure is yielded as the
// final element.
func ListPolls(r kvstore.Reader) iter.Seq2[PollEntry, error] {
	return func(yield func(PollEntry, error) bool) {
		err := r.Scan(kv.PollPrefix(), func(k, v []byte) error {
			id, _ := kv.PollIDFromKey(k)
			var p Poll
			if err := decodePoll(v, &p); err != nil {
				return fmt.Errorf("decode poll %q: %w", id, err)
			}
			if !yield(PollEntry{ID: id, Poll: p}, nil) {
				return kvstore.ErrStopScan
			}
			return nil
		})
		if err != nil {
			yield(PollEntry{}, err)
		}
	}
}

package state

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/user/polld/internal/kv"
	"github.com/user/polld/internal/kvstore"
)

// LoadEventCursor returns the sequence of the last appended event.
func LoadEventCursor(r kvstore.Reader) (uint64, error) {
	val, err := r.Get(kv.EventCursorKey())
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	seq, ok := kv.Uint64(val)
	if !ok {
		return 0, fmt.Errorf("corrupt event cursor (%d bytes)", len(val))
	}
	return seq, nil
}

// AppendEvent assigns ev the next sequence number and writes it together
// with the advanced cursor.
func AppendEvent(w kvstore.Txn, ev Event) (Event, error) {
	seq, err := LoadEventCursor(w)
	if err != nil {
		return ev, fmt.Errorf("load event cursor: %w", err)
	}
	ev.Seq = seq + 1
	data, err := json.Marshal(ev)
	if err != nil {
		return ev, fmt.Errorf("marshal event: %w", err)
	}
	if err := w.Set(kv.EventLogKey(ev.Seq), data); err != nil {
		return ev, fmt.Errorf("set event log key: %w", err)
	}
	if err := w.Set(kv.EventCursorKey(), kv.AppendUint64(nil, ev.Seq)); err != nil {
		return ev, fmt.Errorf("set event cursor: %w", err)
	}
	return ev, nil
}

// ListEvents returns up to limit events with a sequence greater than afterSeq.
func ListEvents(r kvstore.Reader, afterSeq uint64, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	out := make([]Event, 0, limit)
	err := r.Scan(kv.EventLogPrefix(), func(k, v []byte) error {
		seq, ok := kv.EventSeqFromKey(k)
		if !ok || seq <= afterSeq {
			return nil
		}
		var ev Event
		if err := json.Unmarshal(v, &ev); err != nil {
			return fmt.Errorf("decode event %d: %w", seq, err)
		}
		out = append(out, ev)
		if len(out) >= limit {
			return kvstore.ErrStopScan
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

package raft

import (
	"bytes"
	"errors"
	"io"
	"testing"

	hashraft "github.com/hashicorp/raft"

	"github.com/user/polld/internal/engine"
	"github.com/user/polld/internal/kvstore"
	"github.com/user/polld/internal/state"
	"github.com/user/polld/internal/store"
)

func testApplier(t *testing.T, backend string) *DirectApplier {
	t.Helper()
	da, err := NewDirectApplier(kvstore.Config{Backend: backend, Dir: t.TempDir()}, engine.New())
	if err != nil {
		t.Fatalf("NewDirectApplier(%s): %v", backend, err)
	}
	t.Cleanup(func() { _ = da.Close() })
	return da
}

func meta(sender, id string) store.OpMeta {
	return store.OpMeta{Sender: sender, EventID: id, NowNs: 42}
}

func mustApply(t *testing.T, a store.Applier, opType store.OpType, data any) *engine.Response {
	t.Helper()
	res := a.Apply(opType, data)
	if res.Err != nil {
		t.Fatalf("apply %s: %v", opType, res.Err)
	}
	resp, ok := res.Data.(*engine.Response)
	if !ok {
		t.Fatalf("apply %s: data = %T", opType, res.Data)
	}
	return resp
}

func seedScenario(t *testing.T, a store.Applier) {
	t.Helper()
	mustApply(t, a, store.OpInstantiate, store.InstantiateOp{OpMeta: meta("addr1", "e1")})
	mustApply(t, a, store.OpCreatePoll, store.CreatePollOp{
		OpMeta:        meta("addr1", "e2"),
		CreatePollMsg: engine.CreatePollMsg{PollID: "1", Question: "Ship it?", Options: []string{"Yes", "No"}},
	})
	mustApply(t, a, store.OpVote, store.VoteOp{OpMeta: meta("addr1", "e3"), VoteMsg: engine.VoteMsg{PollID: "1", Vote: "No"}})
	mustApply(t, a, store.OpVote, store.VoteOp{OpMeta: meta("addr1", "e4"), VoteMsg: engine.VoteMsg{PollID: "1", Vote: "Yes"}})
}

func readPoll(t *testing.T, db kvstore.DB, id string) *state.Poll {
	t.Helper()
	var p *state.Poll
	if err := db.View(func(r kvstore.Reader) error {
		var err error
		p, err = state.LoadPoll(r, id)
		return err
	}); err != nil {
		t.Fatalf("LoadPoll: %v", err)
	}
	return p
}

func TestDirectApplierScenarioAllBackends(t *testing.T) {
	for _, backend := range []string{"pebble", "badger", "sqlite", "memory"} {
		t.Run(backend, func(t *testing.T) {
			da := testApplier(t, backend)
			seedScenario(t, da)

			p := readPoll(t, da.DB(), "1")
			if p == nil {
				t.Fatal("poll 1 missing")
			}
			if p.Options[0] != (state.PollOption{Label: "Yes", Votes: 1}) ||
				p.Options[1] != (state.PollOption{Label: "No", Votes: 0}) {
				t.Fatalf("options = %+v", p.Options)
			}
		})
	}
}

func TestFSMAppendsOneEventPerCommand(t *testing.T) {
	da := testApplier(t, "memory")
	seedScenario(t, da)

	// Rejected commands leave no event.
	res := da.Apply(store.OpVote, store.VoteOp{OpMeta: meta("addr2", "e5"), VoteMsg: engine.VoteMsg{PollID: "nope", Vote: "Yes"}})
	if !errors.Is(res.Err, engine.ErrPollNotFound) {
		t.Fatalf("vote on missing poll: err = %v", res.Err)
	}

	var evs []state.Event
	_ = da.DB().View(func(r kvstore.Reader) error {
		var err error
		evs, err = state.ListEvents(r, 0, 100)
		return err
	})
	if len(evs) != 4 {
		t.Fatalf("events = %d, want 4", len(evs))
	}
	wantActions := []string{engine.ActionInstantiate, engine.ActionCreatePoll, engine.ActionVote, engine.ActionVote}
	for i, ev := range evs {
		if ev.Seq != uint64(i+1) || ev.Action != wantActions[i] || ev.Sender != "addr1" || ev.AtNs != 42 {
			t.Errorf("event[%d] = %+v", i, ev)
		}
	}
	if evs[0].ID != "e1" {
		t.Errorf("event id = %q, want e1", evs[0].ID)
	}
	if len(evs[0].Attributes) != 1 || evs[0].Attributes[0] != (state.Attribute{Key: "admin", Value: "addr1"}) {
		t.Errorf("instantiate attributes = %+v", evs[0].Attributes)
	}
}

func TestFSMFailedVoteWritesNothing(t *testing.T) {
	da := testApplier(t, "memory")
	seedScenario(t, da)

	res := da.Apply(store.OpVote, store.VoteOp{OpMeta: meta("addr1", "x"), VoteMsg: engine.VoteMsg{PollID: "1", Vote: "Maybe"}})
	if !errors.Is(res.Err, engine.ErrOptionNotFound) {
		t.Fatalf("err = %v, want option not found", res.Err)
	}
	p := readPoll(t, da.DB(), "1")
	if p.TotalVotes() != 1 || p.Options[0].Votes != 1 {
		t.Errorf("poll changed after failed vote: %+v", p.Options)
	}
	_ = da.DB().View(func(r kvstore.Reader) error {
		b, _ := state.LoadBallot(r, "addr1", "1")
		if b == nil || b.Option != "Yes" {
			t.Errorf("ballot = %+v, want Yes", b)
		}
		return nil
	})
}

func TestFSMRejectsBadEntries(t *testing.T) {
	fsm := NewFSM(testApplier(t, "memory").DB(), nil)

	res := fsm.Apply(&hashraft.Log{Data: []byte("garbage")}).(*store.OpResult)
	if res.Err == nil {
		t.Error("expected decode error")
	}
	data, _ := store.MarshalOp(store.OpType(99), struct{}{})
	res = fsm.Apply(&hashraft.Log{Data: data}).(*store.OpResult)
	if res.Err == nil {
		t.Error("expected unknown op error")
	}
	if got := fsm.Stats()["rejected_total"]; got != 2 {
		t.Errorf("rejected_total = %d, want 2", got)
	}
}

type bufferSink struct {
	bytes.Buffer
	cancelled bool
}

func (s *bufferSink) ID() string    { return "test" }
func (s *bufferSink) Cancel() error { s.cancelled = true; return nil }
func (s *bufferSink) Close() error  { return nil }

func TestFSMSnapshotRestore(t *testing.T) {
	src := testApplier(t, "pebble")
	seedScenario(t, src)

	snap, err := src.FSM().Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	var sink bufferSink
	if err := snap.Persist(&sink); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	snap.Release()

	for _, backend := range []string{"badger", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			dst := testApplier(t, backend)
			// Stale state must be replaced, not merged.
			mustApply(t, dst, store.OpCreatePoll, store.CreatePollOp{
				OpMeta:        meta("addr9", "z"),
				CreatePollMsg: engine.CreatePollMsg{PollID: "stale", Options: []string{"a"}},
			})

			if err := dst.FSM().Restore(io.NopCloser(bytes.NewReader(sink.Bytes()))); err != nil {
				t.Fatalf("Restore: %v", err)
			}
			if readPoll(t, dst.DB(), "stale") != nil {
				t.Error("stale poll survived restore")
			}
			p := readPoll(t, dst.DB(), "1")
			if p == nil || p.Options[0].Votes != 1 {
				t.Fatalf("restored poll = %+v", p)
			}
			_ = dst.DB().View(func(r kvstore.Reader) error {
				cursor, _ := state.LoadEventCursor(r)
				if cursor != 4 {
					t.Errorf("event cursor = %d, want 4", cursor)
				}
				return nil
			})

			// Sequencing continues from the restored cursor.
			mustApply(t, dst, store.OpVote, store.VoteOp{OpMeta: meta("addr2", "e5"), VoteMsg: engine.VoteMsg{PollID: "1", Vote: "No"}})
			_ = dst.DB().View(func(r kvstore.Reader) error {
				evs, _ := state.ListEvents(r, 4, 10)
				if len(evs) != 1 || evs[0].Seq != 5 {
					t.Errorf("events after restore = %+v", evs)
				}
				return nil
			})
		})
	}
}

func TestReadSnapshotRejectsBadHeader(t *testing.T) {
	var buf bytes.Buffer
	if err := writeSnapshot(&buf, nil); err != nil {
		t.Fatalf("writeSnapshot: %v", err)
	}
	pairs, err := readSnapshot(bytes.NewReader(buf.Bytes()))
	if err != nil || len(pairs) != 0 {
		t.Fatalf("empty snapshot = %v, %v", pairs, err)
	}
	if _, err := readSnapshot(bytes.NewReader([]byte("not gzip"))); err == nil {
		t.Error("expected error for non-gzip input")
	}
}

package kv

import (
	"bytes"
	"testing"
)

func TestPollKeyRoundTrip(t *testing.T) {
	k := PollKey("poll-42")
	if string(k) != "p|poll-42" {
		t.Fatalf("got %q", string(k))
	}
	id, ok := PollIDFromKey(k)
	if !ok || id != "poll-42" {
		t.Errorf("poll id: got %q ok=%v", id, ok)
	}
	if _, ok := PollIDFromKey(BallotKey("addr1", "1")); ok {
		t.Error("ballot key should not parse as poll key")
	}
}

func TestPollKeySortOrder(t *testing.T) {
	k1 := PollKey("1")
	k2 := PollKey("2")
	k10 := PollKey("10")
	if bytes.Compare(k1, k2) >= 0 {
		t.Error("poll 1 should sort before poll 2")
	}
	// Poll ids are opaque strings: "10" sorts between "1" and "2".
	if bytes.Compare(k1, k10) >= 0 || bytes.Compare(k10, k2) >= 0 {
		t.Error("poll ids should sort lexicographically")
	}
}

func TestBallotKeyComposite(t *testing.T) {
	k := BallotKey("addr1", "poll-1")
	prefix := BallotVoterPrefix("addr1")
	if !bytes.HasPrefix(k, prefix) {
		t.Error("ballot key should start with voter prefix")
	}
	voter, pollID, ok := SplitBallotKey(k)
	if !ok {
		t.Fatal("SplitBallotKey failed")
	}
	if voter != "addr1" || pollID != "poll-1" {
		t.Errorf("got voter=%q poll=%q", voter, pollID)
	}

	// A voter whose id is a prefix of another's must not match.
	other := BallotKey("addr10", "poll-1")
	if bytes.HasPrefix(other, prefix) {
		t.Error("addr10 ballot should not match addr1 prefix")
	}
}

func TestBallotKeysDoNotOverlapPolls(t *testing.T) {
	upper := PrefixUpperBound(PollPrefix())
	b := BallotKey("p", "x")
	if bytes.Compare(b, PollPrefix()) >= 0 && bytes.Compare(b, upper) < 0 {
		t.Error("ballot key falls inside poll scan range")
	}
}

func TestEventLogKey(t *testing.T) {
	k1 := EventLogKey(1)
	k2 := EventLogKey(256)
	if bytes.Compare(k1, k2) >= 0 {
		t.Error("seq 1 should sort before seq 256")
	}
	seq, ok := EventSeqFromKey(k2)
	if !ok || seq != 256 {
		t.Errorf("seq: got %d ok=%v", seq, ok)
	}
	if _, ok := EventSeqFromKey(EventCursorKey()); ok {
		t.Error("cursor key should not parse as event key")
	}
}

func TestPrefixUpperBound(t *testing.T) {
	tests := []struct {
		prefix []byte
		want   []byte
	}{
		{[]byte("p|"), []byte("p}")},
		{[]byte{'a', 0xFF}, []byte{'b'}},
		{[]byte{0xFF, 0xFF}, nil},
		{nil, nil},
	}
	for _, tt := range tests {
		got := PrefixUpperBound(tt.prefix)
		if !bytes.Equal(got, tt.want) {
			t.Errorf("PrefixUpperBound(%q) = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}

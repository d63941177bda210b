package kv

import (
	"bytes"
	"testing"
)

func TestUint64RoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 7, 1<<32 - 1, 1 << 32, 1<<64 - 1} {
		b := AppendUint64([]byte("x"), v)
		got, ok := Uint64(b[1:])
		if !ok || got != v {
			t.Errorf("Uint64(AppendUint64(%d)) = %d, %v", v, got, ok)
		}
	}
	if _, ok := Uint64([]byte{1, 2, 3}); ok {
		t.Error("short input accepted")
	}
}

func TestSequenceKeysSortNumerically(t *testing.T) {
	seqs := []uint64{1, 2, 255, 256, 65535, 1 << 40}
	for i := 1; i < len(seqs); i++ {
		if bytes.Compare(EventLogKey(seqs[i-1]), EventLogKey(seqs[i])) >= 0 {
			t.Errorf("event %d does not sort before %d", seqs[i-1], seqs[i])
		}
	}
}

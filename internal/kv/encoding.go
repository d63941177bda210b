package kv

import "encoding/binary"

// AppendUint64 appends v big-endian so that sequence keys sort numerically.
func AppendUint64(dst []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(dst, v)
}

// Uint64 decodes an 8-byte big-endian value. Any other length is rejected.
func Uint64(b []byte) (uint64, bool) {
	if len(b) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(b), true
}

// PrefixUpperBound returns the smallest key greater than every key with the
// given prefix, for use as an exclusive iterator bound. A nil result means
// the scan is unbounded above.
func PrefixUpperBound(prefix []byte) []byte {
	for i := len(prefix) - 1; i >= 0; i-- {
		if prefix[i] < 0xFF {
			b := append([]byte(nil), prefix[:i+1]...)
			b[i]++
			return b
		}
	}
	return nil
}

package kv

import "bytes"

// Key prefixes. Each prefix ends with '|' as a separator.
const (
	KeyConfig       = "cfg|" // cfg| => poll service config
	KeyContractInfo = "ver|" // ver| => {name, version}
	PrefixPoll      = "p|"   // p|{poll_id}
	PrefixBallot    = "b|"   // b|{voter}\x00{poll_id}
	PrefixEventLog  = "ev|"  // ev|{seq:8BE}
	KeyEventCursor  = "evc|" // evc| => last event seq
)

const sep = '\x00'

// ConfigKey returns the key of the config singleton: cfg|
func ConfigKey() []byte {
	return []byte(KeyConfig)
}

// ContractInfoKey returns the key of the contract info singleton: ver|
func ContractInfoKey() []byte {
	return []byte(KeyContractInfo)
}

// PollKey returns the key for a poll: p|{poll_id}
func PollKey(pollID string) []byte {
	return append([]byte(PrefixPoll), pollID...)
}

// PollPrefix returns the scan prefix for all polls: p|
func PollPrefix() []byte {
	return []byte(PrefixPoll)
}

// PollIDFromKey extracts the poll id from a poll key.
func PollIDFromKey(k []byte) (string, bool) {
	if !bytes.HasPrefix(k, []byte(PrefixPoll)) {
		return "", false
	}
	return string(k[len(PrefixPoll):]), true
}

// BallotKey returns the key for a ballot: b|{voter}\x00{poll_id}
// Voter identities never contain \x00, so the separator keeps a voter's
// ballots contiguous and ordered by poll id.
func BallotKey(voter, pollID string) []byte {
	k := append([]byte(PrefixBallot), voter...)
	k = append(k, sep)
	return append(k, pollID...)
}

// BallotVoterPrefix returns the scan prefix for all ballots of a voter: b|{voter}\x00
func BallotVoterPrefix(voter string) []byte {
	k := append([]byte(PrefixBallot), voter...)
	return append(k, sep)
}

// SplitBallotKey returns the voter and poll id encoded in a ballot key.
func SplitBallotKey(k []byte) (voter, pollID string, ok bool) {
	if !bytes.HasPrefix(k, []byte(PrefixBallot)) {
		return "", "", false
	}
	rest := k[len(PrefixBallot):]
	i := bytes.IndexByte(rest, sep)
	if i < 0 {
		return "", "", false
	}
	return string(rest[:i]), string(rest[i+1:]), true
}

// EventLogKey returns the key for an append-only audit event: ev|{seq:8BE}
func EventLogKey(seq uint64) []byte {
	k := []byte(PrefixEventLog)
	return AppendUint64(k, seq)
}

// EventLogPrefix returns the scan prefix for all event log entries.
func EventLogPrefix() []byte {
	return []byte(PrefixEventLog)
}

// EventCursorKey returns the key for the current event cursor.
func EventCursorKey() []byte {
	return []byte(KeyEventCursor)
}

// EventSeqFromKey extracts sequence number from event-log key.
func EventSeqFromKey(k []byte) (uint64, bool) {
	if !bytes.HasPrefix(k, []byte(PrefixEventLog)) {
		return 0, false
	}
	return Uint64(k[len(PrefixEventLog):])
}

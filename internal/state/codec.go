package state

import (
	"bytes"
	"encoding/json"
	"fmt"

	oldproto "github.com/golang/protobuf/proto"
)

var (
	pollProtoPrefix   = []byte{0x50, 0x4c, 0x31} // "PL1"
	ballotProtoPrefix = []byte{0x42, 0x4c, 0x31} // "BL1"
	configProtoPrefix = []byte{0x43, 0x46, 0x31} // "CF1"
)

type pbPollOption struct {
	Label string `protobuf:"bytes,1,opt,name=label,proto3" json:"label,omitempty"`
	Votes uint64 `protobuf:"varint,2,opt,name=votes,proto3" json:"votes,omitempty"`
}

func (m *pbPollOption) Reset()         { *m = pbPollOption{} }
func (m *pbPollOption) String() string { return oldproto.CompactTextString(m) }
func (*pbPollOption) ProtoMessage()    {}

type pbPollDoc struct {
	Admin    string          `protobuf:"bytes,1,opt,name=admin,proto3" json:"admin,omitempty"`
	Question string          `protobuf:"bytes,2,opt,name=question,proto3" json:"question,omitempty"`
	Options  []*pbPollOption `protobuf:"bytes,3,rep,name=options,proto3" json:"options,omitempty"`
}

func (m *pbPollDoc) Reset()         { *m = pbPollDoc{} }
func (m *pbPollDoc) String() string { return oldproto.CompactTextString(m) }
func (*pbPollDoc) ProtoMessage()    {}

type pbBallotDoc struct {
	Option string `protobuf:"bytes,1,opt,name=option,proto3" json:"option,omitempty"`
}

func (m *pbBallotDoc) Reset()         { *m = pbBallotDoc{} }
func (m *pbBallotDoc) String() string { return oldproto.CompactTextString(m) }
func (*pbBallotDoc) ProtoMessage()    {}

type pbConfigDoc struct {
	Admin string `protobuf:"bytes,1,opt,name=admin,proto3" json:"admin,omitempty"`
}

func (m *pbConfigDoc) Reset()         { *m = pbConfigDoc{} }
func (m *pbConfigDoc) String() string { return oldproto.CompactTextString(m) }
func (*pbConfigDoc) ProtoMessage()    {}

func encodePoll(p Poll) ([]byte, error) {
	doc := &pbPollDoc{
		Admin:    p.Admin,
		Question: p.Question,
		Options:  make([]*pbPollOption, 0, len(p.Options)),
	}
	for _, opt := range p.Options {
		doc.Options = append(doc.Options, &pbPollOption{Label: opt.Label, Votes: opt.Votes})
	}
	return marshalPrefixed(pollProtoPrefix, doc)
}

// decodePoll accepts protobuf documents and plain JSON.
func decodePoll(data []byte, out *Poll) error {
	if !bytes.HasPrefix(data, pollProtoPrefix) {
		return json.Unmarshal(data, out)
	}
	var doc pbPollDoc
	if err := oldproto.Unmarshal(data[len(pollProtoPrefix):], &doc); err != nil {
		return fmt.Errorf("unmarshal protobuf poll: %w", err)
	}
	*out = Poll{
		Admin:    doc.Admin,
		Question: doc.Question,
		Options:  make([]PollOption, 0, len(doc.Options)),
	}
	for _, opt := range doc.Options {
		if opt == nil {
			continue
		}
		out.Options = append(out.Options, PollOption{Label: opt.Label, Votes: opt.Votes})
	}
	return nil
}

func encodeBallot(b Ballot) ([]byte, error) {
	return marshalPrefixed(ballotProtoPrefix, &pbBallotDoc{Option: b.Option})
}

func decodeBallot(data []byte, out *Ballot) error {
	if !bytes.HasPrefix(data, ballotProtoPrefix) {
		return json.Unmarshal(data, out)
	}
	var doc pbBallotDoc
	if err := oldproto.Unmarshal(data[len(ballotProtoPrefix):], &doc); err != nil {
		return fmt.Errorf("unmarshal protobuf ballot: %w", err)
	}
	*out = Ballot{Option: doc.Option}
	return nil
}

func encodeConfig(c Config) ([]byte, error) {
	return marshalPrefixed(configProtoPrefix, &pbConfigDoc{Admin: c.Admin})
}

func decodeConfig(data []byte, out *Config) error {
	if !bytes.HasPrefix(data, configProtoPrefix) {
		return json.Unmarshal(data, out)
	}
	var doc pbConfigDoc
	if err := oldproto.Unmarshal(data[len(configProtoPrefix):], &doc); err != nil {
		return fmt.Errorf("unmarshal protobuf config: %w", err)
	}
	*out = Config{Admin: doc.Admin}
	return nil
}

func marshalPrefixed(prefix []byte, m oldproto.Message) ([]byte, error) {
	wire, err := oldproto.Marshal(m)
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, prefix...), wire...), nil
}

package state

// Config is the service-wide configuration written at instantiation.
type Config struct {
	Admin string `json:"admin"`
}

// ContractInfo records which service and version initialized the store.
type ContractInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// PollOption is one vote-able choice and its live count.
type PollOption struct {
	Label string `json:"label"`
	Votes uint64 `json:"votes"`
}

// Poll is a question with an ordered option list. Option order is
// significant: it is the display order and lookups match the first label.
type Poll struct {
	Admin    string       `json:"admin"`
	Question string       `json:"question"`
	Options  []PollOption `json:"options"`
}

// OptionIndex returns the index of the first option with the given label.
func (p *Poll) OptionIndex(label string) (int, bool) {
	for i, opt := range p.Options {
		if opt.Label == label {
			return i, true
		}
	}
	return -1, false
}

// TotalVotes sums the counts of all options.
func (p *Poll) TotalVotes() uint64 {
	var n uint64
	for _, opt := range p.Options {
		n += opt.Votes
	}
	return n
}

// PollEntry is a poll together with the id it is stored under. The poll's
// fields are inlined next to poll_id when encoded.
type PollEntry struct {
	ID string `json:"poll_id"`
	Poll
}

// Ballot is one identity's current choice within one poll.
type Ballot struct {
	Option string `json:"option"`
}

// Attribute is a key/value pair attached to a command response or event.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Event is an audit record appended for every successful command.
type Event struct {
	Seq        uint64      `json:"seq"`
	ID         string      `json:"id"`
	Action     string      `json:"action"`
	Sender     string      `json:"sender"`
	Attributes []Attribute `json:"attributes,omitempty"`
	AtNs       uint64      `json:"at_ns"`
}

// Package query serves read-only projections of poll state.
package query

import (
	"github.com/user/polld/internal/engine"
	"github.com/user/polld/internal/identity"
	"github.com/user/polld/internal/kvstore"
	"github.com/user/polld/internal/state"
)

type AllPollsResponse struct {
	Polls []state.PollEntry `json:"polls"`
}

type PollResponse struct {
	Poll *state.Poll `json:"poll"`
}

type VoteResponse struct {
	Vote *state.Ballot `json:"vote"`
}

type EventsResponse struct {
	Events []state.Event `json:"events"`
}

// Service answers queries. It never writes.
type Service struct {
	validator identity.Validator
}

// New creates a Service. A nil validator uses identity.Default.
func New(v identity.Validator) *Service {
	if v == nil {
		v = identity.Default
	}
	return &Service{validator: v}
}

// AllPolls returns every poll in ascending poll id order.
func (s *Service) AllPolls(r kvstore.Reader) (AllPollsResponse, error) {
	polls := []state.PollEntry{}
	for entry, err := range state.ListPolls(r) {
		if err != nil {
			return AllPollsResponse{}, err
		}
		polls = append(polls, entry)
	}
	return AllPollsResponse{Polls: polls}, nil
}

// Poll returns the poll, or a nil Poll when it does not exist.
func (s *Service) Poll(r kvstore.Reader, pollID string) (PollResponse, error) {
	p, err := state.LoadPoll(r, pollID)
	if err != nil {
		return PollResponse{}, err
	}
	return PollResponse{Poll: p}, nil
}

// Vote returns address's ballot on pollID, or a nil Vote when there is none.
func (s *Service) Vote(r kvstore.Reader, pollID, address string) (VoteResponse, error) {
	voter, err := s.validator.Validate(address)
	if err != nil {
		return VoteResponse{}, &engine.Error{Code: engine.CodeInvalidIdentity, Msg: "invalid identity", Err: err}
	}
	b, err := state.LoadBallot(r, voter, pollID)
	if err != nil {
		return VoteResponse{}, err
	}
	return VoteResponse{Vote: b}, nil
}

func (s *Service) Config(r kvstore.Reader) (state.Config, error) {
	return state.LoadConfig(r)
}

func (s *Service) ContractInfo(r kvstore.Reader) (state.ContractInfo, error) {
	return state.LoadContractInfo(r)
}

// Events returns audit events with a sequence greater than afterSeq.
func (s *Service) Events(r kvstore.Reader, afterSeq uint64, limit int) (EventsResponse, error) {
	evs, err := state.ListEvents(r, afterSeq, limit)
	if err != nil {
		return EventsResponse{}, err
	}
	if evs == nil {
		evs = []state.Event{}
	}
	return EventsResponse{Events: evs}, nil
}

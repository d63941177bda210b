package engine

import (
	"errors"

	"github.com/user/polld/internal/kvstore"
	"github.com/user/polld/internal/state"
)

// InstantiateMsg initializes the service. A nil Admin defaults to the sender.
type InstantiateMsg struct {
	Admin *string `json:"admin,omitempty"`
}

type CreatePollMsg struct {
	PollID   string   `json:"poll_id"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

type VoteMsg struct {
	PollID string `json:"poll_id"`
	Vote   string `json:"vote"`
}

// Instantiate records the admin and the service version. It runs once;
// the config is never replaced afterwards.
func (e *Engine) Instantiate(txn kvstore.Txn, env Env, msg InstantiateMsg) (*Response, error) {
	switch cfg, err := state.LoadConfig(txn); {
	case err == nil:
		return nil, alreadyInstantiated(cfg.Admin)
	case !errors.Is(err, state.ErrConfigNotFound):
		return nil, err
	}

	admin := env.Sender
	if msg.Admin != nil {
		admin = *msg.Admin
	}
	admin, err := e.validate(admin)
	if err != nil {
		return nil, err
	}
	if err := state.SaveConfig(txn, state.Config{Admin: admin}); err != nil {
		return nil, err
	}
	if err := state.SaveContractInfo(txn, state.ContractInfo{Name: ServiceName, Version: e.version}); err != nil {
		return nil, err
	}
	return newResponse(ActionInstantiate).add("admin", admin), nil
}

// CreatePoll stores a poll owned by the sender, replacing any poll already
// stored under the same id. Duplicate labels are kept as separate options.
func (e *Engine) CreatePoll(txn kvstore.Txn, env Env, msg CreatePollMsg) (*Response, error) {
	if len(msg.Options) > MaxPollOptions {
		return nil, tooManyOptions(len(msg.Options))
	}
	sender, err := e.validate(env.Sender)
	if err != nil {
		return nil, err
	}

	poll := state.Poll{
		Admin:    sender,
		Question: msg.Question,
		Options:  make([]state.PollOption, 0, len(msg.Options)),
	}
	for _, label := range msg.Options {
		poll.Options = append(poll.Options, state.PollOption{Label: label})
	}
	if err := state.SavePoll(txn, msg.PollID, poll); err != nil {
		return nil, err
	}
	return newResponse(ActionCreatePoll).
		add("poll_id", msg.PollID).
		add("admin", sender), nil
}

// Vote casts or changes the sender's ballot on a poll. Moving a ballot
// takes one count off the previous option and adds one to the new option,
// so the option totals always match the number of ballots.
func (e *Engine) Vote(txn kvstore.Txn, env Env, msg VoteMsg) (*Response, error) {
	voter, err := e.validate(env.Sender)
	if err != nil {
		return nil, err
	}
	poll, err := state.LoadPoll(txn, msg.PollID)
	if err != nil {
		return nil, err
	}
	if poll == nil {
		return nil, pollNotFound(msg.PollID)
	}

	ballot, err := state.LoadBallot(txn, voter, msg.PollID)
	if err != nil {
		return nil, err
	}
	if ballot != nil {
		i, ok := poll.OptionIndex(ballot.Option)
		if !ok {
			return nil, optionNotFound(msg.PollID, ballot.Option)
		}
		if poll.Options[i].Votes == 0 {
			return nil, invariantFault(msg.PollID, ballot.Option)
		}
		poll.Options[i].Votes--
		ballot.Option = msg.Vote
	} else {
		ballot = &state.Ballot{Option: msg.Vote}
	}

	i, ok := poll.OptionIndex(msg.Vote)
	if !ok {
		return nil, optionNotFound(msg.PollID, msg.Vote)
	}
	poll.Options[i].Votes++

	if err := state.SaveBallot(txn, voter, msg.PollID, *ballot); err != nil {
		return nil, err
	}
	if err := state.SavePoll(txn, msg.PollID, *poll); err != nil {
		return nil, err
	}
	return newResponse(ActionVote).
		add("poll_id", msg.PollID).
		add("voter", voter).
		add("vote", msg.Vote), nil
}

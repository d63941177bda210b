package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/polld/internal/engine"
	"github.com/user/polld/internal/kvstore"
	"github.com/user/polld/internal/state"
)

func seeded(t *testing.T) kvstore.DB {
	t.Helper()
	db, err := kvstore.OpenPebbleMem()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	e := engine.New()
	require.NoError(t, db.Update(func(txn kvstore.Txn) error {
		if _, err := e.Instantiate(txn, engine.Env{Sender: "addr1"}, engine.InstantiateMsg{}); err != nil {
			return err
		}
		for _, id := range []string{"2", "1"} {
			if _, err := e.CreatePoll(txn, engine.Env{Sender: "addr1"}, engine.CreatePollMsg{
				PollID: id, Question: "q" + id, Options: []string{"Yes", "No"},
			}); err != nil {
				return err
			}
		}
		_, err := e.Vote(txn, engine.Env{Sender: "addr2"}, engine.VoteMsg{PollID: "1", Vote: "No"})
		return err
	}))
	return db
}

func TestAllPolls(t *testing.T) {
	db := seeded(t)
	s := New(nil)
	require.NoError(t, db.View(func(r kvstore.Reader) error {
		resp, err := s.AllPolls(r)
		require.NoError(t, err)
		require.Len(t, resp.Polls, 2)
		assert.Equal(t, "1", resp.Polls[0].ID)
		assert.Equal(t, "2", resp.Polls[1].ID)
		assert.Equal(t, uint64(1), resp.Polls[0].Poll.TotalVotes())
		return nil
	}))
}

func TestAllPollsEmpty(t *testing.T) {
	db, err := kvstore.OpenPebbleMem()
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.View(func(r kvstore.Reader) error {
		resp, err := New(nil).AllPolls(r)
		require.NoError(t, err)
		assert.NotNil(t, resp.Polls)
		assert.Empty(t, resp.Polls)
		return nil
	}))
}

func TestPoll(t *testing.T) {
	db := seeded(t)
	s := New(nil)
	require.NoError(t, db.View(func(r kvstore.Reader) error {
		resp, err := s.Poll(r, "2")
		require.NoError(t, err)
		require.NotNil(t, resp.Poll)
		assert.Equal(t, "q2", resp.Poll.Question)

		missing, err := s.Poll(r, "nope")
		require.NoError(t, err)
		assert.Nil(t, missing.Poll)
		return nil
	}))
}

func TestVote(t *testing.T) {
	db := seeded(t)
	s := New(nil)
	require.NoError(t, db.View(func(r kvstore.Reader) error {
		resp, err := s.Vote(r, "1", "addr2")
		require.NoError(t, err)
		assert.Equal(t, &state.Ballot{Option: "No"}, resp.Vote)

		none, err := s.Vote(r, "2", "addr2")
		require.NoError(t, err)
		assert.Nil(t, none.Vote)

		_, err = s.Vote(r, "1", "BAD ADDRESS")
		assert.ErrorIs(t, err, engine.ErrInvalidIdentity)
		return nil
	}))
}

func TestConfigAndInfo(t *testing.T) {
	db := seeded(t)
	s := New(nil)
	require.NoError(t, db.View(func(r kvstore.Reader) error {
		cfg, err := s.Config(r)
		require.NoError(t, err)
		assert.Equal(t, "addr1", cfg.Admin)
		info, err := s.ContractInfo(r)
		require.NoError(t, err)
		assert.Equal(t, engine.ServiceName, info.Name)
		return nil
	}))
}

func TestEventsEmpty(t *testing.T) {
	db := seeded(t)
	require.NoError(t, db.View(func(r kvstore.Reader) error {
		resp, err := New(nil).Events(r, 0, 10)
		require.NoError(t, err)
		// Events are appended by the command executor, not the engine.
		assert.Empty(t, resp.Events)
		assert.NotNil(t, resp.Events)
		return nil
	}))
}

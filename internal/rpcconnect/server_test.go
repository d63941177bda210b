package rpcconnect

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"connectrpc.com/connect"

	"github.com/user/polld/internal/engine"
	"github.com/user/polld/internal/kvstore"
	"github.com/user/polld/internal/raft"
	"github.com/user/polld/internal/rpcconnect/pollv1"
	"github.com/user/polld/internal/store"
)

func testClient(t *testing.T) *pollv1.PollServiceClient {
	t.Helper()
	da, err := raft.NewDirectApplier(kvstore.Config{Backend: "memory"}, engine.New())
	if err != nil {
		t.Fatalf("NewDirectApplier: %v", err)
	}
	t.Cleanup(func() { _ = da.Close() })

	path, handler, _ := NewHandler(store.NewStore(da, da.DB(), nil))
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return pollv1.NewPollServiceClient(ts.Client(), ts.URL)
}

func withSender[T any](msg *T, sender string) *connect.Request[T] {
	req := connect.NewRequest(msg)
	if sender != "" {
		req.Header().Set(SenderHeader, sender)
	}
	return req
}

func TestRPCScenario(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()

	inst, err := c.Instantiate(ctx, withSender(&pollv1.InstantiateRequest{}, "addr1"))
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	if admin, _ := inst.Msg.Attribute("admin"); admin != "addr1" {
		t.Errorf("admin = %q", admin)
	}

	if _, err := c.CreatePoll(ctx, withSender(&pollv1.CreatePollRequest{
		PollId: "1", Question: "Do you love Spark?", Options: []string{"Yes", "No"},
	}, "addr1")); err != nil {
		t.Fatalf("CreatePoll: %v", err)
	}
	if _, err := c.Vote(ctx, withSender(&pollv1.VoteRequest{PollId: "1", Vote: "No"}, "addr1")); err != nil {
		t.Fatalf("Vote No: %v", err)
	}
	resp, err := c.Vote(ctx, withSender(&pollv1.VoteRequest{PollId: "1", Vote: "Yes"}, "addr1"))
	if err != nil {
		t.Fatalf("Vote Yes: %v", err)
	}
	if len(resp.Msg.Attributes) == 0 || resp.Msg.Attributes[0].Value != engine.ActionVote {
		t.Errorf("attributes = %+v", resp.Msg.Attributes)
	}

	poll, err := c.GetPoll(ctx, connect.NewRequest(&pollv1.GetPollRequest{PollId: "1"}))
	if err != nil {
		t.Fatalf("GetPoll: %v", err)
	}
	if p := poll.Msg.Poll; p == nil || p.Options[0].Votes != 1 || p.Options[1].Votes != 0 {
		t.Fatalf("poll = %+v", p)
	}

	ballot, err := c.GetVote(ctx, connect.NewRequest(&pollv1.GetVoteRequest{PollId: "1", Address: "addr1"}))
	if err != nil {
		t.Fatalf("GetVote: %v", err)
	}
	if ballot.Msg.Vote == nil || ballot.Msg.Vote.Option != "Yes" {
		t.Errorf("ballot = %+v", ballot.Msg.Vote)
	}

	all, err := c.AllPolls(ctx, connect.NewRequest(&pollv1.AllPollsRequest{}))
	if err != nil {
		t.Fatalf("AllPolls: %v", err)
	}
	if len(all.Msg.Polls) != 1 || all.Msg.Polls[0].PollId != "1" {
		t.Errorf("polls = %+v", all.Msg.Polls)
	}

	missing, err := c.GetPoll(ctx, connect.NewRequest(&pollv1.GetPollRequest{PollId: "2"}))
	if err != nil {
		t.Fatalf("GetPoll missing: %v", err)
	}
	if missing.Msg.Poll != nil {
		t.Errorf("missing poll = %+v", missing.Msg.Poll)
	}
}

func TestRPCErrorCodes(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		call      func() error
		code      connect.Code
		polldCode string
	}{
		{
			name: "no sender",
			call: func() error {
				_, err := c.Instantiate(ctx, connect.NewRequest(&pollv1.InstantiateRequest{}))
				return err
			},
			code:      connect.CodeUnauthenticated,
			polldCode: "UNAUTHORIZED",
		},
		{
			name: "poll not found",
			call: func() error {
				_, err := c.Vote(ctx, withSender(&pollv1.VoteRequest{PollId: "9", Vote: "Yes"}, "addr1"))
				return err
			},
			code:      connect.CodeNotFound,
			polldCode: string(engine.CodePollNotFound),
		},
		{
			name: "too many options",
			call: func() error {
				_, err := c.CreatePoll(ctx, withSender(&pollv1.CreatePollRequest{
					PollId: "1", Options: []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11"},
				}, "addr1"))
				return err
			},
			code:      connect.CodeInvalidArgument,
			polldCode: string(engine.CodeTooManyOptions),
		},
		{
			name: "already instantiated",
			call: func() error {
				if _, err := c.Instantiate(ctx, withSender(&pollv1.InstantiateRequest{}, "addr1")); err != nil {
					return err
				}
				_, err := c.Instantiate(ctx, withSender(&pollv1.InstantiateRequest{}, "addr2"))
				return err
			},
			code:      connect.CodeFailedPrecondition,
			polldCode: string(engine.CodeAlreadyInstantiated),
		},
		{
			name: "invalid identity",
			call: func() error {
				_, err := c.GetVote(ctx, connect.NewRequest(&pollv1.GetVoteRequest{PollId: "1", Address: "X"}))
				return err
			},
			code:      connect.CodeInvalidArgument,
			polldCode: string(engine.CodeInvalidIdentity),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			var cerr *connect.Error
			if !errors.As(err, &cerr) {
				t.Fatalf("err = %v, want connect error", err)
			}
			if cerr.Code() != tt.code {
				t.Errorf("code = %v, want %v", cerr.Code(), tt.code)
			}
			if got := cerr.Meta().Get(pollv1.ErrorCodeKey); got != tt.polldCode {
				t.Errorf("%s = %q, want %q", pollv1.ErrorCodeKey, got, tt.polldCode)
			}
		})
	}
}

func TestMapStoreError(t *testing.T) {
	if got := connect.CodeOf(mapStoreError(store.NewOverloadedError("busy", 50))); got != connect.CodeResourceExhausted {
		t.Errorf("overloaded = %v", got)
	}
	if got := connect.CodeOf(mapStoreError(store.NewNotLeaderError(""))); got != connect.CodeUnavailable {
		t.Errorf("not leader = %v", got)
	}
	if got := connect.CodeOf(mapStoreError(errors.New("disk on fire"))); got != connect.CodeInternal {
		t.Errorf("other = %v", got)
	}
}

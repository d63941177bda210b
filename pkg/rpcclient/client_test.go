package rpcclient

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/user/polld/internal/engine"
	"github.com/user/polld/internal/kvstore"
	"github.com/user/polld/internal/raft"
	"github.com/user/polld/internal/rpcconnect"
	"github.com/user/polld/internal/server"
	"github.com/user/polld/internal/store"
)

// testURL serves the HTTP API with the RPC service mounted, over h2c.
func testURL(t *testing.T, opts ...server.Option) string {
	t.Helper()
	da, err := raft.NewDirectApplier(kvstore.Config{Backend: "memory"}, engine.New())
	if err != nil {
		t.Fatalf("NewDirectApplier: %v", err)
	}
	t.Cleanup(func() { _ = da.Close() })

	s := store.NewStore(da, da.DB(), nil)
	path, handler, _ := rpcconnect.NewHandler(s)
	srv := server.New(s, ":0", append(opts, server.WithRPC(path, handler))...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func TestClientOverH2C(t *testing.T) {
	c := New(testURL(t), WithSender("addr1"))
	ctx := context.Background()

	if _, err := c.Instantiate(ctx, nil); err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	if _, err := c.CreatePoll(ctx, "1", "Do you love Spark?", []string{"Yes", "No"}); err != nil {
		t.Fatalf("CreatePoll: %v", err)
	}
	if _, err := c.Vote(ctx, "1", "No"); err != nil {
		t.Fatalf("Vote: %v", err)
	}
	res, err := c.Vote(ctx, "1", "Yes")
	if err != nil {
		t.Fatalf("Vote: %v", err)
	}
	if v, _ := res.Attribute("vote"); v != "Yes" {
		t.Errorf("vote = %q", v)
	}

	poll, err := c.Poll(ctx, "1")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if poll == nil || poll.Options[0].Votes != 1 || poll.Options[1].Votes != 0 {
		t.Fatalf("poll = %+v", poll)
	}
	ballot, err := c.Ballot(ctx, "1", "addr1")
	if err != nil || ballot == nil || ballot.Option != "Yes" {
		t.Fatalf("Ballot = %+v, %v", ballot, err)
	}
	polls, err := c.AllPolls(ctx)
	if err != nil || len(polls) != 1 {
		t.Fatalf("AllPolls = %+v, %v", polls, err)
	}
}

func TestClientErrorCode(t *testing.T) {
	url := testURL(t)
	ctx := context.Background()

	_, err := New(url, WithSender("addr1")).Vote(ctx, "nope", "Yes")
	if got := ErrorCode(err); got != string(engine.CodePollNotFound) {
		t.Errorf("ErrorCode = %q (err %v)", got, err)
	}

	_, err = New(url).Instantiate(ctx, nil)
	if got := ErrorCode(err); got != "UNAUTHORIZED" {
		t.Errorf("ErrorCode = %q (err %v)", got, err)
	}
}

func TestClientToken(t *testing.T) {
	cfg := server.JWTConfig{Secret: []byte("rpc-secret")}
	url := testURL(t, server.WithJWT(cfg), server.WithRequireToken(true))
	token, err := server.SignToken(cfg, "addr7", 10*time.Minute)
	if err != nil {
		t.Fatalf("SignToken: %v", err)
	}

	res, err := New(url, WithToken(token)).Instantiate(context.Background(), nil)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	if admin, _ := res.Attribute("admin"); admin != "addr7" {
		t.Errorf("admin = %q", admin)
	}

	_, err = New(url, WithSender("addr1")).Instantiate(context.Background(), nil)
	if got := ErrorCode(err); got != "UNAUTHORIZED" {
		t.Errorf("header-only caller: ErrorCode = %q (err %v)", got, err)
	}
}

package rpcconnect

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/user/polld/internal/engine"
	"github.com/user/polld/internal/identity"
	"github.com/user/polld/internal/rpcconnect/pollv1"
	"github.com/user/polld/internal/state"
	"github.com/user/polld/internal/store"
)

// SenderHeader is read when no authenticated caller is on the context.
const SenderHeader = "X-Poll-Sender"

func codedError(code connect.Code, polldCode string, err error) error {
	cerr := connect.NewError(code, err)
	if polldCode != "" {
		cerr.Meta().Set(pollv1.ErrorCodeKey, polldCode)
	}
	return cerr
}

func mapStoreError(err error) error {
	if errors.Is(err, context.Canceled) {
		return connect.NewError(connect.CodeCanceled, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	}
	if code, ok := engine.CodeOf(err); ok {
		if code == engine.CodePollNotFound {
			return codedError(connect.CodeNotFound, string(code), err)
		}
		if engine.IsConflict(code) {
			return codedError(connect.CodeFailedPrecondition, string(code), err)
		}
		return codedError(connect.CodeInvalidArgument, string(code), err)
	}
	if errors.Is(err, state.ErrConfigNotFound) {
		return codedError(connect.CodeNotFound, "CONFIG_NOT_FOUND", err)
	}
	if store.IsOverloadedError(err) {
		if ms, ok := store.OverloadRetryAfterMs(err); ok && ms > 0 {
			return codedError(connect.CodeResourceExhausted, string(store.ErrorCodeOverloaded), fmt.Errorf("%s (retry_after_ms=%d)", err.Error(), ms))
		}
		return codedError(connect.CodeResourceExhausted, string(store.ErrorCodeOverloaded), err)
	}
	if store.IsNotLeaderError(err) {
		return codedError(connect.CodeUnavailable, string(store.ErrorCodeNotLeader), err)
	}
	return connect.NewError(connect.CodeInternal, err)
}

// Server implements the Connect PollService API over the Store.
type Server struct {
	store *store.Store
}

// NewHandler returns the mount path and handler for the PollService.
func NewHandler(s *store.Store, opts ...connect.HandlerOption) (string, http.Handler, *Server) {
	srv := &Server{store: s}
	path, handler := pollv1.NewPollServiceHandler(srv, opts...)
	return path, handler, srv
}

// sender prefers the caller resolved by the HTTP auth layer and falls back
// to the header only when the handler is served without it.
func sender(ctx context.Context, h http.Header) (string, error) {
	s, resolved := identity.SenderFromContext(ctx)
	if !resolved {
		s = strings.TrimSpace(h.Get(SenderHeader))
	}
	if s != "" {
		return s, nil
	}
	return "", codedError(connect.CodeUnauthenticated, "UNAUTHORIZED", errors.New("caller identity required"))
}

func executeResponse(resp *engine.Response) *connect.Response[pollv1.ExecuteResponse] {
	attrs := make([]pollv1.Attribute, 0, len(resp.Attributes))
	for _, a := range resp.Attributes {
		attrs = append(attrs, pollv1.Attribute{Key: a.Key, Value: a.Value})
	}
	return connect.NewResponse(&pollv1.ExecuteResponse{Attributes: attrs})
}

func pollToPB(p *state.Poll) *pollv1.Poll {
	if p == nil {
		return nil
	}
	out := &pollv1.Poll{Admin: p.Admin, Question: p.Question, Options: make([]pollv1.PollOption, 0, len(p.Options))}
	for _, o := range p.Options {
		out.Options = append(out.Options, pollv1.PollOption{Label: o.Label, Votes: o.Votes})
	}
	return out
}

func (s *Server) Instantiate(ctx context.Context, req *connect.Request[pollv1.InstantiateRequest]) (*connect.Response[pollv1.ExecuteResponse], error) {
	from, err := sender(ctx, req.Header())
	if err != nil {
		return nil, err
	}
	resp, err := s.store.Instantiate(ctx, from, req.Msg.Admin)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return executeResponse(resp), nil
}

func (s *Server) CreatePoll(ctx context.Context, req *connect.Request[pollv1.CreatePollRequest]) (*connect.Response[pollv1.ExecuteResponse], error) {
	from, err := sender(ctx, req.Header())
	if err != nil {
		return nil, err
	}
	if req.Msg.PollId == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("poll_id is required"))
	}
	resp, err := s.store.CreatePoll(ctx, from, engine.CreatePollMsg{
		PollID:   req.Msg.PollId,
		Question: req.Msg.Question,
		Options:  req.Msg.Options,
	})
	if err != nil {
		return nil, mapStoreError(err)
	}
	return executeResponse(resp), nil
}

func (s *Server) Vote(ctx context.Context, req *connect.Request[pollv1.VoteRequest]) (*connect.Response[pollv1.ExecuteResponse], error) {
	from, err := sender(ctx, req.Header())
	if err != nil {
		return nil, err
	}
	resp, err := s.store.Vote(ctx, from, engine.VoteMsg{PollID: req.Msg.PollId, Vote: req.Msg.Vote})
	if err != nil {
		return nil, mapStoreError(err)
	}
	return executeResponse(resp), nil
}

func (s *Server) AllPolls(ctx context.Context, _ *connect.Request[pollv1.AllPollsRequest]) (*connect.Response[pollv1.AllPollsResponse], error) {
	res, err := s.store.AllPolls(ctx)
	if err != nil {
		return nil, mapStoreError(err)
	}
	out := &pollv1.AllPollsResponse{Polls: make([]pollv1.PollEntry, 0, len(res.Polls))}
	for _, e := range res.Polls {
		out.Polls = append(out.Polls, pollv1.PollEntry{PollId: e.ID, Poll: pollToPB(&e.Poll)})
	}
	return connect.NewResponse(out), nil
}

func (s *Server) GetPoll(ctx context.Context, req *connect.Request[pollv1.GetPollRequest]) (*connect.Response[pollv1.GetPollResponse], error) {
	res, err := s.store.Poll(ctx, req.Msg.PollId)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return connect.NewResponse(&pollv1.GetPollResponse{Poll: pollToPB(res.Poll)}), nil
}

func (s *Server) GetVote(ctx context.Context, req *connect.Request[pollv1.GetVoteRequest]) (*connect.Response[pollv1.GetVoteResponse], error) {
	res, err := s.store.Ballot(ctx, req.Msg.PollId, req.Msg.Address)
	if err != nil {
		return nil, mapStoreError(err)
	}
	out := &pollv1.GetVoteResponse{}
	if res.Vote != nil {
		out.Vote = &pollv1.Ballot{Option: res.Vote.Option}
	}
	return connect.NewResponse(out), nil
}

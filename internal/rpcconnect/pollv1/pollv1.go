// Package pollv1 defines the polld.v1.PollService Connect API: its
// messages, procedure names, JSON codec, handler and client.
package pollv1

import (
	"context"
	"encoding/json"
	"net/http"

	"connectrpc.com/connect"
)

const PollServiceName = "polld.v1.PollService"

const (
	PollServiceInstantiateProcedure = "/polld.v1.PollService/Instantiate"
	PollServiceCreatePollProcedure  = "/polld.v1.PollService/CreatePoll"
	PollServiceVoteProcedure        = "/polld.v1.PollService/Vote"
	PollServiceAllPollsProcedure    = "/polld.v1.PollService/AllPolls"
	PollServiceGetPollProcedure     = "/polld.v1.PollService/GetPoll"
	PollServiceGetVoteProcedure     = "/polld.v1.PollService/GetVote"
)

// ErrorCodeKey is the error metadata key carrying the polld error code.
const ErrorCodeKey = "Polld-Error-Code"

type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type PollOption struct {
	Label string `json:"label"`
	Votes uint64 `json:"votes"`
}

type Poll struct {
	Admin    string       `json:"admin"`
	Question string       `json:"question"`
	Options  []PollOption `json:"options"`
}

type PollEntry struct {
	PollId string `json:"poll_id"`
	*Poll
}

type Ballot struct {
	Option string `json:"option"`
}

type InstantiateRequest struct {
	Admin *string `json:"admin,omitempty"`
}

type CreatePollRequest struct {
	PollId   string   `json:"poll_id"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

type VoteRequest struct {
	PollId string `json:"poll_id"`
	Vote   string `json:"vote"`
}

// ExecuteResponse is returned by every command.
type ExecuteResponse struct {
	Attributes []Attribute `json:"attributes"`
}

// Attribute returns the value of the first attribute named key.
func (r *ExecuteResponse) Attribute(key string) (string, bool) {
	for _, a := range r.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

type AllPollsRequest struct{}

type AllPollsResponse struct {
	Polls []PollEntry `json:"polls"`
}

type GetPollRequest struct {
	PollId string `json:"poll_id"`
}

type GetPollResponse struct {
	Poll *Poll `json:"poll"`
}

type GetVoteRequest struct {
	PollId  string `json:"poll_id"`
	Address string `json:"address"`
}

type GetVoteResponse struct {
	Vote *Ballot `json:"vote"`
}

// JSONCodec encodes plain Go structs as JSON. It replaces connect's
// protojson codec, which only accepts generated messages.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }

// PollServiceHandler is implemented by the server.
type PollServiceHandler interface {
	Instantiate(context.Context, *connect.Request[InstantiateRequest]) (*connect.Response[ExecuteResponse], error)
	CreatePoll(context.Context, *connect.Request[CreatePollRequest]) (*connect.Response[ExecuteResponse], error)
	Vote(context.Context, *connect.Request[VoteRequest]) (*connect.Response[ExecuteResponse], error)
	AllPolls(context.Context, *connect.Request[AllPollsRequest]) (*connect.Response[AllPollsResponse], error)
	GetPoll(context.Context, *connect.Request[GetPollRequest]) (*connect.Response[GetPollResponse], error)
	GetVote(context.Context, *connect.Request[GetVoteRequest]) (*connect.Response[GetVoteResponse], error)
}

// NewPollServiceHandler returns the path prefix to mount and the handler.
func NewPollServiceHandler(svc PollServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(JSONCodec{})}, opts...)
	mux := http.NewServeMux()
	mux.Handle(PollServiceInstantiateProcedure, connect.NewUnaryHandler(PollServiceInstantiateProcedure, svc.Instantiate, opts...))
	mux.Handle(PollServiceCreatePollProcedure, connect.NewUnaryHandler(PollServiceCreatePollProcedure, svc.CreatePoll, opts...))
	mux.Handle(PollServiceVoteProcedure, connect.NewUnaryHandler(PollServiceVoteProcedure, svc.Vote, opts...))
	mux.Handle(PollServiceAllPollsProcedure, connect.NewUnaryHandler(PollServiceAllPollsProcedure, svc.AllPolls, opts...))
	mux.Handle(PollServiceGetPollProcedure, connect.NewUnaryHandler(PollServiceGetPollProcedure, svc.GetPoll, opts...))
	mux.Handle(PollServiceGetVoteProcedure, connect.NewUnaryHandler(PollServiceGetVoteProcedure, svc.GetVote, opts...))
	return "/" + PollServiceName + "/", mux
}

// PollServiceClient calls a remote PollService.
type PollServiceClient struct {
	instantiate *connect.Client[InstantiateRequest, ExecuteResponse]
	createPoll  *connect.Client[CreatePollRequest, ExecuteResponse]
	vote        *connect.Client[VoteRequest, ExecuteResponse]
	allPolls    *connect.Client[AllPollsRequest, AllPollsResponse]
	getPoll     *connect.Client[GetPollRequest, GetPollResponse]
	getVote     *connect.Client[GetVoteRequest, GetVoteResponse]
}

// NewPollServiceClient builds a client for the service at baseURL.
func NewPollServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *PollServiceClient {
	opts = append([]connect.ClientOption{connect.WithCodec(JSONCodec{})}, opts...)
	return &PollServiceClient{
		instantiate: connect.NewClient[InstantiateRequest, ExecuteResponse](httpClient, baseURL+PollServiceInstantiateProcedure, opts...),
		createPoll:  connect.NewClient[CreatePollRequest, ExecuteResponse](httpClient, baseURL+PollServiceCreatePollProcedure, opts...),
		vote:        connect.NewClient[VoteRequest, ExecuteResponse](httpClient, baseURL+PollServiceVoteProcedure, opts...),
		allPolls:    connect.NewClient[AllPollsRequest, AllPollsResponse](httpClient, baseURL+PollServiceAllPollsProcedure, opts...),
		getPoll:     connect.NewClient[GetPollRequest, GetPollResponse](httpClient, baseURL+PollServiceGetPollProcedure, opts...),
		getVote:     connect.NewClient[GetVoteRequest, GetVoteResponse](httpClient, baseURL+PollServiceGetVoteProcedure, opts...),
	}
}

func (c *PollServiceClient) Instantiate(ctx context.Context, req *connect.Request[InstantiateRequest]) (*connect.Response[ExecuteResponse], error) {
	return c.instantiate.CallUnary(ctx, req)
}

func (c *PollServiceClient) CreatePoll(ctx context.Context, req *connect.Request[CreatePollRequest]) (*connect.Response[ExecuteResponse], error) {
	return c.createPoll.CallUnary(ctx, req)
}

func (c *PollServiceClient) Vote(ctx context.Context, req *connect.Request[VoteRequest]) (*connect.Response[ExecuteResponse], error) {
	return c.vote.CallUnary(ctx, req)
}

func (c *PollServiceClient) AllPolls(ctx context.Context, req *connect.Request[AllPollsRequest]) (*connect.Response[AllPollsResponse], error) {
	return c.allPolls.CallUnary(ctx, req)
}

func (c *PollServiceClient) GetPoll(ctx context.Context, req *connect.Request[GetPollRequest]) (*connect.Response[GetPollResponse], error) {
	return c.getPoll.CallUnary(ctx, req)
}

func (c *PollServiceClient) GetVote(ctx context.Context, req *connect.Request[GetVoteRequest]) (*connect.Response[GetVoteResponse], error) {
	return c.getVote.CallUnary(ctx, req)
}

package rpcclient

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"
	"golang.org/x/net/http2"

	"github.com/user/polld/internal/rpcconnect/pollv1"
)

// Client is a typed PollService client over Connect RPC.
type Client struct {
	rpc    *pollv1.PollServiceClient
	sender string
	token  string
}

// Option configures a Client.
type Option func(*config)

type config struct {
	httpClient *http.Client
	sender     string
	token      string
}

// WithHTTPClient overrides the HTTP client used by Connect.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *config) {
		if c != nil {
			cfg.httpClient = c
		}
	}
}

// WithSender identifies the caller with the X-Poll-Sender header.
func WithSender(sender string) Option {
	return func(cfg *config) { cfg.sender = sender }
}

// WithToken identifies the caller with a bearer token.
func WithToken(token string) Option {
	return func(cfg *config) { cfg.token = token }
}

// New creates a client for a polld server base URL.
func New(baseURL string, opts ...Option) *Client {
	cfg := config{
		httpClient: defaultHTTPClient(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	rpc := pollv1.NewPollServiceClient(cfg.httpClient, strings.TrimRight(baseURL, "/"))
	return &Client{rpc: rpc, sender: cfg.sender, token: cfg.token}
}

// defaultHTTPClient speaks cleartext HTTP/2 (h2c) to the server.
func defaultHTTPClient() *http.Client {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	tr := &http2.Transport{
		AllowHTTP: true,
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
		ReadIdleTimeout: 30 * time.Second,
		PingTimeout:     10 * time.Second,
	}
	return &http.Client{
		Timeout:   30 * time.Second,
		Transport: tr,
	}
}

func request[T any](c *Client, msg *T) *connect.Request[T] {
	req := connect.NewRequest(msg)
	if c.token != "" {
		req.Header().Set("Authorization", "Bearer "+c.token)
	} else if c.sender != "" {
		req.Header().Set("X-Poll-Sender", c.sender)
	}
	return req
}

// ErrorCode returns the polld error code carried by a Connect error, or "".
func ErrorCode(err error) string {
	var cerr *connect.Error
	if !errors.As(err, &cerr) {
		return ""
	}
	return cerr.Meta().Get(pollv1.ErrorCodeKey)
}

type Attribute = pollv1.Attribute

type Poll = pollv1.Poll

type PollEntry = pollv1.PollEntry

type Ballot = pollv1.Ballot

// Result is returned by every command.
type Result struct {
	Attributes []Attribute
}

// Attribute returns the value of the first attribute named key.
func (r *Result) Attribute(key string) (string, bool) {
	for _, a := range r.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// Instantiate records the admin. A nil admin makes the caller admin.
func (c *Client) Instantiate(ctx context.Context, admin *string) (*Result, error) {
	resp, err := c.rpc.Instantiate(ctx, request(c, &pollv1.InstantiateRequest{Admin: admin}))
	if err != nil {
		return nil, err
	}
	return &Result{Attributes: resp.Msg.Attributes}, nil
}

func (c *Client) CreatePoll(ctx context.Context, pollID, question string, options []string) (*Result, error) {
	resp, err := c.rpc.CreatePoll(ctx, request(c, &pollv1.CreatePollRequest{
		PollId:   pollID,
		Question: question,
		Options:  options,
	}))
	if err != nil {
		return nil, err
	}
	return &Result{Attributes: resp.Msg.Attributes}, nil
}

func (c *Client) Vote(ctx context.Context, pollID, option string) (*Result, error) {
	resp, err := c.rpc.Vote(ctx, request(c, &pollv1.VoteRequest{PollId: pollID, Vote: option}))
	if err != nil {
		return nil, err
	}
	return &Result{Attributes: resp.Msg.Attributes}, nil
}

func (c *Client) AllPolls(ctx context.Context) ([]PollEntry, error) {
	resp, err := c.rpc.AllPolls(ctx, request(c, &pollv1.AllPollsRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg.Polls, nil
}

// Poll returns nil when the poll does not exist.
func (c *Client) Poll(ctx context.Context, pollID string) (*Poll, error) {
	resp, err := c.rpc.GetPoll(ctx, request(c, &pollv1.GetPollRequest{PollId: pollID}))
	if err != nil {
		return nil, err
	}
	return resp.Msg.Poll, nil
}

// Ballot returns nil when address has not voted on pollID.
func (c *Client) Ballot(ctx context.Context, pollID, address string) (*Ballot, error) {
	resp, err := c.rpc.GetVote(ctx, request(c, &pollv1.GetVoteRequest{PollId: pollID, Address: address}))
	if err != nil {
		return nil, err
	}
	return resp.Msg.Vote, nil
}

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client is a thin HTTP wrapper for the polld API.
type Client struct {
	URL        string
	HTTPClient *http.Client
	// Sender is sent as X-Poll-Sender. Ignored when Token is set.
	Sender string
	// Token is sent as a bearer token.
	Token string
}

// New creates a new polld client.
func New(url string) *Client {
	return &Client{
		URL: url,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorCode returns the server error code carried by err, or "".
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Response is returned by every command.
type Response struct {
	Attributes []Attribute `json:"attributes"`
}

// Attribute returns the value of the first attribute named key.
func (r *Response) Attribute(key string) (string, bool) {
	for _, a := range r.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
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

// PollEntry is one item of the poll list: a Poll with its poll_id inlined.
type PollEntry struct {
	PollID string `json:"poll_id"`
	Poll
}

type Ballot struct {
	Option string `json:"option"`
}

type Config struct {
	Admin string `json:"admin"`
}

type Event struct {
	Seq        uint64      `json:"seq"`
	ID         string      `json:"id"`
	Action     string      `json:"action"`
	Sender     string      `json:"sender"`
	Attributes []Attribute `json:"attributes,omitempty"`
	AtNs       uint64      `json:"at_ns"`
}

// Instantiate records the admin. A nil admin makes the caller admin.
func (c *Client) Instantiate(ctx context.Context, admin *string) (*Response, error) {
	body := map[string]any{}
	if admin != nil {
		body["admin"] = *admin
	}
	var resp Response
	if err := c.do(ctx, "POST", "/api/v1/instantiate", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreatePoll creates pollID, replacing any poll already stored under it.
func (c *Client) CreatePoll(ctx context.Context, pollID, question string, options []string) (*Response, error) {
	if options == nil {
		options = []string{}
	}
	body := map[string]any{"poll_id": pollID, "question": question, "options": options}
	var resp Response
	if err := c.do(ctx, "POST", "/api/v1/polls", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Vote(ctx context.Context, pollID, option string) (*Response, error) {
	var resp Response
	if err := c.do(ctx, "POST", "/api/v1/polls/"+url.PathEscape(pollID)+"/vote", map[string]string{"vote": option}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Polls lists every poll in poll id order.
func (c *Client) Polls(ctx context.Context) ([]PollEntry, error) {
	var out struct {
		Polls []PollEntry `json:"polls"`
	}
	if err := c.do(ctx, "GET", "/api/v1/polls", nil, &out); err != nil {
		return nil, err
	}
	return out.Polls, nil
}

// Poll returns nil when the poll does not exist.
func (c *Client) Poll(ctx context.Context, pollID string) (*Poll, error) {
	var out struct {
		Poll *Poll `json:"poll"`
	}
	if err := c.do(ctx, "GET", "/api/v1/polls/"+url.PathEscape(pollID), nil, &out); err != nil {
		return nil, err
	}
	return out.Poll, nil
}

// Ballot returns address's vote on pollID, or nil if it has not voted.
func (c *Client) Ballot(ctx context.Context, pollID, address string) (*Ballot, error) {
	var out struct {
		Vote *Ballot `json:"vote"`
	}
	path := "/api/v1/polls/" + url.PathEscape(pollID) + "/votes/" + url.PathEscape(address)
	if err := c.do(ctx, "GET", path, nil, &out); err != nil {
		return nil, err
	}
	return out.Vote, nil
}

func (c *Client) Config(ctx context.Context) (*Config, error) {
	var out Config
	if err := c.do(ctx, "GET", "/api/v1/config", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Events pages through the event log. limit 0 uses the server default.
func (c *Client) Events(ctx context.Context, after uint64, limit int) ([]Event, error) {
	q := url.Values{}
	q.Set("after", strconv.FormatUint(after, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Events []Event `json:"events"`
	}
	if err := c.do(ctx, "GET", "/api/v1/events?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// ClusterStatus returns the raw cluster status document.
func (c *Client) ClusterStatus(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, "GET", "/api/v1/cluster/status", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// HTTP helpers

func (c *Client) do(ctx context.Context, method, path string, body any, result any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	} else if c.Sender != "" {
		req.Header.Set("X-Poll-Sender", c.Sender)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		_ = json.Unmarshal(data, &apiErr)
		return &APIError{Status: resp.StatusCode, Code: apiErr.Code, Message: apiErr.Error}
	}

	if result != nil {
		return json.Unmarshal(data, result)
	}
	return nil
}

// Package engine implements the poll state transitions: instantiate,
// create poll, and vote. Each operation runs against a single store
// transaction supplied by the caller; the caller commits it only when the
// operation returns without error.
package engine

import (
	"github.com/user/polld/internal/identity"
	"github.com/user/polld/internal/state"
)

// MaxPollOptions is the largest option list CreatePoll accepts.
const MaxPollOptions = 10

// ServiceName is recorded in the contract info at instantiation.
const ServiceName = "polld"

// Action names carried by every response.
const (
	ActionInstantiate = "instantiate"
	ActionCreatePoll  = "create poll"
	ActionVote        = "vote in poll"
)

// Env describes the caller of an operation.
type Env struct {
	Sender string
}

// Response is the success descriptor of a command. The first attribute is
// always the action.
type Response struct {
	Attributes []state.Attribute `json:"attributes"`
}

func newResponse(action string) *Response {
	return &Response{Attributes: []state.Attribute{{Key: "action", Value: action}}}
}

func (r *Response) add(key, value string) *Response {
	r.Attributes = append(r.Attributes, state.Attribute{Key: key, Value: value})
	return r
}

// Action returns the action attribute.
func (r *Response) Action() string {
	if r == nil || len(r.Attributes) == 0 {
		return ""
	}
	return r.Attributes[0].Value
}

// Attribute returns the first attribute value for key.
func (r *Response) Attribute(key string) (string, bool) {
	if r == nil {
		return "", false
	}
	for _, a := range r.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// Engine applies poll commands.
type Engine struct {
	validator identity.Validator
	version   string
}

// Option configures an Engine.
type Option func(*Engine)

// WithValidator overrides the identity validator.
func WithValidator(v identity.Validator) Option {
	return func(e *Engine) {
		if v != nil {
			e.validator = v
		}
	}
}

// WithVersion sets the version recorded at instantiation.
func WithVersion(v string) Option {
	return func(e *Engine) { e.version = v }
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{validator: identity.Default, version: "dev"}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Validator returns the identity validator the engine uses.
func (e *Engine) Validator() identity.Validator {
	return e.validator
}

func (e *Engine) validate(addr string) (string, error) {
	v, err := e.validator.Validate(addr)
	if err != nil {
		return "", invalidIdentity(err)
	}
	return v, nil
}

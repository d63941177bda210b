package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/user/polld/internal/engine"
	"github.com/user/polld/internal/identity"
	"github.com/user/polld/internal/kvstore"
	"github.com/user/polld/internal/query"
	"github.com/user/polld/internal/state"
)

// Store is the data access layer used by the HTTP and RPC surfaces.
// Commands go through the Applier; queries read the local KV store.
type Store struct {
	applier Applier
	db      kvstore.DB
	queries *query.Service
	tracer  trace.Tracer
	now     func() time.Time
}

// NewStore creates a Store. A nil validator uses identity.Default.
func NewStore(applier Applier, db kvstore.DB, validator identity.Validator) *Store {
	return &Store{
		applier: applier,
		db:      db,
		queries: query.New(validator),
		tracer:  otel.Tracer("polld/store"),
		now:     time.Now,
	}
}

func (s *Store) meta(sender string) OpMeta {
	return OpMeta{
		Sender:  sender,
		EventID: uuid.NewString(),
		NowNs:   uint64(s.now().UnixNano()),
	}
}

// Instantiate records the admin. A nil admin defaults to sender.
func (s *Store) Instantiate(ctx context.Context, sender string, admin *string) (*engine.Response, error) {
	op := InstantiateOp{OpMeta: s.meta(sender), InstantiateMsg: engine.InstantiateMsg{Admin: admin}}
	return s.apply(ctx, OpInstantiate, op, attribute.String("poll.sender", sender))
}

func (s *Store) CreatePoll(ctx context.Context, sender string, msg engine.CreatePollMsg) (*engine.Response, error) {
	op := CreatePollOp{OpMeta: s.meta(sender), CreatePollMsg: msg}
	return s.apply(ctx, OpCreatePoll, op,
		attribute.String("poll.sender", sender),
		attribute.String("poll.id", msg.PollID),
		attribute.Int("poll.options", len(msg.Options)),
	)
}

func (s *Store) Vote(ctx context.Context, sender string, msg engine.VoteMsg) (*engine.Response, error) {
	op := VoteOp{OpMeta: s.meta(sender), VoteMsg: msg}
	return s.apply(ctx, OpVote, op,
		attribute.String("poll.sender", sender),
		attribute.String("poll.id", msg.PollID),
	)
}

func (s *Store) apply(ctx context.Context, opType OpType, data any, attrs ...attribute.KeyValue) (*engine.Response, error) {
	_, span := s.tracer.Start(ctx, "store."+opType.String(), trace.WithAttributes(attrs...))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res := s.applier.Apply(opType, data)
	if res == nil {
		res = &OpResult{Err: fmt.Errorf("%s: no result", opType)}
	}
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
		return nil, res.Err
	}
	resp, ok := res.Data.(*engine.Response)
	if !ok {
		err := fmt.Errorf("%s: unexpected result type %T", opType, res.Data)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return resp, nil
}

func (s *Store) view(ctx context.Context, name string, fn func(r kvstore.Reader) error) error {
	_, span := s.tracer.Start(ctx, "store."+name)
	defer span.End()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.View(fn); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// AllPolls returns every poll in ascending poll id order.
func (s *Store) AllPolls(ctx context.Context) (query.AllPollsResponse, error) {
	var out query.AllPollsResponse
	err := s.view(ctx, "all_polls", func(r kvstore.Reader) error {
		var err error
		out, err = s.queries.AllPolls(r)
		return err
	})
	return out, err
}

func (s *Store) Poll(ctx context.Context, pollID string) (query.PollResponse, error) {
	var out query.PollResponse
	err := s.view(ctx, "poll", func(r kvstore.Reader) error {
		var err error
		out, err = s.queries.Poll(r, pollID)
		return err
	})
	return out, err
}

// Ballot returns address's vote on pollID.
func (s *Store) Ballot(ctx context.Context, pollID, address string) (query.VoteResponse, error) {
	var out query.VoteResponse
	err := s.view(ctx, "ballot", func(r kvstore.Reader) error {
		var err error
		out, err = s.queries.Vote(r, pollID, address)
		return err
	})
	return out, err
}

func (s *Store) Config(ctx context.Context) (state.Config, error) {
	var out state.Config
	err := s.view(ctx, "config", func(r kvstore.Reader) error {
		var err error
		out, err = s.queries.Config(r)
		return err
	})
	return out, err
}

func (s *Store) ContractInfo(ctx context.Context) (state.ContractInfo, error) {
	var out state.ContractInfo
	err := s.view(ctx, "contract_info", func(r kvstore.Reader) error {
		var err error
		out, err = s.queries.ContractInfo(r)
		return err
	})
	return out, err
}

func (s *Store) Events(ctx context.Context, afterSeq uint64, limit int) (query.EventsResponse, error) {
	var out query.EventsResponse
	err := s.view(ctx, "events", func(r kvstore.Reader) error {
		var err error
		out, err = s.queries.Events(r, afterSeq, limit)
		return err
	})
	return out, err
}

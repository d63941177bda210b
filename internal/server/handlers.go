package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/xeipuuv/gojsonschema"

	"github.com/user/polld/internal/engine"
	"github.com/user/polld/internal/state"
	"github.com/user/polld/internal/store"
)

const maxBodyBytes = 1 << 20

// LeaderHeader names the raft leader when a follower rejects a write.
const LeaderHeader = "X-Poll-Leader"

type instantiateRequest struct {
	Admin *string `json:"admin,omitempty"`
}

type voteRequest struct {
	Vote string `json:"vote"`
}

type joinRequest struct {
	NodeID string `json:"node_id"`
	Addr   string `json:"addr"`
}

type executeMsg struct {
	CreatePoll *engine.CreatePollMsg `json:"create_poll,omitempty"`
	Vote       *engine.VoteMsg       `json:"vote,omitempty"`
}

type queryMsg struct {
	AllPolls *struct{} `json:"all_polls,omitempty"`
	Poll     *struct {
		PollID string `json:"poll_id"`
	} `json:"poll,omitempty"`
	Vote *struct {
		PollID  string `json:"poll_id"`
		Address string `json:"address"`
	} `json:"vote,omitempty"`
	Config *struct{} `json:"config,omitempty"`
}

func (s *Server) handleInstantiate(w http.ResponseWriter, r *http.Request) {
	sender, ok := requireSender(w, r)
	if !ok {
		return
	}
	var req instantiateRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON", "PARSE_ERROR")
			return
		}
	}
	resp, err := s.store.Instantiate(r.Context(), sender, req.Admin)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreatePoll(w http.ResponseWriter, r *http.Request) {
	sender, ok := requireSender(w, r)
	if !ok {
		return
	}
	var req engine.CreatePollMsg
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", "PARSE_ERROR")
		return
	}
	if req.PollID == "" {
		writeError(w, http.StatusBadRequest, "poll_id is required", "VALIDATION_ERROR")
		return
	}
	resp, err := s.store.CreatePoll(r.Context(), sender, req)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	sender, ok := requireSender(w, r)
	if !ok {
		return
	}
	var req voteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", "PARSE_ERROR")
		return
	}
	msg := engine.VoteMsg{PollID: chi.URLParam(r, "poll_id"), Vote: req.Vote}
	resp, err := s.store.Vote(r.Context(), sender, msg)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListPolls(w http.ResponseWriter, r *http.Request) {
	resp, err := s.store.AllPolls(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetPoll(w http.ResponseWriter, r *http.Request) {
	resp, err := s.store.Poll(r.Context(), chi.URLParam(r, "poll_id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetVote(w http.ResponseWriter, r *http.Request) {
	resp, err := s.store.Ballot(r.Context(), chi.URLParam(r, "poll_id"), chi.URLParam(r, "address"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.store.Config(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var after uint64
	if v := q.Get("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "after must be a non-negative integer", "VALIDATION_ERROR")
			return
		}
		after = n
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer", "VALIDATION_ERROR")
			return
		}
		limit = n
	}
	resp, err := s.store.Events(r.Context(), after, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleExecute accepts the raw snake_case execute message envelope.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	sender, ok := requireSender(w, r)
	if !ok {
		return
	}
	var msg executeMsg
	if !s.decodeRaw(w, r, executeSchema, &msg) {
		return
	}
	var (
		resp *engine.Response
		err  error
	)
	switch {
	case msg.CreatePoll != nil:
		resp, err = s.store.CreatePoll(r.Context(), sender, *msg.CreatePoll)
	case msg.Vote != nil:
		resp, err = s.store.Vote(r.Context(), sender, *msg.Vote)
	default:
		writeError(w, http.StatusBadRequest, "unknown execute message", "INVALID_MESSAGE")
		return
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var msg queryMsg
	if !s.decodeRaw(w, r, querySchema, &msg) {
		return
	}
	var (
		resp any
		err  error
	)
	ctx := r.Context()
	switch {
	case msg.AllPolls != nil:
		resp, err = s.store.AllPolls(ctx)
	case msg.Poll != nil:
		resp, err = s.store.Poll(ctx, msg.Poll.PollID)
	case msg.Vote != nil:
		resp, err = s.store.Ballot(ctx, msg.Vote.PollID, msg.Vote.Address)
	case msg.Config != nil:
		resp, err = s.store.Config(ctx)
	default:
		writeError(w, http.StatusBadRequest, "unknown query message", "INVALID_MESSAGE")
		return
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClusterJoin(w http.ResponseWriter, r *http.Request) {
	if s.cluster == nil {
		writeError(w, http.StatusNotFound, "clustering is not enabled", "NOT_FOUND")
		return
	}
	var req joinRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", "PARSE_ERROR")
		return
	}
	if req.NodeID == "" || req.Addr == "" {
		writeError(w, http.StatusBadRequest, "node_id and addr are required", "VALIDATION_ERROR")
		return
	}
	if !s.cluster.IsLeader() {
		writeStoreError(w, store.NewNotLeaderError(""))
		return
	}
	if err := s.cluster.AddVoter(req.NodeID, req.Addr); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "joined", "node_id": req.NodeID})
}

func (s *Server) handleClusterStatus(w http.ResponseWriter, r *http.Request) {
	if s.cluster == nil {
		writeJSON(w, http.StatusOK, map[string]any{"mode": "single", "state": "leader"})
		return
	}
	writeJSON(w, http.StatusOK, s.cluster.ClusterStatus())
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.ContractInfo(r.Context()); err != nil && !errors.Is(err, state.ErrConfigNotFound) {
		writeError(w, http.StatusServiceUnavailable, "database unavailable", "UNHEALTHY")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeRaw reads the body, validates it against schema and decodes it into v.
func (s *Server) decodeRaw(w http.ResponseWriter, r *http.Request, schema *gojsonschema.Schema, v any) bool {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error(), "PARSE_ERROR")
		return false
	}
	if err := validateMessage(schema, body); err != nil {
		var verr *SchemaValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":             verr.Error(),
				"code":              "INVALID_MESSAGE",
				"validation_errors": verr.Errors,
			})
			return false
		}
		writeError(w, http.StatusBadRequest, err.Error(), "PARSE_ERROR")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", "PARSE_ERROR")
		return false
	}
	return true
}

// writeStoreError maps command and query failures onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	if code, ok := engine.CodeOf(err); ok {
		status := http.StatusBadRequest
		switch {
		case code == engine.CodePollNotFound:
			status = http.StatusNotFound
		case engine.IsConflict(code):
			status = http.StatusConflict
		}
		writeError(w, status, err.Error(), string(code))
		return
	}
	if errors.Is(err, state.ErrConfigNotFound) {
		writeError(w, http.StatusNotFound, err.Error(), "CONFIG_NOT_FOUND")
		return
	}
	if store.IsOverloadedError(err) {
		if ms, ok := store.OverloadRetryAfterMs(err); ok {
			secs := (ms + 999) / 1000
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
		writeError(w, http.StatusServiceUnavailable, err.Error(), string(store.ErrorCodeOverloaded))
		return
	}
	if store.IsNotLeaderError(err) {
		if leader := store.LeaderAddr(err); leader != "" {
			w.Header().Set(LeaderHeader, leader)
		}
		writeError(w, http.StatusServiceUnavailable, err.Error(), string(store.ErrorCodeNotLeader))
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		writeError(w, http.StatusServiceUnavailable, err.Error(), "CANCELLED")
		return
	}
	slog.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error", "INTERNAL")
}

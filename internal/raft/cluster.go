package raft

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/raft"

	"github.com/user/polld/internal/engine"
	"github.com/user/polld/internal/kvstore"
	"github.com/user/polld/internal/store"
)

// Cluster manages the Raft node and the KV store its FSM writes to.
type Cluster struct {
	raft      *raft.Raft
	fsm       *FSM
	db        kvstore.DB
	transport *raft.NetworkTransport
	logStore  raftStore
	snapshot  raft.SnapshotStore
	config    ClusterConfig
	pending   chan struct{}

	overloadTotal atomic.Uint64
	appliedTotal  atomic.Uint64
}

// NewCluster creates and starts a Raft cluster node.
func NewCluster(cfg ClusterConfig, eng *engine.Engine) (*Cluster, error) {
	if cfg.ApplyTimeout == 0 {
		cfg.ApplyTimeout = 10 * time.Second
	}
	if cfg.ApplyMaxPending <= 0 {
		cfg.ApplyMaxPending = 1024
	}
	if cfg.RaftStore == "" {
		cfg.RaftStore = "bolt"
	}
	if cfg.SnapshotThreshold == 0 {
		cfg.SnapshotThreshold = 2048
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = time.Minute
	}
	cfg.RaftStore = strings.ToLower(cfg.RaftStore)

	raftDir := filepath.Join(cfg.DataDir, "raft")
	for _, dir := range []string{cfg.DataDir, raftDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	var closers []io.Closer
	fail := func(err error) (*Cluster, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
		return nil, err
	}

	db, err := kvstore.Open(kvstore.Config{Backend: cfg.KVBackend, Dir: cfg.DataDir, NoSync: cfg.KVNoSync})
	if err != nil {
		return nil, fmt.Errorf("open kv store: %w", err)
	}
	closers = append(closers, db)
	fsm := NewFSM(db, eng)

	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(cfg.NodeID)
	raftConfig.SnapshotThreshold = cfg.SnapshotThreshold
	raftConfig.SnapshotInterval = cfg.SnapshotInterval
	raftConfig.LogOutput = newRaftLogWriter("raft")

	transport, err := newTCPTransport(cfg.RaftBind, cfg.RaftAdvertise)
	if err != nil {
		return fail(fmt.Errorf("create transport: %w", err))
	}
	closers = append(closers, transport)

	logStore, err := openRaftStore(raftDir, cfg)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, logStore)

	snapshotStore, err := raft.NewFileSnapshotStore(raftDir, 2, newRaftLogWriter("raft-snapshot"))
	if err != nil {
		return fail(fmt.Errorf("create snapshot store: %w", err))
	}
	if err := prepareFSMForRecovery(db, snapshotStore); err != nil {
		return fail(fmt.Errorf("prepare fsm recovery: %w", err))
	}

	r, err := raft.NewRaft(raftConfig, fsm, logStore, logStore, snapshotStore, transport)
	if err != nil {
		return fail(fmt.Errorf("create raft: %w", err))
	}

	if cfg.Bootstrap {
		configuration := raft.Configuration{
			Servers: []raft.Server{{
				ID:      raft.ServerID(cfg.NodeID),
				Address: transport.LocalAddr(),
			}},
		}
		if err := r.BootstrapCluster(configuration).Error(); err != nil && !errors.Is(err, raft.ErrCantBootstrap) {
			slog.Warn("bootstrap cluster", "error", err)
		}
	}

	return &Cluster{
		raft:      r,
		fsm:       fsm,
		db:        db,
		transport: transport,
		logStore:  logStore,
		snapshot:  snapshotStore,
		config:    cfg,
		pending:   make(chan struct{}, cfg.ApplyMaxPending),
	}, nil
}

// prepareFSMForRecovery clears local state when no snapshot exists, so
// log replay starts from an empty store. With a snapshot, raft calls
// Restore which replaces the store anyway.
func prepareFSMForRecovery(db kvstore.DB, snapshotStore raft.SnapshotStore) error {
	snapshots, err := snapshotStore.List()
	if err != nil {
		return fmt.Errorf("list snapshots: %w", err)
	}
	if len(snapshots) > 0 {
		return nil
	}
	if err := db.Update(kvstore.Clear); err != nil {
		return fmt.Errorf("clear kv store: %w", err)
	}
	slog.Info("recovery prep: no snapshot found; cleared local state before raft replay")
	return nil
}

// Apply submits an operation to the Raft cluster and returns the result.
func (c *Cluster) Apply(opType store.OpType, data any) *store.OpResult {
	if c.raft.State() != raft.Leader {
		return &store.OpResult{Err: store.NewNotLeaderError(c.LeaderAddr())}
	}
	select {
	case c.pending <- struct{}{}:
		defer func() { <-c.pending }()
	default:
		c.overloadTotal.Add(1)
		return &store.OpResult{Err: store.NewOverloadedError("raft apply overloaded: pending queue is full", 50)}
	}

	opBytes, err := store.MarshalOp(opType, data)
	if err != nil {
		return &store.OpResult{Err: fmt.Errorf("marshal op: %w", err)}
	}
	future := c.raft.Apply(opBytes, c.config.ApplyTimeout)
	if err := future.Error(); err != nil {
		if errors.Is(err, raft.ErrNotLeader) || errors.Is(err, raft.ErrLeadershipLost) {
			return &store.OpResult{Err: store.NewNotLeaderError(c.LeaderAddr())}
		}
		return &store.OpResult{Err: fmt.Errorf("raft apply: %w", err)}
	}
	result, ok := future.Response().(*store.OpResult)
	if !ok {
		return &store.OpResult{Err: fmt.Errorf("unexpected response type: %T", future.Response())}
	}
	c.appliedTotal.Add(1)
	return result
}

// DB returns the local KV store for read queries.
func (c *Cluster) DB() kvstore.DB {
	return c.db
}

// IsLeader returns true if this node is the Raft leader.
func (c *Cluster) IsLeader() bool {
	return c.raft.State() == raft.Leader
}

// LeaderAddr returns the Raft address of the current leader.
func (c *Cluster) LeaderAddr() string {
	addr, _ := c.raft.LeaderWithID()
	return string(addr)
}

// LeaderID returns the ID of the current leader.
func (c *Cluster) LeaderID() string {
	_, id := c.raft.LeaderWithID()
	return string(id)
}

// State returns the Raft state (leader, follower, candidate).
func (c *Cluster) State() string {
	return c.raft.State().String()
}

// AddVoter adds a new voting member to the cluster.
func (c *Cluster) AddVoter(nodeID, addr string) error {
	return c.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(addr), 0, c.config.ApplyTimeout).Error()
}

// WaitForLeader blocks until any node is known as leader.
func (c *Cluster) WaitForLeader(timeout time.Duration) error {
	deadline := time.After(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-deadline:
			return fmt.Errorf("timeout waiting for leader")
		case <-ticker.C:
			if addr, _ := c.raft.LeaderWithID(); addr != "" {
				return nil
			}
		}
	}
}

// joinRetryInterval spaces join attempts while the target is still
// electing a leader or not yet listening.
var joinRetryInterval = 500 * time.Millisecond

// JoinCluster asks the node serving HTTP at target to add this node as a
// voter, retrying until ctx is done. A join rejected by a reachable leader
// is not retried.
func (c *Cluster) JoinCluster(ctx context.Context, target string) error {
	joinURL, err := joinEndpoint(target)
	if err != nil {
		return err
	}
	body, err := json.Marshal(map[string]string{
		"node_id": c.config.NodeID,
		"addr":    string(c.transport.LocalAddr()),
	})
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: c.config.ApplyTimeout}
	for attempt := 1; ; attempt++ {
		retry, err := postJoin(ctx, client, joinURL, body)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		slog.Debug("cluster join attempt failed", "target", joinURL, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("join %s: %w (last error: %v)", joinURL, ctx.Err(), err)
		case <-time.After(joinRetryInterval):
		}
	}
}

func joinEndpoint(target string) (string, error) {
	base := strings.TrimSpace(target)
	if base == "" {
		return "", fmt.Errorf("join address is required")
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("parse join address: %w", err)
	}
	return u.String() + "/api/v1/cluster/join", nil
}

// postJoin sends one join request. retry is true for transport errors and
// for targets that are not (yet) the leader.
func postJoin(ctx context.Context, client *http.Client, joinURL string, body []byte) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create join request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		return true, fmt.Errorf("join request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode/100 == 2 {
		return false, nil
	}
	var m struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	_ = json.NewDecoder(res.Body).Decode(&m)
	if m.Error == "" {
		m.Error = fmt.Sprintf("status %d", res.StatusCode)
	}
	return res.StatusCode == http.StatusServiceUnavailable, fmt.Errorf("join rejected: %s", m.Error)
}

// ServerInfo describes a node in the cluster.
type ServerInfo struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Voter   bool   `json:"voter"`
}

// Configuration returns the current Raft cluster configuration.
func (c *Cluster) Configuration() ([]ServerInfo, error) {
	future := c.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, err
	}
	var servers []ServerInfo
	for _, s := range future.Configuration().Servers {
		servers = append(servers, ServerInfo{
			ID:      string(s.ID),
			Address: string(s.Address),
			Voter:   s.Suffrage == raft.Voter,
		})
	}
	return servers, nil
}

// ClusterStatus summarizes the node for the status endpoint.
func (c *Cluster) ClusterStatus() map[string]any {
	stats := c.raft.Stats()
	servers, _ := c.Configuration()
	return map[string]any{
		"mode":              "cluster",
		"state":             c.State(),
		"node_id":           c.config.NodeID,
		"leader_id":         c.LeaderID(),
		"leader_addr":       c.LeaderAddr(),
		"applied_index":     stats["applied_index"],
		"commit_index":      stats["commit_index"],
		"raft_store":        c.config.RaftStore,
		"kv_backend":        c.config.KVBackend,
		"apply_pending_now": len(c.pending),
		"overload_total":    c.overloadTotal.Load(),
		"applied_total":     c.appliedTotal.Load(),
		"fsm":               c.fsm.Stats(),
		"snapshot":          c.snapshotStatus(),
		"nodes":             servers,
	}
}

func (c *Cluster) snapshotStatus() map[string]any {
	list, err := c.snapshot.List()
	if err != nil {
		return map[string]any{"count": 0, "error": err.Error()}
	}
	out := map[string]any{"count": len(list)}
	if len(list) > 0 {
		out["latest_id"] = list[0].ID
		out["latest_index"] = list[0].Index
		out["latest_term"] = list[0].Term
	}
	return out
}

// Snapshot forces a snapshot of the FSM.
func (c *Cluster) Snapshot() error {
	return c.raft.Snapshot().Error()
}

// Shutdown stops the Raft node and closes all stores.
func (c *Cluster) Shutdown() error {
	slog.Info("shutting down raft cluster")
	if err := c.raft.Shutdown().Error(); err != nil {
		slog.Error("raft shutdown error", "error", err)
	}
	if err := c.transport.Close(); err != nil {
		slog.Error("transport close error", "error", err)
	}
	if err := c.logStore.Close(); err != nil {
		slog.Error("log store close error", "error", err)
	}
	if err := c.db.Close(); err != nil {
		slog.Error("kv store close error", "error", err)
	}
	slog.Info("raft cluster shut down")
	return nil
}

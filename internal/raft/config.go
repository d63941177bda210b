package raft

import "time"

// ClusterConfig configures the Raft cluster node.
type ClusterConfig struct {
	NodeID            string        // Unique node identifier
	DataDir           string        // Base directory for the KV store and raft logs
	RaftBind          string        // Raft transport bind address (e.g. ":9000")
	RaftAdvertise     string        // Advertised Raft address peers should dial (e.g. "127.0.0.1:9000")
	RaftStore         string        // Raft log/stable backend: bolt, badger, pebble, or sqlite
	RaftNoSync        bool          // Disable Raft log fsync (unsafe; benchmark only)
	KVBackend         string        // Poll state backend: pebble, badger, sqlite, or memory
	KVNoSync          bool          // Disable KV fsync (unsafe; benchmark only)
	Bootstrap         bool          // Bootstrap as single-node cluster
	JoinAddr          string        // HTTP address of an existing node to join through
	ApplyTimeout      time.Duration // Timeout for raft.Apply (default 10s)
	ApplyMaxPending   int           // Max in-flight applies before fail-fast backpressure
	SnapshotThreshold uint64        // Log entries between snapshots
	SnapshotInterval  time.Duration // How often raft checks whether to snapshot
}

// DefaultClusterConfig returns a ClusterConfig with sensible defaults.
func DefaultClusterConfig() ClusterConfig {
	return ClusterConfig{
		NodeID:            "node-1",
		DataDir:           "data",
		RaftBind:          ":9000",
		RaftStore:         "bolt",
		KVBackend:         "pebble",
		Bootstrap:         true,
		ApplyTimeout:      10 * time.Second,
		ApplyMaxPending:   1024,
		SnapshotThreshold: 2048,
		SnapshotInterval:  time.Minute,
	}
}

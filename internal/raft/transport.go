package raft

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/hashicorp/raft"
)

const (
	transportMaxPool = 4
	transportTimeout = 10 * time.Second
)

// newTCPTransport creates the Raft TCP transport. Peers dial the advertised
// address, which defaults to loopback for a wildcard bind.
func newTCPTransport(bindAddr, advertiseAddr string) (*raft.NetworkTransport, error) {
	bind, err := net.ResolveTCPAddr("tcp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve raft bind %q: %w", bindAddr, err)
	}
	advertise, err := resolveAdvertiseAddr(bind, advertiseAddr)
	if err != nil {
		return nil, err
	}
	return raft.NewTCPTransport(bind.String(), advertise, transportMaxPool, transportTimeout, newRaftLogWriter("raft-net"))
}

func resolveAdvertiseAddr(bind *net.TCPAddr, advertiseAddr string) (*net.TCPAddr, error) {
	if advertiseAddr != "" {
		return net.ResolveTCPAddr("tcp", advertiseAddr)
	}
	if bind == nil {
		return nil, fmt.Errorf("invalid raft bind address")
	}
	if bind.IP == nil || bind.IP.IsUnspecified() {
		return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: bind.Port}, nil
	}
	return bind, nil
}

// raftLogWriter re-emits the raft library's line-oriented log output through
// slog so a node has a single log format. The level is taken from the
// "[LEVEL]" marker the library writes.
type raftLogWriter struct {
	component string
	logger    *slog.Logger
}

func newRaftLogWriter(component string) io.Writer {
	return &raftLogWriter{component: component}
}

func (w *raftLogWriter) Write(p []byte) (int, error) {
	logger := w.logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, line := range bytes.Split(p, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		level, msg := splitRaftLevel(line)
		logger.Log(context.Background(), level, msg, "component", w.component)
	}
	return len(p), nil
}

var raftLevels = []struct {
	marker []byte
	level  slog.Level
}{
	{[]byte("[ERROR]"), slog.LevelError},
	{[]byte("[WARN]"), slog.LevelWarn},
	{[]byte("[INFO]"), slog.LevelInfo},
	{[]byte("[DEBUG]"), slog.LevelDebug},
	{[]byte("[TRACE]"), slog.LevelDebug - 4},
}

// splitRaftLevel drops everything up to and including the level marker
// (the library's own timestamp) and returns the remaining message.
func splitRaftLevel(line []byte) (slog.Level, string) {
	for _, l := range raftLevels {
		if i := bytes.Index(line, l.marker); i >= 0 {
			return l.level, string(bytes.TrimSpace(line[i+len(l.marker):]))
		}
	}
	return slog.LevelInfo, string(line)
}

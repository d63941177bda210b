package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/user/polld/internal/engine"
	"github.com/user/polld/internal/kvstore"
	"github.com/user/polld/internal/observability"
	raftcluster "github.com/user/polld/internal/raft"
	rpcsvc "github.com/user/polld/internal/rpcconnect"
	"github.com/user/polld/internal/server"
	"github.com/user/polld/internal/store"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the polld server",
	RunE:  runServer,
}

var (
	bindAddr          string
	dataDir           string
	kvBackend         string
	clusterMode       bool
	raftBind          string
	raftAdvertise     string
	nodeID            string
	bootstrap         bool
	joinAddr          string
	durableMode       bool
	raftStore         string
	applyTimeout      time.Duration
	raftMaxPending    int
	snapshotThreshold int
	shutdownTimeout   time.Duration
	otelEnabled       bool
	otelEndpoint      string
	otelSampleRatio   float64
	jwtSecret         string
	jwtIssuer         string
	jwtAudience       string
	requireToken      bool
	oidcIssuerURL     string
	oidcClientID      string
	oidcSenderClaim   string
	rpcEnabled        bool
	rateLimit         server.RateLimitConfig
)

func init() {
	f := serverCmd.Flags()
	f.StringVar(&bindAddr, "bind", ":8080", "HTTP server bind address")
	f.StringVar(&dataDir, "data-dir", "data", "Directory for poll state and raft files")
	f.StringVar(&kvBackend, "kv-backend", "pebble", "Poll state backend: pebble, badger, sqlite, or memory")
	f.BoolVar(&clusterMode, "cluster", false, "Replicate commands through raft instead of applying them directly")
	f.StringVar(&raftBind, "raft-bind", ":9000", "Raft transport bind address")
	f.StringVar(&raftAdvertise, "raft-advertise", "", "Raft advertised address for peers (defaults to 127.0.0.1:<raft-bind-port> when bind is wildcard)")
	f.StringVar(&nodeID, "node-id", "node-1", "Unique node ID")
	f.BoolVar(&bootstrap, "bootstrap", true, "Bootstrap a new single-node cluster")
	f.StringVar(&joinAddr, "join", "", "Join an existing cluster via a member's HTTP address")
	f.BoolVar(&durableMode, "durable", false, "Fsync the raft log on every write")
	f.StringVar(&raftStore, "raft-store", "bolt", "Raft log/stable backend: bolt, badger, pebble, or sqlite")
	f.DurationVar(&applyTimeout, "apply-timeout", 10*time.Second, "Raft apply timeout")
	f.IntVar(&raftMaxPending, "raft-max-pending", 1024, "Max pending raft applies before backpressure")
	f.IntVar(&snapshotThreshold, "snapshot-threshold", 0, "Raft log entries between snapshots (0 = default)")
	f.DurationVar(&shutdownTimeout, "shutdown-timeout", 5*time.Second, "Graceful HTTP shutdown timeout")
	f.BoolVar(&otelEnabled, "otel-enabled", false, "Enable OpenTelemetry tracing")
	f.StringVar(&otelEndpoint, "otel-endpoint", "", "OTLP HTTP endpoint (host:port) for traces; if empty uses stdout exporter")
	f.Float64Var(&otelSampleRatio, "otel-sample-ratio", 1, "Fraction of traces to sample")
	f.StringVar(&jwtSecret, "jwt-secret", "", "HS256 secret for bearer tokens (enables JWT callers)")
	f.StringVar(&jwtIssuer, "jwt-issuer", "", "Required JWT issuer")
	f.StringVar(&jwtAudience, "jwt-audience", "", "Required JWT audience")
	f.BoolVar(&requireToken, "require-token", false, "Ignore the X-Poll-Sender header; callers must present a bearer token")
	f.StringVar(&oidcIssuerURL, "oidc-issuer-url", "", "OIDC issuer URL (enables OIDC ID token callers)")
	f.StringVar(&oidcClientID, "oidc-client-id", "", "OIDC client/audience ID")
	f.StringVar(&oidcSenderClaim, "oidc-sender-claim", "sub", "ID token claim used as caller identity")
	f.BoolVar(&rpcEnabled, "rpc", true, "Serve the Connect PollService API")
	f.BoolVar(&rateLimit.Enabled, "rate-limit-enabled", false, "Throttle requests per caller")
	f.Float64Var(&rateLimit.ReadRPS, "rate-limit-read-rps", 200, "Per-caller query requests per second")
	f.IntVar(&rateLimit.ReadBurst, "rate-limit-read-burst", 400, "Per-caller query burst")
	f.Float64Var(&rateLimit.WriteRPS, "rate-limit-write-rps", 20, "Per-caller command requests per second")
	f.IntVar(&rateLimit.WriteBurst, "rate-limit-write-burst", 40, "Per-caller command burst")

	rootCmd.AddCommand(serverCmd)
}

// applierRuntime is what the HTTP layer needs from either applier.
type applierRuntime interface {
	store.Applier
	DB() kvstore.DB
}

func runServer(cmd *cobra.Command, args []string) error {
	slog.Info("starting polld server",
		"bind", bindAddr,
		"data_dir", dataDir,
		"kv_backend", kvBackend,
		"cluster", clusterMode,
		"raft_bind", raftBind,
		"node_id", nodeID,
		"bootstrap", bootstrap,
		"join", joinAddr,
		"raft_store", raftStore,
		"durable_mode", durableMode,
		"otel_enabled", otelEnabled,
		"rpc", rpcEnabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observability.InitTracer(observability.TracerConfig{
		Enabled:     otelEnabled,
		Service:     engine.ServiceName,
		Version:     version,
		Endpoint:    otelEndpoint,
		SampleRatio: otelSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init otel: %w", err)
	}
	defer func() {
		if err := otelShutdown(context.Background()); err != nil {
			slog.Warn("otel shutdown error", "error", err)
		}
	}()

	eng := engine.New(engine.WithVersion(version))

	var (
		rt      applierRuntime
		opts    []server.Option
		cluster *raftcluster.Cluster
	)
	if clusterMode {
		cfg := raftcluster.DefaultClusterConfig()
		cfg.NodeID = nodeID
		cfg.DataDir = dataDir
		cfg.RaftBind = raftBind
		cfg.RaftAdvertise = raftAdvertise
		cfg.RaftStore = raftStore
		cfg.RaftNoSync = !durableMode
		cfg.KVBackend = kvBackend
		cfg.Bootstrap = bootstrap
		cfg.JoinAddr = joinAddr
		cfg.ApplyTimeout = applyTimeout
		cfg.ApplyMaxPending = raftMaxPending
		if snapshotThreshold > 0 {
			cfg.SnapshotThreshold = uint64(snapshotThreshold)
		}
		cluster, err = raftcluster.NewCluster(cfg, eng)
		if err != nil {
			return fmt.Errorf("start raft cluster: %w", err)
		}
		defer cluster.Shutdown()

		if !bootstrap && joinAddr != "" {
			joinCtx, cancel := context.WithTimeout(ctx, time.Minute)
			err := cluster.JoinCluster(joinCtx, joinAddr)
			cancel()
			if err != nil {
				return fmt.Errorf("join cluster: %w", err)
			}
			slog.Info("joined cluster", "target", joinAddr, "node_id", nodeID)
		}
		if err := cluster.WaitForLeader(10 * time.Second); err != nil {
			return fmt.Errorf("wait for leader: %w", err)
		}
		rt = cluster
		opts = append(opts, server.WithCluster(cluster))
	} else {
		da, err := raftcluster.NewDirectApplier(kvstore.Config{Backend: kvBackend, Dir: dataDir}, eng)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer da.Close()
		rt = da
	}

	s := store.NewStore(rt, rt.DB(), eng.Validator())

	if jwtSecret != "" {
		opts = append(opts, server.WithJWT(server.JWTConfig{
			Secret:   []byte(jwtSecret),
			Issuer:   jwtIssuer,
			Audience: jwtAudience,
		}))
	}
	if oidcIssuerURL != "" {
		verifier, err := server.NewOIDCVerifier(ctx, server.OIDCConfig{IssuerURL: oidcIssuerURL, ClientID: oidcClientID})
		if err != nil {
			return err
		}
		opts = append(opts, server.WithOIDC(verifier, oidcSenderClaim))
	}
	if requireToken && jwtSecret == "" && oidcIssuerURL == "" {
		return fmt.Errorf("--require-token needs --jwt-secret or --oidc-issuer-url")
	}
	opts = append(opts, server.WithRequireToken(requireToken), server.WithRateLimit(rateLimit))
	if rpcEnabled {
		path, handler, _ := rpcsvc.NewHandler(s)
		opts = append(opts, server.WithRPC(path, handler))
	}

	srv := server.New(s, bindAddr, opts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown error", "error", err)
		}
		return nil
	})
	return g.Wait()
}

package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/user/polld/internal/store"
)

// ClusterInfo is the part of the raft cluster the HTTP API exposes.
type ClusterInfo interface {
	ClusterStatus() map[string]any
	AddVoter(nodeID, addr string) error
	IsLeader() bool
}

// Server is the HTTP server for polld.
type Server struct {
	store        *store.Store
	cluster      ClusterInfo
	jwtAuth      *jwtAuthenticator
	oidcAuth     *oidcAuthenticator
	requireToken bool
	rpcPath      string
	rpcHandler   http.Handler
	limiter      *rateLimiter
	httpServer   *http.Server
	router       chi.Router
}

type Option func(*Server)

// WithCluster exposes cluster status and join endpoints.
func WithCluster(c ClusterInfo) Option {
	return func(s *Server) { s.cluster = c }
}

// WithJWT accepts HS256 bearer tokens.
func WithJWT(cfg JWTConfig) Option {
	return func(s *Server) { s.jwtAuth = newJWTAuthenticator(cfg) }
}

// WithOIDC accepts ID tokens checked by verifier; claim names the identity
// claim ("" means sub).
func WithOIDC(verifier *oidc.IDTokenVerifier, claim string) Option {
	return func(s *Server) {
		if verifier != nil {
			s.oidcAuth = &oidcAuthenticator{verifier: verifier, claim: claim}
		}
	}
}

// WithRequireToken ignores the sender header so only bearer tokens identify callers.
func WithRequireToken(v bool) Option {
	return func(s *Server) { s.requireToken = v }
}

// WithRPC serves a Connect handler under path. Callers are resolved the
// same way as for /api/v1.
func WithRPC(path string, h http.Handler) Option {
	return func(s *Server) {
		s.rpcPath = path
		s.rpcHandler = h
	}
}

// WithRateLimit throttles each caller once cfg.Enabled is set.
func WithRateLimit(cfg RateLimitConfig) Option {
	return func(s *Server) {
		if cfg.Enabled {
			s.limiter = newRateLimiter(cfg)
		}
	}
}

// New creates a new Server.
func New(st *store.Store, bindAddr string, opts ...Option) *Server {
	srv := &Server{store: st}
	for _, opt := range opts {
		opt(srv)
	}
	srv.router = srv.buildRouter()
	srv.httpServer = &http.Server{
		Addr:              bindAddr,
		Handler:           h2c.NewHandler(srv.router, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(structuredLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		if s.limiter != nil {
			r.Use(s.limiter.middleware)
		}

		r.Post("/instantiate", s.handleInstantiate)
		r.Post("/polls", s.handleCreatePoll)
		r.Post("/polls/{poll_id}/vote", s.handleVote)
		r.Get("/polls", s.handleListPolls)
		r.Get("/polls/{poll_id}", s.handleGetPoll)
		r.Get("/polls/{poll_id}/votes/{address}", s.handleGetVote)
		r.Get("/config", s.handleConfig)
		r.Get("/events", s.handleEvents)

		r.Post("/execute", s.handleExecute)
		r.Post("/query", s.handleQuery)

		r.Post("/cluster/join", s.handleClusterJoin)
		r.Get("/cluster/status", s.handleClusterStatus)
	})

	if s.rpcHandler != nil {
		rr := r.With(s.authMiddleware)
		if s.limiter != nil {
			rr = rr.With(s.limiter.middleware)
		}
		rr.Handle(s.rpcPath+"*", s.rpcHandler)
	}

	r.Get("/healthz", s.handleHealthz)

	return r
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	slog.Info("HTTP server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("HTTP server shutting down")
	if s.limiter != nil {
		s.limiter.close()
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// JSON response helpers

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, code string) {
	writeJSON(w, status, map[string]string{"error": msg, "code": code})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// Middleware

func structuredLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+SenderHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

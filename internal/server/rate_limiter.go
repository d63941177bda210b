package server

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/user/polld/internal/identity"
)

// RateLimitConfig bounds request rates per caller. Votes and poll
// creation draw from the write bucket, queries from the read bucket.
type RateLimitConfig struct {
	Enabled    bool
	ReadRPS    float64
	ReadBurst  int
	WriteRPS   float64
	WriteBurst int
}

type callerLimiters struct {
	read  *rate.Limiter
	write *rate.Limiter
	last  time.Time
}

type rateLimiter struct {
	mu      sync.Mutex
	cfg     RateLimitConfig
	callers map[string]*callerLimiters
	ttl     time.Duration
	stop    chan struct{}
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	if cfg.ReadRPS <= 0 {
		cfg.ReadRPS = 200
	}
	if cfg.ReadBurst <= 0 {
		cfg.ReadBurst = 400
	}
	if cfg.WriteRPS <= 0 {
		cfg.WriteRPS = 20
	}
	if cfg.WriteBurst <= 0 {
		cfg.WriteBurst = 40
	}
	rl := &rateLimiter{
		cfg:     cfg,
		callers: map[string]*callerLimiters{},
		ttl:     10 * time.Minute,
		stop:    make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

func (r *rateLimiter) cleanupLoop() {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-t.C:
			r.evictIdle(time.Now())
		}
	}
}

func (r *rateLimiter) evictIdle(now time.Time) {
	cutoff := now.Add(-r.ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range r.callers {
		if v.last.Before(cutoff) {
			delete(r.callers, k)
		}
	}
}

func (r *rateLimiter) close() {
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
}

// reserve takes a token for key. When none is available it returns false
// and how long until one will be.
func (r *rateLimiter) reserve(key string, isWrite bool, now time.Time) (bool, time.Duration) {
	if !r.cfg.Enabled {
		return true, 0
	}
	r.mu.Lock()
	c := r.callers[key]
	if c == nil {
		c = &callerLimiters{
			read:  rate.NewLimiter(rate.Limit(r.cfg.ReadRPS), r.cfg.ReadBurst),
			write: rate.NewLimiter(rate.Limit(r.cfg.WriteRPS), r.cfg.WriteBurst),
		}
		r.callers[key] = c
	}
	c.last = now
	r.mu.Unlock()

	lim := c.read
	if isWrite {
		lim = c.write
	}
	res := lim.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Second
	}
	if d := res.DelayFrom(now); d > 0 {
		res.CancelAt(now)
		return false, d
	}
	return true, 0
}

func (r *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ok, wait := r.reserve(rateLimitKey(req), isWriteRequest(req), time.Now())
		if !ok {
			secs := int(math.Ceil(wait.Seconds()))
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded", "RATE_LIMITED")
			return
		}
		next.ServeHTTP(w, req)
	})
}

// isWriteRequest reports whether r changes state. Smart queries and the
// Connect query procedures are POSTs but still draw from the read bucket.
func isWriteRequest(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	p := r.URL.Path
	switch {
	case strings.HasSuffix(p, "/query"),
		strings.HasSuffix(p, "/AllPolls"),
		strings.HasSuffix(p, "/GetPoll"),
		strings.HasSuffix(p, "/GetVote"):
		return false
	}
	return true
}

// rateLimitKey prefers the resolved caller so one identity cannot spread
// votes across addresses; anonymous reads fall back to the client IP.
func rateLimitKey(r *http.Request) string {
	if s, _ := identity.SenderFromContext(r.Context()); s != "" {
		return "sender:" + hashSensitive(s)
	}
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		if ip := strings.TrimSpace(strings.Split(fwd, ",")[0]); ip != "" {
			return "ip:" + ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return "ip:" + host
	}
	if addr := strings.TrimSpace(r.RemoteAddr); addr != "" {
		return "ip:" + addr
	}
	return "unknown"
}

func hashSensitive(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:8])
}

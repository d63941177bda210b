package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/user/polld/internal/identity"
)

// SenderHeader carries the caller identity when no bearer token is used.
const SenderHeader = "X-Poll-Sender"

var errInvalidToken = errors.New("invalid bearer token")

// JWTConfig enables HS256 bearer tokens. The subject claim is the caller.
type JWTConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
}

type jwtAuthenticator struct {
	secret []byte
	opts   []jwt.ParserOption
}

func newJWTAuthenticator(cfg JWTConfig) *jwtAuthenticator {
	if len(cfg.Secret) == 0 {
		return nil
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(30 * time.Second),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &jwtAuthenticator{secret: cfg.Secret, opts: opts}
}

func (a *jwtAuthenticator) subject(raw string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, a.opts...)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return claims.Subject, nil
}

// SignToken issues an HS256 token for subject. Used by the CLI and tests.
func SignToken(cfg JWTConfig, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.Secret)
}

func bearerToken(r *http.Request) (string, bool) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(authz) < len("bearer ") || !strings.EqualFold(authz[:len("bearer ")], "bearer ") {
		return "", false
	}
	raw := strings.TrimSpace(authz[len("bearer "):])
	return raw, raw != ""
}

// resolveSender finds the caller of r. A bearer token wins over the
// sender header; a token that no configured verifier accepts is an error.
func (s *Server) resolveSender(r *http.Request) (string, error) {
	if raw, ok := bearerToken(r); ok {
		if s.jwtAuth != nil {
			sub, err := s.jwtAuth.subject(raw)
			if err == nil {
				return sub, nil
			}
			slog.Debug("jwt rejected", "error", err)
		}
		if s.oidcAuth != nil {
			sub, err := s.oidcAuth.subject(r.Context(), raw)
			if err == nil {
				return sub, nil
			}
			slog.Debug("oidc token rejected", "error", err)
		}
		return "", errInvalidToken
	}
	if s.requireToken {
		return "", nil
	}
	return strings.TrimSpace(r.Header.Get(SenderHeader)), nil
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sender, err := s.resolveSender(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error(), "UNAUTHORIZED")
			return
		}
		next.ServeHTTP(w, r.WithContext(identity.WithSender(r.Context(), sender)))
	})
}

// requireSender writes a 401 and returns false when the request has no caller.
func requireSender(w http.ResponseWriter, r *http.Request) (string, bool) {
	sender, _ := identity.SenderFromContext(r.Context())
	if sender == "" {
		writeError(w, http.StatusUnauthorized, "caller identity required (bearer token or "+SenderHeader+" header)", "UNAUTHORIZED")
		return "", false
	}
	return sender, true
}

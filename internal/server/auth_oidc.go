package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

type OIDCConfig struct {
	IssuerURL string
	ClientID  string
}

type oidcAuthenticator struct {
	verifier *oidc.IDTokenVerifier
	claim    string
}

// NewOIDCVerifier discovers the issuer and returns a verifier for its ID tokens.
func NewOIDCVerifier(ctx context.Context, cfg OIDCConfig) (*oidc.IDTokenVerifier, error) {
	provider, err := oidc.NewProvider(ctx, strings.TrimSpace(cfg.IssuerURL))
	if err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}
	return provider.Verifier(&oidc.Config{ClientID: strings.TrimSpace(cfg.ClientID)}), nil
}

func (a *oidcAuthenticator) subject(ctx context.Context, raw string) (string, error) {
	idToken, err := a.verifier.Verify(ctx, raw)
	if err != nil {
		return "", err
	}
	if a.claim == "" || a.claim == "sub" {
		return idToken.Subject, nil
	}
	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return "", err
	}
	v, _ := claims[a.claim].(string)
	if strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("claim %q missing", a.claim)
	}
	return strings.TrimSpace(v), nil
}

package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

// OIDCResolver verifies tokens against the issuer's published keys.
type OIDCResolver struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCResolver discovers the provider. An empty clientID skips the audience check.
func NewOIDCResolver(ctx context.Context, issuer, clientID string) (*OIDCResolver, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}
	verifier := provider.Verifier(&oidc.Config{
		ClientID:          clientID,
		SkipClientIDCheck: clientID == "",
	})
	return &OIDCResolver{verifier: verifier}, nil
}

func (o *OIDCResolver) Resolve(ctx context.Context, rawToken string) (*Identity, error) {
	if rawToken == "" {
		return nil, ErrNoToken
	}
	idToken, err := o.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	var c claims
	if err := idToken.Claims(&c); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}
	c.Subject = idToken.Subject
	return c.identity()
}

package auth

import (
	"context"
	"net/http"

	"ms-checkout/internal/apperr"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/utils"
)

type contextKey string

const identityKey contextKey = "identity"

// Required rejects requests without a valid bearer token. With roles given, the caller must
// hold at least one of them.
func Required(resolver Resolver, log *logger.Logger, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawToken, err := ExtractTokenFromRequest(r)
			if err != nil {
				utils.WriteError(w, log, "AUTH", apperr.New(apperr.CodeUnauthorized, err.Error()))
				return
			}

			identity, err := resolver.Resolve(r.Context(), rawToken)
			if err != nil {
				log.LogSecurity("TOKEN_REJECTED", r.URL.Path)
				utils.WriteError(w, log, "AUTH", apperr.New(apperr.CodeUnauthorized, "invalid token"))
				return
			}
			if len(roles) > 0 && !identity.HasRole(roles...) {
				log.LogSecurity("ROLE_MISSING", identity.UserID+" on "+r.URL.Path)
				utils.WriteError(w, log, "AUTH", apperr.New(apperr.CodeForbidden, "missing role"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// ResolveOptional returns the caller for a valid token, nil otherwise. Failures are never
// errors: the caller continues as a guest.
func ResolveOptional(ctx context.Context, resolver Resolver, rawToken string) *Identity {
	if resolver == nil || rawToken == "" {
		return nil
	}
	identity, err := resolver.Resolve(ctx, rawToken)
	if err != nil {
		return nil
	}
	return identity
}

// OptionalToken returns the bearer token of r, or "" when there is none.
func OptionalToken(r *http.Request) string {
	rawToken, err := ExtractTokenFromRequest(r)
	if err != nil {
		return ""
	}
	return rawToken
}

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

func FromContext(ctx context.Context) *Identity {
	identity, _ := ctx.Value(identityKey).(*Identity)
	return identity
}

// Helper to extract user ID in handlers
func UserID(ctx context.Context) string {
	if identity := FromContext(ctx); identity != nil {
		return identity.UserID
	}
	return ""
}

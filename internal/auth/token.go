package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNoToken = errors.New("authorization header is missing")

// Identity is the caller resolved from a bearer credential.
type Identity struct {
	UserID string
	Email  string
	Roles  []string
}

func (i *Identity) HasRole(roles ...string) bool {
	if i == nil {
		return false
	}
	for _, want := range roles {
		for _, have := range i.Roles {
			if strings.EqualFold(want, have) {
				return true
			}
		}
	}
	return false
}

// Resolver verifies a raw bearer token.
type Resolver interface {
	Resolve(ctx context.Context, rawToken string) (*Identity, error)
}

// ExtractTokenFromRequest extracts a JWT token from an HTTP request's Authorization header
func ExtractTokenFromRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrNoToken
	}

	// Bearer token format: "Bearer {token}"
	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("authorization header format must be 'Bearer {token}'")
	}

	return parts[1], nil
}

type claims struct {
	Email       string   `json:"email"`
	Roles       []string `json:"roles"`
	RealmAccess struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
	jwt.RegisteredClaims
}

func (c *claims) identity() (*Identity, error) {
	if c.Subject == "" {
		return nil, errors.New("subject claim not found in token")
	}
	roles := append(append([]string(nil), c.Roles...), c.RealmAccess.Roles...)
	return &Identity{UserID: c.Subject, Email: c.Email, Roles: roles}, nil
}

// HMACResolver verifies HS256 tokens signed with a shared secret.
type HMACResolver struct {
	secret []byte
	parser *jwt.Parser
}

func NewHMACResolver(secret string) *HMACResolver {
	return &HMACResolver{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()),
	}
}

func (h *HMACResolver) Resolve(_ context.Context, rawToken string) (*Identity, error) {
	if rawToken == "" {
		return nil, ErrNoToken
	}
	var c claims
	_, err := h.parser.ParseWithClaims(rawToken, &c, func(*jwt.Token) (any, error) {
		return h.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return c.identity()
}

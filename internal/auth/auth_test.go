package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-checkout/internal/logger"
)

const secret = "unit-test-secret"

func sign(t *testing.T, key string, method jwt.SigningMethod, c jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, c).SignedString([]byte(key))
	require.NoError(t, err)
	return token
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":          "user-1",
		"email":        "ada@example.com",
		"exp":          time.Now().Add(time.Hour).Unix(),
		"realm_access": map[string]any{"roles": []string{"SCANNER"}},
	}
}

func TestHMACResolver(t *testing.T) {
	r := NewHMACResolver(secret)
	ctx := context.Background()

	identity, err := r.Resolve(ctx, sign(t, secret, jwt.SigningMethodHS256, validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "user-1", identity.UserID)
	assert.Equal(t, "ada@example.com", identity.Email)
	assert.True(t, identity.HasRole("scanner"))
	assert.False(t, identity.HasRole("ORGANIZER"))

	_, err = r.Resolve(ctx, sign(t, "other-secret", jwt.SigningMethodHS256, validClaims()))
	assert.Error(t, err, "wrong signature")

	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Minute).Unix()
	_, err = r.Resolve(ctx, sign(t, secret, jwt.SigningMethodHS256, expired))
	assert.Error(t, err, "expired")

	noSub := validClaims()
	delete(noSub, "sub")
	_, err = r.Resolve(ctx, sign(t, secret, jwt.SigningMethodHS256, noSub))
	assert.Error(t, err, "no subject")

	_, err = r.Resolve(ctx, sign(t, secret, jwt.SigningMethodHS512, validClaims()))
	assert.Error(t, err, "unexpected algorithm")
}

func TestExtractTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := ExtractTokenFromRequest(req)
	assert.ErrorIs(t, err, ErrNoToken)

	req.Header.Set("Authorization", "Basic abc")
	_, err = ExtractTokenFromRequest(req)
	assert.Error(t, err)

	req.Header.Set("Authorization", "bearer abc")
	token, err := ExtractTokenFromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "abc", token)
}

func TestResolveOptionalFallsBackToGuest(t *testing.T) {
	r := NewHMACResolver(secret)
	ctx := context.Background()

	assert.Nil(t, ResolveOptional(ctx, r, ""))
	assert.Nil(t, ResolveOptional(ctx, r, "garbage"))
	assert.Nil(t, ResolveOptional(ctx, nil, "garbage"))

	identity := ResolveOptional(ctx, r, sign(t, secret, jwt.SigningMethodHS256, validClaims()))
	require.NotNil(t, identity)
	assert.Equal(t, "user-1", identity.UserID)
}

func TestRequiredMiddleware(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	cases := []struct {
		name   string
		header string
		roles  []string
		status int
	}{
		{"missing", "", nil, http.StatusUnauthorized},
		{"invalid", "Bearer nope", nil, http.StatusUnauthorized},
		{"valid", "Bearer " + sign(t, secret, jwt.SigningMethodHS256, validClaims()), nil, http.StatusNoContent},
		{"role held", "Bearer " + sign(t, secret, jwt.SigningMethodHS256, validClaims()), []string{"SCANNER"}, http.StatusNoContent},
		{"role missing", "Bearer " + sign(t, secret, jwt.SigningMethodHS256, validClaims()), []string{"ORGANIZER"}, http.StatusForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seen = ""
			h := Required(NewHMACResolver(secret), logger.NewNop(), tc.roles...)(next)
			req := httptest.NewRequest(http.MethodPost, "/refunds", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusNoContent {
				assert.Equal(t, "user-1", seen)
			} else {
				assert.Empty(t, seen)
			}
		})
	}
}

package ticket_api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ms-checkout/internal/apperr"
	"ms-checkout/internal/auth"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
)

const secret = "ticket-api-secret"

// MockTicketService is a mock implementation of TicketService
type MockTicketService struct {
	mock.Mock
}

func (m *MockTicketService) Scan(ctx context.Context, scanToken string) (*models.TicketInstance, error) {
	args := m.Called(ctx, scanToken)
	res, _ := args.Get(0).(*models.TicketInstance)
	return res, args.Error(1)
}

func token(t *testing.T, roles ...string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "scanner-1", "exp": time.Now().Add(time.Hour).Unix(), "roles": roles,
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func scan(t *testing.T, svc TicketService, bearer, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	NewHandler(svc, auth.NewHMACResolver(secret), logger.NewNop()).RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodPost, "/tickets/scan", strings.NewReader(body))
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestScanTicket(t *testing.T) {
	at := time.Date(2026, 6, 1, 19, 30, 0, 0, time.UTC)
	svc := &MockTicketService{}
	svc.On("Scan", mock.Anything, "scan-token").Return(&models.TicketInstance{
		ID: "t1", OrderID: "o1", TicketTypeID: "ga", Status: models.TicketCheckedIn, CheckedInAt: &at,
	}, nil)

	rec := scan(t, svc, token(t, SCANNER_ROLE), `{"token":"scan-token"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Data scanResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "t1", body.Data.TicketID)
	assert.Equal(t, "checked_in", body.Data.Status)
	assert.Equal(t, "2026-06-01T19:30:00Z", body.Data.CheckedInAt)
}

func TestScanTicketRequiresScanner(t *testing.T) {
	svc := &MockTicketService{}
	body := `{"token":"scan-token"}`

	assert.Equal(t, http.StatusUnauthorized, scan(t, svc, "", body).Code)
	assert.Equal(t, http.StatusForbidden, scan(t, svc, token(t, "ORGANIZER"), body).Code)
	svc.AssertNotCalled(t, "Scan", mock.Anything, mock.Anything)
}

func TestScanTicketValidation(t *testing.T) {
	svc := &MockTicketService{}
	rec := scan(t, svc, token(t, SCANNER_ROLE), `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"VALIDATION_FAILED"`)
}

func TestSecondScanReportsFirstCheckIn(t *testing.T) {
	svc := &MockTicketService{}
	svc.On("Scan", mock.Anything, "scan-token").Return(nil,
		apperr.New(apperr.CodeTicketCheckedIn, "ticket already checked in").
			WithDetails(map[string]any{"checked_in_at": "2026-06-01T19:30:00Z"}))

	rec := scan(t, svc, token(t, SCANNER_ROLE), `{"token":"scan-token"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"TICKET_ALREADY_CHECKED_IN"`)
	assert.Contains(t, rec.Body.String(), `"checked_in_at":"2026-06-01T19:30:00Z"`)
}

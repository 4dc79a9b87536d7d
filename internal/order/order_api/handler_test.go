package order_api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ms-checkout/internal/apperr"
	"ms-checkout/internal/inventory"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
	"ms-checkout/internal/order"
	orderredis "ms-checkout/internal/order/redis"
)

// MockOrderService is a mock implementation of OrderService
type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) CreateOrder(ctx context.Context, req order.CreateOrderRequest, bearerToken string) (*order.CreateOrderResult, error) {
	args := m.Called(ctx, req, bearerToken)
	res, _ := args.Get(0).(*order.CreateOrderResult)
	return res, args.Error(1)
}

func (m *MockOrderService) Lookup(ctx context.Context, accessToken string) (*order.OrderView, error) {
	args := m.Called(ctx, accessToken)
	res, _ := args.Get(0).(*order.OrderView)
	return res, args.Error(1)
}

func (m *MockOrderService) CheckReservation(ctx context.Context, req order.CheckReservationRequest) (*inventory.Result, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*inventory.Result)
	return res, args.Error(1)
}

type envelope struct {
	Success bool            `json:"success"`
	Code    apperr.Code     `json:"code"`
	Data    json.RawMessage `json:"data"`
	Details json.RawMessage `json:"details"`
}

func newRouter(svc OrderService, limiter LookupLimiter) http.Handler {
	r := chi.NewRouter()
	NewHandler(svc, limiter, logger.NewNop()).RegisterRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, target, body string, header ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func TestCreateOrderPassesBearerToken(t *testing.T) {
	svc := &MockOrderService{}
	want := order.CreateOrderRequest{EventID: "ev1", Email: "ada@example.com",
		Items: []inventory.Line{{InventoryID: "ga", Quantity: 2}}}
	svc.On("CreateOrder", mock.Anything, want, "tok-123").Return(&order.CreateOrderResult{
		OrderID: "o1", Status: models.OrderPending, TotalAmount: 5000, Currency: "eur",
		CheckoutRedirectURL: "https://checkout.test/cs_1", AccessToken: "secret",
	}, nil)

	rec, env := do(t, newRouter(svc, nil), http.MethodPost, "/orders",
		`{"event_id":"ev1","email":"ada@example.com","items":[{"inventory_id":"ga","quantity":2}]}`,
		"Authorization", "Bearer tok-123")

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, env.Success)
	var data map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "o1", data["order_id"])
	assert.Equal(t, "https://checkout.test/cs_1", data["checkout_redirect_url"])
	svc.AssertExpectations(t)
}

func TestCreateOrderIgnoresClientPrices(t *testing.T) {
	svc := &MockOrderService{}
	want := order.CreateOrderRequest{EventID: "ev1", Email: "ada@example.com",
		Items: []inventory.Line{{InventoryID: "ga", Quantity: 1}}}
	svc.On("CreateOrder", mock.Anything, want, "").Return(&order.CreateOrderResult{
		OrderID: "o1", Status: models.OrderPending, Subtotal: 2500, TotalAmount: 2500, Currency: "eur",
	}, nil)

	rec, env := do(t, newRouter(svc, nil), http.MethodPost, "/orders",
		`{"event_id":"ev1","email":"ada@example.com","items":[{"inventory_id":"ga","quantity":1,"unit_price":1}],"total_price":1}`)

	assert.Equal(t, http.StatusCreated, rec.Code)
	var data map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, float64(2500), data["total_amount"])
	svc.AssertExpectations(t)
}

func TestCreateOrderRejectsMalformedBody(t *testing.T) {
	svc := &MockOrderService{}
	rec, env := do(t, newRouter(svc, nil), http.MethodPost, "/orders", `{"event_id":"ev1","items":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperr.CodeValidation, env.Code)
	svc.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateOrderMapsRejection(t *testing.T) {
	svc := &MockOrderService{}
	rejection := apperr.New(apperr.CodeCapacityExceeded, "cart rejected: vip").
		WithDetails([]inventory.ItemResult{{InventoryID: "vip", Quantity: 1, Reason: apperr.CodeCapacityExceeded}})
	svc.On("CreateOrder", mock.Anything, mock.Anything, "").Return(nil, rejection)

	rec, env := do(t, newRouter(svc, nil), http.MethodPost, "/orders",
		`{"event_id":"ev1","email":"ada@example.com","items":[{"inventory_id":"vip","quantity":1}]}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperr.CodeCapacityExceeded, env.Code)
	assert.Contains(t, string(env.Details), `"rejection_reason":"CAPACITY_EXCEEDED"`)
}

func TestLookupIsThrottledPerClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	svc := &MockOrderService{}
	svc.On("Lookup", mock.Anything, "tok").Return(&order.OrderView{Order: &models.Order{ID: "o1"}}, nil)
	h := newRouter(svc, orderredis.NewRedis(client, 2, time.Minute))

	for i := 0; i < 2; i++ {
		rec, _ := do(t, h, http.MethodGet, "/orders/lookup?token=tok", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	rec, env := do(t, h, http.MethodGet, "/orders/lookup?token=tok", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, apperr.CodeRateLimited, env.Code)
	svc.AssertNumberOfCalls(t, "Lookup", 2)
}

func TestLookupSurvivesRedisOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	svc := &MockOrderService{}
	svc.On("Lookup", mock.Anything, "tok").Return(nil, apperr.New(apperr.CodeOrderNotFound, "order not found"))

	rec, env := do(t, newRouter(svc, orderredis.NewRedis(client, 1, time.Minute)), http.MethodGet, "/orders/lookup?token=tok", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperr.CodeOrderNotFound, env.Code)
}

func TestCheckReservation(t *testing.T) {
	svc := &MockOrderService{}
	svc.On("CheckReservation", mock.Anything, order.CheckReservationRequest{EventID: "ev1",
		Items: []inventory.Line{{InventoryID: "ga", Quantity: 1}}}).
		Return(&inventory.Result{Valid: true, TotalPrice: 2500}, nil)

	rec, env := do(t, newRouter(svc, nil), http.MethodPost, "/reservations/check",
		`{"event_id":"ev1","items":[{"inventory_id":"ga","quantity":1,"unit_price":0}]}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"valid":true,"total_price":2500,"per_item":null}`, string(env.Data))
}

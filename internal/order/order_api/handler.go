package order_api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ms-checkout/internal/apperr"
	"ms-checkout/internal/auth"
	"ms-checkout/internal/inventory"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/order"
	"ms-checkout/internal/utils"
)

type OrderService interface {
	CreateOrder(ctx context.Context, req order.CreateOrderRequest, bearerToken string) (*order.CreateOrderResult, error)
	Lookup(ctx context.Context, accessToken string) (*order.OrderView, error)
	CheckReservation(ctx context.Context, req order.CheckReservationRequest) (*inventory.Result, error)
}

type LookupLimiter interface {
	AllowLookup(ctx context.Context, client string) (bool, error)
}

type Handler struct {
	OrderService OrderService
	Limiter      LookupLimiter
	Logger       *logger.Logger
}

func NewHandler(orderService OrderService, limiter LookupLimiter, log *logger.Logger) *Handler {
	return &Handler{OrderService: orderService, Limiter: limiter, Logger: log}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/orders", h.CreateOrder)
	r.Get("/orders/lookup", h.LookupOrder)
	r.Post("/reservations/check", h.CheckReservation)
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req order.CreateOrderRequest
	if err := utils.DecodeLenientJSONBody(r, &req); err != nil {
		utils.WriteError(w, h.Logger, "API", err)
		return
	}

	result, err := h.OrderService.CreateOrder(r.Context(), req, auth.OptionalToken(r))
	if err != nil {
		h.Logger.Info("API", fmt.Sprintf("CreateOrder rejected for event %s: %s", req.EventID, apperr.CodeOf(err)))
		utils.WriteError(w, h.Logger, "API", err)
		return
	}

	status := http.StatusCreated
	utils.WriteJSON(w, status, utils.SuccessResponse("order created", result))
	h.Logger.LogAPI(r.Method, r.URL.Path, status, time.Since(start))
}

// LookupOrder serves guests holding an order access token. Lookups are throttled per client
// address; a throttle that cannot reach Redis lets the request through.
func (h *Handler) LookupOrder(w http.ResponseWriter, r *http.Request) {
	if h.Limiter != nil {
		allowed, err := h.Limiter.AllowLookup(r.Context(), clientAddr(r))
		if err != nil {
			h.Logger.Warn("REDIS", fmt.Sprintf("lookup throttle unavailable: %v", err))
		} else if !allowed {
			h.Logger.LogSecurity("LOOKUP_THROTTLED", fmt.Sprintf("client=%s", clientAddr(r)))
			utils.WriteError(w, h.Logger, "API", apperr.New(apperr.CodeRateLimited, "too many lookups"))
			return
		}
	}

	view, err := h.OrderService.Lookup(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		utils.WriteError(w, h.Logger, "API", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("order found", view))
}

func (h *Handler) CheckReservation(w http.ResponseWriter, r *http.Request) {
	var req order.CheckReservationRequest
	if err := utils.DecodeLenientJSONBody(r, &req); err != nil {
		utils.WriteError(w, h.Logger, "API", err)
		return
	}

	result, err := h.OrderService.CheckReservation(r.Context(), req)
	if err != nil {
		utils.WriteError(w, h.Logger, "API", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("reservation checked", result))
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

package refund_api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-checkout/internal/auth"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
	"ms-checkout/internal/refund"
	"ms-checkout/internal/utils"
)

const ORGANIZER_ROLE = "ORGANIZER"

type RefundService interface {
	RequestRefund(ctx context.Context, req refund.RefundRequest) (*models.Refund, error)
}

type Handler struct {
	RefundService RefundService
	Auth          auth.Resolver
	Logger        *logger.Logger
}

func NewHandler(refundService RefundService, resolver auth.Resolver, log *logger.Logger) *Handler {
	return &Handler{RefundService: refundService, Auth: resolver, Logger: log}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.With(auth.Required(h.Auth, h.Logger, ORGANIZER_ROLE)).Post("/refunds", h.CreateRefund)
}

func (h *Handler) CreateRefund(w http.ResponseWriter, r *http.Request) {
	var req refund.RefundRequest
	if err := utils.DecodeJSONBody(r, &req); err != nil {
		utils.WriteError(w, h.Logger, "API", err)
		return
	}

	result, err := h.RefundService.RequestRefund(r.Context(), req)
	if err != nil {
		utils.WriteError(w, h.Logger, "API", err)
		return
	}
	h.Logger.Info("API", fmt.Sprintf("Refund %s for order %s requested by %s: %s", result.ID, result.OrderID, auth.UserID(r.Context()), result.Status))
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("refund "+string(result.Status), result))
}

package ticket_api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ms-checkout/internal/auth"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
	"ms-checkout/internal/utils"
)

const SCANNER_ROLE = "SCANNER"

type TicketService interface {
	Scan(ctx context.Context, scanToken string) (*models.TicketInstance, error)
}

type Handler struct {
	TicketService TicketService
	Auth          auth.Resolver
	Logger        *logger.Logger
}

func NewHandler(ticketService TicketService, resolver auth.Resolver, log *logger.Logger) *Handler {
	return &Handler{TicketService: ticketService, Auth: resolver, Logger: log}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.With(auth.Required(h.Auth, h.Logger, SCANNER_ROLE)).Post("/tickets/scan", h.ScanTicket)
}

type scanRequest struct {
	Token string `json:"token" validate:"required"`
}

type scanResponse struct {
	TicketID     string `json:"ticket_id"`
	OrderID      string `json:"order_id"`
	TicketTypeID string `json:"ticket_type_id"`
	Status       string `json:"status"`
	CheckedInAt  string `json:"checked_in_at,omitempty"`
}

// ScanTicket checks a ticket in. A second scan of the same ticket is a 409 that carries the
// original check-in time.
func (h *Handler) ScanTicket(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := utils.DecodeJSONBody(r, &req); err != nil {
		utils.WriteError(w, h.Logger, "API", err)
		return
	}

	ticket, err := h.TicketService.Scan(r.Context(), req.Token)
	if err != nil {
		utils.WriteError(w, h.Logger, "API", err)
		return
	}

	resp := scanResponse{
		TicketID:     ticket.ID,
		OrderID:      ticket.OrderID,
		TicketTypeID: ticket.TicketTypeID,
		Status:       string(ticket.Status),
	}
	if ticket.CheckedInAt != nil {
		resp.CheckedInAt = ticket.CheckedInAt.UTC().Format(time.RFC3339)
	}
	h.Logger.Info("API", fmt.Sprintf("Ticket %s scanned by %s", ticket.ID, auth.UserID(r.Context())))
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("ticket checked in", resp))
}

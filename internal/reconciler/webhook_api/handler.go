package webhook_api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-checkout/internal/logger"
	"ms-checkout/internal/payment"
	"ms-checkout/internal/reconciler"
	"ms-checkout/internal/utils"
)

const SignatureHeader = "Stripe-Signature"

type Reconciler interface {
	HandleWebhook(ctx context.Context, body []byte, signature string) (reconciler.Outcome, error)
}

type Handler struct {
	Reconciler Reconciler
	MaxBody    int64
	Logger     *logger.Logger
}

func NewHandler(rec Reconciler, maxBody int64, log *logger.Logger) *Handler {
	return &Handler{Reconciler: rec, MaxBody: maxBody, Logger: log}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Receive)
}

type receipt struct {
	Received bool               `json:"received"`
	Outcome  reconciler.Outcome `json:"outcome,omitempty"`
}

// Receive answers 2xx only once the delivery is durably applied or known to be a no-op.
// Any other answer makes the provider redeliver.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.MaxBody))
	if err != nil {
		h.Logger.Warn("WEBHOOK", "unreadable webhook body: "+err.Error())
		utils.WriteJSON(w, http.StatusBadRequest, receipt{})
		return
	}

	outcome, err := h.Reconciler.HandleWebhook(r.Context(), body, r.Header.Get(SignatureHeader))
	switch {
	case err == nil:
		utils.WriteJSON(w, http.StatusOK, receipt{Received: true, Outcome: outcome})
	case errors.Is(err, payment.ErrSignature):
		utils.WriteJSON(w, http.StatusBadRequest, receipt{})
	case reconciler.Retryable(err):
		w.Header().Set("Retry-After", "1")
		utils.WriteJSON(w, http.StatusServiceUnavailable, receipt{})
	default:
		utils.WriteJSON(w, http.StatusInternalServerError, receipt{})
	}
}

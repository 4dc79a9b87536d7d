package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	"ms-checkout/internal/apperr"
	"ms-checkout/internal/config"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
	"ms-checkout/internal/payment"
)

const ProviderName = "stripe"

var ErrStripeClientInitFailed = errors.New("failed to initialize Stripe client")

// StripeService handles integration with Stripe Checkout and Refunds
type StripeService struct {
	client  *client.API
	cfg     config.StripeConfig
	log     *logger.Logger
	timeout time.Duration
}

// NewStripeService creates a new instance of StripeService. Every API call is bounded by
// cfg.CallTimeout.
func NewStripeService(cfg config.StripeConfig, log *logger.Logger) (*StripeService, error) {
	if cfg.SecretKey == "" {
		log.Error("STRIPE", "STRIPE_SECRET_KEY not set")
		return nil, ErrStripeClientInitFailed
	}

	httpClient := &http.Client{Timeout: cfg.CallTimeout}
	sc := client.New(cfg.SecretKey, stripe.NewBackends(httpClient))

	log.Info("STRIPE", "Stripe client initialized successfully")
	return &StripeService{client: sc, cfg: cfg, log: log, timeout: cfg.CallTimeout}, nil
}

func (s *StripeService) Name() string { return ProviderName }

func (s *StripeService) CreateSession(ctx context.Context, req payment.SessionRequest) (*payment.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	expiresAt := time.Now().Add(s.cfg.SessionTTL)
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(s.cfg.SuccessURL),
		CancelURL:         stripe.String(s.cfg.CancelURL),
		ClientReferenceID: stripe.String(req.OrderID),
		ExpiresAt:         stripe.Int64(expiresAt.Unix()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(req.Currency),
				UnitAmount: stripe.Int64(req.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.Description),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{"order_id": req.OrderID},
		},
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.AddMetadata("order_id", req.OrderID)
	params.SetIdempotencyKey("session:" + req.OrderID)
	params.Context = ctx

	sess, err := s.client.CheckoutSessions.New(params)
	if err != nil {
		s.log.Error("STRIPE", fmt.Sprintf("Failed to create checkout session for order %s: %v", req.OrderID, err))
		return nil, classify(err, "create checkout session")
	}

	s.log.Info("STRIPE", fmt.Sprintf("Checkout session %s created for order %s", sess.ID, req.OrderID))
	return &payment.Session{ID: sess.ID, URL: sess.URL, ExpiresAt: time.Unix(sess.ExpiresAt, 0).UTC()}, nil
}

func (s *StripeService) GetPayment(ctx context.Context, providerPaymentID string) (*payment.VerifiedPayment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{}
	params.AddExpand("payment_intent")
	params.Context = ctx

	sess, err := s.client.CheckoutSessions.Get(providerPaymentID, params)
	if err != nil {
		return nil, classify(err, "fetch checkout session")
	}

	verified := &payment.VerifiedPayment{
		ProviderPaymentID: sess.ID,
		OrderID:           sess.Metadata["order_id"],
		Status:            SessionStatus(sess),
		Amount:            sess.AmountTotal,
		Currency:          string(sess.Currency),
	}
	if sess.PaymentIntent != nil {
		verified.ProviderIntentID = sess.PaymentIntent.ID
	}
	return verified, nil
}

// SessionStatus folds a session and its payment intent into the local payment status.
func SessionStatus(sess *stripe.CheckoutSession) models.PaymentStatus {
	if sess.Status == stripe.CheckoutSessionStatusExpired {
		return models.PaymentExpired
	}
	switch sess.PaymentStatus {
	case stripe.CheckoutSessionPaymentStatusPaid, stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		return models.PaymentPaid
	}
	if pi := sess.PaymentIntent; pi != nil {
		if pi.Status == stripe.PaymentIntentStatusCanceled {
			return models.PaymentCanceled
		}
		if sess.Status == stripe.CheckoutSessionStatusComplete && pi.Status == stripe.PaymentIntentStatusRequiresPaymentMethod {
			return models.PaymentFailed
		}
	}
	return models.PaymentOpen
}

func (s *StripeService) CreateRefund(ctx context.Context, req payment.RefundRequest) (*payment.VerifiedRefund, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.ProviderIntentID),
		Amount:        stripe.Int64(req.Amount),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.AddMetadata("refund_id", req.RefundID)
	if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.Context = ctx

	r, err := s.client.Refunds.New(params)
	if err != nil {
		s.log.Error("STRIPE", fmt.Sprintf("Failed to create refund %s: %v", req.RefundID, err))
		return nil, classify(err, "create refund")
	}
	s.log.Info("STRIPE", fmt.Sprintf("Refund %s created as %s (%s)", req.RefundID, r.ID, r.Status))
	return verifiedRefund(r), nil
}

func (s *StripeService) GetRefund(ctx context.Context, providerRefundID string) (*payment.VerifiedRefund, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := &stripe.RefundParams{}
	params.Context = ctx

	r, err := s.client.Refunds.Get(providerRefundID, params)
	if err != nil {
		return nil, classify(err, "fetch refund")
	}
	return verifiedRefund(r), nil
}

func verifiedRefund(r *stripe.Refund) *payment.VerifiedRefund {
	return &payment.VerifiedRefund{
		ProviderRefundID: r.ID,
		RefundID:         r.Metadata["refund_id"],
		Status:           RefundStatus(r.Status),
		Amount:           r.Amount,
		FailureReason:    string(r.FailureReason),
	}
}

func RefundStatus(status stripe.RefundStatus) models.RefundStatus {
	switch status {
	case stripe.RefundStatusSucceeded:
		return models.RefundRefunded
	case stripe.RefundStatusRequiresAction:
		return models.RefundProcessing
	case stripe.RefundStatusFailed:
		return models.RefundFailed
	case stripe.RefundStatusCanceled:
		return models.RefundCanceled
	default:
		return models.RefundQueued
	}
}

// ParseWebhook authenticates the payload and extracts the event and object ids.
func (s *StripeService) ParseWebhook(payload []byte, signature string) (*payment.WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrSignature, err)
	}
	return ClassifyEvent(event), nil
}

// ClassifyEvent maps a Stripe event onto the object the reconciler must re-fetch.
func ClassifyEvent(event stripe.Event) *payment.WebhookEvent {
	out := &payment.WebhookEvent{ID: event.ID, Type: string(event.Type), Kind: payment.EventOther}
	if event.Data != nil {
		if id, ok := event.Data.Object["id"].(string); ok {
			out.ObjectID = id
		}
	}

	switch event.Type {
	case "checkout.session.completed",
		"checkout.session.async_payment_succeeded",
		"checkout.session.async_payment_failed",
		"checkout.session.expired":
		out.Kind = payment.EventPayment
	case "refund.created", "refund.updated", "refund.failed", "charge.refund.updated":
		out.Kind = payment.EventRefund
	}
	if out.ObjectID == "" {
		out.Kind = payment.EventOther
	}
	return out
}

// classify turns a Stripe failure into a provider error. Client errors other than rate
// limiting and conflicts are final.
func classify(err error, op string) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		status := stripeErr.HTTPStatusCode
		if status >= 400 && status < 500 && status != http.StatusTooManyRequests && status != http.StatusConflict {
			return apperr.Wrap(apperr.CodeProvider, fmt.Errorf("%w: %s", payment.ErrRejected, stripeErr.Msg), op)
		}
	}
	return apperr.Wrap(apperr.CodeProvider, err, op)
}

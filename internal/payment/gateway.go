// Package payment adapts the payment provider: sessions, verified status fetches, refunds and
// webhook authentication.
package payment

import (
	"context"
	"errors"
	"time"

	"ms-checkout/internal/models"
)

// ErrRejected marks a provider answer that retrying will not change.
var ErrRejected = errors.New("rejected by payment provider")

// ErrSignature is returned for webhook payloads that fail authentication.
var ErrSignature = errors.New("invalid webhook signature")

type SessionRequest struct {
	OrderID     string
	Email       string
	Description string
	Amount      int64
	Currency    string
}

type Session struct {
	ID        string
	URL       string
	ExpiresAt time.Time
}

// VerifiedPayment is the provider's authoritative view of a session, fetched by id.
type VerifiedPayment struct {
	ProviderPaymentID string
	ProviderIntentID  string
	OrderID           string
	Status            models.PaymentStatus
	Amount            int64
	Currency          string
}

type RefundRequest struct {
	RefundID         string
	ProviderIntentID string
	Amount           int64
	Reason           string
	IdempotencyKey   string
}

type VerifiedRefund struct {
	ProviderRefundID string
	RefundID         string
	Status           models.RefundStatus
	Amount           int64
	FailureReason    string
}

type EventKind string

const (
	EventPayment EventKind = "payment"
	EventRefund  EventKind = "refund"
	EventOther   EventKind = "other"
)

// WebhookEvent carries only what is needed to re-fetch the object. Status fields of the
// payload are never read.
type WebhookEvent struct {
	ID       string
	Type     string
	Kind     EventKind
	ObjectID string
}

type Gateway interface {
	Name() string
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	GetPayment(ctx context.Context, providerPaymentID string) (*VerifiedPayment, error)
	CreateRefund(ctx context.Context, req RefundRequest) (*VerifiedRefund, error)
	GetRefund(ctx context.Context, providerRefundID string) (*VerifiedRefund, error)
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

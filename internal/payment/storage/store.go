package storage

import (
	"context"
	"errors"

	"ms-checkout/internal/models"
)

// ErrDuplicateEvent is the dedup signal of the webhook ledger, not a failure.
var ErrDuplicateEvent = errors.New("payment event already recorded")

type Store interface {
	// Payment operations
	SavePayment(ctx context.Context, payment *models.Payment) error
	GetPaymentByProviderID(ctx context.Context, providerPaymentID string) (*models.Payment, error)
	GetPaymentByOrderID(ctx context.Context, orderID string) (*models.Payment, error)
	UpdatePaymentStatus(ctx context.Context, id string, status models.PaymentStatus, intentID string) error

	// Webhook ledger operations
	GetEvent(ctx context.Context, provider, eventID string) (*models.PaymentEvent, error)
	InsertEvent(ctx context.Context, event *models.PaymentEvent) error
	MarkEventProcessed(ctx context.Context, id, outcome string) error
}

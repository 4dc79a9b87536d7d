package models

import (
	"time"

	"github.com/uptrace/bun"
)

type PaymentStatus string

const (
	PaymentOpen     PaymentStatus = "open"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentCanceled PaymentStatus = "canceled"
	PaymentExpired  PaymentStatus = "expired"
)

// Payment is one provider session. Older attempts for the same order are kept.
type Payment struct {
	bun.BaseModel `bun:"table:payments"`

	ID                string        `bun:"id,pk" json:"id"`
	OrderID           string        `bun:"order_id,notnull" json:"order_id"`
	Provider          string        `bun:"provider,notnull" json:"provider"`
	ProviderPaymentID string        `bun:"provider_payment_id,notnull,unique" json:"provider_payment_id"`
	ProviderIntentID  string        `bun:"provider_intent_id,nullzero" json:"-"`
	Amount            int64         `bun:"amount,notnull" json:"amount"`
	Currency          string        `bun:"currency,notnull" json:"currency"`
	Status            PaymentStatus `bun:"status,notnull" json:"status"`
	CheckoutURL       string        `bun:"checkout_url,nullzero" json:"-"`
	CreatedAt         time.Time     `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt         time.Time     `bun:"updated_at,notnull" json:"updated_at"`
}

// PaymentEvent is the webhook dedup ledger, unique on (provider, event_id).
type PaymentEvent struct {
	bun.BaseModel `bun:"table:payment_events"`

	ID          string     `bun:"id,pk"`
	Provider    string     `bun:"provider,notnull,unique:payment_events_provider_event"`
	EventID     string     `bun:"event_id,notnull,unique:payment_events_provider_event"`
	EventType   string     `bun:"event_type,notnull"`
	ObjectID    string     `bun:"object_id,notnull"`
	Outcome     string     `bun:"outcome,nullzero"`
	ReceivedAt  time.Time  `bun:"received_at,notnull"`
	ProcessedAt *time.Time `bun:"processed_at"`
}

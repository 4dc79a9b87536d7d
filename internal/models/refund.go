package models

import (
	"time"

	"github.com/uptrace/bun"
)

type RefundStatus string

const (
	RefundPending    RefundStatus = "pending"
	RefundQueued     RefundStatus = "queued"
	RefundProcessing RefundStatus = "processing"
	RefundRefunded   RefundStatus = "refunded"
	RefundFailed     RefundStatus = "failed"
	RefundCanceled   RefundStatus = "canceled"
)

func (s RefundStatus) rank() int {
	switch s {
	case RefundPending:
		return 0
	case RefundQueued:
		return 1
	case RefundProcessing:
		return 2
	default:
		return 3
	}
}

func (s RefundStatus) Terminal() bool {
	return s.rank() == 3
}

// Counts reports whether the refund consumes refundable balance.
func (s RefundStatus) Counts() bool {
	return s != RefundFailed && s != RefundCanceled
}

// CanMoveTo keeps refund status monotonic. Terminal states never change.
func (s RefundStatus) CanMoveTo(next RefundStatus) bool {
	if s.Terminal() || s == next {
		return false
	}
	return next.rank() > s.rank()
}

// CountedRefundStatuses are the statuses summed against an order's paid total.
var CountedRefundStatuses = []RefundStatus{RefundPending, RefundQueued, RefundProcessing, RefundRefunded}

type Refund struct {
	bun.BaseModel `bun:"table:refunds"`

	ID               string       `bun:"id,pk" json:"id"`
	OrderID          string       `bun:"order_id,notnull" json:"order_id"`
	PaymentID        string       `bun:"payment_id,notnull" json:"payment_id"`
	ProviderRefundID string       `bun:"provider_refund_id,nullzero,unique" json:"provider_refund_id,omitempty"`
	Amount           int64        `bun:"amount,notnull" json:"amount"`
	Currency         string       `bun:"currency,notnull" json:"currency"`
	Status           RefundStatus `bun:"status,notnull" json:"status"`
	Reason           string       `bun:"reason,notnull" json:"reason"`
	IdempotencyKey   string       `bun:"idempotency_key,notnull,unique" json:"idempotency_key"`
	IsFull           bool         `bun:"is_full,notnull" json:"is_full"`
	FailureReason    string       `bun:"failure_reason,nullzero" json:"failure_reason,omitempty"`
	CreatedAt        time.Time    `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt        time.Time    `bun:"updated_at,notnull" json:"updated_at"`

	Items []RefundItem `bun:"-" json:"items,omitempty"`
}

type RefundItem struct {
	bun.BaseModel `bun:"table:refund_items"`

	ID          string `bun:"id,pk" json:"id"`
	RefundID    string `bun:"refund_id,notnull,unique:refund_items_refund_item" json:"refund_id"`
	OrderItemID string `bun:"order_item_id,notnull,unique:refund_items_refund_item" json:"order_item_id"`
	Quantity    int    `bun:"quantity,notnull" json:"quantity"`
	Amount      int64  `bun:"amount,notnull" json:"amount"`
}

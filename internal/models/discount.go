package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type DiscountType string

const (
	PERCENTAGE DiscountType = "PERCENTAGE"
	FLAT_OFF   DiscountType = "FLAT_OFF"
)

// Discount codes are authored elsewhere; checkout only applies them.
type Discount struct {
	bun.BaseModel `bun:"table:discounts"`

	ID          string          `bun:"id,pk" json:"id"`
	EventID     string          `bun:"event_id,notnull,unique:discounts_event_code" json:"event_id"`
	Code        string          `bun:"code,notnull,unique:discounts_event_code" json:"code"`
	Type        DiscountType    `bun:"type,notnull" json:"type"`
	Percentage  decimal.Decimal `bun:"percentage,type:numeric" json:"percentage"`
	Amount      int64           `bun:"amount,notnull" json:"amount"`
	MaxDiscount *int64          `bun:"max_discount" json:"max_discount,omitempty"`
	MinSubtotal *int64          `bun:"min_subtotal" json:"min_subtotal,omitempty"`
	Active      bool            `bun:"active,notnull" json:"active"`
	ActiveFrom  *time.Time      `bun:"active_from" json:"active_from,omitempty"`
	ExpiresAt   *time.Time      `bun:"expires_at" json:"expires_at,omitempty"`
	MaxUsage    *int            `bun:"max_usage" json:"max_usage,omitempty"`
	UsageCount  int             `bun:"usage_count,notnull" json:"usage_count"`
}

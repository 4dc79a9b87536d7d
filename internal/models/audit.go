package models

import (
	"time"

	"github.com/uptrace/bun"
)

type AuditLog struct {
	bun.BaseModel `bun:"table:audit_logs"`

	ID         string    `bun:"id,pk"`
	TenantID   string    `bun:"tenant_id,nullzero"`
	EntityType string    `bun:"entity_type,notnull"`
	EntityID   string    `bun:"entity_id,notnull"`
	Action     string    `bun:"action,notnull"`
	Detail     string    `bun:"detail,nullzero"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
}

// All lists every table, in dependency order. Tests create them from the models.
var All = []any{
	(*Event)(nil),
	(*TicketType)(nil),
	(*Product)(nil),
	(*ProductVariant)(nil),
	(*Discount)(nil),
	(*Order)(nil),
	(*OrderItem)(nil),
	(*Payment)(nil),
	(*PaymentEvent)(nil),
	(*TicketInstance)(nil),
	(*Refund)(nil),
	(*RefundItem)(nil),
	(*AuditLog)(nil),
}

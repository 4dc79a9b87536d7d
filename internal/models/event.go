package models

import (
	"time"

	"github.com/uptrace/bun"
)

type EventStatus string

const (
	EventDraft       EventStatus = "draft"
	EventPublished   EventStatus = "published"
	EventSalesClosed EventStatus = "sales_closed"
	EventCancelled   EventStatus = "cancelled"
	EventCompleted   EventStatus = "completed"
)

const (
	VisibilityPublic   = "public"
	VisibilityUnlisted = "unlisted"
	VisibilityPrivate  = "private"
)

// Event is owned by the event CRUD service. Checkout only reads it.
type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID         string      `bun:"id,pk" json:"id"`
	TenantID   string      `bun:"tenant_id,notnull" json:"tenant_id"`
	Name       string      `bun:"name,notnull" json:"name"`
	Status     EventStatus `bun:"status,notnull" json:"status"`
	Visibility string      `bun:"visibility,notnull" json:"visibility"`
	Currency   string      `bun:"currency,notnull" json:"currency"`
	StartsAt   *time.Time  `bun:"starts_at" json:"starts_at,omitempty"`
	CreatedAt  time.Time   `bun:"created_at,notnull" json:"created_at"`
}

// Purchasable is true for published events that are listed publicly or by link.
func (e *Event) Purchasable() bool {
	if e.Status != EventPublished {
		return false
	}
	return e.Visibility == VisibilityPublic || e.Visibility == VisibilityUnlisted
}

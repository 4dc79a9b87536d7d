package models

import (
	"time"

	"github.com/uptrace/bun"
)

type InventoryKind string

const (
	KindTicket  InventoryKind = "ticket"
	KindProduct InventoryKind = "product"
	KindVariant InventoryKind = "variant"
)

// A nil CapacityTotal means unlimited.
type TicketType struct {
	bun.BaseModel `bun:"table:ticket_types"`

	ID            string     `bun:"id,pk" json:"id"`
	EventID       string     `bun:"event_id,notnull" json:"event_id"`
	Name          string     `bun:"name,notnull" json:"name"`
	UnitPrice     int64      `bun:"unit_price,notnull" json:"unit_price"`
	CapacityTotal *int64     `bun:"capacity_total" json:"capacity_total,omitempty"`
	MaxPerOrder   *int       `bun:"max_per_order" json:"max_per_order,omitempty"`
	SalesStart    *time.Time `bun:"sales_start" json:"sales_start,omitempty"`
	SalesEnd      *time.Time `bun:"sales_end" json:"sales_end,omitempty"`
	CreatedAt     time.Time  `bun:"created_at,notnull" json:"created_at"`
}

// Product is an add-on sold next to tickets. RequiresTicketTypeID marks it restricted.
type Product struct {
	bun.BaseModel `bun:"table:products"`

	ID                   string     `bun:"id,pk" json:"id"`
	EventID              string     `bun:"event_id,notnull" json:"event_id"`
	Name                 string     `bun:"name,notnull" json:"name"`
	UnitPrice            int64      `bun:"unit_price,notnull" json:"unit_price"`
	CapacityTotal        *int64     `bun:"capacity_total" json:"capacity_total,omitempty"`
	MaxPerOrder          *int       `bun:"max_per_order" json:"max_per_order,omitempty"`
	SalesStart           *time.Time `bun:"sales_start" json:"sales_start,omitempty"`
	SalesEnd             *time.Time `bun:"sales_end" json:"sales_end,omitempty"`
	RequiresTicketTypeID string     `bun:"requires_ticket_type_id,nullzero" json:"requires_ticket_type_id,omitempty"`
	CreatedAt            time.Time  `bun:"created_at,notnull" json:"created_at"`
}

// ProductVariant draws from its own capacity and from its parent product's.
type ProductVariant struct {
	bun.BaseModel `bun:"table:product_variants"`

	ID            string    `bun:"id,pk" json:"id"`
	ProductID     string    `bun:"product_id,notnull" json:"product_id"`
	Name          string    `bun:"name,notnull" json:"name"`
	UnitPrice     *int64    `bun:"unit_price" json:"unit_price,omitempty"`
	CapacityTotal *int64    `bun:"capacity_total" json:"capacity_total,omitempty"`
	CreatedAt     time.Time `bun:"created_at,notnull" json:"created_at"`
}

package models

import (
	"time"

	"github.com/uptrace/bun"
)

type TicketStatus string

const (
	TicketIssued    TicketStatus = "issued"
	TicketCheckedIn TicketStatus = "checked_in"
	TicketVoid      TicketStatus = "void"
)

// TicketInstance is one scannable unit. (order_item_id, unit_index) is unique so a line can
// never be issued twice.
type TicketInstance struct {
	bun.BaseModel `bun:"table:ticket_instances"`

	ID            string       `bun:"id,pk" json:"id"`
	OrderID       string       `bun:"order_id,notnull" json:"order_id"`
	OrderItemID   string       `bun:"order_item_id,notnull,unique:ticket_instances_item_unit" json:"order_item_id"`
	UnitIndex     int          `bun:"unit_index,notnull,unique:ticket_instances_item_unit" json:"unit_index"`
	TicketTypeID  string       `bun:"ticket_type_id,notnull" json:"ticket_type_id"`
	HolderID      string       `bun:"holder_id,nullzero" json:"holder_id,omitempty"`
	HolderName    string       `bun:"holder_name,nullzero" json:"holder_name,omitempty"`
	Status        TicketStatus `bun:"status,notnull" json:"status"`
	ScanTokenHash string       `bun:"scan_token_hash,notnull,unique" json:"-"`
	IssuedAt      time.Time    `bun:"issued_at,notnull" json:"issued_at"`
	CheckedInAt   *time.Time   `bun:"checked_in_at" json:"checked_in_at,omitempty"`
	VoidedAt      *time.Time   `bun:"voided_at" json:"voided_at,omitempty"`
}

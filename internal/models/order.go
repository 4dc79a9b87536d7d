package models

import (
	"time"

	"github.com/uptrace/bun"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderPaid       OrderStatus = "paid"
	OrderFailed     OrderStatus = "failed"
	OrderCancelled  OrderStatus = "cancelled"
	OrderOverbooked OrderStatus = "overbooked"
	OrderRefunded   OrderStatus = "refunded"
)

type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID              string      `bun:"id,pk" json:"id"`
	TenantID        string      `bun:"tenant_id,notnull" json:"tenant_id"`
	EventID         string      `bun:"event_id,notnull" json:"event_id"`
	BuyerID         string      `bun:"buyer_id,nullzero" json:"buyer_id,omitempty"`
	Email           string      `bun:"email,notnull" json:"email"`
	PurchaserName   string      `bun:"purchaser_name,nullzero" json:"purchaser_name,omitempty"`
	Status          OrderStatus `bun:"status,notnull" json:"status"`
	Subtotal        int64       `bun:"subtotal,notnull" json:"subtotal"`
	Discount        int64       `bun:"discount,notnull" json:"discount"`
	Total           int64       `bun:"total,notnull" json:"total"`
	Currency        string      `bun:"currency,notnull" json:"currency"`
	DiscountID      string      `bun:"discount_id,nullzero" json:"discount_id,omitempty"`
	AccessTokenHash string      `bun:"access_token_hash,notnull,unique" json:"-"`
	TokenIssuedAt   time.Time   `bun:"token_issued_at,notnull" json:"-"`
	CreatedAt       time.Time   `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt       time.Time   `bun:"updated_at,notnull" json:"updated_at"`
}

// OrderItem holds exactly one of TicketTypeID or ProductID. VariantID requires ProductID.
// Prices are captured when the order is created and never rewritten.
type OrderItem struct {
	bun.BaseModel `bun:"table:order_items"`

	ID           string    `bun:"id,pk" json:"id"`
	OrderID      string    `bun:"order_id,notnull" json:"order_id"`
	TicketTypeID string    `bun:"ticket_type_id,nullzero" json:"ticket_type_id,omitempty"`
	ProductID    string    `bun:"product_id,nullzero" json:"product_id,omitempty"`
	VariantID    string    `bun:"variant_id,nullzero" json:"variant_id,omitempty"`
	Name         string    `bun:"name,notnull" json:"name"`
	Quantity     int       `bun:"quantity,notnull" json:"quantity"`
	UnitPrice    int64     `bun:"unit_price,notnull" json:"unit_price"`
	LineTotal    int64     `bun:"line_total,notnull" json:"line_total"`
	CreatedAt    time.Time `bun:"created_at,notnull" json:"created_at"`
}

func NewTicketLine(orderID, ticketTypeID, name string, qty int, unitPrice int64) OrderItem {
	return OrderItem{
		OrderID:      orderID,
		TicketTypeID: ticketTypeID,
		Name:         name,
		Quantity:     qty,
		UnitPrice:    unitPrice,
		LineTotal:    unitPrice * int64(qty),
	}
}

func NewProductLine(orderID, productID, variantID, name string, qty int, unitPrice int64) OrderItem {
	return OrderItem{
		OrderID:   orderID,
		ProductID: productID,
		VariantID: variantID,
		Name:      name,
		Quantity:  qty,
		UnitPrice: unitPrice,
		LineTotal: unitPrice * int64(qty),
	}
}

func (i *OrderItem) IsTicket() bool {
	return i.TicketTypeID != ""
}

// InventoryID is the id the buyer put in the cart.
func (i *OrderItem) InventoryID() string {
	switch {
	case i.TicketTypeID != "":
		return i.TicketTypeID
	case i.VariantID != "":
		return i.VariantID
	default:
		return i.ProductID
	}
}

package inventory

import (
	"context"
	"fmt"
	"time"

	"ms-checkout/internal/apperr"
	invdb "ms-checkout/internal/inventory/db"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/metrics"
	"ms-checkout/internal/models"
)

// MaxLineQuantity bounds a single cart line.
const MaxLineQuantity = 1000

// activeStatuses hold capacity: paid orders have it, pending orders have it reserved.
var activeStatuses = []models.OrderStatus{models.OrderPending, models.OrderPaid}

type Ledger interface {
	LockTicketTypes(ctx context.Context, eventID string, ids []string) ([]models.TicketType, error)
	LockProducts(ctx context.Context, eventID string, ids []string) ([]models.Product, error)
	LockVariants(ctx context.Context, eventID string, ids []string) ([]models.ProductVariant, error)
	ExistingIDs(ctx context.Context, eventID string, ids []string) (map[string]bool, error)
	Consumed(ctx context.Context, col invdb.Column, ids []string, statuses []models.OrderStatus, excludeOrderID string) (map[string]int64, error)
}

type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Line struct {
	InventoryID string `json:"inventory_id" validate:"required"`
	Quantity    int    `json:"quantity" validate:"gt=0,lte=1000"`
}

type ItemResult struct {
	InventoryID string               `json:"inventory_id"`
	Kind        models.InventoryKind `json:"kind,omitempty"`
	Name        string               `json:"name,omitempty"`
	Quantity    int                  `json:"quantity"`
	UnitPrice   int64                `json:"unit_price"`
	LineTotal   int64                `json:"line_total"`
	Reason      apperr.Code          `json:"rejection_reason,omitempty"`
	Retryable   bool                 `json:"retryable,omitempty"`

	TicketTypeID string `json:"-"`
	ProductID    string `json:"-"`
	VariantID    string `json:"-"`
}

type Result struct {
	Valid      bool         `json:"valid"`
	TotalPrice int64        `json:"total_price"`
	Items      []ItemResult `json:"per_item"`
}

// Rejection converts an invalid result into an error carrying the first line's reason and
// every line's outcome.
func (r *Result) Rejection() *apperr.Error {
	if r.Valid {
		return nil
	}
	for _, item := range r.Items {
		if item.Reason != "" {
			return apperr.New(item.Reason, fmt.Sprintf("cart rejected: %s", item.InventoryID)).WithDetails(r.Items)
		}
	}
	return apperr.New(apperr.CodeValidation, "cart rejected").WithDetails(r.Items)
}

// OrderItems builds the priced order lines of a valid result.
func (r *Result) OrderItems(orderID string) []models.OrderItem {
	items := make([]models.OrderItem, 0, len(r.Items))
	for _, it := range r.Items {
		if it.Kind == models.KindTicket {
			items = append(items, models.NewTicketLine(orderID, it.TicketTypeID, it.Name, it.Quantity, it.UnitPrice))
		} else {
			items = append(items, models.NewProductLine(orderID, it.ProductID, it.VariantID, it.Name, it.Quantity, it.UnitPrice))
		}
	}
	return items
}

// Reserver is the capacity reservation lock.
type Reserver struct {
	ledger  Ledger
	tx      TxRunner
	log     *logger.Logger
	metrics *metrics.Checkout
	now     func() time.Time
}

func NewReserver(ledger Ledger, tx TxRunner, log *logger.Logger, m *metrics.Checkout) *Reserver {
	return &Reserver{ledger: ledger, tx: tx, log: log, metrics: m, now: time.Now}
}

// WithClock replaces the clock used for sale windows.
func (r *Reserver) WithClock(now func() time.Time) *Reserver {
	r.now = now
	return r
}

// Coalesce merges repeated inventory ids, keeping first-seen order. Non-positive or oversized
// quantities are validation errors.
func Coalesce(lines []Line) ([]Line, error) {
	if len(lines) == 0 {
		return nil, apperr.New(apperr.CodeValidation, "cart is empty")
	}
	index := make(map[string]int, len(lines))
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		if l.InventoryID == "" {
			return nil, apperr.New(apperr.CodeValidation, "inventory_id is required")
		}
		if l.Quantity <= 0 {
			return nil, apperr.New(apperr.CodeValidation, fmt.Sprintf("quantity for %s must be positive", l.InventoryID))
		}
		i, ok := index[l.InventoryID]
		if !ok {
			i = len(out)
			index[l.InventoryID] = i
			out = append(out, Line{InventoryID: l.InventoryID})
		}
		// compared before adding so the sum cannot overflow
		if l.Quantity > MaxLineQuantity-out[i].Quantity {
			return nil, apperr.New(apperr.CodeValidation, fmt.Sprintf("quantity for %s exceeds %d", l.InventoryID, MaxLineQuantity))
		}
		out[i].Quantity += l.Quantity
	}
	return out, nil
}

// Reserve validates and prices the cart under row locks. It joins the caller's transaction
// when ctx carries one, so the locks last until the caller commits; otherwise they are
// released on return. Client prices are never an input.
func (r *Reserver) Reserve(ctx context.Context, eventID string, lines []Line) (*Result, error) {
	coalesced, err := Coalesce(lines)
	if err != nil {
		r.metrics.Reservation("invalid")
		return nil, err
	}

	var result *Result
	err = r.tx.RunInTx(ctx, func(ctx context.Context) error {
		res, err := r.evaluate(ctx, eventID, coalesced)
		result = res
		return err
	})
	if err != nil {
		r.metrics.Reservation("error")
		return nil, err
	}

	if result.Valid {
		r.metrics.Reservation("accepted")
	} else {
		r.metrics.Reservation("rejected")
		r.log.Info("RESERVATION", fmt.Sprintf("Cart for event %s rejected: %s", eventID, result.Rejection().Code()))
	}
	return result, nil
}

type lockedSet struct {
	tickets  map[string]models.TicketType
	products map[string]models.Product
	variants map[string]models.ProductVariant
	missing  []string
}

func (r *Reserver) lock(ctx context.Context, eventID string, ids []string) (*lockedSet, error) {
	set := &lockedSet{
		tickets:  map[string]models.TicketType{},
		products: map[string]models.Product{},
		variants: map[string]models.ProductVariant{},
	}

	variants, err := r.ledger.LockVariants(ctx, eventID, ids)
	if err != nil {
		return nil, err
	}
	productIDs := append([]string(nil), ids...)
	for _, v := range variants {
		set.variants[v.ID] = v
		productIDs = append(productIDs, v.ProductID)
	}

	products, err := r.ledger.LockProducts(ctx, eventID, dedupe(productIDs))
	if err != nil {
		return nil, err
	}
	for _, p := range products {
		set.products[p.ID] = p
	}

	tickets, err := r.ledger.LockTicketTypes(ctx, eventID, ids)
	if err != nil {
		return nil, err
	}
	for _, t := range tickets {
		set.tickets[t.ID] = t
	}

	for _, id := range ids {
		_, isTicket := set.tickets[id]
		_, isProduct := set.products[id]
		v, isVariant := set.variants[id]
		if isVariant {
			if _, parentLocked := set.products[v.ProductID]; !parentLocked {
				isVariant = false
				delete(set.variants, id)
			}
		}
		if !isTicket && !isProduct && !isVariant {
			set.missing = append(set.missing, id)
		}
	}
	return set, nil
}

func (r *Reserver) evaluate(ctx context.Context, eventID string, lines []Line) (*Result, error) {
	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.InventoryID
	}

	set, err := r.lock(ctx, eventID, ids)
	if err != nil {
		return nil, err
	}

	existing := map[string]bool{}
	if len(set.missing) > 0 {
		if existing, err = r.ledger.ExistingIDs(ctx, eventID, set.missing); err != nil {
			return nil, err
		}
	}

	ticketUsed, err := r.ledger.Consumed(ctx, invdb.TicketTypeColumn, keys(set.tickets), activeStatuses, "")
	if err != nil {
		return nil, err
	}
	productUsed, err := r.ledger.Consumed(ctx, invdb.ProductColumn, keys(set.products), activeStatuses, "")
	if err != nil {
		return nil, err
	}
	variantUsed, err := r.ledger.Consumed(ctx, invdb.VariantColumn, keys(set.variants), activeStatuses, "")
	if err != nil {
		return nil, err
	}

	cartTickets := map[string]bool{}
	cartProductQty := map[string]int64{}
	for _, l := range lines {
		if _, ok := set.tickets[l.InventoryID]; ok {
			cartTickets[l.InventoryID] = true
		}
		if _, ok := set.products[l.InventoryID]; ok {
			cartProductQty[l.InventoryID] += int64(l.Quantity)
		}
		if v, ok := set.variants[l.InventoryID]; ok {
			cartProductQty[v.ProductID] += int64(l.Quantity)
		}
	}

	now := r.now()
	result := &Result{Valid: true, Items: make([]ItemResult, 0, len(lines))}

	for _, l := range lines {
		item := ItemResult{InventoryID: l.InventoryID, Quantity: l.Quantity}
		qty := int64(l.Quantity)

		if t, ok := set.tickets[l.InventoryID]; ok {
			item.Kind, item.Name, item.UnitPrice, item.TicketTypeID = models.KindTicket, t.Name, t.UnitPrice, t.ID
			item.Reason = firstReason(
				saleWindow(now, t.SalesStart, t.SalesEnd),
				perOrder(t.MaxPerOrder, qty),
				capacity(t.CapacityTotal, ticketUsed[t.ID], qty),
			)
		} else if v, ok := set.variants[l.InventoryID]; ok {
			p := set.products[v.ProductID]
			item.Kind, item.Name, item.ProductID, item.VariantID = models.KindVariant, p.Name+" / "+v.Name, p.ID, v.ID
			item.UnitPrice = p.UnitPrice
			if v.UnitPrice != nil {
				item.UnitPrice = *v.UnitPrice
			}
			item.Reason = firstReason(
				saleWindow(now, p.SalesStart, p.SalesEnd),
				perOrder(p.MaxPerOrder, cartProductQty[p.ID]),
				restriction(p, cartTickets),
				capacity(v.CapacityTotal, variantUsed[v.ID], qty),
				capacity(p.CapacityTotal, productUsed[p.ID], cartProductQty[p.ID]),
			)
		} else if p, ok := set.products[l.InventoryID]; ok {
			item.Kind, item.Name, item.UnitPrice, item.ProductID = models.KindProduct, p.Name, p.UnitPrice, p.ID
			item.Reason = firstReason(
				saleWindow(now, p.SalesStart, p.SalesEnd),
				perOrder(p.MaxPerOrder, cartProductQty[p.ID]),
				restriction(p, cartTickets),
				capacity(p.CapacityTotal, productUsed[p.ID], cartProductQty[p.ID]),
			)
		} else if existing[l.InventoryID] {
			// another checkout holds the row; fail fast instead of queueing behind it
			item.Reason, item.Retryable = apperr.CodeCapacityExceeded, true
		} else {
			item.Reason = apperr.CodeInventoryNotFound
		}

		item.LineTotal = item.UnitPrice * qty
		if item.Reason != "" {
			result.Valid = false
		}
		result.TotalPrice += item.LineTotal
		result.Items = append(result.Items, item)
	}

	if !result.Valid {
		result.TotalPrice = 0
	}
	return result, nil
}

// Confirm is the final capacity check before a paid order is fulfilled. Only paid orders
// count against capacity here; the order's own reservation is what is being confirmed.
// It must run inside the caller's transaction. A contended row is a retryable error.
func (r *Reserver) Confirm(ctx context.Context, order *models.Order, items []models.OrderItem) (bool, error) {
	var ids []string
	orderTicketQty := map[string]int64{}
	orderProductQty := map[string]int64{}
	orderVariantQty := map[string]int64{}
	for _, it := range items {
		ids = append(ids, it.InventoryID())
		switch {
		case it.TicketTypeID != "":
			orderTicketQty[it.TicketTypeID] += int64(it.Quantity)
		case it.VariantID != "":
			orderVariantQty[it.VariantID] += int64(it.Quantity)
			orderProductQty[it.ProductID] += int64(it.Quantity)
		default:
			orderProductQty[it.ProductID] += int64(it.Quantity)
		}
	}
	ids = dedupe(ids)

	set, err := r.lock(ctx, order.EventID, ids)
	if err != nil {
		return false, err
	}
	for id := range orderProductQty {
		if _, ok := set.products[id]; !ok {
			set.missing = append(set.missing, id)
		}
	}
	if len(set.missing) > 0 {
		existing, err := r.ledger.ExistingIDs(ctx, order.EventID, set.missing)
		if err != nil {
			return false, err
		}
		for _, id := range set.missing {
			if existing[id] {
				return false, apperr.New(apperr.CodeInventoryBusy, fmt.Sprintf("inventory %s is locked", id))
			}
		}
		return false, nil
	}

	paid := []models.OrderStatus{models.OrderPaid}
	ticketUsed, err := r.ledger.Consumed(ctx, invdb.TicketTypeColumn, keys(orderTicketQty), paid, order.ID)
	if err != nil {
		return false, err
	}
	productUsed, err := r.ledger.Consumed(ctx, invdb.ProductColumn, keys(orderProductQty), paid, order.ID)
	if err != nil {
		return false, err
	}
	variantUsed, err := r.ledger.Consumed(ctx, invdb.VariantColumn, keys(orderVariantQty), paid, order.ID)
	if err != nil {
		return false, err
	}

	for id, qty := range orderTicketQty {
		if capacity(set.tickets[id].CapacityTotal, ticketUsed[id], qty) != "" {
			return false, nil
		}
	}
	for id, qty := range orderVariantQty {
		if capacity(set.variants[id].CapacityTotal, variantUsed[id], qty) != "" {
			return false, nil
		}
	}
	for id, qty := range orderProductQty {
		if capacity(set.products[id].CapacityTotal, productUsed[id], qty) != "" {
			return false, nil
		}
	}
	return true, nil
}

func saleWindow(now time.Time, start, end *time.Time) apperr.Code {
	if start != nil && now.Before(*start) {
		return apperr.CodeSalesNotStarted
	}
	if end != nil && !now.Before(*end) {
		return apperr.CodeSalesEnded
	}
	return ""
}

func perOrder(max *int, qty int64) apperr.Code {
	if max != nil && qty > int64(*max) {
		return apperr.CodeMaxPerOrder
	}
	return ""
}

func restriction(p models.Product, cartTickets map[string]bool) apperr.Code {
	if p.RequiresTicketTypeID != "" && !cartTickets[p.RequiresTicketTypeID] {
		return apperr.CodeRestrictedProduct
	}
	return ""
}

func capacity(total *int64, used, qty int64) apperr.Code {
	if total == nil {
		return ""
	}
	if qty > *total-used {
		return apperr.CodeCapacityExceeded
	}
	return ""
}

func firstReason(reasons ...apperr.Code) apperr.Code {
	for _, r := range reasons {
		if r != "" {
			return r
		}
	}
	return ""
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

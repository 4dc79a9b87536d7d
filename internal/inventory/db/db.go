package db

import (
	"context"
	"fmt"
	"sort"

	"github.com/uptrace/bun"

	"ms-checkout/internal/database"
	"ms-checkout/internal/models"
)

// Column names an order_items inventory reference.
type Column string

const (
	TicketTypeColumn Column = "ticket_type_id"
	ProductColumn    Column = "product_id"
	VariantColumn    Column = "variant_id"
)

// DB is the inventory ledger: events, ticket types, products and variants, plus the
// sold/reserved counts derived from order items. It never writes.
type DB struct {
	*database.DB
}

func New(base *database.DB) *DB {
	return &DB{DB: base}
}

func (d *DB) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	event := new(models.Event)
	err := d.Conn(ctx).NewSelect().Model(event).Where("id = ?", id).Scan(ctx)
	if err != nil {
		return nil, err
	}
	return event, nil
}

// lockQuery turns q into a row-locking read. Rows another transaction holds are skipped,
// not waited on. SQLite has no row locks; its single writer already serializes.
func lockQuery(q *bun.SelectQuery, conn bun.IDB) *bun.SelectQuery {
	if database.IsPostgres(conn) {
		return q.For("UPDATE SKIP LOCKED")
	}
	return q
}

func sorted(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}

func (d *DB) LockTicketTypes(ctx context.Context, eventID string, ids []string) ([]models.TicketType, error) {
	var rows []models.TicketType
	if len(ids) == 0 {
		return rows, nil
	}
	conn := d.Conn(ctx)
	q := conn.NewSelect().Model(&rows).
		Where("event_id = ?", eventID).
		Where("id IN (?)", bun.In(sorted(ids))).
		OrderExpr("id")
	if err := lockQuery(q, conn).Scan(ctx); err != nil {
		return nil, fmt.Errorf("lock ticket types: %w", err)
	}
	return rows, nil
}

func (d *DB) LockProducts(ctx context.Context, eventID string, ids []string) ([]models.Product, error) {
	var rows []models.Product
	if len(ids) == 0 {
		return rows, nil
	}
	conn := d.Conn(ctx)
	q := conn.NewSelect().Model(&rows).
		Where("event_id = ?", eventID).
		Where("id IN (?)", bun.In(sorted(ids))).
		OrderExpr("id")
	if err := lockQuery(q, conn).Scan(ctx); err != nil {
		return nil, fmt.Errorf("lock products: %w", err)
	}
	return rows, nil
}

func (d *DB) LockVariants(ctx context.Context, eventID string, ids []string) ([]models.ProductVariant, error) {
	var rows []models.ProductVariant
	if len(ids) == 0 {
		return rows, nil
	}
	conn := d.Conn(ctx)
	q := conn.NewSelect().Model(&rows).
		Where("id IN (?)", bun.In(sorted(ids))).
		Where("product_id IN (SELECT p.id FROM products AS p WHERE p.event_id = ?)", eventID).
		OrderExpr("id")
	if err := lockQuery(q, conn).Scan(ctx); err != nil {
		return nil, fmt.Errorf("lock variants: %w", err)
	}
	return rows, nil
}

// ExistingIDs reports which ids exist for the event without locking them. Used to tell a
// row skipped under contention apart from one that does not exist.
func (d *DB) ExistingIDs(ctx context.Context, eventID string, ids []string) (map[string]bool, error) {
	found := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	conn := d.Conn(ctx)

	var ticketIDs, productIDs, variantIDs []string
	if err := conn.NewSelect().Model((*models.TicketType)(nil)).Column("id").
		Where("event_id = ?", eventID).Where("id IN (?)", bun.In(ids)).
		Scan(ctx, &ticketIDs); err != nil {
		return nil, fmt.Errorf("look up ticket types: %w", err)
	}
	if err := conn.NewSelect().Model((*models.Product)(nil)).Column("id").
		Where("event_id = ?", eventID).Where("id IN (?)", bun.In(ids)).
		Scan(ctx, &productIDs); err != nil {
		return nil, fmt.Errorf("look up products: %w", err)
	}
	if err := conn.NewSelect().Model((*models.ProductVariant)(nil)).Column("id").
		Where("id IN (?)", bun.In(ids)).
		Where("product_id IN (SELECT p.id FROM products AS p WHERE p.event_id = ?)", eventID).
		Scan(ctx, &variantIDs); err != nil {
		return nil, fmt.Errorf("look up variants: %w", err)
	}

	for _, group := range [][]string{ticketIDs, productIDs, variantIDs} {
		for _, id := range group {
			found[id] = true
		}
	}
	return found, nil
}

type consumedRow struct {
	ID  string `bun:"id"`
	Qty int64  `bun:"qty"`
}

// Consumed sums order item quantities per inventory id over orders in the given statuses.
// excludeOrderID leaves one order out of the sum.
func (d *DB) Consumed(ctx context.Context, col Column, ids []string, statuses []models.OrderStatus, excludeOrderID string) (map[string]int64, error) {
	out := make(map[string]int64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var rows []consumedRow
	q := d.Conn(ctx).NewSelect().
		TableExpr("order_items AS oi").
		Join("JOIN orders AS o ON o.id = oi.order_id").
		ColumnExpr("oi.? AS id", bun.Ident(string(col))).
		ColumnExpr("SUM(oi.quantity) AS qty").
		Where("oi.? IN (?)", bun.Ident(string(col)), bun.In(ids)).
		Where("o.status IN (?)", bun.In(statuses)).
		GroupExpr("oi.?", bun.Ident(string(col)))
	if excludeOrderID != "" {
		q = q.Where("o.id <> ?", excludeOrderID)
	}
	if err := q.Scan(ctx, &rows); err != nil {
		return nil, fmt.Errorf("sum consumed %s: %w", col, err)
	}

	for _, r := range rows {
		out[r.ID] = r.Qty
	}
	return out, nil
}

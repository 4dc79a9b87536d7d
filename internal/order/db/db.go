package db

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-checkout/internal/database"
	"ms-checkout/internal/models"
	"ms-checkout/internal/utils"
)

// DB stores orders, their items and the audit trail. Every method uses the transaction
// carried by ctx when there is one.
type DB struct {
	*database.DB
}

func New(base *database.DB) *DB {
	return &DB{DB: base}
}

// ---------------- ORDERS ----------------

// CreateOrder → insert new order
func (d *DB) CreateOrder(ctx context.Context, order *models.Order) error {
	if _, err := d.Conn(ctx).NewInsert().Model(order).Exec(ctx); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// CreateItems → insert the priced lines of an order
func (d *DB) CreateItems(ctx context.Context, items []models.OrderItem) error {
	if len(items) == 0 {
		return fmt.Errorf("insert order items: no items")
	}
	if _, err := d.Conn(ctx).NewInsert().Model(&items).Exec(ctx); err != nil {
		return fmt.Errorf("insert order items: %w", err)
	}
	return nil
}

// RecordFailedOrder writes an order with no items in status failed. Used after a rolled back
// checkout so the attempt stays visible.
func (d *DB) RecordFailedOrder(ctx context.Context, order *models.Order) error {
	failed := *order
	failed.Status = models.OrderFailed
	_, err := d.Conn(ctx).NewInsert().Model(&failed).
		On("CONFLICT (id) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("record failed order: %w", err)
	}
	return nil
}

// GetOrderByID → fetch one order by its ID
func (d *DB) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	order := new(models.Order)
	err := d.Conn(ctx).NewSelect().Model(order).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// LockOrder → fetch one order and hold its row until the transaction ends.
// Unlike inventory, order locks are waited on, bounded by the lock timeout.
func (d *DB) LockOrder(ctx context.Context, id string) (*models.Order, error) {
	conn := d.Conn(ctx)
	order := new(models.Order)
	q := conn.NewSelect().Model(order).Where("id = ?", id)
	if database.IsPostgres(conn) {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return order, nil
}

// GetOrderByTokenHash → fetch the order a guest access token was minted for
func (d *DB) GetOrderByTokenHash(ctx context.Context, hash string) (*models.Order, error) {
	order := new(models.Order)
	err := d.Conn(ctx).NewSelect().Model(order).Where("access_token_hash = ?", hash).Limit(1).Scan(ctx)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// GetItemsByOrder → fetch the lines of an order
func (d *DB) GetItemsByOrder(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := d.Conn(ctx).NewSelect().Model(&items).Where("order_id = ?", orderID).OrderExpr("id").Scan(ctx)
	if err != nil {
		return nil, err
	}
	return items, nil
}

// UpdateOrderStatus moves the order to next only from one of the given statuses. It reports
// whether a row changed.
func (d *DB) UpdateOrderStatus(ctx context.Context, id string, from []models.OrderStatus, next models.OrderStatus) (bool, error) {
	res, err := d.Conn(ctx).NewUpdate().Model((*models.Order)(nil)).
		Set("status = ?", next).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status IN (?)", bun.In(from)).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("update order %s status: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ---------------- AUDIT ----------------

// AppendAudit → insert one audit row
func (d *DB) AppendAudit(ctx context.Context, tenantID, entityType, entityID, action, detail string) error {
	entry := &models.AuditLog{
		ID:         utils.NewID(),
		TenantID:   tenantID,
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := d.Conn(ctx).NewInsert().Model(entry).Exec(ctx)
	return err
}

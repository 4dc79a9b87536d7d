package db

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-checkout/internal/database"
	"ms-checkout/internal/models"
)

type DB struct {
	*database.DB
}

func New(base *database.DB) *DB {
	return &DB{DB: base}
}

// CreateRefund inserts the refund and its item lines.
func (d *DB) CreateRefund(ctx context.Context, refund *models.Refund) error {
	conn := d.Conn(ctx)
	if _, err := conn.NewInsert().Model(refund).Exec(ctx); err != nil {
		return fmt.Errorf("insert refund: %w", err)
	}
	if len(refund.Items) == 0 {
		return nil
	}
	if _, err := conn.NewInsert().Model(&refund.Items).Exec(ctx); err != nil {
		return fmt.Errorf("insert refund items: %w", err)
	}
	return nil
}

func (d *DB) GetByID(ctx context.Context, id string) (*models.Refund, error) {
	return d.getBy(ctx, "id = ?", id)
}

func (d *DB) GetByIdempotencyKey(ctx context.Context, key string) (*models.Refund, error) {
	return d.getBy(ctx, "idempotency_key = ?", key)
}

func (d *DB) GetByProviderID(ctx context.Context, providerRefundID string) (*models.Refund, error) {
	return d.getBy(ctx, "provider_refund_id = ?", providerRefundID)
}

func (d *DB) getBy(ctx context.Context, where string, arg any) (*models.Refund, error) {
	refund := new(models.Refund)
	if err := d.Conn(ctx).NewSelect().Model(refund).Where(where, arg).Limit(1).Scan(ctx); err != nil {
		return nil, err
	}
	var items []models.RefundItem
	if err := d.Conn(ctx).NewSelect().Model(&items).Where("refund_id = ?", refund.ID).OrderExpr("id").Scan(ctx); err != nil {
		return nil, err
	}
	refund.Items = items
	return refund, nil
}

// SumCounted totals the refunds that still consume the order's refundable balance.
func (d *DB) SumCounted(ctx context.Context, orderID string) (int64, error) {
	return d.sum(ctx, orderID, models.CountedRefundStatuses)
}

// SumRefunded totals the refunds the provider has completed.
func (d *DB) SumRefunded(ctx context.Context, orderID string) (int64, error) {
	return d.sum(ctx, orderID, []models.RefundStatus{models.RefundRefunded})
}

func (d *DB) sum(ctx context.Context, orderID string, statuses []models.RefundStatus) (int64, error) {
	var sum struct {
		Total int64 `bun:"total"`
	}
	err := d.Conn(ctx).NewSelect().
		Model((*models.Refund)(nil)).
		ColumnExpr("COALESCE(SUM(amount), 0) AS total").
		Where("order_id = ?", orderID).
		Where("status IN (?)", bun.In(statuses)).
		Scan(ctx, &sum)
	if err != nil {
		return 0, fmt.Errorf("sum refunds: %w", err)
	}
	return sum.Total, nil
}

// RefundedQuantities sums refunded units per order item over counted refunds.
func (d *DB) RefundedQuantities(ctx context.Context, orderID string) (map[string]int, error) {
	var rows []struct {
		OrderItemID string `bun:"order_item_id"`
		Qty         int    `bun:"qty"`
	}
	err := d.Conn(ctx).NewSelect().
		TableExpr("refund_items AS ri").
		Join("JOIN refunds AS r ON r.id = ri.refund_id").
		ColumnExpr("ri.order_item_id, SUM(ri.quantity) AS qty").
		Where("r.order_id = ?", orderID).
		Where("r.status IN (?)", bun.In(models.CountedRefundStatuses)).
		GroupExpr("ri.order_item_id").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("sum refunded quantities: %w", err)
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.OrderItemID] = r.Qty
	}
	return out, nil
}

// UpdateRefund moves a refund from one status to the next. It reports false when the refund
// is no longer in from. Empty providerRefundID and failureReason leave the columns alone.
func (d *DB) UpdateRefund(ctx context.Context, id string, from, next models.RefundStatus, providerRefundID, failureReason string) (bool, error) {
	q := d.Conn(ctx).NewUpdate().Model((*models.Refund)(nil)).
		Set("status = ?", next).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status = ?", from)
	if providerRefundID != "" {
		q = q.Set("provider_refund_id = ?", providerRefundID)
	}
	if failureReason != "" {
		q = q.Set("failure_reason = ?", failureReason)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("update refund %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetProviderID records the provider id of a refund that has none yet.
func (d *DB) SetProviderID(ctx context.Context, id, providerRefundID string) error {
	_, err := d.Conn(ctx).NewUpdate().Model((*models.Refund)(nil)).
		Set("provider_refund_id = ?", providerRefundID).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("provider_refund_id IS NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set provider id of refund %s: %w", id, err)
	}
	return nil
}

// SetFull records whether the refund completed the order's full refund.
func (d *DB) SetFull(ctx context.Context, id string, full bool) error {
	_, err := d.Conn(ctx).NewUpdate().Model((*models.Refund)(nil)).
		Set("is_full = ?", full).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set full flag of refund %s: %w", id, err)
	}
	return nil
}

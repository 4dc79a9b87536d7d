package discount

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"ms-checkout/internal/database"
	"ms-checkout/internal/models"
)

// ErrUsageExhausted means the last use was taken by a concurrent order.
var ErrUsageExhausted = errors.New("discount usage limit reached")

// DiscountFetcher reads discount codes and consumes their usage.
type DiscountFetcher struct {
	db *database.DB
}

func NewDiscountFetcher(db *database.DB) *DiscountFetcher {
	return &DiscountFetcher{db: db}
}

// FetchDiscountByCode returns nil when the event has no such code. Codes are case-insensitive.
func (df *DiscountFetcher) FetchDiscountByCode(ctx context.Context, eventID, code string) (*models.Discount, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}

	discount := new(models.Discount)
	err := df.db.Conn(ctx).NewSelect().Model(discount).
		Where("event_id = ?", eventID).
		Where("UPPER(code) = ?", strings.ToUpper(code)).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch discount %q: %w", code, err)
	}
	return discount, nil
}

// IncrementDiscountUsage takes one use. It runs in the order transaction, so a rolled-back
// order gives the use back.
func (df *DiscountFetcher) IncrementDiscountUsage(ctx context.Context, discountID string) error {
	res, err := df.db.Conn(ctx).NewUpdate().Model((*models.Discount)(nil)).
		Set("usage_count = usage_count + 1").
		Where("id = ?", discountID).
		Where("max_usage IS NULL OR usage_count < max_usage").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("increment discount usage: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrUsageExhausted
	}
	return nil
}

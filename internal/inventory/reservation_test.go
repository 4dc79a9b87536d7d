package inventory_test

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-checkout/internal/apperr"
	"ms-checkout/internal/database"
	"ms-checkout/internal/database/dbtest"
	"ms-checkout/internal/inventory"
	invdb "ms-checkout/internal/inventory/db"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*database.DB, *inventory.Reserver) {
	db := dbtest.New(t)
	dbtest.Insert(t, db,
		&models.Event{ID: "ev1", TenantID: "org1", Name: "Festival", Status: models.EventPublished,
			Visibility: models.VisibilityPublic, Currency: "eur", CreatedAt: now},
		&models.Event{ID: "ev2", TenantID: "org2", Name: "Other", Status: models.EventPublished,
			Visibility: models.VisibilityPublic, Currency: "eur", CreatedAt: now},
		&models.TicketType{ID: "ga", EventID: "ev1", Name: "GA", UnitPrice: 2500, CapacityTotal: dbtest.Int64(10), CreatedAt: now},
		&models.TicketType{ID: "vip", EventID: "ev1", Name: "VIP", UnitPrice: 9000, CapacityTotal: dbtest.Int64(1),
			MaxPerOrder: dbtest.Int(1), CreatedAt: now},
		&models.TicketType{ID: "free", EventID: "ev1", Name: "Community", UnitPrice: 0, CreatedAt: now},
		&models.TicketType{ID: "late", EventID: "ev1", Name: "Late", UnitPrice: 100,
			SalesStart: timePtr(now.Add(time.Hour)), CreatedAt: now},
		&models.TicketType{ID: "early", EventID: "ev1", Name: "Early", UnitPrice: 100,
			SalesEnd: timePtr(now.Add(-time.Hour)), CreatedAt: now},
		&models.TicketType{ID: "foreign", EventID: "ev2", Name: "Foreign", UnitPrice: 100, CreatedAt: now},
		&models.Product{ID: "parking", EventID: "ev1", Name: "Parking", UnitPrice: 1000, CapacityTotal: dbtest.Int64(3),
			RequiresTicketTypeID: "ga", CreatedAt: now},
		&models.Product{ID: "shirt", EventID: "ev1", Name: "Shirt", UnitPrice: 2000, CapacityTotal: dbtest.Int64(5),
			MaxPerOrder: dbtest.Int(4), CreatedAt: now},
		&models.ProductVariant{ID: "shirt-xl", ProductID: "shirt", Name: "XL", UnitPrice: dbtest.Int64(2200),
			CapacityTotal: dbtest.Int64(2), CreatedAt: now},
		&models.ProductVariant{ID: "shirt-m", ProductID: "shirt", Name: "M", CreatedAt: now},
	)

	r := inventory.NewReserver(invdb.New(db), db, logger.NewNop(), nil).WithClock(func() time.Time { return now })
	return db, r
}

func timePtr(t time.Time) *time.Time { return &t }

func seedOrder(t *testing.T, db *database.DB, id string, status models.OrderStatus, items ...models.OrderItem) {
	dbtest.Insert(t, db, &models.Order{ID: id, TenantID: "org1", EventID: "ev1", Email: "a@b.c", Status: status,
		Currency: "eur", AccessTokenHash: "hash-" + id, TokenIssuedAt: now, CreatedAt: now, UpdatedAt: now})
	for i := range items {
		items[i].ID = id + "-item-" + items[i].InventoryID()
		items[i].OrderID = id
		items[i].CreatedAt = now
		dbtest.Insert(t, db, &items[i])
	}
}

func TestReservePricesFromStoredValues(t *testing.T) {
	_, r := setup(t)

	res, err := r.Reserve(context.Background(), "ev1", []inventory.Line{
		{InventoryID: "ga", Quantity: 2},
		{InventoryID: "shirt-xl", Quantity: 1},
		{InventoryID: "shirt-m", Quantity: 1},
	})
	require.NoError(t, err)

	require.True(t, res.Valid)
	assert.Equal(t, int64(2*2500+2200+2000), res.TotalPrice)
	assert.Equal(t, models.KindTicket, res.Items[0].Kind)
	assert.Equal(t, int64(2200), res.Items[1].UnitPrice)
	assert.Equal(t, "Shirt / M", res.Items[2].Name)
	assert.Equal(t, int64(2000), res.Items[2].UnitPrice)

	items := res.OrderItems("o1")
	require.Len(t, items, 3)
	assert.Equal(t, "ga", items[0].TicketTypeID)
	assert.Equal(t, "shirt", items[1].ProductID)
	assert.Equal(t, "shirt-xl", items[1].VariantID)
}

func TestReserveCoalescesDuplicateLines(t *testing.T) {
	_, r := setup(t)

	res, err := r.Reserve(context.Background(), "ev1", []inventory.Line{
		{InventoryID: "ga", Quantity: 1},
		{InventoryID: "ga", Quantity: 2},
	})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, 3, res.Items[0].Quantity)
	assert.Equal(t, int64(7500), res.TotalPrice)
}

func TestReserveRejectsBadQuantities(t *testing.T) {
	_, r := setup(t)

	for _, qty := range []int{0, -1, inventory.MaxLineQuantity + 1} {
		_, err := r.Reserve(context.Background(), "ev1", []inventory.Line{{InventoryID: "ga", Quantity: qty}})
		assert.True(t, apperr.IsCode(err, apperr.CodeValidation), "qty %d", qty)
	}

	_, err := r.Reserve(context.Background(), "ev1", nil)
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))
}

func TestCoalesceBoundsMergedQuantities(t *testing.T) {
	out, err := inventory.Coalesce([]inventory.Line{
		{InventoryID: "ga", Quantity: 400},
		{InventoryID: "shirt", Quantity: 1},
		{InventoryID: "ga", Quantity: inventory.MaxLineQuantity - 400},
	})
	require.NoError(t, err)
	assert.Equal(t, []inventory.Line{{InventoryID: "ga", Quantity: inventory.MaxLineQuantity}, {InventoryID: "shirt", Quantity: 1}}, out)

	cases := map[string][]inventory.Line{
		"single line over limit": {{InventoryID: "ga", Quantity: math.MaxInt}},
		"merge past limit":       {{InventoryID: "ga", Quantity: 600}, {InventoryID: "ga", Quantity: 401}},
		"merge would overflow": {
			{InventoryID: "ga", Quantity: math.MaxInt},
			{InventoryID: "ga", Quantity: math.MaxInt},
			{InventoryID: "ga", Quantity: math.MaxInt},
			{InventoryID: "ga", Quantity: math.MaxInt},
		},
	}
	for name, lines := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := inventory.Coalesce(lines)
			assert.True(t, apperr.IsCode(err, apperr.CodeValidation))
		})
	}
}

func TestReserveRejectionReasons(t *testing.T) {
	_, r := setup(t)

	cases := []struct {
		name string
		line inventory.Line
		want apperr.Code
	}{
		{"over capacity", inventory.Line{InventoryID: "ga", Quantity: 11}, apperr.CodeCapacityExceeded},
		{"per order max", inventory.Line{InventoryID: "vip", Quantity: 2}, apperr.CodeMaxPerOrder},
		{"not started", inventory.Line{InventoryID: "late", Quantity: 1}, apperr.CodeSalesNotStarted},
		{"ended", inventory.Line{InventoryID: "early", Quantity: 1}, apperr.CodeSalesEnded},
		{"unknown", inventory.Line{InventoryID: "nope", Quantity: 1}, apperr.CodeInventoryNotFound},
		{"other event", inventory.Line{InventoryID: "foreign", Quantity: 1}, apperr.CodeInventoryNotFound},
		{"restricted without ticket", inventory.Line{InventoryID: "parking", Quantity: 1}, apperr.CodeRestrictedProduct},
		{"variant capacity", inventory.Line{InventoryID: "shirt-xl", Quantity: 3}, apperr.CodeCapacityExceeded},
		{"product per order", inventory.Line{InventoryID: "shirt-m", Quantity: 5}, apperr.CodeMaxPerOrder},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := r.Reserve(context.Background(), "ev1", []inventory.Line{tc.line})
			require.NoError(t, err)
			assert.False(t, res.Valid)
			assert.Equal(t, int64(0), res.TotalPrice)
			assert.Equal(t, tc.want, res.Items[0].Reason)
			assert.Equal(t, tc.want, res.Rejection().Code())
		})
	}
}

func TestReserveIsAllOrNothing(t *testing.T) {
	_, r := setup(t)

	res, err := r.Reserve(context.Background(), "ev1", []inventory.Line{
		{InventoryID: "ga", Quantity: 1},
		{InventoryID: "vip", Quantity: 2},
	})
	require.NoError(t, err)

	assert.False(t, res.Valid)
	assert.Empty(t, res.Items[0].Reason)
	assert.Equal(t, apperr.CodeMaxPerOrder, res.Items[1].Reason)
	assert.Equal(t, apperr.CodeMaxPerOrder, res.Rejection().Code())
}

func TestRestrictedProductWithQualifyingTicket(t *testing.T) {
	_, r := setup(t)

	res, err := r.Reserve(context.Background(), "ev1", []inventory.Line{
		{InventoryID: "parking", Quantity: 1},
		{InventoryID: "ga", Quantity: 1},
	})
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestReserveCountsPendingAndPaidButNotFailed(t *testing.T) {
	db, r := setup(t)
	seedOrder(t, db, "paid", models.OrderPaid, models.NewTicketLine("", "ga", "GA", 4, 2500))
	seedOrder(t, db, "pending", models.OrderPending, models.NewTicketLine("", "ga", "GA", 4, 2500))
	seedOrder(t, db, "failed", models.OrderFailed, models.NewTicketLine("", "ga", "GA", 4, 2500))
	seedOrder(t, db, "shirts", models.OrderPaid, models.NewProductLine("", "shirt", "shirt-xl", "Shirt / XL", 2, 2200))

	res, err := r.Reserve(context.Background(), "ev1", []inventory.Line{{InventoryID: "ga", Quantity: 3}})
	require.NoError(t, err)
	assert.Equal(t, apperr.CodeCapacityExceeded, res.Items[0].Reason)

	res, err = r.Reserve(context.Background(), "ev1", []inventory.Line{{InventoryID: "ga", Quantity: 2}})
	require.NoError(t, err)
	assert.True(t, res.Valid)

	// the XL variant is sold out; M still draws on the parent's remaining 3
	res, err = r.Reserve(context.Background(), "ev1", []inventory.Line{{InventoryID: "shirt-xl", Quantity: 1}})
	require.NoError(t, err)
	assert.Equal(t, apperr.CodeCapacityExceeded, res.Items[0].Reason)

	res, err = r.Reserve(context.Background(), "ev1", []inventory.Line{{InventoryID: "shirt-m", Quantity: 4}})
	require.NoError(t, err)
	assert.Equal(t, apperr.CodeCapacityExceeded, res.Items[0].Reason)
}

func TestUnlimitedCapacityAlwaysPasses(t *testing.T) {
	db, r := setup(t)
	seedOrder(t, db, "big", models.OrderPaid, models.NewTicketLine("", "free", "Community", 1000, 0))

	res, err := r.Reserve(context.Background(), "ev1", []inventory.Line{{InventoryID: "free", Quantity: 1000}})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, int64(0), res.TotalPrice)
}

// Concurrent carts for the last VIP unit: the pending order written inside the reservation
// transaction is what the next locker sees.
func TestConcurrentReserveAndPersistNeverOversells(t *testing.T) {
	db, r := setup(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted, rejected := 0, 0

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := db.RunInTx(ctx, func(ctx context.Context) error {
				res, err := r.Reserve(ctx, "ev1", []inventory.Line{{InventoryID: "vip", Quantity: 1}})
				if err != nil {
					return err
				}
				if !res.Valid {
					mu.Lock()
					rejected++
					mu.Unlock()
					assert.Equal(t, apperr.CodeCapacityExceeded, res.Items[0].Reason)
					return nil
				}
				id := "race-" + string(rune('a'+i))
				order := &models.Order{ID: id, TenantID: "org1", EventID: "ev1", Email: "a@b.c", Status: models.OrderPending,
					Subtotal: res.TotalPrice, Total: res.TotalPrice, Currency: "eur", AccessTokenHash: id,
					TokenIssuedAt: now, CreatedAt: now, UpdatedAt: now}
				if _, err := db.Conn(ctx).NewInsert().Model(order).Exec(ctx); err != nil {
					return err
				}
				items := res.OrderItems(id)
				for j := range items {
					items[j].ID = id + "-item"
					items[j].CreatedAt = now
				}
				if _, err := db.Conn(ctx).NewInsert().Model(&items).Exec(ctx); err != nil {
					return err
				}
				mu.Lock()
				accepted++
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Equal(t, 7, rejected)
}

func TestConfirmCountsOnlyPaidOrders(t *testing.T) {
	db, r := setup(t)
	ctx := context.Background()

	seedOrder(t, db, "mine", models.OrderPending, models.NewTicketLine("", "vip", "VIP", 1, 9000))
	seedOrder(t, db, "other-pending", models.OrderPending, models.NewTicketLine("", "vip", "VIP", 1, 9000))

	order := &models.Order{ID: "mine", EventID: "ev1"}
	items := []models.OrderItem{models.NewTicketLine("mine", "vip", "VIP", 1, 9000)}

	var ok bool
	err := db.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		ok, err = r.Confirm(ctx, order, items)
		return err
	})
	require.NoError(t, err)
	assert.True(t, ok)

	seedOrder(t, db, "free-grab", models.OrderPaid, models.NewTicketLine("", "vip", "VIP", 1, 0))
	err = db.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		ok, err = r.Confirm(ctx, order, items)
		return err
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConfirmChecksParentProductCapacity(t *testing.T) {
	db, r := setup(t)
	ctx := context.Background()
	seedOrder(t, db, "sold", models.OrderPaid, models.NewProductLine("", "shirt", "", "Shirt", 4, 2000))

	order := &models.Order{ID: "mine", EventID: "ev1"}
	items := []models.OrderItem{models.NewProductLine("mine", "shirt", "shirt-m", "Shirt / M", 2, 2000)}

	ok, err := r.Confirm(ctx, order, items)
	require.NoError(t, err)
	assert.False(t, ok)
}

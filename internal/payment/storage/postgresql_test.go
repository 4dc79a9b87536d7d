package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-checkout/internal/database"
	"ms-checkout/internal/database/dbtest"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
)

func TestPaymentRoundTrip(t *testing.T) {
	store := NewPostgreSQLStore(dbtest.New(t), logger.NewNop())
	ctx := context.Background()

	p := &models.Payment{ID: "p1", OrderID: "o1", Provider: "stripe", ProviderPaymentID: "cs_1",
		Amount: 5000, Currency: "eur", Status: models.PaymentOpen}
	require.NoError(t, store.SavePayment(ctx, p))

	got, err := store.GetPaymentByProviderID(ctx, "cs_1")
	require.NoError(t, err)
	assert.Equal(t, "o1", got.OrderID)

	require.NoError(t, store.UpdatePaymentStatus(ctx, "p1", models.PaymentPaid, "pi_1"))
	got, err = store.GetPaymentByOrderID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, got.Status)
	assert.Equal(t, "pi_1", got.ProviderIntentID)

	require.NoError(t, store.UpdatePaymentStatus(ctx, "p1", models.PaymentPaid, ""))
	got, err = store.GetPaymentByOrderID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "pi_1", got.ProviderIntentID)

	_, err = store.GetPaymentByProviderID(ctx, "cs_unknown")
	assert.True(t, database.IsNotFound(err))
}

func TestEventLedgerDeduplicates(t *testing.T) {
	store := NewPostgreSQLStore(dbtest.New(t), logger.NewNop())
	ctx := context.Background()

	ev := &models.PaymentEvent{ID: "e1", Provider: "stripe", EventID: "evt_1", EventType: "checkout.session.completed", ObjectID: "cs_1"}
	require.NoError(t, store.InsertEvent(ctx, ev))

	dup := &models.PaymentEvent{ID: "e2", Provider: "stripe", EventID: "evt_1", EventType: "checkout.session.completed", ObjectID: "cs_1"}
	assert.ErrorIs(t, store.InsertEvent(ctx, dup), ErrDuplicateEvent)

	other := &models.PaymentEvent{ID: "e3", Provider: "other", EventID: "evt_1", EventType: "x", ObjectID: "y"}
	require.NoError(t, store.InsertEvent(ctx, other))

	require.NoError(t, store.MarkEventProcessed(ctx, "e1", "paid"))
	got, err := store.GetEvent(ctx, "stripe", "evt_1")
	require.NoError(t, err)
	require.NotNil(t, got.ProcessedAt)
	assert.Equal(t, "paid", got.Outcome)
}

package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-checkout/internal/database"
	"ms-checkout/internal/database/dbtest"
	"ms-checkout/internal/models"
	"ms-checkout/internal/tickets/db"
)

func ticket(id string, unit int) models.TicketInstance {
	return models.TicketInstance{
		ID: id, OrderID: "o1", OrderItemID: "item1", UnitIndex: unit, TicketTypeID: "ga",
		Status: models.TicketIssued, ScanTokenHash: "hash-" + id, IssuedAt: time.Now().UTC(),
	}
}

func TestUnitCanOnlyBeIssuedOnce(t *testing.T) {
	ticketDB := db.New(dbtest.New(t))
	ctx := context.Background()

	require.NoError(t, ticketDB.CreateTickets(ctx, []models.TicketInstance{ticket("t1", 0), ticket("t2", 1)}))

	err := ticketDB.CreateTickets(ctx, []models.TicketInstance{ticket("t3", 1)})
	require.Error(t, err)
	assert.True(t, database.IsUniqueViolation(err))
}

func TestCheckInOnlyFromIssued(t *testing.T) {
	ticketDB := db.New(dbtest.New(t))
	ctx := context.Background()
	require.NoError(t, ticketDB.CreateTickets(ctx, []models.TicketInstance{ticket("t1", 0)}))

	got, err := ticketDB.LockTicketByScanHash(ctx, "hash-t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.ID)

	ok, err := ticketDB.MarkCheckedIn(ctx, "t1", time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ticketDB.MarkCheckedIn(ctx, "t1", time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = ticketDB.LockTicketByScanHash(ctx, "nope")
	assert.True(t, database.IsNotFound(err))
}

func TestVoidTicketsByOrder(t *testing.T) {
	ticketDB := db.New(dbtest.New(t))
	ctx := context.Background()
	require.NoError(t, ticketDB.CreateTickets(ctx, []models.TicketInstance{ticket("t1", 0), ticket("t2", 1)}))

	n, err := ticketDB.VoidTicketsByOrder(ctx, "o1", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err := ticketDB.GetTicketsByOrder(ctx, "o1")
	require.NoError(t, err)
	for _, tk := range list {
		assert.Equal(t, models.TicketVoid, tk.Status)
		assert.NotNil(t, tk.VoidedAt)
	}
}

package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRefundStatusTransitions(t *testing.T) {
	assert.True(t, RefundPending.CanMoveTo(RefundQueued))
	assert.True(t, RefundQueued.CanMoveTo(RefundRefunded))
	assert.True(t, RefundProcessing.CanMoveTo(RefundFailed))
	assert.False(t, RefundProcessing.CanMoveTo(RefundQueued))
	assert.False(t, RefundRefunded.CanMoveTo(RefundFailed))
	assert.False(t, RefundQueued.CanMoveTo(RefundQueued))
}

func TestRefundStatusCounts(t *testing.T) {
	for _, s := range CountedRefundStatuses {
		assert.True(t, s.Counts(), s)
	}
	assert.False(t, RefundFailed.Counts())
	assert.False(t, RefundCanceled.Counts())
}

func TestOrderItemInventoryID(t *testing.T) {
	ticket := NewTicketLine("o1", "tt1", "GA", 3, 1500)
	variant := NewProductLine("o1", "p1", "v1", "Shirt M", 1, 2000)
	product := NewProductLine("o1", "p1", "", "Shirt", 2, 1800)

	assert.Equal(t, "tt1", ticket.InventoryID())
	assert.Equal(t, int64(4500), ticket.LineTotal)
	assert.True(t, ticket.IsTicket())
	assert.Equal(t, "v1", variant.InventoryID())
	assert.Equal(t, "p1", product.InventoryID())
	assert.False(t, product.IsTicket())
}

package db

import (
	"context"
	"fmt"
	"time"

	"ms-checkout/internal/database"
	"ms-checkout/internal/models"
)

type DB struct {
	*database.DB
}

func New(base *database.DB) *DB {
	return &DB{DB: base}
}

func (d *DB) CreateTickets(ctx context.Context, tickets []models.TicketInstance) error {
	if len(tickets) == 0 {
		return nil
	}
	if _, err := d.Conn(ctx).NewInsert().Model(&tickets).Exec(ctx); err != nil {
		return fmt.Errorf("insert tickets: %w", err)
	}
	return nil
}

func (d *DB) GetTicketsByOrder(ctx context.Context, orderID string) ([]models.TicketInstance, error) {
	var tickets []models.TicketInstance
	err := d.Conn(ctx).NewSelect().Model(&tickets).
		Where("order_id = ?", orderID).
		OrderExpr("order_item_id, unit_index").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

// LockTicketByScanHash holds the ticket row for a check-in.
func (d *DB) LockTicketByScanHash(ctx context.Context, hash string) (*models.TicketInstance, error) {
	conn := d.Conn(ctx)
	ticket := new(models.TicketInstance)
	q := conn.NewSelect().Model(ticket).Where("scan_token_hash = ?", hash)
	if database.IsPostgres(conn) {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return ticket, nil
}

// MarkCheckedIn moves an issued ticket to checked_in and reports whether it did.
func (d *DB) MarkCheckedIn(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := d.Conn(ctx).NewUpdate().Model((*models.TicketInstance)(nil)).
		Set("status = ?", models.TicketCheckedIn).
		Set("checked_in_at = ?", at).
		Where("id = ?", id).
		Where("status = ?", models.TicketIssued).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("check in ticket: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// VoidTicketsByOrder voids every ticket of the order that is not void yet.
func (d *DB) VoidTicketsByOrder(ctx context.Context, orderID string, at time.Time) (int, error) {
	res, err := d.Conn(ctx).NewUpdate().Model((*models.TicketInstance)(nil)).
		Set("status = ?", models.TicketVoid).
		Set("voided_at = ?", at).
		Where("order_id = ?", orderID).
		Where("status <> ?", models.TicketVoid).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("void tickets: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

package storage

import (
	"context"
	"fmt"
	"time"

	"ms-checkout/internal/database"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
)

type PostgreSQLStore struct {
	db  *database.DB
	log *logger.Logger
}

func NewPostgreSQLStore(db *database.DB, log *logger.Logger) *PostgreSQLStore {
	return &PostgreSQLStore{db: db, log: log}
}

func (s *PostgreSQLStore) SavePayment(ctx context.Context, payment *models.Payment) error {
	now := time.Now().UTC()
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}
	payment.UpdatedAt = now

	if _, err := s.db.Conn(ctx).NewInsert().Model(payment).Exec(ctx); err != nil {
		s.log.LogDatabase("INSERT_FAILED", "payments", err.Error())
		return fmt.Errorf("failed to save payment: %w", err)
	}
	s.log.LogDatabase("INSERT", "payments", fmt.Sprintf("payment %s for order %s", payment.ID, payment.OrderID))
	return nil
}

func (s *PostgreSQLStore) GetPaymentByProviderID(ctx context.Context, providerPaymentID string) (*models.Payment, error) {
	payment := new(models.Payment)
	err := s.db.Conn(ctx).NewSelect().Model(payment).
		Where("provider_payment_id = ?", providerPaymentID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// GetPaymentByOrderID returns the newest payment attempt of the order.
func (s *PostgreSQLStore) GetPaymentByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	payment := new(models.Payment)
	err := s.db.Conn(ctx).NewSelect().Model(payment).
		Where("order_id = ?", orderID).
		OrderExpr("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// UpdatePaymentStatus leaves the intent id alone when intentID is empty.
func (s *PostgreSQLStore) UpdatePaymentStatus(ctx context.Context, id string, status models.PaymentStatus, intentID string) error {
	q := s.db.Conn(ctx).NewUpdate().Model((*models.Payment)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id)
	if intentID != "" {
		q = q.Set("provider_intent_id = ?", intentID)
	}
	if _, err := q.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update payment %s: %w", id, err)
	}
	return nil
}

func (s *PostgreSQLStore) GetEvent(ctx context.Context, provider, eventID string) (*models.PaymentEvent, error) {
	event := new(models.PaymentEvent)
	err := s.db.Conn(ctx).NewSelect().Model(event).
		Where("provider = ?", provider).
		Where("event_id = ?", eventID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return event, nil
}

// InsertEvent appends to the ledger. A repeated (provider, event_id) returns ErrDuplicateEvent.
func (s *PostgreSQLStore) InsertEvent(ctx context.Context, event *models.PaymentEvent) error {
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}
	_, err := s.db.Conn(ctx).NewInsert().Model(event).Exec(ctx)
	if database.IsUniqueViolation(err) {
		return ErrDuplicateEvent
	}
	if err != nil {
		return fmt.Errorf("failed to record payment event: %w", err)
	}
	return nil
}

func (s *PostgreSQLStore) MarkEventProcessed(ctx context.Context, id, outcome string) error {
	_, err := s.db.Conn(ctx).NewUpdate().Model((*models.PaymentEvent)(nil)).
		Set("processed_at = ?", time.Now().UTC()).
		Set("outcome = ?", outcome).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to mark payment event %s: %w", id, err)
	}
	return nil
}

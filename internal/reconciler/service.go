// Package reconciler applies provider webhooks to orders, payments and refunds. Webhook
// payloads only name the object that changed; its state is always fetched back from the
// provider before anything moves.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ms-checkout/internal/apperr"
	"ms-checkout/internal/database"
	"ms-checkout/internal/kafka"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/metrics"
	"ms-checkout/internal/models"
	"ms-checkout/internal/payment"
	"ms-checkout/internal/payment/storage"
	"ms-checkout/internal/refund"
	tickets "ms-checkout/internal/tickets/service"
	"ms-checkout/internal/utils"
)

type Outcome string

const (
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeIgnored        Outcome = "ignored"
	OutcomeUnknown        Outcome = "unknown_object"
	OutcomeNoop           Outcome = "noop"
	OutcomePaid           Outcome = "paid"
	OutcomeOverbooked     Outcome = "overbooked"
	OutcomeFailed         Outcome = "failed"
	OutcomeCancelled      Outcome = "cancelled"
	OutcomeAmountMismatch Outcome = "amount_mismatch"
	OutcomeRefundUpdated  Outcome = "refund_updated"
)

type PaymentStore interface {
	GetPaymentByProviderID(ctx context.Context, providerPaymentID string) (*models.Payment, error)
	UpdatePaymentStatus(ctx context.Context, id string, status models.PaymentStatus, intentID string) error
	GetEvent(ctx context.Context, provider, eventID string) (*models.PaymentEvent, error)
	InsertEvent(ctx context.Context, event *models.PaymentEvent) error
	MarkEventProcessed(ctx context.Context, id, outcome string) error
}

type OrderDBLayer interface {
	LockOrder(ctx context.Context, id string) (*models.Order, error)
	GetItemsByOrder(ctx context.Context, orderID string) ([]models.OrderItem, error)
	UpdateOrderStatus(ctx context.Context, id string, from []models.OrderStatus, next models.OrderStatus) (bool, error)
	AppendAudit(ctx context.Context, tenantID, entityType, entityID, action, detail string) error
}

type Confirmer interface {
	Confirm(ctx context.Context, order *models.Order, items []models.OrderItem) (bool, error)
}

type TicketIssuer interface {
	IssueTickets(ctx context.Context, orderID string) (*tickets.Issued, error)
	Deliver(ctx context.Context, issued *tickets.Issued)
}

type Refunds interface {
	RequestRefund(ctx context.Context, req refund.RefundRequest) (*models.Refund, error)
	ApplyProviderStatus(ctx context.Context, verified *payment.VerifiedRefund) (*refund.Transition, error)
	Announce(ctx context.Context, t *refund.Transition)
}

type Gateway interface {
	Name() string
	GetPayment(ctx context.Context, providerPaymentID string) (*payment.VerifiedPayment, error)
	GetRefund(ctx context.Context, providerRefundID string) (*payment.VerifiedRefund, error)
	ParseWebhook(body []byte, signature string) (*payment.WebhookEvent, error)
}

type KafkaPublisher interface {
	PublishOrderUpdated(ctx context.Context, order *models.Order) error
	PublishOperatorAlert(ctx context.Context, alert kafka.OperatorAlert) error
}

type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Reconciler struct {
	Payments  PaymentStore
	Orders    OrderDBLayer
	Inventory Confirmer
	Tickets   TicketIssuer
	Refunds   Refunds
	Gateway   Gateway
	Kafka     KafkaPublisher
	Tx        TxRunner
	Logger    *logger.Logger
	Metrics   *metrics.Checkout
	now       func() time.Time
}

func NewReconciler(payments PaymentStore, orders OrderDBLayer, inventory Confirmer, issuer TicketIssuer, refunds Refunds,
	gateway Gateway, kafka KafkaPublisher, tx TxRunner, log *logger.Logger, m *metrics.Checkout) *Reconciler {
	return &Reconciler{
		Payments:  payments,
		Orders:    orders,
		Inventory: inventory,
		Tickets:   issuer,
		Refunds:   refunds,
		Gateway:   gateway,
		Kafka:     kafka,
		Tx:        tx,
		Logger:    log,
		Metrics:   m,
		now:       time.Now,
	}
}

// HandleWebhook authenticates and applies one delivery. Every delivery of the same provider
// event has at most one effect. A returned error means the provider should redeliver;
// nothing of the failed attempt was committed.
func (r *Reconciler) HandleWebhook(ctx context.Context, body []byte, signature string) (Outcome, error) {
	evt, err := r.Gateway.ParseWebhook(body, signature)
	if err != nil {
		r.Metrics.Webhook("unknown", "bad_signature")
		r.Logger.LogSecurity("WEBHOOK_SIGNATURE", err.Error())
		return "", err
	}

	outcome, err := r.handle(ctx, evt)
	if err != nil {
		r.Metrics.Webhook(string(evt.Kind), "error")
		r.Logger.Error("WEBHOOK", fmt.Sprintf("Event %s (%s) failed: %v", evt.ID, evt.Type, err))
		return "", err
	}
	r.Metrics.Webhook(string(evt.Kind), string(outcome))
	r.Logger.Info("WEBHOOK", fmt.Sprintf("Event %s (%s) for %s: %s", evt.ID, evt.Type, evt.ObjectID, outcome))
	return outcome, nil
}

func (r *Reconciler) handle(ctx context.Context, evt *payment.WebhookEvent) (Outcome, error) {
	seen, err := r.Payments.GetEvent(ctx, r.Gateway.Name(), evt.ID)
	if err == nil && seen.ProcessedAt != nil {
		return OutcomeDuplicate, nil
	}
	if err != nil && !database.IsNotFound(err) {
		return "", fmt.Errorf("load event: %w", err)
	}

	switch evt.Kind {
	case payment.EventPayment:
		return r.handlePayment(ctx, evt)
	case payment.EventRefund:
		return r.handleRefund(ctx, evt)
	default:
		return r.record(ctx, evt, OutcomeIgnored)
	}
}

// record closes a ledger entry for an event that changes nothing.
func (r *Reconciler) record(ctx context.Context, evt *payment.WebhookEvent, outcome Outcome) (Outcome, error) {
	err := r.Tx.RunInTx(ctx, func(ctx context.Context) error {
		return r.Payments.InsertEvent(ctx, r.newLedgerEntry(evt, outcome))
	})
	if errors.Is(err, storage.ErrDuplicateEvent) {
		return OutcomeDuplicate, nil
	}
	if err != nil {
		return "", err
	}
	return outcome, nil
}

func (r *Reconciler) newLedgerEntry(evt *payment.WebhookEvent, outcome Outcome) *models.PaymentEvent {
	now := r.now().UTC()
	entry := &models.PaymentEvent{
		ID:         utils.NewID(),
		Provider:   r.Gateway.Name(),
		EventID:    evt.ID,
		EventType:  evt.Type,
		ObjectID:   evt.ObjectID,
		ReceivedAt: now,
	}
	if outcome != "" {
		entry.Outcome = string(outcome)
		entry.ProcessedAt = &now
	}
	return entry
}

// effects are collected inside the transaction and carried out after it commits.
type effects struct {
	order      *models.Order
	changed    bool
	issued     *tickets.Issued
	overbooked bool
	alert      *kafka.OperatorAlert
}

func (r *Reconciler) handlePayment(ctx context.Context, evt *payment.WebhookEvent) (Outcome, error) {
	local, err := r.Payments.GetPaymentByProviderID(ctx, evt.ObjectID)
	if database.IsNotFound(err) {
		return r.record(ctx, evt, OutcomeUnknown)
	}
	if err != nil {
		return "", fmt.Errorf("load payment: %w", err)
	}

	// read before the transaction so no row lock is held across the provider call
	verified, err := r.Gateway.GetPayment(ctx, evt.ObjectID)
	if err != nil {
		return "", err
	}
	if verified.OrderID != "" && verified.OrderID != local.OrderID {
		r.Logger.LogSecurity("WEBHOOK_ORDER_MISMATCH", fmt.Sprintf("session %s names order %s, stored for %s", local.ProviderPaymentID, verified.OrderID, local.OrderID))
		return r.record(ctx, evt, OutcomeIgnored)
	}

	var (
		outcome Outcome
		eff     effects
	)
	err = r.Tx.RunInTx(ctx, func(ctx context.Context) error {
		entry := r.newLedgerEntry(evt, "")
		if err := r.Payments.InsertEvent(ctx, entry); err != nil {
			return err
		}

		order, err := r.Orders.LockOrder(ctx, local.OrderID)
		if err != nil {
			return fmt.Errorf("lock order %s: %w", local.OrderID, err)
		}
		eff.order = order

		if outcome, err = r.transition(ctx, order, verified, &eff); err != nil {
			return err
		}
		if verified.Status != local.Status || (verified.ProviderIntentID != "" && verified.ProviderIntentID != local.ProviderIntentID) {
			if err := r.Payments.UpdatePaymentStatus(ctx, local.ID, verified.Status, verified.ProviderIntentID); err != nil {
				return err
			}
		}
		return r.Payments.MarkEventProcessed(ctx, entry.ID, string(outcome))
	})
	if errors.Is(err, storage.ErrDuplicateEvent) {
		return OutcomeDuplicate, nil
	}
	if err != nil {
		return "", err
	}

	r.afterPayment(ctx, outcome, &eff)
	return outcome, nil
}

// transition is the order state machine for a verified payment status.
func (r *Reconciler) transition(ctx context.Context, order *models.Order, verified *payment.VerifiedPayment, eff *effects) (Outcome, error) {
	switch verified.Status {
	case models.PaymentPaid:
		from := []models.OrderStatus{models.OrderPending, models.OrderFailed, models.OrderCancelled}
		if !hasStatus(order.Status, from) {
			return OutcomeNoop, nil
		}
		if verified.Amount != order.Total || !strings.EqualFold(verified.Currency, order.Currency) {
			eff.alert = &kafka.OperatorAlert{
				Kind:     string(OutcomeAmountMismatch),
				OrderID:  order.ID,
				TenantID: order.TenantID,
				Message:  fmt.Sprintf("provider captured %d %s, order total is %d %s", verified.Amount, verified.Currency, order.Total, order.Currency),
			}
			return OutcomeAmountMismatch, nil
		}

		items, err := r.Orders.GetItemsByOrder(ctx, order.ID)
		if err != nil {
			return "", fmt.Errorf("load order items: %w", err)
		}
		ok, err := r.Inventory.Confirm(ctx, order, items)
		if err != nil {
			return "", err
		}
		if !ok {
			if err := r.move(ctx, order, from, models.OrderOverbooked, eff); err != nil {
				return "", err
			}
			eff.overbooked = true
			return OutcomeOverbooked, nil
		}

		if err := r.move(ctx, order, from, models.OrderPaid, eff); err != nil {
			return "", err
		}
		if eff.issued, err = r.Tickets.IssueTickets(ctx, order.ID); err != nil {
			return "", fmt.Errorf("issue tickets: %w", err)
		}
		return OutcomePaid, nil

	case models.PaymentFailed:
		if order.Status != models.OrderPending {
			return OutcomeNoop, nil
		}
		return OutcomeFailed, r.move(ctx, order, []models.OrderStatus{models.OrderPending}, models.OrderFailed, eff)

	case models.PaymentCanceled, models.PaymentExpired:
		if order.Status != models.OrderPending {
			return OutcomeNoop, nil
		}
		return OutcomeCancelled, r.move(ctx, order, []models.OrderStatus{models.OrderPending}, models.OrderCancelled, eff)

	default:
		return OutcomeNoop, nil
	}
}

func (r *Reconciler) move(ctx context.Context, order *models.Order, from []models.OrderStatus, next models.OrderStatus, eff *effects) error {
	moved, err := r.Orders.UpdateOrderStatus(ctx, order.ID, from, next)
	if err != nil {
		return err
	}
	if !moved {
		return fmt.Errorf("order %s left %s before it could move to %s", order.ID, order.Status, next)
	}
	order.Status = next
	eff.changed = true
	return nil
}

func (r *Reconciler) afterPayment(ctx context.Context, outcome Outcome, eff *effects) {
	order := eff.order
	if eff.changed {
		r.Logger.LogOrder(strings.ToUpper(string(outcome)), order.ID, "moved by provider webhook")
		if err := r.Orders.AppendAudit(ctx, order.TenantID, "order", order.ID, "order."+string(order.Status), "webhook"); err != nil {
			r.Logger.Warn("AUDIT", err.Error())
		}
		if err := r.Kafka.PublishOrderUpdated(ctx, order); err != nil {
			r.Logger.Warn("KAFKA", fmt.Sprintf("order update for %s: %v", order.ID, err))
		}
	}
	r.Tickets.Deliver(ctx, eff.issued)

	if eff.overbooked {
		eff.alert = &kafka.OperatorAlert{
			Kind:     string(OutcomeOverbooked),
			OrderID:  order.ID,
			TenantID: order.TenantID,
			Message:  "payment captured after capacity ran out; full refund requested",
		}
	}
	if eff.alert != nil {
		if err := r.Kafka.PublishOperatorAlert(ctx, *eff.alert); err != nil {
			r.Logger.Error("KAFKA", fmt.Sprintf("operator alert for %s: %v", order.ID, err))
		}
	}
	if eff.overbooked {
		r.compensate(ctx, order)
	}
}

// compensate refunds an overbooked order in full. The idempotency key is derived from the
// order so that repeated attempts refund once.
func (r *Reconciler) compensate(ctx context.Context, order *models.Order) {
	ref, err := r.Refunds.RequestRefund(ctx, refund.RefundRequest{
		OrderID:        order.ID,
		Reason:         "overbooked",
		IdempotencyKey: "overbooked:" + order.ID,
	})
	if err != nil {
		r.Logger.Error("REFUND", fmt.Sprintf("Compensating refund for overbooked order %s failed: %v", order.ID, err))
		return
	}
	r.Logger.LogOrder("COMPENSATED", order.ID, fmt.Sprintf("refund %s is %s", ref.ID, ref.Status))
}

func (r *Reconciler) handleRefund(ctx context.Context, evt *payment.WebhookEvent) (Outcome, error) {
	verified, err := r.Gateway.GetRefund(ctx, evt.ObjectID)
	if errors.Is(err, payment.ErrRejected) {
		return r.record(ctx, evt, OutcomeUnknown)
	}
	if err != nil {
		return "", err
	}

	var (
		outcome    Outcome
		transition *refund.Transition
	)
	err = r.Tx.RunInTx(ctx, func(ctx context.Context) error {
		entry := r.newLedgerEntry(evt, "")
		if err := r.Payments.InsertEvent(ctx, entry); err != nil {
			return err
		}

		t, err := r.Refunds.ApplyProviderStatus(ctx, verified)
		switch {
		case errors.Is(err, refund.ErrUnknownRefund):
			outcome = OutcomeUnknown
		case err != nil:
			return err
		case t.Changed:
			outcome, transition = OutcomeRefundUpdated, t
		default:
			outcome = OutcomeNoop
		}
		return r.Payments.MarkEventProcessed(ctx, entry.ID, string(outcome))
	})
	if errors.Is(err, storage.ErrDuplicateEvent) {
		return OutcomeDuplicate, nil
	}
	if err != nil {
		return "", err
	}

	r.Refunds.Announce(ctx, transition)
	return outcome, nil
}

func hasStatus(s models.OrderStatus, set []models.OrderStatus) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Retryable reports whether a failed delivery should be answered with 503 rather than 500.
func Retryable(err error) bool {
	return apperr.IsCode(err, apperr.CodeInventoryBusy) || database.IsTransient(err)
}

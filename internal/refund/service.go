package refund

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ms-checkout/internal/apperr"
	"ms-checkout/internal/database"
	"ms-checkout/internal/kafka"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/metrics"
	"ms-checkout/internal/models"
	"ms-checkout/internal/payment"
	"ms-checkout/internal/utils"
)

// ErrUnknownRefund is returned when a provider refund matches no local refund.
var ErrUnknownRefund = errors.New("refund not known locally")

type DBLayer interface {
	CreateRefund(ctx context.Context, refund *models.Refund) error
	GetByID(ctx context.Context, id string) (*models.Refund, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*models.Refund, error)
	GetByProviderID(ctx context.Context, providerRefundID string) (*models.Refund, error)
	SumCounted(ctx context.Context, orderID string) (int64, error)
	SumRefunded(ctx context.Context, orderID string) (int64, error)
	RefundedQuantities(ctx context.Context, orderID string) (map[string]int, error)
	UpdateRefund(ctx context.Context, id string, from, next models.RefundStatus, providerRefundID, failureReason string) (bool, error)
	SetProviderID(ctx context.Context, id, providerRefundID string) error
	SetFull(ctx context.Context, id string, full bool) error
}

type OrderDBLayer interface {
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	LockOrder(ctx context.Context, id string) (*models.Order, error)
	GetItemsByOrder(ctx context.Context, orderID string) ([]models.OrderItem, error)
	UpdateOrderStatus(ctx context.Context, id string, from []models.OrderStatus, next models.OrderStatus) (bool, error)
	AppendAudit(ctx context.Context, tenantID, entityType, entityID, action, detail string) error
}

type PaymentStore interface {
	GetPaymentByOrderID(ctx context.Context, orderID string) (*models.Payment, error)
}

type Gateway interface {
	CreateRefund(ctx context.Context, req payment.RefundRequest) (*payment.VerifiedRefund, error)
}

type InflightGuard interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

type TicketVoider interface {
	VoidForOrder(ctx context.Context, orderID string) (int, error)
}

type KafkaPublisher interface {
	PublishOrderUpdated(ctx context.Context, order *models.Order) error
	PublishRefundUpdated(ctx context.Context, refund *models.Refund) error
	PublishRefundCompleted(ctx context.Context, n kafka.RefundCompletedNotification) error
}

type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type RefundService struct {
	DB       DBLayer
	Orders   OrderDBLayer
	Payments PaymentStore
	Gateway  Gateway
	Guard    InflightGuard
	Tickets  TicketVoider
	Kafka    KafkaPublisher
	Tx       TxRunner
	Logger   *logger.Logger
	Metrics  *metrics.Checkout
	now      func() time.Time
}

func NewRefundService(db DBLayer, orders OrderDBLayer, payments PaymentStore, gateway Gateway, guard InflightGuard,
	tickets TicketVoider, kafka KafkaPublisher, tx TxRunner, log *logger.Logger, m *metrics.Checkout) *RefundService {
	return &RefundService{
		DB:       db,
		Orders:   orders,
		Payments: payments,
		Gateway:  gateway,
		Guard:    guard,
		Tickets:  tickets,
		Kafka:    kafka,
		Tx:       tx,
		Logger:   log,
		Metrics:  m,
		now:      time.Now,
	}
}

type ItemRequest struct {
	OrderItemID string `json:"order_item_id" validate:"required"`
	Quantity    int    `json:"quantity" validate:"gt=0"`
}

// RefundRequest asks for a refund of an amount, of item quantities, or, with neither, of
// everything still refundable.
type RefundRequest struct {
	OrderID        string        `json:"order_id" validate:"required,max=64"`
	Amount         *int64        `json:"amount,omitempty" validate:"omitempty,gt=0"`
	Items          []ItemRequest `json:"items,omitempty" validate:"omitempty,max=100,dive"`
	Reason         string        `json:"reason" validate:"required,max=500"`
	IdempotencyKey string        `json:"idempotency_key" validate:"required,max=128"`
}

// RequestRefund records a refund against a paid order and drives it at the provider. A
// repeated idempotency key returns the recorded refund without a second provider call,
// unless that earlier call never got an answer.
func (s *RefundService) RequestRefund(ctx context.Context, req RefundRequest) (*models.Refund, error) {
	if err := utils.Validate(req); err != nil {
		return nil, err
	}

	var (
		refund        *models.Refund
		intentID      string
		needsProvider bool
	)
	err := s.Tx.RunInTx(ctx, func(ctx context.Context) error {
		order, err := s.Orders.LockOrder(ctx, req.OrderID)
		if database.IsNotFound(err) {
			return apperr.New(apperr.CodeOrderNotFound, "order not found")
		}
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}

		existing, err := s.DB.GetByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil && !database.IsNotFound(err) {
			return fmt.Errorf("load refund by key: %w", err)
		}
		if existing != nil {
			if existing.OrderID != req.OrderID || (req.Amount != nil && *req.Amount != existing.Amount) {
				return apperr.New(apperr.CodeIdempotency, "idempotency key already used for another refund")
			}
			refund = existing
			if existing.Status != models.RefundPending || existing.ProviderRefundID != "" {
				return nil
			}
		} else if refund, err = s.newRefund(ctx, order, req); err != nil {
			return err
		}

		p, err := s.Payments.GetPaymentByOrderID(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("load payment: %w", err)
		}
		intentID, needsProvider = p.ProviderIntentID, true
		if existing != nil {
			return nil
		}
		refund.PaymentID = p.ID
		return s.DB.CreateRefund(ctx, refund)
	})
	if err != nil {
		if apperr.As(err) != nil {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.CodeInternal, err, "request refund")
	}

	if !needsProvider {
		s.Logger.Info("REFUND", fmt.Sprintf("Refund %s replayed for key %s", refund.ID, refund.IdempotencyKey))
		return refund, nil
	}
	return s.drive(ctx, refund, intentID)
}

// newRefund prices a refund under the order lock. Item refunds are priced at the unit price
// scaled by total/subtotal, rounded down, so discounted orders are refunded what was actually paid.
func (s *RefundService) newRefund(ctx context.Context, order *models.Order, req RefundRequest) (*models.Refund, error) {
	switch order.Status {
	case models.OrderRefunded:
		return nil, apperr.New(apperr.CodeAlreadyRefunded, "order already refunded")
	case models.OrderPaid, models.OrderOverbooked:
	default:
		return nil, apperr.New(apperr.CodeOrderNotPaid, fmt.Sprintf("order is %s", order.Status))
	}

	already, err := s.DB.SumCounted(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	refundable := order.Total - already
	if refundable <= 0 {
		return nil, apperr.New(apperr.CodeAlreadyRefunded, "nothing left to refund")
	}

	now := s.now().UTC()
	refund := &models.Refund{
		ID:             utils.NewID(),
		OrderID:        order.ID,
		Currency:       order.Currency,
		Status:         models.RefundPending,
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	switch {
	case len(req.Items) > 0:
		if err := s.priceItems(ctx, order, refund, req.Items); err != nil {
			return nil, err
		}
		if req.Amount != nil && *req.Amount != refund.Amount {
			return nil, apperr.New(apperr.CodeValidation, "amount does not match the refunded items").
				WithDetails(map[string]int64{"items_amount": refund.Amount})
		}
	case req.Amount != nil:
		refund.Amount = *req.Amount
	default:
		refund.Amount = refundable
	}

	if refund.Amount <= 0 {
		return nil, apperr.New(apperr.CodeValidation, "refund amount must be positive")
	}
	if refund.Amount > refundable {
		return nil, apperr.New(apperr.CodeExceedsRefundable, "amount exceeds refundable balance").
			WithDetails(map[string]int64{"refundable": refundable})
	}
	// Provisional. Whether the order ends up fully refunded is settled when a refund completes.
	refund.IsFull = already == 0 && refund.Amount == order.Total
	return refund, nil
}

func (s *RefundService) priceItems(ctx context.Context, order *models.Order, refund *models.Refund, reqItems []ItemRequest) error {
	items, err := s.Orders.GetItemsByOrder(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("load order items: %w", err)
	}
	byID := make(map[string]models.OrderItem, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	refunded, err := s.DB.RefundedQuantities(ctx, order.ID)
	if err != nil {
		return err
	}

	requested := map[string]int{}
	for _, ri := range reqItems {
		requested[ri.OrderItemID] += ri.Quantity
	}
	for _, ri := range reqItems {
		qty, seen := requested[ri.OrderItemID]
		if !seen {
			continue
		}
		delete(requested, ri.OrderItemID)

		item, ok := byID[ri.OrderItemID]
		if !ok {
			return apperr.New(apperr.CodeValidation, fmt.Sprintf("order item %s is not part of the order", ri.OrderItemID))
		}
		if refunded[item.ID]+qty > item.Quantity {
			return apperr.New(apperr.CodeExceedsRefundable, fmt.Sprintf("order item %s has %d units left to refund", item.ID, item.Quantity-refunded[item.ID])).
				WithDetails(map[string]int{"refundable_quantity": item.Quantity - refunded[item.ID]})
		}
		amount := paidShare(item.UnitPrice*int64(qty), order)
		refund.Amount += amount
		refund.Items = append(refund.Items, models.RefundItem{
			ID:          utils.NewID(),
			RefundID:    refund.ID,
			OrderItemID: item.ID,
			Quantity:    qty,
			Amount:      amount,
		})
	}
	return nil
}

func paidShare(lineAmount int64, order *models.Order) int64 {
	if order.Subtotal == 0 || order.Discount == 0 {
		return lineAmount
	}
	return decimal.NewFromInt(lineAmount).
		Mul(decimal.NewFromInt(order.Total)).
		Div(decimal.NewFromInt(order.Subtotal)).
		Floor().
		IntPart()
}

// drive makes the provider call for a pending refund. A retryable failure leaves the refund
// pending for a later re-drive with the same provider idempotency key.
func (s *RefundService) drive(ctx context.Context, refund *models.Refund, intentID string) (*models.Refund, error) {
	if s.Guard != nil {
		owned, err := s.Guard.Acquire(ctx, refund.IdempotencyKey)
		if err != nil {
			s.Logger.Warn("REDIS", fmt.Sprintf("refund guard unavailable for %s: %v", refund.ID, err))
		} else if !owned {
			s.Logger.Info("REFUND", fmt.Sprintf("Refund %s already in flight", refund.ID))
			return refund, nil
		} else {
			defer func() {
				if err := s.Guard.Release(context.WithoutCancel(ctx), refund.IdempotencyKey); err != nil {
					s.Logger.Warn("REDIS", err.Error())
				}
			}()
		}
	}

	if intentID == "" {
		return s.reject(ctx, refund, "order has no captured payment")
	}

	verified, err := s.Gateway.CreateRefund(ctx, payment.RefundRequest{
		RefundID:         refund.ID,
		ProviderIntentID: intentID,
		Amount:           refund.Amount,
		Reason:           refund.Reason,
		IdempotencyKey:   "refund:" + refund.IdempotencyKey,
	})
	if errors.Is(err, payment.ErrRejected) {
		return s.reject(ctx, refund, err.Error())
	}
	if err != nil {
		s.Logger.Warn("REFUND", fmt.Sprintf("Refund %s left pending: %v", refund.ID, err))
		if apperr.As(err) != nil {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.CodeProvider, err, "create refund")
	}
	if verified.RefundID == "" {
		verified.RefundID = refund.ID
	}

	transition, err := s.ApplyProviderStatus(ctx, verified)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "record refund result")
	}
	s.Announce(ctx, transition)
	return transition.Refund, nil
}

func (s *RefundService) reject(ctx context.Context, refund *models.Refund, reason string) (*models.Refund, error) {
	moved, err := s.DB.UpdateRefund(ctx, refund.ID, models.RefundPending, models.RefundFailed, "", reason)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "fail refund")
	}
	if moved {
		refund.Status = models.RefundFailed
		refund.FailureReason = reason
		s.Metrics.RefundTransition(string(models.RefundFailed))
		s.Logger.Warn("REFUND", fmt.Sprintf("Refund %s rejected: %s", refund.ID, reason))
		s.publishRefund(ctx, refund)
	}
	return refund, nil
}

// Transition is the outcome of ApplyProviderStatus. Announce it after the transaction that
// produced it commits.
type Transition struct {
	Refund    *models.Refund
	Changed   bool
	Order     *models.Order
	Completed bool
	Voided    int
}

// ApplyProviderStatus moves the local refund toward the provider's verified status. Status
// only moves forward; a terminal refund never changes. The order row is locked before any
// move. When a refund reaches refunded and the refunded total covers the order total, the
// order's tickets are voided and a paid order becomes refunded. Joins the caller's
// transaction when there is one.
func (s *RefundService) ApplyProviderStatus(ctx context.Context, verified *payment.VerifiedRefund) (*Transition, error) {
	t := &Transition{}
	err := s.Tx.RunInTx(ctx, func(ctx context.Context) error {
		refund, err := s.find(ctx, verified)
		if err != nil {
			return err
		}
		t.Refund = refund

		if refund.ProviderRefundID == "" && verified.ProviderRefundID != "" {
			if err := s.DB.SetProviderID(ctx, refund.ID, verified.ProviderRefundID); err != nil {
				return err
			}
			refund.ProviderRefundID = verified.ProviderRefundID
		}
		if !refund.Status.CanMoveTo(verified.Status) {
			return nil
		}

		order, err := s.Orders.LockOrder(ctx, refund.OrderID)
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		moved, err := s.DB.UpdateRefund(ctx, refund.ID, refund.Status, verified.Status, "", verified.FailureReason)
		if err != nil || !moved {
			return err
		}
		refund.Status = verified.Status
		if verified.FailureReason != "" {
			refund.FailureReason = verified.FailureReason
		}
		t.Changed = true

		if refund.Status != models.RefundRefunded {
			return nil
		}
		t.Completed = true
		t.Order = order

		refunded, err := s.DB.SumRefunded(ctx, order.ID)
		if err != nil {
			return err
		}
		full := refunded >= order.Total
		if full != refund.IsFull {
			if err := s.DB.SetFull(ctx, refund.ID, full); err != nil {
				return err
			}
			refund.IsFull = full
		}
		if !full {
			return nil
		}

		if t.Voided, err = s.Tickets.VoidForOrder(ctx, order.ID); err != nil {
			return fmt.Errorf("void tickets: %w", err)
		}
		orderMoved, err := s.Orders.UpdateOrderStatus(ctx, order.ID, []models.OrderStatus{models.OrderPaid}, models.OrderRefunded)
		if err != nil {
			return fmt.Errorf("mark order refunded: %w", err)
		}
		if orderMoved {
			order.Status = models.OrderRefunded
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *RefundService) find(ctx context.Context, verified *payment.VerifiedRefund) (*models.Refund, error) {
	if verified.ProviderRefundID != "" {
		refund, err := s.DB.GetByProviderID(ctx, verified.ProviderRefundID)
		if err == nil {
			return refund, nil
		}
		if !database.IsNotFound(err) {
			return nil, err
		}
	}
	if verified.RefundID != "" {
		refund, err := s.DB.GetByID(ctx, verified.RefundID)
		if err == nil {
			return refund, nil
		}
		if !database.IsNotFound(err) {
			return nil, err
		}
	}
	return nil, ErrUnknownRefund
}

// Announce publishes the effects of a committed transition. Failures are logged.
func (s *RefundService) Announce(ctx context.Context, t *Transition) {
	if t == nil || !t.Changed {
		return
	}
	refund := t.Refund
	s.Metrics.RefundTransition(string(refund.Status))
	s.Logger.Info("REFUND", fmt.Sprintf("Refund %s is %s", refund.ID, refund.Status))
	s.publishRefund(ctx, refund)

	if !t.Completed || t.Order == nil {
		return
	}
	order := t.Order
	if err := s.Orders.AppendAudit(ctx, order.TenantID, "refund", refund.ID, "refund.completed",
		fmt.Sprintf("amount=%d full=%t voided=%d", refund.Amount, refund.IsFull, t.Voided)); err != nil {
		s.Logger.Warn("AUDIT", err.Error())
	}
	if err := s.Kafka.PublishRefundCompleted(ctx, kafka.RefundCompletedNotification{
		OrderID:  order.ID,
		RefundID: refund.ID,
		Email:    order.Email,
		Amount:   refund.Amount,
		Currency: refund.Currency,
		Full:     refund.IsFull,
	}); err != nil {
		s.Logger.Warn("KAFKA", fmt.Sprintf("refund completed notification for %s: %v", refund.ID, err))
	}
	if order.Status == models.OrderRefunded {
		if err := s.Kafka.PublishOrderUpdated(ctx, order); err != nil {
			s.Logger.Warn("KAFKA", fmt.Sprintf("order update for %s: %v", order.ID, err))
		}
	}
}

func (s *RefundService) publishRefund(ctx context.Context, refund *models.Refund) {
	if err := s.Kafka.PublishRefundUpdated(ctx, refund); err != nil {
		s.Logger.Warn("KAFKA", fmt.Sprintf("refund update for %s: %v", refund.ID, err))
	}
}

package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-checkout/internal/apperr"
	"ms-checkout/internal/auth"
	"ms-checkout/internal/database"
	"ms-checkout/internal/inventory"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/metrics"
	"ms-checkout/internal/models"
	"ms-checkout/internal/order/discount"
	"ms-checkout/internal/payment"
	tickets "ms-checkout/internal/tickets/service"
	"ms-checkout/internal/utils"
)

type DBLayer interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	CreateItems(ctx context.Context, items []models.OrderItem) error
	RecordFailedOrder(ctx context.Context, order *models.Order) error
	GetOrderByTokenHash(ctx context.Context, hash string) (*models.Order, error)
	GetItemsByOrder(ctx context.Context, orderID string) ([]models.OrderItem, error)
	UpdateOrderStatus(ctx context.Context, id string, from []models.OrderStatus, next models.OrderStatus) (bool, error)
	AppendAudit(ctx context.Context, tenantID, entityType, entityID, action, detail string) error
}

type EventReader interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
}

type Reserver interface {
	Reserve(ctx context.Context, eventID string, lines []inventory.Line) (*inventory.Result, error)
}

type DiscountStore interface {
	FetchDiscountByCode(ctx context.Context, eventID, code string) (*models.Discount, error)
	IncrementDiscountUsage(ctx context.Context, discountID string) error
}

type TicketIssuer interface {
	IssueTickets(ctx context.Context, orderID string) (*tickets.Issued, error)
	Deliver(ctx context.Context, issued *tickets.Issued)
}

type TicketReader interface {
	GetTicketsByOrder(ctx context.Context, orderID string) ([]models.TicketInstance, error)
}

type PaymentStore interface {
	SavePayment(ctx context.Context, payment *models.Payment) error
}

type SessionCreator interface {
	Name() string
	CreateSession(ctx context.Context, req payment.SessionRequest) (*payment.Session, error)
}

type KafkaPublisher interface {
	PublishOrderCreated(ctx context.Context, order *models.Order) error
	PublishOrderUpdated(ctx context.Context, order *models.Order) error
}

type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type OrderService struct {
	DB        DBLayer
	Events    EventReader
	Reserver  Reserver
	Discounts DiscountStore
	Pricing   *discount.DiscountService
	Tickets   TicketIssuer
	Issued    TicketReader
	Payments  PaymentStore
	Gateway   SessionCreator
	Kafka     KafkaPublisher
	Auth      auth.Resolver
	Tx        TxRunner
	Hasher    *utils.TokenHasher
	Logger    *logger.Logger
	Metrics   *metrics.Checkout
	now       func() time.Time
}

func NewOrderService(db DBLayer, events EventReader, reserver Reserver, discounts DiscountStore, pricing *discount.DiscountService,
	issuer TicketIssuer, issued TicketReader, payments PaymentStore, gateway SessionCreator, kafka KafkaPublisher,
	resolver auth.Resolver, tx TxRunner, hasher *utils.TokenHasher, log *logger.Logger, m *metrics.Checkout) *OrderService {
	return &OrderService{
		DB:        db,
		Events:    events,
		Reserver:  reserver,
		Discounts: discounts,
		Pricing:   pricing,
		Tickets:   issuer,
		Issued:    issued,
		Payments:  payments,
		Gateway:   gateway,
		Kafka:     kafka,
		Auth:      resolver,
		Tx:        tx,
		Hasher:    hasher,
		Logger:    log,
		Metrics:   m,
		now:       time.Now,
	}
}

func (s *OrderService) WithClock(now func() time.Time) *OrderService {
	s.now = now
	return s
}

type CreateOrderRequest struct {
	EventID       string           `json:"event_id" validate:"required,max=64"`
	Items         []inventory.Line `json:"items" validate:"required,min=1,max=50,dive"`
	Email         string           `json:"email" validate:"required,email,max=254"`
	PurchaserName string           `json:"purchaser_name" validate:"max=200"`
	DiscountCode  string           `json:"discount_code" validate:"max=64"`
}

type CreateOrderResult struct {
	OrderID             string             `json:"order_id"`
	Status              models.OrderStatus `json:"status"`
	Subtotal            int64              `json:"subtotal"`
	Discount            int64              `json:"discount"`
	TotalAmount         int64              `json:"total_amount"`
	Currency            string             `json:"currency"`
	CheckoutRedirectURL string             `json:"checkout_redirect_url,omitempty"`
	AccessToken         string             `json:"access_token"`
	TicketsIssued       int                `json:"tickets_issued,omitempty"`
}

// CreateOrder places a guest or account order. The cart is re-priced and reserved under row
// locks, and the order with its items is persisted in the same transaction. Free orders are
// paid and ticketed on the spot; everything else gets a provider checkout session.
//
// bearerToken is optional. A token that does not resolve makes the order a guest order.
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest, bearerToken string) (*CreateOrderResult, error) {
	if err := utils.Validate(req); err != nil {
		return nil, err
	}

	event, err := s.Events.GetEvent(ctx, req.EventID)
	if database.IsNotFound(err) {
		return nil, apperr.New(apperr.CodeEventNotFound, "event not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "load event")
	}
	if !event.Purchasable() {
		return nil, apperr.New(apperr.CodeEventNotPurchasable, fmt.Sprintf("event %s is not on sale", event.ID))
	}

	var buyerID string
	if identity := auth.ResolveOptional(ctx, s.Auth, bearerToken); identity != nil {
		buyerID = identity.UserID
	}

	accessToken, err := utils.NewOpaqueToken()
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "mint access token")
	}

	now := s.now().UTC()
	order := &models.Order{
		ID:              utils.NewID(),
		TenantID:        event.TenantID,
		EventID:         event.ID,
		BuyerID:         buyerID,
		Email:           req.Email,
		PurchaserName:   req.PurchaserName,
		Status:          models.OrderPending,
		Currency:        event.Currency,
		AccessTokenHash: s.Hasher.Hash(accessToken),
		TokenIssuedAt:   now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	var (
		issued      *tickets.Issued
		orderStored bool
	)
	err = s.Tx.RunInTx(ctx, func(ctx context.Context) error {
		res, err := s.Reserver.Reserve(ctx, event.ID, req.Items)
		if err != nil {
			return err
		}
		if !res.Valid {
			return res.Rejection()
		}

		order.Subtotal = res.TotalPrice
		if req.DiscountCode != "" {
			if err := s.applyDiscount(ctx, order, req.DiscountCode); err != nil {
				return err
			}
		}
		order.Total = order.Subtotal - order.Discount

		if err := s.DB.CreateOrder(ctx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		orderStored = true

		items := res.OrderItems(order.ID)
		for i := range items {
			items[i].ID = utils.NewID()
			items[i].CreatedAt = now
		}
		if err := s.DB.CreateItems(ctx, items); err != nil {
			return fmt.Errorf("create order items: %w", err)
		}

		if order.Total == 0 {
			if _, err := s.DB.UpdateOrderStatus(ctx, order.ID, []models.OrderStatus{models.OrderPending}, models.OrderPaid); err != nil {
				return fmt.Errorf("mark free order paid: %w", err)
			}
			order.Status = models.OrderPaid
			issued, err = s.Tickets.IssueTickets(ctx, order.ID)
			if err != nil {
				return fmt.Errorf("issue tickets: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, s.placementFailed(ctx, order, orderStored, err)
	}

	s.Logger.LogOrder("CREATE", order.ID, fmt.Sprintf("event=%s total=%d %s buyer=%q", order.EventID, order.Total, order.Currency, order.BuyerID))
	s.audit(ctx, order, "order.created", fmt.Sprintf("total=%d", order.Total))
	s.publish(ctx, order, s.Kafka.PublishOrderCreated)

	result := &CreateOrderResult{
		OrderID:     order.ID,
		Status:      order.Status,
		Subtotal:    order.Subtotal,
		Discount:    order.Discount,
		TotalAmount: order.Total,
		Currency:    order.Currency,
		AccessToken: accessToken,
	}

	if order.Total == 0 {
		s.Metrics.OrderCreated("free")
		s.Tickets.Deliver(ctx, issued)
		result.TicketsIssued = len(issued.Tickets)
		return result, nil
	}

	url, err := s.startCheckout(ctx, order, event)
	if err != nil {
		return nil, err
	}
	s.Metrics.OrderCreated("checkout")
	result.CheckoutRedirectURL = url
	return result, nil
}

func (s *OrderService) applyDiscount(ctx context.Context, order *models.Order, code string) error {
	d, err := s.Discounts.FetchDiscountByCode(ctx, order.EventID, code)
	if err != nil {
		return fmt.Errorf("fetch discount: %w", err)
	}
	if d == nil {
		return apperr.New(apperr.CodeDiscountInvalid, "unknown discount code")
	}

	applied, err := s.Pricing.ValidateAndCalculateDiscount(d, order.Subtotal)
	if err != nil {
		return apperr.Wrap(apperr.CodeDiscountInvalid, err, "discount is misconfigured")
	}
	if !applied.IsValid {
		return apperr.New(apperr.CodeDiscountInvalid, applied.Reason)
	}

	if err := s.Discounts.IncrementDiscountUsage(ctx, d.ID); err != nil {
		if errors.Is(err, discount.ErrUsageExhausted) {
			return apperr.New(apperr.CodeDiscountInvalid, "discount usage limit reached")
		}
		return fmt.Errorf("increment discount usage: %w", err)
	}
	order.Discount = applied.DiscountAmount
	order.DiscountID = d.ID
	return nil
}

// placementFailed maps a failed placement transaction onto the caller's error. A failure
// after the order row was written leaves a failed order behind for inspection.
func (s *OrderService) placementFailed(ctx context.Context, order *models.Order, orderStored bool, err error) error {
	if typed := apperr.As(err); typed != nil {
		s.Metrics.OrderCreated("rejected")
		return typed
	}
	if orderStored {
		if recErr := s.DB.RecordFailedOrder(ctx, order); recErr != nil {
			s.Logger.Error("ORDER", fmt.Sprintf("record failed order %s: %v", order.ID, recErr))
		} else {
			s.Logger.LogOrder("FAILED", order.ID, fmt.Sprintf("placement aborted: %v", err))
		}
	}
	s.Metrics.OrderCreated("error")
	if database.IsTransient(err) {
		return apperr.Wrap(apperr.CodeInventoryBusy, err, "inventory is busy")
	}
	return apperr.Wrap(apperr.CodeInternal, err, "place order")
}

// startCheckout opens a provider session for a pending order. The order is failed when no
// session can be recorded, which releases its reserved capacity.
func (s *OrderService) startCheckout(ctx context.Context, order *models.Order, event *models.Event) (string, error) {
	session, err := s.Gateway.CreateSession(ctx, payment.SessionRequest{
		OrderID:     order.ID,
		Email:       order.Email,
		Description: event.Name,
		Amount:      order.Total,
		Currency:    order.Currency,
	})
	if err != nil {
		s.failOrder(ctx, order, fmt.Sprintf("create session: %v", err))
		if apperr.IsCode(err, apperr.CodeProvider) {
			return "", err
		}
		return "", apperr.Wrap(apperr.CodeProvider, err, "create checkout session")
	}

	now := s.now().UTC()
	record := &models.Payment{
		ID:                utils.NewID(),
		OrderID:           order.ID,
		Provider:          s.Gateway.Name(),
		ProviderPaymentID: session.ID,
		Amount:            order.Total,
		Currency:          order.Currency,
		Status:            models.PaymentOpen,
		CheckoutURL:       session.URL,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.Payments.SavePayment(ctx, record); err != nil {
		s.failOrder(ctx, order, fmt.Sprintf("save payment: %v", err))
		return "", apperr.Wrap(apperr.CodeInternal, err, "save payment")
	}
	s.Logger.LogOrder("CHECKOUT", order.ID, fmt.Sprintf("session=%s", session.ID))
	return session.URL, nil
}

func (s *OrderService) failOrder(ctx context.Context, order *models.Order, reason string) {
	moved, err := s.DB.UpdateOrderStatus(ctx, order.ID, []models.OrderStatus{models.OrderPending}, models.OrderFailed)
	if err != nil {
		s.Logger.Error("ORDER", fmt.Sprintf("fail order %s: %v", order.ID, err))
		return
	}
	if !moved {
		return
	}
	order.Status = models.OrderFailed
	s.Logger.LogOrder("FAILED", order.ID, reason)
	s.audit(ctx, order, "order.failed", reason)
	s.publish(ctx, order, s.Kafka.PublishOrderUpdated)
}

func (s *OrderService) audit(ctx context.Context, order *models.Order, action, detail string) {
	if err := s.DB.AppendAudit(ctx, order.TenantID, "order", order.ID, action, detail); err != nil {
		s.Logger.Warn("AUDIT", fmt.Sprintf("%s for order %s: %v", action, order.ID, err))
	}
}

func (s *OrderService) publish(ctx context.Context, order *models.Order, fn func(context.Context, *models.Order) error) {
	if err := fn(ctx, order); err != nil {
		s.Logger.Warn("KAFKA", fmt.Sprintf("publish for order %s: %v", order.ID, err))
	}
}

type TicketView struct {
	ID           string              `json:"id"`
	TicketTypeID string              `json:"ticket_type_id"`
	Status       models.TicketStatus `json:"status"`
	CheckedInAt  *time.Time          `json:"checked_in_at,omitempty"`
}

type OrderView struct {
	Order   *models.Order      `json:"order"`
	Items   []models.OrderItem `json:"items"`
	Tickets []TicketView       `json:"tickets"`
}

// Lookup resolves an order from its access token. Unknown tokens and unknown orders look the
// same to the caller.
func (s *OrderService) Lookup(ctx context.Context, accessToken string) (*OrderView, error) {
	if accessToken == "" {
		return nil, apperr.New(apperr.CodeOrderNotFound, "order not found")
	}
	order, err := s.DB.GetOrderByTokenHash(ctx, s.Hasher.Hash(accessToken))
	if database.IsNotFound(err) {
		return nil, apperr.New(apperr.CodeOrderNotFound, "order not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "lookup order")
	}

	items, err := s.DB.GetItemsByOrder(ctx, order.ID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "load order items")
	}
	issued, err := s.Issued.GetTicketsByOrder(ctx, order.ID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "load tickets")
	}

	view := &OrderView{Order: order, Items: items, Tickets: make([]TicketView, 0, len(issued))}
	for _, t := range issued {
		view.Tickets = append(view.Tickets, TicketView{ID: t.ID, TicketTypeID: t.TicketTypeID, Status: t.Status, CheckedInAt: t.CheckedInAt})
	}
	return view, nil
}

type CheckReservationRequest struct {
	EventID string           `json:"event_id" validate:"required,max=64"`
	Items   []inventory.Line `json:"items" validate:"required,min=1,max=50,dive"`
}

// CheckReservation prices and validates a cart without persisting anything. Locks taken
// during the check are released before it returns.
func (s *OrderService) CheckReservation(ctx context.Context, req CheckReservationRequest) (*inventory.Result, error) {
	if err := utils.Validate(req); err != nil {
		return nil, err
	}
	res, err := s.Reserver.Reserve(ctx, req.EventID, req.Items)
	if err != nil {
		if apperr.As(err) != nil {
			return nil, err
		}
		if database.IsTransient(err) {
			return nil, apperr.Wrap(apperr.CodeInventoryBusy, err, "inventory is busy")
		}
		return nil, apperr.Wrap(apperr.CodeInternal, err, "check reservation")
	}
	return res, nil
}

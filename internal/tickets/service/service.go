package tickets

import (
	"context"
	"fmt"
	"time"

	"ms-checkout/internal/apperr"
	"ms-checkout/internal/database"
	"ms-checkout/internal/kafka"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
	"ms-checkout/internal/utils"
)

type TicketDBLayer interface {
	CreateTickets(ctx context.Context, tickets []models.TicketInstance) error
	GetTicketsByOrder(ctx context.Context, orderID string) ([]models.TicketInstance, error)
	LockTicketByScanHash(ctx context.Context, hash string) (*models.TicketInstance, error)
	MarkCheckedIn(ctx context.Context, id string, at time.Time) (bool, error)
	VoidTicketsByOrder(ctx context.Context, orderID string, at time.Time) (int, error)
}

type OrderDBLayer interface {
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetItemsByOrder(ctx context.Context, orderID string) ([]models.OrderItem, error)
}

type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type QRGenerator interface {
	Generate(scanToken string) ([]byte, error)
}

type Notifier interface {
	PublishTicketsIssued(ctx context.Context, n kafka.TicketsIssuedNotification) error
}

type TicketService struct {
	DB       TicketDBLayer
	Orders   OrderDBLayer
	Tx       TxRunner
	Hasher   *utils.TokenHasher
	QR       QRGenerator
	Notifier Notifier
	Logger   *logger.Logger
	now      func() time.Time
}

func NewTicketService(db TicketDBLayer, orders OrderDBLayer, tx TxRunner, hasher *utils.TokenHasher, qr QRGenerator, n Notifier, log *logger.Logger) *TicketService {
	return &TicketService{DB: db, Orders: orders, Tx: tx, Hasher: hasher, QR: qr, Notifier: n, Logger: log, now: time.Now}
}

func (s *TicketService) WithClock(now func() time.Time) *TicketService {
	s.now = now
	return s
}

// Issued is the outcome of IssueTickets. Fresh is false when the order already had tickets;
// only fresh issuances carry credentials to deliver.
type Issued struct {
	Tickets      []models.TicketInstance
	Fresh        bool
	notification kafka.TicketsIssuedNotification
}

// IssueTickets creates one ticket per purchased ticket unit of a paid order. It runs in the
// caller's transaction and is a no-op returning the existing tickets when issuance already
// happened. Product lines get no tickets.
func (s *TicketService) IssueTickets(ctx context.Context, orderID string) (*Issued, error) {
	order, err := s.Orders.GetOrderByID(ctx, orderID)
	if database.IsNotFound(err) {
		return nil, apperr.New(apperr.CodeOrderNotFound, "order not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	if order.Status != models.OrderPaid {
		return nil, apperr.New(apperr.CodeOrderNotPaid, fmt.Sprintf("order %s is %s", order.ID, order.Status))
	}

	existing, err := s.DB.GetTicketsByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load tickets: %w", err)
	}
	if len(existing) > 0 {
		s.Logger.LogOrder("TICKETS_EXIST", orderID, fmt.Sprintf("%d tickets already issued", len(existing)))
		return &Issued{Tickets: existing}, nil
	}

	items, err := s.Orders.GetItemsByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}

	now := s.now().UTC()
	notification := kafka.TicketsIssuedNotification{
		OrderID:       order.ID,
		EventID:       order.EventID,
		Email:         order.Email,
		PurchaserName: order.PurchaserName,
	}
	var tickets []models.TicketInstance

	for _, item := range items {
		if !item.IsTicket() {
			continue
		}
		for unit := 0; unit < item.Quantity; unit++ {
			token, err := utils.NewOpaqueToken()
			if err != nil {
				return nil, fmt.Errorf("generate scan token: %w", err)
			}
			ticket := models.TicketInstance{
				ID:            utils.NewID(),
				OrderID:       order.ID,
				OrderItemID:   item.ID,
				UnitIndex:     unit,
				TicketTypeID:  item.TicketTypeID,
				HolderID:      order.BuyerID,
				HolderName:    order.PurchaserName,
				Status:        models.TicketIssued,
				ScanTokenHash: s.Hasher.Hash(token),
				IssuedAt:      now,
			}
			qrBytes, err := s.QR.Generate(token)
			if err != nil {
				return nil, fmt.Errorf("failed to generate QR: %w", err)
			}
			tickets = append(tickets, ticket)
			notification.Tickets = append(notification.Tickets, kafka.IssuedTicket{
				TicketID:     ticket.ID,
				TicketTypeID: ticket.TicketTypeID,
				ScanToken:    token,
				QRCodePNG:    qrBytes,
			})
		}
	}

	if err := s.DB.CreateTickets(ctx, tickets); err != nil {
		return nil, err
	}
	s.Logger.LogOrder("TICKETS_ISSUED", orderID, fmt.Sprintf("%d tickets issued", len(tickets)))
	return &Issued{Tickets: tickets, Fresh: true, notification: notification}, nil
}

// Deliver enqueues the credentials of a fresh issuance. Call it after the issuing transaction
// commits. Delivery failures are logged, never returned: the tickets exist either way.
func (s *TicketService) Deliver(ctx context.Context, issued *Issued) {
	if issued == nil || !issued.Fresh || len(issued.notification.Tickets) == 0 {
		return
	}
	if err := s.Notifier.PublishTicketsIssued(ctx, issued.notification); err != nil {
		s.Logger.Error("TICKETS", fmt.Sprintf("Failed to enqueue tickets for order %s: %v", issued.notification.OrderID, err))
	}
}

// Scan checks a ticket in by its scan credential.
func (s *TicketService) Scan(ctx context.Context, scanToken string) (*models.TicketInstance, error) {
	if scanToken == "" {
		return nil, apperr.New(apperr.CodeValidation, "token is required")
	}
	hash := s.Hasher.Hash(scanToken)

	var ticket *models.TicketInstance
	err := s.Tx.RunInTx(ctx, func(ctx context.Context) error {
		t, err := s.DB.LockTicketByScanHash(ctx, hash)
		if database.IsNotFound(err) {
			return apperr.New(apperr.CodeTicketNotFound, "ticket not found")
		}
		if err != nil {
			return fmt.Errorf("load ticket: %w", err)
		}

		switch t.Status {
		case models.TicketVoid:
			return apperr.New(apperr.CodeTicketVoid, "ticket is void")
		case models.TicketCheckedIn:
			return apperr.New(apperr.CodeTicketCheckedIn, "ticket already checked in").WithDetails(map[string]any{
				"checked_in_at": t.CheckedInAt,
			})
		}

		at := s.now().UTC()
		ok, err := s.DB.MarkCheckedIn(ctx, t.ID, at)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.New(apperr.CodeTicketCheckedIn, "ticket already checked in")
		}
		t.Status, t.CheckedInAt = models.TicketCheckedIn, &at
		ticket = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Logger.Info("TICKETS", fmt.Sprintf("Ticket %s checked in", ticket.ID))
	return ticket, nil
}

// VoidForOrder voids all live tickets of an order in one statement. It joins the caller's
// transaction.
func (s *TicketService) VoidForOrder(ctx context.Context, orderID string) (int, error) {
	n, err := s.DB.VoidTicketsByOrder(ctx, orderID, s.now().UTC())
	if err != nil {
		return 0, err
	}
	s.Logger.LogOrder("TICKETS_VOIDED", orderID, fmt.Sprintf("%d tickets voided", n))
	return n, nil
}

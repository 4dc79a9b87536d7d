package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"ms-checkout/internal/config"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
)

const (
	TypeOrderCreated    = "order.created"
	TypeOrderUpdated    = "order.updated"
	TypeRefundUpdated   = "refund.updated"
	TypeTicketsIssued   = "tickets.issued"
	TypeRefundCompleted = "refund.completed"
	TypeOperatorAlert   = "operator.alert"
)

// Writer is the part of *kafka.Writer the producer uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Envelope wraps every message the service publishes.
type Envelope struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

type IssuedTicket struct {
	TicketID     string `json:"ticket_id"`
	TicketTypeID string `json:"ticket_type_id"`
	ScanToken    string `json:"scan_token"`
	QRCodePNG    []byte `json:"qr_code_png"`
}

// TicketsIssuedNotification is the only place plaintext scan credentials leave the service.
type TicketsIssuedNotification struct {
	OrderID       string         `json:"order_id"`
	EventID       string         `json:"event_id"`
	Email         string         `json:"email"`
	PurchaserName string         `json:"purchaser_name,omitempty"`
	Tickets       []IssuedTicket `json:"tickets"`
}

type RefundCompletedNotification struct {
	OrderID  string `json:"order_id"`
	RefundID string `json:"refund_id"`
	Email    string `json:"email"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Full     bool   `json:"full"`
}

type OperatorAlert struct {
	Kind     string `json:"kind"`
	OrderID  string `json:"order_id"`
	TenantID string `json:"tenant_id"`
	Message  string `json:"message"`
}

type Producer struct {
	Writer Writer
	topics config.TopicConfig
	logger *logger.Logger
}

func NewProducer(brokers []string, topics config.TopicConfig, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return NewProducerWithWriter(writer, topics, log)
}

// NewProducerWithWriter is used by tests to capture messages.
func NewProducerWithWriter(w Writer, topics config.TopicConfig, log *logger.Logger) *Producer {
	return &Producer{Writer: w, topics: topics, logger: log}
}

func (p *Producer) publish(ctx context.Context, topic, key, eventType string, data any) error {
	msgBytes, err := json.Marshal(Envelope{Type: eventType, OccurredAt: time.Now().UTC(), Data: data})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}

	err = p.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: msgBytes,
	})
	if err != nil {
		p.logger.LogKafka("PUBLISH_FAILED", topic, fmt.Sprintf("%s for %s: %v", eventType, key, err))
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	p.logger.LogKafka("PUBLISHED", topic, fmt.Sprintf("%s for %s", eventType, key))
	return nil
}

// PublishOrderCreated streams the order creation event to Kafka
func (p *Producer) PublishOrderCreated(ctx context.Context, order *models.Order) error {
	return p.publish(ctx, p.topics.OrderEvents, order.ID, TypeOrderCreated, order)
}

// PublishOrderUpdated streams an order status change to Kafka
func (p *Producer) PublishOrderUpdated(ctx context.Context, order *models.Order) error {
	return p.publish(ctx, p.topics.OrderEvents, order.ID, TypeOrderUpdated, order)
}

func (p *Producer) PublishRefundUpdated(ctx context.Context, refund *models.Refund) error {
	return p.publish(ctx, p.topics.RefundEvents, refund.OrderID, TypeRefundUpdated, refund)
}

// PublishTicketsIssued enqueues the delivery of scan credentials to the buyer.
func (p *Producer) PublishTicketsIssued(ctx context.Context, n TicketsIssuedNotification) error {
	return p.publish(ctx, p.topics.Notifications, n.OrderID, TypeTicketsIssued, n)
}

func (p *Producer) PublishRefundCompleted(ctx context.Context, n RefundCompletedNotification) error {
	return p.publish(ctx, p.topics.Notifications, n.OrderID, TypeRefundCompleted, n)
}

func (p *Producer) PublishOperatorAlert(ctx context.Context, alert OperatorAlert) error {
	return p.publish(ctx, p.topics.OperatorAlerts, alert.OrderID, TypeOperatorAlert, alert)
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}

// Nop drops every message. main uses it when Kafka is disabled.
type Nop struct{}

func (Nop) PublishOrderCreated(context.Context, *models.Order) error { return nil }
func (Nop) PublishOrderUpdated(context.Context, *models.Order) error { return nil }
func (Nop) PublishRefundUpdated(context.Context, *models.Refund) error { return nil }
func (Nop) PublishTicketsIssued(context.Context, TicketsIssuedNotification) error { return nil }
func (Nop) PublishRefundCompleted(context.Context, RefundCompletedNotification) error { return nil }
func (Nop) PublishOperatorAlert(context.Context, OperatorAlert) error { return nil }
func (Nop) Close() error { return nil }

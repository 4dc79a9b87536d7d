// Package paymenttest provides an in-memory payment provider for tests.
package paymenttest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"ms-checkout/internal/apperr"
	"ms-checkout/internal/models"
	"ms-checkout/internal/payment"
)

// ValidSignature is the only signature ParseWebhook accepts.
const ValidSignature = "valid-signature"

// Gateway mirrors the provider's state. Tests move sessions and refunds by editing Sessions
// and Refunds, then deliver a webhook naming the object.
type Gateway struct {
	mu sync.Mutex

	Sessions map[string]*payment.VerifiedPayment
	Refunds  map[string]*payment.VerifiedRefund
	byKey    map[string]string
	calls    map[string]int
	seq      int

	// NewRefundStatus is the status new refunds start in. Defaults to queued.
	NewRefundStatus models.RefundStatus

	CreateSessionErr error
	GetPaymentErr    error
	CreateRefundErr  error
	GetRefundErr     error
}

func New() *Gateway {
	return &Gateway{
		Sessions: map[string]*payment.VerifiedPayment{},
		Refunds:  map[string]*payment.VerifiedRefund{},
		byKey:    map[string]string{},
		calls:    map[string]int{},
	}
}

func (g *Gateway) Name() string { return "stripe" }

// Calls reports how often op ran.
func (g *Gateway) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

func (g *Gateway) CreateSession(_ context.Context, req payment.SessionRequest) (*payment.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["CreateSession"]++
	if g.CreateSessionErr != nil {
		return nil, g.CreateSessionErr
	}
	g.seq++
	id := fmt.Sprintf("cs_test_%d", g.seq)
	g.Sessions[id] = &payment.VerifiedPayment{
		ProviderPaymentID: id,
		OrderID:           req.OrderID,
		Status:            models.PaymentOpen,
		Amount:            req.Amount,
		Currency:          req.Currency,
	}
	return &payment.Session{ID: id, URL: "https://checkout.test/" + id, ExpiresAt: time.Now().Add(30 * time.Minute)}, nil
}

// SetPaymentStatus moves a session at the provider.
func (g *Gateway) SetPaymentStatus(sessionID string, status models.PaymentStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.Sessions[sessionID]
	s.Status = status
	if status == models.PaymentPaid && s.ProviderIntentID == "" {
		s.ProviderIntentID = "pi_" + sessionID
	}
}

func (g *Gateway) GetPayment(_ context.Context, id string) (*payment.VerifiedPayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["GetPayment"]++
	if g.GetPaymentErr != nil {
		return nil, g.GetPaymentErr
	}
	s, ok := g.Sessions[id]
	if !ok {
		return nil, apperr.Wrap(apperr.CodeProvider, fmt.Errorf("%w: no such session", payment.ErrRejected), "fetch session")
	}
	cp := *s
	return &cp, nil
}

// CreateRefund is idempotent per key, like the real provider.
func (g *Gateway) CreateRefund(_ context.Context, req payment.RefundRequest) (*payment.VerifiedRefund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["CreateRefund"]++
	if g.CreateRefundErr != nil {
		return nil, g.CreateRefundErr
	}
	if id, ok := g.byKey[req.IdempotencyKey]; ok {
		cp := *g.Refunds[id]
		return &cp, nil
	}
	g.seq++
	status := g.NewRefundStatus
	if status == "" {
		status = models.RefundQueued
	}
	r := &payment.VerifiedRefund{
		ProviderRefundID: fmt.Sprintf("re_test_%d", g.seq),
		RefundID:         req.RefundID,
		Status:           status,
		Amount:           req.Amount,
	}
	g.Refunds[r.ProviderRefundID] = r
	g.byKey[req.IdempotencyKey] = r.ProviderRefundID
	cp := *r
	return &cp, nil
}

// SetRefundStatus moves a refund at the provider.
func (g *Gateway) SetRefundStatus(providerRefundID string, status models.RefundStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Refunds[providerRefundID].Status = status
}

func (g *Gateway) GetRefund(_ context.Context, id string) (*payment.VerifiedRefund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["GetRefund"]++
	if g.GetRefundErr != nil {
		return nil, g.GetRefundErr
	}
	r, ok := g.Refunds[id]
	if !ok {
		return nil, apperr.Wrap(apperr.CodeProvider, fmt.Errorf("%w: no such refund", payment.ErrRejected), "fetch refund")
	}
	cp := *r
	return &cp, nil
}

type wireEvent struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Kind     string `json:"kind"`
	ObjectID string `json:"object_id"`
}

// Event encodes a webhook body for ParseWebhook.
func Event(id, eventType string, kind payment.EventKind, objectID string) []byte {
	b, _ := json.Marshal(wireEvent{ID: id, Type: eventType, Kind: string(kind), ObjectID: objectID})
	return b
}

func (g *Gateway) ParseWebhook(body []byte, signature string) (*payment.WebhookEvent, error) {
	if signature != ValidSignature {
		return nil, payment.ErrSignature
	}
	var w wireEvent
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrSignature, err)
	}
	return &payment.WebhookEvent{ID: w.ID, Type: w.Type, Kind: payment.EventKind(w.Kind), ObjectID: w.ObjectID}, nil
}

package services

import (
	"errors"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-checkout/internal/apperr"
	"ms-checkout/internal/config"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
	"ms-checkout/internal/payment"
)

const whsec = "whsec_test_secret"

func newService(t *testing.T) *StripeService {
	s, err := NewStripeService(config.StripeConfig{
		SecretKey:     "sk_test_123",
		WebhookSecret: whsec,
		CallTimeout:   time.Second,
		SessionTTL:    30 * time.Minute,
	}, logger.NewNop())
	require.NoError(t, err)
	return s
}

func TestNewStripeServiceRequiresKey(t *testing.T) {
	_, err := NewStripeService(config.StripeConfig{}, logger.NewNop())
	assert.ErrorIs(t, err, ErrStripeClientInitFailed)
}

func TestSessionStatus(t *testing.T) {
	cases := []struct {
		name string
		sess stripe.CheckoutSession
		want models.PaymentStatus
	}{
		{"expired", stripe.CheckoutSession{Status: stripe.CheckoutSessionStatusExpired}, models.PaymentExpired},
		{"paid", stripe.CheckoutSession{Status: stripe.CheckoutSessionStatusComplete,
			PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid}, models.PaymentPaid},
		{"no payment required", stripe.CheckoutSession{Status: stripe.CheckoutSessionStatusComplete,
			PaymentStatus: stripe.CheckoutSessionPaymentStatusNoPaymentRequired}, models.PaymentPaid},
		{"intent canceled", stripe.CheckoutSession{Status: stripe.CheckoutSessionStatusOpen,
			PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid,
			PaymentIntent: &stripe.PaymentIntent{Status: stripe.PaymentIntentStatusCanceled}}, models.PaymentCanceled},
		{"async failure", stripe.CheckoutSession{Status: stripe.CheckoutSessionStatusComplete,
			PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid,
			PaymentIntent: &stripe.PaymentIntent{Status: stripe.PaymentIntentStatusRequiresPaymentMethod}}, models.PaymentFailed},
		{"open", stripe.CheckoutSession{Status: stripe.CheckoutSessionStatusOpen,
			PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid}, models.PaymentOpen},
		{"async pending", stripe.CheckoutSession{Status: stripe.CheckoutSessionStatusComplete,
			PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid,
			PaymentIntent: &stripe.PaymentIntent{Status: stripe.PaymentIntentStatusProcessing}}, models.PaymentOpen},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SessionStatus(&tc.sess))
		})
	}
}

func TestRefundStatus(t *testing.T) {
	assert.Equal(t, models.RefundQueued, RefundStatus(stripe.RefundStatusPending))
	assert.Equal(t, models.RefundProcessing, RefundStatus(stripe.RefundStatusRequiresAction))
	assert.Equal(t, models.RefundRefunded, RefundStatus(stripe.RefundStatusSucceeded))
	assert.Equal(t, models.RefundFailed, RefundStatus(stripe.RefundStatusFailed))
	assert.Equal(t, models.RefundCanceled, RefundStatus(stripe.RefundStatusCanceled))
}

func signed(t *testing.T, body string) (string, []byte) {
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(body),
		Secret:    whsec,
		Timestamp: time.Now(),
	})
	return sp.Header, sp.Payload
}

func TestParseWebhook(t *testing.T) {
	s := newService(t)

	header, body := signed(t, `{"id":"evt_1","object":"event","type":"checkout.session.completed",
		"data":{"object":{"id":"cs_test_1","object":"checkout.session","payment_status":"paid"}}}`)
	ev, err := s.ParseWebhook(body, header)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, payment.EventPayment, ev.Kind)
	assert.Equal(t, "cs_test_1", ev.ObjectID)

	header, body = signed(t, `{"id":"evt_2","object":"event","type":"charge.refund.updated",
		"data":{"object":{"id":"re_1","object":"refund"}}}`)
	ev, err = s.ParseWebhook(body, header)
	require.NoError(t, err)
	assert.Equal(t, payment.EventRefund, ev.Kind)
	assert.Equal(t, "re_1", ev.ObjectID)

	header, body = signed(t, `{"id":"evt_3","object":"event","type":"customer.created",
		"data":{"object":{"id":"cus_1","object":"customer"}}}`)
	ev, err = s.ParseWebhook(body, header)
	require.NoError(t, err)
	assert.Equal(t, payment.EventOther, ev.Kind)
}

func TestParseWebhookRejectsBadSignature(t *testing.T) {
	s := newService(t)
	_, body := signed(t, `{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_1"}}}`)

	_, err := s.ParseWebhook(body, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, payment.ErrSignature)
}

func TestClassifyStripeErrors(t *testing.T) {
	final := classify(&stripe.Error{HTTPStatusCode: 400, Msg: "charge already refunded"}, "create refund")
	assert.ErrorIs(t, final, payment.ErrRejected)
	assert.True(t, apperr.IsCode(final, apperr.CodeProvider))

	retry := classify(&stripe.Error{HTTPStatusCode: 503, Msg: "unavailable"}, "create refund")
	assert.False(t, errors.Is(retry, payment.ErrRejected))
	assert.True(t, apperr.IsCode(retry, apperr.CodeProvider))

	limited := classify(&stripe.Error{HTTPStatusCode: 429}, "create refund")
	assert.False(t, errors.Is(limited, payment.ErrRejected))
}

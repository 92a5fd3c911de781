package payment

import (
	"testing"
	"time"

	"github.com/rs-labo46/ec-order-engine/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81/webhook"
)

const testSecret = "whsec_test_secret"

func sign(t *testing.T, payload string) string {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testSecret,
		Timestamp: time.Now(),
	})
	return signed.Header
}

func TestParseEvent_PaymentSucceeded(t *testing.T) {
	payload := `{
		"id": "evt_succeeded_1",
		"object": "event",
		"type": "payment_intent.succeeded",
		"api_version": "2020-08-27",
		"data": {"object": {
			"id": "pi_123",
			"object": "payment_intent",
			"metadata": {"orderId": "42", "userId": "7"},
			"latest_charge": "ch_999"
		}}
	}`
	v := NewStripeWebhookVerifier(testSecret)

	ev, err := v.ParseEvent([]byte(payload), sign(t, payload))
	require.NoError(t, err)

	assert.Equal(t, "evt_succeeded_1", ev.ID)
	assert.Equal(t, usecase.PaymentEventSucceeded, ev.Type)
	assert.Equal(t, int64(42), ev.OrderID)
	assert.Equal(t, "pi_123", ev.IntentID)
	assert.Equal(t, "ch_999", ev.ChargeID)
}

func TestParseEvent_ChargeRefunded(t *testing.T) {
	payload := `{
		"id": "evt_refunded_1",
		"object": "event",
		"type": "charge.refunded",
		"data": {"object": {
			"id": "ch_999",
			"object": "charge",
			"payment_intent": "pi_123",
			"refunded": true
		}}
	}`
	v := NewStripeWebhookVerifier(testSecret)

	ev, err := v.ParseEvent([]byte(payload), sign(t, payload))
	require.NoError(t, err)

	assert.Equal(t, usecase.PaymentEventRefunded, ev.Type)
	assert.Equal(t, "pi_123", ev.IntentID)
	assert.Equal(t, "ch_999", ev.ChargeID)
	assert.Equal(t, int64(0), ev.OrderID)
}

func TestParseEvent_PartialRefundIsNotOrderRefund(t *testing.T) {
	payload := `{
		"id": "evt_partial",
		"object": "event",
		"type": "charge.refunded",
		"data": {"object": {"id": "ch_1", "object": "charge", "payment_intent": "pi_1", "refunded": false}}
	}`
	v := NewStripeWebhookVerifier(testSecret)

	ev, err := v.ParseEvent([]byte(payload), sign(t, payload))
	require.NoError(t, err)
	assert.Equal(t, EventChargePartiallyRefunded, ev.Type)
}

func TestParseEvent_InvalidSignature(t *testing.T) {
	payload := `{"id": "evt_1", "object": "event", "type": "payment_intent.succeeded", "data": {"object": {}}}`
	v := NewStripeWebhookVerifier(testSecret)

	_, err := v.ParseEvent([]byte(payload), "t=1,v1=deadbeef")
	assert.Error(t, err)

	//別のシークレットで署名されたもの
	other := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    "whsec_other",
		Timestamp: time.Now(),
	})
	_, err = v.ParseEvent([]byte(payload), other.Header)
	assert.Error(t, err)
}

func TestOrderIDFromMetadata(t *testing.T) {
	assert.Equal(t, int64(5), orderIDFromMetadata(map[string]string{"orderId": "5"}))
	assert.Equal(t, int64(0), orderIDFromMetadata(map[string]string{"orderId": "abc"}))
	assert.Equal(t, int64(0), orderIDFromMetadata(map[string]string{"orderId": "-1"}))
	assert.Equal(t, int64(0), orderIDFromMetadata(nil))
}

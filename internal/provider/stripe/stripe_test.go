package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vintora/tablebook/internal/provider"
)

const testWebhookSecret = "whsec_test_secret"

func testGateway(t *testing.T) *Gateway {
	t.Helper()

	g, err := New(Config{
		SecretKey:     "sk_test_key",
		WebhookSecret: testWebhookSecret,
	})
	require.NoError(t, err)

	return g
}

// signPayload builds a Stripe-Signature header the way Stripe does:
// HMAC-SHA256 over "<timestamp>.<payload>".
func signPayload(payload []byte, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifyEventSucceeded(t *testing.T) {
	g := testGateway(t)

	payload := []byte(`{
		"id": "evt_1",
		"type": "payment_intent.succeeded",
		"data": {"object": {"id": "pi_123", "object": "payment_intent"}}
	}`)

	ev, err := g.VerifyEvent(payload, signPayload(payload, time.Now()))
	require.NoError(t, err)

	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, provider.EventSucceeded, ev.Type)
	assert.Equal(t, "pi_123", ev.ProviderIntentID)
}

func TestVerifyEventChargeRefunded(t *testing.T) {
	g := testGateway(t)

	payload := []byte(`{
		"id": "evt_2",
		"type": "charge.refunded",
		"data": {"object": {"id": "ch_1", "object": "charge", "payment_intent": "pi_456"}}
	}`)

	ev, err := g.VerifyEvent(payload, signPayload(payload, time.Now()))
	require.NoError(t, err)

	assert.Equal(t, provider.EventRefunded, ev.Type)
	assert.Equal(t, "pi_456", ev.ProviderIntentID)
}

func TestVerifyEventTamperedPayload(t *testing.T) {
	g := testGateway(t)

	payload := []byte(`{"id": "evt_3", "type": "payment_intent.succeeded", "data": {"object": {"id": "pi_1"}}}`)
	sig := signPayload(payload, time.Now())

	tampered := []byte(`{"id": "evt_3", "type": "payment_intent.succeeded", "data": {"object": {"id": "pi_2"}}}`)

	_, err := g.VerifyEvent(tampered, sig)
	assert.True(t, errors.Is(err, provider.ErrBadSignature))
}

func TestVerifyEventBadHeader(t *testing.T) {
	g := testGateway(t)

	payload := []byte(`{"id": "evt_4", "type": "payment_intent.succeeded"}`)

	_, err := g.VerifyEvent(payload, "t=0,v1=deadbeef")
	assert.True(t, errors.Is(err, provider.ErrBadSignature))
}

func TestVerifyEventStaleTimestamp(t *testing.T) {
	g := testGateway(t)

	payload := []byte(`{"id": "evt_5", "type": "payment_intent.succeeded", "data": {"object": {"id": "pi_1"}}}`)

	_, err := g.VerifyEvent(payload, signPayload(payload, time.Now().Add(-time.Hour)))
	assert.True(t, errors.Is(err, provider.ErrBadSignature))
}

func TestVerifyEventUnsupportedType(t *testing.T) {
	g := testGateway(t)

	payload := []byte(`{
		"id": "evt_6",
		"type": "customer.created",
		"data": {"object": {"id": "cus_1"}}
	}`)

	_, err := g.VerifyEvent(payload, signPayload(payload, time.Now()))
	assert.True(t, errors.Is(err, provider.ErrUnsupported))
}

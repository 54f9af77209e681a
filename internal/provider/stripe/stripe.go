package stripe

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/refund"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/vintora/tablebook/internal/provider"
)

type Config struct {
	SecretKey     string
	WebhookSecret string
}

// Gateway implements provider.Gateway on Stripe PaymentIntents.
type Gateway struct {
	webhookSecret string
}

func New(cfg Config) (*Gateway, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("stripe webhook secret is required")
	}

	stripe.Key = cfg.SecretKey

	return &Gateway{webhookSecret: cfg.WebhookSecret}, nil
}

// CreateIntent creates a Stripe PaymentIntent. The idempotency key is passed
// through to Stripe, so a retried call returns the original transaction
// instead of charging twice.
func (g *Gateway) CreateIntent(
	ctx context.Context,
	in provider.CreateIntentInput,
) (*provider.Intent, error) {
	const op = "stripe.Gateway.CreateIntent"

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(in.AmountCents),
		Currency: stripe.String(in.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: in.Metadata,
	}
	params.Context = ctx
	params.IdempotencyKey = stripe.String(in.IdempotencyKey)
	if in.Description != "" {
		params.Description = stripe.String(in.Description)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &provider.Intent{
		ProviderID:   pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       normalizeStatus(pi.Status),
	}, nil
}

func (g *Gateway) RetrieveIntent(ctx context.Context, providerID string) (*provider.Intent, error) {
	const op = "stripe.Gateway.RetrieveIntent"

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := paymentintent.Get(providerID, params)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &provider.Intent{
		ProviderID:   pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       normalizeStatus(pi.Status),
	}, nil
}

func normalizeStatus(s stripe.PaymentIntentStatus) string {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return provider.IntentSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return provider.IntentCanceled
	default:
		return provider.IntentPending
	}
}

func (g *Gateway) CancelIntent(ctx context.Context, providerID string) error {
	const op = "stripe.Gateway.CancelIntent"

	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx

	if _, err := paymentintent.Cancel(providerID, params); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

func (g *Gateway) Refund(ctx context.Context, providerID, idempotencyKey string) error {
	const op = "stripe.Gateway.Refund"

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(providerID),
	}
	params.Context = ctx
	if idempotencyKey != "" {
		params.IdempotencyKey = stripe.String(idempotencyKey)
	}

	if _, err := refund.New(params); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

// VerifyEvent checks the Stripe-Signature header against the raw body and
// normalizes the event. An invalid signature is fatal for the delivery.
func (g *Gateway) VerifyEvent(payload []byte, sigHeader string) (*provider.Event, error) {
	const op = "stripe.Gateway.VerifyEvent"

	ev, err := webhook.ConstructEvent(payload, sigHeader, g.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, provider.ErrBadSignature)
	}

	out := &provider.Event{ID: ev.ID}

	switch ev.Type {
	case "payment_intent.succeeded":
		out.Type = provider.EventSucceeded
	case "payment_intent.payment_failed":
		out.Type = provider.EventFailed
	case "payment_intent.canceled":
		out.Type = provider.EventCanceled
	case "charge.refunded":
		out.Type = provider.EventRefunded
	case "charge.dispute.created":
		out.Type = provider.EventDisputed
	default:
		return nil, fmt.Errorf("%s:%w: %s", op, provider.ErrUnsupported, ev.Type)
	}

	switch ev.Type {
	case "charge.refunded", "charge.dispute.created":
		var ch stripe.Charge
		if err := json.Unmarshal(ev.Data.Raw, &ch); err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		if ch.PaymentIntent != nil {
			out.ProviderIntentID = ch.PaymentIntent.ID
		}
	default:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		out.ProviderIntentID = pi.ID
	}

	if out.ProviderIntentID == "" {
		return nil, fmt.Errorf("%s: event %s has no payment intent reference", op, ev.ID)
	}

	return out, nil
}

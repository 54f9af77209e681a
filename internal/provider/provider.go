package provider

import (
	"context"
	"errors"
)

// Normalized provider event types. The reconciler works in these terms so it
// never depends on one provider's event naming.
const (
	EventSucceeded = "succeeded"
	EventFailed    = "failed"
	EventCanceled  = "canceled"
	EventRefunded  = "refunded"
	EventDisputed  = "disputed"
)

// Normalized intent statuses reported by RetrieveIntent. Anything the
// provider considers still in flight maps to IntentPending.
const (
	IntentPending   = "pending"
	IntentSucceeded = "succeeded"
	IntentCanceled  = "canceled"
)

var (
	ErrBadSignature = errors.New("invalid webhook signature")
	ErrUnsupported  = errors.New("unsupported provider event")
)

type Intent struct {
	ProviderID   string
	ClientSecret string
	Status       string
}

type Event struct {
	ID               string
	Type             string
	ProviderIntentID string
}

type CreateIntentInput struct {
	AmountCents    int64
	Currency       string
	IdempotencyKey string
	Description    string
	Metadata       map[string]string
}

// Gateway is the outbound boundary to the payment provider. Calls must run
// outside any open datastore transaction.
type Gateway interface {
	CreateIntent(ctx context.Context, in CreateIntentInput) (*Intent, error)
	RetrieveIntent(ctx context.Context, providerID string) (*Intent, error)
	CancelIntent(ctx context.Context, providerID string) error
	Refund(ctx context.Context, providerID, idempotencyKey string) error
	VerifyEvent(payload []byte, sigHeader string) (*Event, error)
}

package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vintora/tablebook/internal/domain"
	"github.com/vintora/tablebook/internal/provider"
	"github.com/vintora/tablebook/internal/repository"
	"github.com/vintora/tablebook/internal/repository/memory"
	"github.com/vintora/tablebook/internal/service/booking"
)

// fakeGateway verifies deliveries signed with "valid" and decodes the event
// straight from the JSON payload.
type fakeGateway struct {
	mu      sync.Mutex
	refunds []string
	cancels []string
}

type eventPayload struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	IntentID string `json:"intent_id"`
}

func (g *fakeGateway) VerifyEvent(payload []byte, sigHeader string) (*provider.Event, error) {
	if sigHeader != "valid" {
		return nil, provider.ErrBadSignature
	}

	var p eventPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, provider.ErrUnsupported
	}

	return &provider.Event{ID: p.ID, Type: p.Type, ProviderIntentID: p.IntentID}, nil
}

func (g *fakeGateway) CreateIntent(context.Context, provider.CreateIntentInput) (*provider.Intent, error) {
	return &provider.Intent{ProviderID: "pi_fake", ClientSecret: "cs_fake", Status: provider.IntentPending}, nil
}

func (g *fakeGateway) RetrieveIntent(_ context.Context, providerID string) (*provider.Intent, error) {
	return &provider.Intent{ProviderID: providerID, Status: provider.IntentPending}, nil
}

func (g *fakeGateway) CancelIntent(_ context.Context, providerID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancels = append(g.cancels, providerID)
	return nil
}

func (g *fakeGateway) Refund(_ context.Context, providerID, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds = append(g.refunds, providerID)
	return nil
}

func (g *fakeGateway) refunded() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.refunds...)
}

type noopCache struct{}

func (noopCache) InvalidateEvent(context.Context, int64) error { return nil }

type noopPublisher struct{}

func (noopPublisher) PublishUnitChanged(context.Context, int64, int64, domain.UnitState) error {
	return nil
}

func newFixture(t *testing.T) (*Service, *memory.Store, *fakeGateway) {
	t.Helper()
	store := memory.NewStore()
	gw := &fakeGateway{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	finalizer := booking.New(store, noopCache{}, noopPublisher{}, gw, logger)
	return New(store, gw, finalizer, logger), store, gw
}

func seedHeldIntent(t *testing.T, store *memory.Store) (intent *domain.PaymentIntent, unitID int64) {
	t.Helper()
	ctx := context.Background()

	unitID = store.AddUnit(1, "T1")
	h, err := store.Holds(nil).Create(ctx, unitID, 1, "tok-a", time.Minute)
	require.NoError(t, err)

	intent = &domain.PaymentIntent{
		ID:          uuid.New(),
		HoldID:      h.ID,
		UnitID:      unitID,
		EventID:     1,
		ProviderID:  "pi_" + uuid.NewString()[:8],
		AmountCents: 5000,
		Currency:    "usd",
		Status:      domain.IntentPending,
		CreatedAt:   time.Now(),
	}
	require.NoError(t, store.Intents(nil).Insert(ctx, intent))

	return intent, unitID
}

func deliver(t *testing.T, svc *Service, eventID, eventType, providerIntentID string) error {
	t.Helper()
	payload, err := json.Marshal(eventPayload{ID: eventID, Type: eventType, IntentID: providerIntentID})
	require.NoError(t, err)
	return svc.Handle(context.Background(), payload, "valid")
}

func unitState(t *testing.T, store *memory.Store, unitID int64) domain.UnitState {
	t.Helper()
	u, err := store.Ledger(nil).GetUnit(context.Background(), unitID)
	require.NoError(t, err)
	return u.State
}

func TestHandleRejectsBadSignature(t *testing.T) {
	svc, _, _ := newFixture(t)

	err := svc.Handle(context.Background(), []byte(`{}`), "forged")
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestHandleSucceededBooksOnce(t *testing.T) {
	svc, store, _ := newFixture(t)
	in, unitID := seedHeldIntent(t, store)

	require.NoError(t, deliver(t, svc, "evt_1", provider.EventSucceeded, in.ProviderID))

	b, err := store.Bookings(nil).GetByIntent(context.Background(), in.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingConfirmed, b.Status)
	assert.Equal(t, domain.UnitBooked, unitState(t, store, unitID))

	// Redelivery of the same event id is acknowledged without side effects.
	require.NoError(t, deliver(t, svc, "evt_1", provider.EventSucceeded, in.ProviderID))

	again, err := store.Bookings(nil).GetByIntent(context.Background(), in.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, again.ID)
}

func TestHandleUnknownIntentDefers(t *testing.T) {
	svc, _, _ := newFixture(t)

	err := deliver(t, svc, "evt_1", provider.EventSucceeded, "pi_never_seen")
	require.ErrorIs(t, err, ErrDeferred)
}

func TestHandleRefundBeforeSuccessIsDeferredThenApplied(t *testing.T) {
	svc, store, _ := newFixture(t)
	ctx := context.Background()
	in, unitID := seedHeldIntent(t, store)

	// The refund outran the success; ask the provider to redeliver.
	err := deliver(t, svc, "evt_refund", provider.EventRefunded, in.ProviderID)
	require.ErrorIs(t, err, ErrDeferred)

	require.NoError(t, deliver(t, svc, "evt_success", provider.EventSucceeded, in.ProviderID))
	assert.Equal(t, domain.UnitBooked, unitState(t, store, unitID))

	// Redelivered refund now lands.
	require.NoError(t, deliver(t, svc, "evt_refund", provider.EventRefunded, in.ProviderID))

	b, err := store.Bookings(nil).GetByIntent(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingRefunded, b.Status)
	assert.Equal(t, domain.UnitAvailable, unitState(t, store, unitID))
}

func TestHandleFailedReleasesUnit(t *testing.T) {
	svc, store, _ := newFixture(t)
	in, unitID := seedHeldIntent(t, store)

	require.NoError(t, deliver(t, svc, "evt_1", provider.EventFailed, in.ProviderID))
	assert.Equal(t, domain.UnitAvailable, unitState(t, store, unitID))
}

func TestHandleSucceededAfterHoldLost(t *testing.T) {
	svc, store, gw := newFixture(t)
	ctx := context.Background()
	in, unitID := seedHeldIntent(t, store)

	_, _, released, err := store.Holds(nil).Release(ctx, in.HoldID)
	require.NoError(t, err)
	require.True(t, released)

	// Payment settled for a hold that is gone: acknowledge, refund, close.
	require.NoError(t, deliver(t, svc, "evt_success", provider.EventSucceeded, in.ProviderID))

	assert.Len(t, gw.refunded(), 1)
	assert.Equal(t, domain.UnitAvailable, unitState(t, store, unitID))

	got, err := store.Intents(nil).Get(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentCanceled, got.Status)

	// The provider's refund notification must be absorbed, not deferred
	// forever against an intent that can never succeed.
	require.NoError(t, deliver(t, svc, "evt_refund", provider.EventRefunded, in.ProviderID))

	_, err = store.Bookings(nil).GetByIntent(ctx, in.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestHandleDisputeAcknowledged(t *testing.T) {
	svc, store, _ := newFixture(t)
	in, unitID := seedHeldIntent(t, store)

	require.NoError(t, deliver(t, svc, "evt_1", provider.EventSucceeded, in.ProviderID))
	require.NoError(t, deliver(t, svc, "evt_2", provider.EventDisputed, in.ProviderID))

	// Disputes never release the unit automatically.
	assert.Equal(t, domain.UnitBooked, unitState(t, store, unitID))
}

func TestHandleUnknownTypeAcknowledged(t *testing.T) {
	svc, store, _ := newFixture(t)
	in, _ := seedHeldIntent(t, store)

	require.NoError(t, deliver(t, svc, "evt_1", "payment_intent.amount_capturable_updated", in.ProviderID))
}

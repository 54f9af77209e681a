package booking

import (
	"context"
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
	"github.com/vintora/tablebook/internal/uow"
)

type stubGateway struct {
	mu      sync.Mutex
	refunds []string
	cancels []string
	status  string
}

func (g *stubGateway) CreateIntent(context.Context, provider.CreateIntentInput) (*provider.Intent, error) {
	return &provider.Intent{ProviderID: "pi_stub", ClientSecret: "cs_stub", Status: provider.IntentPending}, nil
}

func (g *stubGateway) RetrieveIntent(_ context.Context, providerID string) (*provider.Intent, error) {
	st := g.status
	if st == "" {
		st = provider.IntentPending
	}
	return &provider.Intent{ProviderID: providerID, Status: st}, nil
}

func (g *stubGateway) CancelIntent(_ context.Context, providerID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancels = append(g.cancels, providerID)
	return nil
}

func (g *stubGateway) Refund(_ context.Context, providerID, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds = append(g.refunds, providerID)
	return nil
}

func (g *stubGateway) VerifyEvent([]byte, string) (*provider.Event, error) {
	return nil, provider.ErrUnsupported
}

func (g *stubGateway) refunded() []string {
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

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) (*Service, *memory.Store, *stubGateway) {
	t.Helper()
	store := memory.NewStore()
	gw := &stubGateway{}
	svc := New(store, noopCache{}, noopPublisher{}, gw, discardLogger())
	return svc, store, gw
}

// seedHeldIntent creates an available unit, holds it, and attaches a pending
// payment intent, mirroring the state right before the provider settles.
func seedHeldIntent(t *testing.T, store *memory.Store) (holdID, intentID uuid.UUID, unitID int64) {
	t.Helper()
	ctx := context.Background()

	unitID = store.AddUnit(1, "T1")
	h, err := store.Holds(nil).Create(ctx, unitID, 1, "tok-a", time.Minute)
	require.NoError(t, err)

	in := &domain.PaymentIntent{
		ID:           uuid.New(),
		HoldID:       h.ID,
		UnitID:       unitID,
		EventID:      1,
		ProviderID:   "pi_" + uuid.NewString()[:8],
		AmountCents:  5000,
		Currency:     "usd",
		GuestDetails: []byte(`{"name":"Ada"}`),
		Status:       domain.IntentPending,
		CreatedAt:    time.Now(),
	}
	require.NoError(t, store.Intents(nil).Insert(ctx, in))

	return h.ID, in.ID, unitID
}

func unitState(t *testing.T, store *memory.Store, unitID int64) domain.UnitState {
	t.Helper()
	u, err := store.Ledger(nil).GetUnit(context.Background(), unitID)
	require.NoError(t, err)
	return u.State
}

func TestFinalizeSucceededCreatesBooking(t *testing.T) {
	svc, store, _ := newFixture(t)
	ctx := context.Background()
	_, intentID, unitID := seedHeldIntent(t, store)

	b, err := svc.Finalize(ctx, intentID, domain.IntentSucceeded)
	require.NoError(t, err)
	require.NotNil(t, b)

	assert.Equal(t, domain.BookingConfirmed, b.Status)
	assert.Equal(t, unitID, b.UnitID)
	assert.JSONEq(t, `{"name":"Ada"}`, string(b.GuestDetails))
	assert.Equal(t, domain.UnitBooked, unitState(t, store, unitID))

	in, err := store.Intents(nil).Get(ctx, intentID)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentSucceeded, in.Status)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	svc, store, _ := newFixture(t)
	ctx := context.Background()
	_, intentID, unitID := seedHeldIntent(t, store)

	first, err := svc.Finalize(ctx, intentID, domain.IntentSucceeded)
	require.NoError(t, err)

	second, err := svc.Finalize(ctx, intentID, domain.IntentSucceeded)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, domain.UnitBooked, unitState(t, store, unitID))
}

func TestFinalizeConcurrentTriggers(t *testing.T) {
	svc, store, _ := newFixture(t)
	ctx := context.Background()
	_, intentID, _ := seedHeldIntent(t, store)

	const n = 8
	ids := make(chan uuid.UUID, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := svc.Finalize(ctx, intentID, domain.IntentSucceeded)
			if err == nil && b != nil {
				ids <- b.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	var unique []uuid.UUID
	seen := map[uuid.UUID]bool{}
	total := 0
	for id := range ids {
		total++
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}

	require.Equal(t, n, total, "every trigger must observe the booking")
	require.Len(t, unique, 1, "exactly one booking may exist")

	b, err := store.Bookings(nil).GetByIntent(ctx, intentID)
	require.NoError(t, err)
	assert.Equal(t, unique[0], b.ID)
}

func TestFinalizeSucceededAfterHoldGone(t *testing.T) {
	svc, store, gw := newFixture(t)
	ctx := context.Background()
	holdID, intentID, unitID := seedHeldIntent(t, store)

	_, _, released, err := store.Holds(nil).Release(ctx, holdID)
	require.NoError(t, err)
	require.True(t, released)

	b, err := svc.Finalize(ctx, intentID, domain.IntentSucceeded)
	require.ErrorIs(t, err, ErrHoldExpired)
	assert.Nil(t, b)

	assert.Len(t, gw.refunded(), 1, "the customer paid and must be refunded")
	assert.Equal(t, domain.UnitAvailable, unitState(t, store, unitID))

	in, err := store.Intents(nil).Get(ctx, intentID)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentCanceled, in.Status,
		"the intent must reach a terminal status so the refund event is absorbed")

	_, err = store.Bookings(nil).GetByIntent(ctx, intentID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestFinalizeFailedReleasesUnit(t *testing.T) {
	svc, store, _ := newFixture(t)
	ctx := context.Background()
	holdID, intentID, unitID := seedHeldIntent(t, store)

	b, err := svc.Finalize(ctx, intentID, domain.IntentCanceled)
	require.NoError(t, err)
	assert.Nil(t, b)

	assert.Equal(t, domain.UnitAvailable, unitState(t, store, unitID))
	_, err = store.Holds(nil).Get(ctx, holdID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestMarkRefundedReversesBooking(t *testing.T) {
	svc, store, _ := newFixture(t)
	ctx := context.Background()
	_, intentID, unitID := seedHeldIntent(t, store)

	_, err := svc.Finalize(ctx, intentID, domain.IntentSucceeded)
	require.NoError(t, err)

	var refunded *domain.Booking
	err = store.RunTx(ctx, nil, func(ctx context.Context, tx repository.DB) error {
		b, err := svc.MarkRefundedTx(ctx, tx, func(uow.AfterCommit) {}, intentID)
		refunded = b
		return err
	})
	require.NoError(t, err)
	require.NotNil(t, refunded)

	assert.Equal(t, domain.BookingRefunded, refunded.Status)
	assert.Equal(t, domain.UnitAvailable, unitState(t, store, unitID))
}

func TestMarkRefundedWithoutBookingIsAbsorbed(t *testing.T) {
	svc, store, _ := newFixture(t)
	ctx := context.Background()

	err := store.RunTx(ctx, nil, func(ctx context.Context, tx repository.DB) error {
		b, err := svc.MarkRefundedTx(ctx, tx, func(uow.AfterCommit) {}, uuid.New())
		assert.Nil(t, b)
		return err
	})
	require.NoError(t, err)
}

func TestConfirmSyncPendingAtProvider(t *testing.T) {
	svc, store, gw := newFixture(t)
	gw.status = provider.IntentPending
	_, intentID, _ := seedHeldIntent(t, store)

	_, err := svc.ConfirmSync(context.Background(), intentID)
	require.ErrorIs(t, err, ErrPaymentPending)
}

func TestConfirmSyncProviderSucceeded(t *testing.T) {
	svc, store, gw := newFixture(t)
	gw.status = provider.IntentSucceeded
	_, intentID, unitID := seedHeldIntent(t, store)

	b, err := svc.ConfirmSync(context.Background(), intentID)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, domain.UnitBooked, unitState(t, store, unitID))
}

func TestConfirmSyncProviderCanceled(t *testing.T) {
	svc, store, gw := newFixture(t)
	gw.status = provider.IntentCanceled
	_, intentID, unitID := seedHeldIntent(t, store)

	_, err := svc.ConfirmSync(context.Background(), intentID)
	require.ErrorIs(t, err, ErrHoldExpired)
	assert.Equal(t, domain.UnitAvailable, unitState(t, store, unitID))
}

func TestCancelRefundsAndFreesUnit(t *testing.T) {
	svc, store, gw := newFixture(t)
	ctx := context.Background()
	_, intentID, unitID := seedHeldIntent(t, store)

	b, err := svc.Finalize(ctx, intentID, domain.IntentSucceeded)
	require.NoError(t, err)

	canceled, err := svc.Cancel(ctx, b.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.BookingCanceled, canceled.Status)
	assert.Equal(t, domain.UnitAvailable, unitState(t, store, unitID))
	assert.Len(t, gw.refunded(), 1)
}

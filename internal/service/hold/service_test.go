package hold

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vintora/tablebook/internal/domain"
	"github.com/vintora/tablebook/internal/provider"
	"github.com/vintora/tablebook/internal/repository/memory"
)

type stubGateway struct {
	mu      sync.Mutex
	cancels []string
}

func (g *stubGateway) CreateIntent(context.Context, provider.CreateIntentInput) (*provider.Intent, error) {
	return &provider.Intent{ProviderID: "pi_stub", ClientSecret: "cs_stub", Status: provider.IntentPending}, nil
}

func (g *stubGateway) RetrieveIntent(_ context.Context, providerID string) (*provider.Intent, error) {
	return &provider.Intent{ProviderID: providerID, Status: provider.IntentPending}, nil
}

func (g *stubGateway) CancelIntent(_ context.Context, providerID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancels = append(g.cancels, providerID)
	return nil
}

func (g *stubGateway) Refund(context.Context, string, string) error { return nil }

func (g *stubGateway) VerifyEvent([]byte, string) (*provider.Event, error) {
	return nil, provider.ErrUnsupported
}

func (g *stubGateway) canceled() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.cancels...)
}

type noopCache struct{}

func (noopCache) InvalidateEvent(context.Context, int64) error { return nil }

type noopPublisher struct{}

func (noopPublisher) PublishUnitChanged(context.Context, int64, int64, domain.UnitState) error {
	return nil
}

type stubLimiter struct {
	allow bool
}

func (l stubLimiter) Allow(context.Context, string) (bool, int64, time.Duration, error) {
	return l.allow, 0, 10 * time.Second, nil
}

func newFixture(t *testing.T, cfg Config) (*Service, *memory.Store, *stubGateway) {
	t.Helper()
	store := memory.NewStore()
	gw := &stubGateway{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, noopCache{}, noopPublisher{}, nil, gw, logger, cfg), store, gw
}

func unitState(t *testing.T, store *memory.Store, unitID int64) domain.UnitState {
	t.Helper()
	u, err := store.Ledger(nil).GetUnit(context.Background(), unitID)
	require.NoError(t, err)
	return u.State
}

func TestCreateHoldsUnit(t *testing.T) {
	svc, store, _ := newFixture(t, Config{})
	unitID := store.AddUnit(1, "T1")

	h, err := svc.Create(context.Background(), unitID, "tok-a", time.Minute, "")
	require.NoError(t, err)

	assert.Equal(t, unitID, h.UnitID)
	assert.Equal(t, "tok-a", h.OwnerToken)
	assert.Equal(t, domain.UnitHeld, unitState(t, store, unitID))
}

func TestCreateRequiresOwnerToken(t *testing.T) {
	svc, store, _ := newFixture(t, Config{})
	unitID := store.AddUnit(1, "T1")

	_, err := svc.Create(context.Background(), unitID, "", time.Minute, "")
	require.Error(t, err)
}

func TestCreateUnknownUnit(t *testing.T) {
	svc, _, _ := newFixture(t, Config{})

	_, err := svc.Create(context.Background(), 9999, "tok-a", time.Minute, "")
	require.ErrorIs(t, err, ErrUnitNotFound)
}

func TestCreateSecondCustomerConflicts(t *testing.T) {
	svc, store, _ := newFixture(t, Config{})
	unitID := store.AddUnit(1, "T1")
	ctx := context.Background()

	_, err := svc.Create(ctx, unitID, "tok-a", time.Minute, "")
	require.NoError(t, err)

	_, err = svc.Create(ctx, unitID, "tok-b", time.Minute, "")
	require.ErrorIs(t, err, ErrUnitUnavailable)
}

func TestCreateConcurrentSingleWinner(t *testing.T) {
	svc, store, _ := newFixture(t, Config{})
	unitID := store.AddUnit(1, "T1")

	const n = 16
	var won, lost atomic.Int64

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Create(context.Background(), unitID, uuid.NewString(), time.Minute, "")
			switch {
			case err == nil:
				won.Add(1)
			default:
				lost.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), won.Load(), "exactly one customer may win the unit")
	assert.Equal(t, int64(n-1), lost.Load())
	assert.Equal(t, domain.UnitHeld, unitState(t, store, unitID))
}

func TestCreateRateLimited(t *testing.T) {
	store := memory.NewStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(store, noopCache{}, noopPublisher{}, stubLimiter{allow: false}, &stubGateway{}, logger, Config{})
	unitID := store.AddUnit(1, "T1")

	_, err := svc.Create(context.Background(), unitID, "tok-a", time.Minute, "203.0.113.7")
	require.ErrorIs(t, err, ErrRateLimited)
}

func TestReleaseIsIdempotent(t *testing.T) {
	svc, store, _ := newFixture(t, Config{})
	unitID := store.AddUnit(1, "T1")
	ctx := context.Background()

	h, err := svc.Create(ctx, unitID, "tok-a", time.Minute, "")
	require.NoError(t, err)

	require.NoError(t, svc.Release(ctx, h.ID))
	assert.Equal(t, domain.UnitAvailable, unitState(t, store, unitID))

	require.NoError(t, svc.Release(ctx, h.ID))
	require.NoError(t, svc.Release(ctx, uuid.New()))
}

func TestClampTTL(t *testing.T) {
	svc, store, _ := newFixture(t, Config{
		MinTTL:     time.Minute,
		MaxTTL:     2 * time.Minute,
		DefaultTTL: 90 * time.Second,
	})
	unitID := store.AddUnit(1, "T1")

	before := time.Now()
	h, err := svc.Create(context.Background(), unitID, "tok-a", time.Hour, "")
	require.NoError(t, err)

	assert.WithinDuration(t, before.Add(2*time.Minute), h.ExpiresAt, 5*time.Second)
}

func TestExpireStaleReleasesCapacity(t *testing.T) {
	svc, store, gw := newFixture(t, Config{
		MinTTL:     time.Millisecond,
		MaxTTL:     time.Minute,
		DefaultTTL: time.Second,
	})
	unitID := store.AddUnit(1, "T1")
	ctx := context.Background()

	h, err := svc.Create(ctx, unitID, "tok-a", time.Millisecond, "")
	require.NoError(t, err)

	// A checkout was underway when the hold lapsed.
	in := &domain.PaymentIntent{
		ID:          uuid.New(),
		HoldID:      h.ID,
		UnitID:      unitID,
		EventID:     1,
		ProviderID:  "pi_expiring",
		AmountCents: 5000,
		Currency:    "usd",
		Status:      domain.IntentPending,
		CreatedAt:   time.Now(),
	}
	require.NoError(t, store.Intents(nil).Insert(ctx, in))

	time.Sleep(10 * time.Millisecond)

	n, err := svc.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, domain.UnitAvailable, unitState(t, store, unitID))
	assert.Equal(t, []string{"pi_expiring"}, gw.canceled())

	// The unit is claimable again by the next customer.
	_, err = svc.Create(ctx, unitID, "tok-b", time.Minute, "")
	require.NoError(t, err)
}

func TestExpireStaleNothingDue(t *testing.T) {
	svc, store, _ := newFixture(t, Config{})
	unitID := store.AddUnit(1, "T1")
	ctx := context.Background()

	_, err := svc.Create(ctx, unitID, "tok-a", time.Minute, "")
	require.NoError(t, err)

	n, err := svc.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, domain.UnitHeld, unitState(t, store, unitID))
}

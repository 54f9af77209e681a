package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vintora/tablebook/internal/domain"
)

// DB is the query surface shared by a pgx pool and an open transaction.
// Repos bound to a nil DB fall back to the pool.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// ExpiredHold describes a hold released by the expiry path, with enough
// context to notify subscribers and reconcile any pending payment intent.
type ExpiredHold struct {
	HoldID  uuid.UUID
	UnitID  int64
	EventID int64
}

// UnitInput is one seeded inventory row.
type UnitInput struct {
	Label    string
	Capacity int
}

// Ledger owns every unit-state mutation plus the display reads.
type Ledger interface {
	TryTransition(ctx context.Context, unitID int64, fromState, toState domain.UnitState) (bool, error)
	BookByHold(ctx context.Context, holdID uuid.UUID) (int64, bool, error)
	Snapshot(ctx context.Context, eventID int64) ([]domain.UnitAvailability, error)
	GetUnit(ctx context.Context, unitID int64) (*domain.Unit, error)
}

type Holds interface {
	Create(ctx context.Context, unitID, eventID int64, ownerToken string, ttl time.Duration) (*domain.Hold, error)
	Get(ctx context.Context, holdID uuid.UUID) (*domain.Hold, error)
	Release(ctx context.Context, holdID uuid.UUID) (int64, int64, bool, error)
	ExpireStale(ctx context.Context) ([]ExpiredHold, error)
}

type Intents interface {
	Insert(ctx context.Context, in *domain.PaymentIntent) error
	Get(ctx context.Context, id uuid.UUID) (*domain.PaymentIntent, error)
	GetByHold(ctx context.Context, holdID uuid.UUID) (*domain.PaymentIntent, error)
	GetByProviderID(ctx context.Context, providerID string) (*domain.PaymentIntent, error)
	SetStatusIfPending(ctx context.Context, id uuid.UUID, to domain.IntentStatus) (bool, error)
}

type Bookings interface {
	Insert(ctx context.Context, b *domain.Booking) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	GetByIntent(ctx context.Context, intentID uuid.UUID) (*domain.Booking, error)
	SetStatusIf(ctx context.Context, id uuid.UUID, from, to domain.BookingStatus) (bool, error)
}

// Webhooks is the dedup ledger for provider deliveries.
type Webhooks interface {
	MarkProcessed(ctx context.Context, providerEventID, eventType string) (bool, error)
	Seen(ctx context.Context, providerEventID string) (bool, error)
}

type Admin interface {
	CreateEvent(ctx context.Context, title string, starts, ends time.Time) (int64, error)
	BatchCreateUnits(ctx context.Context, eventID int64, units []UnitInput) error
}

// Datastore is what the services program against. The accessors bind a repo
// to tx; passing nil binds it to the pool for single-statement calls. The
// postgres Store is the production implementation, the memory Store backs
// service tests.
type Datastore interface {
	RunTx(ctx context.Context, opts *pgx.TxOptions, fn func(ctx context.Context, tx DB) error) error
	Ledger(tx DB) Ledger
	Holds(tx DB) Holds
	Intents(tx DB) Intents
	Bookings(tx DB) Bookings
	Webhooks(tx DB) Webhooks
	Admin(tx DB) Admin
}

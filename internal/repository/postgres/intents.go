package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vintora/tablebook/internal/domain"
)

type IntentRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *IntentRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Insert stores a new payment intent. The unique constraint on hold_id for
// non-canceled intents surfaces as repository.ErrConflict.
func (r *IntentRepo) Insert(ctx context.Context, in *domain.PaymentIntent) error {
	const op = "postgres.IntentRepo.Insert"

	db := r.handle()

	if _, err := db.Exec(ctx,
		`INSERT INTO payment_intents(
            id, hold_id, unit_id, event_id, provider_id, client_secret,
            amount_cents, currency, guest_details, status, idempotency_key, created_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		in.ID, in.HoldID, in.UnitID, in.EventID, in.ProviderID, in.ClientSecret,
		in.AmountCents, in.Currency, in.GuestDetails, in.Status, in.IdempotencyKey, in.CreatedAt,
	); err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

func (r *IntentRepo) Get(ctx context.Context, id uuid.UUID) (*domain.PaymentIntent, error) {
	const op = "postgres.IntentRepo.Get"
	return r.get(ctx, op, `id = $1`, id)
}

func (r *IntentRepo) GetByHold(ctx context.Context, holdID uuid.UUID) (*domain.PaymentIntent, error) {
	const op = "postgres.IntentRepo.GetByHold"
	return r.get(ctx, op, `hold_id = $1 AND status <> 'canceled'`, holdID)
}

func (r *IntentRepo) GetByProviderID(ctx context.Context, providerID string) (*domain.PaymentIntent, error) {
	const op = "postgres.IntentRepo.GetByProviderID"
	return r.get(ctx, op, `provider_id = $1`, providerID)
}

func (r *IntentRepo) get(ctx context.Context, op, where string, arg any) (*domain.PaymentIntent, error) {
	db := r.handle()

	var in domain.PaymentIntent
	err := db.QueryRow(ctx,
		`SELECT id, hold_id, unit_id, event_id, provider_id, client_secret,
                amount_cents, currency, guest_details, status, idempotency_key, created_at
           FROM payment_intents WHERE `+where,
		arg,
	).Scan(
		&in.ID, &in.HoldID, &in.UnitID, &in.EventID, &in.ProviderID, &in.ClientSecret,
		&in.AmountCents, &in.Currency, &in.GuestDetails, &in.Status, &in.IdempotencyKey, &in.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &in, nil
}

// SetStatusIfPending moves a pending intent to a terminal status. Returns
// false when the intent was already terminal; the caller decides whether
// that is an idempotent no-op or a conflict.
func (r *IntentRepo) SetStatusIfPending(
	ctx context.Context,
	id uuid.UUID,
	to domain.IntentStatus,
) (bool, error) {
	const op = "postgres.IntentRepo.SetStatusIfPending"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE payment_intents
            SET status = $2
          WHERE id = $1 AND status = 'pending'`,
		id, to,
	)
	if err != nil {
		return false, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return tag.RowsAffected() == 1, nil
}

package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vintora/tablebook/internal/domain"
)

type BookingRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *BookingRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Insert stores the confirmed booking. The partial unique index on
// (unit_id) for confirmed bookings is the schema-level last line against
// double booking; a violation surfaces as repository.ErrConflict.
func (r *BookingRepo) Insert(ctx context.Context, b *domain.Booking) error {
	const op = "postgres.BookingRepo.Insert"

	db := r.handle()

	if _, err := db.Exec(ctx,
		`INSERT INTO bookings(
            id, unit_id, event_id, payment_intent_id, guest_details,
            status, created_at, finalized_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		b.ID, b.UnitID, b.EventID, b.PaymentIntentID, b.GuestDetails,
		b.Status, b.CreatedAt, b.FinalizedAt,
	); err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

func (r *BookingRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	const op = "postgres.BookingRepo.Get"
	return r.get(ctx, op, `id = $1`, id)
}

// GetByIntent returns the booking finalized for a payment intent, or
// repository.ErrNotFound when none exists yet.
func (r *BookingRepo) GetByIntent(ctx context.Context, intentID uuid.UUID) (*domain.Booking, error) {
	const op = "postgres.BookingRepo.GetByIntent"
	return r.get(ctx, op, `payment_intent_id = $1`, intentID)
}

func (r *BookingRepo) get(ctx context.Context, op, where string, arg any) (*domain.Booking, error) {
	db := r.handle()

	var b domain.Booking
	err := db.QueryRow(ctx,
		`SELECT id, unit_id, event_id, payment_intent_id, guest_details,
                status, created_at, finalized_at
           FROM bookings WHERE `+where,
		arg,
	).Scan(
		&b.ID, &b.UnitID, &b.EventID, &b.PaymentIntentID, &b.GuestDetails,
		&b.Status, &b.CreatedAt, &b.FinalizedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &b, nil
}

// SetStatusIf moves a booking between statuses conditionally. Returns false
// when the booking was not in the expected status.
func (r *BookingRepo) SetStatusIf(
	ctx context.Context,
	id uuid.UUID,
	from, to domain.BookingStatus,
) (bool, error) {
	const op = "postgres.BookingRepo.SetStatusIf"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE bookings SET status = $3 WHERE id = $1 AND status = $2`,
		id, from, to,
	)
	if err != nil {
		return false, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return tag.RowsAffected() == 1, nil
}

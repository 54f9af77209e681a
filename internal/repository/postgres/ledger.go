package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vintora/tablebook/internal/domain"
)

// LedgerRepo owns every unit-state mutation. All transitions are conditional
// UPDATEs with a WHERE clause on the current state, so a lost race shows up as
// zero rows affected rather than a corrupted row.
type LedgerRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *LedgerRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// TryTransition performs a compare-and-swap state change on a unit. It returns
// false when the unit was not in fromState; callers treat that as losing the
// race, not as an error. Leaving held clears the hold columns.
func (r *LedgerRepo) TryTransition(
	ctx context.Context,
	unitID int64,
	fromState, toState domain.UnitState,
) (bool, error) {
	const op = "postgres.LedgerRepo.TryTransition"

	if !domain.ValidTransition(fromState, toState) {
		return false, fmt.Errorf("%s: invalid transition %s -> %s", op, fromState, toState)
	}

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE units
            SET state = $3, hold_id = NULL, hold_expires_at = NULL
          WHERE id = $1 AND state = $2`,
		unitID, fromState, toState,
	)
	if err != nil {
		return false, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return tag.RowsAffected() == 1, nil
}

// TryHold moves an available unit to held, stamping the owning hold. Returns
// false when the unit is already held or booked.
func (r *LedgerRepo) TryHold(
	ctx context.Context,
	unitID int64,
	holdID uuid.UUID,
	expiresAt time.Time,
) (bool, error) {
	const op = "postgres.LedgerRepo.TryHold"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE units
            SET state = 'held', hold_id = $2, hold_expires_at = $3
          WHERE id = $1 AND state = 'available'`,
		unitID, holdID, expiresAt,
	)
	if err != nil {
		return false, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return tag.RowsAffected() == 1, nil
}

// ReleaseByHold moves a held unit back to available only while holdID is
// still the active hold for it. Release, expiry and failed finalization all
// go through this guard so they cannot race each other into a double release.
func (r *LedgerRepo) ReleaseByHold(ctx context.Context, holdID uuid.UUID) (int64, int64, bool, error) {
	const op = "postgres.LedgerRepo.ReleaseByHold"

	db := r.handle()

	var unitID, eventID int64
	err := db.QueryRow(ctx,
		`UPDATE units
            SET state = 'available', hold_id = NULL, hold_expires_at = NULL
          WHERE hold_id = $1 AND state = 'held'
         RETURNING id, event_id`,
		holdID,
	).Scan(&unitID, &eventID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, false, nil
		}
		return 0, 0, false, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return unitID, eventID, true, nil
}

// BookByHold moves a held unit to booked only while holdID is still the
// active hold for it.
func (r *LedgerRepo) BookByHold(ctx context.Context, holdID uuid.UUID) (int64, bool, error) {
	const op = "postgres.LedgerRepo.BookByHold"

	db := r.handle()

	var unitID int64
	err := db.QueryRow(ctx,
		`UPDATE units
            SET state = 'booked', hold_id = NULL, hold_expires_at = NULL
          WHERE hold_id = $1 AND state = 'held'
         RETURNING id`,
		holdID,
	).Scan(&unitID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return unitID, true, nil
}

// Snapshot returns current unit states for an event. This read is for display
// only and never gates a mutation.
func (r *LedgerRepo) Snapshot(ctx context.Context, eventID int64) ([]domain.UnitAvailability, error) {
	const op = "postgres.LedgerRepo.Snapshot"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT id, label, state
           FROM units
          WHERE event_id = $1
          ORDER BY id`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.UnitAvailability
	for rows.Next() {
		var u domain.UnitAvailability
		if err := rows.Scan(&u.UnitID, &u.Label, &u.State); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}

		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// GetUnit retrieves a unit by its ID.
//
// Returns:
//   - *domain.Unit: the unit when found.
//   - error: repository.ErrNotFound if the unit is not found.
func (r *LedgerRepo) GetUnit(ctx context.Context, unitID int64) (*domain.Unit, error) {
	const op = "postgres.LedgerRepo.GetUnit"

	db := r.handle()

	var u domain.Unit
	err := db.QueryRow(ctx,
		`SELECT id, event_id, label, capacity, state
           FROM units WHERE id = $1`,
		unitID,
	).Scan(&u.ID, &u.EventID, &u.Label, &u.Capacity, &u.State)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &u, nil
}

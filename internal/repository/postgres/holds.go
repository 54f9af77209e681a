package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vintora/tablebook/internal/domain"
	"github.com/vintora/tablebook/internal/repository"
)

type HoldRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *HoldRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Create claims a unit for one checkout attempt. Expired holds on the unit's
// event are lazily released first, so an abandoned checkout never blocks the
// next customer even between sweep runs.
//
// Returns:
//   - *domain.Hold: the created hold.
//   - error: repository.ErrUnitUnavailable if the unit is already held or booked.
func (r *HoldRepo) Create(
	ctx context.Context,
	unitID int64,
	eventID int64,
	ownerToken string,
	ttl time.Duration,
) (*domain.Hold, error) {
	const op = "postgres.HoldRepo.Create"

	db := r.handle()

	if _, err := db.Exec(ctx,
		`UPDATE units
            SET state = 'available', hold_id = NULL, hold_expires_at = NULL
          WHERE event_id = $1
            AND state = 'held'
            AND hold_expires_at <= now()`,
		eventID,
	); err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if _, err := db.Exec(ctx,
		`DELETE FROM holds h
          WHERE h.expires_at <= now()
            AND NOT EXISTS (SELECT 1 FROM units u WHERE u.hold_id = h.id)`,
	); err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	hold := domain.Hold{
		ID:         uuid.New(),
		UnitID:     unitID,
		EventID:    eventID,
		OwnerToken: ownerToken,
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(ttl),
	}

	if _, err := db.Exec(ctx,
		`INSERT INTO holds(id, unit_id, event_id, owner_token, created_at, expires_at)
         VALUES ($1, $2, $3, $4, $5, $6)`,
		hold.ID, hold.UnitID, hold.EventID, hold.OwnerToken, hold.CreatedAt, hold.ExpiresAt,
	); err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	ledger := &LedgerRepo{pool: r.pool, db: r.db}
	claimed, err := ledger.TryHold(ctx, unitID, hold.ID, hold.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}
	if !claimed {
		return nil, fmt.Errorf("%s:%w", op, repository.ErrUnitUnavailable)
	}

	return &hold, nil
}

// Get retrieves a hold by its ID.
//
// Returns:
//   - *domain.Hold: the hold when found.
//   - error: repository.ErrNotFound if the hold is not found.
func (r *HoldRepo) Get(ctx context.Context, holdID uuid.UUID) (*domain.Hold, error) {
	const op = "postgres.HoldRepo.Get"

	db := r.handle()

	var h domain.Hold
	err := db.QueryRow(ctx,
		`SELECT id, unit_id, event_id, owner_token, created_at, expires_at
           FROM holds WHERE id = $1`,
		holdID,
	).Scan(&h.ID, &h.UnitID, &h.EventID, &h.OwnerToken, &h.CreatedAt, &h.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &h, nil
}

// Release returns the unit to available if holdID is still its active hold,
// then deletes the hold row. Idempotent: releasing an already released or
// finalized hold is a no-op.
func (r *HoldRepo) Release(ctx context.Context, holdID uuid.UUID) (int64, int64, bool, error) {
	const op = "postgres.HoldRepo.Release"

	db := r.handle()

	ledger := &LedgerRepo{pool: r.pool, db: r.db}
	unitID, eventID, released, err := ledger.ReleaseByHold(ctx, holdID)
	if err != nil {
		return 0, 0, false, fmt.Errorf("%s:%w", op, err)
	}

	if _, err := db.Exec(ctx, `DELETE FROM holds WHERE id = $1`, holdID); err != nil {
		return 0, 0, false, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return unitID, eventID, released, nil
}

// ExpireStale releases every hold past its deadline and reports what was
// released. It uses the same hold-guarded transition as Release, so a
// concurrent finalize and an expiry sweep cannot both claim the same hold.
func (r *HoldRepo) ExpireStale(ctx context.Context) ([]repository.ExpiredHold, error) {
	const op = "postgres.HoldRepo.ExpireStale"

	db := r.handle()

	rows, err := db.Query(ctx,
		`WITH expired AS (
            SELECT id, event_id, hold_id
              FROM units
             WHERE state = 'held' AND hold_expires_at <= now()
               FOR UPDATE
         )
         UPDATE units u
            SET state = 'available', hold_id = NULL, hold_expires_at = NULL
           FROM expired e
          WHERE u.id = e.id
         RETURNING e.hold_id, u.id, u.event_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []repository.ExpiredHold
	for rows.Next() {
		var e repository.ExpiredHold
		if err := rows.Scan(&e.HoldID, &e.UnitID, &e.EventID); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if _, err := db.Exec(ctx, `DELETE FROM holds WHERE expires_at <= now()`); err != nil {
		return out, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return out, nil
}

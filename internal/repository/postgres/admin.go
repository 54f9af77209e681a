package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vintora/tablebook/internal/repository"
)

type AdminRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *AdminRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

func (r *AdminRepo) CreateEvent(
	ctx context.Context,
	title string,
	starts, ends time.Time,
) (int64, error) {
	const op = "postgres.AdminRepo.CreateEvent"

	db := r.handle()

	var id int64
	if err := db.QueryRow(ctx,
		`INSERT INTO events(title, starts_at, ends_at)
         VALUES ($1, $2, $3)
         RETURNING id`,
		title, starts, ends,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return id, nil
}

// BatchCreateUnits seeds one available unit row per input. Ticket-class
// inventory of size N is seeded as N identical units so every bookable thing
// shares the same transition path.
func (r *AdminRepo) BatchCreateUnits(
	ctx context.Context,
	eventID int64,
	units []repository.UnitInput,
) error {
	const op = "postgres.AdminRepo.BatchCreateUnits"

	db := r.handle()

	batch := &pgx.Batch{}
	for _, u := range units {
		batch.Queue(
			`INSERT INTO units(event_id, label, capacity, state)
             VALUES ($1, $2, $3, 'available')
             ON CONFLICT (event_id, label) DO NOTHING`,
			eventID, u.Label, u.Capacity,
		)
	}
	if err := db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

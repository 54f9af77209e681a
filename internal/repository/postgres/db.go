package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vintora/tablebook/internal/repository"
)

type DB = repository.DB

// Store implements repository.Datastore over a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ repository.Datastore = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool: pool,
	}
}

func (s *Store) RunTx(
	ctx context.Context,
	opts *pgx.TxOptions,
	fn func(ctx context.Context, tx DB) error,
) error {
	txOpts := pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	}

	if opts != nil {
		txOpts.IsoLevel = opts.IsoLevel
		txOpts.AccessMode = opts.AccessMode
		txOpts.DeferrableMode = opts.DeferrableMode
	}

	tx, err := s.pool.BeginTx(ctx, txOpts)
	if err != nil {
		return err
	}

	defer tx.Rollback(ctx)

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

// Accessors bind a repo to tx; a nil tx binds it to the pool.

func (s *Store) Ledger(tx DB) repository.Ledger { return &LedgerRepo{pool: s.pool, db: tx} }

func (s *Store) Holds(tx DB) repository.Holds { return &HoldRepo{pool: s.pool, db: tx} }

func (s *Store) Intents(tx DB) repository.Intents { return &IntentRepo{pool: s.pool, db: tx} }

func (s *Store) Bookings(tx DB) repository.Bookings { return &BookingRepo{pool: s.pool, db: tx} }

func (s *Store) Webhooks(tx DB) repository.Webhooks { return &WebhookRepo{pool: s.pool, db: tx} }

func (s *Store) Admin(tx DB) repository.Admin { return &AdminRepo{pool: s.pool, db: tx} }

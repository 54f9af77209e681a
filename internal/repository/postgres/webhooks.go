package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// WebhookRepo is the dedup ledger for provider deliveries. MarkProcessed
// runs inside the same transaction as the domain mutation the event drives,
// so a crash between the two leaves the event unmarked and a redelivery
// simply reprocesses through the finalizer's own idempotency.
type WebhookRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *WebhookRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// MarkProcessed records a provider event id as applied. Returns false when
// the id was already recorded, meaning the delivery is a duplicate and its
// side effects must not be reapplied.
func (r *WebhookRepo) MarkProcessed(
	ctx context.Context,
	providerEventID string,
	eventType string,
) (bool, error) {
	const op = "postgres.WebhookRepo.MarkProcessed"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`INSERT INTO webhook_events(provider_event_id, event_type, received_at, processed_at)
         VALUES ($1, $2, $3, $3)
         ON CONFLICT (provider_event_id) DO NOTHING`,
		providerEventID, eventType, time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return tag.RowsAffected() == 1, nil
}

// Seen reports whether a provider event id has already been applied, without
// claiming it.
func (r *WebhookRepo) Seen(ctx context.Context, providerEventID string) (bool, error) {
	const op = "postgres.WebhookRepo.Seen"

	db := r.handle()

	var exists bool
	err := db.QueryRow(ctx,
		`SELECT EXISTS(
            SELECT 1 FROM webhook_events
             WHERE provider_event_id = $1 AND processed_at IS NOT NULL)`,
		providerEventID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return exists, nil
}

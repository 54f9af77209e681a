package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vintora/tablebook/internal/domain"
	"github.com/vintora/tablebook/internal/repository"
	postgresrepo "github.com/vintora/tablebook/internal/repository/postgres"
	redisrepo "github.com/vintora/tablebook/internal/repository/redis"
)

type Config struct {
	SnapshotTTL time.Duration
}

// Service serves read paths. Snapshot reads go through the cache; they are
// display-only and never gate a mutation.
type Service struct {
	store *postgresrepo.Store
	cache *redisrepo.Cache
	cfg   Config
}

func New(store *postgresrepo.Store, cache *redisrepo.Cache, cfg Config) *Service {
	if cfg.SnapshotTTL <= 0 {
		cfg.SnapshotTTL = 5 * time.Second
	}

	return &Service{
		store: store,
		cache: cache,
		cfg:   cfg,
	}
}

// Availability returns the per-unit snapshot for an event.
//
// Returns:
//   - error: query.ErrEventNotFound if the event has no units.
func (s *Service) Availability(ctx context.Context, eventID int64) ([]domain.UnitAvailability, error) {
	const op = "service.query.Availability"

	key := redisrepo.KeyEventAvailability(eventID)

	out, err := redisrepo.GetOrSetJSON(ctx, s.cache, key, s.cfg.SnapshotTTL,
		func(ctx context.Context) ([]domain.UnitAvailability, error) {
			return s.store.Ledger(nil).Snapshot(ctx, eventID)
		})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%s:%w", op, ErrEventNotFound)
	}

	return out, nil
}

// GetUnit returns a single unit.
func (s *Service) GetUnit(ctx context.Context, unitID int64) (*domain.Unit, error) {
	const op = "service.query.GetUnit"

	u, err := s.store.Ledger(nil).GetUnit(ctx, unitID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrUnitNotFound)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return u, nil
}

package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vintora/tablebook/internal/repository"
	postgresrepo "github.com/vintora/tablebook/internal/repository/postgres"
	redisrepo "github.com/vintora/tablebook/internal/repository/redis"
	"github.com/vintora/tablebook/internal/uow"
)

// Service covers operator tasks: creating events and seeding their unit
// inventory. It is not part of the customer checkout path.
type Service struct {
	store  *postgresrepo.Store
	cache  *redisrepo.Cache
	logger *slog.Logger
	uow    *uow.UoW
}

func New(store *postgresrepo.Store, cache *redisrepo.Cache, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		cache:  cache,
		logger: logger,
		uow:    uow.NewUoW(store),
	}
}

// CreateEvent registers a new event and returns its id.
func (s *Service) CreateEvent(
	ctx context.Context,
	title string,
	starts, ends time.Time,
) (int64, error) {
	const op = "service.admin.CreateEvent"

	if title == "" {
		return 0, fmt.Errorf("%s: title required", op)
	}

	if !ends.After(starts) {
		return 0, fmt.Errorf("%s: ends_at must be after starts_at", op)
	}

	var id int64

	err := s.uow.Do(ctx, func(
		ctx context.Context,
		tx postgresrepo.DB,
		after func(uow.AfterCommit),
	) error {
		eid, err := s.store.Admin(tx).CreateEvent(ctx, title, starts, ends)
		if err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return fmt.Errorf("%s:%w", op, ErrEventConflict)
			}

			return fmt.Errorf("%s:%w", op, err)
		}

		id = eid

		return nil
	})
	if err != nil {
		return 0, err
	}

	return id, nil
}

// SeedUnits adds inventory rows to an event. Labels already present on the
// event are skipped, so reruns of the same seed are harmless.
func (s *Service) SeedUnits(
	ctx context.Context,
	eventID int64,
	units []repository.UnitInput,
) error {
	const op = "service.admin.SeedUnits"

	if len(units) == 0 {
		return fmt.Errorf("%s: no units given", op)
	}

	err := s.uow.Do(ctx, func(
		ctx context.Context,
		tx postgresrepo.DB,
		after func(uow.AfterCommit),
	) error {
		if err := s.store.Admin(tx).BatchCreateUnits(ctx, eventID, units); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return fmt.Errorf("%s:%w", op, ErrUnitsConflict)
			}

			return fmt.Errorf("%s:%w", op, err)
		}

		after(func(ctx context.Context) {
			_ = s.cache.InvalidateEvent(ctx, eventID)
		})

		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("seeded units", "event_id", eventID, "count", len(units))

	return nil
}

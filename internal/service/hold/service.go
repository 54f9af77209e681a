package hold

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vintora/tablebook/internal/domain"
	"github.com/vintora/tablebook/internal/metrics"
	"github.com/vintora/tablebook/internal/provider"
	"github.com/vintora/tablebook/internal/repository"
	postgresrepo "github.com/vintora/tablebook/internal/repository/postgres"
	"github.com/vintora/tablebook/internal/uow"
)

type Config struct {
	MinTTL     time.Duration
	MaxTTL     time.Duration
	DefaultTTL time.Duration
}

// Cache invalidates cached availability snapshots.
type Cache interface {
	InvalidateEvent(ctx context.Context, eventID int64) error
}

// Publisher announces committed unit-state changes to subscribers.
type Publisher interface {
	PublishUnitChanged(ctx context.Context, eventID, unitID int64, state domain.UnitState) error
}

// Limiter throttles checkout attempts per client.
type Limiter interface {
	Allow(ctx context.Context, suffix string) (bool, int64, time.Duration, error)
}

/// Service is the hold manager: it hands out time-boxed claims on units and
// releases them on request or on expiry. A conflict is an expected outcome,
// not a failure.
type Service struct {
	store   repository.Datastore
	cache   Cache
	pubsub  Publisher
	limiter Limiter
	gateway provider.Gateway
	logger  *slog.Logger
	uow     *uow.UoW
	cfg     Config
}

func New(
	store repository.Datastore,
	cache Cache,
	pubsub Publisher,
	limiter Limiter,
	gateway provider.Gateway,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if cfg.MinTTL <= 0 {
		cfg.MinTTL = 30 * time.Second
	}

	if cfg.MaxTTL <= 0 || cfg.MaxTTL < cfg.MinTTL {
		cfg.MaxTTL = 10 * time.Minute
	}

	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}

	return &Service{
		store:   store,
		cache:   cache,
		pubsub:  pubsub,
		limiter: limiter,
		gateway: gateway,
		logger:  logger,
		uow:     uow.NewUoW(store),
		cfg:     cfg,
	}
}

// Create claims a unit for one checkout attempt.
//
// Returns:
//   - *domain.Hold: the created hold.
//   - error: hold.ErrUnitUnavailable when another customer holds or booked the unit.
//   - error: hold.ErrUnitNotFound when the unit does not exist.
func (s *Service) Create(
	ctx context.Context,
	unitID int64,
	ownerToken string,
	ttl time.Duration,
	rlKey string,
) (*domain.Hold, error) {
	const op = "service.hold.Create"

	if ownerToken == "" {
		return nil, fmt.Errorf("%s: owner token required", op)
	}

	ttl = s.clampTTL(ttl)

	if s.limiter != nil && rlKey != "" {
		ok, _, retry, err := s.limiter.Allow(ctx, rlKey)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		if !ok {
			return nil, fmt.Errorf("%s:%w: retry in %s", op, ErrRateLimited, retry)
		}
	}

	var created *domain.Hold

	err := s.uow.Do(ctx, func(
		ctx context.Context,
		tx postgresrepo.DB,
		after func(uow.AfterCommit),
	) error {
		unit, err := s.store.Ledger(tx).GetUnit(ctx, unitID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%s:%w", op, ErrUnitNotFound)
			}

			return fmt.Errorf("%s:%w", op, err)
		}

		h, err := s.store.Holds(tx).Create(ctx, unitID, unit.EventID, ownerToken, ttl)
		if err != nil {
			if errors.Is(err, repository.ErrUnitUnavailable) {
				return fmt.Errorf("%s:%w", op, ErrUnitUnavailable)
			}

			return fmt.Errorf("%s:%w", op, err)
		}

		created = h

		after(func(ctx context.Context) {
			_ = s.cache.InvalidateEvent(ctx, unit.EventID)
			_ = s.pubsub.PublishUnitChanged(ctx, unit.EventID, unitID, domain.UnitHeld)
		})

		return nil
	})
	if err != nil {
		if errors.Is(err, ErrUnitUnavailable) {
			metrics.HoldConflicts.Inc()
		}
		return nil, err
	}

	metrics.HoldsCreated.Inc()

	return created, nil
}

// Release gives the unit back if holdID is still its active hold. Safe to
// call any number of times, including for holds that were already finalized
// or expired.
func (s *Service) Release(ctx context.Context, holdID uuid.UUID) error {
	const op = "service.hold.Release"

	return s.uow.Do(ctx, func(
		ctx context.Context,
		tx postgresrepo.DB,
		after func(uow.AfterCommit),
	) error {
		unitID, eventID, released, err := s.store.Holds(tx).Release(ctx, holdID)
		if err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		if released {
			after(func(ctx context.Context) {
				_ = s.cache.InvalidateEvent(ctx, eventID)
				_ = s.pubsub.PublishUnitChanged(ctx, eventID, unitID, domain.UnitAvailable)
			})
		}

		return nil
	})
}

// ExpireStale runs one expiry pass. Holds past their deadline are released
// through the same guarded transition as Release; any payment intent still
// pending for an expired hold gets a best-effort cancel at the provider.
// A payment that nonetheless succeeds later is refunded by the finalizer.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	const op = "service.hold.ExpireStale"

	var expired []repository.ExpiredHold
	var cancelProviderIDs []string

	err := s.uow.Do(ctx, func(
		ctx context.Context,
		tx postgresrepo.DB,
		after func(uow.AfterCommit),
	) error {
		ex, err := s.store.Holds(tx).ExpireStale(ctx)
		if err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		expired = ex

		for _, e := range ex {
			in, err := s.store.Intents(tx).GetByHold(ctx, e.HoldID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					continue
				}
				return fmt.Errorf("%s:%w", op, err)
			}
			if in.Status == domain.IntentPending {
				cancelProviderIDs = append(cancelProviderIDs, in.ProviderID)
			}
		}

		for _, e := range ex {
			e := e
			after(func(ctx context.Context) {
				_ = s.cache.InvalidateEvent(ctx, e.EventID)
				_ = s.pubsub.PublishUnitChanged(ctx, e.EventID, e.UnitID, domain.UnitAvailable)
			})
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, pid := range cancelProviderIDs {
		if err := s.gateway.CancelIntent(ctx, pid); err != nil {
			// The payment may already have completed; the webhook for its
			// final state drives the refund path.
			s.logger.Warn("could not cancel provider intent for expired hold",
				"provider_id", pid, "error", err)
		}
	}

	if n := len(expired); n > 0 {
		metrics.HoldsExpired.Add(float64(n))
	}

	return len(expired), nil
}

func (s *Service) clampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return s.cfg.DefaultTTL
	}

	if ttl < s.cfg.MinTTL {
		return s.cfg.MinTTL
	}

	if ttl > s.cfg.MaxTTL {
		return s.cfg.MaxTTL
	}

	return ttl
}

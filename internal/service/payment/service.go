package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vintora/tablebook/internal/domain"
	"github.com/vintora/tablebook/internal/provider"
	"github.com/vintora/tablebook/internal/repository"
	postgresrepo "github.com/vintora/tablebook/internal/repository/postgres"
	"github.com/vintora/tablebook/internal/uow"
)

type Config struct {
	Currency string
}

// Service is the payment intent coordinator. It owns every outbound call to
// the payment provider and never mutates booking or ledger state itself;
// status changes flow through the reconciler and the finalizer.
type Service struct {
	store   repository.Datastore
	gateway provider.Gateway
	logger  *slog.Logger
	uow     *uow.UoW
	cfg     Config
}

func New(
	store repository.Datastore,
	gateway provider.Gateway,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}

	return &Service{
		store:   store,
		gateway: gateway,
		logger:  logger,
		uow:     uow.NewUoW(store),
		cfg:     cfg,
	}
}

// IdempotencyKey derives the provider idempotency key for a hold. It is
// deterministic, so a client retry after a network timeout reuses the same
// provider transaction instead of creating a duplicate charge.
func IdempotencyKey(holdID uuid.UUID) string {
	return "hold-" + holdID.String()
}

// CreateIntent creates (or returns the still-pending) payment intent for a
// hold. The provider call runs outside any datastore transaction so no row
// locks are held across network latency.
//
// Returns:
//   - *domain.PaymentIntent: the intent correlated with the hold.
//   - error: payment.ErrHoldNotFound, payment.ErrHoldExpired,
//     payment.ErrIntentExists when the hold already finished paying.
func (s *Service) CreateIntent(
	ctx context.Context,
	holdID uuid.UUID,
	amountCents int64,
	guestDetails []byte,
) (*domain.PaymentIntent, error) {
	const op = "service.payment.CreateIntent"

	if amountCents <= 0 {
		return nil, fmt.Errorf("%s: amount must be positive", op)
	}

	h, err := s.store.Holds(nil).Get(ctx, holdID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrHoldNotFound)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if h.Expired(time.Now()) {
		return nil, fmt.Errorf("%s:%w", op, ErrHoldExpired)
	}

	if existing, err := s.store.Intents(nil).GetByHold(ctx, holdID); err == nil {
		if existing.Status == domain.IntentPending {
			return existing, nil
		}
		return nil, fmt.Errorf("%s:%w", op, ErrIntentExists)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	pi, err := s.gateway.CreateIntent(ctx, provider.CreateIntentInput{
		AmountCents:    amountCents,
		Currency:       s.cfg.Currency,
		IdempotencyKey: IdempotencyKey(holdID),
		Description:    fmt.Sprintf("unit %d, event %d", h.UnitID, h.EventID),
		Metadata: map[string]string{
			"hold_id": holdID.String(),
			"unit_id": fmt.Sprintf("%d", h.UnitID),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	intent := &domain.PaymentIntent{
		ID:             uuid.New(),
		HoldID:         holdID,
		UnitID:         h.UnitID,
		EventID:        h.EventID,
		ProviderID:     pi.ProviderID,
		ClientSecret:   pi.ClientSecret,
		AmountCents:    amountCents,
		Currency:       s.cfg.Currency,
		GuestDetails:   guestDetails,
		Status:         domain.IntentPending,
		IdempotencyKey: IdempotencyKey(holdID),
		CreatedAt:      time.Now(),
	}

	err = s.uow.Do(ctx, func(
		ctx context.Context,
		tx postgresrepo.DB,
		after func(uow.AfterCommit),
	) error {
		// Re-validate under the transaction: the hold may have expired or
		// been released while we were talking to the provider.
		h2, err := s.store.Holds(tx).Get(ctx, holdID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%s:%w", op, ErrHoldExpired)
			}

			return fmt.Errorf("%s:%w", op, err)
		}
		if h2.Expired(time.Now()) {
			return fmt.Errorf("%s:%w", op, ErrHoldExpired)
		}

		if err := s.store.Intents(tx).Insert(ctx, intent); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				// A concurrent retry won the insert; reuse its row.
				existing, gerr := s.store.Intents(tx).GetByHold(ctx, holdID)
				if gerr != nil {
					return fmt.Errorf("%s:%w", op, gerr)
				}
				intent = existing
				return nil
			}

			return fmt.Errorf("%s:%w", op, err)
		}

		return nil
	})
	if err != nil {
		if errors.Is(err, ErrHoldExpired) {
			// Customer cannot pay against a lost hold; release the provider
			// transaction so the card is never charged.
			if cErr := s.gateway.CancelIntent(ctx, intent.ProviderID); cErr != nil {
				s.logger.Warn("could not cancel orphaned provider intent",
					"provider_id", intent.ProviderID, "error", cErr)
			}
		}
		return nil, err
	}

	return intent, nil
}

// GetIntent returns the non-canceled intent for a hold.
//
// Returns:
//   - error: payment.ErrIntentNotFound when the hold has no intent.
func (s *Service) GetIntent(ctx context.Context, holdID uuid.UUID) (*domain.PaymentIntent, error) {
	const op = "service.payment.GetIntent"

	in, err := s.store.Intents(nil).GetByHold(ctx, holdID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrIntentNotFound)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return in, nil
}

// GetIntentByID returns an intent by its local id.
func (s *Service) GetIntentByID(ctx context.Context, id uuid.UUID) (*domain.PaymentIntent, error) {
	const op = "service.payment.GetIntentByID"

	in, err := s.store.Intents(nil).Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrIntentNotFound)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return in, nil
}

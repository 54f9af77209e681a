package booking

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

// Cache invalidates cached availability snapshots.
type Cache interface {
	InvalidateEvent(ctx context.Context, eventID int64) error
}

// Publisher announces committed unit-state changes to subscribers.
type Publisher interface {
	PublishUnitChanged(ctx context.Context, eventID, unitID int64, state domain.UnitState) error
}

// Service is the booking finalizer: the single routine that converts a
// finished payment plus an active hold into a durable booking, exactly once.
// It is safe to invoke concurrently from the synchronous confirm path and
// the webhook path for the same intent.
type Service struct {
	store   repository.Datastore
	cache   Cache
	pubsub  Publisher
	gateway provider.Gateway
	logger  *slog.Logger
	uow     *uow.UoW
}

func New(
	store repository.Datastore,
	cache Cache,
	pubsub Publisher,
	gateway provider.Gateway,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:   store,
		cache:   cache,
		pubsub:  pubsub,
		gateway: gateway,
		logger:  logger,
		uow:     uow.NewUoW(store),
	}
}

// Finalize applies a terminal payment outcome to the intent's hold and unit
// in one transaction. Calling it again with the same outcome returns the
// same booking without side effects.
//
// Returns:
//   - *domain.Booking: the booking for a succeeded outcome (nil for failed/canceled).
//   - error: booking.ErrHoldExpired when payment succeeded but the hold was
//     gone; the charge is refunded automatically before returning.
//   - error: booking.ErrIntentNotFound, booking.ErrOutcomeConflict.
func (s *Service) Finalize(
	ctx context.Context,
	intentID uuid.UUID,
	outcome domain.IntentStatus,
) (*domain.Booking, error) {
	var booked *domain.Booking
	var refundProviderID string

	err := s.uow.Do(ctx, func(
		ctx context.Context,
		tx postgresrepo.DB,
		after func(uow.AfterCommit),
	) error {
		b, pid, err := s.FinalizeTx(ctx, tx, after, intentID, outcome)
		booked, refundProviderID = b, pid
		return err
	})

	if errors.Is(err, ErrHoldExpired) && refundProviderID != "" {
		s.RefundCharge(ctx, intentID, refundProviderID)
		if cErr := s.CloseUnbookable(ctx, intentID); cErr != nil {
			return nil, cErr
		}
	}

	return booked, err
}

// CloseUnbookable settles an intent whose payment finished after its hold
// was gone. The charge has already been refunded, so the intent closes as
// canceled; the provider's refund notification then finds a terminal intent
// and is absorbed without domain change.
func (s *Service) CloseUnbookable(ctx context.Context, intentID uuid.UUID) error {
	const op = "service.booking.CloseUnbookable"

	if _, err := s.store.Intents(nil).SetStatusIfPending(ctx, intentID, domain.IntentCanceled); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

// FinalizeTx is the transaction-composable core of Finalize. The webhook
// reconciler calls it inside its own transaction so the dedup ledger row and
// the domain mutation commit together. When payment succeeded but the hold
// is gone it returns ErrHoldExpired along with the provider id to refund;
// the refund itself must happen after the transaction, never inside it.
func (s *Service) FinalizeTx(
	ctx context.Context,
	tx postgresrepo.DB,
	after func(uow.AfterCommit),
	intentID uuid.UUID,
	outcome domain.IntentStatus,
) (*domain.Booking, string, error) {
	const op = "service.booking.FinalizeTx"

	if !outcome.Terminal() {
		return nil, "", fmt.Errorf("%s: outcome %q is not terminal", op, outcome)
	}

	in, err := s.store.Intents(tx).Get(ctx, intentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, "", fmt.Errorf("%s:%w", op, ErrIntentNotFound)
		}

		return nil, "", fmt.Errorf("%s:%w", op, err)
	}

	if in.Status.Terminal() {
		return s.alreadyFinalized(ctx, tx, op, in, outcome)
	}

	switch outcome {
	case domain.IntentSucceeded:
		return s.finalizeSucceeded(ctx, tx, after, op, in)
	default:
		return nil, "", s.finalizeFailed(ctx, tx, after, op, in, outcome)
	}
}

// alreadyFinalized is the idempotent no-op branch: a second trigger for an
// intent that already reached a terminal status.
func (s *Service) alreadyFinalized(
	ctx context.Context,
	tx postgresrepo.DB,
	op string,
	in *domain.PaymentIntent,
	outcome domain.IntentStatus,
) (*domain.Booking, string, error) {
	if in.Status == outcome {
		if outcome != domain.IntentSucceeded {
			metrics.Finalizations.WithLabelValues("noop").Inc()
			return nil, "", nil
		}

		b, err := s.store.Bookings(tx).GetByIntent(ctx, in.ID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				// Succeeded without a booking: the hold-expired-then-paid
				// case, already refunded on the first pass.
				return nil, "", fmt.Errorf("%s:%w", op, ErrHoldExpired)
			}
			return nil, "", fmt.Errorf("%s:%w", op, err)
		}

		metrics.Finalizations.WithLabelValues("noop").Inc()
		return b, "", nil
	}

	if outcome == domain.IntentSucceeded {
		// The provider reports success for an intent we already closed as
		// failed or canceled (typically canceled on hold expiry, with the
		// charge completing in flight). The customer paid; refund.
		return nil, in.ProviderID, fmt.Errorf("%s:%w", op, ErrHoldExpired)
	}

	s.logger.Error("conflicting terminal outcomes for payment intent",
		"intent_id", in.ID, "recorded", in.Status, "reported", outcome)
	return nil, "", fmt.Errorf("%s:%w", op, ErrOutcomeConflict)
}

func (s *Service) finalizeSucceeded(
	ctx context.Context,
	tx postgresrepo.DB,
	after func(uow.AfterCommit),
	op string,
	in *domain.PaymentIntent,
) (*domain.Booking, string, error) {
	ok, err := s.store.Intents(tx).SetStatusIfPending(ctx, in.ID, domain.IntentSucceeded)
	if err != nil {
		return nil, "", fmt.Errorf("%s:%w", op, err)
	}
	if !ok {
		return nil, "", fmt.Errorf("%s:%w", op, repository.ErrConflict)
	}

	unitID, moved, err := s.store.Ledger(tx).BookByHold(ctx, in.HoldID)
	if err != nil {
		return nil, "", fmt.Errorf("%s:%w", op, err)
	}
	if !moved {
		// The hold expired or was released before payment completed. Roll
		// back; the caller refunds the charge and closes the intent as
		// canceled via CloseUnbookable outside this transaction.
		metrics.Finalizations.WithLabelValues("hold_expired").Inc()
		return nil, in.ProviderID, fmt.Errorf("%s:%w", op, ErrHoldExpired)
	}

	now := time.Now()
	b := &domain.Booking{
		ID:              uuid.New(),
		UnitID:          unitID,
		EventID:         in.EventID,
		PaymentIntentID: in.ID,
		GuestDetails:    in.GuestDetails,
		Status:          domain.BookingConfirmed,
		CreatedAt:       now,
		FinalizedAt:     now,
	}

	if err := s.store.Bookings(tx).Insert(ctx, b); err != nil {
		return nil, "", fmt.Errorf("%s:%w", op, err)
	}

	// The unit is booked now, so this only removes the hold row.
	if _, _, _, err := s.store.Holds(tx).Release(ctx, in.HoldID); err != nil {
		return nil, "", fmt.Errorf("%s:%w", op, err)
	}

	eventID, unit := in.EventID, unitID
	after(func(ctx context.Context) {
		_ = s.cache.InvalidateEvent(ctx, eventID)
		_ = s.pubsub.PublishUnitChanged(ctx, eventID, unit, domain.UnitBooked)
	})

	metrics.Finalizations.WithLabelValues("succeeded").Inc()

	return b, "", nil
}

func (s *Service) finalizeFailed(
	ctx context.Context,
	tx postgresrepo.DB,
	after func(uow.AfterCommit),
	op string,
	in *domain.PaymentIntent,
	outcome domain.IntentStatus,
) error {
	ok, err := s.store.Intents(tx).SetStatusIfPending(ctx, in.ID, outcome)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}
	if !ok {
		return fmt.Errorf("%s:%w", op, repository.ErrConflict)
	}

	// Free the unit immediately instead of waiting out the TTL.
	unitID, eventID, released, err := s.store.Holds(tx).Release(ctx, in.HoldID)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	if released {
		after(func(ctx context.Context) {
			_ = s.cache.InvalidateEvent(ctx, eventID)
			_ = s.pubsub.PublishUnitChanged(ctx, eventID, unitID, domain.UnitAvailable)
		})
	}

	metrics.Finalizations.WithLabelValues(string(outcome)).Inc()

	return nil
}

// ConfirmSync is the synchronous confirmation path. It checks the recorded
// intent first, asks the provider when the record is still pending, and
// drives the same idempotent finalization the webhook path uses. Racing the
// webhook for the same intent is safe: one of the two wins the transition,
// the other replays the result.
//
// Returns:
//   - *domain.Booking: the confirmed booking.
//   - error: booking.ErrPaymentPending while the provider has not settled.
//   - error: booking.ErrHoldExpired when the payment landed after the hold
//     was gone (charge refunded).
//   - error: booking.ErrIntentNotFound.
func (s *Service) ConfirmSync(ctx context.Context, intentID uuid.UUID) (*domain.Booking, error) {
	const op = "service.booking.ConfirmSync"

	in, err := s.store.Intents(nil).Get(ctx, intentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrIntentNotFound)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	outcome := domain.IntentStatus("")

	switch {
	case in.Status == domain.IntentSucceeded:
		outcome = domain.IntentSucceeded
	case in.Status.Terminal():
		// Closed as failed or canceled; the checkout is dead.
		return nil, fmt.Errorf("%s:%w", op, ErrHoldExpired)
	default:
		pi, err := s.gateway.RetrieveIntent(ctx, in.ProviderID)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}

		switch pi.Status {
		case provider.IntentSucceeded:
			outcome = domain.IntentSucceeded
		case provider.IntentCanceled:
			outcome = domain.IntentCanceled
		default:
			return nil, fmt.Errorf("%s:%w", op, ErrPaymentPending)
		}
	}

	b, err := s.Finalize(ctx, intentID, outcome)
	if err != nil {
		return nil, err
	}

	if outcome != domain.IntentSucceeded {
		return nil, fmt.Errorf("%s:%w", op, ErrHoldExpired)
	}

	return b, nil
}

// MarkRefundedTx reverses a confirmed booking after a provider refund:
// booking status becomes refunded and the unit returns to available. A
// refund notification for an intent that never produced a booking (a
// hold-expired automatic refund) is absorbed without domain change. Safe
// under redelivery.
func (s *Service) MarkRefundedTx(
	ctx context.Context,
	tx postgresrepo.DB,
	after func(uow.AfterCommit),
	intentID uuid.UUID,
) (*domain.Booking, error) {
	const op = "service.booking.MarkRefundedTx"

	b, err := s.store.Bookings(tx).GetByIntent(ctx, intentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if b.Status == domain.BookingRefunded {
		return b, nil
	}

	ok, err := s.store.Bookings(tx).SetStatusIf(ctx, b.ID, b.Status, domain.BookingRefunded)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s:%w", op, repository.ErrConflict)
	}

	moved, err := s.store.Ledger(tx).TryTransition(ctx, b.UnitID, domain.UnitBooked, domain.UnitAvailable)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	b.Status = domain.BookingRefunded

	if moved {
		eventID, unitID := b.EventID, b.UnitID
		after(func(ctx context.Context) {
			_ = s.cache.InvalidateEvent(ctx, eventID)
			_ = s.pubsub.PublishUnitChanged(ctx, eventID, unitID, domain.UnitAvailable)
		})
	}

	metrics.Refunds.Inc()

	return b, nil
}

// Cancel is the admin path: it cancels a confirmed booking, returns the unit
// to available and refunds the charge at the provider. The refund runs after
// the transaction commits; the provider's refund webhook is then absorbed
// idempotently.
func (s *Service) Cancel(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	const op = "service.booking.Cancel"

	var canceled *domain.Booking
	var refundProviderID string

	err := s.uow.Do(ctx, func(
		ctx context.Context,
		tx postgresrepo.DB,
		after func(uow.AfterCommit),
	) error {
		b, err := s.store.Bookings(tx).Get(ctx, bookingID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%s:%w", op, ErrBookingNotFound)
			}

			return fmt.Errorf("%s:%w", op, err)
		}

		if b.Status != domain.BookingConfirmed {
			canceled = b
			return nil
		}

		if _, err := s.store.Bookings(tx).SetStatusIf(ctx, b.ID, domain.BookingConfirmed, domain.BookingCanceled); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		if _, err := s.store.Ledger(tx).TryTransition(ctx, b.UnitID, domain.UnitBooked, domain.UnitAvailable); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		in, err := s.store.Intents(tx).Get(ctx, b.PaymentIntentID)
		if err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}
		refundProviderID = in.ProviderID

		b.Status = domain.BookingCanceled
		canceled = b

		eventID, unitID := b.EventID, b.UnitID
		after(func(ctx context.Context) {
			_ = s.cache.InvalidateEvent(ctx, eventID)
			_ = s.pubsub.PublishUnitChanged(ctx, eventID, unitID, domain.UnitAvailable)
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	if refundProviderID != "" {
		s.RefundCharge(ctx, bookingID, refundProviderID)
	}

	return canceled, nil
}

// GetBooking retrieves a booking by id.
func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	const op = "service.booking.GetBooking"

	b, err := s.store.Bookings(nil).Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrBookingNotFound)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return b, nil
}

// RefundCharge refunds a provider transaction. The refund is idempotent at
// the provider (keyed by the local id), so retrying after a crash or a
// webhook redelivery cannot refund twice.
func (s *Service) RefundCharge(ctx context.Context, localID uuid.UUID, providerID string) {
	if err := s.gateway.Refund(ctx, providerID, "refund-"+localID.String()); err != nil {
		// Must not be dropped: the customer paid and holds nothing.
		s.logger.Error("automatic refund failed, needs operator attention",
			"provider_id", providerID, "error", err)
		return
	}

	metrics.Refunds.Inc()
	s.logger.Info("charge refunded", "provider_id", providerID)
}

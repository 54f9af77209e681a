package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vintora/tablebook/internal/domain"
	"github.com/vintora/tablebook/internal/metrics"
	"github.com/vintora/tablebook/internal/provider"
	"github.com/vintora/tablebook/internal/repository"
	postgresrepo "github.com/vintora/tablebook/internal/repository/postgres"
	"github.com/vintora/tablebook/internal/service/booking"
	"github.com/vintora/tablebook/internal/uow"
)

// Service reconciles asynchronous provider notifications with local state.
// Deliveries may repeat and may arrive out of order; every path through
// Handle is idempotent, and the dedup ledger row commits in the same
// transaction as the domain mutation it covers.
type Service struct {
	store     repository.Datastore
	gateway   provider.Gateway
	finalizer *booking.Service
	logger    *slog.Logger
	uow       *uow.UoW
}

func New(
	store repository.Datastore,
	gateway provider.Gateway,
	finalizer *booking.Service,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:     store,
		gateway:   gateway,
		finalizer: finalizer,
		logger:    logger,
		uow:       uow.NewUoW(store),
	}
}

// Handle verifies, deduplicates and applies one provider delivery.
//
// Returns:
//   - nil: the delivery is acknowledged (applied, duplicate, or absorbed).
//   - webhook.ErrBadSignature: reject, do not process.
//   - webhook.ErrDeferred: ask the provider to redeliver later.
func (s *Service) Handle(ctx context.Context, payload []byte, sigHeader string) error {
	const op = "service.webhook.Handle"

	ev, err := s.gateway.VerifyEvent(payload, sigHeader)
	if err != nil {
		if errors.Is(err, provider.ErrBadSignature) {
			metrics.WebhookEvents.WithLabelValues("bad_signature").Inc()
			return fmt.Errorf("%s:%w", op, ErrBadSignature)
		}
		if errors.Is(err, provider.ErrUnsupported) {
			// Unknown event types are acknowledged so the provider stops
			// redelivering them.
			metrics.WebhookEvents.WithLabelValues("ignored").Inc()
			return nil
		}

		return fmt.Errorf("%s:%w", op, err)
	}

	seen, err := s.store.Webhooks(nil).Seen(ctx, ev.ID)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}
	if seen {
		metrics.WebhookEvents.WithLabelValues("duplicate").Inc()
		return nil
	}

	in, err := s.store.Intents(nil).GetByProviderID(ctx, ev.ProviderIntentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// The local intent row has not committed yet; redeliver.
			metrics.WebhookEvents.WithLabelValues("deferred").Inc()
			return fmt.Errorf("%s:%w", op, ErrDeferred)
		}

		return fmt.Errorf("%s:%w", op, err)
	}

	switch ev.Type {
	case provider.EventSucceeded, provider.EventFailed, provider.EventCanceled:
		return s.applyOutcome(ctx, ev, in, mapOutcome(ev.Type))
	case provider.EventRefunded:
		return s.applyRefund(ctx, ev, in)
	case provider.EventDisputed:
		return s.applyDispute(ctx, ev, in)
	default:
		metrics.WebhookEvents.WithLabelValues("ignored").Inc()
		return nil
	}
}

func mapOutcome(eventType string) domain.IntentStatus {
	switch eventType {
	case provider.EventSucceeded:
		return domain.IntentSucceeded
	case provider.EventFailed:
		return domain.IntentFailed
	default:
		return domain.IntentCanceled
	}
}

// applyOutcome drives the finalizer for a terminal payment outcome. The
// dedup row and the finalization commit together: a crash in between leaves
// the event unmarked, and the redelivery is absorbed by the finalizer's own
// idempotency.
func (s *Service) applyOutcome(
	ctx context.Context,
	ev *provider.Event,
	in *domain.PaymentIntent,
	outcome domain.IntentStatus,
) error {
	const op = "service.webhook.applyOutcome"

	var refundProviderID string

	err := s.uow.Do(ctx, func(
		ctx context.Context,
		tx postgresrepo.DB,
		after func(uow.AfterCommit),
	) error {
		fresh, err := s.store.Webhooks(tx).MarkProcessed(ctx, ev.ID, ev.Type)
		if err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}
		if !fresh {
			return nil
		}

		_, pid, err := s.finalizer.FinalizeTx(ctx, tx, after, in.ID, outcome)
		refundProviderID = pid
		if err != nil {
			return err
		}

		return nil
	})

	if errors.Is(err, booking.ErrHoldExpired) {
		// Payment finished but no unit could be secured. The transaction
		// above rolled back; refund the charge (idempotent at the provider),
		// close the intent so the refund notification finds a terminal
		// status, then record the event so redelivery stops.
		if refundProviderID != "" {
			s.finalizer.RefundCharge(ctx, in.ID, refundProviderID)
		}
		if cErr := s.finalizer.CloseUnbookable(ctx, in.ID); cErr != nil {
			return fmt.Errorf("%s:%w", op, cErr)
		}
		if _, mErr := s.store.Webhooks(nil).MarkProcessed(ctx, ev.ID, ev.Type); mErr != nil {
			return fmt.Errorf("%s:%w", op, mErr)
		}
		metrics.WebhookEvents.WithLabelValues("refunded_lost_hold").Inc()
		return nil
	}
	if errors.Is(err, repository.ErrConflict) {
		// Lost the race against the synchronous confirm path; the other
		// trigger committed the same outcome.
		metrics.WebhookEvents.WithLabelValues("duplicate").Inc()
		return nil
	}
	if err != nil {
		return err
	}

	metrics.WebhookEvents.WithLabelValues("applied").Inc()
	return nil
}

// applyRefund reverses a confirmed booking. A refunded event that outruns
// the succeeded event is deferred so the provider redelivers it after the
// success has been recorded locally.
func (s *Service) applyRefund(
	ctx context.Context,
	ev *provider.Event,
	in *domain.PaymentIntent,
) error {
	const op = "service.webhook.applyRefund"

	if in.Status == domain.IntentPending {
		metrics.WebhookEvents.WithLabelValues("deferred").Inc()
		return fmt.Errorf("%s:%w", op, ErrDeferred)
	}

	err := s.uow.Do(ctx, func(
		ctx context.Context,
		tx postgresrepo.DB,
		after func(uow.AfterCommit),
	) error {
		fresh, err := s.store.Webhooks(tx).MarkProcessed(ctx, ev.ID, ev.Type)
		if err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}
		if !fresh {
			return nil
		}

		if _, err := s.finalizer.MarkRefundedTx(ctx, tx, after, in.ID); err != nil {
			return err
		}

		return nil
	})
	if err != nil {
		return err
	}

	metrics.WebhookEvents.WithLabelValues("applied").Inc()
	return nil
}

// applyDispute records the dispute and flags it for an operator. Disputes
// do not release the unit automatically; that is a business decision.
func (s *Service) applyDispute(
	ctx context.Context,
	ev *provider.Event,
	in *domain.PaymentIntent,
) error {
	const op = "service.webhook.applyDispute"

	err := s.uow.Do(ctx, func(
		ctx context.Context,
		tx postgresrepo.DB,
		after func(uow.AfterCommit),
	) error {
		fresh, err := s.store.Webhooks(tx).MarkProcessed(ctx, ev.ID, ev.Type)
		if err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}
		if !fresh {
			return nil
		}

		s.logger.Error("payment disputed, operator attention required",
			"intent_id", in.ID, "provider_id", in.ProviderID, "provider_event", ev.ID)

		return nil
	})
	if err != nil {
		return err
	}

	metrics.WebhookEvents.WithLabelValues("applied").Inc()
	return nil
}

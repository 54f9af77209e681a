package booking

import "errors"

var (
	ErrIntentNotFound  = errors.New("payment intent not found")
	ErrBookingNotFound = errors.New("booking not found")
	// ErrHoldExpired means the payment finished but the hold was no longer
	// active, so no unit could be secured. The customer's charge is refunded.
	ErrHoldExpired = errors.New("hold expired before finalization")
	// ErrOutcomeConflict means the intent already reached a different
	// terminal status than the requested outcome. It indicates either a
	// provider/platform disagreement or an operator intervention and goes to
	// the operator queue rather than being retried.
	ErrOutcomeConflict = errors.New("intent already finalized with different outcome")
	// ErrPaymentPending means the provider has not settled the payment yet;
	// the caller should retry, or wait for the webhook to finish the job.
	ErrPaymentPending = errors.New("payment still pending at provider")
)

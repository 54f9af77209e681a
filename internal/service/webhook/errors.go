package webhook

import "errors"

var (
	// ErrBadSignature is fatal for the delivery; the payload is not trusted.
	ErrBadSignature = errors.New("invalid webhook signature")
	// ErrDeferred asks the provider to redeliver: the event arrived before
	// the local state it depends on (out-of-order delivery).
	ErrDeferred = errors.New("event deferred, awaiting local state")
)
